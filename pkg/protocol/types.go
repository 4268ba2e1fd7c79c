// Package protocol defines the wire types shared between the gateway's HTTP
// surface and its internal pipeline. The gateway speaks the Ollama daemon's
// native API, so these types mirror the daemon's request and response shapes.
package protocol

import "encoding/json"

// Message is a single turn in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is an incoming /api/chat request. Unknown fields are retained
// in Extra for inspection but are never forwarded upstream; only the
// whitelisted fields cross the wire.
type ChatRequest struct {
	Model     string          `json:"model"`
	Messages  []Message       `json:"messages,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	Stream    *bool           `json:"stream,omitempty"`
	Options   map[string]any  `json:"options,omitempty"`
	Template  string          `json:"template,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
	KeepAlive json.RawMessage `json:"keep_alive,omitempty"`

	// Extra holds any fields the client sent that the gateway does not
	// understand. Kept for diagnostics only.
	Extra map[string]json.RawMessage `json:"-"`
}

// IsStreaming reports whether the client asked for a streamed response.
// The daemon streams by default, so an absent flag means true.
func (r *ChatRequest) IsStreaming() bool {
	return r.Stream == nil || *r.Stream
}

// LastUserMessage returns the content of the most recent user-role message,
// falling back to the raw prompt for generate-style requests.
func (r *ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return r.Prompt
}

// knownChatFields is the set of top-level keys the gateway understands.
var knownChatFields = map[string]bool{
	"model":      true,
	"messages":   true,
	"prompt":     true,
	"stream":     true,
	"options":    true,
	"template":   true,
	"context":    true,
	"keep_alive": true,
}

// ParseChatRequest decodes a chat request, splitting unknown fields into
// Extra so they can never leak back into the upstream payload.
func ParseChatRequest(data []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for key, val := range raw {
		if !knownChatFields[key] {
			if req.Extra == nil {
				req.Extra = make(map[string]json.RawMessage)
			}
			req.Extra[key] = val
		}
	}

	return &req, nil
}

// UpstreamPayload builds the whitelisted payload forwarded to the daemon.
// The model is always the selected one, never the client's verbatim field,
// and messages are the session-merged history.
func (r *ChatRequest) UpstreamPayload(model string, messages []Message) map[string]any {
	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   r.IsStreaming(),
	}
	if len(r.Options) > 0 {
		payload["options"] = r.Options
	}
	if r.Template != "" {
		payload["template"] = r.Template
	}
	if len(r.Context) > 0 {
		payload["context"] = r.Context
	}
	if len(r.KeepAlive) > 0 {
		payload["keep_alive"] = r.KeepAlive
	}
	return payload
}

// GeneratePayload builds the whitelisted payload for /api/generate.
func (r *ChatRequest) GeneratePayload(model string) map[string]any {
	payload := map[string]any{
		"model":  model,
		"prompt": r.Prompt,
		"stream": r.IsStreaming(),
	}
	if len(r.Options) > 0 {
		payload["options"] = r.Options
	}
	if r.Template != "" {
		payload["template"] = r.Template
	}
	if len(r.Context) > 0 {
		payload["context"] = r.Context
	}
	if len(r.KeepAlive) > 0 {
		payload["keep_alive"] = r.KeepAlive
	}
	return payload
}
