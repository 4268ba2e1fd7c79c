// Package proxy implements the gateway's chat pipeline: session resolution,
// classification, context assembly, model selection, then a relayed call to
// the daemon. Streaming responses are forwarded byte-for-byte with a single
// first-chunk model rewrite; non-streaming responses carry a side-band
// object describing what the gateway did.
package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kadirpekel/ollamagate/pkg/classifier"
	"github.com/kadirpekel/ollamagate/pkg/logger"
	"github.com/kadirpekel/ollamagate/pkg/ollama"
	"github.com/kadirpekel/ollamagate/pkg/protocol"
	"github.com/kadirpekel/ollamagate/pkg/session"
	"github.com/kadirpekel/ollamagate/pkg/workspace"
)

// ModelSuffix is appended to the model name in responses so clients can see
// the gateway intervened.
const ModelSuffix = " (gateway-enhanced)"

// Backend is the slice of the Ollama client the pipeline needs.
type Backend interface {
	Chat(ctx context.Context, payload any) (json.RawMessage, error)
	ChatStream(ctx context.Context, payload any) (*ollama.Stream, error)
	Generate(ctx context.Context, payload any) (json.RawMessage, error)
	GenerateStream(ctx context.Context, payload any) (*ollama.Stream, error)
	Tags(ctx context.Context) ([]ollama.ModelInfo, error)
}

// Metadata is the `_ollamaGeek` side-band object attached to non-streaming
// responses.
type Metadata struct {
	OriginalModel string `json:"originalModel"`
	SelectedModel string `json:"selectedModel"`
	TaskType      string `json:"taskType"`
	Complexity    string `json:"complexity"`
	Reasoning     string `json:"reasoning"`
}

// Pipeline wires the gateway stages around the backend.
type Pipeline struct {
	backend         Backend
	sessions        *session.Store
	classifier      *classifier.Classifier
	workspace       *workspace.Manager
	classifyTimeout time.Duration
	logger          *slog.Logger
}

// New creates a pipeline.
func New(backend Backend, sessions *session.Store, cls *classifier.Classifier, ws *workspace.Manager, classifyTimeout time.Duration) *Pipeline {
	return &Pipeline{
		backend:         backend,
		sessions:        sessions,
		classifier:      cls,
		workspace:       ws,
		classifyTimeout: classifyTimeout,
		logger:          logger.GetLogger(),
	}
}

// Decision is the outcome of the pre-flight stages for one request.
type Decision struct {
	SessionID      string
	SelectedModel  string
	Classification classifier.Classification
	Context        *workspace.Context
	Metadata       Metadata
}

// Decide runs session resolution, classification, context assembly, and
// model selection. It never fails: classification and context degrade to
// their fallbacks and an unreachable inventory just means no substitution
// evidence.
func (p *Pipeline) Decide(ctx context.Context, req *protocol.ChatRequest, userAgent string) *Decision {
	sessionID, _ := p.sessions.GetOrAssign(userAgent, req.Model, len(req.Messages))

	inventory := p.inventory(ctx)
	content := req.LastUserMessage()
	cls := p.classifier.Classify(ctx, content, inventory)
	wctx := p.workspace.GetSmartContext(ctx, content, cls.TaskType, cls.Complexity)
	selected := classifier.SelectModel(req.Model, cls, inventory)

	p.logger.Debug("request decided",
		"session", sessionID,
		"requested", req.Model,
		"selected", selected,
		"taskType", cls.TaskType,
		"complexity", cls.Complexity)

	return &Decision{
		SessionID:      sessionID,
		SelectedModel:  selected,
		Classification: cls,
		Context:        wctx,
		Metadata: Metadata{
			OriginalModel: req.Model,
			SelectedModel: selected,
			TaskType:      cls.TaskType,
			Complexity:    cls.Complexity,
			Reasoning:     cls.Reasoning,
		},
	}
}

// inventory lists the daemon's model names, best-effort.
func (p *Pipeline) inventory(ctx context.Context) []string {
	tagsCtx, cancel := context.WithTimeout(ctx, p.classifyTimeout)
	defer cancel()

	models, err := p.backend.Tags(tagsCtx)
	if err != nil {
		p.logger.Warn("model inventory unavailable", "error", err)
		return nil
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	return names
}

// ChatOnce handles a non-streaming chat: the daemon's full response gets
// its model field rewritten and the metadata side-band attached.
func (p *Pipeline) ChatOnce(ctx context.Context, req *protocol.ChatRequest, userAgent string) (map[string]any, error) {
	decision := p.Decide(ctx, req, userAgent)
	payload := req.UpstreamPayload(decision.SelectedModel, p.upstreamMessages(req, decision))

	raw, err := p.backend.Chat(ctx, payload)
	if err != nil {
		return nil, err
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, protocol.NewError(protocol.KindUpstreamFailure, "unreadable daemon response", err)
	}
	if _, ok := body["model"]; ok {
		body["model"] = decision.SelectedModel + ModelSuffix
	}
	body["_ollamaGeek"] = decision.Metadata

	p.updateSession(decision.SessionID, req, assistantContent(body))
	return body, nil
}

// ChatStream opens the upstream stream for a streaming chat. The caller
// relays chunks through the returned rewriter and must invoke Finish with
// the accumulated assistant reply once the stream terminates cleanly.
func (p *Pipeline) ChatStream(ctx context.Context, req *protocol.ChatRequest, userAgent string) (*ollama.Stream, *Decision, error) {
	decision := p.Decide(ctx, req, userAgent)
	payload := req.UpstreamPayload(decision.SelectedModel, p.upstreamMessages(req, decision))

	stream, err := p.backend.ChatStream(ctx, payload)
	if err != nil {
		return nil, nil, err
	}
	return stream, decision, nil
}

// GenerateOnce proxies a non-streaming /api/generate with classification
// and model selection applied.
func (p *Pipeline) GenerateOnce(ctx context.Context, req *protocol.ChatRequest, userAgent string) (map[string]any, error) {
	decision := p.Decide(ctx, req, userAgent)
	raw, err := p.backend.Generate(ctx, req.GeneratePayload(decision.SelectedModel))
	if err != nil {
		return nil, err
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, protocol.NewError(protocol.KindUpstreamFailure, "unreadable daemon response", err)
	}
	if _, ok := body["model"]; ok {
		body["model"] = decision.SelectedModel + ModelSuffix
	}
	body["_ollamaGeek"] = decision.Metadata
	return body, nil
}

// GenerateStream opens the upstream stream for a streaming /api/generate.
func (p *Pipeline) GenerateStream(ctx context.Context, req *protocol.ChatRequest, userAgent string) (*ollama.Stream, *Decision, error) {
	decision := p.Decide(ctx, req, userAgent)
	stream, err := p.backend.GenerateStream(ctx, req.GeneratePayload(decision.SelectedModel))
	if err != nil {
		return nil, nil, err
	}
	return stream, decision, nil
}

// Finish records a completed chat turn into the session. Called only after
// the stream terminated without error; aborted turns are discarded.
func (p *Pipeline) Finish(decision *Decision, req *protocol.ChatRequest, assistantReply string) {
	p.updateSession(decision.SessionID, req, assistantReply)
}

func (p *Pipeline) updateSession(sessionID string, req *protocol.ChatRequest, assistantReply string) {
	messages := append([]protocol.Message(nil), req.Messages...)
	if assistantReply != "" {
		messages = append(messages, protocol.Message{Role: "assistant", Content: assistantReply})
	}
	p.sessions.Update(sessionID, messages)
}

// upstreamMessages builds the message list forwarded to the daemon. When a
// workspace context was assembled with substance, it is injected as a
// leading system message so the model sees project state.
func (p *Pipeline) upstreamMessages(req *protocol.ChatRequest, decision *Decision) []protocol.Message {
	messages := req.Messages
	if summary := decision.Context.Summary(); summary != "" {
		injected := make([]protocol.Message, 0, len(messages)+1)
		injected = append(injected, protocol.Message{Role: "system", Content: summary})
		injected = append(injected, messages...)
		return injected
	}
	return messages
}

// assistantContent extracts the assistant reply from a non-streaming chat
// response body.
func assistantContent(body map[string]any) string {
	if msg, ok := body["message"].(map[string]any); ok {
		if content, ok := msg["content"].(string); ok {
			return content
		}
	}
	if response, ok := body["response"].(string); ok {
		return response
	}
	return ""
}
