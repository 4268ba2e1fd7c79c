// Package ollama is the HTTP conduit to the local model daemon. It exposes
// the daemon's native API surface and maps transport failures onto the
// gateway's error taxonomy. No retries happen here beyond what the shared
// HTTP client does for transient server errors.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/kadirpekel/ollamagate/pkg/httpclient"
	"github.com/kadirpekel/ollamagate/pkg/protocol"
)

const defaultBaseURL = "http://localhost:11434"

// Client is a shared client for the daemon's API. Safe for concurrent use;
// it holds no state beyond the underlying connection pool.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *httpclient.Client
}

type ClientOption func(*Client)

// WithUserAgent sets the User-Agent header on every daemon request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient = httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(2),
			httpclient.WithBaseDelay(time.Second),
		)
	}
}

// NewClient creates a daemon client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:   baseURL,
		userAgent: "ollamagate",
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
			httpclient.WithMaxRetries(2),
			httpclient.WithBaseDelay(time.Second),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the daemon address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Chat performs a non-streaming chat call and returns the raw JSON body.
func (c *Client) Chat(ctx context.Context, payload any) (json.RawMessage, error) {
	return c.post(ctx, "/api/chat", payload)
}

// Generate performs a non-streaming generate call.
func (c *Client) Generate(ctx context.Context, payload any) (json.RawMessage, error) {
	return c.post(ctx, "/api/generate", payload)
}

// ChatStream opens a streaming chat call. The caller owns the returned
// stream and must Close it.
func (c *Client) ChatStream(ctx context.Context, payload any) (*Stream, error) {
	return c.stream(ctx, "/api/chat", payload)
}

// GenerateStream opens a streaming generate call.
func (c *Client) GenerateStream(ctx context.Context, payload any) (*Stream, error) {
	return c.stream(ctx, "/api/generate", payload)
}

// Pull proxies a model pull request.
func (c *Client) Pull(ctx context.Context, payload any) (json.RawMessage, error) {
	return c.post(ctx, "/api/pull", payload)
}

// Push proxies a model push request.
func (c *Client) Push(ctx context.Context, payload any) (json.RawMessage, error) {
	return c.post(ctx, "/api/push", payload)
}

// Show proxies a model show request.
func (c *Client) Show(ctx context.Context, payload any) (json.RawMessage, error) {
	return c.post(ctx, "/api/show", payload)
}

// Copy proxies a model copy request.
func (c *Client) Copy(ctx context.Context, payload any) (json.RawMessage, error) {
	return c.post(ctx, "/api/copy", payload)
}

// Delete removes a model from the daemon.
func (c *Client) Delete(ctx context.Context, payload any) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodDelete, "/api/delete", payload)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Tags lists the models the daemon has locally.
func (c *Client) Tags(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, protocol.NewError(protocol.KindInternal, "failed to create tags request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			return nil, classifyStatus(resp.StatusCode, b)
		}
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.NewError(protocol.KindTransportFailure, "failed to read tags response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var parsed TagsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, protocol.NewError(protocol.KindUpstreamFailure, "malformed tags response", err)
	}
	return parsed.Models, nil
}

// Embeddings requests an embedding vector for the given prompt.
func (c *Client) Embeddings(ctx context.Context, model, prompt string) ([]float64, error) {
	body, err := c.post(ctx, "/api/embeddings", map[string]any{
		"model":  model,
		"prompt": prompt,
	})
	if err != nil {
		return nil, err
	}

	var parsed EmbeddingsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, protocol.NewError(protocol.KindUpstreamFailure, "malformed embeddings response", err)
	}
	return parsed.Embedding, nil
}

// EmbeddingsRaw proxies an embeddings request without interpreting the body.
func (c *Client) EmbeddingsRaw(ctx context.Context, payload any) (json.RawMessage, error) {
	return c.post(ctx, "/api/embeddings", payload)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, endpoint, payload)
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error) {
	resp, err := c.send(ctx, method, endpoint, payload, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.NewError(protocol.KindTransportFailure, "failed to read response body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) stream(ctx context.Context, endpoint string, payload any) (*Stream, error) {
	resp, err := c.send(ctx, http.MethodPost, endpoint, payload, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(resp.StatusCode, body)
	}

	return NewStream(resp.Body), nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any, streaming bool) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, protocol.NewError(protocol.KindInternal, "failed to marshal request payload", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, protocol.NewError(protocol.KindInternal, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if streaming {
		req.Header.Set("Accept", "application/x-ndjson")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if resp != nil {
			// Retries exhausted: classify by the last status we saw.
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			return nil, classifyStatus(resp.StatusCode, b)
		}
		return nil, classifyTransportError(err)
	}
	return resp, nil
}

// classifyStatus maps a daemon HTTP status onto the error taxonomy.
func classifyStatus(status int, body []byte) error {
	message := upstreamMessage(body)
	switch {
	case status == http.StatusBadRequest:
		return protocol.NewError(protocol.KindBadRequest, message, nil)
	case status == http.StatusNotFound:
		return protocol.NewError(protocol.KindModelNotFound, message, nil)
	case status >= 500:
		return protocol.NewError(protocol.KindUpstreamFailure, message, nil)
	default:
		return protocol.Errorf(protocol.KindTransportFailure, "unexpected status %d: %s", status, message)
	}
}

// classifyTransportError maps connection-level failures.
func classifyTransportError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err):
		return protocol.NewError(protocol.KindBackendTimeout, "backend request timed out", err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return protocol.NewError(protocol.KindBackendUnavailable, "backend connection refused", err)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return protocol.NewError(protocol.KindBackendTimeout, "backend request timed out", err)
		}
		return protocol.NewError(protocol.KindTransportFailure, "backend request failed", err)
	}
}

// upstreamMessage extracts the daemon's error string when one is present.
func upstreamMessage(body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		return parsed.Error
	}
	if len(body) > 0 {
		return fmt.Sprintf("upstream error: %s", bytes.TrimSpace(body))
	}
	return "upstream error"
}
