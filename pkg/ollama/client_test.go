package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ollamagate/pkg/protocol"
)

func TestChatReturnsRawBody(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "llama3.1:8b", payload["model"])
		w.Write([]byte(`{"model": "llama3.1:8b", "message": {"role": "assistant", "content": "hi"}, "done": true}`))
	}))
	defer daemon.Close()

	client := NewClient(daemon.URL)
	body, err := client.Chat(context.Background(), map[string]any{"model": "llama3.1:8b"})
	require.NoError(t, err)
	assert.Contains(t, string(body), `"done": true`)
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   protocol.ErrorKind
	}{
		{"bad request", http.StatusBadRequest, `{"error": "missing model"}`, protocol.KindBadRequest},
		{"model not found", http.StatusNotFound, `{"error": "model not found"}`, protocol.KindModelNotFound},
		{"server error", http.StatusInternalServerError, `{"error": "boom"}`, protocol.KindUpstreamFailure},
		{"odd status", http.StatusTeapot, "teapot", protocol.KindTransportFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer daemon.Close()

			_, err := NewClient(daemon.URL).Generate(context.Background(), map[string]any{"model": "m"})
			require.Error(t, err)
			assert.Equal(t, tt.want, protocol.KindOf(err))
		})
	}
}

func TestUpstreamErrorMessageSurfaces(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "model 'ghost:1b' not found"}`))
	}))
	defer daemon.Close()

	_, err := NewClient(daemon.URL).Chat(context.Background(), map[string]any{"model": "ghost:1b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model 'ghost:1b' not found")
}

func TestConnectionRefused(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	daemon.Close()

	_, err := NewClient(daemon.URL).Chat(context.Background(), map[string]any{"model": "m"})
	require.Error(t, err)
	assert.Equal(t, protocol.KindBackendUnavailable, protocol.KindOf(err))
}

func TestRequestTimeout(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer daemon.Close()

	client := NewClient(daemon.URL, WithTimeout(20*time.Millisecond))
	_, err := client.Chat(context.Background(), map[string]any{"model": "m"})
	require.Error(t, err)
	assert.Equal(t, protocol.KindBackendTimeout, protocol.KindOf(err))
}

func TestTags(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models": [{"name": "llama3.1:8b", "size": 4661224676}, {"name": "qwen2.5-coder:7b"}]}`))
	}))
	defer daemon.Close()

	models, err := NewClient(daemon.URL).Tags(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3.1:8b", models[0].Name)
}

func TestTagsMalformedBody(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer daemon.Close()

	_, err := NewClient(daemon.URL).Tags(context.Background())
	require.Error(t, err)
	assert.Equal(t, protocol.KindUpstreamFailure, protocol.KindOf(err))
}

func TestEmbeddings(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "nomic-embed-text", payload["model"])
		w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
	}))
	defer daemon.Close()

	vec, err := NewClient(daemon.URL).Embeddings(context.Background(), "nomic-embed-text", "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestChatStream(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Accept"))
		w.Write([]byte(`{"model": "m", "message": {"role": "assistant", "content": "he"}, "done": false}` + "\n"))
		w.Write([]byte(`{"model": "m", "message": {"role": "assistant", "content": "llo"}, "done": true}` + "\n"))
	}))
	defer daemon.Close()

	stream, err := NewClient(daemon.URL).ChatStream(context.Background(), map[string]any{"model": "m", "stream": true})
	require.NoError(t, err)
	defer stream.Close()

	var contents []string
	for {
		line, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunk, err := DecodeChunk(line)
		require.NoError(t, err)
		contents = append(contents, chunk.Message.Content)
	}
	assert.Equal(t, []string{"he", "llo"}, contents)
}

func TestStreamErrorStatus(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "model not found"}`))
	}))
	defer daemon.Close()

	_, err := NewClient(daemon.URL).ChatStream(context.Background(), map[string]any{"model": "ghost"})
	require.Error(t, err)
	assert.Equal(t, protocol.KindModelNotFound, protocol.KindOf(err))
}

func TestStreamSkipsBlankLinesAndHandlesMissingFinalNewline(t *testing.T) {
	raw := "{\"done\": false}\n\n\n{\"done\": true}"
	stream := NewStream(io.NopCloser(strings.NewReader(raw)))

	first, err := stream.Next()
	require.NoError(t, err)
	assert.Contains(t, string(first), "false")

	second, err := stream.Next()
	require.NoError(t, err)
	assert.Contains(t, string(second), "true")

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)

	// A closed stream stays at EOF.
	require.NoError(t, stream.Close())
	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecodeChunk(t *testing.T) {
	chunk, err := DecodeChunk([]byte(`{"model": "m", "response": "text", "done": true, "error": "oops"}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, "m", chunk.Model)
	assert.Equal(t, "text", chunk.Response)
	assert.True(t, chunk.Done)
	assert.Equal(t, "oops", chunk.Error)

	_, err = DecodeChunk([]byte("not json\n"))
	assert.Error(t, err)
}

func TestBaseURLNormalization(t *testing.T) {
	assert.Equal(t, "http://host:11434", NewClient("http://host:11434/").BaseURL())
	assert.Equal(t, "http://localhost:11434", NewClient("").BaseURL())
}
