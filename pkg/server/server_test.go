package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ollamagate/pkg/classifier"
	"github.com/kadirpekel/ollamagate/pkg/config"
	"github.com/kadirpekel/ollamagate/pkg/ollama"
	"github.com/kadirpekel/ollamagate/pkg/proxy"
	"github.com/kadirpekel/ollamagate/pkg/session"
	"github.com/kadirpekel/ollamagate/pkg/toolgen"
	"github.com/kadirpekel/ollamagate/pkg/tools"
	"github.com/kadirpekel/ollamagate/pkg/unified"
	"github.com/kadirpekel/ollamagate/pkg/workflow"
	"github.com/kadirpekel/ollamagate/pkg/workspace"
)

// fakeDaemon emulates enough of the Ollama API for route tests.
func fakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{{"name": "llama3.1:8b"}, {"name": "qwen2.5-coder:7b"}},
		})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		model, _ := payload["model"].(string)
		if stream, ok := payload["stream"].(bool); ok && !stream {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":   model,
				"message": map[string]any{"role": "assistant", "content": "hello"},
				"done":    true,
			})
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"model":"` + model + `","message":{"role":"assistant","content":"hel"},"done":false}` + "\n"))
		_, _ = w.Write([]byte(`{"model":"` + model + `","message":{"role":"assistant","content":"lo"},"done":true}` + "\n"))
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":    "llama3.1:8b",
			"response": `{"intent":"chat","confidence":0.9,"complexity":"low","approach":"direct","requiresApproval":false,"actionType":"chat"}`,
			"done":     true,
		})
	})
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2}})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unknown endpoint"}`, http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	daemon := fakeDaemon(t)

	cfg := &config.Config{
		OllamaBaseURL:       daemon.URL,
		WorkspaceRoot:       t.TempDir(),
		EnableOrchestration: true,
	}
	cfg.SetDefaults()

	backend := ollama.NewClient(daemon.URL)
	sessions := session.NewStore(cfg.SessionMaxHistory, cfg.SessionTimeout)
	holder := classifier.NewCatalogHolder(classifier.DefaultCatalog())
	cls := classifier.New(holder, backend, cfg.EmbeddingModel, cfg.DefaultModel)
	ws := workspace.NewManager(cfg.WorkspaceRoot, nil)
	pipeline := proxy.New(backend, sessions, cls, ws, cfg.ClassifyTimeout)

	generator := toolgen.New(backend, cfg.DefaultModel)
	engine := tools.NewEngine(cfg.WorkspaceRoot)
	orchestrator := workflow.New(generator, engine)
	unifiedSvc := unified.New(backend, generator, cfg.DefaultModel)

	return New(cfg, pipeline, backend, sessions, orchestrator, unifiedSvc)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "route-test")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ollamagate", body["service"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestVersionEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "version")
}

func TestTagsProxied(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/tags", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "llama3.1:8b")
}

func TestChatNonStreaming(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/chat",
		`{"model": "llama3.1:8b", "stream": false, "messages": [{"role": "user", "content": "hello"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["model"], "(gateway-enhanced)")
	meta, ok := body["_ollamaGeek"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "llama3.1:8b", meta["originalModel"])
	assert.NotEmpty(t, meta["taskType"])
}

func TestChatStreaming(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/chat",
		`{"model": "llama3.1:8b", "messages": [{"role": "user", "content": "hello"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "(gateway-enhanced)")
	assert.NotContains(t, lines[1], "(gateway-enhanced)")

	// Completed stream registers a session.
	recSessions := doJSON(t, s.Handler(), http.MethodGet, "/api/sessions", "")
	assert.Contains(t, recSessions.Body.String(), `"activeSessions":1`)
}

func TestChatRejectsEmptyBody(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/chat", `{"model": "llama3.1:8b"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	errBody := envelope["error"]
	require.NotNil(t, errBody)
	assert.Equal(t, float64(http.StatusBadRequest), errBody["status"])
	assert.Equal(t, "/api/chat", errBody["path"])
	assert.Equal(t, "POST", errBody["method"])
	assert.NotEmpty(t, errBody["timestamp"])
}

func TestToolsListing(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)
	for _, name := range []string{"create_file", "run_terminal", "git_operation", "search_files"} {
		assert.Contains(t, rec.Body.String(), name)
	}
}

func TestUnifiedChat(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/chat/unified", `{"prompt": "what is Go"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "simple_chat", body["type"])
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/workflows",
		`{"userRequest": "build a node api", "projectContext": {"projectName": "demo"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		WorkflowID string `json:"workflowId"`
		NextPhase  string `json:"nextPhase"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.WorkflowID)
	assert.Equal(t, "project_setup", created.NextPhase)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/workflows/"+created.WorkflowID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/workflows/"+created.WorkflowID+"/phases", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_development")

	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/workflows/"+created.WorkflowID+"/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Executing while paused conflicts.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/workflows/"+created.WorkflowID+"/execute", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/workflows/"+created.WorkflowID+"/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodDelete, "/api/workflows/"+created.WorkflowID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/workflows/missing_id", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkflowCleanupEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/workflows/cleanup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"removed":0`)
}

func TestOrchestrationDisabledHidesWorkflows(t *testing.T) {
	daemon := fakeDaemon(t)
	cfg := &config.Config{OllamaBaseURL: daemon.URL, WorkspaceRoot: t.TempDir()}
	cfg.SetDefaults()
	cfg.EnableOrchestration = false

	backend := ollama.NewClient(daemon.URL)
	sessions := session.NewStore(cfg.SessionMaxHistory, cfg.SessionTimeout)
	holder := classifier.NewCatalogHolder(classifier.DefaultCatalog())
	cls := classifier.New(holder, nil, cfg.EmbeddingModel, cfg.DefaultModel)
	ws := workspace.NewManager(cfg.WorkspaceRoot, nil)
	pipeline := proxy.New(backend, sessions, cls, ws, cfg.ClassifyTimeout)
	generator := toolgen.New(backend, cfg.DefaultModel)
	orchestrator := workflow.New(generator, tools.NewEngine(cfg.WorkspaceRoot))
	s := New(cfg, pipeline, backend, sessions, orchestrator, unified.New(backend, generator, cfg.DefaultModel))

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/workflows", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductionMasksInternalErrors(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Production = true

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	s.writeError(rec, req, assert.AnError)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestSessionStatsShape(t *testing.T) {
	s := newTestServer(t)
	_ = doJSON(t, s.Handler(), http.MethodPost, "/api/chat",
		`{"model": "llama3.1:8b", "stream": false, "messages": [{"role": "user", "content": "hi"}]}`)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats session.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.ActiveSessions)
	require.Len(t, stats.Sessions, 1)
	assert.Len(t, stats.Sessions[0].ID, 16)
}

func TestShutdownIsClean(t *testing.T) {
	s := newTestServer(t)
	done := make(chan error, 1)
	s.httpServer.Addr = "127.0.0.1:0"
	go func() { done <- s.Stop(t.Context()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}
