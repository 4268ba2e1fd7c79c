package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/ollamagate"
	"github.com/kadirpekel/ollamagate/pkg/protocol"
	"github.com/kadirpekel/ollamagate/pkg/proxy"
	"github.com/kadirpekel/ollamagate/pkg/toolgen"
	"github.com/kadirpekel/ollamagate/pkg/tools"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "ollamagate",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ollamagate.GetVersion())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Stats())
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	models, err := s.backend.Tags(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	s.passthrough(w, r, s.backend.Show)
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	s.passthrough(w, r, s.backend.EmbeddingsRaw)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	s.passthrough(w, r, s.backend.Pull)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	s.passthrough(w, r, s.backend.Push)
}

// passthrough relays a request body to the daemon and the daemon's JSON
// back to the client unchanged.
func (s *Server) passthrough(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, payload any) (json.RawMessage, error)) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && err != io.EOF {
		s.writeError(w, r, protocol.NewError(protocol.KindBadRequest, "invalid JSON body", err))
		return
	}
	raw, err := call(r.Context(), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseChatRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Prompt == "" {
		s.writeError(w, r, protocol.Errorf(protocol.KindBadRequest, "prompt is required"))
		return
	}

	if !req.IsStreaming() {
		body, err := s.pipeline.GenerateOnce(r.Context(), req, r.UserAgent())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, body)
		return
	}

	stream, decision, err := s.pipeline.GenerateStream(r.Context(), req, r.UserAgent())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, _, err := proxy.Relay(w, stream, proxy.NewChunkRewriter(decision.SelectedModel)); err != nil {
		s.logger.Warn("generate stream aborted", "error", err)
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseChatRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Messages) == 0 && req.Prompt == "" {
		s.writeError(w, r, protocol.Errorf(protocol.KindBadRequest, "messages are required"))
		return
	}

	if !req.IsStreaming() {
		body, err := s.pipeline.ChatOnce(r.Context(), req, r.UserAgent())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, body)
		return
	}

	stream, decision, err := s.pipeline.ChatStream(r.Context(), req, r.UserAgent())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	reply, sawDone, err := proxy.Relay(w, stream, proxy.NewChunkRewriter(decision.SelectedModel))
	if err != nil {
		// Headers are gone; the aborted turn is simply not recorded.
		s.logger.Warn("chat stream aborted", "session", decision.SessionID, "error", err)
		return
	}
	if sawDone {
		s.pipeline.Finish(decision, req, reply)
	}
}

type unifiedRequest struct {
	Prompt  string                 `json:"prompt"`
	Context toolgen.ProjectContext `json:"context"`
}

func (s *Server) handleUnified(w http.ResponseWriter, r *http.Request) {
	var req unifiedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, protocol.NewError(protocol.KindBadRequest, "invalid JSON body", err))
		return
	}
	resp, err := s.unified.Handle(r.Context(), req.Prompt, req.Context)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEnhancedPlan(w http.ResponseWriter, r *http.Request) {
	var req unifiedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, protocol.NewError(protocol.KindBadRequest, "invalid JSON body", err))
		return
	}
	plan, err := s.unified.EnhancedPlan(r.Context(), req.Prompt, req.Context)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "plan": plan})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools.Vocabulary()})
}

type workflowStartRequest struct {
	UserRequest    string                 `json:"userRequest"`
	ProjectContext toolgen.ProjectContext `json:"projectContext"`
}

func (s *Server) handleWorkflowStart(w http.ResponseWriter, r *http.Request) {
	var req workflowStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, protocol.NewError(protocol.KindBadRequest, "invalid JSON body", err))
		return
	}
	wf, err := s.orchestrator.Start(req.UserRequest, req.ProjectContext)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"workflowId": wf.ID,
		"workflow":   wf,
		"nextPhase":  wf.Phases[0].Name,
	})
}

func (s *Server) handleWorkflowList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workflows": s.orchestrator.List()})
}

func (s *Server) handleWorkflowGet(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orchestrator.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowPhases(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orchestrator.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phases":          wf.Phases,
		"currentPhase":    wf.CurrentPhase,
		"completedPhases": wf.CompletedPhases,
		"failedPhases":    wf.FailedPhases,
	})
}

func (s *Server) handleWorkflowExecute(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.orchestrator.ExecuteNextPhase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleWorkflowPause(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orchestrator.Pause(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowResume(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orchestrator.Resume(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowCancel(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orchestrator.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowCleanup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"removed": s.orchestrator.Cleanup()})
}

func (s *Server) parseChatRequest(r *http.Request) (*protocol.ChatRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, protocol.NewError(protocol.KindBadRequest, "failed to read body", err)
	}
	req, err := protocol.ParseChatRequest(body)
	if err != nil {
		return nil, protocol.NewError(protocol.KindBadRequest, "invalid JSON body", err)
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
