// Package server is the gateway's HTTP surface: a chi router exposing the
// Ollama-compatible API plus the gateway's own session, tool, workflow, and
// unified endpoints.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/ollamagate/pkg/config"
	"github.com/kadirpekel/ollamagate/pkg/logger"
	"github.com/kadirpekel/ollamagate/pkg/ollama"
	"github.com/kadirpekel/ollamagate/pkg/proxy"
	"github.com/kadirpekel/ollamagate/pkg/session"
	"github.com/kadirpekel/ollamagate/pkg/unified"
	"github.com/kadirpekel/ollamagate/pkg/workflow"
)

// shutdownTimeout bounds graceful drain on Stop.
const shutdownTimeout = 10 * time.Second

// RawBackend is the slice of the Ollama client used for pass-through
// endpoints that need no pipeline involvement.
type RawBackend interface {
	Tags(ctx context.Context) ([]ollama.ModelInfo, error)
	EmbeddingsRaw(ctx context.Context, payload any) (json.RawMessage, error)
	Pull(ctx context.Context, payload any) (json.RawMessage, error)
	Push(ctx context.Context, payload any) (json.RawMessage, error)
	Show(ctx context.Context, payload any) (json.RawMessage, error)
}

// Server hosts the gateway API.
type Server struct {
	cfg          *config.Config
	router       chi.Router
	httpServer   *http.Server
	pipeline     *proxy.Pipeline
	backend      RawBackend
	sessions     *session.Store
	orchestrator *workflow.Orchestrator
	unified      *unified.Service
	logger       *slog.Logger
}

// New assembles the server and its routes.
func New(cfg *config.Config, pipeline *proxy.Pipeline, backend RawBackend, sessions *session.Store, orchestrator *workflow.Orchestrator, unifiedSvc *unified.Service) *Server {
	s := &Server{
		cfg:          cfg,
		pipeline:     pipeline,
		backend:      backend,
		sessions:     sessions,
		orchestrator: orchestrator,
		unified:      unifiedSvc,
		logger:       logger.GetLogger(),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:    cfg.Address(),
		Handler: s.router,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", "addr", s.httpServer.Addr, "backend", s.cfg.OllamaBaseURL)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(metricsMiddleware)
	if s.cfg.LogRequests {
		r.Use(requestLogger(s.cfg.LogResponses))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/api/version", s.handleVersion)

	r.Get("/api/sessions", s.handleSessions)
	r.Get("/api/tags", s.handleTags)
	r.Post("/api/show", s.handleShow)
	r.Post("/api/embeddings", s.handleEmbeddings)
	r.Post("/api/pull", s.handlePull)
	r.Post("/api/push", s.handlePush)
	r.Post("/api/generate", s.handleGenerate)
	r.Post("/api/chat", s.handleChat)
	r.Post("/api/chat/unified", s.handleUnified)
	r.Post("/api/plan/enhanced", s.handleEnhancedPlan)
	r.Get("/api/tools", s.handleTools)

	if s.cfg.EnableOrchestration {
		r.Route("/api/workflows", func(r chi.Router) {
			r.Post("/", s.handleWorkflowStart)
			r.Get("/", s.handleWorkflowList)
			r.Post("/cleanup", s.handleWorkflowCleanup)
			r.Get("/{id}", s.handleWorkflowGet)
			r.Get("/{id}/phases", s.handleWorkflowPhases)
			r.Post("/{id}/execute", s.handleWorkflowExecute)
			r.Post("/{id}/pause", s.handleWorkflowPause)
			r.Post("/{id}/resume", s.handleWorkflowResume)
			r.Delete("/{id}", s.handleWorkflowCancel)
		})
	}

	return r
}
