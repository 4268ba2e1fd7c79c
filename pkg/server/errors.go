package server

import (
	"net/http"
	"time"

	"github.com/kadirpekel/ollamagate/pkg/protocol"
)

// errorEnvelope is the JSON body every failed request carries.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Timestamp string `json:"timestamp"`
	Path      string `json:"path"`
	Method    string `json:"method"`
}

// writeError maps an error onto the taxonomy's HTTP status and renders the
// envelope. In production, internal errors are masked so stack details
// never leak to clients.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := protocol.KindOf(err)
	status := kind.HTTPStatus()

	message := err.Error()
	if s.cfg.Production && status == http.StatusInternalServerError {
		message = "Internal Server Error"
	}

	s.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"kind", string(kind),
		"error", err)

	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Message:   message,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
		Method:    r.Method,
	}})
}
