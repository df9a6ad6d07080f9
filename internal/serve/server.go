// Package serve provides the REST API over the council engine: query
// submission, session history, and a websocket event stream.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Dicklesworthstone/council/internal/audit"
	"github.com/Dicklesworthstone/council/internal/council"
)

// Error codes returned in the API error envelope.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// SessionReader is the slice of the audit store the server reads from.
type SessionReader interface {
	ListSessions(limit int) ([]audit.SessionSummary, error)
	LoadSession(id string) (*council.SessionRecord, error)
}

// Server hosts the council REST API.
type Server struct {
	engine   *council.Engine
	sessions SessionReader
	hub      *Hub
	logger   *slog.Logger

	// Direct bypasses the council and routes queries to a single
	// chairman call. Set when the council feature flag is disabled.
	Direct bool
}

// NewServer creates a server around an engine. sessions may be nil when
// the audit store is disabled; the session endpoints then return 404.
func NewServer(engine *council.Engine, sessions SessionReader, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, sessions: sessions, hub: hub, logger: logger}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/council/query", s.handleCouncilQuery)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionId}", s.handleGetSession)
		if s.hub != nil {
			r.Get("/events", s.hub.handleWebSocket)
		}
	})

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("REST: listening addr=%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// successEnvelope wraps all 2xx payloads.
type successEnvelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	RequestID string `json:"request_id,omitempty"`
}

// errorEnvelope wraps all error payloads.
type errorEnvelope struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeSuccessResponse(w http.ResponseWriter, status int, data any, reqID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(successEnvelope{
		Success:   true,
		Data:      data,
		RequestID: reqID,
	})
}

func writeErrorResponse(w http.ResponseWriter, status int, code, msg string, details any, reqID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error:     msg,
		Code:      code,
		Details:   details,
		RequestID: reqID,
	})
}

func requestIDFromContext(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}
