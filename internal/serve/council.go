package serve

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Dicklesworthstone/council/internal/council"
	"github.com/Dicklesworthstone/council/internal/output"
)

// CouncilQueryRequest is the payload for submitting a council query.
type CouncilQueryRequest struct {
	Query string `json:"query"`
}

// handleCouncilQuery runs one full council session synchronously and
// returns the flattened result.
func (s *Server) handleCouncilQuery(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	var req CouncilQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest,
			"invalid request body", nil, reqID)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest,
			"query is required", nil, reqID)
		return
	}

	var result *council.Result
	var err error
	if s.Direct {
		result, err = s.engine.Direct(r.Context(), req.Query)
	} else {
		result, err = s.engine.Run(r.Context(), req.Query)
	}
	if err != nil {
		status, code := statusForCouncilError(err)
		log.Printf("REST: council query failed code=%s error=%v request_id=%s", code, err, reqID)
		writeErrorResponse(w, status, code, err.Error(), sessionErrorDetails(err), reqID)
		return
	}

	log.Printf("REST: council query completed session=%s request_id=%s", result.SessionID, reqID)
	writeSuccessResponse(w, http.StatusOK, output.NewAskResponse(result), reqID)
}

// statusForCouncilError maps the engine error taxonomy to HTTP status
// and envelope code. Upstream member failures are gateway errors, not
// server faults.
func statusForCouncilError(err error) (int, string) {
	code := council.ErrorCode(err)
	switch {
	case errors.Is(err, council.ErrConfiguration):
		return http.StatusBadRequest, code
	case errors.Is(err, council.ErrInsufficientQuorum),
		errors.Is(err, council.ErrNoValidReviews),
		errors.Is(err, council.ErrChairmanUnavailable):
		return http.StatusBadGateway, code
	case errors.Is(err, council.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout, code
	default:
		return http.StatusInternalServerError, code
	}
}

// sessionErrorDetails extracts per-member failures for the error
// envelope, when the error carries them.
func sessionErrorDetails(err error) any {
	var sessErr *council.SessionError
	if !errors.As(err, &sessErr) {
		return nil
	}
	details := map[string]any{
		"session_id": sessErr.SessionID,
		"state":      sessErr.State.String(),
	}
	if len(sessErr.Failures) > 0 {
		details["member_failures"] = sessErr.Failures
	}
	return details
}

// handleListSessions lists archived sessions, newest first.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	if s.sessions == nil {
		writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound,
			"session archive is disabled", nil, reqID)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest,
				"limit must be a positive integer", nil, reqID)
			return
		}
		limit = n
	}

	sessions, err := s.sessions.ListSessions(limit)
	if err != nil {
		log.Printf("REST: session list failed error=%v request_id=%s", err, reqID)
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError,
			"failed to list sessions", nil, reqID)
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	}, reqID)
}

// handleGetSession returns one archived session with its stage artifacts.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	reqID := requestIDFromContext(r.Context())

	if s.sessions == nil {
		writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound,
			"session archive is disabled", nil, reqID)
		return
	}

	record, err := s.sessions.LoadSession(sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound,
				"session not found: "+sessionID, nil, reqID)
			return
		}
		log.Printf("REST: session load failed id=%s error=%v request_id=%s", sessionID, err, reqID)
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError,
			"failed to load session", nil, reqID)
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]any{
		"session": record,
	}, reqID)
}

// handleHealthz is the liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeSuccessResponse(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"members":  len(s.engine.Config().Members),
		"chairman": s.engine.Config().Chairman,
	}, requestIDFromContext(r.Context()))
}
