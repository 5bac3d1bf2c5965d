package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bdobrica/kotoba/common/trace"
	"github.com/bdobrica/kotoba/internal/kotoba/conversation"
	"github.com/bdobrica/kotoba/internal/kotoba/dispatch"
	"github.com/bdobrica/kotoba/internal/kotoba/intent"
)

type startSessionRequest struct {
	UserID   string         `json:"user_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// messageRequest carries either raw text, a pre-parsed intent, or both.
type messageRequest struct {
	UserID  string          `json:"user_id,omitempty"`
	Message string          `json:"message"`
	Intent  json.RawMessage `json:"intent,omitempty"`
}

type suggestionsRequest struct {
	Intent json.RawMessage `json:"intent,omitempty"`
}

type suggestionsResponse struct {
	SessionID   string                    `json:"session_id"`
	Suggestions []conversation.Suggestion `json:"suggestions"`
}

type endSessionResponse struct {
	SessionID    string `json:"session_id"`
	Ended        bool   `json:"ended"`
	ArchiveError string `json:"archive_error,omitempty"`
}

type cleanupResponse struct {
	Ended  int `json:"ended"`
	Active int `json:"active"`
}

// decodeIntent validates a raw intent payload. A missing payload yields nil.
func decodeIntent(raw json.RawMessage) (*intent.ParsedIntent, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return intent.Decode(raw)
}

// handleStartSession handles POST /v1/sessions.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	writeJSON(w, http.StatusCreated, s.dispatcher.Start(req.UserID, req.Metadata))
}

// handleGetSession handles GET /v1/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleEndSession handles DELETE /v1/sessions/{id}. The session is ended
// even when archival fails; the failure is reported in the body.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ended, err := s.dispatcher.End(r.Context(), id)
	if !ended {
		writeError(w, http.StatusNotFound, conversation.ErrSessionNotFound.Error())
		return
	}
	resp := endSessionResponse{SessionID: id, Ended: true}
	if err != nil {
		trace.Logger(r.Context(), s.logger).Warn("httpapi: archive on end failed", "session_id", id, "err", err)
		resp.ArchiveError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePostMessage handles POST /v1/sessions/{id}/messages.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	parsed, err := decodeIntent(req.Intent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.dispatcher.Handle(r.Context(), dispatch.Request{
		SessionID: chi.URLParam(r, "id"),
		UserID:    req.UserID,
		Message:   req.Message,
		Intent:    parsed,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// handleAnalytics handles GET /v1/sessions/{id}/analytics.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.manager.Analytics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleSuggestions handles POST /v1/sessions/{id}/suggestions. The body may
// carry the intent to suggest against; without one the session's last
// intent is used.
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req suggestionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	current, err := decodeIntent(req.Intent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.manager.Get(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, suggestionsResponse{
		SessionID:   id,
		Suggestions: s.dispatcher.Suggest(r.Context(), id, current),
	})
}

// handleCleanup handles POST /v1/maintenance/cleanup.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	n := s.manager.CleanupExpired(r.Context())
	writeJSON(w, http.StatusOK, cleanupResponse{Ended: n, Active: s.manager.Active()})
}
