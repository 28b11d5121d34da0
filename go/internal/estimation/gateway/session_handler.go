package gateway

import (
	"errors"
	"net/http"

	"github.com/mcdev12/pointing/go/internal/estimation/engine"
	"github.com/rs/zerolog/log"
)

// SessionHandler serves the session HTTP API
type SessionHandler struct {
	engine      SessionEngine
	broadcaster *ConnectionManager
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(eng SessionEngine, cm *ConnectionManager) *SessionHandler {
	return &SessionHandler{
		engine:      eng,
		broadcaster: cm,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type deleteSessionResponse struct {
	Success bool `json:"success"`
}

// HandleCreateSession handles POST /api/sessions
func (h *SessionHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.Create(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to create session"})
		return
	}

	writeJSON(w, http.StatusOK, createSessionResponse{SessionID: session.ID})
}

// HandleGetSession handles GET /api/sessions/{id}
func (h *SessionHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	session, err := h.engine.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, engine.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: msgSessionNotFound})
			return
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to fetch session")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch session"})
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// HandleDeleteSession handles DELETE /api/sessions/{id}. Connections in the
// session group are told right after the record is gone.
func (h *SessionHandler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if _, err := h.engine.Delete(r.Context(), sessionID, h.broadcaster.Publish); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to delete session")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to delete session"})
		return
	}

	writeJSON(w, http.StatusOK, deleteSessionResponse{Success: true})
}

// RegisterRoutes registers the session API routes
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.HandleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", h.HandleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.HandleDeleteSession)
}
