package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mcdev12/pointing/go/internal/estimation/engine"
	"github.com/mcdev12/pointing/go/internal/estimation/events"
	"github.com/rs/zerolog/log"
)

// Messages sent to the originating connection in an error event.
const (
	msgSessionNotFound = "Session not found"
	msgSaveFailed      = "Failed to save session"
	msgInvalidMessage  = "Invalid message"
	msgRequestFailed   = "Request failed"
)

// WebSocketHandler accepts client connections and runs their commands
// through the engine.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	engine            SessionEngine
	commandTimeout    time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, eng SessionEngine, commandTimeout time.Duration) *WebSocketHandler {
	if commandTimeout <= 0 {
		commandTimeout = 5 * time.Second
	}
	return &WebSocketHandler{
		connectionManager: cm,
		engine:            eng,
		commandTimeout:    commandTimeout,
	}
}

// HandleConnection upgrades the request. The connection joins a session
// group with its first joinSession message.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := h.connectionManager.UpgradeConnection(w, r, h.handleMessage); err != nil {
		// The upgrader has already written the HTTP error
		log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.HandleConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

func (h *WebSocketHandler) handleMessage(conn *Connection, message []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), h.commandTimeout)
	defer cancel()
	h.process(ctx, conn.ID, message)
}

// process runs one inbound frame: decode, resolve identity, apply, then
// fan out the produced events and report any error to the sender only.
func (h *WebSocketHandler) process(ctx context.Context, connectionID string, message []byte) {
	cmd, err := DecodeCommand(message)
	if err != nil {
		h.reject(connectionID, err)
		return
	}

	if sessionID, userID, bound := h.connectionManager.Binding(connectionID); bound {
		if cmd, err = bindIdentity(cmd, sessionID, userID); err != nil {
			h.reject(connectionID, err)
			return
		}
	}

	// Events are queued before the session is unlocked, so batches reach
	// the group in commit order. A joining connection must be in the group
	// before its join events go out; join only emits on success.
	_, err = h.engine.ApplyAndPublish(ctx, cmd, func(sessionID string, evts []events.Event) {
		if join, ok := cmd.(engine.Join); ok {
			if regErr := h.connectionManager.Register(connectionID, join.SessionID, join.UserID); regErr != nil {
				log.Warn().Err(regErr).Str("connection_id", connectionID).Msg("failed to register connection")
			}
		}
		h.connectionManager.Broadcast(sessionID, evts...)
	})
	if err != nil {
		h.reject(connectionID, err)
	}
}

func (h *WebSocketHandler) reject(connectionID string, err error) {
	message := errorMessage(err)

	logEvent := log.Warn()
	if errors.Is(err, engine.ErrWriteFailed) {
		logEvent = log.Error()
	}
	logEvent.Err(err).Str("connection_id", connectionID).Str("reply", message).Msg("command rejected")

	h.connectionManager.SendTo(connectionID, events.Error(message))
}

// errorMessage maps a command error to the text shown to the client.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		return msgSessionNotFound
	case errors.Is(err, engine.ErrWriteFailed):
		return msgSaveFailed
	case errors.Is(err, ErrAlreadyRegistered):
		return msgInvalidMessage + ": connection already joined another session"
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, engine.ErrInvalidCommand):
		_, detail, _ := strings.Cut(err.Error(), ": ")
		return msgInvalidMessage + ": " + detail
	default:
		return msgRequestFailed
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
