package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/pointing/go/internal/estimation/events"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var (
	// ErrAlreadyRegistered is returned when a connection that is bound to one
	// (session, user) pair is registered for another.
	ErrAlreadyRegistered = errors.New("connection already registered to another session")
	// ErrConnectionNotFound is returned when registering a connection that is
	// closed or was never opened.
	ErrConnectionNotFound = errors.New("connection not found")
)

// MessageFunc handles one inbound client frame.
type MessageFunc func(conn *Connection, message []byte)

// ConnectionManager tracks live WebSocket connections and which session
// group each one belongs to, and fans out events to those groups.
type ConnectionManager struct {
	// Every open connection by ID, bound or not
	connections map[string]*Connection
	// Connection groups by session ID
	sessionConnections map[string]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
	// Closed when Start returns
	done chan struct{}
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	onMessage MessageFunc

	// Binding, guarded by Manager.mu
	sessionID string
	userID    string
	closed    bool

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	QueueSize       int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is one batch of events for a session group, or for a
// single connection when ConnectionID is set.
type BroadcastMessage struct {
	SessionID    string
	ConnectionID string
	Events       []events.Event
}

// WireEvent is the outbound envelope.
type WireEvent struct {
	Type      events.EventType `json:"type"`
	SessionID string           `json:"sessionId,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Data      any              `json:"data"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		QueueSize:       1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	defaults := DefaultConnectionConfig()
	config.WriteTimeout = lo.Ternary(config.WriteTimeout > 0, config.WriteTimeout, defaults.WriteTimeout)
	config.ReadTimeout = lo.Ternary(config.ReadTimeout > 0, config.ReadTimeout, defaults.ReadTimeout)
	config.PingInterval = lo.Ternary(config.PingInterval > 0, config.PingInterval, defaults.PingInterval)
	config.MaxMessageSize = lo.Ternary(config.MaxMessageSize > 0, config.MaxMessageSize, defaults.MaxMessageSize)
	config.SendBufferSize = lo.Ternary(config.SendBufferSize > 0, config.SendBufferSize, defaults.SendBufferSize)
	config.QueueSize = lo.Ternary(config.QueueSize > 0, config.QueueSize, defaults.QueueSize)

	return &ConnectionManager{
		connections:        make(map[string]*Connection),
		sessionConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, config.QueueSize),
		done:        make(chan struct{}),
	}
}

// Start processes broadcast batches until ctx is done, then closes every
// open connection. It must be called once.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	defer close(cm.done)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket. The connection
// is open but belongs to no session until Register binds it.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, onMessage MessageFunc) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := cm.newConnection(conn, onMessage)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) newConnection(conn *websocket.Conn, onMessage MessageFunc) *Connection {
	connection := &Connection{
		ID:          uuid.NewString(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		onMessage:   onMessage,
		ConnectedAt: time.Now(),
	}

	cm.mu.Lock()
	cm.connections[connection.ID] = connection
	cm.mu.Unlock()

	return connection
}

// Register binds a connection to a (session, user) pair. Registering the
// same pair again is a no-op; a different pair is rejected.
func (cm *ConnectionManager) Register(connectionID, sessionID, userID string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.connections[connectionID]
	if !ok {
		return ErrConnectionNotFound
	}
	if conn.sessionID != "" {
		if conn.sessionID == sessionID && conn.userID == userID {
			return nil
		}
		return fmt.Errorf("%w: bound to session %s", ErrAlreadyRegistered, conn.sessionID)
	}

	conn.sessionID = sessionID
	conn.userID = userID
	if cm.sessionConnections[sessionID] == nil {
		cm.sessionConnections[sessionID] = make(map[*Connection]bool)
	}
	cm.sessionConnections[sessionID][conn] = true

	log.Debug().
		Str("connection_id", connectionID).
		Str("session_id", sessionID).
		Str("user_id", userID).
		Int("session_connections", len(cm.sessionConnections[sessionID])).
		Msg("connection registered")

	return nil
}

// Unregister removes the connection and its binding and closes its send
// channel. Unknown or already removed connections are ignored.
func (cm *ConnectionManager) Unregister(connectionID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn, ok := cm.connections[connectionID]; ok {
		cm.unregisterLocked(conn)
	}
}

func (cm *ConnectionManager) unregisterLocked(conn *Connection) {
	if conn.closed {
		return
	}
	conn.closed = true
	close(conn.Send)
	delete(cm.connections, conn.ID)

	if group, ok := cm.sessionConnections[conn.sessionID]; ok {
		delete(group, conn)
		if len(group) == 0 {
			delete(cm.sessionConnections, conn.sessionID)
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("session_id", conn.sessionID).
		Str("user_id", conn.userID).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for _, conn := range cm.connections {
		cm.unregisterLocked(conn)
	}
}

// Binding returns the (session, user) pair a connection is registered to.
func (cm *ConnectionManager) Binding(connectionID string) (sessionID, userID string, ok bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conn, exists := cm.connections[connectionID]
	if !exists || conn.sessionID == "" {
		return "", "", false
	}
	return conn.sessionID, conn.userID, true
}

// ConnectionsFor returns the IDs of connections registered to a session,
// sorted. Unknown sessions have none.
func (cm *ConnectionManager) ConnectionsFor(sessionID string) []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	ids := lo.MapToSlice(cm.sessionConnections[sessionID], func(conn *Connection, _ bool) string {
		return conn.ID
	})
	slices.Sort(ids)
	return ids
}

// Broadcast queues events for every connection in a session group. The
// batch is delivered in order. When the queue is full it waits for room
// until the manager stops.
func (cm *ConnectionManager) Broadcast(sessionID string, evts ...events.Event) {
	if len(evts) == 0 {
		return
	}
	cm.enqueue(BroadcastMessage{SessionID: sessionID, Events: evts})
}

// Publish is Broadcast in the shape of an engine publisher.
func (cm *ConnectionManager) Publish(sessionID string, evts []events.Event) {
	cm.Broadcast(sessionID, evts...)
}

// SendTo queues events for one connection only. It shares the broadcast
// queue so it is ordered after batches queued before it.
func (cm *ConnectionManager) SendTo(connectionID string, evts ...events.Event) {
	if len(evts) == 0 {
		return
	}
	cm.enqueue(BroadcastMessage{ConnectionID: connectionID, Events: evts})
}

func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
		return
	default:
	}

	log.Warn().
		Str("session_id", message.SessionID).
		Str("connection_id", message.ConnectionID).
		Int("events", len(message.Events)).
		Msg("broadcast channel full, waiting")

	select {
	case cm.broadcastCh <- message:
	case <-cm.done:
		log.Debug().
			Str("session_id", message.SessionID).
			Str("connection_id", message.ConnectionID).
			Msg("connection manager stopped, discarding message")
	}
}

// handleBroadcast marshals each event once and delivers the batch to the
// target connections.
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	payloads := make([][]byte, 0, len(message.Events))
	now := time.Now().UTC()
	for _, evt := range message.Events {
		data, err := json.Marshal(WireEvent{
			Type:      evt.Type,
			SessionID: message.SessionID,
			Timestamp: now,
			Data:      evt.Data,
		})
		if err != nil {
			log.Error().Err(err).Str("event_type", string(evt.Type)).Msg("failed to marshal event for broadcast")
			continue
		}
		payloads = append(payloads, data)
	}

	var (
		delivered int
		slow      []*Connection
	)

	// Sends happen under the read lock so Unregister cannot close a channel
	// mid-send.
	cm.mu.RLock()
	for _, conn := range cm.targets(message) {
		ok := true
		for _, data := range payloads {
			select {
			case conn.Send <- data:
			default:
				ok = false
			}
			if !ok {
				break
			}
		}
		if ok {
			delivered++
		} else {
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("session_id", message.SessionID).
			Msg("connection send buffer full, closing connection")
		cm.Unregister(conn.ID)
	}

	log.Debug().
		Str("session_id", message.SessionID).
		Str("connection_id", message.ConnectionID).
		Int("events", len(payloads)).
		Int("connections", delivered).
		Msg("events broadcasted")
}

// targets must be called with cm.mu held.
func (cm *ConnectionManager) targets(message BroadcastMessage) []*Connection {
	if message.ConnectionID != "" {
		conn, ok := cm.connections[message.ConnectionID]
		if !ok || conn.closed {
			return nil
		}
		return []*Connection{conn}
	}
	return lo.Filter(lo.Keys(cm.sessionConnections[message.SessionID]), func(conn *Connection, _ int) bool {
		return !conn.closed
	})
}

// ConnectionStats summarizes open connections.
type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return ConnectionStats{
		TotalConnections: len(cm.connections),
		ActiveSessions:   len(cm.sessionConnections),
		SessionConnections: lo.MapValues(cm.sessionConnections, func(group map[*Connection]bool, _ string) int {
			return len(group)
		}),
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.Unregister(c.ID)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads client frames and hands them to the message handler one
// at a time, so a client's commands run in the order it sent them.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.Unregister(c.ID)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.onMessage != nil {
			c.onMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
