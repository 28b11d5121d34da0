//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=mocks/mock_engine.go -package=mocks
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/mcdev12/pointing/go/internal/estimation/engine"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/rs/zerolog/log"
)

// SessionEngine is what the gateway needs from the session engine. Publish
// callbacks run while the session is locked.
type SessionEngine interface {
	ApplyAndPublish(ctx context.Context, cmd engine.Command, publish engine.Publisher) (engine.Result, error)
	Create(ctx context.Context) (*models.Session, error)
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Delete(ctx context.Context, sessionID string, publish engine.Publisher) (engine.Result, error)
}

// Service is the estimation gateway: WebSocket connections, the session
// HTTP API and the static client.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	sessionHandler    *SessionHandler
	deck              Deck
	staticDir         string
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	CommandTimeout   time.Duration
	Deck             Deck
	// StaticDir is served with index.html fallback; empty disables it
	StaticDir string
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		CommandTimeout:   5 * time.Second,
		Deck:             DefaultDeck(),
	}
}

// NewService creates a new gateway service
func NewService(config Config, eng SessionEngine) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig)

	if len(config.Deck.Options) == 0 {
		config.Deck = DefaultDeck()
	}

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, eng, config.CommandTimeout),
		sessionHandler:    NewSessionHandler(eng, connectionManager),
		deck:              config.Deck,
		staticDir:         config.StaticDir,
	}
}

// Start runs the broadcast loop until ctx is cancelled, then closes all
// connections.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting estimation gateway service")

	s.connectionManager.Start(ctx)

	log.Info().Msg("estimation gateway service stopped")
	return nil
}

// RegisterRoutes registers every gateway route
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.sessionHandler.RegisterRoutes(mux)
	mux.HandleFunc("GET /api/deck", s.deck.HandleGetDeck)
	mux.HandleFunc("GET /health", HandleHealth)
	if s.staticDir != "" {
		mux.Handle("GET /", NewSPAHandler(s.staticDir))
	}
	log.Info().Str("static_dir", s.staticDir).Msg("estimation gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// Connections exposes the registry and dispatcher
func (s *Service) Connections() *ConnectionManager {
	return s.connectionManager
}
