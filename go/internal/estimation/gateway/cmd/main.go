package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/pointing/go/internal/estimation/config"
	"github.com/mcdev12/pointing/go/internal/estimation/engine"
	"github.com/mcdev12/pointing/go/internal/estimation/gateway"
	"github.com/mcdev12/pointing/go/internal/estimation/repository"
	"github.com/mcdev12/pointing/go/internal/estimation/store"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Setup logging
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(cfg.Level())

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open session store")
	}
	defer sessionStore.Close()

	deck, err := gateway.LoadDeck(cfg.DeckFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load deck")
	}

	log.Info().
		Str("backend", cfg.StoreBackend).
		Str("port", cfg.Port).
		Dur("session_ttl", cfg.SessionTTL).
		Strs("deck", deck.Options).
		Msg("starting estimation server")

	repo := repository.NewRepository(sessionStore, cfg.SessionTTL)
	eng := engine.NewEngine(repo, nil, cfg.CommandRetries)

	gatewayConfig := gateway.Config{
		ConnectionConfig: gateway.ConnectionConfig{
			WriteTimeout:    cfg.WS.WriteTimeout,
			ReadTimeout:     cfg.WS.ReadTimeout,
			PingInterval:    cfg.WS.PingInterval,
			MaxMessageSize:  cfg.WS.MaxMessageSize,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			SendBufferSize:  cfg.WS.SendBuffer,
			CheckOrigin:     checkOrigin(cfg),
		},
		CommandTimeout: cfg.CommandTimeout,
		Deck:           deck,
		StaticDir:      staticDir(cfg.StaticDir),
	}
	gatewayService := gateway.NewService(gatewayConfig, eng)

	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           corsMiddleware(cfg).Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start gateway service (broadcast loop)
	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Cancel service context to close WebSocket connections
	cancel()
	select {
	case <-serviceDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("gateway service did not stop in time")
	}

	log.Info().Msg("estimation server shutdown complete")
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Warn().Msg("using in-memory session store, sessions are lost on restart")
		return store.NewMemoryStore(nil), nil
	case config.BackendBadger:
		return store.OpenBadgerStore(cfg.BadgerPath)
	case config.BackendNATS:
		natsConfig := store.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Bucket = cfg.NATSBucket
		natsConfig.TTL = cfg.SessionTTL
		natsConfig.MaxReconnects = cfg.MaxReconnects
		natsConfig.ReconnectWait = cfg.ReconnectWait
		return store.NewNATSStore(ctx, natsConfig)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// corsMiddleware allows any origin in production and only the client dev
// server otherwise, with credentials either way.
func corsMiddleware(cfg config.Config) *cors.Cors {
	options := cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}
	if cfg.IsProduction() {
		// Reflect the caller's origin; "*" is not allowed with credentials
		options.AllowOriginFunc = func(string) bool { return true }
	} else {
		options.AllowedOrigins = []string{cfg.ClientURL}
	}
	return cors.New(options)
}

func checkOrigin(cfg config.Config) func(r *http.Request) bool {
	if cfg.IsProduction() {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == cfg.ClientURL || origin == "http://"+r.Host
	}
}

// staticDir disables static hosting when the directory is missing.
func staticDir(dir string) string {
	if dir == "" {
		return ""
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		log.Warn().Str("static_dir", dir).Msg("static directory not found, client will not be served")
		return ""
	}
	return dir
}
