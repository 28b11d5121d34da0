package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Store backends accepted in STORE_BACKEND.
const (
	BackendNATS   = "nats"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config holds the estimation server settings, read from the environment.
type Config struct {
	Port        string `env:"PORT"        envDefault:"3001"`
	Environment string `env:"APP_ENV"     envDefault:"development"`
	ClientURL   string `env:"CLIENT_URL"  envDefault:"http://localhost:5173"`
	StaticDir   string `env:"STATIC_DIR"  envDefault:"public"`
	LogLevel    string `env:"LOG_LEVEL"   envDefault:"info"`
	DeckFile    string `env:"DECK_FILE"`

	StoreBackend  string        `env:"STORE_BACKEND"  envDefault:"nats"`
	NATSURL       string        `env:"NATS_URL"       envDefault:"nats://localhost:4222"`
	NATSBucket    string        `env:"NATS_KV_BUCKET" envDefault:"ESTIMATION_SESSIONS"`
	BadgerPath    string        `env:"BADGER_PATH"`
	SessionTTL    time.Duration `env:"SESSION_TTL"    envDefault:"24h"`
	MaxReconnects int           `env:"NATS_MAX_RECONNECTS" envDefault:"-1"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`

	CommandRetries int           `env:"COMMAND_RETRIES" envDefault:"5"`
	CommandTimeout time.Duration `env:"COMMAND_TIMEOUT" envDefault:"5s"`

	WS WebSocketConfig `envPrefix:"WS_"`
}

// WebSocketConfig tunes the per-connection pumps.
type WebSocketConfig struct {
	ReadTimeout    time.Duration `env:"READ_TIMEOUT"     envDefault:"60s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT"    envDefault:"10s"`
	PingInterval   time.Duration `env:"PING_INTERVAL"    envDefault:"30s"`
	MaxMessageSize int64         `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	SendBuffer     int           `env:"SEND_BUFFER"      envDefault:"256"`
}

// Load parses the environment into a Config and checks it.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if !slices.Contains([]string{BackendNATS, BackendBadger, BackendMemory}, c.StoreBackend) {
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("COMMAND_TIMEOUT must be positive, got %s", c.CommandTimeout)
	}
	if c.WS.PingInterval >= c.WS.ReadTimeout {
		return fmt.Errorf("WS_PING_INTERVAL (%s) must be shorter than WS_READ_TIMEOUT (%s)", c.WS.PingInterval, c.WS.ReadTimeout)
	}
	return nil
}

// IsProduction reports whether the server runs with production CORS and logging.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Port
}

// Level returns the parsed log level, falling back to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
