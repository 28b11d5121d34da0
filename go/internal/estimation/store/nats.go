package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the JetStream key-value store.
type NATSConfig struct {
	URL           string
	Bucket        string
	TTL           time.Duration // bucket-wide max age of a revision
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default JetStream key-value configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Bucket:        "ESTIMATION_SESSIONS",
		TTL:           24 * time.Hour,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSStore stores sessions in a JetStream KeyValue bucket. The bucket TTL
// applies to each revision, so every write restarts a key's lifetime; the
// ttl argument on writes is therefore informational and must match the
// bucket configuration.
type NATSStore struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	config NATSConfig
}

// NewNATSStore connects to NATS and creates or updates the bucket.
func NewNATSStore(ctx context.Context, config NATSConfig) (*NATSStore, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: "Estimation session records",
		History:     1,
		TTL:         config.TTL,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure key-value bucket: %w", err)
	}

	log.Info().
		Str("bucket", config.Bucket).
		Dur("ttl", config.TTL).
		Msg("JetStream key-value store ready")

	return &NATSStore{nc: nc, kv: kv, config: config}, nil
}

// kvKey maps a store key onto the KeyValue key alphabet, which has no ':'.
func kvKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}

// translateError maps JetStream errors onto the store sentinels. Key-exists
// shares its API error code with a stale revision, so Create checks it first.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return ErrKeyNotFound
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return ErrRevisionMismatch
	}
	return err
}

func (s *NATSStore) Get(ctx context.Context, key string) (Entry, error) {
	e, err := s.kv.Get(ctx, kvKey(key))
	if err != nil {
		return Entry{}, translateError(err)
	}
	return Entry{Value: e.Value(), Revision: e.Revision()}, nil
}

func (s *NATSStore) Create(ctx context.Context, key string, value []byte, _ time.Duration) (uint64, error) {
	rev, err := s.kv.Create(ctx, kvKey(key), value)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return 0, ErrKeyExists
	}
	return rev, translateError(err)
}

func (s *NATSStore) Update(ctx context.Context, key string, value []byte, _ time.Duration, revision uint64) (uint64, error) {
	rev, err := s.kv.Update(ctx, kvKey(key), value, revision)
	return rev, translateError(err)
}

func (s *NATSStore) Delete(ctx context.Context, key string) error {
	return translateError(s.kv.Delete(ctx, kvKey(key)))
}

func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}
