//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when a key is absent or its TTL has elapsed.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExists is returned by Create when the key is already present.
	ErrKeyExists = errors.New("key exists")
	// ErrRevisionMismatch is returned by Update when the stored revision is
	// not the one the caller read.
	ErrRevisionMismatch = errors.New("revision mismatch")
)

// Entry is a stored value together with the revision it was written at.
type Entry struct {
	Value    []byte
	Revision uint64
}

// Store is a keyed expiring store with per-key compare-and-set.
//
// Every successful write restarts the key's TTL. Update never creates a key:
// a record that expired or was deleted stays gone.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Create(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error)
	Update(ctx context.Context, key string, value []byte, ttl time.Duration, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
