package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memoryEntry struct {
	value     []byte
	revision  uint64
	expiresAt time.Time
}

// MemoryStore keeps entries in process memory. Expiry is evaluated lazily
// against the injected clock.
type MemoryStore struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	entries  map[string]memoryEntry
	revision uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:   clock,
		entries: make(map[string]memoryEntry),
	}
}

// live returns the entry for key, evicting it if it has expired. Caller holds mu.
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) put(key string, value []byte, ttl time.Duration) uint64 {
	s.revision++
	e := memoryEntry{
		value:    append([]byte(nil), value...),
		revision: s.revision,
	}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.entries[key] = e
	return e.revision
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return Entry{}, ErrKeyNotFound
	}
	return Entry{Value: append([]byte(nil), e.value...), Revision: e.revision}, nil
}

func (s *MemoryStore) Create(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return 0, ErrKeyExists
	}
	return s.put(key, value, ttl), nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, value []byte, ttl time.Duration, revision uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return 0, ErrKeyNotFound
	}
	if e.revision != revision {
		return 0, ErrRevisionMismatch
	}
	return s.put(key, value, ttl), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
