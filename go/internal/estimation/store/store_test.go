package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(clockwork.NewFakeClock()),
		"badger": b,
	}
}

func TestStore_CreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)

			// Given an absent key
			_, err := s.Get(ctx, "session:a")
			req.ErrorIs(err, ErrKeyNotFound)

			// When it is created
			rev, err := s.Create(ctx, "session:a", []byte("one"), time.Hour)
			req.NoError(err)

			// Then it reads back at that revision
			e, err := s.Get(ctx, "session:a")
			req.NoError(err)
			req.Equal([]byte("one"), e.Value)
			req.Equal(rev, e.Revision)

			// And a second create is rejected
			_, err = s.Create(ctx, "session:a", []byte("again"), time.Hour)
			req.ErrorIs(err, ErrKeyExists)

			// When it is updated at the current revision
			next, err := s.Update(ctx, "session:a", []byte("two"), time.Hour, rev)
			req.NoError(err)
			req.Greater(next, rev)

			// Then a write at the old revision is stale
			_, err = s.Update(ctx, "session:a", []byte("three"), time.Hour, rev)
			req.ErrorIs(err, ErrRevisionMismatch)

			e, err = s.Get(ctx, "session:a")
			req.NoError(err)
			req.Equal([]byte("two"), e.Value)

			// When it is deleted, twice
			req.NoError(s.Delete(ctx, "session:a"))
			req.NoError(s.Delete(ctx, "session:a"))

			// Then it is gone and cannot be resurrected by Update
			_, err = s.Get(ctx, "session:a")
			req.ErrorIs(err, ErrKeyNotFound)
			_, err = s.Update(ctx, "session:a", []byte("zombie"), time.Hour, next)
			req.ErrorIs(err, ErrKeyNotFound)
		})
	}
}

func TestMemoryStore_TTLRefreshedOnWrite(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s := NewMemoryStore(clock)

	rev, err := s.Create(ctx, "session:a", []byte("v"), 24*time.Hour)
	req.NoError(err)

	// Given 23 hours pass and the record is written again
	clock.Advance(23 * time.Hour)
	_, err = s.Update(ctx, "session:a", []byte("v2"), 24*time.Hour, rev)
	req.NoError(err)

	// Then it survives past the original deadline
	clock.Advance(2 * time.Hour)
	_, err = s.Get(ctx, "session:a")
	req.NoError(err)

	// And expires a full TTL after the last write
	clock.Advance(22 * time.Hour)
	_, err = s.Get(ctx, "session:a")
	req.ErrorIs(err, ErrKeyNotFound)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore(nil)

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}

func TestBadgerStore_SetsExpiry(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, err := OpenBadgerStore("")
	req.NoError(err)
	defer s.Close()

	_, err = s.Create(ctx, "session:a", []byte("v"), time.Hour)
	req.NoError(err)

	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("session:a"))
		if err != nil {
			return err
		}
		req.NotZero(item.ExpiresAt())
		return nil
	})
	req.NoError(err)
}

func TestNATSStore_KeyMapping(t *testing.T) {
	require.Equal(t, "session.4f1c-9a", kvKey("session:4f1c-9a"))
}

func TestNATSStore_TranslateError(t *testing.T) {
	req := require.New(t)

	req.NoError(translateError(nil))
	req.ErrorIs(translateError(jetstream.ErrKeyNotFound), ErrKeyNotFound)
	req.ErrorIs(translateError(fmt.Errorf("get: %w", jetstream.ErrKeyNotFound)), ErrKeyNotFound)
	req.ErrorIs(translateError(&jetstream.APIError{
		Code:      400,
		ErrorCode: jetstream.JSErrCodeStreamWrongLastSequence,
	}), ErrRevisionMismatch)

	other := fmt.Errorf("boom")
	req.Equal(other, translateError(other))
}
