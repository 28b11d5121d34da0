package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/pointing/go/internal/estimation/store"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultTTL is how long an idle session survives in the store.
const DefaultTTL = 24 * time.Hour

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStaleRevision   = errors.New("stale session revision")
	ErrWriteFailed     = errors.New("session write failed")
)

// Repository loads and saves Session aggregates through a keyed expiring store.
type Repository struct {
	store store.Store
	ttl   time.Duration
}

func NewRepository(s store.Store, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Repository{
		store: s,
		ttl:   ttl,
	}
}

// Key returns the store key for a session id.
func Key(sessionID string) string {
	return "session:" + sessionID
}

// Load reads a session and the revision it was stored at. Read and decode
// failures, and records whose id does not match the key, are all reported
// as ErrSessionNotFound.
func (r *Repository) Load(ctx context.Context, sessionID string) (*models.Session, uint64, error) {
	entry, err := r.store.Get(ctx, Key(sessionID))
	if err != nil {
		if !errors.Is(err, store.ErrKeyNotFound) {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to read session")
		}
		return nil, 0, ErrSessionNotFound
	}

	var session models.Session
	if err := json.Unmarshal(entry.Value, &session); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to decode session")
		return nil, 0, ErrSessionNotFound
	}
	if session.ID != sessionID {
		log.Warn().Str("session_id", sessionID).Str("stored_id", session.ID).Msg("session record does not match its key")
		return nil, 0, ErrSessionNotFound
	}
	session.Normalize()

	return &session, entry.Revision, nil
}

// Save writes the session back if the stored revision still matches, and
// refreshes its TTL. It never re-creates a session that has disappeared.
func (r *Repository) Save(ctx context.Context, session *models.Session, revision uint64) (uint64, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal: %w", ErrWriteFailed, err)
	}

	next, err := r.store.Update(ctx, Key(session.ID), data, r.ttl, revision)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, store.ErrRevisionMismatch):
		return 0, ErrStaleRevision
	case errors.Is(err, store.ErrKeyNotFound):
		return 0, ErrSessionNotFound
	default:
		return 0, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
}

// Create stores a new session.
func (r *Repository) Create(ctx context.Context, session *models.Session) (uint64, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal: %w", ErrWriteFailed, err)
	}

	rev, err := r.store.Create(ctx, Key(session.ID), data, r.ttl)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return rev, nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (r *Repository) Delete(ctx context.Context, sessionID string) error {
	if err := r.store.Delete(ctx, Key(sessionID)); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}
