package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pointing/go/internal/estimation/events"
	"github.com/mcdev12/pointing/go/internal/estimation/repository"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultMaxAttempts bounds how often a command is re-applied after losing
// a compare-and-set race to another writer.
const DefaultMaxAttempts = 5

var (
	ErrSessionNotFound = repository.ErrSessionNotFound
	ErrWriteFailed     = repository.ErrWriteFailed
)

// SessionRepository defines what the engine needs from session storage
type SessionRepository interface {
	Load(ctx context.Context, sessionID string) (*models.Session, uint64, error)
	Save(ctx context.Context, session *models.Session, revision uint64) (uint64, error)
	Create(ctx context.Context, session *models.Session) (uint64, error)
	Delete(ctx context.Context, sessionID string) error
}

// Result holds the events a command produced, in emission order.
type Result struct {
	Events []events.Event
}

// Publisher receives the events of a committed command while the session is
// still locked, so batches for one session reach it in commit order. It
// must not call back into the engine.
type Publisher func(sessionID string, evts []events.Event)

func (r *Result) emit(evts ...events.Event) {
	r.Events = append(r.Events, evts...)
}

// Engine applies commands to sessions. Commands for the same session id run
// one at a time in this process; every save is compare-and-set against the
// revision that was loaded, so writers in other processes are detected and
// the command is re-applied to the fresh state.
type Engine struct {
	repo        SessionRepository
	clock       clockwork.Clock
	locks       *sessionLocks
	maxAttempts int
}

func NewEngine(repo SessionRepository, clock clockwork.Clock, maxAttempts int) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Engine{
		repo:        repo,
		clock:       clock,
		locks:       newSessionLocks(),
		maxAttempts: maxAttempts,
	}
}

// Apply validates and executes one command. When the error is a write
// failure the Result may still carry events that were produced before it;
// those should be delivered.
func (e *Engine) Apply(ctx context.Context, cmd Command) (Result, error) {
	return e.ApplyAndPublish(ctx, cmd, nil)
}

// ApplyAndPublish is Apply, handing any produced events to publish before
// the session lock is released. A nil publish is allowed.
func (e *Engine) ApplyAndPublish(ctx context.Context, cmd Command, publish Publisher) (Result, error) {
	if err := Validate(cmd); err != nil {
		return Result{}, err
	}

	unlock := e.locks.lock(cmd.Session())
	defer unlock()

	res, err := e.apply(ctx, cmd)
	if publish != nil && len(res.Events) > 0 {
		publish(cmd.Session(), res.Events)
	}
	return res, err
}

func (e *Engine) apply(ctx context.Context, cmd Command) (Result, error) {
	switch c := cmd.(type) {
	case Join:
		return e.join(ctx, c)
	case UpdateProfile:
		return e.updateProfile(ctx, c)
	case MakeChoice:
		return e.makeChoice(ctx, c)
	case Reveal:
		return e.reveal(ctx, c)
	case Reset:
		return e.reset(ctx, c)
	default:
		return Result{}, fmt.Errorf("%w: unsupported command %T", ErrInvalidCommand, cmd)
	}
}

// mutate loads the session, lets fn change it and saves it. fn returns false
// when there is nothing to write. On a stale revision the session is
// reloaded and fn runs again, so fn must only depend on its argument.
func (e *Engine) mutate(ctx context.Context, sessionID string, fn func(s *models.Session) bool) (*models.Session, bool, error) {
	for attempt := 1; ; attempt++ {
		session, revision, err := e.repo.Load(ctx, sessionID)
		if err != nil {
			return nil, false, err
		}
		if !fn(session) {
			return session, false, nil
		}

		_, err = e.repo.Save(ctx, session, revision)
		if err == nil {
			return session, true, nil
		}
		if !errors.Is(err, repository.ErrStaleRevision) {
			return nil, false, err
		}
		if attempt >= e.maxAttempts {
			return nil, false, fmt.Errorf("%w: gave up after %d attempts: %w", ErrWriteFailed, attempt, err)
		}

		log.Warn().
			Str("session_id", sessionID).
			Int("attempt", attempt).
			Msg("session changed concurrently, re-applying command")
	}
}

func (e *Engine) join(ctx context.Context, cmd Join) (Result, error) {
	now := e.clock.Now().UnixMilli()

	session, _, err := e.mutate(ctx, cmd.SessionID, func(s *models.Session) bool {
		if p, ok := s.Users[cmd.UserID]; ok {
			p.Name = cmd.Name
			p.Email = cmd.Email
			p.Color = cmd.Color
			return true
		}
		s.Users[cmd.UserID] = &models.Participant{
			Name:     cmd.Name,
			Email:    cmd.Email,
			Color:    cmd.Color,
			JoinedAt: now,
		}
		return true
	})
	if err != nil {
		return Result{}, err
	}

	log.Info().
		Str("session_id", cmd.SessionID).
		Str("user_id", cmd.UserID).
		Int("participants", len(session.Users)).
		Msg("participant joined")

	var res Result
	res.emit(
		events.UserJoined(events.UserPayload{UserID: cmd.UserID, Name: cmd.Name, Email: cmd.Email, Color: cmd.Color}),
		events.SessionUpdate(session),
	)
	return res, nil
}

func (e *Engine) updateProfile(ctx context.Context, cmd UpdateProfile) (Result, error) {
	session, changed, err := e.mutate(ctx, cmd.SessionID, func(s *models.Session) bool {
		p, ok := s.Users[cmd.UserID]
		if !ok {
			return false
		}
		p.Name = cmd.Name
		p.Email = cmd.Email
		if cmd.Color != nil {
			if *cmd.Color == "" {
				p.Color = nil
			} else {
				color := *cmd.Color
				p.Color = &color
			}
		}
		return true
	})
	if err != nil {
		return Result{}, err
	}
	if !changed {
		log.Debug().
			Str("session_id", cmd.SessionID).
			Str("user_id", cmd.UserID).
			Msg("ignoring profile update for unknown participant")
		return Result{}, nil
	}

	var res Result
	res.emit(
		events.UserUpdated(events.UserPayload{UserID: cmd.UserID, Name: cmd.Name, Email: cmd.Email, Color: cmd.Color}),
		events.SessionUpdate(session),
	)
	return res, nil
}

func (e *Engine) makeChoice(ctx context.Context, cmd MakeChoice) (Result, error) {
	choice := *cmd.Choice

	session, changed, err := e.mutate(ctx, cmd.SessionID, func(s *models.Session) bool {
		if !s.HasParticipant(cmd.UserID) {
			return false
		}
		s.Choices[cmd.UserID] = choice
		return true
	})
	if err != nil {
		return Result{}, err
	}
	if !changed {
		log.Debug().
			Str("session_id", cmd.SessionID).
			Str("user_id", cmd.UserID).
			Msg("ignoring choice from unknown participant")
		return Result{}, nil
	}

	var res Result
	res.emit(
		events.ChoiceMade(cmd.UserID, choice),
		events.SessionUpdate(session),
	)

	if session.Revealed || !session.AllChosen() {
		return res, nil
	}

	// Everyone has chosen: reveal once, on the transition only.
	revealed, changed, err := e.mutate(ctx, cmd.SessionID, func(s *models.Session) bool {
		if s.Revealed || !s.AllChosen() {
			return false
		}
		s.Revealed = true
		return true
	})
	if err != nil {
		return res, err
	}
	if changed {
		log.Info().
			Str("session_id", cmd.SessionID).
			Int("participants", len(revealed.Users)).
			Msg("all participants chose, revealing")
		res.emit(events.RevealChoices(revealed))
	}
	return res, nil
}

func (e *Engine) reveal(ctx context.Context, cmd Reveal) (Result, error) {
	session, _, err := e.mutate(ctx, cmd.SessionID, func(s *models.Session) bool {
		s.Revealed = true
		return true
	})
	if err != nil {
		return Result{}, err
	}

	var res Result
	res.emit(events.RevealChoices(session))
	return res, nil
}

func (e *Engine) reset(ctx context.Context, cmd Reset) (Result, error) {
	session, _, err := e.mutate(ctx, cmd.SessionID, func(s *models.Session) bool {
		s.Choices = make(map[string]string)
		s.Revealed = false
		return true
	})
	if err != nil {
		return Result{}, err
	}

	var res Result
	res.emit(
		events.SessionReset(session),
		events.SessionUpdate(session),
	)
	return res, nil
}

// Create stores a new empty session.
func (e *Engine) Create(ctx context.Context) (*models.Session, error) {
	session := models.NewSession(uuid.NewString(), e.clock.Now().UnixMilli())
	if _, err := e.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	log.Info().Str("session_id", session.ID).Msg("session created")
	return session, nil
}

// Get returns the current stored session.
func (e *Engine) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	session, _, err := e.repo.Load(ctx, sessionID)
	return session, err
}

// Delete removes a session and hands the sessionDeleted event to publish,
// if set, before the session lock is released.
func (e *Engine) Delete(ctx context.Context, sessionID string, publish Publisher) (Result, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	if err := e.repo.Delete(ctx, sessionID); err != nil {
		return Result{}, err
	}

	log.Info().Str("session_id", sessionID).Msg("session deleted")

	var res Result
	res.emit(events.SessionDeleted(sessionID))
	if publish != nil {
		publish(sessionID, res.Events)
	}
	return res, nil
}
