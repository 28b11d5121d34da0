package models

import (
	"cmp"
	"maps"
	"slices"

	"github.com/samber/lo"
)

// Participant is a user's membership record within a session.
type Participant struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Color    *string `json:"color,omitempty"`
	JoinedAt int64   `json:"joinedAt"` // Unix milliseconds, set once
}

// Session is the aggregate holding one estimation round's participants,
// choices and reveal state. Timestamps are Unix milliseconds so the JSON
// form matches what browser clients already consume.
type Session struct {
	ID        string                  `json:"id"`
	Users     map[string]*Participant `json:"users"`
	Choices   map[string]string       `json:"choices"`
	Revealed  bool                    `json:"revealed"`
	CreatedAt int64                   `json:"createdAt"`
}

// NewSession returns an empty session.
func NewSession(id string, createdAt int64) *Session {
	return &Session{
		ID:        id,
		Users:     make(map[string]*Participant),
		Choices:   make(map[string]string),
		CreatedAt: createdAt,
	}
}

// Normalize replaces nil maps so a decoded record can be mutated safely.
func (s *Session) Normalize() {
	if s.Users == nil {
		s.Users = make(map[string]*Participant)
	}
	if s.Choices == nil {
		s.Choices = make(map[string]string)
	}
}

// HasParticipant reports whether userID has joined the session.
func (s *Session) HasParticipant(userID string) bool {
	_, ok := s.Users[userID]
	return ok
}

// AllChosen reports whether the session has at least one participant and
// every participant has a choice recorded.
func (s *Session) AllChosen() bool {
	if len(s.Users) == 0 {
		return false
	}
	return lo.EveryBy(lo.Keys(s.Users), func(userID string) bool {
		_, ok := s.Choices[userID]
		return ok
	})
}

// ParticipantIDs returns user ids in join order. Equal join times fall back
// to the user id so the order is stable.
func (s *Session) ParticipantIDs() []string {
	ids := lo.Keys(s.Users)
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(s.Users[a].JoinedAt, s.Users[b].JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return ids
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() *Session {
	out := &Session{
		ID:        s.ID,
		Users:     make(map[string]*Participant, len(s.Users)),
		Choices:   maps.Clone(s.Choices),
		Revealed:  s.Revealed,
		CreatedAt: s.CreatedAt,
	}
	if out.Choices == nil {
		out.Choices = make(map[string]string)
	}
	for id, p := range s.Users {
		cp := *p
		if p.Color != nil {
			cp.Color = lo.ToPtr(*p.Color)
		}
		out.Users[id] = &cp
	}
	return out
}
