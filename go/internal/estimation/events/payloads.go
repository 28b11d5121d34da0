package events

import "github.com/mcdev12/pointing/go/internal/models"

// Event payload types shared between the engine and gateway packages

// EventType names an outbound event on the wire.
type EventType string

const (
	EventTypeUserJoined     EventType = "userJoined"
	EventTypeUserUpdated    EventType = "userUpdated"
	EventTypeChoiceMade     EventType = "choiceMade"
	EventTypeSessionUpdate  EventType = "sessionUpdate"
	EventTypeRevealChoices  EventType = "revealChoices"
	EventTypeSessionReset   EventType = "sessionReset"
	EventTypeSessionDeleted EventType = "sessionDeleted"
	EventTypeError          EventType = "error"
)

// Event is one outbound event. Data is one of the payload types below, or
// a *models.Session snapshot for sessionUpdate, revealChoices and sessionReset.
type Event struct {
	Type EventType
	Data any
}

// UserPayload is the payload for userJoined and userUpdated.
type UserPayload struct {
	UserID string  `json:"userId"`
	Name   string  `json:"name"`
	Email  string  `json:"email"`
	Color  *string `json:"color,omitempty"`
}

// ChoiceMadePayload is the payload for a choiceMade event.
type ChoiceMadePayload struct {
	UserID string `json:"userId"`
	Choice string `json:"choice"`
}

// SessionDeletedPayload is the payload for a sessionDeleted event.
type SessionDeletedPayload struct {
	SessionID string `json:"sessionId"`
}

// ErrorPayload is sent to the originating connection only.
type ErrorPayload struct {
	Message string `json:"message"`
}

func UserJoined(p UserPayload) Event {
	return Event{Type: EventTypeUserJoined, Data: p}
}

func UserUpdated(p UserPayload) Event {
	return Event{Type: EventTypeUserUpdated, Data: p}
}

func ChoiceMade(userID, choice string) Event {
	return Event{Type: EventTypeChoiceMade, Data: ChoiceMadePayload{UserID: userID, Choice: choice}}
}

// SessionUpdate, RevealChoices and SessionReset always carry the full
// snapshot; the session is cloned so later mutations don't leak into it.
func SessionUpdate(s *models.Session) Event {
	return Event{Type: EventTypeSessionUpdate, Data: s.Clone()}
}

func RevealChoices(s *models.Session) Event {
	return Event{Type: EventTypeRevealChoices, Data: s.Clone()}
}

func SessionReset(s *models.Session) Event {
	return Event{Type: EventTypeSessionReset, Data: s.Clone()}
}

func SessionDeleted(sessionID string) Event {
	return Event{Type: EventTypeSessionDeleted, Data: SessionDeletedPayload{SessionID: sessionID}}
}

func Error(message string) Event {
	return Event{Type: EventTypeError, Data: ErrorPayload{Message: message}}
}
