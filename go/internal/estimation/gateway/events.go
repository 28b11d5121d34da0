package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/pointing/go/internal/estimation/engine"
)

// ErrInvalidMessage wraps frames that cannot be turned into a command.
var ErrInvalidMessage = errors.New("invalid message")

// ClientMessage is the inbound envelope.
type ClientMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MessageType names an inbound client event
type MessageType string

const (
	MessageTypeJoinSession   MessageType = "joinSession"
	MessageTypeUpdateUser    MessageType = "updateUser"
	MessageTypeMakeChoice    MessageType = "makeChoice"
	MessageTypeRevealChoices MessageType = "revealChoices"
	MessageTypeResetSession  MessageType = "resetSession"
)

// DecodeCommand parses a client frame into an engine command. Unknown types
// and payloads of the wrong shape are rejected rather than coerced.
func DecodeCommand(raw []byte) (engine.Command, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidMessage)
	}

	data := bytes.TrimSpace(msg.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}

	switch msg.Type {
	case MessageTypeJoinSession:
		return decodePayload[engine.Join](msg.Type, data)
	case MessageTypeUpdateUser:
		return decodePayload[engine.UpdateProfile](msg.Type, data)
	case MessageTypeMakeChoice:
		return decodePayload[engine.MakeChoice](msg.Type, data)
	case MessageTypeRevealChoices:
		return decodePayload[engine.Reveal](msg.Type, data)
	case MessageTypeResetSession:
		return decodePayload[engine.Reset](msg.Type, data)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}
}

func decodePayload[T engine.Command](msgType MessageType, data []byte) (engine.Command, error) {
	var cmd T
	if err := json.Unmarshal(data, &cmd); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, fmt.Errorf("%w: %s.%s must be a %s", ErrInvalidMessage, msgType, typeErr.Field, typeErr.Type)
		}
		return nil, fmt.Errorf("%w: bad %s payload", ErrInvalidMessage, msgType)
	}
	return cmd, nil
}

// bindIdentity fills the session and user of a command from the
// connection's registration. A command naming a different session or user
// than the one the connection joined as is rejected.
func bindIdentity(cmd engine.Command, sessionID, userID string) (engine.Command, error) {
	pick := func(claimed, bound string) (string, error) {
		if claimed != "" && claimed != bound {
			return "", ErrAlreadyRegistered
		}
		return bound, nil
	}

	var err, userErr error
	switch c := cmd.(type) {
	case engine.Join:
		c.SessionID, err = pick(c.SessionID, sessionID)
		c.UserID, userErr = pick(c.UserID, userID)
		cmd = c
	case engine.UpdateProfile:
		c.SessionID, err = pick(c.SessionID, sessionID)
		c.UserID, userErr = pick(c.UserID, userID)
		cmd = c
	case engine.MakeChoice:
		c.SessionID, err = pick(c.SessionID, sessionID)
		c.UserID, userErr = pick(c.UserID, userID)
		cmd = c
	case engine.Reveal:
		c.SessionID, err = pick(c.SessionID, sessionID)
		cmd = c
	case engine.Reset:
		c.SessionID, err = pick(c.SessionID, sessionID)
		cmd = c
	}
	if err != nil || userErr != nil {
		return nil, ErrAlreadyRegistered
	}
	return cmd, nil
}
