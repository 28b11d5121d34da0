package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// ErrInvalidCommand wraps validation failures for inbound commands.
var ErrInvalidCommand = errors.New("invalid command")

var validate = newValidator()

// newValidator reports fields by their wire names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Command is the closed set of session mutations: Join, UpdateProfile,
// MakeChoice, Reveal and Reset.
type Command interface {
	Session() string
	command()
}

// Join adds a participant, or refreshes the profile of one that already joined.
type Join struct {
	SessionID string  `json:"sessionId" validate:"required,max=64"`
	UserID    string  `json:"userId" validate:"required,max=128"`
	Name      string  `json:"name" validate:"max=100"`
	Email     string  `json:"email" validate:"max=254"`
	Color     *string `json:"color,omitempty" validate:"omitempty,max=32"`
}

// UpdateProfile changes a participant's display fields. A nil Color leaves
// the stored color untouched; a non-nil empty Color clears it.
type UpdateProfile struct {
	SessionID string  `json:"sessionId" validate:"required,max=64"`
	UserID    string  `json:"userId" validate:"required,max=128"`
	Name      string  `json:"name" validate:"max=100"`
	Email     string  `json:"email" validate:"max=254"`
	Color     *string `json:"color,omitempty" validate:"omitempty,max=32"`
}

// MakeChoice records a participant's estimate. Choice must be present but
// may be empty.
type MakeChoice struct {
	SessionID string  `json:"sessionId" validate:"required,max=64"`
	UserID    string  `json:"userId" validate:"required,max=128"`
	Choice    *string `json:"choice" validate:"required"`
}

// Reveal makes every choice visible regardless of who has chosen.
type Reveal struct {
	SessionID string `json:"sessionId" validate:"required,max=64"`
}

// Reset clears every choice and hides the board again.
type Reset struct {
	SessionID string `json:"sessionId" validate:"required,max=64"`
}

func (c Join) Session() string          { return c.SessionID }
func (c UpdateProfile) Session() string { return c.SessionID }
func (c MakeChoice) Session() string    { return c.SessionID }
func (c Reveal) Session() string        { return c.SessionID }
func (c Reset) Session() string         { return c.SessionID }

func (Join) command()          {}
func (UpdateProfile) command() {}
func (MakeChoice) command()    {}
func (Reveal) command()        {}
func (Reset) command()         {}

// Validate checks the required fields of a command.
func Validate(cmd Command) error {
	if cmd == nil {
		return fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	problems := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
		if fe.Param() != "" {
			return fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s is %s", fe.Field(), fe.Tag())
	})
	return fmt.Errorf("%w: %s", ErrInvalidCommand, strings.Join(problems, ", "))
}
