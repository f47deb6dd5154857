package retry

import (
	"errors"
	"strings"
)

var (
	ErrInvalidRequest = errors.New("invalid retry request")
	ErrMissingHistory = errors.New("missing execution history")
)

// Error carries the identifiers that caused a planning failure.
// Kind is ErrInvalidRequest or ErrMissingHistory.
type Error struct {
	Kind        error
	Message     string
	Identifiers []string
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if len(e.Identifiers) > 0 {
		msg += " [" + strings.Join(e.Identifiers, ", ") + "]"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func invalidRequest(message string, identifiers ...string) error {
	return &Error{Kind: ErrInvalidRequest, Message: message, Identifiers: identifiers}
}

func missingHistory(message string, identifiers ...string) error {
	return &Error{Kind: ErrMissingHistory, Message: message, Identifiers: identifiers}
}
