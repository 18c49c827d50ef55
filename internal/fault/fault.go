// Package fault defines the tagged error variants shared across the deploy
// pipeline. Producers construct them, the orchestrator and command layer
// inspect them with errors.As instead of type-switching on concrete errors.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Validation marks malformed user input, such as a bad secret token.
	Validation Kind = iota + 1
	// IO marks missing build output or an unreadable archive.
	IO
	// API marks a non-success response from the platform API.
	API
	// Parse marks a stream record that could not be decoded. Never fatal.
	Parse
	// Deployment marks a server-reported failure code inside an event.
	Deployment
	// Stream marks a stream that closed without a terminal event.
	Stream
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case IO:
		return "io"
	case API:
		return "api"
	case Parse:
		return "parse"
	case Deployment:
		return "deployment"
	case Stream:
		return "stream"
	default:
		return "unknown"
	}
}

// Error is a pipeline failure tagged with its kind.
type Error struct {
	Kind    Kind
	Message string
	// Details carries server-provided messages for API failures.
	Details []string
	// Code is the server-reported failure code for Deployment failures.
	Code int
	Err  error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if len(e.Details) > 0 {
		return msg + ": " + strings.Join(e.Details, "; ")
	}
	if e.Err != nil && e.Message != "" {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a fault of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind and a message prefix.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err, or zero when err carries no fault tag.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// Is reports whether err is a fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
