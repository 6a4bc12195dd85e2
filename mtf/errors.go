package mtf

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies tracking failures
type ErrorKind int

const (
	// KindConfiguration marks malformed or inconsistent parameters. Raised at construction.
	KindConfiguration ErrorKind = iota + 1
	// KindLogic marks internal invariants that can not be satisfied by the given parameters.
	KindLogic
	// KindNumeric marks singular systems and degenerate features. Fatal for one frame only.
	KindNumeric
	// KindIO marks missing, corrupt or mismatched persisted data.
	KindIO
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindLogic:
		return "logic"
	case KindNumeric:
		return "numeric"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

var (
	// ErrConfiguration matches every configuration error via errors.Is
	ErrConfiguration = &Error{Kind: KindConfiguration}
	// ErrLogic matches every logic error via errors.Is
	ErrLogic = &Error{Kind: KindLogic}
	// ErrNumeric matches every numeric error via errors.Is
	ErrNumeric = &Error{Kind: KindNumeric}
	// ErrIO matches every IO error via errors.Is
	ErrIO = &Error{Kind: KindIO}
)

// Error carries the failure kind together with the component and the check which failed.
//
// The underlying error (if any) can be accessed via errors.Unwrap.
type Error struct {
	Kind      ErrorKind
	Component string
	Check     string
	cause     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Component != "" {
		msg += " in " + e.Component
	}
	if e.Check != "" {
		msg += ": " + e.Check
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Cause makes Error play well with errors.Cause from github.com/pkg/errors
func (e *Error) Cause() error { return e.cause }

// Is matches sentinel values by kind only
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Component == "" && t.Check == "" && t.cause == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

func newError(kind ErrorKind, component, check string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Check: check, cause: cause}
}

// NewConfigurationError builds configuration error for the given component
func NewConfigurationError(component, format string, args ...any) error {
	return newError(KindConfiguration, component, fmt.Sprintf(format, args...), nil)
}

// NewLogicError builds logic error for the given component
func NewLogicError(component, format string, args ...any) error {
	return newError(KindLogic, component, fmt.Sprintf(format, args...), nil)
}

// NewNumericError builds numeric error for the given component
func NewNumericError(component, format string, args ...any) error {
	return newError(KindNumeric, component, fmt.Sprintf(format, args...), nil)
}

// NewIOError builds IO error wrapping the cause (may be nil)
func NewIOError(component string, cause error, format string, args ...any) error {
	return newError(KindIO, component, fmt.Sprintf(format, args...), cause)
}

// KindOf returns the kind of the first *Error found in the chain, zero if none
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
