// Package fault classifies errors by kind so callers can branch on the
// outcome of an operation without depending on which layer produced it.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the classification of a failure.
type Kind int

const (
	Unknown Kind = iota
	InvalidID
	NotFound
	MalformedScript
	InvalidReference
	TemplateRender
	TemplateResource
	AlreadyHeld
	NotOwner
	Timeout
	NoCapacity
	NoSuchSession
	AssertionFailed
	BadLocator
	UnboundVariable
	CommandFailed
	GridUnreachable
)

func (k Kind) String() string {
	switch k {
	case InvalidID:
		return "invalid_id"
	case NotFound:
		return "not_found"
	case MalformedScript:
		return "malformed_script"
	case InvalidReference:
		return "invalid_reference"
	case TemplateRender:
		return "template_render"
	case TemplateResource:
		return "template_resource"
	case AlreadyHeld:
		return "already_held"
	case NotOwner:
		return "not_owner"
	case Timeout:
		return "timeout"
	case NoCapacity:
		return "no_capacity"
	case NoSuchSession:
		return "no_such_session"
	case AssertionFailed:
		return "assertion_failed"
	case BadLocator:
		return "bad_locator"
	case UnboundVariable:
		return "unbound_variable"
	case CommandFailed:
		return "command_failed"
	case GridUnreachable:
		return "grid_unreachable"
	default:
		return "unknown"
	}
}

// Error is an error carrying a Kind, an optional message, and an optional
// wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind.
func New(k Kind, msg string) error {
	return &Error{Kind: k, Msg: msg}
}

// Errorf returns an error of the given kind with a formatted message.
func Errorf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and a message prefix. Returns nil if err
// is nil.
func Wrap(k Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Msg: msg, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
