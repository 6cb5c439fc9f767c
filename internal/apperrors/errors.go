// Package apperrors defines the error kinds shared by the lobby, engine and
// transport layers so each edge can map failures to its own status codes.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindConcurrency
	KindPersistence
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindConflict:
		return "CONFLICT"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConcurrency:
		return "CONCURRENCY"
	case KindPersistence:
		return "PERSISTENCE"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	default:
		return "INTERNAL"
	}
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConcurrency  = &Error{Kind: KindConcurrency}
	ErrPersistence  = &Error{Kind: KindPersistence}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of Op and Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Transient reports whether the caller may retry the same request later.
func (e *Error) Transient() bool {
	return e.Kind == KindPersistence
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Validation reports a rejected request whose inputs break a rule.
func Validation(op, format string, args ...any) error {
	return newf(KindValidation, op, format, args...)
}

// Conflict reports a request that is legal in general but not in the current state.
func Conflict(op, format string, args ...any) error {
	return newf(KindConflict, op, format, args...)
}

// NotFound reports an unknown lobby, match, card or user.
func NotFound(op, format string, args ...any) error {
	return newf(KindNotFound, op, format, args...)
}

// Concurrency reports a request built against a stale phase or round.
func Concurrency(op, format string, args ...any) error {
	return newf(KindConcurrency, op, format, args...)
}

// Unauthorized reports a missing or invalid identity.
func Unauthorized(op, format string, args ...any) error {
	return newf(KindUnauthorized, op, format, args...)
}

// Persistence wraps a store failure that survived every retry.
func Persistence(op string, err error) error {
	return &Error{Kind: KindPersistence, Op: op, Msg: "state could not be saved", Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the human-readable part of a classified error without
// the operation prefix, falling back to err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
