// Package errs defines the error kinds every governed operation reports.
//
// Kinds are stable and user-visible; messages are informational only. Callers
// classify errors with errors.Is against the sentinel values or with KindOf.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindConflict
	KindFrozen
	KindNotFound
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindFrozen:
		return "frozen"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated, Message: "authentication required"}
	ErrForbidden       = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrConflict        = &Error{Kind: KindConflict, Message: "conflict"}
	ErrFrozen          = &Error{Kind: KindFrozen, Message: "resource is frozen"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrValidation      = &Error{Kind: KindValidation, Message: "validation failed"}
)

// FieldError is used to indicate an error with a specific input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Cause   error
}

func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Kind.String())
	sb.WriteString(": ")
	sb.WriteString(e.Message)

	for _, f := range e.Fields {
		fmt.Fprintf(&sb, "; %s: %s", f.Field, f.Error)
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind so wrapped domain errors compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(format string, args ...any) error {
	return newf(KindUnauthenticated, format, args...)
}

func Forbidden(format string, args ...any) error {
	return newf(KindForbidden, format, args...)
}

func Conflict(format string, args ...any) error {
	return newf(KindConflict, format, args...)
}

// InvalidTransition reports a state machine move that is not permitted from the current state.
func InvalidTransition(from, to string) error {
	return newf(KindConflict, "invalid transition from %s to %s", from, to)
}

func Frozen(format string, args ...any) error {
	return newf(KindFrozen, format, args...)
}

func NotFound(format string, args ...any) error {
	return newf(KindNotFound, format, args...)
}

func Validation(format string, args ...any) error {
	return newf(KindValidation, format, args...)
}

// ValidationFields reports per-field problems.
func ValidationFields(fields ...FieldError) error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// Wrap attaches a domain kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) error {
	e := newf(kind, format, args...)
	e.Cause = err

	return e
}

// KindOf returns the kind of the first domain error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// IsDomain reports whether err carries a domain kind.
func IsDomain(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
