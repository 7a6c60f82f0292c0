// Package errs defines the error kinds shared by the store, the services and the
// HTTP layer. Callers branch on the kind; the message is for humans only.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for callers and for mapping to transport status codes.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindForbidden
	KindValidation
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Sentinel kinds, usable with errors.Is.
var (
	ErrNotFound    = errors.New(KindNotFound.String())
	ErrConflict    = errors.New(KindConflict.String())
	ErrForbidden   = errors.New(KindForbidden.String())
	ErrValidation  = errors.New(KindValidation.String())
	ErrUnavailable = errors.New(KindUnavailable.String())
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindForbidden:
		return ErrForbidden
	case KindValidation:
		return ErrValidation
	case KindUnavailable:
		return ErrUnavailable
	default:
		return nil
	}
}

// Error is a typed operation error.
// Field and ID carry machine-readable context (which input, which record); Msg must
// never contain secrets.
type Error struct {
	Op    string
	Kind  Kind
	Field string
	ID    string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Field != "" {
		fmt.Fprintf(&b, " [%s]", e.Field)
	}
	if e.ID != "" {
		fmt.Fprintf(&b, " (id=%s)", e.ID)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func NotFound(op, field, id string) error {
	return &Error{Op: op, Kind: KindNotFound, Field: field, ID: id}
}

func Conflict(op, field, msg string) error {
	return &Error{Op: op, Kind: KindConflict, Field: field, Msg: msg}
}

func Forbidden(op, msg string) error {
	return &Error{Op: op, Kind: KindForbidden, Msg: msg}
}

func Validation(op, field, msg string) error {
	return &Error{Op: op, Kind: KindValidation, Field: field, Msg: msg}
}

func Unavailable(op string, cause error) error {
	return &Error{Op: op, Kind: KindUnavailable, Msg: "store unavailable, retry later", Err: cause}
}

// WithID returns a copy of err with ID set when err is an *Error; other errors pass through.
func WithID(err error, id string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	cp := *e
	cp.ID = id
	return &cp
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the caller may retry the same operation unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsForbidden(err error) bool  { return errors.Is(err, ErrForbidden) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
