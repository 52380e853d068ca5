package execution

import (
	"errors"
	"fmt"
)

// Store-level sentinels. They never reach API callers directly; the
// lifecycle controller translates them into *Error values.
var (
	ErrRecordNotFound     = errors.New("execution record not found")
	ErrVersionMismatch    = errors.New("execution record version mismatch")
	ErrNaturalKeyConflict = errors.New("execution natural key already taken")
)

// ErrorKind is the stable, machine-readable category of a rejection.
type ErrorKind string

const (
	KindForbidden           ErrorKind = "forbidden"
	KindInvalidTransition   ErrorKind = "invalid_transition"
	KindStaleWrite          ErrorKind = "stale_write"
	KindAllocationExhausted ErrorKind = "allocation_exhausted"
	KindNotFound            ErrorKind = "not_found"
	KindValidation          ErrorKind = "validation"
)

// Error is a rejection surfaced to callers of the lifecycle operations.
type Error struct {
	Kind   ErrorKind
	Reason string

	// Current is the freshest stored record, set on stale writes.
	Current *Record
}

// Kind-only sentinels for use with errors.Is.
var (
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrStaleWrite          = &Error{Kind: KindStaleWrite}
	ErrAllocationExhausted = &Error{Kind: KindAllocationExhausted}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrValidation          = &Error{Kind: KindValidation}
)

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}
