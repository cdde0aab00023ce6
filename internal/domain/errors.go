// Package domain provides shared domain-level error kinds.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a missing or malformed input field.
var ErrValidation = errors.New("validation failed")

// ErrUnauthenticated indicates the caller presented no usable identity.
var ErrUnauthenticated = errors.New("authentication required")

// ErrForbidden indicates an authenticated caller lacks permission.
var ErrForbidden = errors.New("forbidden")

// ErrState indicates the entity is not in a state that allows the operation.
var ErrState = errors.New("invalid state")

// Error pairs an error kind with the message shown to the caller.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Unwrap lets errors.Is match on the kind.
func (e *Error) Unwrap() error { return e.Kind }

// Errorf builds an Error of the given kind with a formatted message.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Message returns the caller-facing message of the first Error in err's chain,
// or fallback when there is none.
func Message(err error, fallback string) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Msg
	}
	return fallback
}
