// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Handlers raise kinds directly; the sync
// engine uses them to decide whether a retry can change the outcome.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindNotAFile         Kind = "not_a_file"
	KindInvalidReference Kind = "invalid_reference"
	KindAlreadyExists    Kind = "already_exists"
	KindCheckoutConflict Kind = "checkout_conflict"
	KindDirtyWorkdir     Kind = "dirty_workdir"
	KindInUse            Kind = "in_use"
	KindPermissionDenied Kind = "permission_denied"
	KindNetworkFailure   Kind = "network_failure"
	KindInvalidState     Kind = "invalid_state"
)

// Error carries a kind, a human-readable message, and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, or "" if err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the failure is transient. Only network failures
// are worth retrying; validation, permission, and state errors cannot change
// the outcome on a second attempt. Errors with no kind are treated as
// transient store errors.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindNetworkFailure:
		return true
	case "":
		return true
	default:
		return false
	}
}
