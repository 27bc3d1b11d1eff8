// Package apperr defines the error taxonomy shared by the sync and
// lifecycle layers.
//
// Every failure that crosses a package boundary is classified as one of
// the sentinel errors below. Callers match with errors.Is; the concrete
// cause stays reachable through Unwrap.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed or missing required fields,
	// and for foreign-key violations reported by the remote store.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned for optimistic-lock mismatches, uniqueness
	// violations, and deletions blocked by active references.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when an entity is absent or already deleted.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned when the remote store rejects an
	// operation for authorization reasons.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInsufficientBalance is returned when a ledger posting would take
	// an account below zero and negative balances are disallowed.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidStatusTransition is returned when a document status change
	// is not permitted by the lifecycle state machine.
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrNetwork is returned for transient connectivity failures and
	// timeouts. This is the only class the sync queue retries automatically.
	ErrNetwork = errors.New("network unavailable")
)

// Error wraps a failure with the operation that produced it.
type Error struct {
	// Op is the operation that failed (e.g., "CreateDocument", "DrainAll").
	Op string

	// Err is the underlying error, normally one of the sentinels above or
	// something wrapping one.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error matching against the wrapped error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates an Error for the given operation.
func New(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// Wrap wraps err as an Error unless it already is one. Returns nil for a
// nil err.
func Wrap(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return New(op, err, details)
}

// Retryable reports whether err belongs to the transient class that the
// sync queue may replay automatically.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
