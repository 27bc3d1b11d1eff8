package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap("UpdateDocument", fmt.Errorf("store says: %w", ErrConflict), "")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected wrapped error to match ErrConflict, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("wrapped error unexpectedly matches ErrNotFound")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap("Op", nil, ""); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapDoesNotDoubleWrap(t *testing.T) {
	inner := New("Inner", ErrValidation, "missing field")
	outer := Wrap("Outer", inner, "")
	if outer != error(inner) {
		t.Errorf("expected Wrap to return the existing *Error unchanged")
	}
}

func TestErrorMessage(t *testing.T) {
	e := New("CreateDocument", ErrValidation, "subtotal mismatch")
	want := "CreateDocument: subtotal mismatch: validation failed"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(fmt.Errorf("dial: %w", ErrNetwork)) {
		t.Errorf("network errors must be retryable")
	}
	if Retryable(ErrConflict) {
		t.Errorf("conflicts must not be retryable")
	}
}
