package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation means the input is malformed or oversized; resend with a new token.
	ErrValidation = errors.New("validation error")
	// ErrConflict means a duplicate in-flight submission or an idempotency replay.
	ErrConflict = errors.New("conflict")
	// ErrBusy means the scoring pool is saturated; retry with backoff.
	ErrBusy = errors.New("busy")
	// ErrTimeout means an upload, parse or score step stalled.
	ErrTimeout = errors.New("timeout")
	// ErrInvalidTransition is a state bug and is never shown verbatim to clients.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStorage means a durable write or read failed; retryable.
	ErrStorage  = errors.New("storage failure")
	ErrNotFound = errors.New("not found")

	ErrTooLarge = fmt.Errorf("%w: artifact too large", ErrValidation)
	ErrReplay   = fmt.Errorf("%w: idempotency token already used", ErrConflict)
	ErrInFlight = fmt.Errorf("%w: a submission is already in flight", ErrConflict)
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
