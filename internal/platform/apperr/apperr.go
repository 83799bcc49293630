package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict signals a lost optimistic-concurrency race.
	ErrConflict = errors.New("conflict")
	// ErrQuotaExhausted signals that no funding source can pay for a request.
	ErrQuotaExhausted = errors.New("quota exhausted")
	// ErrOutOfOrder signals a state-machine consistency violation, such as
	// advancing a step while an earlier step has not succeeded.
	ErrOutOfOrder = errors.New("out-of-order transition")
	// ErrAlreadySettled signals a repeated settlement for the same job.
	ErrAlreadySettled = errors.New("already settled")
)

// PermanentError wraps a processing failure that must not be retried
// (malformed source, provider-reported unrecoverable error).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Permanentf formats a non-retryable error.
func Permanentf(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err (or anything it wraps) was marked permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
