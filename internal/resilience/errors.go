package resilience

import (
	"context"
	"errors"
)

var (
	// ErrPermanent marks an error that must not be retried.
	ErrPermanent = errors.New("permanent error")
	// ErrServiceUnavailable is returned when an operation's breaker is open.
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
	// ErrRetriesExhausted wraps the last error after the final attempt.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// transient is implemented by errors that know whether they are retryable.
type transient interface {
	Transient() bool
}

// Permanent wraps err so that Retry stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{e.err, ErrPermanent} }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, context.Canceled) {
		return false
	}
	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	return true
}
