package queue

import (
	"errors"
	"fmt"
)

// ErrJobAlreadyExists is returned by a store when a job with the same ID is
// already waiting or active on the queue. Queue.Enqueue converts this into an
// idempotent no-op.
var ErrJobAlreadyExists = errors.New("queue: job already exists")

// ErrJobNotFound is returned when a job ID cannot be resolved.
var ErrJobNotFound = errors.New("queue: job not found")

// ErrUnknownJobName is returned when a worker dequeues a job whose name has no
// registered handler. This is a fatal handler error and is never retried.
var ErrUnknownJobName = errors.New("queue: unknown job name")

// unrecoverableError marks a failure that retrying cannot fix (validation
// errors, unknown job names). The worker fails the job immediately instead of
// consuming the remaining attempt budget.
type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string { return e.err.Error() }
func (e *unrecoverableError) Unwrap() error { return e.err }

// Unrecoverable wraps err so the worker skips retries for it.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

// Unrecoverablef formats an unrecoverable error.
func Unrecoverablef(format string, args ...any) error {
	return Unrecoverable(fmt.Errorf(format, args...))
}

// IsUnrecoverable reports whether err was marked with Unrecoverable.
func IsUnrecoverable(err error) bool {
	var ue *unrecoverableError
	return errors.As(err, &ue)
}
