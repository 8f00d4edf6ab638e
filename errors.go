package tempo

import (
	"errors"
	"fmt"
)

var (
	// Broker errors.
	ErrNoBroker   = errors.New("tempo: no broker configured")
	ErrConnection = errors.New("tempo: broker connection failed")
	ErrTransport  = errors.New("tempo: broker transport error")

	// Queue results. These are outcomes, not failures.
	ErrEmpty = errors.New("tempo: queue empty")
	ErrMiss  = errors.New("tempo: cache miss")

	// Validation errors.
	ErrValidation  = errors.New("tempo: validation failed")
	ErrUnknownKind = errors.New("tempo: unknown job kind")

	// Not found errors.
	ErrJobNotFound      = errors.New("tempo: job not found")
	ErrDeadNotFound     = errors.New("tempo: dead job not found")
	ErrScheduleNotFound = errors.New("tempo: schedule entry not found")

	// Cluster errors.
	ErrLockLost = errors.New("tempo: lock lost")
	ErrLockHeld = errors.New("tempo: lock held by another owner")
)

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// HandlerFailure is a business-logic failure raised by a job handler. It is
// the only error class that feeds the retry policy.
type HandlerFailure struct {
	Kind  string
	JobID string
	Err   error
}

func (e *HandlerFailure) Error() string {
	return fmt.Sprintf("tempo: job %s (%s) failed: %v", e.JobID, e.Kind, e.Err)
}

func (e *HandlerFailure) Unwrap() error { return e.Err }

// discardError marks a handler error as terminal.
type discardError struct{ err error }

func (e *discardError) Error() string {
	if e.err == nil {
		return "tempo: job discarded"
	}
	return e.err.Error()
}

func (e *discardError) Unwrap() error { return e.err }

// Discard wraps err so the dispatch loop acknowledges the job without
// retrying it. A nil err is allowed.
func Discard(err error) error {
	return &discardError{err: err}
}

// IsDiscard reports whether err (or anything it wraps) was produced by Discard.
func IsDiscard(err error) bool {
	var d *discardError
	return errors.As(err, &d)
}
