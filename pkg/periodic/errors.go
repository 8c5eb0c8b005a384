package periodic

import (
	"errors"
	"fmt"
	"time"
)

var ErrNilTask = errors.New("periodic: task is nil")

// ConfigError reports an invalid construction argument.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("periodic: invalid config: %s %s", e.Field, e.Reason)
}

// TimeoutError is the attempt failure produced when TaskTimeout elapses
// before the task returns.
type TimeoutError struct {
	Timeout time.Duration
	// Err is the task's own error when it noticed the deadline first.
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// PanicError is the attempt failure produced when the task panics.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }

// TerminalError wraps the failure of the last permitted attempt of a cycle.
type TerminalError struct {
	Err        error
	Attempts   int
	MaxRetries int
	LogTag     string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("task %q failed after %d/%d attempts: %v", e.LogTag, e.Attempts, e.MaxRetries, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// NoRetry marks an error as non-retryable: the cycle fails terminally on the
// attempt that returned it.
//
// Example:
//
//	return periodic.NoRetry(fmt.Errorf("bad credentials: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter overrides the backoff delay before the next attempt, e.g. with a
// downstream Retry-After value.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }

// unwrapMarkers strips NoRetry/RetryAfter wrappers so callbacks see the task's error.
func unwrapMarkers(err error) error {
	for {
		switch e := err.(type) {
		case noRetryError:
			err = e.err
		case retryAfterError:
			err = e.err
		default:
			return err
		}
	}
}
