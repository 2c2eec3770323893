package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: previous run still active")
)

// taskError decorates a task error with a retry decision.
type taskError struct {
	err       error
	permanent bool
	after     time.Duration
}

func (e *taskError) Error() string {
	if e.permanent {
		return "permanent: " + e.err.Error()
	}
	return fmt.Sprintf("%v (retry in %s)", e.err, e.after)
}

func (e *taskError) Unwrap() error { return e.err }

// NoRetry fails the run on the first attempt. A refresh that cannot reach the
// calendar waits for its next trigger instead of hammering the feed.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &taskError{err: err, permanent: true}
}

func IsNoRetry(err error) bool {
	var te *taskError
	return errors.As(err, &te) && te.permanent
}

// RetryAfter overrides the backoff for the next attempt. RetryMaxDelay still caps it.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &taskError{err: err, after: max(after, 0)}
}

// RetryAfterError is satisfied by errors that carry their own retry hint.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

func (e *taskError) RetryAfter() time.Duration { return e.after }

// unwrapTask strips the retry decoration so callers see the task's own error.
func unwrapTask(err error) error {
	var te *taskError
	if errors.As(err, &te) {
		return te.err
	}
	return err
}
