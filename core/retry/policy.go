// Package retry provides pluggable retry decision policies for fallible
// operations. A Policy maps the number of consecutive failures (and the last
// failure itself) to a retry-or-stop decision plus a wait duration, keeping
// the decision logic separate from the loop that executes the operation.
package retry

import (
	"fmt"
	"time"
)

// Policy decides whether a failed operation should be attempted again.
// failureCount is the number of consecutive failures observed so far,
// including the one that triggered this call; lastErr is the most recent
// failure. When the first return value is false the delay is meaningless.
type Policy interface {
	ShouldRetry(failureCount int, lastErr error) (bool, time.Duration)
}

// incremental retries a bounded number of times with linearly growing delays.
type incremental struct {
	maxRetries int
	initial    time.Duration
	increment  time.Duration
}

// NewIncremental returns a policy that retries up to maxRetries times,
// waiting initial + failureCount*increment before each attempt.
func NewIncremental(maxRetries int, initial, increment time.Duration) (Policy, error) {
	if maxRetries < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRetryCount, maxRetries)
	}
	if initial < 0 {
		return nil, fmt.Errorf("%w: initial %s", ErrInvalidDelay, initial)
	}
	if increment < 0 {
		return nil, fmt.Errorf("%w: increment %s", ErrInvalidDelay, increment)
	}
	return &incremental{maxRetries: maxRetries, initial: initial, increment: increment}, nil
}

func (p *incremental) ShouldRetry(failureCount int, _ error) (bool, time.Duration) {
	if failureCount > p.maxRetries {
		return false, 0
	}
	return true, p.delay(failureCount)
}

func (p *incremental) delay(failureCount int) time.Duration {
	return p.initial + time.Duration(failureCount)*p.increment
}

// infinite never gives up. Used for loops that must survive arbitrarily long
// outages and only stop on explicit cancellation.
type infinite struct {
	initial   time.Duration
	increment time.Duration
}

// NewInfinite returns a policy that always retries, with the same linear
// delay growth as NewIncremental.
func NewInfinite(initial, increment time.Duration) (Policy, error) {
	if initial < 0 {
		return nil, fmt.Errorf("%w: initial %s", ErrInvalidDelay, initial)
	}
	if increment < 0 {
		return nil, fmt.Errorf("%w: increment %s", ErrInvalidDelay, increment)
	}
	return &infinite{initial: initial, increment: increment}, nil
}

func (p *infinite) ShouldRetry(failureCount int, _ error) (bool, time.Duration) {
	return true, p.initial + time.Duration(failureCount)*p.increment
}

type none struct{}

// None returns a policy that never retries. Useful for fail-fast contexts
// and tests.
func None() Policy {
	return none{}
}

func (none) ShouldRetry(int, error) (bool, time.Duration) {
	return false, 0
}
