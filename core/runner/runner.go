// Package runner executes a fallible action continuously until cancelled,
// applying a retry policy between failed attempts. It backs long-lived
// polling loops that must survive transient outages without busy-looping
// against a remote service.
package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/farmbus/core/logger"
	"github.com/dmitrymomot/farmbus/core/retry"
)

// Handle represents a running continuous loop. It resolves when the loop
// terminates: nil when cancelled, or the aggregate of accumulated failures
// when the retry policy gave up.
type Handle struct {
	done chan struct{}
	err  error
}

// Await blocks until the loop terminates and returns its result.
func (h *Handle) Await() error {
	<-h.done
	return h.err
}

// AwaitWithTimeout waits for the loop to terminate for at most timeout.
// Returns ErrAwaitTimeout if the loop is still running when it elapses.
func (h *Handle) AwaitWithTimeout(timeout time.Duration) error {
	select {
	case <-h.done:
		return h.err
	case <-time.After(timeout):
		return ErrAwaitTimeout
	}
}

// Done returns a channel that is closed when the loop terminates.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Option configures a continuous run.
type Option func(*options)

type options struct {
	name   string
	logger *slog.Logger
}

// WithLogger configures structured logging for the run.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithName tags log records emitted by the run with a component name.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// Start launches action in a dedicated goroutine and runs it repeatedly until
// ctx is cancelled or policy declines a retry.
//
// A successful invocation resets the consecutive-failure count and discards
// previously accumulated failures. A failed invocation records the failure
// and consults policy: on stop, the loop terminates and Await returns every
// accumulated failure joined into one error; on continue, the loop sleeps for
// the computed delay. The sleep is interruptible, so cancellation mid-delay
// takes effect promptly. Cancellation during the action itself is the
// action's own responsibility to observe.
func Start(ctx context.Context, action func() error, policy retry.Policy, opts ...Option) *Handle {
	o := &options{
		name:   "runner",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	log := o.logger.With(logger.Component(o.name))

	h := &Handle{done: make(chan struct{})}

	go func() {
		defer close(h.done)

		var (
			failures int
			errs     []error
		)

		for {
			if ctx.Err() != nil {
				log.DebugContext(context.Background(), "continuous run cancelled")
				return
			}

			if err := action(); err != nil {
				failures++
				errs = append(errs, err)

				ok, delay := policy.ShouldRetry(failures, err)
				if !ok {
					h.err = errors.Join(errs...)
					log.ErrorContext(context.Background(), "continuous run gave up",
						logger.RetryCount(failures),
						logger.Error(h.err))
					return
				}

				log.WarnContext(context.Background(), "action failed, retrying",
					logger.RetryCount(failures),
					slog.Duration("delay", delay),
					logger.Error(err))

				if !sleep(ctx, delay) {
					log.DebugContext(context.Background(), "continuous run cancelled during retry delay")
					return
				}
				continue
			}

			if failures > 0 {
				log.InfoContext(context.Background(), "action recovered",
					logger.RetryCount(failures))
			}
			failures = 0
			errs = nil
		}
	}()

	return h
}

// sleep waits for d or until ctx is cancelled. Returns false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
