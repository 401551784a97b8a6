package pipeline

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/farmbus/core/retry"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger configures structured logging for the pipeline.
// Use slog.New(slog.NewTextHandler(io.Discard, nil)) to disable logging.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithSendWorkers sets the send stage worker count. Default is 1.
func WithSendWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.cfg.SendWorkers = n
		}
	}
}

// WithReceiveWorkers sets the receive-dispatch stage worker count. Default is 1.
func WithReceiveWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.cfg.ReceiveWorkers = n
		}
	}
}

// WithSendBuffer sets the send stage queue capacity.
func WithSendBuffer(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.cfg.SendBuffer = n
		}
	}
}

// WithReceiveBuffer sets the receive-dispatch stage queue capacity.
func WithReceiveBuffer(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.cfg.ReceiveBuffer = n
		}
	}
}

// WithReceiveWait sets how long a single receive poll waits for messages.
// Capped at the 20s service ceiling.
func WithReceiveWait(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.cfg.ReceiveWait = d
		}
	}
}

// WithReceiveBatchSize sets the maximum messages pulled per poll.
// Capped at the service ceiling of 10.
func WithReceiveBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.cfg.ReceiveBatchSize = n
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for in-flight stage work
// before abandoning it.
func WithShutdownTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.cfg.ShutdownTimeout = d
		}
	}
}

// WithReceivePolicy overrides the retry policy governing the continuous
// receive loop. The default never gives up, backing off 5s plus 15s per
// consecutive failure.
func WithReceivePolicy(policy retry.Policy) Option {
	return func(p *Pipeline) {
		if policy != nil {
			p.receivePolicy = policy
		}
	}
}
