// Package pipeline exposes the application-facing send/receive surface for
// cross-node event propagation. Sends and received messages fan through
// bounded-concurrency stages; a continuous runner polls the endpoint for
// inbound messages and survives transient outages with growing backoff.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/farmbus/core/logger"
	"github.com/dmitrymomot/farmbus/core/message"
	"github.com/dmitrymomot/farmbus/core/retry"
	"github.com/dmitrymomot/farmbus/core/runner"
)

const (
	// Service ceilings for a single receive poll.
	maxReceiveWait      = 20 * time.Second
	maxReceiveBatchSize = 10

	// Default backoff for the continuous receive loop. Receiving is expected
	// to be nearly always available; the loop must degrade gracefully during
	// outages instead of hot-looping against the remote service.
	receiveRetryInitial   = 5 * time.Second
	receiveRetryIncrement = 15 * time.Second
)

// Endpoint is the transport the pipeline drives: one node's handle on the
// pub/sub backbone.
type Endpoint interface {
	// Publish sends a message to the shared topic.
	Publish(ctx context.Context, msg message.Message) error

	// Receive pulls up to max messages, waiting up to wait for at least one.
	// An empty batch is not an error.
	Receive(ctx context.Context, wait time.Duration, max int) ([]message.Message, error)

	// Close releases the endpoint's resources.
	Close(ctx context.Context) error
}

// Handler is the application callback invoked for each received message.
type Handler func(message.Message)

// Pipeline fans outbound messages through a bounded send stage and inbound
// messages through a bounded dispatch stage, driving a continuous receive
// loop in between. Safe for concurrent use.
type Pipeline struct {
	endpoint      Endpoint
	log           *slog.Logger
	cfg           Config
	receivePolicy retry.Policy

	mu            sync.RWMutex
	started       bool
	handlers      []Handler
	cancel        context.CancelFunc
	ctx           context.Context
	pubCancel     context.CancelFunc
	pubCtx        context.Context
	sendStage     *stage
	dispatchStage *stage
	receiveHandle *runner.Handle
}

// New creates a pipeline over endpoint. The pipeline is inert until Start.
func New(endpoint Endpoint, opts ...Option) (*Pipeline, error) {
	if endpoint == nil {
		return nil, ErrNilEndpoint
	}

	p := &Pipeline{
		endpoint: endpoint,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)), // No-op logger by default
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.receivePolicy == nil {
		// Validated constants, construction cannot fail.
		p.receivePolicy, _ = retry.NewInfinite(receiveRetryInitial, receiveRetryIncrement)
	}
	if p.cfg.ReceiveWait <= 0 || p.cfg.ReceiveWait > maxReceiveWait {
		p.cfg.ReceiveWait = maxReceiveWait
	}
	if p.cfg.ReceiveBatchSize <= 0 || p.cfg.ReceiveBatchSize > maxReceiveBatchSize {
		p.cfg.ReceiveBatchSize = maxReceiveBatchSize
	}

	return p, nil
}

// NewFromConfig creates a pipeline from configuration. Additional options
// override config values.
func NewFromConfig(cfg Config, endpoint Endpoint, opts ...Option) (*Pipeline, error) {
	allOpts := append([]Option{
		WithSendWorkers(cfg.SendWorkers),
		WithReceiveWorkers(cfg.ReceiveWorkers),
		WithSendBuffer(cfg.SendBuffer),
		WithReceiveBuffer(cfg.ReceiveBuffer),
		WithReceiveWait(cfg.ReceiveWait),
		WithReceiveBatchSize(cfg.ReceiveBatchSize),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}, opts...)

	return New(endpoint, allOpts...)
}

// OnMessage registers a callback invoked for every received message.
// Callbacks run on the receive-dispatch stage; a panicking callback is
// isolated and logged, never crashing the receive loop.
func (p *Pipeline) OnMessage(fn Handler) {
	if fn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, fn)
}

// Start brings up both stages and launches the continuous receive loop.
// Returns ErrAlreadyStarted on a running pipeline.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	// Publishes run under their own context so queued sends survive the
	// receive-loop cancellation during Stop and drain within the shutdown
	// timeout instead of failing with context.Canceled.
	p.pubCtx, p.pubCancel = context.WithCancel(context.Background())
	p.sendStage = newStage("send", p.cfg.SendWorkers, p.cfg.SendBuffer, p.log)
	p.dispatchStage = newStage("dispatch", p.cfg.ReceiveWorkers, p.cfg.ReceiveBuffer, p.log)

	p.receiveHandle = runner.Start(p.ctx, p.receiveOnce, p.receivePolicy,
		runner.WithLogger(p.log),
		runner.WithName("receive-loop"))

	p.started = true

	p.log.InfoContext(p.ctx, "pipeline started",
		logger.Count("send_workers", p.cfg.SendWorkers),
		logger.Count("receive_workers", p.cfg.ReceiveWorkers))
	return nil
}

// Send enqueues a message onto the send stage. The message is published in
// the background; publish failures are logged, never returned. When the
// stage is saturated the message is dropped and ErrSendBufferFull returned
// so callers are warned rather than blocked.
func (p *Pipeline) Send(msg message.Message) error {
	p.mu.RLock()
	started := p.started
	sendStage := p.sendStage
	ctx := p.pubCtx
	p.mu.RUnlock()

	if !started {
		return ErrNotStarted
	}

	ok := sendStage.tryDispatch(func() {
		if err := p.endpoint.Publish(ctx, msg); err != nil {
			// Fire-and-forget: delivery confirmation is a caller concern.
			p.log.WarnContext(ctx, "failed to publish message",
				logger.EventID(msg.EventID.String()),
				logger.Sequence(msg.Sequence),
				logger.Error(err))
		}
	})
	if !ok {
		p.log.WarnContext(ctx, "send stage saturated, dropping message",
			logger.EventID(msg.EventID.String()),
			logger.Sequence(msg.Sequence))
		return ErrSendBufferFull
	}
	return nil
}

// Stop cancels the receive loop, drains both stages within the shutdown
// timeout, and closes the endpoint. After Stop the pipeline behaves as
// before Start.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.started = false
	cancel := p.cancel
	pubCancel := p.pubCancel
	sendStage := p.sendStage
	dispatchStage := p.dispatchStage
	receiveHandle := p.receiveHandle
	p.mu.Unlock()

	// Cancellation first: the receive loop stops after its current
	// iteration and blocked dispatches unblock before the stages close.
	// The publish context stays live so queued sends still go out.
	cancel()

	if err := receiveHandle.AwaitWithTimeout(p.cfg.ShutdownTimeout); err != nil {
		p.log.Warn("receive loop did not stop cleanly", logger.Error(err))
	}

	if err := sendStage.close(p.cfg.ShutdownTimeout); err != nil {
		p.log.Warn("send stage shutdown timed out, abandoning queued work", logger.Error(err))
	}
	// Accepted sends have drained (or been abandoned on timeout); release
	// any publish still in flight.
	pubCancel()

	if err := dispatchStage.close(p.cfg.ShutdownTimeout); err != nil {
		p.log.Warn("dispatch stage shutdown timed out, abandoning queued work", logger.Error(err))
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), p.cfg.ShutdownTimeout)
	defer closeCancel()
	if err := p.endpoint.Close(closeCtx); err != nil {
		p.log.Error("failed to close endpoint", logger.Error(err))
		return err
	}

	p.log.Info("pipeline stopped")
	return nil
}

// receiveOnce is one iteration of the continuous receive loop: poll the
// endpoint, hand every message to the dispatch stage.
func (p *Pipeline) receiveOnce() error {
	msgs, err := p.endpoint.Receive(p.ctx, p.cfg.ReceiveWait, p.cfg.ReceiveBatchSize)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		m := msg
		if !p.dispatchStage.dispatch(p.ctx, func() { p.deliver(m) }) {
			// Only happens during shutdown; the message was already pulled
			// from the queue and is lost to this node.
			p.log.Warn("dispatch stage unavailable, message not delivered",
				logger.EventID(m.EventID.String()))
		}
	}
	return nil
}

func (p *Pipeline) deliver(msg message.Message) {
	p.mu.RLock()
	handlers := p.handlers
	p.mu.RUnlock()

	if len(handlers) == 0 {
		p.log.Debug("no message handlers registered",
			logger.EventID(msg.EventID.String()))
		return
	}

	for _, fn := range handlers {
		fn(msg)
	}
}
