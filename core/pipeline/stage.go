package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/dmitrymomot/farmbus/core/logger"
)

// stage is a bounded-concurrency work queue: a buffered channel drained by a
// fixed set of workers. Each item runs under panic isolation so one bad
// callback cannot take down its worker.
type stage struct {
	name string
	log  *slog.Logger

	ch chan func()
	wg conc.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newStage(name string, workers, buffer int, log *slog.Logger) *stage {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}

	s := &stage{
		name: name,
		log:  log,
		ch:   make(chan func(), buffer),
	}
	for range workers {
		s.wg.Go(s.drain)
	}
	return s
}

func (s *stage) drain() {
	for fn := range s.ch {
		if r := panics.Try(fn); r != nil {
			s.log.Error("panic in stage item",
				logger.Component(s.name),
				slog.Any("panic", r.Value),
				slog.String("stack", string(r.Stack)))
		}
	}
}

// tryDispatch enqueues fn without blocking. Returns false when the stage is
// saturated or closed.
func (s *stage) tryDispatch(fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- fn:
		return true
	default:
		return false
	}
}

// dispatch enqueues fn, blocking until there is room, the stage closes, or
// ctx is cancelled.
func (s *stage) dispatch(ctx context.Context, fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- fn:
		return true
	case <-ctx.Done():
		return false
	}
}

// close stops accepting work and waits up to timeout for the workers to
// finish what is already queued. On timeout the remaining work keeps
// draining in the background but is no longer waited on.
func (s *stage) close(timeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}
