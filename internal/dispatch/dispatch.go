// Package dispatch runs analysis pipelines off the request path.
//
// Delivery is at-least-once: startup recovery re-enqueues pending records
// whose first dispatch may already have started, so a handler can see the
// same id twice. The record store's forward-only transitions make the
// second run exit at its first status write.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed    = errors.New("dispatch queue closed")
	ErrQueueFull = errors.New("dispatch queue full")
)

// Queue accepts work without waiting for it to run.
type Queue interface {
	Enqueue(ctx context.Context, id string) error
}

// Handler processes one id. Its error is logged and otherwise ignored.
type Handler func(ctx context.Context, id string) error

// Pool is a fixed set of workers reading from a buffered channel. Each run
// gets a context detached from the enqueuing request, bounded by runTimeout.
type Pool struct {
	handler    Handler
	runTimeout time.Duration
	logger     *slog.Logger

	jobs chan string
	g    *errgroup.Group

	mu     sync.RWMutex
	closed bool
}

func NewPool(handler Handler, workers, queueSize int, runTimeout time.Duration, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		handler:    handler,
		runTimeout: runTimeout,
		logger:     logger,
		jobs:       make(chan string, queueSize),
		g:          &errgroup.Group{},
	}
	for range workers {
		p.g.Go(p.work)
	}
	return p
}

// Enqueue hands id to a worker without waiting. When every worker is busy and
// the buffer is full it returns ErrQueueFull at once; the caller leaves the
// record pending for recovery to re-enqueue.
func (p *Pool) Enqueue(_ context.Context, id string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.jobs <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops intake and waits for queued and in-flight runs to finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	return p.g.Wait()
}

func (p *Pool) work() error {
	for id := range p.jobs {
		p.run(id)
	}
	return nil
}

func (p *Pool) run(id string) {
	ctx := context.Background()
	if p.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.runTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline run panicked", "id", id, "panic", r)
		}
	}()

	start := time.Now()
	if err := p.handler(ctx, id); err != nil {
		p.logger.Error("pipeline run failed", "id", id, "error", err, "duration", time.Since(start))
		return
	}
	p.logger.Debug("pipeline run finished", "id", id, "duration", time.Since(start))
}
