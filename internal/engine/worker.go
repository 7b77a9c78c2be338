package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool bounds how many executions resume concurrently. Distinct
// execution ids may run in parallel; the store's atomic claim keeps any single
// execution on one worker at a time, so the pool needs no per-id affinity.
type WorkerPool struct {
	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	down   chan struct{}
	closed bool
}

// NewWorkerPool creates a pool running at most size tasks at once.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		slots: make(chan struct{}, size),
		down:  make(chan struct{}),
	}
}

// Submit runs fn on the pool. At capacity it blocks for a free slot,
// honoring ctx cancellation while waiting. fn's error is the caller's to
// observe through its own side effects; a panic inside fn is contained to
// its worker goroutine.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.down:
		return ErrPoolShutdown
	}

	// The wg.Add must happen under the lock so Shutdown's wg.Wait cannot
	// miss a task that acquired its slot during the close.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			recover()
			<-p.slots
			p.wg.Done()
		}()
		_ = fn(ctx)
	}()

	return nil
}

// Wait blocks until every submitted task has finished.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects further submissions and waits for in-flight tasks.
// Safe to call more than once.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.down)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *WorkerPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
