package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/msgbus/pkg/core"
)

var (
	ErrWorkerPoolClosed  = errors.New("worker pool is closed")
	ErrWorkerPoolStopped = errors.New("worker pool is not started")
)

// Job represents a task to be executed by a worker.
type Job func()

// PanicHandler receives values recovered from panicking jobs.
type PanicHandler func(recovered any, stack []byte)

// WorkerPool is a fixed-size pool of goroutines for executing blocking or CPU-heavy tasks.
//
// A QueuedBus uses a pool as its worker facility: the consumer loop is
// submitted as one long-running job, so a pool handed to a QueuedBus should
// be dedicated to it.
type WorkerPool struct {
	jobs    chan Job
	workers int
	wg      sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool

	onPanic atomic.Pointer[PanicHandler]
}

// NewWorkerPool creates a new WorkerPool with a given number of workers and job queue size.
func NewWorkerPool(workers int, queueSize int) (*WorkerPool, error) {
	if err := core.ValidatePositive("worker count", workers); err != nil {
		return nil, core.NewConstructionError("worker pool", err)
	}
	if queueSize < 0 {
		return nil, core.NewConstructionError("worker pool",
			fmt.Errorf("queue size must not be negative, got %d", queueSize))
	}
	return &WorkerPool{
		jobs:    make(chan Job, queueSize),
		workers: workers,
	}, nil
}

// OnPanic installs a handler for panicking jobs.
func (p *WorkerPool) OnPanic(h PanicHandler) {
	p.onPanic.Store(&h)
}

// Start initializes the workers in the pool. Starting twice is a no-op;
// starting a stopped pool fails.
func (p *WorkerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrWorkerPoolClosed
	}
	if p.started {
		return nil
	}
	p.started = true
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.run()
	}
	return nil
}

// Workers returns the number of goroutines in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool is started and not yet stopped.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started && !p.closed
}

// Stop stops accepting jobs and waits until every queued job has run or ctx
// is done.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs) // Stop accepting new jobs
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the worker's execution loop.
func (p *WorkerPool) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.execute(job)
	}
}

func (p *WorkerPool) execute(job Job) {
	defer func() {
		if r := recover(); r != nil {
			if h := p.onPanic.Load(); h != nil && *h != nil {
				(*h)(r, debug.Stack())
				return
			}
			core.Error("worker job panicked (isolated): %v", r)
		}
	}()
	job()
}

// Submit sends a job to the worker pool for execution. It blocks while the
// queue is full. It returns ErrWorkerPoolClosed if the pool is closed and
// ErrWorkerPoolStopped if it was never started.
func (p *WorkerPool) Submit(job Job) error {
	if job == nil {
		return &core.BusError{Code: core.CodeInvalid, Message: "job cannot be nil"}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrWorkerPoolClosed
	}
	if !p.started {
		return ErrWorkerPoolStopped
	}
	p.jobs <- job
	return nil
}

// TrySubmit is Submit without blocking: it fails with ErrQueueFull when
// no queue slot is free.
func (p *WorkerPool) TrySubmit(job Job) error {
	if job == nil {
		return &core.BusError{Code: core.CodeInvalid, Message: "job cannot be nil"}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrWorkerPoolClosed
	}
	if !p.started {
		return ErrWorkerPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrQueueFull is returned by TrySubmit when the job queue is at capacity.
var ErrQueueFull = errors.New("worker pool queue is full")
