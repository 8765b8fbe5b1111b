package bus

import (
	"github.com/fluxorio/msgbus/pkg/core"
	"github.com/fluxorio/msgbus/pkg/worker"
)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger. Defaults to core.DefaultLogger().
func WithLogger(l core.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithErrorHandler replaces the default subscriber failure handler, which
// logs the failure.
func WithErrorHandler(h ErrorHandler) Option {
	return func(b *Bus) {
		b.onError = h
	}
}

// WithAsyncLimit bounds the number of concurrent PublishAsync fan-outs.
// Zero means unlimited.
func WithAsyncLimit(n int) Option {
	return func(b *Bus) {
		b.asyncLimit = n
	}
}

// WithExecutor runs PublishAsync fan-outs on pool instead of fresh
// goroutines. The pool must be started. When its queue is full a fan-out
// falls back to a goroutine; use WithAsyncLimit for a hard bound.
func WithExecutor(pool *worker.WorkerPool) Option {
	return func(b *Bus) {
		b.executor = pool
	}
}

// WithRecentFailures sets how many subscriber failures RecentFailures keeps.
// Zero disables the history.
func WithRecentFailures(n int) Option {
	return func(b *Bus) {
		b.recentSize = n
	}
}

// WithDeclaredTypes closes the message universe: only the given keys may be
// subscribed or published. Without it every concrete type is accepted.
func WithDeclaredTypes(keys ...Key) Option {
	return func(b *Bus) {
		if b.declared == nil {
			b.declared = make(map[Key]struct{}, len(keys))
		}
		for _, k := range keys {
			b.declared[k] = struct{}{}
		}
	}
}

// QueueOption configures a QueuedBus.
type QueueOption func(*QueuedBus)

// OverflowPolicy decides what a bounded queue does when full.
type OverflowPolicy int

const (
	// OverflowBlock makes Publish wait for space.
	OverflowBlock OverflowPolicy = iota
	// OverflowReject makes Publish fail with ErrQueueFull.
	OverflowReject
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowBlock:
		return "block"
	case OverflowReject:
		return "reject"
	default:
		return "unknown"
	}
}

// WithWorkerPool runs the consumer on pool instead of a private single
// worker pool. The pool must be started and is not stopped by Shutdown.
func WithWorkerPool(pool *worker.WorkerPool) QueueOption {
	return func(q *QueuedBus) {
		q.pool = pool
		q.ownsPool = false
		q.poolSet = true
	}
}

// WithQueueCapacity bounds the queue. Zero means unbounded.
func WithQueueCapacity(n int, policy OverflowPolicy) QueueOption {
	return func(q *QueuedBus) {
		q.capacity = n
		q.overflow = policy
	}
}

// WithQueueLogger sets the logger for queue lifecycle messages. Defaults to
// the inner bus logger.
func WithQueueLogger(l core.Logger) QueueOption {
	return func(q *QueuedBus) {
		if l != nil {
			q.logger = l
		}
	}
}
