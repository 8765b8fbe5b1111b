package bus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fluxorio/msgbus/pkg/core"
	"github.com/fluxorio/msgbus/pkg/fsm"
	"github.com/fluxorio/msgbus/pkg/future"
	"github.com/fluxorio/msgbus/pkg/worker"
)

// QueuedBus decouples publishers from delivery. Publish only enqueues; one
// background worker dequeues envelopes in strict FIFO order, across all
// message types, and fans each one out through the inner Bus.
//
// Shutdown stops intake and waits until every envelope accepted before it
// has been delivered.
type QueuedBus struct {
	inner  *Bus
	logger core.Logger
	queue  *envelopeQueue

	pool     *worker.WorkerPool
	ownsPool bool
	poolSet  bool

	capacity int
	overflow OverflowPolicy

	lifecycle *fsm.FSM
	stopping  atomic.Bool
	done      chan struct{}
}

// NewQueued wraps inner with a queue and starts the worker. It returns a
// *core.ConstructionError if inner is nil, the worker pool cannot run the
// consumer, or the queue options are invalid.
func NewQueued(inner *Bus, opts ...QueueOption) (*QueuedBus, error) {
	if inner == nil {
		return nil, core.NewConstructionError("queued bus", ErrNilBus)
	}
	q := &QueuedBus{
		inner:     inner,
		logger:    inner.logger,
		lifecycle: newLifecycle(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	if q.capacity < 0 {
		return nil, core.NewConstructionError("queued bus",
			fmt.Errorf("queue capacity must not be negative, got %d", q.capacity))
	}
	if q.poolSet && q.pool == nil {
		return nil, core.NewConstructionError("queued bus", errors.New("worker pool cannot be nil"))
	}
	if !q.poolSet {
		pool, err := worker.NewWorkerPool(1, 0)
		if err != nil {
			return nil, core.NewConstructionError("queued bus", err)
		}
		q.pool = pool
		q.ownsPool = true
	}
	if err := q.pool.Start(); err != nil {
		return nil, core.NewConstructionError("queued bus", err)
	}

	q.queue = newEnvelopeQueue(q.capacity, q.overflow)
	if err := q.pool.Submit(q.run); err != nil {
		if q.ownsPool {
			_ = q.pool.Stop(context.Background())
		}
		return nil, core.NewConstructionError("queued bus", err)
	}

	q.logger.WithFields(map[string]interface{}{
		"capacity":    q.capacity,
		"overflow":    q.overflow.String(),
		"workers":     q.pool.Workers(),
		"shared_pool": !q.ownsPool,
	}).Debug("queued bus started")
	return q, nil
}

// Inner returns the wrapped Bus. Publishing on it bypasses the queue.
func (q *QueuedBus) Inner() *Bus {
	return q.inner
}

// SubscribeKey registers s on the inner bus.
func (q *QueuedBus) SubscribeKey(key Key, s Subscriber) error {
	return q.inner.SubscribeKey(key, s)
}

// UnsubscribeKey removes s from the inner bus. Envelopes already queued are
// delivered to the subscribers registered at the time they are dequeued.
func (q *QueuedBus) UnsubscribeKey(key Key, s Subscriber) bool {
	return q.inner.UnsubscribeKey(key, s)
}

// Subscribers returns the number of subscribers registered for key.
func (q *QueuedBus) Subscribers(key Key) int {
	return q.inner.Subscribers(key)
}

// PublishKey enqueues msg and returns without waiting for delivery. It fails
// with ErrQueueClosed after Shutdown, with ErrQueueFull on a full bounded
// queue using OverflowReject, or with a *PublishError for invalid messages.
func (q *QueuedBus) PublishKey(ctx context.Context, key Key, msg any) error {
	if err := q.inner.validateMessage(key, msg); err != nil {
		return err
	}
	e := &Envelope{
		ID:         uuid.NewString(),
		Key:        key,
		Message:    msg,
		EnqueuedAt: time.Now(),
		ctx:        context.WithoutCancel(ctx),
	}
	if err := q.queue.push(ctx, e); err != nil {
		return err
	}
	q.inner.metrics.MessagePublished(key)
	q.inner.metrics.QueueDepthChanged(q.queue.len())
	return nil
}

// PublishKeyAsync enqueues msg from another goroutine so the caller never
// waits on queue contention. The future resolves once the envelope is
// accepted, with Delivery.Queued set, or fails with the enqueue error.
func (q *QueuedBus) PublishKeyAsync(ctx context.Context, key Key, msg any) *future.Future[Delivery] {
	if err := q.inner.validateMessage(key, msg); err != nil {
		return future.Failed[Delivery](err)
	}
	return future.Go(func() (Delivery, error) {
		if err := ctx.Err(); err != nil {
			return Delivery{Key: key}, err
		}
		if err := q.PublishKey(ctx, key, msg); err != nil {
			return Delivery{Key: key}, err
		}
		return Delivery{Key: key, Queued: true}, nil
	})
}

// Flush blocks until every envelope accepted before the call has been
// delivered, or ctx is done.
func (q *QueuedBus) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if err := q.queue.push(ctx, &Envelope{barrier: barrier, EnqueuedAt: time.Now()}); err != nil {
		return err
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of envelopes waiting for delivery.
func (q *QueuedBus) Len() int {
	return q.queue.len()
}

// State returns the worker's lifecycle state.
func (q *QueuedBus) State() fsm.State {
	return q.lifecycle.CurrentState()
}

// Done is closed once the worker has drained the queue and exited.
func (q *QueuedBus) Done() <-chan struct{} {
	return q.done
}

// Shutdown stops intake and waits for the worker to deliver every queued
// envelope and exit. If ctx ends first its error is returned and the drain
// continues in the background. Only the first call shuts down; later calls
// return ErrQueueClosed.
func (q *QueuedBus) Shutdown(ctx context.Context) error {
	if !q.stopping.CompareAndSwap(false, true) {
		return ErrQueueClosed
	}
	pending := q.queue.len()
	q.queue.close()
	q.logger.WithFields(map[string]interface{}{
		"pending": pending,
	}).Info("queued bus shutting down")

	select {
	case <-q.done:
	case <-ctx.Done():
		if q.ownsPool {
			go func() {
				<-q.done
				_ = q.pool.Stop(context.Background())
			}()
		}
		return ctx.Err()
	}

	if q.ownsPool {
		if err := q.pool.Stop(ctx); err != nil {
			return err
		}
	}
	q.logger.Info("queued bus stopped")
	return nil
}

// Close is Shutdown without a deadline.
func (q *QueuedBus) Close() error {
	return q.Shutdown(context.Background())
}

// run is the consumer loop, executed as one job on the worker pool.
func (q *QueuedBus) run() {
	defer close(q.done)
	for {
		e, draining, ok := q.queue.pop()
		if draining && q.lifecycle.Is(StateIdle) {
			q.transition(EventShutdown)
		}
		if !ok {
			q.transition(EventDrained)
			return
		}
		q.inner.metrics.QueueDepthChanged(q.queue.len())
		q.transition(EventDequeue)
		q.dispatch(e)
		q.transition(EventDelivered)
	}
}

func (q *QueuedBus) dispatch(e *Envelope) {
	if e.barrier != nil {
		close(e.barrier)
		return
	}
	ctx := e.ctx
	if core.GetRequestID(ctx) == "" {
		ctx = core.WithRequestID(ctx, e.ID)
	}
	// Snapshot at delivery time so unsubscribing stops future deliveries.
	q.inner.deliver(ctx, e.Key, e.Message, q.inner.registry.GetSubscribers(e.Key))
}

func (q *QueuedBus) transition(ev fsm.Event) {
	if err := q.lifecycle.Trigger(ev); err != nil {
		q.logger.Error("queued bus lifecycle: ", err)
	}
}
