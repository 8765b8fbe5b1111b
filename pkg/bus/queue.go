package bus

import (
	"context"
	"sync"
	"time"
)

// Envelope is one accepted publish waiting in a QueuedBus.
type Envelope struct {
	// ID correlates the envelope in logs and subscriber failures.
	ID         string
	Key        Key
	Message    any
	EnqueuedAt time.Time

	// ctx carries the publisher's values without its cancellation.
	ctx context.Context

	// barrier is set on Flush markers, which carry no message.
	barrier chan struct{}
}

// envelopeQueue is a FIFO guarded by a mutex, with condition variables for
// the consumer (notEmpty) and for blocked producers of a bounded queue
// (notFull).
type envelopeQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    []*Envelope
	capacity int
	overflow OverflowPolicy
	closed   bool
}

func newEnvelopeQueue(capacity int, overflow OverflowPolicy) *envelopeQueue {
	q := &envelopeQueue{capacity: capacity, overflow: overflow}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

func (q *envelopeQueue) full() bool {
	return q.capacity > 0 && len(q.items) >= q.capacity
}

// push appends e. Barriers bypass the capacity limit. A producer blocked on
// a full queue gives up when ctx is done or the queue closes.
func (q *envelopeQueue) push(ctx context.Context, e *Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if e.barrier == nil && q.full() {
		if q.overflow == OverflowReject {
			return ErrQueueFull
		}
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.notFull.Broadcast()
			q.mu.Unlock()
		})
		defer stop()
		for q.full() && !q.closed {
			if err := ctx.Err(); err != nil {
				return err
			}
			q.notFull.Wait()
		}
		if q.closed {
			return ErrQueueClosed
		}
	}

	q.items = append(q.items, e)
	q.notEmpty.Signal()
	return nil
}

// pop blocks until an envelope is available and removes it. draining reports
// whether the queue had been closed; ok is false once it is closed and empty.
func (q *envelopeQueue) pop() (e *Envelope, draining bool, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, true, false
	}
	e = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.notFull.Signal()
	return e, q.closed, true
}

// close stops accepting envelopes and wakes every waiter. Envelopes already
// queued stay poppable.
func (q *envelopeQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

func (q *envelopeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
