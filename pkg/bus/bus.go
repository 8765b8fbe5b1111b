package bus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	"github.com/fluxorio/msgbus/pkg/core"
	"github.com/fluxorio/msgbus/pkg/future"
	"github.com/fluxorio/msgbus/pkg/registry"
	"github.com/fluxorio/msgbus/pkg/worker"
)

// Delivery summarises one publish.
type Delivery struct {
	Key Key

	// Subscribers is the size of the snapshot the message was fanned out to.
	Subscribers int

	// Failed counts subscribers that returned an error or panicked.
	Failed int

	// Queued is set when the message was only accepted into a QueuedBus.
	// Subscribers and Failed are then zero.
	Queued bool
}

// Bus dispatches messages to the subscribers registered for their type.
//
// Publish runs every subscriber on the caller's goroutine in registration
// order. A subscriber that returns an error or panics is reported to the
// ErrorHandler and never prevents the remaining subscribers from running.
type Bus struct {
	registry *registry.Registry[Key, Subscriber]
	logger   core.Logger
	metrics  Metrics
	onError  ErrorHandler

	asyncLimit int
	asyncSem   *semaphore.Weighted
	executor   *worker.WorkerPool

	recentSize int
	failures   *lru.Cache[string, *SubscriberError]

	declared map[Key]struct{}
}

// New creates a Bus with an empty registry.
func New(opts ...Option) *Bus {
	b := &Bus{
		registry: registry.New[Key, Subscriber](),
		logger:   core.DefaultLogger(),
		metrics:  NopMetrics(),
	}
	for _, opt := range opts {
		opt(b)
	}
	core.FailFastIf(b.asyncLimit < 0, "async limit must not be negative")
	core.FailFastIf(b.recentSize < 0, "recent failure size must not be negative")

	if b.asyncLimit > 0 {
		b.asyncSem = semaphore.NewWeighted(int64(b.asyncLimit))
	}
	if b.recentSize > 0 {
		cache, err := lru.New[string, *SubscriberError](b.recentSize)
		core.FailFast(err)
		b.failures = cache
	}
	if b.onError == nil {
		b.onError = b.logFailure
	}
	return b
}

// Logger returns the bus logger.
func (b *Bus) Logger() core.Logger {
	return b.logger
}

func (b *Bus) logFailure(err *SubscriberError) {
	fields := map[string]interface{}{
		"failure_id":   err.ID,
		"message_type": err.Key.String(),
		"subscriber":   fmt.Sprintf("%T", err.Subscriber),
	}
	if err.RequestID != "" {
		fields["request_id"] = err.RequestID
	}
	if perr, ok := err.Err.(*core.PanicError); ok {
		fields["stack"] = string(perr.Stack)
	}
	b.logger.WithFields(fields).Error("subscriber failed: ", err.Err)
}

// validateKey rejects keys that can never carry a message on this bus.
func (b *Bus) validateKey(key Key) error {
	switch {
	case key.IsZero():
		return &PublishError{Key: key, Err: &core.BusError{Code: core.CodeInvalid, Message: "zero message key"}}
	case key.Abstract():
		return &PublishError{Key: key, Err: ErrAbstractType}
	}
	if b.declared != nil {
		if _, ok := b.declared[key]; !ok {
			return &PublishError{Key: key, Err: ErrUndeclaredType}
		}
	}
	return nil
}

func (b *Bus) validateMessage(key Key, msg any) error {
	if err := b.validateKey(key); err != nil {
		return err
	}
	if t := reflect.TypeOf(msg); t != key.t {
		return &PublishError{Key: key, Err: fmt.Errorf("message of type %v does not match key", t)}
	}
	return nil
}

// SubscribeKey registers s for key. Subscribing an already registered
// subscriber is a no-op.
func (b *Bus) SubscribeKey(key Key, s Subscriber) error {
	if s == nil {
		return ErrNilHandler
	}
	if err := b.validateKey(key); err != nil {
		return err
	}
	if s.Key() != key {
		return &PublishError{Key: key, Err: fmt.Errorf("subscriber expects %s", s.Key())}
	}
	if err := core.ValidateComparable(s.Handler()); err != nil {
		return fmt.Errorf("%w: %v", ErrUncomparableHandler, err)
	}
	if b.registry.Subscribe(key, s) {
		b.metrics.SubscriptionsChanged(key, b.registry.Count(key))
		b.logger.WithFields(map[string]interface{}{
			"message_type": key.String(),
		}).Debug("subscriber added")
	}
	return nil
}

// UnsubscribeKey removes s from key. It reports whether s was registered;
// removing an absent subscriber is not an error.
func (b *Bus) UnsubscribeKey(key Key, s Subscriber) bool {
	if s == nil || core.ValidateComparable(s.Handler()) != nil {
		return false
	}
	if !b.registry.Unsubscribe(key, s) {
		return false
	}
	b.metrics.SubscriptionsChanged(key, b.registry.Count(key))
	return true
}

// Subscribers returns the number of subscribers registered for key.
func (b *Bus) Subscribers(key Key) int {
	return b.registry.Count(key)
}

// Keys returns the message types that currently have subscribers.
func (b *Bus) Keys() []Key {
	return b.registry.Keys()
}

// PublishKey delivers msg synchronously to every subscriber of key. msg must
// hold a value of exactly key's type. Subscriber failures are reported, not
// returned; the error is non-nil only for invalid publishes.
func (b *Bus) PublishKey(ctx context.Context, key Key, msg any) error {
	_, err := b.publish(ctx, key, msg)
	return err
}

func (b *Bus) publish(ctx context.Context, key Key, msg any) (Delivery, error) {
	if err := b.validateMessage(key, msg); err != nil {
		return Delivery{Key: key}, err
	}
	b.metrics.MessagePublished(key)
	return b.deliver(ctx, key, msg, b.registry.GetSubscribers(key)), nil
}

// PublishKeyAsync fans msg out on another goroutine (or the executor pool)
// and returns immediately. When the executor's queue is full the fan-out
// runs on a fresh goroutine instead of waiting for a slot. The future completes after every subscriber in
// the snapshot has been invoked. If ctx is done before fan-out starts the
// future fails with ctx.Err(); a fan-out in progress is never interrupted.
func (b *Bus) PublishKeyAsync(ctx context.Context, key Key, msg any) *future.Future[Delivery] {
	if err := b.validateMessage(key, msg); err != nil {
		return future.Failed[Delivery](err)
	}
	b.metrics.MessagePublished(key)

	p := future.NewPromise[Delivery]()
	task := func() {
		if b.asyncSem != nil {
			if err := b.asyncSem.Acquire(ctx, 1); err != nil {
				p.Fail(err)
				return
			}
			defer b.asyncSem.Release(1)
		}
		subs, err := b.registry.GetSubscribersAsync(ctx, key).Await(ctx)
		if err != nil {
			p.Fail(err)
			return
		}
		p.Complete(b.deliver(ctx, key, msg, subs))
	}

	if b.executor != nil {
		switch err := b.executor.TrySubmit(task); {
		case err == nil:
			return p.Future
		case errors.Is(err, worker.ErrQueueFull):
			// A saturated pool must not stall the publisher.
			b.logger.WithFields(map[string]interface{}{
				"message_type": key.String(),
			}).Debug("executor queue full, fanning out on a goroutine")
		default:
			p.Fail(fmt.Errorf("async publish %s: %w", key, err))
			return p.Future
		}
	}
	go task()
	return p.Future
}

// deliver invokes subs in order, isolating each one.
func (b *Bus) deliver(ctx context.Context, key Key, msg any, subs []Subscriber) Delivery {
	start := time.Now()
	d := Delivery{Key: key, Subscribers: len(subs)}
	for _, s := range subs {
		if err := b.invoke(ctx, s, msg); err != nil {
			d.Failed++
			b.report(ctx, key, s, msg, err)
		}
	}
	b.metrics.MessageDelivered(key, len(subs), time.Since(start))
	return d
}

func (b *Bus) invoke(ctx context.Context, s Subscriber, msg any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &core.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return s.Invoke(ctx, msg)
}

func (b *Bus) report(ctx context.Context, key Key, s Subscriber, msg any, err error) {
	serr := &SubscriberError{
		ID:         uuid.NewString(),
		Key:        key,
		Subscriber: s.Handler(),
		Message:    msg,
		RequestID:  core.GetRequestID(ctx),
		Err:        err,
		Time:       time.Now(),
	}
	b.metrics.SubscriberFailed(key, serr.Panicked())
	if b.failures != nil {
		b.failures.Add(serr.ID, serr)
	}

	// A panicking error handler must not break the fan-out either.
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("error handler panicked: ", r)
		}
	}()
	b.onError(serr)
}

// RecentFailures returns the most recent subscriber failures, oldest first.
// It is empty unless the bus was built WithRecentFailures.
func (b *Bus) RecentFailures() []*SubscriberError {
	if b.failures == nil {
		return nil
	}
	return b.failures.Values()
}
