package bus

import (
	"context"

	"github.com/fluxorio/msgbus/pkg/future"
)

// Broker is the untyped surface shared by Bus and QueuedBus. Application code
// normally goes through the generic helpers below, which derive the Key from
// the type parameter.
type Broker interface {
	SubscribeKey(key Key, s Subscriber) error
	UnsubscribeKey(key Key, s Subscriber) bool
	PublishKey(ctx context.Context, key Key, msg any) error
	PublishKeyAsync(ctx context.Context, key Key, msg any) *future.Future[Delivery]
	Subscribers(key Key) int
}

var (
	_ Broker = (*Bus)(nil)
	_ Broker = (*QueuedBus)(nil)
)

// Subscribe registers h for messages of type M.
func Subscribe[M any](b Broker, h Handler[M]) error {
	if b == nil {
		return &PublishError{Key: KeyOf[M](), Err: ErrNilBroker}
	}
	if h == nil {
		return ErrNilHandler
	}
	return b.SubscribeKey(KeyOf[M](), newSubscriber(h))
}

// Unsubscribe removes h from messages of type M and reports whether it was
// registered.
func Unsubscribe[M any](b Broker, h Handler[M]) bool {
	if b == nil || h == nil {
		return false
	}
	return b.UnsubscribeKey(KeyOf[M](), newSubscriber(h))
}

// Publish sends msg to the subscribers of M. On a Bus this runs the fan-out
// before returning; on a QueuedBus it only enqueues.
func Publish[M any](ctx context.Context, b Broker, msg M) error {
	if b == nil {
		return &PublishError{Key: KeyOf[M](), Err: ErrNilBroker}
	}
	return b.PublishKey(ctx, KeyOf[M](), msg)
}

// PublishAsync is Publish without blocking the caller.
func PublishAsync[M any](ctx context.Context, b Broker, msg M) *future.Future[Delivery] {
	if b == nil {
		return future.Failed[Delivery](&PublishError{Key: KeyOf[M](), Err: ErrNilBroker})
	}
	return b.PublishKeyAsync(ctx, KeyOf[M](), msg)
}

// SubscriberCount returns the number of subscribers of M.
func SubscriberCount[M any](b Broker) int {
	if b == nil {
		return 0
	}
	return b.Subscribers(KeyOf[M]())
}
