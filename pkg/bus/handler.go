package bus

import (
	"context"
	"fmt"
)

// Handler receives messages of type M.
//
// A handler's identity is its Go value: subscribing the same value twice is
// a no-op and Unsubscribe needs that same value. Handler values must
// therefore be comparable; pointer receivers are the usual choice.
type Handler[M any] interface {
	Handle(ctx context.Context, msg M) error
}

// funcHandler adapts a func to Handler. It is always used by pointer so
// every adapter has its own identity.
type funcHandler[M any] struct {
	fn func(ctx context.Context, msg M) error
}

func (h *funcHandler[M]) Handle(ctx context.Context, msg M) error {
	return h.fn(ctx, msg)
}

// HandlerFunc wraps fn in a Handler with a unique identity. Keep the
// returned value to Unsubscribe later.
func HandlerFunc[M any](fn func(ctx context.Context, msg M) error) Handler[M] {
	if fn == nil {
		return nil
	}
	return &funcHandler[M]{fn: fn}
}

// Callback wraps a plain func(M) that cannot fail.
func Callback[M any](fn func(msg M)) Handler[M] {
	if fn == nil {
		return nil
	}
	return &funcHandler[M]{fn: func(_ context.Context, msg M) error {
		fn(msg)
		return nil
	}}
}

// Subscriber is the type-erased form of a Handler stored in the registry.
// Implementations are comparable and equal exactly when they wrap the same
// handler for the same message type.
type Subscriber interface {
	// Key is the message type this subscriber is registered for.
	Key() Key

	// Handler returns the wrapped handler, used as its identity in reports.
	Handler() any

	// Invoke delivers msg. msg must hold a value of the subscriber's type.
	Invoke(ctx context.Context, msg any) error
}

// typedSubscriber is the adapter built once at subscribe time. Invoke is a
// type assertion plus a direct interface call.
type typedSubscriber[M any] struct {
	handler Handler[M]
}

func newSubscriber[M any](h Handler[M]) Subscriber {
	return typedSubscriber[M]{handler: h}
}

func (s typedSubscriber[M]) Key() Key {
	return KeyOf[M]()
}

func (s typedSubscriber[M]) Handler() any {
	return s.handler
}

func (s typedSubscriber[M]) Invoke(ctx context.Context, msg any) error {
	m, ok := msg.(M)
	if !ok {
		return fmt.Errorf("message of type %T delivered to %s subscriber", msg, KeyOf[M]())
	}
	return s.handler.Handle(ctx, m)
}
