package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/fluxorio/msgbus/pkg/core"
)

// Sentinel errors for the message bus.
var (
	// ErrNilBroker is returned when a typed helper is called with a nil broker.
	ErrNilBroker = errors.New("broker cannot be nil")

	// ErrNilBus is returned by NewQueued when no inner bus is given.
	ErrNilBus = errors.New("inner bus cannot be nil")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrUncomparableHandler is returned when a handler value cannot be used
	// as a subscriber identity (funcs, maps, slices or structs holding them).
	// Wrap plain funcs with HandlerFunc.
	ErrUncomparableHandler = errors.New("handler is not comparable")

	// ErrAbstractType is returned when the message type is an interface type.
	// Messages are keyed by their concrete type.
	ErrAbstractType = errors.New("message type must be concrete")

	// ErrUndeclaredType is returned when a bus with a declared message
	// universe sees a type outside it.
	ErrUndeclaredType = errors.New("message type is not declared on this bus")

	// ErrQueueClosed is returned when publishing to a QueuedBus after shutdown.
	ErrQueueClosed = errors.New("message queue is closed")

	// ErrQueueFull is returned by a bounded QueuedBus using OverflowReject.
	ErrQueueFull = errors.New("message queue is full")
)

// PublishError reports a structurally invalid publish or subscribe. It fails
// the call itself, unlike subscriber failures which never reach the publisher.
type PublishError struct {
	Key Key
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Key, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, &core.BusError{Code: core.CodePublish}) match.
func (e *PublishError) Is(target error) bool {
	t, ok := target.(*core.BusError)
	return ok && t.Code == core.CodePublish && t.Message == ""
}

// SubscriberError describes one subscriber failing during fan-out: the
// handler returned an error or panicked. It is reported to the bus's
// ErrorHandler and never propagated to the publisher.
type SubscriberError struct {
	// ID uniquely identifies this failure.
	ID string

	// Key is the message type being delivered.
	Key Key

	// Subscriber is the failing handler, as registered.
	Subscriber any

	// Message is the message that was being delivered.
	Message any

	// RequestID is the correlation ID carried by the publish context, if any.
	// For queued deliveries it defaults to the envelope ID.
	RequestID string

	// Err is the handler's error, or a *core.PanicError.
	Err error

	// Time is when the failure was observed.
	Time time.Time
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %T failed on %s: %v", e.Subscriber, e.Key, e.Err)
}

func (e *SubscriberError) Unwrap() error {
	return e.Err
}

// Panicked reports whether the subscriber panicked rather than returning an error.
func (e *SubscriberError) Panicked() bool {
	var perr *core.PanicError
	return errors.As(e.Err, &perr)
}

// ErrorHandler receives subscriber failures. It runs on the delivering
// goroutine, after the failing subscriber and before the next one.
type ErrorHandler func(err *SubscriberError)
