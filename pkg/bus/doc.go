// Package bus is an in-process publish-subscribe engine keyed by message
// type.
//
// Subscribers register a Handler[M] for a concrete type M and receive every
// message of exactly that type:
//
//	b := bus.New()
//	_ = bus.Subscribe(b, bus.Callback(func(e WindowResized) { ... }))
//	_ = bus.Publish(ctx, b, WindowResized{W: 800, H: 600})
//
// A Bus delivers synchronously (Publish) or on another goroutine
// (PublishAsync). A QueuedBus puts a FIFO queue and a single background
// worker in front of a Bus so publishers never run subscriber code.
//
// Subscriber failures, whether returned errors or panics, are isolated:
// they are reported to the bus ErrorHandler as *SubscriberError and never
// reach the publisher or stop the remaining subscribers.
package bus
