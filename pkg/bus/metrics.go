package bus

import "time"

// Metrics receives bus instrumentation events. Implementations must be safe
// for concurrent use; the prometheus package provides one.
type Metrics interface {
	// MessagePublished is called once per accepted publish.
	MessagePublished(key Key)

	// MessageDelivered is called after fan-out completes.
	MessageDelivered(key Key, subscribers int, elapsed time.Duration)

	// SubscriberFailed is called for each failing subscriber.
	SubscriberFailed(key Key, panicked bool)

	// SubscriptionsChanged is called after subscribe or unsubscribe changed
	// the subscriber set of key.
	SubscriptionsChanged(key Key, count int)

	// QueueDepthChanged reports the pending envelope count of a QueuedBus.
	QueueDepthChanged(depth int)
}

type noopMetrics struct{}

func (noopMetrics) MessagePublished(Key)                      {}
func (noopMetrics) MessageDelivered(Key, int, time.Duration) {}
func (noopMetrics) SubscriberFailed(Key, bool)                {}
func (noopMetrics) SubscriptionsChanged(Key, int)             {}
func (noopMetrics) QueueDepthChanged(int)                     {}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return noopMetrics{} }
