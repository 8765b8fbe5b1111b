package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxorio/msgbus/pkg/bus"
)

// DefaultRegistry is the registry served by Handler and FastHTTPHandler.
var DefaultRegistry = prometheus.NewRegistry()

// Collector records bus activity as Prometheus metrics. It implements both
// bus.Metrics, to be passed to bus.WithMetrics, and prometheus.Collector.
type Collector struct {
	published   *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	failures    *prometheus.CounterVec
	subscribers *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
	queueDepth  prometheus.Gauge
}

var _ bus.Metrics = (*Collector)(nil)

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string) *Collector {
	return &Collector{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages accepted for delivery, by message type.",
		}, []string{"message_type"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Messages fanned out to their subscribers, by message type.",
		}, []string{"message_type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_failures_total",
			Help:      "Subscriber invocations that returned an error or panicked.",
		}, []string{"message_type", "kind"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Registered subscribers, by message type.",
		}, []string{"message_type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time to run every subscriber of one message.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"message_type"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Envelopes waiting in the queued bus.",
		}),
	}
}

// Register adds the collector to reg, DefaultRegistry when reg is nil.
func (c *Collector) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = DefaultRegistry
	}
	return reg.Register(c)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.published.Describe(ch)
	c.delivered.Describe(ch)
	c.failures.Describe(ch)
	c.subscribers.Describe(ch)
	c.latency.Describe(ch)
	c.queueDepth.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.published.Collect(ch)
	c.delivered.Collect(ch)
	c.failures.Collect(ch)
	c.subscribers.Collect(ch)
	c.latency.Collect(ch)
	c.queueDepth.Collect(ch)
}

func (c *Collector) MessagePublished(key bus.Key) {
	c.published.WithLabelValues(key.String()).Inc()
}

func (c *Collector) MessageDelivered(key bus.Key, _ int, elapsed time.Duration) {
	c.delivered.WithLabelValues(key.String()).Inc()
	c.latency.WithLabelValues(key.String()).Observe(elapsed.Seconds())
}

func (c *Collector) SubscriberFailed(key bus.Key, panicked bool) {
	kind := "error"
	if panicked {
		kind = "panic"
	}
	c.failures.WithLabelValues(key.String(), kind).Inc()
}

func (c *Collector) SubscriptionsChanged(key bus.Key, count int) {
	c.subscribers.WithLabelValues(key.String()).Set(float64(count))
}

func (c *Collector) QueueDepthChanged(depth int) {
	c.queueDepth.Set(float64(depth))
}
