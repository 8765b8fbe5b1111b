package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/msgbus/pkg/bus"
	"github.com/fluxorio/msgbus/pkg/core"
	"github.com/fluxorio/msgbus/pkg/future"
)

const messagingSystem = "msgbus"

func messageAttributes(ctx context.Context, key bus.Key, operation string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("messaging.system", messagingSystem),
		attribute.String("messaging.destination.name", key.String()),
		attribute.String("messaging.operation.type", operation),
	}
	if requestID := core.GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, attribute.String("request_id", requestID))
	}
	return attrs
}

func setStatus(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "OK")
	}
}

// PublishWithSpan publishes msg inside a producer span. The span context is
// passed on, so subscribers wrapped with WrapHandler, and envelopes queued by
// a QueuedBus, become its children.
func PublishWithSpan[M any](ctx context.Context, b bus.Broker, msg M) error {
	if !IsInitialized() {
		return bus.Publish(ctx, b, msg)
	}

	key := bus.KeyOf[M]()
	ctx, span := StartSpan(ctx, "msgbus.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(messageAttributes(ctx, key, "publish")...),
	)
	defer span.End()

	err := bus.Publish(ctx, b, msg)
	setStatus(span, err)
	return err
}

// PublishAsyncWithSpan is PublishWithSpan for PublishAsync. The span ends
// when the returned future resolves.
func PublishAsyncWithSpan[M any](ctx context.Context, b bus.Broker, msg M) *future.Future[bus.Delivery] {
	if !IsInitialized() {
		return bus.PublishAsync(ctx, b, msg)
	}

	key := bus.KeyOf[M]()
	ctx, span := StartSpan(ctx, "msgbus.publish_async",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(messageAttributes(ctx, key, "publish")...),
	)
	f := bus.PublishAsync(ctx, b, msg)
	f.OnSuccess(func(d bus.Delivery) {
		span.SetAttributes(
			attribute.Int("msgbus.subscribers", d.Subscribers),
			attribute.Int("msgbus.failed", d.Failed),
			attribute.Bool("msgbus.queued", d.Queued),
		)
		setStatus(span, nil)
		span.End()
	})
	f.OnFailure(func(err error) {
		setStatus(span, err)
		span.End()
	})
	return f
}

// tracedHandler runs a handler inside a consumer span.
type tracedHandler[M any] struct {
	next bus.Handler[M]
}

// WrapHandler wraps h so each delivery runs in a consumer span. Subscribe and
// Unsubscribe the returned value, not h.
func WrapHandler[M any](h bus.Handler[M]) bus.Handler[M] {
	if h == nil {
		return nil
	}
	return &tracedHandler[M]{next: h}
}

func (t *tracedHandler[M]) Handle(ctx context.Context, msg M) error {
	ctx, span := StartSpan(ctx, "msgbus.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(messageAttributes(ctx, bus.KeyOf[M](), "process")...),
	)
	defer span.End()

	err := t.next.Handle(ctx, msg)
	setStatus(span, err)
	return err
}

// ErrorHandler records subscriber failures as span events on the current
// tracer before passing them on.
func ErrorHandler(next bus.ErrorHandler) bus.ErrorHandler {
	return func(err *bus.SubscriberError) {
		_, span := StartSpan(context.Background(), "msgbus.subscriber_failure",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithTimestamp(err.Time),
			trace.WithAttributes(
				attribute.String("messaging.destination.name", err.Key.String()),
				attribute.String("msgbus.failure_id", err.ID),
				attribute.String("request_id", err.RequestID),
				attribute.Bool("msgbus.panicked", err.Panicked()),
			),
		)
		setStatus(span, err.Err)
		span.End()
		if next != nil {
			next(err)
		}
	}
}
