package otel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrAlreadyInitialized is returned by a second Initialize before Shutdown.
var ErrAlreadyInitialized = errors.New("OpenTelemetry already initialized")

var (
	globalTracer trace.Tracer
	provider     *sdktrace.TracerProvider
	mu           sync.RWMutex
	initialized  bool
)

// Initialize installs a global tracer provider exporting through the
// configured exporter with a batching span processor.
func Initialize(ctx context.Context, config Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid OpenTelemetry config: %w", err)
	}
	exporter, err := newExporter(config)
	if err != nil {
		return err
	}
	return install(ctx, config, sdktrace.WithBatcher(exporter))
}

// InitializeWithExporter is Initialize with a caller-supplied exporter,
// exported synchronously. Tests pass an in-memory exporter here.
func InitializeWithExporter(ctx context.Context, config Config, exporter sdktrace.SpanExporter) error {
	if config.Exporter == "" {
		config.Exporter = "none"
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid OpenTelemetry config: %w", err)
	}
	return install(ctx, config, sdktrace.WithSyncer(exporter))
}

func install(ctx context.Context, config Config, processor sdktrace.TracerProviderOption) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return ErrAlreadyInitialized
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("environment", config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	provider = tp
	globalTracer = tp.Tracer(config.ServiceName)
	initialized = true
	return nil
}

// Tracer returns the global tracer, or a no-op tracer before Initialize.
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	if globalTracer == nil {
		return noop.NewTracerProvider().Tracer("noop")
	}
	return globalTracer
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SpanFromContext extracts a span from context
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// IsInitialized returns whether OpenTelemetry has been initialized
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return initialized
}

// Shutdown flushes and stops the tracer provider. Initialize may be called
// again afterwards.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()

	if !initialized {
		return nil
	}
	tp := provider
	provider = nil
	globalTracer = nil
	initialized = false
	return tp.Shutdown(ctx)
}
