package otel

import (
	"strconv"

	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware traces requests served by a fasthttp handler, such as the
// metrics endpoint. Incoming trace context is honoured and the server span's
// context is written to the response headers.
func HTTPMiddleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !IsInitialized() {
			next(ctx)
			return
		}

		propagator := otel.GetTextMapPropagator()
		parentCtx := propagator.Extract(ctx, &headerCarrier{headers: &ctx.Request.Header})

		spanCtx, span := StartSpan(parentCtx, "http.request",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(string(ctx.Method())),
				semconv.URLPath(string(ctx.Path())),
			),
		)
		defer span.End()

		next(ctx)

		statusCode := ctx.Response.StatusCode()
		span.SetAttributes(
			semconv.HTTPResponseStatusCode(statusCode),
			attribute.Int("http.response_size", len(ctx.Response.Body())),
		)
		if statusCode >= 400 {
			span.SetStatus(codes.Error, "HTTP "+strconv.Itoa(statusCode))
		} else {
			span.SetStatus(codes.Ok, "OK")
		}

		propagator.Inject(spanCtx, &responseHeaderCarrier{headers: &ctx.Response.Header})
	}
}

// headerCarrier implements propagation.TextMapCarrier for fasthttp request headers
type headerCarrier struct {
	headers *fasthttp.RequestHeader
}

func (c *headerCarrier) Get(key string) string {
	return string(c.headers.Peek(key))
}

func (c *headerCarrier) Set(key, value string) {
	c.headers.Set(key, value)
}

func (c *headerCarrier) Keys() []string {
	// Not needed for extraction
	return nil
}

// responseHeaderCarrier implements propagation.TextMapCarrier for fasthttp response headers
type responseHeaderCarrier struct {
	headers *fasthttp.ResponseHeader
}

func (c *responseHeaderCarrier) Get(key string) string {
	return string(c.headers.Peek(key))
}

func (c *responseHeaderCarrier) Set(key, value string) {
	c.headers.Set(key, value)
}

func (c *responseHeaderCarrier) Keys() []string {
	// Not needed for injection
	return nil
}
