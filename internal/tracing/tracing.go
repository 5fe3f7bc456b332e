// Package tracing provides opt-in OpenTelemetry trace propagation.
//
// When enabled via WALLBOUNCE_OTEL_ENABLED=true, it sets up an OTLP HTTP
// exporter, a TracerProvider, and W3C TraceContext + Baggage propagation.
// When disabled, all functions are no-ops with zero overhead.
package tracing

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// tracerName identifies spans this package starts directly (as opposed to
// ones otelhttp/otelhttp.Transport start on its behalf).
const tracerName = "github.com/wombat2006/techdev-sub004/internal/tracing"

func tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// Config holds the OTel tracing configuration. When Enabled is false, Setup
// returns a no-op shutdown and all middleware/transport wrappers pass through.
type Config struct {
	Enabled     bool
	Endpoint    string // OTLP HTTP endpoint, e.g. "localhost:4318"
	ServiceName string // resource service name, e.g. "wallbounce"
}

// Setup initialises the OpenTelemetry TracerProvider with an OTLP HTTP exporter.
// It sets the global TextMapPropagator to W3C TraceContext + Baggage so that
// trace context is automatically propagated on outgoing HTTP calls.
//
// The returned shutdown function must be called (typically in a defer or
// server Close) to flush pending spans and release resources.
//
// When cfg.Enabled is false, Setup returns a no-op shutdown and nil error.
func Setup(cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(), // typical for local collectors
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Middleware returns an HTTP middleware that instruments incoming requests with
// OTel tracing. When OTel is not enabled (no global TracerProvider set), the
// otelhttp middleware effectively becomes a no-op.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "wallbounce.request")
	}
}

// HTTPTransport wraps a base http.RoundTripper with OTel instrumentation so
// that outgoing HTTP calls propagate the W3C traceparent/tracestate headers.
// If base is nil, http.DefaultTransport is used.
func HTTPTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}

// StartAnalyzeSpan starts the root span for one wall-bounce analyze call.
// When OTel isn't enabled this is a cheap no-op span from the global
// no-op TracerProvider, so callers never need to branch on cfg.Enabled.
func StartAnalyzeSpan(ctx context.Context, requestID, taskTier, mode string) (context.Context, oteltrace.Span) {
	return tracer().Start(ctx, "wallbounce.analyze",
		oteltrace.WithAttributes(
			attribute.String("wallbounce.request_id", requestID),
			attribute.String("wallbounce.task_tier", taskTier),
			attribute.String("wallbounce.mode", mode),
		))
}

// StartProviderSpan starts a child span around one provider's vote within an
// analyze round.
func StartProviderSpan(ctx context.Context, providerName, vendor string) (context.Context, oteltrace.Span) {
	return tracer().Start(ctx, "wallbounce.provider_vote",
		oteltrace.WithAttributes(
			attribute.String("wallbounce.provider", providerName),
			attribute.String("wallbounce.vendor", vendor),
		))
}

// StartToolExecutionSpan starts a child span around one governed tool call.
func StartToolExecutionSpan(ctx context.Context, toolLabel, operation string) (context.Context, oteltrace.Span) {
	return tracer().Start(ctx, "wallbounce.tool_execution",
		oteltrace.WithAttributes(
			attribute.String("wallbounce.tool_label", toolLabel),
			attribute.String("wallbounce.operation", operation),
		))
}

// EndWithResult records whether the operation an earlier Start* call opened
// succeeded, then ends the span. errMsg should be "" on success.
func EndWithResult(span oteltrace.Span, errMsg string) {
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(errors.New(errMsg))
	}
	span.End()
}
