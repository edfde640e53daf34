// Package telemetry wires the OpenTelemetry tracer and exposes the
// runtime tracing toggle.
//
// OTLP export is optional: with no endpoint configured the tracer provider
// is a no-op and span helpers cost nothing. The toggle does not start or
// stop the exporter; it suppresses payload-bearing span attributes so
// operators can cut sensitive data out of traces without a restart.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "cc-proxy"

// Toggle is the process-wide tracing switch behind PUT /api/tracing.
type Toggle struct {
	enabled atomic.Bool
}

// NewToggle starts enabled.
func NewToggle() *Toggle {
	t := &Toggle{}
	t.enabled.Store(true)
	return t
}

// Enabled reports whether payload attributes should be emitted.
func (t *Toggle) Enabled() bool { return t.enabled.Load() }

// Set flips the switch.
func (t *Toggle) Set(enabled bool) { t.enabled.Store(enabled) }

// Runtime owns the tracer provider and its shutdown.
type Runtime struct {
	tracer      trace.Tracer
	shutdownFns []func(context.Context) error
}

// Setup initializes the tracer provider. An empty endpoint yields a no-op
// runtime with a working (but non-exporting) tracer.
func Setup(ctx context.Context, serviceName, otlpEndpoint string, insecure bool) (*Runtime, error) {
	rt := &Runtime{tracer: otel.Tracer(instrumentationName)}
	if strings.TrimSpace(otlpEndpoint) == "" {
		return rt, nil
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(otlpEndpoint),
		otlptracehttp.WithTimeout(10 * time.Second),
	}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize otlp trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", strings.TrimSpace(serviceName)),
	)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	rt.tracer = otel.Tracer(instrumentationName)
	rt.shutdownFns = append(rt.shutdownFns, provider.Shutdown)
	return rt, nil
}

// Shutdown flushes and stops the exporter.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, fn := range r.shutdownFns {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StartRequestSpan opens the root span for one proxied request.
func (r *Runtime) StartRequestSpan(ctx context.Context, correlationID, model string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "proxy_request", trace.WithAttributes(
		attribute.String("correlation_id", correlationID),
		attribute.String("model", model),
	))
}

// RecordRequestPayload attaches the request body to the span, gated by the
// tracing toggle so payloads can be suppressed at runtime.
func RecordRequestPayload(span trace.Span, toggle *Toggle, body []byte) {
	if span == nil || !span.IsRecording() || toggle == nil || !toggle.Enabled() {
		return
	}
	span.SetAttributes(attribute.String("request.body", string(body)))
}

// RecordUpstreamRequestID captures the upstream's own request identifier.
func RecordUpstreamRequestID(span trace.Span, requestID string) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.String("upstream.request_id", requestID))
}

// RecordStreaming marks whether the response was an SSE stream.
func RecordStreaming(span trace.Span, streaming bool) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.Bool("streaming", streaming))
}

// RecordUpstreamStatus records which upstream answered and how.
func RecordUpstreamStatus(span trace.Span, upstream string, status int) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String("upstream.name", upstream),
		attribute.Int("upstream.status", status),
	)
}

// RecordTTFT records milliseconds from dispatch to the first upstream byte.
func RecordTTFT(span trace.Span, d time.Duration) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.Int64("ttft_ms", d.Milliseconds()))
}

// RecordDuration records the end-to-end streaming duration.
func RecordDuration(span trace.Span, d time.Duration) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.Int64("total_duration_ms", d.Milliseconds()))
}

// RecordUsage records the token accounting extracted from the response.
func RecordUsage(span trace.Span, input, output, toolCalls uint64) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.Int64("usage.input_tokens", int64(input)),
		attribute.Int64("usage.output_tokens", int64(output)),
		attribute.Int64("usage.tool_calls", int64(toolCalls)),
	)
}
