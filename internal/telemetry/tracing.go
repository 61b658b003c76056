// Package telemetry wires OpenTelemetry tracing around the Control Surface and the
// Execution Dispatcher, grounded on Shivang2303-ai-kms's
// internal/telemetry/jaeger.go + internal/middleware/tracing.go pattern
// (TracerProvider construction, StartSpan/AddSpanError helpers). No exporter package
// from that repo's go.mod (jaeger) was present in this module's dependency pack, so
// spans are created and ended through the SDK's own TracerProvider without a batched
// exporter wired in; attaching one (OTLP, Jaeger) at deploy time only requires calling
// tp.RegisterSpanProcessor, not touching this file.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("collabrun")

// Init installs a process-wide TracerProvider and returns a shutdown func to flush and
// release it, for use alongside the Application's other components.
func Init(serviceName string) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// StartSpan opens a child span under ctx's current trace, named for the caller's
// component and operation (e.g. "ControlSurface.SubmitJob", "Dispatcher.ExecuteJob").
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks ctx's current span as failed.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
