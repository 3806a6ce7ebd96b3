package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Operation identifies a unit of guarded work for telemetry.
type Operation struct {
	Name      string // Operation name as registered with the resilience registry (required)
	Component string // Owning component, e.g. "resilience" or "proxypool" (optional)
	Attempt   int    // Zero-based attempt number (optional)
}

// SpanName returns the deterministic span name for this operation.
// Format: netguard.<component>.<name> or netguard.<name>
func (o Operation) SpanName() string {
	if o.Component != "" {
		return "netguard." + o.Component + "." + o.Name
	}
	return "netguard." + o.Name
}

func (o Operation) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("netguard.operation", o.Name),
		attribute.Int("netguard.attempt", o.Attempt),
	}
	if o.Component != "" {
		attrs = append(attrs, attribute.String("netguard.component", o.Component))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with operation-aware span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, op Operation, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, op Operation, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append(op.attributes(), attrs...)
	return t.tracer.Start(ctx, op.SpanName(),
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a Tracer whose spans are never recorded.
func NopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, op Operation, _ ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.noop.Start(ctx, op.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
