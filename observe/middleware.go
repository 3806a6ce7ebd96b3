package observe

import (
	"context"
	"time"
)

// AttemptFunc is the signature Middleware wraps.
type AttemptFunc func(ctx context.Context) error

// Middleware wraps a single operation attempt with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap returns a function safe for concurrent use.
//   - Context: the span is propagated through ctx to the wrapped function.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// Wrap instruments fn as one attempt of op.
func (m *Middleware) Wrap(op Operation, fn AttemptFunc) AttemptFunc {
	return func(ctx context.Context) error {
		ctx, span := m.tracer.StartSpan(ctx, op)
		start := time.Now()

		err := fn(ctx)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordAttempt(ctx, op, duration, err)

		fields := []Field{
			F("operation", op.Name),
			F("attempt", op.Attempt),
			F("duration_ms", duration.Milliseconds()),
		}
		if op.Component != "" {
			fields = append(fields, F("component", op.Component))
		}

		if err != nil {
			m.logger.Warn(ctx, "attempt failed", append(fields, Err(err))...)
		} else {
			m.logger.Debug(ctx, "attempt succeeded", fields...)
		}

		return err
	}
}

// Metrics returns the metrics sink used by the middleware.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the logger used by the middleware.
func (m *Middleware) Logger() Logger { return m.logger }
