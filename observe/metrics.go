package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records resilience and proxy metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordAttempt records one guarded operation attempt.
	RecordAttempt(ctx context.Context, op Operation, duration time.Duration, err error)

	// RecordStateChange records a circuit breaker transition.
	RecordStateChange(ctx context.Context, breaker, from, to string)

	// RecordProxyRequest records a request sent through a proxy endpoint.
	RecordProxyRequest(ctx context.Context, proxy string, duration time.Duration, err error)

	// RecordProxyHealth records the result of a health sweep.
	RecordProxyHealth(ctx context.Context, healthy, total int)

	// RecordRateLimitWait records time spent waiting for rate limit admission.
	RecordRateLimitWait(ctx context.Context, limiter string, wait time.Duration)
}

type metricsImpl struct {
	attempts      metric.Int64Counter
	attemptErrors metric.Int64Counter
	attemptDur    metric.Float64Histogram
	transitions   metric.Int64Counter
	proxyRequests metric.Int64Counter
	proxyErrors   metric.Int64Counter
	proxyDur      metric.Float64Histogram
	proxyHealthy  metric.Int64Gauge
	proxyTotal    metric.Int64Gauge
	rateLimitWait metric.Float64Histogram
}

// NewMetrics creates the netguard instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	if m.attempts, err = meter.Int64Counter("netguard.op.attempts",
		metric.WithDescription("Guarded operation attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.attemptErrors, err = meter.Int64Counter("netguard.op.errors",
		metric.WithDescription("Failed guarded operation attempts"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.attemptDur, err = meter.Float64Histogram("netguard.op.duration_ms",
		metric.WithDescription("Guarded operation attempt duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("netguard.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}
	if m.proxyRequests, err = meter.Int64Counter("netguard.proxy.requests",
		metric.WithDescription("Requests sent through proxy endpoints"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.proxyErrors, err = meter.Int64Counter("netguard.proxy.errors",
		metric.WithDescription("Failed requests sent through proxy endpoints"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.proxyDur, err = meter.Float64Histogram("netguard.proxy.duration_ms",
		metric.WithDescription("Proxied request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.proxyHealthy, err = meter.Int64Gauge("netguard.proxy.healthy",
		metric.WithDescription("Healthy proxy endpoints after the last sweep"),
		metric.WithUnit("{endpoint}"),
	); err != nil {
		return nil, err
	}
	if m.proxyTotal, err = meter.Int64Gauge("netguard.proxy.total",
		metric.WithDescription("Configured proxy endpoints"),
		metric.WithUnit("{endpoint}"),
	); err != nil {
		return nil, err
	}
	if m.rateLimitWait, err = meter.Float64Histogram("netguard.ratelimit.wait_ms",
		metric.WithDescription("Time spent waiting for rate limit admission"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metricsImpl) RecordAttempt(ctx context.Context, op Operation, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("operation", op.Name)}
	if op.Component != "" {
		attrs = append(attrs, attribute.String("component", op.Component))
	}
	opt := metric.WithAttributes(attrs...)

	m.attempts.Add(ctx, 1, opt)
	if err != nil {
		m.attemptErrors.Add(ctx, 1, opt)
	}
	m.attemptDur.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordStateChange(ctx context.Context, breaker, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *metricsImpl) RecordProxyRequest(ctx context.Context, proxy string, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("proxy", proxy))
	m.proxyRequests.Add(ctx, 1, opt)
	if err != nil {
		m.proxyErrors.Add(ctx, 1, opt)
	}
	m.proxyDur.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordProxyHealth(ctx context.Context, healthy, total int) {
	m.proxyHealthy.Record(ctx, int64(healthy))
	m.proxyTotal.Record(ctx, int64(total))
}

func (m *metricsImpl) RecordRateLimitWait(ctx context.Context, limiter string, wait time.Duration) {
	m.rateLimitWait.Record(ctx, float64(wait.Milliseconds()),
		metric.WithAttributes(attribute.String("limiter", limiter)))
}

type noopMetrics struct{}

// NopMetrics returns a Metrics implementation that records nothing.
func NopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordAttempt(context.Context, Operation, time.Duration, error)     {}
func (noopMetrics) RecordStateChange(context.Context, string, string, string)         {}
func (noopMetrics) RecordProxyRequest(context.Context, string, time.Duration, error) {}
func (noopMetrics) RecordProxyHealth(context.Context, int, int)                       {}
func (noopMetrics) RecordRateLimitWait(context.Context, string, time.Duration)        {}
