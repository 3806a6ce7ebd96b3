package observe

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/codes"
)

func sumCounter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s has data %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMiddleware_Wrap(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	var buf bytes.Buffer
	mw := NewMiddleware(NewTracer(tp.Tracer("test")), metrics, NewLoggerWithWriter("debug", &buf))

	op := Operation{Name: "fetch", Component: "resilience"}
	boom := errors.New("boom")

	if err := mw.Wrap(op, func(ctx context.Context) error { return nil })(context.Background()); err != nil {
		t.Fatalf("Wrap() success error = %v", err)
	}
	if err := mw.Wrap(op, func(ctx context.Context) error { return boom })(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Wrap() error = %v, want %v", err, boom)
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "netguard.resilience.fetch" {
		t.Errorf("span name = %q, want netguard.resilience.fetch", spans[0].Name())
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("failed span status = %v, want Error", spans[1].Status().Code)
	}

	if got := sumCounter(t, reader, "netguard.op.attempts"); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if got := sumCounter(t, reader, "netguard.op.errors"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
	if !bytes.Contains(buf.Bytes(), []byte("attempt failed")) {
		t.Errorf("expected failure log line, got %s", buf.String())
	}
}

func TestMetrics_ProxyAndBreaker(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	ctx := context.Background()
	metrics.RecordProxyRequest(ctx, "10.0.0.1:8080", 20*time.Millisecond, nil)
	metrics.RecordProxyRequest(ctx, "10.0.0.1:8080", 20*time.Millisecond, errors.New("refused"))
	metrics.RecordStateChange(ctx, "fetch", "closed", "open")
	metrics.RecordProxyHealth(ctx, 2, 3)
	metrics.RecordRateLimitWait(ctx, "jina", time.Second)

	if got := sumCounter(t, reader, "netguard.proxy.requests"); got != 2 {
		t.Errorf("proxy requests = %d, want 2", got)
	}
	if got := sumCounter(t, reader, "netguard.proxy.errors"); got != 1 {
		t.Errorf("proxy errors = %d, want 1", got)
	}
	if got := sumCounter(t, reader, "netguard.breaker.transitions"); got != 1 {
		t.Errorf("transitions = %d, want 1", got)
	}
}

func TestOperation_SpanName(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{Operation{Name: "fetch"}, "netguard.fetch"},
		{Operation{Name: "probe", Component: "proxypool"}, "netguard.proxypool.probe"},
	}
	for _, tt := range tests {
		if got := tt.op.SpanName(); got != tt.want {
			t.Errorf("SpanName() = %q, want %q", got, tt.want)
		}
	}
}

func TestNewMiddleware_NilComponents(t *testing.T) {
	mw := NewMiddleware(nil, nil, nil)
	err := mw.Wrap(Operation{Name: "x"}, func(ctx context.Context) error { return nil })(context.Background())
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
}
