// Package observe provides the observability primitives used across netguard.
//
// It wires OpenTelemetry tracing and metrics, and a structured logger backed
// by zerolog. Resilience and proxy components accept the interfaces defined
// here (Logger, Metrics, Tracer) and default to no-op implementations, so the
// package never has to be configured for the rest of the module to work.
//
// # Logging
//
// Logger is a small leveled interface with structured fields. Fields whose
// keys name credentials (password, token, proxy_url, ...) are redacted before
// they reach the writer.
//
//	logger := observe.NewLogger("info")
//	logger.Info(ctx, "sweep finished", observe.F("healthy", 3))
//
// # Metrics and tracing
//
// NewObserver builds tracer and meter providers from Config. Middleware wraps
// a single operation attempt with a span, metrics and a log line.
package observe
