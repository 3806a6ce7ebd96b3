package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jonwraymond/netguard/observe"
	"github.com/jonwraymond/netguard/resilience"
)

// minJWTSecretLength rejects HMAC secrets too short to be meaningful.
const minJWTSecretLength = 16

// Validate reports every invalid field. The returned error joins one
// *resilience.ConfigurationError per problem.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &resilience.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.Service.Name) == "" {
		bad("service.name", "must not be empty")
	}
	if strings.TrimSpace(c.Service.ListenAddr) == "" {
		bad("service.listen_addr", "must not be empty")
	}
	if c.Service.ShutdownTimeout < 0 {
		bad("service.shutdown_timeout", "must not be negative")
	}

	if !slices.Contains(observe.ValidLogLevels, c.Logging.Level) {
		bad("logging.level", "must be one of %v, got %q", observe.ValidLogLevels, c.Logging.Level)
	}
	if !slices.Contains(observe.ValidLogFormats, c.Logging.Format) {
		bad("logging.format", "must be one of %v, got %q", observe.ValidLogFormats, c.Logging.Format)
	}
	if c.Telemetry.TracingEnabled && !slices.Contains(observe.ValidTracingExporters, c.Telemetry.TracingExporter) {
		bad("telemetry.tracing_exporter", "unknown exporter %q", c.Telemetry.TracingExporter)
	}
	if c.Telemetry.SamplePct < observe.MinSamplePct || c.Telemetry.SamplePct > observe.MaxSamplePct {
		bad("telemetry.sample_pct", "must be within [0, 1], got %v", c.Telemetry.SamplePct)
	}
	if c.Telemetry.MetricsEnabled && !slices.Contains(observe.ValidMetricsExporters, c.Telemetry.MetricsExporter) {
		bad("telemetry.metrics_exporter", "unknown exporter %q", c.Telemetry.MetricsExporter)
	}

	p := c.Proxy
	if len(p.Specs) == 0 {
		bad("proxy.specs", "at least one proxy is required")
	}
	if p.HealthCheckInterval <= 0 {
		bad("proxy.health_check_interval", "must be positive")
	}
	if p.CheckTimeout <= 0 {
		bad("proxy.check_timeout", "must be positive")
	}
	if p.CheckConcurrency <= 0 {
		bad("proxy.check_concurrency", "must be positive")
	}
	if p.MaxRetries <= 0 {
		bad("proxy.max_retries", "must be positive")
	}
	if p.RequestTimeout <= 0 {
		bad("proxy.request_timeout", "must be positive")
	}
	if p.MaxConcurrent < 0 {
		bad("proxy.max_concurrent", "must not be negative")
	}

	validateOperation(bad, "resilience.defaults", c.Resilience.Defaults)
	for op, oc := range c.Resilience.Operations {
		validateOperation(bad, "resilience.operations."+op, oc)
	}

	for name, rpm := range c.RateLimits {
		if rpm <= 0 {
			bad("rate_limits."+name, "requests per minute must be positive, got %d", rpm)
		}
	}

	seen := map[string]bool{}
	for i, k := range c.Auth.APIKeys {
		field := fmt.Sprintf("auth.api_keys[%d]", i)
		if k.Principal == "" {
			bad(field+".principal", "must not be empty")
		}
		if k.Key == "" {
			bad(field+".key", "must not be empty")
		}
		if seen[k.Key] && k.Key != "" {
			bad(field+".key", "duplicate key")
		}
		seen[k.Key] = true
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLength {
		bad("auth.jwt_secret", "must be at least %d bytes", minJWTSecretLength)
	}

	if c.Status.CacheTTL < 0 {
		bad("status.cache_ttl", "must not be negative")
	}

	return errors.Join(errs...)
}

func validateOperation(bad func(field, format string, args ...any), prefix string, oc OperationConfig) {
	if oc.FailureThreshold < 0 {
		bad(prefix+".failure_threshold", "must not be negative")
	}
	if oc.RecoveryTimeout < 0 {
		bad(prefix+".recovery_timeout", "must not be negative")
	}
	if oc.HalfOpenMaxRequests < 0 {
		bad(prefix+".half_open_max_requests", "must not be negative")
	}
	if oc.MaxAttempts < 0 {
		bad(prefix+".max_attempts", "must not be negative")
	}
	if oc.BaseDelay < 0 || oc.MaxDelay < 0 || oc.AttemptTimeout < 0 {
		bad(prefix, "delays and timeouts must not be negative")
	}
	for i, k := range oc.RetryableKinds {
		if !k.Valid() {
			bad(fmt.Sprintf("%s.retryable_kinds[%d]", prefix, i), "unknown error kind %q", k)
		}
	}
}
