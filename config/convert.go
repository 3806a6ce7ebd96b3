package config

import (
	"io"
	"maps"
	"slices"
	"time"

	"github.com/jonwraymond/netguard/auth"
	"github.com/jonwraymond/netguard/observe"
	"github.com/jonwraymond/netguard/proxypool"
	"github.com/jonwraymond/netguard/resilience"
)

// ObserveConfig returns the telemetry configuration. Log lines and stdout
// exporter output go to w.
func (c *Config) ObserveConfig(w io.Writer) observe.Config {
	return observe.Config{
		ServiceName: c.Service.Name,
		Version:     c.Service.Version,
		Tracing: observe.TracingConfig{
			Enabled:   c.Telemetry.TracingEnabled,
			Exporter:  c.Telemetry.TracingExporter,
			SamplePct: c.Telemetry.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Telemetry.MetricsEnabled,
			Exporter: c.Telemetry.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.Logging.Level,
			Format:  c.Logging.Format,
		},
		Output: w,
	}
}

// PoolConfig returns the proxy pool configuration.
func (c *Config) PoolConfig(inst observe.Instruments) proxypool.Config {
	return proxypool.Config{
		HealthCheckInterval: c.Proxy.HealthCheckInterval,
		CheckURL:            c.Proxy.CheckURL,
		CheckTimeout:        c.Proxy.CheckTimeout,
		CheckConcurrency:    c.Proxy.CheckConcurrency,
		Logger:              inst.Logger,
		Metrics:             inst.Metrics,
		Tracer:              inst.Tracer,
	}
}

// SessionConfig returns the request session configuration.
func (c *Config) SessionConfig(inst observe.Instruments) proxypool.SessionConfig {
	return proxypool.SessionConfig{
		MaxRetries:    c.Proxy.MaxRetries,
		Timeout:       c.Proxy.RequestTimeout,
		BackoffUnit:   c.Proxy.BackoffUnit,
		MaxBackoff:    c.Proxy.MaxBackoff,
		MaxConcurrent: c.Proxy.MaxConcurrent,
		Logger:        inst.Logger,
		Metrics:       inst.Metrics,
		Tracer:        inst.Tracer,
	}
}

// Operation returns the settings for op: Defaults overlaid with any
// non-zero field of the operation's own entry.
func (c *Config) Operation(op string) OperationConfig {
	out := c.Resilience.Defaults
	o, ok := c.Resilience.Operations[op]
	if !ok {
		return out
	}
	if o.FailureThreshold > 0 {
		out.FailureThreshold = o.FailureThreshold
	}
	if o.RecoveryTimeout > 0 {
		out.RecoveryTimeout = o.RecoveryTimeout
	}
	if o.HalfOpenMaxRequests > 0 {
		out.HalfOpenMaxRequests = o.HalfOpenMaxRequests
	}
	if o.MaxAttempts > 0 {
		out.MaxAttempts = o.MaxAttempts
	}
	if o.BaseDelay > 0 {
		out.BaseDelay = o.BaseDelay
	}
	if o.MaxDelay > 0 {
		out.MaxDelay = o.MaxDelay
	}
	if o.ExponentialBackoff != nil {
		out.ExponentialBackoff = o.ExponentialBackoff
	}
	if o.Jitter != nil {
		out.Jitter = o.Jitter
	}
	if o.AttemptTimeout > 0 {
		out.AttemptTimeout = o.AttemptTimeout
	}
	if len(o.RetryableKinds) > 0 {
		out.RetryableKinds = o.RetryableKinds
	}
	return out
}

// BreakerConfig converts oc to a circuit breaker configuration.
func (oc OperationConfig) BreakerConfig(name string) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:                name,
		FailureThreshold:    oc.FailureThreshold,
		RecoveryTimeout:     oc.RecoveryTimeout,
		HalfOpenMaxRequests: oc.HalfOpenMaxRequests,
	}
}

// RetryPolicy converts oc to a retry policy. Unset fields take the values
// of resilience.DefaultRetryPolicy.
func (oc OperationConfig) RetryPolicy() resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	if oc.MaxAttempts > 0 {
		p.MaxAttempts = oc.MaxAttempts
	}
	if oc.BaseDelay > 0 {
		p.BaseDelay = oc.BaseDelay
	}
	if oc.ExponentialBackoff != nil {
		p.ExponentialBackoff = *oc.ExponentialBackoff
	}
	if oc.Jitter != nil {
		p.Jitter = *oc.Jitter
	}
	p.MaxDelay = oc.MaxDelay
	p.AttemptTimeout = oc.AttemptTimeout
	p.RetryableKinds = slices.Clone(oc.RetryableKinds)
	return p
}

// RegistryOptions returns the options that build the resilience registry
// described by the configuration.
func (c *Config) RegistryOptions(inst observe.Instruments) []resilience.RegistryOption {
	opts := []resilience.RegistryOption{
		resilience.WithLogger(inst.Logger),
		resilience.WithDefaultBreaker(c.Resilience.Defaults.BreakerConfig("")),
		resilience.WithDefaultRetryPolicy(c.Resilience.Defaults.RetryPolicy()),
	}
	if inst.Middleware != nil {
		opts = append(opts, resilience.WithMiddleware(inst.Middleware))
	}
	for _, op := range slices.Sorted(maps.Keys(c.Resilience.Operations)) {
		oc := c.Operation(op)
		opts = append(opts,
			resilience.WithBreakerConfig(op, oc.BreakerConfig(op)),
			resilience.WithRetryPolicy(op, oc.RetryPolicy()),
		)
	}
	return opts
}

// Limiters builds one sliding-window limiter per configured rate limit.
func (c *Config) Limiters(onWait func(name string, wait time.Duration)) *resilience.Limiters {
	l := resilience.NewLimiters(onWait)
	for name, rpm := range c.RateLimits {
		l.Add(name, rpm)
	}
	return l
}

// Authenticator returns the authenticator for the operator endpoints, or
// nil when auth is disabled. API keys are tried before JWTs.
func (c *Config) Authenticator() auth.Authenticator {
	if !c.Auth.Enabled() {
		return nil
	}
	var chain []auth.Authenticator
	if len(c.Auth.APIKeys) > 0 {
		store := auth.NewMemoryAPIKeyStore()
		for _, k := range c.Auth.APIKeys {
			store.AddKey(k.ID, k.Principal, k.Key, k.Roles...)
		}
		chain = append(chain, auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{}, store))
	}
	if c.Auth.JWTSecret != "" {
		chain = append(chain, auth.NewJWTAuthenticator(c.JWTConfig()))
	}
	if len(chain) == 1 {
		return chain[0]
	}
	return auth.NewCompositeAuthenticator(chain...)
}

// JWTConfig returns the JWT settings shared by validation and signing.
func (c *Config) JWTConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Secret:   []byte(c.Auth.JWTSecret),
		Issuer:   c.Auth.JWTIssuer,
		Audience: c.Auth.JWTAudience,
	}
}
