// Package config loads the netguard configuration from a YAML file and
// NETGUARD_* environment variables.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/netguard/resilience"
	"github.com/jonwraymond/netguard/secret"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NETGUARD_"

// Config is the root configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service" envPrefix:"SERVICE_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOG_"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Proxy      ProxyConfig      `yaml:"proxy" envPrefix:"PROXY_"`
	Resilience ResilienceConfig `yaml:"resilience"`
	// RateLimits maps an upstream API name to its requests per minute.
	RateLimits map[string]int `yaml:"rate_limits"`
	Auth       AuthConfig     `yaml:"auth" envPrefix:"AUTH_"`
	Status     StatusConfig   `yaml:"status" envPrefix:"STATUS_"`
}

// ServiceConfig identifies the process and its listen address.
type ServiceConfig struct {
	Name            string        `yaml:"name" env:"NAME"`
	Version         string        `yaml:"version" env:"VERSION"`
	ListenAddr      string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig selects trace and metric exporters.
type TelemetryConfig struct {
	TracingEnabled  bool    `yaml:"tracing_enabled" env:"TRACING_ENABLED"`
	TracingExporter string  `yaml:"tracing_exporter" env:"TRACING_EXPORTER"`
	SamplePct       float64 `yaml:"sample_pct" env:"SAMPLE_PCT"`
	MetricsEnabled  bool    `yaml:"metrics_enabled" env:"METRICS_ENABLED"`
	MetricsExporter string  `yaml:"metrics_exporter" env:"METRICS_EXPORTER"`
}

// ProxyConfig configures the proxy pool and the request session.
type ProxyConfig struct {
	// Specs are "[scheme://]host:port:user:pass" entries. Each may contain
	// ${ENV} references and secretref values; a secretref resolving to
	// several lines contributes one spec per line.
	Specs []string `yaml:"specs" env:"SPECS" envSeparator:","`

	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	CheckURL            string        `yaml:"check_url" env:"CHECK_URL"`
	CheckTimeout        time.Duration `yaml:"check_timeout" env:"CHECK_TIMEOUT"`
	CheckConcurrency    int           `yaml:"check_concurrency" env:"CHECK_CONCURRENCY"`

	MaxRetries     int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	BackoffUnit    time.Duration `yaml:"backoff_unit" env:"BACKOFF_UNIT"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	MaxConcurrent  int           `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
}

// ResilienceConfig holds breaker and retry settings. Operations override
// Defaults field by field; zero fields inherit.
type ResilienceConfig struct {
	Defaults   OperationConfig            `yaml:"defaults"`
	Operations map[string]OperationConfig `yaml:"operations"`
}

// OperationConfig is the breaker and retry configuration of one operation.
type OperationConfig struct {
	FailureThreshold    int           `yaml:"failure_threshold"`
	RecoveryTimeout     time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxRequests int           `yaml:"half_open_max_requests"`

	MaxAttempts        int           `yaml:"max_attempts"`
	BaseDelay          time.Duration `yaml:"base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	ExponentialBackoff *bool         `yaml:"exponential_backoff"`
	Jitter             *bool         `yaml:"jitter"`
	AttemptTimeout     time.Duration `yaml:"attempt_timeout"`

	// RetryableKinds limits retries to these error kinds. Empty retries
	// every kind.
	RetryableKinds []resilience.ErrorKind `yaml:"retryable_kinds"`
}

// AuthConfig protects the operator endpoints. Auth is enabled when any API
// key or a JWT secret is configured.
type AuthConfig struct {
	APIKeys      []APIKeyConfig `yaml:"api_keys"`
	JWTSecret    string         `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer    string         `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	JWTAudience  string         `yaml:"jwt_audience" env:"JWT_AUDIENCE"`
	RequiredRole string         `yaml:"required_role" env:"REQUIRED_ROLE"`
}

// APIKeyConfig is one operator API key. Key may be a secretref.
type APIKeyConfig struct {
	ID        string   `yaml:"id"`
	Principal string   `yaml:"principal"`
	Key       string   `yaml:"key"`
	Roles     []string `yaml:"roles"`
}

// Enabled reports whether any credential is configured.
func (a AuthConfig) Enabled() bool {
	return len(a.APIKeys) > 0 || a.JWTSecret != ""
}

// StatusConfig configures the status server.
type StatusConfig struct {
	// CacheTTL bounds how long /health and /proxies bodies are reused.
	// Zero disables caching.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	exponential := true
	return &Config{
		Service: ServiceConfig{
			Name:            "netguard",
			Version:         "dev",
			ListenAddr:      ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			TracingExporter: "none",
			SamplePct:       1.0,
			MetricsEnabled:  true,
			MetricsExporter: "prometheus",
		},
		Proxy: ProxyConfig{
			HealthCheckInterval: 300 * time.Second,
			CheckURL:            "https://httpbin.org/ip",
			CheckTimeout:        10 * time.Second,
			CheckConcurrency:    10,
			MaxRetries:          3,
			RequestTimeout:      30 * time.Second,
			BackoffUnit:         time.Second,
			MaxBackoff:          10 * time.Second,
		},
		Resilience: ResilienceConfig{
			Defaults: OperationConfig{
				FailureThreshold:    5,
				RecoveryTimeout:     60 * time.Second,
				HalfOpenMaxRequests: 1,
				MaxAttempts:         3,
				BaseDelay:           time.Second,
				ExponentialBackoff:  &exponential,
			},
		},
		Status: StatusConfig{CacheTTL: 2 * time.Second},
	}
}

// Load reads path (optional), applies NETGUARD_* overrides, resolves
// secrets through resolver and validates the result. A nil resolver still
// expands ${ENV} references.
func Load(ctx context.Context, path string, resolver *secret.Resolver) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.resolveSecrets(ctx, resolver); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays NETGUARD_* variables. The resilience section has no
// environment overrides and is detached while parsing: env follows every
// non-nil pointer and rejects the *bool toggles in OperationConfig.
func (c *Config) applyEnv() error {
	res := c.Resilience
	c.Resilience = ResilienceConfig{}
	defer func() { c.Resilience = res }()

	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

func (c *Config) resolveSecrets(ctx context.Context, resolver *secret.Resolver) error {
	specs, err := resolver.ResolveLines(ctx, c.Proxy.Specs)
	if err != nil {
		return fmt.Errorf("resolve proxy specs: %w", err)
	}
	c.Proxy.Specs = specs

	for i := range c.Auth.APIKeys {
		k := &c.Auth.APIKeys[i]
		if k.Key, err = resolver.ResolveValue(ctx, k.Key); err != nil {
			return fmt.Errorf("resolve auth.api_keys[%d].key: %w", i, err)
		}
	}
	if c.Auth.JWTSecret != "" {
		if c.Auth.JWTSecret, err = resolver.ResolveValue(ctx, c.Auth.JWTSecret); err != nil {
			return fmt.Errorf("resolve auth.jwt_secret: %w", err)
		}
	}
	return nil
}
