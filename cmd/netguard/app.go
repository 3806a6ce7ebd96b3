package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/netguard/config"
	"github.com/jonwraymond/netguard/health"
	"github.com/jonwraymond/netguard/observe"
	"github.com/jonwraymond/netguard/proxypool"
	"github.com/jonwraymond/netguard/resilience"
	"github.com/jonwraymond/netguard/statusserver"
)

// fetchOperation names the breaker, retry policy and rate limiter used by
// fetch requests.
const fetchOperation = "fetch"

// app wires the configured components together.
type app struct {
	cfg      *config.Config
	observer observe.Observer
	inst     observe.Instruments
	logger   observe.Logger

	resilience *resilience.Registry
	limiters   *resilience.Limiters
	pool       *proxypool.Pool
	session    *proxypool.Session
	health     *health.Registry
}

func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	obs, err := observe.NewObserver(ctx, cfg.ObserveConfig(logOut))
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	inst, err := observe.InstrumentsFromObserver(obs)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		observer: obs,
		inst:     inst,
		logger:   inst.Logger,
	}
	a.resilience = resilience.NewRegistry(cfg.RegistryOptions(inst)...)
	a.limiters = cfg.Limiters(func(name string, wait time.Duration) {
		ctx := context.Background()
		a.logger.Info(ctx, "rate limit reached, waiting",
			observe.F("limiter", name),
			observe.F("wait_ms", wait.Milliseconds()),
		)
		inst.Metrics.RecordRateLimitWait(ctx, name, wait)
	})

	a.pool, err = proxypool.New(cfg.Proxy.Specs, cfg.PoolConfig(inst))
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}
	a.session = proxypool.NewSession(a.pool, cfg.SessionConfig(inst))

	a.health = health.NewRegistry()
	a.health.Register("proxies", a.pool.Checker())
	a.health.Register("breakers", a.resilience.Checker())
	a.health.Register("runtime", health.RuntimeCheck(health.RuntimeConfig{}))
	return a, nil
}

// fetch issues a GET through the session, admitted by the fetch rate limiter
// and guarded by the fetch breaker and retry policy.
func (a *app) fetch(ctx context.Context, url string, opts *proxypool.RequestOptions) (*proxypool.Response, error) {
	if err := a.limiters.WaitIfNeeded(ctx, fetchOperation); err != nil {
		return nil, err
	}
	return resilience.Run(ctx, a.resilience, fetchOperation, func(ctx context.Context) (*proxypool.Response, error) {
		return a.session.Get(ctx, url, opts)
	})
}

func (a *app) statusServer() *statusserver.Server {
	var metrics http.Handler
	if a.cfg.Telemetry.MetricsEnabled && a.cfg.Telemetry.MetricsExporter == "prometheus" {
		metrics = promhttp.Handler()
	}
	return statusserver.New(statusserver.Config{
		Addr:            a.cfg.Service.ListenAddr,
		ShutdownTimeout: a.cfg.Service.ShutdownTimeout,
		CacheTTL:        a.cfg.Status.CacheTTL,
		Authenticator:   a.cfg.Authenticator(),
		RequiredRole:    a.cfg.Auth.RequiredRole,
		Metrics:         metrics,
		Logger:          a.logger,
	}, statusserver.Sources{
		Health:     a.health,
		Pool:       a.pool,
		Resilience: a.resilience,
		Limiters:   a.limiters,
	})
}

func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.pool.Close(), a.observer.Shutdown(ctx))
}
