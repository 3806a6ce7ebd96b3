package proxypool

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/netguard/observe"
	"github.com/jonwraymond/netguard/resilience"
)

// Demotion thresholds applied by ReportFailure. Both must hold.
const (
	demoteBelowSuccessRate = 0.5
	demoteAfterFailures    = 3
)

// Config configures a Pool.
type Config struct {
	// HealthCheckInterval is the period of the background sweep started by
	// Start. Default: 300s.
	HealthCheckInterval time.Duration

	// CheckURL is fetched through each endpoint during a sweep.
	// Default: https://httpbin.org/ip.
	CheckURL string

	// CheckTimeout bounds a single probe. Default: 10s.
	CheckTimeout time.Duration

	// CheckConcurrency bounds probes in flight during a sweep. Default: 10.
	CheckConcurrency int

	Logger  observe.Logger
	Metrics observe.Metrics
	Tracer  observe.Tracer

	// Now overrides the clock for timestamps.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 300 * time.Second
	}
	if c.CheckURL == "" {
		c.CheckURL = "https://httpbin.org/ip"
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 10 * time.Second
	}
	if c.CheckConcurrency <= 0 {
		c.CheckConcurrency = 10
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = observe.NopMetrics()
	}
	if c.Tracer == nil {
		c.Tracer = observe.NopTracer()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Pool holds a fixed set of proxy endpoints and the healthy subset used for
// rotation.
type Pool struct {
	config Config
	logger observe.Logger

	mu        sync.Mutex
	endpoints []*Endpoint
	healthy   []*Endpoint
	cursor    int
	lastSweep time.Time

	clientMu sync.Mutex
	clients  map[*Endpoint]*resty.Client

	sweeps singleflight.Group

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// New parses specs and builds a pool. Unparsable specs are logged and
// skipped; a *resilience.ConfigurationError is returned when none remain.
// Every endpoint starts healthy.
func New(specs []string, config Config) (*Pool, error) {
	config.applyDefaults()
	logger := config.Logger.With(observe.F("component", "proxypool"))

	var endpoints []*Endpoint
	for i, spec := range specs {
		e, err := ParseSpec(spec)
		if err != nil {
			logger.Warn(context.Background(), "skipping proxy spec", observe.F("index", i), observe.Err(err))
			continue
		}
		logger.Debug(context.Background(), "added proxy", observe.F("proxy", e.Address()))
		endpoints = append(endpoints, e)
	}
	if len(endpoints) == 0 {
		return nil, &resilience.ConfigurationError{
			Field:  "proxies",
			Reason: "no valid proxy specs provided",
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config:    config,
		logger:    logger,
		endpoints: endpoints,
		healthy:   slices.Clone(endpoints),
		clients:   make(map[*Endpoint]*resty.Client, len(endpoints)),
		ctx:       ctx,
		cancel:    cancel,
	}
	logger.Info(ctx, "proxy pool initialized", observe.F("proxies", len(endpoints)))
	return p, nil
}

// Len returns the number of endpoints.
func (p *Pool) Len() int {
	return len(p.endpoints)
}

// Endpoints returns the endpoints in configuration order.
func (p *Pool) Endpoints() []*Endpoint {
	return slices.Clone(p.endpoints)
}

// candidates returns the healthy subset, or every endpoint when none is
// healthy. Caller holds p.mu.
func (p *Pool) candidates() []*Endpoint {
	if len(p.healthy) == 0 {
		return p.endpoints
	}
	return p.healthy
}

// NextProxy returns the next endpoint in round-robin order over the healthy
// subset, falling back to the full list when nothing is healthy.
func (p *Pool) NextProxy() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := p.candidates()
	if len(p.healthy) == 0 {
		p.logger.Warn(p.ctx, "no healthy proxies, rotating over all")
	}
	e := candidates[p.cursor%len(candidates)]
	p.cursor++
	e.lastUsedAt = p.config.Now()
	return e
}

// RandomProxy returns a uniformly random endpoint from the same candidate
// set as NextProxy.
func (p *Pool) RandomProxy() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := p.candidates()
	e := candidates[rand.IntN(len(candidates))]
	e.lastUsedAt = p.config.Now()
	return e
}

// ReportSuccess records a successful request through e and re-admits it to
// the healthy subset if it had been demoted.
func (p *Pool) ReportSuccess(e *Endpoint, responseTime time.Duration) {
	p.mu.Lock()
	e.successCount++
	e.lastResponseTime = responseTime
	revived := !e.healthy
	if revived {
		e.healthy = true
		if !slices.Contains(p.healthy, e) {
			p.healthy = append(p.healthy, e)
		}
	}
	p.mu.Unlock()

	if revived {
		p.logger.Info(p.ctx, "proxy back online", observe.F("proxy", e.Address()))
	}
}

// ReportFailure records a failed request through e. The endpoint is demoted
// once its success rate is below 50% and it has failed more than 3 times.
func (p *Pool) ReportFailure(e *Endpoint) {
	p.mu.Lock()
	e.failureCount++
	demoted := false
	if e.successRate() < demoteBelowSuccessRate && e.failureCount > demoteAfterFailures {
		if i := slices.Index(p.healthy, e); i >= 0 {
			p.healthy = slices.Delete(p.healthy, i, i+1)
			demoted = true
		}
		e.healthy = false
	}
	failures, rate := e.failureCount, e.successRate()
	p.mu.Unlock()

	if demoted {
		p.logger.Warn(p.ctx, "removed unhealthy proxy",
			observe.F("proxy", e.Address()),
			observe.F("failures", failures),
			observe.F("success_rate", rate),
		)
	}
}

// IsHealthy reports whether e is currently in the healthy subset.
func (p *Pool) IsHealthy(e *Endpoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return e.healthy
}

// Stats returns a snapshot of every endpoint and the pool totals.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Total:     len(p.endpoints),
		Healthy:   len(p.healthy),
		LastSweep: p.lastSweep,
		Proxies:   make([]EndpointStats, 0, len(p.endpoints)),
	}
	s.Unhealthy = s.Total - s.Healthy
	for _, e := range p.endpoints {
		s.Proxies = append(s.Proxies, e.stats())
	}
	return s
}

// Stats is the pool snapshot returned by Pool.Stats.
type Stats struct {
	Total     int             `json:"total"`
	Healthy   int             `json:"healthy"`
	Unhealthy int             `json:"unhealthy"`
	LastSweep time.Time       `json:"last_sweep,omitzero"`
	Proxies   []EndpointStats `json:"proxies"`
}

// Start launches the background health sweep: one sweep immediately, then
// one every HealthCheckInterval until Close. Calling Start more than once has
// no effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run()
	})
}

func (p *Pool) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	_, _ = p.CheckHealth(p.ctx)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			_, _ = p.CheckHealth(p.ctx)
		}
	}
}

// Close stops the background sweep, waits for it to exit and releases idle
// connections. Safe to call more than once.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()

		p.clientMu.Lock()
		for _, c := range p.clients {
			c.GetClient().CloseIdleConnections()
		}
		p.clientMu.Unlock()
		p.logger.Info(context.Background(), "proxy pool closed")
	})
	return nil
}
