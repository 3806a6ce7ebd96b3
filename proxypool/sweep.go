package proxypool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/netguard/health"
	"github.com/jonwraymond/netguard/observe"
	"github.com/jonwraymond/netguard/resilience"
)

// SweepResult summarises one health sweep.
type SweepResult struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Healthy  int           `json:"healthy"`
	Total    int           `json:"total"`
}

// CheckHealth probes every endpoint once. Probe failures only update endpoint
// state; the returned error is non-nil only when ctx ends before the sweep
// does.
//
// Concurrent callers share a single in-flight sweep. The sweep itself runs on
// the pool's lifetime context, so cancelling ctx abandons the wait without
// interrupting the probes.
func (p *Pool) CheckHealth(ctx context.Context) (SweepResult, error) {
	ch := p.sweeps.DoChan("sweep", func() (any, error) {
		return p.sweep(), nil
	})
	select {
	case r := <-ch:
		return r.Val.(SweepResult), nil
	case <-ctx.Done():
		return SweepResult{}, ctx.Err()
	}
}

func (p *Pool) sweep() SweepResult {
	res := SweepResult{
		ID:      uuid.NewString(),
		Started: p.config.Now(),
		Total:   len(p.endpoints),
	}
	ctx, span := p.config.Tracer.StartSpan(p.ctx,
		observe.Operation{Name: "sweep", Component: "proxypool"},
		attribute.String("sweep.id", res.ID),
	)
	logger := p.logger.With(observe.F("sweep_id", res.ID))
	logger.Info(ctx, "starting proxy health sweep", observe.F("proxies", res.Total))

	start := time.Now()
	g := new(errgroup.Group)
	g.SetLimit(p.config.CheckConcurrency)
	for _, e := range p.endpoints {
		g.Go(func() error {
			p.probe(ctx, logger, e)
			return nil
		})
	}
	_ = g.Wait()
	res.Duration = time.Since(start)

	p.mu.Lock()
	p.lastSweep = p.config.Now()
	res.Healthy = len(p.healthy)
	p.mu.Unlock()

	p.config.Metrics.RecordProxyHealth(ctx, res.Healthy, res.Total)
	p.config.Tracer.EndSpan(span, nil)
	logger.Info(ctx, "proxy health sweep complete",
		observe.F("healthy", res.Healthy),
		observe.F("total", res.Total),
		observe.F("duration_ms", res.Duration.Milliseconds()),
	)
	return res
}

// probe fetches CheckURL through e. Only HTTP 200 counts as success.
func (p *Pool) probe(ctx context.Context, logger observe.Logger, e *Endpoint) {
	ctx, cancel := context.WithTimeout(ctx, p.config.CheckTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client(e).R().
		SetContext(ctx).
		SetHeader("User-Agent", probeUserAgent).
		Get(p.config.CheckURL)
	rt := time.Since(start)

	p.mu.Lock()
	e.lastCheckedAt = p.config.Now()
	p.mu.Unlock()

	if err == nil && resp.StatusCode() != http.StatusOK {
		err = &resilience.TransportError{
			Method:     http.MethodGet,
			URL:        p.config.CheckURL,
			Proxy:      e.Address(),
			StatusCode: resp.StatusCode(),
		}
	}
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.ReportFailure(e)
		logger.Debug(ctx, "proxy probe failed", observe.F("proxy", e.Address()), observe.Err(err))
		return
	}
	p.ReportSuccess(e, rt)
	logger.Debug(ctx, "proxy healthy",
		observe.F("proxy", e.Address()),
		observe.F("response_ms", rt.Milliseconds()),
	)
}

// ErrNoHealthyProxies is attached to the unhealthy health result.
var ErrNoHealthyProxies = errors.New("no healthy proxies")

// Checker reports the pool as a health check: unhealthy when no endpoint is
// healthy, degraded when some are not.
func (p *Pool) Checker() health.CheckFunc {
	return func(ctx context.Context) (health.Result, error) {
		s := p.Stats()
		details := map[string]any{
			"total":     s.Total,
			"healthy":   s.Healthy,
			"unhealthy": s.Unhealthy,
		}
		if !s.LastSweep.IsZero() {
			details["last_sweep"] = s.LastSweep
		}

		var res health.Result
		switch {
		case s.Healthy == 0:
			res = health.Unhealthy("no healthy proxies", ErrNoHealthyProxies)
		case s.Unhealthy > 0:
			res = health.Degraded(fmt.Sprintf("%d of %d proxies unhealthy", s.Unhealthy, s.Total))
		default:
			res = health.Healthy(fmt.Sprintf("%d proxies healthy", s.Total))
		}
		return res.WithDetails(details), nil
	}
}
