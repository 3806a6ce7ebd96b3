package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RegistryConfig configures the health registry.
type RegistryConfig struct {
	// Timeout bounds each check.
	// Default: 10 seconds
	Timeout time.Duration
}

// Registry maps component names to health checks.
type Registry struct {
	config RegistryConfig
	mu     sync.RWMutex
	checks map[string]CheckFunc
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry(config ...RegistryConfig) *Registry {
	cfg := RegistryConfig{Timeout: 10 * time.Second}
	if len(config) > 0 && config[0].Timeout > 0 {
		cfg.Timeout = config[0].Timeout
	}

	return &Registry{
		config: cfg,
		checks: make(map[string]CheckFunc),
	}
}

// Register adds or replaces the check for name.
func (r *Registry) Register(name string, check CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.checks[name]; !exists {
		r.order = append(r.order, name)
	}
	r.checks[name] = check
}

// Unregister removes the check for name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.checks, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// CheckOne runs the check registered under name. Unknown names, returned
// errors and panics all produce unhealthy results.
func (r *Registry) CheckOne(ctx context.Context, name string) Result {
	r.mu.RLock()
	check, ok := r.checks[name]
	r.mu.RUnlock()

	if !ok {
		return Unhealthy(ErrNotRegistered.Error(), ErrNotRegistered)
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()
	return r.run(ctx, check)
}

// Snapshot is the aggregated health of every registered component.
type Snapshot struct {
	Healthy    bool              `json:"healthy"`
	Status     Status            `json:"status"`
	Components map[string]Result `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// SystemHealth runs every check concurrently. Healthy is true only when no
// component is unhealthy; Status additionally reports degradation.
func (r *Registry) SystemHealth(ctx context.Context) Snapshot {
	r.mu.RLock()
	checks := make(map[string]CheckFunc, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	results := make(map[string]Result, len(checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := r.run(ctx, check)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := OverallStatus(results)
	return Snapshot{
		Healthy:    status != StatusUnhealthy,
		Status:     status,
		Components: results,
		Timestamp:  time.Now(),
	}
}

// OverallStatus returns the worst status among results.
func OverallStatus(results map[string]Result) Status {
	overall := StatusHealthy
	for _, res := range results {
		if res.Status > overall {
			overall = res.Status
		}
	}
	return overall
}

func (r *Registry) run(ctx context.Context, check CheckFunc) Result {
	start := time.Now()
	resultCh := make(chan Result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("%w: %v", ErrCheckPanicked, rec)
				resultCh <- Unhealthy(fmt.Sprint(rec), err)
			}
		}()

		res, err := check(ctx)
		if err != nil {
			res = Unhealthy(err.Error(), err)
		}
		resultCh <- res
	}()

	var res Result
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		res = Unhealthy("check timed out", ErrCheckTimeout)
	}

	res.Duration = time.Since(start)
	if res.Timestamp.IsZero() {
		res.Timestamp = start
	}
	return res
}

// AsCheck exposes the whole registry as a single check, so registries can nest.
func (r *Registry) AsCheck() CheckFunc {
	return func(ctx context.Context) (Result, error) {
		snap := r.SystemHealth(ctx)
		details := make(map[string]any, len(snap.Components))
		for name, res := range snap.Components {
			details[name] = res.Status.String()
		}

		var res Result
		switch snap.Status {
		case StatusHealthy:
			res = Healthy("all checks passed")
		case StatusDegraded:
			res = Degraded("some checks degraded")
		default:
			res = Unhealthy("some checks failed", nil)
		}
		return res.WithDetails(details), nil
	}
}
