package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonwraymond/netguard/health"
	"github.com/jonwraymond/netguard/observe"
)

const maxRecordedErrors = 100

// Registry owns one circuit breaker and one retry policy per operation name.
// Breakers and policies are created lazily from the registry defaults.
type Registry struct {
	mu             sync.RWMutex
	breakers       map[string]*CircuitBreaker
	breakerConfigs map[string]CircuitBreakerConfig
	policies       map[string]RetryPolicy
	defaultBreaker CircuitBreakerConfig
	defaultPolicy  RetryPolicy

	logger     observe.Logger
	metrics    observe.Metrics
	middleware *observe.Middleware

	errMu  sync.Mutex
	recent []ErrorContext
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l observe.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithMiddleware instruments every attempt with m and records breaker
// transitions on its metrics.
func WithMiddleware(m *observe.Middleware) RegistryOption {
	return func(r *Registry) {
		r.middleware = m
		r.metrics = m.Metrics()
	}
}

// WithDefaultBreaker sets the configuration used for breakers without an
// explicit per-operation configuration.
func WithDefaultBreaker(cfg CircuitBreakerConfig) RegistryOption {
	return func(r *Registry) { r.defaultBreaker = cfg }
}

// WithDefaultRetryPolicy sets the policy used for operations without one.
func WithDefaultRetryPolicy(p RetryPolicy) RegistryOption {
	return func(r *Registry) { r.defaultPolicy = p }
}

// WithBreakerConfig sets the breaker configuration for op.
func WithBreakerConfig(op string, cfg CircuitBreakerConfig) RegistryOption {
	return func(r *Registry) { r.breakerConfigs[op] = cfg }
}

// WithRetryPolicy sets the retry policy for op.
func WithRetryPolicy(op string, p RetryPolicy) RegistryOption {
	return func(r *Registry) { r.policies[op] = p }
}

// NewRegistry creates a registry. Without options breakers open after five
// failures and operations use DefaultRetryPolicy.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers:       make(map[string]*CircuitBreaker),
		breakerConfigs: make(map[string]CircuitBreakerConfig),
		policies:       make(map[string]RetryPolicy),
		defaultBreaker: CircuitBreakerConfig{FailureThreshold: 5},
		defaultPolicy:  DefaultRetryPolicy(),
		logger:         observe.NopLogger(),
		metrics:        observe.NopMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.middleware == nil {
		r.middleware = observe.NewMiddleware(nil, r.metrics, r.logger)
	}
	return r
}

// GetBreaker returns the breaker for op, creating it on first use.
func (r *Registry) GetBreaker(op string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[op]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[op]; ok {
		return cb
	}
	cb = r.newBreakerLocked(op)
	r.breakers[op] = cb
	return cb
}

func (r *Registry) newBreakerLocked(op string) *CircuitBreaker {
	cfg, ok := r.breakerConfigs[op]
	if !ok {
		cfg = r.defaultBreaker
	}
	cfg.Name = op

	user := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to State) {
		r.logger.Warn(context.Background(), "circuit breaker state changed",
			observe.F("operation", name),
			observe.F("from", from.String()),
			observe.F("to", to.String()),
		)
		r.metrics.RecordStateChange(context.Background(), name, from.String(), to.String())
		if user != nil {
			user(name, from, to)
		}
	}
	return NewCircuitBreaker(cfg)
}

// SetBreakerConfig replaces the breaker for op with one built from cfg.
func (r *Registry) SetBreakerConfig(op string, cfg CircuitBreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakerConfigs[op] = cfg
	r.breakers[op] = r.newBreakerLocked(op)
}

// SetRetryPolicy sets the retry policy for op.
func (r *Registry) SetRetryPolicy(op string, p RetryPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[op] = p
}

// GetRetryPolicy returns the retry policy for op, or the default.
func (r *Registry) GetRetryPolicy(op string) RetryPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policies[op]; ok {
		return p
	}
	return r.defaultPolicy
}

// RecordError counts err as a failure on the breaker for op.
func (r *Registry) RecordError(op string, err error) {
	ec := NewErrorContext(op, "resilience")
	ec.Err = err
	ec.Severity = SeverityOf(err)
	r.recordError(context.Background(), ec)
}

func (r *Registry) recordError(ctx context.Context, ec ErrorContext) {
	r.GetBreaker(ec.Operation).RecordFailure()

	r.errMu.Lock()
	if len(r.recent) >= maxRecordedErrors {
		r.recent = append(r.recent[:0], r.recent[1:]...)
	}
	r.recent = append(r.recent, ec)
	r.errMu.Unlock()

	fields := ec.Fields()
	if ec.Severity >= SeverityHigh {
		r.logger.Error(ctx, "operation error recorded", fields...)
	} else {
		r.logger.Warn(ctx, "operation error recorded", fields...)
	}
}

// RecentErrors returns the recorded errors for op, oldest first. An empty op
// returns every recorded error.
func (r *Registry) RecentErrors(op string) []ErrorContext {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	out := make([]ErrorContext, 0, len(r.recent))
	for _, ec := range r.recent {
		if op == "" || ec.Operation == op {
			out = append(out, ec)
		}
	}
	return out
}

// Execute runs fn under the breaker and retry policy registered for op.
func (r *Registry) Execute(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Run(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Run executes fn for op with circuit breaking and retries.
//
// An open breaker rejects the call with a *CircuitOpenError before any
// attempt is made. Otherwise fn runs under the op's retry policy. Every
// attempt is admitted by the breaker and its outcome recorded there, so a
// breaker that opens mid-loop ends the loop with a *CircuitOpenError that
// wraps the last failure. Attempts cut short by the caller's ctx are not
// recorded, and a panic in fn is recorded as a failure and returned as an
// error matching ErrPanic.
func Run[T any](ctx context.Context, r *Registry, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	cb := r.GetBreaker(op)

	if !cb.ShouldAttempt() {
		err := cb.openError(nil)
		r.logger.Warn(ctx, "circuit open, call rejected",
			observe.F("operation", op),
			observe.F("retry_after", err.RetryAfter),
		)
		return zero, err
	}

	policy := r.GetRetryPolicy(op)
	timeout := policy.AttemptTimeout
	policy.AttemptTimeout = 0

	var (
		attempt int
		last    error
	)
	v, err := Do(ctx, NewRetry(policy).Named(op), func(ctx context.Context) (T, error) {
		n := attempt
		attempt++
		if n > 0 && !cb.ShouldAttempt() {
			return zero, cb.openError(last)
		}

		meta := observe.Operation{Name: op, Component: "resilience", Attempt: n}
		v, err := runAttempt(ctx, timeout, func(ctx context.Context) (T, error) {
			var v T
			err := r.middleware.Wrap(meta, func(ctx context.Context) error {
				var err error
				v, err = callRecovered(ctx, op, fn)
				return err
			})(ctx)
			return v, err
		})

		// A caller that gave up says nothing about the operation.
		if err != nil && ctx.Err() != nil {
			cb.Abandon()
			return v, err
		}
		cb.Record(err)
		if err != nil {
			last = err
		}
		return v, err
	})
	if err != nil {
		r.logger.Error(ctx, "operation failed",
			observe.F("operation", op),
			observe.F("attempts", attempt),
			observe.Err(err),
		)
	}
	return v, err
}

// callRecovered runs fn, turning a panic into an error matching ErrPanic.
func callRecovered[T any](ctx context.Context, op string, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w in %s: %v", ErrPanic, op, rec)
		}
	}()
	return fn(ctx)
}

// Guard runs fn as an error boundary for op: a returned error or a panic is
// recorded against the op's breaker with a severity derived from its kind and
// then returned to the caller.
func (r *Registry) Guard(ctx context.Context, op, component string, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", op, rec)
			ec := NewErrorContext(op, component)
			ec.Err = err
			ec.Severity = SeverityCritical
			r.recordError(ctx, ec)
		}
	}()

	err = fn(ctx)
	if err != nil {
		ec := NewErrorContext(op, component)
		ec.Err = err
		ec.Severity = SeverityOf(err)
		r.recordError(ctx, ec)
	}
	return err
}

// Snapshot returns the metrics of every breaker, sorted by name.
func (r *Registry) Snapshot() []CircuitBreakerMetrics {
	r.mu.RLock()
	out := make([]CircuitBreakerMetrics, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb.Metrics())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Checker reports the registry as degraded while any breaker is open.
func (r *Registry) Checker() health.CheckFunc {
	return func(ctx context.Context) (health.Result, error) {
		var open []string
		snap := r.Snapshot()
		for _, m := range snap {
			if m.State == StateOpen {
				open = append(open, m.Name)
			}
		}

		details := map[string]any{
			"breakers": len(snap),
			"open":     open,
		}
		if len(open) > 0 {
			return health.Degraded(fmt.Sprintf("%d circuit(s) open", len(open))).WithDetails(details), nil
		}
		return health.Healthy("all circuits closed").WithDetails(details), nil
	}
}
