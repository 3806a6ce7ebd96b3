package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means attempts flow normally.
	StateClosed State = iota
	// StateOpen means attempts are rejected until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen means a single probe attempt is allowed through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in errors and callbacks.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before admitting a probe.
	// Default: 60 seconds
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests is the number of probes admitted while half-open.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)

	// IsFailure determines if an error counts as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// CircuitBreaker implements the circuit breaker pattern.
//
// State changes only through ShouldAttempt, RecordSuccess, RecordFailure and
// Reset; Abandon only frees a half-open slot. Reading the state never
// transitions it.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         State
	failures      int
	successes     int64
	rejections    int64
	lastFailure   time.Time
	halfOpenCount int
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.config.Name }

// ShouldAttempt reports whether an attempt may proceed.
//
// An open breaker whose recovery timeout has elapsed moves to half-open and
// admits the caller as the probe.
func (cb *CircuitBreaker) ShouldAttempt() bool {
	cb.mu.Lock()

	from := cb.state
	allowed := true

	switch cb.state {
	case StateOpen:
		if cb.config.Now().Sub(cb.lastFailure) >= cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.halfOpenCount = 1
		} else {
			allowed = false
		}
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			allowed = false
		} else {
			cb.halfOpenCount++
		}
	}

	if !allowed {
		cb.rejections++
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return allowed
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()

	from := cb.state
	cb.failures = 0
	cb.successes++
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.halfOpenCount = 0
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// RecordFailure counts a failure. A closed circuit opens at the threshold;
// a failed half-open probe reopens the circuit and restarts the recovery timeout.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()

	from := cb.state
	cb.failures++
	cb.lastFailure = cb.config.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.halfOpenCount = 0
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// Abandon releases an attempt admitted by ShouldAttempt without recording an
// outcome. A half-open breaker frees the slot for the next caller.
func (cb *CircuitBreaker) Abandon() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenCount > 0 {
		cb.halfOpenCount--
	}
}

// Record feeds the outcome of an attempt into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	if cb.config.IsFailure(err) {
		cb.RecordFailure()
		return
	}
	cb.RecordSuccess()
}

// Execute runs op if the breaker admits it and records the outcome.
// A rejected attempt returns a *CircuitOpenError without calling op.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !cb.ShouldAttempt() {
		return cb.openError(nil)
	}

	err := op(ctx)
	cb.Record(err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCount = 0
	cb.mu.Unlock()

	cb.notify(from, StateClosed)
}

func (cb *CircuitBreaker) openError(last error) *CircuitOpenError {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var retryAfter time.Duration
	if cb.state == StateOpen {
		retryAfter = cb.config.RecoveryTimeout - cb.config.Now().Sub(cb.lastFailure)
		if retryAfter < 0 {
			retryAfter = 0
		}
	}
	return &CircuitOpenError{Operation: cb.config.Name, RetryAfter: retryAfter, Last: last}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// Metrics returns a snapshot of the breaker.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		Name:        cb.config.Name,
		State:       cb.state,
		Failures:    cb.failures,
		Threshold:   cb.config.FailureThreshold,
		Successes:   cb.successes,
		Rejections:  cb.rejections,
		LastFailure: cb.lastFailure,
	}
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	Threshold   int       `json:"threshold"`
	Successes   int64     `json:"successes"`
	Rejections  int64     `json:"rejections"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}
