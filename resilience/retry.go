package resilience

import (
	"context"
	"math/rand/v2"
	"slices"
	"time"
)

// RetryPolicy configures how many times an operation runs and how long to
// wait between attempts.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Default: 3
	MaxAttempts int `json:"max_attempts"`

	// BaseDelay is the delay unit between attempts.
	// Default: 1s
	BaseDelay time.Duration `json:"base_delay"`

	// ExponentialBackoff makes the delay BaseDelay*2^attempt instead of BaseDelay.
	ExponentialBackoff bool `json:"exponential_backoff"`

	// MaxDelay caps a single delay. Zero means no cap.
	MaxDelay time.Duration `json:"max_delay,omitempty"`

	// Jitter adds up to 25% random delay.
	Jitter bool `json:"jitter,omitempty"`

	// RetryableKinds restricts retries to these error kinds. Empty means all.
	RetryableKinds []ErrorKind `json:"retryable_kinds,omitempty"`

	// AttemptTimeout bounds each attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration `json:"attempt_timeout,omitempty"`

	// RetryIf further filters retryable errors.
	RetryIf func(err error) bool `json:"-"`

	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration) `json:"-"`
}

// DefaultRetryPolicy returns three attempts with exponential backoff from one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        3,
		BaseDelay:          time.Second,
		ExponentialBackoff: true,
	}
}

// Delay returns the wait after the given zero-based attempt fails.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	if p.ExponentialBackoff {
		// Shifting past 62 bits overflows; the cap below still applies.
		if attempt > 30 {
			attempt = 30
		}
		delay = p.BaseDelay * time.Duration(1<<attempt)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// ShouldRetry reports whether err is eligible for another attempt.
func (p RetryPolicy) ShouldRetry(err error) bool {
	if !IsRetryable(err) {
		return false
	}
	if len(p.RetryableKinds) > 0 && !slices.Contains(p.RetryableKinds, KindOf(err)) {
		return false
	}
	if p.RetryIf != nil && !p.RetryIf(err) {
		return false
	}
	return true
}

// Retry executes operations under a RetryPolicy.
type Retry struct {
	policy RetryPolicy
	name   string
}

// NewRetry creates a retry executor. A non-positive MaxAttempts becomes 3
// and a negative BaseDelay becomes zero.
func NewRetry(policy RetryPolicy) *Retry {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}
	return &Retry{policy: policy}
}

// Named sets the operation name reported in exhaustion errors.
func (r *Retry) Named(name string) *Retry {
	r.name = name
	return r
}

// Policy returns the effective policy.
func (r *Retry) Policy() RetryPolicy {
	return r.policy
}

// Execute runs op until it succeeds, fails with a non-retryable error, ctx
// ends, or it runs out of attempts. Non-retryable errors are returned unchanged. After the
// final attempt the error is an *AllAttemptsExhaustedError wrapping it.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do is the value-returning form of Retry.Execute.
func Do[T any](ctx context.Context, r *Retry, op func(context.Context) (T, error)) (T, error) {
	var zero T
	p := r.policy

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		v, err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return v, nil
		}

		// The caller gave up; the op's own error says why.
		if ctx.Err() != nil {
			return zero, err
		}
		if !p.ShouldRetry(err) {
			return zero, err
		}

		if attempt == p.MaxAttempts-1 {
			return zero, &AllAttemptsExhaustedError{Operation: r.name, Attempts: p.MaxAttempts, Last: err}
		}

		delay := p.Delay(attempt)
		if p.Jitter && delay >= 4 {
			// #nosec G404 -- jitter is non-cryptographic timing variance.
			delay += time.Duration(rand.Int64N(int64(delay / 4)))
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	// Unreachable: MaxAttempts >= 1.
	return zero, ErrMaxRetriesExceeded
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
