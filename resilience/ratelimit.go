package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures a sliding-window rate limiter.
type RateLimiterConfig struct {
	// Name identifies the limited API in metrics and logs.
	Name string

	// RequestsPerMinute is the maximum number of admissions per window.
	// Default: 60
	RequestsPerMinute int

	// Window is the length of the sliding window.
	// Default: 1 minute
	Window time.Duration

	// OnWait is called with the delay whenever a caller has to wait.
	OnWait func(name string, wait time.Duration)

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// RateLimiter admits at most RequestsPerMinute calls in any sliding window.
// Admission timestamps older than the window are purged on every check.
type RateLimiter struct {
	config RateLimiterConfig

	mu       sync.Mutex
	requests []time.Time
	waited   int64
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &RateLimiter{
		config:   config,
		requests: make([]time.Time, 0, config.RequestsPerMinute),
	}
}

// cleanOldRequests drops timestamps that left the window.
// Must be called with rl.mu held.
func (rl *RateLimiter) cleanOldRequests(now time.Time) {
	cutoff := now.Add(-rl.config.Window)
	i := 0
	for i < len(rl.requests) && !rl.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rl.requests = append(rl.requests[:0], rl.requests[i:]...)
	}
}

// reserve admits the caller or returns how long until the oldest admission
// leaves the window.
func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.config.Now()
	rl.cleanOldRequests(now)

	if len(rl.requests) < rl.config.RequestsPerMinute {
		rl.requests = append(rl.requests, now)
		return 0, true
	}

	wait := rl.requests[0].Add(rl.config.Window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// WaitIfNeeded blocks until the caller is admitted or ctx is done.
func (rl *RateLimiter) WaitIfNeeded(ctx context.Context) error {
	var total time.Duration
	for {
		wait, ok := rl.reserve()
		if ok {
			if total > 0 && rl.config.OnWait != nil {
				rl.config.OnWait(rl.config.Name, total)
			}
			return nil
		}

		rl.mu.Lock()
		rl.waited++
		rl.mu.Unlock()

		if err := sleep(ctx, wait); err != nil {
			return err
		}
		total += wait
	}
}

// Allow admits the caller only if the window has room.
func (rl *RateLimiter) Allow() bool {
	_, ok := rl.reserve()
	return ok
}

// Execute waits for admission and then runs op.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := rl.WaitIfNeeded(ctx); err != nil {
		return err
	}
	return op(ctx)
}

// Count returns the admissions inside the current window.
func (rl *RateLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanOldRequests(rl.config.Now())
	return len(rl.requests)
}

// Reset forgets every admission.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.requests = rl.requests[:0]
}

// Metrics returns a snapshot of the limiter.
func (rl *RateLimiter) Metrics() RateLimiterMetrics {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanOldRequests(rl.config.Now())

	return RateLimiterMetrics{
		Name:              rl.config.Name,
		RequestsPerMinute: rl.config.RequestsPerMinute,
		InWindow:          len(rl.requests),
		Waits:             rl.waited,
	}
}

// RateLimiterMetrics contains rate limiter statistics.
type RateLimiterMetrics struct {
	Name              string `json:"name"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	InWindow          int    `json:"in_window"`
	Waits             int64  `json:"waits"`
}

// Limiters holds one RateLimiter per logical API.
type Limiters struct {
	mu       sync.RWMutex
	limiters map[string]*RateLimiter
	onWait   func(name string, wait time.Duration)
}

// NewLimiters creates an empty set. onWait, if non-nil, is installed on
// every limiter added later.
func NewLimiters(onWait func(name string, wait time.Duration)) *Limiters {
	return &Limiters{
		limiters: make(map[string]*RateLimiter),
		onWait:   onWait,
	}
}

// Add registers or replaces the limiter for name.
func (l *Limiters) Add(name string, requestsPerMinute int) *RateLimiter {
	rl := NewRateLimiter(RateLimiterConfig{
		Name:              name,
		RequestsPerMinute: requestsPerMinute,
		OnWait:            l.onWait,
	})

	l.mu.Lock()
	l.limiters[name] = rl
	l.mu.Unlock()
	return rl
}

// Get returns the limiter for name, or nil.
func (l *Limiters) Get(name string) *RateLimiter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiters[name]
}

// WaitIfNeeded waits on the limiter for name. Unknown names are unlimited.
func (l *Limiters) WaitIfNeeded(ctx context.Context, name string) error {
	rl := l.Get(name)
	if rl == nil {
		return nil
	}
	return rl.WaitIfNeeded(ctx)
}

// Metrics returns a snapshot of every limiter.
func (l *Limiters) Metrics() []RateLimiterMetrics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]RateLimiterMetrics, 0, len(l.limiters))
	for _, rl := range l.limiters {
		out = append(out, rl.Metrics())
	}
	return out
}
