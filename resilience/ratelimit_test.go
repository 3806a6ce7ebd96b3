package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiter_AdmitsUpToLimit(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 3, Now: clock.Now})

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() #%d = false, want true", i+1)
		}
	}
	if rl.Allow() {
		t.Fatal("Allow() beyond limit = true")
	}
	if rl.Count() != 3 {
		t.Errorf("Count() = %d, want 3", rl.Count())
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 2, Now: clock.Now})

	rl.Allow()
	clock.Advance(30 * time.Second)
	rl.Allow()

	clock.Advance(30 * time.Second)
	if !rl.Allow() {
		t.Fatal("oldest admission should have left the window")
	}
	if rl.Allow() {
		t.Fatal("second admission at 60s should be refused")
	}
	if rl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", rl.Count())
	}
}

func TestRateLimiter_WaitIfNeededSuspends(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 2, Window: 80 * time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := rl.WaitIfNeeded(ctx); err != nil {
			t.Fatalf("WaitIfNeeded() error = %v", err)
		}
	}

	start := time.Now()
	if err := rl.WaitIfNeeded(ctx); err != nil {
		t.Fatalf("WaitIfNeeded() error = %v", err)
	}
	if waited := time.Since(start); waited < 40*time.Millisecond {
		t.Errorf("third call waited %v, want it to suspend until the window slides", waited)
	}
	if m := rl.Metrics(); m.Waits == 0 {
		t.Error("Metrics().Waits = 0, want > 0")
	}
}

func TestRateLimiter_WaitIfNeededHonorsContext(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 1})
	_ = rl.WaitIfNeeded(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.WaitIfNeeded(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
	if rl.Count() != 1 {
		t.Errorf("Count() = %d, want 1 (cancelled caller not recorded)", rl.Count())
	}
}

func TestRateLimiter_OnWait(t *testing.T) {
	var got atomic.Int64
	rl := NewRateLimiter(RateLimiterConfig{
		Name:              "jina",
		RequestsPerMinute: 1,
		Window:            20 * time.Millisecond,
		OnWait: func(name string, wait time.Duration) {
			if name == "jina" {
				got.Store(int64(wait))
			}
		},
	})
	_ = rl.WaitIfNeeded(context.Background())
	_ = rl.WaitIfNeeded(context.Background())

	if got.Load() <= 0 {
		t.Error("OnWait not called with a positive wait")
	}
}

func TestRateLimiter_NeverExceedsLimitConcurrently(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 5})
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 5 {
		t.Errorf("admitted = %d, want 5", admitted.Load())
	}
}

func TestRateLimiter_ExecuteAndReset(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 1})
	ran := false
	if err := rl.Execute(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	}); err != nil || !ran {
		t.Fatalf("Execute() = %v, ran=%v", err, ran)
	}

	rl.Reset()
	if rl.Count() != 0 {
		t.Errorf("Count() after Reset = %d, want 0", rl.Count())
	}
}

func TestLimiters(t *testing.T) {
	limiters := NewLimiters(nil)
	limiters.Add("serper", 1)

	ctx := context.Background()
	if err := limiters.WaitIfNeeded(ctx, "unknown"); err != nil {
		t.Fatalf("unknown limiter error = %v", err)
	}
	if err := limiters.WaitIfNeeded(ctx, "serper"); err != nil {
		t.Fatalf("WaitIfNeeded() error = %v", err)
	}
	if limiters.Get("serper").Allow() {
		t.Error("serper should be at its limit")
	}
	if n := len(limiters.Metrics()); n != 1 {
		t.Errorf("Metrics() len = %d, want 1", n)
	}
}
