package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout_Success(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Errorf("WithTimeout() = %d, %v; want 42, nil", v, err)
	}
}

func TestWithTimeout_ReturnsOpError(t *testing.T) {
	testErr := errors.New("boom")
	err := ExecuteWithTimeout(context.Background(), time.Second, func(context.Context) error {
		return testErr
	})
	if !errors.Is(err, testErr) {
		t.Errorf("ExecuteWithTimeout() error = %v, want %v", err, testErr)
	}
}

func TestWithTimeout_Expires(t *testing.T) {
	opDone := make(chan error, 1)
	err := ExecuteWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		opDone <- ctx.Err()
		return ctx.Err()
	})

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if KindOf(err) != KindTimeout {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), KindTimeout)
	}
	select {
	case opErr := <-opDone:
		if !errors.Is(opErr, context.DeadlineExceeded) {
			t.Errorf("op saw %v, want DeadlineExceeded", opErr)
		}
	case <-time.After(time.Second):
		t.Error("op context was not cancelled")
	}
}

func TestWithTimeout_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ExecuteWithTimeout(ctx, time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRunAttempt_ZeroTimeoutRunsInline(t *testing.T) {
	_, err := runAttempt(context.Background(), 0, func(ctx context.Context) (struct{}, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("unexpected deadline")
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Errorf("runAttempt() error = %v", err)
	}
}
