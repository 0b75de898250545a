package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithContext_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := RetryWithContext(ctx, 3, func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected 0 calls due to immediate cancellation, got %d", calls)
	}
}

func TestRetryWithContext_FunctionReturnsContextError(t *testing.T) {
	calls := 0
	_, err := RetryWithContext(context.Background(), 3, func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 0, context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryWithBackoff_WaitsBetweenAttempts(t *testing.T) {
	b := Backoff{Initial: 5 * time.Millisecond, Max: 10 * time.Millisecond}
	start := time.Now()
	errTransient := errors.New("transient")
	calls := 0
	_, err := RetryWithBackoff(context.Background(), 3, b, func(ctx context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected the last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("expected at least 15ms of backoff, got %s", elapsed)
	}
}

func TestRetryWithBackoff_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	b := Backoff{Initial: time.Second, Max: time.Second}
	_, err := RetryWithBackoff(ctx, 5, b, func(ctx context.Context) (int, error) {
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRetryWithContext_ReturnsFirstSuccess(t *testing.T) {
	calls := 0
	got, err := RetryWithContext(context.Background(), 5, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" || calls != 3 {
		t.Fatalf("got %q after %d calls, err %v", got, calls, err)
	}
}

func TestBackoffSchedule(t *testing.T) {
	delays := Backoff{Initial: 100 * time.Millisecond, Max: time.Second}.Schedule()
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		got, stop := delays.Next()
		if stop {
			t.Fatalf("schedule stopped at retry %d", i+1)
		}
		if got != w {
			t.Fatalf("retry %d waits %s, want %s", i+1, got, w)
		}
	}

	if got, _ := (Backoff{}).Schedule().Next(); got != DefaultBackoff.Initial {
		t.Fatalf("expected default initial delay, got %s", got)
	}
}
