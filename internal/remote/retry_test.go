package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("called %d times, want 1", calls)
	}
}

func TestRetry_SucceedsSecondAttempt(t *testing.T) {
	sentinel := errors.New("transient")
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		if calls < 2 {
			return sentinel
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("called %d times, want 2", calls)
	}
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	sentinel := errors.New("persistent failure")
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		return sentinel
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 3 {
		t.Errorf("called %d times, want 3", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("error chain does not contain sentinel: %v", err)
	}
}

func TestRetry_ContextCancelledBeforeAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	calls := 0
	err := Retry(ctx, 3, func() error {
		calls++
		return nil
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 0 {
		t.Errorf("called %d times, want 0 (context already cancelled)", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got: %v", err)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sentinel := errors.New("fail")
	calls := 0
	err := Retry(ctx, 10, func() error {
		calls++
		return sentinel
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	// Should have made at least 1 call but fewer than 10 due to timeout.
	if calls < 1 || calls >= 10 {
		t.Errorf("calls = %d, expected between 1 and 9", calls)
	}
}

func TestBackoffDelay_Bounded(t *testing.T) {
	for attempt := 0; attempt < 8; attempt++ {
		d := backoffDelay(attempt)
		if d < baseDelay/2 {
			t.Errorf("backoffDelay(%d) = %v, below minimum %v", attempt, d, baseDelay/2)
		}
		if d >= maxDelay {
			t.Errorf("backoffDelay(%d) = %v, not below cap %v", attempt, d, maxDelay)
		}
	}
}
