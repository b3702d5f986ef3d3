package chain

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, time.Millisecond*10, func(attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, time.Millisecond*10, func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, time.Millisecond*10, func(attempt int) error {
		calls++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, 5, time.Millisecond, time.Millisecond*10, func(attempt int) error {
		calls++
		return errors.New("should not matter")
	})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 since context was already cancelled", calls)
	}
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	base := 100 * time.Millisecond
	cap := 500 * time.Millisecond
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(base, cap, attempt)
		if d > cap {
			t.Errorf("attempt %d: delay %v exceeds cap %v", attempt, d, cap)
		}
	}
}
