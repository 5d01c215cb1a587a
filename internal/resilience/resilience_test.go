package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	v, err := Retry(context.Background(), Counters{}, 5, time.Millisecond, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("want 42, got %d", v)
	}
	if attempts != 3 {
		t.Fatalf("want 3 attempts, got %d", attempts)
	}
}

func TestRetryExhausted(t *testing.T) {
	_, err := Retry(context.Background(), Counters{}, 2, time.Millisecond, func() (int, error) {
		return 0, errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
}

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(time.Second, 4, 3, 0.5, 10*time.Millisecond, 1)

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("expected closed breaker to allow call %d", i)
		}
		cb.RecordResult(false)
	}
	if cb.Allow() {
		t.Fatal("expected breaker to be open after tripping threshold")
	}

	time.Sleep(15 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected half-open probe to be allowed after cooldown")
	}
	cb.RecordResult(true)
	if !cb.Allow() {
		t.Fatal("expected breaker to be closed again after successful probe")
	}
}
