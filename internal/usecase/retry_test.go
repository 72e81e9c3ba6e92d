package usecase

import (
	"testing"
	"time"
)

func TestRetryPolicyDelaySchedule(t *testing.T) {
	t.Parallel()

	policy := DefaultRetryPolicy()
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	for i, expected := range want {
		delay, ok := policy.Delay(i + 1)
		if !ok {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
		if delay != expected {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, expected, delay)
		}
	}
	if _, ok := policy.Delay(4); ok {
		t.Fatalf("fourth attempt must not be allowed")
	}
	if _, ok := policy.Delay(0); ok {
		t.Fatalf("attempt zero must not be allowed")
	}
}

func TestRetryPolicyCapsDelay(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
	delay, ok := policy.Delay(8)
	if !ok || delay != 500*time.Millisecond {
		t.Fatalf("expected capped 500ms, got %v ok=%v", delay, ok)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	if got := (RetryPolicy{}).withDefaults(); got != DefaultRetryPolicy() {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}
