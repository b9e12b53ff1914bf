package interp

import (
	"testing"
	"time"

	"workflowcore/internal/node"
)

func policyWith(kind string, delay string, jitter bool) *node.RetryPolicy {
	p := &node.RetryPolicy{Delay: delay}
	p.Backoff.Kind = kind
	p.Backoff.Jitter = jitter
	return p
}

func TestRetryDelayConstant(t *testing.T) {
	p := policyWith("constant", "2s", false)
	for attempt := 1; attempt <= 3; attempt++ {
		got := retryDelay(p, attempt)
		if got != 2*time.Second {
			t.Errorf("attempt %d: retryDelay() = %v, want 2s constant", attempt, got)
		}
	}
}

func TestRetryDelayLinearGrowsWithAttempt(t *testing.T) {
	p := policyWith("linear", "1s", false)
	prev := time.Duration(0)
	for attempt := 1; attempt <= 3; attempt++ {
		got := retryDelay(p, attempt)
		want := time.Duration(attempt) * time.Second
		if got != want {
			t.Errorf("attempt %d: retryDelay() = %v, want %v", attempt, got, want)
		}
		if got <= prev {
			t.Errorf("attempt %d: retryDelay() = %v, want strictly greater than previous %v", attempt, got, prev)
		}
		prev = got
	}
}

func TestRetryDelayExponentialDoublesRoughly(t *testing.T) {
	p := policyWith("exponential", "1s", false)
	first := retryDelay(p, 1)
	second := retryDelay(p, 2)
	if second <= first {
		t.Errorf("second attempt delay %v should exceed first %v", second, first)
	}
}

func TestRetryDelayFallsBackToDefaultOnBadDuration(t *testing.T) {
	p := policyWith("constant", "not-a-duration", false)
	got := retryDelay(p, 1)
	if got != time.Second {
		t.Errorf("retryDelay() with invalid delay = %v, want default 1s", got)
	}
}

func TestRetryAllowedRespectsAttemptCount(t *testing.T) {
	p := &node.RetryPolicy{}
	p.Limit.Attempt.Count = 3

	if !retryAllowed(p, 3, 0) {
		t.Error("retryAllowed(attempt=3, limit=3) = false, want true")
	}
	if retryAllowed(p, 4, 0) {
		t.Error("retryAllowed(attempt=4, limit=3) = true, want false")
	}
}

func TestRetryAllowedRespectsDurationLimit(t *testing.T) {
	p := &node.RetryPolicy{}
	p.Limit.Duration = "1m"

	if !retryAllowed(p, 1, 30*time.Second) {
		t.Error("retryAllowed(elapsed=30s, limit=1m) = false, want true")
	}
	if retryAllowed(p, 1, 2*time.Minute) {
		t.Error("retryAllowed(elapsed=2m, limit=1m) = true, want false")
	}
}

func TestRetryAllowedNoLimitsAlwaysAllows(t *testing.T) {
	p := &node.RetryPolicy{}
	if !retryAllowed(p, 1000, 24*time.Hour) {
		t.Error("retryAllowed() with no configured limits = false, want true")
	}
}
