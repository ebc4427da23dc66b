package gateway

import (
	"testing"
	"time"
)

func TestRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if !policy.ShouldRetry(CloseAbnormal, 1) {
		t.Error("expected abnormal close to be retryable")
	}

	if policy.ShouldRetry(CloseAbnormal, 6) {
		t.Error("should not retry after max attempts")
	}

	delay := policy.NextDelay(1)
	if delay != 1*time.Second {
		t.Errorf("expected 1s delay, got %v", delay)
	}

	delay = policy.NextDelay(2)
	if delay != 2*time.Second {
		t.Errorf("expected 2s delay, got %v", delay)
	}

	delay = policy.NextDelay(3)
	if delay != 4*time.Second {
		t.Errorf("expected 4s delay, got %v", delay)
	}
}

func TestRetryPolicyNonRetryable(t *testing.T) {
	policy := DefaultRetryPolicy()

	if policy.ShouldRetry(CloseAuthenticationFailed, 1) {
		t.Error("expected authentication failure to be non-retryable")
	}
	if policy.ShouldRetry(CloseNormal, 1) {
		t.Error("expected normal close to be non-retryable")
	}
	if policy.ShouldRetry(4014, 1) {
		t.Error("expected disallowed intents to be non-retryable")
	}
}

func TestRetryPolicyUnlimited(t *testing.T) {
	policy := &RetryPolicy{InitialDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute}
	if !policy.ShouldRetry(CloseSessionTimedOut, 1000) {
		t.Error("zero MaxAttempts should retry forever")
	}
}

func TestRetryPolicyMaxDelayCap(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: 1 * time.Second,
		Multiplier:   10.0,
		MaxDelay:     30 * time.Second,
	}

	delay := policy.NextDelay(5)
	if delay > policy.MaxDelay {
		t.Errorf("delay %v exceeds max delay %v", delay, policy.MaxDelay)
	}
}

func TestClosePolicy(t *testing.T) {
	tests := []struct {
		code int
		want ClosePolicy
	}{
		{CloseGoingAway, PolicyResume},
		{CloseAbnormal, PolicyResume},
		{CloseUnknownError, PolicyResume},
		{CloseInvalidSeq, PolicyResume},
		{CloseSessionTimedOut, PolicyResume},
		{CloseAuthenticationFailed, PolicyReauth},
		{CloseAlreadyAuthenticated, PolicyReauth},
		{CloseNormal, PolicyReport},
		{CloseRateLimited, PolicyReport},
		{4012, PolicyReport},
	}
	for _, tt := range tests {
		if got := PolicyFor(tt.code); got != tt.want {
			t.Errorf("PolicyFor(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
