package migrate

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorClassPredicates(t *testing.T) {
	cases := []struct {
		err       error
		transient bool
		throttled bool
		retryable bool
	}{
		{NewTransientError("flaky", nil), true, false, true},
		{NewThrottledError("slow down", nil), false, true, true},
		{NewAuthError("expired", nil), false, false, false},
		{NewDataError("bad parent", nil), false, false, false},
		{NewPermanentError("forbidden", nil), false, false, false},
	}

	for _, tc := range cases {
		if IsTransient(tc.err) != tc.transient {
			t.Errorf("%v: IsTransient = %v", tc.err, !tc.transient)
		}
		if IsThrottled(tc.err) != tc.throttled {
			t.Errorf("%v: IsThrottled = %v", tc.err, !tc.throttled)
		}
		if IsRetryable(tc.err) != tc.retryable {
			t.Errorf("%v: IsRetryable = %v", tc.err, !tc.retryable)
		}
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewTransientError("page fetch failed", cause).
		WithPhase(PhaseExtract).
		WithCode(ErrCodeRateLimited).
		WithEntity("t42")

	if !errors.Is(err, cause) {
		t.Fatal("cause must be reachable through the chain")
	}

	var merr *Error
	if !errors.As(err, &merr) {
		t.Fatal("errors.As must find the classified error")
	}
	if merr.Phase != PhaseExtract || merr.Entity != "t42" {
		t.Fatalf("context lost: %+v", merr)
	}
}

func TestRetryAfterHint(t *testing.T) {
	err := NewThrottledError("throttled", nil).WithRetryAfter(45 * time.Second)
	if got := RetryAfterHint(err); got != 45*time.Second {
		t.Fatalf("expected 45s hint, got %v", got)
	}
	if got := RetryAfterHint(fmt.Errorf("plain")); got != 0 {
		t.Fatalf("expected zero hint for plain error, got %v", got)
	}
	if got := RetryAfterHint(nil); got != 0 {
		t.Fatalf("expected zero hint for nil, got %v", got)
	}
}

func TestIsAuthExpired(t *testing.T) {
	expired := NewAuthError("token expired", nil).WithCode(ErrCodeAuthExpired)
	if !IsAuthExpired(expired) {
		t.Fatal("expected auth-expired detection")
	}
	declined := NewAuthError("declined", nil).WithCode(ErrCodeAuthDeclined)
	if IsAuthExpired(declined) {
		t.Fatal("declined is not expired")
	}
}
