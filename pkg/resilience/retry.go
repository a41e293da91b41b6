// Package resilience provides the retry and rate-limiting layer shared by
// every outbound call the migration engine makes. Retry is a data-driven
// policy executor: transient and throttled failures are retried with
// exponential backoff and jitter, everything else fails immediately.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
)

// Policy specifies how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the backoff delay before the first retry.
	BaseDelay time.Duration

	// Multiplier grows the delay between successive retries.
	Multiplier float64

	// MaxDelay caps a single backoff wait.
	MaxDelay time.Duration

	// JitterFraction is the fraction of the computed delay added as random
	// jitter (0.25 adds up to 25%).
	JitterFraction float64

	// OnRetry, when set, observes each retry before its backoff wait. The
	// attempt argument is 1 for the first retry.
	OnRetry func(attempt int)
}

// DefaultPolicy matches the destination service's published guidance:
// a handful of attempts with second-scale backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		Multiplier:     2,
		MaxDelay:       time.Minute,
		JitterFraction: 0.25,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Minute
	}
	return p
}

// Operation is a single retryable unit of work.
type Operation func(ctx context.Context) error

// Execute runs op under the policy. Retryable failures (transient, throttled)
// are retried until the policy is exhausted; any other failure is returned
// unwrapped on the first occurrence. When attempts run out the last failure
// is wrapped in a RETRIES_EXHAUSTED error.
func Execute(ctx context.Context, policy Policy, op Operation) error {
	policy = policy.withDefaults()

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if policy.OnRetry != nil {
				policy.OnRetry(attempt)
			}
			delay := policy.backoff(attempt-1, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !migrate.IsRetryable(lastErr) {
			return lastErr
		}
	}

	return migrate.NewPermanentError("retry attempts exhausted", lastErr).
		WithCode(migrate.ErrCodeRetriesExhausted)
}

// backoff computes the wait before retry number attempt+1. Throttled errors
// never wait less than the delay the service asked for.
func (p Policy) backoff(attempt int, err error) time.Duration {
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.JitterFraction > 0 {
		jitter := time.Duration(rand.Float64() * p.JitterFraction * float64(delay))
		delay += jitter
	}

	if hint := migrate.RetryAfterHint(err); hint > delay {
		delay = hint
	}
	return delay
}
