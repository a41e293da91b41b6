package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// Governor enforces a ceiling on outbound request rate. It is independent of
// retry: every call, including each retry attempt, waits for a token before
// going on the wire.
type Governor struct {
	limiter *rate.Limiter
}

// NewGovernor creates a governor allowing at most perMinute requests per
// minute with the given burst. A perMinute of zero or less disables limiting.
func NewGovernor(perMinute int, burst int) *Governor {
	if perMinute <= 0 {
		return &Governor{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Governor{limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)}
}

// Wait blocks until the caller may issue a request, or the context ends.
func (g *Governor) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
