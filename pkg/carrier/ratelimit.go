package carrier

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter keeps poll sweeps from hammering the carrier API. The limit is
// expressed in requests per minute to match the carrier's published quota.
type RateLimiter struct{ l *rate.Limiter }

func NewRateLimiter(rpm, burst int) *RateLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		l: rate.NewLimiter(rate.Limit(rpm)/60, burst),
	}
}

func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.l.Wait(ctx)
}
