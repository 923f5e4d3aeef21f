package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes a bounded exponential backoff schedule. The zero value is
// not usable; construct one explicitly so the schedule stays visible at the
// call site instead of hidden in broker or framework configuration.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultConsumerPolicy is the schedule applied to event consumers:
// one original delivery plus three retries at 1s, 2s and 4s.
func DefaultConsumerPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Second,
	}
}

// DelayForAttempt returns the backoff before the given retry attempt.
// Attempt 1 is the first retry (the original delivery is attempt 0).
func (p Policy) DelayForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if time.Duration(delay) >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retries returns how many redeliveries the policy allows after the
// original attempt.
func (p Policy) Retries() int {
	if p.MaxAttempts < 1 {
		return 0
	}
	return p.MaxAttempts - 1
}

// Do invokes fn up to MaxAttempts times, sleeping the scheduled backoff
// between attempts. When every attempt fails, onExhausted is invoked once
// with the final error before it is returned. onExhausted may be nil.
func (p Policy) Do(ctx context.Context, fn func() error, onExhausted func(error)) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if sleepErr := sleep(ctx, p.DelayForAttempt(attempt)); sleepErr != nil {
				return sleepErr
			}
		}

		if err = fn(); err == nil {
			return nil
		}
	}

	if onExhausted != nil {
		onExhausted(err)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry interrupted: %w", ctx.Err())
	}
}
