package lock

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy controls the caller-side backoff loop around acquisition
// attempts. The wait after attempt n is
//
//	min(MaxBackoffFactor, 2^n) * BaseDelay + uniform(0, BaseDelay)
//
// and the total elapsed time never exceeds AcquireTimeout. A zero
// AcquireTimeout means exactly one attempt.
type RetryPolicy struct {
	AcquireTimeout   time.Duration
	BaseDelay        time.Duration
	MaxBackoffFactor int
}

// DefaultRetryPolicy returns the retry settings used by the upload
// workflows: short base delay, bounded exponent, a few seconds overall.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		AcquireTimeout:   5 * time.Second,
		BaseDelay:        50 * time.Millisecond,
		MaxBackoffFactor: 16,
	}
}

// NoRetry returns a policy performing a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// delay computes the backoff for the given zero-based attempt number.
func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 50 * time.Millisecond
	}

	maxFactor := p.MaxBackoffFactor
	if maxFactor <= 0 {
		maxFactor = 16
	}

	factor := 1
	for i := 0; i < attempt && factor < maxFactor; i++ {
		factor *= 2
	}
	if factor > maxFactor {
		factor = maxFactor
	}

	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	return time.Duration(factor)*base + jitter
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
