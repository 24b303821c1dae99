package providers

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// RetryPolicy configures bounded exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int           // total attempts including the first (min 1)
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // delay ceiling
	Multiplier   float64       // exponential growth factor
	Jitter       bool          // ±25% randomization to avoid thundering herds
}

// DefaultRetryPolicy matches the subsystem default of 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer retries an operation under a policy. Only errors marked retryable
// via types.IsRetryable are attempted again; dimension mismatches, isolation
// violations, and auth failures fail fast on the first occurrence.
type Retryer struct {
	policy RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryer creates a Retryer, normalizing out-of-range policy values.
func NewRetryer(policy RetryPolicy, logger *zap.Logger) *Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 10 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	return &Retryer{
		policy: policy,
		logger: logger.With(zap.String("component", "retryer")),
		sleep:  sleepCtx,
	}
}

// Do executes fn, retrying retryable failures with exponential backoff until
// the policy is exhausted or the context is cancelled.
func (r *Retryer) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.delay(attempt)
			r.logger.Debug("retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := r.sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s: retry cancelled: %w", op, err)
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !types.IsRetryable(lastErr) {
			return lastErr
		}
	}

	r.logger.Warn("retries exhausted",
		zap.String("op", op),
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr))
	return lastErr
}

func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-2))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := d * 0.25
		d += (rand.Float64()*2 - 1) * jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
