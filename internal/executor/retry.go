package executor

import (
	"context"
	"time"

	"drip/internal/ledger"
	"drip/internal/logger"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
)

// RetryPolicy runs a submission up to MaxRetries attempts with exponential
// backoff (BaseDelay, then doubling: 1s, 2s, 4s, ...). The final attempt's
// failure is propagated, not swallowed. Non-retryable ledger errors
// (invalid input, order state, permanent rejection) short-circuit.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryPolicy(maxRetries int, baseDelay time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return RetryPolicy{MaxRetries: maxRetries, BaseDelay: baseDelay, sleep: sleepCtx}
}

// Do invokes fn until it succeeds or the attempt budget is spent. It returns
// the number of failed attempts that preceded the final outcome.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) (retries int, err error) {
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
	maxAttempts := p.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRetries
	}

	delay := p.BaseDelay
	if delay <= 0 {
		delay = DefaultBaseDelay
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if !ledger.Retryable(err) {
			logger.Warnf("%s: non-retryable failure (attempt %d/%d): %v", op, attempt+1, maxAttempts, err)
			return attempt, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		logger.Warnf("%s: attempt %d/%d failed, retrying in %s: %v", op, attempt+1, maxAttempts, delay, err)
		if serr := p.sleep(ctx, delay); serr != nil {
			return attempt, serr
		}
		delay *= 2
	}
	return maxAttempts - 1, err
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
