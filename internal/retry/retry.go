// Package retry provides the explicit retry policy shared by the scrape
// and summarization clients.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/storypipe/storypipe/internal/pipeline"
)

// Policy bounds retry attempts and spaces them with jittered backoff.
// A rate-limited upstream may override the backoff via the Retry-After
// duration it supplies.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns sane defaults for upstream API calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Backoff returns the wait duration before the given zero-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Do runs fn up to MaxAttempts+1 times (one initial try plus retries).
// Context errors stop retrying immediately. When the failure carries a
// Retry-After hint it replaces the computed backoff. Exhausting the
// budget reclassifies the last error as an upstream fetch failure.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := p.Backoff(attempt - 1)
			var rl *pipeline.RateLimitError
			if errors.As(lastErr, &rl) && rl.RetryAfter > 0 {
				wait = rl.RetryAfter
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return fmt.Errorf("retry wait: %w", ctx.Err())
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if !errors.Is(lastErr, pipeline.ErrRateLimited) && !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %d attempts: %v", pipeline.ErrUpstreamFetch, p.MaxAttempts+1, lastErr)
}

// retryable reports whether a non-429 error is worth another attempt.
// Provider mismatches and extraction failures are deterministic and are
// never retried.
func retryable(err error) bool {
	switch {
	case errors.Is(err, pipeline.ErrProviderMismatch):
		return false
	case errors.Is(err, pipeline.ErrExtraction):
		return false
	case errors.Is(err, pipeline.ErrSummarization):
		return false
	default:
		return true
	}
}
