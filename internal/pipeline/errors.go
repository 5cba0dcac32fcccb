package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Failure taxonomy. Each value marks the smallest unit it may abort:
// ErrProviderMismatch aborts the item run (configuration error), the
// rest are contained to a single URL or content entry.
var (
	ErrProviderMismatch = errors.New("provider mismatch")
	ErrUpstreamFetch    = errors.New("upstream fetch failed")
	ErrRateLimited      = errors.New("rate limited by upstream")
	ErrExtraction       = errors.New("no readable content extracted")
	ErrSummarization    = errors.New("summarization failed")
)

// RateLimitError reports an upstream 429 together with the server-provided
// retry hint, when present. It unwraps to ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by upstream (retry after %s)", e.RetryAfter)
	}
	return "rate limited by upstream"
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
