// Package reaper fetches candidate URLs and turns them into cached
// Content entries, falling back to the remote scrape provider when the
// local path yields nothing readable.
package reaper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/storypipe/storypipe/internal/pipeline"
)

// FetchConfig controls collector behavior.
type FetchConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher performs single-page GETs using a Colly collector. The base
// collector is cloned per fetch so concurrent calls do not share hook
// state.
type Fetcher struct {
	cfg  FetchConfig
	base *colly.Collector
}

// NewFetcher builds a Fetcher.
func NewFetcher(cfg FetchConfig) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	return &Fetcher{cfg: cfg, base: c}
}

// Fetch retrieves the raw page body. A 429 maps to the rate-limit
// marker, other failures to upstream fetch errors.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.IgnoreRobotsTxt = true

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	var visitErr error
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case visitErr = <-done:
	}

	if status == http.StatusTooManyRequests {
		return nil, &pipeline.RateLimitError{}
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("%w: get %s: %v", pipeline.ErrUpstreamFetch, pageURL, fetchErr)
	}
	if visitErr != nil {
		return nil, fmt.Errorf("%w: get %s: %v", pipeline.ErrUpstreamFetch, pageURL, visitErr)
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: get %s: status %d", pipeline.ErrUpstreamFetch, pageURL, status)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: get %s: empty body", pipeline.ErrUpstreamFetch, pageURL)
	}
	return body, nil
}
