// Package curator discovers candidate URLs for monitored items. Each
// provider strategy is backed by one Source; the Curator dispatches on
// the strategy tag, deduplicates results and reports progress.
package curator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/storypipe/storypipe/internal/metrics"
	"github.com/storypipe/storypipe/internal/pipeline"
	"github.com/storypipe/storypipe/internal/progress"
)

// Source discovers candidate URLs for one provider kind.
type Source interface {
	Provider() pipeline.Provider
	Discover(ctx context.Context, item pipeline.Item) ([]pipeline.CandidateURL, error)
}

// Curator routes items to their provider source and post-processes the
// discovered URLs.
type Curator struct {
	sources map[pipeline.Provider]Source
	timeout time.Duration
	hub     *progress.Hub
	logger  *zap.Logger
}

// New builds a Curator over the given sources. A nil hub disables
// progress reporting.
func New(timeout time.Duration, hub *progress.Hub, logger *zap.Logger, sources ...Source) *Curator {
	byProvider := make(map[pipeline.Provider]Source, len(sources))
	for _, src := range sources {
		byProvider[src.Provider()] = src
	}
	return &Curator{
		sources: byProvider,
		timeout: timeout,
		hub:     hub,
		logger:  logger,
	}
}

// Curate returns the deduplicated candidate URLs for the item. URLs that
// normalize to the same form collapse into one candidate; the first
// occurrence wins and keeps its metadata.
func (c *Curator) Curate(ctx context.Context, item pipeline.Item) ([]pipeline.CandidateURL, error) {
	src, ok := c.sources[item.Strategy.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: no source for provider %q", pipeline.ErrProviderMismatch, item.Strategy.Provider)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	discovered, err := src.Discover(ctx, item)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(discovered))
	candidates := make([]pipeline.CandidateURL, 0, len(discovered))
	for _, cand := range discovered {
		if cand.URL == "" {
			continue
		}
		key := pipeline.NormalizeURL(cand.URL)
		if seen[key] {
			metrics.AddURLsDeduped(string(item.Strategy.Provider), 1)
			continue
		}
		seen[key] = true
		candidates = append(candidates, cand)
	}

	metrics.AddURLsCurated(string(item.Strategy.Provider), len(candidates))
	c.emit(item, len(candidates))
	c.logger.Debug("curated candidate urls",
		zap.String("item_id", item.ID),
		zap.String("provider", string(item.Strategy.Provider)),
		zap.Int("discovered", len(discovered)),
		zap.Int("kept", len(candidates)),
	)
	return candidates, nil
}

// assertProvider is the per-source discriminant check. A mismatch means
// the item was misrouted, a configuration or programming error, so the
// run aborts instead of retrying.
func assertProvider(want pipeline.Provider, item pipeline.Item) error {
	if item.Strategy.Provider != want {
		return fmt.Errorf("%w: %s source got strategy for %q", pipeline.ErrProviderMismatch, want, item.Strategy.Provider)
	}
	return nil
}

func (c *Curator) emit(item pipeline.Item, count int) {
	if c.hub == nil {
		return
	}
	c.hub.Emit(progress.Event{
		ItemID:   item.ID,
		TS:       time.Now().UTC(),
		Stage:    progress.StageCurateDone,
		Provider: string(item.Strategy.Provider),
		Count:    int64(count),
	})
}

// getJSON performs a GET request and decodes the JSON body into out.
// Non-2xx responses become upstream fetch errors; a 429 carries the
// rate-limit marker so the retry layer backs off.
func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &pipeline.RateLimitError{}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: unexpected status %d from %s", pipeline.ErrUpstreamFetch, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", pipeline.ErrUpstreamFetch, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode body: %v", pipeline.ErrUpstreamFetch, err)
	}
	return nil
}
