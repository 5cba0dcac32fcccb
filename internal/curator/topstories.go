package curator

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/storypipe/storypipe/internal/pipeline"
)

// frontPageLimit caps how many ranked story IDs one discovery inspects.
const frontPageLimit = 100

// TopStories discovers URLs from a ranked story listing (Hacker News
// shaped API: a ranked ID list plus per-ID item documents).
type TopStories struct {
	client      *http.Client
	baseURL     string
	concurrency int
	logger      *zap.Logger
}

// NewTopStories builds the ranked-listing source. baseURL is the API
// root, e.g. https://hacker-news.firebaseio.com/v0.
func NewTopStories(client *http.Client, baseURL string, concurrency int, logger *zap.Logger) *TopStories {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &TopStories{client: client, baseURL: baseURL, concurrency: concurrency, logger: logger}
}

// Provider implements Source.
func (s *TopStories) Provider() pipeline.Provider {
	return pipeline.ProviderTopStories
}

type rankedItem struct {
	ID    int64  `json:"id"`
	Score int    `json:"score"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type"`
}

// Discover lists the ranked IDs and fans out per-item lookups. Items
// whose lookup fails are skipped; only the listing call itself is fatal.
func (s *TopStories) Discover(ctx context.Context, item pipeline.Item) ([]pipeline.CandidateURL, error) {
	if err := assertProvider(pipeline.ProviderTopStories, item); err != nil {
		return nil, err
	}

	var ids []int64
	if err := getJSON(ctx, s.client, s.baseURL+"/topstories.json", nil, &ids); err != nil {
		return nil, fmt.Errorf("list top stories: %w", err)
	}
	if len(ids) > frontPageLimit {
		ids = ids[:frontPageLimit]
	}

	results := make([]*rankedItem, len(ids))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(slot int, id int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var ri rankedItem
			url := fmt.Sprintf("%s/item/%d.json", s.baseURL, id)
			if err := getJSON(ctx, s.client, url, nil, &ri); err != nil {
				s.logger.Debug("skipping ranked item", zap.Int64("id", id), zap.Error(err))
				return
			}
			results[slot] = &ri
		}(i, id)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := make([]pipeline.CandidateURL, 0, len(results))
	for _, ri := range results {
		if ri == nil || ri.URL == "" || ri.Type != "story" {
			continue
		}
		if ri.Score < item.Threshold {
			continue
		}
		candidates = append(candidates, pipeline.CandidateURL{
			URL: ri.URL,
			Metadata: map[string]any{
				"id":    ri.ID,
				"score": ri.Score,
				"title": ri.Title,
			},
		})
	}
	return candidates, nil
}
