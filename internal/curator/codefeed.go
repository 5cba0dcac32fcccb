package curator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/storypipe/storypipe/internal/pipeline"
)

// CodeFeed discovers URLs from an Atom/RSS activity feed, typically a
// repository release or commit feed.
type CodeFeed struct {
	parser *gofeed.Parser
}

// NewCodeFeed builds the feed source. client may be nil for the default
// HTTP client.
func NewCodeFeed(client *http.Client) *CodeFeed {
	parser := gofeed.NewParser()
	if client != nil {
		parser.Client = client
	}
	return &CodeFeed{parser: parser}
}

// Provider implements Source.
func (s *CodeFeed) Provider() pipeline.Provider {
	return pipeline.ProviderCodeFeed
}

// Discover parses the strategy feed and returns one candidate per entry
// with a link.
func (s *CodeFeed) Discover(ctx context.Context, item pipeline.Item) ([]pipeline.CandidateURL, error) {
	if err := assertProvider(pipeline.ProviderCodeFeed, item); err != nil {
		return nil, err
	}
	if item.Strategy.FeedURL == "" {
		return nil, fmt.Errorf("%w: codefeed strategy requires a feed url", pipeline.ErrProviderMismatch)
	}

	feed, err := s.parser.ParseURLWithContext(item.Strategy.FeedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed %s: %v", pipeline.ErrUpstreamFetch, item.Strategy.FeedURL, err)
	}

	candidates := make([]pipeline.CandidateURL, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil || entry.Link == "" {
			continue
		}
		meta := map[string]any{
			"title": entry.Title,
			"feed":  feed.Title,
		}
		if entry.PublishedParsed != nil {
			meta["published"] = entry.PublishedParsed.UTC().Format(time.RFC3339)
		}
		candidates = append(candidates, pipeline.CandidateURL{URL: entry.Link, Metadata: meta})
	}
	return candidates, nil
}
