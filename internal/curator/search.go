package curator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/storypipe/storypipe/internal/pipeline"
)

// Search discovers URLs through a keyword search API (Algolia shaped:
// a hits array with points and object IDs).
type Search struct {
	client  *http.Client
	baseURL string
}

// NewSearch builds the keyword-search source.
func NewSearch(client *http.Client, baseURL string) *Search {
	return &Search{client: client, baseURL: baseURL}
}

// Provider implements Source.
func (s *Search) Provider() pipeline.Provider {
	return pipeline.ProviderSearch
}

type searchResponse struct {
	Hits []struct {
		ObjectID string `json:"objectID"`
		Title    string `json:"title"`
		URL      string `json:"url"`
		Points   int    `json:"points"`
	} `json:"hits"`
}

// Discover runs the configured query and keeps hits at or above the
// item threshold.
func (s *Search) Discover(ctx context.Context, item pipeline.Item) ([]pipeline.CandidateURL, error) {
	if err := assertProvider(pipeline.ProviderSearch, item); err != nil {
		return nil, err
	}
	if item.Strategy.Query == "" {
		return nil, fmt.Errorf("%w: search strategy requires a query", pipeline.ErrProviderMismatch)
	}

	q := url.Values{}
	q.Set("query", item.Strategy.Query)
	q.Set("tags", "story")

	var resp searchResponse
	if err := getJSON(ctx, s.client, s.baseURL+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("search %q: %w", item.Strategy.Query, err)
	}

	candidates := make([]pipeline.CandidateURL, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if hit.URL == "" || hit.Points < item.Threshold {
			continue
		}
		candidates = append(candidates, pipeline.CandidateURL{
			URL: hit.URL,
			Metadata: map[string]any{
				"objectID": hit.ObjectID,
				"points":   hit.Points,
				"title":    hit.Title,
			},
		})
	}
	return candidates, nil
}
