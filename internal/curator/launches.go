package curator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/storypipe/storypipe/internal/pipeline"
)

// Launches discovers URLs from a product-launch listing API.
type Launches struct {
	client  *http.Client
	baseURL string
}

// NewLaunches builds the launch-listing source.
func NewLaunches(client *http.Client, baseURL string) *Launches {
	return &Launches{client: client, baseURL: baseURL}
}

// Provider implements Source.
func (s *Launches) Provider() pipeline.Provider {
	return pipeline.ProviderLaunches
}

type launchesResponse struct {
	Launches []struct {
		Name    string `json:"name"`
		Tagline string `json:"tagline"`
		URL     string `json:"url"`
		Votes   int    `json:"votes"`
	} `json:"launches"`
}

// Discover lists launches, optionally narrowed by the strategy category,
// and keeps entries at or above the item vote threshold. A strategy
// token is passed through as a bearer credential.
func (s *Launches) Discover(ctx context.Context, item pipeline.Item) ([]pipeline.CandidateURL, error) {
	if err := assertProvider(pipeline.ProviderLaunches, item); err != nil {
		return nil, err
	}
	endpoint := s.baseURL
	if item.Strategy.Category != "" {
		q := url.Values{}
		q.Set("category", item.Strategy.Category)
		endpoint += "?" + q.Encode()
	}

	var header http.Header
	if item.Strategy.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + item.Strategy.Token}}
	}

	var resp launchesResponse
	if err := getJSON(ctx, s.client, endpoint, header, &resp); err != nil {
		return nil, fmt.Errorf("list launches: %w", err)
	}

	candidates := make([]pipeline.CandidateURL, 0, len(resp.Launches))
	for _, launch := range resp.Launches {
		if launch.URL == "" || launch.Votes < item.Threshold {
			continue
		}
		candidates = append(candidates, pipeline.CandidateURL{
			URL: launch.URL,
			Metadata: map[string]any{
				"name":    launch.Name,
				"tagline": launch.Tagline,
				"votes":   launch.Votes,
			},
		})
	}
	return candidates, nil
}
