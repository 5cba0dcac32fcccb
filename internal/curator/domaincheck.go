package curator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/storypipe/storypipe/internal/pipeline"
)

// dnsStatusNXDomain is the DNS rcode signalling the name does not exist.
const dnsStatusNXDomain = 3

// DomainCheck probes a domain through a DNS-over-HTTPS resolver. A
// domain that does not resolve is reported as available via one
// synthetic candidate; a resolving domain produces no candidates.
type DomainCheck struct {
	client *http.Client
	dohURL string
}

// NewDomainCheck builds the availability source. dohURL is a JSON DoH
// endpoint, e.g. https://dns.google/resolve.
func NewDomainCheck(client *http.Client, dohURL string) *DomainCheck {
	return &DomainCheck{client: client, dohURL: dohURL}
}

// Provider implements Source.
func (s *DomainCheck) Provider() pipeline.Provider {
	return pipeline.ProviderDomainCheck
}

type dohResponse struct {
	Status int `json:"Status"`
	Answer []struct {
		Name string `json:"name"`
		Data string `json:"data"`
	} `json:"Answer"`
}

// Discover resolves the strategy domain.
func (s *DomainCheck) Discover(ctx context.Context, item pipeline.Item) ([]pipeline.CandidateURL, error) {
	if err := assertProvider(pipeline.ProviderDomainCheck, item); err != nil {
		return nil, err
	}
	domain := item.Strategy.Domain
	if domain == "" {
		return nil, fmt.Errorf("%w: domaincheck strategy requires a domain", pipeline.ErrProviderMismatch)
	}

	q := url.Values{}
	q.Set("name", domain)
	q.Set("type", "A")

	var resp dohResponse
	if err := getJSON(ctx, s.client, s.dohURL+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", domain, err)
	}

	if resp.Status != dnsStatusNXDomain {
		return nil, nil
	}
	return []pipeline.CandidateURL{{
		URL: "https://" + domain,
		Metadata: map[string]any{
			"domain":    domain,
			"available": true,
			"status":    resp.Status,
		},
	}}, nil
}
