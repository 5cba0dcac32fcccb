// Package scrape calls the remote scraping provider used as fallback
// when local fetch and readability extraction fail.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/storypipe/storypipe/internal/pipeline"
)

// Client posts scrape jobs to the provider endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

// NewClient builds a scrape client. client may be nil for a default with
// a sane timeout.
func NewClient(client *http.Client, endpoint, apiKey string) *Client {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{httpClient: client, endpoint: endpoint, apiKey: apiKey}
}

// Result is the provider's rendition of a scraped page.
type Result struct {
	Markdown string
	HTML     string
	Title    string
	Language string
	OGTitle  string
	OGImage  string
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	Metadata struct {
		Title    string `json:"title"`
		Language string `json:"language"`
		OGTitle  string `json:"ogTitle"`
		OGImage  string `json:"ogImage"`
	} `json:"metadata"`
}

// Scrape requests a markdown+html rendition of the URL. A 429 response
// is returned as a rate-limit error carrying the Retry-After hint so
// the retry layer can wait the announced duration.
func (c *Client) Scrape(ctx context.Context, pageURL string) (Result, error) {
	payload, err := json.Marshal(scrapeRequest{
		URL:     pageURL,
		Formats: []string{"markdown", "html"},
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", pipeline.ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, &pipeline.RateLimitError{RetryAfter: retryAfter(resp.Header)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: scrape provider status %d", pipeline.ErrUpstreamFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read scrape body: %v", pipeline.ErrUpstreamFetch, err)
	}

	var decoded scrapeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, fmt.Errorf("%w: decode scrape body: %v", pipeline.ErrUpstreamFetch, err)
	}
	if decoded.Markdown == "" && decoded.HTML == "" {
		return Result{}, fmt.Errorf("%w: scrape provider returned no content", pipeline.ErrExtraction)
	}

	return Result{
		Markdown: decoded.Markdown,
		HTML:     decoded.HTML,
		Title:    decoded.Metadata.Title,
		Language: decoded.Metadata.Language,
		OGTitle:  decoded.Metadata.OGTitle,
		OGImage:  decoded.Metadata.OGImage,
	}, nil
}

func retryAfter(h http.Header) time.Duration {
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
