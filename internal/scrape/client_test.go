package scrape

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storypipe/storypipe/internal/pipeline"
)

func TestScrapeSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))

		var req scrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/post", req.URL)
		assert.ElementsMatch(t, []string{"markdown", "html"}, req.Formats)

		json.NewEncoder(w).Encode(map[string]any{
			"markdown": "# hello",
			"html":     "<h1>hello</h1>",
			"metadata": map[string]any{
				"title":    "hello",
				"language": "en",
				"ogTitle":  "hello og",
				"ogImage":  "https://img.example.com/1.png",
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "key-123")
	res, err := c.Scrape(context.Background(), "https://example.com/post")
	require.NoError(t, err)
	assert.Equal(t, "# hello", res.Markdown)
	assert.Equal(t, "<h1>hello</h1>", res.HTML)
	assert.Equal(t, "hello", res.Title)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, "hello og", res.OGTitle)
}

func TestScrapeRateLimitedCarriesRetryAfter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "")
	_, err := c.Scrape(context.Background(), "https://example.com")
	require.ErrorIs(t, err, pipeline.ErrRateLimited)

	var rle *pipeline.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 17*time.Second, rle.RetryAfter)
}

func TestScrapeServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "oops", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "")
	_, err := c.Scrape(context.Background(), "https://example.com")
	require.ErrorIs(t, err, pipeline.ErrUpstreamFetch)
}

func TestScrapeEmptyContentIsExtractionError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"metadata": map[string]any{}})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "")
	_, err := c.Scrape(context.Background(), "https://example.com")
	require.ErrorIs(t, err, pipeline.ErrExtraction)
}

func TestRetryAfterParsing(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	assert.Zero(t, retryAfter(h))

	h.Set("Retry-After", "30")
	assert.Equal(t, 30*time.Second, retryAfter(h))

	h.Set("Retry-After", "garbage")
	assert.Zero(t, retryAfter(h))

	h.Set("Retry-After", time.Now().Add(time.Minute).UTC().Format(http.TimeFormat))
	got := retryAfter(h)
	assert.Greater(t, got, 50*time.Second)
	assert.LessOrEqual(t, got, time.Minute)
}
