package llm

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

func TestSummarizeDecodesStructuredOutput(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[1].Content, "article body")

		content, _ := json.Marshal(Summary{
			Title:        "Concise Title",
			KeyFindings:  []string{"finding one", "finding two"},
			Importance:   7,
			LanguageCode: "en",
		})
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": string(content)}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "test-key", "gpt-4o-mini")
	got, err := c.Summarize(context.Background(), "summarize this", "article body text")
	require.NoError(t, err)
	assert.Equal(t, "Concise Title", got.Title)
	assert.Equal(t, []string{"finding one", "finding two"}, got.KeyFindings)
	assert.Equal(t, 7, got.Importance)
	assert.Equal(t, "en", got.LanguageCode)
}

func TestSummarizeRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "", "m")
	_, err := c.Summarize(context.Background(), "p", "b")
	require.ErrorIs(t, err, pipeline.ErrRateLimited)

	var rle *pipeline.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 5*time.Second, rle.RetryAfter)
}

func TestSummarizeBadStatusAndBody(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		}},
		{"no choices", func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}},
		{"unparseable content", func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": "not json"}},
				},
			})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			c := NewClient(srv.Client(), srv.URL, "", "m")
			_, err := c.Summarize(context.Background(), "p", "b")
			require.ErrorIs(t, err, pipeline.ErrSummarization)
		})
	}
}
