// Package llm talks to an OpenAI-compatible chat-completions API and
// extracts structured summaries from article markdown.
package llm

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

// Summary is the structured output of one summarization call. An
// Importance of zero means the model judged the content irrelevant to
// the prompt.
type Summary struct {
	Title        string   `json:"title"`
	KeyFindings  []string `json:"key_findings"`
	Importance   int      `json:"importance"`
	LanguageCode string   `json:"language_code"`
}

// Client issues chat-completion requests with a JSON-schema response
// format so the model output parses deterministically.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

// NewClient builds an LLM client. client may be nil for a default with a
// generous timeout; completions are slow.
func NewClient(client *http.Client, endpoint, apiKey, model string) *Client {
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{httpClient: client, endpoint: endpoint, apiKey: apiKey, model: model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat any           `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// summarySchema constrains the completion to the Summary shape.
var summarySchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "article_summary",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":         map[string]any{"type": "string"},
				"key_findings":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"importance":    map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
				"language_code": map[string]any{"type": "string"},
			},
			"required":             []string{"title", "key_findings", "importance", "language_code"},
			"additionalProperties": false,
		},
	},
}

// Summarize sends the instructions and article body to the model and
// decodes the structured summary. Instructions carry the caller's prompt
// and target language; body is the (possibly truncated) markdown.
func (c *Client) Summarize(ctx context.Context, instructions, body string) (Summary, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: instructions},
			{Role: "user", Content: body},
		},
		ResponseFormat: summarySchema,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Summary{}, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", pipeline.ErrSummarization, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Summary{}, &pipeline.RateLimitError{RetryAfter: retryAfter(resp.Header)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Summary{}, fmt.Errorf("%w: completion status %d", pipeline.ErrSummarization, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Summary{}, fmt.Errorf("%w: read completion body: %v", pipeline.ErrSummarization, err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Summary{}, fmt.Errorf("%w: decode completion body: %v", pipeline.ErrSummarization, err)
	}
	if len(decoded.Choices) == 0 {
		return Summary{}, fmt.Errorf("%w: completion returned no choices", pipeline.ErrSummarization)
	}

	var summary Summary
	if err := json.Unmarshal([]byte(decoded.Choices[0].Message.Content), &summary); err != nil {
		return Summary{}, fmt.Errorf("%w: decode summary content: %v", pipeline.ErrSummarization, err)
	}
	return summary, nil
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
