package sage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storypipe/storypipe/internal/llm"
	"github.com/storypipe/storypipe/internal/pipeline"
	"github.com/storypipe/storypipe/internal/queue"
	"github.com/storypipe/storypipe/internal/retry"
)

type memStoryStore struct {
	mu   sync.Mutex
	rows []pipeline.Story
	err  error
}

func storyKey(url string, promptID *string, lang string) string {
	p := "<nil>"
	if promptID != nil {
		p = *promptID
	}
	return url + "|" + p + "|" + lang
}

func (s *memStoryStore) GetByKey(_ context.Context, url string, promptID *string, lang string) (*pipeline.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	want := storyKey(url, promptID, lang)
	for i := range s.rows {
		row := s.rows[i]
		if row.DeletedAt != nil {
			continue
		}
		if storyKey(row.URL, row.PromptID, row.LanguageCode) == want {
			return &row, nil
		}
	}
	return nil, nil
}

func (s *memStoryStore) Insert(_ context.Context, story pipeline.Story) (pipeline.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return pipeline.Story{}, s.err
	}
	want := storyKey(story.URL, story.PromptID, story.LanguageCode)
	for i := range s.rows {
		row := s.rows[i]
		if row.DeletedAt == nil && storyKey(row.URL, row.PromptID, row.LanguageCode) == want {
			return row, nil
		}
	}
	s.rows = append(s.rows, story)
	return story, nil
}

type memPromptStore struct {
	prompts map[string]string
}

func (s *memPromptStore) Get(_ context.Context, id string) (*pipeline.Prompt, error) {
	content, ok := s.prompts[id]
	if !ok {
		return nil, nil
	}
	return &pipeline.Prompt{ID: id, Content: content}, nil
}

type fakeLLM struct {
	mu           sync.Mutex
	summary      llm.Summary
	err          error
	calls        int
	instructions []string
	bodies       []string
}

func (f *fakeLLM) Summarize(_ context.Context, instructions, body string) (llm.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.instructions = append(f.instructions, instructions)
	f.bodies = append(f.bodies, body)
	if f.err != nil {
		return llm.Summary{}, f.err
	}
	return f.summary, nil
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("story-%d", g.n), nil
}

func newTestSage(stories *memStoryStore, prompts *memPromptStore, model *fakeLLM, maxChars int) *Sage {
	if prompts == nil {
		prompts = &memPromptStore{}
	}
	return New(Options{
		Stories:         stories,
		Prompts:         prompts,
		LLM:             model,
		LLMQueue:        queue.NewRateLimited("llm", 0, 2, zap.NewNop()),
		Clock:           fixedClock{at: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		IDs:             &seqIDs{},
		Concurrency:     4,
		MaxContentChars: maxChars,
		RetryPolicy:     retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Logger:          zap.NewNop(),
	})
}

func testContent(url, body string) pipeline.Content {
	return pipeline.Content{
		ID:            "content-" + url,
		NormalizedURL: pipeline.NormalizeURL(url),
		Title:         "Page Title",
		Markdown:      body,
	}
}

func TestSummarizeAllCreatesStory(t *testing.T) {
	t.Parallel()

	stories := &memStoryStore{}
	model := &fakeLLM{summary: llm.Summary{
		Title:        "Model Title",
		KeyFindings:  []string{"a", "b"},
		Importance:   6,
		LanguageCode: "en",
	}}
	s := newTestSage(stories, nil, model, 100_000)

	item := pipeline.Item{ID: "item-1", LanguageCode: "en"}
	cand := pipeline.CandidateURL{URL: "https://example.com/post", Metadata: map[string]any{"score": 42}}
	got := s.SummarizeAll(context.Background(), item,
		[]pipeline.Content{testContent("https://example.com/post", "body text")},
		[]pipeline.CandidateURL{cand})

	require.Len(t, got, 1)
	st := got[0]
	assert.Equal(t, "Model Title", st.Title)
	assert.Equal(t, []string{"a", "b"}, st.KeyFindings)
	assert.Equal(t, "item-1", st.AlertID)
	assert.Equal(t, "example.com/post", st.URL)
	assert.Equal(t, "https://example.com/post", st.OriginalURL)
	assert.Equal(t, map[string]any{"score": 42}, st.Metadata)
	assert.False(t, st.SystemMarkedIrrelevant)
	require.Len(t, stories.rows, 1)
}

func TestSummarizeAllCacheHitSkipsModel(t *testing.T) {
	t.Parallel()

	stories := &memStoryStore{rows: []pipeline.Story{{
		ID:           "cached-story",
		URL:          "example.com/post",
		LanguageCode: "en",
	}}}
	model := &fakeLLM{}
	s := newTestSage(stories, nil, model, 100_000)

	item := pipeline.Item{ID: "item-1", LanguageCode: "en"}
	got := s.SummarizeAll(context.Background(), item,
		[]pipeline.Content{testContent("https://example.com/post", "body")},
		nil)

	require.Len(t, got, 1)
	assert.Equal(t, "cached-story", got[0].ID)
	assert.Zero(t, model.calls)
}

func TestSummarizeAllIrrelevantIsPersistedFlagged(t *testing.T) {
	t.Parallel()

	stories := &memStoryStore{}
	model := &fakeLLM{summary: llm.Summary{
		Title:       "Boring",
		KeyFindings: []string{"nothing new"},
		Importance:  0,
	}}
	s := newTestSage(stories, nil, model, 100_000)

	got := s.SummarizeAll(context.Background(), pipeline.Item{ID: "item-1"},
		[]pipeline.Content{testContent("https://example.com/meh", "body")},
		nil)

	require.Len(t, got, 1)
	assert.True(t, got[0].SystemMarkedIrrelevant)
	require.Len(t, stories.rows, 1, "irrelevant stories are still cached")
}

func TestSummarizeAllEmptySummaryYieldsNoStory(t *testing.T) {
	t.Parallel()

	stories := &memStoryStore{}
	model := &fakeLLM{summary: llm.Summary{Importance: 5}}
	s := newTestSage(stories, nil, model, 100_000)

	got := s.SummarizeAll(context.Background(), pipeline.Item{ID: "item-1"},
		[]pipeline.Content{testContent("https://example.com/empty", "body")},
		nil)

	assert.Empty(t, got)
	assert.Empty(t, stories.rows)

	// The drop is reported as a summarization failure, not swallowed.
	_, err := s.summarizeOne(context.Background(), pipeline.Item{ID: "item-1"},
		testContent("https://example.com/empty", "body"), pipeline.CandidateURL{})
	require.ErrorIs(t, err, pipeline.ErrSummarization)
}

func TestSummarizeAllModelFailureIsContained(t *testing.T) {
	t.Parallel()

	stories := &memStoryStore{}
	failing := &fakeLLM{err: fmt.Errorf("%w: model exploded", pipeline.ErrSummarization)}
	s := newTestSage(stories, nil, failing, 100_000)

	got := s.SummarizeAll(context.Background(), pipeline.Item{ID: "item-1"},
		[]pipeline.Content{testContent("https://example.com/a", "body")},
		nil)

	assert.Empty(t, got)
}

func TestSummarizeUsesConfiguredPromptAndLanguage(t *testing.T) {
	t.Parallel()

	promptID := "prompt-7"
	prompts := &memPromptStore{prompts: map[string]string{
		"prompt-7": "Focus on security implications only.",
	}}
	model := &fakeLLM{summary: llm.Summary{Title: "T", KeyFindings: []string{"x"}, Importance: 3}}
	s := newTestSage(&memStoryStore{}, prompts, model, 100_000)

	item := pipeline.Item{ID: "item-1", PromptID: &promptID, LanguageCode: "de"}
	s.SummarizeAll(context.Background(), item,
		[]pipeline.Content{testContent("https://example.com/sec", "body")},
		nil)

	require.Len(t, model.instructions, 1)
	assert.Contains(t, model.instructions[0], "security implications")
	assert.Contains(t, model.instructions[0], `"de"`)
}

func TestSummarizeMissingPromptFallsBackToDefault(t *testing.T) {
	t.Parallel()

	promptID := "gone"
	model := &fakeLLM{summary: llm.Summary{Title: "T", KeyFindings: []string{"x"}, Importance: 3}}
	s := newTestSage(&memStoryStore{}, &memPromptStore{}, model, 100_000)

	item := pipeline.Item{ID: "item-1", PromptID: &promptID}
	got := s.SummarizeAll(context.Background(), item,
		[]pipeline.Content{testContent("https://example.com/x", "body")},
		nil)

	require.Len(t, got, 1)
	require.Len(t, model.instructions, 1)
	assert.Contains(t, model.instructions[0], "technical news digest")
}

func TestSummarizeTruncatesBody(t *testing.T) {
	t.Parallel()

	model := &fakeLLM{summary: llm.Summary{Title: "T", KeyFindings: []string{"x"}, Importance: 3}}
	s := newTestSage(&memStoryStore{}, nil, model, 50)

	long := strings.Repeat("é", 200)
	s.SummarizeAll(context.Background(), pipeline.Item{ID: "item-1"},
		[]pipeline.Content{testContent("https://example.com/long", long)},
		nil)

	require.Len(t, model.bodies, 1)
	assert.Equal(t, strings.Repeat("é", 50), model.bodies[0])
}
