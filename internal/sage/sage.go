// Package sage turns extracted content into summarized stories through
// the LLM client, caching results per (url, prompt, language) key.
package sage

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/storypipe/storypipe/internal/llm"
	"github.com/storypipe/storypipe/internal/metrics"
	"github.com/storypipe/storypipe/internal/pipeline"
	"github.com/storypipe/storypipe/internal/progress"
	"github.com/storypipe/storypipe/internal/queue"
	"github.com/storypipe/storypipe/internal/retry"
)

// defaultPrompt is used when an item has no prompt configured or its
// prompt row is missing.
const defaultPrompt = "Summarize the article for a technical news digest. " +
	"Produce a concise title and three to five key findings. " +
	"Rate the article's importance from 0 to 100, where 0 means not newsworthy at all."

// Summarizer is the LLM boundary.
type Summarizer interface {
	Summarize(ctx context.Context, instructions, body string) (llm.Summary, error)
}

// Options wires a Sage.
type Options struct {
	Stories         pipeline.StoryStore
	Prompts         pipeline.PromptStore
	LLM             Summarizer
	LLMQueue        *queue.RateLimited
	Clock           pipeline.Clock
	IDs             pipeline.IDGenerator
	Concurrency     int
	MaxContentChars int
	RetryPolicy     retry.Policy
	Hub             *progress.Hub
	Logger          *zap.Logger
}

// Sage summarizes content entries for an item. One content entry yields
// at most one story; failures are contained to the entry.
type Sage struct {
	opts Options
}

// New builds a Sage. Concurrency below one is raised to one.
func New(opts Options) *Sage {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxContentChars < 1 {
		opts.MaxContentChars = 100_000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Sage{opts: opts}
}

// SummarizeAll summarizes the batch with a bounded pool. candidates pair
// each content entry back to its discovered URL and provider metadata.
// Entries that fail or are judged irrelevant simply do not contribute a
// story.
func (s *Sage) SummarizeAll(ctx context.Context, item pipeline.Item, contents []pipeline.Content, candidates []pipeline.CandidateURL) []pipeline.Story {
	origins := make(map[string]pipeline.CandidateURL, len(candidates))
	for _, cand := range candidates {
		origins[pipeline.NormalizeURL(cand.URL)] = cand
	}

	results := make([]*pipeline.Story, len(contents))
	sem := make(chan struct{}, s.opts.Concurrency)
	var wg sync.WaitGroup
	for i, content := range contents {
		wg.Add(1)
		go func(slot int, content pipeline.Content) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			origin := origins[content.NormalizedURL]
			story, err := s.summarizeOne(ctx, item, content, origin)
			if err != nil {
				metrics.IncSummarizeFailure()
				s.opts.Logger.Warn("summarization failed",
					zap.String("item_id", item.ID),
					zap.String("url", content.NormalizedURL),
					zap.Error(err),
				)
				return
			}
			results[slot] = story
		}(i, content)
	}
	wg.Wait()

	stories := make([]pipeline.Story, 0, len(results))
	for _, st := range results {
		if st != nil {
			stories = append(stories, *st)
		}
	}
	s.emit(item.ID, len(stories))
	return stories
}

// summarizeOne returns the cached or newly created story. A summary the
// model marked relevant but left without a title or findings is an
// error, not a silent drop.
func (s *Sage) summarizeOne(ctx context.Context, item pipeline.Item, content pipeline.Content, origin pipeline.CandidateURL) (*pipeline.Story, error) {
	existing, err := s.opts.Stories.GetByKey(ctx, content.NormalizedURL, item.PromptID, item.LanguageCode)
	if err != nil {
		return nil, fmt.Errorf("story lookup: %w", err)
	}
	if existing != nil {
		metrics.IncStory("cached")
		return existing, nil
	}

	body := content.Markdown
	if body == "" {
		return nil, fmt.Errorf("%w: content %s has no body", pipeline.ErrSummarization, content.ID)
	}
	body = truncate(body, s.opts.MaxContentChars)

	instructions, err := s.instructions(ctx, item)
	if err != nil {
		return nil, err
	}

	var summary llm.Summary
	err = retry.Do(ctx, s.opts.RetryPolicy, func(ctx context.Context) error {
		got, err := queue.Run(ctx, s.opts.LLMQueue, func(ctx context.Context) (llm.Summary, error) {
			return s.opts.LLM.Summarize(ctx, instructions, body)
		})
		if err != nil {
			return err
		}
		summary = got
		return nil
	})
	if err != nil {
		return nil, err
	}

	if summary.Importance > 0 && (summary.Title == "" || len(summary.KeyFindings) == 0) {
		return nil, fmt.Errorf("%w: importance %d with empty title or findings", pipeline.ErrSummarization, summary.Importance)
	}

	id, err := s.opts.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate story id: %w", err)
	}

	languageCode := item.LanguageCode
	if languageCode == "" {
		languageCode = summary.LanguageCode
	}
	title := summary.Title
	if title == "" {
		title = content.Title
	}

	story := pipeline.Story{
		ID:                     id,
		AlertID:                item.ID,
		ContentID:              content.ID,
		URL:                    content.NormalizedURL,
		OriginalURL:            origin.URL,
		Title:                  title,
		KeyFindings:            summary.KeyFindings,
		LanguageCode:           languageCode,
		PromptID:               item.PromptID,
		SystemMarkedIrrelevant: summary.Importance == 0,
		Metadata:               origin.Metadata,
		CreatedAt:              s.opts.Clock.Now(),
	}

	stored, err := s.opts.Stories.Insert(ctx, story)
	if err != nil {
		return nil, fmt.Errorf("insert story: %w", err)
	}
	if story.SystemMarkedIrrelevant {
		metrics.IncStory("irrelevant")
	} else {
		metrics.IncStory("created")
	}
	return &stored, nil
}

// instructions resolves the item prompt, falling back to the default
// when the configured prompt row is gone.
func (s *Sage) instructions(ctx context.Context, item pipeline.Item) (string, error) {
	base := defaultPrompt
	if item.PromptID != nil {
		prompt, err := s.opts.Prompts.Get(ctx, *item.PromptID)
		if err != nil {
			return "", fmt.Errorf("load prompt %s: %w", *item.PromptID, err)
		}
		if prompt == nil {
			s.opts.Logger.Warn("configured prompt missing, using default",
				zap.String("item_id", item.ID),
				zap.String("prompt_id", *item.PromptID),
			)
		} else {
			base = prompt.Content
		}
	}
	if item.LanguageCode != "" {
		base += fmt.Sprintf(" Respond in language %q.", item.LanguageCode)
	}
	return base, nil
}

func (s *Sage) emit(itemID string, count int) {
	if s.opts.Hub == nil {
		return
	}
	s.opts.Hub.Emit(progress.Event{
		ItemID: itemID,
		TS:     time.Now().UTC(),
		Stage:  progress.StageSummarizeDone,
		Count:  int64(count),
	})
}

// truncate cuts s to at most limit runes without splitting a rune.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := 0
	for i := range s {
		if runes == limit {
			return s[:i]
		}
		runes++
	}
	return s
}
