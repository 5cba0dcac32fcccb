package pipeline

import (
	"context"
	"time"
)

// ItemStore reads monitored items and records their run bookkeeping.
type ItemStore interface {
	ListDue(ctx context.Context, now time.Time) ([]Item, error)
	UpdateRunTimes(ctx context.Context, itemID string, lastRun time.Time, nextRun *time.Time) error
}

// ContentStore is the extraction cache keyed by normalized URL.
type ContentStore interface {
	// GetByURL returns the cached Content for a normalized URL, or nil
	// when no row exists.
	GetByURL(ctx context.Context, normalizedURL string) (*Content, error)
	// Insert persists a Content row with conflict-skip semantics: when a
	// concurrent writer already inserted the same normalized URL, the
	// existing row is returned instead.
	Insert(ctx context.Context, content Content) (Content, error)
}

// StoryStore is the summarization cache keyed by (url, promptID, language).
type StoryStore interface {
	// GetByKey returns the non-deleted Story for the cache key, or nil.
	GetByKey(ctx context.Context, url string, promptID *string, languageCode string) (*Story, error)
	// Insert persists a Story with conflict-skip semantics analogous to
	// ContentStore.Insert.
	Insert(ctx context.Context, story Story) (Story, error)
}

// PromptStore reads user-defined prompts.
type PromptStore interface {
	// Get returns the prompt, or nil when it does not exist.
	Get(ctx context.Context, id string) (*Prompt, error)
}

// BlobStore writes and reads immutable artifacts addressed by URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, uri string) ([]byte, error)
}

// Publisher hands finished work to downstream consumers (Herald).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
