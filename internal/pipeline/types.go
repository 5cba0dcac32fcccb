// Package pipeline defines the domain types and leaf interfaces shared by
// the curation and enrichment components.
package pipeline

import "time"

// Provider identifies a candidate-URL discovery source.
type Provider string

// Supported discovery providers.
const (
	ProviderTopStories  Provider = "topstories"
	ProviderSearch      Provider = "search"
	ProviderCodeFeed    Provider = "codefeed"
	ProviderDomainCheck Provider = "domaincheck"
	ProviderLaunches    Provider = "launches"
)

// Strategy is the provider-tagged source configuration of a monitored
// item. Only the fields relevant to the tagged provider are populated.
type Strategy struct {
	Provider Provider `json:"provider"`
	// Query drives the keyword-search provider.
	Query string `json:"query,omitempty"`
	// FeedURL points the code-activity provider at an Atom feed.
	FeedURL string `json:"feedUrl,omitempty"`
	// Domain is probed by the domain-availability provider.
	Domain string `json:"domain,omitempty"`
	// Category narrows the launch-listing provider.
	Category string `json:"category,omitempty"`
	// Token authenticates providers that require one.
	Token string `json:"token,omitempty"`
}

// WaitKind discriminates the two wait-policy variants.
type WaitKind string

// Supported wait-policy kinds.
const (
	WaitCount    WaitKind = "count"
	WaitSchedule WaitKind = "schedule"
)

// WaitPolicy governs when a monitored item is re-evaluated. It is parsed
// once at the store boundary; downstream code never re-parses it.
type WaitPolicy struct {
	Kind WaitKind
	// Count is the delivery batch threshold for count policies. Batch
	// triggering itself belongs to Herald; this engine only uses the
	// kind to pick a reschedule rule.
	Count int
	// Days and Hours define the calendar slots for schedule policies.
	Days  map[time.Weekday]bool
	Hours []int
}

// Item is a monitored source configuration (an "alert"). The CRUD layer
// owns every field except NextRun/LastRun, which the scheduler maintains.
type Item struct {
	ID           string
	Name         string
	Strategy     Strategy
	Wait         WaitPolicy
	LanguageCode string
	PromptID     *string
	Threshold    int
	Active       bool
	NextRun      *time.Time
	LastRun      *time.Time
}

// Prompt holds free-text summarization instructions. Read-only here.
type Prompt struct {
	ID      string
	Content string
}

// CandidateURL is a single curator result: a URL plus optional opaque
// provider metadata that travels with it through the pipeline.
type CandidateURL struct {
	URL      string
	Metadata map[string]any
}

// Content is the immutable extraction cache entry for one normalized
// URL. Rows are created once and never mutated or deleted.
type Content struct {
	ID               string
	NormalizedURL    string
	Title            string
	HTMLBlobURI      string
	MarkdownBlobURI  string
	Description      string
	Language         string
	OGTitle          string
	OGImage          string
	FetchedAt        time.Time
	// Markdown carries the extracted body within a single pipeline run.
	// It is not persisted on the row; consumers re-read the blob when a
	// cached Content arrives without it.
	Markdown string
}

// Story is a summarized, item-scoped, prompt/language-scoped view of a
// piece of content. At most one non-deleted Story exists per
// (URL, PromptID, LanguageCode) triple.
type Story struct {
	ID                     string
	AlertID                string
	ContentID              string
	URL                    string
	OriginalURL            string
	Title                  string
	KeyFindings            []string
	LanguageCode           string
	PromptID               *string
	SystemMarkedIrrelevant bool
	UserMarkedIrrelevant   bool
	Metadata               map[string]any
	CreatedAt              time.Time
	DeletedAt              *time.Time
}
