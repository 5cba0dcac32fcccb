package reaper

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storypipe/storypipe/internal/extract"
	sha "github.com/storypipe/storypipe/internal/hash/sha256"
	"github.com/storypipe/storypipe/internal/pipeline"
	"github.com/storypipe/storypipe/internal/queue"
	"github.com/storypipe/storypipe/internal/retry"
	"github.com/storypipe/storypipe/internal/scrape"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string][]byte
	errs  map[string]error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if body, ok := f.pages[url]; ok {
		return body, nil
	}
	return nil, fmt.Errorf("%w: unknown page %s", pipeline.ErrUpstreamFetch, url)
}

type fakeScraper struct {
	mu      sync.Mutex
	results map[string]scrape.Result
	errs    map[string]error
	calls   int
}

func (s *fakeScraper) Scrape(_ context.Context, url string) (scrape.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.errs[url]; ok {
		return scrape.Result{}, err
	}
	if res, ok := s.results[url]; ok {
		return res, nil
	}
	return scrape.Result{}, fmt.Errorf("%w: unknown page %s", pipeline.ErrUpstreamFetch, url)
}

type memContentStore struct {
	mu   sync.Mutex
	rows map[string]pipeline.Content
	err  error
}

func newMemContentStore() *memContentStore {
	return &memContentStore{rows: map[string]pipeline.Content{}}
}

func (s *memContentStore) GetByURL(_ context.Context, normalized string) (*pipeline.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if row, ok := s.rows[normalized]; ok {
		stored := row
		stored.Markdown = ""
		return &stored, nil
	}
	return nil, nil
}

func (s *memContentStore) Insert(_ context.Context, content pipeline.Content) (pipeline.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return pipeline.Content{}, s.err
	}
	if existing, ok := s.rows[content.NormalizedURL]; ok {
		existing.Markdown = ""
		return existing, nil
	}
	s.rows[content.NormalizedURL] = content
	return content, nil
}

type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: map[string][]byte{}}
}

func (s *memBlobStore) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	uri := "mem://" + path
	s.objects[uri] = append([]byte(nil), data...)
	return uri, nil
}

func (s *memBlobStore) GetObject(_ context.Context, uri string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	data, ok := s.objects[uri]
	if !ok {
		return nil, fmt.Errorf("no object at %s", uri)
	}
	return data, nil
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
	return fmt.Sprintf("id-%d", g.n), nil
}

const readablePage = `<html lang="en"><head><title>Worth Reading</title></head><body>
<article><h1>Worth Reading</h1>
<p>This is a long enough paragraph of genuinely readable article text to
survive the readability scoring pass. It talks about databases, caches,
and the usual distributed systems folklore in sufficient depth.</p>
<p>A second paragraph keeps the scorer happy and gives the markdown
renderer something to chew on beyond a single block.</p>
</article></body></html>`

func newTestReaper(t *testing.T, fetcher *fakeFetcher, scraper *fakeScraper, contents *memContentStore, blobs *memBlobStore) *Reaper {
	t.Helper()
	return New(Options{
		Fetcher:     fetcher,
		Extractor:   extract.New(),
		Scraper:     scraper,
		ScrapeQueue: queue.NewRateLimited("scrape", 0, 2, zap.NewNop()),
		Contents:    contents,
		Blobs:       blobs,
		Clock:       fixedClock{at: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		IDs:         &seqIDs{},
		Hasher:      sha.New(),
		Concurrency: 4,
		BlobPrefix:  "content",
		RetryPolicy: retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Logger:      zap.NewNop(),
	})
}

func TestExtractAllFetchesAndPersists(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string][]byte{
		"https://example.com/post": []byte(readablePage),
	}}
	contents := newMemContentStore()
	blobs := newMemBlobStore()
	r := newTestReaper(t, fetcher, &fakeScraper{}, contents, blobs)

	got, err := r.ExtractAll(context.Background(), "item-1", []pipeline.CandidateURL{
		{URL: "https://example.com/post"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)

	c := got[0]
	assert.Equal(t, "example.com/post", c.NormalizedURL)
	assert.Equal(t, "Worth Reading", c.Title)
	assert.NotEmpty(t, c.Markdown)
	assert.NotEmpty(t, c.MarkdownBlobURI)
	assert.NotEmpty(t, c.HTMLBlobURI)

	// Both blobs were written and the row is in the cache.
	_, err = blobs.GetObject(context.Background(), c.MarkdownBlobURI)
	require.NoError(t, err)
	cached, err := contents.GetByURL(context.Background(), c.NormalizedURL)
	require.NoError(t, err)
	require.NotNil(t, cached)
}

func TestExtractAllCacheHitSkipsNetwork(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	contents := newMemContentStore()
	blobs := newMemBlobStore()

	uri, err := blobs.PutObject(context.Background(), "content/abc.md", "text/markdown", []byte("cached body"))
	require.NoError(t, err)
	contents.rows["example.com/post"] = pipeline.Content{
		ID:              "existing",
		NormalizedURL:   "example.com/post",
		Title:           "Cached",
		MarkdownBlobURI: uri,
	}

	r := newTestReaper(t, fetcher, &fakeScraper{}, contents, blobs)
	got, err := r.ExtractAll(context.Background(), "item-1", []pipeline.CandidateURL{
		{URL: "https://www.example.com/post/"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "existing", got[0].ID)
	assert.Equal(t, "cached body", got[0].Markdown)
	assert.Zero(t, fetcher.calls, "cache hit must not touch the network")
}

func TestExtractAllFallsBackToScrapeProvider(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{errs: map[string]error{
		"https://js.example.com/app": fmt.Errorf("%w: status 503", pipeline.ErrUpstreamFetch),
	}}
	scraper := &fakeScraper{results: map[string]scrape.Result{
		"https://js.example.com/app": {
			Markdown: "# rendered elsewhere",
			HTML:     "<h1>rendered elsewhere</h1>",
			Title:    "Rendered",
		},
	}}
	contents := newMemContentStore()
	r := newTestReaper(t, fetcher, scraper, contents, newMemBlobStore())

	got, err := r.ExtractAll(context.Background(), "item-1", []pipeline.CandidateURL{
		{URL: "https://js.example.com/app"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Rendered", got[0].Title)
	assert.Equal(t, "# rendered elsewhere", got[0].Markdown)
	assert.Equal(t, 1, scraper.calls)
}

func TestExtractAllDropsURLWhenBothPathsFail(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: map[string][]byte{"https://ok.example.com": []byte(readablePage)},
		errs: map[string]error{
			"https://dead.example.com": fmt.Errorf("%w: refused", pipeline.ErrUpstreamFetch),
		},
	}
	scraper := &fakeScraper{errs: map[string]error{
		"https://dead.example.com": fmt.Errorf("%w: also refused", pipeline.ErrExtraction),
	}}
	r := newTestReaper(t, fetcher, scraper, newMemContentStore(), newMemBlobStore())

	got, err := r.ExtractAll(context.Background(), "item-1", []pipeline.CandidateURL{
		{URL: "https://dead.example.com"},
		{URL: "https://ok.example.com"},
	})
	require.NoError(t, err, "a dropped url must not fail the batch")
	require.Len(t, got, 1)
	assert.Equal(t, "ok.example.com", got[0].NormalizedURL)
}

func TestExtractAllStorageErrorIsFatal(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string][]byte{
		"https://example.com/post": []byte(readablePage),
	}}
	contents := newMemContentStore()
	contents.err = fmt.Errorf("connection reset")
	r := newTestReaper(t, fetcher, &fakeScraper{}, contents, newMemBlobStore())

	_, err := r.ExtractAll(context.Background(), "item-1", []pipeline.CandidateURL{
		{URL: "https://example.com/post"},
	})
	require.Error(t, err)
	require.ErrorContains(t, err, "connection reset")
}

func TestExtractAllCacheHitWithoutBlob(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	contents := newMemContentStore()
	// Row exists but never got a markdown blob; the hit is still served
	// as-is rather than re-fetched.
	contents.rows["example.com/post"] = pipeline.Content{
		ID:            "existing",
		NormalizedURL: "example.com/post",
	}
	r := newTestReaper(t, fetcher, &fakeScraper{}, contents, newMemBlobStore())

	got, err := r.ExtractAll(context.Background(), "item-1", []pipeline.CandidateURL{
		{URL: "https://example.com/post"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "existing", got[0].ID)
	assert.Zero(t, fetcher.calls)
}
