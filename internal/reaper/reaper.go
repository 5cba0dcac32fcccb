package reaper

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storypipe/storypipe/internal/extract"
	"github.com/storypipe/storypipe/internal/metrics"
	"github.com/storypipe/storypipe/internal/pipeline"
	"github.com/storypipe/storypipe/internal/progress"
	"github.com/storypipe/storypipe/internal/queue"
	"github.com/storypipe/storypipe/internal/retry"
	"github.com/storypipe/storypipe/internal/scrape"
)

// PageFetcher retrieves raw page bodies.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// FallbackScraper renders pages through the remote scrape provider.
type FallbackScraper interface {
	Scrape(ctx context.Context, pageURL string) (scrape.Result, error)
}

// Hasher derives blob keys from normalized URLs.
type Hasher interface {
	Sum(data []byte) string
}

// Options wires a Reaper.
type Options struct {
	Fetcher     PageFetcher
	Extractor   *extract.Extractor
	Scraper     FallbackScraper
	ScrapeQueue *queue.RateLimited
	Contents    pipeline.ContentStore
	Blobs       pipeline.BlobStore
	Clock       pipeline.Clock
	IDs         pipeline.IDGenerator
	Hasher      Hasher
	Concurrency int
	BlobPrefix  string
	RetryPolicy retry.Policy
	Hub         *progress.Hub
	Logger      *zap.Logger
}

// Reaper resolves candidate URLs into Content rows. Lookups hit the
// content cache first; misses fetch, extract, persist blobs and insert
// the row. Fetch and extraction failures drop the single URL; storage
// failures abort the batch.
type Reaper struct {
	opts Options
}

// New builds a Reaper. Concurrency below one is raised to one.
func New(opts Options) *Reaper {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Reaper{opts: opts}
}

// ExtractAll processes the batch with a bounded pool, preserving input
// order in the result. Dropped URLs leave no gap beyond their absence.
func (r *Reaper) ExtractAll(ctx context.Context, itemID string, candidates []pipeline.CandidateURL) ([]pipeline.Content, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*pipeline.Content, len(candidates))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
	)
	sem := make(chan struct{}, r.opts.Concurrency)

	for i, cand := range candidates {
		wg.Add(1)
		go func(slot int, cand pipeline.CandidateURL) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			content, err := r.extractOne(ctx, cand)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if dropable(err) {
					r.opts.Logger.Warn("dropping candidate url",
						zap.String("item_id", itemID),
						zap.String("url", cand.URL),
						zap.Error(err),
					)
					metrics.IncContentDropped()
					r.emit(itemID, progress.StageFetchDropped, cand.URL)
					return
				}
				mu.Lock()
				if fatalErr == nil {
					fatalErr = err
				}
				mu.Unlock()
				cancel()
				return
			}
			results[slot] = content
			r.emit(itemID, progress.StageFetchDone, cand.URL)
		}(i, cand)
	}
	wg.Wait()

	if fatalErr != nil {
		return nil, fatalErr
	}

	out := make([]pipeline.Content, 0, len(results))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

// dropable reports whether a failure is scoped to one URL. Storage and
// bookkeeping errors carry no pipeline sentinel and abort the batch.
func dropable(err error) bool {
	return errors.Is(err, pipeline.ErrUpstreamFetch) ||
		errors.Is(err, pipeline.ErrRateLimited) ||
		errors.Is(err, pipeline.ErrExtraction) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (r *Reaper) extractOne(ctx context.Context, cand pipeline.CandidateURL) (*pipeline.Content, error) {
	normalized := pipeline.NormalizeURL(cand.URL)

	cached, err := r.opts.Contents.GetByURL(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("content lookup %s: %w", normalized, err)
	}
	if cached != nil {
		metrics.IncContentCache("hit")
		if cached.Markdown == "" && cached.MarkdownBlobURI != "" {
			data, err := r.opts.Blobs.GetObject(ctx, cached.MarkdownBlobURI)
			if err != nil {
				return nil, fmt.Errorf("read markdown blob %s: %w", cached.MarkdownBlobURI, err)
			}
			cached.Markdown = string(data)
		}
		return cached, nil
	}
	metrics.IncContentCache("miss")

	page, err := r.acquire(ctx, cand.URL)
	if err != nil {
		return nil, err
	}

	id, err := r.opts.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate content id: %w", err)
	}

	key := r.opts.Hasher.Sum([]byte(normalized))
	var htmlURI string
	if page.html != "" {
		htmlURI, err = r.opts.Blobs.PutObject(ctx,
			path.Join(r.opts.BlobPrefix, key+".html"),
			"text/html; charset=utf-8", []byte(page.html))
		if err != nil {
			return nil, fmt.Errorf("store html blob: %w", err)
		}
	}
	mdURI, err := r.opts.Blobs.PutObject(ctx,
		path.Join(r.opts.BlobPrefix, key+".md"),
		"text/markdown; charset=utf-8", []byte(page.markdown))
	if err != nil {
		return nil, fmt.Errorf("store markdown blob: %w", err)
	}

	content := pipeline.Content{
		ID:              id,
		NormalizedURL:   normalized,
		Title:           page.title,
		HTMLBlobURI:     htmlURI,
		MarkdownBlobURI: mdURI,
		Description:     page.description,
		Language:        page.language,
		OGTitle:         page.ogTitle,
		OGImage:         page.ogImage,
		FetchedAt:       r.opts.Clock.Now(),
		Markdown:        page.markdown,
	}
	stored, err := r.opts.Contents.Insert(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("insert content %s: %w", normalized, err)
	}
	if stored.Markdown == "" {
		// A concurrent writer won the insert; its row has no transient body.
		stored.Markdown = page.markdown
	}
	return &stored, nil
}

type pageData struct {
	title       string
	markdown    string
	html        string
	description string
	language    string
	ogTitle     string
	ogImage     string
}

// acquire runs the local fetch+readability path first, then the remote
// scrape provider. The fallback goes through the rate-limited queue and
// the retry policy; only when both paths fail is the URL lost.
func (r *Reaper) acquire(ctx context.Context, pageURL string) (pageData, error) {
	var local pageData
	err := func() error {
		body, err := r.opts.Fetcher.Fetch(ctx, pageURL)
		if err != nil {
			return err
		}
		res, err := r.opts.Extractor.Extract(body)
		if err != nil {
			return fmt.Errorf("%w: %v", pipeline.ErrExtraction, err)
		}
		if res.Markdown == "" {
			return fmt.Errorf("%w: no readable body at %s", pipeline.ErrExtraction, pageURL)
		}
		local = pageData{
			title:       res.Title,
			markdown:    res.Markdown,
			html:        res.SanitizedHTML,
			description: res.Description,
			language:    res.Language,
			ogTitle:     res.OGTitle,
			ogImage:     res.OGImage,
		}
		return nil
	}()
	if err == nil {
		return local, nil
	}
	if errors.Is(err, context.Canceled) {
		return pageData{}, err
	}

	r.opts.Logger.Debug("local extraction failed, trying scrape provider",
		zap.String("url", pageURL), zap.Error(err))

	var remote scrape.Result
	scrapeErr := retry.Do(ctx, r.opts.RetryPolicy, func(ctx context.Context) error {
		res, err := queue.Run(ctx, r.opts.ScrapeQueue, func(ctx context.Context) (scrape.Result, error) {
			return r.opts.Scraper.Scrape(ctx, pageURL)
		})
		if err != nil {
			return err
		}
		remote = res
		return nil
	})
	if scrapeErr != nil {
		return pageData{}, fmt.Errorf("scrape fallback for %s: %w", pageURL, scrapeErr)
	}
	if remote.Markdown == "" {
		return pageData{}, fmt.Errorf("%w: scrape provider returned no markdown for %s", pipeline.ErrExtraction, pageURL)
	}
	return pageData{
		title:    remote.Title,
		markdown: remote.Markdown,
		html:     remote.HTML,
		language: remote.Language,
		ogTitle:  remote.OGTitle,
		ogImage:  remote.OGImage,
	}, nil
}

func (r *Reaper) emit(itemID string, stage progress.Stage, url string) {
	if r.opts.Hub == nil {
		return
	}
	r.opts.Hub.Emit(progress.Event{
		ItemID: itemID,
		TS:     time.Now().UTC(),
		Stage:  stage,
		URL:    url,
	})
}
