package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/storypipe/storypipe/internal/pipeline"
)

// ContentStore is the immutable extraction cache keyed by normalized URL.
type ContentStore struct {
	db Querier
}

// NewContentStore builds a ContentStore over the pool.
func NewContentStore(db Querier) *ContentStore {
	return &ContentStore{db: db}
}

const contentColumns = `id, normalized_url, title, html_blob_uri, markdown_blob_uri, description, language, og_title, og_image, fetched_at`

const getContentSQL = `
SELECT ` + contentColumns + `
FROM contents
WHERE normalized_url = $1`

// GetByURL returns the cached row for the normalized URL, or nil.
func (s *ContentStore) GetByURL(ctx context.Context, normalizedURL string) (*pipeline.Content, error) {
	row := s.db.QueryRow(ctx, getContentSQL, normalizedURL)
	content, err := scanContent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get content %s: %w", normalizedURL, err)
	}
	return &content, nil
}

const insertContentSQL = `
INSERT INTO contents (` + contentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (normalized_url) DO NOTHING`

// Insert persists the row with conflict-skip semantics: a concurrent
// writer's row wins and is returned instead.
func (s *ContentStore) Insert(ctx context.Context, content pipeline.Content) (pipeline.Content, error) {
	tag, err := s.db.Exec(ctx, insertContentSQL,
		content.ID,
		content.NormalizedURL,
		content.Title,
		content.HTMLBlobURI,
		content.MarkdownBlobURI,
		content.Description,
		content.Language,
		content.OGTitle,
		content.OGImage,
		content.FetchedAt,
	)
	if err != nil {
		return pipeline.Content{}, fmt.Errorf("insert content %s: %w", content.NormalizedURL, err)
	}
	if tag.RowsAffected() > 0 {
		return content, nil
	}

	existing, err := s.GetByURL(ctx, content.NormalizedURL)
	if err != nil {
		return pipeline.Content{}, err
	}
	if existing == nil {
		return pipeline.Content{}, fmt.Errorf("content %s vanished after conflict", content.NormalizedURL)
	}
	return *existing, nil
}

func scanContent(row pgx.Row) (pipeline.Content, error) {
	var c pipeline.Content
	err := row.Scan(
		&c.ID,
		&c.NormalizedURL,
		&c.Title,
		&c.HTMLBlobURI,
		&c.MarkdownBlobURI,
		&c.Description,
		&c.Language,
		&c.OGTitle,
		&c.OGImage,
		&c.FetchedAt,
	)
	return c, err
}
