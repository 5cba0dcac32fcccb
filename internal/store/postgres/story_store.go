package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/storypipe/storypipe/internal/pipeline"
)

// StoryStore is the summarization cache keyed by (url, prompt, language).
// Soft-deleted rows do not participate in lookups, so a deleted story can
// be recreated by a later run.
type StoryStore struct {
	db Querier
}

// NewStoryStore builds a StoryStore over the pool.
func NewStoryStore(db Querier) *StoryStore {
	return &StoryStore{db: db}
}

const storyColumns = `id, alert_id, content_id, url, original_url, title, key_findings, language_code, prompt_id, system_marked_irrelevant, user_marked_irrelevant, metadata, created_at, deleted_at`

const getStorySQL = `
SELECT ` + storyColumns + `
FROM stories
WHERE url = $1
  AND prompt_id IS NOT DISTINCT FROM $2
  AND language_code = $3
  AND deleted_at IS NULL`

// GetByKey returns the live story for the cache key, or nil.
func (s *StoryStore) GetByKey(ctx context.Context, url string, promptID *string, languageCode string) (*pipeline.Story, error) {
	row := s.db.QueryRow(ctx, getStorySQL, url, promptID, languageCode)
	story, err := scanStory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get story %s: %w", url, err)
	}
	return &story, nil
}

const insertStorySQL = `
INSERT INTO stories (id, alert_id, content_id, url, original_url, title, key_findings, language_code, prompt_id, system_marked_irrelevant, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (url, prompt_id, language_code) WHERE deleted_at IS NULL DO NOTHING`

// Insert persists the story with conflict-skip semantics mirroring
// ContentStore.Insert.
func (s *StoryStore) Insert(ctx context.Context, story pipeline.Story) (pipeline.Story, error) {
	metadata, err := json.Marshal(story.Metadata)
	if err != nil {
		return pipeline.Story{}, fmt.Errorf("encode story metadata: %w", err)
	}
	tag, err := s.db.Exec(ctx, insertStorySQL,
		story.ID,
		story.AlertID,
		story.ContentID,
		story.URL,
		story.OriginalURL,
		story.Title,
		story.KeyFindings,
		story.LanguageCode,
		story.PromptID,
		story.SystemMarkedIrrelevant,
		metadata,
		story.CreatedAt,
	)
	if err != nil {
		return pipeline.Story{}, fmt.Errorf("insert story %s: %w", story.URL, err)
	}
	if tag.RowsAffected() > 0 {
		return story, nil
	}

	existing, err := s.GetByKey(ctx, story.URL, story.PromptID, story.LanguageCode)
	if err != nil {
		return pipeline.Story{}, err
	}
	if existing == nil {
		return pipeline.Story{}, fmt.Errorf("story %s vanished after conflict", story.URL)
	}
	return *existing, nil
}

func scanStory(row pgx.Row) (pipeline.Story, error) {
	var (
		st          pipeline.Story
		metadataRaw []byte
	)
	err := row.Scan(
		&st.ID,
		&st.AlertID,
		&st.ContentID,
		&st.URL,
		&st.OriginalURL,
		&st.Title,
		&st.KeyFindings,
		&st.LanguageCode,
		&st.PromptID,
		&st.SystemMarkedIrrelevant,
		&st.UserMarkedIrrelevant,
		&metadataRaw,
		&st.CreatedAt,
		&st.DeletedAt,
	)
	if err != nil {
		return pipeline.Story{}, err
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &st.Metadata); err != nil {
			return pipeline.Story{}, fmt.Errorf("decode story metadata: %w", err)
		}
	}
	return st, nil
}
