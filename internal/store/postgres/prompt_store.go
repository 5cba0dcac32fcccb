package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/storypipe/storypipe/internal/pipeline"
)

// PromptStore reads user-defined summarization prompts.
type PromptStore struct {
	db Querier
}

// NewPromptStore builds a PromptStore over the pool.
func NewPromptStore(db Querier) *PromptStore {
	return &PromptStore{db: db}
}

const getPromptSQL = `SELECT id, content FROM prompts WHERE id = $1`

// Get returns the prompt, or nil when it does not exist.
func (s *PromptStore) Get(ctx context.Context, id string) (*pipeline.Prompt, error) {
	var p pipeline.Prompt
	err := s.db.QueryRow(ctx, getPromptSQL, id).Scan(&p.ID, &p.Content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get prompt %s: %w", id, err)
	}
	return &p, nil
}
