package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/storypipe/storypipe/internal/pipeline"
	"github.com/storypipe/storypipe/internal/schedule"
)

// ItemStore reads monitored items and records run bookkeeping. The wait
// policy JSON is parsed once here; callers only see structured policies.
type ItemStore struct {
	db Querier
}

// NewItemStore builds an ItemStore over the pool.
func NewItemStore(db Querier) *ItemStore {
	return &ItemStore{db: db}
}

const listDueSQL = `
SELECT id, name, strategy, wait, language_code, prompt_id, threshold, active, next_run, last_run
FROM items
WHERE active AND next_run IS NOT NULL AND next_run <= $1
ORDER BY next_run`

// ListDue returns active items whose next run is at or before now.
func (s *ItemStore) ListDue(ctx context.Context, now time.Time) ([]pipeline.Item, error) {
	rows, err := s.db.Query(ctx, listDueSQL, now)
	if err != nil {
		return nil, fmt.Errorf("list due items: %w", err)
	}
	defer rows.Close()

	var items []pipeline.Item
	for rows.Next() {
		var (
			item        pipeline.Item
			strategyRaw []byte
			waitRaw     []byte
		)
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&strategyRaw,
			&waitRaw,
			&item.LanguageCode,
			&item.PromptID,
			&item.Threshold,
			&item.Active,
			&item.NextRun,
			&item.LastRun,
		); err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		if err := json.Unmarshal(strategyRaw, &item.Strategy); err != nil {
			return nil, fmt.Errorf("decode strategy for item %s: %w", item.ID, err)
		}
		wait, err := schedule.ParseWaitPolicy(waitRaw)
		if err != nil {
			return nil, fmt.Errorf("decode wait policy for item %s: %w", item.ID, err)
		}
		item.Wait = wait
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item rows: %w", err)
	}
	return items, nil
}

const updateRunTimesSQL = `
UPDATE items SET last_run = $2, next_run = $3 WHERE id = $1`

// UpdateRunTimes records the completed run and the computed next slot.
// A nil nextRun pauses the item.
func (s *ItemStore) UpdateRunTimes(ctx context.Context, itemID string, lastRun time.Time, nextRun *time.Time) error {
	tag, err := s.db.Exec(ctx, updateRunTimesSQL, itemID, lastRun, nextRun)
	if err != nil {
		return fmt.Errorf("update run times for item %s: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s not found", itemID)
	}
	return nil
}
