package postgres

import (
	"context"
	"fmt"
)

// schemaStatements holds the DDL for the tables this service owns. The
// statements are idempotent so EnsureSchema can run on every start.
//
// The stories index is the summarization cache key: NULLS NOT DISTINCT
// makes a missing prompt_id collide like any other value, keeping at
// most one live story per (url, prompt_id, language_code) even under
// concurrent writers.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		strategy JSONB NOT NULL,
		wait JSONB NOT NULL,
		language_code TEXT NOT NULL DEFAULT '',
		prompt_id TEXT,
		threshold INT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		next_run TIMESTAMPTZ,
		last_run TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS items_due
		ON items (next_run)
		WHERE active AND next_run IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS prompts (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS contents (
		id TEXT PRIMARY KEY,
		normalized_url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		html_blob_uri TEXT NOT NULL DEFAULT '',
		markdown_blob_uri TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		og_title TEXT NOT NULL DEFAULT '',
		og_image TEXT NOT NULL DEFAULT '',
		fetched_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		alert_id TEXT NOT NULL,
		content_id TEXT NOT NULL,
		url TEXT NOT NULL,
		original_url TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		key_findings TEXT[] NOT NULL DEFAULT '{}',
		language_code TEXT NOT NULL DEFAULT '',
		prompt_id TEXT,
		system_marked_irrelevant BOOLEAN NOT NULL DEFAULT FALSE,
		user_marked_irrelevant BOOLEAN NOT NULL DEFAULT FALSE,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS stories_cache_key
		ON stories (url, prompt_id, language_code) NULLS NOT DISTINCT
		WHERE deleted_at IS NULL`,
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func EnsureSchema(ctx context.Context, db Querier) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
