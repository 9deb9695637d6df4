package database

import (
	"context"
	"fmt"
)

// schema holds the bootstrap DDL. Catalog tables carry more columns in
// the full product; only what the transcode core touches lives here.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		backend TEXT NOT NULL,
		key TEXT NOT NULL,
		meta JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS titles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		video_asset_id TEXT REFERENCES assets(id),
		poster_asset_id TEXT REFERENCES assets(id),
		backdrop_asset_id TEXT REFERENCES assets(id),
		subtitle_asset_id TEXT REFERENCES assets(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		season_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		number INT NOT NULL DEFAULT 0,
		video_asset_id TEXT REFERENCES assets(id),
		subtitle_asset_id TEXT REFERENCES assets(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS media_jobs (
		id TEXT PRIMARY KEY,
		title_id TEXT REFERENCES titles(id),
		episode_id TEXT REFERENCES episodes(id),
		input_asset_id TEXT NOT NULL REFERENCES assets(id),
		output_manifest_asset_id TEXT REFERENCES assets(id),
		output_thumb_asset_id TEXT REFERENCES assets(id),
		status TEXT NOT NULL DEFAULT 'QUEUED',
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK ((title_id IS NULL) <> (episode_id IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_media_jobs_status ON media_jobs(status)`,
	`CREATE TABLE IF NOT EXISTS watch_progress (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		title_id TEXT,
		episode_id TEXT,
		position_seconds INT NOT NULL DEFAULT 0,
		duration_seconds INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (profile_id, asset_id)
	)`,
}

// Migrate applies the bootstrap schema.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
