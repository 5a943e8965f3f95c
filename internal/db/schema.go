package db

import (
	"context"
	"fmt"
)

// schema holds the idempotent DDL for all tables, applied in order.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS songs (
		id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		title TEXT NOT NULL,
		artist TEXT NOT NULL,
		album TEXT,
		artwork_path TEXT,
		file_path TEXT NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		is_liked BOOLEAN NOT NULL DEFAULT FALSE,
		is_online BOOLEAN NOT NULL DEFAULT FALSE,
		online_id BIGINT,
		user_id TEXT NOT NULL,
		added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_played_at TIMESTAMPTZ,
		play_count INT NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS songs_user_online
		ON songs (user_id, online_id) WHERE online_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS listening_sessions (
		id UUID PRIMARY KEY,
		song_id BIGINT NOT NULL,
		song_title TEXT NOT NULL,
		artist_name TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		duration_listened_ms BIGINT NOT NULL DEFAULT 0,
		total_duration_ms BIGINT NOT NULL DEFAULT 0,
		play_date TEXT NOT NULL,
		play_month TEXT NOT NULL,
		user_id TEXT NOT NULL,
		is_online BOOLEAN NOT NULL DEFAULT FALSE,
		online_id BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS listening_sessions_user_month
		ON listening_sessions (user_id, play_month)`,
	`CREATE INDEX IF NOT EXISTS listening_sessions_user_date
		ON listening_sessions (user_id, play_date)`,

	`CREATE TABLE IF NOT EXISTS monthly_analytics (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		month TEXT NOT NULL,
		total_listening_time_ms BIGINT NOT NULL DEFAULT 0,
		total_songs_played INT NOT NULL DEFAULT 0,
		unique_songs_count INT NOT NULL DEFAULT 0,
		unique_artists_count INT NOT NULL DEFAULT 0,
		last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS song_streaks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		song_id BIGINT NOT NULL,
		is_online BOOLEAN NOT NULL DEFAULT FALSE,
		online_id BIGINT NOT NULL DEFAULT 0,
		song_title TEXT NOT NULL,
		artist_name TEXT NOT NULL,
		current_streak INT NOT NULL DEFAULT 1,
		last_played_date TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS song_streaks_user
		ON song_streaks (user_id, current_streak DESC)`,
}

// Migrate applies the schema. Safe to call on every startup.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}
