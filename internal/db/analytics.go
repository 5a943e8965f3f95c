package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnalyticsRepository handles monthly analytics database operations.
type AnalyticsRepository struct {
	pool *pgxpool.Pool
}

// Upsert creates or overwrites the analytics row for a (user, month). The
// whole row is replaced because the values come from a full rescan of the
// month's sessions, never from the previous aggregate.
func (r *AnalyticsRepository) Upsert(ctx context.Context, analytics *MonthlyAnalytics) error {
	query := `
		INSERT INTO monthly_analytics
			(id, user_id, month, total_listening_time_ms, total_songs_played,
			 unique_songs_count, unique_artists_count, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			total_listening_time_ms = EXCLUDED.total_listening_time_ms,
			total_songs_played = EXCLUDED.total_songs_played,
			unique_songs_count = EXCLUDED.unique_songs_count,
			unique_artists_count = EXCLUDED.unique_artists_count,
			last_updated = NOW()
		RETURNING last_updated
	`
	err := r.pool.QueryRow(ctx, query,
		analytics.ID,
		analytics.UserID,
		analytics.Month,
		analytics.TotalListeningTime,
		analytics.TotalSongsPlayed,
		analytics.UniqueSongsCount,
		analytics.UniqueArtistsCount,
	).Scan(&analytics.LastUpdated)
	if err != nil {
		return fmt.Errorf("upserting monthly analytics: %w", err)
	}
	return nil
}

// Get retrieves the analytics row for a (user, month).
func (r *AnalyticsRepository) Get(ctx context.Context, userID, month string) (*MonthlyAnalytics, error) {
	query := `
		SELECT id, user_id, month, total_listening_time_ms, total_songs_played,
		       unique_songs_count, unique_artists_count, last_updated
		FROM monthly_analytics
		WHERE id = $1
	`
	var analytics MonthlyAnalytics
	err := r.pool.QueryRow(ctx, query, AnalyticsID(userID, month)).Scan(
		&analytics.ID,
		&analytics.UserID,
		&analytics.Month,
		&analytics.TotalListeningTime,
		&analytics.TotalSongsPlayed,
		&analytics.UniqueSongsCount,
		&analytics.UniqueArtistsCount,
		&analytics.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying monthly analytics: %w", err)
	}
	return &analytics, nil
}

// GetForUser retrieves all analytics rows for a user, newest month first.
func (r *AnalyticsRepository) GetForUser(ctx context.Context, userID string) ([]MonthlyAnalytics, error) {
	query := `
		SELECT id, user_id, month, total_listening_time_ms, total_songs_played,
		       unique_songs_count, unique_artists_count, last_updated
		FROM monthly_analytics
		WHERE user_id = $1
		ORDER BY month DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying user analytics: %w", err)
	}
	defer rows.Close()

	var results []MonthlyAnalytics
	for rows.Next() {
		var analytics MonthlyAnalytics
		if err := rows.Scan(
			&analytics.ID,
			&analytics.UserID,
			&analytics.Month,
			&analytics.TotalListeningTime,
			&analytics.TotalSongsPlayed,
			&analytics.UniqueSongsCount,
			&analytics.UniqueArtistsCount,
			&analytics.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("scanning monthly analytics: %w", err)
		}
		results = append(results, analytics)
	}
	return results, rows.Err()
}
