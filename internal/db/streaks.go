package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StreakRepository handles song streak database operations.
type StreakRepository struct {
	pool *pgxpool.Pool
}

// Get retrieves the streak row for a (user, song identity).
func (r *StreakRepository) Get(ctx context.Context, userID string, identity SongIdentity) (*SongStreak, error) {
	query := `
		SELECT id, user_id, song_id, is_online, online_id, song_title,
		       artist_name, current_streak, last_played_date, created_at, updated_at
		FROM song_streaks
		WHERE id = $1
	`
	var streak SongStreak
	err := r.pool.QueryRow(ctx, query, identity.Key(userID)).Scan(
		&streak.ID,
		&streak.UserID,
		&streak.SongID,
		&streak.IsOnline,
		&streak.OnlineID,
		&streak.SongTitle,
		&streak.ArtistName,
		&streak.CurrentStreak,
		&streak.LastPlayedDate,
		&streak.CreatedAt,
		&streak.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying streak: %w", err)
	}
	return &streak, nil
}

// Upsert creates or overwrites a streak row.
func (r *StreakRepository) Upsert(ctx context.Context, streak *SongStreak) error {
	query := `
		INSERT INTO song_streaks
			(id, user_id, song_id, is_online, online_id, song_title,
			 artist_name, current_streak, last_played_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			song_title = EXCLUDED.song_title,
			artist_name = EXCLUDED.artist_name,
			current_streak = EXCLUDED.current_streak,
			last_played_date = EXCLUDED.last_played_date,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		streak.ID,
		streak.UserID,
		streak.SongID,
		streak.IsOnline,
		streak.OnlineID,
		streak.SongTitle,
		streak.ArtistName,
		streak.CurrentStreak,
		streak.LastPlayedDate,
	).Scan(&streak.CreatedAt, &streak.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting streak: %w", err)
	}
	return nil
}

// ActiveForUser retrieves all streaks of at least two days, longest first.
func (r *StreakRepository) ActiveForUser(ctx context.Context, userID string) ([]SongStreak, error) {
	query := `
		SELECT id, user_id, song_id, is_online, online_id, song_title,
		       artist_name, current_streak, last_played_date, created_at, updated_at
		FROM song_streaks
		WHERE user_id = $1 AND current_streak >= 2
		ORDER BY current_streak DESC, last_played_date DESC, id
	`
	return r.queryStreaks(ctx, query, userID)
}

// TopForUser retrieves the user's longest streaks, regardless of length.
func (r *StreakRepository) TopForUser(ctx context.Context, userID string, limit int) ([]SongStreak, error) {
	query := `
		SELECT id, user_id, song_id, is_online, online_id, song_title,
		       artist_name, current_streak, last_played_date, created_at, updated_at
		FROM song_streaks
		WHERE user_id = $1
		ORDER BY current_streak DESC, last_played_date DESC, id
		LIMIT $2
	`
	return r.queryStreaks(ctx, query, userID, limit)
}

// DeleteStale removes non-notable streaks (below two days) whose last update
// is older than the cutoff. Returns the number of rows removed.
func (r *StreakRepository) DeleteStale(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM song_streaks
		WHERE user_id = $1 AND current_streak < 2 AND updated_at < $2
	`
	result, err := r.pool.Exec(ctx, query, userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting stale streaks: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *StreakRepository) queryStreaks(ctx context.Context, query string, args ...any) ([]SongStreak, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying streaks: %w", err)
	}
	defer rows.Close()

	var streaks []SongStreak
	for rows.Next() {
		var streak SongStreak
		if err := rows.Scan(
			&streak.ID,
			&streak.UserID,
			&streak.SongID,
			&streak.IsOnline,
			&streak.OnlineID,
			&streak.SongTitle,
			&streak.ArtistName,
			&streak.CurrentStreak,
			&streak.LastPlayedDate,
			&streak.CreatedAt,
			&streak.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning streak: %w", err)
		}
		streaks = append(streaks, streak)
	}
	return streaks, rows.Err()
}
