package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository handles listening session database operations.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// Insert creates a new listening session row.
func (r *SessionRepository) Insert(ctx context.Context, session *ListeningSession) error {
	query := `
		INSERT INTO listening_sessions
			(id, song_id, song_title, artist_name, start_time, end_time,
			 duration_listened_ms, total_duration_ms, play_date, play_month,
			 user_id, is_online, online_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.SongID,
		session.SongTitle,
		session.ArtistName,
		session.StartTime,
		session.EndTime,
		session.DurationListened,
		session.TotalDuration,
		session.PlayDate,
		session.PlayMonth,
		session.UserID,
		session.IsOnline,
		session.OnlineID,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*ListeningSession, error) {
	query := `
		SELECT id, song_id, song_title, artist_name, start_time, end_time,
		       duration_listened_ms, total_duration_ms, play_date, play_month,
		       user_id, is_online, online_id
		FROM listening_sessions
		WHERE id = $1
	`
	var session ListeningSession
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.SongID,
		&session.SongTitle,
		&session.ArtistName,
		&session.StartTime,
		&session.EndTime,
		&session.DurationListened,
		&session.TotalDuration,
		&session.PlayDate,
		&session.PlayMonth,
		&session.UserID,
		&session.IsOnline,
		&session.OnlineID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return &session, nil
}

// UpdateProgress advances duration_listened_ms for an in-progress session.
// The value never decreases; a write against a finalized session returns
// ErrSessionFinalized.
func (r *SessionRepository) UpdateProgress(ctx context.Context, id uuid.UUID, durationListened int64) error {
	query := `
		UPDATE listening_sessions
		SET duration_listened_ms = GREATEST(duration_listened_ms, $2)
		WHERE id = $1 AND end_time IS NULL
	`
	result, err := r.pool.Exec(ctx, query, id, durationListened)
	if err != nil {
		return fmt.Errorf("updating session progress: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

// Finalize sets end_time and the final duration_listened_ms. end_time is
// write-once: finalizing an already-finalized session returns
// ErrSessionFinalized and leaves the row untouched.
func (r *SessionRepository) Finalize(ctx context.Context, id uuid.UUID, endTime time.Time, durationListened int64) error {
	query := `
		UPDATE listening_sessions
		SET end_time = $2,
		    duration_listened_ms = GREATEST(duration_listened_ms, $3)
		WHERE id = $1 AND end_time IS NULL
	`
	result, err := r.pool.Exec(ctx, query, id, endTime, durationListened)
	if err != nil {
		return fmt.Errorf("finalizing session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

// classifyMiss distinguishes an absent session from a finalized one after a
// zero-row conditional update.
func (r *SessionRepository) classifyMiss(ctx context.Context, id uuid.UUID) error {
	var finalized bool
	err := r.pool.QueryRow(ctx,
		`SELECT end_time IS NOT NULL FROM listening_sessions WHERE id = $1`, id,
	).Scan(&finalized)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying session state: %w", err)
	}
	if finalized {
		return ErrSessionFinalized
	}
	return ErrNotFound
}

// AggregateForMonth performs the full rescan over all finalized sessions of a
// (user, month): total time, play count, distinct songs, distinct artists.
func (r *SessionRepository) AggregateForMonth(ctx context.Context, userID, month string) (*MonthAggregate, error) {
	query := `
		SELECT
			COALESCE(SUM(duration_listened_ms), 0),
			COUNT(*),
			COUNT(DISTINCT song_id),
			COUNT(DISTINCT artist_name)
		FROM listening_sessions
		WHERE user_id = $1 AND play_month = $2 AND end_time IS NOT NULL
	`
	var agg MonthAggregate
	err := r.pool.QueryRow(ctx, query, userID, month).Scan(
		&agg.TotalListeningTime,
		&agg.TotalSongsPlayed,
		&agg.UniqueSongsCount,
		&agg.UniqueArtistsCount,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregating month: %w", err)
	}
	return &agg, nil
}

// TopSongsForMonth returns the user's most played songs for a month, ordered
// by play count descending, then total listened time descending, then song id
// for a deterministic tie-break.
func (r *SessionRepository) TopSongsForMonth(ctx context.Context, userID, month string, limit int) ([]SongPlayCount, error) {
	query := `
		SELECT song_id, MIN(song_title), MIN(artist_name),
		       COUNT(*), COALESCE(SUM(duration_listened_ms), 0)
		FROM listening_sessions
		WHERE user_id = $1 AND play_month = $2 AND end_time IS NOT NULL
		GROUP BY song_id
		ORDER BY COUNT(*) DESC, COALESCE(SUM(duration_listened_ms), 0) DESC, song_id
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, userID, month, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top songs: %w", err)
	}
	defer rows.Close()

	var songs []SongPlayCount
	for rows.Next() {
		var s SongPlayCount
		if err := rows.Scan(&s.SongID, &s.SongTitle, &s.ArtistName, &s.PlayCount, &s.TotalDuration); err != nil {
			return nil, fmt.Errorf("scanning top song: %w", err)
		}
		songs = append(songs, s)
	}
	return songs, rows.Err()
}

// TopArtistsForMonth returns the user's top artists for a month by total
// listened time descending, artist name ascending on ties.
func (r *SessionRepository) TopArtistsForMonth(ctx context.Context, userID, month string, limit int) ([]ArtistPlayTime, error) {
	query := `
		SELECT artist_name, COALESCE(SUM(duration_listened_ms), 0), COUNT(DISTINCT song_id)
		FROM listening_sessions
		WHERE user_id = $1 AND play_month = $2 AND end_time IS NOT NULL
		GROUP BY artist_name
		ORDER BY COALESCE(SUM(duration_listened_ms), 0) DESC, artist_name
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, userID, month, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top artists: %w", err)
	}
	defer rows.Close()

	var artists []ArtistPlayTime
	for rows.Next() {
		var a ArtistPlayTime
		if err := rows.Scan(&a.ArtistName, &a.TotalDuration, &a.SongCount); err != nil {
			return nil, fmt.Errorf("scanning top artist: %w", err)
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}
