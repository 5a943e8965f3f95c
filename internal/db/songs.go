package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const songColumns = `id, title, artist, album, artwork_path, file_path,
	duration_ms, is_liked, is_online, online_id, user_id, added_at,
	last_played_at, play_count`

// SongRepository handles local library database operations.
type SongRepository struct {
	pool *pgxpool.Pool
}

// Insert creates a new library row and fills in the generated id.
func (r *SongRepository) Insert(ctx context.Context, song *Song) error {
	query := `
		INSERT INTO songs
			(title, artist, album, artwork_path, file_path, duration_ms,
			 is_liked, is_online, online_id, user_id, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING id, added_at
	`
	err := r.pool.QueryRow(ctx, query,
		song.Title,
		song.Artist,
		song.Album,
		song.ArtworkPath,
		song.FilePath,
		song.DurationMs,
		song.IsLiked,
		song.IsOnline,
		song.OnlineID,
		song.UserID,
	).Scan(&song.ID, &song.AddedAt)
	if err != nil {
		return fmt.Errorf("inserting song: %w", err)
	}
	return nil
}

// Get retrieves a song by ID.
func (r *SongRepository) Get(ctx context.Context, id int64) (*Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs WHERE id = $1`
	song, err := scanSong(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying song: %w", err)
	}
	return song, nil
}

// GetByOnlineID retrieves the downloaded copy of a remote song for a user.
func (r *SongRepository) GetByOnlineID(ctx context.Context, userID string, onlineID int64) (*Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs WHERE user_id = $1 AND online_id = $2`
	song, err := scanSong(r.pool.QueryRow(ctx, query, userID, onlineID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying song by online id: %w", err)
	}
	return song, nil
}

// IsDownloaded reports whether a remote song has a persisted local copy for
// the user.
func (r *SongRepository) IsDownloaded(ctx context.Context, userID string, onlineID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM songs WHERE user_id = $1 AND online_id = $2)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, onlineID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking download: %w", err)
	}
	return exists, nil
}

// AllForUser retrieves a user's full library, newest additions first.
func (r *SongRepository) AllForUser(ctx context.Context, userID string) ([]Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs WHERE user_id = $1 ORDER BY added_at DESC`
	return r.querySongs(ctx, query, userID)
}

// LikedForUser retrieves a user's liked songs, newest additions first.
func (r *SongRepository) LikedForUser(ctx context.Context, userID string) ([]Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs WHERE user_id = $1 AND is_liked ORDER BY added_at DESC`
	return r.querySongs(ctx, query, userID)
}

// RecentlyPlayed retrieves the user's most recently played songs.
func (r *SongRepository) RecentlyPlayed(ctx context.Context, userID string, limit int) ([]Song, error) {
	query := `
		SELECT ` + songColumns + `
		FROM songs
		WHERE user_id = $1 AND last_played_at IS NOT NULL
		ORDER BY last_played_at DESC
		LIMIT $2
	`
	return r.querySongs(ctx, query, userID, limit)
}

// NeverPlayed retrieves library songs with no recorded play.
func (r *SongRepository) NeverPlayed(ctx context.Context, userID string) ([]Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs WHERE user_id = $1 AND play_count = 0 ORDER BY added_at DESC`
	return r.querySongs(ctx, query, userID)
}

// DownloadedOnlineIDs returns the remote ids of every online song the user
// has a persisted local copy of.
func (r *SongRepository) DownloadedOnlineIDs(ctx context.Context, userID string) (map[int64]int64, error) {
	query := `SELECT online_id, id FROM songs WHERE user_id = $1 AND online_id IS NOT NULL`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying downloaded ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]int64)
	for rows.Next() {
		var onlineID, localID int64
		if err := rows.Scan(&onlineID, &localID); err != nil {
			return nil, fmt.Errorf("scanning downloaded id: %w", err)
		}
		ids[onlineID] = localID
	}
	return ids, rows.Err()
}

// MarkPlayed bumps play_count and last_played_at for a song.
func (r *SongRepository) MarkPlayed(ctx context.Context, id int64, playedAt time.Time) error {
	query := `
		UPDATE songs
		SET play_count = play_count + 1,
		    last_played_at = GREATEST(COALESCE(last_played_at, $2), $2)
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, playedAt)
	if err != nil {
		return fmt.Errorf("marking song played: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLiked toggles the liked flag on a song.
func (r *SongRepository) SetLiked(ctx context.Context, id int64, liked bool) error {
	query := `UPDATE songs SET is_liked = $2 WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id, liked)
	if err != nil {
		return fmt.Errorf("setting song liked: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SongRepository) querySongs(ctx context.Context, query string, args ...any) ([]Song, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying songs: %w", err)
	}
	defer rows.Close()

	var songs []Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning song: %w", err)
		}
		songs = append(songs, *song)
	}
	return songs, rows.Err()
}

func scanSong(row pgx.Row) (*Song, error) {
	var song Song
	err := row.Scan(
		&song.ID,
		&song.Title,
		&song.Artist,
		&song.Album,
		&song.ArtworkPath,
		&song.FilePath,
		&song.DurationMs,
		&song.IsLiked,
		&song.IsOnline,
		&song.OnlineID,
		&song.UserID,
		&song.AddedAt,
		&song.LastPlayedAt,
		&song.PlayCount,
	)
	if err != nil {
		return nil, err
	}
	return &song, nil
}
