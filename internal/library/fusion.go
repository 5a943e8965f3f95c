// Package library fuses the user's local song library with the remote
// top-charts feed into one consistent song view.
package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/tunetally/tunetally/internal/charts"
	"github.com/tunetally/tunetally/internal/db"
)

// ErrAlreadyDownloaded is returned by PersistDownload when the remote song
// already has a local copy; the existing row wins.
var ErrAlreadyDownloaded = errors.New("song already downloaded")

// SongStore is the library persistence needed by the fusion index.
type SongStore interface {
	Insert(ctx context.Context, song *db.Song) error
	GetByOnlineID(ctx context.Context, userID string, onlineID int64) (*db.Song, error)
	IsDownloaded(ctx context.Context, userID string, onlineID int64) (bool, error)
	DownloadedOnlineIDs(ctx context.Context, userID string) (map[int64]int64, error)
	SetLiked(ctx context.Context, id int64, liked bool) error
	AllForUser(ctx context.Context, userID string) ([]db.Song, error)
	LikedForUser(ctx context.Context, userID string) ([]db.Song, error)
	RecentlyPlayed(ctx context.Context, userID string, limit int) ([]db.Song, error)
	NeverPlayed(ctx context.Context, userID string) ([]db.Song, error)
}

// ChartFeed is the remote chart lookup needed by the fusion index.
type ChartFeed interface {
	GlobalTop(ctx context.Context) ([]charts.OnlineSong, error)
	CountryTop(ctx context.Context, countryCode string) ([]charts.OnlineSong, error)
}

// FusedSong is one entry of the unified library/chart view.
//
// A local row keeps its library id as DisplayID. An online song without a
// local copy is transient: it is identified by the negated remote id and
// played from its streaming URL. Once downloaded it becomes a persisted local
// row, played from file, still carrying OnlineID for analytics linkage.
type FusedSong struct {
	DisplayID  int64
	Title      string
	Artist     string
	Album      string
	ArtworkRef string
	SourceRef  string // local file path, or streaming URL for transient songs
	DurationMs int64
	IsOnline   bool
	OnlineID   int64 // 0 for local-only songs
	Downloaded bool
	IsLiked    bool
	PlayCount  int
}

// ChartResult carries a chart fetch outcome. A remote failure lands in Err
// instead of aborting the caller; Songs is usable (possibly empty) either way.
type ChartResult struct {
	Songs []FusedSong
	Err   error
}

// Index is the Library Fusion Index.
type Index struct {
	songs SongStore
	feed  ChartFeed
}

// New creates a fusion index over the local store and the chart feed.
func New(songs SongStore, feed ChartFeed) *Index {
	return &Index{songs: songs, feed: feed}
}

// IsDownloaded reports whether the remote song has a persisted local copy.
func (ix *Index) IsDownloaded(ctx context.Context, userID string, onlineID int64) (bool, error) {
	return ix.songs.IsDownloaded(ctx, userID, onlineID)
}

// PersistDownload maps a remote chart entry plus a downloaded file location
// into a local library row. Returns the new local song id, or the existing id
// wrapped with ErrAlreadyDownloaded when the song was downloaded before.
func (ix *Index) PersistDownload(ctx context.Context, song charts.OnlineSong, localFilePath, userID string) (int64, error) {
	existing, err := ix.songs.GetByOnlineID(ctx, userID, song.ID)
	if err == nil {
		return existing.ID, ErrAlreadyDownloaded
	}
	if !errors.Is(err, db.ErrNotFound) {
		return 0, fmt.Errorf("checking existing download: %w", err)
	}

	onlineID := song.ID
	row := &db.Song{
		Title:      song.Title,
		Artist:     song.Artist,
		FilePath:   localFilePath,
		DurationMs: song.Milliseconds(),
		IsOnline:   true,
		OnlineID:   &onlineID,
		UserID:     userID,
	}
	if song.ArtworkURL != "" {
		artwork := song.ArtworkURL
		row.ArtworkPath = &artwork
	}

	if err := ix.songs.Insert(ctx, row); err != nil {
		return 0, fmt.Errorf("persisting download: %w", err)
	}
	return row.ID, nil
}

// SetLiked toggles the liked flag on a persisted library song. Transient
// chart entries cannot be liked; they have no row to flag.
func (ix *Index) SetLiked(ctx context.Context, songID int64, liked bool) error {
	if songID <= 0 {
		return db.ErrNotFound
	}
	return ix.songs.SetLiked(ctx, songID, liked)
}

// Local returns the user's full library as fused songs.
func (ix *Index) Local(ctx context.Context, userID string) ([]FusedSong, error) {
	rows, err := ix.songs.AllForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading library: %w", err)
	}
	return Fuse(rows), nil
}

// FetchGlobalTop fetches the global chart and disambiguates downloaded
// entries against the user's library. Remote failures are captured in the
// result, not returned.
func (ix *Index) FetchGlobalTop(ctx context.Context, userID string) ChartResult {
	return ix.fetchChart(ctx, userID, func(ctx context.Context) ([]charts.OnlineSong, error) {
		return ix.feed.GlobalTop(ctx)
	})
}

// FetchCountryTop is FetchGlobalTop for a country chart.
func (ix *Index) FetchCountryTop(ctx context.Context, userID, countryCode string) ChartResult {
	return ix.fetchChart(ctx, userID, func(ctx context.Context) ([]charts.OnlineSong, error) {
		return ix.feed.CountryTop(ctx, countryCode)
	})
}

func (ix *Index) fetchChart(ctx context.Context, userID string, fetch func(context.Context) ([]charts.OnlineSong, error)) ChartResult {
	songs, err := fetch(ctx)
	if err != nil {
		return ChartResult{Err: err}
	}

	downloaded, err := ix.songs.DownloadedOnlineIDs(ctx, userID)
	if err != nil {
		// Library lookup failed; serve the chart as all-transient rather
		// than dropping it.
		downloaded = nil
	}

	fused := make([]FusedSong, 0, len(songs))
	for _, s := range songs {
		fused = append(fused, fuseOnline(s, downloaded))
	}
	return ChartResult{Songs: fused}
}

// Fuse converts library rows to the fused view.
func Fuse(rows []db.Song) []FusedSong {
	fused := make([]FusedSong, 0, len(rows))
	for _, row := range rows {
		f := FusedSong{
			DisplayID:  row.ID,
			Title:      row.Title,
			Artist:     row.Artist,
			SourceRef:  row.FilePath,
			DurationMs: row.DurationMs,
			IsOnline:   row.IsOnline,
			Downloaded: true,
			IsLiked:    row.IsLiked,
			PlayCount:  row.PlayCount,
		}
		if row.Album != nil {
			f.Album = *row.Album
		}
		if row.ArtworkPath != nil {
			f.ArtworkRef = *row.ArtworkPath
		}
		if row.OnlineID != nil {
			f.OnlineID = *row.OnlineID
		}
		fused = append(fused, f)
	}
	return fused
}

// fuseOnline converts a chart entry to the fused view, resolving it to the
// local copy when one exists.
func fuseOnline(song charts.OnlineSong, downloaded map[int64]int64) FusedSong {
	f := FusedSong{
		Title:      song.Title,
		Artist:     song.Artist,
		ArtworkRef: song.ArtworkURL,
		SourceRef:  song.AudioURL,
		DurationMs: song.Milliseconds(),
		IsOnline:   true,
		OnlineID:   song.ID,
	}
	if localID, ok := downloaded[song.ID]; ok {
		f.DisplayID = localID
		f.Downloaded = true
	} else {
		// Transient identity until downloaded.
		f.DisplayID = -song.ID
	}
	return f
}
