package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-day format used by session and streak rows.
const DateLayout = "2006-01-02"

// MonthLayout is the calendar-month format used by analytics rows.
const MonthLayout = "2006-01"

// ListeningSession represents one contiguous playback attempt of a single
// song by a single user.
type ListeningSession struct {
	ID               uuid.UUID
	SongID           int64
	SongTitle        string
	ArtistName       string
	StartTime        time.Time
	EndTime          *time.Time // nil while in progress
	DurationListened int64      // accumulated active-play milliseconds
	TotalDuration    int64      // nominal song length in milliseconds; may be 0
	PlayDate         string     // "YYYY-MM-DD" local calendar day of StartTime
	PlayMonth        string     // "YYYY-MM"
	UserID           string
	IsOnline         bool
	OnlineID         *int64 // set iff IsOnline
}

// Finalized reports whether the session has ended.
func (s *ListeningSession) Finalized() bool {
	return s.EndTime != nil
}

// Identity returns the song identity of the session for streak tracking.
func (s *ListeningSession) Identity() SongIdentity {
	si := SongIdentity{SongID: s.SongID, IsOnline: s.IsOnline}
	if s.OnlineID != nil {
		si.OnlineID = *s.OnlineID
	}
	return si
}

// MonthlyAnalytics is the derived per-user, per-month rollup. Values are
// recomputed from listening_sessions on every relevant finalize, never
// patched incrementally.
type MonthlyAnalytics struct {
	ID                 string // month + "_" + user composite key
	UserID             string
	Month              string // "YYYY-MM"
	TotalListeningTime int64  // milliseconds
	TotalSongsPlayed   int
	UniqueSongsCount   int
	UniqueArtistsCount int
	LastUpdated        time.Time
}

// AnalyticsID builds the composite key for a (user, month) analytics row.
func AnalyticsID(userID, month string) string {
	return month + "_" + userID
}

// SongIdentity identifies a song for streak purposes. A local song and its
// online counterpart are distinct identities until the online song is
// downloaded, at which point the persisted local row carries both.
type SongIdentity struct {
	SongID   int64
	IsOnline bool
	OnlineID int64 // meaningful iff IsOnline
}

// Key builds the composite primary key for a (user, song identity) streak row.
func (si SongIdentity) Key(userID string) string {
	return fmt.Sprintf("%d_%t_%d_%s", si.SongID, si.IsOnline, si.OnlineID, userID)
}

// SongStreak tracks consecutive calendar days on which a user played a song.
type SongStreak struct {
	ID             string
	UserID         string
	SongID         int64
	IsOnline       bool
	OnlineID       int64
	SongTitle      string
	ArtistName     string
	CurrentStreak  int
	LastPlayedDate string // "YYYY-MM-DD"
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Song is a local library row. Downloaded online songs carry IsOnline=true
// and their remote id in OnlineID for analytics linkage.
type Song struct {
	ID           int64
	Title        string
	Artist       string
	Album        *string // nullable
	ArtworkPath  *string // nullable
	FilePath     string
	DurationMs   int64
	IsLiked      bool
	IsOnline     bool
	OnlineID     *int64 // nullable
	UserID       string
	AddedAt      time.Time
	LastPlayedAt *time.Time // nil until first play
	PlayCount    int
}

// SongPlayCount is a per-song aggregate row for a month.
type SongPlayCount struct {
	SongID        int64
	SongTitle     string
	ArtistName    string
	PlayCount     int
	TotalDuration int64 // summed duration_listened, milliseconds
}

// ArtistPlayTime is a per-artist aggregate row for a month.
type ArtistPlayTime struct {
	ArtistName    string
	TotalDuration int64 // milliseconds
	SongCount     int   // distinct songs
}

// MonthAggregate is the raw full-rescan result for a (user, month).
type MonthAggregate struct {
	TotalListeningTime int64
	TotalSongsPlayed   int
	UniqueSongsCount   int
	UniqueArtistsCount int
}
