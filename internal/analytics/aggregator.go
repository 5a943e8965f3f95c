// Package analytics derives per-user, per-month listening rollups from
// finalized sessions.
package analytics

import (
	"context"
	"fmt"

	"github.com/tunetally/tunetally/internal/db"
	"github.com/tunetally/tunetally/internal/keylock"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 50
)

// SessionReader provides the aggregate queries over finalized sessions.
type SessionReader interface {
	AggregateForMonth(ctx context.Context, userID, month string) (*db.MonthAggregate, error)
	TopSongsForMonth(ctx context.Context, userID, month string, limit int) ([]db.SongPlayCount, error)
	TopArtistsForMonth(ctx context.Context, userID, month string, limit int) ([]db.ArtistPlayTime, error)
}

// Store persists the derived analytics rows.
type Store interface {
	Upsert(ctx context.Context, analytics *db.MonthlyAnalytics) error
	Get(ctx context.Context, userID, month string) (*db.MonthlyAnalytics, error)
}

// Aggregator recomputes monthly analytics and pushes live totals to
// subscribers. Recomputes for the same (user, month) are serialized; a failed
// recompute leaves the previous row intact, so readers see stale-but-valid
// data until the next finalize retries the same pure computation.
type Aggregator struct {
	sessions SessionReader
	store    Store
	locks    *keylock.KeyLock
	hub      *hub
}

// New creates an aggregator.
func New(sessions SessionReader, store Store) *Aggregator {
	return &Aggregator{
		sessions: sessions,
		store:    store,
		locks:    keylock.New(),
		hub:      newHub(),
	}
}

// OnSessionFinalized recomputes the (user, month) row of the finalized
// session with a full rescan of that month's sessions.
func (a *Aggregator) OnSessionFinalized(ctx context.Context, session *db.ListeningSession) error {
	_, err := a.Recompute(ctx, session.UserID, session.PlayMonth)
	return err
}

// Recompute rescans a (user, month), overwrites its analytics row and
// notifies subscribers. The result is a pure function of stored sessions, so
// concurrent recomputes for the same key resolve to last-writer-wins.
func (a *Aggregator) Recompute(ctx context.Context, userID, month string) (*db.MonthlyAnalytics, error) {
	key := db.AnalyticsID(userID, month)
	a.locks.Lock(key)
	defer a.locks.Unlock(key)

	agg, err := a.sessions.AggregateForMonth(ctx, userID, month)
	if err != nil {
		return nil, fmt.Errorf("rescanning month: %w", err)
	}

	analytics := &db.MonthlyAnalytics{
		ID:                 key,
		UserID:             userID,
		Month:              month,
		TotalListeningTime: agg.TotalListeningTime,
		TotalSongsPlayed:   agg.TotalSongsPlayed,
		UniqueSongsCount:   agg.UniqueSongsCount,
		UniqueArtistsCount: agg.UniqueArtistsCount,
	}
	if err := a.store.Upsert(ctx, analytics); err != nil {
		return nil, fmt.Errorf("storing analytics: %w", err)
	}

	a.hub.publish(key, analytics.TotalListeningTime)
	return analytics, nil
}

// Get returns the stored analytics row for a (user, month).
func (a *Aggregator) Get(ctx context.Context, userID, month string) (*db.MonthlyAnalytics, error) {
	return a.store.Get(ctx, userID, month)
}

// TopSongs returns the user's most played songs for a month, by play count
// descending then listened time descending.
func (a *Aggregator) TopSongs(ctx context.Context, userID, month string, limit int) ([]db.SongPlayCount, error) {
	return a.sessions.TopSongsForMonth(ctx, userID, month, normalizeLimit(limit))
}

// TopArtists returns the user's top artists for a month by total listened
// time descending.
func (a *Aggregator) TopArtists(ctx context.Context, userID, month string, limit int) ([]db.ArtistPlayTime, error) {
	return a.sessions.TopArtistsForMonth(ctx, userID, month, normalizeLimit(limit))
}

// Subscribe attaches an observer to the running listening-time total of a
// (user, month). The channel receives the new total after every successful
// recompute; a slow receiver only ever misses intermediate values, never the
// latest. The cancel func detaches the observer and closes the channel.
func (a *Aggregator) Subscribe(userID, month string) (<-chan int64, func()) {
	return a.hub.subscribe(db.AnalyticsID(userID, month))
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultTopLimit
	}
	if limit > maxTopLimit {
		return maxTopLimit
	}
	return limit
}
