// Package streaks maintains per-user, per-song counts of consecutive
// calendar days with at least one play.
package streaks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tunetally/tunetally/internal/db"
	"github.com/tunetally/tunetally/internal/keylock"
)

// DefaultTopLimit is the number of streaks Top returns when the caller does
// not say otherwise.
const DefaultTopLimit = 10

// DefaultRetention is how long a non-notable streak row survives without an
// update before cleanup may remove it.
const DefaultRetention = 30 * 24 * time.Hour

// Common errors.
var (
	// ErrStaleDate is returned when a play is recorded for a date before the
	// stored last played date. The record is left unchanged; the event is a
	// late delivery, not a new play.
	ErrStaleDate = errors.New("play date before last played date")

	// ErrBadDate is returned when the play date is not a "YYYY-MM-DD" value.
	ErrBadDate = errors.New("malformed play date")
)

// Store is the streak persistence needed by the tracker.
type Store interface {
	Get(ctx context.Context, userID string, identity db.SongIdentity) (*db.SongStreak, error)
	Upsert(ctx context.Context, streak *db.SongStreak) error
	ActiveForUser(ctx context.Context, userID string) ([]db.SongStreak, error)
	TopForUser(ctx context.Context, userID string, limit int) ([]db.SongStreak, error)
	DeleteStale(ctx context.Context, userID string, cutoff time.Time) (int64, error)
}

// Tracker records plays and answers streak queries. The compare-and-advance
// sequence for one (user, song identity) key is strictly serialized; it is
// not safe under concurrent execution for the same key.
type Tracker struct {
	store Store
	locks *keylock.KeyLock
}

// New creates a streak tracker.
func New(store Store) *Tracker {
	return &Tracker{store: store, locks: keylock.New()}
}

// Play carries the song metadata of a recorded play.
type Play struct {
	Identity   db.SongIdentity
	SongTitle  string
	ArtistName string
	Date       string // "YYYY-MM-DD"
}

// OnSessionFinalized records a play for the finalized session's song on the
// session's start day.
func (t *Tracker) OnSessionFinalized(ctx context.Context, session *db.ListeningSession) error {
	return t.RecordPlay(ctx, session.UserID, Play{
		Identity:   session.Identity(),
		SongTitle:  session.SongTitle,
		ArtistName: session.ArtistName,
		Date:       session.PlayDate,
	})
}

// RecordPlay advances the streak for (user, song identity) to cover the play
// date:
//   - same day as the stored date: no change (idempotent for repeats);
//   - the following day: streak extends by one;
//   - a later day with a gap: streak resets to 1;
//   - an earlier day: rejected with ErrStaleDate, the record stays monotonic.
func (t *Tracker) RecordPlay(ctx context.Context, userID string, play Play) error {
	if _, err := time.Parse(db.DateLayout, play.Date); err != nil {
		return fmt.Errorf("%w: %q", ErrBadDate, play.Date)
	}

	key := play.Identity.Key(userID)
	t.locks.Lock(key)
	defer t.locks.Unlock(key)

	current, err := t.store.Get(ctx, userID, play.Identity)
	if errors.Is(err, db.ErrNotFound) {
		return t.store.Upsert(ctx, &db.SongStreak{
			ID:             key,
			UserID:         userID,
			SongID:         play.Identity.SongID,
			IsOnline:       play.Identity.IsOnline,
			OnlineID:       play.Identity.OnlineID,
			SongTitle:      play.SongTitle,
			ArtistName:     play.ArtistName,
			CurrentStreak:  1,
			LastPlayedDate: play.Date,
		})
	}
	if err != nil {
		return fmt.Errorf("loading streak: %w", err)
	}

	changed, err := advance(current, play.Date)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	current.SongTitle = play.SongTitle
	current.ArtistName = play.ArtistName
	return t.store.Upsert(ctx, current)
}

// advance applies the calendar-day policy to an existing streak record.
// It reports whether the record changed.
func advance(streak *db.SongStreak, playDate string) (bool, error) {
	diff, err := daysBetween(streak.LastPlayedDate, playDate)
	if err != nil {
		return false, err
	}

	switch {
	case diff == 0:
		return false, nil
	case diff == 1:
		streak.CurrentStreak++
		streak.LastPlayedDate = playDate
		return true, nil
	case diff > 1:
		streak.CurrentStreak = 1
		streak.LastPlayedDate = playDate
		return true, nil
	default:
		return false, ErrStaleDate
	}
}

// daysBetween returns the whole calendar days from one "YYYY-MM-DD" value to
// another; negative when `to` is earlier.
func daysBetween(from, to string) (int, error) {
	a, err := time.Parse(db.DateLayout, from)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadDate, from)
	}
	b, err := time.Parse(db.DateLayout, to)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadDate, to)
	}
	return int(b.Sub(a).Hours() / 24), nil
}

// Active returns all of the user's streaks of at least two days, longest
// first.
func (t *Tracker) Active(ctx context.Context, userID string) ([]db.SongStreak, error) {
	return t.store.ActiveForUser(ctx, userID)
}

// Top returns the user's longest streaks. A non-positive limit means
// DefaultTopLimit.
func (t *Tracker) Top(ctx context.Context, userID string, limit int) ([]db.SongStreak, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	return t.store.TopForUser(ctx, userID, limit)
}

// Cleanup removes streaks below two days that have not been touched since the
// cutoff. The cutoff must lie far enough in the past that no removed row was
// still eligible to extend today; rows removed here are storage hygiene, the
// session history behind them remains.
func (t *Tracker) Cleanup(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	return t.store.DeleteStale(ctx, userID, cutoff)
}
