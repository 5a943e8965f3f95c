// Package recorder turns playback transport events into durable listening
// session records.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tunetally/tunetally/internal/db"
	"github.com/tunetally/tunetally/internal/keylock"
)

// durationTolerance is the allowed overshoot of duration_listened past the
// song's nominal length; player position reports can run slightly long.
const durationTolerance = 2 * time.Second

// Common errors.
var (
	// ErrAlreadyFinalized is returned when Extend or Finalize targets a
	// session whose end time is already set. The write is a no-op.
	ErrAlreadyFinalized = errors.New("session already finalized")

	// ErrNotFound is returned when the session id is unknown.
	ErrNotFound = errors.New("session not found")
)

// Store is the session persistence needed by the recorder.
type Store interface {
	Insert(ctx context.Context, session *db.ListeningSession) error
	Get(ctx context.Context, id uuid.UUID) (*db.ListeningSession, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, durationListened int64) error
	Finalize(ctx context.Context, id uuid.UUID, endTime time.Time, durationListened int64) error
}

// FinalizeHook is notified after a session has been durably finalized.
// Hook failures are logged, never propagated: a failed downstream update
// must not undo or block the finalize itself.
type FinalizeHook interface {
	OnSessionFinalized(ctx context.Context, session *db.ListeningSession) error
}

// HookFunc adapts a function to the FinalizeHook interface.
type HookFunc func(ctx context.Context, session *db.ListeningSession) error

// OnSessionFinalized calls f.
func (f HookFunc) OnSessionFinalized(ctx context.Context, session *db.ListeningSession) error {
	return f(ctx, session)
}

// SongInfo carries the song identity and metadata of a "song started" event.
type SongInfo struct {
	SongID        int64
	Title         string
	Artist        string
	TotalDuration int64 // milliseconds; 0 or negative when unknown
	IsOnline      bool
	OnlineID      int64 // meaningful iff IsOnline
}

// Service records listening sessions. Start, Extend and Finalize for a given
// session id are serialized against each other; different sessions proceed in
// parallel.
type Service struct {
	store Store
	locks *keylock.KeyLock
	hooks []FinalizeHook
}

// New creates a recorder service. Hooks run in registration order after each
// successful finalize.
func New(store Store, hooks ...FinalizeHook) *Service {
	return &Service{
		store: store,
		locks: keylock.New(),
		hooks: hooks,
	}
}

// Start creates a session for a song that just began playing. The calendar
// day and month are fixed from startTime once and never recomputed, so a
// session spanning midnight attributes entirely to its start day.
func (s *Service) Start(ctx context.Context, song SongInfo, userID string, startTime time.Time) (uuid.UUID, error) {
	session := &db.ListeningSession{
		ID:            uuid.New(),
		SongID:        song.SongID,
		SongTitle:     song.Title,
		ArtistName:    song.Artist,
		StartTime:     startTime,
		TotalDuration: song.TotalDuration,
		PlayDate:      startTime.Format(db.DateLayout),
		PlayMonth:     startTime.Format(db.MonthLayout),
		UserID:        userID,
		IsOnline:      song.IsOnline,
	}
	if song.IsOnline {
		onlineID := song.OnlineID
		session.OnlineID = &onlineID
	}
	// TotalDuration <= 0 is accepted: online metadata may be imprecise, and
	// the aggregator reads duration_listened alone.

	s.locks.Lock(session.ID.String())
	defer s.locks.Unlock(session.ID.String())

	if err := s.store.Insert(ctx, session); err != nil {
		return uuid.Nil, fmt.Errorf("starting session: %w", err)
	}
	return session.ID, nil
}

// Extend advances the accumulated listened time of an in-progress session.
// Extending a finalized session is a no-op returning ErrAlreadyFinalized.
func (s *Service) Extend(ctx context.Context, id uuid.UUID, durationListened int64) error {
	s.locks.Lock(id.String())
	defer s.locks.Unlock(id.String())

	clamped, err := s.clamp(ctx, id, durationListened)
	if err != nil {
		return err
	}

	err = s.store.UpdateProgress(ctx, id, clamped)
	return s.mapStoreErr(err, "extending session")
}

// Finalize ends a session, setting end_time once and fixing the final
// listened duration. Finalizing twice is a no-op returning
// ErrAlreadyFinalized. Registered hooks run after a successful write.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, endTime time.Time, durationListened int64) error {
	s.locks.Lock(id.String())
	defer s.locks.Unlock(id.String())

	clamped, err := s.clamp(ctx, id, durationListened)
	if err != nil {
		return err
	}

	if err := s.store.Finalize(ctx, id, endTime, clamped); err != nil {
		return s.mapStoreErr(err, "finalizing session")
	}

	session, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("reloading finalized session: %w", err)
	}

	for _, hook := range s.hooks {
		if err := hook.OnSessionFinalized(ctx, session); err != nil {
			log.Printf("finalize hook for session %s: %v", id, err)
		}
	}
	return nil
}

// clamp bounds durationListened to total_duration plus tolerance when the
// nominal length is known.
func (s *Service) clamp(ctx context.Context, id uuid.UUID, durationListened int64) (int64, error) {
	if durationListened < 0 {
		durationListened = 0
	}

	session, err := s.store.Get(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("loading session: %w", err)
	}

	if session.TotalDuration > 0 {
		max := session.TotalDuration + durationTolerance.Milliseconds()
		if durationListened > max {
			durationListened = max
		}
	}
	return durationListened, nil
}

func (s *Service) mapStoreErr(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrSessionFinalized):
		return ErrAlreadyFinalized
	case errors.Is(err, db.ErrNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
