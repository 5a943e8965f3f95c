package streaks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tunetally/tunetally/internal/db"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]db.SongStreak
	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]db.SongStreak)}
}

func (f *fakeStore) Get(_ context.Context, userID string, identity db.SongIdentity) (*db.SongStreak, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[identity.Key(userID)]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &row, nil
}

func (f *fakeStore) Upsert(_ context.Context, streak *db.SongStreak) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	streak.UpdatedAt = time.Now()
	if existing, ok := f.rows[streak.ID]; ok {
		streak.CreatedAt = existing.CreatedAt
	} else {
		streak.CreatedAt = streak.UpdatedAt
	}
	f.rows[streak.ID] = *streak
	f.upserts++
	return nil
}

func (f *fakeStore) ActiveForUser(_ context.Context, userID string) ([]db.SongStreak, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.SongStreak
	for _, row := range f.rows {
		if row.UserID == userID && row.CurrentStreak >= 2 {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentStreak > out[j].CurrentStreak })
	return out, nil
}

func (f *fakeStore) TopForUser(_ context.Context, userID string, limit int) ([]db.SongStreak, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.SongStreak
	for _, row := range f.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentStreak > out[j].CurrentStreak })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) DeleteStale(_ context.Context, userID string, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, row := range f.rows {
		if row.UserID == userID && row.CurrentStreak < 2 && row.UpdatedAt.Before(cutoff) {
			delete(f.rows, id)
			removed++
		}
	}
	return removed, nil
}

func play(date string) Play {
	return Play{
		Identity:   db.SongIdentity{SongID: 42},
		SongTitle:  "Test Song",
		ArtistName: "Test Artist",
		Date:       date,
	}
}

func mustStreak(t *testing.T, store *fakeStore, userID string) db.SongStreak {
	t.Helper()
	row, err := store.Get(context.Background(), userID, db.SongIdentity{SongID: 42})
	if err != nil {
		t.Fatalf("loading streak: %v", err)
	}
	return *row
}

func TestRecordPlayConsecutiveDays(t *testing.T) {
	store := newFakeStore()
	tracker := New(store)
	ctx := context.Background()

	for _, date := range []string{"2024-03-01", "2024-03-02", "2024-03-03"} {
		if err := tracker.RecordPlay(ctx, "user1", play(date)); err != nil {
			t.Fatalf("RecordPlay(%s) error = %v", date, err)
		}
	}

	got := mustStreak(t, store, "user1")
	if got.CurrentStreak != 3 {
		t.Errorf("CurrentStreak = %d, want 3", got.CurrentStreak)
	}
	if got.LastPlayedDate != "2024-03-03" {
		t.Errorf("LastPlayedDate = %s, want 2024-03-03", got.LastPlayedDate)
	}
}

func TestRecordPlaySameDayIdempotent(t *testing.T) {
	store := newFakeStore()
	tracker := New(store)
	ctx := context.Background()

	for _, date := range []string{"2024-03-01", "2024-03-02", "2024-03-02", "2024-03-02"} {
		if err := tracker.RecordPlay(ctx, "user1", play(date)); err != nil {
			t.Fatalf("RecordPlay(%s) error = %v", date, err)
		}
	}

	got := mustStreak(t, store, "user1")
	if got.CurrentStreak != 2 {
		t.Errorf("CurrentStreak = %d, want 2 (same-day repeats ignored)", got.CurrentStreak)
	}
	if store.upserts != 2 {
		t.Errorf("store saw %d upserts, want 2 (no writes for same-day repeats)", store.upserts)
	}
}

func TestRecordPlayGapResets(t *testing.T) {
	store := newFakeStore()
	tracker := New(store)
	ctx := context.Background()

	for _, date := range []string{"2024-03-01", "2024-03-02", "2024-03-03", "2024-03-06"} {
		if err := tracker.RecordPlay(ctx, "user1", play(date)); err != nil {
			t.Fatalf("RecordPlay(%s) error = %v", date, err)
		}
	}

	got := mustStreak(t, store, "user1")
	if got.CurrentStreak != 1 {
		t.Errorf("CurrentStreak = %d, want 1 after gap", got.CurrentStreak)
	}
	if got.LastPlayedDate != "2024-03-06" {
		t.Errorf("LastPlayedDate = %s, want 2024-03-06", got.LastPlayedDate)
	}
}

func TestRecordPlayBackwardDateIgnored(t *testing.T) {
	store := newFakeStore()
	tracker := New(store)
	ctx := context.Background()

	if err := tracker.RecordPlay(ctx, "user1", play("2024-03-05")); err != nil {
		t.Fatalf("RecordPlay error = %v", err)
	}
	err := tracker.RecordPlay(ctx, "user1", play("2024-03-01"))
	if !errors.Is(err, ErrStaleDate) {
		t.Fatalf("RecordPlay(backward date) error = %v, want ErrStaleDate", err)
	}

	got := mustStreak(t, store, "user1")
	if got.CurrentStreak != 1 || got.LastPlayedDate != "2024-03-05" {
		t.Errorf("record mutated by stale play: streak=%d date=%s", got.CurrentStreak, got.LastPlayedDate)
	}
}

func TestRecordPlayCrossesMonthBoundary(t *testing.T) {
	store := newFakeStore()
	tracker := New(store)
	ctx := context.Background()

	for _, date := range []string{"2024-02-28", "2024-02-29", "2024-03-01"} {
		if err := tracker.RecordPlay(ctx, "user1", play(date)); err != nil {
			t.Fatalf("RecordPlay(%s) error = %v", date, err)
		}
	}

	got := mustStreak(t, store, "user1")
	if got.CurrentStreak != 3 {
		t.Errorf("CurrentStreak = %d, want 3 across leap-month boundary", got.CurrentStreak)
	}
}

func TestRecordPlayMalformedDate(t *testing.T) {
	tracker := New(newFakeStore())
	err := tracker.RecordPlay(context.Background(), "user1", play("03/01/2024"))
	if !errors.Is(err, ErrBadDate) {
		t.Errorf("RecordPlay(malformed date) error = %v, want ErrBadDate", err)
	}
}

func TestRecordPlayDistinctIdentities(t *testing.T) {
	store := newFakeStore()
	tracker := New(store)
	ctx := context.Background()

	local := Play{Identity: db.SongIdentity{SongID: 42}, SongTitle: "Local", ArtistName: "A", Date: "2024-03-01"}
	online := Play{Identity: db.SongIdentity{SongID: 42, IsOnline: true, OnlineID: 9000}, SongTitle: "Online", ArtistName: "A", Date: "2024-03-01"}

	if err := tracker.RecordPlay(ctx, "user1", local); err != nil {
		t.Fatalf("RecordPlay(local) error = %v", err)
	}
	if err := tracker.RecordPlay(ctx, "user1", online); err != nil {
		t.Fatalf("RecordPlay(online) error = %v", err)
	}

	if len(store.rows) != 2 {
		t.Errorf("store has %d rows, want 2 (local and online identities are distinct)", len(store.rows))
	}
}

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want int
	}{
		{name: "same day", from: "2024-03-01", to: "2024-03-01", want: 0},
		{name: "next day", from: "2024-03-01", to: "2024-03-02", want: 1},
		{name: "gap", from: "2024-03-01", to: "2024-03-05", want: 4},
		{name: "backward", from: "2024-03-05", to: "2024-03-01", want: -4},
		{name: "month boundary", from: "2024-01-31", to: "2024-02-01", want: 1},
		{name: "leap day", from: "2024-02-28", to: "2024-03-01", want: 2},
		{name: "year boundary", from: "2023-12-31", to: "2024-01-01", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := daysBetween(tt.from, tt.to)
			if err != nil {
				t.Fatalf("daysBetween(%s, %s) error = %v", tt.from, tt.to, err)
			}
			if got != tt.want {
				t.Errorf("daysBetween(%s, %s) = %d, want %d", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestCleanup(t *testing.T) {
	store := newFakeStore()
	tracker := New(store)
	ctx := context.Background()

	// One notable streak, one single-day streak.
	for _, date := range []string{"2024-03-01", "2024-03-02"} {
		if err := tracker.RecordPlay(ctx, "user1", play(date)); err != nil {
			t.Fatalf("RecordPlay error = %v", err)
		}
	}
	single := Play{Identity: db.SongIdentity{SongID: 7}, SongTitle: "One Off", ArtistName: "B", Date: "2024-03-01"}
	if err := tracker.RecordPlay(ctx, "user1", single); err != nil {
		t.Fatalf("RecordPlay error = %v", err)
	}

	removed, err := tracker.Cleanup(ctx, "user1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Cleanup error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup removed %d rows, want 1", removed)
	}
	if len(store.rows) != 1 {
		t.Errorf("store has %d rows after cleanup, want 1", len(store.rows))
	}
}

func TestConcurrentRecordPlaySameKey(t *testing.T) {
	store := newFakeStore()
	tracker := New(store)
	ctx := context.Background()

	if err := tracker.RecordPlay(ctx, "user1", play("2024-03-01")); err != nil {
		t.Fatalf("RecordPlay error = %v", err)
	}

	// Many concurrent plays for the next day must extend the streak exactly
	// once.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tracker.RecordPlay(ctx, "user1", play("2024-03-02"))
		}()
	}
	wg.Wait()

	got := mustStreak(t, store, "user1")
	if got.CurrentStreak != 2 {
		t.Errorf("CurrentStreak = %d, want 2 after concurrent same-day plays", got.CurrentStreak)
	}
}
