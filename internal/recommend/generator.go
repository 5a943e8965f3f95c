// Package recommend builds personalized playlists from the fused library and
// chart data.
package recommend

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/tunetally/tunetally/internal/db"
	"github.com/tunetally/tunetally/internal/library"
)

// Playlist type tags.
const (
	TypeDailyMix       = "daily_mix"
	TypeDiscoverWeekly = "discover_weekly"
	TypeGenreMix       = "genre_mix"
)

// Playlist caps.
const (
	dailyMixCap       = 20
	discoverWeeklyCap = 25
	genreMixCap       = 20
)

// Fallback cover references.
const (
	dailyMixCover       = "covers/daily_mix.png"
	discoverWeeklyCover = "covers/discover_weekly.png"
)

var genreCovers = map[string]string{
	"Pop":   "covers/pop_mix.png",
	"Chill": "covers/chill_mix.png",
}

// Playlist is an ephemeral generated playlist. It is never persisted; the id
// embeds a build timestamp so every rebuild is distinct. Song order carries
// no meaning, it is shuffled on every build.
type Playlist struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	CoverRef    string              `json:"coverRef"`
	Songs       []library.FusedSong `json:"songs"`
	Type        string              `json:"type"`
}

// Library is the local library access needed by the generator. Satisfied by
// *db.SongRepository.
type Library interface {
	LikedForUser(ctx context.Context, userID string) ([]db.Song, error)
	AllForUser(ctx context.Context, userID string) ([]db.Song, error)
	RecentlyPlayed(ctx context.Context, userID string, limit int) ([]db.Song, error)
	NeverPlayed(ctx context.Context, userID string) ([]db.Song, error)
}

// ChartSource is the remote chart access needed by the generator. Satisfied
// by *library.Index; failures arrive inside the result, so a dead network
// only shrinks the sample.
type ChartSource interface {
	FetchGlobalTop(ctx context.Context, userID string) library.ChartResult
}

// Generator builds the four recommendation playlists.
type Generator struct {
	lib     Library
	chart   ChartSource
	now     func() time.Time
	newRand func() *rand.Rand
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand injects the random source factory used per build. The default is
// time-seeded for fresh variety per call; tests inject a fixed seed.
func WithRand(newRand func() *rand.Rand) Option {
	return func(g *Generator) {
		g.newRand = newRand
	}
}

// WithClock injects the clock used for playlist ids.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// New creates a playlist generator.
func New(lib Library, chart ChartSource, opts ...Option) *Generator {
	g := &Generator{
		lib:   lib,
		chart: chart,
		now:   time.Now,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds the user's playlists: Daily Mix, Discover Weekly, Pop Mix
// and Chill Mix, always exactly four and in that order. It never fails: a
// missing library or unreachable chart feed only thins out the songs, the
// playlist metadata is returned regardless.
func (g *Generator) Generate(ctx context.Context, userID string) []Playlist {
	rng := g.newRand()

	// One chart fetch serves every playlist; the result may be empty.
	chart := g.chart.FetchGlobalTop(ctx, userID).Songs

	playlists := []Playlist{
		g.dailyMix(ctx, userID, chart, rng),
		g.discoverWeekly(ctx, userID, chart, rng),
	}
	for _, genre := range genreOrder {
		playlists = append(playlists, g.genreMix(ctx, userID, chart, rng, genre))
	}
	return playlists
}

// dailyMix: up to 10 random liked songs, up to 5 more library songs whose
// artist fuzzy-matches a liked artist, up to 5 random chart entries.
func (g *Generator) dailyMix(ctx context.Context, userID string, chart []library.FusedSong, rng *rand.Rand) Playlist {
	liked, err := g.lib.LikedForUser(ctx, userID)
	if err != nil {
		liked = nil
	}
	all, err := g.lib.AllForUser(ctx, userID)
	if err != nil {
		all = nil
	}

	likedIDs := make(map[int64]bool, len(liked))
	for _, s := range liked {
		likedIDs[s.ID] = true
	}

	var similar []db.Song
	for _, candidate := range all {
		if likedIDs[candidate.ID] {
			continue
		}
		for _, l := range liked {
			if artistsMatch(candidate.Artist, l.Artist) {
				similar = append(similar, candidate)
				break
			}
		}
	}

	songs := library.Fuse(sample(rng, liked, 10))
	songs = append(songs, library.Fuse(sample(rng, similar, 5))...)
	songs = append(songs, sample(rng, chart, 5)...)
	songs = shuffleAndCap(rng, songs, dailyMixCap)

	cover := dailyMixCover
	if len(liked) > 0 && liked[0].ArtworkPath != nil && *liked[0].ArtworkPath != "" {
		cover = *liked[0].ArtworkPath
	} else if ref := firstArtwork(songs); ref != "" {
		cover = ref
	}

	return Playlist{
		ID:          g.playlistID(TypeDailyMix),
		Title:       "Daily Mix",
		Description: "Songs you love, plus a few in the same lane",
		CoverRef:    cover,
		Songs:       songs,
		Type:        TypeDailyMix,
	}
}

// discoverWeekly: never-played library songs plus chart entries, with the 10
// most-recently-played songs excluded from both sources.
func (g *Generator) discoverWeekly(ctx context.Context, userID string, chart []library.FusedSong, rng *rand.Rand) Playlist {
	recent, err := g.lib.RecentlyPlayed(ctx, userID, 10)
	if err != nil {
		recent = nil
	}
	excluded := make(map[int64]bool, len(recent))
	for _, s := range recent {
		excluded[s.ID] = true
	}

	neverPlayed, err := g.lib.NeverPlayed(ctx, userID)
	if err != nil {
		neverPlayed = nil
	}
	var fresh []db.Song
	for _, s := range neverPlayed {
		if !excluded[s.ID] {
			fresh = append(fresh, s)
		}
	}

	var freshChart []library.FusedSong
	for _, s := range chart {
		if !excluded[s.DisplayID] {
			freshChart = append(freshChart, s)
		}
	}

	songs := library.Fuse(sample(rng, fresh, 10))
	songs = append(songs, sample(rng, freshChart, 15)...)
	songs = shuffleAndCap(rng, songs, discoverWeeklyCap)

	return Playlist{
		ID:          g.playlistID(TypeDiscoverWeekly),
		Title:       "Discover Weekly",
		Description: "Music you haven't played yet",
		CoverRef:    discoverWeeklyCover,
		Songs:       songs,
		Type:        TypeDiscoverWeekly,
	}
}

// genreMix: keyword-filtered library songs (random fallback when the filter
// finds nothing) plus keyword-filtered chart entries padded to five with
// random chart picks.
func (g *Generator) genreMix(ctx context.Context, userID string, chart []library.FusedSong, rng *rand.Rand, genre string) Playlist {
	keywords := genreKeywords[genre]

	all, err := g.lib.AllForUser(ctx, userID)
	if err != nil {
		all = nil
	}

	var matched []db.Song
	for _, s := range all {
		if matchesKeywords(s.Title, s.Artist, keywords) {
			matched = append(matched, s)
		}
	}
	// An empty filter result falls back to random library songs so the mix
	// is never empty while the library has anything at all.
	if len(matched) == 0 {
		matched = all
	}

	var chartMatched []library.FusedSong
	picked := make(map[int64]bool)
	for _, s := range chart {
		if len(chartMatched) == 5 {
			break
		}
		if matchesKeywords(s.Title, s.Artist, keywords) {
			chartMatched = append(chartMatched, s)
			picked[s.DisplayID] = true
		}
	}
	if len(chartMatched) < 5 {
		var rest []library.FusedSong
		for _, s := range chart {
			if !picked[s.DisplayID] {
				rest = append(rest, s)
			}
		}
		chartMatched = append(chartMatched, sample(rng, rest, 5-len(chartMatched))...)
	}

	songs := library.Fuse(sample(rng, matched, 10))
	songs = append(songs, chartMatched...)
	songs = shuffleAndCap(rng, songs, genreMixCap)

	cover := genreCovers[genre]
	if ref := firstArtwork(songs); ref != "" {
		cover = ref
	}

	return Playlist{
		ID:          g.playlistID(TypeGenreMix),
		Title:       genre + " Mix",
		Description: fmt.Sprintf("A %s selection from your library and the charts", genre),
		CoverRef:    cover,
		Songs:       songs,
		Type:        TypeGenreMix,
	}
}

// playlistID builds an id unique across rebuilds.
func (g *Generator) playlistID(tag string) string {
	return fmt.Sprintf("%s_%d_%s", tag, g.now().UnixMilli(), uuid.NewString()[:8])
}

// sample returns up to n random items without repetition. The input is not
// modified.
func sample[T any](rng *rand.Rand, items []T, n int) []T {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	if n > len(items) {
		n = len(items)
	}
	picked := make([]T, 0, n)
	for _, i := range rng.Perm(len(items))[:n] {
		picked = append(picked, items[i])
	}
	return picked
}

// shuffleAndCap shuffles songs in place and truncates to the size limit.
func shuffleAndCap(rng *rand.Rand, songs []library.FusedSong, limit int) []library.FusedSong {
	rng.Shuffle(len(songs), func(i, j int) {
		songs[i], songs[j] = songs[j], songs[i]
	})
	if len(songs) > limit {
		songs = songs[:limit]
	}
	return songs
}

// firstArtwork returns the first non-empty artwork reference.
func firstArtwork(songs []library.FusedSong) string {
	for _, s := range songs {
		if s.ArtworkRef != "" {
			return s.ArtworkRef
		}
	}
	return ""
}
