package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tunetally/tunetally/internal/analytics"
	"github.com/tunetally/tunetally/internal/charts"
	"github.com/tunetally/tunetally/internal/db"
	"github.com/tunetally/tunetally/internal/library"
	"github.com/tunetally/tunetally/internal/recommend"
	"github.com/tunetally/tunetally/internal/recorder"
	"github.com/tunetally/tunetally/internal/streaks"
)

// Handlers contains the HTTP handlers for the analytics API.
type Handlers struct {
	recorder  *recorder.Service
	analytics *analytics.Aggregator
	streaks   *streaks.Tracker
	library   *library.Index
	recommend *recommend.Generator
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(rec *recorder.Service, agg *analytics.Aggregator, tracker *streaks.Tracker, lib *library.Index, gen *recommend.Generator) *Handlers {
	return &Handlers{
		recorder:  rec,
		analytics: agg,
		streaks:   tracker,
		library:   lib,
		recommend: gen,
	}
}

// Health reports liveness (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// playbackStartRequest is the "song started" transport event.
type playbackStartRequest struct {
	UserID        string `json:"userId"`
	SongID        int64  `json:"songId"`
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	TotalDuration int64  `json:"totalDurationMs"`
	IsOnline      bool   `json:"isOnline"`
	OnlineID      int64  `json:"onlineId"`
	StartTime     string `json:"startTime"` // RFC 3339; empty means now
}

// PlaybackStart opens a listening session (POST /api/playback/start).
func (h *Handlers) PlaybackStart(w http.ResponseWriter, r *http.Request) {
	var req playbackStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.Title == "" {
		respondError(w, http.StatusBadRequest, "userId and title are required")
		return
	}

	startTime := time.Now()
	if req.StartTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			respondError(w, http.StatusBadRequest, "startTime must be RFC 3339")
			return
		}
		startTime = parsed
	}

	id, err := h.recorder.Start(r.Context(), recorder.SongInfo{
		SongID:        req.SongID,
		Title:         req.Title,
		Artist:        req.Artist,
		TotalDuration: req.TotalDuration,
		IsOnline:      req.IsOnline,
		OnlineID:      req.OnlineID,
	}, req.UserID, startTime)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"sessionId": id.String()})
}

// playbackProgressRequest advances or closes a session.
type playbackProgressRequest struct {
	SessionID        string `json:"sessionId"`
	DurationListened int64  `json:"durationListenedMs"`
	EndTime          string `json:"endTime"` // stop only; RFC 3339, empty means now
}

// PlaybackProgress extends an in-progress session (POST /api/playback/progress).
func (h *Handlers) PlaybackProgress(w http.ResponseWriter, r *http.Request) {
	req, id, ok := decodeProgress(w, r)
	if !ok {
		return
	}

	err := h.recorder.Extend(r.Context(), id, req.DurationListened)
	h.respondSessionWrite(w, err)
}

// PlaybackStop finalizes a session (POST /api/playback/stop).
func (h *Handlers) PlaybackStop(w http.ResponseWriter, r *http.Request) {
	req, id, ok := decodeProgress(w, r)
	if !ok {
		return
	}

	endTime := time.Now()
	if req.EndTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			respondError(w, http.StatusBadRequest, "endTime must be RFC 3339")
			return
		}
		endTime = parsed
	}

	err := h.recorder.Finalize(r.Context(), id, endTime, req.DurationListened)
	h.respondSessionWrite(w, err)
}

func decodeProgress(w http.ResponseWriter, r *http.Request) (playbackProgressRequest, uuid.UUID, bool) {
	var req playbackProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return req, uuid.Nil, false
	}
	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "sessionId must be a UUID")
		return req, uuid.Nil, false
	}
	return req, id, true
}

// respondSessionWrite maps recorder outcomes onto HTTP statuses. A write
// against a finalized session is caller misuse or event reordering; it is
// reported, not treated as a server failure.
func (h *Handlers) respondSessionWrite(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, recorder.ErrAlreadyFinalized):
		respondJSON(w, http.StatusConflict, map[string]string{
			"status": "ignored",
			"reason": "session already finalized",
		})
	case errors.Is(err, recorder.ErrNotFound):
		respondError(w, http.StatusNotFound, "session not found")
	default:
		respondError(w, http.StatusInternalServerError, "failed to update session")
	}
}

// MonthlyAnalytics returns the rollup row for a month
// (GET /api/users/{userID}/analytics/{month}).
func (h *Handlers) MonthlyAnalytics(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	month := chi.URLParam(r, "month")

	row, err := h.analytics.Get(r.Context(), userID, month)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no analytics for month")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"userId":               row.UserID,
		"month":                row.Month,
		"totalListeningTimeMs": row.TotalListeningTime,
		"totalSongsPlayed":     row.TotalSongsPlayed,
		"uniqueSongsCount":     row.UniqueSongsCount,
		"uniqueArtistsCount":   row.UniqueArtistsCount,
		"lastUpdated":          row.LastUpdated,
	})
}

// TopSongs returns the month's most played songs
// (GET /api/users/{userID}/analytics/{month}/top-songs).
func (h *Handlers) TopSongs(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	month := chi.URLParam(r, "month")

	songs, err := h.analytics.TopSongs(r.Context(), userID, month, queryLimit(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load top songs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"songs": songs})
}

// TopArtists returns the month's top artists
// (GET /api/users/{userID}/analytics/{month}/top-artists).
func (h *Handlers) TopArtists(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	month := chi.URLParam(r, "month")

	artists, err := h.analytics.TopArtists(r.Context(), userID, month, queryLimit(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load top artists")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"artists": artists})
}

// LiveListeningTime streams the current month's running total as
// server-sent events (GET /api/users/{userID}/analytics/live).
func (h *Handlers) LiveListeningTime(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	userID := chi.URLParam(r, "userID")
	month := time.Now().Format(db.MonthLayout)

	updates, cancel := h.analytics.Subscribe(userID, month)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	// Send the stored total first so the client starts with a value.
	if row, err := h.analytics.Get(r.Context(), userID, month); err == nil {
		fmt.Fprintf(w, "data: %d\n\n", row.TotalListeningTime)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case total := <-updates:
			fmt.Fprintf(w, "data: %d\n\n", total)
			flusher.Flush()
		}
	}
}

// ActiveStreaks returns all streaks of at least two days
// (GET /api/users/{userID}/streaks).
func (h *Handlers) ActiveStreaks(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	rows, err := h.streaks.Active(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load streaks")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"streaks": streakViews(rows)})
}

// TopStreaks returns the longest streaks (GET /api/users/{userID}/streaks/top).
func (h *Handlers) TopStreaks(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	rows, err := h.streaks.Top(r.Context(), userID, queryLimit(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load streaks")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"streaks": streakViews(rows)})
}

// CleanupStreaks garbage-collects stale non-notable streaks
// (POST /api/users/{userID}/streaks/cleanup).
func (h *Handlers) CleanupStreaks(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	retention := streaks.DefaultRetention
	if v := r.URL.Query().Get("retentionDays"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 1 {
			respondError(w, http.StatusBadRequest, "retentionDays must be a positive integer")
			return
		}
		retention = time.Duration(days) * 24 * time.Hour
	}

	removed, err := h.streaks.Cleanup(r.Context(), userID, time.Now().Add(-retention))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to clean up streaks")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// Recommendations builds the four playlists
// (GET /api/users/{userID}/recommendations).
func (h *Handlers) Recommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	playlists := h.recommend.Generate(r.Context(), userID)
	respondJSON(w, http.StatusOK, map[string]any{"playlists": playlists})
}

// Library returns the user's full library as fused songs
// (GET /api/users/{userID}/library).
func (h *Handlers) Library(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	songs, err := h.library.Local(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load library")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"songs": songs})
}

// likeRequest toggles the liked flag on a library song.
type likeRequest struct {
	Liked bool `json:"liked"`
}

// SetLiked flags or unflags a library song as liked
// (PUT /api/users/{userID}/library/{songID}/like).
func (h *Handlers) SetLiked(w http.ResponseWriter, r *http.Request) {
	songID, err := strconv.ParseInt(chi.URLParam(r, "songID"), 10, 64)
	if err != nil || songID <= 0 {
		respondError(w, http.StatusBadRequest, "songID must be a positive integer")
		return
	}

	var req likeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = h.library.SetLiked(r.Context(), songID, req.Liked)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "song not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update song")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"liked": req.Liked})
}

// GlobalChart returns the fused global chart (GET /api/charts/global).
func (h *Handlers) GlobalChart(w http.ResponseWriter, r *http.Request) {
	h.respondChart(w, h.library.FetchGlobalTop(r.Context(), r.URL.Query().Get("userId")))
}

// CountryChart returns a fused country chart (GET /api/charts/{countryCode}).
func (h *Handlers) CountryChart(w http.ResponseWriter, r *http.Request) {
	countryCode := chi.URLParam(r, "countryCode")
	h.respondChart(w, h.library.FetchCountryTop(r.Context(), r.URL.Query().Get("userId"), countryCode))
}

func (h *Handlers) respondChart(w http.ResponseWriter, result library.ChartResult) {
	if result.Err != nil {
		respondError(w, http.StatusBadGateway, "chart service unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"songs": result.Songs})
}

// downloadRequest maps a remote chart entry plus a file location into the
// local library.
type downloadRequest struct {
	Song     charts.OnlineSong `json:"song"`
	FilePath string            `json:"filePath"`
}

// PersistDownload records a downloaded online song
// (POST /api/users/{userID}/downloads).
func (h *Handlers) PersistDownload(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Song.ID == 0 || req.FilePath == "" {
		respondError(w, http.StatusBadRequest, "song.id and filePath are required")
		return
	}

	songID, err := h.library.PersistDownload(r.Context(), req.Song, req.FilePath, userID)
	if errors.Is(err, library.ErrAlreadyDownloaded) {
		respondJSON(w, http.StatusOK, map[string]int64{"songId": songID})
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to persist download")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"songId": songID})
}

// IsDownloaded reports whether a remote song has a local copy
// (GET /api/users/{userID}/downloads/{onlineID}).
func (h *Handlers) IsDownloaded(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	onlineID, err := strconv.ParseInt(chi.URLParam(r, "onlineID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "onlineID must be an integer")
		return
	}

	downloaded, err := h.library.IsDownloaded(r.Context(), userID, onlineID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to check download")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"downloaded": downloaded})
}

// streakView is the JSON shape of a streak row.
type streakView struct {
	SongID         int64  `json:"songId"`
	IsOnline       bool   `json:"isOnline"`
	OnlineID       int64  `json:"onlineId,omitempty"`
	SongTitle      string `json:"songTitle"`
	ArtistName     string `json:"artistName"`
	CurrentStreak  int    `json:"currentStreak"`
	LastPlayedDate string `json:"lastPlayedDate"`
}

func streakViews(rows []db.SongStreak) []streakView {
	views := make([]streakView, 0, len(rows))
	for _, row := range rows {
		views = append(views, streakView{
			SongID:         row.SongID,
			IsOnline:       row.IsOnline,
			OnlineID:       row.OnlineID,
			SongTitle:      row.SongTitle,
			ArtistName:     row.ArtistName,
			CurrentStreak:  row.CurrentStreak,
			LastPlayedDate: row.LastPlayedDate,
		})
	}
	return views
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Status is already written; nothing left to do but note it.
		log.Printf("encoding response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
