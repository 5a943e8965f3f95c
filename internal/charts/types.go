package charts

import "time"

// OnlineSong is one entry of a remote chart feed. Duration comes over the
// wire as "mm:ss" text; use Milliseconds for comparisons with library songs.
type OnlineSong struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist"`
	ArtworkURL string    `json:"artworkUrl"`
	AudioURL   string    `json:"audioUrl"`
	Duration   string    `json:"duration"` // "mm:ss"
	Country    string    `json:"country"`
	Rank       int       `json:"rank"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Milliseconds returns the song duration parsed from the textual field,
// 0 when unparsable.
func (s OnlineSong) Milliseconds() int64 {
	return ParseClock(s.Duration)
}

// topResponse is the JSON envelope for /top endpoints.
type topResponse struct {
	Songs []OnlineSong `json:"songs"`
}

// apiError represents a chart API error response.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
