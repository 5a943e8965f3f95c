package recommend

import "strings"

// Genre keyword sets. A genre mix is keyword-driven, not derived from real
// audio genre metadata: a song belongs to the mix when its title or artist
// contains any keyword, case-insensitively.
var genreKeywords = map[string][]string{
	"Pop": {
		"pop", "taylor", "dua", "ariana", "dance", "party", "hit",
	},
	"Chill": {
		"chill", "acoustic", "lo-fi", "lofi", "piano", "ambient", "calm", "sleep",
	},
}

// genreOrder fixes the order genre mixes appear in the generated list.
var genreOrder = []string{"Pop", "Chill"}

// matchesKeywords reports whether title or artist contains any of the
// keywords, ignoring case.
func matchesKeywords(title, artist string, keywords []string) bool {
	title = strings.ToLower(title)
	artist = strings.ToLower(artist)
	for _, kw := range keywords {
		if strings.Contains(title, kw) || strings.Contains(artist, kw) {
			return true
		}
	}
	return false
}

// artistsMatch reports whether either artist name contains the other,
// ignoring case. Empty names never match.
func artistsMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
