package charts

import (
	"strconv"
	"strings"
)

// ParseClock converts an "mm:ss" duration string to milliseconds. Malformed
// input parses to 0 so imprecise remote metadata never breaks a caller;
// downstream consumers treat 0 as "length unknown".
func ParseClock(clock string) int64 {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) != 2 {
		return 0
	}

	minutes, err := strconv.Atoi(parts[0])
	if err != nil || minutes < 0 {
		return 0
	}

	seconds, err := strconv.Atoi(parts[1])
	if err != nil || seconds < 0 || seconds > 59 {
		return 0
	}

	return (int64(minutes)*60 + int64(seconds)) * 1000
}
