package utils

import "time"

// NowUTC returns the current time in UTC, truncated to milliseconds so it
// survives a round trip through every store
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// FormatRFC3339 formats t in RFC3339 with milliseconds
func FormatRFC3339(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ParseRFC3339 parses a time string in RFC3339 format
func ParseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
