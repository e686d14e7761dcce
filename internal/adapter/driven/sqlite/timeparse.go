package sqlite

import (
	"fmt"
	"time"
)

// parseTime parses a timestamp column. Rows written by this package use
// RFC3339Nano; the other layouts cover SQLite's CURRENT_TIMESTAMP and rows
// imported by hand.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}

// timeLayout is fixed width so stored timestamps sort lexically in
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// formatTime renders t in UTC using timeLayout.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
