package generic

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// CLOCK - "now" is an input, not ambient state
// =============================================================================

// Clock supplies the current time. Rules like "started within the last
// four years" depend on it, so tests pin it with FixedClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC, truncated to seconds
// (the precision timestamps are stored with).
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC().Truncate(time.Second) }

// FixedClock always returns At.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// =============================================================================
// TIME UTILITIES
// =============================================================================

// TimestampLayout is the storage and wire layout for timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout is the layout for date-only values.
const DateLayout = "2006-01-02"

var parseLayouts = []string{
	time.RFC3339,
	TimestampLayout,
	"2006-01-02T15:04:05",
	"20060102150405",
	DateLayout,
	"20060102",
}

// Date builds a UTC midnight timestamp.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// StartOfDay drops the time-of-day component.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// YearsBefore moves t back n calendar years (Feb 29 normalises to Mar 1).
func YearsBefore(t time.Time, n int) time.Time {
	return t.AddDate(-n, 0, 0)
}

// ParseTimestamp accepts the handful of layouts callers send us.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// FormatTimestamp renders t in TimestampLayout (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time { return &t }

// SameInstant compares optional timestamps; two nils are equal.
func SameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
