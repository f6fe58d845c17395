package generic

import (
	"time"
)

// =============================================================================
// WINDOW - Half-open time window with an optional end
// =============================================================================

// Window is the span [Start, End). A nil End means open-ended: the window
// extends until something closes it.
//
// Examples:
//   - Declaration made 2020-01-01, still in force: [2020-01-01, +inf)
//   - Declaration closed when the donor declined:  [2020-01-01, 2020-05-01)
type Window struct {
	Start time.Time
	End   *time.Time
}

// farFuture stands in for +infinity when comparing open windows.
var farFuture = Date(2500, time.January, 1)

// NewWindow validates and builds a window.
func NewWindow(start time.Time, end *time.Time) (Window, error) {
	w := Window{Start: start, End: end}
	if end != nil && !end.After(start) {
		return w, ErrInvalidWindow
	}
	return w, nil
}

// IsOpen reports whether the window has no end.
func (w Window) IsOpen() bool { return w.End == nil }

// IsEmpty reports whether the window covers no instant at all.
func (w Window) IsEmpty() bool { return w.End != nil && !w.End.After(w.Start) }

// Contains returns true if t is within [Start, End).
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End == nil || t.Before(*w.End)
}

// Overlaps returns true if both windows share at least one instant.
// Empty windows overlap nothing.
func (w Window) Overlaps(o Window) bool {
	if w.IsEmpty() || o.IsEmpty() {
		return false
	}
	return w.Start.Before(o.endOrInfinity()) && w.endOrInfinity().After(o.Start)
}

func (w Window) endOrInfinity() time.Time {
	if w.End == nil {
		return farFuture
	}
	return *w.End
}

// ShiftStart returns a copy whose Start is moved by years (negative = earlier).
func (w Window) ShiftStart(years int) Window {
	return Window{Start: w.Start.AddDate(years, 0, 0), End: w.End}
}

// Truncated returns a copy with both boundaries moved to the start of their day.
func (w Window) Truncated() Window {
	out := Window{Start: StartOfDay(w.Start)}
	if w.End != nil {
		out.End = TimePtr(StartOfDay(*w.End))
	}
	return out
}

// String returns a string representation of the window.
func (w Window) String() string {
	end := "∞"
	if w.End != nil {
		end = FormatTimestamp(*w.End)
	}
	return "[" + FormatTimestamp(w.Start) + ", " + end + ")"
}
