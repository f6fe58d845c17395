/*
resolver.go - Timeline Resolver

PURPOSE:
  Answers "which declaration governs this donor at this instant?" in two
  flavours:

  CurrentDeclaration (used by the merge engine):
    start <= t < end (or end open). Precise to the second. When more than
    one window matches (legacy data), the one with the latest explicit
    end wins and open-ended windows rank last.

  EligibleDeclaration (used to judge donations):
    Day-granular: both boundaries are truncated to midnight. A
    YES_RETROACTIVE_4Y window starts four years earlier. Windows are
    scanned by start date and the first match wins, whatever its status.

  Both skip partial stubs. Neither writes.

SEE ALSO:
  - merge.go:      consumer of CurrentDeclaration
  - calculator.go: consumer of EligibleDeclaration
*/
package giftaid

import (
	"sort"
	"time"
)

// CurrentDeclaration returns the declaration in force at t, or nil.
func CurrentDeclaration(decls []Declaration, t time.Time) *Declaration {
	var best *Declaration
	for i := range decls {
		d := &decls[i]
		if d.IsPartial() || !d.Window().Contains(t) {
			continue
		}
		if best == nil || endsLater(d, best) {
			best = d
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// endsLater reports whether a ranks before b: explicit ends beat open
// ends, later explicit ends beat earlier ones.
func endsLater(a, b *Declaration) bool {
	switch {
	case a.EndDate == nil:
		return false
	case b.EndDate == nil:
		return true
	default:
		return a.EndDate.After(*b.EndDate)
	}
}

// EligibleDeclaration returns the declaration that decides eligibility of
// a donation received at t, or nil. The returned declaration may carry
// StatusNo.
func EligibleDeclaration(decls []Declaration, t time.Time) *Declaration {
	ordered := make([]Declaration, 0, len(decls))
	for _, d := range decls {
		if !d.IsPartial() {
			ordered = append(ordered, d)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartDate.Before(*ordered[j].StartDate)
	})

	for _, d := range ordered {
		if d.EligibilityWindow().Contains(t) {
			out := d
			return &out
		}
	}
	return nil
}

// LatestPartial returns the most recently added stub, or nil.
func LatestPartial(decls []Declaration) *Declaration {
	var latest *Declaration
	for i := range decls {
		if !decls[i].IsPartial() {
			continue
		}
		if latest == nil || decls[i].ID > latest.ID {
			latest = &decls[i]
		}
	}
	if latest == nil {
		return nil
	}
	out := *latest
	return &out
}

// forCharity narrows decls to one charity when the store supports it.
func forCharity(decls []Declaration, caps Capabilities, charity string) []Declaration {
	if !caps.Charity {
		return decls
	}
	out := decls[:0:0]
	for _, d := range decls {
		if d.Charity == charity {
			out = append(out, d)
		}
	}
	return out
}
