/*
address.go - Address snapshots and submission formatting

PURPOSE:
  Declarations keep a snapshot of the donor's address at the time they
  were made. The tax authority's submission format has its own rules for
  postcodes, house numbers and donor names; these helpers apply them.

SEE ALSO:
  - merge.go: takes the snapshot when the event carries none
*/
package giftaid

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/warp/giftaid/generic"
)

// MaxDonorNameLength is the longest first or last name accepted.
const MaxDonorNameLength = 35

// FormatAddress joins the non-empty address parts with ", ".
func FormatAddress(a Address) string {
	parts := []string{a.Name, a.Street, a.Supplemental1, a.Supplemental2, a.City, a.StateProvince, a.PostalCode}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]`)

// FormatPostcode normalises a UK postcode: "sw1a1aa" -> "SW1A 1AA".
func FormatPostcode(postcode string) string {
	pc := strings.ToUpper(nonAlnum.ReplaceAllString(postcode, ""))
	if len(pc) <= 3 {
		return pc
	}
	return pc[:len(pc)-3] + " " + pc[len(pc)-3:]
}

// HouseNumber returns the first token of an address line.
func HouseNumber(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// SubmissionAddress is the address reported for a donation.
type SubmissionAddress struct {
	DeclarationID DeclarationID
	FirstName     string // "" when the name has nothing submittable
	LastName      string
	Address       string
	PostCode      string
	HouseNumber   string
}

// DonorAddressAt returns the address snapshot of the earliest positive
// declaration still running on date, or nil.
func (s *Service) DonorAddressAt(ctx context.Context, donorID DonorID, date time.Time) (*SubmissionAddress, error) {
	decls, err := newOperation(s.Repo).declarations(ctx, donorID, "")
	if err != nil {
		return nil, err
	}
	var candidates []Declaration
	for _, d := range decls {
		if d.IsPartial() || !d.Status.Truthy() {
			continue
		}
		if d.EndDate != nil && d.EndDate.Before(date) {
			continue
		}
		candidates = append(candidates, d)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].StartDate.Before(*candidates[j].StartDate)
	})
	d := candidates[0]
	sa := &SubmissionAddress{
		DeclarationID: d.ID,
		Address:       d.Address,
		PostCode:      FormatPostcode(d.PostCode),
		HouseNumber:   HouseNumber(d.Address),
	}

	primary, err := s.Repo.PrimaryAddress(ctx, donorID)
	if err != nil {
		return nil, err
	}
	if primary != nil {
		// Parts with nothing valid left come back empty; the caller decides
		// whether the claim can go out without them.
		sa.FirstName, sa.LastName, _ = FilterDonorName(SplitDonorName(primary.Name))
	}
	return sa, nil
}

// SplitDonorName splits a display name into first name and the rest.
func SplitDonorName(name string) (string, string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

var (
	invalidFirstName = regexp.MustCompile(`[^A-Za-z'.-]`)
	invalidLastName  = regexp.MustCompile(`[^A-Za-z'. -]`)
)

// FilterDonorName reduces names to what the submission accepts:
// accents stripped, first name letters and ' . - only, last name also
// spaces, each at most 35 characters.
func FilterDonorName(first, last string) (string, string, error) {
	first = truncate(invalidFirstName.ReplaceAllString(toASCII(first), ""), MaxDonorNameLength)
	last = truncate(strings.TrimSpace(invalidLastName.ReplaceAllString(toASCII(last), "")), MaxDonorNameLength)

	var errs []error
	if first == "" {
		errs = append(errs, &generic.ValidationError{Field: "first_name", Message: "no valid characters left"})
	}
	if last == "" {
		errs = append(errs, &generic.ValidationError{Field: "last_name", Message: "no valid characters left"})
	}
	return first, last, errors.Join(errs...)
}

func toASCII(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
