package giftaid

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/giftaid/generic"
)

// DeclarationInput is one row of a declaration edit form. Key prefixes
// the field names of any warning raised against the row.
type DeclarationInput struct {
	Key       string
	Status    Status
	StartDate time.Time
	EndDate   *time.Time
}

func (in DeclarationInput) field(name string) string {
	if in.Key == "" {
		return name
	}
	return in.Key + "." + name
}

func (in DeclarationInput) window() generic.Window {
	return generic.Window{Start: in.StartDate, End: in.EndDate}
}

// ValidateDeclarations checks a set of declarations about to be saved for
// one donor. Problems are reported as warnings; nothing is rejected here.
func ValidateDeclarations(inputs []DeclarationInput, hasAddress bool) []generic.FieldWarning {
	var warnings []generic.FieldWarning

	for _, in := range inputs {
		if in.EndDate != nil && !in.EndDate.After(in.StartDate) {
			warnings = append(warnings, generic.FieldWarning{
				Field:   in.field("end_date"),
				Message: "End date must be later than start date.",
			})
		}
	}

	for i := range inputs {
		for j := range inputs {
			if i == j {
				continue
			}
			a, b := inputs[i], inputs[j]
			if !a.window().Overlaps(b.window()) {
				continue
			}
			warnings = append(warnings, generic.FieldWarning{
				Field:   a.field("start_date"),
				Message: overlapMessage(b),
			})
		}
	}

	if !hasAddress {
		for _, in := range inputs {
			if in.Status.Truthy() {
				warnings = append(warnings, generic.FieldWarning{
					Field:   in.field("status"),
					Message: "You will not be able to create giftaid declaration because there is no valid address recorded for this contact. If you want to create a declaration, please add an address for this contact first.",
				})
				break
			}
		}
	}
	return warnings
}

func overlapMessage(other DeclarationInput) string {
	msg := fmt.Sprintf("This declaration overlaps with the one from %s", other.StartDate.Format(generic.DateLayout))
	if other.EndDate != nil {
		msg += fmt.Sprintf(" to %s", other.EndDate.Format(generic.DateLayout))
	}
	return msg + "."
}

// ValidateDonorDeclarations runs ValidateDeclarations with the donor's
// address looked up.
func (s *Service) ValidateDonorDeclarations(ctx context.Context, donorID DonorID, inputs []DeclarationInput) ([]generic.FieldWarning, error) {
	if donorID == 0 {
		return nil, &generic.ValidationError{Field: "donor_id", Message: "donor_id is required"}
	}
	addr, err := s.Repo.PrimaryAddress(ctx, donorID)
	if err != nil {
		return nil, err
	}
	return ValidateDeclarations(inputs, addr != nil), nil
}

// Overlap is a pair of stored declarations whose windows intersect.
type Overlap struct {
	A, B DeclarationID
}

// FindOverlaps returns every overlapping pair in a timeline. A healthy
// timeline returns none.
func FindOverlaps(decls []Declaration) []Overlap {
	var out []Overlap
	for i := 0; i < len(decls); i++ {
		if decls[i].IsPartial() {
			continue
		}
		for j := i + 1; j < len(decls); j++ {
			if decls[j].IsPartial() {
				continue
			}
			if decls[i].Window().Overlaps(decls[j].Window()) {
				out = append(out, Overlap{A: decls[i].ID, B: decls[j].ID})
			}
		}
	}
	return out
}
