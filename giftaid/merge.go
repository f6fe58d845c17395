/*
merge.go - Merge Engine: applying a new declaration to a donor's timeline

PURPOSE:
  A new declaration event arrives (form submission, import, donation
  save). Instead of blindly inserting it, the engine resolves what is
  already in force at the event's start and transitions the timeline so
  windows never overlap.

TRANSITIONS (current = declaration in force at event start):

  event YES / 4Y
    no current            -> insert [start, end?)
    current NO            -> close current at start ("Contact Declined"),
                             insert a fresh record
    current YES / 4Y      -> update in place:
                               4Y event + current started within the last
                               four years and has not ended by now:
                               promote to 4Y, start = now
                               effective end differs from current's: set it

  event NO
    no current            -> insert [start, end?)
    current YES / 4Y      -> close current at start ("Contact Declined"),
                             insert a fresh record
    current NO            -> no-op

EFFECTIVE END:
  The caller's end date when given, otherwise the current declaration's
  own end (so a repeated YES never shortens an open window). Inserts
  carry the caller's end only.

  Any end written (inserted or extended) is capped at the start of the
  next declaration on the timeline, so a late-arriving event can't grow
  into a period that is already declared.

PARTIAL STUBS:
  A form may leave a stub without start date. With no current
  declaration, the newest stub's row is reused for the insert. With one,
  all stubs are deleted.

SEE ALSO:
  - resolver.go: CurrentDeclaration, LatestPartial
*/
package giftaid

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/warp/giftaid/generic"
)

// ApplyDeclaration records a new declaration for a donor.
func (s *Service) ApplyDeclaration(ctx context.Context, ev DeclarationEvent) error {
	if err := validateEvent(ev); err != nil {
		return err
	}

	unlock := s.lockDonor(ev.DonorID)
	defer unlock()

	return s.Repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		return s.applyDeclaration(ctx, newOperation(tx), ev)
	})
}

func validateEvent(ev DeclarationEvent) error {
	if ev.DonorID == 0 {
		return &generic.ValidationError{Field: "donor_id", Message: "donor_id is required"}
	}
	if !ev.Status.Valid() {
		return &generic.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %d", int(ev.Status))}
	}
	if ev.StartDate.IsZero() {
		return &generic.ValidationError{Field: "start_date", Message: "start_date is required"}
	}
	if ev.EndDate != nil && !ev.EndDate.After(ev.StartDate) {
		return &generic.ValidationError{Field: "end_date", Message: "end_date must be later than start_date"}
	}
	return nil
}

// applyDeclaration runs inside the caller's transaction.
func (s *Service) applyDeclaration(ctx context.Context, op *operation, ev DeclarationEvent) error {
	decls, err := op.declarations(ctx, ev.DonorID, ev.Charity)
	if err != nil {
		return err
	}
	all, err := op.cache.Load(ctx, op.repo, ev.DonorID)
	if err != nil {
		return err
	}
	current := CurrentDeclaration(decls, ev.StartDate)
	partial := LatestPartial(all)

	rec, err := s.newRecord(ctx, op, ev, current)
	if err != nil {
		return err
	}

	if partial != nil {
		if current != nil {
			if _, err := op.repo.DeletePartialDeclarations(ctx, ev.DonorID); err != nil {
				return fmt.Errorf("delete partial declarations: %w", err)
			}
			op.cache.Invalidate(ev.DonorID)
		} else {
			rec.ID = partial.ID
		}
	}

	rec.EndDate = capAtNext(decls, ev.StartDate, rec.EndDate, 0)

	if current == nil {
		return s.insert(ctx, op, rec)
	}

	switch {
	case ev.Status.Truthy() && current.Status == StatusNo,
		ev.Status == StatusNo && current.Status.Truthy():
		if err := s.closeDeclaration(ctx, op, *current, ev.StartDate); err != nil {
			return err
		}
		rec.ID = 0
		return s.insert(ctx, op, rec)

	case ev.Status.Truthy():
		return s.extend(ctx, op, ev, *current, decls)
	}

	// NO over NO: already declined.
	return nil
}

// newRecord builds the declaration an insert would write.
func (s *Service) newRecord(ctx context.Context, op *operation, ev DeclarationEvent, current *Declaration) (Declaration, error) {
	rec := Declaration{
		DonorID:   ev.DonorID,
		Status:    ev.Status,
		StartDate: generic.TimePtr(ev.StartDate),
		Address:   ev.Address,
		PostCode:  ev.PostCode,
		Source:    ev.Source,
		Notes:     ev.Notes,
		Charity:   ev.Charity,
	}
	if ev.EndDate != nil {
		rec.EndDate = generic.TimePtr(*ev.EndDate)
	}

	if current != nil {
		if rec.Source == "" {
			rec.Source = current.Source
		}
		if rec.Notes == "" {
			rec.Notes = current.Notes
		}
	}
	if rec.Source == "" {
		rec.Source = s.DefaultSource
	}

	if rec.Address == "" && rec.PostCode == "" {
		addr, err := op.repo.PrimaryAddress(ctx, ev.DonorID)
		if err != nil {
			return rec, fmt.Errorf("load primary address: %w", err)
		}
		if addr != nil {
			rec.Address = FormatAddress(*addr)
			rec.PostCode = addr.PostalCode
		}
	}
	return rec, nil
}

func (s *Service) insert(ctx context.Context, op *operation, rec Declaration) error {
	if err := op.repo.SaveDeclaration(ctx, &rec); err != nil {
		return fmt.Errorf("save declaration: %w", err)
	}
	op.cache.Invalidate(rec.DonorID)
	log.Printf("[Merge] donor %d: %s declaration %d %s", rec.DonorID, rec.Status, rec.ID, rec.Window())
	return nil
}

// closeDeclaration ends current at the given instant.
func (s *Service) closeDeclaration(ctx context.Context, op *operation, current Declaration, at time.Time) error {
	reason := ReasonContactDeclined
	err := op.repo.UpdateDeclaration(ctx, current.ID, DeclarationUpdate{
		EndDate:     generic.TimePtr(at),
		ReasonEnded: &reason,
	})
	if err != nil {
		return fmt.Errorf("close declaration %d: %w", current.ID, err)
	}
	op.cache.Invalidate(current.DonorID)
	log.Printf("[Merge] donor %d: closed %s declaration %d at %s", current.DonorID, current.Status, current.ID, generic.FormatTimestamp(at))
	return nil
}

// extend updates a current positive declaration in place.
func (s *Service) extend(ctx context.Context, op *operation, ev DeclarationEvent, current Declaration, decls []Declaration) error {
	var u DeclarationUpdate

	end := ev.EndDate
	if end == nil {
		end = current.EndDate
	}
	end = capAtNext(decls, *current.StartDate, end, current.ID)
	if end != nil && !generic.SameInstant(end, current.EndDate) {
		u.EndDate = generic.TimePtr(*end)
	}

	if ev.Status == StatusYesRetroactive4Y {
		now := s.now()
		// A declaration that has already ended stays as it is: starting it
		// at now would leave an empty window.
		ended := end != nil && !now.Before(*end)
		if !ended && !current.StartDate.Before(generic.YearsBefore(now, 4)) {
			status := StatusYesRetroactive4Y
			u.Status = &status
			// Never move a start earlier: it could reach into the previous window.
			if now.After(*current.StartDate) {
				u.StartDate = generic.TimePtr(now)
			}
		}
	}

	if u.IsEmpty() {
		return nil
	}
	if err := op.repo.UpdateDeclaration(ctx, current.ID, u); err != nil {
		return fmt.Errorf("update declaration %d: %w", current.ID, err)
	}
	op.cache.Invalidate(current.DonorID)
	updated := u.Apply(current)
	log.Printf("[Merge] donor %d: updated declaration %d to %s %s", current.DonorID, current.ID, updated.Status, updated.Window())
	return nil
}

// capAtNext limits end to the start of the first declaration starting
// after from (other than exclude). A nil end is capped too.
func capAtNext(decls []Declaration, from time.Time, end *time.Time, exclude DeclarationID) *time.Time {
	var next *time.Time
	for _, d := range decls {
		if d.IsPartial() || d.ID == exclude || !d.StartDate.After(from) {
			continue
		}
		if next == nil || d.StartDate.Before(*next) {
			next = d.StartDate
		}
	}
	if next == nil {
		return end
	}
	if end == nil || end.After(*next) {
		return generic.TimePtr(*next)
	}
	return end
}
