package giftaid

import (
	"context"
	"fmt"
	"log"

	"github.com/warp/giftaid/generic"
)

// DonationAction says how a donation was saved.
type DonationAction string

const (
	DonationCreated DonationAction = "create"
	DonationEdited  DonationAction = "edit"
)

// DonationSaved is raised by the host after a donation is written.
type DonationSaved struct {
	DonationID DonationID
	Action     DonationAction

	// Eligible is the choice made on the saving form, if any.
	Eligible *bool

	// DeclarationStatus, when set, records a declaration for the donor
	// starting at the donation's receive date. Source is the form title.
	DeclarationStatus *Status
	Source            string
}

// DonationSavedResult reports what the hook did.
type DonationSavedResult struct {
	Deferred           bool // queued to run after the surrounding commit
	Eligibility        EligibilityResult
	MissingDeclaration bool // eligible donation but no current declaration
}

// OnDonationSaved recomputes a saved donation's Gift Aid fields and
// records any declaration captured with it. Inside a unit of work the
// work is queued until after commit, so it sees the committed donation.
func (s *Service) OnDonationSaved(ctx context.Context, ev DonationSaved) (DonationSavedResult, error) {
	if ev.DonationID == 0 {
		return DonationSavedResult{}, &generic.ValidationError{Field: "donation_id", Message: "donation_id is required"}
	}
	if uow, ok := generic.UnitOfWorkFrom(ctx); ok {
		uow.AfterCommit(func(ctx context.Context) error {
			_, err := s.donationSaved(ctx, ev)
			return err
		})
		return DonationSavedResult{Deferred: true}, nil
	}
	return s.donationSaved(ctx, ev)
}

func (s *Service) donationSaved(ctx context.Context, ev DonationSaved) (DonationSavedResult, error) {
	var res DonationSavedResult

	d, err := s.Repo.GetDonation(ctx, ev.DonationID)
	if err != nil {
		return res, err
	}

	opts := EligibilityOptions{Eligible: ev.Eligible}
	if ev.Action == DonationCreated && d.RecurringID != 0 && d.Batched() {
		// A new instalment inherits its template's fields, batch name included.
		none := ""
		opts.AddToBatch = true
		opts.BatchName = &none
	}
	res.Eligibility, err = s.ComputeEligibility(ctx, d.ID, opts)
	if err != nil {
		return res, err
	}

	if ev.DeclarationStatus == nil && !res.Eligibility.IsEligible {
		return res, nil
	}

	var dev *DeclarationEvent
	if ev.DeclarationStatus != nil {
		dev = &DeclarationEvent{
			DonorID:   d.DonorID,
			Status:    *ev.DeclarationStatus,
			StartDate: d.ReceiveDate,
			Source:    ev.Source,
		}
		if err := validateEvent(*dev); err != nil {
			return res, fmt.Errorf("record declaration for donation %d: %w", d.ID, err)
		}
		unlock := s.lockDonor(d.DonorID)
		defer unlock()
	}

	// One operation: the timeline read back below must see the declaration
	// just written.
	var current *Declaration
	err = s.Repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		op := newOperation(tx)
		if dev != nil {
			if err := s.applyDeclaration(ctx, op, *dev); err != nil {
				return fmt.Errorf("record declaration for donation %d: %w", d.ID, err)
			}
		}
		if !res.Eligibility.IsEligible {
			return nil
		}
		decls, err := op.declarations(ctx, d.DonorID, "")
		if err != nil {
			return err
		}
		current = CurrentDeclaration(decls, s.now())
		return nil
	})
	if err != nil {
		return res, err
	}

	if res.Eligibility.IsEligible && current == nil {
		res.MissingDeclaration = true
		log.Printf("[Merge] donor %d: donation %d is eligible but the donor has no current declaration", d.DonorID, d.ID)
	}
	return res, nil
}
