/*
calculator.go - Eligibility & Amount Calculator

PURPOSE:
  Decides whether a donation is eligible for Gift Aid and computes the
  eligible and reclaimable amounts.

  ELIGIBILITY (ComputeEligibility):
    1. an explicit choice supplied by the caller wins
    2. else a flag already on the donation is honoured, unless the caller
       asked for recalculation
    3. else auto-detect: eligible when Gift Aid is globally enabled or any
       line item has an enabled financial type

  AMOUNTS (eligible donations only):
    eligible = total (globally enabled) or sum of enabled line items
    reclaim  = eligible * rate / (100 - rate), both rounded to 2 places
    e.g. 100.00 at 20%  -> 25.00

  BATCH LOCK:
    A donation already stamped with a batch name is never rewritten,
    except by the batching path itself.

  CHECK (IsContributionEligible):
    Read-only: the donor has declarations, no explicit zero amount, no
    explicit NO flag, and the declaration governing the receive date
    (4Y windows reach back four years) is a YES variant.

SEE ALSO:
  - resolver.go: EligibleDeclaration
  - settings.go: tax rate lookup
*/
package giftaid

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/giftaid/generic"
)

// EligibilityOptions steers ComputeEligibility.
type EligibilityOptions struct {
	// Eligible is an explicit choice (admin form, import). Nil = decide.
	Eligible *bool

	// Recalculate ignores the flag already stored on the donation.
	Recalculate bool

	// AddToBatch lets the write through for a donation that is already
	// batched, stamping BatchName when set.
	AddToBatch bool
	BatchName  *string
}

// EligibilityResult is what ComputeEligibility decided.
type EligibilityResult struct {
	DonationID     DonationID
	IsEligible     bool
	EligibleAmount *decimal.Decimal
	ReclaimAmount  *decimal.Decimal
	Locked         bool // batched donation left untouched
}

// ComputeEligibility decides and stores the Gift Aid fields of a donation.
func (s *Service) ComputeEligibility(ctx context.Context, id DonationID, opts EligibilityOptions) (EligibilityResult, error) {
	if id == 0 {
		return EligibilityResult{}, &generic.ValidationError{Field: "donation_id", Message: "donation_id is required"}
	}
	var res EligibilityResult
	err := s.Repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		res, err = s.computeEligibility(ctx, newOperation(tx), id, opts)
		return err
	})
	return res, err
}

func (s *Service) computeEligibility(ctx context.Context, op *operation, id DonationID, opts EligibilityOptions) (EligibilityResult, error) {
	d, err := op.repo.GetDonation(ctx, id)
	if err != nil {
		return EligibilityResult{}, err
	}

	if d.Batched() && !opts.AddToBatch {
		return EligibilityResult{
			DonationID:     d.ID,
			IsEligible:     d.IsEligible != nil && *d.IsEligible,
			EligibleAmount: d.EligibleAmount,
			ReclaimAmount:  d.ReclaimAmount,
			Locked:         true,
		}, nil
	}

	settings, err := op.settings(ctx)
	if err != nil {
		return EligibilityResult{}, err
	}
	res, err := Calculate(*d, settings, opts)
	if err != nil {
		return EligibilityResult{}, err
	}

	update := GiftAidUpdate{
		SetEligibility: true,
		IsEligible:     &res.IsEligible,
		EligibleAmount: res.EligibleAmount,
		ReclaimAmount:  res.ReclaimAmount,
	}
	if opts.AddToBatch && opts.BatchName != nil {
		update.BatchName = opts.BatchName
	}
	if err := op.repo.UpdateGiftAidFields(ctx, d.ID, update); err != nil {
		return EligibilityResult{}, fmt.Errorf("update gift aid fields of donation %d: %w", d.ID, err)
	}
	return res, nil
}

// Calculate is the pure part of ComputeEligibility.
func Calculate(d Donation, settings Settings, opts EligibilityOptions) (EligibilityResult, error) {
	res := EligibilityResult{DonationID: d.ID}

	switch {
	case opts.Eligible != nil:
		res.IsEligible = *opts.Eligible
	case d.IsEligible != nil && !opts.Recalculate:
		res.IsEligible = *d.IsEligible
	default:
		res.IsEligible = AutoDetectEligible(d, settings)
	}
	if !res.IsEligible {
		return res, nil
	}

	rate, err := settings.TaxRate()
	if err != nil {
		return res, err
	}
	eligible := EligibleAmount(d, settings)
	reclaim := ReclaimAmount(eligible, rate)
	res.EligibleAmount = &eligible
	res.ReclaimAmount = &reclaim
	return res, nil
}

// AutoDetectEligible is true when Gift Aid is globally enabled or any line
// item has an enabled financial type.
func AutoDetectEligible(d Donation, settings Settings) bool {
	if settings.GloballyEnabled {
		return true
	}
	for _, li := range d.Lines() {
		if settings.TypeEnabled(li.FinancialType) {
			return true
		}
	}
	return false
}

// EligibleAmount is the part of the donation Gift Aid applies to.
func EligibleAmount(d Donation, settings Settings) decimal.Decimal {
	if settings.GloballyEnabled {
		return generic.RoundCurrency(d.TotalAmount)
	}
	total := decimal.Zero
	for _, li := range d.Lines() {
		if settings.TypeEnabled(li.FinancialType) {
			total = total.Add(li.Amount)
		}
	}
	return generic.RoundCurrency(total)
}

// ReclaimAmount grosses up a net donation at the basic rate:
// amount * rate / (100 - rate).
func ReclaimAmount(eligible, rate decimal.Decimal) decimal.Decimal {
	return generic.RoundCurrency(eligible.Mul(rate).Div(generic.Hundred.Sub(rate)))
}

// IsContributionEligible checks, without writing, whether the donation is
// covered by a positive declaration.
func (s *Service) IsContributionEligible(ctx context.Context, d Donation) (bool, error) {
	return s.isContributionEligible(ctx, newOperation(s.Repo), d)
}

func (s *Service) isContributionEligible(ctx context.Context, op *operation, d Donation) (bool, error) {
	if d.DonorID == 0 {
		return false, nil
	}
	decls, err := op.declarations(ctx, d.DonorID, "")
	if err != nil {
		return false, err
	}
	if len(decls) == 0 {
		return false, nil
	}
	if d.EligibleAmount != nil && d.EligibleAmount.IsZero() {
		return false, nil
	}
	if d.IsEligible != nil && !*d.IsEligible {
		return false, nil
	}
	decl := EligibleDeclaration(decls, d.ReceiveDate)
	return decl != nil && decl.Status.Truthy(), nil
}
