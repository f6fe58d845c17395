package giftaid

import (
	"context"
	"log"
)

// ReconcileOptions scopes UpdateEligibleContributions.
type ReconcileOptions struct {
	DonationID  DonationID // 0 = every matching donation
	Limit       int        // 0 = no limit
	Recalculate bool       // re-detect donations that already carry a flag
}

// UpdateEligibleContributions recomputes eligibility of unbatched
// donations: those never determined, or all of them when Recalculate is
// set. Each donation is written in its own transaction; the first error
// stops the run and is returned with the IDs updated so far.
func (s *Service) UpdateEligibleContributions(ctx context.Context, opts ReconcileOptions) ([]DonationID, error) {
	filter := DonationFilter{
		ID:               opts.DonationID,
		OnlyUndetermined: !opts.Recalculate,
		ExcludeBatched:   true,
		Limit:            opts.Limit,
	}
	donations, err := s.Repo.FindDonations(ctx, filter)
	if err != nil {
		return nil, err
	}

	updated := make([]DonationID, 0, len(donations))
	for _, d := range donations {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if d.Batched() {
			continue
		}
		res, err := s.ComputeEligibility(ctx, d.ID, EligibilityOptions{Recalculate: opts.Recalculate})
		if err != nil {
			return updated, err
		}
		if !res.Locked {
			updated = append(updated, d.ID)
		}
	}
	if len(updated) > 0 {
		log.Printf("[Reconcile] updated %d donations (recalculate=%t)", len(updated), opts.Recalculate)
	}
	return updated, nil
}
