package giftaid

import (
	"context"

	"github.com/warp/giftaid/generic"
)

// DefaultHistoryLimit caps ContributionsByDeclarations.
const DefaultHistoryLimit = 100

// ContributionsByDeclarations returns unbatched donations received in the
// four years up to each declaration's start, for enabled financial types.
// These are the donations a retroactive declaration can newly cover.
func (s *Service) ContributionsByDeclarations(ctx context.Context, decls []Declaration, limit int) ([]Donation, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[DonationID]bool)
	var out []Donation
	for _, decl := range decls {
		if decl.IsPartial() {
			continue
		}
		from := generic.YearsBefore(*decl.StartDate, 4)
		to := *decl.StartDate
		filter := DonationFilter{
			DonorID:        decl.DonorID,
			ReceivedFrom:   &from,
			ReceivedTo:     &to,
			ExcludeBatched: true,
			Limit:          limit - len(out),
		}
		if !settings.GloballyEnabled {
			if len(settings.FinancialTypesEnabled) == 0 {
				continue
			}
			filter.FinancialTypes = settings.FinancialTypesEnabled
		}
		donations, err := s.Repo.FindDonations(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, d := range donations {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			out = append(out, d)
		}
		if len(out) >= limit {
			return out[:limit], nil
		}
	}
	return out, nil
}
