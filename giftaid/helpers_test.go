package giftaid_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/giftaid/generic"
	"github.com/warp/giftaid/giftaid"
	"github.com/warp/giftaid/giftaid/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const donor giftaid.DonorID = 42

var testNow = generic.Date(2021, time.January, 1)

func date(y int, m time.Month, d int) time.Time { return generic.Date(y, m, d) }

func datePtr(y int, m time.Month, d int) *time.Time { return generic.TimePtr(date(y, m, d)) }

func money(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

func boolPtr(b bool) *bool { return &b }

// clock is a settable clock for tests that move time.
type clock struct{ at time.Time }

func (c *clock) Now() time.Time { return c.at }

func newTestService(t *testing.T) (*giftaid.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := giftaid.NewService(mem)
	svc.Clock = generic.FixedClock{At: testNow}
	require.NoError(t, mem.SetSetting(context.Background(), giftaid.SettingBasicTaxRate, "20"))
	return svc, mem
}

func apply(t *testing.T, svc *giftaid.Service, status giftaid.Status, start time.Time, end *time.Time) {
	t.Helper()
	err := svc.ApplyDeclaration(context.Background(), giftaid.DeclarationEvent{
		DonorID:   donor,
		Status:    status,
		StartDate: start,
		EndDate:   end,
	})
	require.NoError(t, err)
}

func declarations(t *testing.T, mem *store.Memory) []giftaid.Declaration {
	t.Helper()
	decls, err := mem.DeclarationsByDonor(context.Background(), donor)
	require.NoError(t, err)
	return decls
}

func seedDeclaration(t *testing.T, mem *store.Memory, d giftaid.Declaration) giftaid.Declaration {
	t.Helper()
	if d.DonorID == 0 {
		d.DonorID = donor
	}
	require.NoError(t, mem.SaveDeclaration(context.Background(), &d))
	return d
}

func completedDonation(id giftaid.DonationID, received time.Time, amount string) giftaid.Donation {
	return giftaid.Donation{
		ID:            id,
		DonorID:       donor,
		ReceiveDate:   received,
		Status:        giftaid.DonationCompleted,
		FinancialType: 1,
		TotalAmount:   money(amount),
		Currency:      "GBP",
	}
}
