package giftaid_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/giftaid/giftaid"
)

func TestUpdateEligibleContributions(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t)

	mem.PutDonation(completedDonation(1, date(2020, 6, 1), "100.00"))
	mem.PutDonation(completedDonation(2, date(2020, 6, 2), "10.00"))
	decided := completedDonation(3, date(2020, 6, 3), "10.00")
	decided.IsEligible = boolPtr(false)
	mem.PutDonation(decided)
	batched := completedDonation(4, date(2020, 6, 4), "10.00")
	batched.BatchName = "Sent"
	mem.PutDonation(batched)

	t.Run("only undetermined donations by default", func(t *testing.T) {
		ids, err := svc.UpdateEligibleContributions(ctx, giftaid.ReconcileOptions{})
		require.NoError(t, err)
		assert.Equal(t, []giftaid.DonationID{1, 2}, ids)

		d, err := mem.GetDonation(ctx, 3)
		require.NoError(t, err)
		assert.False(t, *d.IsEligible, "decided donation untouched")
	})

	t.Run("nothing left to do", func(t *testing.T) {
		ids, err := svc.UpdateEligibleContributions(ctx, giftaid.ReconcileOptions{})
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("recalculate covers every unbatched donation", func(t *testing.T) {
		ids, err := svc.UpdateEligibleContributions(ctx, giftaid.ReconcileOptions{Recalculate: true})
		require.NoError(t, err)
		assert.Equal(t, []giftaid.DonationID{1, 2, 3}, ids)

		d, err := mem.GetDonation(ctx, 4)
		require.NoError(t, err)
		assert.Nil(t, d.IsEligible, "batched donation never touched")
	})

	t.Run("single donation and limit", func(t *testing.T) {
		ids, err := svc.UpdateEligibleContributions(ctx, giftaid.ReconcileOptions{DonationID: 2, Recalculate: true})
		require.NoError(t, err)
		assert.Equal(t, []giftaid.DonationID{2}, ids)

		ids, err = svc.UpdateEligibleContributions(ctx, giftaid.ReconcileOptions{Limit: 1, Recalculate: true})
		require.NoError(t, err)
		assert.Equal(t, []giftaid.DonationID{1}, ids)
	})
}
