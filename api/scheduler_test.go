package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/giftaid/generic"
	"github.com/warp/giftaid/giftaid"
)

func TestScheduler_RunNowFillsUndetermined(t *testing.T) {
	// GIVEN: Two donations without Gift Aid fields
	// WHEN: The scheduler runs with a limit of one
	// THEN: One donation per run is handled until none are left

	h, _ := setupTestHandler(t)
	seedDonation(t, h, 1, 7, generic.Date(2021, time.January, 5), "10.00")
	seedDonation(t, h, 2, 7, generic.Date(2021, time.January, 6), "20.00")

	rs := NewReconciliationScheduler(h.Service)
	rs.Limit = 1

	assert.Len(t, rs.RunNow(), 1)
	assert.Len(t, rs.RunNow(), 1)
	assert.Empty(t, rs.RunNow())
	assert.False(t, rs.Disabled())

	d, err := h.Store.GetDonation(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, d.ReclaimAmount)
	assert.Equal(t, "5.00", d.ReclaimAmount.StringFixed(2))
}

func TestScheduler_DisabledUntilTaxRateSet(t *testing.T) {
	// GIVEN: No basic tax rate
	// WHEN: The scheduler runs, then the rate is set
	// THEN: It disables itself, then resumes on the next run

	h, _ := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.Store.RevertSetting(ctx, giftaid.SettingBasicTaxRate))
	seedDonation(t, h, 1, 7, generic.Date(2021, time.January, 5), "10.00")

	rs := NewReconciliationScheduler(h.Service)
	assert.Empty(t, rs.RunNow())
	assert.True(t, rs.Disabled())

	// Still disabled while the rate is missing
	assert.Empty(t, rs.RunNow())
	assert.True(t, rs.Disabled())

	require.NoError(t, h.Store.SetSetting(ctx, giftaid.SettingBasicTaxRate, "20"))
	assert.Len(t, rs.RunNow(), 1)
	assert.False(t, rs.Disabled())
}

func TestScheduler_StartStop(t *testing.T) {
	h, _ := setupTestHandler(t)
	seedDonation(t, h, 1, 7, generic.Date(2021, time.January, 5), "10.00")

	rs := NewReconciliationScheduler(h.Service)
	rs.CheckInterval = time.Hour
	rs.Start()

	require.Eventually(t, func() bool {
		d, err := h.Store.GetDonation(context.Background(), 1)
		return err == nil && d.IsEligible != nil
	}, 2*time.Second, 10*time.Millisecond, "first run happens on start")

	rs.Stop()
	rs.Stop() // idempotent
	assert.WithinDuration(t, time.Now().Add(time.Hour), rs.GetNextRunTime(), time.Minute)

	rs.Enabled = false
	rs.Start()
	rs.Stop()
}
