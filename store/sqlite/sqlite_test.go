package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/giftaid/generic"
	"github.com/warp/giftaid/giftaid"
	"github.com/warp/giftaid/store/sqlite"
)

const donor giftaid.DonorID = 7

func newStore(t *testing.T, opts ...sqlite.Option) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func date(y int, m time.Month, d int) time.Time { return generic.Date(y, m, d) }

func donation(id giftaid.DonationID, received time.Time, amount string) giftaid.Donation {
	return giftaid.Donation{
		ID:            id,
		DonorID:       donor,
		ReceiveDate:   received,
		Status:        giftaid.DonationCompleted,
		FinancialType: 1,
		TotalAmount:   generic.MustParseDecimal(amount),
		Currency:      "GBP",
	}
}

func TestDeclarations_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	assert.False(t, s.Capabilities().Charity)

	d := giftaid.Declaration{
		DonorID:   donor,
		Status:    giftaid.StatusYes,
		StartDate: generic.TimePtr(date(2020, 1, 1)),
		Address:   "1 High St",
		PostCode:  "LS1 1AA",
		Source:    "Online",
		Charity:   "ignored without the column",
	}
	require.NoError(t, s.SaveDeclaration(ctx, &d))
	require.NotZero(t, d.ID)
	assert.Empty(t, d.Charity)

	end := date(2021, 1, 1)
	reason := giftaid.ReasonContactDeclined
	require.NoError(t, s.UpdateDeclaration(ctx, d.ID, giftaid.DeclarationUpdate{EndDate: &end, ReasonEnded: &reason}))

	got, err := s.GetDeclaration(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, end, *got.EndDate)
	assert.Equal(t, date(2020, 1, 1), *got.StartDate)
	assert.Equal(t, reason, got.ReasonEnded)
	assert.Equal(t, "Online", got.Source)

	_, err = s.GetDeclaration(ctx, 999)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	err = s.SaveDeclaration(ctx, &giftaid.Declaration{ID: 999, DonorID: donor})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestDeclarations_Partials(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	stub := giftaid.Declaration{DonorID: donor, Status: giftaid.StatusYes}
	withPostCode := giftaid.Declaration{DonorID: donor, Status: giftaid.StatusYes, PostCode: "AB1 2CD"}
	keep := giftaid.Declaration{DonorID: donor, Status: giftaid.StatusYes, StartDate: generic.TimePtr(generic.Date(2020, time.January, 1))}
	other := giftaid.Declaration{DonorID: 8, Status: giftaid.StatusNo}
	for _, d := range []*giftaid.Declaration{&stub, &withPostCode, &keep, &other} {
		require.NoError(t, s.SaveDeclaration(ctx, d))
	}

	// Every record without a start date is a stub, post code or not
	n, err := s.DeletePartialDeclarations(ctx, donor)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	decls, err := s.DeclarationsByDonor(ctx, donor)
	require.NoError(t, err)
	require.Len(t, decls, 1)
	assert.Equal(t, keep.ID, decls[0].ID)
	assert.False(t, decls[0].IsPartial())

	donors, err := s.DonorsWithDeclarations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []giftaid.DonorID{donor, 8}, donors)
}

func TestDeclarations_CharityColumn(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, sqlite.WithCharityColumn())
	require.True(t, s.Capabilities().Charity)

	d := giftaid.Declaration{DonorID: donor, Status: giftaid.StatusYes, StartDate: generic.TimePtr(date(2020, 1, 1)), Charity: "North"}
	require.NoError(t, s.SaveDeclaration(ctx, &d))

	got, err := s.GetDeclaration(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "North", got.Charity)
}

func TestDonations(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	split := donation(1, date(2020, 6, 1), "100.00")
	split.LineItems = []giftaid.LineItem{
		{FinancialType: 1, Amount: generic.MustParseDecimal("60.00")},
		{FinancialType: 4, Amount: generic.MustParseDecimal("40.00")},
	}
	require.NoError(t, s.SaveDonation(ctx, split))
	require.NoError(t, s.SaveDonation(ctx, donation(2, date(2020, 7, 1), "10.00")))

	batched := donation(3, date(2020, 8, 1), "5.00")
	batched.BatchName = "Batch A"
	require.NoError(t, s.SaveDonation(ctx, batched))

	t.Run("line items round trip", func(t *testing.T) {
		got, err := s.GetDonation(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got.LineItems, 2)
		assert.True(t, got.LineItems[1].Amount.Equal(decimal.NewFromInt(40)))
		assert.Nil(t, got.IsEligible)
		assert.Equal(t, date(2020, 6, 1), got.ReceiveDate)
	})

	t.Run("gift aid fields", func(t *testing.T) {
		yes := true
		name := "Batch B"
		require.NoError(t, s.UpdateGiftAidFields(ctx, 2, giftaid.GiftAidUpdate{
			SetEligibility: true,
			IsEligible:     &yes,
			EligibleAmount: generic.DecimalPtr(generic.MustParseDecimal("10.00")),
			ReclaimAmount:  generic.DecimalPtr(generic.MustParseDecimal("2.50")),
		}))
		require.NoError(t, s.UpdateGiftAidFields(ctx, 2, giftaid.GiftAidUpdate{BatchName: &name}))

		got, err := s.GetDonation(ctx, 2)
		require.NoError(t, err)
		require.NotNil(t, got.IsEligible)
		assert.True(t, *got.IsEligible)
		assert.Equal(t, "2.5", got.ReclaimAmount.String())
		assert.Equal(t, "Batch B", got.BatchName)

		err = s.UpdateGiftAidFields(ctx, 99, giftaid.GiftAidUpdate{BatchName: &name})
		assert.ErrorIs(t, err, generic.ErrNotFound)
	})

	t.Run("find matches the in-memory filter", func(t *testing.T) {
		all := []giftaid.DonationID{1, 2, 3}
		filters := []giftaid.DonationFilter{
			{OnlyUndetermined: true},
			{ExcludeBatched: true},
			{OnlyEligible: true},
			{ReceivedFrom: generic.TimePtr(date(2020, 7, 1)), ReceivedTo: generic.TimePtr(date(2020, 7, 1))},
			{FinancialTypes: []giftaid.FinancialTypeID{4}},
			{DonorID: donor, Limit: 2},
		}
		for _, f := range filters {
			found, err := s.FindDonations(ctx, f)
			require.NoError(t, err)

			donations, err := s.GetDonations(ctx, all)
			require.NoError(t, err)
			var want []giftaid.DonationID
			for _, d := range donations {
				if f.Matches(d) && (f.Limit == 0 || len(want) < f.Limit) {
					want = append(want, d.ID)
				}
			}
			var got []giftaid.DonationID
			for _, d := range found {
				got = append(got, d.ID)
			}
			assert.Equal(t, want, got, "%+v", f)
		}
	})

	t.Run("missing ids are skipped", func(t *testing.T) {
		got, err := s.GetDonations(ctx, []giftaid.DonationID{3, 42, 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, giftaid.DonationID(3), got[0].ID)
	})
}

func TestBatches(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a := &giftaid.Batch{Name: "batch_a", Title: "Batch A", BatchType: giftaid.BatchTypeGiftAid, CreatedAt: date(2021, 1, 1)}
	require.NoError(t, s.CreateBatch(ctx, a))
	err := s.CreateBatch(ctx, &giftaid.Batch{Name: "batch_a", Title: "Again", BatchType: giftaid.BatchTypeGiftAid})
	assert.ErrorIs(t, err, generic.ErrValidation)

	b := &giftaid.Batch{Name: "batch_b", Title: "Batch B", BatchType: giftaid.BatchTypeGiftAid}
	require.NoError(t, s.CreateBatch(ctx, b))

	none, err := s.BatchForDonation(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.LinkDonation(ctx, a.ID, 1))
	require.NoError(t, s.LinkDonation(ctx, a.ID, 1), "relinking to the same batch is a no-op")
	assert.ErrorIs(t, s.LinkDonation(ctx, b.ID, 1), generic.ErrValidation)
	assert.ErrorIs(t, s.LinkDonation(ctx, 99, 2), generic.ErrNotFound)

	got, err := s.BatchForDonation(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Batch A", got.Title)
	assert.Equal(t, date(2021, 1, 1), got.CreatedAt)

	ids, err := s.BatchDonations(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []giftaid.DonationID{1}, ids)

	require.NoError(t, s.UnlinkDonation(ctx, a.ID, 1))
	ids, err = s.BatchDonations(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	added, err := s.RegisterBatchName(ctx, "Batch A")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.RegisterBatchName(ctx, "batch a")
	require.NoError(t, err)
	assert.False(t, added)
	names, err := s.BatchNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Batch A"}, names)

	require.NoError(t, s.SaveBatchSettings(ctx, giftaid.BatchSettings{
		BatchID:               a.ID,
		FinancialTypesEnabled: []giftaid.FinancialTypeID{1, 4},
		BasicTaxRate:          generic.MustParseDecimal("20"),
	}))
	bs, err := s.GetBatchSettings(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, bs.GloballyEnabled)
	assert.Equal(t, []giftaid.FinancialTypeID{1, 4}, bs.FinancialTypesEnabled)
	assert.Equal(t, "20", bs.BasicTaxRate.String())

	_, err = s.GetBatchSettings(ctx, b.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestSettingsAndAddresses(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, ok, err := s.GetSetting(ctx, giftaid.SettingBasicTaxRate)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, giftaid.SettingBasicTaxRate, "20"))
	require.NoError(t, s.SetSetting(ctx, giftaid.SettingBasicTaxRate, "25"))
	v, ok, err := s.GetSetting(ctx, giftaid.SettingBasicTaxRate)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "25", v)

	require.NoError(t, s.RevertSetting(ctx, giftaid.SettingBasicTaxRate))
	_, ok, err = s.GetSetting(ctx, giftaid.SettingBasicTaxRate)
	require.NoError(t, err)
	assert.False(t, ok)

	addr, err := s.PrimaryAddress(ctx, donor)
	require.NoError(t, err)
	assert.Nil(t, addr)

	require.NoError(t, s.SaveAddress(ctx, donor, giftaid.Address{Street: "1 High St", PostalCode: "LS1 1AA"}))
	addr, err = s.PrimaryAddress(ctx, donor)
	require.NoError(t, err)
	require.NotNil(t, addr)
	assert.Equal(t, "LS1 1AA", addr.PostalCode)
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("rollback discards writes and hooks", func(t *testing.T) {
		s := newStore(t)
		boom := errors.New("boom")
		hookRan := false

		err := s.WithTx(ctx, func(ctx context.Context, tx giftaid.Repository) error {
			require.NoError(t, tx.SetSetting(ctx, "k", "v"))
			uow, ok := generic.UnitOfWorkFrom(ctx)
			require.True(t, ok)
			uow.AfterCommit(func(context.Context) error { hookRan = true; return nil })
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.False(t, hookRan)

		_, ok, err := s.GetSetting(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("nested call joins and hooks run after commit", func(t *testing.T) {
		s := newStore(t)
		var seen string

		err := s.WithTx(ctx, func(ctx context.Context, tx giftaid.Repository) error {
			require.NoError(t, tx.SetSetting(ctx, "k", "outer"))
			uow, _ := generic.UnitOfWorkFrom(ctx)
			uow.AfterCommit(func(ctx context.Context) error {
				v, _, err := s.GetSetting(ctx, "k")
				seen = v
				return err
			})
			return s.WithTx(ctx, func(ctx context.Context, inner giftaid.Repository) error {
				return inner.SetSetting(ctx, "k", "inner")
			})
		})
		require.NoError(t, err)
		assert.Equal(t, "inner", seen)
	})
}

func TestService_EndToEnd(t *testing.T) {
	// GIVEN: A service over SQLite with a 20% basic rate
	ctx := context.Background()
	s := newStore(t)
	svc := giftaid.NewService(s)
	svc.Clock = generic.FixedClock{At: date(2021, 1, 1)}
	require.NoError(t, s.SetSetting(ctx, giftaid.SettingBasicTaxRate, "20"))
	require.NoError(t, s.SaveDonation(ctx, donation(1, date(2020, 6, 1), "100.00")))

	// WHEN: YES, NO, YES arrive for the donor
	for _, ev := range []struct {
		status giftaid.Status
		start  time.Time
	}{
		{giftaid.StatusYes, date(2020, 1, 1)},
		{giftaid.StatusNo, date(2020, 5, 1)},
		{giftaid.StatusYes, date(2020, 9, 1)},
	} {
		require.NoError(t, svc.ApplyDeclaration(ctx, giftaid.DeclarationEvent{DonorID: donor, Status: ev.status, StartDate: ev.start}))
	}

	// THEN: Three contiguous declarations
	decls, err := s.DeclarationsByDonor(ctx, donor)
	require.NoError(t, err)
	require.Len(t, decls, 3)
	assert.Equal(t, date(2020, 5, 1), *decls[0].EndDate)
	assert.Equal(t, date(2020, 9, 1), *decls[1].EndDate)
	assert.Nil(t, decls[2].EndDate)

	// THEN: A June donation falls in the NO window and can't be batched
	_, res, err := svc.CreateBatch(ctx, giftaid.NewBatch{Title: "June"}, []giftaid.DonationID{1})
	assert.ErrorIs(t, err, generic.ErrEmptyBatch)
	assert.Empty(t, res.Added)

	names, err := s.BatchNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "rolled back with the batch")
}

func TestSubmissions_BlockRemoval(t *testing.T) {
	// GIVEN: A batched donation whose batch was sent to the tax authority
	ctx := context.Background()
	s := newStore(t)
	svc := giftaid.NewService(s)
	svc.Clock = generic.FixedClock{At: date(2021, 1, 1)}
	svc.Submissions = s
	require.NoError(t, s.SetSetting(ctx, giftaid.SettingBasicTaxRate, "20"))
	require.NoError(t, s.SaveDonation(ctx, donation(1, date(2020, 6, 1), "100.00")))
	require.NoError(t, svc.ApplyDeclaration(ctx, giftaid.DeclarationEvent{DonorID: donor, Status: giftaid.StatusYes, StartDate: date(2020, 1, 1)}))

	b, res, err := svc.CreateBatch(ctx, giftaid.NewBatch{Title: "Spring"}, []giftaid.DonationID{1})
	require.NoError(t, err)
	require.Equal(t, []giftaid.DonationID{1}, res.Added)

	submitted, err := s.IsSubmitted(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, submitted)
	require.NoError(t, s.MarkSubmitted(ctx, b.ID, date(2021, 1, 2)))
	assert.ErrorIs(t, s.MarkSubmitted(ctx, 99, date(2021, 1, 2)), generic.ErrNotFound)

	// WHEN: Removal is attempted
	removed, err := svc.RemoveFromBatch(ctx, []giftaid.DonationID{1})

	// THEN: Refused, the donation stays stamped
	require.NoError(t, err)
	assert.Empty(t, removed.Removed)
	assert.Equal(t, []giftaid.DonationID{1}, removed.AlreadySubmitted)

	d, err := s.GetDonation(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Spring", d.BatchName)
	require.NotNil(t, d.ReclaimAmount)
	assert.Equal(t, "25", d.ReclaimAmount.String())
}
