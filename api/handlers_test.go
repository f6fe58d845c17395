/*
handlers_test.go - Tests for API handlers

Tests for:
- Declaration apply / resolve / validate endpoints
- Donation save with the post-commit saved hook
- Batch create, add, remove and submission lock
- Settings update, validation and revert
- Error to status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/giftaid/generic"
	"github.com/warp/giftaid/giftaid"
	"github.com/warp/giftaid/store/sqlite"
)

var testNow = generic.Date(2021, time.March, 1)

func setupTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := giftaid.NewService(store)
	svc.Clock = generic.FixedClock{At: testNow}
	svc.Submissions = store
	require.NoError(t, store.SetSetting(context.Background(), giftaid.SettingBasicTaxRate, "20"))

	h := NewHandler(store, svc)
	return h, NewRouter(h)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func seedDonation(t *testing.T, h *Handler, id giftaid.DonationID, donor giftaid.DonorID, received time.Time, amount string) {
	t.Helper()
	d := scenarioDonation(id, donor, received, amount)
	require.NoError(t, h.Store.SaveDonation(context.Background(), d))
}

// =============================================================================
// DECLARATIONS
// =============================================================================

func TestDeclarations_ApplyAndResolve(t *testing.T) {
	// GIVEN: A donor who said YES in 2019 and NO in 2020
	// WHEN: Resolving at different instants
	// THEN: The timeline answers with the declaration in force at each

	_, router := setupTestHandler(t)

	rec := doJSON(t, router, http.MethodPost, "/api/donors/7/declarations",
		ApplyDeclarationRequest{Status: "yes", StartDate: "2019-01-01", Source: "Web form"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/api/donors/7/declarations",
		ApplyDeclarationRequest{Status: "0", StartDate: "2020-01-01"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	decls := decode[[]DeclarationDTO](t, rec)
	require.Len(t, decls, 2)
	assert.Equal(t, "yes", decls[0].Status)
	require.NotNil(t, decls[0].EndDate)
	assert.Equal(t, "2020-01-01 00:00:00", *decls[0].EndDate)
	assert.Equal(t, giftaid.ReasonContactDeclined, decls[0].ReasonEnded)
	assert.Equal(t, "no", decls[1].Status)
	assert.Nil(t, decls[1].EndDate)
	assert.Equal(t, "Web form", decls[1].Source, "source carried over from the closed declaration")

	tests := []struct {
		path   string
		code   int
		status string
	}{
		{"/api/donors/7/declarations/current?at=2019-06-01", http.StatusOK, "yes"},
		{"/api/donors/7/declarations/current?at=2020-06-01", http.StatusOK, "no"},
		{"/api/donors/7/declarations/current", http.StatusOK, "no"},
		{"/api/donors/7/declarations/eligible?date=2019-12-31", http.StatusOK, "yes"},
		{"/api/donors/7/declarations/current?at=2018-06-01", http.StatusNotFound, ""},
		{"/api/donors/8/declarations/current", http.StatusNotFound, ""},
		{"/api/donors/7/declarations/current?at=yesterday", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.status != "" {
				assert.Equal(t, tt.status, decode[DeclarationDTO](t, rec).Status)
			}
		})
	}

	rec = doJSON(t, router, http.MethodGet, "/api/donors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	donors := decode[[]DonorDTO](t, rec)
	require.Len(t, donors, 1)
	assert.Equal(t, int64(7), donors[0].DonorID)
	require.NotNil(t, donors[0].Current)
	assert.Equal(t, "no", donors[0].Current.Status)
}

func TestApplyDeclaration_Rejected(t *testing.T) {
	_, router := setupTestHandler(t)
	end := "2019-01-01"

	tests := []struct {
		name string
		path string
		req  ApplyDeclarationRequest
	}{
		{"bad donor id", "/api/donors/abc/declarations", ApplyDeclarationRequest{Status: "yes", StartDate: "2020-01-01"}},
		{"unknown status", "/api/donors/7/declarations", ApplyDeclarationRequest{Status: "maybe", StartDate: "2020-01-01"}},
		{"missing start", "/api/donors/7/declarations", ApplyDeclarationRequest{Status: "yes"}},
		{"end before start", "/api/donors/7/declarations", ApplyDeclarationRequest{Status: "yes", StartDate: "2020-01-01", EndDate: &end}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, tt.path, tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}

	rec := doJSON(t, router, http.MethodGet, "/api/donors/7/declarations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]DeclarationDTO](t, rec), "nothing was written")
}

func TestValidateDeclarations_WarnsOnOverlapAndMissingAddress(t *testing.T) {
	// GIVEN: Two overlapping rows for a donor without an address
	// WHEN: Validating them
	// THEN: Both start dates and the status get warnings

	h, router := setupTestHandler(t)
	end := "2020-06-01"
	req := ValidateDeclarationsRequest{Declarations: []DeclarationInputDTO{
		{Key: "a", Status: "yes", StartDate: "2020-01-01", EndDate: &end},
		{Key: "b", Status: "no", StartDate: "2020-03-01"},
	}}

	rec := doJSON(t, router, http.MethodPost, "/api/donors/7/declarations/validate", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fields := map[string]string{}
	for _, w := range decode[ValidateDeclarationsResponse](t, rec).Warnings {
		fields[w.Field] = w.Message
	}
	assert.Equal(t, "This declaration overlaps with the one from 2020-03-01.", fields["a.start_date"])
	assert.Equal(t, "This declaration overlaps with the one from 2020-01-01 to 2020-06-01.", fields["b.start_date"])
	assert.Contains(t, fields, "a.status")

	// WHEN: The donor gets an address and the rows no longer overlap
	rec = doJSON(t, router, http.MethodPut, "/api/donors/7/address",
		AddressRequest{Street: "1 High Street", City: "Leeds", PostalCode: "ls14ap"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "LS1 4AP", decode[map[string]string](t, rec)["post_code"])
	req.Declarations[1].StartDate = "2020-06-01"

	// THEN: The set is clean
	rec = doJSON(t, router, http.MethodPost, "/api/donors/7/declarations/validate", req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ValidateDeclarationsResponse](t, rec).Warnings)

	addr, err := h.Store.PrimaryAddress(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, addr)
	assert.Equal(t, "1 High Street", addr.Street)
}

func TestDonorAddress_UsesDeclarationSnapshot(t *testing.T) {
	h, router := setupTestHandler(t)
	require.NoError(t, h.Store.SaveAddress(context.Background(), 7, giftaid.Address{
		Name: "Zoë Brontë-Jones", Street: "12 Acacia Avenue", City: "London", PostalCode: "sw1a1aa",
	}))

	rec := doJSON(t, router, http.MethodPost, "/api/donors/7/declarations",
		ApplyDeclarationRequest{Status: "yes", StartDate: "2020-01-01"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/donors/7/address?date=2020-05-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	addr := decode[AddressDTO](t, rec)
	assert.Equal(t, "SW1A 1AA", addr.PostCode)
	assert.Equal(t, "12", addr.HouseNumber)
	assert.Equal(t, "Zoe", addr.FirstName)
	assert.Equal(t, "Bronte-Jones", addr.LastName)

	rec = doJSON(t, router, http.MethodGet, "/api/donors/9/address", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// DONATIONS
// =============================================================================

func TestSaveDonation_RunsSavedHookAfterCommit(t *testing.T) {
	// GIVEN: A donor with an open YES declaration
	// WHEN: A donation is saved, then edited
	// THEN: Its Gift Aid fields are computed each time after the write

	_, router := setupTestHandler(t)
	rec := doJSON(t, router, http.MethodPost, "/api/donors/7/declarations",
		ApplyDeclarationRequest{Status: "yes", StartDate: "2020-01-01"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req := SaveDonationRequest{DonorID: 7, ReceiveDate: "2020-06-01", FinancialType: 1, TotalAmount: "100"}
	rec = doJSON(t, router, http.MethodPut, "/api/donations/9", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := decode[DonationDTO](t, rec)
	require.NotNil(t, d.IsEligible)
	assert.True(t, *d.IsEligible)
	require.NotNil(t, d.ReclaimAmount)
	assert.Equal(t, "25.00", *d.ReclaimAmount)
	assert.Equal(t, "Completed", d.Status)

	req.TotalAmount = "40"
	rec = doJSON(t, router, http.MethodPut, "/api/donations/9", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d = decode[DonationDTO](t, rec)
	assert.Equal(t, "40.00", d.TotalAmount)
	assert.Equal(t, "10.00", *d.ReclaimAmount)

	rec = doJSON(t, router, http.MethodGet, "/api/donations/9/eligibility", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decode[EligibilityCheckDTO](t, rec)
	assert.True(t, check.Eligible)
	require.NotNil(t, check.Declaration)
	assert.Equal(t, "yes", check.Declaration.Status)
}

func TestSaveDonation_RecordsDeclarationFromForm(t *testing.T) {
	// GIVEN: A donor without declarations
	// WHEN: A donation form also captures "yes"
	// THEN: A declaration starting at the receive date is recorded

	_, router := setupTestHandler(t)
	rec := doJSON(t, router, http.MethodPut, "/api/donations/3", SaveDonationRequest{
		DonorID: 7, ReceiveDate: "2021-02-01", FinancialType: 1, TotalAmount: "10",
		DeclarationStatus: "yes", Source: "Spring appeal",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/donors/7/declarations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decls := decode[[]DeclarationDTO](t, rec)
	require.Len(t, decls, 1)
	assert.Equal(t, "2021-02-01 00:00:00", *decls[0].StartDate)
	assert.Equal(t, "Spring appeal", decls[0].Source)
}

func TestDonationSavedHook(t *testing.T) {
	h, router := setupTestHandler(t)
	seedDonation(t, h, 4, 7, generic.Date(2021, time.January, 10), "50.00")

	// No declaration yet: the donation is eligible but the donor lacks one
	rec := doJSON(t, router, http.MethodPost, "/api/donations/4/saved", DonationSavedRequest{Action: "create"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[DonationSavedResponse](t, rec)
	assert.True(t, resp.Eligibility.IsEligible)
	assert.Equal(t, "12.50", *resp.Eligibility.ReclaimAmount)
	assert.True(t, resp.MissingDeclaration)

	rec = doJSON(t, router, http.MethodPost, "/api/donations/4/saved", DonationSavedRequest{Action: "delete"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/donations/404/saved", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestComputeEligibility_ExplicitChoice(t *testing.T) {
	h, router := setupTestHandler(t)
	seedDonation(t, h, 4, 7, generic.Date(2021, time.January, 10), "50.00")

	no := false
	rec := doJSON(t, router, http.MethodPost, "/api/donations/4/eligibility", ComputeEligibilityRequest{Eligible: &no})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[EligibilityDTO](t, rec)
	assert.False(t, res.IsEligible)
	assert.Nil(t, res.ReclaimAmount)

	// Without a body the stored NO is honoured
	rec = doJSON(t, router, http.MethodPost, "/api/donations/4/eligibility", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[EligibilityDTO](t, rec).IsEligible)

	rec = doJSON(t, router, http.MethodPost, "/api/donations/4/eligibility", ComputeEligibilityRequest{Recalculate: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[EligibilityDTO](t, rec).IsEligible)
}

func TestDonorContributions(t *testing.T) {
	h, router := setupTestHandler(t)
	seedDonation(t, h, 1, 7, generic.Date(2015, time.June, 1), "10.00") // more than four years back
	seedDonation(t, h, 2, 7, generic.Date(2018, time.June, 1), "20.00")
	seedDonation(t, h, 3, 7, generic.Date(2020, time.June, 1), "30.00")

	rec := doJSON(t, router, http.MethodPost, "/api/donors/7/declarations",
		ApplyDeclarationRequest{Status: "yes_past_4_years", StartDate: "2021-01-01"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/donors/7/contributions", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ids []int64
	for _, d := range decode[[]DonationDTO](t, rec) {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []int64{2, 3}, ids)

	rec = doJSON(t, router, http.MethodGet, "/api/donors/7/contributions?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// BATCHES
// =============================================================================

func TestBatches_Lifecycle(t *testing.T) {
	// GIVEN: A covered completed donation, a pending one and an uncovered one
	h, router := setupTestHandler(t)
	rec := doJSON(t, router, http.MethodPost, "/api/donors/7/declarations",
		ApplyDeclarationRequest{Status: "yes", StartDate: "2020-01-01"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	seedDonation(t, h, 1, 7, generic.Date(2020, time.June, 1), "100.00")
	pending := scenarioDonation(2, 7, generic.Date(2020, time.July, 1), "10.00")
	pending.Status = giftaid.DonationPending
	require.NoError(t, h.Store.SaveDonation(context.Background(), pending))
	seedDonation(t, h, 3, 7, generic.Date(2019, time.June, 1), "5.00")
	seedDonation(t, h, 4, 7, generic.Date(2020, time.August, 1), "8.00")

	rec = doJSON(t, router, http.MethodPost, "/api/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.ElementsMatch(t, []giftaid.DonationID{1, 2, 3, 4}, decode[ReconcileResponse](t, rec).Updated)

	// WHEN: Previewing and creating a batch
	rec = doJSON(t, router, http.MethodPost, "/api/batches/validate", DonationIDsRequest{DonationIDs: []giftaid.DonationID{1, 2, 3}})
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decode[giftaid.BatchPreview](t, rec)
	assert.Equal(t, []giftaid.DonationID{1}, preview.Addable)
	assert.Equal(t, []giftaid.DonationID{2, 3}, preview.NotValid)

	rec = doJSON(t, router, http.MethodPost, "/api/batches", CreateBatchRequest{Title: "Spring", DonationIDs: []giftaid.DonationID{1, 2, 3}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[CreateBatchResponse](t, rec)

	// THEN: Only the valid donation went in, with the settings snapshot
	assert.Equal(t, "spring", created.Batch.Name)
	assert.Equal(t, []giftaid.DonationID{1}, created.Result.Added)
	assert.Equal(t, []giftaid.DonationID{2, 3}, created.Result.Rejected)

	batchPath := fmt.Sprintf("/api/batches/%d", created.Batch.ID)
	rec = doJSON(t, router, http.MethodGet, batchPath, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	detail := decode[BatchDetailDTO](t, rec)
	assert.Equal(t, []giftaid.DonationID{1}, detail.DonationIDs)
	require.NotNil(t, detail.Settings)
	assert.Equal(t, "20", *detail.Settings.BasicTaxRate)
	assert.False(t, detail.Submitted)

	rec = doJSON(t, router, http.MethodGet, "/api/donations/1", nil)
	assert.Equal(t, "Spring", decode[DonationDTO](t, rec).BatchName)

	rec = doJSON(t, router, http.MethodGet, "/api/batches/names", nil)
	assert.Equal(t, []string{"Spring"}, decode[[]string](t, rec))

	// A batch with nothing valid is refused and leaves no trace
	rec = doJSON(t, router, http.MethodPost, "/api/batches", CreateBatchRequest{Title: "Empty", DonationIDs: []giftaid.DonationID{3}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	rec = doJSON(t, router, http.MethodGet, "/api/batches/names", nil)
	assert.Equal(t, []string{"Spring"}, decode[[]string](t, rec))

	// WHEN: The batch is submitted
	rec = doJSON(t, router, http.MethodPost, batchPath+"/submitted", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: It can neither grow nor shrink
	rec = doJSON(t, router, http.MethodPost, batchPath+"/donations", DonationIDsRequest{DonationIDs: []giftaid.DonationID{4}})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/api/batches/remove/validate", DonationIDsRequest{DonationIDs: []giftaid.DonationID{1, 4}})
	require.Equal(t, http.StatusOK, rec.Code)
	plan := decode[giftaid.RemovalResult](t, rec)
	assert.Equal(t, []giftaid.DonationID{1}, plan.AlreadySubmitted)
	assert.Equal(t, []giftaid.DonationID{4}, plan.NotInBatch)

	rec = doJSON(t, router, http.MethodPost, "/api/batches/remove", DonationIDsRequest{DonationIDs: []giftaid.DonationID{1}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[giftaid.RemovalResult](t, rec).Removed)

	rec = doJSON(t, router, http.MethodGet, batchPath, nil)
	assert.True(t, decode[BatchDetailDTO](t, rec).Submitted)

	rec = doJSON(t, router, http.MethodPost, "/api/batches/99/submitted", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatches_AddAndRemove(t *testing.T) {
	h, router := setupTestHandler(t)
	rec := doJSON(t, router, http.MethodPost, "/api/donors/7/declarations",
		ApplyDeclarationRequest{Status: "yes", StartDate: "2020-01-01"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	seedDonation(t, h, 1, 7, generic.Date(2020, time.June, 1), "100.00")
	seedDonation(t, h, 2, 7, generic.Date(2020, time.July, 1), "50.00")

	rec = doJSON(t, router, http.MethodPost, "/api/batches", CreateBatchRequest{DonationIDs: []giftaid.DonationID{1}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[CreateBatchResponse](t, rec)
	assert.Contains(t, created.Batch.Title, "GiftAid 2021-03-01")

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/batches/%d/donations", created.Batch.ID),
		DonationIDsRequest{DonationIDs: []giftaid.DonationID{1, 2}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[giftaid.BatchResult](t, rec)
	assert.Equal(t, []giftaid.DonationID{2}, res.Added)
	assert.Equal(t, []giftaid.DonationID{1}, res.Rejected)

	rec = doJSON(t, router, http.MethodPost, "/api/batches/remove", DonationIDsRequest{DonationIDs: []giftaid.DonationID{2}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []giftaid.DonationID{2}, decode[giftaid.RemovalResult](t, rec).Removed)

	rec = doJSON(t, router, http.MethodGet, "/api/donations/2", nil)
	assert.Empty(t, decode[DonationDTO](t, rec).BatchName)

	rec = doJSON(t, router, http.MethodPost, "/api/batches/42/donations", DonationIDsRequest{DonationIDs: []giftaid.DonationID{2}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSettings_UpdateAndRevert(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := doJSON(t, router, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	s := decode[SettingsDTO](t, rec)
	assert.True(t, s.GloballyEnabled)
	assert.Empty(t, s.FinancialTypesEnabled)
	assert.Equal(t, "20", *s.BasicTaxRate)

	rec = doJSON(t, router, http.MethodPut, "/api/settings", map[string]any{
		"globally_enabled":        false,
		"financial_types_enabled": []int{1, 4},
		"basic_tax_rate":          "17.5",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s = decode[SettingsDTO](t, rec)
	assert.False(t, s.GloballyEnabled)
	assert.Equal(t, []giftaid.FinancialTypeID{1, 4}, s.FinancialTypesEnabled)
	assert.Equal(t, "17.5", *s.BasicTaxRate)

	// One bad value rejects the whole update
	rec = doJSON(t, router, http.MethodPut, "/api/settings", map[string]any{
		"globally_enabled": true,
		"basic_tax_rate":   150,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, router, http.MethodGet, "/api/settings", nil)
	assert.False(t, decode[SettingsDTO](t, rec).GloballyEnabled)

	rec = doJSON(t, router, http.MethodPut, "/api/settings", map[string]any{"colour": "blue"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Reverting the tax rate leaves batching unconfigured
	rec = doJSON(t, router, http.MethodDelete, "/api/settings/basic_tax_rate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, decode[SettingsDTO](t, rec).BasicTaxRate)

	rec = doJSON(t, router, http.MethodPost, "/api/batches", CreateBatchRequest{Title: "X", DonationIDs: []giftaid.DonationID{1}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodDelete, "/api/settings/colour", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// HELPERS
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &generic.ValidationError{Field: "x", Message: "bad"}, http.StatusBadRequest},
		{"invalid window", generic.ErrInvalidWindow, http.StatusBadRequest},
		{"empty batch", generic.ErrEmptyBatch, http.StatusBadRequest},
		{"not found", generic.NewNotFound("donation", 1), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("load: %w", generic.NewNotFound("batch", 2)), http.StatusNotFound},
		{"submitted", fmt.Errorf("batch 3: %w", generic.ErrBatchSubmitted), http.StatusConflict},
		{"configuration", &generic.ConfigurationError{Setting: "basic_tax_rate"}, http.StatusServiceUnavailable},
		{"storage", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestRawSettingValue(t *testing.T) {
	assert.Equal(t, "17.5", rawSettingValue(json.RawMessage(`"17.5"`)))
	assert.Equal(t, "true", rawSettingValue(json.RawMessage(`true`)))
	assert.Equal(t, "[1,4]", rawSettingValue(json.RawMessage(`[1,4]`)))
}
