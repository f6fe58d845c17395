/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	Gift Aid data for testing and demos. Each scenario creates donors,
	addresses, donations and declarations that demonstrate one feature
	of the engine.

AVAILABLE SCENARIOS:

	timeline:        YES, then NO, then YES again for one donor
	retroactive:     "yes, and the past four years" reaching back to old gifts
	split-donation:  Only some financial types count towards the claim
	batch-ready:     Eligible, pending and uncovered donations batched together
	locked-donation: A batched, submitted donation survives a later NO

HOW SCENARIOS WORK:
 1. Reset database (clear all data, keep the basic tax rate)
 2. Save donor addresses and donations
 3. Apply declarations through the service, oldest first
 4. Reconcile so every donation carries its Gift Aid fields

	Dates are relative to the service clock, so a scenario looks the same
	whenever it is loaded.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "timeline"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add it to the loaders map

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: the endpoints used to inspect a loaded scenario
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/giftaid/generic"
	"github.com/warp/giftaid/giftaid"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "timeline",
		Name:        "Changing Mind",
		Description: "Donor says YES, then NO a year later, then YES again; donations in each window",
	},
	{
		ID:          "retroactive",
		Name:        "Past Four Years",
		Description: "A retroactive declaration covers gifts up to four years old but not older",
	},
	{
		ID:          "split-donation",
		Name:        "Split Donation",
		Description: "Gift Aid limited to one financial type; a mixed donation claims only its share",
	},
	{
		ID:          "batch-ready",
		Name:        "Batch Ready",
		Description: "Two donors with donations in several states, batched in one go",
	},
	{
		ID:          "locked-donation",
		Name:        "Locked Donation",
		Description: "A donation in a submitted batch keeps its Gift Aid fields after the donor withdraws",
	},
}

// Donor IDs used by the scenarios.
const (
	donorTimeline    giftaid.DonorID = 101
	donorRetroactive giftaid.DonorID = 102
	donorSplit       giftaid.DonorID = 103
	donorBatchA      giftaid.DonorID = 104
	donorBatchB      giftaid.DonorID = 105
	donorLocked      giftaid.DonorID = 106
)

// Financial types used by the scenarios.
const (
	typeDonation giftaid.FinancialTypeID = 1
	typeEventFee giftaid.FinancialTypeID = 4
)

const (
	demoTaxRate   = "20"
	demoSourceWeb = "Online donation form"
)

func (h *Handler) scenarioLoaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"timeline":        h.loadTimelineScenario,
		"retroactive":     h.loadRetroactiveScenario,
		"split-donation":  h.loadSplitDonationScenario,
		"batch-ready":     h.loadBatchReadyScenario,
		"locked-donation": h.loadLockedDonationScenario,
	}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.resetForScenario(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resetForScenario clears the data and puts the financial-type settings
// back to their defaults. A configured basic tax rate is kept.
func (h *Handler) resetForScenario(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	return h.Store.WithTx(ctx, func(ctx context.Context, tx giftaid.Repository) error {
		for _, key := range []string{giftaid.SettingGloballyEnabled, giftaid.SettingFinancialTypesEnabled} {
			if err := tx.RevertSetting(ctx, key); err != nil {
				return err
			}
		}
		if _, ok, err := tx.GetSetting(ctx, giftaid.SettingBasicTaxRate); err != nil || ok {
			return err
		}
		return tx.SetSetting(ctx, giftaid.SettingBasicTaxRate, demoTaxRate)
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadTimelineScenario(ctx context.Context) error {
	now := generic.StartOfDay(h.now())

	if err := h.seedAddress(ctx, donorTimeline, "12 Acacia Avenue", "London", "sw1a1aa"); err != nil {
		return err
	}
	donations := []giftaid.Donation{
		scenarioDonation(1001, donorTimeline, now.AddDate(-1, -6, 0), "50.00"), // first YES
		scenarioDonation(1002, donorTimeline, now.AddDate(0, -6, 0), "30.00"),  // during NO
		scenarioDonation(1003, donorTimeline, now.AddDate(0, -1, 0), "25.00"),  // second YES
	}
	if err := h.seedDonations(ctx, donations...); err != nil {
		return err
	}

	for _, ev := range []giftaid.DeclarationEvent{
		{DonorID: donorTimeline, Status: giftaid.StatusYes, StartDate: now.AddDate(-2, 0, 0), Source: demoSourceWeb},
		{DonorID: donorTimeline, Status: giftaid.StatusNo, StartDate: now.AddDate(-1, 0, 0), Source: "Phone call"},
		{DonorID: donorTimeline, Status: giftaid.StatusYes, StartDate: now.AddDate(0, -3, 0), Source: demoSourceWeb},
	} {
		if err := h.Service.ApplyDeclaration(ctx, ev); err != nil {
			return err
		}
	}
	return h.reconcileAll(ctx)
}

func (h *Handler) loadRetroactiveScenario(ctx context.Context) error {
	now := generic.StartOfDay(h.now())

	if err := h.seedAddress(ctx, donorRetroactive, "3 Mill Lane", "Edinburgh", "EH1 2NG"); err != nil {
		return err
	}
	if err := h.seedDonations(ctx,
		scenarioDonation(2001, donorRetroactive, now.AddDate(-5, 0, 0), "100.00"), // too old
		scenarioDonation(2002, donorRetroactive, now.AddDate(-3, 0, 0), "40.00"),
		scenarioDonation(2003, donorRetroactive, now.AddDate(0, -2, 0), "15.00"),
	); err != nil {
		return err
	}

	err := h.Service.ApplyDeclaration(ctx, giftaid.DeclarationEvent{
		DonorID:   donorRetroactive,
		Status:    giftaid.StatusYesRetroactive4Y,
		StartDate: now,
		Source:    "Paper declaration",
	})
	if err != nil {
		return err
	}
	return h.reconcileAll(ctx)
}

func (h *Handler) loadSplitDonationScenario(ctx context.Context) error {
	now := generic.StartOfDay(h.now())

	err := h.Store.WithTx(ctx, func(ctx context.Context, tx giftaid.Repository) error {
		if err := tx.SetSetting(ctx, giftaid.SettingGloballyEnabled, "0"); err != nil {
			return err
		}
		return tx.SetSetting(ctx, giftaid.SettingFinancialTypesEnabled, fmt.Sprintf("[%d]", typeDonation))
	})
	if err != nil {
		return err
	}

	mixed := scenarioDonation(3001, donorSplit, now.AddDate(0, -1, 0), "100.00")
	mixed.LineItems = []giftaid.LineItem{
		{FinancialType: typeDonation, Amount: generic.MustParseDecimal("60.00")},
		{FinancialType: typeEventFee, Amount: generic.MustParseDecimal("40.00")},
	}
	fee := scenarioDonation(3002, donorSplit, now.AddDate(0, -1, 0), "35.00")
	fee.FinancialType = typeEventFee
	if err := h.seedDonations(ctx, mixed, fee); err != nil {
		return err
	}

	err = h.Service.ApplyDeclaration(ctx, giftaid.DeclarationEvent{
		DonorID:   donorSplit,
		Status:    giftaid.StatusYes,
		StartDate: now.AddDate(-1, 0, 0),
		Source:    demoSourceWeb,
		Address:   "Flat 2, 8 Queen Street, Cardiff",
		PostCode:  "CF10 2BU",
	})
	if err != nil {
		return err
	}
	return h.reconcileAll(ctx)
}

func (h *Handler) loadBatchReadyScenario(ctx context.Context) error {
	now := generic.StartOfDay(h.now())

	for _, donor := range []giftaid.DonorID{donorBatchA, donorBatchB} {
		if err := h.seedAddress(ctx, donor, fmt.Sprintf("%d High Street", donor), "Leeds", "LS1 4AP"); err != nil {
			return err
		}
		err := h.Service.ApplyDeclaration(ctx, giftaid.DeclarationEvent{
			DonorID:   donor,
			Status:    giftaid.StatusYes,
			StartDate: now.AddDate(-1, 0, 0),
			Source:    demoSourceWeb,
		})
		if err != nil {
			return err
		}
	}

	pending := scenarioDonation(4003, donorBatchA, now.AddDate(0, 0, -2), "20.00")
	pending.Status = giftaid.DonationPending
	if err := h.seedDonations(ctx,
		scenarioDonation(4001, donorBatchA, now.AddDate(0, -4, 0), "80.00"),
		scenarioDonation(4002, donorBatchB, now.AddDate(0, -2, 0), "12.50"),
		pending,
		scenarioDonation(4004, donorBatchB, now.AddDate(-2, 0, 0), "60.00"), // before the declaration
	); err != nil {
		return err
	}
	if err := h.reconcileAll(ctx); err != nil {
		return err
	}

	_, _, err := h.Service.CreateBatch(ctx, giftaid.NewBatch{
		Title:       "Demo claim " + now.Format("2006-01"),
		Description: "Created by the batch-ready scenario",
	}, []giftaid.DonationID{4001, 4002, 4003, 4004})
	return err
}

func (h *Handler) loadLockedDonationScenario(ctx context.Context) error {
	now := generic.StartOfDay(h.now())

	if err := h.seedAddress(ctx, donorLocked, "7 Harbour Road", "Plymouth", "PL1 3DE"); err != nil {
		return err
	}
	if err := h.seedDonations(ctx,
		scenarioDonation(5001, donorLocked, now.AddDate(0, -8, 0), "200.00"),
		scenarioDonation(5002, donorLocked, now.AddDate(0, -5, 0), "20.00"),
	); err != nil {
		return err
	}
	err := h.Service.ApplyDeclaration(ctx, giftaid.DeclarationEvent{
		DonorID:   donorLocked,
		Status:    giftaid.StatusYes,
		StartDate: now.AddDate(-1, 0, 0),
		Source:    demoSourceWeb,
	})
	if err != nil {
		return err
	}
	if err := h.reconcileAll(ctx); err != nil {
		return err
	}

	b, _, err := h.Service.CreateBatch(ctx, giftaid.NewBatch{Title: "Submitted claim"}, []giftaid.DonationID{5001})
	if err != nil {
		return err
	}
	if err := h.Store.MarkSubmitted(ctx, b.ID, now.AddDate(0, 0, -7)); err != nil {
		return err
	}

	// The donor withdraws back to before both gifts and both are marked
	// not eligible; the submitted one is locked and keeps its fields.
	err = h.Service.ApplyDeclaration(ctx, giftaid.DeclarationEvent{
		DonorID:   donorLocked,
		Status:    giftaid.StatusNo,
		StartDate: now.AddDate(0, -9, 0),
		Source:    "Phone call",
	})
	if err != nil {
		return err
	}
	notEligible := false
	for _, id := range []giftaid.DonationID{5001, 5002} {
		if _, err := h.Service.ComputeEligibility(ctx, id, giftaid.EligibilityOptions{Eligible: &notEligible}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func scenarioDonation(id giftaid.DonationID, donor giftaid.DonorID, received time.Time, amount string) giftaid.Donation {
	return giftaid.Donation{
		ID:            id,
		DonorID:       donor,
		ReceiveDate:   received,
		Status:        giftaid.DonationCompleted,
		FinancialType: typeDonation,
		TotalAmount:   generic.MustParseDecimal(amount),
		Currency:      "GBP",
	}
}

func (h *Handler) seedDonations(ctx context.Context, donations ...giftaid.Donation) error {
	for _, d := range donations {
		if err := h.Store.SaveDonation(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedAddress(ctx context.Context, donor giftaid.DonorID, street, city, postcode string) error {
	return h.Store.SaveAddress(ctx, donor, giftaid.Address{
		Street:     street,
		City:       city,
		PostalCode: postcode,
	})
}

func (h *Handler) reconcileAll(ctx context.Context) error {
	_, err := h.Service.UpdateEligibleContributions(ctx, giftaid.ReconcileOptions{})
	return err
}
