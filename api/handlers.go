/*
handlers.go - HTTP API handlers for the Gift Aid engine

PURPOSE:
  Exposes the Gift Aid engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the giftaid.Service.

ENDPOINTS:
  Donors:
    GET    /api/donors                              Donors with a declaration
    GET    /api/donors/{id}/declarations            Declaration timeline
    POST   /api/donors/{id}/declarations            Apply a declaration
    GET    /api/donors/{id}/declarations/current    Declaration in force (?at=)
    GET    /api/donors/{id}/declarations/eligible   Declaration covering a date (?date=)
    POST   /api/donors/{id}/declarations/validate   Warnings for an edited set
    GET    /api/donors/{id}/address                 Submission address (?date=)
    PUT    /api/donors/{id}/address                 Primary address
    GET    /api/donors/{id}/contributions           Donations a declaration can cover

  Donations:
    GET    /api/donations/{id}                      Donation and Gift Aid fields
    PUT    /api/donations/{id}                      Save donation, run the saved hook
    GET    /api/donations/{id}/eligibility          Is it covered (no write)
    POST   /api/donations/{id}/eligibility          Compute and store Gift Aid fields
    POST   /api/donations/{id}/saved                Donation-saved hook

  Batches:
    POST   /api/batches                             Create batch with donations
    GET    /api/batches/names                       Batch-name option set
    POST   /api/batches/validate                    Preview an add
    POST   /api/batches/remove                      Remove donations from batches
    POST   /api/batches/remove/validate             Preview a removal
    GET    /api/batches/{id}                        Batch detail
    POST   /api/batches/{id}/donations              Add donations to a batch
    POST   /api/batches/{id}/submitted              Record online submission

  Admin:
    POST   /api/reconcile                           Bulk eligibility update
    GET    /api/settings                            Effective settings
    PUT    /api/settings                            Set settings
    DELETE /api/settings/{key}                      Revert a setting

ERROR HANDLING:
  Domain errors are mapped by statusFor:
  - 400: validation errors, invalid window, empty batch
  - 404: record not found
  - 409: batch already submitted
  - 503: missing or invalid configuration (basic tax rate)
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/giftaid/generic"
	"github.com/warp/giftaid/giftaid"
	"github.com/warp/giftaid/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Service *giftaid.Service

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler over the store and the service built on it.
func NewHandler(store *sqlite.Store, svc *giftaid.Service) *Handler {
	return &Handler{
		Store:   store,
		Service: svc,
	}
}

func (h *Handler) now() time.Time {
	if h.Service.Clock == nil {
		return generic.SystemClock{}.Now()
	}
	return h.Service.Clock.Now()
}

// donationWriter is implemented by repositories that can hold donations
// themselves (standalone deployments and demos).
type donationWriter interface {
	SaveDonation(ctx context.Context, d giftaid.Donation) error
}

// =============================================================================
// DONOR HANDLERS
// =============================================================================

// ListDonors returns donors having declarations with their current one.
// GET /api/donors
func (h *Handler) ListDonors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := h.Service.DonorsWithDeclarations(ctx)
	if err != nil {
		writeDomainError(w, "Failed to list donors", err)
		return
	}
	current, err := h.Service.CurrentDeclarations(ctx, ids)
	if err != nil {
		writeDomainError(w, "Failed to resolve declarations", err)
		return
	}

	dtos := make([]DonorDTO, len(ids))
	for i, id := range ids {
		dtos[i] = DonorDTO{DonorID: int64(id)}
		if d, ok := current[id]; ok {
			dto := toDeclarationDTO(d)
			dtos[i].Current = &dto
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListDeclarations returns the donor's full timeline.
// GET /api/donors/{id}/declarations
func (h *Handler) ListDeclarations(w http.ResponseWriter, r *http.Request) {
	donorID, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid donor id", err)
		return
	}
	decls, err := h.Service.Declarations(r.Context(), giftaid.DonorID(donorID))
	if err != nil {
		writeDomainError(w, "Failed to list declarations", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeclarationDTOs(decls))
}

// ApplyDeclaration merges a new declaration into the donor's timeline.
// POST /api/donors/{id}/declarations
func (h *Handler) ApplyDeclaration(w http.ResponseWriter, r *http.Request) {
	donorID, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid donor id", err)
		return
	}

	var req ApplyDeclarationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	status, err := giftaid.ParseStatus(req.Status)
	if err != nil {
		writeDomainError(w, "Invalid status", err)
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		writeDomainError(w, "Invalid start_date", err)
		return
	}
	end, err := parseOptionalDate("end_date", req.EndDate)
	if err != nil {
		writeDomainError(w, "Invalid end_date", err)
		return
	}

	ctx := r.Context()
	err = h.Service.ApplyDeclaration(ctx, giftaid.DeclarationEvent{
		DonorID:   giftaid.DonorID(donorID),
		Status:    status,
		StartDate: start,
		EndDate:   end,
		Source:    req.Source,
		Address:   req.Address,
		PostCode:  req.PostCode,
		Notes:     req.Notes,
		Charity:   req.Charity,
	})
	if err != nil {
		writeDomainError(w, "Failed to apply declaration", err)
		return
	}

	decls, err := h.Service.Declarations(ctx, giftaid.DonorID(donorID))
	if err != nil {
		writeDomainError(w, "Failed to list declarations", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeclarationDTOs(decls))
}

// CurrentDeclaration resolves the declaration in force at ?at= (default now).
// GET /api/donors/{id}/declarations/current
func (h *Handler) CurrentDeclaration(w http.ResponseWriter, r *http.Request) {
	h.resolveDeclaration(w, r, "at", h.Service.Resolve)
}

// EligibleDeclaration resolves the declaration covering a donation made
// at ?date= (default now).
// GET /api/donors/{id}/declarations/eligible
func (h *Handler) EligibleDeclaration(w http.ResponseWriter, r *http.Request) {
	h.resolveDeclaration(w, r, "date", h.Service.ResolveEligibility)
}

type resolveFunc func(ctx context.Context, donorID giftaid.DonorID, t time.Time) (*giftaid.Declaration, error)

func (h *Handler) resolveDeclaration(w http.ResponseWriter, r *http.Request, param string, resolve resolveFunc) {
	donorID, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid donor id", err)
		return
	}
	at, err := h.queryDate(r, param)
	if err != nil {
		writeDomainError(w, "Invalid "+param, err)
		return
	}

	d, err := resolve(r.Context(), giftaid.DonorID(donorID), at)
	if err != nil {
		writeDomainError(w, "Failed to resolve declaration", err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "No declaration in force", nil)
		return
	}
	writeJSON(w, http.StatusOK, toDeclarationDTO(*d))
}

// ValidateDeclarations checks an edited set of declarations.
// POST /api/donors/{id}/declarations/validate
func (h *Handler) ValidateDeclarations(w http.ResponseWriter, r *http.Request) {
	donorID, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid donor id", err)
		return
	}

	var req ValidateDeclarationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inputs := make([]giftaid.DeclarationInput, 0, len(req.Declarations))
	for i, in := range req.Declarations {
		key := in.Key
		if key == "" {
			key = strconv.Itoa(i)
		}
		status, err := giftaid.ParseStatus(in.Status)
		if err != nil {
			writeDomainError(w, "Invalid status", err)
			return
		}
		start, err := parseDate(key+".start_date", in.StartDate)
		if err != nil {
			writeDomainError(w, "Invalid start_date", err)
			return
		}
		end, err := parseOptionalDate(key+".end_date", in.EndDate)
		if err != nil {
			writeDomainError(w, "Invalid end_date", err)
			return
		}
		inputs = append(inputs, giftaid.DeclarationInput{Key: key, Status: status, StartDate: start, EndDate: end})
	}

	warnings, err := h.Service.ValidateDonorDeclarations(r.Context(), giftaid.DonorID(donorID), inputs)
	if err != nil {
		writeDomainError(w, "Failed to validate declarations", err)
		return
	}
	if warnings == nil {
		warnings = []generic.FieldWarning{}
	}
	writeJSON(w, http.StatusOK, ValidateDeclarationsResponse{Warnings: warnings})
}

// DonorAddress returns the address reported for a donation made at ?date=.
// GET /api/donors/{id}/address
func (h *Handler) DonorAddress(w http.ResponseWriter, r *http.Request) {
	donorID, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid donor id", err)
		return
	}
	at, err := h.queryDate(r, "date")
	if err != nil {
		writeDomainError(w, "Invalid date", err)
		return
	}

	addr, err := h.Service.DonorAddressAt(r.Context(), giftaid.DonorID(donorID), at)
	if err != nil {
		writeDomainError(w, "Failed to get address", err)
		return
	}
	if addr == nil {
		writeError(w, http.StatusNotFound, "No positive declaration covers the date", nil)
		return
	}
	writeJSON(w, http.StatusOK, AddressDTO{
		DeclarationID: int64(addr.DeclarationID),
		FirstName:     addr.FirstName,
		LastName:      addr.LastName,
		Address:       addr.Address,
		PostCode:      addr.PostCode,
		HouseNumber:   addr.HouseNumber,
	})
}

// SaveAddress sets the donor's primary address.
// PUT /api/donors/{id}/address
func (h *Handler) SaveAddress(w http.ResponseWriter, r *http.Request) {
	donorID, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid donor id", err)
		return
	}

	var req AddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a := giftaid.Address{
		Name:          req.Name,
		Street:        req.Street,
		Supplemental1: req.Supplemental1,
		Supplemental2: req.Supplemental2,
		City:          req.City,
		StateProvince: req.StateProvince,
		PostalCode:    req.PostalCode,
	}
	if err := h.Store.SaveAddress(r.Context(), giftaid.DonorID(donorID), a); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save address", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address":   giftaid.FormatAddress(a),
		"post_code": giftaid.FormatPostcode(a.PostalCode),
	})
}

// DonorContributions lists unbatched donations the donor's declarations
// can reach back to (four years before each start).
// GET /api/donors/{id}/contributions
func (h *Handler) DonorContributions(w http.ResponseWriter, r *http.Request) {
	donorID, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid donor id", err)
		return
	}
	limit := giftaid.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
	}

	ctx := r.Context()
	decls, err := h.Service.Declarations(ctx, giftaid.DonorID(donorID))
	if err != nil {
		writeDomainError(w, "Failed to list declarations", err)
		return
	}
	donations, err := h.Service.ContributionsByDeclarations(ctx, decls, limit)
	if err != nil {
		writeDomainError(w, "Failed to list contributions", err)
		return
	}

	dtos := make([]DonationDTO, len(donations))
	for i, d := range donations {
		dtos[i] = toDonationDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// DONATION HANDLERS
// =============================================================================

// GetDonation returns a donation with its Gift Aid fields.
// GET /api/donations/{id}
func (h *Handler) GetDonation(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid donation id", err)
		return
	}
	d, err := h.Service.Repo.GetDonation(r.Context(), giftaid.DonationID(id))
	if err != nil {
		writeDomainError(w, "Failed to get donation", err)
		return
	}
	writeJSON(w, http.StatusOK, toDonationDTO(*d))
}

// SaveDonation writes a donation and raises the donation-saved hook in
// the same transaction; the hook runs once the write is committed.
// PUT /api/donations/{id}
func (h *Handler) SaveDonation(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid donation id", err)
		return
	}

	var req SaveDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	d, err := donationFromRequest(giftaid.DonationID(id), req)
	if err != nil {
		writeDomainError(w, "Invalid donation", err)
		return
	}
	var declStatus *giftaid.Status
	if req.DeclarationStatus != "" {
		st, err := giftaid.ParseStatus(req.DeclarationStatus)
		if err != nil {
			writeDomainError(w, "Invalid declaration_status", err)
			return
		}
		declStatus = &st
	}

	ctx := r.Context()
	action := giftaid.DonationEdited
	existing, err := h.Store.GetDonation(ctx, d.ID)
	switch {
	case generic.IsNotFound(err):
		action = giftaid.DonationCreated
	case err != nil:
		writeDomainError(w, "Failed to get donation", err)
		return
	default:
		// Gift Aid fields belong to the engine, not the form.
		d.IsEligible = existing.IsEligible
		d.EligibleAmount = existing.EligibleAmount
		d.ReclaimAmount = existing.ReclaimAmount
		d.BatchName = existing.BatchName
	}

	err = h.Store.WithTx(ctx, func(ctx context.Context, tx giftaid.Repository) error {
		dw, ok := tx.(donationWriter)
		if !ok {
			return errors.New("repository cannot store donations")
		}
		if err := dw.SaveDonation(ctx, d); err != nil {
			return err
		}
		_, err := h.Service.OnDonationSaved(ctx, giftaid.DonationSaved{
			DonationID:        d.ID,
			Action:            action,
			Eligible:          req.Eligible,
			DeclarationStatus: declStatus,
			Source:            req.Source,
		})
		return err
	})
	if err != nil {
		writeDomainError(w, "Failed to save donation", err)
		return
	}

	saved, err := h.Store.GetDonation(ctx, d.ID)
	if err != nil {
		writeDomainError(w, "Failed to get donation", err)
		return
	}
	status := http.StatusOK
	if action == giftaid.DonationCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, toDonationDTO(*saved))
}

func donationFromRequest(id giftaid.DonationID, req SaveDonationRequest) (giftaid.Donation, error) {
	received, err := parseDate("receive_date", req.ReceiveDate)
	if err != nil {
		return giftaid.Donation{}, err
	}
	total, err := generic.ParseAmount(req.TotalAmount)
	if err != nil {
		return giftaid.Donation{}, &generic.ValidationError{Field: "total_amount", Message: err.Error()}
	}
	status := giftaid.DonationStatus(req.Status)
	if status == "" {
		status = giftaid.DonationCompleted
	}

	d := giftaid.Donation{
		ID:            id,
		DonorID:       giftaid.DonorID(req.DonorID),
		ReceiveDate:   received,
		Status:        status,
		FinancialType: giftaid.FinancialTypeID(req.FinancialType),
		TotalAmount:   total,
		Currency:      req.Currency,
		RecurringID:   req.RecurringID,
	}
	for i, li := range req.LineItems {
		amount, err := generic.ParseAmount(li.Amount)
		if err != nil {
			return giftaid.Donation{}, &generic.ValidationError{
				Field:   fmt.Sprintf("line_items.%d.amount", i),
				Message: err.Error(),
			}
		}
		d.LineItems = append(d.LineItems, giftaid.LineItem{
			FinancialType: giftaid.FinancialTypeID(li.FinancialType),
			Amount:        amount,
		})
	}
	return d, nil
}

// CheckEligibility reports whether a declaration covers the donation,
// without writing anything.
// GET /api/donations/{id}/eligibility
func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid donation id", err)
		return
	}

	ctx := r.Context()
	d, err := h.Service.Repo.GetDonation(ctx, giftaid.DonationID(id))
	if err != nil {
		writeDomainError(w, "Failed to get donation", err)
		return
	}
	eligible, err := h.Service.IsContributionEligible(ctx, *d)
	if err != nil {
		writeDomainError(w, "Failed to check eligibility", err)
		return
	}
	decl, err := h.Service.ResolveEligibility(ctx, d.DonorID, d.ReceiveDate)
	if err != nil {
		writeDomainError(w, "Failed to resolve declaration", err)
		return
	}

	resp := EligibilityCheckDTO{DonationID: id, Eligible: eligible}
	if decl != nil {
		dto := toDeclarationDTO(*decl)
		resp.Declaration = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// ComputeEligibility decides and stores the donation's Gift Aid fields.
// POST /api/donations/{id}/eligibility
func (h *Handler) ComputeEligibility(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid donation id", err)
		return
	}

	var req ComputeEligibilityRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Service.ComputeEligibility(r.Context(), giftaid.DonationID(id), giftaid.EligibilityOptions{
		Eligible:    req.Eligible,
		Recalculate: req.Recalculate,
	})
	if err != nil {
		writeDomainError(w, "Failed to compute eligibility", err)
		return
	}
	writeJSON(w, http.StatusOK, toEligibilityDTO(res))
}

// DonationSaved is called by the host after it wrote a donation.
// POST /api/donations/{id}/saved
func (h *Handler) DonationSaved(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid donation id", err)
		return
	}

	var req DonationSavedRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ev := giftaid.DonationSaved{
		DonationID: giftaid.DonationID(id),
		Eligible:   req.Eligible,
		Source:     req.Source,
	}
	switch giftaid.DonationAction(req.Action) {
	case giftaid.DonationCreated:
		ev.Action = giftaid.DonationCreated
	case giftaid.DonationEdited, "":
		ev.Action = giftaid.DonationEdited
	default:
		writeDomainError(w, "Invalid action", &generic.ValidationError{
			Field:   "action",
			Message: fmt.Sprintf("unknown action %q", req.Action),
		})
		return
	}
	if req.DeclarationStatus != "" {
		st, err := giftaid.ParseStatus(req.DeclarationStatus)
		if err != nil {
			writeDomainError(w, "Invalid declaration_status", err)
			return
		}
		ev.DeclarationStatus = &st
	}

	res, err := h.Service.OnDonationSaved(r.Context(), ev)
	if err != nil {
		writeDomainError(w, "Failed to process saved donation", err)
		return
	}
	writeJSON(w, http.StatusOK, DonationSavedResponse{
		Eligibility:        toEligibilityDTO(res.Eligibility),
		MissingDeclaration: res.MissingDeclaration,
	})
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// CreateBatch creates a batch holding the given donations.
// POST /api/batches
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, res, err := h.Service.CreateBatch(r.Context(), giftaid.NewBatch{
		Title:       req.Title,
		Description: req.Description,
	}, req.DonationIDs)
	if err != nil {
		writeDomainError(w, "Failed to create batch", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateBatchResponse{Batch: toBatchDTO(*b), Result: res})
}

// GetBatch returns a batch with its donations and settings snapshot.
// GET /api/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid batch id", err)
		return
	}
	batchID := giftaid.BatchID(id)

	ctx := r.Context()
	b, err := h.Store.GetBatch(ctx, batchID)
	if err != nil {
		writeDomainError(w, "Failed to get batch", err)
		return
	}
	ids, err := h.Store.BatchDonations(ctx, batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batch donations", err)
		return
	}
	submitted, err := h.Store.IsSubmitted(ctx, batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check submission", err)
		return
	}

	detail := BatchDetailDTO{BatchDTO: toBatchDTO(*b), DonationIDs: ids, Submitted: submitted}
	if detail.DonationIDs == nil {
		detail.DonationIDs = []giftaid.DonationID{}
	}
	snap, err := h.Store.GetBatchSettings(ctx, batchID)
	switch {
	case generic.IsNotFound(err):
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to get batch settings", err)
		return
	default:
		rate := snap.BasicTaxRate
		settings := toSettingsDTO(giftaid.Settings{
			GloballyEnabled:       snap.GloballyEnabled,
			FinancialTypesEnabled: snap.FinancialTypesEnabled,
			BasicTaxRate:          &rate,
		})
		detail.Settings = &settings
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListBatchNames returns the batch-name option set.
// GET /api/batches/names
func (h *Handler) ListBatchNames(w http.ResponseWriter, r *http.Request) {
	names, err := h.Store.BatchNames(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batch names", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// PreviewBatch reports which donations an add would accept.
// POST /api/batches/validate
func (h *Handler) PreviewBatch(w http.ResponseWriter, r *http.Request) {
	var req DonationIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	preview, err := h.Service.ValidateForBatch(r.Context(), req.DonationIDs)
	if err != nil {
		writeDomainError(w, "Failed to validate donations", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// AddToBatch adds donations to an existing batch.
// POST /api/batches/{id}/donations
func (h *Handler) AddToBatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid batch id", err)
		return
	}

	var req DonationIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Service.AddToBatch(r.Context(), req.DonationIDs, giftaid.BatchID(id))
	if err != nil {
		writeDomainError(w, "Failed to add donations", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RemoveFromBatch takes donations out of their batches.
// POST /api/batches/remove
func (h *Handler) RemoveFromBatch(w http.ResponseWriter, r *http.Request) {
	var req DonationIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	res, err := h.Service.RemoveFromBatch(r.Context(), req.DonationIDs)
	if err != nil {
		writeDomainError(w, "Failed to remove donations", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PreviewRemoval reports which donations a removal would take out.
// POST /api/batches/remove/validate
func (h *Handler) PreviewRemoval(w http.ResponseWriter, r *http.Request) {
	var req DonationIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	res, err := h.Service.ValidateForRemoval(r.Context(), req.DonationIDs)
	if err != nil {
		writeDomainError(w, "Failed to validate removal", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// MarkSubmitted records that the batch was sent to the tax authority.
// POST /api/batches/{id}/submitted
func (h *Handler) MarkSubmitted(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeDomainError(w, "Invalid batch id", err)
		return
	}
	if err := h.Store.MarkSubmitted(r.Context(), giftaid.BatchID(id), h.now()); err != nil {
		writeDomainError(w, "Failed to mark batch submitted", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_id": id, "status": "submitted"})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Reconcile recomputes eligibility of unbatched donations.
// POST /api/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	updated, err := h.Service.UpdateEligibleContributions(r.Context(), giftaid.ReconcileOptions{
		DonationID:  req.DonationID,
		Limit:       req.Limit,
		Recalculate: req.Recalculate,
	})
	if err != nil {
		writeDomainError(w, "Reconciliation failed", err)
		return
	}
	if updated == nil {
		updated = []giftaid.DonationID{}
	}
	writeJSON(w, http.StatusOK, ReconcileResponse{Updated: updated})
}

// GetSettings returns the effective settings.
// GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Service.Settings(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(s))
}

// UpdateSettings validates and stores every given setting, all or nothing.
// PUT /api/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	keys := make([]string, 0, len(req))
	for k := range req {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make(map[string]string, len(req))
	for _, k := range keys {
		v, err := giftaid.NormalizeSetting(k, rawSettingValue(req[k]))
		if err != nil {
			writeDomainError(w, "Invalid setting", err)
			return
		}
		values[k] = v
	}

	ctx := r.Context()
	err := h.Service.Repo.WithTx(ctx, func(ctx context.Context, tx giftaid.Repository) error {
		for _, k := range keys {
			if err := tx.SetSetting(ctx, k, values[k]); err != nil {
				return fmt.Errorf("set %s: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		writeDomainError(w, "Failed to save settings", err)
		return
	}
	h.GetSettings(w, r)
}

// RevertSetting drops a stored setting back to its default.
// DELETE /api/settings/{key}
func (h *Handler) RevertSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !knownSetting(key) {
		writeError(w, http.StatusBadRequest, "Unknown setting", fmt.Errorf("unknown setting %q", key))
		return
	}
	if err := h.Service.Repo.RevertSetting(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to revert setting", err)
		return
	}
	h.GetSettings(w, r)
}

func knownSetting(key string) bool {
	for _, k := range giftaid.KnownSettings {
		if k == key {
			return true
		}
	}
	return false
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the error's kind.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrBatchSubmitted):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsConfiguration(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeOptional decodes a JSON body that may be absent.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parseID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &generic.ValidationError{Field: param, Message: fmt.Sprintf("invalid id %q", raw)}
	}
	return id, nil
}

func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, &generic.ValidationError{Field: field, Message: field + " is required"}
	}
	t, err := generic.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, &generic.ValidationError{Field: field, Message: err.Error()}
	}
	return t, nil
}

func parseOptionalDate(field string, raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	t, err := parseDate(field, *raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// queryDate reads a date query parameter, defaulting to now.
func (h *Handler) queryDate(r *http.Request, param string) (time.Time, error) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return h.now(), nil
	}
	return parseDate(param, raw)
}
