/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract: statuses travel as
  names, dates as "YYYY-MM-DD HH:MM:SS" strings, money as decimal strings.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Declarations:
    DonorDTO, DeclarationDTO, ApplyDeclarationRequest, ValidateDeclarationsRequest,
    AddressDTO, AddressRequest

  Donations:
    DonationDTO, SaveDonationRequest, EligibilityDTO, EligibilityCheckDTO,
    ComputeEligibilityRequest, DonationSavedRequest

  Batches:
    BatchDTO, BatchDetailDTO, CreateBatchRequest, CreateBatchResponse,
    DonationIDsRequest, ReconcileRequest

  Settings:
    SettingsDTO, UpdateSettingsRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and the domain, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - giftaid/types.go: Domain types
*/
package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/giftaid/generic"
	"github.com/warp/giftaid/giftaid"
)

// =============================================================================
// DECLARATIONS
// =============================================================================

// DeclarationDTO represents a declaration in API responses.
type DeclarationDTO struct {
	ID          int64   `json:"id"`
	DonorID     int64   `json:"donor_id"`
	Status      string  `json:"status"`
	StartDate   *string `json:"start_date"`
	EndDate     *string `json:"end_date"`
	ReasonEnded string  `json:"reason_ended,omitempty"`
	Address     string  `json:"address,omitempty"`
	PostCode    string  `json:"post_code,omitempty"`
	Source      string  `json:"source,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	Charity     string  `json:"charity,omitempty"`
	Partial     bool    `json:"partial,omitempty"`
}

// DonorDTO is a donor with at least one declaration.
type DonorDTO struct {
	DonorID int64           `json:"donor_id"`
	Current *DeclarationDTO `json:"current"`
}

// ApplyDeclarationRequest is the body of POST /api/donors/{id}/declarations.
type ApplyDeclarationRequest struct {
	Status    string  `json:"status"`
	StartDate string  `json:"start_date"`
	EndDate   *string `json:"end_date,omitempty"`
	Source    string  `json:"source,omitempty"`
	Address   string  `json:"address,omitempty"`
	PostCode  string  `json:"post_code,omitempty"`
	Notes     string  `json:"notes,omitempty"`
	Charity   string  `json:"charity,omitempty"`
}

// DeclarationInputDTO is one edited row of a declarations form.
type DeclarationInputDTO struct {
	Key       string  `json:"key"`
	Status    string  `json:"status"`
	StartDate string  `json:"start_date"`
	EndDate   *string `json:"end_date,omitempty"`
}

// ValidateDeclarationsRequest is the body of POST .../declarations/validate.
type ValidateDeclarationsRequest struct {
	Declarations []DeclarationInputDTO `json:"declarations"`
}

// ValidateDeclarationsResponse lists warnings; empty means the set is clean.
type ValidateDeclarationsResponse struct {
	Warnings []generic.FieldWarning `json:"warnings"`
}

// AddressDTO is the address reported to the tax authority for a donor.
type AddressDTO struct {
	DeclarationID int64  `json:"declaration_id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Address       string `json:"address"`
	PostCode      string `json:"post_code"`
	HouseNumber   string `json:"house_number"`
}

// =============================================================================
// DONATIONS
// =============================================================================

// EligibilityDTO is the outcome of computing a donation's Gift Aid fields.
type EligibilityDTO struct {
	DonationID     int64   `json:"donation_id"`
	IsEligible     bool    `json:"is_eligible"`
	EligibleAmount *string `json:"eligible_amount"`
	ReclaimAmount  *string `json:"reclaim_amount"`
	Locked         bool    `json:"locked"`
}

// EligibilityCheckDTO answers "does a declaration cover this donation".
type EligibilityCheckDTO struct {
	DonationID  int64           `json:"donation_id"`
	Eligible    bool            `json:"eligible"`
	Declaration *DeclarationDTO `json:"declaration"`
}

// ComputeEligibilityRequest is the body of POST /api/donations/{id}/eligibility.
type ComputeEligibilityRequest struct {
	Eligible    *bool `json:"eligible,omitempty"`
	Recalculate bool  `json:"recalculate,omitempty"`
}

// DonationSavedRequest is sent by the host after it wrote a donation.
type DonationSavedRequest struct {
	Action            string `json:"action"`
	Eligible          *bool  `json:"eligible,omitempty"`
	DeclarationStatus string `json:"declaration_status,omitempty"`
	Source            string `json:"source,omitempty"`
}

// DonationSavedResponse reports what the hook did.
type DonationSavedResponse struct {
	Eligibility        EligibilityDTO `json:"eligibility"`
	MissingDeclaration bool           `json:"missing_declaration"`
}

// LineItemDTO is one financial-type share of a donation.
type LineItemDTO struct {
	FinancialType int64  `json:"financial_type_id"`
	Amount        string `json:"amount"`
}

// SaveDonationRequest is the body of PUT /api/donations/{id}. Donations
// belong to the host; this seeds a standalone deployment.
type SaveDonationRequest struct {
	DonorID       int64         `json:"donor_id"`
	ReceiveDate   string        `json:"receive_date"`
	Status        string        `json:"status"`
	FinancialType int64         `json:"financial_type_id"`
	TotalAmount   string        `json:"total_amount"`
	Currency      string        `json:"currency,omitempty"`
	RecurringID   int64         `json:"recurring_id,omitempty"`
	LineItems     []LineItemDTO `json:"line_items,omitempty"`

	// Captured on the saving form and handed to the donation-saved hook.
	Eligible          *bool  `json:"eligible,omitempty"`
	DeclarationStatus string `json:"declaration_status,omitempty"`
	Source            string `json:"source,omitempty"`
}

// AddressRequest is the body of PUT /api/donors/{id}/address.
type AddressRequest struct {
	Name          string `json:"name,omitempty"`
	Street        string `json:"street"`
	Supplemental1 string `json:"supplemental_address_1,omitempty"`
	Supplemental2 string `json:"supplemental_address_2,omitempty"`
	City          string `json:"city,omitempty"`
	StateProvince string `json:"state_province,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
}

// DonationDTO is a donation as listed in contribution history.
type DonationDTO struct {
	ID            int64   `json:"id"`
	DonorID       int64   `json:"donor_id"`
	ReceiveDate   string  `json:"receive_date"`
	Status        string  `json:"status"`
	FinancialType int64   `json:"financial_type_id"`
	TotalAmount   string  `json:"total_amount"`
	Currency      string  `json:"currency"`
	IsEligible    *bool   `json:"is_eligible"`
	ReclaimAmount *string `json:"reclaim_amount"`
	BatchName     string  `json:"batch_name,omitempty"`
}

// =============================================================================
// BATCHES
// =============================================================================

// BatchDTO represents a batch in API responses.
type BatchDTO struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	BatchType   string `json:"batch_type"`
	CreatedAt   string `json:"created_at"`
}

// BatchDetailDTO is a batch with its donations and settings snapshot.
type BatchDetailDTO struct {
	BatchDTO
	DonationIDs []giftaid.DonationID `json:"donation_ids"`
	Settings    *SettingsDTO         `json:"settings,omitempty"`
	Submitted   bool                 `json:"submitted"`
}

// CreateBatchRequest is the body of POST /api/batches.
type CreateBatchRequest struct {
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
	DonationIDs []giftaid.DonationID `json:"donation_ids"`
}

// CreateBatchResponse is the created batch and what went into it.
type CreateBatchResponse struct {
	Batch  BatchDTO            `json:"batch"`
	Result giftaid.BatchResult `json:"result"`
}

// DonationIDsRequest carries a selection of donations.
type DonationIDsRequest struct {
	DonationIDs []giftaid.DonationID `json:"donation_ids"`
}

// ReconcileRequest is the body of POST /api/reconcile.
type ReconcileRequest struct {
	DonationID  giftaid.DonationID `json:"donation_id,omitempty"`
	Limit       int                `json:"limit,omitempty"`
	Recalculate bool               `json:"recalculate,omitempty"`
}

// ReconcileResponse lists the donations whose fields were written.
type ReconcileResponse struct {
	Updated []giftaid.DonationID `json:"updated"`
}

// =============================================================================
// SETTINGS
// =============================================================================

// SettingsDTO represents the effective settings.
type SettingsDTO struct {
	GloballyEnabled       bool                      `json:"globally_enabled"`
	FinancialTypesEnabled []giftaid.FinancialTypeID `json:"financial_types_enabled"`
	BasicTaxRate          *string                   `json:"basic_tax_rate"`
}

// UpdateSettingsRequest maps setting keys to raw values. Values may be
// JSON strings, booleans, numbers or arrays.
type UpdateSettingsRequest map[string]json.RawMessage

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toDeclarationDTO(d giftaid.Declaration) DeclarationDTO {
	return DeclarationDTO{
		ID:          int64(d.ID),
		DonorID:     int64(d.DonorID),
		Status:      d.Status.String(),
		StartDate:   formatTimePtr(d.StartDate),
		EndDate:     formatTimePtr(d.EndDate),
		ReasonEnded: d.ReasonEnded,
		Address:     d.Address,
		PostCode:    d.PostCode,
		Source:      d.Source,
		Notes:       d.Notes,
		Charity:     d.Charity,
		Partial:     d.IsPartial(),
	}
}

func toDeclarationDTOs(decls []giftaid.Declaration) []DeclarationDTO {
	dtos := make([]DeclarationDTO, len(decls))
	for i, d := range decls {
		dtos[i] = toDeclarationDTO(d)
	}
	return dtos
}

func toEligibilityDTO(r giftaid.EligibilityResult) EligibilityDTO {
	return EligibilityDTO{
		DonationID:     int64(r.DonationID),
		IsEligible:     r.IsEligible,
		EligibleAmount: formatMoney(r.EligibleAmount),
		ReclaimAmount:  formatMoney(r.ReclaimAmount),
		Locked:         r.Locked,
	}
}

func toDonationDTO(d giftaid.Donation) DonationDTO {
	return DonationDTO{
		ID:            int64(d.ID),
		DonorID:       int64(d.DonorID),
		ReceiveDate:   generic.FormatTimestamp(d.ReceiveDate),
		Status:        string(d.Status),
		FinancialType: int64(d.FinancialType),
		TotalAmount:   d.TotalAmount.StringFixed(generic.CurrencyPlaces),
		Currency:      d.Currency,
		IsEligible:    d.IsEligible,
		ReclaimAmount: formatMoney(d.ReclaimAmount),
		BatchName:     d.BatchName,
	}
}

func toBatchDTO(b giftaid.Batch) BatchDTO {
	return BatchDTO{
		ID:          int64(b.ID),
		Name:        b.Name,
		Title:       b.Title,
		Description: b.Description,
		BatchType:   b.BatchType,
		CreatedAt:   b.CreatedAt.Format(time.RFC3339),
	}
}

func toSettingsDTO(s giftaid.Settings) SettingsDTO {
	types := s.FinancialTypesEnabled
	if types == nil {
		types = []giftaid.FinancialTypeID{}
	}
	return SettingsDTO{
		GloballyEnabled:       s.GloballyEnabled,
		FinancialTypesEnabled: types,
		BasicTaxRate:          formatRate(s.BasicTaxRate),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := generic.FormatTimestamp(*t)
	return &s
}

func formatMoney(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(generic.CurrencyPlaces)
	return &s
}

func formatRate(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// rawSettingValue unquotes JSON strings and passes anything else through
// as its JSON text ("true", "20", "[1,4]").
func rawSettingValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
