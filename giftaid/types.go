/*
Package giftaid tracks UK Gift Aid declarations and the reclaim they unlock.

PURPOSE:
  A donor's declarations form a timeline of windows saying whether tax may
  be reclaimed on their donations. This package keeps that timeline
  non-overlapping as new declarations arrive, decides whether a donation
  is eligible, computes the reclaimable amount and groups eligible
  donations into submission batches.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status:      NO / YES / YES_RETROACTIVE_4Y (wire codes 0 / 1 / 3)
  - Declaration: one window of a donor's timeline
  - Donation:    a contribution plus its Gift Aid fields
  - Batch:       a named group of donations for submission
  - Settings:    globally enabled, enabled financial types, basic tax rate

INVARIANT:
  For a donor, no two declaration windows overlap. Partial stubs (no
  start date) are not part of the timeline.

SEE ALSO:
  - resolver.go:   which declaration governs a date
  - merge.go:      applying a new declaration to the timeline
  - calculator.go: eligibility + reclaim amount
  - batch.go:      batch assignment
*/
package giftaid

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/giftaid/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	DonorID         int64
	DeclarationID   int64
	DonationID      int64
	BatchID         int64
	FinancialTypeID int64
)

// =============================================================================
// STATUS - Declaration status with stable wire codes
// =============================================================================

type Status int

const (
	StatusNo               Status = 0
	StatusYes              Status = 1
	StatusYesRetroactive4Y Status = 3
)

// Truthy is true for both YES variants.
func (s Status) Truthy() bool {
	return s == StatusYes || s == StatusYesRetroactive4Y
}

func (s Status) Valid() bool {
	switch s {
	case StatusNo, StatusYes, StatusYesRetroactive4Y:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusNo:
		return "no"
	case StatusYes:
		return "yes"
	case StatusYesRetroactive4Y:
		return "yes_past_4_years"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus accepts either the name or the numeric wire code.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "no", "0":
		return StatusNo, nil
	case "yes", "1":
		return StatusYes, nil
	case "yes_past_4_years", "yes_retroactive_4y", "3":
		return StatusYesRetroactive4Y, nil
	}
	if n, err := strconv.Atoi(s); err == nil && Status(n).Valid() {
		return Status(n), nil
	}
	return 0, &generic.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", s)}
}

// Reasons recorded when a declaration is closed.
const (
	ReasonContactDeclined = "Contact Declined"
	ReasonHMRCDeclined    = "HMRC Declined"
)

// =============================================================================
// DECLARATION
// =============================================================================

// Declaration is one window of a donor's timeline. StartDate is nil only
// for partial stubs created by forms that collect the status before the
// rest of the details.
type Declaration struct {
	ID          DeclarationID
	DonorID     DonorID
	Status      Status
	StartDate   *time.Time
	EndDate     *time.Time // nil = open-ended
	ReasonEnded string
	Address     string // snapshot at time of declaration
	PostCode    string
	Source      string
	Notes       string
	Charity     string // honoured only when the store has the capability
}

// IsPartial reports whether this is a stub outside the timeline.
func (d Declaration) IsPartial() bool { return d.StartDate == nil }

// Window returns [StartDate, EndDate). Partial stubs return a zero window.
func (d Declaration) Window() generic.Window {
	if d.StartDate == nil {
		return generic.Window{}
	}
	return generic.Window{Start: *d.StartDate, End: d.EndDate}
}

// EligibilityWindow is the window used to decide whether a donation is
// covered: day-granular, and reaching four years further back for
// retroactive declarations.
func (d Declaration) EligibilityWindow() generic.Window {
	w := d.Window()
	if d.Status == StatusYesRetroactive4Y {
		w = w.ShiftStart(-4)
	}
	return w.Truncated()
}

// DeclarationUpdate patches selected fields of a stored declaration.
// Nil fields are left unchanged.
type DeclarationUpdate struct {
	Status      *Status
	StartDate   *time.Time
	EndDate     *time.Time
	ReasonEnded *string
}

// IsEmpty reports whether the update changes nothing.
func (u DeclarationUpdate) IsEmpty() bool {
	return u.Status == nil && u.StartDate == nil && u.EndDate == nil && u.ReasonEnded == nil
}

// Apply returns d with the update applied.
func (u DeclarationUpdate) Apply(d Declaration) Declaration {
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.StartDate != nil {
		d.StartDate = generic.TimePtr(*u.StartDate)
	}
	if u.EndDate != nil {
		d.EndDate = generic.TimePtr(*u.EndDate)
	}
	if u.ReasonEnded != nil {
		d.ReasonEnded = *u.ReasonEnded
	}
	return d
}

// DeclarationEvent is a new declaration arriving for a donor.
type DeclarationEvent struct {
	DonorID   DonorID
	Status    Status
	StartDate time.Time
	EndDate   *time.Time
	Source    string
	Address   string // derived from the donor's primary address when empty
	PostCode  string
	Notes     string
	Charity   string
}

// =============================================================================
// DONATION
// =============================================================================

type DonationStatus string

const (
	DonationCompleted DonationStatus = "Completed"
	DonationPending   DonationStatus = "Pending"
	DonationCancelled DonationStatus = "Cancelled"
	DonationRefunded  DonationStatus = "Refunded"
	DonationFailed    DonationStatus = "Failed"
)

// LineItem is one line of a donation, tagged with its financial type.
type LineItem struct {
	FinancialType FinancialTypeID
	Amount        decimal.Decimal
}

// Donation is a contribution and its Gift Aid fields.
type Donation struct {
	ID            DonationID
	DonorID       DonorID
	ReceiveDate   time.Time
	Status        DonationStatus
	FinancialType FinancialTypeID
	TotalAmount   decimal.Decimal
	Currency      string
	LineItems     []LineItem
	RecurringID   int64 // 0 when not part of a recurring series

	IsEligible     *bool // nil = not yet determined
	EligibleAmount *decimal.Decimal
	ReclaimAmount  *decimal.Decimal
	BatchName      string // "" = not in a batch
}

// Batched reports whether the donation is locked into a batch.
func (d Donation) Batched() bool { return d.BatchName != "" }

// Lines returns the donation's line items, or a single synthetic line
// carrying the total when the donation has no itemisation.
func (d Donation) Lines() []LineItem {
	if len(d.LineItems) > 0 {
		return d.LineItems
	}
	return []LineItem{{FinancialType: d.FinancialType, Amount: d.TotalAmount}}
}

// GiftAidUpdate writes the Gift Aid fields of a donation. When
// SetEligibility is false the three eligibility fields are left alone;
// a nil BatchName leaves the batch name alone.
type GiftAidUpdate struct {
	SetEligibility bool
	IsEligible     *bool
	EligibleAmount *decimal.Decimal
	ReclaimAmount  *decimal.Decimal
	BatchName      *string
}

// Apply returns d with the update applied.
func (u GiftAidUpdate) Apply(d Donation) Donation {
	if u.SetEligibility {
		d.IsEligible = u.IsEligible
		d.EligibleAmount = u.EligibleAmount
		d.ReclaimAmount = u.ReclaimAmount
	}
	if u.BatchName != nil {
		d.BatchName = *u.BatchName
	}
	return d
}

// DonationFilter selects donations for bulk work.
type DonationFilter struct {
	ID               DonationID // 0 = any
	DonorID          DonorID    // 0 = any
	OnlyUndetermined bool       // IsEligible is nil
	OnlyEligible     bool       // IsEligible is true
	ExcludeBatched   bool
	ReceivedFrom     *time.Time // inclusive
	ReceivedTo       *time.Time // inclusive
	FinancialTypes   []FinancialTypeID
	Limit            int // 0 = unlimited
}

// Matches applies the filter in memory. Stores that can push the filter
// down to a query do so; the result must be the same.
func (f DonationFilter) Matches(d Donation) bool {
	if f.ID != 0 && d.ID != f.ID {
		return false
	}
	if f.DonorID != 0 && d.DonorID != f.DonorID {
		return false
	}
	if f.OnlyUndetermined && d.IsEligible != nil {
		return false
	}
	if f.OnlyEligible && (d.IsEligible == nil || !*d.IsEligible) {
		return false
	}
	if f.ExcludeBatched && d.Batched() {
		return false
	}
	if f.ReceivedFrom != nil && d.ReceiveDate.Before(*f.ReceivedFrom) {
		return false
	}
	if f.ReceivedTo != nil && d.ReceiveDate.After(*f.ReceivedTo) {
		return false
	}
	if len(f.FinancialTypes) > 0 && !containsType(f.FinancialTypes, d.FinancialType) {
		return false
	}
	return true
}

func containsType(types []FinancialTypeID, t FinancialTypeID) bool {
	for _, ft := range types {
		if ft == t {
			return true
		}
	}
	return false
}

// =============================================================================
// BATCH
// =============================================================================

const BatchTypeGiftAid = "Gift Aid"

type Batch struct {
	ID          BatchID
	Name        string // slug, unique
	Title       string // stamped onto donations as their batch name
	Description string
	BatchType   string
	CreatedAt   time.Time
}

// BatchSettings snapshots the settings a batch was built with.
type BatchSettings struct {
	BatchID               BatchID
	GloballyEnabled       bool
	FinancialTypesEnabled []FinancialTypeID
	BasicTaxRate          decimal.Decimal
}

// =============================================================================
// ADDRESS
// =============================================================================

// Address is a donor's postal address as held by the CRM.
type Address struct {
	Name          string
	Street        string
	Supplemental1 string
	Supplemental2 string
	City          string
	StateProvince string
	PostalCode    string
}

// =============================================================================
// CAPABILITIES
// =============================================================================

// Capabilities describes optional schema a store supports. Resolved once
// when the store is opened.
type Capabilities struct {
	Charity bool
}
