/*
store.go - Persistence interfaces for the Gift Aid domain

PURPOSE:
  Defines what the domain needs from the host CRM's storage. The engine
  never talks to a database directly; every read and write goes through
  these interfaces so the same logic runs against SQLite in production
  and the in-memory store in tests.

KEY INTERFACES:
  DeclarationStore: donor timelines (the only table the engine owns outright)
  DonationStore:    donations and their Gift Aid fields
  BatchStore:       batches, donation-batch links, batch-name option set
  SettingsStore:    get / set / revert of raw setting values
  AddressBook:      donors' primary addresses (read-only)
  TxRepository:     all of the above plus WithTx

TRANSACTIONS:
  WithTx hands the callback a context carrying a generic.UnitOfWork and a
  Repository bound to the transaction. Returning an error rolls back
  every write made through that Repository.

IMPLEMENTATIONS:
  - giftaid/store/memory.go: in-memory, snapshot/restore rollback
  - store/sqlite/sqlite.go:   SQLite via database/sql

SEE ALSO:
  - generic/store.go: UnitOfWork and post-commit hooks
*/
package giftaid

import "context"

// DeclarationStore persists declarations.
type DeclarationStore interface {
	// DeclarationsByDonor returns every declaration of the donor, partial
	// stubs included, ordered by ID.
	DeclarationsByDonor(ctx context.Context, donorID DonorID) ([]Declaration, error)

	// GetDeclaration returns a NotFoundError when id doesn't exist.
	GetDeclaration(ctx context.Context, id DeclarationID) (*Declaration, error)

	// SaveDeclaration inserts when d.ID is zero (assigning the new ID) and
	// replaces the stored record otherwise.
	SaveDeclaration(ctx context.Context, d *Declaration) error

	// UpdateDeclaration patches the given fields.
	UpdateDeclaration(ctx context.Context, id DeclarationID, u DeclarationUpdate) error

	// DeletePartialDeclarations removes the donor's stubs (no start date,
	// see Declaration.IsPartial) and returns how many were removed.
	DeletePartialDeclarations(ctx context.Context, donorID DonorID) (int, error)

	// DonorsWithDeclarations returns the donors having at least one declaration.
	DonorsWithDeclarations(ctx context.Context) ([]DonorID, error)
}

// DonationStore reads donations and writes their Gift Aid fields.
type DonationStore interface {
	GetDonation(ctx context.Context, id DonationID) (*Donation, error)

	// GetDonations returns the donations that exist, in the order of ids.
	GetDonations(ctx context.Context, ids []DonationID) ([]Donation, error)

	FindDonations(ctx context.Context, f DonationFilter) ([]Donation, error)

	UpdateGiftAidFields(ctx context.Context, id DonationID, u GiftAidUpdate) error
}

// BatchStore persists batches and their membership.
type BatchStore interface {
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id BatchID) (*Batch, error)

	// BatchForDonation returns nil, nil when the donation is in no batch.
	BatchForDonation(ctx context.Context, id DonationID) (*Batch, error)

	LinkDonation(ctx context.Context, batchID BatchID, donationID DonationID) error
	UnlinkDonation(ctx context.Context, batchID BatchID, donationID DonationID) error
	BatchDonations(ctx context.Context, batchID BatchID) ([]DonationID, error)

	// RegisterBatchName adds title to the batch-name option set. Returns
	// false when it was already there.
	RegisterBatchName(ctx context.Context, title string) (bool, error)
	BatchNames(ctx context.Context) ([]string, error)

	SaveBatchSettings(ctx context.Context, s BatchSettings) error
	GetBatchSettings(ctx context.Context, batchID BatchID) (*BatchSettings, error)
}

// SettingsStore holds raw setting values.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	RevertSetting(ctx context.Context, key string) error
}

// AddressBook looks up donors' addresses.
type AddressBook interface {
	// PrimaryAddress returns nil, nil when the donor has none.
	PrimaryAddress(ctx context.Context, donorID DonorID) (*Address, error)
}

// Repository is everything the domain reads and writes.
type Repository interface {
	DeclarationStore
	DonationStore
	BatchStore
	SettingsStore
	AddressBook
	Capabilities() Capabilities
}

// TxRepository adds transactions to Repository.
type TxRepository interface {
	Repository

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed and post-commit hooks run.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}

// SubmissionChecker reports whether a batch was already sent to the tax
// authority. Optional: without one, no batch counts as submitted.
type SubmissionChecker interface {
	IsSubmitted(ctx context.Context, batchID BatchID) (bool, error)
}

// SubmissionCheckerFunc adapts a function to SubmissionChecker.
type SubmissionCheckerFunc func(ctx context.Context, batchID BatchID) (bool, error)

func (f SubmissionCheckerFunc) IsSubmitted(ctx context.Context, batchID BatchID) (bool, error) {
	return f(ctx, batchID)
}
