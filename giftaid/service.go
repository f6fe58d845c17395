/*
service.go - Entry point of the Gift Aid engine

PURPOSE:
  Service wires a TxRepository, a Clock and the optional collaborators
  (submission checker, batch callback) together and exposes the
  operations callers use: resolve, apply a declaration, compute and
  check eligibility, batch and unbatch donations, bulk reconciliation.

CONCURRENCY:
  ApplyDeclaration is serialized per donor with a KeyedMutex and runs in
  a single transaction, so two concurrent events for the same donor can't
  both see "no current declaration" and insert overlapping windows.
  Every other write also runs inside WithTx.

OPERATION SCOPE:
  Each public call builds an operation: the repository it reads through
  (the transaction's, once inside WithTx) plus a fresh DeclarationCache.
  Nothing is cached across calls.

SEE ALSO:
  - merge.go, calculator.go, batch.go, reconcile.go, hook.go
*/
package giftaid

import (
	"context"
	"time"

	"github.com/warp/giftaid/generic"
)

// DefaultSource is recorded on declarations whose caller gave none.
const DefaultSource = "Gift Aid"

// Service is the Gift Aid engine.
type Service struct {
	Repo  TxRepository
	Clock generic.Clock

	// Submissions is consulted before removing a donation from a batch.
	// Nil means no online submission integration is installed.
	Submissions SubmissionChecker

	// DefaultSource is used when a declaration event carries no source.
	DefaultSource string

	// OnBatched runs inside the batching transaction after donations were
	// added to a batch.
	OnBatched func(ctx context.Context, batchID BatchID, added []DonationID) error

	locks *generic.KeyedMutex[DonorID]
}

// NewService creates a Service using the system clock.
func NewService(repo TxRepository) *Service {
	return &Service{
		Repo:          repo,
		Clock:         generic.SystemClock{},
		DefaultSource: DefaultSource,
		locks:         generic.NewKeyedMutex[DonorID](),
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return generic.SystemClock{}.Now()
	}
	return s.Clock.Now()
}

func (s *Service) lockDonor(id DonorID) func() {
	if s.locks == nil {
		s.locks = generic.NewKeyedMutex[DonorID]()
	}
	return s.locks.Lock(id)
}

// =============================================================================
// OPERATION - repository + per-operation cache
// =============================================================================

type operation struct {
	repo  Repository
	cache *DeclarationCache
}

func newOperation(repo Repository) *operation {
	return &operation{repo: repo, cache: NewDeclarationCache()}
}

// declarations returns the donor's timeline filtered to charity.
func (op *operation) declarations(ctx context.Context, donorID DonorID, charity string) ([]Declaration, error) {
	decls, err := op.cache.Load(ctx, op.repo, donorID)
	if err != nil {
		return nil, err
	}
	return forCharity(decls, op.repo.Capabilities(), charity), nil
}

func (op *operation) settings(ctx context.Context) (Settings, error) {
	return LoadSettings(ctx, op.repo)
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Resolve returns the declaration in force for the donor at asOf, or nil.
func (s *Service) Resolve(ctx context.Context, donorID DonorID, asOf time.Time) (*Declaration, error) {
	if donorID == 0 {
		return nil, nil
	}
	decls, err := newOperation(s.Repo).declarations(ctx, donorID, "")
	if err != nil {
		return nil, err
	}
	return CurrentDeclaration(decls, asOf), nil
}

// ResolveEligibility returns the declaration that decides whether a
// donation made on date is covered, or nil.
func (s *Service) ResolveEligibility(ctx context.Context, donorID DonorID, date time.Time) (*Declaration, error) {
	if donorID == 0 {
		return nil, nil
	}
	decls, err := newOperation(s.Repo).declarations(ctx, donorID, "")
	if err != nil {
		return nil, err
	}
	return EligibleDeclaration(decls, date), nil
}

// Declarations returns the donor's full timeline, stubs included.
func (s *Service) Declarations(ctx context.Context, donorID DonorID) ([]Declaration, error) {
	return s.Repo.DeclarationsByDonor(ctx, donorID)
}

// CurrentDeclarations resolves "now" for each donor. Donors without a
// current declaration are left out.
func (s *Service) CurrentDeclarations(ctx context.Context, donorIDs []DonorID) (map[DonorID]Declaration, error) {
	op := newOperation(s.Repo)
	now := s.now()
	out := make(map[DonorID]Declaration, len(donorIDs))
	for _, id := range donorIDs {
		decls, err := op.declarations(ctx, id, "")
		if err != nil {
			return nil, err
		}
		if d := CurrentDeclaration(decls, now); d != nil {
			out[id] = *d
		}
	}
	return out, nil
}

// DonorsWithDeclarations lists donors having at least one declaration.
func (s *Service) DonorsWithDeclarations(ctx context.Context) ([]DonorID, error) {
	return s.Repo.DonorsWithDeclarations(ctx)
}

// Settings returns the effective settings.
func (s *Service) Settings(ctx context.Context) (Settings, error) {
	return LoadSettings(ctx, s.Repo)
}
