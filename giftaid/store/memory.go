// Package store provides the in-memory giftaid.TxRepository.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/giftaid/generic"
	"github.com/warp/giftaid/giftaid"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex // one transaction at a time
	data memoryData
	caps giftaid.Capabilities
}

type memoryData struct {
	declarations  map[giftaid.DeclarationID]giftaid.Declaration
	donations     map[giftaid.DonationID]giftaid.Donation
	batches       map[giftaid.BatchID]giftaid.Batch
	links         map[giftaid.DonationID]giftaid.BatchID
	batchNames    []string
	batchSettings map[giftaid.BatchID]giftaid.BatchSettings
	settings      map[string]string
	addresses     map[giftaid.DonorID]giftaid.Address

	nextDeclaration giftaid.DeclarationID
	nextBatch       giftaid.BatchID
}

var _ giftaid.TxRepository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{data: memoryData{
		declarations:  make(map[giftaid.DeclarationID]giftaid.Declaration),
		donations:     make(map[giftaid.DonationID]giftaid.Donation),
		batches:       make(map[giftaid.BatchID]giftaid.Batch),
		links:         make(map[giftaid.DonationID]giftaid.BatchID),
		batchSettings: make(map[giftaid.BatchID]giftaid.BatchSettings),
		settings:      make(map[string]string),
		addresses:     make(map[giftaid.DonorID]giftaid.Address),
	}}
}

// WithCapabilities sets the optional schema the store pretends to have.
func (m *Memory) WithCapabilities(caps giftaid.Capabilities) *Memory {
	m.caps = caps
	return m
}

func (m *Memory) Capabilities() giftaid.Capabilities { return m.caps }

// =============================================================================
// HOST DATA - donations and addresses are owned by the CRM, seeded here
// =============================================================================

// PutDonation inserts or replaces a donation.
func (m *Memory) PutDonation(d giftaid.Donation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.donations[d.ID] = d
}

// PutAddress sets a donor's primary address.
func (m *Memory) PutAddress(donorID giftaid.DonorID, a giftaid.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.addresses[donorID] = a
}

// =============================================================================
// DECLARATIONS
// =============================================================================

func (m *Memory) DeclarationsByDonor(_ context.Context, donorID giftaid.DonorID) ([]giftaid.Declaration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []giftaid.Declaration
	for _, d := range m.data.declarations {
		if d.DonorID == donorID {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) GetDeclaration(_ context.Context, id giftaid.DeclarationID) (*giftaid.Declaration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.data.declarations[id]
	if !ok {
		return nil, generic.NewNotFound("declaration", id)
	}
	return &d, nil
}

func (m *Memory) SaveDeclaration(_ context.Context, d *giftaid.Declaration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID == 0 {
		m.data.nextDeclaration++
		d.ID = m.data.nextDeclaration
	} else if _, ok := m.data.declarations[d.ID]; !ok {
		return generic.NewNotFound("declaration", d.ID)
	}
	if !m.caps.Charity {
		d.Charity = ""
	}
	m.data.declarations[d.ID] = *d
	return nil
}

func (m *Memory) UpdateDeclaration(_ context.Context, id giftaid.DeclarationID, u giftaid.DeclarationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.data.declarations[id]
	if !ok {
		return generic.NewNotFound("declaration", id)
	}
	m.data.declarations[id] = u.Apply(d)
	return nil
}

func (m *Memory) DeletePartialDeclarations(_ context.Context, donorID giftaid.DonorID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, d := range m.data.declarations {
		if d.DonorID == donorID && d.IsPartial() {
			delete(m.data.declarations, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) DonorsWithDeclarations(_ context.Context) ([]giftaid.DonorID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[giftaid.DonorID]bool)
	var result []giftaid.DonorID
	for _, d := range m.data.declarations {
		if !seen[d.DonorID] {
			seen[d.DonorID] = true
			result = append(result, d.DonorID)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

// =============================================================================
// DONATIONS
// =============================================================================

func (m *Memory) GetDonation(_ context.Context, id giftaid.DonationID) (*giftaid.Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.data.donations[id]
	if !ok {
		return nil, generic.NewNotFound("donation", id)
	}
	return &d, nil
}

func (m *Memory) GetDonations(_ context.Context, ids []giftaid.DonationID) ([]giftaid.Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]giftaid.Donation, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.data.donations[id]; ok {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *Memory) FindDonations(_ context.Context, f giftaid.DonationFilter) ([]giftaid.Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []giftaid.Donation
	for _, d := range m.data.donations {
		if f.Matches(d) {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *Memory) UpdateGiftAidFields(_ context.Context, id giftaid.DonationID, u giftaid.GiftAidUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.data.donations[id]
	if !ok {
		return generic.NewNotFound("donation", id)
	}
	m.data.donations[id] = u.Apply(d)
	return nil
}

// =============================================================================
// BATCHES
// =============================================================================

func (m *Memory) CreateBatch(_ context.Context, b *giftaid.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.data.batches {
		if existing.Name == b.Name {
			return &generic.ValidationError{Field: "name", Message: "batch name already in use: " + b.Name}
		}
	}
	m.data.nextBatch++
	b.ID = m.data.nextBatch
	m.data.batches[b.ID] = *b
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id giftaid.BatchID) (*giftaid.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.data.batches[id]
	if !ok {
		return nil, generic.NewNotFound("batch", id)
	}
	return &b, nil
}

func (m *Memory) BatchForDonation(_ context.Context, id giftaid.DonationID) (*giftaid.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	batchID, ok := m.data.links[id]
	if !ok {
		return nil, nil
	}
	b := m.data.batches[batchID]
	return &b, nil
}

func (m *Memory) LinkDonation(_ context.Context, batchID giftaid.BatchID, donationID giftaid.DonationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data.batches[batchID]; !ok {
		return generic.NewNotFound("batch", batchID)
	}
	if existing, ok := m.data.links[donationID]; ok && existing != batchID {
		return &generic.ValidationError{Field: "donation_id", Message: "donation is already in another batch"}
	}
	m.data.links[donationID] = batchID
	return nil
}

func (m *Memory) UnlinkDonation(_ context.Context, batchID giftaid.BatchID, donationID giftaid.DonationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data.links[donationID] == batchID {
		delete(m.data.links, donationID)
	}
	return nil
}

func (m *Memory) BatchDonations(_ context.Context, batchID giftaid.BatchID) ([]giftaid.DonationID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []giftaid.DonationID
	for donationID, b := range m.data.links {
		if b == batchID {
			result = append(result, donationID)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

func (m *Memory) RegisterBatchName(_ context.Context, title string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range m.data.batchNames {
		if strings.EqualFold(n, title) {
			return false, nil
		}
	}
	m.data.batchNames = append(m.data.batchNames, title)
	return true, nil
}

func (m *Memory) BatchNames(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.data.batchNames...), nil
}

func (m *Memory) SaveBatchSettings(_ context.Context, s giftaid.BatchSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.batchSettings[s.BatchID] = s
	return nil
}

func (m *Memory) GetBatchSettings(_ context.Context, batchID giftaid.BatchID) (*giftaid.BatchSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.data.batchSettings[batchID]
	if !ok {
		return nil, generic.NewNotFound("batch settings", batchID)
	}
	return &s, nil
}

// =============================================================================
// SETTINGS & ADDRESSES
// =============================================================================

func (m *Memory) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data.settings[key]
	return v, ok, nil
}

func (m *Memory) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.settings[key] = value
	return nil
}

func (m *Memory) RevertSetting(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data.settings, key)
	return nil
}

func (m *Memory) PrimaryAddress(_ context.Context, donorID giftaid.DonorID) (*giftaid.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.data.addresses[donorID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// A call made with this store's unit of work already in ctx joins it.
func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, giftaid.Repository) error) error {
	if uow, ok := generic.UnitOfWorkFrom(ctx); ok && uow.Owner() == m {
		return fn(ctx, m)
	}

	uow := generic.NewUnitOfWork(m, m)
	if err := m.runTx(generic.WithUnitOfWork(ctx, uow), uow, fn); err != nil {
		return err
	}
	// Committed: hooks may open their own transactions.
	return uow.RunHooks(ctx)
}

func (m *Memory) runTx(ctx context.Context, uow *generic.UnitOfWork, fn func(context.Context, giftaid.Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snapshot := m.snapshot()
	if err := fn(ctx, m); err != nil {
		m.restore(snapshot)
		uow.Discard()
		return err
	}
	return nil
}

func (m *Memory) snapshot() memoryData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := memoryData{
		declarations:    make(map[giftaid.DeclarationID]giftaid.Declaration, len(m.data.declarations)),
		donations:       make(map[giftaid.DonationID]giftaid.Donation, len(m.data.donations)),
		batches:         make(map[giftaid.BatchID]giftaid.Batch, len(m.data.batches)),
		links:           make(map[giftaid.DonationID]giftaid.BatchID, len(m.data.links)),
		batchNames:      append([]string(nil), m.data.batchNames...),
		batchSettings:   make(map[giftaid.BatchID]giftaid.BatchSettings, len(m.data.batchSettings)),
		settings:        make(map[string]string, len(m.data.settings)),
		addresses:       make(map[giftaid.DonorID]giftaid.Address, len(m.data.addresses)),
		nextDeclaration: m.data.nextDeclaration,
		nextBatch:       m.data.nextBatch,
	}
	for k, v := range m.data.declarations {
		s.declarations[k] = v
	}
	for k, v := range m.data.donations {
		s.donations[k] = v
	}
	for k, v := range m.data.batches {
		s.batches[k] = v
	}
	for k, v := range m.data.links {
		s.links[k] = v
	}
	for k, v := range m.data.batchSettings {
		s.batchSettings[k] = v
	}
	for k, v := range m.data.settings {
		s.settings[k] = v
	}
	for k, v := range m.data.addresses {
		s.addresses[k] = v
	}
	return s
}

func (m *Memory) restore(s memoryData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = s
}
