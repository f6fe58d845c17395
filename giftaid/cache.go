package giftaid

import (
	"context"
	"sync"
)

// DeclarationCache memoizes each donor's declaration list for the length
// of one logical operation. It is never shared between operations, and
// every write to a donor's declarations invalidates that donor.
type DeclarationCache struct {
	mu      sync.Mutex
	byDonor map[DonorID][]Declaration
	loads   int
}

func NewDeclarationCache() *DeclarationCache {
	return &DeclarationCache{byDonor: make(map[DonorID][]Declaration)}
}

// Load returns the donor's declarations, reading the store on a miss.
// Callers get their own copy of the slice.
func (c *DeclarationCache) Load(ctx context.Context, store DeclarationStore, donorID DonorID) ([]Declaration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if decls, ok := c.byDonor[donorID]; ok {
		return append([]Declaration(nil), decls...), nil
	}
	decls, err := store.DeclarationsByDonor(ctx, donorID)
	if err != nil {
		return nil, err
	}
	c.loads++
	c.byDonor[donorID] = decls
	return append([]Declaration(nil), decls...), nil
}

// Invalidate drops the donor's cached list.
func (c *DeclarationCache) Invalidate(donorID DonorID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byDonor, donorID)
}

// Loads returns how many times the store was read.
func (c *DeclarationCache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}
