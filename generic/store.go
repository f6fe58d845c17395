/*
store.go - Unit of work shared by every repository implementation

PURPOSE:
  A store's WithTx opens a UnitOfWork, attaches it to the context handed
  to the callback, and commits or rolls back depending on the callback's
  error. Work that must only happen once the data is durable is queued
  with AfterCommit and runs after the commit, never after a rollback.

NESTING:
  A store that finds its own UnitOfWork already in the context joins it
  instead of opening a second transaction. Callers can therefore wrap a
  service call in an outer WithTx and get a single commit.

POST-COMMIT HOOKS:
  Hooks run with the context the outermost WithTx was called with (no
  unit of work attached), so a hook may open its own transaction.
  Hook errors are joined and returned from WithTx; the data is already
  committed at that point.

EXAMPLE:
  err := repo.WithTx(ctx, func(ctx context.Context, tx giftaid.Repository) error {
      if uow, ok := generic.UnitOfWorkFrom(ctx); ok {
          uow.AfterCommit(func(ctx context.Context) error { return notify(ctx) })
      }
      return tx.SaveDeclaration(ctx, &decl)
  })

SEE ALSO:
  - giftaid/store/memory.go: snapshot/restore implementation
  - store/sqlite/sqlite.go: *sql.Tx implementation
*/
package generic

import (
	"context"
	"errors"
	"sync"
)

// =============================================================================
// UNIT OF WORK
// =============================================================================

// UnitOfWork tracks one open transaction and the hooks queued against it.
type UnitOfWork struct {
	owner  any
	handle any

	mu    sync.Mutex
	hooks []func(context.Context) error
}

// NewUnitOfWork creates a unit of work owned by a store. handle is whatever
// the store needs to find its transaction again when joining.
func NewUnitOfWork(owner, handle any) *UnitOfWork {
	return &UnitOfWork{owner: owner, handle: handle}
}

// Owner returns the store that opened this unit of work.
func (u *UnitOfWork) Owner() any { return u.owner }

// Handle returns the store-specific transaction handle.
func (u *UnitOfWork) Handle() any { return u.handle }

// AfterCommit queues fn to run once the transaction commits.
func (u *UnitOfWork) AfterCommit(fn func(context.Context) error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hooks = append(u.hooks, fn)
}

// Pending returns the number of queued hooks.
func (u *UnitOfWork) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.hooks)
}

// RunHooks runs every queued hook in order and clears the queue.
// Hooks queued while running (a hook calling AfterCommit) run too.
func (u *UnitOfWork) RunHooks(ctx context.Context) error {
	var errs []error
	for {
		u.mu.Lock()
		hooks := u.hooks
		u.hooks = nil
		u.mu.Unlock()
		if len(hooks) == 0 {
			break
		}
		for _, fn := range hooks {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Discard drops all queued hooks (rollback).
func (u *UnitOfWork) Discard() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hooks = nil
}

type unitOfWorkKey struct{}

// WithUnitOfWork attaches u to ctx.
func WithUnitOfWork(ctx context.Context, u *UnitOfWork) context.Context {
	return context.WithValue(ctx, unitOfWorkKey{}, u)
}

// UnitOfWorkFrom returns the active unit of work, if any.
func UnitOfWorkFrom(ctx context.Context) (*UnitOfWork, bool) {
	u, ok := ctx.Value(unitOfWorkKey{}).(*UnitOfWork)
	return u, ok && u != nil
}

// =============================================================================
// KEYED MUTEX - Serializes work per key (one donor at a time)
// =============================================================================

// KeyedMutex hands out one mutex per key and forgets it when unused.
type KeyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex[K comparable]() *KeyedMutex[K] {
	return &KeyedMutex[K]{locks: make(map[K]*keyedEntry)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (k *KeyedMutex[K]) Lock(key K) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedMutex[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
