/*
scheduler.go - Automated eligibility reconciliation scheduler

PURPOSE:
  Periodically fills in the Gift Aid fields of donations that were never
  determined (imports, donations written by other systems) by running
  Service.UpdateEligibleContributions.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each run handles at most Limit donations; the next tick picks up the rest
  - Batched donations are never touched (the service skips them)
  - A configuration error (no basic tax rate) disables the scheduler
    until configured: while disabled, each tick only re-checks the rate
    and resumes once it is set

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Limit: Donations per run (default: 500)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(svc)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reconcile endpoint (manual reconciliation)
  - giftaid/reconcile.go: UpdateEligibleContributions
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/giftaid/generic"
	"github.com/warp/giftaid/giftaid"
)

// DefaultReconcileLimit caps the donations handled by one scheduled run.
const DefaultReconcileLimit = 500

// ReconciliationScheduler handles automated eligibility updates.
type ReconciliationScheduler struct {
	Service       *giftaid.Service
	CheckInterval time.Duration
	Limit         int
	Enabled       bool

	ticker   *time.Ticker
	stop     chan bool
	wg       sync.WaitGroup
	mu       sync.Mutex

	state    sync.Mutex // guards disabled and lastRun
	disabled bool
	lastRun  time.Time
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(svc *giftaid.Service) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Service:       svc,
		CheckInterval: 1 * time.Hour,
		Limit:         DefaultReconcileLimit,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan bool)
	rs.wg.Add(1)

	go rs.run()

	log.Printf("[Scheduler] Started with check interval: %v, limit: %d", rs.CheckInterval, rs.Limit)
}

// Stop stops the scheduler.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *ReconciliationScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess()

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess()
		case <-rs.stop:
			return
		}
	}
}

// RunNow triggers an immediate check (for testing/admin). It returns the
// donations updated by the run.
func (rs *ReconciliationScheduler) RunNow() []giftaid.DonationID {
	return rs.checkAndProcess()
}

// Disabled reports whether a configuration error switched the scheduler off.
func (rs *ReconciliationScheduler) Disabled() bool {
	rs.state.Lock()
	defer rs.state.Unlock()
	return rs.disabled
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *ReconciliationScheduler) GetNextRunTime() time.Time {
	rs.state.Lock()
	defer rs.state.Unlock()
	if rs.lastRun.IsZero() {
		return time.Now()
	}
	return rs.lastRun.Add(rs.CheckInterval)
}

func (rs *ReconciliationScheduler) checkAndProcess() []giftaid.DonationID {
	ctx := context.Background()

	if rs.Disabled() && !rs.configured(ctx) {
		return nil
	}
	rs.state.Lock()
	rs.lastRun = time.Now()
	rs.state.Unlock()

	limit := rs.Limit
	if limit <= 0 {
		limit = DefaultReconcileLimit
	}

	updated, err := rs.Service.UpdateEligibleContributions(ctx, giftaid.ReconcileOptions{Limit: limit})
	switch {
	case generic.IsConfiguration(err):
		rs.state.Lock()
		rs.disabled = true
		rs.state.Unlock()
		log.Printf("[Scheduler] Configuration error, disabling until configured: %v", err)
	case err != nil:
		log.Printf("[Scheduler] Error after %d donations: %v", len(updated), err)
	case len(updated) > 0:
		log.Printf("[Scheduler] Completed: %d donations updated", len(updated))
	}
	return updated
}

// configured re-enables a disabled scheduler once the settings are valid.
func (rs *ReconciliationScheduler) configured(ctx context.Context) bool {
	settings, err := rs.Service.Settings(ctx)
	if err == nil {
		_, err = settings.TaxRate()
	}
	if err != nil {
		return false
	}
	rs.state.Lock()
	rs.disabled = false
	rs.state.Unlock()
	log.Printf("[Scheduler] Settings valid again, re-enabling")
	return true
}
