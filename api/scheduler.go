/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically reconciles the unprocessed punches of the configured
  tenants, so attendance stays current without an operator pressing the
  button after every device pull or import.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick runs one reconciliation per tenant, sequentially
  - A tenant failure is logged and does not stop the other tenants
  - Every run is recorded by the engine as a ReconciliationRun

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: false, see config)
  - Tenants: Which tenants to reconcile

USAGE:
  scheduler := NewReconciliationScheduler(engine, []string{"acme"})
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ProcessReconciliation endpoint (manual reconciliation)
  - reconcile/engine.go: Engine.Process
*/
package api

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/warp/punchclock/reconcile"
)

// ReconciliationScheduler runs reconciliation on a ticker.
type ReconciliationScheduler struct {
	Engine        *reconcile.Engine
	Tenants       []string
	CheckInterval time.Duration
	Enabled       bool
	Logger        *log.Logger

	ticker  *time.Ticker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// NewReconciliationScheduler creates an enabled scheduler with a one hour
// interval.
func NewReconciliationScheduler(engine *reconcile.Engine, tenants []string) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Engine:        engine,
		Tenants:       tenants,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.logger().Println("[Scheduler] Disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ctx, rs.cancel = context.WithCancel(context.Background())
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	rs.logger().Printf("[Scheduler] Started with check interval: %v, tenants: %v", rs.CheckInterval, rs.Tenants)
}

// Stop stops the scheduler and waits for an in-flight run. The run's
// context is cancelled, so the engine stops scheduling new groups.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		rs.cancel()
		rs.wg.Wait()
		rs.ticker = nil
		rs.logger().Println("[Scheduler] Stopped")
	}
}

func (rs *ReconciliationScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.processAll(rs.ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.processAll(rs.ctx)
		case <-rs.ctx.Done():
			return
		}
	}
}

// processAll reconciles every tenant and returns the summaries of the runs
// that completed.
func (rs *ReconciliationScheduler) processAll(ctx context.Context) map[string]*reconcile.Summary {
	rs.logger().Printf("[Scheduler] Reconciling %d tenant(s)", len(rs.Tenants))

	results := make(map[string]*reconcile.Summary, len(rs.Tenants))
	for _, tenantID := range rs.Tenants {
		if ctx.Err() != nil {
			break
		}
		summary, err := rs.Engine.Process(ctx, reconcile.Request{TenantID: tenantID})
		if err != nil {
			rs.logger().Printf("[Scheduler] Error reconciling %s: %v", tenantID, err)
			continue
		}
		results[tenantID] = summary
		if summary.TotalGroups > 0 {
			rs.logger().Printf("[Scheduler] %s: %d processed of %d groups, %d unresolved, %d failed",
				tenantID, summary.Processed, summary.TotalGroups, summary.Unresolved, summary.Failed)
		}
	}

	rs.mu.Lock()
	rs.lastRun = time.Now()
	rs.mu.Unlock()
	return results
}

// RunNow triggers an immediate run (for testing/admin).
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) map[string]*reconcile.Summary {
	return rs.processAll(ctx)
}

// GetNextRunTime returns when the next scheduled run will occur.
func (rs *ReconciliationScheduler) GetNextRunTime() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.lastRun.IsZero() {
		return time.Now().Add(rs.CheckInterval)
	}
	return rs.lastRun.Add(rs.CheckInterval)
}

func (rs *ReconciliationScheduler) logger() *log.Logger {
	if rs.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return rs.Logger
}
