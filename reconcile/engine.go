/*
engine.go - Punch reconciliation ("process movements")

PURPOSE:
  Converts unprocessed punches into one attendance record per employee and
  day. Runs are on-demand batches; re-running over the same punches rewrites
  the same rows and never duplicates them.

ALGORITHM (per run):
  1. Load the tenant's schedule Snapshot once.
  2. Read unprocessed punches (optionally scoped by date range / device).
  3. Group by (employee code, device-local date).
  4. Resolve each group's code (unresolved -> left unprocessed, warning) and
     merge groups that resolve to the same (employee, date).
  5. Per employee-day, in a bounded worker pool:
     a. Complete the day with the date's other punches of that employee, so
        a late-arriving punch recomputes the whole day
     b. Resolve schedule + holiday (no schedule -> left unprocessed, warning)
     c. Classify (holiday / non-work day -> deferred, nothing written)
     d. In ONE store transaction: upsert the record, then mark punches
        processed. A failed upsert leaves every punch unprocessed.

FAILURE ISOLATION:
  A failing group is counted and reported in the Summary. Only missing
  tenant, unreadable configuration or an unreadable ledger abort the run.
  Cancelling the context stops scheduling new groups; groups already in
  their transaction finish.

SEE ALSO:
  - classify.go: GroupPunches, Classify
  - schedule/snapshot.go: Resolution rules
  - directory/directory.go: Code lookup rule
*/
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/directory"
	"github.com/warp/punchclock/schedule"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent group work when Options.Workers is unset.
const DefaultWorkers = 4

type Options struct {
	Workers int

	// RecordAbsentWithoutSchedule writes an absent row for a Monday-Friday
	// group with no schedule instead of leaving it unprocessed.
	RecordAbsentWithoutSchedule bool
}

// Engine runs reconciliation. Runs and Logger are optional.
type Engine struct {
	Store     attendance.TxStore
	Directory *directory.Resolver
	Schedules schedule.Source
	Runs      RunStore
	Logger    *log.Logger
	Options   Options
	Now       func() time.Time
}

func NewEngine(store attendance.TxStore, dir *directory.Resolver, schedules schedule.Source) *Engine {
	return &Engine{
		Store:     store,
		Directory: dir,
		Schedules: schedules,
		Now:       time.Now,
	}
}

// Request scopes a run. Zero Range and empty DeviceID mean everything.
type Request struct {
	TenantID string
	Range    attendance.DateRange
	DeviceID string
}

// =============================================================================
// SUMMARY
// =============================================================================

type WarningKind string

const (
	WarnUnresolved WarningKind = "unresolved_employee_code"
	WarnNoSchedule WarningKind = "no_schedule"
	WarnDeferred   WarningKind = "non_work_day"
	WarnLocked     WarningKind = "locked_record"
	WarnFailed     WarningKind = "failed"
)

type Warning struct {
	Kind         WarningKind           `json:"kind"`
	EmployeeCode string                `json:"employee_code"`
	EmployeeID   attendance.EmployeeID `json:"employee_id,omitempty"`
	Date         attendance.Date       `json:"date"`
	Punches      int                   `json:"punches"`
	Message      string                `json:"message"`
}

// Summary reports what a run did. TotalGroups counts employee-days plus code
// groups that failed to resolve. Processed counts groups whose record was
// written; Deferred and Locked groups are marked processed without a write.
type Summary struct {
	RunID       string    `json:"run_id,omitempty"`
	Processed   int       `json:"processed"`
	TotalGroups int       `json:"total_groups"`
	Inserted    int       `json:"inserted"`
	Updated     int       `json:"updated"`
	Unresolved  int       `json:"unresolved"`
	NoSchedule  int       `json:"no_schedule"`
	Deferred    int       `json:"deferred"`
	Locked      int       `json:"locked"`
	Failed      int       `json:"failed"`
	Punches     int       `json:"punches_marked"`
	Warnings    []Warning `json:"warnings"`
}

func (s *Summary) add(r groupResult) {
	switch r.kind {
	case resultWritten:
		s.Processed++
		if r.outcome == attendance.UpsertInserted {
			s.Inserted++
		} else {
			s.Updated++
		}
	case resultDeferred:
		s.Deferred++
	case resultLocked:
		s.Locked++
	case resultUnresolved:
		s.Unresolved++
	case resultNoSchedule:
		s.NoSchedule++
	case resultFailed:
		s.Failed++
	}
	s.Punches += r.marked
	if r.warning != nil {
		s.Warnings = append(s.Warnings, *r.warning)
	}
}

type resultKind int

const (
	resultWritten resultKind = iota
	resultDeferred
	resultLocked
	resultUnresolved
	resultNoSchedule
	resultFailed
)

type groupResult struct {
	kind    resultKind
	outcome attendance.UpsertOutcome
	marked  int
	warning *Warning
}

// =============================================================================
// PROCESS
// =============================================================================

// Process runs one reconciliation batch for a tenant.
func (e *Engine) Process(ctx context.Context, req Request) (*Summary, error) {
	if req.TenantID == "" {
		return nil, attendance.ErrTenantRequired
	}
	if req.Range.From != nil && req.Range.To != nil && req.Range.To.Before(*req.Range.From) {
		return nil, attendance.ErrInvalidRange
	}

	run := e.startRun(ctx, req)
	summary, err := e.process(ctx, req)
	if summary == nil {
		summary = &Summary{}
	}
	summary.RunID = run.ID
	e.finishRun(ctx, run, summary, err)
	if err != nil {
		return summary, err
	}

	e.logger().Printf("[Reconcile] tenant=%s run=%s processed=%d/%d unresolved=%d no_schedule=%d deferred=%d locked=%d failed=%d",
		req.TenantID, run.ID, summary.Processed, summary.TotalGroups, summary.Unresolved,
		summary.NoSchedule, summary.Deferred, summary.Locked, summary.Failed)
	return summary, nil
}

func (e *Engine) process(ctx context.Context, req Request) (*Summary, error) {
	snap, err := e.Schedules.Snapshot(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedules: %w", err)
	}

	unprocessed := false
	punches, err := e.Store.ListPunches(ctx, attendance.PunchFilter{
		TenantID:  req.TenantID,
		Range:     req.Range,
		DeviceID:  req.DeviceID,
		Processed: &unprocessed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read unprocessed punches: %w", err)
	}

	groups := GroupPunches(punches)
	summary := &Summary{Warnings: []Warning{}}
	if len(groups) == 0 {
		return summary, nil
	}

	cache := e.Directory.ForRun(req.TenantID)
	days, unresolved := e.resolveGroups(ctx, cache, groups)
	summary.TotalGroups = len(days) + len(unresolved)
	for _, r := range unresolved {
		summary.add(r)
	}

	workers := e.Options.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(workers)
	for _, d := range days {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r := e.processDay(ctx, req.TenantID, snap, cache, d)
			mu.Lock()
			summary.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(summary.Warnings, func(i, j int) bool {
		a, b := summary.Warnings[i], summary.Warnings[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.EmployeeCode < b.EmployeeCode
	})

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// Day is every code group that resolved to one employee on one date. Two
// codes can resolve to the same employee when prefix matching is on, and
// their punches make up a single record.
type Day struct {
	EmployeeID attendance.EmployeeID
	Date       attendance.Date
	Codes      []string
	Punches    []attendance.PunchRecord
}

// code labels warnings and logs.
func (d Day) code() string {
	return strings.Join(d.Codes, ",")
}

type dayKey struct {
	id   attendance.EmployeeID
	date attendance.Date
}

// resolveGroups resolves each group's code and merges groups that land on
// the same (employee, date). Groups that fail to resolve come back as
// results and are never merged.
func (e *Engine) resolveGroups(ctx context.Context, cache *directory.Cache, groups []Group) ([]Day, []groupResult) {
	index := make(map[dayKey]int)
	var (
		days    []Day
		results []groupResult
	)
	for _, grp := range groups {
		warn := &Warning{EmployeeCode: grp.EmployeeCode, Date: grp.Date, Punches: len(grp.Punches)}
		id, err := cache.Resolve(ctx, grp.EmployeeCode)
		if errors.Is(err, attendance.ErrUnresolvedEmployeeCode) {
			warn.Kind, warn.Message = WarnUnresolved, err.Error()
			results = append(results, groupResult{kind: resultUnresolved, warning: warn})
			continue
		}
		if err != nil {
			e.logger().Printf("[Reconcile] group %s/%s failed: %v", grp.EmployeeCode, grp.Date, err)
			warn.Kind, warn.Message = WarnFailed, err.Error()
			results = append(results, groupResult{kind: resultFailed, warning: warn})
			continue
		}

		k := dayKey{id: id, date: grp.Date}
		i, ok := index[k]
		if !ok {
			i = len(days)
			index[k] = i
			days = append(days, Day{EmployeeID: id, Date: grp.Date})
		}
		days[i].Codes = append(days[i].Codes, grp.EmployeeCode)
		days[i].Punches = append(days[i].Punches, grp.Punches...)
	}
	for i := range days {
		SortPunches(days[i].Punches)
	}
	return days, results
}

func (e *Engine) processDay(ctx context.Context, tenantID string, snap *schedule.Snapshot, cache *directory.Cache, d Day) groupResult {
	employeeID := d.EmployeeID
	warn := func(kind WarningKind, msg string) *Warning {
		return &Warning{Kind: kind, EmployeeCode: d.code(), EmployeeID: employeeID, Date: d.Date, Punches: len(d.Punches), Message: msg}
	}
	fail := func(err error) groupResult {
		e.logger().Printf("[Reconcile] group %s/%s failed: %v", d.code(), d.Date, err)
		return groupResult{kind: resultFailed, warning: warn(WarnFailed, err.Error())}
	}

	if ctx.Err() != nil {
		return fail(ctx.Err())
	}

	punches, err := e.completeDay(ctx, tenantID, cache, d)
	if err != nil {
		return fail(err)
	}
	ids := unprocessedIDs(punches)

	ws, holiday, err := snap.Resolve(employeeID, d.Date)
	if errors.Is(err, attendance.ErrNoSchedule) {
		if !e.Options.RecordAbsentWithoutSchedule || holiday || !schedule.DefaultWorkDays.Has(d.Date.Weekday()) {
			return groupResult{kind: resultNoSchedule, warning: warn(WarnNoSchedule, err.Error())}
		}
		out := Classify(punches, schedule.WorkSchedule{WorkDays: schedule.DefaultWorkDays}, d.Date, false)
		rec := out.Record(tenantID, employeeID, d.Date)
		rec.Status = attendance.StatusAbsent
		rec.OvertimeHours = decimal.Zero
		rec.Note = "no work schedule"
		r := e.commit(ctx, &rec, ids)
		switch r.kind {
		case resultFailed:
			return fail(errors.New(r.warning.Message))
		case resultLocked:
			r.warning = warn(WarnLocked, "record is locked, left unchanged")
		default:
			r.warning = warn(WarnNoSchedule, err.Error()+": recorded absent")
		}
		return r
	}
	if err != nil {
		return fail(err)
	}

	out := Classify(punches, ws, d.Date, holiday)
	if out.Deferred {
		r := e.commit(ctx, nil, ids)
		if r.kind == resultFailed {
			return fail(errors.New(r.warning.Message))
		}
		reason := "not a work day of schedule " + ws.Name
		if holiday {
			reason = "holiday"
		}
		r.kind = resultDeferred
		r.warning = warn(WarnDeferred, reason)
		return r
	}

	rec := out.Record(tenantID, employeeID, d.Date)
	r := e.commit(ctx, &rec, ids)
	switch r.kind {
	case resultFailed:
		return fail(errors.New(r.warning.Message))
	case resultLocked:
		r.warning = warn(WarnLocked, "record is locked, left unchanged")
	}
	return r
}

// completeDay adds the date's other punches of the same employee, under any
// code that resolves to it, so a late-arriving punch recomputes the whole day.
func (e *Engine) completeDay(ctx context.Context, tenantID string, cache *directory.Cache, d Day) ([]attendance.PunchRecord, error) {
	onDate, err := e.Store.PunchesOnDate(ctx, tenantID, d.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to read punches for %s: %w", d.Date, err)
	}
	seen := make(map[attendance.PunchID]bool, len(onDate)+len(d.Punches))
	all := make([]attendance.PunchRecord, 0, len(d.Punches))
	for _, p := range d.Punches {
		seen[p.ID] = true
		all = append(all, p)
	}
	for _, p := range onDate {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		id, err := cache.Resolve(ctx, p.EmployeeCode)
		if attendance.IsGroupError(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if id == d.EmployeeID {
			all = append(all, p)
		}
	}
	SortPunches(all)
	return all, nil
}

// commit upserts rec (when not nil) and marks ids processed in one
// transaction. Punches stay unprocessed if anything fails.
func (e *Engine) commit(ctx context.Context, rec *attendance.AttendanceRecord, ids []attendance.PunchID) groupResult {
	r := groupResult{kind: resultDeferred}
	err := e.Store.WithTx(ctx, func(tx attendance.Store) error {
		if rec != nil {
			rec.UpdatedAt = e.now().UTC()
			outcome, err := tx.UpsertAttendance(ctx, *rec)
			if err != nil {
				return fmt.Errorf("failed to upsert attendance: %w", err)
			}
			r.outcome = outcome
			r.kind = resultWritten
			if outcome == attendance.UpsertSkippedLocked {
				r.kind = resultLocked
			}
		}
		if err := tx.MarkProcessed(ctx, ids); err != nil {
			return fmt.Errorf("failed to mark punches processed: %w", err)
		}
		return nil
	})
	if err != nil {
		return groupResult{kind: resultFailed, warning: &Warning{Message: err.Error()}}
	}
	r.marked = len(ids)
	return r
}

func unprocessedIDs(punches []attendance.PunchRecord) []attendance.PunchID {
	ids := make([]attendance.PunchID, 0, len(punches))
	for _, p := range punches {
		if !p.IsProcessed {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (e *Engine) logger() *log.Logger {
	if e.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return e.Logger
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// =============================================================================
// RUN RECORDS
// =============================================================================

func (e *Engine) startRun(ctx context.Context, req Request) Run {
	run := Run{
		ID:        uuid.NewString(),
		TenantID:  req.TenantID,
		Status:    RunRunning,
		Range:     req.Range,
		DeviceID:  req.DeviceID,
		StartedAt: e.now().UTC(),
	}
	if e.Runs != nil {
		if err := e.Runs.SaveRun(ctx, run); err != nil {
			e.logger().Printf("[Reconcile] failed to record run start: %v", err)
		}
	}
	return run
}

func (e *Engine) finishRun(ctx context.Context, run Run, summary *Summary, runErr error) {
	completed := e.now().UTC()
	run.CompletedAt = &completed
	run.Summary = *summary
	run.Status = RunCompleted
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
		e.logger().Printf("[Reconcile] tenant=%s run=%s failed: %v", run.TenantID, run.ID, runErr)
	}
	if e.Runs == nil {
		return
	}
	// A cancelled request context must not lose the run record.
	if err := e.Runs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		e.logger().Printf("[Reconcile] failed to record run %s: %v", run.ID, err)
	}
}
