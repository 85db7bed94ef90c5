package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/attendance/store"
	"github.com/warp/punchclock/directory"
	"github.com/warp/punchclock/reconcile"
	"github.com/warp/punchclock/schedule"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const tenant = "acme"

// 2024-03-01 is a Friday, 2024-03-02 a Saturday, 2024-03-11 a holiday.
var (
	friday   = attendance.MustParseDate("2024-03-01")
	saturday = attendance.MustParseDate("2024-03-02")
	monday   = attendance.MustParseDate("2024-03-04")
	holiday  = attendance.MustParseDate("2024-03-11")
)

func officeSchedule() schedule.WorkSchedule {
	return schedule.WorkSchedule{
		ID:                   "office",
		TenantID:             tenant,
		Name:                 "Office",
		StartTime:            attendance.NewClockTime(8, 0),
		EndTime:              attendance.NewClockTime(17, 0),
		WorkDays:             schedule.DefaultWorkDays,
		LateToleranceMinutes: 15,
		OvertimeAfterMinutes: 30,
		IsDefault:            true,
	}
}

type fixture struct {
	mem    *store.Memory
	ledger *attendance.PunchLedger
	engine *reconcile.Engine
}

func newFixture(t *testing.T, schedules ...schedule.WorkSchedule) *fixture {
	t.Helper()
	if len(schedules) == 0 {
		schedules = []schedule.WorkSchedule{officeSchedule()}
	}
	mem := store.NewMemory()
	ctx := context.Background()
	for id, number := range map[string]string{"emp-1": "E001", "emp-7": "E007"} {
		require.NoError(t, mem.SaveEmployee(ctx, attendance.Employee{
			ID: attendance.EmployeeID(id), TenantID: tenant, EmployeeNumber: number, IsActive: true,
		}))
	}
	snap, err := schedule.NewSnapshot(tenant, schedules, nil, []schedule.Holiday{
		{Name: "Founders Day", StartDate: holiday},
	})
	require.NoError(t, err)

	engine := reconcile.NewEngine(mem, directory.NewResolver(mem, false), schedule.Static{tenant: snap})
	engine.Runs = mem
	return &fixture{mem: mem, ledger: attendance.NewPunchLedger(mem), engine: engine}
}

func at(d attendance.Date, clock string) time.Time {
	return d.At(attendance.MustParseClock(clock))
}

func (f *fixture) punch(t *testing.T, code string, ts time.Time) {
	t.Helper()
	_, err := f.ledger.Append(context.Background(), []attendance.PunchRecord{{
		TenantID:           tenant,
		EmployeeCode:       code,
		PunchTime:          ts,
		PunchType:          attendance.PunchAuto,
		VerificationMethod: attendance.VerifyFingerprint,
		DeviceID:           "dev-1",
		Source:             attendance.SourceDevice,
	}})
	require.NoError(t, err)
}

func (f *fixture) process(t *testing.T) *reconcile.Summary {
	t.Helper()
	summary, err := f.engine.Process(context.Background(), reconcile.Request{TenantID: tenant})
	require.NoError(t, err)
	return summary
}

func (f *fixture) record(t *testing.T, id attendance.EmployeeID, d attendance.Date) *attendance.AttendanceRecord {
	t.Helper()
	rec, err := f.mem.GetAttendance(context.Background(), attendance.RecordKey{TenantID: tenant, EmployeeID: id, Date: d})
	require.NoError(t, err)
	return rec
}

func (f *fixture) unprocessed(t *testing.T) []attendance.PunchRecord {
	t.Helper()
	no := false
	punches, err := f.mem.ListPunches(context.Background(), attendance.PunchFilter{TenantID: tenant, Processed: &no})
	require.NoError(t, err)
	return punches
}

// =============================================================================
// CORE PROPERTIES
// =============================================================================

func TestProcess_Idempotent(t *testing.T) {
	// GIVEN: A day of punches reconciled once
	// WHEN: The same file is imported again and reconciliation re-runs
	// THEN: Still exactly one record with identical values

	f := newFixture(t)
	f.punch(t, "E007", at(friday, "07:55"))
	f.punch(t, "E007", at(friday, "17:10"))

	first := f.process(t)
	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 1, first.TotalGroups)
	before := f.record(t, "emp-7", friday)
	require.NotNil(t, before)

	f.punch(t, "E007", at(friday, "07:55"))
	f.punch(t, "E007", at(friday, "17:10"))
	second := f.process(t)
	assert.Equal(t, 0, second.TotalGroups, "duplicates never re-enter the ledger")

	after := f.record(t, "emp-7", friday)
	require.NotNil(t, after)
	assert.True(t, before.SameOutcome(*after))

	all, err := f.mem.ListAttendance(context.Background(), attendance.AttendanceFilter{TenantID: tenant})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProcess_OverlappingRunsKeepOneRow(t *testing.T) {
	// GIVEN: Two runs triggered at the same time over the same punches
	// THEN: Last writer wins on the record key, one row survives

	f := newFixture(t)
	f.punch(t, "E001", at(friday, "08:20"))
	f.punch(t, "E001", at(friday, "17:00"))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Process(context.Background(), reconcile.Request{TenantID: tenant})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := f.mem.ListAttendance(context.Background(), attendance.AttendanceFilter{TenantID: tenant})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, attendance.StatusLate, all[0].Status)
}

func TestProcess_OrderingIndependentOfInput(t *testing.T) {
	// GIVEN: Punches T2, T1, T3 appended in that scrambled order
	// THEN: check-in T1, check-out T3

	f := newFixture(t)
	t1, t2, t3 := at(friday, "07:50"), at(friday, "12:00"), at(friday, "17:05")
	f.punch(t, "E007", t2)
	f.punch(t, "E007", t1)
	f.punch(t, "E007", t3)

	f.process(t)
	rec := f.record(t, "emp-7", friday)
	require.NotNil(t, rec)
	assert.Equal(t, t1, *rec.CheckIn)
	assert.Equal(t, t3, *rec.CheckOut)
}

func TestProcess_SinglePunchDay(t *testing.T) {
	f := newFixture(t)
	f.punch(t, "E007", at(friday, "07:58"))

	summary := f.process(t)
	assert.Equal(t, 1, summary.Processed)

	rec := f.record(t, "emp-7", friday)
	require.NotNil(t, rec)
	assert.Nil(t, rec.CheckOut)
	assert.Equal(t, attendance.StatusPresent, rec.Status)
	assert.True(t, rec.OvertimeHours.IsZero())
}

func TestProcess_LateClassification(t *testing.T) {
	// GIVEN: start 08:00, tolerance 15
	// THEN: 08:14 present, 08:16 late

	f := newFixture(t)
	f.punch(t, "E001", at(friday, "08:14"))
	f.punch(t, "E007", at(friday, "08:16"))
	f.process(t)

	assert.Equal(t, attendance.StatusPresent, f.record(t, "emp-1", friday).Status)
	assert.Equal(t, attendance.StatusLate, f.record(t, "emp-7", friday).Status)
}

func TestProcess_UnresolvedCodeRetained(t *testing.T) {
	// GIVEN: A punch whose code matches nobody
	// WHEN: Reconciling
	// THEN: It stays unprocessed with a warning, and resolves once the
	//       employee is added to the directory

	f := newFixture(t)
	f.punch(t, "X999", at(friday, "08:00"))
	f.punch(t, "E007", at(friday, "08:00"))

	summary := f.process(t)
	assert.Equal(t, 2, summary.TotalGroups)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Unresolved)
	require.Len(t, summary.Warnings, 1)
	assert.Equal(t, reconcile.WarnUnresolved, summary.Warnings[0].Kind)
	assert.Equal(t, "X999", summary.Warnings[0].EmployeeCode)

	left := f.unprocessed(t)
	require.Len(t, left, 1)
	assert.Equal(t, "X999", left[0].EmployeeCode)

	require.NoError(t, f.mem.SaveEmployee(context.Background(), attendance.Employee{
		ID: "emp-999", TenantID: tenant, EmployeeNumber: "X999", IsActive: true,
	}))
	summary = f.process(t)
	assert.Equal(t, 1, summary.Processed)
	assert.Empty(t, f.unprocessed(t))
}

// =============================================================================
// SUPPLEMENTED BEHAVIOR
// =============================================================================

func TestProcess_Overtime(t *testing.T) {
	// end 17:00 + 30 min threshold; leaving 18:15 is 0.75h overtime
	f := newFixture(t)
	f.punch(t, "E007", at(friday, "07:59"))
	f.punch(t, "E007", at(friday, "18:15"))
	f.process(t)

	rec := f.record(t, "emp-7", friday)
	require.NotNil(t, rec)
	assert.True(t, decimal.RequireFromString("0.75").Equal(rec.OvertimeHours), rec.OvertimeHours.String())
}

func TestProcess_LateArrivingPunchRecomputesDay(t *testing.T) {
	// GIVEN: A morning punch reconciled as a single-punch day
	// WHEN: The afternoon punch arrives in a later import
	// THEN: The day is recomputed from both punches

	f := newFixture(t)
	f.punch(t, "E007", at(friday, "08:30"))
	f.process(t)
	require.Nil(t, f.record(t, "emp-7", friday).CheckOut)

	f.punch(t, "E007", at(friday, "17:00"))
	summary := f.process(t)
	assert.Equal(t, 1, summary.Updated)

	rec := f.record(t, "emp-7", friday)
	require.NotNil(t, rec.CheckOut)
	assert.Equal(t, at(friday, "08:30"), *rec.CheckIn, "check-in kept from the earlier run")
	assert.Equal(t, attendance.StatusLate, rec.Status)
}

func TestProcess_CodesOfOneEmployeeShareOneDay(t *testing.T) {
	// GIVEN: Prefix matching, and two devices storing employee X12345 as
	//        X12345 and the truncated X123
	f := newFixture(t)
	f.engine.Directory = directory.NewResolver(f.mem, true)
	require.NoError(t, f.mem.SaveEmployee(context.Background(), attendance.Employee{
		ID: "emp-9", TenantID: tenant, EmployeeNumber: "X12345", IsActive: true,
	}))
	f.punch(t, "X12345", at(friday, "08:00"))
	f.punch(t, "X123", at(friday, "18:30"))

	// WHEN: Reconciling
	summary := f.process(t)

	// THEN: Both codes make one day with in 08:00 and out 18:30
	assert.Equal(t, 1, summary.TotalGroups)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 2, summary.Punches)
	assert.Empty(t, f.unprocessed(t))

	rec := f.record(t, "emp-9", friday)
	require.NotNil(t, rec)
	assert.Equal(t, at(friday, "08:00"), *rec.CheckIn)
	require.NotNil(t, rec.CheckOut)
	assert.Equal(t, at(friday, "18:30"), *rec.CheckOut)
	assert.Equal(t, attendance.StatusPresent, rec.Status)
	assert.True(t, decimal.RequireFromString("1").Equal(rec.OvertimeHours), rec.OvertimeHours.String())

	// WHEN: A later punch arrives under the truncated code only
	f.punch(t, "X123", at(friday, "19:00"))
	summary = f.process(t)

	// THEN: The earlier check-in from the other code is kept
	assert.Equal(t, 1, summary.Updated)
	rec = f.record(t, "emp-9", friday)
	assert.Equal(t, at(friday, "08:00"), *rec.CheckIn)
	assert.Equal(t, at(friday, "19:00"), *rec.CheckOut)
	assert.True(t, decimal.RequireFromString("1.5").Equal(rec.OvertimeHours), rec.OvertimeHours.String())
}

func TestProcess_NonWorkDaysDeferred(t *testing.T) {
	f := newFixture(t)
	f.punch(t, "E007", at(saturday, "09:00"))
	f.punch(t, "E001", at(holiday, "09:00"))

	summary := f.process(t)
	assert.Equal(t, 2, summary.Deferred)
	assert.Equal(t, 0, summary.Processed)
	assert.Nil(t, f.record(t, "emp-7", saturday))
	assert.Nil(t, f.record(t, "emp-1", holiday))
	assert.Empty(t, f.unprocessed(t), "deferred punches are consumed")
}

func TestProcess_LockedRecordNotOverwritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.PutAttendance(ctx, attendance.AttendanceRecord{
		TenantID: tenant, EmployeeID: "emp-7", Date: monday,
		Status: attendance.StatusLeave, Source: attendance.RecordManual, Locked: true,
	}))
	f.punch(t, "E007", at(monday, "08:00"))

	summary := f.process(t)
	assert.Equal(t, 1, summary.Locked)
	assert.Equal(t, attendance.StatusLeave, f.record(t, "emp-7", monday).Status)
	assert.Empty(t, f.unprocessed(t))
}

func TestProcess_NoScheduleLeftUnprocessed(t *testing.T) {
	nonDefault := officeSchedule()
	nonDefault.IsDefault = false
	f := newFixture(t, nonDefault)
	f.punch(t, "E007", at(friday, "08:00"))

	summary := f.process(t)
	assert.Equal(t, 1, summary.NoSchedule)
	assert.Len(t, f.unprocessed(t), 1)
	assert.Nil(t, f.record(t, "emp-7", friday))

	f.engine.Options.RecordAbsentWithoutSchedule = true
	summary = f.process(t)
	assert.Equal(t, 1, summary.Processed)
	rec := f.record(t, "emp-7", friday)
	require.NotNil(t, rec)
	assert.Equal(t, attendance.StatusAbsent, rec.Status)
	assert.Empty(t, f.unprocessed(t))
}

func TestProcess_ScopedByDateRange(t *testing.T) {
	f := newFixture(t)
	f.punch(t, "E007", at(friday, "08:00"))
	f.punch(t, "E007", at(monday, "08:00"))

	r, err := attendance.NewDateRange(monday, monday)
	require.NoError(t, err)
	summary, err := f.engine.Process(context.Background(), reconcile.Request{TenantID: tenant, Range: r})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalGroups)
	assert.Nil(t, f.record(t, "emp-7", friday))
	assert.NotNil(t, f.record(t, "emp-7", monday))
}

type failingStore struct {
	*store.Memory
	employee attendance.EmployeeID
}

func (f *failingStore) WithTx(ctx context.Context, fn func(attendance.Store) error) error {
	return f.Memory.WithTx(ctx, func(tx attendance.Store) error {
		return fn(failingTx{Store: tx, employee: f.employee})
	})
}

type failingTx struct {
	attendance.Store
	employee attendance.EmployeeID
}

func (f failingTx) UpsertAttendance(ctx context.Context, rec attendance.AttendanceRecord) (attendance.UpsertOutcome, error) {
	if rec.EmployeeID == f.employee {
		return 0, errors.New("disk full")
	}
	return f.Store.UpsertAttendance(ctx, rec)
}

func TestProcess_FailedGroupIsolated(t *testing.T) {
	// GIVEN: The upsert fails for one employee
	// THEN: Other groups commit; the failed group's punches stay unprocessed

	f := newFixture(t)
	f.engine.Store = &failingStore{Memory: f.mem, employee: "emp-1"}
	f.punch(t, "E001", at(friday, "08:00"))
	f.punch(t, "E007", at(friday, "08:00"))

	summary := f.process(t)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Processed)

	left := f.unprocessed(t)
	require.Len(t, left, 1)
	assert.Equal(t, "E001", left[0].EmployeeCode)
}

func TestProcess_RecordsRun(t *testing.T) {
	f := newFixture(t)
	f.punch(t, "E007", at(friday, "08:00"))
	summary := f.process(t)

	runs, err := f.mem.ListRuns(context.Background(), tenant, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)
	assert.Equal(t, reconcile.RunCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].Summary.Processed)
	assert.NotNil(t, runs[0].CompletedAt)
}

func TestProcess_TenantRequired(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Process(context.Background(), reconcile.Request{})
	assert.ErrorIs(t, err, attendance.ErrTenantRequired)
}
