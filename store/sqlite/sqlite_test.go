package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/directory"
	"github.com/warp/punchclock/reconcile"
	"github.com/warp/punchclock/schedule"
	"github.com/warp/punchclock/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var day = attendance.MustParseDate("2024-03-01")

func punchAt(code, clock string, typ attendance.PunchType) attendance.PunchRecord {
	return attendance.PunchRecord{
		TenantID:           "acme",
		EmployeeCode:       code,
		PunchTime:          day.At(attendance.MustParseClock(clock)),
		PunchType:          typ,
		VerificationMethod: attendance.VerifyFingerprint,
		DeviceID:           "dev-1",
		Source:             attendance.SourceDevice,
	}
}

// =============================================================================
// PUNCHES
// =============================================================================

func TestPunches_AppendDedupesByIdempotencyKey(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ledger := attendance.NewPunchLedger(s)

	first, err := ledger.Append(ctx, []attendance.PunchRecord{
		punchAt("E1", "17:00", attendance.PunchOut),
		punchAt("E1", "08:00", attendance.PunchIn),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Written)

	again, err := ledger.Append(ctx, []attendance.PunchRecord{punchAt("E1", "08:00", attendance.PunchIn)})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Written)
	assert.Equal(t, 1, again.Duplicates)

	punches, err := s.ListPunches(ctx, attendance.PunchFilter{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, punches, 2)
	assert.Equal(t, attendance.PunchIn, punches[0].PunchType, "ordered by punch time")
	assert.True(t, punches[0].PunchTime.Equal(day.At(attendance.NewClockTime(8, 0))))
	assert.Equal(t, "dev-1", punches[0].DeviceID)
	assert.False(t, punches[0].IsProcessed)
}

func TestPunches_FiltersAndMarkProcessed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := attendance.NewPunchLedger(s).Append(ctx, []attendance.PunchRecord{
		punchAt("E1", "08:00", attendance.PunchIn),
		punchAt("E2", "08:05", attendance.PunchIn),
	})
	require.NoError(t, err)

	onDay, err := s.PunchesOnDate(ctx, "acme", day)
	require.NoError(t, err)
	require.Len(t, onDay, 2)
	assert.Equal(t, "E1", onDay[0].EmployeeCode)
	empty, err := s.PunchesOnDate(ctx, "globex", day)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.MarkProcessed(ctx, []attendance.PunchID{onDay[0].ID}))

	no := false
	pending, err := s.ListPunches(ctx, attendance.PunchFilter{TenantID: "acme", Processed: &no})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "E2", pending[0].EmployeeCode)

	next := day.AddDays(1)
	none, err := s.ListPunches(ctx, attendance.PunchFilter{TenantID: "acme", Range: attendance.DateRange{From: &next}})
	require.NoError(t, err)
	assert.Empty(t, none)

	limited, err := s.ListPunches(ctx, attendance.PunchFilter{TenantID: "acme", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func record(status attendance.Status) attendance.AttendanceRecord {
	in := day.At(attendance.NewClockTime(8, 0))
	return attendance.AttendanceRecord{
		TenantID:      "acme",
		EmployeeID:    "emp-1",
		Date:          day,
		CheckIn:       &in,
		Status:        status,
		OvertimeHours: decimal.RequireFromString("0.75"),
		Source:        attendance.RecordFingerprint,
	}
}

func TestAttendance_UpsertOutcomes(t *testing.T) {
	// GIVEN: An empty table
	// WHEN: The same key is upserted, locked, then upserted again
	// THEN: inserted, updated, skipped; the locked row keeps its values

	s := newStore(t)
	ctx := context.Background()

	outcome, err := s.UpsertAttendance(ctx, record(attendance.StatusPresent))
	require.NoError(t, err)
	assert.Equal(t, attendance.UpsertInserted, outcome)

	outcome, err = s.UpsertAttendance(ctx, record(attendance.StatusLate))
	require.NoError(t, err)
	assert.Equal(t, attendance.UpsertUpdated, outcome)

	key := record("").Key()
	require.NoError(t, s.SetLocked(ctx, key, true))

	outcome, err = s.UpsertAttendance(ctx, record(attendance.StatusPresent))
	require.NoError(t, err)
	assert.Equal(t, attendance.UpsertSkippedLocked, outcome)

	got, err := s.GetAttendance(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, attendance.StatusLate, got.Status)
	assert.True(t, got.Locked)
	assert.True(t, got.OvertimeHours.Equal(decimal.RequireFromString("0.75")))
	assert.Nil(t, got.CheckOut)

	// Operator path overwrites regardless of the lock.
	leave := record(attendance.StatusLeave)
	leave.Locked = true
	require.NoError(t, s.PutAttendance(ctx, leave))
	got, _ = s.GetAttendance(ctx, key)
	assert.Equal(t, attendance.StatusLeave, got.Status)

	list, err := s.ListAttendance(ctx, attendance.AttendanceFilter{TenantID: "acme"})
	require.NoError(t, err)
	assert.Len(t, list, 1, "one row per key")
}

func TestAttendance_MissingRows(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	key := attendance.RecordKey{TenantID: "acme", EmployeeID: "ghost", Date: day}

	got, err := s.GetAttendance(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, s.SetLocked(ctx, key, true), attendance.ErrNotFound)
}

func TestAttendance_ListOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, d := range []string{"2024-03-02", "2024-03-01", "2024-03-03"} {
		rec := record(attendance.StatusPresent)
		rec.Date = attendance.MustParseDate(d)
		_, err := s.UpsertAttendance(ctx, rec)
		require.NoError(t, err)
	}

	asc, err := s.ListAttendance(ctx, attendance.AttendanceFilter{TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", asc[0].Date.String())

	from := attendance.MustParseDate("2024-03-02")
	desc, err := s.ListAttendance(ctx, attendance.AttendanceFilter{TenantID: "acme", Range: attendance.DateRange{From: &from}, Descending: true})
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, "2024-03-03", desc[0].Date.String())
}

func TestWithTx_RollbackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx attendance.Store) error {
		if _, err := tx.UpsertAttendance(ctx, record(attendance.StatusPresent)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetAttendance(ctx, record("").Key())
	require.NoError(t, err)
	assert.Nil(t, got, "rolled back")
}

// =============================================================================
// DIRECTORY + DEVICES
// =============================================================================

func TestEmployees_Lookup(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, e := range []attendance.Employee{
		{ID: "emp-1", TenantID: "acme", EmployeeNumber: "1001", IsActive: true},
		{ID: "emp-2", TenantID: "acme", EmployeeNumber: "10_2", IsActive: true},
		{ID: "emp-3", TenantID: "acme", EmployeeNumber: "2001", IsActive: false},
		{ID: "emp-4", TenantID: "globex", EmployeeNumber: "1001", IsActive: true},
	} {
		require.NoError(t, s.SaveEmployee(ctx, e))
	}

	exact, err := s.FindEmployeesByNumber(ctx, "acme", "1001")
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.Equal(t, attendance.EmployeeID("emp-1"), exact[0].ID)

	prefix, err := s.FindEmployeesByNumberPrefix(ctx, "acme", "10_")
	require.NoError(t, err)
	require.Len(t, prefix, 1, "underscore is literal")
	assert.Equal(t, "10_2", prefix[0].EmployeeNumber)

	active, err := s.ListActiveEmployees(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	all, err := s.ListEmployees(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	id, err := directory.NewResolver(s, true).ResolveByCode(ctx, "acme", "100")
	require.NoError(t, err)
	assert.Equal(t, attendance.EmployeeID("emp-1"), id)
}

func TestDevices_SyncStamp(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDevice(ctx, attendance.Device{ID: "dev-1", TenantID: "acme", Name: "Lobby", IsActive: true}))

	dev, err := s.GetDevice(ctx, "globex", "dev-1")
	require.NoError(t, err)
	assert.Nil(t, dev, "other tenant")

	at := time.Date(2024, 3, 1, 19, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordDeviceSync(ctx, "acme", "dev-1", at, 12))
	dev, err = s.GetDevice(ctx, "acme", "dev-1")
	require.NoError(t, err)
	require.NotNil(t, dev.LastSyncAt)
	assert.True(t, dev.LastSyncAt.Equal(at))
	assert.Equal(t, 12, dev.TotalEmployees)

	assert.ErrorIs(t, s.RecordDeviceSync(ctx, "acme", "ghost", at, 1), attendance.ErrDeviceNotFound)

	devices, err := s.ListDevices(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

// =============================================================================
// SCHEDULES + HOLIDAYS
// =============================================================================

func office(id string, isDefault bool) schedule.WorkSchedule {
	return schedule.WorkSchedule{
		ID: id, TenantID: "acme", Name: "Office " + id,
		StartTime: attendance.NewClockTime(8, 0), EndTime: attendance.NewClockTime(17, 0),
		WorkDays: schedule.DefaultWorkDays, LateToleranceMinutes: 15, IsDefault: isDefault,
	}
}

func TestSchedules_NewDefaultClearsPrevious(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.SaveSchedule(ctx, office("a", true))
	require.NoError(t, err)
	_, err = s.SaveSchedule(ctx, office("b", true))
	require.NoError(t, err)

	schedules, err := s.ListSchedules(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, schedules, 2)
	defaults := 0
	for _, ws := range schedules {
		if ws.IsDefault {
			defaults++
			assert.Equal(t, "b", ws.ID)
		}
		assert.Equal(t, schedule.DefaultWorkDays, ws.WorkDays)
		assert.Equal(t, 15, ws.LateToleranceMinutes)
	}
	assert.Equal(t, 1, defaults)

	bad := office("c", false)
	bad.EndTime = bad.StartTime
	_, err = s.SaveSchedule(ctx, bad)
	assert.ErrorIs(t, err, attendance.ErrInvalidSchedule)
}

func TestSchedules_SnapshotFromStore(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.SaveSchedule(ctx, office("day", true))
	require.NoError(t, err)
	late := office("late", false)
	late.StartTime = attendance.NewClockTime(12, 0)
	late.EndTime = attendance.NewClockTime(21, 0)
	_, err = s.SaveSchedule(ctx, late)
	require.NoError(t, err)

	_, err = s.SaveAssignment(ctx, schedule.Assignment{TenantID: "acme", EmployeeID: "emp-2", ScheduleID: "late", EffectiveFrom: day})
	require.NoError(t, err)
	_, err = s.SaveAssignment(ctx, schedule.Assignment{TenantID: "acme", EmployeeID: "emp-2", ScheduleID: "ghost", EffectiveFrom: day})
	assert.ErrorIs(t, err, attendance.ErrNotFound)

	global, err := s.SaveHoliday(ctx, schedule.Holiday{Name: "New Year", StartDate: attendance.MustParseDate("2024-01-01"), IsRecurring: true})
	require.NoError(t, err)
	local, err := s.SaveHoliday(ctx, schedule.Holiday{TenantID: "acme", Name: "Founders Day", StartDate: attendance.MustParseDate("2024-03-11")})
	require.NoError(t, err)
	_, err = s.SaveHoliday(ctx, schedule.Holiday{TenantID: "globex", Name: "Other", StartDate: day})
	require.NoError(t, err)

	snap, err := schedule.StoreSource{Store: s}.Snapshot(ctx, "acme")
	require.NoError(t, err)

	ws, holiday, err := snap.Resolve("emp-2", day)
	require.NoError(t, err)
	assert.Equal(t, "late", ws.ID)
	assert.False(t, holiday, "globex holiday not visible")
	assert.True(t, snap.IsHoliday(attendance.MustParseDate("2025-01-01")))
	assert.True(t, snap.IsHoliday(attendance.MustParseDate("2024-03-11")))

	assert.ErrorIs(t, s.DeleteHoliday(ctx, "acme", global.ID), attendance.ErrNotFound, "global holiday")
	require.NoError(t, s.DeleteHoliday(ctx, "acme", local.ID))
	holidays, err := s.ListHolidays(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, holidays, 1)
}

func TestSchedules_OtherTenantCannotTakeOverID(t *testing.T) {
	// GIVEN: acme owns schedule "shared" and an assignment to it
	s := newStore(t)
	ctx := context.Background()
	_, err := s.SaveSchedule(ctx, office("shared", true))
	require.NoError(t, err)
	_, err = s.SaveAssignment(ctx, schedule.Assignment{ID: "assign-1", TenantID: "acme", EmployeeID: "emp-1", ScheduleID: "shared", EffectiveFrom: day})
	require.NoError(t, err)

	// WHEN: globex saves a schedule under the same id
	theirs := office("shared", true)
	theirs.TenantID = "globex"
	theirs.Name = "Globex night"
	_, err = s.SaveSchedule(ctx, theirs)

	// THEN: The save is rejected and acme keeps its schedule
	assert.ErrorIs(t, err, attendance.ErrIDConflict)
	mine, err := s.ListSchedules(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Office shared", mine[0].Name)
	assert.True(t, mine[0].IsDefault)
	other, err := s.ListSchedules(ctx, "globex")
	require.NoError(t, err)
	assert.Empty(t, other)

	// AND: acme's assignment still resolves
	snap, err := schedule.StoreSource{Store: s}.Snapshot(ctx, "acme")
	require.NoError(t, err)
	ws, _, err := snap.Resolve("emp-1", day)
	require.NoError(t, err)
	assert.Equal(t, "shared", ws.ID)
}

func TestSaves_IDOwnedByOtherTenantIsRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// GIVEN: One row of each kind owned by acme, and a globex schedule
	_, err := s.SaveSchedule(ctx, office("acme-office", true))
	require.NoError(t, err)
	globexOffice := office("globex-office", true)
	globexOffice.TenantID = "globex"
	_, err = s.SaveSchedule(ctx, globexOffice)
	require.NoError(t, err)
	_, err = s.SaveAssignment(ctx, schedule.Assignment{ID: "assign-1", TenantID: "acme", EmployeeID: "emp-1", ScheduleID: "acme-office", EffectiveFrom: day})
	require.NoError(t, err)
	_, err = s.SaveHoliday(ctx, schedule.Holiday{ID: "hol-1", TenantID: "acme", Name: "Founders Day", StartDate: day})
	require.NoError(t, err)
	_, err = s.SaveHoliday(ctx, schedule.Holiday{ID: "hol-global", Name: "New Year", StartDate: attendance.MustParseDate("2024-01-01"), IsRecurring: true})
	require.NoError(t, err)
	require.NoError(t, s.SaveEmployee(ctx, attendance.Employee{ID: "emp-1", TenantID: "acme", EmployeeNumber: "1001", Name: "Ana", IsActive: true}))
	require.NoError(t, s.SaveDevice(ctx, attendance.Device{ID: "dev-1", TenantID: "acme", Name: "Lobby", IsActive: true}))

	tests := []struct {
		name string
		save func() error
	}{
		{"assignment", func() error {
			_, err := s.SaveAssignment(ctx, schedule.Assignment{ID: "assign-1", TenantID: "globex", EmployeeID: "emp-9", ScheduleID: "globex-office", EffectiveFrom: day})
			return err
		}},
		{"holiday", func() error {
			_, err := s.SaveHoliday(ctx, schedule.Holiday{ID: "hol-1", TenantID: "globex", Name: "Other", StartDate: day.AddDays(1)})
			return err
		}},
		{"global holiday", func() error {
			_, err := s.SaveHoliday(ctx, schedule.Holiday{ID: "hol-global", TenantID: "globex", Name: "Mine now", StartDate: day})
			return err
		}},
		{"employee", func() error {
			return s.SaveEmployee(ctx, attendance.Employee{ID: "emp-1", TenantID: "globex", EmployeeNumber: "9", IsActive: true})
		}},
		{"device", func() error {
			return s.SaveDevice(ctx, attendance.Device{ID: "dev-1", TenantID: "globex", Name: "Dock", IsActive: true})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// WHEN: globex saves under acme's id, THEN: conflict
			assert.ErrorIs(t, tt.save(), attendance.ErrIDConflict)
		})
	}

	// THEN: Every acme row is unchanged
	assignments, err := s.ListAssignments(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, attendance.EmployeeID("emp-1"), assignments[0].EmployeeID)

	holidays, err := s.ListHolidays(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, holidays, 2)
	names := []string{holidays[0].Name, holidays[1].Name}
	assert.ElementsMatch(t, []string{"New Year", "Founders Day"}, names)

	employees, err := s.ListEmployees(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, employees, 1)
	assert.Equal(t, "1001", employees[0].EmployeeNumber)

	dev, err := s.GetDevice(ctx, "acme", "dev-1")
	require.NoError(t, err)
	require.NotNil(t, dev)
	assert.Equal(t, "Lobby", dev.Name)

	theirs, err := s.ListEmployees(ctx, "globex")
	require.NoError(t, err)
	assert.Empty(t, theirs)
	devices, err := s.ListDevices(ctx, "globex")
	require.NoError(t, err)
	assert.Empty(t, devices)

	// AND: Re-saving within the owning tenant still updates
	require.NoError(t, s.SaveDevice(ctx, attendance.Device{ID: "dev-1", TenantID: "acme", Name: "Front door", IsActive: true}))
	dev, err = s.GetDevice(ctx, "acme", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "Front door", dev.Name)

	_, err = schedule.StoreSource{Store: s}.Snapshot(ctx, "acme")
	require.NoError(t, err)
}

// =============================================================================
// RECONCILIATION OVER SQLITE
// =============================================================================

func TestReconcile_EndToEnd(t *testing.T) {
	// GIVEN: Punches in SQLite for a known employee and an unknown code
	// WHEN: Reconciled twice
	// THEN: One record, unknown code retained, run history persisted

	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveEmployee(ctx, attendance.Employee{ID: "emp-1", TenantID: "acme", EmployeeNumber: "E1", IsActive: true}))
	_, err := s.SaveSchedule(ctx, office("office", true))
	require.NoError(t, err)

	_, err = attendance.NewPunchLedger(s).Append(ctx, []attendance.PunchRecord{
		punchAt("E1", "08:20", attendance.PunchAuto),
		punchAt("E1", "17:45", attendance.PunchAuto),
		punchAt("X9", "08:00", attendance.PunchIn),
	})
	require.NoError(t, err)

	engine := reconcile.NewEngine(s, directory.NewResolver(s, false), schedule.StoreSource{Store: s})
	engine.Runs = s

	summary, err := engine.Process(ctx, reconcile.Request{TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Unresolved)

	rec, err := s.GetAttendance(ctx, attendance.RecordKey{TenantID: "acme", EmployeeID: "emp-1", Date: day})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, attendance.StatusLate, rec.Status)
	assert.Equal(t, "0.75", rec.OvertimeHours.StringFixed(2))

	again, err := engine.Process(ctx, reconcile.Request{TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Processed)
	assert.Equal(t, 1, again.Unresolved, "unknown code stays unprocessed")

	runs, err := s.ListRuns(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, reconcile.RunCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[1].Summary.Processed)
	require.NotNil(t, runs[1].CompletedAt)
}
