package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/attendance/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func punchAt(code, ts string, typ attendance.PunchType) attendance.PunchRecord {
	t, err := time.Parse("2006-01-02 15:04:05", ts)
	if err != nil {
		panic(err)
	}
	return attendance.PunchRecord{
		TenantID:           "acme",
		EmployeeCode:       code,
		PunchTime:          t,
		PunchType:          typ,
		VerificationMethod: attendance.VerifyFingerprint,
		Source:             attendance.SourceFileImport,
	}
}

// =============================================================================
// APPEND TESTS
// =============================================================================

func TestPunchLedger_Append_AssignsIDsAndUnprocessed(t *testing.T) {
	// GIVEN: Two punches, one claiming to be processed already
	// WHEN: Appending them
	// THEN: Both stored unprocessed with sortable ids

	mem := store.NewMemory()
	ledger := attendance.NewPunchLedger(mem)
	ctx := context.Background()

	p1 := punchAt("E001", "2024-03-01 07:55:00", attendance.PunchIn)
	p2 := punchAt("E001", "2024-03-01 17:05:00", attendance.PunchOut)
	p2.IsProcessed = true

	result, err := ledger.Append(ctx, []attendance.PunchRecord{p1, p2})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Written)
	assert.Equal(t, 0, result.Duplicates)

	stored, err := mem.ListPunches(ctx, attendance.PunchFilter{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, p := range stored {
		assert.NotEmpty(t, p.ID)
		assert.False(t, p.IsProcessed)
		assert.False(t, p.CreatedAt.IsZero())
	}
	assert.Less(t, string(stored[0].ID), string(stored[1].ID), "ulids sort by arrival")
}

func TestPunchLedger_Append_OverlappingImportsDeduplicated(t *testing.T) {
	// GIVEN: A file imported once
	// WHEN: An overlapping file with one new punch is imported
	// THEN: Only the new punch is written, the rest count as duplicates

	mem := store.NewMemory()
	ledger := attendance.NewPunchLedger(mem)
	ctx := context.Background()

	first := []attendance.PunchRecord{
		punchAt("E001", "2024-03-01 07:55:00", attendance.PunchIn),
		punchAt("E001", "2024-03-01 17:05:00", attendance.PunchOut),
	}
	_, err := ledger.Append(ctx, first)
	require.NoError(t, err)

	second := append(first, punchAt("E002", "2024-03-01 08:01:00", attendance.PunchIn))
	result, err := ledger.Append(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
	assert.Equal(t, 2, result.Duplicates)

	stored, err := mem.ListPunches(ctx, attendance.PunchFilter{TenantID: "acme"})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestPunchLedger_Append_DuplicateWithinBatch(t *testing.T) {
	mem := store.NewMemory()
	ledger := attendance.NewPunchLedger(mem)

	p := punchAt("E001", "2024-03-01 07:55:00", attendance.PunchIn)
	result, err := ledger.Append(context.Background(), []attendance.PunchRecord{p, p})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
	assert.Equal(t, 1, result.Duplicates)
}

func TestPunchLedger_Append_RejectsInvalidPunch(t *testing.T) {
	mem := store.NewMemory()
	ledger := attendance.NewPunchLedger(mem)
	ctx := context.Background()

	noTenant := punchAt("E001", "2024-03-01 07:55:00", attendance.PunchIn)
	noTenant.TenantID = ""
	_, err := ledger.Append(ctx, []attendance.PunchRecord{noTenant})
	assert.ErrorIs(t, err, attendance.ErrTenantRequired)

	badType := punchAt("E001", "2024-03-01 07:55:00", "sideways")
	_, err = ledger.Append(ctx, []attendance.PunchRecord{badType})
	assert.Error(t, err)

	stored, _ := mem.ListPunches(ctx, attendance.PunchFilter{})
	assert.Empty(t, stored, "a rejected batch writes nothing")
}

func TestPunchRecord_IdempotencyKey_DependsOnDirection(t *testing.T) {
	in := punchAt("E001", "2024-03-01 07:55:00", attendance.PunchIn)
	out := punchAt("E001", "2024-03-01 07:55:00", attendance.PunchOut)
	assert.NotEqual(t, in.IdempotencyKey(), out.IdempotencyKey())

	other := in
	other.DeviceID = "dev-9"
	assert.Equal(t, in.IdempotencyKey(), other.IdempotencyKey(), "device does not change the physical event")
}

// =============================================================================
// MEMORY STORE TRANSACTIONS
// =============================================================================

func TestMemory_WithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A record upserted inside a transaction that then fails
	// WHEN: The transaction returns an error
	// THEN: Neither the record nor the processed flag survive

	mem := store.NewMemory()
	ledger := attendance.NewPunchLedger(mem)
	ctx := context.Background()

	_, err := ledger.Append(ctx, []attendance.PunchRecord{punchAt("E001", "2024-03-01 07:55:00", attendance.PunchIn)})
	require.NoError(t, err)
	punches, _ := mem.ListPunches(ctx, attendance.PunchFilter{})
	require.Len(t, punches, 1)

	day := attendance.MustParseDate("2024-03-01")
	err = mem.WithTx(ctx, func(tx attendance.Store) error {
		if _, err := tx.UpsertAttendance(ctx, attendance.AttendanceRecord{
			TenantID: "acme", EmployeeID: "emp-1", Date: day, Status: attendance.StatusPresent,
		}); err != nil {
			return err
		}
		if err := tx.MarkProcessed(ctx, []attendance.PunchID{punches[0].ID}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	rec, err := mem.GetAttendance(ctx, attendance.RecordKey{TenantID: "acme", EmployeeID: "emp-1", Date: day})
	require.NoError(t, err)
	assert.Nil(t, rec)

	processed := false
	unprocessed, _ := mem.ListPunches(ctx, attendance.PunchFilter{Processed: &processed})
	assert.Len(t, unprocessed, 1)
}

func TestMemory_Upsert_LockedRowSkipped(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	day := attendance.MustParseDate("2024-03-01")

	manual := attendance.AttendanceRecord{
		TenantID: "acme", EmployeeID: "emp-1", Date: day,
		Status: attendance.StatusLeave, Source: attendance.RecordManual, Locked: true,
	}
	require.NoError(t, mem.PutAttendance(ctx, manual))

	outcome, err := mem.UpsertAttendance(ctx, attendance.AttendanceRecord{
		TenantID: "acme", EmployeeID: "emp-1", Date: day, Status: attendance.StatusPresent,
	})
	require.NoError(t, err)
	assert.Equal(t, attendance.UpsertSkippedLocked, outcome)

	rec, err := mem.GetAttendance(ctx, manual.Key())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, attendance.StatusLeave, rec.Status)
}
