package factory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/attendance/store"
	"github.com/warp/punchclock/factory"
	"github.com/warp/punchclock/schedule"
)

const seedYAML = `
tenant_id: acme
schedules:
  - id: office
    name: Office Hours
    start_time: "08:00"
    end_time: "17:00"
    work_days: [mon, tue, wed, thu, fri]
    late_tolerance_minutes: 15
    is_default: true
  - name: Weekend Crew
    start_time: "09:00"
    end_time: "15:00"
    work_days: sat,sun
assignments:
  - employee_id: emp-2
    schedule_id: weekend crew
    effective_from: 2024-01-01
holidays:
  - name: New Year
    start_date: 2024-01-01
    is_recurring: true
employees:
  - id: emp-1
    employee_number: "1001"
    name: Ana
  - id: emp-2
    employee_number: "1002"
    name: Budi
    is_active: false
devices:
  - id: lobby
    name: Lobby Terminal
`

func TestParseYAML_Defaults(t *testing.T) {
	seed, err := factory.ParseYAML([]byte(seedYAML))
	require.NoError(t, err)

	require.Len(t, seed.Schedules, 2)
	office := seed.Schedules[0]
	assert.Equal(t, "acme", office.TenantID)
	assert.Equal(t, attendance.NewClockTime(8, 0), office.StartTime)
	assert.Equal(t, schedule.DefaultWorkDays, office.WorkDays)

	weekend := seed.Schedules[1]
	assert.NotEmpty(t, weekend.ID, "id generated")
	assert.Equal(t, "sat,sun", weekend.WorkDays.String())

	require.Len(t, seed.Assignments, 1)
	assert.Equal(t, weekend.ID, seed.Assignments[0].ScheduleID, "schedule referenced by name")
	assert.Equal(t, "2024-01-01", seed.Assignments[0].EffectiveFrom.String())

	assert.True(t, seed.Employees[0].Employee().IsActive)
	assert.False(t, seed.Employees[1].Employee().IsActive)
	assert.Equal(t, "acme", seed.Devices[0].Device().TenantID)
}

func TestParseJSON(t *testing.T) {
	seed, err := factory.ParseJSON([]byte(`{
		"tenant_id": "acme",
		"schedules": [{"name": "Office", "start_time": "08:00", "end_time": "17:00", "is_default": true}],
		"employees": [{"employee_number": "1001", "name": "Ana"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, schedule.DefaultWorkDays, seed.Schedules[0].WorkDays)
	assert.NotEmpty(t, seed.Employees[0].ID)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"no tenant", `schedules: []`, attendance.ErrTenantRequired},
		{"overnight schedule", "tenant_id: acme\nschedules:\n  - name: Night\n    start_time: \"22:00\"\n    end_time: \"06:00\"\n", attendance.ErrInvalidSchedule},
		{"two defaults", "tenant_id: acme\nschedules:\n  - {name: A, start_time: \"08:00\", end_time: \"17:00\", is_default: true}\n  - {name: B, start_time: \"08:00\", end_time: \"17:00\", is_default: true}\n", attendance.ErrInvalidSchedule},
		{"unknown schedule", "tenant_id: acme\nassignments:\n  - {employee_id: emp-1, schedule_id: ghost, effective_from: 2024-01-01}\n", attendance.ErrInvalidSchedule},
		{"duplicate number", "tenant_id: acme\nemployees:\n  - {employee_number: \"1\"}\n  - {employee_number: \"1\"}\n", attendance.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.ParseYAML([]byte(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestApply_WritesEverything(t *testing.T) {
	// GIVEN: A parsed seed
	// WHEN: Applied to a store twice
	// THEN: Every entity is stored once and the snapshot resolves

	seed, err := factory.ParseYAML([]byte(seedYAML))
	require.NoError(t, err)
	mem := store.NewMemory()
	ctx := context.Background()

	counts, err := seed.Apply(ctx, mem)
	require.NoError(t, err)
	assert.Equal(t, factory.Counts{Schedules: 2, Assignments: 1, Holidays: 1, Employees: 2, Devices: 1}, counts)
	_, err = seed.Apply(ctx, mem)
	require.NoError(t, err)

	schedules, _ := mem.ListSchedules(ctx, "acme")
	assert.Len(t, schedules, 2)
	active, _ := mem.ListActiveEmployees(ctx, "acme")
	assert.Len(t, active, 1)

	snap, err := schedule.LoadSnapshot(ctx, mem, "acme")
	require.NoError(t, err)
	ws, holiday, err := snap.Resolve("emp-2", attendance.MustParseDate("2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, "Weekend Crew", ws.Name)
	assert.True(t, holiday, "recurring new year")
}

func TestLoadFile_RoundTrip(t *testing.T) {
	seed, err := factory.ParseYAML([]byte(seedYAML))
	require.NoError(t, err)
	out, err := seed.EncodeYAML()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, out, 0o600))

	loaded, err := factory.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, seed.Schedules, loaded.Schedules)
	assert.Equal(t, seed.Assignments[0].ScheduleID, loaded.Assignments[0].ScheduleID)
}
