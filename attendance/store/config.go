package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/reconcile"
	"github.com/warp/punchclock/schedule"
)

// =============================================================================
// SCHEDULES + HOLIDAYS (schedule.Store)
// =============================================================================

// idConflict mirrors the SQL store: an id owned by another tenant is never
// overwritten.
func idConflict(kind, id string) error {
	return fmt.Errorf("%w: %s %s", attendance.ErrIDConflict, kind, id)
}

// SaveSchedule inserts or replaces a schedule. A new default clears the
// tenant's previous default.
func (m *Memory) SaveSchedule(_ context.Context, ws schedule.WorkSchedule) (schedule.WorkSchedule, error) {
	if err := ws.Validate(); err != nil {
		return schedule.WorkSchedule{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	if old, ok := m.schedules[ws.ID]; ok && old.TenantID != ws.TenantID {
		return schedule.WorkSchedule{}, idConflict("schedule", ws.ID)
	}
	if ws.IsDefault {
		for id, other := range m.schedules {
			if other.TenantID == ws.TenantID && other.IsDefault && id != ws.ID {
				other.IsDefault = false
				m.schedules[id] = other
			}
		}
	}
	m.schedules[ws.ID] = ws
	return ws, nil
}

func (m *Memory) ListSchedules(_ context.Context, tenantID string) ([]schedule.WorkSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []schedule.WorkSchedule
	for _, ws := range m.schedules {
		if ws.TenantID == tenantID {
			result = append(result, ws)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) SaveAssignment(_ context.Context, a schedule.Assignment) (schedule.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ws, ok := m.schedules[a.ScheduleID]; !ok || ws.TenantID != a.TenantID {
		return schedule.Assignment{}, attendance.ErrNotFound
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if old, ok := m.assignments[a.ID]; ok && old.TenantID != a.TenantID {
		return schedule.Assignment{}, idConflict("assignment", a.ID)
	}
	m.assignments[a.ID] = a
	return a, nil
}

func (m *Memory) ListAssignments(_ context.Context, tenantID string) ([]schedule.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []schedule.Assignment
	for _, a := range m.assignments {
		if a.TenantID == tenantID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EffectiveFrom.Before(result[j].EffectiveFrom) })
	return result, nil
}

func (m *Memory) SaveHoliday(_ context.Context, h schedule.Holiday) (schedule.Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if old, ok := m.holidays[h.ID]; ok && old.TenantID != h.TenantID {
		return schedule.Holiday{}, idConflict("holiday", h.ID)
	}
	m.holidays[h.ID] = h
	return h, nil
}

// ListHolidays returns the tenant's holidays plus global ones.
func (m *Memory) ListHolidays(_ context.Context, tenantID string) ([]schedule.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []schedule.Holiday
	for _, h := range m.holidays {
		if h.TenantID == "" || h.TenantID == tenantID {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartDate.Before(result[j].StartDate) })
	return result, nil
}

// DeleteHoliday removes a tenant holiday. Global holidays cannot be deleted
// through a tenant.
func (m *Memory) DeleteHoliday(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holidays[id]
	if !ok || h.TenantID != tenantID {
		return attendance.ErrNotFound
	}
	delete(m.holidays, id)
	return nil
}

// =============================================================================
// RECONCILIATION RUNS (reconcile.RunStore)
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run reconcile.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

// ListRuns returns the newest runs first. limit <= 0 returns all.
func (m *Memory) ListRuns(_ context.Context, tenantID string, limit int) ([]reconcile.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []reconcile.Run
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].TenantID != tenantID {
			continue
		}
		result = append(result, m.runs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}
