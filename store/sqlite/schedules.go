package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/schedule"
)

// =============================================================================
// WORK SCHEDULES (schedule.Store interface)
// =============================================================================

// SaveSchedule inserts or replaces a schedule. Saving a default clears the
// tenant's previous default in the same transaction.
func (s *Store) SaveSchedule(ctx context.Context, ws schedule.WorkSchedule) (schedule.WorkSchedule, error) {
	if err := ws.Validate(); err != nil {
		return schedule.WorkSchedule{}, err
	}
	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}

	err := s.atomic(ctx, func(q queries) error {
		if ws.IsDefault {
			if _, err := q.db.ExecContext(ctx,
				"UPDATE work_schedules SET is_default = 0 WHERE tenant_id = ? AND id <> ?",
				ws.TenantID, ws.ID); err != nil {
				return fmt.Errorf("failed to clear default schedule: %w", err)
			}
		}
		res, err := q.db.ExecContext(ctx, `
			INSERT INTO work_schedules
			(id, tenant_id, name, start_seconds, end_seconds, work_days, break_minutes,
			 late_tolerance_minutes, early_leave_tolerance_minutes, overtime_after_minutes,
			 is_default, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				start_seconds = excluded.start_seconds,
				end_seconds = excluded.end_seconds,
				work_days = excluded.work_days,
				break_minutes = excluded.break_minutes,
				late_tolerance_minutes = excluded.late_tolerance_minutes,
				early_leave_tolerance_minutes = excluded.early_leave_tolerance_minutes,
				overtime_after_minutes = excluded.overtime_after_minutes,
				is_default = excluded.is_default,
				updated_at = excluded.updated_at
			WHERE work_schedules.tenant_id = excluded.tenant_id`,
			ws.ID, ws.TenantID, ws.Name, int(ws.StartTime), int(ws.EndTime), ws.WorkDays.String(),
			ws.BreakDurationMinutes, ws.LateToleranceMinutes, ws.EarlyLeaveToleranceMinutes,
			ws.OvertimeAfterMinutes, boolInt(ws.IsDefault), now(),
		)
		if err != nil {
			return fmt.Errorf("failed to save schedule: %w", err)
		}
		return ownedByTenant(res, "schedule", ws.ID)
	})
	if err != nil {
		return schedule.WorkSchedule{}, err
	}
	return ws, nil
}

func (s *Store) ListSchedules(ctx context.Context, tenantID string) ([]schedule.WorkSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, start_seconds, end_seconds, work_days, break_minutes,
		       late_tolerance_minutes, early_leave_tolerance_minutes, overtime_after_minutes, is_default
		FROM work_schedules
		WHERE tenant_id = ?
		ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []schedule.WorkSchedule
	for rows.Next() {
		var (
			ws         schedule.WorkSchedule
			start, end int
			workDays   string
			isDefault  int
		)
		err := rows.Scan(&ws.ID, &ws.TenantID, &ws.Name, &start, &end, &workDays, &ws.BreakDurationMinutes,
			&ws.LateToleranceMinutes, &ws.EarlyLeaveToleranceMinutes, &ws.OvertimeAfterMinutes, &isDefault)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		ws.StartTime = attendance.ClockTime(start)
		ws.EndTime = attendance.ClockTime(end)
		if ws.WorkDays, err = schedule.ParseWeekdays(strings.Split(workDays, ",")); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", ws.ID, err)
		}
		ws.IsDefault = isDefault != 0
		schedules = append(schedules, ws)
	}
	return schedules, rows.Err()
}

// =============================================================================
// SCHEDULE ASSIGNMENTS
// =============================================================================

// SaveAssignment links an employee to a schedule of the same tenant.
// Returns ErrNotFound for an unknown schedule.
func (s *Store) SaveAssignment(ctx context.Context, a schedule.Assignment) (schedule.Assignment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := s.atomic(ctx, func(q queries) error {
		var n int
		if err := q.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM work_schedules WHERE id = ? AND tenant_id = ?",
			a.ScheduleID, a.TenantID).Scan(&n); err != nil {
			return fmt.Errorf("failed to look up schedule: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: schedule %s", attendance.ErrNotFound, a.ScheduleID)
		}
		res, err := q.db.ExecContext(ctx, `
			INSERT INTO schedule_assignments
			(id, tenant_id, employee_id, schedule_id, effective_from, effective_to, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				employee_id = excluded.employee_id,
				schedule_id = excluded.schedule_id,
				effective_from = excluded.effective_from,
				effective_to = excluded.effective_to
			WHERE schedule_assignments.tenant_id = excluded.tenant_id`,
			a.ID, a.TenantID, string(a.EmployeeID), a.ScheduleID,
			a.EffectiveFrom.String(), nullDate(a.EffectiveTo), now(),
		)
		if err != nil {
			return fmt.Errorf("failed to save assignment: %w", err)
		}
		return ownedByTenant(res, "assignment", a.ID)
	})
	if err != nil {
		return schedule.Assignment{}, err
	}
	return a, nil
}

func (s *Store) ListAssignments(ctx context.Context, tenantID string) ([]schedule.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, employee_id, schedule_id, effective_from, effective_to
		FROM schedule_assignments
		WHERE tenant_id = ?
		ORDER BY effective_from`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []schedule.Assignment
	for rows.Next() {
		var (
			a    schedule.Assignment
			from string
			to   sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.TenantID, &a.EmployeeID, &a.ScheduleID, &from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if a.EffectiveFrom, err = attendance.ParseDate(from); err != nil {
			return nil, err
		}
		if a.EffectiveTo, err = parseNullDate(to); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func (s *Store) SaveHoliday(ctx context.Context, h schedule.Holiday) (schedule.Holiday, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, tenant_id, name, start_date, end_date, is_recurring, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			is_recurring = excluded.is_recurring
		WHERE holidays.tenant_id = excluded.tenant_id`,
		h.ID, h.TenantID, h.Name, h.StartDate.String(), nullDate(h.EndDate), boolInt(h.IsRecurring), now(),
	)
	if err != nil {
		return schedule.Holiday{}, fmt.Errorf("failed to save holiday: %w", err)
	}
	if err := ownedByTenant(res, "holiday", h.ID); err != nil {
		return schedule.Holiday{}, err
	}
	return h, nil
}

// ListHolidays returns the tenant's holidays plus global ones.
func (s *Store) ListHolidays(ctx context.Context, tenantID string) ([]schedule.Holiday, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, start_date, end_date, is_recurring
		FROM holidays
		WHERE tenant_id = ? OR tenant_id = ''
		ORDER BY start_date`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var holidays []schedule.Holiday
	for rows.Next() {
		var (
			h         schedule.Holiday
			start     string
			end       sql.NullString
			recurring int
		)
		if err := rows.Scan(&h.ID, &h.TenantID, &h.Name, &start, &end, &recurring); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		if h.StartDate, err = attendance.ParseDate(start); err != nil {
			return nil, err
		}
		if h.EndDate, err = parseNullDate(end); err != nil {
			return nil, err
		}
		h.IsRecurring = recurring != 0
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// DeleteHoliday removes a tenant holiday. Global holidays are not reachable
// through a tenant.
func (s *Store) DeleteHoliday(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM holidays WHERE id = ? AND tenant_id = ?", id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete holiday: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return attendance.ErrNotFound
	}
	return nil
}
