package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/punchclock/attendance"
)

// =============================================================================
// ATTENDANCE STORE (attendance.AttendanceStore interface)
// =============================================================================

const attendanceColumns = `id, tenant_id, employee_id, date, check_in, check_out, status,
	overtime_hours, source, device_id, locked, note, updated_at`

const upsertAttendance = `
	INSERT INTO attendance_records
	(id, tenant_id, employee_id, date, check_in, check_out, status,
	 overtime_hours, source, device_id, locked, note, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(tenant_id, employee_id, date) DO UPDATE SET
		check_in = excluded.check_in,
		check_out = excluded.check_out,
		status = excluded.status,
		overtime_hours = excluded.overtime_hours,
		source = excluded.source,
		device_id = excluded.device_id,
		locked = excluded.locked,
		note = excluded.note,
		updated_at = excluded.updated_at`

// UpsertAttendance writes the record unless the existing row is locked.
func (q queries) UpsertAttendance(ctx context.Context, rec attendance.AttendanceRecord) (attendance.UpsertOutcome, error) {
	outcome := attendance.UpsertInserted
	err := q.atomic(ctx, func(q queries) error {
		existing, err := q.GetAttendance(ctx, rec.Key())
		if err != nil {
			return err
		}
		if existing != nil {
			outcome = attendance.UpsertUpdated
		}

		res, err := q.db.ExecContext(ctx,
			upsertAttendance+"\n\tWHERE attendance_records.locked = 0",
			attendanceArgs(rec)...)
		if err != nil {
			return fmt.Errorf("failed to upsert attendance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			outcome = attendance.UpsertSkippedLocked
		}
		return nil
	})
	return outcome, err
}

// PutAttendance overwrites the record, locked or not.
func (q queries) PutAttendance(ctx context.Context, rec attendance.AttendanceRecord) error {
	if _, err := q.db.ExecContext(ctx, upsertAttendance, attendanceArgs(rec)...); err != nil {
		return fmt.Errorf("failed to put attendance: %w", err)
	}
	return nil
}

func attendanceArgs(rec attendance.AttendanceRecord) []any {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = parseTimestamp(now())
	}
	return []any{
		id,
		rec.TenantID,
		string(rec.EmployeeID),
		rec.Date.String(),
		nullTime(rec.CheckIn),
		nullTime(rec.CheckOut),
		string(rec.Status),
		rec.OvertimeHours.StringFixed(2),
		string(rec.Source),
		nullString(rec.DeviceID),
		boolInt(rec.Locked),
		nullString(rec.Note),
		updated.UTC().Format(timestampLayout),
	}
}

func (q queries) SetLocked(ctx context.Context, key attendance.RecordKey, locked bool) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE attendance_records SET locked = ?, updated_at = ?
		WHERE tenant_id = ? AND employee_id = ? AND date = ?`,
		boolInt(locked), now(), key.TenantID, string(key.EmployeeID), key.Date.String())
	if err != nil {
		return fmt.Errorf("failed to set lock: %w", err)
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

func (q queries) GetAttendance(ctx context.Context, key attendance.RecordKey) (*attendance.AttendanceRecord, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+attendanceColumns+` FROM attendance_records
		WHERE tenant_id = ? AND employee_id = ? AND date = ?`,
		key.TenantID, string(key.EmployeeID), key.Date.String())
	rec, err := scanAttendance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListAttendance returns records ordered by date, then employee.
func (q queries) ListAttendance(ctx context.Context, filter attendance.AttendanceFilter) ([]attendance.AttendanceRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, string(filter.EmployeeID))
	}
	where, args = rangeClause("date", filter.Range, where, args)

	order := " ORDER BY date ASC, employee_id ASC"
	if filter.Descending {
		order = " ORDER BY date DESC, employee_id ASC"
	}

	rows, err := q.db.QueryContext(ctx, "SELECT "+attendanceColumns+" FROM attendance_records"+whereSQL(where)+order, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	var records []attendance.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAttendance(row scanner) (attendance.AttendanceRecord, error) {
	var (
		rec       attendance.AttendanceRecord
		date      string
		checkIn   sql.NullString
		checkOut  sql.NullString
		overtime  string
		deviceID  sql.NullString
		locked    int
		note      sql.NullString
		updatedAt string
	)
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.EmployeeID, &date, &checkIn, &checkOut, &rec.Status,
		&overtime, &rec.Source, &deviceID, &locked, &note, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("failed to scan attendance: %w", err)
	}

	if rec.Date, err = attendance.ParseDate(date); err != nil {
		return rec, err
	}
	if rec.CheckIn, err = parseNullTime(checkIn); err != nil {
		return rec, err
	}
	if rec.CheckOut, err = parseNullTime(checkOut); err != nil {
		return rec, err
	}
	if rec.OvertimeHours, err = decimal.NewFromString(overtime); err != nil {
		return rec, fmt.Errorf("bad overtime_hours %q: %w", overtime, err)
	}
	rec.DeviceID = deviceID.String
	rec.Locked = locked != 0
	rec.Note = note.String
	rec.UpdatedAt = parseTimestamp(updatedAt)
	return rec, nil
}
