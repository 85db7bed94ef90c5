package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/warp/punchclock/attendance"
)

// =============================================================================
// PUNCH STORE (attendance.PunchStore interface)
// =============================================================================

const punchColumns = `id, tenant_id, employee_code, punch_time, punch_type, verification_method,
	device_id, source, is_processed, created_at`

// AppendPunches inserts the batch atomically. Rows whose idempotency key
// exists are skipped and not counted.
func (q queries) AppendPunches(ctx context.Context, punches []attendance.PunchRecord) (int, error) {
	written := 0
	err := q.atomic(ctx, func(q queries) error {
		for _, p := range punches {
			res, err := q.db.ExecContext(ctx, `
				INSERT INTO punches
				(id, tenant_id, employee_code, punch_time, punch_date, punch_type, verification_method,
				 device_id, source, is_processed, idempotency_key, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(idempotency_key) DO NOTHING
			`,
				string(p.ID),
				p.TenantID,
				p.EmployeeCode,
				p.PunchTime.Format(wallClockLayout),
				p.Date().String(),
				string(p.PunchType),
				string(p.VerificationMethod),
				nullString(p.DeviceID),
				string(p.Source),
				boolInt(p.IsProcessed),
				p.IdempotencyKey(),
				p.CreatedAt.UTC().Format(timestampLayout),
			)
			if err != nil {
				return fmt.Errorf("failed to append punch: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			written += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// ListPunches returns punches ordered by punch time, then id.
func (q queries) ListPunches(ctx context.Context, filter attendance.PunchFilter) ([]attendance.PunchRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.EmployeeCode != "" {
		where = append(where, "employee_code = ?")
		args = append(args, filter.EmployeeCode)
	}
	if filter.Processed != nil {
		where = append(where, "is_processed = ?")
		args = append(args, boolInt(*filter.Processed))
	}
	where, args = rangeClause("punch_date", filter.Range, where, args)

	query := "SELECT " + punchColumns + " FROM punches" + whereSQL(where) + " ORDER BY punch_time ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return q.queryPunches(ctx, query, args...)
}

func (q queries) PunchesOnDate(ctx context.Context, tenantID string, day attendance.Date) ([]attendance.PunchRecord, error) {
	return q.queryPunches(ctx, "SELECT "+punchColumns+` FROM punches
		WHERE tenant_id = ? AND punch_date = ?
		ORDER BY punch_time ASC, id ASC`,
		tenantID, day.String())
}

// MarkProcessed is the only mutation the punches table allows.
func (q queries) MarkProcessed(ctx context.Context, ids []attendance.PunchID) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	_, err := q.db.ExecContext(ctx,
		"UPDATE punches SET is_processed = 1 WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to mark punches processed: %w", err)
	}
	return nil
}

func (q queries) queryPunches(ctx context.Context, query string, args ...any) ([]attendance.PunchRecord, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query punches: %w", err)
	}
	defer rows.Close()

	var punches []attendance.PunchRecord
	for rows.Next() {
		p, err := scanPunch(rows)
		if err != nil {
			return nil, err
		}
		punches = append(punches, p)
	}
	return punches, rows.Err()
}

func scanPunch(rows *sql.Rows) (attendance.PunchRecord, error) {
	var (
		p         attendance.PunchRecord
		punchTime string
		deviceID  sql.NullString
		processed int
		createdAt string
	)
	err := rows.Scan(
		&p.ID, &p.TenantID, &p.EmployeeCode, &punchTime, &p.PunchType, &p.VerificationMethod,
		&deviceID, &p.Source, &processed, &createdAt,
	)
	if err != nil {
		return p, fmt.Errorf("failed to scan punch: %w", err)
	}
	p.PunchTime, err = time.Parse(wallClockLayout, punchTime)
	if err != nil {
		return p, fmt.Errorf("bad punch_time %q: %w", punchTime, err)
	}
	p.DeviceID = deviceID.String
	p.IsProcessed = processed != 0
	p.CreatedAt = parseTimestamp(createdAt)
	return p, nil
}
