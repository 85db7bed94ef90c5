package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/punchclock/reconcile"
)

// =============================================================================
// RECONCILIATION RUNS (reconcile.RunStore interface)
// =============================================================================

// SaveRun inserts or replaces a run by id.
func (s *Store) SaveRun(ctx context.Context, run reconcile.Run) error {
	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs
		(id, tenant_id, status, range_from, range_to, device_id, summary_json, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			summary_json = excluded.summary_json,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		run.ID, run.TenantID, string(run.Status), nullDate(run.Range.From), nullDate(run.Range.To),
		nullString(run.DeviceID), string(summaryJSON), nullString(run.Error),
		run.StartedAt.UTC().Format(timestampLayout), nullTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

// ListRuns returns the newest runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, tenantID string, limit int) ([]reconcile.Run, error) {
	query := `
		SELECT id, tenant_id, status, range_from, range_to, device_id, summary_json, error, started_at, completed_at
		FROM reconciliation_runs
		WHERE tenant_id = ?
		ORDER BY started_at DESC`
	args := []any{tenantID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation runs: %w", err)
	}
	defer rows.Close()

	var runs []reconcile.Run
	for rows.Next() {
		var (
			run                 reconcile.Run
			from, to, deviceID  sql.NullString
			summaryJSON         string
			runErr, completedAt sql.NullString
			startedAt           string
		)
		if err := rows.Scan(&run.ID, &run.TenantID, &run.Status, &from, &to, &deviceID,
			&summaryJSON, &runErr, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation run: %w", err)
		}
		if run.Range.From, err = parseNullDate(from); err != nil {
			return nil, err
		}
		if run.Range.To, err = parseNullDate(to); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(summaryJSON), &run.Summary); err != nil {
			return nil, fmt.Errorf("bad summary for run %s: %w", run.ID, err)
		}
		run.DeviceID = deviceID.String
		run.Error = runErr.String
		run.StartedAt = parseTimestamp(startedAt)
		if run.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
