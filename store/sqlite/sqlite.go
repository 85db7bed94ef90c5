/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the reconciliation pipeline
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  attendance.TxStore:  Punch ledger + attendance records, transactional
  directory.Directory: Employee lookup by number
  device.Registry:     Terminal registry and sync stamps
  schedule.Store:      Work schedules, assignments, holidays
  reconcile.RunStore:  Reconciliation run history
  factory.Target:      Seed documents

APPEND-ONLY ENFORCEMENT:
  - No DELETE statements on the punches table
  - The only UPDATE on punches flips is_processed
  - Duplicate idempotency keys are skipped by ON CONFLICT DO NOTHING

KEY TABLES:
  punches:              Immutable raw clock events
  attendance_records:   One row per (tenant_id, employee_id, date)
  employees, devices:   Directory and terminal registry
  work_schedules:       Schedules, at most one default per tenant
  schedule_assignments: Employee-to-schedule links over time
  holidays:             Tenant and global (tenant_id '') non-work days
  reconciliation_runs:  Run audit trail

UPSERT:
  attendance_records is written with
    INSERT ... ON CONFLICT(tenant_id, employee_id, date) DO UPDATE ...
    WHERE attendance_records.locked = 0
  so a locked row is never touched by reconciliation.

  Admin rows (schedules, assignments, holidays, employees, devices) upsert
  by id with DO UPDATE ... WHERE <table>.tenant_id = excluded.tenant_id.
  An id owned by another tenant affects no row and returns ErrIDConflict.

CONCURRENCY:
  The pool is limited to one connection. Statements are serialized by
  database/sql, and WithTx holds that connection until commit. Inside a
  transaction every query goes through the *sql.Tx, never the pool.

USAGE:
  store, err := sqlite.New("./data/punchclock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - attendance/store.go: Interface definitions
  - attendance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/punchclock/attendance"
)

// dbtx is the part of *sql.DB and *sql.Tx the queries use.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every statement against either the pool or an open
// transaction.
type queries struct {
	db dbtx
}

// atomic runs fn in a transaction, or directly when already inside one.
func (q queries) atomic(ctx context.Context, fn func(queries) error) error {
	db, ok := q.db.(*sql.DB)
	if !ok {
		return fn(q)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(queries{db: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	queries
	sqlDB *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and writes
	// are serialized anyway.
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{db: db}, sqlDB: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping checks the connection, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Punches (append-only ledger)
	CREATE TABLE IF NOT EXISTS punches (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_code TEXT NOT NULL,
		punch_time TEXT NOT NULL,
		punch_date TEXT NOT NULL,
		punch_type TEXT NOT NULL,
		verification_method TEXT NOT NULL,
		device_id TEXT,
		source TEXT NOT NULL,
		is_processed INTEGER NOT NULL DEFAULT 0,
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Reconciliation scans unprocessed punches per tenant (hot path)
	CREATE INDEX IF NOT EXISTS idx_punches_tenant_processed
		ON punches(tenant_id, is_processed, punch_date);
	-- Day completion reads every punch of one date
	CREATE INDEX IF NOT EXISTS idx_punches_tenant_date
		ON punches(tenant_id, punch_date, employee_code);

	-- Attendance records (one per employee and day)
	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		check_in TEXT,
		check_out TEXT,
		status TEXT NOT NULL,
		overtime_hours TEXT NOT NULL DEFAULT '0',
		source TEXT NOT NULL,
		device_id TEXT,
		locked INTEGER NOT NULL DEFAULT 0,
		note TEXT,
		updated_at TEXT NOT NULL,
		UNIQUE(tenant_id, employee_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_tenant_date
		ON attendance_records(tenant_id, date);

	-- Employees (directory)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_number TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_tenant_number
		ON employees(tenant_id, employee_number);

	-- Devices (terminals)
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		serial_number TEXT,
		address TEXT,
		last_sync_at TEXT,
		total_employees INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_devices_tenant
		ON devices(tenant_id);

	-- Work schedules
	CREATE TABLE IF NOT EXISTS work_schedules (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		start_seconds INTEGER NOT NULL,
		end_seconds INTEGER NOT NULL,
		work_days TEXT NOT NULL,
		break_minutes INTEGER NOT NULL DEFAULT 0,
		late_tolerance_minutes INTEGER NOT NULL DEFAULT 0,
		early_leave_tolerance_minutes INTEGER NOT NULL DEFAULT 0,
		overtime_after_minutes INTEGER NOT NULL DEFAULT 0,
		is_default INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	-- At most one default schedule per tenant
	CREATE UNIQUE INDEX IF NOT EXISTS idx_work_schedules_default
		ON work_schedules(tenant_id) WHERE is_default = 1;

	-- Schedule assignments
	CREATE TABLE IF NOT EXISTS schedule_assignments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		schedule_id TEXT NOT NULL REFERENCES work_schedules(id),
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_tenant_employee
		ON schedule_assignments(tenant_id, employee_id, effective_from);

	-- Holidays (tenant-specific and global)
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		is_recurring INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_tenant_date
		ON holidays(tenant_id, start_date);

	-- Reconciliation runs
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		status TEXT NOT NULL,
		range_from TEXT,
		range_to TEXT,
		device_id TEXT,
		summary_json TEXT NOT NULL DEFAULT '{}',
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_tenant
		ON reconciliation_runs(tenant_id, started_at DESC);
	`

	_, err := s.sqlDB.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (attendance.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(attendance.Store) error) error {
	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{db: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

const (
	timestampLayout = time.RFC3339Nano
	wallClockLayout = "2006-01-02 15:04:05"
)

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(timestampLayout), Valid: true}
}

func nullDate(d *attendance.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timestampLayout, ns.String)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q: %w", ns.String, err)
	}
	return &t, nil
}

func parseNullDate(ns sql.NullString) (*attendance.Date, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := attendance.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(timestampLayout, s)
	return t
}

// ownedByTenant turns an upsert that hit another tenant's row into
// ErrIDConflict. The tenant-guarded DO UPDATE leaves such rows unchanged.
func ownedByTenant(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", attendance.ErrIDConflict, kind, id)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func now() string {
	return time.Now().UTC().Format(timestampLayout)
}

// rangeClause appends date bounds on column to a WHERE clause.
func rangeClause(column string, r attendance.DateRange, where []string, args []any) ([]string, []any) {
	if r.From != nil {
		where = append(where, column+" >= ?")
		args = append(args, r.From.String())
	}
	if r.To != nil {
		where = append(where, column+" <= ?")
		args = append(args, r.To.String())
	}
	return where, args
}

func whereSQL(where []string) string {
	if len(where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(where, " AND ")
}

// escapeLike escapes LIKE wildcards; queries use ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
