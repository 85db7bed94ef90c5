/*
store.go - Persistence interfaces for punches and attendance records

PURPOSE:
  Defines the interface between the pipeline and the database. Different
  implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  PunchStore:      Append-only punch ledger + processed flag
  AttendanceStore: One record per (tenant, employee, date), upsert semantics
  TxStore:         Atomic multi-table writes (upsert + mark processed)

APPEND-ONLY CONTRACT (punches):
  - AppendPunches(): atomic batch write, duplicates by idempotency key skipped
  - MarkProcessed(): the ONLY mutation, and only of the processed flag
  - NO Delete() method exists

UPSERT CONTRACT (attendance):
  UpsertAttendance() is an atomic conflict-resolving write on the record key.
  Last writer wins, except a Locked row is never overwritten by it.
  PutAttendance() is the operator path and overwrites unconditionally.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - attendance/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level ledger using PunchStore
  - reconcile/engine.go: Uses TxStore to pair upsert and mark-processed
*/
package attendance

import "context"

// =============================================================================
// PUNCH STORE - Append-only
// =============================================================================

// PunchFilter narrows punch queries. Zero values mean "any".
type PunchFilter struct {
	TenantID     string
	Range        DateRange
	DeviceID     string
	EmployeeCode string
	Processed    *bool
	Limit        int
}

// PunchStore persists raw punches.
type PunchStore interface {
	// AppendPunches persists punches atomically and returns how many were
	// written. Punches whose idempotency key already exists are skipped.
	AppendPunches(ctx context.Context, punches []PunchRecord) (int, error)

	// ListPunches returns punches ordered by punch time, then id.
	ListPunches(ctx context.Context, filter PunchFilter) ([]PunchRecord, error)

	// PunchesOnDate returns every punch of the tenant, processed or not, on
	// one device-local date.
	PunchesOnDate(ctx context.Context, tenantID string, day Date) ([]PunchRecord, error)

	// MarkProcessed flags punches as reconciled.
	MarkProcessed(ctx context.Context, ids []PunchID) error
}

// =============================================================================
// ATTENDANCE STORE - Upsert by (tenant, employee, date)
// =============================================================================

// UpsertOutcome tells the caller what an upsert did.
type UpsertOutcome int

const (
	UpsertInserted UpsertOutcome = iota
	UpsertUpdated
	UpsertSkippedLocked
)

func (o UpsertOutcome) String() string {
	switch o {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	default:
		return "skipped_locked"
	}
}

// AttendanceFilter narrows attendance queries.
type AttendanceFilter struct {
	TenantID   string
	Range      DateRange
	EmployeeID EmployeeID
	Descending bool // newest first
}

// AttendanceStore persists reconciled daily records.
type AttendanceStore interface {
	// UpsertAttendance inserts or overwrites the record for its key. Locked
	// rows are left untouched and UpsertSkippedLocked is returned.
	UpsertAttendance(ctx context.Context, rec AttendanceRecord) (UpsertOutcome, error)

	// PutAttendance writes an operator record, overwriting locked rows.
	PutAttendance(ctx context.Context, rec AttendanceRecord) error

	// SetLocked flips the lock on an existing row. Returns ErrNotFound.
	SetLocked(ctx context.Context, key RecordKey, locked bool) error

	// GetAttendance returns nil, nil when the key has no record.
	GetAttendance(ctx context.Context, key RecordKey) (*AttendanceRecord, error)

	// ListAttendance returns records ordered by date then employee.
	ListAttendance(ctx context.Context, filter AttendanceFilter) ([]AttendanceRecord, error)
}

// Store is the union the pipeline needs.
type Store interface {
	PunchStore
	AttendanceStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
