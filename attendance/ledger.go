/*
ledger.go - Append-only punch ledger

PURPOSE:
  The ledger is the audit trail of everything terminals and imports ever
  reported. Attendance records are derived from it and can always be
  recomputed; the ledger itself is never rewritten.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update (except the processed flag), No Delete
  2. IDEMPOTENT: The same physical event imported twice is stored once
  3. SORTABLE IDS: Punch ids are ULIDs, so id order follows arrival order

SEE ALSO:
  - store.go: Low-level persistence interface
  - ingest/ingest.go: File uploads appended through the ledger
  - device/pull.go: Device pulls appended through the ledger
*/
package attendance

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// AppendResult counts what an append did.
type AppendResult struct {
	Written    int `json:"written"`
	Duplicates int `json:"duplicates"`
}

// PunchLedger validates and stamps punches before handing them to a store.
type PunchLedger struct {
	Store PunchStore
	Now   func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewPunchLedger(store PunchStore) *PunchLedger {
	return &PunchLedger{
		Store:   store,
		Now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewPunchID returns a fresh ULID.
func (l *PunchLedger) NewPunchID() (PunchID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entropy == nil {
		l.entropy = ulid.Monotonic(rand.Reader, 0)
	}
	id, err := ulid.New(ulid.Timestamp(l.now().UTC()), l.entropy)
	if err != nil {
		return "", err
	}
	return PunchID(id.String()), nil
}

// Append stores punches atomically. Duplicates inside the batch and against
// the store are counted, never written twice.
func (l *PunchLedger) Append(ctx context.Context, punches []PunchRecord) (AppendResult, error) {
	var result AppendResult
	if len(punches) == 0 {
		return result, nil
	}

	seen := make(map[string]bool, len(punches))
	batch := make([]PunchRecord, 0, len(punches))
	for _, p := range punches {
		if err := validatePunch(p); err != nil {
			return AppendResult{}, err
		}
		key := p.IdempotencyKey()
		if seen[key] {
			result.Duplicates++
			continue
		}
		seen[key] = true

		if p.ID == "" {
			id, err := l.NewPunchID()
			if err != nil {
				return AppendResult{}, fmt.Errorf("failed to generate punch id: %w", err)
			}
			p.ID = id
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = l.now().UTC()
		}
		// New punches always enter unprocessed.
		p.IsProcessed = false
		batch = append(batch, p)
	}

	written, err := l.Store.AppendPunches(ctx, batch)
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to append punches: %w", err)
	}
	result.Written = written
	result.Duplicates += len(batch) - written
	return result, nil
}

func (l *PunchLedger) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

func validatePunch(p PunchRecord) error {
	if strings.TrimSpace(p.TenantID) == "" {
		return ErrTenantRequired
	}
	if strings.TrimSpace(p.EmployeeCode) == "" {
		return fmt.Errorf("punch without employee code")
	}
	if p.PunchTime.IsZero() {
		return fmt.Errorf("punch %s without time", p.EmployeeCode)
	}
	switch p.PunchType {
	case PunchIn, PunchOut, PunchAuto:
	default:
		return fmt.Errorf("punch %s: invalid type %q", p.EmployeeCode, p.PunchType)
	}
	switch p.Source {
	case SourceDevice, SourceFileImport:
	default:
		return fmt.Errorf("punch %s: invalid source %q", p.EmployeeCode, p.Source)
	}
	return nil
}
