/*
Package attendance provides the core types of the punch reconciliation engine.

PURPOSE:
  Terminals and file exports produce raw punches. The reconciliation engine
  turns them into one authoritative attendance record per employee and day.
  This package holds the vocabulary shared by every stage of that pipeline:
  the immutable punch, the daily record, their enums, the error taxonomy and
  the store interfaces.

KEY CONCEPTS IN THIS FILE (types.go):
  - PunchRecord: An immutable clock event as the device printed it
  - AttendanceRecord: The reconciled outcome for (tenant, employee, date)
  - Status / PunchType / VerificationMethod: closed enums with parsers

DESIGN PRINCIPLES:
  1. Immutability: Punches are never edited or deleted, only flagged processed
  2. Uniqueness: One AttendanceRecord per (tenant, employee, date)
  3. Precision: Overtime uses decimal.Decimal, never float64
  4. Wall clock: Punch times keep the device-local clock, no zone correction

SEE ALSO:
  - time.go: Date, ClockTime, DateRange
  - ledger.go: Append-only punch ledger
  - store.go: Persistence interfaces
*/
package attendance

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMS
// =============================================================================

type PunchType string

const (
	PunchIn   PunchType = "in"
	PunchOut  PunchType = "out"
	PunchAuto PunchType = "auto"
)

// ParsePunchType accepts the canonical tokens plus the aliases terminals and
// spreadsheets commonly emit.
func ParsePunchType(s string) (PunchType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "i", "checkin", "check-in", "check_in", "clock-in":
		return PunchIn, nil
	case "out", "o", "checkout", "check-out", "check_out", "clock-out":
		return PunchOut, nil
	case "auto", "a":
		return PunchAuto, nil
	}
	return "", fmt.Errorf("unknown punch type %q", s)
}

type VerificationMethod string

const (
	VerifyFingerprint VerificationMethod = "fingerprint"
	VerifyFace        VerificationMethod = "face"
	VerifyCard        VerificationMethod = "card"
	VerifyPassword    VerificationMethod = "password"
)

// verificationCodes is the terminal index order: 0..3.
var verificationCodes = []VerificationMethod{VerifyFingerprint, VerifyFace, VerifyCard, VerifyPassword}

// VerificationFromCode maps a terminal verification index. ok is false for
// anything outside 0..3.
func VerificationFromCode(code int) (VerificationMethod, bool) {
	if code < 0 || code >= len(verificationCodes) {
		return VerifyFingerprint, false
	}
	return verificationCodes[code], true
}

// VerificationMethods lists every method in terminal index order.
func VerificationMethods() []VerificationMethod {
	return append([]VerificationMethod(nil), verificationCodes...)
}

func ParseVerificationMethod(s string) (VerificationMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fingerprint", "finger", "fp":
		return VerifyFingerprint, nil
	case "face":
		return VerifyFace, nil
	case "card", "rfid":
		return VerifyCard, nil
	case "password", "pin":
		return VerifyPassword, nil
	}
	return "", fmt.Errorf("unknown verification method %q", s)
}

type PunchSource string

const (
	SourceDevice     PunchSource = "device"
	SourceFileImport PunchSource = "file_import"
)

type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
	StatusLeave   Status = "leave"
)

// Statuses lists every status in report order.
func Statuses() []Status {
	return []Status{StatusPresent, StatusLate, StatusAbsent, StatusLeave}
}

func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses() {
		if string(st) == strings.ToLower(strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// RecordSource tells who produced an attendance record.
type RecordSource string

const (
	RecordFingerprint RecordSource = "fingerprint"
	RecordManual      RecordSource = "manual"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PunchID string
type EmployeeID string

// =============================================================================
// PUNCH RECORD - Immutable raw clock event
// =============================================================================

// PunchRecord is one raw clock-in/out event. Only IsProcessed ever changes
// after it is stored, and only the reconciliation engine changes it.
type PunchRecord struct {
	ID                 PunchID
	TenantID           string
	EmployeeCode       string // as printed by the device, not yet resolved
	PunchTime          time.Time
	PunchType          PunchType
	VerificationMethod VerificationMethod
	DeviceID           string // empty when unknown
	Source             PunchSource
	IsProcessed        bool
	CreatedAt          time.Time
}

// Date returns the device-local calendar date of the punch.
func (p PunchRecord) Date() Date { return DateOf(p.PunchTime) }

// IdempotencyKey identifies the same physical event across overlapping
// imports: tenant, code, wall-clock time and direction.
func (p PunchRecord) IdempotencyKey() string {
	raw := strings.Join([]string{
		p.TenantID,
		p.EmployeeCode,
		p.PunchTime.Format("2006-01-02 15:04:05"),
		string(p.PunchType),
	}, "|")
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// ATTENDANCE RECORD - Reconciled outcome per employee and day
// =============================================================================

// AttendanceRecord is keyed by (TenantID, EmployeeID, Date).
type AttendanceRecord struct {
	ID            string
	TenantID      string
	EmployeeID    EmployeeID
	Date          Date
	CheckIn       *time.Time
	CheckOut      *time.Time // nil on a single-punch day
	Status        Status
	OvertimeHours decimal.Decimal
	Source        RecordSource
	DeviceID      string
	Locked        bool // operator-curated; reconciliation never overwrites it
	Note          string
	UpdatedAt     time.Time
}

// Key returns the uniqueness key of the record.
func (r AttendanceRecord) Key() RecordKey {
	return RecordKey{TenantID: r.TenantID, EmployeeID: r.EmployeeID, Date: r.Date}
}

// SameOutcome reports whether two records carry identical reconciled values.
// IDs and timestamps are ignored.
func (r AttendanceRecord) SameOutcome(o AttendanceRecord) bool {
	return r.Key() == o.Key() &&
		equalTimePtr(r.CheckIn, o.CheckIn) &&
		equalTimePtr(r.CheckOut, o.CheckOut) &&
		r.Status == o.Status &&
		r.OvertimeHours.Equal(o.OvertimeHours) &&
		r.Source == o.Source &&
		r.DeviceID == o.DeviceID &&
		r.Locked == o.Locked
}

type RecordKey struct {
	TenantID   string
	EmployeeID EmployeeID
	Date       Date
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// =============================================================================
// DIRECTORY BOUNDARY
// =============================================================================

// Employee is the slice of the external directory the engine needs.
type Employee struct {
	ID             EmployeeID
	TenantID       string
	EmployeeNumber string
	Name           string
	IsActive       bool
	CreatedAt      time.Time
}

// Device is a registered terminal.
type Device struct {
	ID             string
	TenantID       string
	Name           string
	SerialNumber   string
	Address        string
	LastSyncAt     *time.Time
	TotalEmployees int
	IsActive       bool
	CreatedAt      time.Time
}
