// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/reconcile"
	"github.com/warp/punchclock/schedule"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	punches     []attendance.PunchRecord
	idempotency map[string]bool
	records     map[attendance.RecordKey]attendance.AttendanceRecord
	employees   map[attendance.EmployeeID]attendance.Employee
	devices     map[string]attendance.Device

	schedules   map[string]schedule.WorkSchedule
	assignments map[string]schedule.Assignment
	holidays    map[string]schedule.Holiday
	runs        []reconcile.Run
}

func NewMemory() *Memory {
	return &Memory{
		idempotency: make(map[string]bool),
		records:     make(map[attendance.RecordKey]attendance.AttendanceRecord),
		employees:   make(map[attendance.EmployeeID]attendance.Employee),
		devices:     make(map[string]attendance.Device),
		schedules:   make(map[string]schedule.WorkSchedule),
		assignments: make(map[string]schedule.Assignment),
		holidays:    make(map[string]schedule.Holiday),
	}
}

// =============================================================================
// PUNCHES
// =============================================================================

// AppendPunches adds punches atomically. Append-only.
func (m *Memory) AppendPunches(_ context.Context, punches []attendance.PunchRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(punches), nil
}

func (m *Memory) appendLocked(punches []attendance.PunchRecord) int {
	written := 0
	for _, p := range punches {
		key := p.IdempotencyKey()
		if m.idempotency[key] {
			continue
		}
		m.idempotency[key] = true
		m.punches = append(m.punches, p)
		written++
	}
	return written
}

func (m *Memory) ListPunches(_ context.Context, filter attendance.PunchFilter) ([]attendance.PunchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter), nil
}

func (m *Memory) listLocked(filter attendance.PunchFilter) []attendance.PunchRecord {
	var result []attendance.PunchRecord
	for _, p := range m.punches {
		if filter.TenantID != "" && p.TenantID != filter.TenantID {
			continue
		}
		if filter.DeviceID != "" && p.DeviceID != filter.DeviceID {
			continue
		}
		if filter.EmployeeCode != "" && p.EmployeeCode != filter.EmployeeCode {
			continue
		}
		if filter.Processed != nil && p.IsProcessed != *filter.Processed {
			continue
		}
		if !filter.Range.Contains(p.Date()) {
			continue
		}
		result = append(result, p)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].PunchTime.Equal(result[j].PunchTime) {
			return result[i].PunchTime.Before(result[j].PunchTime)
		}
		return result[i].ID < result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

func (m *Memory) PunchesOnDate(_ context.Context, tenantID string, day attendance.Date) ([]attendance.PunchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(attendance.PunchFilter{
		TenantID: tenantID,
		Range:    attendance.DateRange{From: &day, To: &day},
	}), nil
}

func (m *Memory) MarkProcessed(_ context.Context, ids []attendance.PunchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markLocked(ids)
	return nil
}

func (m *Memory) markLocked(ids []attendance.PunchID) {
	set := make(map[attendance.PunchID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range m.punches {
		if set[m.punches[i].ID] {
			m.punches[i].IsProcessed = true
		}
	}
}

// =============================================================================
// ATTENDANCE RECORDS
// =============================================================================

func (m *Memory) UpsertAttendance(_ context.Context, rec attendance.AttendanceRecord) (attendance.UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(rec, false), nil
}

func (m *Memory) PutAttendance(_ context.Context, rec attendance.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(rec, true)
	return nil
}

func (m *Memory) upsertLocked(rec attendance.AttendanceRecord, force bool) attendance.UpsertOutcome {
	key := rec.Key()
	existing, ok := m.records[key]
	if ok && existing.Locked && !force {
		return attendance.UpsertSkippedLocked
	}
	if ok {
		rec.ID = existing.ID
	} else if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	m.records[key] = rec
	if ok {
		return attendance.UpsertUpdated
	}
	return attendance.UpsertInserted
}

func (m *Memory) SetLocked(_ context.Context, key attendance.RecordKey, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return attendance.ErrNotFound
	}
	rec.Locked = locked
	m.records[key] = rec
	return nil
}

func (m *Memory) GetAttendance(_ context.Context, key attendance.RecordKey) (*attendance.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) ListAttendance(_ context.Context, filter attendance.AttendanceFilter) ([]attendance.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAttendanceLocked(filter), nil
}

func (m *Memory) listAttendanceLocked(filter attendance.AttendanceFilter) []attendance.AttendanceRecord {
	var result []attendance.AttendanceRecord
	for _, rec := range m.records {
		if filter.TenantID != "" && rec.TenantID != filter.TenantID {
			continue
		}
		if filter.EmployeeID != "" && rec.EmployeeID != filter.EmployeeID {
			continue
		}
		if !filter.Range.Contains(rec.Date) {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			if filter.Descending {
				return result[i].Date.After(result[j].Date)
			}
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].EmployeeID < result[j].EmployeeID
	})
	return result
}

// =============================================================================
// DIRECTORY + DEVICES
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, emp attendance.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.employees[emp.ID]; ok && old.TenantID != emp.TenantID {
		return idConflict("employee", string(emp.ID))
	}
	m.employees[emp.ID] = emp
	return nil
}

func (m *Memory) FindEmployeesByNumber(_ context.Context, tenantID, number string) ([]attendance.Employee, error) {
	return m.findEmployees(tenantID, func(e attendance.Employee) bool {
		return e.EmployeeNumber == number
	}), nil
}

func (m *Memory) FindEmployeesByNumberPrefix(_ context.Context, tenantID, prefix string) ([]attendance.Employee, error) {
	return m.findEmployees(tenantID, func(e attendance.Employee) bool {
		return strings.HasPrefix(e.EmployeeNumber, prefix)
	}), nil
}

// ListEmployees returns every employee of the tenant, active or not.
func (m *Memory) ListEmployees(_ context.Context, tenantID string) ([]attendance.Employee, error) {
	return m.findEmployees(tenantID, func(attendance.Employee) bool { return true }), nil
}

func (m *Memory) ListActiveEmployees(_ context.Context, tenantID string) ([]attendance.Employee, error) {
	return m.findEmployees(tenantID, func(e attendance.Employee) bool { return e.IsActive }), nil
}

func (m *Memory) findEmployees(tenantID string, match func(attendance.Employee) bool) []attendance.Employee {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []attendance.Employee
	for _, e := range m.employees {
		if e.TenantID == tenantID && match(e) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EmployeeNumber < result[j].EmployeeNumber })
	return result
}

func (m *Memory) SaveDevice(_ context.Context, d attendance.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.devices[d.ID]; ok && old.TenantID != d.TenantID {
		return idConflict("device", d.ID)
	}
	m.devices[d.ID] = d
	return nil
}

func (m *Memory) GetDevice(_ context.Context, tenantID, id string) (*attendance.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok || d.TenantID != tenantID {
		return nil, nil
	}
	return &d, nil
}

func (m *Memory) ListDevices(_ context.Context, tenantID string) ([]attendance.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []attendance.Device
	for _, d := range m.devices {
		if d.TenantID == tenantID {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) RecordDeviceSync(_ context.Context, tenantID, id string, at time.Time, totalEmployees int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok || d.TenantID != tenantID {
		return attendance.ErrDeviceNotFound
	}
	d.LastSyncAt = &at
	d.TotalEmployees = totalEmployees
	m.devices[id] = d
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(attendance.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	punches     []attendance.PunchRecord
	idempotency map[string]bool
	records     map[attendance.RecordKey]attendance.AttendanceRecord
}

func (m *Memory) snapshot() memorySnapshot {
	idem := make(map[string]bool, len(m.idempotency))
	for k, v := range m.idempotency {
		idem[k] = v
	}
	recs := make(map[attendance.RecordKey]attendance.AttendanceRecord, len(m.records))
	for k, v := range m.records {
		recs[k] = v
	}
	return memorySnapshot{
		punches:     append([]attendance.PunchRecord(nil), m.punches...),
		idempotency: idem,
		records:     recs,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.punches = s.punches
	m.idempotency = s.idempotency
	m.records = s.records
}

// txMemoryView runs with the parent lock already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) AppendPunches(_ context.Context, punches []attendance.PunchRecord) (int, error) {
	return tv.parent.appendLocked(punches), nil
}

func (tv *txMemoryView) ListPunches(_ context.Context, filter attendance.PunchFilter) ([]attendance.PunchRecord, error) {
	return tv.parent.listLocked(filter), nil
}

func (tv *txMemoryView) PunchesOnDate(_ context.Context, tenantID string, day attendance.Date) ([]attendance.PunchRecord, error) {
	return tv.parent.listLocked(attendance.PunchFilter{
		TenantID: tenantID,
		Range:    attendance.DateRange{From: &day, To: &day},
	}), nil
}

func (tv *txMemoryView) MarkProcessed(_ context.Context, ids []attendance.PunchID) error {
	tv.parent.markLocked(ids)
	return nil
}

func (tv *txMemoryView) UpsertAttendance(_ context.Context, rec attendance.AttendanceRecord) (attendance.UpsertOutcome, error) {
	return tv.parent.upsertLocked(rec, false), nil
}

func (tv *txMemoryView) PutAttendance(_ context.Context, rec attendance.AttendanceRecord) error {
	tv.parent.upsertLocked(rec, true)
	return nil
}

func (tv *txMemoryView) SetLocked(_ context.Context, key attendance.RecordKey, locked bool) error {
	rec, ok := tv.parent.records[key]
	if !ok {
		return attendance.ErrNotFound
	}
	rec.Locked = locked
	tv.parent.records[key] = rec
	return nil
}

func (tv *txMemoryView) GetAttendance(_ context.Context, key attendance.RecordKey) (*attendance.AttendanceRecord, error) {
	rec, ok := tv.parent.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (tv *txMemoryView) ListAttendance(_ context.Context, filter attendance.AttendanceFilter) ([]attendance.AttendanceRecord, error) {
	return tv.parent.listAttendanceLocked(filter), nil
}
