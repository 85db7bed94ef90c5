package schedule

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/punchclock/attendance"
)

// =============================================================================
// SNAPSHOT - Per-run configuration, passed explicitly
// =============================================================================

// Snapshot is read-only after construction and safe for concurrent use.
type Snapshot struct {
	TenantID    string
	schedules   map[string]WorkSchedule
	defaultID   string
	assignments map[attendance.EmployeeID][]Assignment
	holidays    []Holiday
}

// NewSnapshot validates and indexes one tenant's configuration.
func NewSnapshot(tenantID string, schedules []WorkSchedule, assignments []Assignment, holidays []Holiday) (*Snapshot, error) {
	s := &Snapshot{
		TenantID:    tenantID,
		schedules:   make(map[string]WorkSchedule, len(schedules)),
		assignments: make(map[attendance.EmployeeID][]Assignment),
	}

	for _, ws := range schedules {
		if err := ws.Validate(); err != nil {
			return nil, err
		}
		s.schedules[ws.ID] = ws
		if !ws.IsDefault {
			continue
		}
		if s.defaultID != "" {
			return nil, fmt.Errorf("%w: tenant %q has two default schedules (%s, %s)",
				attendance.ErrInvalidSchedule, tenantID, s.defaultID, ws.ID)
		}
		s.defaultID = ws.ID
	}

	for _, a := range assignments {
		if _, ok := s.schedules[a.ScheduleID]; !ok {
			return nil, fmt.Errorf("%w: assignment %s references unknown schedule %q",
				attendance.ErrInvalidSchedule, a.ID, a.ScheduleID)
		}
		s.assignments[a.EmployeeID] = append(s.assignments[a.EmployeeID], a)
	}
	for id := range s.assignments {
		list := s.assignments[id]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].EffectiveFrom.After(list[j].EffectiveFrom)
		})
	}

	for _, h := range holidays {
		if h.TenantID == "" || h.TenantID == tenantID {
			s.holidays = append(s.holidays, h)
		}
	}
	return s, nil
}

// Resolve returns the schedule for the employee on d and whether d is a
// holiday. The holiday flag is valid even when err is a NoScheduleError.
func (s *Snapshot) Resolve(employeeID attendance.EmployeeID, d attendance.Date) (WorkSchedule, bool, error) {
	holiday := s.IsHoliday(d)

	for _, a := range s.assignments[employeeID] {
		if a.IsActive(d) {
			return s.schedules[a.ScheduleID], holiday, nil
		}
	}
	if ws, ok := s.Default(); ok {
		return ws, holiday, nil
	}
	return WorkSchedule{}, holiday, &attendance.NoScheduleError{EmployeeID: employeeID, Date: d}
}

func (s *Snapshot) Default() (WorkSchedule, bool) {
	if s.defaultID == "" {
		return WorkSchedule{}, false
	}
	return s.schedules[s.defaultID], true
}

func (s *Snapshot) IsHoliday(d attendance.Date) bool {
	_, ok := s.HolidayOn(d)
	return ok
}

// HolidayOn returns the first holiday covering d.
func (s *Snapshot) HolidayOn(d attendance.Date) (Holiday, bool) {
	for _, h := range s.holidays {
		if h.Covers(d) {
			return h, true
		}
	}
	return Holiday{}, false
}

// IsWorkDay reports whether the employee is expected at work on d: a work
// day of the resolved schedule that is not a holiday.
func (s *Snapshot) IsWorkDay(employeeID attendance.EmployeeID, d attendance.Date) (bool, error) {
	ws, holiday, err := s.Resolve(employeeID, d)
	if err != nil {
		return false, err
	}
	return !holiday && ws.IsWorkDay(d), nil
}

// =============================================================================
// SOURCES
// =============================================================================

// Store is the read side of schedule persistence.
type Store interface {
	ListSchedules(ctx context.Context, tenantID string) ([]WorkSchedule, error)
	ListAssignments(ctx context.Context, tenantID string) ([]Assignment, error)
	// ListHolidays returns tenant and global holidays.
	ListHolidays(ctx context.Context, tenantID string) ([]Holiday, error)
}

// Source hands out a Snapshot per run.
type Source interface {
	Snapshot(ctx context.Context, tenantID string) (*Snapshot, error)
}

// LoadSnapshot reads one tenant's configuration from a Store.
func LoadSnapshot(ctx context.Context, store Store, tenantID string) (*Snapshot, error) {
	schedules, err := store.ListSchedules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedules: %w", err)
	}
	assignments, err := store.ListAssignments(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule assignments: %w", err)
	}
	holidays, err := store.ListHolidays(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load holidays: %w", err)
	}
	return NewSnapshot(tenantID, schedules, assignments, holidays)
}

// StoreSource loads a fresh Snapshot from a Store on every call.
type StoreSource struct {
	Store Store
}

func (s StoreSource) Snapshot(ctx context.Context, tenantID string) (*Snapshot, error) {
	return LoadSnapshot(ctx, s.Store, tenantID)
}

// Static serves fixed snapshots keyed by tenant.
type Static map[string]*Snapshot

func (s Static) Snapshot(_ context.Context, tenantID string) (*Snapshot, error) {
	snap, ok := s[tenantID]
	if !ok {
		return NewSnapshot(tenantID, nil, nil, nil)
	}
	return snap, nil
}
