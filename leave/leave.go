/*
Package leave records manual leave on attendance records.

PURPOSE:
  Reconciliation defers holidays and non-work days and never overwrites a
  locked row. Leave is how an operator fills the gap: Record writes locked
  "leave" rows for every work day of a range, so a later reconciliation
  run keeps them even if the employee badges in. Release unlocks them again
  so punches win on the next run.

TRANSACTIONAL:
  Every day of a request is written in one store transaction. A failure on
  any day leaves no row of the request behind.
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/schedule"
)

// MaxDays caps one request.
const MaxDays = 366

type Service struct {
	Store     attendance.TxStore
	Schedules schedule.Source
	Now       func() time.Time
}

func NewService(store attendance.TxStore, schedules schedule.Source) *Service {
	return &Service{Store: store, Schedules: schedules, Now: time.Now}
}

type Request struct {
	TenantID   string
	EmployeeID attendance.EmployeeID
	From       attendance.Date
	To         attendance.Date
	Note       string
}

func (r Request) validate() (attendance.DateRange, error) {
	if r.TenantID == "" {
		return attendance.DateRange{}, attendance.ErrTenantRequired
	}
	if r.EmployeeID == "" {
		return attendance.DateRange{}, fmt.Errorf("%w: employee is required", attendance.ErrInvalidRequest)
	}
	rng, err := attendance.NewDateRange(r.From, r.To)
	if err != nil {
		return attendance.DateRange{}, err
	}
	if n := len(rng.Days()); n > MaxDays {
		return attendance.DateRange{}, fmt.Errorf("%w: %d days exceeds %d", attendance.ErrInvalidRange, n, MaxDays)
	}
	return rng, nil
}

type SkippedDay struct {
	Date   attendance.Date `json:"date"`
	Reason string          `json:"reason"`
}

type Result struct {
	Recorded int          `json:"recorded"`
	Released int          `json:"released"`
	Skipped  []SkippedDay `json:"skipped"`
}

// Record writes locked leave rows for the work days of the range. Holidays
// and non-work days are skipped. Without any schedule, Monday to Friday
// count as work days.
func (s *Service) Record(ctx context.Context, req Request) (*Result, error) {
	rng, err := req.validate()
	if err != nil {
		return nil, err
	}
	snap, err := s.Schedules.Snapshot(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedules: %w", err)
	}

	result := &Result{Skipped: []SkippedDay{}}
	var records []attendance.AttendanceRecord
	for _, day := range rng.Days() {
		if reason := skipReason(snap, req.EmployeeID, day); reason != "" {
			result.Skipped = append(result.Skipped, SkippedDay{Date: day, Reason: reason})
			continue
		}
		records = append(records, attendance.AttendanceRecord{
			TenantID:   req.TenantID,
			EmployeeID: req.EmployeeID,
			Date:       day,
			Status:     attendance.StatusLeave,
			Source:     attendance.RecordManual,
			Locked:     true,
			Note:       req.Note,
			UpdatedAt:  s.now().UTC(),
		})
	}

	err = s.Store.WithTx(ctx, func(tx attendance.Store) error {
		for _, rec := range records {
			if err := tx.PutAttendance(ctx, rec); err != nil {
				return fmt.Errorf("failed to record leave on %s: %w", rec.Date, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Recorded = len(records)
	return result, nil
}

func skipReason(snap *schedule.Snapshot, employeeID attendance.EmployeeID, day attendance.Date) string {
	if h, ok := snap.HolidayOn(day); ok {
		return "holiday: " + h.Name
	}
	ws, _, err := snap.Resolve(employeeID, day)
	if err != nil {
		ws = schedule.WorkSchedule{WorkDays: schedule.DefaultWorkDays}
	}
	if !ws.IsWorkDay(day) {
		return "not a work day"
	}
	return ""
}

// Release unlocks the employee's rows in range. Missing rows are ignored.
func (s *Service) Release(ctx context.Context, req Request) (*Result, error) {
	rng, err := req.validate()
	if err != nil {
		return nil, err
	}

	result := &Result{Skipped: []SkippedDay{}}
	err = s.Store.WithTx(ctx, func(tx attendance.Store) error {
		for _, day := range rng.Days() {
			key := attendance.RecordKey{TenantID: req.TenantID, EmployeeID: req.EmployeeID, Date: day}
			err := tx.SetLocked(ctx, key, false)
			if errors.Is(err, attendance.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to release %s: %w", day, err)
			}
			result.Released++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
