/*
Package schedule resolves which work schedule applies to an employee on a day
and whether that day is a holiday.

PURPOSE:
  Schedules, assignments and holidays are tenant configuration edited by an
  administrator. Reconciliation never consults them live: it loads one
  Snapshot per run and resolves every group against it, so a run is
  reproducible and testable without a database.

KEY CONCEPTS:
  WorkSchedule: shift start/end, tolerances, work days, overtime threshold
  Assignment:   employee -> schedule for an effective date range
  Holiday:      single day, range, or recurring by month+day
  Snapshot:     immutable view of all of the above for one tenant

RESOLUTION ORDER:
  1. Assignment active on the date (latest EffectiveFrom wins)
  2. The tenant's default schedule
  3. NoScheduleError

SEE ALSO:
  - reconcile/engine.go: Consumes Snapshot.Resolve per group
  - store/sqlite/sqlite.go: Persists schedules, assignments and holidays
*/
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/punchclock/attendance"
)

// =============================================================================
// WEEKDAYS - Set of work days
// =============================================================================

// Weekdays is a bit set indexed by time.Weekday.
type Weekdays uint8

// DefaultWorkDays is Monday to Friday.
const DefaultWorkDays Weekdays = 1<<time.Monday | 1<<time.Tuesday | 1<<time.Wednesday | 1<<time.Thursday | 1<<time.Friday

var weekdayTokens = [7]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

func NewWeekdays(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << d
	}
	return w
}

// ParseWeekdays accepts short tokens (mon) or full English names (Monday).
func ParseWeekdays(tokens []string) (Weekdays, error) {
	var w Weekdays
	for _, tok := range tokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		found := false
		for i, short := range weekdayTokens {
			if tok == short || tok == strings.ToLower(time.Weekday(i).String()) {
				w |= 1 << i
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown weekday %q", tok)
		}
	}
	return w, nil
}

func (w Weekdays) Has(d time.Weekday) bool { return w&(1<<d) != 0 }

// Tokens lists the days Monday first.
func (w Weekdays) Tokens() []string {
	out := []string{}
	for _, d := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday} {
		if w.Has(d) {
			out = append(out, weekdayTokens[d])
		}
	}
	return out
}

func (w Weekdays) String() string { return strings.Join(w.Tokens(), ",") }

func (w Weekdays) MarshalJSON() ([]byte, error) { return json.Marshal(w.Tokens()) }

// UnmarshalJSON accepts ["mon","tue"] or "mon,tue".
func (w *Weekdays) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("work_days: want a list of weekdays: %w", err)
		}
		list = strings.Split(s, ",")
	}
	parsed, err := ParseWeekdays(list)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

func (w Weekdays) MarshalYAML() (any, error) { return w.Tokens(), nil }

func (w *Weekdays) UnmarshalYAML(unmarshal func(any) error) error {
	var list []string
	if err := unmarshal(&list); err != nil {
		var s string
		if err := unmarshal(&s); err != nil {
			return err
		}
		list = strings.Split(s, ",")
	}
	parsed, err := ParseWeekdays(list)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// =============================================================================
// WORK SCHEDULE
// =============================================================================

type WorkSchedule struct {
	ID                         string               `json:"id" yaml:"id"`
	TenantID                   string               `json:"tenant_id" yaml:"tenant_id"`
	Name                       string               `json:"name" yaml:"name"`
	StartTime                  attendance.ClockTime `json:"start_time" yaml:"start_time"`
	EndTime                    attendance.ClockTime `json:"end_time" yaml:"end_time"`
	WorkDays                   Weekdays             `json:"work_days" yaml:"work_days"`
	BreakDurationMinutes       int                  `json:"break_duration_minutes" yaml:"break_duration_minutes"`
	LateToleranceMinutes       int                  `json:"late_tolerance_minutes" yaml:"late_tolerance_minutes"`
	EarlyLeaveToleranceMinutes int                  `json:"early_leave_tolerance_minutes" yaml:"early_leave_tolerance_minutes"`
	OvertimeAfterMinutes       int                  `json:"overtime_after_minutes" yaml:"overtime_after_minutes"`
	IsDefault                  bool                 `json:"is_default" yaml:"is_default"`
}

// Validate rejects schedules that cannot classify a day. Shifts crossing
// midnight are not supported: punches are grouped by calendar date.
func (s WorkSchedule) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", attendance.ErrInvalidSchedule)
	}
	if s.EndTime <= s.StartTime {
		return fmt.Errorf("%w: %s ends at %s, not after its start %s", attendance.ErrInvalidSchedule, s.Name, s.EndTime, s.StartTime)
	}
	if s.WorkDays == 0 {
		return fmt.Errorf("%w: %s has no work days", attendance.ErrInvalidSchedule, s.Name)
	}
	if s.LateToleranceMinutes < 0 || s.EarlyLeaveToleranceMinutes < 0 || s.OvertimeAfterMinutes < 0 || s.BreakDurationMinutes < 0 {
		return fmt.Errorf("%w: %s has a negative duration", attendance.ErrInvalidSchedule, s.Name)
	}
	return nil
}

func (s WorkSchedule) IsWorkDay(d attendance.Date) bool { return s.WorkDays.Has(d.Weekday()) }

// LateThreshold is the last on-time check-in.
func (s WorkSchedule) LateThreshold() attendance.ClockTime {
	return s.StartTime.AddMinutes(s.LateToleranceMinutes)
}

// EarlyLeaveThreshold is the earliest check-out that is not an early leave.
func (s WorkSchedule) EarlyLeaveThreshold() attendance.ClockTime {
	return s.EndTime.AddMinutes(-s.EarlyLeaveToleranceMinutes)
}

// OvertimeThreshold is the check-out after which overtime accrues.
func (s WorkSchedule) OvertimeThreshold() attendance.ClockTime {
	return s.EndTime.AddMinutes(s.OvertimeAfterMinutes)
}

// =============================================================================
// ASSIGNMENT - Employee to schedule over time
// =============================================================================

type Assignment struct {
	ID            string                `json:"id" yaml:"id"`
	TenantID      string                `json:"tenant_id" yaml:"tenant_id"`
	EmployeeID    attendance.EmployeeID `json:"employee_id" yaml:"employee_id"`
	ScheduleID    string                `json:"schedule_id" yaml:"schedule_id"`
	EffectiveFrom attendance.Date       `json:"effective_from" yaml:"effective_from"`
	EffectiveTo   *attendance.Date      `json:"effective_to,omitempty" yaml:"effective_to,omitempty"` // nil = open ended
}

// IsActive checks if the assignment is active on the given date.
func (a Assignment) IsActive(d attendance.Date) bool {
	if d.Before(a.EffectiveFrom) {
		return false
	}
	if a.EffectiveTo != nil && d.After(*a.EffectiveTo) {
		return false
	}
	return true
}
