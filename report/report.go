/*
Package report provides read-only rollups over attendance records.

PURPOSE:
  The attendance store is the system of record. This package answers the
  two questions operators ask of it: what happened each day (Daily) and how
  each employee did over a period (Summarize). Nothing here writes.

ATTENDANCE RATE:
  (present + late) / records, as an integer percentage. The denominator is
  the number of records stored for the employee in range, not the number of
  scheduled days, so days without any record do not count against anyone.

SEE ALSO:
  - export.go: CSV serialization of the daily listing
*/
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/punchclock/attendance"
)

// Filter selects the records of a report.
type Filter struct {
	TenantID   string
	Range      attendance.DateRange
	EmployeeID attendance.EmployeeID // empty = everyone
	Ascending  bool                  // default is newest first
}

// Directory supplies employee numbers and names for display. Deactivated
// employees keep their label on historical rows.
type Directory interface {
	ListEmployees(ctx context.Context, tenantID string) ([]attendance.Employee, error)
}

type Reporter struct {
	Store     attendance.AttendanceStore
	Directory Directory // optional
}

func NewReporter(store attendance.AttendanceStore, dir Directory) *Reporter {
	return &Reporter{Store: store, Directory: dir}
}

// =============================================================================
// DAILY LISTING
// =============================================================================

type DailyRow struct {
	EmployeeID     attendance.EmployeeID   `json:"employee_id"`
	EmployeeNumber string                  `json:"employee_number,omitempty"`
	EmployeeName   string                  `json:"employee_name,omitempty"`
	Date           attendance.Date         `json:"date"`
	CheckIn        *time.Time              `json:"check_in"`
	CheckOut       *time.Time              `json:"check_out"`
	Status         attendance.Status       `json:"status"`
	OvertimeHours  decimal.Decimal         `json:"overtime_hours"`
	Source         attendance.RecordSource `json:"source"`
	DeviceID       string                  `json:"device_id,omitempty"`
	Locked         bool                    `json:"locked"`
	Note           string                  `json:"note,omitempty"`
}

// Employee is the display label: number, else id.
func (r DailyRow) Employee() string {
	if r.EmployeeNumber != "" {
		return r.EmployeeNumber
	}
	return string(r.EmployeeID)
}

// Daily returns one row per stored record, newest first unless
// filter.Ascending.
func (r *Reporter) Daily(ctx context.Context, filter Filter) ([]DailyRow, error) {
	if filter.TenantID == "" {
		return nil, attendance.ErrTenantRequired
	}
	records, err := r.Store.ListAttendance(ctx, attendance.AttendanceFilter{
		TenantID:   filter.TenantID,
		Range:      filter.Range,
		EmployeeID: filter.EmployeeID,
		Descending: !filter.Ascending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	people, err := r.employees(ctx, filter.TenantID)
	if err != nil {
		return nil, err
	}

	rows := make([]DailyRow, 0, len(records))
	for _, rec := range records {
		row := DailyRow{
			EmployeeID:    rec.EmployeeID,
			Date:          rec.Date,
			CheckIn:       rec.CheckIn,
			CheckOut:      rec.CheckOut,
			Status:        rec.Status,
			OvertimeHours: rec.OvertimeHours,
			Source:        rec.Source,
			DeviceID:      rec.DeviceID,
			Locked:        rec.Locked,
			Note:          rec.Note,
		}
		if e, ok := people[rec.EmployeeID]; ok {
			row.EmployeeNumber, row.EmployeeName = e.EmployeeNumber, e.Name
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			if filter.Ascending {
				return rows[i].Date.Before(rows[j].Date)
			}
			return rows[i].Date.After(rows[j].Date)
		}
		if a, b := rows[i].Employee(), rows[j].Employee(); a != b {
			return a < b
		}
		return rows[i].EmployeeID < rows[j].EmployeeID
	})
	return rows, nil
}

func (r *Reporter) employees(ctx context.Context, tenantID string) (map[attendance.EmployeeID]attendance.Employee, error) {
	out := make(map[attendance.EmployeeID]attendance.Employee)
	if r.Directory == nil {
		return out, nil
	}
	list, err := r.Directory.ListEmployees(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	for _, e := range list {
		out[e.ID] = e
	}
	return out, nil
}

// =============================================================================
// PER-EMPLOYEE SUMMARY
// =============================================================================

type EmployeeSummary struct {
	EmployeeID     attendance.EmployeeID `json:"employee_id"`
	EmployeeNumber string                `json:"employee_number,omitempty"`
	EmployeeName   string                `json:"employee_name,omitempty"`
	Present        int                   `json:"present"`
	Late           int                   `json:"late"`
	Absent         int                   `json:"absent"`
	Leave          int                   `json:"leave"`
	Records        int                   `json:"records"`
	OvertimeHours  decimal.Decimal       `json:"overtime_hours"`
	AttendanceRate int                   `json:"attendance_rate"` // percent
}

// Employee is the display label: the employee number, else the id.
func (s EmployeeSummary) Employee() string {
	if s.EmployeeNumber != "" {
		return s.EmployeeNumber
	}
	return string(s.EmployeeID)
}

// Summarize rolls the daily listing up per employee, ordered by employee.
func (r *Reporter) Summarize(ctx context.Context, filter Filter) ([]EmployeeSummary, error) {
	rows, err := r.Daily(ctx, filter)
	if err != nil {
		return nil, err
	}
	return SummarizeRows(rows), nil
}

// SummarizeRows aggregates already loaded rows.
func SummarizeRows(rows []DailyRow) []EmployeeSummary {
	index := make(map[attendance.EmployeeID]*EmployeeSummary)
	var order []attendance.EmployeeID
	for _, row := range rows {
		s, ok := index[row.EmployeeID]
		if !ok {
			s = &EmployeeSummary{
				EmployeeID:     row.EmployeeID,
				EmployeeNumber: row.EmployeeNumber,
				EmployeeName:   row.EmployeeName,
				OvertimeHours:  decimal.Zero,
			}
			index[row.EmployeeID] = s
			order = append(order, row.EmployeeID)
		}
		s.Records++
		switch row.Status {
		case attendance.StatusPresent:
			s.Present++
		case attendance.StatusLate:
			s.Late++
		case attendance.StatusAbsent:
			s.Absent++
		case attendance.StatusLeave:
			s.Leave++
		}
		s.OvertimeHours = s.OvertimeHours.Add(row.OvertimeHours)
	}

	out := make([]EmployeeSummary, 0, len(order))
	for _, id := range order {
		s := index[id]
		s.AttendanceRate = AttendanceRate(s.Present, s.Late, s.Records)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if a, b := out[i].Employee(), out[j].Employee(); a != b {
			return a < b
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out
}

// AttendanceRate is round((present+late)/records*100), 0 without records.
func AttendanceRate(present, late, records int) int {
	if records == 0 {
		return 0
	}
	rate := decimal.NewFromInt(int64(present + late)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(records))).
		Round(0)
	return int(rate.IntPart())
}

// =============================================================================
// COMBINED REPORT
// =============================================================================

type Totals struct {
	Records       int                       `json:"records"`
	ByStatus      map[attendance.Status]int `json:"by_status"`
	OvertimeHours decimal.Decimal           `json:"overtime_hours"`
}

type Report struct {
	From      *attendance.Date  `json:"from,omitempty"`
	To        *attendance.Date  `json:"to,omitempty"`
	Daily     []DailyRow        `json:"daily"`
	Employees []EmployeeSummary `json:"employees"`
	Totals    Totals            `json:"totals"`
}

// Build returns the daily listing, per-employee summary and totals of one
// query.
func (r *Reporter) Build(ctx context.Context, filter Filter) (*Report, error) {
	rows, err := r.Daily(ctx, filter)
	if err != nil {
		return nil, err
	}
	totals := Totals{ByStatus: make(map[attendance.Status]int), OvertimeHours: decimal.Zero}
	for _, st := range attendance.Statuses() {
		totals.ByStatus[st] = 0
	}
	for _, row := range rows {
		totals.Records++
		totals.ByStatus[row.Status]++
		totals.OvertimeHours = totals.OvertimeHours.Add(row.OvertimeHours)
	}
	return &Report{
		From:      filter.Range.From,
		To:        filter.Range.To,
		Daily:     rows,
		Employees: SummarizeRows(rows),
		Totals:    totals,
	}, nil
}
