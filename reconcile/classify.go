package reconcile

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/schedule"
)

// =============================================================================
// GROUPING - (employee code, device-local date)
// =============================================================================

// Group is every punch of one device code on one calendar date.
type Group struct {
	EmployeeCode string
	Date         attendance.Date
	Punches      []attendance.PunchRecord
}

type groupKey struct {
	code string
	date attendance.Date
}

// GroupPunches groups punches by code and device-local date. Groups come out
// ordered by date then code, punches inside a group by time.
func GroupPunches(punches []attendance.PunchRecord) []Group {
	index := make(map[groupKey]int)
	var groups []Group
	for _, p := range punches {
		k := groupKey{code: p.EmployeeCode, date: p.Date()}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{EmployeeCode: p.EmployeeCode, Date: k.date})
		}
		groups[i].Punches = append(groups[i].Punches, p)
	}

	for i := range groups {
		SortPunches(groups[i].Punches)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if !groups[i].Date.Equal(groups[j].Date) {
			return groups[i].Date.Before(groups[j].Date)
		}
		return groups[i].EmployeeCode < groups[j].EmployeeCode
	})
	return groups
}

// SortPunches orders punches by time, then id, in place.
func SortPunches(punches []attendance.PunchRecord) {
	sort.SliceStable(punches, func(i, j int) bool {
		if !punches[i].PunchTime.Equal(punches[j].PunchTime) {
			return punches[i].PunchTime.Before(punches[j].PunchTime)
		}
		return punches[i].ID < punches[j].ID
	})
}

// distinctTimes drops punches at the same instant as their predecessor.
// Input must be sorted.
func distinctTimes(punches []attendance.PunchRecord) []attendance.PunchRecord {
	out := make([]attendance.PunchRecord, 0, len(punches))
	for _, p := range punches {
		if n := len(out); n > 0 && out[n-1].PunchTime.Equal(p.PunchTime) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Outcome is the derived daily result for one group.
type Outcome struct {
	CheckIn       *time.Time
	CheckOut      *time.Time // nil for a single-punch day
	Status        attendance.Status
	OvertimeHours decimal.Decimal
	EarlyLeave    bool
	DeviceID      string

	// Deferred is set for holidays and non-work days. Nothing is written for
	// them; leave handling owns those dates.
	Deferred bool
}

var secondsPerHour = decimal.NewFromInt(3600)

// Classify derives the outcome of one group. punches must be non-empty.
//
// Late is a check-in strictly after start + late tolerance, compared to the
// second. Overtime is the time past end + overtime threshold, in hours
// rounded to two places, and only when a check-out exists.
func Classify(punches []attendance.PunchRecord, ws schedule.WorkSchedule, date attendance.Date, holiday bool) Outcome {
	sorted := append([]attendance.PunchRecord(nil), punches...)
	SortPunches(sorted)
	sorted = distinctTimes(sorted)

	first := sorted[0]
	checkIn := first.PunchTime
	out := Outcome{CheckIn: &checkIn, OvertimeHours: decimal.Zero, DeviceID: first.DeviceID}
	if len(sorted) > 1 {
		checkOut := sorted[len(sorted)-1].PunchTime
		out.CheckOut = &checkOut
	}
	if out.DeviceID == "" {
		for _, p := range sorted {
			if p.DeviceID != "" {
				out.DeviceID = p.DeviceID
				break
			}
		}
	}

	if holiday || !ws.IsWorkDay(date) {
		out.Deferred = true
		return out
	}

	out.Status = attendance.StatusPresent
	if attendance.ClockOf(checkIn) > ws.LateThreshold() {
		out.Status = attendance.StatusLate
	}

	if out.CheckOut != nil {
		leftAt := attendance.ClockOf(*out.CheckOut)
		if excess := int64(leftAt - ws.OvertimeThreshold()); excess > 0 {
			out.OvertimeHours = decimal.NewFromInt(excess).Div(secondsPerHour).Round(2)
		}
		out.EarlyLeave = leftAt < ws.EarlyLeaveThreshold()
	}
	return out
}

// Record turns a non-deferred outcome into the attendance row to upsert.
func (o Outcome) Record(tenantID string, employeeID attendance.EmployeeID, date attendance.Date) attendance.AttendanceRecord {
	rec := attendance.AttendanceRecord{
		TenantID:      tenantID,
		EmployeeID:    employeeID,
		Date:          date,
		CheckIn:       o.CheckIn,
		CheckOut:      o.CheckOut,
		Status:        o.Status,
		OvertimeHours: o.OvertimeHours,
		Source:        attendance.RecordFingerprint,
		DeviceID:      o.DeviceID,
	}
	if o.EarlyLeave {
		rec.Note = "early leave"
	}
	return rec
}
