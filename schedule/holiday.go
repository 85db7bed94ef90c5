package schedule

import "github.com/warp/punchclock/attendance"

// Holiday is a non-work day or range. An empty TenantID is a global holiday.
type Holiday struct {
	ID          string           `json:"id" yaml:"id"`
	TenantID    string           `json:"tenant_id" yaml:"tenant_id"`
	Name        string           `json:"name" yaml:"name"`
	StartDate   attendance.Date  `json:"start_date" yaml:"start_date"`
	EndDate     *attendance.Date `json:"end_date,omitempty" yaml:"end_date,omitempty"` // nil = single day
	IsRecurring bool             `json:"is_recurring" yaml:"is_recurring"`             // month+day, any year
}

func (h Holiday) end() attendance.Date {
	if h.EndDate == nil {
		return h.StartDate
	}
	return *h.EndDate
}

// Covers reports whether d falls on the holiday. Recurring holidays ignore the
// year, and a recurring range may wrap the year end (Dec 31 - Jan 2).
func (h Holiday) Covers(d attendance.Date) bool {
	if !h.IsRecurring {
		return d.AfterOrEqual(h.StartDate) && d.BeforeOrEqual(h.end())
	}
	from, to, md := h.StartDate.MonthDay(), h.end().MonthDay(), d.MonthDay()
	if from <= to {
		return md >= from && md <= to
	}
	return md >= from || md <= to
}
