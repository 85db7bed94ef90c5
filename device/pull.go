/*
Package device simulates pulling the attendance log from a terminal.

PURPOSE:
  The real terminal protocol is not implemented. Pull stands in for it behind
  the contract a real client would keep: it fails before writing anything if
  the tenant has no active employees, otherwise writes one "in" and one
  "out" punch per active employee for today and stamps the device's sync
  time and employee count.

  Times and verification methods are random but plausible:
    in   07:30 - 08:30
    out  16:30 - 18:00

SEE ALSO:
  - attendance/ledger.go: Punches are appended through the ledger
  - reconcile/engine.go: Consumes the punches
*/
package device

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"time"

	"github.com/warp/punchclock/attendance"
)

// Registry is the device table.
type Registry interface {
	GetDevice(ctx context.Context, tenantID, id string) (*attendance.Device, error)
	RecordDeviceSync(ctx context.Context, tenantID, id string, at time.Time, totalEmployees int) error
}

// Employees lists the directory's active employees.
type Employees interface {
	ListActiveEmployees(ctx context.Context, tenantID string) ([]attendance.Employee, error)
}

var (
	inWindowStart  = attendance.NewClockTime(7, 30)
	inWindow       = time.Hour
	outWindowStart = attendance.NewClockTime(16, 30)
	outWindow      = 90 * time.Minute
)

type Puller struct {
	Devices   Registry
	Employees Employees
	Ledger    *attendance.PunchLedger
	Logger    *log.Logger
	Now       func() time.Time
	Rand      *rand.Rand // nil = global source
}

func NewPuller(devices Registry, employees Employees, ledger *attendance.PunchLedger) *Puller {
	return &Puller{Devices: devices, Employees: employees, Ledger: ledger, Now: time.Now}
}

type PullResult struct {
	DeviceID         string     `json:"device_id"`
	RecordsWritten   int        `json:"records_written"`
	EmployeesTouched int        `json:"employees_touched"`
	Duplicates       int        `json:"duplicates"`
	SyncedAt         *time.Time `json:"synced_at,omitempty"` // nil when the stamp failed
	SyncError        string     `json:"sync_error,omitempty"`
}

// Pull produces today's punches for every active employee.
//
// Once punches are appended the result is always returned. If stamping the
// device sync fails afterwards, Pull returns that result together with the
// error: the punches are committed and a retry would write new ones.
func (p *Puller) Pull(ctx context.Context, tenantID, deviceID string) (*PullResult, error) {
	if tenantID == "" {
		return nil, attendance.ErrTenantRequired
	}
	dev, err := p.Devices.GetDevice(ctx, tenantID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up device: %w", err)
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: %s", attendance.ErrDeviceNotFound, deviceID)
	}

	employees, err := p.Employees.ListActiveEmployees(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	if len(employees) == 0 {
		return nil, &attendance.NoEmployeesError{TenantID: tenantID}
	}

	now := p.now()
	today := attendance.DateOf(now)
	punches := make([]attendance.PunchRecord, 0, 2*len(employees))
	for _, emp := range employees {
		punches = append(punches,
			p.punch(tenantID, dev.ID, emp, today, attendance.PunchIn, inWindowStart, inWindow),
			p.punch(tenantID, dev.ID, emp, today, attendance.PunchOut, outWindowStart, outWindow),
		)
	}

	appended, err := p.Ledger.Append(ctx, punches)
	if err != nil {
		return nil, err
	}
	result := &PullResult{
		DeviceID:         dev.ID,
		RecordsWritten:   appended.Written,
		EmployeesTouched: len(employees),
		Duplicates:       appended.Duplicates,
	}

	if err := p.Devices.RecordDeviceSync(ctx, tenantID, dev.ID, now, len(employees)); err != nil {
		err = fmt.Errorf("failed to record device sync: %w", err)
		result.SyncError = err.Error()
		p.logger().Printf("[Pull] tenant=%s device=%s written=%d but %v",
			tenantID, dev.ID, result.RecordsWritten, err)
		return result, err
	}
	result.SyncedAt = &now

	p.logger().Printf("[Pull] tenant=%s device=%s employees=%d written=%d",
		tenantID, dev.ID, result.EmployeesTouched, result.RecordsWritten)
	return result, nil
}

func (p *Puller) punch(tenantID, deviceID string, emp attendance.Employee, day attendance.Date, typ attendance.PunchType, from attendance.ClockTime, window time.Duration) attendance.PunchRecord {
	offset := time.Duration(p.intN(int(window/time.Second))) * time.Second
	methods := attendance.VerificationMethods()
	return attendance.PunchRecord{
		TenantID:           tenantID,
		EmployeeCode:       emp.EmployeeNumber,
		PunchTime:          day.At(from).Add(offset),
		PunchType:          typ,
		VerificationMethod: methods[p.intN(len(methods))],
		DeviceID:           deviceID,
		Source:             attendance.SourceDevice,
	}
}

func (p *Puller) intN(n int) int {
	if p.Rand != nil {
		return p.Rand.IntN(n)
	}
	return rand.IntN(n)
}

func (p *Puller) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func (p *Puller) logger() *log.Logger {
	if p.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return p.Logger
}
