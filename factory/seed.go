/*
Package factory converts seed definitions into stored configuration.

PURPOSE:
  Operators describe a tenant's schedules, assignments, holidays, employees
  and devices in one YAML or JSON document. The factory validates the
  document, fills defaults and writes it through a Target, so a fresh
  database or a demo scenario is one file away.

SCHEMA (YAML):
  tenant_id: acme
  schedules:
    - id: office
      name: Office Hours
      start_time: "08:00"
      end_time: "17:00"
      work_days: [mon, tue, wed, thu, fri]
      late_tolerance_minutes: 15
      is_default: true
  assignments:
    - employee_id: emp-2
      schedule_id: office        # schedule id or name
      effective_from: 2024-01-01
  holidays:
    - name: New Year
      start_date: 2024-01-01
      is_recurring: true
  employees:
    - id: emp-1
      employee_number: "1001"
      name: Ana
  devices:
    - id: lobby
      name: Lobby Terminal

DEFAULTS:
  - tenant_id on an entry falls back to the document's tenant_id
  - empty work_days means Monday to Friday
  - employees and devices are active unless is_active: false
  - missing ids are generated

SEE ALSO:
  - schedule/snapshot.go: The same validation a reconciliation run applies
  - api/scenarios.go: Demo scenarios built from seed documents
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/schedule"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// SEED SCHEMA
// =============================================================================

type Seed struct {
	TenantID    string                  `json:"tenant_id" yaml:"tenant_id"`
	Schedules   []schedule.WorkSchedule `json:"schedules,omitempty" yaml:"schedules,omitempty"`
	Assignments []schedule.Assignment   `json:"assignments,omitempty" yaml:"assignments,omitempty"`
	Holidays    []schedule.Holiday      `json:"holidays,omitempty" yaml:"holidays,omitempty"`
	Employees   []EmployeeJSON          `json:"employees,omitempty" yaml:"employees,omitempty"`
	Devices     []DeviceJSON            `json:"devices,omitempty" yaml:"devices,omitempty"`
}

type EmployeeJSON struct {
	ID             string `json:"id" yaml:"id"`
	TenantID       string `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	EmployeeNumber string `json:"employee_number" yaml:"employee_number"`
	Name           string `json:"name" yaml:"name"`
	IsActive       *bool  `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

type DeviceJSON struct {
	ID           string `json:"id" yaml:"id"`
	TenantID     string `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	Name         string `json:"name" yaml:"name"`
	SerialNumber string `json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
	Address      string `json:"address,omitempty" yaml:"address,omitempty"`
	IsActive     *bool  `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseYAML parses and normalizes a YAML seed document.
func ParseYAML(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse seed YAML: %w", err)
	}
	return s.Normalize()
}

// ParseJSON parses and normalizes a JSON seed document.
func ParseJSON(data []byte) (*Seed, error) {
	var s Seed
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse seed JSON: %w", err)
	}
	return s.Normalize()
}

// LoadFile reads a seed file, picking the parser by extension.
func LoadFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// Normalize fills defaults and validates the document as a whole. Seeds
// built in code go through it before Apply.
func (s Seed) Normalize() (*Seed, error) {
	if s.TenantID == "" {
		return nil, fmt.Errorf("%w: seed has no tenant_id", attendance.ErrTenantRequired)
	}

	byName := make(map[string]string, len(s.Schedules))
	for i := range s.Schedules {
		ws := &s.Schedules[i]
		if ws.TenantID == "" {
			ws.TenantID = s.TenantID
		}
		if ws.ID == "" {
			ws.ID = uuid.NewString()
		}
		if ws.WorkDays == 0 {
			ws.WorkDays = schedule.DefaultWorkDays
		}
		byName[strings.ToLower(ws.Name)] = ws.ID
	}

	known := make(map[string]bool, len(s.Schedules))
	for _, ws := range s.Schedules {
		known[ws.ID] = true
	}
	for i := range s.Assignments {
		a := &s.Assignments[i]
		if a.TenantID == "" {
			a.TenantID = s.TenantID
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if !known[a.ScheduleID] {
			if id, ok := byName[strings.ToLower(a.ScheduleID)]; ok {
				a.ScheduleID = id
			}
		}
		if a.EmployeeID == "" {
			return nil, fmt.Errorf("%w: assignment %d has no employee_id", attendance.ErrInvalidRequest, i)
		}
	}

	for i := range s.Holidays {
		h := &s.Holidays[i]
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		if h.Name == "" || h.StartDate.IsZero() {
			return nil, fmt.Errorf("%w: holiday %d needs a name and start_date", attendance.ErrInvalidRequest, i)
		}
		if h.EndDate != nil && h.EndDate.Before(h.StartDate) && !h.IsRecurring {
			return nil, fmt.Errorf("%w: holiday %s", attendance.ErrInvalidRange, h.Name)
		}
	}

	numbers := make(map[string]bool, len(s.Employees))
	for i := range s.Employees {
		e := &s.Employees[i]
		if e.TenantID == "" {
			e.TenantID = s.TenantID
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.EmployeeNumber == "" {
			return nil, fmt.Errorf("%w: employee %s has no employee_number", attendance.ErrInvalidRequest, e.ID)
		}
		if numbers[e.TenantID+"/"+e.EmployeeNumber] {
			return nil, fmt.Errorf("%w: duplicate employee_number %s", attendance.ErrInvalidRequest, e.EmployeeNumber)
		}
		numbers[e.TenantID+"/"+e.EmployeeNumber] = true
	}

	for i := range s.Devices {
		d := &s.Devices[i]
		if d.TenantID == "" {
			d.TenantID = s.TenantID
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
	}

	// Same checks a reconciliation run applies to the stored configuration.
	if _, err := schedule.NewSnapshot(s.TenantID, s.Schedules, s.Assignments, s.Holidays); err != nil {
		return nil, err
	}
	return &s, nil
}

// =============================================================================
// CONVERSION
// =============================================================================

func (e EmployeeJSON) Employee() attendance.Employee {
	return attendance.Employee{
		ID:             attendance.EmployeeID(e.ID),
		TenantID:       e.TenantID,
		EmployeeNumber: e.EmployeeNumber,
		Name:           e.Name,
		IsActive:       e.IsActive == nil || *e.IsActive,
	}
}

func (d DeviceJSON) Device() attendance.Device {
	return attendance.Device{
		ID:           d.ID,
		TenantID:     d.TenantID,
		Name:         d.Name,
		SerialNumber: d.SerialNumber,
		Address:      d.Address,
		IsActive:     d.IsActive == nil || *d.IsActive,
	}
}

// =============================================================================
// APPLY
// =============================================================================

// Target is where seed data is written. Both stores implement it.
type Target interface {
	SaveSchedule(ctx context.Context, ws schedule.WorkSchedule) (schedule.WorkSchedule, error)
	SaveAssignment(ctx context.Context, a schedule.Assignment) (schedule.Assignment, error)
	SaveHoliday(ctx context.Context, h schedule.Holiday) (schedule.Holiday, error)
	SaveEmployee(ctx context.Context, e attendance.Employee) error
	SaveDevice(ctx context.Context, d attendance.Device) error
}

// Counts reports what Apply wrote.
type Counts struct {
	Schedules   int `json:"schedules"`
	Assignments int `json:"assignments"`
	Holidays    int `json:"holidays"`
	Employees   int `json:"employees"`
	Devices     int `json:"devices"`
}

// Apply writes the seed. Schedules go first so assignments can reference
// them. Writes are upserts by id, so applying the same seed twice is safe.
func (s *Seed) Apply(ctx context.Context, target Target) (Counts, error) {
	var c Counts
	for _, ws := range s.Schedules {
		if _, err := target.SaveSchedule(ctx, ws); err != nil {
			return c, fmt.Errorf("failed to save schedule %s: %w", ws.Name, err)
		}
		c.Schedules++
	}
	for _, a := range s.Assignments {
		if _, err := target.SaveAssignment(ctx, a); err != nil {
			return c, fmt.Errorf("failed to save assignment for %s: %w", a.EmployeeID, err)
		}
		c.Assignments++
	}
	for _, h := range s.Holidays {
		if _, err := target.SaveHoliday(ctx, h); err != nil {
			return c, fmt.Errorf("failed to save holiday %s: %w", h.Name, err)
		}
		c.Holidays++
	}
	for _, e := range s.Employees {
		if err := target.SaveEmployee(ctx, e.Employee()); err != nil {
			return c, fmt.Errorf("failed to save employee %s: %w", e.EmployeeNumber, err)
		}
		c.Employees++
	}
	for _, d := range s.Devices {
		if err := target.SaveDevice(ctx, d.Device()); err != nil {
			return c, fmt.Errorf("failed to save device %s: %w", d.Name, err)
		}
		c.Devices++
	}
	return c, nil
}

// EncodeYAML renders the seed back to a document.
func (s *Seed) EncodeYAML() ([]byte, error) {
	return yaml.Marshal(s)
}
