/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types that
  already carry JSON tags (schedule.WorkSchedule, report.DailyRow,
  reconcile.Summary) are returned as-is; the types here cover the rows
  whose storage shape differs from the wire shape.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Directory:  EmployeeDTO, DeviceDTO (requests reuse factory.EmployeeJSON
              and factory.DeviceJSON, the seed file schema)
  Punches:    PunchDTO, UploadRequest
  Runs:       ProcessRequest
  Leave:      LeaveRequest
  Scenarios:  ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/seed.go: EmployeeJSON and DeviceJSON
*/
package api

import (
	"time"

	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/factory"
	"github.com/warp/punchclock/reconcile"
)

// =============================================================================
// DIRECTORY
// =============================================================================

type EmployeeDTO struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	EmployeeNumber string `json:"employee_number"`
	Name           string `json:"name"`
	IsActive       bool   `json:"is_active"`
	CreatedAt      string `json:"created_at,omitempty"`
}

func toEmployeeDTO(e attendance.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:             string(e.ID),
		TenantID:       e.TenantID,
		EmployeeNumber: e.EmployeeNumber,
		Name:           e.Name,
		IsActive:       e.IsActive,
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// CreateEmployeeRequest is the seed file's employee entry.
type CreateEmployeeRequest = factory.EmployeeJSON

type DeviceDTO struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	Name           string `json:"name"`
	SerialNumber   string `json:"serial_number,omitempty"`
	Address        string `json:"address,omitempty"`
	LastSyncAt     string `json:"last_sync_at,omitempty"`
	TotalEmployees int    `json:"total_employees"`
	IsActive       bool   `json:"is_active"`
}

func toDeviceDTO(d attendance.Device) DeviceDTO {
	dto := DeviceDTO{
		ID:             d.ID,
		TenantID:       d.TenantID,
		Name:           d.Name,
		SerialNumber:   d.SerialNumber,
		Address:        d.Address,
		TotalEmployees: d.TotalEmployees,
		IsActive:       d.IsActive,
	}
	if d.LastSyncAt != nil {
		dto.LastSyncAt = d.LastSyncAt.Format(time.RFC3339)
	}
	return dto
}

// CreateDeviceRequest is the seed file's device entry.
type CreateDeviceRequest = factory.DeviceJSON

// =============================================================================
// PUNCHES
// =============================================================================

// PunchDTO renders punch_time as device-local wall clock, the way terminals
// print it.
type PunchDTO struct {
	ID                 string `json:"id"`
	EmployeeCode       string `json:"employee_code"`
	PunchTime          string `json:"punch_time"`
	PunchType          string `json:"punch_type"`
	VerificationMethod string `json:"verification_method"`
	DeviceID           string `json:"device_id,omitempty"`
	Source             string `json:"source"`
	IsProcessed        bool   `json:"is_processed"`
}

func toPunchDTO(p attendance.PunchRecord) PunchDTO {
	return PunchDTO{
		ID:                 string(p.ID),
		EmployeeCode:       p.EmployeeCode,
		PunchTime:          p.PunchTime.Format("2006-01-02 15:04:05"),
		PunchType:          string(p.PunchType),
		VerificationMethod: string(p.VerificationMethod),
		DeviceID:           p.DeviceID,
		Source:             string(p.Source),
		IsProcessed:        p.IsProcessed,
	}
}

// UploadRequest is the JSON form of a file upload. Multipart uploads carry
// the same fields as form values plus a "file" part.
type UploadRequest struct {
	Format   string `json:"format"`
	DeviceID string `json:"device_id,omitempty"`
	Content  string `json:"content"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ProcessRequest scopes a reconciliation trigger. Every field is optional.
type ProcessRequest struct {
	From     *attendance.Date `json:"from,omitempty"`
	To       *attendance.Date `json:"to,omitempty"`
	DeviceID string           `json:"device_id,omitempty"`
}

type RunDTO struct {
	reconcile.Run
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

func toRunDTO(run reconcile.Run) RunDTO {
	dto := RunDTO{Run: run}
	if run.Range.From != nil {
		dto.From = run.Range.From.String()
	}
	if run.Range.To != nil {
		dto.To = run.Range.To.String()
	}
	return dto
}

// =============================================================================
// LEAVE
// =============================================================================

type LeaveRequest struct {
	EmployeeID string          `json:"employee_id"`
	From       attendance.Date `json:"from"`
	To         attendance.Date `json:"to"`
	Note       string          `json:"note,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
	Reconcile  bool   `json:"reconcile,omitempty"` // run reconciliation after loading
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
