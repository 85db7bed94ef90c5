package reconcile

import (
	"context"
	"time"

	"github.com/warp/punchclock/attendance"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the audit record of one Process call.
type Run struct {
	ID          string               `json:"id"`
	TenantID    string               `json:"tenant_id"`
	Status      RunStatus            `json:"status"`
	Range       attendance.DateRange `json:"-"`
	DeviceID    string               `json:"device_id,omitempty"`
	Summary     Summary              `json:"summary"`
	Error       string               `json:"error,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// RunStore persists run records. SaveRun inserts or replaces by ID.
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, tenantID string, limit int) ([]Run, error)
}
