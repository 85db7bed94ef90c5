/*
errors.go - Centralized error types for the reconciliation pipeline

PURPOSE:
  All error types in one place for consistency and discoverability.
  Components wrap these with context; callers classify them with errors.Is.

ERROR CATEGORIES:
  1. Group errors - recovered per (employee, date) group and summarized
     (UnresolvedEmployeeCode, NoSchedule)
  2. Operation preconditions - raised to the caller as hard failures
     (TenantRequired, NoEmployees, DeviceNotFound)
  3. Store errors - persistence failures

  A malformed input line is not an error at all: parsers record it as a
  Skip and keep going.

SEE ALSO:
  - reconcile/engine.go: Isolates group errors into the run summary
  - api/handlers.go: Maps errors to HTTP status codes
*/
package attendance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnresolvedEmployeeCode is returned when no directory identity matches
	// a device code. The group stays unprocessed and is retried next run.
	ErrUnresolvedEmployeeCode = errors.New("unresolved employee code")

	// ErrNoSchedule is returned when neither an assigned nor a default
	// schedule exists for the employee.
	ErrNoSchedule = errors.New("no work schedule")

	// ErrNoEmployees aborts a device pull before anything is written.
	ErrNoEmployees = errors.New("no active employees")

	// ErrTenantRequired is returned when an operation has no tenant scope.
	ErrTenantRequired = errors.New("tenant is required")

	// ErrDeviceNotFound is returned for an unknown device id.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNotFound is returned when a referenced row doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRange is returned when a date range ends before it starts.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrInvalidRequest wraps malformed operator input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDuplicatePunch is returned when a punch with the same idempotency
	// key already exists. Ingestion counts it instead of failing.
	ErrDuplicatePunch = errors.New("duplicate punch")

	// ErrInvalidSchedule is returned for schedules that cannot classify a day.
	ErrInvalidSchedule = errors.New("invalid work schedule")

	// ErrIDConflict is returned when a save names an id owned by another
	// tenant. The existing row is left untouched.
	ErrIDConflict = errors.New("id belongs to another tenant")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnresolvedCodeError names the device code that matched no employee.
type UnresolvedCodeError struct {
	TenantID string
	Code     string
	Reason   string // "no match" or "ambiguous prefix"
}

func (e *UnresolvedCodeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("employee code %q unresolved: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("employee code %q unresolved", e.Code)
}

func (e *UnresolvedCodeError) Unwrap() error { return ErrUnresolvedEmployeeCode }

// NoScheduleError names the employee without an applicable schedule.
type NoScheduleError struct {
	EmployeeID EmployeeID
	Date       Date
}

func (e *NoScheduleError) Error() string {
	return fmt.Sprintf("no work schedule for employee %s on %s", e.EmployeeID, e.Date)
}

func (e *NoScheduleError) Unwrap() error { return ErrNoSchedule }

// NoEmployeesError is returned by a device pull for an empty directory.
type NoEmployeesError struct {
	TenantID string
}

func (e *NoEmployeesError) Error() string {
	return fmt.Sprintf("no active employees for tenant %q", e.TenantID)
}

func (e *NoEmployeesError) Unwrap() error { return ErrNoEmployees }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrTenantRequired) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrNoEmployees) ||
		errors.Is(err, ErrInvalidSchedule)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDeviceNotFound)
}

// IsGroupError returns true for errors the engine recovers per group.
func IsGroupError(err error) bool {
	return errors.Is(err, ErrUnresolvedEmployeeCode) ||
		errors.Is(err, ErrNoSchedule)
}
