package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/punchclock/attendance"
)

// =============================================================================
// EMPLOYEE DIRECTORY (directory.Directory interface)
// =============================================================================

const employeeColumns = "id, tenant_id, employee_number, name, is_active, created_at"

func (s *Store) SaveEmployee(ctx context.Context, emp attendance.Employee) error {
	created := emp.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, tenant_id, employee_number, name, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			employee_number = excluded.employee_number,
			name = excluded.name,
			is_active = excluded.is_active
		WHERE employees.tenant_id = excluded.tenant_id`,
		string(emp.ID), emp.TenantID, emp.EmployeeNumber, emp.Name, boolInt(emp.IsActive),
		created.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return ownedByTenant(res, "employee", string(emp.ID))
}

// FindEmployeesByNumber returns every employee, active or not, with the
// exact number.
func (s *Store) FindEmployeesByNumber(ctx context.Context, tenantID, number string) ([]attendance.Employee, error) {
	return s.queryEmployees(ctx, "SELECT "+employeeColumns+` FROM employees
		WHERE tenant_id = ? AND employee_number = ?
		ORDER BY employee_number`, tenantID, number)
}

func (s *Store) FindEmployeesByNumberPrefix(ctx context.Context, tenantID, prefix string) ([]attendance.Employee, error) {
	return s.queryEmployees(ctx, "SELECT "+employeeColumns+` FROM employees
		WHERE tenant_id = ? AND employee_number LIKE ? ESCAPE '\'
		ORDER BY employee_number`, tenantID, escapeLike(prefix)+"%")
}

func (s *Store) ListActiveEmployees(ctx context.Context, tenantID string) ([]attendance.Employee, error) {
	return s.queryEmployees(ctx, "SELECT "+employeeColumns+` FROM employees
		WHERE tenant_id = ? AND is_active = 1
		ORDER BY employee_number`, tenantID)
}

func (s *Store) ListEmployees(ctx context.Context, tenantID string) ([]attendance.Employee, error) {
	return s.queryEmployees(ctx, "SELECT "+employeeColumns+` FROM employees
		WHERE tenant_id = ?
		ORDER BY employee_number`, tenantID)
}

func (s *Store) queryEmployees(ctx context.Context, query string, args ...any) ([]attendance.Employee, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []attendance.Employee
	for rows.Next() {
		var (
			e         attendance.Employee
			active    int
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EmployeeNumber, &e.Name, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		e.IsActive = active != 0
		e.CreatedAt = parseTimestamp(createdAt)
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// =============================================================================
// DEVICE REGISTRY (device.Registry interface)
// =============================================================================

const deviceColumns = `id, tenant_id, name, serial_number, address, last_sync_at,
	total_employees, is_active, created_at`

func (s *Store) SaveDevice(ctx context.Context, d attendance.Device) error {
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			serial_number = excluded.serial_number,
			address = excluded.address,
			is_active = excluded.is_active
		WHERE devices.tenant_id = excluded.tenant_id`,
		d.ID, d.TenantID, d.Name, nullString(d.SerialNumber), nullString(d.Address),
		nullTime(d.LastSyncAt), d.TotalEmployees, boolInt(d.IsActive),
		created.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save device: %w", err)
	}
	return ownedByTenant(res, "device", d.ID)
}

// GetDevice returns nil, nil when the device is unknown to the tenant.
func (s *Store) GetDevice(ctx context.Context, tenantID, id string) (*attendance.Device, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE tenant_id = ? AND id = ?", tenantID, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDevices(ctx context.Context, tenantID string) ([]attendance.Device, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE tenant_id = ? ORDER BY name", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []attendance.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *Store) RecordDeviceSync(ctx context.Context, tenantID, id string, at time.Time, totalEmployees int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET last_sync_at = ?, total_employees = ?
		WHERE tenant_id = ? AND id = ?`,
		at.Format(timestampLayout), totalEmployees, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to record device sync: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return attendance.ErrDeviceNotFound
	}
	return nil
}

func scanDevice(row scanner) (attendance.Device, error) {
	var (
		d         attendance.Device
		serial    sql.NullString
		address   sql.NullString
		lastSync  sql.NullString
		active    int
		createdAt string
	)
	err := row.Scan(&d.ID, &d.TenantID, &d.Name, &serial, &address, &lastSync, &d.TotalEmployees, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, err
	}
	if err != nil {
		return d, fmt.Errorf("failed to scan device: %w", err)
	}
	d.SerialNumber = serial.String
	d.Address = address.String
	if d.LastSyncAt, err = parseNullTime(lastSync); err != nil {
		return d, err
	}
	d.IsActive = active != 0
	d.CreatedAt = parseTimestamp(createdAt)
	return d, nil
}
