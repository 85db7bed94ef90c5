/*
handlers.go - HTTP API handlers for the punch reconciliation service

PURPOSE:
  Exposes ingestion, reconciliation and reporting via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain services.

ENDPOINTS:
  Directory:
    GET    /api/employees                 List employees (?active=true)
    POST   /api/employees                 Create or update employee
    GET    /api/devices                   List devices
    POST   /api/devices                   Register device
    POST   /api/devices/{id}/pull         Pull today's punches from a device

  Punches:
    POST   /api/punches/preview           Parse an upload without writing
    POST   /api/punches/import            Parse and append an upload
    GET    /api/punches                   List punches (processed, from, to)

  Reconciliation:
    POST   /api/reconciliation/process    Run reconciliation
    GET    /api/reconciliation/runs       Run history

  Configuration:
    GET    /api/schedules                 List work schedules
    POST   /api/schedules                 Create or update a schedule
    GET    /api/schedules/assignments     List assignments
    POST   /api/schedules/assignments     Assign an employee to a schedule
    GET    /api/holidays                  Tenant and global holidays
    POST   /api/holidays                  Create holiday
    POST   /api/holidays/defaults         Add common recurring holidays
    DELETE /api/holidays/{id}             Delete a tenant holiday

  Attendance:
    GET    /api/attendance                Daily listing (from, to, employee_id, sort)
    GET    /api/reports/summary           Daily listing + per-employee summary
    GET    /api/reports/export            CSV export (lang or Accept-Language)
    POST   /api/leave                     Record locked leave days
    POST   /api/leave/release             Unlock leave days

TENANT:
  Every endpoint is tenant scoped: X-Tenant-ID header, else the tenant_id
  query parameter, else the configured default tenant.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unknown upload format
  - 404: Resource not found
  - 409: Id already owned by another tenant
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/config"
	"github.com/warp/punchclock/device"
	"github.com/warp/punchclock/directory"
	"github.com/warp/punchclock/ingest"
	"github.com/warp/punchclock/leave"
	"github.com/warp/punchclock/parser"
	"github.com/warp/punchclock/reconcile"
	"github.com/warp/punchclock/report"
	"github.com/warp/punchclock/schedule"
	"github.com/warp/punchclock/store/sqlite"
	"golang.org/x/text/language"
)

const (
	// TenantHeader selects the tenant of a request.
	TenantHeader = "X-Tenant-ID"

	maxUploadBytes   = 32 << 20
	defaultPunchPage = 500
	defaultRunPage   = 50
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Ledger    *attendance.PunchLedger
	Engine    *reconcile.Engine
	Ingest    *ingest.Service
	Puller    *device.Puller
	Reporter  *report.Reporter
	Leave     *leave.Service
	Scheduler *ReconciliationScheduler // optional

	DefaultTenant string
	ExportLang    language.Tag
	Logger        *log.Logger
	Now           func() time.Time

	// Track currently loaded scenario per tenant
	mu              sync.Mutex
	currentScenario map[string]string
}

// NewHandler wires every service onto the store. A nil cfg means defaults.
func NewHandler(store *sqlite.Store, cfg *config.Config) *Handler {
	if cfg == nil {
		cfg = config.Default()
	}
	schedules := schedule.StoreSource{Store: store}
	ledger := attendance.NewPunchLedger(store)

	engine := reconcile.NewEngine(store, directory.NewResolver(store, cfg.Reconcile.PrefixMatch), schedules)
	engine.Runs = store
	engine.Logger = cfg.Logger
	engine.Options = reconcile.Options{
		Workers:                     cfg.Reconcile.Workers,
		RecordAbsentWithoutSchedule: cfg.Reconcile.RecordAbsentWithoutSchedule,
	}

	imports := ingest.NewService(ledger, store)
	imports.Logger = cfg.Logger

	puller := device.NewPuller(store, store, ledger)
	puller.Logger = cfg.Logger

	return &Handler{
		Store:           store,
		Ledger:          ledger,
		Engine:          engine,
		Ingest:          imports,
		Puller:          puller,
		Reporter:        report.NewReporter(store, store),
		Leave:           leave.NewService(store, schedules),
		DefaultTenant:   cfg.DefaultTenant,
		ExportLang:      report.MatchLanguage(cfg.ExportLang),
		Logger:          cfg.Logger,
		Now:             time.Now,
		currentScenario: make(map[string]string),
	}
}

// tenant resolves the request's tenant scope.
func (h *Handler) tenant(r *http.Request) (string, error) {
	if t := strings.TrimSpace(r.Header.Get(TenantHeader)); t != "" {
		return t, nil
	}
	if t := strings.TrimSpace(r.URL.Query().Get("tenant_id")); t != "" {
		return t, nil
	}
	if h.DefaultTenant != "" {
		return h.DefaultTenant, nil
	}
	return "", attendance.ErrTenantRequired
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns the tenant's employees, or only active ones with
// ?active=true.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}

	var employees []attendance.Employee
	if active, _ := strconv.ParseBool(r.URL.Query().Get("active")); active {
		employees, err = h.Store.ListActiveEmployees(r.Context(), tenantID)
	} else {
		employees, err = h.Store.ListEmployees(r.Context(), tenantID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee creates or updates an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.EmployeeNumber) == "" {
		writeError(w, http.StatusBadRequest, "employee_number is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.TenantID = tenantID

	emp := req.Employee()
	emp.CreatedAt = h.now().UTC()
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeDomainError(w, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// =============================================================================
// DEVICE HANDLERS
// =============================================================================

func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	devices, err := h.Store.ListDevices(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list devices", err)
		return
	}
	dtos := make([]DeviceDTO, len(devices))
	for i, d := range devices {
		dtos[i] = toDeviceDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDevice registers a device.
func (h *Handler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	var req CreateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.TenantID = tenantID

	dev := req.Device()
	dev.CreatedAt = h.now().UTC()
	if err := h.Store.SaveDevice(r.Context(), dev); err != nil {
		writeDomainError(w, "Failed to register device", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeviceDTO(dev))
}

// PullDevice triggers a device pull.
// POST /api/devices/{id}/pull
func (h *Handler) PullDevice(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	result, err := h.Puller.Pull(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil && result == nil {
		writeDomainError(w, "Failed to pull device", err)
		return
	}
	// A failed sync stamp still reports the committed punches (sync_error).
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// PUNCH HANDLERS
// =============================================================================

// PreviewPunches parses an upload and reports what an import would write.
// POST /api/punches/preview
func (h *Handler) PreviewPunches(w http.ResponseWriter, r *http.Request) {
	upload, err := readUpload(w, r)
	if err != nil {
		writeDomainError(w, "Invalid upload", err)
		return
	}
	preview, err := h.Ingest.Preview(upload.format, upload.payload)
	if err != nil {
		writeDomainError(w, "Failed to parse upload", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// ImportPunches parses an upload and appends its punches.
// POST /api/punches/import
func (h *Handler) ImportPunches(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	upload, err := readUpload(w, r)
	if err != nil {
		writeDomainError(w, "Invalid upload", err)
		return
	}
	result, err := h.Ingest.Import(r.Context(), ingest.Request{
		TenantID: tenantID,
		Format:   upload.format,
		Payload:  upload.payload,
		DeviceID: upload.deviceID,
	})
	if err != nil {
		writeDomainError(w, "Failed to import punches", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListPunches returns punches in punch time order.
// GET /api/punches?processed=false&from=2024-03-01&to=2024-03-31
func (h *Handler) ListPunches(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	q := r.URL.Query()
	rng, err := queryRange(r)
	if err != nil {
		writeDomainError(w, "Invalid date range", err)
		return
	}
	filter := attendance.PunchFilter{
		TenantID:     tenantID,
		Range:        rng,
		DeviceID:     q.Get("device_id"),
		EmployeeCode: q.Get("employee_code"),
		Limit:        defaultPunchPage,
	}
	if v := q.Get("processed"); v != "" {
		processed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "processed must be true or false", err)
			return
		}
		filter.Processed = &processed
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		filter.Limit = n
	}

	punches, err := h.Store.ListPunches(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list punches", err)
		return
	}
	dtos := make([]PunchDTO, len(punches))
	for i, p := range punches {
		dtos[i] = toPunchDTO(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"punches": dtos, "count": len(dtos)})
}

type upload struct {
	format   parser.Format
	deviceID string
	payload  []byte
}

// readUpload accepts either a multipart form with a "file" part or a JSON
// UploadRequest. A multipart upload without a format is typed by the file
// extension.
func readUpload(w http.ResponseWriter, r *http.Request) (upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var (
		u           upload
		formatToken string
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return u, fmt.Errorf("%w: %v", attendance.ErrInvalidRequest, err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return u, fmt.Errorf("%w: file part is required", attendance.ErrInvalidRequest)
		}
		defer file.Close()
		if u.payload, err = io.ReadAll(file); err != nil {
			return u, fmt.Errorf("%w: %v", attendance.ErrInvalidRequest, err)
		}
		formatToken = r.FormValue("format")
		if formatToken == "" {
			formatToken = strings.TrimPrefix(filepath.Ext(header.Filename), ".")
		}
		u.deviceID = r.FormValue("device_id")
	} else {
		var req UploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return u, fmt.Errorf("%w: %v", attendance.ErrInvalidRequest, err)
		}
		u.payload = []byte(req.Content)
		formatToken = req.Format
		u.deviceID = req.DeviceID
	}

	if len(u.payload) == 0 {
		return u, fmt.Errorf("%w: upload is empty", attendance.ErrInvalidRequest)
	}
	format, err := parser.ParseFormat(formatToken)
	if err != nil {
		return u, err
	}
	u.format = format
	return u, nil
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// ProcessReconciliation runs reconciliation for the tenant.
// POST /api/reconciliation/process
func (h *Handler) ProcessReconciliation(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rng, err := rangeOf(req.From, req.To)
	if err != nil {
		writeDomainError(w, "Invalid date range", err)
		return
	}

	summary, err := h.Engine.Process(r.Context(), reconcile.Request{
		TenantID: tenantID,
		Range:    rng,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		writeDomainError(w, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListReconciliationRuns returns reconciliation run history, newest first.
// GET /api/reconciliation/runs
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	limit := defaultRunPage
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
	}

	runs, err := h.Store.ListRuns(r.Context(), tenantID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reconciliation runs", err)
		return
	}
	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	schedules, err := h.Store.ListSchedules(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list schedules", err)
		return
	}
	if schedules == nil {
		schedules = []schedule.WorkSchedule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

// CreateSchedule creates or updates a schedule. Empty work_days means
// Monday to Friday.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	var ws schedule.WorkSchedule
	if err := json.NewDecoder(r.Body).Decode(&ws); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ws.TenantID = tenantID
	if ws.WorkDays == 0 {
		ws.WorkDays = schedule.DefaultWorkDays
	}

	saved, err := h.Store.SaveSchedule(r.Context(), ws)
	if err != nil {
		writeDomainError(w, "Failed to save schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	assignments, err := h.Store.ListAssignments(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list assignments", err)
		return
	}
	if assignments == nil {
		assignments = []schedule.Assignment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

// CreateAssignment assigns an employee to a schedule from effective_from.
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	var a schedule.Assignment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if a.EmployeeID == "" || a.ScheduleID == "" || a.EffectiveFrom.IsZero() {
		writeError(w, http.StatusBadRequest, "employee_id, schedule_id and effective_from are required", nil)
		return
	}
	if a.EffectiveTo != nil && a.EffectiveTo.Before(a.EffectiveFrom) {
		writeDomainError(w, "Invalid assignment", attendance.ErrInvalidRange)
		return
	}
	a.TenantID = tenantID

	saved, err := h.Store.SaveAssignment(r.Context(), a)
	if err != nil {
		writeDomainError(w, "Failed to save assignment", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// =============================================================================
// HOLIDAY ENDPOINTS
// =============================================================================

// ListHolidays returns the tenant's holidays and the global ones.
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	holidays, err := h.Store.ListHolidays(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get holidays", err)
		return
	}
	if holidays == nil {
		holidays = []schedule.Holiday{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"holidays": holidays})
}

// CreateHoliday creates a tenant holiday.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	var hol schedule.Holiday
	if err := json.NewDecoder(r.Body).Decode(&hol); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if hol.StartDate.IsZero() || strings.TrimSpace(hol.Name) == "" {
		writeError(w, http.StatusBadRequest, "start_date and name are required", nil)
		return
	}
	if hol.EndDate != nil && hol.EndDate.Before(hol.StartDate) {
		writeDomainError(w, "Invalid holiday", attendance.ErrInvalidRange)
		return
	}
	hol.TenantID = tenantID

	saved, err := h.Store.SaveHoliday(r.Context(), hol)
	if err != nil {
		writeDomainError(w, "Failed to create holiday", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// DeleteHoliday deletes a tenant holiday.
// DELETE /api/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	if err := h.Store.DeleteHoliday(r.Context(), tenantID, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete holiday", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// defaultHolidays are recurring, so the year of StartDate is irrelevant.
var defaultHolidays = []struct {
	month time.Month
	day   int
	name  string
}{
	{time.January, 1, "New Year's Day"},
	{time.May, 1, "Labour Day"},
	{time.December, 25, "Christmas Day"},
}

// AddDefaultHolidays adds common recurring holidays. Calling it twice is
// harmless: ids are derived from tenant and date.
// POST /api/holidays/defaults
func (h *Handler) AddDefaultHolidays(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}

	year := h.now().Year()
	for _, d := range defaultHolidays {
		hol := schedule.Holiday{
			ID:          fmt.Sprintf("holiday-%s-%02d%02d", tenantID, d.month, d.day),
			TenantID:    tenantID,
			Name:        d.name,
			StartDate:   attendance.NewDate(year, d.month, d.day),
			IsRecurring: true,
		}
		if _, err := h.Store.SaveHoliday(r.Context(), hol); err != nil {
			writeDomainError(w, "Failed to create holiday", err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status": "created",
		"count":  len(defaultHolidays),
	})
}

// =============================================================================
// ATTENDANCE + REPORT HANDLERS
// =============================================================================

// ListAttendance returns the daily listing, newest first unless sort=asc.
// GET /api/attendance
func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	filter, err := h.reportFilter(r)
	if err != nil {
		writeDomainError(w, "Invalid filter", err)
		return
	}
	rows, err := h.Reporter.Daily(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list attendance", err)
		return
	}
	if rows == nil {
		rows = []report.DailyRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": rows, "count": len(rows)})
}

// ReportSummary returns the daily listing, per-employee summary and totals.
// GET /api/reports/summary
func (h *Handler) ReportSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := h.reportFilter(r)
	if err != nil {
		writeDomainError(w, "Invalid filter", err)
		return
	}
	rep, err := h.Reporter.Build(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ExportReport streams the daily listing as CSV. The header language comes
// from ?lang, else Accept-Language, else the configured default.
// GET /api/reports/export
func (h *Handler) ExportReport(w http.ResponseWriter, r *http.Request) {
	filter, err := h.reportFilter(r)
	if err != nil {
		writeDomainError(w, "Invalid filter", err)
		return
	}
	rows, err := h.Reporter.Daily(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to export attendance", err)
		return
	}

	lang := h.ExportLang
	if v := r.URL.Query().Get("lang"); v != "" {
		lang = report.MatchLanguage(v)
	} else if v := r.Header.Get("Accept-Language"); v != "" {
		lang = report.MatchLanguage(v)
	}

	name := fmt.Sprintf("attendance-%s.csv", h.now().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if err := report.WriteCSV(w, rows, lang); err != nil {
		h.logger().Printf("[Export] failed: %v", err)
	}
}

func (h *Handler) reportFilter(r *http.Request) (report.Filter, error) {
	tenantID, err := h.tenant(r)
	if err != nil {
		return report.Filter{}, err
	}
	rng, err := queryRange(r)
	if err != nil {
		return report.Filter{}, err
	}
	q := r.URL.Query()
	filter := report.Filter{
		TenantID:   tenantID,
		Range:      rng,
		EmployeeID: attendance.EmployeeID(q.Get("employee_id")),
	}
	switch strings.ToLower(q.Get("sort")) {
	case "", "desc":
	case "asc":
		filter.Ascending = true
	default:
		return report.Filter{}, fmt.Errorf("%w: sort must be asc or desc", attendance.ErrInvalidRequest)
	}
	return filter, nil
}

// =============================================================================
// LEAVE HANDLERS
// =============================================================================

// RecordLeave writes locked leave rows for the work days of a range.
// POST /api/leave
func (h *Handler) RecordLeave(w http.ResponseWriter, r *http.Request) {
	h.leave(w, r, h.Leave.Record, http.StatusCreated)
}

// ReleaseLeave unlocks a range so reconciliation may overwrite it again.
// POST /api/leave/release
func (h *Handler) ReleaseLeave(w http.ResponseWriter, r *http.Request) {
	h.leave(w, r, h.Leave.Release, http.StatusOK)
}

type leaveFunc func(ctx context.Context, req leave.Request) (*leave.Result, error)

func (h *Handler) leave(w http.ResponseWriter, r *http.Request, fn leaveFunc, status int) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	var req LeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	result, err := fn(r.Context(), leave.Request{
		TenantID:   tenantID,
		EmployeeID: attendance.EmployeeID(req.EmployeeID),
		From:       req.From,
		To:         req.To,
		Note:       req.Note,
	})
	if err != nil {
		writeDomainError(w, "Failed to update leave", err)
		return
	}
	writeJSON(w, status, result)
}

// =============================================================================
// SCHEDULER HANDLERS
// =============================================================================

// SchedulerStatus reports the background reconciliation schedule.
// GET /api/admin/scheduler
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":  h.Scheduler.Enabled,
		"interval": h.Scheduler.CheckInterval.String(),
		"tenants":  h.Scheduler.Tenants,
		"next_run": h.Scheduler.GetNextRunTime().Format(time.RFC3339),
	})
}

// RunScheduler reconciles every scheduled tenant now.
// POST /api/admin/scheduler/run
func (h *Handler) RunScheduler(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeDomainError(w, "Scheduler is not configured", attendance.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": h.Scheduler.RunNow(r.Context())})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: errorCode(status)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the error's category.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case attendance.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrIDConflict):
		return http.StatusConflict
	case attendance.IsClientError(err), errors.Is(err, parser.ErrUnknownFormat):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// queryRange reads the optional from/to query parameters.
func queryRange(r *http.Request) (attendance.DateRange, error) {
	var from, to *attendance.Date
	for name, dst := range map[string]**attendance.Date{"from": &from, "to": &to} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		d, err := attendance.ParseDate(v)
		if err != nil {
			return attendance.DateRange{}, fmt.Errorf("%w: %s: %v", attendance.ErrInvalidRequest, name, err)
		}
		*dst = &d
	}
	return rangeOf(from, to)
}

// rangeOf builds a range with optional bounds.
func rangeOf(from, to *attendance.Date) (attendance.DateRange, error) {
	if from != nil && to != nil {
		return attendance.NewDateRange(*from, *to)
	}
	return attendance.DateRange{From: from, To: to}, nil
}

func (h *Handler) logger() *log.Logger {
	if h.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return h.Logger
}
