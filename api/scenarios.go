/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate a tenant with realistic data
	for testing and demos. Each scenario applies a seed document (schedules,
	employees, devices, holidays) and then appends a week of punches that
	exercise specific reconciliation outcomes.

AVAILABLE SCENARIOS:

	office-week:    One default schedule; on time, late, overtime, a single
	                punch day and an unknown device code
	shift-workers:  An evening shift assignment, a plant shutdown holiday and
	                weekend punches that are deferred
	file-import:    The office week delivered as a ZKTeco attlog upload,
	                including a malformed line that is skipped

HOW SCENARIOS WORK:
 1. Build a seed document for the tenant (ids are tenant prefixed)
 2. Normalize and apply it through the factory
 3. Append punches for the last complete Monday-Friday week
 4. Optionally reconcile

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "office-week", "reconcile": true}

NOTE:

	Punches are append-only, so there is no reset. Loading a scenario twice
	is harmless: seed writes are upserts and repeated punches are counted as
	duplicates.

SEE ALSO:
  - handlers.go: Router-facing handlers
  - factory/seed.go: Seed documents
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/factory"
	"github.com/warp/punchclock/ingest"
	"github.com/warp/punchclock/parser"
	"github.com/warp/punchclock/reconcile"
	"github.com/warp/punchclock/schedule"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "office-week",
		Name:        "Office Week",
		Description: "Default office hours: on time, late, overtime, single punch day, unknown code",
		Category:    "reconciliation",
	},
	{
		ID:          "shift-workers",
		Name:        "Shift Workers",
		Description: "Evening shift assignment, plant shutdown holiday, deferred weekend punches",
		Category:    "schedules",
	},
	{
		ID:          "file-import",
		Name:        "File Import",
		Description: "The office week as a ZKTeco attlog upload with one malformed line",
		Category:    "ingestion",
	},
}

// ScenarioResult reports what loading a scenario wrote.
type ScenarioResult struct {
	Scenario string                  `json:"scenario"`
	Week     string                  `json:"week"`
	Seed     factory.Counts          `json:"seed"`
	Punches  attendance.AppendResult `json:"punches"`
	Import   *ingest.Result          `json:"import,omitempty"`
	Summary  *reconcile.Summary      `json:"summary,omitempty"`
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the scenario last loaded for the tenant, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	h.mu.Lock()
	current := h.currentScenario[tenantID]
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario into the request's tenant.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.tenant(r)
	if err != nil {
		writeDomainError(w, "Tenant is required", err)
		return
	}
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	monday := referenceMonday(attendance.DateOf(h.now()))

	var result *ScenarioResult
	switch req.ScenarioID {
	case "office-week":
		result, err = h.loadOfficeWeekScenario(ctx, tenantID, monday)
	case "shift-workers":
		result, err = h.loadShiftWorkersScenario(ctx, tenantID, monday)
	case "file-import":
		result, err = h.loadFileImportScenario(ctx, tenantID, monday)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("%q", req.ScenarioID))
		return
	}
	if err != nil {
		writeDomainError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	result.Scenario = req.ScenarioID
	result.Week = monday.String()

	if req.Reconcile {
		if result.Summary, err = h.Engine.Process(ctx, reconcile.Request{TenantID: tenantID}); err != nil {
			writeDomainError(w, "Scenario loaded but reconciliation failed", err)
			return
		}
	}

	h.mu.Lock()
	h.currentScenario[tenantID] = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, result)
}

// referenceMonday is the Monday of the last complete week before today.
func referenceMonday(today attendance.Date) attendance.Date {
	sinceMonday := (int(today.Weekday()) + 6) % 7
	return today.AddDays(-sinceMonday - 7)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// Employee numbers shared by every scenario.
const (
	codeAna   = "1001"
	codeBen   = "1002"
	codeChloe = "1003"
	codeGhost = "9999" // not in the directory
)

// punchSpec is one punch relative to the scenario week.
type punchSpec struct {
	code  string
	day   int // 0 = Monday
	clock string
	typ   attendance.PunchType
}

// officeWeek is the punch pattern of the office scenarios.
func officeWeek() []punchSpec {
	var specs []punchSpec
	for day := 0; day < 5; day++ {
		specs = append(specs,
			punchSpec{codeAna, day, "07:55", attendance.PunchIn},
			punchSpec{codeAna, day, "17:05", attendance.PunchOut},
		)

		benIn, benOut := "08:05", "17:10"
		switch day {
		case 0:
			benIn = "08:20" // late
		case 2:
			benOut = "18:15" // 45 minutes past the overtime threshold
		}
		specs = append(specs,
			punchSpec{codeBen, day, benIn, attendance.PunchIn},
			punchSpec{codeBen, day, benOut, attendance.PunchOut},
		)

		// Chloe forgets to punch out on Thursday and is off on Friday.
		switch day {
		case 3:
			specs = append(specs, punchSpec{codeChloe, day, "08:00", attendance.PunchIn})
		case 4:
		default:
			specs = append(specs,
				punchSpec{codeChloe, day, "07:50", attendance.PunchIn},
				punchSpec{codeChloe, day, "16:58", attendance.PunchOut},
			)
		}
	}
	return append(specs, punchSpec{codeGhost, 0, "09:00", attendance.PunchIn})
}

func (h *Handler) loadOfficeWeekScenario(ctx context.Context, tenantID string, monday attendance.Date) (*ScenarioResult, error) {
	counts, err := h.applySeed(ctx, officeSeed(tenantID))
	if err != nil {
		return nil, err
	}
	appended, err := h.appendScenarioPunches(ctx, tenantID, tenantID+"-lobby", monday, officeWeek())
	if err != nil {
		return nil, err
	}
	return &ScenarioResult{Seed: counts, Punches: appended}, nil
}

func (h *Handler) loadShiftWorkersScenario(ctx context.Context, tenantID string, monday attendance.Date) (*ScenarioResult, error) {
	seed := officeSeed(tenantID)
	seed.Schedules = append(seed.Schedules, schedule.WorkSchedule{
		ID:                   tenantID + "-evening",
		Name:                 "Evening Shift",
		StartTime:            attendance.NewClockTime(14, 0),
		EndTime:              attendance.NewClockTime(22, 0),
		WorkDays:             schedule.DefaultWorkDays | schedule.NewWeekdays(time.Saturday),
		LateToleranceMinutes: 10,
		OvertimeAfterMinutes: 15,
	})
	seed.Assignments = append(seed.Assignments, schedule.Assignment{
		ID:            tenantID + "-assign-ben",
		EmployeeID:    attendance.EmployeeID(tenantID + "-emp-" + codeBen),
		ScheduleID:    "Evening Shift",
		EffectiveFrom: monday,
	})
	seed.Holidays = append(seed.Holidays, schedule.Holiday{
		ID:        tenantID + "-shutdown",
		TenantID:  tenantID,
		Name:      "Plant Shutdown",
		StartDate: monday.AddDays(2),
	})
	counts, err := h.applySeed(ctx, seed)
	if err != nil {
		return nil, err
	}

	specs := []punchSpec{
		{codeAna, 0, "07:58", attendance.PunchIn},
		{codeAna, 0, "17:00", attendance.PunchOut},
		{codeAna, 2, "09:00", attendance.PunchIn}, // shutdown day: deferred
		{codeAna, 2, "12:00", attendance.PunchOut},
		{codeAna, 5, "10:00", attendance.PunchIn}, // Saturday is not an office day
		{codeAna, 5, "13:00", attendance.PunchOut},
		{codeBen, 0, "14:05", attendance.PunchIn},
		{codeBen, 0, "22:00", attendance.PunchOut},
		{codeBen, 1, "14:20", attendance.PunchIn}, // late for the evening shift
		{codeBen, 1, "22:40", attendance.PunchOut},
		{codeBen, 5, "13:55", attendance.PunchIn}, // Saturday is an evening shift day
		{codeBen, 5, "22:05", attendance.PunchOut},
	}
	appended, err := h.appendScenarioPunches(ctx, tenantID, tenantID+"-lobby", monday, specs)
	if err != nil {
		return nil, err
	}
	return &ScenarioResult{Seed: counts, Punches: appended}, nil
}

func (h *Handler) loadFileImportScenario(ctx context.Context, tenantID string, monday attendance.Date) (*ScenarioResult, error) {
	counts, err := h.applySeed(ctx, officeSeed(tenantID))
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, p := range officeWeek() {
		state := "0"
		if p.typ == attendance.PunchOut {
			state = "1"
		}
		ts := monday.AddDays(p.day).At(attendance.MustParseClock(p.clock))
		fmt.Fprintf(&b, "%s\t%s\t1\t%s\t0\t0\n", p.code, ts.Format("2006-01-02 15:04:05"), state)
	}
	b.WriteString("this line is not an attlog record\n")

	imported, err := h.Ingest.Import(ctx, ingest.Request{
		TenantID: tenantID,
		Format:   parser.FormatZKDat,
		Payload:  []byte(b.String()),
		DeviceID: tenantID + "-lobby",
	})
	if err != nil {
		return nil, err
	}
	return &ScenarioResult{
		Seed:    counts,
		Punches: attendance.AppendResult{Written: imported.Written, Duplicates: imported.Duplicates},
		Import:  imported,
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// officeSeed is the base configuration: office hours, three employees and a
// lobby terminal.
func officeSeed(tenantID string) factory.Seed {
	seed := factory.Seed{
		TenantID: tenantID,
		Schedules: []schedule.WorkSchedule{{
			ID:                   tenantID + "-office",
			Name:                 "Office Hours",
			StartTime:            attendance.NewClockTime(8, 0),
			EndTime:              attendance.NewClockTime(17, 0),
			WorkDays:             schedule.DefaultWorkDays,
			BreakDurationMinutes: 60,
			LateToleranceMinutes: 15,
			OvertimeAfterMinutes: 30,
			IsDefault:            true,
		}},
		Devices: []factory.DeviceJSON{{
			ID:           tenantID + "-lobby",
			Name:         "Lobby Terminal",
			SerialNumber: "ZK-" + strings.ToUpper(tenantID) + "-01",
		}},
	}
	for _, e := range []struct{ code, name string }{
		{codeAna, "Ana Ruiz"},
		{codeBen, "Ben Okafor"},
		{codeChloe, "Chloe Martin"},
	} {
		seed.Employees = append(seed.Employees, factory.EmployeeJSON{
			ID:             tenantID + "-emp-" + e.code,
			EmployeeNumber: e.code,
			Name:           e.name,
		})
	}
	return seed
}

func (h *Handler) applySeed(ctx context.Context, seed factory.Seed) (factory.Counts, error) {
	normalized, err := seed.Normalize()
	if err != nil {
		return factory.Counts{}, err
	}
	return normalized.Apply(ctx, h.Store)
}

func (h *Handler) appendScenarioPunches(ctx context.Context, tenantID, deviceID string, monday attendance.Date, specs []punchSpec) (attendance.AppendResult, error) {
	punches := make([]attendance.PunchRecord, 0, len(specs))
	for _, s := range specs {
		punches = append(punches, attendance.PunchRecord{
			TenantID:           tenantID,
			EmployeeCode:       s.code,
			PunchTime:          monday.AddDays(s.day).At(attendance.MustParseClock(s.clock)),
			PunchType:          s.typ,
			VerificationMethod: attendance.VerifyFingerprint,
			DeviceID:           deviceID,
			Source:             attendance.SourceDevice,
		})
	}
	return h.Ledger.Append(ctx, punches)
}
