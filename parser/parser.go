/*
Package parser turns raw terminal exports into canonical punches.

PURPOSE:
  Terminals and HR spreadsheets export clock events in loosely structured
  text. Each supported format has one line parser; Parse dispatches on the
  format tag and normalizes every accepted line into a ParsedPunch.

CONTRACT:
  - Parsing is pure: no I/O, no clock, no store.
  - A malformed line never aborts the file. It is recorded as a Skip with its
    line number and reason, and parsing continues.
  - Blank lines and lines starting with "#" or "//" are ignored entirely.
  - Output preserves input order. Sorting and grouping belong to reconcile.
  - Times are wall clock as printed. Any offset in the text is dropped.

FORMATS:
  zk_dat   code \t datetime \t verification \t punch \t ...
  csv      code , datetime , type , verification
  generic  code <sep> datetime [<sep> time], sep = runs of tab , ; |

SEE ALSO:
  - ingest/ingest.go: Preview and import on top of Parse
*/
package parser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/punchclock/attendance"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrUnknownFormat is the only hard failure of Parse.
var ErrUnknownFormat = errors.New("unknown punch file format")

type Format string

const (
	FormatZKDat   Format = "zk_dat"
	FormatCSV     Format = "csv"
	FormatGeneric Format = "generic"
)

func Formats() []Format { return []Format{FormatZKDat, FormatCSV, FormatGeneric} }

// ParseFormat accepts a format tag, case-insensitively. "dat" and "zk" are
// accepted for zk_dat, "txt" for generic.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zk_dat", "zk", "dat":
		return FormatZKDat, nil
	case "csv":
		return FormatCSV, nil
	case "generic", "txt", "text":
		return FormatGeneric, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ParsedPunch is a punch before it has a tenant, device or id.
type ParsedPunch struct {
	EmployeeCode       string                        `json:"employee_code"`
	PunchTime          time.Time                     `json:"punch_time"`
	PunchType          attendance.PunchType          `json:"punch_type"`
	VerificationMethod attendance.VerificationMethod `json:"verification_method"`
	Line               int                           `json:"line"`
}

// Record converts the parsed punch into a ledger punch.
func (p ParsedPunch) Record(tenantID, deviceID string, source attendance.PunchSource) attendance.PunchRecord {
	return attendance.PunchRecord{
		TenantID:           tenantID,
		EmployeeCode:       p.EmployeeCode,
		PunchTime:          p.PunchTime,
		PunchType:          p.PunchType,
		VerificationMethod: p.VerificationMethod,
		DeviceID:           deviceID,
		Source:             source,
	}
}

// Skip is a line that could not be parsed.
type Skip struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

type Result struct {
	Format  Format        `json:"format"`
	Punches []ParsedPunch `json:"punches"`
	Skipped []Skip        `json:"skipped"`
}

// Records converts every parsed punch into a ledger punch.
func (r *Result) Records(tenantID, deviceID string, source attendance.PunchSource) []attendance.PunchRecord {
	out := make([]attendance.PunchRecord, 0, len(r.Punches))
	for _, p := range r.Punches {
		out = append(out, p.Record(tenantID, deviceID, source))
	}
	return out
}

// =============================================================================
// DISPATCH
// =============================================================================

// lineParser parses one non-blank, non-comment line. first is true for the
// first such line of the file, so formats can recognize a header row.
// errHeader marks a line that is ignored rather than skipped.
type lineParser func(line string, first bool) (ParsedPunch, error)

var errHeader = errors.New("header row")

var lineParsers = map[Format]lineParser{
	FormatZKDat:   parseZKDatLine,
	FormatCSV:     parseCSVLine,
	FormatGeneric: parseGenericLine,
}

// Parse parses rawText in the given format.
func Parse(format Format, rawText string) (*Result, error) {
	parse, ok := lineParsers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	result := &Result{Format: format, Punches: []ParsedPunch{}, Skipped: []Skip{}}
	first := true
	for i, line := range strings.Split(rawText, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
			continue
		}

		p, err := parse(line, first)
		first = false
		if errors.Is(err, errHeader) {
			continue
		}
		if err != nil {
			result.Skipped = append(result.Skipped, Skip{Line: i + 1, Text: trimmed, Reason: err.Error()})
			continue
		}
		p.Line = i + 1
		result.Punches = append(result.Punches, p)
	}
	return result, nil
}

// ParseBytes decodes a UTF-8 or UTF-16 payload, honoring a byte order mark,
// then parses it.
func ParseBytes(format Format, raw []byte) (*Result, error) {
	text, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return Parse(format, text)
}

func decode(raw []byte) (string, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(decoder, raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode payload: %w", err)
	}
	return string(out), nil
}

// =============================================================================
// SHARED FIELD PARSERS
// =============================================================================

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	time.RFC3339,
}

// parseDateTime returns the wall clock printed in s, in UTC.
func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", s)
}

func requireCode(s string) (string, error) {
	code := strings.TrimSpace(s)
	if code == "" {
		return "", errors.New("missing employee code")
	}
	return code, nil
}
