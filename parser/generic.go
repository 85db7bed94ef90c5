package parser

import (
	"errors"
	"strings"

	"github.com/warp/punchclock/attendance"
)

func isGenericSeparator(r rune) bool {
	return r == '\t' || r == ',' || r == ';' || r == '|'
}

// parseGenericLine parses code and datetime separated by any run of tab,
// comma, semicolon or pipe. A third token is the time of day when the second
// holds only the date.
func parseGenericLine(line string, _ bool) (ParsedPunch, error) {
	var tokens []string
	for _, f := range strings.FieldsFunc(line, isGenericSeparator) {
		if f = strings.TrimSpace(f); f != "" {
			tokens = append(tokens, f)
		}
	}
	if len(tokens) < 2 {
		return ParsedPunch{}, errors.New("expected code and datetime")
	}

	code, err := requireCode(tokens[0])
	if err != nil {
		return ParsedPunch{}, err
	}

	raw := tokens[1]
	if len(tokens) > 2 {
		raw = tokens[1] + " " + tokens[2]
	}
	ts, err := parseDateTime(raw)
	if err != nil && len(tokens) > 2 {
		// Trailing columns that are not a time of day.
		ts, err = parseDateTime(tokens[1])
	}
	if err != nil {
		return ParsedPunch{}, err
	}

	return ParsedPunch{
		EmployeeCode:       code,
		PunchTime:          ts,
		PunchType:          attendance.PunchAuto,
		VerificationMethod: attendance.VerifyFingerprint,
	}, nil
}
