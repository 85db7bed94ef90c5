package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/warp/punchclock/attendance"
)

// parseCSVLine parses code, datetime, type, verification. Fields may be
// quoted. A first line whose datetime column is a label is a header.
func parseCSVLine(line string, first bool) (ParsedPunch, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true
	fields, err := r.Read()
	if err != nil {
		return ParsedPunch{}, fmt.Errorf("malformed csv: %w", err)
	}
	if len(fields) < 2 {
		return ParsedPunch{}, errors.New("expected at least code and datetime")
	}

	ts, err := parseDateTime(fields[1])
	if err != nil {
		if first && looksLikeHeader(fields[1]) {
			return ParsedPunch{}, errHeader
		}
		return ParsedPunch{}, err
	}
	code, err := requireCode(fields[0])
	if err != nil {
		return ParsedPunch{}, err
	}

	punchType := attendance.PunchAuto
	if len(fields) > 2 && strings.TrimSpace(fields[2]) != "" {
		if punchType, err = attendance.ParsePunchType(fields[2]); err != nil {
			return ParsedPunch{}, err
		}
	}

	verification := attendance.VerifyFingerprint
	if len(fields) > 3 && strings.TrimSpace(fields[3]) != "" {
		if verification, err = parseVerification(fields[3]); err != nil {
			return ParsedPunch{}, err
		}
	}

	return ParsedPunch{
		EmployeeCode:       code,
		PunchTime:          ts,
		PunchType:          punchType,
		VerificationMethod: verification,
	}, nil
}

// parseVerification accepts a method name or a terminal index.
func parseVerification(s string) (attendance.VerificationMethod, error) {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		m, ok := attendance.VerificationFromCode(n)
		if !ok {
			return "", fmt.Errorf("unknown verification code %d", n)
		}
		return m, nil
	}
	return attendance.ParseVerificationMethod(s)
}

func looksLikeHeader(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "time") || strings.Contains(s, "date") || strings.Contains(s, "fecha")
}
