package parser

import (
	"errors"
	"strconv"
	"strings"

	"github.com/warp/punchclock/attendance"
)

// parseZKDatLine parses an attlog line: code, datetime, verification index,
// punch state, then device-specific columns that are ignored.
func parseZKDatLine(line string, _ bool) (ParsedPunch, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 2 {
		return ParsedPunch{}, errors.New("expected tab separated code and datetime")
	}

	code, err := requireCode(fields[0])
	if err != nil {
		return ParsedPunch{}, err
	}
	ts, err := parseDateTime(fields[1])
	if err != nil {
		return ParsedPunch{}, err
	}

	verification := attendance.VerifyFingerprint
	if len(fields) > 2 {
		if n, err := strconv.Atoi(strings.TrimSpace(fields[2])); err == nil {
			verification, _ = attendance.VerificationFromCode(n)
		}
	}

	punchType := attendance.PunchAuto
	if len(fields) > 3 {
		switch state := strings.TrimSpace(fields[3]); {
		case state == "":
		case state == "0":
			punchType = attendance.PunchIn
		default:
			punchType = attendance.PunchOut
		}
	}

	return ParsedPunch{
		EmployeeCode:       code,
		PunchTime:          ts,
		PunchType:          punchType,
		VerificationMethod: verification,
	}, nil
}
