package parser_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/parser"
	"golang.org/x/text/encoding/unicode"
)

var march1at0740 = time.Date(2024, time.March, 1, 7, 40, 0, 0, time.UTC)

// =============================================================================
// FORMAT ROUND TRIPS
// =============================================================================

func TestParse_ZKDat_Line(t *testing.T) {
	result, err := parser.Parse(parser.FormatZKDat, "E007\t2024-03-01 07:40:00\t0\t0")
	require.NoError(t, err)
	require.Len(t, result.Punches, 1)

	p := result.Punches[0]
	assert.Equal(t, "E007", p.EmployeeCode)
	assert.Equal(t, march1at0740, p.PunchTime)
	assert.Equal(t, attendance.PunchIn, p.PunchType)
	assert.Equal(t, attendance.VerifyFingerprint, p.VerificationMethod)
	assert.Equal(t, 1, p.Line)
}

func TestParse_CSV_Line(t *testing.T) {
	result, err := parser.Parse(parser.FormatCSV, "E007,2024-03-01 07:40:00,in,face")
	require.NoError(t, err)
	require.Len(t, result.Punches, 1)

	p := result.Punches[0]
	assert.Equal(t, "E007", p.EmployeeCode)
	assert.Equal(t, march1at0740, p.PunchTime)
	assert.Equal(t, attendance.PunchIn, p.PunchType)
	assert.Equal(t, attendance.VerifyFace, p.VerificationMethod)
}

func TestParse_ZKDat_PunchAndVerificationCodes(t *testing.T) {
	tests := []struct {
		name         string
		line         string
		wantType     attendance.PunchType
		wantVerified attendance.VerificationMethod
	}{
		{"state 0 is in", "1\t2024-03-01 08:00:00\t1\t0", attendance.PunchIn, attendance.VerifyFace},
		{"state 1 is out", "1\t2024-03-01 17:00:00\t2\t1", attendance.PunchOut, attendance.VerifyCard},
		{"any other state is out", "1\t2024-03-01 17:00:00\t3\t5", attendance.PunchOut, attendance.VerifyPassword},
		{"missing state is auto", "1\t2024-03-01 17:00:00\t1", attendance.PunchAuto, attendance.VerifyFace},
		{"invalid verification defaults", "1\t2024-03-01 17:00:00\t15\t0", attendance.PunchIn, attendance.VerifyFingerprint},
		{"missing verification defaults", "1\t2024-03-01 17:00:00", attendance.PunchAuto, attendance.VerifyFingerprint},
		{"extra device columns ignored", "  1\t2024-03-01 17:00:00\t1\t1\t0\t0", attendance.PunchOut, attendance.VerifyFace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parser.Parse(parser.FormatZKDat, tt.line)
			require.NoError(t, err)
			require.Len(t, result.Punches, 1, "skipped: %v", result.Skipped)
			assert.Equal(t, "1", result.Punches[0].EmployeeCode)
			assert.Equal(t, tt.wantType, result.Punches[0].PunchType)
			assert.Equal(t, tt.wantVerified, result.Punches[0].VerificationMethod)
		})
	}
}

func TestParse_CSV_Defaults(t *testing.T) {
	// GIVEN: Empty type and verification columns
	// THEN: auto / fingerprint
	result, err := parser.Parse(parser.FormatCSV, "E1,2024-03-01 08:00,,\n\"E2\", 2024-03-01 08:05:00")
	require.NoError(t, err)
	require.Len(t, result.Punches, 2)
	for _, p := range result.Punches {
		assert.Equal(t, attendance.PunchAuto, p.PunchType)
		assert.Equal(t, attendance.VerifyFingerprint, p.VerificationMethod)
	}
	assert.Equal(t, "E2", result.Punches[1].EmployeeCode)
}

func TestParse_CSV_HeaderIgnored(t *testing.T) {
	raw := "employee,datetime,type,verification\nE1,2024-03-01 08:00:00,in,card\n"
	result, err := parser.Parse(parser.FormatCSV, raw)
	require.NoError(t, err)
	assert.Len(t, result.Punches, 1)
	assert.Empty(t, result.Skipped)
}

func TestParse_Generic_Separators(t *testing.T) {
	raw := "E1\t2024-03-01 07:40:00\n" +
		"E2;;2024-03-01;07:40:00\n" +
		"E3 | 2024-03-01 | 07:40\n" +
		"E4,,\t2024-03-01 07:40:00"
	result, err := parser.Parse(parser.FormatGeneric, raw)
	require.NoError(t, err)
	require.Len(t, result.Punches, 4, "skipped: %v", result.Skipped)
	for _, p := range result.Punches {
		assert.Equal(t, march1at0740, p.PunchTime, p.EmployeeCode)
		assert.Equal(t, attendance.PunchAuto, p.PunchType)
		assert.Equal(t, attendance.VerifyFingerprint, p.VerificationMethod)
	}
}

// =============================================================================
// SKIP, NOT ABORT
// =============================================================================

func TestParse_MalformedLineSkipped(t *testing.T) {
	// GIVEN: A 3-line file where line 2 is malformed
	// WHEN: Parsing
	// THEN: Exactly 2 records, one skip naming line 2

	raw := "E1\t2024-03-01 08:00:00\t0\t0\n" +
		"garbage without tabs\n" +
		"E1\t2024-03-01 17:00:00\t0\t1\n"
	result, err := parser.Parse(parser.FormatZKDat, raw)
	require.NoError(t, err)
	assert.Len(t, result.Punches, 2)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, 2, result.Skipped[0].Line)
	assert.Equal(t, 3, result.Punches[1].Line)
}

func TestParse_CommentsAndBlanksIgnored(t *testing.T) {
	raw := "# exported 2024-03-02\n\n// device 4\r\nE1,2024-03-01 08:00:00,in,\r\n   \n"
	result, err := parser.Parse(parser.FormatCSV, raw)
	require.NoError(t, err)
	assert.Len(t, result.Punches, 1)
	assert.Empty(t, result.Skipped)
}

func TestParse_PreservesInputOrder(t *testing.T) {
	raw := "E1,2024-03-01 17:00:00,out,\nE1,2024-03-01 08:00:00,in,\n"
	result, err := parser.Parse(parser.FormatCSV, raw)
	require.NoError(t, err)
	require.Len(t, result.Punches, 2)
	assert.Equal(t, attendance.PunchOut, result.Punches[0].PunchType)
}

func TestParse_UnknownFormat(t *testing.T) {
	_, err := parser.Parse("xlsx", "E1,2024-03-01 08:00:00")
	assert.ErrorIs(t, err, parser.ErrUnknownFormat)
}

func TestParse_OffsetDropped(t *testing.T) {
	result, err := parser.Parse(parser.FormatCSV, "E1,2024-03-01T07:40:00+07:00,in,")
	require.NoError(t, err)
	require.Len(t, result.Punches, 1)
	assert.Equal(t, march1at0740, result.Punches[0].PunchTime)
}

// =============================================================================
// ENCODINGS
// =============================================================================

func TestParseBytes_UTF8BOM(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("E007,2024-03-01 07:40:00,in,face")...)
	result, err := parser.ParseBytes(parser.FormatCSV, raw)
	require.NoError(t, err)
	require.Len(t, result.Punches, 1)
	assert.Equal(t, "E007", result.Punches[0].EmployeeCode)
}

func TestParseBytes_UTF16LE(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	raw, err := enc.Bytes([]byte("E007\t2024-03-01 07:40:00\t0\t0\r\n"))
	require.NoError(t, err)

	result, err := parser.ParseBytes(parser.FormatZKDat, raw)
	require.NoError(t, err)
	require.Len(t, result.Punches, 1)
	assert.Equal(t, "E007", result.Punches[0].EmployeeCode)
	assert.Equal(t, attendance.PunchIn, result.Punches[0].PunchType)
}

func TestResult_Records(t *testing.T) {
	result, err := parser.Parse(parser.FormatCSV, "E1,2024-03-01 08:00:00,in,card")
	require.NoError(t, err)

	recs := result.Records("acme", "dev-1", attendance.SourceFileImport)
	require.Len(t, recs, 1)
	assert.Equal(t, "acme", recs[0].TenantID)
	assert.Equal(t, "dev-1", recs[0].DeviceID)
	assert.Equal(t, attendance.SourceFileImport, recs[0].Source)
	assert.Equal(t, attendance.VerifyCard, recs[0].VerificationMethod)
}
