package attendance

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateOf_IgnoresLocation(t *testing.T) {
	// A punch printed at 23:30 local stays on its printed date even if the
	// timestamp carries an offset.
	loc := time.FixedZone("WIB", 7*3600)
	ts := time.Date(2024, time.March, 1, 23, 30, 0, 0, loc)
	assert.Equal(t, "2024-03-01", DateOf(ts).String())
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want ClockTime
		ok   bool
	}{
		{"08:00", NewClockTime(8, 0), true},
		{"08:15:30", NewClockTime(8, 15) + 30, true},
		{" 17:00 ", NewClockTime(17, 0), true},
		{"25:00", 0, false},
		{"eight", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClockTime_JSON(t *testing.T) {
	b, err := json.Marshal(NewClockTime(8, 5))
	require.NoError(t, err)
	assert.Equal(t, `"08:05"`, string(b))

	var c ClockTime
	require.NoError(t, json.Unmarshal([]byte(`"17:30"`), &c))
	assert.Equal(t, NewClockTime(17, 30), c)
}

func TestDateRange(t *testing.T) {
	from := MustParseDate("2024-02-28")
	to := MustParseDate("2024-03-01")

	r, err := NewDateRange(from, to)
	require.NoError(t, err)
	assert.Len(t, r.Days(), 3, "leap day included")
	assert.True(t, r.Contains(MustParseDate("2024-02-29")))
	assert.False(t, r.Contains(MustParseDate("2024-03-02")))

	_, err = NewDateRange(to, from)
	assert.ErrorIs(t, err, ErrInvalidRange)

	open := DateRange{}
	assert.True(t, open.Contains(from))
}

func TestVerificationFromCode(t *testing.T) {
	m, ok := VerificationFromCode(1)
	assert.True(t, ok)
	assert.Equal(t, VerifyFace, m)

	m, ok = VerificationFromCode(9)
	assert.False(t, ok)
	assert.Equal(t, VerifyFingerprint, m)
}

func TestParsePunchType_Aliases(t *testing.T) {
	for in, want := range map[string]PunchType{
		"IN": PunchIn, "check-out": PunchOut, "a": PunchAuto, "O": PunchOut,
	} {
		got, err := ParsePunchType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePunchType("")
	assert.Error(t, err)
}
