package timetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDaySetAliases(t *testing.T) {
	cases := map[string]DaySet{
		"MWF":    setOf(Monday, Wednesday, Friday),
		"mwf":    setOf(Monday, Wednesday, Friday),
		"TTH":    setOf(Tuesday, Thursday),
		"T-TH":   setOf(Tuesday, Thursday),
		"MW":     setOf(Monday, Wednesday),
		"TH":     setOf(Thursday),
		"M":      setOf(Monday),
		"S":      setOf(Saturday),
		"MTWTF":  setOf(Monday, Tuesday, Wednesday, Thursday, Friday),
		"MTWTFS": setOf(Monday, Tuesday, Wednesday, Thursday, Friday, Saturday),
		// Some rosters spell the six-day week with a trailing Sunday slot
		// that never carries classes; both spellings mean Mon-Sat.
		"MTWTFSS": setOf(Monday, Tuesday, Wednesday, Thursday, Friday, Saturday),
		"Friday":  setOf(Friday),
	}
	for code, want := range cases {
		got, err := ParseDaySet(code)
		require.NoError(t, err, code)
		assert.Equal(t, want, got, code)
	}
}

func TestParseDaySetRejectsUnknownCodes(t *testing.T) {
	for _, code := range []string{"", "XYZ", "SUN", "MF"} {
		_, err := ParseDaySet(code)
		assert.Error(t, err, code)
	}
}

func TestParseMinutes(t *testing.T) {
	m, err := ParseMinutes("08:30")
	require.NoError(t, err)
	assert.Equal(t, 510, m)

	for _, bad := range []string{"24:00", "08:60", "0830", "x:30", ""} {
		_, err := ParseMinutes(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseIntervalOrdering(t *testing.T) {
	_, err := ParseInterval("09:00", "08:00")
	assert.Error(t, err)

	_, err = ParseInterval("09:00", "09:00")
	assert.Error(t, err)
}

func TestIntervalOverlapsHalfOpen(t *testing.T) {
	base := Interval{Start: 480, End: 570} // 08:00-09:30

	assert.True(t, base.Overlaps(Interval{Start: 510, End: 600}))  // 08:30-10:00
	assert.True(t, base.Overlaps(Interval{Start: 450, End: 490}))  // straddles start
	assert.True(t, base.Overlaps(Interval{Start: 490, End: 500}))  // contained
	assert.True(t, base.Overlaps(Interval{Start: 450, End: 600}))  // contains
	assert.False(t, base.Overlaps(Interval{Start: 570, End: 660})) // back-to-back after
	assert.False(t, base.Overlaps(Interval{Start: 420, End: 480})) // back-to-back before
	assert.False(t, base.Overlaps(Interval{Start: 600, End: 660}))
}

func TestConflictsRequiresSharedDayAndOverlap(t *testing.T) {
	candidate, err := ParseAssignment("MWF", "08:00", "09:30")
	require.NoError(t, err)

	overlapSameDays, err := ParseAssignment("MW", "08:30", "10:00")
	require.NoError(t, err)
	assert.True(t, Conflicts(candidate, []Assignment{overlapSameDays}))

	overlapOtherDays, err := ParseAssignment("TTH", "08:30", "10:00")
	require.NoError(t, err)
	assert.False(t, Conflicts(candidate, []Assignment{overlapOtherDays}))

	sameDaysNoOverlap, err := ParseAssignment("MWF", "09:30", "11:00")
	require.NoError(t, err)
	assert.False(t, Conflicts(candidate, []Assignment{sameDaysNoOverlap}))

	assert.False(t, Conflicts(candidate, nil))
	assert.True(t, Conflicts(candidate, []Assignment{overlapOtherDays, overlapSameDays}))
}

func TestDaySetString(t *testing.T) {
	s := setOf(Monday, Friday)
	assert.Equal(t, "MONDAY,FRIDAY", s.String())
}
