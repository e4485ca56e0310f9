package timetable

import (
	"fmt"
	"strconv"
	"strings"

	appErrors "github.com/acadsys/registrar-api/pkg/errors"
)

// Interval is a half-open [Start, End) time range in minutes of the day.
type Interval struct {
	Start int
	End   int
}

// Overlaps applies strict half-open semantics: two intervals overlap iff
// s1 < e2 AND e1 > s2. Back-to-back intervals sharing a boundary instant
// do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start < other.End && i.End > other.Start
}

// ParseMinutes converts an "HH:MM" clock value to minutes of the day.
func ParseMinutes(clock string) (int, error) {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid time value %q", clock))
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid time value %q", clock))
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid time value %q", clock))
	}
	return hours*60 + minutes, nil
}

// ParseInterval builds an Interval from "HH:MM" start/end values. The end
// must fall strictly after the start.
func ParseInterval(start, end string) (Interval, error) {
	s, err := ParseMinutes(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := ParseMinutes(end)
	if err != nil {
		return Interval{}, err
	}
	if e <= s {
		return Interval{}, appErrors.Clone(appErrors.ErrValidation, "time_end must be after time_start")
	}
	return Interval{Start: s, End: e}, nil
}

// Assignment is a normalized day-set plus time interval, the unit the
// conflict detector compares.
type Assignment struct {
	Days DaySet
	Interval
}

// ParseAssignment normalizes raw offering fields into an Assignment.
func ParseAssignment(day, timeStart, timeEnd string) (Assignment, error) {
	days, err := ParseDaySet(day)
	if err != nil {
		return Assignment{}, err
	}
	iv, err := ParseInterval(timeStart, timeEnd)
	if err != nil {
		return Assignment{}, err
	}
	return Assignment{Days: days, Interval: iv}, nil
}

// Conflicts reports whether the candidate collides with any existing
// assignment: a collision needs at least one shared day AND an interval
// overlap. A linear scan is sufficient at class-schedule scale.
func Conflicts(candidate Assignment, existing []Assignment) bool {
	for _, a := range existing {
		if !candidate.Days.Intersects(a.Days) {
			continue
		}
		if candidate.Overlaps(a.Interval) {
			return true
		}
	}
	return false
}
