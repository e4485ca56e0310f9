// Package timetable provides day-set normalization and time-interval
// overlap checks shared by the scheduling and enrollment workflows.
package timetable

import (
	"strings"

	appErrors "github.com/acadsys/registrar-api/pkg/errors"
)

// Weekday is a single schedulable day.
type Weekday uint8

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayNames = [...]string{"MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY", "SATURDAY"}

// String returns the canonical upper-case day name.
func (d Weekday) String() string {
	if int(d) < len(weekdayNames) {
		return weekdayNames[d]
	}
	return "UNKNOWN"
}

// DaySet is a bit-set of weekdays. Offerings are normalized into a DaySet
// once at the boundary; overlap checks never re-parse day strings.
type DaySet uint8

// Has reports whether the set contains the given day.
func (s DaySet) Has(d Weekday) bool {
	return s&(1<<d) != 0
}

// With returns the set extended by the given day.
func (s DaySet) With(d Weekday) DaySet {
	return s | 1<<d
}

// Intersects reports whether the two sets share at least one day.
func (s DaySet) Intersects(other DaySet) bool {
	return s&other != 0
}

// Empty reports whether no day is present.
func (s DaySet) Empty() bool {
	return s == 0
}

// String renders the canonical comma-joined day names.
func (s DaySet) String() string {
	var parts []string
	for d := Monday; d <= Saturday; d++ {
		if s.Has(d) {
			parts = append(parts, d.String())
		}
	}
	return strings.Join(parts, ",")
}

// dayAliases maps the compact schedule codes used on offerings to their
// canonical day-sets.
var dayAliases = map[string]DaySet{
	"MWF":       setOf(Monday, Wednesday, Friday),
	"TTH":       setOf(Tuesday, Thursday),
	"MW":        setOf(Monday, Wednesday),
	"TH":        setOf(Thursday),
	"M":         setOf(Monday),
	"T":         setOf(Tuesday),
	"W":         setOf(Wednesday),
	"F":         setOf(Friday),
	"S":         setOf(Saturday),
	"MTWTF":     setOf(Monday, Tuesday, Wednesday, Thursday, Friday),
	"MTWTFS":    setOf(Monday, Tuesday, Wednesday, Thursday, Friday, Saturday),
	"MTWTFSS":   setOf(Monday, Tuesday, Wednesday, Thursday, Friday, Saturday),
	"MONDAY":    setOf(Monday),
	"TUESDAY":   setOf(Tuesday),
	"WEDNESDAY": setOf(Wednesday),
	"THURSDAY":  setOf(Thursday),
	"FRIDAY":    setOf(Friday),
	"SATURDAY":  setOf(Saturday),
}

func setOf(days ...Weekday) DaySet {
	var s DaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

// ParseDaySet normalizes a compact day code into a canonical DaySet.
// Matching is case-insensitive and ignores non-letter characters. A code
// that maps to no known alias is a validation error: an empty day-set is
// never a schedulable input.
func ParseDaySet(code string) (DaySet, error) {
	key := strings.ToUpper(code)
	var b strings.Builder
	for _, r := range key {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	set, ok := dayAliases[b.String()]
	if !ok {
		return 0, appErrors.Clone(appErrors.ErrValidation, "invalid day selection: "+code)
	}
	return set, nil
}
