package models

import "time"

// Semester identifies which half of the academic year a term covers.
type Semester string

const (
	SemesterFirst  Semester = "FIRST"
	SemesterSecond Semester = "SECOND"
	SemesterSummer Semester = "SUMMER"
)

// AcademicTerm models one year+semester period together with the date
// windows that gate enrollment and grade submission. Window bounds are
// nullable; an unset bound keeps the corresponding window closed.
type AcademicTerm struct {
	ID              string     `db:"id" json:"id"`
	AcademicYear    string     `db:"academic_year" json:"academic_year"`
	Semester        Semester   `db:"semester" json:"semester"`
	StartDate       *time.Time `db:"start_date" json:"start_date,omitempty"`
	EndDate         *time.Time `db:"end_date" json:"end_date,omitempty"`
	StartEnrollment *time.Time `db:"start_enrollment" json:"start_enrollment,omitempty"`
	EndEnrollment   *time.Time `db:"end_enrollment" json:"end_enrollment,omitempty"`
	StartMidGrade   *time.Time `db:"start_mid_grade" json:"start_mid_grade,omitempty"`
	EndMidGrade     *time.Time `db:"end_mid_grade" json:"end_mid_grade,omitempty"`
	StartFinalGrade *time.Time `db:"start_final_grade" json:"start_final_grade,omitempty"`
	EndFinalGrade   *time.Time `db:"end_final_grade" json:"end_final_grade,omitempty"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// EnrollmentOpenAt reports whether the enrollment window covers the civil
// date of now. Bounds are whole-day inclusive.
func (t *AcademicTerm) EnrollmentOpenAt(now time.Time) bool {
	return windowOpenAt(t.StartEnrollment, t.EndEnrollment, now)
}

// MidGradeOpenAt reports whether midterm grade submission is open.
func (t *AcademicTerm) MidGradeOpenAt(now time.Time) bool {
	return windowOpenAt(t.StartMidGrade, t.EndMidGrade, now)
}

// FinalGradeOpenAt reports whether final grade submission is open.
func (t *AcademicTerm) FinalGradeOpenAt(now time.Time) bool {
	return windowOpenAt(t.StartFinalGrade, t.EndFinalGrade, now)
}

// windowOpenAt compares calendar dates, not instants: the window spans
// start-of-day on start through end-of-day on end. A missing bound fails
// closed.
func windowOpenAt(start, end *time.Time, now time.Time) bool {
	if start == nil || end == nil {
		return false
	}
	day := civilDate(now)
	return !day.Before(civilDate(*start)) && !day.After(civilDate(*end))
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TermFilter defines filters supported by list endpoints.
type TermFilter struct {
	AcademicYear string
	Semester     Semester
	IsActive     *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
