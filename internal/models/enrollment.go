package models

import "time"

// EnrollmentStatus represents the lifecycle of a term enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusEnrolled  EnrollmentStatus = "ENROLLED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// Enrollment captures one student's registration into one academic term,
// pinned to a block and year-level at creation time. At most one enrollment
// may exist per (student, term) pair.
type Enrollment struct {
	ID             string           `db:"id" json:"id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	AcademicTermID string           `db:"academic_term_id" json:"academic_term_id"`
	BlockID        string           `db:"block_id" json:"block_id"`
	YearLevel      int              `db:"year_level" json:"year_level"`
	Status         EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt     time.Time        `db:"enrolled_at" json:"enrolled_at"`
}

// EnrolledSubjectStatus is the per-subject lifecycle within an enrollment.
type EnrolledSubjectStatus string

const (
	EnrolledSubjectStatusEnrolled  EnrolledSubjectStatus = "ENROLLED"
	EnrolledSubjectStatusDropped   EnrolledSubjectStatus = "DROPPED"
	EnrolledSubjectStatusCompleted EnrolledSubjectStatus = "COMPLETED"
)

// EnrolledSubject joins an enrollment to a scheduled subject and carries
// the midterm/final grades.
type EnrolledSubject struct {
	ID                 string                `db:"id" json:"id"`
	EnrollmentID       string                `db:"enrollment_id" json:"enrollment_id"`
	ScheduledSubjectID string                `db:"scheduled_subject_id" json:"scheduled_subject_id"`
	Status             EnrolledSubjectStatus `db:"status" json:"status"`
	MidtermGrade       *float64              `db:"midterm_grade" json:"midterm_grade,omitempty"`
	FinalGrade         *float64              `db:"final_grade" json:"final_grade,omitempty"`
	CreatedAt          time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time             `db:"updated_at" json:"updated_at"`
}

// HasAnyGrade reports whether either period has a recorded grade; a row
// with grades can no longer be dropped.
func (e *EnrolledSubject) HasAnyGrade() bool {
	return e.MidtermGrade != nil || e.FinalGrade != nil
}

// EnrolledSubjectDetail adds the offering's timetable and subject context,
// used for self-conflict checks and unit-load sums.
type EnrolledSubjectDetail struct {
	EnrolledSubject
	Day                 string `db:"day" json:"day"`
	TimeStart           string `db:"time_start" json:"time_start"`
	TimeEnd             string `db:"time_end" json:"time_end"`
	CurriculumSubjectID string `db:"curriculum_subject_id" json:"curriculum_subject_id"`
	SubjectCode         string `db:"subject_code" json:"subject_code"`
	SubjectTitle        string `db:"subject_title" json:"subject_title"`
	Units               int    `db:"units" json:"units"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID      string
	AcademicTermID string
	BlockID        string
	Status         EnrollmentStatus
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
