package models

import "time"

// ScheduledSubject is one concrete class offering: a curriculum subject
// taught to a block in a term, on a day-set/time/room, by an instructor.
// Grade submission stamps live here because submission is scoped per class
// offering, not per student.
type ScheduledSubject struct {
	ID                  string     `db:"id" json:"id"`
	AcademicTermID      string     `db:"academic_term_id" json:"academic_term_id"`
	BlockID             string     `db:"block_id" json:"block_id"`
	InstructorID        *string    `db:"instructor_id" json:"instructor_id,omitempty"`
	CurriculumSubjectID string     `db:"curriculum_subject_id" json:"curriculum_subject_id"`
	Day                 string     `db:"day" json:"day"`
	Room                string     `db:"room" json:"room"`
	TimeStart           string     `db:"time_start" json:"time_start"`
	TimeEnd             string     `db:"time_end" json:"time_end"`
	MidtermSubmittedAt  *time.Time `db:"midterm_submitted_at" json:"midterm_submitted_at,omitempty"`
	MidtermSubmittedBy  *string    `db:"midterm_submitted_by" json:"midterm_submitted_by,omitempty"`
	FinalSubmittedAt    *time.Time `db:"final_submitted_at" json:"final_submitted_at,omitempty"`
	FinalSubmittedBy    *string    `db:"final_submitted_by" json:"final_submitted_by,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// IsMidtermSubmitted reports whether the midterm period has been locked.
func (s *ScheduledSubject) IsMidtermSubmitted() bool {
	return s.MidtermSubmittedAt != nil
}

// IsFinalSubmitted reports whether the final period has been locked.
func (s *ScheduledSubject) IsFinalSubmitted() bool {
	return s.FinalSubmittedAt != nil
}

// ScheduledSubjectDetail adds catalog context to an offering.
type ScheduledSubjectDetail struct {
	ScheduledSubject
	SubjectCode  string `db:"subject_code" json:"subject_code"`
	SubjectTitle string `db:"subject_title" json:"subject_title"`
	Units        int    `db:"units" json:"units"`
}

// ScheduleFilter describes query params for listing offerings.
type ScheduleFilter struct {
	AcademicTermID string
	BlockID        string
	InstructorID   string
	Room           string
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// ConflictDimension names the resource axis on which an overlap occurred.
type ConflictDimension string

const (
	ConflictDimensionBlock      ConflictDimension = "BLOCK"
	ConflictDimensionInstructor ConflictDimension = "INSTRUCTOR"
	ConflictDimensionRoom       ConflictDimension = "ROOM"
	ConflictDimensionSelf       ConflictDimension = "SELF"
)
