package models

import "time"

// Subject is a catalog subject independent of any curriculum placement.
type Subject struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Title     string    `db:"title" json:"title"`
	Units     int       `db:"units" json:"units"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Curriculum is a versioned program of study.
type Curriculum struct {
	ID        string    `db:"id" json:"id"`
	ProgramID string    `db:"program_id" json:"program_id"`
	Version   string    `db:"version" json:"version"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CourseType classifies a curriculum placement.
type CourseType string

const (
	CourseTypeLecture    CourseType = "LECTURE"
	CourseTypeLaboratory CourseType = "LABORATORY"
)

// CurriculumSubject places a subject at a year-level/semester within a
// curriculum version. It is the node type of the prerequisite graph.
type CurriculumSubject struct {
	ID           string     `db:"id" json:"id"`
	CurriculumID string     `db:"curriculum_id" json:"curriculum_id"`
	SubjectID    string     `db:"subject_id" json:"subject_id"`
	YearLevel    int        `db:"year_level" json:"year_level"`
	Semester     Semester   `db:"semester" json:"semester"`
	CourseType   CourseType `db:"course_type" json:"course_type"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`

	SubjectCode  string `db:"subject_code" json:"subject_code,omitempty"`
	SubjectTitle string `db:"subject_title" json:"subject_title,omitempty"`
	Units        int    `db:"units" json:"units,omitempty"`
}

// PrerequisiteEdge is one directed edge of the prerequisite graph: the
// subject at CurriculumSubjectID requires PrerequisiteID first.
type PrerequisiteEdge struct {
	CurriculumSubjectID string `db:"curriculum_subject_id" json:"curriculum_subject_id"`
	PrerequisiteID      string `db:"prerequisite_id" json:"prerequisite_id"`
}
