package models

import "time"

// GradePeriod identifies which grade slot an operation targets.
type GradePeriod string

const (
	GradePeriodMidterm GradePeriod = "MIDTERM"
	GradePeriodFinal   GradePeriod = "FINAL"
)

// Valid reports whether the period is one of the two known slots.
func (p GradePeriod) Valid() bool {
	return p == GradePeriodMidterm || p == GradePeriodFinal
}

// GradeEntry is one student's grade within a batch submission. A nil grade
// leaves the existing value untouched (registrar corrections may submit
// sparse batches).
type GradeEntry struct {
	EnrolledSubjectID string   `json:"enrolled_subject_id" validate:"required"`
	Grade             *float64 `json:"grade"`
}

// GradeChangeLog is the append-only audit record of a registrar grade
// override. Rows are never updated or deleted.
type GradeChangeLog struct {
	ID                string      `db:"id" json:"id"`
	EnrolledSubjectID string      `db:"enrolled_subject_id" json:"enrolled_subject_id"`
	GradePeriod       GradePeriod `db:"grade_period" json:"grade_period"`
	OldGrade          *float64    `db:"old_grade" json:"old_grade,omitempty"`
	NewGrade          float64     `db:"new_grade" json:"new_grade"`
	Reason            string      `db:"reason" json:"reason"`
	AttachmentPath    *string     `db:"attachment_path" json:"attachment_path,omitempty"`
	ModifiedBy        string      `db:"modified_by" json:"modified_by"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
}

// ClassGradeRow is one line of a class grade sheet.
type ClassGradeRow struct {
	EnrolledSubjectID string                `db:"enrolled_subject_id" json:"enrolled_subject_id"`
	StudentID         string                `db:"student_id" json:"student_id"`
	OfficialID        string                `db:"official_id" json:"official_id"`
	StudentName       string                `db:"student_name" json:"student_name"`
	Status            EnrolledSubjectStatus `db:"status" json:"status"`
	MidtermGrade      *float64              `db:"midterm_grade" json:"midterm_grade,omitempty"`
	FinalGrade        *float64              `db:"final_grade" json:"final_grade,omitempty"`
}
