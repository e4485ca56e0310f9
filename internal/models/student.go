package models

import "time"

// Student represents a learner registered in the institution.
type Student struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	ProgramID string    `db:"program_id" json:"program_id"`
	BlockID   *string   `db:"block_id" json:"block_id,omitempty"`
	YearLevel int       `db:"year_level" json:"year_level"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentDetail enriches Student with account identity fields.
type StudentDetail struct {
	Student
	OfficialID string `db:"official_id" json:"official_id"`
	FullName   string `db:"full_name" json:"full_name"`
	Email      string `db:"email" json:"email"`
}

// Instructor represents a teaching staff member.
type Instructor struct {
	ID             string    `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"user_id"`
	DepartmentID   string    `db:"department_id" json:"department_id"`
	Specialization string    `db:"specialization" json:"specialization"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
