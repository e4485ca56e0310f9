package models

import "time"

// BlockStatus is the lifecycle state of a student cohort.
type BlockStatus string

const (
	BlockStatusActive    BlockStatus = "ACTIVE"
	BlockStatusInactive  BlockStatus = "INACTIVE"
	BlockStatusGraduated BlockStatus = "GRADUATED"
)

// Block is a cohort of students admitted in a given year under a program.
type Block struct {
	ID           string      `db:"id" json:"id"`
	Code         string      `db:"code" json:"code"`
	ProgramID    string      `db:"program_id" json:"program_id"`
	YearAdmitted int         `db:"year_admitted" json:"year_admitted"`
	Status       BlockStatus `db:"status" json:"status"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}
