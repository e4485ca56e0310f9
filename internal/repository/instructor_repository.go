package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/acadsys/registrar-api/internal/models"
)

// InstructorRepository handles teaching staff records.
type InstructorRepository struct {
	db *sqlx.DB
}

// NewInstructorRepository instantiates an instructor repository.
func NewInstructorRepository(db *sqlx.DB) *InstructorRepository {
	return &InstructorRepository{db: db}
}

// FindByID loads one instructor.
func (r *InstructorRepository) FindByID(ctx context.Context, id string) (*models.Instructor, error) {
	const query = `SELECT id, user_id, department_id, specialization, active, created_at, updated_at
        FROM instructors WHERE id = $1`
	var instructor models.Instructor
	if err := r.db.GetContext(ctx, &instructor, query, id); err != nil {
		return nil, err
	}
	return &instructor, nil
}

// FindByUserID loads the instructor record owned by an account.
func (r *InstructorRepository) FindByUserID(ctx context.Context, userID string) (*models.Instructor, error) {
	const query = `SELECT id, user_id, department_id, specialization, active, created_at, updated_at
        FROM instructors WHERE user_id = $1`
	var instructor models.Instructor
	if err := r.db.GetContext(ctx, &instructor, query, userID); err != nil {
		return nil, err
	}
	return &instructor, nil
}

// ListActive returns active teaching staff.
func (r *InstructorRepository) ListActive(ctx context.Context) ([]models.Instructor, error) {
	const query = `SELECT id, user_id, department_id, specialization, active, created_at, updated_at
        FROM instructors WHERE active = TRUE ORDER BY created_at`
	var instructors []models.Instructor
	if err := r.db.SelectContext(ctx, &instructors, query); err != nil {
		return nil, fmt.Errorf("list instructors: %w", err)
	}
	return instructors, nil
}
