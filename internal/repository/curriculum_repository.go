package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acadsys/registrar-api/internal/models"
)

// CurriculumRepository handles curricula, curriculum subjects and the
// prerequisite graph.
type CurriculumRepository struct {
	db *sqlx.DB
}

// NewCurriculumRepository instantiates a curriculum repository.
func NewCurriculumRepository(db *sqlx.DB) *CurriculumRepository {
	return &CurriculumRepository{db: db}
}

// FindActiveByProgram returns the active curriculum version for a program.
func (r *CurriculumRepository) FindActiveByProgram(ctx context.Context, programID string) (*models.Curriculum, error) {
	const query = `SELECT id, program_id, version, is_active, created_at, updated_at
        FROM curricula WHERE program_id = $1 AND is_active = TRUE LIMIT 1`
	var curriculum models.Curriculum
	if err := r.db.GetContext(ctx, &curriculum, query, programID); err != nil {
		return nil, err
	}
	return &curriculum, nil
}

// FindSubjectByID loads one curriculum subject with catalog context.
func (r *CurriculumRepository) FindSubjectByID(ctx context.Context, id string) (*models.CurriculumSubject, error) {
	const query = `SELECT cs.id, cs.curriculum_id, cs.subject_id, cs.year_level, cs.semester, cs.course_type,
        cs.created_at, cs.updated_at, s.code AS subject_code, s.title AS subject_title, s.units
        FROM curriculum_subjects cs
        JOIN subjects s ON s.id = cs.subject_id
        WHERE cs.id = $1`
	var subject models.CurriculumSubject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, err
	}
	return &subject, nil
}

// ListSubjectsByCurriculum returns every placement of a curriculum version.
func (r *CurriculumRepository) ListSubjectsByCurriculum(ctx context.Context, curriculumID string) ([]models.CurriculumSubject, error) {
	const query = `SELECT cs.id, cs.curriculum_id, cs.subject_id, cs.year_level, cs.semester, cs.course_type,
        cs.created_at, cs.updated_at, s.code AS subject_code, s.title AS subject_title, s.units
        FROM curriculum_subjects cs
        JOIN subjects s ON s.id = cs.subject_id
        WHERE cs.curriculum_id = $1
        ORDER BY cs.year_level, cs.semester, s.code`
	var subjects []models.CurriculumSubject
	if err := r.db.SelectContext(ctx, &subjects, query, curriculumID); err != nil {
		return nil, fmt.Errorf("list curriculum subjects: %w", err)
	}
	return subjects, nil
}

// ListPrerequisites returns the direct prerequisites of a curriculum subject
// with their catalog context, for enrollment eligibility checks and error
// messages.
func (r *CurriculumRepository) ListPrerequisites(ctx context.Context, curriculumSubjectID string) ([]models.CurriculumSubject, error) {
	const query = `SELECT cs.id, cs.curriculum_id, cs.subject_id, cs.year_level, cs.semester, cs.course_type,
        cs.created_at, cs.updated_at, s.code AS subject_code, s.title AS subject_title, s.units
        FROM prerequisites p
        JOIN curriculum_subjects cs ON cs.id = p.prerequisite_id
        JOIN subjects s ON s.id = cs.subject_id
        WHERE p.curriculum_subject_id = $1
        ORDER BY s.code`
	var prerequisites []models.CurriculumSubject
	if err := r.db.SelectContext(ctx, &prerequisites, query, curriculumSubjectID); err != nil {
		return nil, fmt.Errorf("list prerequisites: %w", err)
	}
	return prerequisites, nil
}

// ListEdgesByCurriculum returns every prerequisite edge within one
// curriculum version. The cycle check walks this set in memory.
func (r *CurriculumRepository) ListEdgesByCurriculum(ctx context.Context, curriculumID string) ([]models.PrerequisiteEdge, error) {
	const query = `SELECT p.curriculum_subject_id, p.prerequisite_id
        FROM prerequisites p
        JOIN curriculum_subjects cs ON cs.id = p.curriculum_subject_id
        WHERE cs.curriculum_id = $1`
	var edges []models.PrerequisiteEdge
	if err := r.db.SelectContext(ctx, &edges, query, curriculumID); err != nil {
		return nil, fmt.Errorf("list prerequisite edges: %w", err)
	}
	return edges, nil
}

// ExistsEdge checks for an existing prerequisite link.
func (r *CurriculumRepository) ExistsEdge(ctx context.Context, curriculumSubjectID, prerequisiteID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM prerequisites WHERE curriculum_subject_id = $1 AND prerequisite_id = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, curriculumSubjectID, prerequisiteID); err != nil {
		return false, fmt.Errorf("check prerequisite edge: %w", err)
	}
	return count > 0, nil
}

// AddEdge records a prerequisite link.
func (r *CurriculumRepository) AddEdge(ctx context.Context, edge models.PrerequisiteEdge) error {
	const query = `INSERT INTO prerequisites (curriculum_subject_id, prerequisite_id, created_at) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, edge.CurriculumSubjectID, edge.PrerequisiteID, time.Now().UTC()); err != nil {
		return fmt.Errorf("add prerequisite edge: %w", err)
	}
	return nil
}

// RemoveEdge deletes a prerequisite link.
func (r *CurriculumRepository) RemoveEdge(ctx context.Context, edge models.PrerequisiteEdge) error {
	const query = `DELETE FROM prerequisites WHERE curriculum_subject_id = $1 AND prerequisite_id = $2`
	if _, err := r.db.ExecContext(ctx, query, edge.CurriculumSubjectID, edge.PrerequisiteID); err != nil {
		return fmt.Errorf("remove prerequisite edge: %w", err)
	}
	return nil
}
