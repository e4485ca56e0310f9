package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acadsys/registrar-api/internal/models"
)

const termColumns = `id, academic_year, semester, start_date, end_date, start_enrollment, end_enrollment,
        start_mid_grade, end_mid_grade, start_final_grade, end_final_grade, is_active, created_at, updated_at`

// TermRepository handles persistence for academic terms.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository instantiates a term repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

// List returns terms matching provided filters.
func (r *TermRepository) List(ctx context.Context, filter models.TermFilter) ([]models.AcademicTerm, int, error) {
	base := "FROM academic_terms WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Semester != "" {
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.IsActive)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "academic_year"
	}
	allowedSorts := map[string]bool{
		"academic_year": true,
		"start_date":    true,
		"created_at":    true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "academic_year"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", termColumns, base, sortBy, order, size, offset)

	var terms []models.AcademicTerm
	if err := r.db.SelectContext(ctx, &terms, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list terms: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count terms: %w", err)
	}

	return terms, total, nil
}

// FindByID loads a term by identifier.
func (r *TermRepository) FindByID(ctx context.Context, id string) (*models.AcademicTerm, error) {
	query := fmt.Sprintf("SELECT %s FROM academic_terms WHERE id = $1", termColumns)
	var term models.AcademicTerm
	if err := r.db.GetContext(ctx, &term, query, id); err != nil {
		return nil, err
	}
	return &term, nil
}

// FindActive returns the currently active term.
func (r *TermRepository) FindActive(ctx context.Context) (*models.AcademicTerm, error) {
	query := fmt.Sprintf("SELECT %s FROM academic_terms WHERE is_active = TRUE LIMIT 1", termColumns)
	var term models.AcademicTerm
	if err := r.db.GetContext(ctx, &term, query); err != nil {
		return nil, err
	}
	return &term, nil
}

// ExistsByYearAndSemester checks for a duplicate year+semester term.
func (r *TermRepository) ExistsByYearAndSemester(ctx context.Context, academicYear string, semester models.Semester, excludeID string) (bool, error) {
	base := "SELECT COUNT(*) FROM academic_terms WHERE academic_year = $1 AND semester = $2"
	args := []interface{}{academicYear, semester}
	if excludeID != "" {
		base += " AND id <> $3"
		args = append(args, excludeID)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, base, args...); err != nil {
		return false, fmt.Errorf("check term uniqueness: %w", err)
	}
	return count > 0, nil
}

// Create persists a new term.
func (r *TermRepository) Create(ctx context.Context, term *models.AcademicTerm) error {
	if term.ID == "" {
		term.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	term.CreatedAt = now
	term.UpdatedAt = now

	const query = `INSERT INTO academic_terms (id, academic_year, semester, start_date, end_date, start_enrollment, end_enrollment,
        start_mid_grade, end_mid_grade, start_final_grade, end_final_grade, is_active, created_at, updated_at)
        VALUES (:id, :academic_year, :semester, :start_date, :end_date, :start_enrollment, :end_enrollment,
        :start_mid_grade, :end_mid_grade, :start_final_grade, :end_final_grade, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("create term: %w", err)
	}
	return nil
}

// Update modifies the term's window fields.
func (r *TermRepository) Update(ctx context.Context, term *models.AcademicTerm) error {
	term.UpdatedAt = time.Now().UTC()
	const query = `UPDATE academic_terms SET academic_year = :academic_year, semester = :semester,
        start_date = :start_date, end_date = :end_date,
        start_enrollment = :start_enrollment, end_enrollment = :end_enrollment,
        start_mid_grade = :start_mid_grade, end_mid_grade = :end_mid_grade,
        start_final_grade = :start_final_grade, end_final_grade = :end_final_grade,
        updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("update term: %w", err)
	}
	return nil
}

// Activate flips the single active-term flag: all terms are deactivated and
// the target activated inside one transaction so no two terms can hold the
// flag concurrently.
func (r *TermRepository) Activate(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate term: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `UPDATE academic_terms SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE`, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate terms: %w", err)
	}

	var res sql.Result
	res, err = tx.ExecContext(ctx, `UPDATE academic_terms SET is_active = TRUE, updated_at = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("activate term: %w", err)
	}
	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit activate term: %w", err)
	}
	return nil
}
