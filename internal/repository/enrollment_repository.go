package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/acadsys/registrar-api/internal/models"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
)

const uniqueViolation = "23505"

// EnrollmentRepository handles term enrollments and their subject rows.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository instantiates an enrollment repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments matching provided filters.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	base := "FROM enrollments WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.AcademicTermID != "" {
		conditions = append(conditions, fmt.Sprintf("academic_term_id = $%d", len(args)+1))
		args = append(args, filter.AcademicTermID)
	}
	if filter.BlockID != "" {
		conditions = append(conditions, fmt.Sprintf("block_id = $%d", len(args)+1))
		args = append(args, filter.BlockID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"enrolled_at": true,
		"year_level":  true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "enrolled_at"
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

	query := fmt.Sprintf(`SELECT id, student_id, academic_term_id, block_id, year_level, status, enrolled_at %s
        ORDER BY %s %s LIMIT %d OFFSET %d`, base, sortBy, order, size, offset)

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}

	return enrollments, total, nil
}

// FindByID loads one enrollment.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, academic_term_id, block_id, year_level, status, enrolled_at
        FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ExistsByStudentTerm checks the one-enrollment-per-term rule.
func (r *EnrollmentRepository) ExistsByStudentTerm(ctx context.Context, studentID, termID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE student_id = $1 AND academic_term_id = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, termID); err != nil {
		return false, fmt.Errorf("check existing enrollment: %w", err)
	}
	return count > 0, nil
}

// CreateWithSubjects commits an enrollment, all of its subject rows, and the
// student's year-level/block update in one transaction. Nothing persists if
// any row fails. A unique violation on the (student, term) constraint is
// surfaced as a duplicate so concurrent submissions get exactly one winner.
func (r *EnrollmentRepository) CreateWithSubjects(ctx context.Context, enrollment *models.Enrollment, scheduledSubjectIDs []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	enrollment.EnrolledAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusEnrolled
	}

	const enrollmentQuery = `INSERT INTO enrollments (id, student_id, academic_term_id, block_id, year_level, status, enrolled_at)
        VALUES (:id, :student_id, :academic_term_id, :block_id, :year_level, :status, :enrolled_at)`
	if _, err = tx.NamedExecContext(ctx, enrollmentQuery, enrollment); err != nil {
		if isUniqueViolation(err) {
			err = appErrors.Clone(appErrors.ErrDuplicate, "student is already enrolled in this term")
		} else {
			err = fmt.Errorf("insert enrollment: %w", err)
		}
		return err
	}

	const subjectQuery = `INSERT INTO enrolled_subjects (id, enrollment_id, scheduled_subject_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)`
	for _, scheduledSubjectID := range scheduledSubjectIDs {
		if _, err = tx.ExecContext(ctx, subjectQuery, uuid.NewString(), enrollment.ID, scheduledSubjectID, models.EnrolledSubjectStatusEnrolled, now); err != nil {
			if isUniqueViolation(err) {
				err = appErrors.Clone(appErrors.ErrDuplicate, "subject already enrolled")
			} else {
				err = fmt.Errorf("insert enrolled subject: %w", err)
			}
			return err
		}
	}

	const studentQuery = `UPDATE students SET year_level = $2, block_id = $3, updated_at = $4 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, studentQuery, enrollment.StudentID, enrollment.YearLevel, enrollment.BlockID, now); err != nil {
		err = fmt.Errorf("update student standing: %w", err)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment: %w", err)
	}
	return nil
}

// FindSubjectByID loads one enrolled-subject row.
func (r *EnrollmentRepository) FindSubjectByID(ctx context.Context, id string) (*models.EnrolledSubject, error) {
	const query = `SELECT id, enrollment_id, scheduled_subject_id, status, midterm_grade, final_grade, created_at, updated_at
        FROM enrolled_subjects WHERE id = $1`
	var subject models.EnrolledSubject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, err
	}
	return &subject, nil
}

// ListSubjectsByEnrollment returns the enrollment's subject rows joined with
// their offering timetable and catalog context.
func (r *EnrollmentRepository) ListSubjectsByEnrollment(ctx context.Context, enrollmentID string) ([]models.EnrolledSubjectDetail, error) {
	return listSubjectsByEnrollment(ctx, r.db, enrollmentID)
}

func listSubjectsByEnrollment(ctx context.Context, q sqlx.QueryerContext, enrollmentID string) ([]models.EnrolledSubjectDetail, error) {
	const query = `SELECT es.id, es.enrollment_id, es.scheduled_subject_id, es.status, es.midterm_grade, es.final_grade,
        es.created_at, es.updated_at,
        ss.day, ss.time_start, ss.time_end, ss.curriculum_subject_id,
        s.code AS subject_code, s.title AS subject_title, s.units
        FROM enrolled_subjects es
        JOIN scheduled_subjects ss ON ss.id = es.scheduled_subject_id
        JOIN curriculum_subjects cs ON cs.id = ss.curriculum_subject_id
        JOIN subjects s ON s.id = cs.subject_id
        WHERE es.enrollment_id = $1
        ORDER BY s.code`
	var subjects []models.EnrolledSubjectDetail
	if err := sqlx.SelectContext(ctx, q, &subjects, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrolled subjects: %w", err)
	}
	return subjects, nil
}

// SumActiveUnits returns the unit load of an enrollment's non-dropped rows.
func (r *EnrollmentRepository) SumActiveUnits(ctx context.Context, enrollmentID string) (int, error) {
	return sumActiveUnits(ctx, r.db, enrollmentID)
}

func sumActiveUnits(ctx context.Context, q sqlx.QueryerContext, enrollmentID string) (int, error) {
	const query = `SELECT COALESCE(SUM(s.units), 0)
        FROM enrolled_subjects es
        JOIN scheduled_subjects ss ON ss.id = es.scheduled_subject_id
        JOIN curriculum_subjects cs ON cs.id = ss.curriculum_subject_id
        JOIN subjects s ON s.id = cs.subject_id
        WHERE es.enrollment_id = $1 AND es.status <> $2`
	var units int
	if err := sqlx.GetContext(ctx, q, &units, query, enrollmentID, models.EnrolledSubjectStatusDropped); err != nil {
		return 0, fmt.Errorf("sum enrolled units: %w", err)
	}
	return units, nil
}

// ExistsActiveSubject checks whether the enrollment already carries a
// non-dropped row for the given offering.
func (r *EnrollmentRepository) ExistsActiveSubject(ctx context.Context, enrollmentID, scheduledSubjectID string) (bool, error) {
	return existsActiveSubject(ctx, r.db, enrollmentID, scheduledSubjectID)
}

func existsActiveSubject(ctx context.Context, q sqlx.QueryerContext, enrollmentID, scheduledSubjectID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM enrolled_subjects
        WHERE enrollment_id = $1 AND scheduled_subject_id = $2 AND status <> $3`
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, enrollmentID, scheduledSubjectID, models.EnrolledSubjectStatusDropped); err != nil {
		return false, fmt.Errorf("check enrolled subject: %w", err)
	}
	return count > 0, nil
}

// EnrollmentGuard exposes the reads an add-subject re-validation runs once
// the enrollment row is locked.
type EnrollmentGuard interface {
	SumActiveUnits(ctx context.Context, enrollmentID string) (int, error)
	ExistsActiveSubject(ctx context.Context, enrollmentID, scheduledSubjectID string) (bool, error)
	ListSubjectsByEnrollment(ctx context.Context, enrollmentID string) ([]models.EnrolledSubjectDetail, error)
}

// txEnrollmentGuard runs the guard reads on the add-subject transaction.
type txEnrollmentGuard struct {
	tx *sqlx.Tx
}

func (g txEnrollmentGuard) SumActiveUnits(ctx context.Context, enrollmentID string) (int, error) {
	return sumActiveUnits(ctx, g.tx, enrollmentID)
}

func (g txEnrollmentGuard) ExistsActiveSubject(ctx context.Context, enrollmentID, scheduledSubjectID string) (bool, error) {
	return existsActiveSubject(ctx, g.tx, enrollmentID, scheduledSubjectID)
}

func (g txEnrollmentGuard) ListSubjectsByEnrollment(ctx context.Context, enrollmentID string) ([]models.EnrolledSubjectDetail, error) {
	return listSubjectsByEnrollment(ctx, g.tx, enrollmentID)
}

// AddSubject appends one subject row to an existing enrollment. The parent
// enrollment row is locked FOR UPDATE first, so concurrent adds against the
// same enrollment serialize; the caller's validate pass then re-runs its
// unit-cap and duplicate checks through the transaction before the insert
// commits.
func (r *EnrollmentRepository) AddSubject(ctx context.Context, subject *models.EnrolledSubject, validate func(ctx context.Context, guard EnrollmentGuard) error) (err error) {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	subject.CreatedAt = now
	subject.UpdatedAt = now
	if subject.Status == "" {
		subject.Status = models.EnrolledSubjectStatusEnrolled
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add subject: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var lockedID string
	if err = tx.GetContext(ctx, &lockedID, `SELECT id FROM enrollments WHERE id = $1 FOR UPDATE`, subject.EnrollmentID); err != nil {
		return fmt.Errorf("lock enrollment: %w", err)
	}

	if validate != nil {
		if err = validate(ctx, txEnrollmentGuard{tx: tx}); err != nil {
			return err
		}
	}

	const query = `INSERT INTO enrolled_subjects (id, enrollment_id, scheduled_subject_id, status, created_at, updated_at)
        VALUES (:id, :enrollment_id, :scheduled_subject_id, :status, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, subject); err != nil {
		if isUniqueViolation(err) {
			err = appErrors.Clone(appErrors.ErrDuplicate, "subject already enrolled")
		} else {
			err = fmt.Errorf("add enrolled subject: %w", err)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit add subject: %w", err)
	}
	return nil
}

// DeleteSubject hard-deletes an ungraded subject row. Used while the
// enrollment window is still open.
func (r *EnrollmentRepository) DeleteSubject(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM enrolled_subjects WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete enrolled subject: %w", err)
	}
	return nil
}

// UpdateSubjectStatus transitions a subject row's lifecycle state.
func (r *EnrollmentRepository) UpdateSubjectStatus(ctx context.Context, id string, status models.EnrolledSubjectStatus) error {
	const query = `UPDATE enrolled_subjects SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrolled subject status: %w", err)
	}
	return nil
}

// HasCompletedSubject reports whether the student has a completed, passing
// row for the given curriculum subject in any prior enrollment.
func (r *EnrollmentRepository) HasCompletedSubject(ctx context.Context, studentID, curriculumSubjectID string, passingGrade float64) (bool, error) {
	const query = `SELECT COUNT(*)
        FROM enrolled_subjects es
        JOIN enrollments e ON e.id = es.enrollment_id
        JOIN scheduled_subjects ss ON ss.id = es.scheduled_subject_id
        WHERE e.student_id = $1
          AND ss.curriculum_subject_id = $2
          AND es.status = $3
          AND es.final_grade IS NOT NULL
          AND es.final_grade >= $4`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, curriculumSubjectID, models.EnrolledSubjectStatusCompleted, passingGrade); err != nil {
		return false, fmt.Errorf("check completed prerequisite: %w", err)
	}
	return count > 0, nil
}

// isUniqueViolation detects a postgres unique-constraint failure.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
