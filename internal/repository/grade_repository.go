package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acadsys/registrar-api/internal/models"
)

// GradeRepository handles grade persistence: batch submission, registrar
// overrides and the append-only change log.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository instantiates a grade repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

func gradeColumn(period models.GradePeriod) string {
	if period == models.GradePeriodFinal {
		return "final_grade"
	}
	return "midterm_grade"
}

// SubmitBatch writes a class's grades for one period and stamps the offering
// as submitted, all in one transaction. Entries with a nil grade are skipped.
// A final grade flips the row to COMPLETED in the same statement. An empty
// submittedBy leaves the submission stamp untouched (registrar corrections).
func (r *GradeRepository) SubmitBatch(ctx context.Context, scheduledSubjectID string, period models.GradePeriod, entries []models.GradeEntry, submittedBy string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grade submission: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	column := gradeColumn(period)

	// Guard against entries that point at another class's rows.
	updateQuery := fmt.Sprintf(`UPDATE enrolled_subjects SET %s = $2, updated_at = $3 WHERE id = $1 AND scheduled_subject_id = $4`, column)
	if period == models.GradePeriodFinal {
		updateQuery = fmt.Sprintf(`UPDATE enrolled_subjects SET %s = $2, status = '%s', updated_at = $3
            WHERE id = $1 AND scheduled_subject_id = $4`, column, models.EnrolledSubjectStatusCompleted)
	}

	for _, entry := range entries {
		if entry.Grade == nil {
			continue
		}
		if _, err = tx.ExecContext(ctx, updateQuery, entry.EnrolledSubjectID, *entry.Grade, now, scheduledSubjectID); err != nil {
			err = fmt.Errorf("write grade: %w", err)
			return err
		}
	}

	if submittedBy != "" {
		stampQuery := `UPDATE scheduled_subjects SET midterm_submitted_at = $2, midterm_submitted_by = $3, updated_at = $2 WHERE id = $1`
		if period == models.GradePeriodFinal {
			stampQuery = `UPDATE scheduled_subjects SET final_submitted_at = $2, final_submitted_by = $3, updated_at = $2 WHERE id = $1`
		}
		if _, err = tx.ExecContext(ctx, stampQuery, scheduledSubjectID, now, submittedBy); err != nil {
			err = fmt.Errorf("stamp submission: %w", err)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit grade submission: %w", err)
	}
	return nil
}

// OverrideWithLog applies a registrar correction and appends its audit row
// atomically: the override never lands without its log entry. The target row
// is locked for the duration so the logged old grade is the value actually
// replaced.
func (r *GradeRepository) OverrideWithLog(ctx context.Context, log *models.GradeChangeLog) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grade override: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	column := gradeColumn(log.GradePeriod)

	lockQuery := fmt.Sprintf(`SELECT %s FROM enrolled_subjects WHERE id = $1 FOR UPDATE`, column)
	var oldGrade *float64
	if err = tx.GetContext(ctx, &oldGrade, lockQuery, log.EnrolledSubjectID); err != nil {
		return err
	}
	log.OldGrade = oldGrade

	now := time.Now().UTC()
	updateQuery := fmt.Sprintf(`UPDATE enrolled_subjects SET %s = $2, updated_at = $3 WHERE id = $1`, column)
	if log.GradePeriod == models.GradePeriodFinal {
		updateQuery = fmt.Sprintf(`UPDATE enrolled_subjects SET %s = $2, status = '%s', updated_at = $3 WHERE id = $1`,
			column, models.EnrolledSubjectStatusCompleted)
	}
	if _, err = tx.ExecContext(ctx, updateQuery, log.EnrolledSubjectID, log.NewGrade, now); err != nil {
		err = fmt.Errorf("apply grade override: %w", err)
		return err
	}

	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	log.CreatedAt = now

	const logQuery = `INSERT INTO grade_change_logs (id, enrolled_subject_id, grade_period, old_grade, new_grade, reason, attachment_path, modified_by, created_at)
        VALUES (:id, :enrolled_subject_id, :grade_period, :old_grade, :new_grade, :reason, :attachment_path, :modified_by, :created_at)`
	if _, err = tx.NamedExecContext(ctx, logQuery, log); err != nil {
		err = fmt.Errorf("append grade change log: %w", err)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit grade override: %w", err)
	}
	return nil
}

// ListChangeLogs returns the audit trail of one enrolled subject, newest
// first.
func (r *GradeRepository) ListChangeLogs(ctx context.Context, enrolledSubjectID string) ([]models.GradeChangeLog, error) {
	const query = `SELECT id, enrolled_subject_id, grade_period, old_grade, new_grade, reason, attachment_path, modified_by, created_at
        FROM grade_change_logs WHERE enrolled_subject_id = $1 ORDER BY created_at DESC`
	var logs []models.GradeChangeLog
	if err := r.db.SelectContext(ctx, &logs, query, enrolledSubjectID); err != nil {
		return nil, fmt.Errorf("list grade change logs: %w", err)
	}
	return logs, nil
}

// ClassRows returns the grade-sheet rows of one offering: every non-dropped
// student with their current grades.
func (r *GradeRepository) ClassRows(ctx context.Context, scheduledSubjectID string) ([]models.ClassGradeRow, error) {
	const query = `SELECT es.id AS enrolled_subject_id, st.id AS student_id, u.official_id,
        u.full_name AS student_name, es.status, es.midterm_grade, es.final_grade
        FROM enrolled_subjects es
        JOIN enrollments e ON e.id = es.enrollment_id
        JOIN students st ON st.id = e.student_id
        JOIN users u ON u.id = st.user_id
        WHERE es.scheduled_subject_id = $1 AND es.status <> $2
        ORDER BY u.full_name`
	var rows []models.ClassGradeRow
	if err := r.db.SelectContext(ctx, &rows, query, scheduledSubjectID, models.EnrolledSubjectStatusDropped); err != nil {
		return nil, fmt.Errorf("list class grade rows: %w", err)
	}
	return rows, nil
}
