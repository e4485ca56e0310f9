package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadsys/registrar-api/internal/models"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
)

func TestEnrollmentRepositoryExistsByStudentTerm(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE student_id = $1 AND academic_term_id = $2")).
		WithArgs("stu-1", "term-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := repo.ExistsByStudentTerm(context.Background(), "stu-1", "term-1")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateWithSubjects(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	subjectInsert := regexp.QuoteMeta(`VALUES ($1, $2, $3, $4, $5, $5)`)
	mock.ExpectExec(subjectInsert).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(subjectInsert).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET year_level = $2, block_id = $3, updated_at = $4 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment := &models.Enrollment{StudentID: "stu-1", AcademicTermID: "term-1", BlockID: "block-a", YearLevel: 2}
	err := repo.CreateWithSubjects(context.Background(), enrollment, []string{"off-1", "off-2"})
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.Status)
	assert.False(t, enrollment.EnrolledAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateWithSubjectsDuplicateRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	enrollment := &models.Enrollment{StudentID: "stu-1", AcademicTermID: "term-1", YearLevel: 1}
	err := repo.CreateWithSubjects(context.Background(), enrollment, []string{"off-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicate.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateWithSubjectsSubjectFailureRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`VALUES ($1, $2, $3, $4, $5, $5)`)).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	enrollment := &models.Enrollment{StudentID: "stu-1", AcademicTermID: "term-1", YearLevel: 1}
	err := repo.CreateWithSubjects(context.Background(), enrollment, []string{"off-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicate.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySumActiveUnits(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(s.units), 0)")).
		WithArgs("enr-1", models.EnrolledSubjectStatusDropped).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(15))

	units, err := repo.SumActiveUnits(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 15, units)
}

func TestEnrollmentRepositoryHasCompletedSubject(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("AND es.final_grade >= $4")).
		WithArgs("stu-1", "cs-1", models.EnrolledSubjectStatusCompleted, 75.0).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	completed, err := repo.HasCompletedSubject(context.Background(), "stu-1", "cs-1", 75.0)
	require.NoError(t, err)
	assert.True(t, completed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAddSubjectLocksRowAndValidatesInTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("enr-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(s.units), 0)")).
		WithArgs("enr-1", models.EnrolledSubjectStatusDropped).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(12))
	mock.ExpectExec("INSERT INTO enrolled_subjects").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	subject := &models.EnrolledSubject{EnrollmentID: "enr-1", ScheduledSubjectID: "off-1"}
	err := repo.AddSubject(context.Background(), subject, func(ctx context.Context, guard EnrollmentGuard) error {
		// The guard reads run on the same transaction that holds the
		// enrollment row lock.
		units, err := guard.SumActiveUnits(ctx, "enr-1")
		require.NoError(t, err)
		assert.Equal(t, 12, units)
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, subject.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAddSubjectValidateFailureRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("enr-1"))
	mock.ExpectRollback()

	subject := &models.EnrolledSubject{EnrollmentID: "enr-1", ScheduledSubjectID: "off-1"}
	err := repo.AddSubject(context.Background(), subject, func(ctx context.Context, guard EnrollmentGuard) error {
		return appErrors.Clone(appErrors.ErrUnitCapExceeded, "enrollment exceeds the 24-unit ceiling")
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnitCapExceeded.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAddSubjectDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("enr-1"))
	mock.ExpectExec("INSERT INTO enrolled_subjects").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	subject := &models.EnrolledSubject{EnrollmentID: "enr-1", ScheduledSubjectID: "off-1"}
	err := repo.AddSubject(context.Background(), subject, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicate.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateSubjectStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrolled_subjects SET status = $2, updated_at = $3 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateSubjectStatus(context.Background(), "es-1", models.EnrolledSubjectStatusDropped))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDeleteSubject(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrolled_subjects WHERE id = $1")).
		WithArgs("es-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteSubject(context.Background(), "es-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
