package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadsys/registrar-api/internal/models"
)

func gradePtr(v float64) *float64 { return &v }

func TestGradeRepositorySubmitBatchMidterm(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectBegin()
	update := regexp.QuoteMeta(`UPDATE enrolled_subjects SET midterm_grade = $2, updated_at = $3 WHERE id = $1 AND scheduled_subject_id = $4`)
	mock.ExpectExec(update).
		WithArgs("es-1", 85.5, sqlmock.AnyArg(), "off-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).
		WithArgs("es-2", 90.0, sqlmock.AnyArg(), "off-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE scheduled_subjects SET midterm_submitted_at = $2, midterm_submitted_by = $3, updated_at = $2 WHERE id = $1`)).
		WithArgs("off-1", sqlmock.AnyArg(), "user-inst").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entries := []models.GradeEntry{
		{EnrolledSubjectID: "es-1", Grade: gradePtr(85.5)},
		{EnrolledSubjectID: "es-2", Grade: gradePtr(90.0)},
	}
	err := repo.SubmitBatch(context.Background(), "off-1", models.GradePeriodMidterm, entries, "user-inst")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositorySubmitBatchSkipsNilGrades(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	// Only the stamp lands when every entry is nil.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE scheduled_subjects SET midterm_submitted_at = $2`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entries := []models.GradeEntry{{EnrolledSubjectID: "es-1"}}
	err := repo.SubmitBatch(context.Background(), "off-1", models.GradePeriodMidterm, entries, "user-inst")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositorySubmitBatchEmptySubmitterSkipsStamp(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE enrolled_subjects SET midterm_grade = $2, updated_at = $3 WHERE id = $1 AND scheduled_subject_id = $4`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entries := []models.GradeEntry{{EnrolledSubjectID: "es-1", Grade: gradePtr(70.0)}}
	err := repo.SubmitBatch(context.Background(), "off-1", models.GradePeriodMidterm, entries, "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositorySubmitBatchFinalCompletesRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE enrolled_subjects SET final_grade = $2, status = 'COMPLETED'`)).
		WithArgs("es-1", 88.0, sqlmock.AnyArg(), "off-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE scheduled_subjects SET final_submitted_at = $2, final_submitted_by = $3, updated_at = $2 WHERE id = $1`)).
		WithArgs("off-1", sqlmock.AnyArg(), "user-inst").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entries := []models.GradeEntry{{EnrolledSubjectID: "es-1", Grade: gradePtr(88.0)}}
	err := repo.SubmitBatch(context.Background(), "off-1", models.GradePeriodFinal, entries, "user-inst")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryOverrideWithLogCapturesOldGrade(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT midterm_grade FROM enrolled_subjects WHERE id = $1 FOR UPDATE`)).
		WithArgs("es-1").
		WillReturnRows(sqlmock.NewRows([]string{"midterm_grade"}).AddRow(60.0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE enrolled_subjects SET midterm_grade = $2, updated_at = $3 WHERE id = $1`)).
		WithArgs("es-1", 75.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO grade_change_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	log := &models.GradeChangeLog{
		EnrolledSubjectID: "es-1",
		GradePeriod:       models.GradePeriodMidterm,
		NewGrade:          75.0,
		Reason:            "encoding error on the submitted sheet",
		ModifiedBy:        "user-registrar",
	}
	err := repo.OverrideWithLog(context.Background(), log)
	require.NoError(t, err)
	require.NotNil(t, log.OldGrade)
	assert.Equal(t, 60.0, *log.OldGrade)
	assert.NotEmpty(t, log.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryOverrideWithLogRollsBackWhenLogFails(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT final_grade FROM enrolled_subjects WHERE id = $1 FOR UPDATE`)).
		WithArgs("es-1").
		WillReturnRows(sqlmock.NewRows([]string{"final_grade"}).AddRow(nil))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE enrolled_subjects SET final_grade = $2, status = 'COMPLETED', updated_at = $3 WHERE id = $1`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO grade_change_logs").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	log := &models.GradeChangeLog{
		EnrolledSubjectID: "es-1",
		GradePeriod:       models.GradePeriodFinal,
		NewGrade:          80.0,
		Reason:            "late submission approved by the dean",
		ModifiedBy:        "user-registrar",
	}
	err := repo.OverrideWithLog(context.Background(), log)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryListChangeLogs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM grade_change_logs WHERE enrolled_subject_id = $1 ORDER BY created_at DESC")).
		WithArgs("es-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "enrolled_subject_id", "grade_period", "old_grade", "new_grade",
			"reason", "attachment_path", "modified_by", "created_at",
		}).AddRow("log-1", "es-1", models.GradePeriodMidterm, 60.0, 75.0, "encoding error", nil, "user-registrar", now))

	logs, err := repo.ListChangeLogs(context.Background(), "es-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 75.0, logs[0].NewGrade)
	require.NotNil(t, logs[0].OldGrade)
	assert.Equal(t, 60.0, *logs[0].OldGrade)
}

func TestGradeRepositoryClassRowsExcludesDropped(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE es.scheduled_subject_id = $1 AND es.status <> $2")).
		WithArgs("off-1", models.EnrolledSubjectStatusDropped).
		WillReturnRows(sqlmock.NewRows([]string{
			"enrolled_subject_id", "student_id", "official_id", "student_name",
			"status", "midterm_grade", "final_grade",
		}).AddRow("es-1", "stu-1", "2025-0001", "Dela Cruz, Juan", models.EnrolledSubjectStatusEnrolled, 85.5, nil))

	rows, err := repo.ClassRows(context.Background(), "off-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-0001", rows[0].OfficialID)
	require.NotNil(t, rows[0].MidtermGrade)
	assert.Nil(t, rows[0].FinalGrade)
	require.NoError(t, mock.ExpectationsWereMet())
}
