package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/acadsys/registrar-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func termRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "academic_year", "semester", "start_date", "end_date",
		"start_enrollment", "end_enrollment", "start_mid_grade", "end_mid_grade",
		"start_final_grade", "end_final_grade", "is_active", "created_at", "updated_at",
	}).AddRow("term-1", "2025-2026", models.SemesterFirst, nil, nil, nil, nil, nil, nil, nil, nil, true, time.Now(), time.Now())
}

func TestTermRepositoryFindActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM academic_terms WHERE is_active = TRUE LIMIT 1").
		WillReturnRows(termRows())

	term, err := repo.FindActive(context.Background())
	require.NoError(t, err)
	require.Equal(t, "term-1", term.ID)
	require.True(t, term.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryFindActiveNone(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM academic_terms WHERE is_active = TRUE LIMIT 1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActive(context.Background())
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestTermRepositoryExistsByYearAndSemester(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM academic_terms WHERE academic_year = $1 AND semester = $2")).
		WithArgs("2025-2026", models.SemesterFirst).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := repo.ExistsByYearAndSemester(context.Background(), "2025-2026", models.SemesterFirst, "")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryExistsExcludesSelf(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM academic_terms WHERE academic_year = $1 AND semester = $2 AND id <> $3")).
		WithArgs("2025-2026", models.SemesterFirst, "term-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	exists, err := repo.ExistsByYearAndSemester(context.Background(), "2025-2026", models.SemesterFirst, "term-1")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestTermRepositoryActivateFlipsSingleFlag(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE academic_terms SET is_active = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE academic_terms SET is_active = TRUE")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Activate(context.Background(), "term-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryActivateMissingTermRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE academic_terms SET is_active = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE academic_terms SET is_active = TRUE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Activate(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryCreateDefaultsID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectExec("INSERT INTO academic_terms").
		WillReturnResult(sqlmock.NewResult(0, 1))

	term := &models.AcademicTerm{AcademicYear: "2025-2026", Semester: models.SemesterFirst}
	require.NoError(t, repo.Create(context.Background(), term))
	require.NotEmpty(t, term.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
