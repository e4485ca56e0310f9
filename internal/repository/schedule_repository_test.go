package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadsys/registrar-api/internal/models"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
)

const advisoryLockQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`

func TestScheduleRepositoryCreateLocksScopesAndScansInTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	instructorID := "inst-1"
	offering := &models.ScheduledSubject{
		AcademicTermID:      "term-1",
		BlockID:             "block-a",
		InstructorID:        &instructorID,
		CurriculumSubjectID: "cs-1",
		Day:                 "MWF",
		Room:                "RM101",
		TimeStart:           "08:00",
		TimeEnd:             "09:00",
	}

	mock.ExpectBegin()
	// Scope locks are taken in sorted key order: block, instructor, room.
	lock := regexp.QuoteMeta(advisoryLockQuery)
	mock.ExpectExec(lock).WithArgs("slot:term-1:block:block-a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(lock).WithArgs("slot:term-1:instructor:inst-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(lock).WithArgs("slot:term-1:room:RM101").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM scheduled_subjects ss WHERE ss\.room = \$1`).
		WithArgs("RM101", "term-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO scheduled_subjects").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), offering, func(ctx context.Context, slots SlotScan) error {
		rows, err := slots.ListByRoomAndTerm(ctx, "RM101", "term-1", "")
		require.NoError(t, err)
		assert.Empty(t, rows)
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, offering.ID)
	assert.False(t, offering.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryCreateValidateFailureRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	offering := &models.ScheduledSubject{
		AcademicTermID:      "term-1",
		BlockID:             "block-a",
		CurriculumSubjectID: "cs-1",
		Day:                 "MWF",
		Room:                "RM101",
		TimeStart:           "08:00",
		TimeEnd:             "09:00",
	}

	mock.ExpectBegin()
	lock := regexp.QuoteMeta(advisoryLockQuery)
	mock.ExpectExec(lock).WithArgs("slot:term-1:block:block-a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(lock).WithArgs("slot:term-1:room:RM101").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), offering, func(ctx context.Context, slots SlotScan) error {
		return appErrors.Clone(appErrors.ErrScheduleConflict, "schedule conflict on ROOM with offering off-9")
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryUpdateRunsValidateInTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	offering := &models.ScheduledSubject{
		ID:                  "off-1",
		AcademicTermID:      "term-1",
		BlockID:             "block-a",
		CurriculumSubjectID: "cs-1",
		Day:                 "TTH",
		Room:                "RM202",
		TimeStart:           "10:00",
		TimeEnd:             "11:30",
	}

	mock.ExpectBegin()
	lock := regexp.QuoteMeta(advisoryLockQuery)
	mock.ExpectExec(lock).WithArgs("slot:term-1:block:block-a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(lock).WithArgs("slot:term-1:room:RM202").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM scheduled_subjects ss WHERE ss\.block_id = \$1`).
		WithArgs("block-a", "term-1", "off-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("UPDATE scheduled_subjects SET instructor_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Update(context.Background(), offering, func(ctx context.Context, slots SlotScan) error {
		rows, err := slots.ListByBlockAndTerm(ctx, "block-a", "term-1", "off-1")
		require.NoError(t, err)
		assert.Empty(t, rows)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
