package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acadsys/registrar-api/internal/models"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
)

type countingScheduleRepo struct {
	mockScheduleRepo
	listCalls int
}

func (m *countingScheduleRepo) List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduledSubjectDetail, int, error) {
	m.listCalls++
	return m.mockScheduleRepo.List(ctx, filter)
}

type mockBlockRepo struct {
	blocks map[string]*models.Block
}

func (m *mockBlockRepo) FindByID(ctx context.Context, id string) (*models.Block, error) {
	if b, ok := m.blocks[id]; ok {
		return b, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockBlockRepo) ListActiveByProgram(ctx context.Context, programID string) ([]models.Block, error) {
	var list []models.Block
	for _, b := range m.blocks {
		if b.ProgramID == programID && b.Status == models.BlockStatusActive {
			list = append(list, *b)
		}
	}
	return list, nil
}

type mockActiveTermSource struct {
	term *models.AcademicTerm
}

func (m *mockActiveTermSource) GetActive(ctx context.Context) (*models.AcademicTerm, error) {
	if m.term == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no active term")
	}
	return m.term, nil
}

func newCatalogFixture() (*countingScheduleRepo, *mockStudentRepo, *mockTermCache, *CatalogService) {
	blockID := "block-a"
	schedules := &countingScheduleRepo{mockScheduleRepo: mockScheduleRepo{offerings: map[string]*models.ScheduledSubject{
		"off-1": scheduled("off-1", "term-1", "block-a", "cs-1", "inst-1", "RM101", "MWF", "08:00", "09:00"),
		"off-2": scheduled("off-2", "term-1", "block-b", "cs-2", "inst-2", "RM202", "TTH", "10:00", "11:30"),
	}}}
	students := &mockStudentRepo{students: map[string]*models.Student{
		"stu-1": {ID: "stu-1", UserID: "user-1", BlockID: &blockID},
		"stu-2": {ID: "stu-2", UserID: "user-2"},
	}}
	blocks := &mockBlockRepo{blocks: map[string]*models.Block{
		"block-a": {ID: "block-a", Code: "BSCS-1A", ProgramID: "prog-1", Status: models.BlockStatusActive},
		"block-b": {ID: "block-b", Code: "BSCS-1B", ProgramID: "prog-1", Status: models.BlockStatusInactive},
	}}
	prereqs := &mockPrereqRepo{prerequisites: map[string][]models.CurriculumSubject{
		"cs-1": {*curriculumSubject("cs-0", "cur-1", "MATH100")},
	}}
	cache := &mockTermCache{}
	terms := &mockActiveTermSource{term: &models.AcademicTerm{ID: "term-1", IsActive: true}}
	svc := NewCatalogService(schedules, students, blocks, prereqs, terms, cache, time.Minute, zap.NewNop())
	return schedules, students, cache, svc
}

func TestCatalogForBlockFiltersByBlock(t *testing.T) {
	_, _, _, svc := newCatalogFixture()

	catalog, err := svc.ForBlock(context.Background(), "term-1", "block-a")
	require.NoError(t, err)
	assert.Equal(t, "term-1", catalog.AcademicTermID)
	require.Len(t, catalog.Offerings, 1)
	assert.Equal(t, "off-1", catalog.Offerings[0].ID)
	assert.Equal(t, []string{"MATH100"}, catalog.Offerings[0].Prerequisites)
}

func TestCatalogForBlockServesSecondReadFromCache(t *testing.T) {
	schedules, _, cache, svc := newCatalogFixture()

	_, err := svc.ForBlock(context.Background(), "term-1", "block-a")
	require.NoError(t, err)
	_, err = svc.ForBlock(context.Background(), "term-1", "block-a")
	require.NoError(t, err)

	assert.Equal(t, 1, schedules.listCalls)
	assert.Equal(t, 1, cache.hits)
}

func TestCatalogForStudentUsesActiveTermAndBlock(t *testing.T) {
	_, _, _, svc := newCatalogFixture()

	catalog, err := svc.ForStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "block-a", catalog.BlockID)
	assert.Len(t, catalog.Offerings, 1)
}

func TestCatalogForStudentWithoutBlock(t *testing.T) {
	_, _, _, svc := newCatalogFixture()

	_, err := svc.ForStudent(context.Background(), "stu-2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCatalogForBlockUnknownBlock(t *testing.T) {
	_, _, _, svc := newCatalogFixture()

	_, err := svc.ForBlock(context.Background(), "term-1", "block-missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCatalogBlocksForProgramListsActiveOnly(t *testing.T) {
	_, _, _, svc := newCatalogFixture()

	blocks, err := svc.BlocksForProgram(context.Background(), "prog-1")
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "block-a", blocks[0].ID)
}

func TestCatalogInvalidateTermDropsCachedCatalogs(t *testing.T) {
	schedules, _, cache, svc := newCatalogFixture()

	_, err := svc.ForBlock(context.Background(), "term-1", "block-a")
	require.NoError(t, err)

	svc.InvalidateTerm(context.Background(), "term-1")
	assert.Contains(t, cache.deleted, "catalog:term:term-1:*")

	_, err = svc.ForBlock(context.Background(), "term-1", "block-a")
	require.NoError(t, err)
	assert.Equal(t, 2, schedules.listCalls)
}
