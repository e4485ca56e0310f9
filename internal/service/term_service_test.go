package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acadsys/registrar-api/internal/models"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
)

type mockTermRepo struct {
	terms       map[string]*models.AcademicTerm
	activeID    string
	activations []string
}

func (m *mockTermRepo) List(ctx context.Context, filter models.TermFilter) ([]models.AcademicTerm, int, error) {
	var list []models.AcademicTerm
	for _, term := range m.terms {
		list = append(list, *term)
	}
	return list, len(list), nil
}

func (m *mockTermRepo) FindByID(ctx context.Context, id string) (*models.AcademicTerm, error) {
	if term, ok := m.terms[id]; ok {
		copied := *term
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTermRepo) FindActive(ctx context.Context) (*models.AcademicTerm, error) {
	if term, ok := m.terms[m.activeID]; ok {
		copied := *term
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTermRepo) ExistsByYearAndSemester(ctx context.Context, academicYear string, semester models.Semester, excludeID string) (bool, error) {
	for id, term := range m.terms {
		if id == excludeID {
			continue
		}
		if term.AcademicYear == academicYear && term.Semester == semester {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockTermRepo) Create(ctx context.Context, term *models.AcademicTerm) error {
	if m.terms == nil {
		m.terms = make(map[string]*models.AcademicTerm)
	}
	if term.ID == "" {
		term.ID = "term-" + term.AcademicYear
	}
	copied := *term
	m.terms[term.ID] = &copied
	return nil
}

func (m *mockTermRepo) Update(ctx context.Context, term *models.AcademicTerm) error {
	copied := *term
	m.terms[term.ID] = &copied
	return nil
}

func (m *mockTermRepo) Activate(ctx context.Context, id string) error {
	if _, ok := m.terms[id]; !ok {
		return sql.ErrNoRows
	}
	m.activeID = id
	m.activations = append(m.activations, id)
	return nil
}

type mockTermCache struct {
	entries map[string]interface{}
	deleted []string
	gets    int
	hits    int
}

func (m *mockTermCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.gets++
	value, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	m.hits++
	switch d := dest.(type) {
	case *models.AcademicTerm:
		*d = *(value.(*models.AcademicTerm))
	case *StudentCatalog:
		*d = *(value.(*StudentCatalog))
	}
	return nil
}

func (m *mockTermCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.entries == nil {
		m.entries = make(map[string]interface{})
	}
	m.entries[key] = value
	return nil
}

func (m *mockTermCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.deleted = append(m.deleted, pattern)
	for key := range m.entries {
		delete(m.entries, key)
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func testTerm() *models.AcademicTerm {
	return &models.AcademicTerm{
		ID:              "term-1",
		AcademicYear:    "2025-2026",
		Semester:        models.SemesterFirst,
		StartEnrollment: timePtr(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)),
		EndEnrollment:   timePtr(time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)),
		StartMidGrade:   timePtr(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)),
		EndMidGrade:     timePtr(time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC)),
		StartFinalGrade: timePtr(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)),
		EndFinalGrade:   timePtr(time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC)),
		IsActive:        true,
	}
}

func newTermService(repo *mockTermRepo, cache *mockTermCache) *TermService {
	return NewTermService(repo, cache, time.Minute, validator.New(), zap.NewNop())
}

func TestTermServiceCreateRejectsHalfSetWindow(t *testing.T) {
	svc := newTermService(&mockTermRepo{}, nil)

	_, err := svc.Create(context.Background(), CreateTermRequest{
		AcademicYear:    "2025-2026",
		Semester:        models.SemesterFirst,
		StartEnrollment: timePtr(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTermServiceCreateRejectsInvertedWindow(t *testing.T) {
	svc := newTermService(&mockTermRepo{}, nil)

	_, err := svc.Create(context.Background(), CreateTermRequest{
		AcademicYear:    "2025-2026",
		Semester:        models.SemesterFirst,
		StartEnrollment: timePtr(time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)),
		EndEnrollment:   timePtr(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTermServiceCreateRejectsDuplicateYearSemester(t *testing.T) {
	repo := &mockTermRepo{terms: map[string]*models.AcademicTerm{"term-1": testTerm()}}
	svc := newTermService(repo, nil)

	_, err := svc.Create(context.Background(), CreateTermRequest{
		AcademicYear: "2025-2026",
		Semester:     models.SemesterFirst,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicate.Code, appErrors.FromError(err).Code)
}

func TestTermServiceGetActiveCachesResult(t *testing.T) {
	repo := &mockTermRepo{terms: map[string]*models.AcademicTerm{"term-1": testTerm()}, activeID: "term-1"}
	cache := &mockTermCache{}
	svc := newTermService(repo, cache)

	term, err := svc.GetActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "term-1", term.ID)

	// Second read comes from the cache.
	_, err = svc.GetActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
}

func TestTermServiceActivateInvalidatesCache(t *testing.T) {
	repo := &mockTermRepo{terms: map[string]*models.AcademicTerm{"term-1": testTerm()}}
	cache := &mockTermCache{entries: map[string]interface{}{activeTermCacheKey: testTerm()}}
	svc := newTermService(repo, cache)

	term, err := svc.Activate(context.Background(), "term-1")
	require.NoError(t, err)
	assert.True(t, term.IsActive)
	assert.Contains(t, cache.deleted, activeTermCacheKey)
	assert.Equal(t, []string{"term-1"}, repo.activations)
}

func TestTermServiceActivateUnknownTerm(t *testing.T) {
	svc := newTermService(&mockTermRepo{}, nil)

	_, err := svc.Activate(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTermServiceEnrollmentWindowInclusiveBounds(t *testing.T) {
	svc := newTermService(&mockTermRepo{}, nil)
	term := testTerm()

	cases := []struct {
		name string
		now  time.Time
		open bool
	}{
		{"day before start", time.Date(2025, 7, 31, 23, 59, 0, 0, time.UTC), false},
		{"first day early morning", time.Date(2025, 8, 1, 0, 0, 1, 0, time.UTC), true},
		{"mid window", time.Date(2025, 8, 7, 12, 0, 0, 0, time.UTC), true},
		{"last day late evening", time.Date(2025, 8, 15, 23, 59, 0, 0, time.UTC), true},
		{"day after end", time.Date(2025, 8, 16, 0, 0, 1, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc.WithClock(func() time.Time { return tc.now })
			err := svc.EnsureEnrollmentOpen(term, models.RoleStudent)
			if tc.open {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, appErrors.ErrPeriodClosed.Code, appErrors.FromError(err).Code)
			}
		})
	}
}

func TestTermServiceEnrollmentWindowFailsClosedOnNilBounds(t *testing.T) {
	svc := newTermService(&mockTermRepo{}, nil)
	term := testTerm()
	term.EndEnrollment = nil
	svc.WithClock(func() time.Time { return time.Date(2025, 8, 7, 12, 0, 0, 0, time.UTC) })

	err := svc.EnsureEnrollmentOpen(term, models.RoleStudent)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPeriodClosed.Code, appErrors.FromError(err).Code)
}

func TestTermServiceRegistrarBypassesClosedWindow(t *testing.T) {
	svc := newTermService(&mockTermRepo{}, nil)
	term := testTerm()
	svc.WithClock(func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) })

	assert.NoError(t, svc.EnsureEnrollmentOpen(term, models.RoleRegistrar))
	assert.NoError(t, svc.EnsureGradeWindowOpen(term, models.GradePeriodFinal, models.RoleRegistrar))
}

func TestTermServiceGradeWindowPerPeriod(t *testing.T) {
	svc := newTermService(&mockTermRepo{}, nil)
	term := testTerm()

	// Midterm window open, final closed.
	svc.WithClock(func() time.Time { return time.Date(2025, 10, 5, 9, 0, 0, 0, time.UTC) })
	assert.NoError(t, svc.EnsureGradeWindowOpen(term, models.GradePeriodMidterm, models.RoleInstructor))
	err := svc.EnsureGradeWindowOpen(term, models.GradePeriodFinal, models.RoleInstructor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPeriodClosed.Code, appErrors.FromError(err).Code)

	// Final window open, midterm closed.
	svc.WithClock(func() time.Time { return time.Date(2025, 12, 5, 9, 0, 0, 0, time.UTC) })
	assert.NoError(t, svc.EnsureGradeWindowOpen(term, models.GradePeriodFinal, models.RoleInstructor))
	require.Error(t, svc.EnsureGradeWindowOpen(term, models.GradePeriodMidterm, models.RoleInstructor))
}

func TestTermServiceUpdateKeepsUniqueYearSemester(t *testing.T) {
	first := testTerm()
	second := testTerm()
	second.ID = "term-2"
	second.Semester = models.SemesterSecond
	repo := &mockTermRepo{terms: map[string]*models.AcademicTerm{"term-1": first, "term-2": second}}
	svc := newTermService(repo, nil)

	_, err := svc.Update(context.Background(), "term-2", UpdateTermRequest{
		AcademicYear: "2025-2026",
		Semester:     models.SemesterFirst,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicate.Code, appErrors.FromError(err).Code)
}
