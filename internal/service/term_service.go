package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/acadsys/registrar-api/internal/models"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
)

type termRepository interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.AcademicTerm, int, error)
	FindByID(ctx context.Context, id string) (*models.AcademicTerm, error)
	FindActive(ctx context.Context) (*models.AcademicTerm, error)
	ExistsByYearAndSemester(ctx context.Context, academicYear string, semester models.Semester, excludeID string) (bool, error)
	Create(ctx context.Context, term *models.AcademicTerm) error
	Update(ctx context.Context, term *models.AcademicTerm) error
	Activate(ctx context.Context, id string) error
}

type termCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

const activeTermCacheKey = "terms:active"

// CreateTermRequest describes payload for creating academic terms. Window
// bounds are optional; windows stay closed until both bounds are set.
type CreateTermRequest struct {
	AcademicYear    string          `json:"academic_year" validate:"required"`
	Semester        models.Semester `json:"semester" validate:"required,oneof=FIRST SECOND SUMMER"`
	StartDate       *time.Time      `json:"start_date"`
	EndDate         *time.Time      `json:"end_date"`
	StartEnrollment *time.Time      `json:"start_enrollment"`
	EndEnrollment   *time.Time      `json:"end_enrollment"`
	StartMidGrade   *time.Time      `json:"start_mid_grade"`
	EndMidGrade     *time.Time      `json:"end_mid_grade"`
	StartFinalGrade *time.Time      `json:"start_final_grade"`
	EndFinalGrade   *time.Time      `json:"end_final_grade"`
}

// UpdateTermRequest updates a term's windows.
type UpdateTermRequest struct {
	AcademicYear    string          `json:"academic_year" validate:"required"`
	Semester        models.Semester `json:"semester" validate:"required,oneof=FIRST SECOND SUMMER"`
	StartDate       *time.Time      `json:"start_date"`
	EndDate         *time.Time      `json:"end_date"`
	StartEnrollment *time.Time      `json:"start_enrollment"`
	EndEnrollment   *time.Time      `json:"end_enrollment"`
	StartMidGrade   *time.Time      `json:"start_mid_grade"`
	EndMidGrade     *time.Time      `json:"end_mid_grade"`
	StartFinalGrade *time.Time      `json:"start_final_grade"`
	EndFinalGrade   *time.Time      `json:"end_final_grade"`
}

// TermService orchestrates academic-term lifecycle and window gating.
type TermService struct {
	repo      termRepository
	cache     termCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewTermService creates a new term service instance.
func NewTermService(repo termRepository, cache termCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *TermService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &TermService{
		repo:      repo,
		cache:     cache,
		cacheTTL:  cacheTTL,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the service clock. Tests pin window checks with it.
func (s *TermService) WithClock(now func() time.Time) *TermService {
	if now != nil {
		s.now = now
	}
	return s
}

// List returns paginated terms.
func (s *TermService) List(ctx context.Context, filter models.TermFilter) ([]models.AcademicTerm, *models.Pagination, error) {
	terms, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}

	pagination := &models.Pagination{
		Page:       page,
		PageSize:   size,
		TotalCount: total,
	}
	return terms, pagination, nil
}

// Get returns a term by ID.
func (s *TermService) Get(ctx context.Context, id string) (*models.AcademicTerm, error) {
	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}

// GetActive returns the currently active term, cache-aside. Every
// window-gated operation resolves the term through here.
func (s *TermService) GetActive(ctx context.Context) (*models.AcademicTerm, error) {
	if s.cache != nil {
		var cached models.AcademicTerm
		if err := s.cache.Get(ctx, activeTermCacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	term, err := s.repo.FindActive(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active term")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active term")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, activeTermCacheKey, term, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache active term", zap.Error(err))
		}
	}
	return term, nil
}

// Create adds a new term after validating window ordering and uniqueness.
func (s *TermService) Create(ctx context.Context, req CreateTermRequest) (*models.AcademicTerm, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	if err := validateWindowPairs(windowPairs(req.StartDate, req.EndDate, req.StartEnrollment, req.EndEnrollment,
		req.StartMidGrade, req.EndMidGrade, req.StartFinalGrade, req.EndFinalGrade)); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByYearAndSemester(ctx, req.AcademicYear, req.Semester, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check term uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicate, "term already exists for academic year and semester")
	}

	term := &models.AcademicTerm{
		AcademicYear:    req.AcademicYear,
		Semester:        req.Semester,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		StartEnrollment: req.StartEnrollment,
		EndEnrollment:   req.EndEnrollment,
		StartMidGrade:   req.StartMidGrade,
		EndMidGrade:     req.EndMidGrade,
		StartFinalGrade: req.StartFinalGrade,
		EndFinalGrade:   req.EndFinalGrade,
	}

	if err := s.repo.Create(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create term")
	}
	return term, nil
}

// Update modifies a term's windows.
func (s *TermService) Update(ctx context.Context, id string, req UpdateTermRequest) (*models.AcademicTerm, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	if err := validateWindowPairs(windowPairs(req.StartDate, req.EndDate, req.StartEnrollment, req.EndEnrollment,
		req.StartMidGrade, req.EndMidGrade, req.StartFinalGrade, req.EndFinalGrade)); err != nil {
		return nil, err
	}

	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	exists, err := s.repo.ExistsByYearAndSemester(ctx, req.AcademicYear, req.Semester, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check term uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicate, "term already exists for academic year and semester")
	}

	term.AcademicYear = req.AcademicYear
	term.Semester = req.Semester
	term.StartDate = req.StartDate
	term.EndDate = req.EndDate
	term.StartEnrollment = req.StartEnrollment
	term.EndEnrollment = req.EndEnrollment
	term.StartMidGrade = req.StartMidGrade
	term.EndMidGrade = req.EndMidGrade
	term.StartFinalGrade = req.StartFinalGrade
	term.EndFinalGrade = req.EndFinalGrade

	if err := s.repo.Update(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update term")
	}

	s.invalidateActiveTerm(ctx)
	return term, nil
}

// Activate designates a term as the single active term.
func (s *TermService) Activate(ctx context.Context, id string) (*models.AcademicTerm, error) {
	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	if err := s.repo.Activate(ctx, term.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate term")
	}
	term.IsActive = true

	s.invalidateActiveTerm(ctx)
	return term, nil
}

// EnsureEnrollmentOpen gates enrollment mutations on the term's enrollment
// window. Registrars bypass the gate for late-enrollment corrections.
func (s *TermService) EnsureEnrollmentOpen(term *models.AcademicTerm, role models.UserRole) error {
	if role.IsRegistrar() {
		return nil
	}
	if !term.EnrollmentOpenAt(s.now()) {
		return appErrors.Clone(appErrors.ErrPeriodClosed, "enrollment period is closed")
	}
	return nil
}

// EnrollmentWindowOpen reports the raw window state with no role bypass.
// Drop semantics depend on it: open-window drops erase the row, late drops
// keep it as an audit trail.
func (s *TermService) EnrollmentWindowOpen(term *models.AcademicTerm) bool {
	return term.EnrollmentOpenAt(s.now())
}

// EnsureGradeWindowOpen gates grade submission on the period's window.
// Registrars bypass the gate; their corrections go through the audited
// override path regardless of the calendar.
func (s *TermService) EnsureGradeWindowOpen(term *models.AcademicTerm, period models.GradePeriod, role models.UserRole) error {
	if role.IsRegistrar() {
		return nil
	}
	now := s.now()
	open := term.MidGradeOpenAt(now)
	if period == models.GradePeriodFinal {
		open = term.FinalGradeOpenAt(now)
	}
	if !open {
		return appErrors.Clone(appErrors.ErrPeriodClosed, "grade submission period is closed")
	}
	return nil
}

func (s *TermService) invalidateActiveTerm(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, activeTermCacheKey); err != nil {
		s.logger.Warn("failed to invalidate active term cache", zap.Error(err))
	}
}

type windowPair struct {
	name  string
	start *time.Time
	end   *time.Time
}

func windowPairs(startDate, endDate, startEnroll, endEnroll, startMid, endMid, startFinal, endFinal *time.Time) []windowPair {
	return []windowPair{
		{"term", startDate, endDate},
		{"enrollment", startEnroll, endEnroll},
		{"mid_grade", startMid, endMid},
		{"final_grade", startFinal, endFinal},
	}
}

// validateWindowPairs enforces that each window is either fully unset or a
// properly ordered pair. Half-set windows are rejected rather than silently
// treated as closed.
func validateWindowPairs(pairs []windowPair) error {
	for _, p := range pairs {
		if (p.start == nil) != (p.end == nil) {
			return appErrors.Clone(appErrors.ErrValidation, p.name+" window requires both start and end dates")
		}
		if p.start != nil && p.end.Before(*p.start) {
			return appErrors.Clone(appErrors.ErrValidation, p.name+" window end must not precede its start")
		}
	}
	return nil
}
