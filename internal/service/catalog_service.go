package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acadsys/registrar-api/internal/models"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
)

type catalogScheduleRepository interface {
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduledSubjectDetail, int, error)
}

type catalogStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type catalogBlockRepository interface {
	FindByID(ctx context.Context, id string) (*models.Block, error)
	ListActiveByProgram(ctx context.Context, programID string) ([]models.Block, error)
}

type catalogTermService interface {
	GetActive(ctx context.Context) (*models.AcademicTerm, error)
}

type catalogCurriculumRepository interface {
	ListPrerequisites(ctx context.Context, curriculumSubjectID string) ([]models.CurriculumSubject, error)
}

// CatalogOffering is one scheduled subject as students browse it, with the
// prerequisite subject codes they must have passed.
type CatalogOffering struct {
	models.ScheduledSubjectDetail
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// StudentCatalog is the set of offerings a student's block carries in the
// active term.
type StudentCatalog struct {
	AcademicTermID string            `json:"academic_term_id"`
	BlockID        string            `json:"block_id"`
	Offerings      []CatalogOffering `json:"offerings"`
}

// CatalogService builds the per-block offering catalog for the active term.
// Catalog reads vastly outnumber schedule writes during enrollment, so
// results are served cache-aside and invalidated on any schedule mutation.
type CatalogService struct {
	schedules  catalogScheduleRepository
	students   catalogStudentRepository
	blocks     catalogBlockRepository
	curriculum catalogCurriculumRepository
	terms      catalogTermService
	cache      termCache
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// NewCatalogService creates a new catalog service instance.
func NewCatalogService(schedules catalogScheduleRepository, students catalogStudentRepository, blocks catalogBlockRepository, curriculum catalogCurriculumRepository, terms catalogTermService, cache termCache, cacheTTL time.Duration, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &CatalogService{
		schedules:  schedules,
		students:   students,
		blocks:     blocks,
		curriculum: curriculum,
		terms:      terms,
		cache:      cache,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// ForStudent returns the offerings available to a student in the active
// term: everything scheduled for the student's block.
func (s *CatalogService) ForStudent(ctx context.Context, studentID string) (*StudentCatalog, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.BlockID == nil || *student.BlockID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is not assigned to a block")
	}

	term, err := s.terms.GetActive(ctx)
	if err != nil {
		return nil, err
	}

	return s.ForBlock(ctx, term.ID, *student.BlockID)
}

// ForBlock returns the block's offerings for a term, cache-aside.
func (s *CatalogService) ForBlock(ctx context.Context, termID, blockID string) (*StudentCatalog, error) {
	key := catalogCacheKey(termID, blockID)
	if s.cache != nil {
		var cached StudentCatalog
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	if _, err := s.blocks.FindByID(ctx, blockID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "block not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load block")
	}

	offerings, _, err := s.schedules.List(ctx, models.ScheduleFilter{
		AcademicTermID: termID,
		BlockID:        blockID,
		PageSize:       100,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build catalog")
	}

	annotated := make([]CatalogOffering, 0, len(offerings))
	for _, offering := range offerings {
		entry := CatalogOffering{ScheduledSubjectDetail: offering}
		prereqs, err := s.curriculum.ListPrerequisites(ctx, offering.CurriculumSubjectID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
		}
		for _, prereq := range prereqs {
			entry.Prerequisites = append(entry.Prerequisites, prereq.SubjectCode)
		}
		annotated = append(annotated, entry)
	}

	catalog := &StudentCatalog{
		AcademicTermID: termID,
		BlockID:        blockID,
		Offerings:      annotated,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, catalog, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache catalog", zap.Error(err))
		}
	}
	return catalog, nil
}

// BlocksForProgram lists a program's active blocks, the entry point for
// picking a block before browsing its catalog.
func (s *CatalogService) BlocksForProgram(ctx context.Context, programID string) ([]models.Block, error) {
	blocks, err := s.blocks.ListActiveByProgram(ctx, programID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list blocks")
	}
	return blocks, nil
}

// InvalidateTerm drops every cached catalog for a term. Schedule mutations
// call this so stale slots never show during enrollment.
func (s *CatalogService) InvalidateTerm(ctx context.Context, termID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("catalog:term:%s:*", termID)); err != nil {
		s.logger.Warn("failed to invalidate catalog cache", zap.Error(err), zap.String("term_id", termID))
	}
}

func catalogCacheKey(termID, blockID string) string {
	return fmt.Sprintf("catalog:term:%s:block:%s", termID, blockID)
}
