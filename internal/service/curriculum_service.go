package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/acadsys/registrar-api/internal/models"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
)

type curriculumRepository interface {
	FindActiveByProgram(ctx context.Context, programID string) (*models.Curriculum, error)
	FindSubjectByID(ctx context.Context, id string) (*models.CurriculumSubject, error)
	ListSubjectsByCurriculum(ctx context.Context, curriculumID string) ([]models.CurriculumSubject, error)
	ListPrerequisites(ctx context.Context, curriculumSubjectID string) ([]models.CurriculumSubject, error)
	ListEdgesByCurriculum(ctx context.Context, curriculumID string) ([]models.PrerequisiteEdge, error)
	ExistsEdge(ctx context.Context, curriculumSubjectID, prerequisiteID string) (bool, error)
	AddEdge(ctx context.Context, edge models.PrerequisiteEdge) error
	RemoveEdge(ctx context.Context, edge models.PrerequisiteEdge) error
}

// AddPrerequisiteRequest links a prerequisite to a curriculum subject.
type AddPrerequisiteRequest struct {
	CurriculumSubjectID string `json:"curriculum_subject_id" validate:"required"`
	PrerequisiteID      string `json:"prerequisite_id" validate:"required"`
}

// CurriculumService maintains curriculum versions and the prerequisite
// graph. The graph is kept acyclic at write time so enrollment checks never
// have to defend against cycles.
type CurriculumService struct {
	repo      curriculumRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCurriculumService creates a new curriculum service instance.
func NewCurriculumService(repo curriculumRepository, validate *validator.Validate, logger *zap.Logger) *CurriculumService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CurriculumService{repo: repo, validator: validate, logger: logger}
}

// ActiveForProgram returns the program's active curriculum version.
func (s *CurriculumService) ActiveForProgram(ctx context.Context, programID string) (*models.Curriculum, error) {
	curriculum, err := s.repo.FindActiveByProgram(ctx, programID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active curriculum for program")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load curriculum")
	}
	return curriculum, nil
}

// ListSubjects returns every placement of a curriculum version.
func (s *CurriculumService) ListSubjects(ctx context.Context, curriculumID string) ([]models.CurriculumSubject, error) {
	subjects, err := s.repo.ListSubjectsByCurriculum(ctx, curriculumID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list curriculum subjects")
	}
	return subjects, nil
}

// ListPrerequisites returns the direct prerequisites of a curriculum subject.
func (s *CurriculumService) ListPrerequisites(ctx context.Context, curriculumSubjectID string) ([]models.CurriculumSubject, error) {
	prerequisites, err := s.repo.ListPrerequisites(ctx, curriculumSubjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list prerequisites")
	}
	return prerequisites, nil
}

// AddPrerequisite links a prerequisite after rejecting self-references,
// cross-curriculum links, duplicates and anything that would close a cycle.
func (s *CurriculumService) AddPrerequisite(ctx context.Context, req AddPrerequisiteRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid prerequisite payload")
	}
	if req.CurriculumSubjectID == req.PrerequisiteID {
		return appErrors.Clone(appErrors.ErrValidation, "a subject cannot be its own prerequisite")
	}

	subject, err := s.loadSubject(ctx, req.CurriculumSubjectID)
	if err != nil {
		return err
	}
	prerequisite, err := s.loadSubject(ctx, req.PrerequisiteID)
	if err != nil {
		return err
	}
	if subject.CurriculumID != prerequisite.CurriculumID {
		return appErrors.Clone(appErrors.ErrValidation, "prerequisite must belong to the same curriculum")
	}

	exists, err := s.repo.ExistsEdge(ctx, req.CurriculumSubjectID, req.PrerequisiteID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check prerequisite edge")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrDuplicate, "prerequisite already linked")
	}

	edges, err := s.repo.ListEdgesByCurriculum(ctx, subject.CurriculumID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisite graph")
	}
	if createsCycle(edges, req.CurriculumSubjectID, req.PrerequisiteID) {
		return appErrors.Clone(appErrors.ErrValidation,
			subject.SubjectCode+" cannot require "+prerequisite.SubjectCode+": it would create a prerequisite cycle")
	}

	if err := s.repo.AddEdge(ctx, models.PrerequisiteEdge{
		CurriculumSubjectID: req.CurriculumSubjectID,
		PrerequisiteID:      req.PrerequisiteID,
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add prerequisite")
	}
	return nil
}

// RemovePrerequisite unlinks a prerequisite edge.
func (s *CurriculumService) RemovePrerequisite(ctx context.Context, req AddPrerequisiteRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid prerequisite payload")
	}
	exists, err := s.repo.ExistsEdge(ctx, req.CurriculumSubjectID, req.PrerequisiteID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check prerequisite edge")
	}
	if !exists {
		return appErrors.Clone(appErrors.ErrNotFound, "prerequisite link not found")
	}
	if err := s.repo.RemoveEdge(ctx, models.PrerequisiteEdge{
		CurriculumSubjectID: req.CurriculumSubjectID,
		PrerequisiteID:      req.PrerequisiteID,
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove prerequisite")
	}
	return nil
}

func (s *CurriculumService) loadSubject(ctx context.Context, id string) (*models.CurriculumSubject, error) {
	subject, err := s.repo.FindSubjectByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "curriculum subject "+id+" not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load curriculum subject")
	}
	return subject, nil
}

// createsCycle reports whether adding subject->prerequisite would close a
// requires-cycle: it walks the existing edges from the prerequisite and
// checks whether the subject is already reachable.
func createsCycle(edges []models.PrerequisiteEdge, subjectID, prerequisiteID string) bool {
	requires := make(map[string][]string, len(edges))
	for _, edge := range edges {
		requires[edge.CurriculumSubjectID] = append(requires[edge.CurriculumSubjectID], edge.PrerequisiteID)
	}

	visited := make(map[string]bool)
	stack := []string{prerequisiteID}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == subjectID {
			return true
		}
		if visited[node] {
			continue
		}
		visited[node] = true
		stack = append(stack, requires[node]...)
	}
	return false
}
