package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/acadsys/registrar-api/internal/models"
	"github.com/acadsys/registrar-api/internal/repository"
	"github.com/acadsys/registrar-api/internal/timetable"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
)

type scheduleRepository interface {
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduledSubjectDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.ScheduledSubject, error)
	FindDetailByID(ctx context.Context, id string) (*models.ScheduledSubjectDetail, error)
	ListByBlockAndTerm(ctx context.Context, blockID, termID, excludeID string) ([]models.ScheduledSubject, error)
	ListByInstructorAndTerm(ctx context.Context, instructorID, termID, excludeID string) ([]models.ScheduledSubject, error)
	ListByRoomAndTerm(ctx context.Context, room, termID, excludeID string) ([]models.ScheduledSubject, error)
	ExistsOffering(ctx context.Context, blockID, termID, curriculumSubjectID, excludeID string) (bool, error)
	Create(ctx context.Context, offering *models.ScheduledSubject, validate func(ctx context.Context, slots repository.SlotScan) error) error
	Update(ctx context.Context, offering *models.ScheduledSubject, validate func(ctx context.Context, slots repository.SlotScan) error) error
	Delete(ctx context.Context, id string) error
}

type scheduleCurriculumRepository interface {
	FindSubjectByID(ctx context.Context, id string) (*models.CurriculumSubject, error)
}

// CreateScheduleRequest describes payload for publishing a class offering.
type CreateScheduleRequest struct {
	AcademicTermID      string  `json:"academic_term_id" validate:"required"`
	BlockID             string  `json:"block_id" validate:"required"`
	InstructorID        *string `json:"instructor_id"`
	CurriculumSubjectID string  `json:"curriculum_subject_id" validate:"required"`
	Day                 string  `json:"day" validate:"required"`
	Room                string  `json:"room" validate:"required"`
	TimeStart           string  `json:"time_start" validate:"required"`
	TimeEnd             string  `json:"time_end" validate:"required"`
}

// UpdateScheduleRequest updates an offering's timetable slot.
type UpdateScheduleRequest struct {
	InstructorID *string `json:"instructor_id"`
	Day          string  `json:"day" validate:"required"`
	Room         string  `json:"room" validate:"required"`
	TimeStart    string  `json:"time_start" validate:"required"`
	TimeEnd      string  `json:"time_end" validate:"required"`
}

// ConflictFinding reports one timetable collision discovered during a
// conflict scan.
type ConflictFinding struct {
	Dimension          models.ConflictDimension `json:"dimension"`
	ScheduledSubjectID string                   `json:"scheduled_subject_id"`
}

// ScheduleService publishes class offerings and runs the three-dimensional
// conflict scan: a slot must be free for the block, the instructor and the
// room independently.
type ScheduleService struct {
	repo       scheduleRepository
	curriculum scheduleCurriculumRepository
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewScheduleService creates a new schedule service instance.
func NewScheduleService(repo scheduleRepository, curriculum scheduleCurriculumRepository, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{repo: repo, curriculum: curriculum, validator: validate, logger: logger}
}

// List returns paginated offerings with catalog context.
func (s *ScheduleService) List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduledSubjectDetail, *models.Pagination, error) {
	offerings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list offerings")
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
	return offerings, pagination, nil
}

// Get returns one offering with catalog context.
func (s *ScheduleService) Get(ctx context.Context, id string) (*models.ScheduledSubjectDetail, error) {
	offering, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}
	return offering, nil
}

// Create publishes a new offering. The duplicate guard and the conflict
// scan run inside the repository's write transaction, after it has locked
// the offering's block/instructor/room scopes, so two racing writers for
// the same slot get exactly one winner.
func (s *ScheduleService) Create(ctx context.Context, req CreateScheduleRequest) (*models.ScheduledSubject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid offering payload")
	}

	candidate, err := timetable.ParseAssignment(req.Day, req.TimeStart, req.TimeEnd)
	if err != nil {
		return nil, err
	}

	if _, err := s.curriculum.FindSubjectByID(ctx, req.CurriculumSubjectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "curriculum subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load curriculum subject")
	}

	offering := &models.ScheduledSubject{
		AcademicTermID:      req.AcademicTermID,
		BlockID:             req.BlockID,
		InstructorID:        req.InstructorID,
		CurriculumSubjectID: req.CurriculumSubjectID,
		Day:                 req.Day,
		Room:                req.Room,
		TimeStart:           req.TimeStart,
		TimeEnd:             req.TimeEnd,
	}

	err = s.repo.Create(ctx, offering, func(ctx context.Context, slots repository.SlotScan) error {
		return s.guardSlot(ctx, slots, offering, candidate, "")
	})
	if err != nil {
		return nil, writeError(err, "failed to create offering")
	}
	return offering, nil
}

// Update moves an offering to a new slot. The conflict scan re-runs inside
// the write transaction with the offering itself excluded.
func (s *ScheduleService) Update(ctx context.Context, id string, req UpdateScheduleRequest) (*models.ScheduledSubject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid offering payload")
	}

	candidate, err := timetable.ParseAssignment(req.Day, req.TimeStart, req.TimeEnd)
	if err != nil {
		return nil, err
	}

	offering, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}

	offering.InstructorID = req.InstructorID
	offering.Day = req.Day
	offering.Room = req.Room
	offering.TimeStart = req.TimeStart
	offering.TimeEnd = req.TimeEnd

	err = s.repo.Update(ctx, offering, func(ctx context.Context, slots repository.SlotScan) error {
		return s.guardSlot(ctx, slots, offering, candidate, id)
	})
	if err != nil {
		return nil, writeError(err, "failed to update offering")
	}
	return offering, nil
}

// guardSlot is the eligibility pass a write must clear: the duplicate
// offering guard, then the three-dimension conflict scan. It runs against
// whatever SlotScan the caller is holding, which for Create and Update is
// the write transaction itself.
func (s *ScheduleService) guardSlot(ctx context.Context, slots repository.SlotScan, offering *models.ScheduledSubject, candidate timetable.Assignment, excludeID string) error {
	duplicate, err := slots.ExistsOffering(ctx, offering.BlockID, offering.AcademicTermID, offering.CurriculumSubjectID, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check duplicate offering")
	}
	if duplicate {
		return appErrors.Clone(appErrors.ErrDuplicate, "subject is already offered to this block in this term")
	}

	findings, err := s.scanConflicts(ctx, slots, offering, candidate, excludeID)
	if err != nil {
		return err
	}
	if len(findings) > 0 {
		return conflictError(findings)
	}
	return nil
}

// writeError passes typed rejections from the in-transaction validate pass
// through untouched and wraps everything else as internal.
func writeError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// Delete removes an offering.
func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete offering")
	}
	return nil
}

// CheckConflict runs the conflict scan for a prospective slot without
// persisting anything. Registrars use it to probe slots while building the
// term schedule.
func (s *ScheduleService) CheckConflict(ctx context.Context, req CreateScheduleRequest) ([]ConflictFinding, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid offering payload")
	}
	candidate, err := timetable.ParseAssignment(req.Day, req.TimeStart, req.TimeEnd)
	if err != nil {
		return nil, err
	}
	probe := &models.ScheduledSubject{
		AcademicTermID: req.AcademicTermID,
		BlockID:        req.BlockID,
		InstructorID:   req.InstructorID,
		Room:           req.Room,
	}
	return s.scanConflicts(ctx, s.repo, probe, candidate, "")
}

// scanConflicts checks the block, instructor and room dimensions
// independently. Every collision is reported, not just the first.
func (s *ScheduleService) scanConflicts(ctx context.Context, slots repository.SlotScan, offering *models.ScheduledSubject, candidate timetable.Assignment, excludeID string) ([]ConflictFinding, error) {
	var findings []ConflictFinding

	blockRows, err := slots.ListByBlockAndTerm(ctx, offering.BlockID, offering.AcademicTermID, excludeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load block schedule")
	}
	findings = append(findings, collideAll(candidate, blockRows, models.ConflictDimensionBlock)...)

	if offering.InstructorID != nil && *offering.InstructorID != "" {
		instructorRows, err := slots.ListByInstructorAndTerm(ctx, *offering.InstructorID, offering.AcademicTermID, excludeID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor schedule")
		}
		findings = append(findings, collideAll(candidate, instructorRows, models.ConflictDimensionInstructor)...)
	}

	roomRows, err := slots.ListByRoomAndTerm(ctx, offering.Room, offering.AcademicTermID, excludeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room schedule")
	}
	findings = append(findings, collideAll(candidate, roomRows, models.ConflictDimensionRoom)...)

	return findings, nil
}

func collideAll(candidate timetable.Assignment, rows []models.ScheduledSubject, dimension models.ConflictDimension) []ConflictFinding {
	var findings []ConflictFinding
	for _, row := range rows {
		existing, err := timetable.ParseAssignment(row.Day, row.TimeStart, row.TimeEnd)
		if err != nil {
			// Rows were validated on write; an unparsable row is treated as
			// occupying the whole candidate slot.
			findings = append(findings, ConflictFinding{Dimension: dimension, ScheduledSubjectID: row.ID})
			continue
		}
		if timetable.Conflicts(candidate, []timetable.Assignment{existing}) {
			findings = append(findings, ConflictFinding{Dimension: dimension, ScheduledSubjectID: row.ID})
		}
	}
	return findings
}

func conflictError(findings []ConflictFinding) error {
	first := findings[0]
	msg := fmt.Sprintf("schedule conflict on %s with offering %s", first.Dimension, first.ScheduledSubjectID)
	return appErrors.Clone(appErrors.ErrScheduleConflict, msg)
}
