package service

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acadsys/registrar-api/internal/models"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
	"github.com/acadsys/registrar-api/pkg/export"
)

type gradeRepository interface {
	SubmitBatch(ctx context.Context, scheduledSubjectID string, period models.GradePeriod, entries []models.GradeEntry, submittedBy string) error
	OverrideWithLog(ctx context.Context, log *models.GradeChangeLog) error
	ListChangeLogs(ctx context.Context, enrolledSubjectID string) ([]models.GradeChangeLog, error)
	ClassRows(ctx context.Context, scheduledSubjectID string) ([]models.ClassGradeRow, error)
}

type gradeScheduleRepository interface {
	FindDetailByID(ctx context.Context, id string) (*models.ScheduledSubjectDetail, error)
}

type gradeEnrollmentRepository interface {
	FindSubjectByID(ctx context.Context, id string) (*models.EnrolledSubject, error)
}

type gradeTermService interface {
	Get(ctx context.Context, id string) (*models.AcademicTerm, error)
	EnsureGradeWindowOpen(term *models.AcademicTerm, period models.GradePeriod, role models.UserRole) error
}

type gradeInstructorRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.Instructor, error)
}

type attachmentStore interface {
	Save(filename string, data []byte) (string, error)
}

// Actor identifies who is performing a grade operation.
type Actor struct {
	UserID string
	Role   models.UserRole
}

// SubmitGradesRequest carries a class's grades for one period.
type SubmitGradesRequest struct {
	GradePeriod models.GradePeriod  `json:"grade_period" validate:"required,oneof=MIDTERM FINAL"`
	Entries     []models.GradeEntry `json:"entries" validate:"required,min=1,dive"`
}

// OverrideGradeRequest is a registrar correction to a locked grade. The
// reason is mandatory; the attachment is optional supporting evidence.
type OverrideGradeRequest struct {
	GradePeriod    models.GradePeriod `json:"grade_period" validate:"required,oneof=MIDTERM FINAL"`
	NewGrade       float64            `json:"new_grade"`
	Reason         string             `json:"reason" validate:"required,min=10"`
	AttachmentName string             `json:"-"`
	Attachment     []byte             `json:"-"`
}

// ClassGradeSheet is one offering's roster with current grades.
type ClassGradeSheet struct {
	Offering models.ScheduledSubjectDetail `json:"offering"`
	Rows     []models.ClassGradeRow        `json:"rows"`
}

// GradeService runs the grade submission workflow: window-gated, locked on
// first submission, and corrected afterwards only through audited registrar
// overrides.
type GradeService struct {
	repo        gradeRepository
	schedules   gradeScheduleRepository
	enrollments gradeEnrollmentRepository
	instructors gradeInstructorRepository
	terms       gradeTermService
	attachments attachmentStore
	minGrade    float64
	maxGrade    float64
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewGradeService creates a new grade service instance.
func NewGradeService(
	repo gradeRepository,
	schedules gradeScheduleRepository,
	enrollments gradeEnrollmentRepository,
	instructors gradeInstructorRepository,
	terms gradeTermService,
	attachments attachmentStore,
	minGrade, maxGrade float64,
	validate *validator.Validate,
	logger *zap.Logger,
) *GradeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxGrade <= minGrade {
		minGrade, maxGrade = 0, 100
	}
	return &GradeService{
		repo:        repo,
		schedules:   schedules,
		enrollments: enrollments,
		instructors: instructors,
		terms:       terms,
		attachments: attachments,
		minGrade:    minGrade,
		maxGrade:    maxGrade,
		validator:   validate,
		logger:      logger,
	}
}

// Submit writes a class's grades for one period and locks the period. Only
// the offering's instructor may submit; registrars bypass both the window
// and the lock.
func (s *GradeService) Submit(ctx context.Context, scheduledSubjectID string, req SubmitGradesRequest, actor Actor) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	for _, entry := range req.Entries {
		if entry.Grade == nil {
			continue
		}
		if *entry.Grade < s.minGrade || *entry.Grade > s.maxGrade {
			return appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("grade %.2f is outside the %.0f-%.0f scale", *entry.Grade, s.minGrade, s.maxGrade))
		}
	}

	offering, err := s.schedules.FindDetailByID(ctx, scheduledSubjectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}

	if !actor.Role.IsRegistrar() {
		instructor, err := s.instructors.FindByUserID(ctx, actor.UserID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrForbidden, "only the assigned instructor may submit grades")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
		}
		if offering.InstructorID == nil || *offering.InstructorID != instructor.ID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the assigned instructor may submit grades")
		}
	}

	term, err := s.terms.Get(ctx, offering.AcademicTermID)
	if err != nil {
		return err
	}
	if err := s.terms.EnsureGradeWindowOpen(term, req.GradePeriod, actor.Role); err != nil {
		return err
	}

	submitted := offering.IsMidtermSubmitted()
	if req.GradePeriod == models.GradePeriodFinal {
		submitted = offering.IsFinalSubmitted()
	}
	if submitted && !actor.Role.IsRegistrar() {
		return appErrors.Clone(appErrors.ErrLocked, "grades for this period were already submitted")
	}

	// Registrar corrections never move the lock: the stamp stays with the
	// instructor's submission.
	stampBy := actor.UserID
	if actor.Role.IsRegistrar() {
		stampBy = ""
	}
	if err := s.repo.SubmitBatch(ctx, scheduledSubjectID, req.GradePeriod, req.Entries, stampBy); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit grades")
	}

	s.logger.Info("grades submitted",
		zap.String("scheduled_subject_id", scheduledSubjectID),
		zap.String("grade_period", string(req.GradePeriod)),
		zap.Int("entries", len(req.Entries)),
		zap.String("submitted_by", actor.UserID))
	return nil
}

// Override applies a registrar correction to a single grade and appends the
// audit record in the same transaction. Non-registrars are rejected before
// anything is loaded.
func (s *GradeService) Override(ctx context.Context, enrolledSubjectID string, req OverrideGradeRequest, actor Actor) (*models.GradeChangeLog, error) {
	if !actor.Role.IsRegistrar() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only a registrar may override grades")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid override payload")
	}
	if req.NewGrade < s.minGrade || req.NewGrade > s.maxGrade {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("grade %.2f is outside the %.0f-%.0f scale", req.NewGrade, s.minGrade, s.maxGrade))
	}

	if _, err := s.enrollments.FindSubjectByID(ctx, enrolledSubjectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrolled subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled subject")
	}

	var attachmentPath *string
	if len(req.Attachment) > 0 && s.attachments != nil {
		name := fmt.Sprintf("grade-changes/%s/%s%s", enrolledSubjectID, uuid.NewString(), filepath.Ext(req.AttachmentName))
		stored, err := s.attachments.Save(name, req.Attachment)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
		}
		attachmentPath = &stored
	}

	log := &models.GradeChangeLog{
		EnrolledSubjectID: enrolledSubjectID,
		GradePeriod:       req.GradePeriod,
		NewGrade:          req.NewGrade,
		Reason:            req.Reason,
		AttachmentPath:    attachmentPath,
		ModifiedBy:        actor.UserID,
	}
	if err := s.repo.OverrideWithLog(ctx, log); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrolled subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply grade override")
	}

	s.logger.Info("grade overridden",
		zap.String("enrolled_subject_id", enrolledSubjectID),
		zap.String("grade_period", string(req.GradePeriod)),
		zap.Float64("new_grade", req.NewGrade),
		zap.String("modified_by", actor.UserID))
	return log, nil
}

// ChangeLogs returns the audit trail of one enrolled subject.
func (s *GradeService) ChangeLogs(ctx context.Context, enrolledSubjectID string) ([]models.GradeChangeLog, error) {
	logs, err := s.repo.ListChangeLogs(ctx, enrolledSubjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade change logs")
	}
	return logs, nil
}

// ClassSheet returns one offering's roster with current grades.
func (s *GradeService) ClassSheet(ctx context.Context, scheduledSubjectID string) (*ClassGradeSheet, error) {
	offering, err := s.schedules.FindDetailByID(ctx, scheduledSubjectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}
	rows, err := s.repo.ClassRows(ctx, scheduledSubjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class grade rows")
	}
	return &ClassGradeSheet{Offering: *offering, Rows: rows}, nil
}

// ExportClassSheet renders a class grade sheet as CSV or PDF bytes.
func (s *GradeService) ExportClassSheet(ctx context.Context, scheduledSubjectID, format string) ([]byte, string, error) {
	sheet, err := s.ClassSheet(ctx, scheduledSubjectID)
	if err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{
		Headers: []string{"Official ID", "Student", "Status", "Midterm", "Final"},
	}
	for _, row := range sheet.Rows {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Official ID": row.OfficialID,
			"Student":     row.StudentName,
			"Status":      string(row.Status),
			"Midterm":     formatGrade(row.MidtermGrade),
			"Final":       formatGrade(row.FinalGrade),
		})
	}

	stamp := time.Now().UTC().Format("20060102")
	switch format {
	case "pdf":
		title := fmt.Sprintf("%s %s grade sheet", sheet.Offering.SubjectCode, sheet.Offering.SubjectTitle)
		payload, err := export.NewPDFExporter().Render(dataset, title)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return payload, fmt.Sprintf("grades-%s-%s.pdf", sheet.Offering.SubjectCode, stamp), nil
	case "csv", "":
		payload, err := export.NewCSVExporter().Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, fmt.Sprintf("grades-%s-%s.csv", sheet.Offering.SubjectCode, stamp), nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format: "+format)
	}
}

func formatGrade(grade *float64) string {
	if grade == nil {
		return ""
	}
	return strconv.FormatFloat(*grade, 'f', 2, 64)
}
