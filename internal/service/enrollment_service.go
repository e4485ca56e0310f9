package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/acadsys/registrar-api/internal/models"
	"github.com/acadsys/registrar-api/internal/repository"
	"github.com/acadsys/registrar-api/internal/timetable"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
	"github.com/acadsys/registrar-api/pkg/export"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ExistsByStudentTerm(ctx context.Context, studentID, termID string) (bool, error)
	CreateWithSubjects(ctx context.Context, enrollment *models.Enrollment, scheduledSubjectIDs []string) error
	FindSubjectByID(ctx context.Context, id string) (*models.EnrolledSubject, error)
	ListSubjectsByEnrollment(ctx context.Context, enrollmentID string) ([]models.EnrolledSubjectDetail, error)
	SumActiveUnits(ctx context.Context, enrollmentID string) (int, error)
	ExistsActiveSubject(ctx context.Context, enrollmentID, scheduledSubjectID string) (bool, error)
	AddSubject(ctx context.Context, subject *models.EnrolledSubject, validate func(ctx context.Context, guard repository.EnrollmentGuard) error) error
	DeleteSubject(ctx context.Context, id string) error
	UpdateSubjectStatus(ctx context.Context, id string, status models.EnrolledSubjectStatus) error
	HasCompletedSubject(ctx context.Context, studentID, curriculumSubjectID string, passingGrade float64) (bool, error)
}

type enrollmentScheduleRepository interface {
	FindDetailByID(ctx context.Context, id string) (*models.ScheduledSubjectDetail, error)
}

type enrollmentCurriculumRepository interface {
	ListPrerequisites(ctx context.Context, curriculumSubjectID string) ([]models.CurriculumSubject, error)
}

type enrollmentStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type enrollmentTermService interface {
	Get(ctx context.Context, id string) (*models.AcademicTerm, error)
	EnsureEnrollmentOpen(term *models.AcademicTerm, role models.UserRole) error
	EnrollmentWindowOpen(term *models.AcademicTerm) bool
}

// CreateEnrollmentRequest registers a student into a term with an initial
// batch of subjects.
type CreateEnrollmentRequest struct {
	StudentID           string   `json:"student_id" validate:"required"`
	AcademicTermID      string   `json:"academic_term_id" validate:"required"`
	BlockID             string   `json:"block_id" validate:"required"`
	YearLevel           int      `json:"year_level" validate:"required,min=1,max=6"`
	ScheduledSubjectIDs []string `json:"scheduled_subject_ids" validate:"required,min=1,dive,required"`
}

// AddSubjectRequest appends one subject to an existing enrollment.
type AddSubjectRequest struct {
	ScheduledSubjectID string `json:"scheduled_subject_id" validate:"required"`
}

// EnrollmentDetail bundles an enrollment with its subject rows.
type EnrollmentDetail struct {
	Enrollment models.Enrollment              `json:"enrollment"`
	Subjects   []models.EnrolledSubjectDetail `json:"subjects"`
}

// EnrollmentService runs the enrollment eligibility pipeline. Every subject
// in a request must clear the window gate, the duplicate guard, its
// prerequisites, the self-conflict scan and the unit cap before anything is
// committed; a batch either lands whole or not at all.
type EnrollmentService struct {
	repo         enrollmentRepository
	schedules    enrollmentScheduleRepository
	curriculum   enrollmentCurriculumRepository
	students     enrollmentStudentRepository
	terms        enrollmentTermService
	maxUnits     int
	passingGrade float64
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewEnrollmentService creates a new enrollment service instance.
func NewEnrollmentService(
	repo enrollmentRepository,
	schedules enrollmentScheduleRepository,
	curriculum enrollmentCurriculumRepository,
	students enrollmentStudentRepository,
	terms enrollmentTermService,
	maxUnits int,
	passingGrade float64,
	validate *validator.Validate,
	logger *zap.Logger,
) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxUnits <= 0 {
		maxUnits = 24
	}
	return &EnrollmentService{
		repo:         repo,
		schedules:    schedules,
		curriculum:   curriculum,
		students:     students,
		terms:        terms,
		maxUnits:     maxUnits,
		passingGrade: passingGrade,
		validator:    validate,
		logger:       logger,
	}
}

// List returns paginated enrollments.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
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
	return enrollments, pagination, nil
}

// Get returns one enrollment with its subject rows. Student actors may only
// read their own enrollment.
func (s *EnrollmentService) Get(ctx context.Context, id string, actor Actor) (*EnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if err := s.ensureOwnership(ctx, actor, enrollment.StudentID); err != nil {
		return nil, err
	}

	subjects, err := s.repo.ListSubjectsByEnrollment(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled subjects")
	}

	return &EnrollmentDetail{Enrollment: *enrollment, Subjects: subjects}, nil
}

// ensureOwnership restricts student actors to the enrollment rows of their
// own student record. Staff roles pass through.
func (s *EnrollmentService) ensureOwnership(ctx context.Context, actor Actor, studentID string) error {
	if actor.Role != models.RoleStudent {
		return nil
	}
	student, err := s.students.FindByUserID(ctx, actor.UserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrForbidden, "no student record for this account")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student record")
	}
	if student.ID != studentID {
		return appErrors.Clone(appErrors.ErrForbidden, "students may only act on their own enrollment")
	}
	return nil
}

// ExportRegistrationForm renders an enrollment's registration form as CSV or
// PDF bytes with a suggested filename.
func (s *EnrollmentService) ExportRegistrationForm(ctx context.Context, id, format string, actor Actor) ([]byte, string, error) {
	detail, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{
		Headers: []string{"Code", "Title", "Units", "Day", "Time", "Status"},
	}
	totalUnits := 0
	for _, subject := range detail.Subjects {
		if subject.Status != models.EnrolledSubjectStatusDropped {
			totalUnits += subject.Units
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Code":   subject.SubjectCode,
			"Title":  subject.SubjectTitle,
			"Units":  strconv.Itoa(subject.Units),
			"Day":    subject.Day,
			"Time":   subject.TimeStart + "-" + subject.TimeEnd,
			"Status": string(subject.Status),
		})
	}
	dataset.Rows = append(dataset.Rows, map[string]string{
		"Code":  "TOTAL",
		"Units": strconv.Itoa(totalUnits),
	})

	stamp := time.Now().UTC().Format("20060102")
	switch format {
	case "pdf":
		title := fmt.Sprintf("Registration form %s", detail.Enrollment.ID)
		payload, err := export.NewPDFExporter().Render(dataset, title)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return payload, fmt.Sprintf("registration-%s-%s.pdf", detail.Enrollment.ID, stamp), nil
	case "csv", "":
		payload, err := export.NewCSVExporter().Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, fmt.Sprintf("registration-%s-%s.csv", detail.Enrollment.ID, stamp), nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format: "+format)
	}
}

// Create runs the full eligibility pipeline and commits the enrollment
// atomically. The actor's role decides whether the enrollment window is
// enforced; a student actor may only enroll their own student record.
func (s *EnrollmentService) Create(ctx context.Context, req CreateEnrollmentRequest, actor Actor) (*EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	if err := s.ensureOwnership(ctx, actor, req.StudentID); err != nil {
		return nil, err
	}

	term, err := s.terms.Get(ctx, req.AcademicTermID)
	if err != nil {
		return nil, err
	}
	if err := s.terms.EnsureEnrollmentOpen(term, actor.Role); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByStudentTerm(ctx, req.StudentID, req.AcademicTermID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicate, "student is already enrolled in this term")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	var (
		accepted    []timetable.Assignment
		totalUnits  int
		seenSubject = make(map[string]bool, len(req.ScheduledSubjectIDs))
	)
	for _, offeringID := range req.ScheduledSubjectIDs {
		if seenSubject[offeringID] {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "offering "+offeringID+" appears more than once")
		}
		seenSubject[offeringID] = true

		offering, err := s.loadOffering(ctx, offeringID, req.AcademicTermID)
		if err != nil {
			return nil, err
		}

		if err := s.ensurePrerequisites(ctx, student.ID, offering); err != nil {
			return nil, err
		}

		assignment, err := timetable.ParseAssignment(offering.Day, offering.TimeStart, offering.TimeEnd)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "offering has an invalid timetable slot")
		}
		if timetable.Conflicts(assignment, accepted) {
			return nil, appErrors.Clone(appErrors.ErrScheduleConflict,
				fmt.Sprintf("%s overlaps another subject in this enrollment", offering.SubjectCode))
		}
		accepted = append(accepted, assignment)

		totalUnits += offering.Units
		if totalUnits > s.maxUnits {
			return nil, appErrors.Clone(appErrors.ErrUnitCapExceeded,
				fmt.Sprintf("enrollment exceeds the %d-unit ceiling", s.maxUnits))
		}
	}

	enrollment := &models.Enrollment{
		StudentID:      req.StudentID,
		AcademicTermID: req.AcademicTermID,
		BlockID:        req.BlockID,
		YearLevel:      req.YearLevel,
		Status:         models.EnrollmentStatusEnrolled,
	}

	if err := s.repo.CreateWithSubjects(ctx, enrollment, req.ScheduledSubjectIDs); err != nil {
		if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrDuplicate.Code {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit enrollment")
	}

	subjects, err := s.repo.ListSubjectsByEnrollment(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled subjects")
	}

	s.logger.Info("enrollment committed",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", enrollment.StudentID),
		zap.Int("subjects", len(subjects)),
		zap.Int("units", totalUnits))

	return &EnrollmentDetail{Enrollment: *enrollment, Subjects: subjects}, nil
}

// AddSubject appends one subject to an existing enrollment. The duplicate,
// self-conflict and unit-cap checks run inside the repository's add
// transaction, after it has locked the enrollment row, so two concurrent
// adds are checked one after the other against committed rows.
func (s *EnrollmentService) AddSubject(ctx context.Context, enrollmentID string, req AddSubjectRequest, actor Actor) (*models.EnrolledSubject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}

	enrollment, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if err := s.ensureOwnership(ctx, actor, enrollment.StudentID); err != nil {
		return nil, err
	}

	term, err := s.terms.Get(ctx, enrollment.AcademicTermID)
	if err != nil {
		return nil, err
	}
	if err := s.terms.EnsureEnrollmentOpen(term, actor.Role); err != nil {
		return nil, err
	}

	offering, err := s.loadOffering(ctx, req.ScheduledSubjectID, enrollment.AcademicTermID)
	if err != nil {
		return nil, err
	}

	if err := s.ensurePrerequisites(ctx, enrollment.StudentID, offering); err != nil {
		return nil, err
	}

	candidate, err := timetable.ParseAssignment(offering.Day, offering.TimeStart, offering.TimeEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "offering has an invalid timetable slot")
	}

	subject := &models.EnrolledSubject{
		EnrollmentID:       enrollmentID,
		ScheduledSubjectID: req.ScheduledSubjectID,
		Status:             models.EnrolledSubjectStatusEnrolled,
	}
	err = s.repo.AddSubject(ctx, subject, func(ctx context.Context, guard repository.EnrollmentGuard) error {
		return s.guardAddition(ctx, guard, enrollmentID, offering, candidate)
	})
	if err != nil {
		return nil, writeError(err, "failed to add enrolled subject")
	}
	return subject, nil
}

// guardAddition is the eligibility pass an add must clear against the rows
// already committed: the duplicate guard, the self-conflict scan and the
// unit cap. It runs on the guard the repository hands it, which during
// AddSubject is the write transaction holding the enrollment row lock.
func (s *EnrollmentService) guardAddition(ctx context.Context, guard repository.EnrollmentGuard, enrollmentID string, offering *models.ScheduledSubjectDetail, candidate timetable.Assignment) error {
	duplicate, err := guard.ExistsActiveSubject(ctx, enrollmentID, offering.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrolled subject")
	}
	if duplicate {
		return appErrors.Clone(appErrors.ErrDuplicate, "subject already enrolled")
	}

	current, err := guard.ListSubjectsByEnrollment(ctx, enrollmentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled subjects")
	}
	var active []timetable.Assignment
	for _, row := range current {
		if row.Status == models.EnrolledSubjectStatusDropped {
			continue
		}
		assignment, err := timetable.ParseAssignment(row.Day, row.TimeStart, row.TimeEnd)
		if err != nil {
			continue
		}
		active = append(active, assignment)
	}
	if timetable.Conflicts(candidate, active) {
		return appErrors.Clone(appErrors.ErrScheduleConflict,
			fmt.Sprintf("%s overlaps an enrolled subject", offering.SubjectCode))
	}

	units, err := guard.SumActiveUnits(ctx, enrollmentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum enrolled units")
	}
	if units+offering.Units > s.maxUnits {
		return appErrors.Clone(appErrors.ErrUnitCapExceeded,
			fmt.Sprintf("enrollment exceeds the %d-unit ceiling", s.maxUnits))
	}
	return nil
}

// DropSubject removes a subject from an enrollment. A graded row can never
// be dropped, and a student actor can only drop rows on their own
// enrollment. While the enrollment window is open the row is hard-deleted;
// afterwards only a registrar may drop, and the row is kept as DROPPED.
func (s *EnrollmentService) DropSubject(ctx context.Context, enrollmentID, subjectID string, actor Actor) error {
	enrollment, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if err := s.ensureOwnership(ctx, actor, enrollment.StudentID); err != nil {
		return err
	}

	subject, err := s.repo.FindSubjectByID(ctx, subjectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "enrolled subject not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled subject")
	}
	if subject.EnrollmentID != enrollmentID {
		return appErrors.Clone(appErrors.ErrNotFound, "enrolled subject not found")
	}

	if subject.HasAnyGrade() {
		return appErrors.Clone(appErrors.ErrLocked, "subject already has grades recorded")
	}

	term, err := s.terms.Get(ctx, enrollment.AcademicTermID)
	if err != nil {
		return err
	}

	if s.terms.EnrollmentWindowOpen(term) {
		if err := s.repo.DeleteSubject(ctx, subjectID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrolled subject")
		}
		return nil
	}

	if actor.Role.IsRegistrar() {
		// Late drops keep the row as an audit trail instead of erasing it.
		if err := s.repo.UpdateSubjectStatus(ctx, subjectID, models.EnrolledSubjectStatusDropped); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrolled subject")
		}
		return nil
	}

	return appErrors.Clone(appErrors.ErrPeriodClosed, "enrollment period is closed")
}

func (s *EnrollmentService) loadOffering(ctx context.Context, offeringID, termID string) (*models.ScheduledSubjectDetail, error) {
	offering, err := s.schedules.FindDetailByID(ctx, offeringID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering "+offeringID+" not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}
	if offering.AcademicTermID != termID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "offering "+offeringID+" belongs to another term")
	}
	return offering, nil
}

// ensurePrerequisites verifies every direct prerequisite of the offering's
// curriculum subject is completed with a passing final grade.
func (s *EnrollmentService) ensurePrerequisites(ctx context.Context, studentID string, offering *models.ScheduledSubjectDetail) error {
	prerequisites, err := s.curriculum.ListPrerequisites(ctx, offering.CurriculumSubjectID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	for _, prerequisite := range prerequisites {
		completed, err := s.repo.HasCompletedSubject(ctx, studentID, prerequisite.ID, s.passingGrade)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check prerequisite completion")
		}
		if !completed {
			return appErrors.Clone(appErrors.ErrPrerequisiteUnmet,
				fmt.Sprintf("%s requires %s", offering.SubjectCode, prerequisite.SubjectCode))
		}
	}
	return nil
}
