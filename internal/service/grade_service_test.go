package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acadsys/registrar-api/internal/models"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
)

type mockGradeRepo struct {
	submissions []submittedBatch
	logs        []models.GradeChangeLog
	rows        []models.ClassGradeRow
	overrideErr error
}

type submittedBatch struct {
	scheduledSubjectID string
	period             models.GradePeriod
	entries            []models.GradeEntry
	submittedBy        string
}

func (m *mockGradeRepo) SubmitBatch(ctx context.Context, scheduledSubjectID string, period models.GradePeriod, entries []models.GradeEntry, submittedBy string) error {
	m.submissions = append(m.submissions, submittedBatch{scheduledSubjectID, period, entries, submittedBy})
	return nil
}

func (m *mockGradeRepo) OverrideWithLog(ctx context.Context, log *models.GradeChangeLog) error {
	if m.overrideErr != nil {
		return m.overrideErr
	}
	log.ID = "log-new"
	old := 60.0
	log.OldGrade = &old
	m.logs = append(m.logs, *log)
	return nil
}

func (m *mockGradeRepo) ListChangeLogs(ctx context.Context, enrolledSubjectID string) ([]models.GradeChangeLog, error) {
	return m.logs, nil
}

func (m *mockGradeRepo) ClassRows(ctx context.Context, scheduledSubjectID string) ([]models.ClassGradeRow, error) {
	return m.rows, nil
}

type mockInstructorRepo struct {
	byUser map[string]*models.Instructor
}

func (m *mockInstructorRepo) FindByUserID(ctx context.Context, userID string) (*models.Instructor, error) {
	if instructor, ok := m.byUser[userID]; ok {
		return instructor, nil
	}
	return nil, sql.ErrNoRows
}

type mockGradeTermGate struct {
	term       *models.AcademicTerm
	windowOpen bool
}

func (m *mockGradeTermGate) Get(ctx context.Context, id string) (*models.AcademicTerm, error) {
	return m.term, nil
}

func (m *mockGradeTermGate) EnsureGradeWindowOpen(term *models.AcademicTerm, period models.GradePeriod, role models.UserRole) error {
	if role.IsRegistrar() || m.windowOpen {
		return nil
	}
	return appErrors.Clone(appErrors.ErrPeriodClosed, "grade submission period is closed")
}

type mockAttachmentStore struct {
	saved map[string][]byte
}

func (m *mockAttachmentStore) Save(filename string, data []byte) (string, error) {
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[filename] = data
	return filename, nil
}

type gradeFixture struct {
	repo        *mockGradeRepo
	offerings   *mockOfferingRepo
	enrollments *mockEnrollmentRepo
	instructors *mockInstructorRepo
	terms       *mockGradeTermGate
	store       *mockAttachmentStore
	svc         *GradeService
}

func newGradeFixture() *gradeFixture {
	instructorID := "inst-1"
	off := offering("off-1", "term-1", "cs-1", "MATH101", "MWF", "08:00", "09:00", 3)
	off.InstructorID = &instructorID

	f := &gradeFixture{
		repo:      &mockGradeRepo{},
		offerings: &mockOfferingRepo{offerings: map[string]*models.ScheduledSubjectDetail{"off-1": off}},
		enrollments: &mockEnrollmentRepo{subjects: map[string]*models.EnrolledSubject{
			"es-1": {ID: "es-1", EnrollmentID: "enr-1", ScheduledSubjectID: "off-1", Status: models.EnrolledSubjectStatusEnrolled},
		}},
		instructors: &mockInstructorRepo{byUser: map[string]*models.Instructor{
			"user-inst": {ID: "inst-1", UserID: "user-inst"},
			"user-othr": {ID: "inst-2", UserID: "user-othr"},
		}},
		terms: &mockGradeTermGate{term: &models.AcademicTerm{ID: "term-1"}, windowOpen: true},
		store: &mockAttachmentStore{},
	}
	f.svc = NewGradeService(f.repo, f.offerings, f.enrollments, f.instructors, f.terms, f.store, 0, 100, validator.New(), zap.NewNop())
	return f
}

func gradeBatch(value float64) SubmitGradesRequest {
	return SubmitGradesRequest{
		GradePeriod: models.GradePeriodMidterm,
		Entries:     []models.GradeEntry{{EnrolledSubjectID: "es-1", Grade: &value}},
	}
}

func TestGradeSubmitByAssignedInstructor(t *testing.T) {
	f := newGradeFixture()

	err := f.svc.Submit(context.Background(), "off-1", gradeBatch(88), Actor{UserID: "user-inst", Role: models.RoleInstructor})
	require.NoError(t, err)
	require.Len(t, f.repo.submissions, 1)
	assert.Equal(t, models.GradePeriodMidterm, f.repo.submissions[0].period)
	assert.Equal(t, "user-inst", f.repo.submissions[0].submittedBy)
}

func TestGradeSubmitRejectsForeignInstructor(t *testing.T) {
	f := newGradeFixture()

	err := f.svc.Submit(context.Background(), "off-1", gradeBatch(88), Actor{UserID: "user-othr", Role: models.RoleInstructor})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.repo.submissions)
}

func TestGradeSubmitRejectsUnknownInstructorAccount(t *testing.T) {
	f := newGradeFixture()

	err := f.svc.Submit(context.Background(), "off-1", gradeBatch(88), Actor{UserID: "user-ghost", Role: models.RoleInstructor})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestGradeSubmitRejectsOutOfScaleGrade(t *testing.T) {
	f := newGradeFixture()

	err := f.svc.Submit(context.Background(), "off-1", gradeBatch(120), Actor{UserID: "user-inst", Role: models.RoleInstructor})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestGradeSubmitClosedWindow(t *testing.T) {
	f := newGradeFixture()
	f.terms.windowOpen = false

	err := f.svc.Submit(context.Background(), "off-1", gradeBatch(88), Actor{UserID: "user-inst", Role: models.RoleInstructor})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPeriodClosed.Code, appErrors.FromError(err).Code)
}

func TestGradeSubmitLockedAfterFirstSubmission(t *testing.T) {
	f := newGradeFixture()
	submittedAt := time.Now()
	f.offerings.offerings["off-1"].MidtermSubmittedAt = &submittedAt

	err := f.svc.Submit(context.Background(), "off-1", gradeBatch(88), Actor{UserID: "user-inst", Role: models.RoleInstructor})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrLocked.Code, appErrors.FromError(err).Code)
}

func TestGradeSubmitRegistrarBypassesLockAndWindow(t *testing.T) {
	f := newGradeFixture()
	submittedAt := time.Now()
	f.offerings.offerings["off-1"].MidtermSubmittedAt = &submittedAt
	f.terms.windowOpen = false

	err := f.svc.Submit(context.Background(), "off-1", gradeBatch(88), Actor{UserID: "user-reg", Role: models.RoleRegistrar})
	require.NoError(t, err)
	require.Len(t, f.repo.submissions, 1)
	// A registrar correction never claims the submission stamp.
	assert.Empty(t, f.repo.submissions[0].submittedBy)
}

func TestGradeSubmitFinalLockIndependentOfMidterm(t *testing.T) {
	f := newGradeFixture()
	submittedAt := time.Now()
	f.offerings.offerings["off-1"].MidtermSubmittedAt = &submittedAt

	value := 91.0
	err := f.svc.Submit(context.Background(), "off-1", SubmitGradesRequest{
		GradePeriod: models.GradePeriodFinal,
		Entries:     []models.GradeEntry{{EnrolledSubjectID: "es-1", Grade: &value}},
	}, Actor{UserID: "user-inst", Role: models.RoleInstructor})
	require.NoError(t, err)
}

func TestGradeOverrideRequiresRegistrar(t *testing.T) {
	f := newGradeFixture()

	_, err := f.svc.Override(context.Background(), "es-1", OverrideGradeRequest{
		GradePeriod: models.GradePeriodMidterm,
		NewGrade:    90,
		Reason:      "encoding mistake on the sheet",
	}, Actor{UserID: "user-inst", Role: models.RoleInstructor})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.repo.logs)
}

func TestGradeOverrideAppendsAuditLog(t *testing.T) {
	f := newGradeFixture()

	log, err := f.svc.Override(context.Background(), "es-1", OverrideGradeRequest{
		GradePeriod: models.GradePeriodFinal,
		NewGrade:    90,
		Reason:      "encoding mistake on the sheet",
	}, Actor{UserID: "user-reg", Role: models.RoleRegistrar})
	require.NoError(t, err)
	assert.Equal(t, "log-new", log.ID)
	require.NotNil(t, log.OldGrade)
	assert.Equal(t, 60.0, *log.OldGrade)
	assert.Equal(t, "user-reg", log.ModifiedBy)
	require.Len(t, f.repo.logs, 1)
}

func TestGradeOverrideRequiresReason(t *testing.T) {
	f := newGradeFixture()

	_, err := f.svc.Override(context.Background(), "es-1", OverrideGradeRequest{
		GradePeriod: models.GradePeriodFinal,
		NewGrade:    90,
	}, Actor{UserID: "user-reg", Role: models.RoleRegistrar})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestGradeOverrideStoresAttachment(t *testing.T) {
	f := newGradeFixture()

	log, err := f.svc.Override(context.Background(), "es-1", OverrideGradeRequest{
		GradePeriod:    models.GradePeriodFinal,
		NewGrade:       90,
		Reason:         "appeal approved by the department",
		AttachmentName: "appeal.pdf",
		Attachment:     []byte("%PDF-1.4"),
	}, Actor{UserID: "user-reg", Role: models.RoleRegistrar})
	require.NoError(t, err)
	require.NotNil(t, log.AttachmentPath)
	assert.True(t, strings.HasPrefix(*log.AttachmentPath, "grade-changes/es-1/"))
	assert.True(t, strings.HasSuffix(*log.AttachmentPath, ".pdf"))
	assert.Len(t, f.store.saved, 1)
}

func TestGradeOverrideUnknownSubject(t *testing.T) {
	f := newGradeFixture()

	_, err := f.svc.Override(context.Background(), "es-missing", OverrideGradeRequest{
		GradePeriod: models.GradePeriodFinal,
		NewGrade:    90,
		Reason:      "encoding mistake on the sheet",
	}, Actor{UserID: "user-reg", Role: models.RoleRegistrar})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestGradeExportClassSheetCSV(t *testing.T) {
	f := newGradeFixture()
	midterm := 85.5
	f.repo.rows = []models.ClassGradeRow{
		{EnrolledSubjectID: "es-1", OfficialID: "2025-0001", StudentName: "Cruz, Ana", Status: models.EnrolledSubjectStatusEnrolled, MidtermGrade: &midterm},
	}

	payload, filename, err := f.svc.ExportClassSheet(context.Background(), "off-1", "csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filename, "grades-MATH101-"))
	assert.True(t, strings.HasSuffix(filename, ".csv"))
	content := string(payload)
	assert.Contains(t, content, "Official ID")
	assert.Contains(t, content, "2025-0001")
	assert.Contains(t, content, "85.50")
}

func TestGradeExportRejectsUnknownFormat(t *testing.T) {
	f := newGradeFixture()

	_, _, err := f.svc.ExportClassSheet(context.Background(), "off-1", "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
