package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acadsys/registrar-api/internal/models"
)

const scheduledSubjectColumns = `ss.id, ss.academic_term_id, ss.block_id, ss.instructor_id, ss.curriculum_subject_id,
        ss.day, ss.room, ss.time_start, ss.time_end,
        ss.midterm_submitted_at, ss.midterm_submitted_by, ss.final_submitted_at, ss.final_submitted_by,
        ss.created_at, ss.updated_at`

// SlotScan exposes the reads a conflict check runs against the term
// schedule. The pool-backed repository satisfies it for advisory checks;
// Create and Update hand their validate callback a transaction-backed one,
// so the same scan re-runs against rows visible inside the write's
// transaction.
type SlotScan interface {
	ListByBlockAndTerm(ctx context.Context, blockID, termID, excludeID string) ([]models.ScheduledSubject, error)
	ListByInstructorAndTerm(ctx context.Context, instructorID, termID, excludeID string) ([]models.ScheduledSubject, error)
	ListByRoomAndTerm(ctx context.Context, room, termID, excludeID string) ([]models.ScheduledSubject, error)
	ExistsOffering(ctx context.Context, blockID, termID, curriculumSubjectID, excludeID string) (bool, error)
}

// ScheduleRepository handles persistence for class offerings.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository instantiates a schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// List returns offerings with catalog context, filtered and paginated.
func (r *ScheduleRepository) List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduledSubjectDetail, int, error) {
	base := `FROM scheduled_subjects ss
        JOIN curriculum_subjects cs ON cs.id = ss.curriculum_subject_id
        JOIN subjects s ON s.id = cs.subject_id
        WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.AcademicTermID != "" {
		conditions = append(conditions, fmt.Sprintf("ss.academic_term_id = $%d", len(args)+1))
		args = append(args, filter.AcademicTermID)
	}
	if filter.BlockID != "" {
		conditions = append(conditions, fmt.Sprintf("ss.block_id = $%d", len(args)+1))
		args = append(args, filter.BlockID)
	}
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("ss.instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.Room != "" {
		conditions = append(conditions, fmt.Sprintf("ss.room = $%d", len(args)+1))
		args = append(args, filter.Room)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"day":          "ss.day",
		"time_start":   "ss.time_start",
		"room":         "ss.room",
		"subject_code": "s.code",
		"created_at":   "ss.created_at",
	}
	sortCol, ok := allowedSorts[sortBy]
	if !ok {
		sortCol = "s.code"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s, s.code AS subject_code, s.title AS subject_title, s.units %s
        ORDER BY %s %s LIMIT %d OFFSET %d`, scheduledSubjectColumns, base, sortCol, order, size, offset)

	var offerings []models.ScheduledSubjectDetail
	if err := r.db.SelectContext(ctx, &offerings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list offerings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count offerings: %w", err)
	}

	return offerings, total, nil
}

// FindByID loads one offering.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.ScheduledSubject, error) {
	query := fmt.Sprintf("SELECT %s FROM scheduled_subjects ss WHERE ss.id = $1", scheduledSubjectColumns)
	var offering models.ScheduledSubject
	if err := r.db.GetContext(ctx, &offering, query, id); err != nil {
		return nil, err
	}
	return &offering, nil
}

// FindDetailByID loads one offering with catalog context.
func (r *ScheduleRepository) FindDetailByID(ctx context.Context, id string) (*models.ScheduledSubjectDetail, error) {
	query := fmt.Sprintf(`SELECT %s, s.code AS subject_code, s.title AS subject_title, s.units
        FROM scheduled_subjects ss
        JOIN curriculum_subjects cs ON cs.id = ss.curriculum_subject_id
        JOIN subjects s ON s.id = cs.subject_id
        WHERE ss.id = $1`, scheduledSubjectColumns)
	var offering models.ScheduledSubjectDetail
	if err := r.db.GetContext(ctx, &offering, query, id); err != nil {
		return nil, err
	}
	return &offering, nil
}

// ListByBlockAndTerm returns the raw schedule rows a block carries within a
// term, excluding the given offering when excludeID is set. The conflict
// detector parses these into assignments.
func (r *ScheduleRepository) ListByBlockAndTerm(ctx context.Context, blockID, termID, excludeID string) ([]models.ScheduledSubject, error) {
	return r.listScoped(ctx, "ss.block_id", blockID, termID, excludeID)
}

// ListByInstructorAndTerm returns the rows an instructor teaches within a term.
func (r *ScheduleRepository) ListByInstructorAndTerm(ctx context.Context, instructorID, termID, excludeID string) ([]models.ScheduledSubject, error) {
	return r.listScoped(ctx, "ss.instructor_id", instructorID, termID, excludeID)
}

// ListByRoomAndTerm returns the rows occupying a room within a term.
func (r *ScheduleRepository) ListByRoomAndTerm(ctx context.Context, room, termID, excludeID string) ([]models.ScheduledSubject, error) {
	return r.listScoped(ctx, "ss.room", room, termID, excludeID)
}

func (r *ScheduleRepository) listScoped(ctx context.Context, column, value, termID, excludeID string) ([]models.ScheduledSubject, error) {
	return listScopedSlots(ctx, r.db, column, value, termID, excludeID)
}

func listScopedSlots(ctx context.Context, q sqlx.QueryerContext, column, value, termID, excludeID string) ([]models.ScheduledSubject, error) {
	query := fmt.Sprintf("SELECT %s FROM scheduled_subjects ss WHERE %s = $1 AND ss.academic_term_id = $2", scheduledSubjectColumns, column)
	args := []interface{}{value, termID}
	if excludeID != "" {
		query += " AND ss.id <> $3"
		args = append(args, excludeID)
	}
	var rows []models.ScheduledSubject
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list term schedule: %w", err)
	}
	return rows, nil
}

// ExistsOffering checks the duplicate-offering guard: the same curriculum
// subject may appear at most once per block per term.
func (r *ScheduleRepository) ExistsOffering(ctx context.Context, blockID, termID, curriculumSubjectID, excludeID string) (bool, error) {
	return existsOfferingOn(ctx, r.db, blockID, termID, curriculumSubjectID, excludeID)
}

func existsOfferingOn(ctx context.Context, q sqlx.QueryerContext, blockID, termID, curriculumSubjectID, excludeID string) (bool, error) {
	query := `SELECT COUNT(*) FROM scheduled_subjects
        WHERE block_id = $1 AND academic_term_id = $2 AND curriculum_subject_id = $3`
	args := []interface{}{blockID, termID, curriculumSubjectID}
	if excludeID != "" {
		query += " AND id <> $4"
		args = append(args, excludeID)
	}
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, args...); err != nil {
		return false, fmt.Errorf("check duplicate offering: %w", err)
	}
	return count > 0, nil
}

// txSlotScan runs the scoped schedule reads on the write's transaction.
type txSlotScan struct {
	tx *sqlx.Tx
}

func (s txSlotScan) ListByBlockAndTerm(ctx context.Context, blockID, termID, excludeID string) ([]models.ScheduledSubject, error) {
	return listScopedSlots(ctx, s.tx, "ss.block_id", blockID, termID, excludeID)
}

func (s txSlotScan) ListByInstructorAndTerm(ctx context.Context, instructorID, termID, excludeID string) ([]models.ScheduledSubject, error) {
	return listScopedSlots(ctx, s.tx, "ss.instructor_id", instructorID, termID, excludeID)
}

func (s txSlotScan) ListByRoomAndTerm(ctx context.Context, room, termID, excludeID string) ([]models.ScheduledSubject, error) {
	return listScopedSlots(ctx, s.tx, "ss.room", room, termID, excludeID)
}

func (s txSlotScan) ExistsOffering(ctx context.Context, blockID, termID, curriculumSubjectID, excludeID string) (bool, error) {
	return existsOfferingOn(ctx, s.tx, blockID, termID, curriculumSubjectID, excludeID)
}

// lockSlotScopes serializes writers that touch the same block, instructor or
// room within a term. pg_advisory_xact_lock holds until commit or rollback,
// so a second writer for the same scope waits and then scans with the first
// writer's row already visible. Keys are sorted so writers sharing more than
// one scope always lock in the same order.
func lockSlotScopes(ctx context.Context, tx *sqlx.Tx, offering *models.ScheduledSubject) error {
	keys := []string{
		fmt.Sprintf("slot:%s:block:%s", offering.AcademicTermID, offering.BlockID),
		fmt.Sprintf("slot:%s:room:%s", offering.AcademicTermID, offering.Room),
	}
	if offering.InstructorID != nil && *offering.InstructorID != "" {
		keys = append(keys, fmt.Sprintf("slot:%s:instructor:%s", offering.AcademicTermID, *offering.InstructorID))
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("lock schedule scope: %w", err)
		}
	}
	return nil
}

// Create persists a new offering. The insert shares one transaction with the
// caller's validate pass: the offering's block/instructor/room scopes are
// locked first, validate re-runs its checks through a transaction-backed
// SlotScan, and only then does the row land. Two writers racing for the same
// slot are therefore checked one after the other, and the loser sees the
// winner's committed row.
func (r *ScheduleRepository) Create(ctx context.Context, offering *models.ScheduledSubject, validate func(ctx context.Context, slots SlotScan) error) error {
	if offering.ID == "" {
		offering.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	offering.CreatedAt = now
	offering.UpdatedAt = now

	const query = `INSERT INTO scheduled_subjects (id, academic_term_id, block_id, instructor_id, curriculum_subject_id,
        day, room, time_start, time_end, created_at, updated_at)
        VALUES (:id, :academic_term_id, :block_id, :instructor_id, :curriculum_subject_id,
        :day, :room, :time_start, :time_end, :created_at, :updated_at)`
	return r.writeLocked(ctx, offering, validate, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, offering); err != nil {
			return fmt.Errorf("create offering: %w", err)
		}
		return nil
	})
}

// Update modifies an offering's schedule fields under the same scope locks
// and in-transaction re-validation as Create. Submission stamps are not
// touched here; they change only through MarkSubmitted.
func (r *ScheduleRepository) Update(ctx context.Context, offering *models.ScheduledSubject, validate func(ctx context.Context, slots SlotScan) error) error {
	offering.UpdatedAt = time.Now().UTC()
	const query = `UPDATE scheduled_subjects SET instructor_id = :instructor_id, day = :day, room = :room,
        time_start = :time_start, time_end = :time_end, updated_at = :updated_at WHERE id = :id`
	return r.writeLocked(ctx, offering, validate, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, offering); err != nil {
			return fmt.Errorf("update offering: %w", err)
		}
		return nil
	})
}

func (r *ScheduleRepository) writeLocked(ctx context.Context, offering *models.ScheduledSubject, validate func(ctx context.Context, slots SlotScan) error, write func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin offering write: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockSlotScopes(ctx, tx, offering); err != nil {
		return err
	}
	if validate != nil {
		if err = validate(ctx, txSlotScan{tx: tx}); err != nil {
			return err
		}
	}
	if err = write(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit offering write: %w", err)
	}
	return nil
}

// Delete removes an offering.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_subjects WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete offering: %w", err)
	}
	return nil
}
