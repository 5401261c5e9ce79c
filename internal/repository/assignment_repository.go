package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	"github.com/noah-isme/instructor-dispatch-api/pkg/database"
)

const assignmentColumns = `id, instructor_id, unit_schedule_id, training_location_id, classification, state, version, created_at, updated_at`

const assignmentViewSelect = `
SELECT
	a.id, a.instructor_id, a.unit_schedule_id, a.training_location_id, a.classification, a.state, a.version, a.created_at, a.updated_at,
	u.id AS unit_id,
	u.name AS unit_name,
	u.region,
	u.address,
	tl.name AS location_name,
	us.schedule_date`

const assignmentViewJoins = `
FROM instructor_assignments a
JOIN unit_schedules us ON us.id = a.unit_schedule_id
JOIN training_locations tl ON tl.id = a.training_location_id
JOIN units u ON u.id = us.unit_id`

// AssignmentRepository persists instructor assignments. Every state change is a
// single conditional statement so concurrent commands cannot both succeed.
type AssignmentRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db, now: time.Now}
}

// Propose inserts a Proposed+Active row. It returns false when an active row
// for the same instructor and slot already exists.
func (r *AssignmentRepository) Propose(ctx context.Context, a *models.Assignment) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := r.now().UTC()
	a.Classification = models.ClassificationProposed
	a.State = models.StateActive
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now

	const query = `INSERT INTO instructor_assignments (` + assignmentColumns + `)
VALUES (:id, :instructor_id, :unit_schedule_id, :training_location_id, :classification, :state, :version, :created_at, :updated_at)
ON CONFLICT (instructor_id, unit_schedule_id, training_location_id) WHERE state = 'Active' DO NOTHING`

	res, err := r.db.NamedExecContext(ctx, query, a)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert assignment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert assignment rows affected: %w", err)
	}
	return affected == 1, nil
}

// Respond moves a Proposed+Active row to the given status. It returns
// sql.ErrNoRows when no such row exists anymore. The instructor row is locked
// first so an accept serializes with availability edits for the same instructor.
func (r *AssignmentRepository) Respond(ctx context.Context, slot models.SlotID, instructorID string, next models.AssignmentStatus) (a *models.Assignment, err error) {
	classification, state := next.Columns()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin respond transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockInstructor(ctx, tx, instructorID); err != nil {
		return nil, err
	}

	const query = `UPDATE instructor_assignments
SET classification = $1, state = $2, version = version + 1, updated_at = $3
WHERE instructor_id = $4 AND unit_schedule_id = $5 AND training_location_id = $6
	AND state = 'Active' AND classification = 'Proposed'
RETURNING ` + assignmentColumns

	var row models.Assignment
	if err = tx.QueryRowxContext(ctx, query, classification, state, r.now().UTC(), instructorID, slot.UnitScheduleID, slot.TrainingLocationID).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = sql.ErrNoRows
			return nil, err
		}
		return nil, fmt.Errorf("respond assignment: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit respond: %w", err)
	}
	return &row, nil
}

// Cancel marks the active row as Canceled, keeping its classification. When
// expectedVersion is set the row must still carry that version.
func (r *AssignmentRepository) Cancel(ctx context.Context, slot models.SlotID, instructorID string, expectedVersion *int) (*models.Assignment, error) {
	query := `UPDATE instructor_assignments
SET state = 'Canceled', version = version + 1, updated_at = $1
WHERE instructor_id = $2 AND unit_schedule_id = $3 AND training_location_id = $4
	AND state = 'Active'`
	args := []interface{}{r.now().UTC(), instructorID, slot.UnitScheduleID, slot.TrainingLocationID}
	if expectedVersion != nil {
		args = append(args, *expectedVersion)
		query += fmt.Sprintf(" AND version = $%d", len(args))
	}
	query += "\nRETURNING " + assignmentColumns

	var a models.Assignment
	if err := r.db.QueryRowxContext(ctx, query, args...).StructScan(&a); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("cancel assignment: %w", err)
	}
	return &a, nil
}

// FindLatest returns the most recent row for the instructor and slot,
// preferring an active one.
func (r *AssignmentRepository) FindLatest(ctx context.Context, slot models.SlotID, instructorID string) (*models.Assignment, error) {
	const query = `SELECT ` + assignmentColumns + ` FROM instructor_assignments
WHERE instructor_id = $1 AND unit_schedule_id = $2 AND training_location_id = $3
ORDER BY (state = 'Active') DESC, created_at DESC
LIMIT 1`
	var a models.Assignment
	if err := r.db.GetContext(ctx, &a, query, instructorID, slot.UnitScheduleID, slot.TrainingLocationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	return &a, nil
}

// ListActiveInRange returns instructor/date pairs with an active assignment in range.
func (r *AssignmentRepository) ListActiveInRange(ctx context.Context, start, end time.Time) ([]models.BusyDate, error) {
	const query = `SELECT DISTINCT a.instructor_id, us.schedule_date
FROM instructor_assignments a
JOIN unit_schedules us ON us.id = a.unit_schedule_id
WHERE a.state = 'Active' AND us.schedule_date BETWEEN $1 AND $2
ORDER BY a.instructor_id ASC, us.schedule_date ASC`
	var rows []models.BusyDate
	if err := r.db.SelectContext(ctx, &rows, query, start, end); err != nil {
		return nil, fmt.Errorf("list active assignments: %w", err)
	}
	return rows, nil
}

// ListUpcoming returns active assignments dated today or later.
func (r *AssignmentRepository) ListUpcoming(ctx context.Context, instructorID string, today time.Time) ([]models.AssignmentView, error) {
	const query = assignmentViewSelect + assignmentViewJoins + `
WHERE a.instructor_id = $1 AND a.state = 'Active' AND us.schedule_date >= $2
ORDER BY us.schedule_date ASC, u.name ASC`
	var items []models.AssignmentView
	if err := r.db.SelectContext(ctx, &items, query, instructorID, today); err != nil {
		return nil, fmt.Errorf("list upcoming assignments: %w", err)
	}
	return items, nil
}

// ListHistory returns confirmed active assignments dated before today.
func (r *AssignmentRepository) ListHistory(ctx context.Context, instructorID string, today time.Time) ([]models.AssignmentView, error) {
	const query = assignmentViewSelect + assignmentViewJoins + `
WHERE a.instructor_id = $1 AND a.state = 'Active' AND a.classification = 'Confirmed' AND us.schedule_date < $2
ORDER BY us.schedule_date DESC, u.name ASC`
	var items []models.AssignmentView
	if err := r.db.SelectContext(ctx, &items, query, instructorID, today); err != nil {
		return nil, fmt.Errorf("list assignment history: %w", err)
	}
	return items, nil
}

// GetDetail loads the full view of the latest assignment for a slot.
func (r *AssignmentRepository) GetDetail(ctx context.Context, slot models.SlotID, instructorID string) (*models.AssignmentDetail, error) {
	const query = assignmentViewSelect + `,
	u.wide_area,
	u.officer_name,
	u.officer_phone,
	u.officer_email,
	to_char(u.work_start_time, 'HH24:MI') AS work_start_time,
	to_char(u.work_end_time, 'HH24:MI') AS work_end_time,
	tl.note` + assignmentViewJoins + `
WHERE a.instructor_id = $1 AND a.unit_schedule_id = $2 AND a.training_location_id = $3
ORDER BY (a.state = 'Active') DESC, a.created_at DESC
LIMIT 1`
	var detail models.AssignmentDetail
	if err := r.db.GetContext(ctx, &detail, query, instructorID, slot.UnitScheduleID, slot.TrainingLocationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get assignment detail: %w", err)
	}
	return &detail, nil
}
