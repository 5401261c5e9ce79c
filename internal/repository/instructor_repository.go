package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
)

// ErrDateLocked is returned when an availability change would drop a date
// that holds a confirmed assignment.
type ErrDateLocked struct {
	Dates []string
}

func (e *ErrDateLocked) Error() string {
	return fmt.Sprintf("dates hold confirmed assignments: %v", e.Dates)
}

// InstructorRepository reads instructor profiles and manages availability.
type InstructorRepository struct {
	db *sqlx.DB
}

// NewInstructorRepository constructs the repository.
func NewInstructorRepository(db *sqlx.DB) *InstructorRepository {
	return &InstructorRepository{db: db}
}

type availableInstructorRow struct {
	models.Instructor
	AvailableOn time.Time `db:"available_on"`
}

// ListAvailableInRange returns instructors with at least one available date in
// [start, end], each carrying their available dates in order.
func (r *InstructorRepository) ListAvailableInRange(ctx context.Context, start, end time.Time) ([]models.AvailableInstructor, error) {
	const query = `
SELECT i.id, i.name, i.team_name, i.category, i.address, i.lat, i.lng, ia.available_on
FROM instructors i
JOIN instructor_availabilities ia ON ia.instructor_id = i.id
WHERE ia.available_on BETWEEN $1 AND $2
ORDER BY i.id ASC, ia.available_on ASC`
	var rows []availableInstructorRow
	if err := r.db.SelectContext(ctx, &rows, query, start, end); err != nil {
		return nil, fmt.Errorf("list available instructors: %w", err)
	}

	result := make([]models.AvailableInstructor, 0)
	index := make(map[string]int)
	for _, row := range rows {
		pos, ok := index[row.ID]
		if !ok {
			pos = len(result)
			index[row.ID] = pos
			result = append(result, models.AvailableInstructor{Instructor: row.Instructor, AvailableDates: []string{}, BusyDates: []string{}})
		}
		result[pos].AvailableDates = append(result[pos].AvailableDates, row.AvailableOn.Format(models.DateLayout))
	}
	return result, nil
}

// GetInstructor returns one instructor profile.
func (r *InstructorRepository) GetInstructor(ctx context.Context, id string) (*models.Instructor, error) {
	const query = `SELECT id, name, team_name, category, address, lat, lng FROM instructors WHERE id = $1`
	var inst models.Instructor
	if err := r.db.GetContext(ctx, &inst, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get instructor: %w", err)
	}
	return &inst, nil
}

// UpdateCoordinates stores geocoded coordinates for an instructor.
func (r *InstructorRepository) UpdateCoordinates(ctx context.Context, id string, lat, lng float64) error {
	const query = `UPDATE instructors SET lat = $1, lng = $2, updated_at = $3 WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, lat, lng, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update instructor coordinates: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListAvailability returns the instructor's offered dates within [from, to].
func (r *InstructorRepository) ListAvailability(ctx context.Context, instructorID string, from, to time.Time) ([]time.Time, error) {
	const query = `SELECT available_on FROM instructor_availabilities
WHERE instructor_id = $1 AND available_on BETWEEN $2 AND $3
ORDER BY available_on ASC`
	var dates []time.Time
	if err := r.db.SelectContext(ctx, &dates, query, instructorID, from, to); err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	return dates, nil
}

// ListConfirmedDates returns dates within [from, to] holding a confirmed active assignment.
func (r *InstructorRepository) ListConfirmedDates(ctx context.Context, instructorID string, from, to time.Time) ([]time.Time, error) {
	return r.confirmedDates(ctx, r.db, instructorID, from, to)
}

func (r *InstructorRepository) confirmedDates(ctx context.Context, q sqlx.QueryerContext, instructorID string, from, to time.Time) ([]time.Time, error) {
	const query = `SELECT DISTINCT us.schedule_date
FROM instructor_assignments a
JOIN unit_schedules us ON us.id = a.unit_schedule_id
WHERE a.instructor_id = $1 AND a.state = 'Active' AND a.classification = 'Confirmed'
	AND us.schedule_date BETWEEN $2 AND $3
ORDER BY us.schedule_date ASC`
	var dates []time.Time
	if err := sqlx.SelectContext(ctx, q, &dates, query, instructorID, from, to); err != nil {
		return nil, fmt.Errorf("list confirmed dates: %w", err)
	}
	return dates, nil
}

// ReplaceAvailability swaps the instructor's dates within [from, to] for the
// given set. Dropping a confirmed date fails with *ErrDateLocked.
func (r *InstructorRepository) ReplaceAvailability(ctx context.Context, instructorID string, from, to time.Time, dates []string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin availability transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockInstructor(ctx, tx, instructorID); err != nil {
		return err
	}

	confirmed, err := r.confirmedDates(ctx, tx, instructorID, from, to)
	if err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		keep[d] = struct{}{}
	}
	var locked []string
	for _, d := range confirmed {
		key := d.Format(models.DateLayout)
		if _, ok := keep[key]; !ok {
			locked = append(locked, key)
		}
	}
	if len(locked) > 0 {
		sort.Strings(locked)
		err = &ErrDateLocked{Dates: locked}
		return err
	}

	const deleteQuery = `DELETE FROM instructor_availabilities WHERE instructor_id = $1 AND available_on BETWEEN $2 AND $3`
	if _, err = tx.ExecContext(ctx, deleteQuery, instructorID, from, to); err != nil {
		return fmt.Errorf("clear availability: %w", err)
	}

	if len(dates) > 0 {
		const insertQuery = `INSERT INTO instructor_availabilities (instructor_id, available_on)
SELECT $1, d::date FROM unnest($2::text[]) AS d
ON CONFLICT (instructor_id, available_on) DO NOTHING`
		if _, err = tx.ExecContext(ctx, insertQuery, instructorID, pq.Array(dates)); err != nil {
			return fmt.Errorf("insert availability: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit availability: %w", err)
	}
	return nil
}

// lockInstructor takes the instructor row lock that availability edits and
// accepts both hold while they check or change confirmed dates.
func lockInstructor(ctx context.Context, tx *sqlx.Tx, instructorID string) error {
	const query = `SELECT id FROM instructors WHERE id = $1 FOR UPDATE`
	var lockedID string
	if err := tx.GetContext(ctx, &lockedID, query, instructorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("lock instructor: %w", err)
	}
	return nil
}
