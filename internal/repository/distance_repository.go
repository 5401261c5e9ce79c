package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
)

// DistanceRepository stores computed instructor to unit travel costs.
type DistanceRepository struct {
	db *sqlx.DB
}

// NewDistanceRepository constructs the repository.
func NewDistanceRepository(db *sqlx.DB) *DistanceRepository {
	return &DistanceRepository{db: db}
}

// Get returns the cached record or sql.ErrNoRows.
func (r *DistanceRepository) Get(ctx context.Context, instructorID, unitID string) (*models.Distance, error) {
	const query = `SELECT instructor_id, unit_id, distance_meters, duration_seconds, computed_at
FROM instructor_unit_distances WHERE instructor_id = $1 AND unit_id = $2`
	var d models.Distance
	if err := r.db.GetContext(ctx, &d, query, instructorID, unitID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get distance: %w", err)
	}
	return &d, nil
}

// ListForPairs returns every cached record between the given instructors and units.
func (r *DistanceRepository) ListForPairs(ctx context.Context, instructorIDs, unitIDs []string) ([]models.Distance, error) {
	if len(instructorIDs) == 0 || len(unitIDs) == 0 {
		return []models.Distance{}, nil
	}
	const query = `SELECT instructor_id, unit_id, distance_meters, duration_seconds, computed_at
FROM instructor_unit_distances
WHERE instructor_id = ANY($1) AND unit_id = ANY($2)`
	var items []models.Distance
	if err := r.db.SelectContext(ctx, &items, query, pq.Array(instructorIDs), pq.Array(unitIDs)); err != nil {
		return nil, fmt.Errorf("list distances: %w", err)
	}
	return items, nil
}

// SaveWithUsage upserts the record and counts the route call for the day in one transaction.
func (r *DistanceRepository) SaveWithUsage(ctx context.Context, d models.Distance, day time.Time) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin distance transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const upsert = `INSERT INTO instructor_unit_distances (instructor_id, unit_id, distance_meters, duration_seconds, computed_at)
VALUES (:instructor_id, :unit_id, :distance_meters, :duration_seconds, :computed_at)
ON CONFLICT (instructor_id, unit_id) DO UPDATE
SET distance_meters = EXCLUDED.distance_meters,
    duration_seconds = EXCLUDED.duration_seconds,
    computed_at = EXCLUDED.computed_at`
	if _, err = tx.NamedExecContext(ctx, upsert, d); err != nil {
		return fmt.Errorf("upsert distance: %w", err)
	}
	if err = incrementRoute(ctx, tx, day); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit distance: %w", err)
	}
	return nil
}

// SaveUnroutableWithUsage records that the provider answered with no route
// for the pair and counts the call, in one transaction.
func (r *DistanceRepository) SaveUnroutableWithUsage(ctx context.Context, pair models.DistancePair, day, checkedAt time.Time) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unroutable transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const upsert = `INSERT INTO instructor_unit_unroutable (instructor_id, unit_id, checked_at)
VALUES ($1, $2, $3)
ON CONFLICT (instructor_id, unit_id) DO UPDATE SET checked_at = EXCLUDED.checked_at`
	if _, err = tx.ExecContext(ctx, upsert, pair.InstructorID, pair.UnitID, checkedAt); err != nil {
		return fmt.Errorf("upsert unroutable pair: %w", err)
	}
	if err = incrementRoute(ctx, tx, day); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit unroutable pair: %w", err)
	}
	return nil
}

// IsUnroutable reports whether the provider already answered the pair with no route.
func (r *DistanceRepository) IsUnroutable(ctx context.Context, instructorID, unitID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM instructor_unit_unroutable WHERE instructor_id = $1 AND unit_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, instructorID, unitID); err != nil {
		return false, fmt.Errorf("check unroutable pair: %w", err)
	}
	return exists, nil
}

// ListWithinRange returns units whose cached distance from the instructor is within [minMeters, maxMeters].
func (r *DistanceRepository) ListWithinRange(ctx context.Context, instructorID string, minMeters, maxMeters int) ([]models.UnitDistance, error) {
	const query = `SELECT d.instructor_id, d.unit_id, d.distance_meters, d.duration_seconds, d.computed_at,
	u.name AS unit_name, u.region
FROM instructor_unit_distances d
JOIN units u ON u.id = d.unit_id
WHERE d.instructor_id = $1 AND d.distance_meters BETWEEN $2 AND $3
ORDER BY d.distance_meters ASC, d.unit_id ASC`
	var items []models.UnitDistance
	if err := r.db.SelectContext(ctx, &items, query, instructorID, minMeters, maxMeters); err != nil {
		return nil, fmt.Errorf("list distances within range: %w", err)
	}
	return items, nil
}

// DeleteByUnit drops every record for a unit, used when its address changes.
// Pairs marked unroutable are cleared too so the new address is retried.
func (r *DistanceRepository) DeleteByUnit(ctx context.Context, unitID string) (int64, error) {
	const query = `DELETE FROM instructor_unit_distances WHERE unit_id = $1`
	res, err := r.db.ExecContext(ctx, query, unitID)
	if err != nil {
		return 0, fmt.Errorf("delete unit distances: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete unit distances rows affected: %w", err)
	}
	const clearUnroutable = `DELETE FROM instructor_unit_unroutable WHERE unit_id = $1`
	if _, err := r.db.ExecContext(ctx, clearUnroutable, unitID); err != nil {
		return 0, fmt.Errorf("delete unit unroutable pairs: %w", err)
	}
	return affected, nil
}

// ListMissingPairs returns instructor/unit pairs with neither a record nor a
// no-route mark, units with the nearest upcoming schedule first.
func (r *DistanceRepository) ListMissingPairs(ctx context.Context, from time.Time, limit int) ([]models.DistancePair, error) {
	const query = `
SELECT i.id AS instructor_id, s.unit_id
FROM (
	SELECT unit_id, MIN(schedule_date) AS next_date
	FROM unit_schedules
	WHERE schedule_date >= $1
	GROUP BY unit_id
) s
CROSS JOIN instructors i
LEFT JOIN instructor_unit_distances d ON d.instructor_id = i.id AND d.unit_id = s.unit_id
LEFT JOIN instructor_unit_unroutable nr ON nr.instructor_id = i.id AND nr.unit_id = s.unit_id
WHERE d.instructor_id IS NULL AND nr.instructor_id IS NULL
ORDER BY s.next_date ASC, s.unit_id ASC, i.id ASC
LIMIT $2`
	var pairs []models.DistancePair
	if err := r.db.SelectContext(ctx, &pairs, query, from, limit); err != nil {
		return nil, fmt.Errorf("list missing distance pairs: %w", err)
	}
	return pairs, nil
}
