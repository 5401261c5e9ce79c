package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
)

const slotSelect = `
SELECT
	us.id AS unit_schedule_id,
	tl.id AS training_location_id,
	u.id AS unit_id,
	u.name AS unit_name,
	u.region,
	u.wide_area,
	u.address,
	u.lat,
	u.lng,
	tl.name AS location_name,
	u.officer_name,
	us.schedule_date,
	tl.required_count,
	(
		SELECT COUNT(*) FROM instructor_assignments a
		WHERE a.unit_schedule_id = us.id AND a.training_location_id = tl.id AND a.state = 'Active'
	) AS active_count
FROM unit_schedules us
JOIN units u ON u.id = us.unit_id
JOIN training_locations tl ON tl.unit_id = us.unit_id`

// SlotRepository reads session slots. Every training location of a unit on a
// scheduled date is its own slot.
type SlotRepository struct {
	db *sqlx.DB
}

// NewSlotRepository constructs the repository.
func NewSlotRepository(db *sqlx.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

// ListSlotsInRange returns slots dated within [start, end] with their active counts.
func (r *SlotRepository) ListSlotsInRange(ctx context.Context, start, end time.Time) ([]models.SessionSlot, error) {
	const query = slotSelect + `
WHERE us.schedule_date BETWEEN $1 AND $2
ORDER BY us.schedule_date ASC, us.id ASC, tl.id ASC`
	var slots []models.SessionSlot
	if err := r.db.SelectContext(ctx, &slots, query, start, end); err != nil {
		return nil, fmt.Errorf("list slots in range: %w", err)
	}
	return slots, nil
}

// GetSlot loads one slot by id. It returns sql.ErrNoRows when the schedule and
// location do not belong to the same unit.
func (r *SlotRepository) GetSlot(ctx context.Context, id models.SlotID) (*models.SessionSlot, error) {
	const query = slotSelect + `
WHERE us.id = $1 AND tl.id = $2`
	var slot models.SessionSlot
	if err := r.db.GetContext(ctx, &slot, query, id.UnitScheduleID, id.TrainingLocationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return &slot, nil
}
