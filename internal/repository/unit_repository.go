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

// UnitRepository reads unit locations for distance computation.
type UnitRepository struct {
	db *sqlx.DB
}

// NewUnitRepository constructs the repository.
func NewUnitRepository(db *sqlx.DB) *UnitRepository {
	return &UnitRepository{db: db}
}

// GetUnit returns the unit location record.
func (r *UnitRepository) GetUnit(ctx context.Context, id string) (*models.Unit, error) {
	const query = `SELECT id, name, address, lat, lng FROM units WHERE id = $1`
	var unit models.Unit
	if err := r.db.GetContext(ctx, &unit, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get unit: %w", err)
	}
	return &unit, nil
}

// UpdateCoordinates stores geocoded coordinates for a unit.
func (r *UnitRepository) UpdateCoordinates(ctx context.Context, id string, lat, lng float64) error {
	const query = `UPDATE units SET lat = $1, lng = $2, updated_at = $3 WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, lat, lng, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update unit coordinates: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
