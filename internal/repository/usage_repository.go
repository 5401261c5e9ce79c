package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
)

const (
	incrementRouteUsageQuery = `INSERT INTO api_daily_usage (usage_date, route_call_count, geocode_call_count, updated_at)
VALUES ($1, 1, 0, $2)
ON CONFLICT (usage_date) DO UPDATE
SET route_call_count = api_daily_usage.route_call_count + 1,
    updated_at = EXCLUDED.updated_at`

	incrementGeocodeUsageQuery = `INSERT INTO api_daily_usage (usage_date, route_call_count, geocode_call_count, updated_at)
VALUES ($1, 0, 1, $2)
ON CONFLICT (usage_date) DO UPDATE
SET geocode_call_count = api_daily_usage.geocode_call_count + 1,
    updated_at = EXCLUDED.updated_at`
)

// UsageRepository tracks daily external API call counters, one row per day.
type UsageRepository struct {
	db *sqlx.DB
}

// NewUsageRepository constructs the repository.
func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Get returns the counters for the day, zero when no call was made yet.
func (r *UsageRepository) Get(ctx context.Context, day time.Time) (models.DailyUsage, error) {
	const query = `SELECT $1::date AS usage_date,
	COALESCE((SELECT route_call_count FROM api_daily_usage WHERE usage_date = $1::date), 0) AS route_call_count,
	COALESCE((SELECT geocode_call_count FROM api_daily_usage WHERE usage_date = $1::date), 0) AS geocode_call_count`
	var usage models.DailyUsage
	if err := r.db.GetContext(ctx, &usage, query, day.Format(models.DateLayout)); err != nil {
		return models.DailyUsage{}, fmt.Errorf("get daily usage: %w", err)
	}
	return usage, nil
}

// IncrementGeocode counts one geocoding call for the day.
func (r *UsageRepository) IncrementGeocode(ctx context.Context, day time.Time) error {
	if _, err := r.db.ExecContext(ctx, incrementGeocodeUsageQuery, day.Format(models.DateLayout), time.Now().UTC()); err != nil {
		return fmt.Errorf("increment geocode usage: %w", err)
	}
	return nil
}

// IncrementRoute counts one route call for the day.
func (r *UsageRepository) IncrementRoute(ctx context.Context, day time.Time) error {
	return incrementRoute(ctx, r.db, day)
}

func incrementRoute(ctx context.Context, exec sqlx.ExecerContext, day time.Time) error {
	if _, err := exec.ExecContext(ctx, incrementRouteUsageQuery, day.Format(models.DateLayout), time.Now().UTC()); err != nil {
		return fmt.Errorf("increment route usage: %w", err)
	}
	return nil
}
