package models

import "time"

// Distance is a cached travel cost between an instructor and a unit.
type Distance struct {
	InstructorID    string    `db:"instructor_id" json:"instructorId"`
	UnitID          string    `db:"unit_id" json:"unitId"`
	DistanceMeters  int       `db:"distance_meters" json:"distanceMeters"`
	DurationSeconds int       `db:"duration_seconds" json:"durationSeconds"`
	ComputedAt      time.Time `db:"computed_at" json:"computedAt"`
}

// DistanceReason explains why a distance is unavailable.
type DistanceReason string

const (
	ReasonQuotaExhausted      DistanceReason = "QUOTA_EXHAUSTED"
	ReasonUpstreamUnavailable DistanceReason = "UPSTREAM_UNAVAILABLE"
	ReasonMissingLocation     DistanceReason = "MISSING_LOCATION"
	ReasonNoRoute             DistanceReason = "NO_ROUTE"
)

// DistanceLookup is the outcome of a distance lookup. A lookup never fails;
// it either carries a distance or the reason it could not produce one.
type DistanceLookup struct {
	Available bool           `json:"available"`
	Reason    DistanceReason `json:"reason,omitempty"`
	Distance  *Distance      `json:"distance,omitempty"`
}

// DistanceOf wraps a known distance.
func DistanceOf(d Distance) DistanceLookup {
	return DistanceLookup{Available: true, Distance: &d}
}

// NotAvailable wraps a degraded lookup.
func NotAvailable(reason DistanceReason) DistanceLookup {
	return DistanceLookup{Reason: reason}
}

// DistanceHint is a distance shown on a candidate card; nil meters means unknown.
type DistanceHint struct {
	InstructorID   string `json:"instructorId"`
	DistanceMeters *int   `json:"distanceMeters"`
}

// DailyUsage is the per-day external API call counter.
type DailyUsage struct {
	UsageDate        time.Time `db:"usage_date" json:"usageDate"`
	RouteCallCount   int       `db:"route_call_count" json:"routeCallCount"`
	GeocodeCallCount int       `db:"geocode_call_count" json:"geocodeCallCount"`
}

// UsageReport adds limits and remaining headroom to a usage row.
type UsageReport struct {
	DailyUsage
	RouteLimit       int `json:"routeLimit"`
	GeocodeLimit     int `json:"geocodeLimit"`
	RouteRemaining   int `json:"routeRemaining"`
	GeocodeRemaining int `json:"geocodeRemaining"`
}

// DistancePair is an (instructor, unit) combination awaiting computation.
type DistancePair struct {
	InstructorID string `db:"instructor_id" json:"instructorId"`
	UnitID       string `db:"unit_id" json:"unitId"`
}

// Key renders the pair for deduplication.
func (p DistancePair) Key() string {
	return p.InstructorID + "|" + p.UnitID
}

// UnitDistance is a unit reachable from an instructor, used by the distance band query.
type UnitDistance struct {
	Distance
	UnitName string `db:"unit_name" json:"unitName"`
	Region   string `db:"region" json:"region"`
}
