package models

import "time"

// SessionSlot is staffing demand for one training location of a unit on one date.
type SessionSlot struct {
	UnitScheduleID     string     `db:"unit_schedule_id" json:"unitScheduleId"`
	TrainingLocationID string     `db:"training_location_id" json:"trainingLocationId"`
	UnitID             string     `db:"unit_id" json:"unitId"`
	UnitName           string     `db:"unit_name" json:"unitName"`
	Region             string     `db:"region" json:"region"`
	WideArea           string     `db:"wide_area" json:"wideArea"`
	Address            NullString `db:"address" json:"address"`
	Lat                *float64   `db:"lat" json:"lat,omitempty"`
	Lng                *float64   `db:"lng" json:"lng,omitempty"`
	LocationName       string     `db:"location_name" json:"locationName"`
	OfficerName        NullString `db:"officer_name" json:"officerName"`
	Date               time.Time  `db:"schedule_date" json:"date"`
	RequiredCount      int        `db:"required_count" json:"requiredCount"`
	ActiveCount        int        `db:"active_count" json:"activeCount"`
}

// ID returns the slot identifier.
func (s SessionSlot) ID() SlotID {
	return NewSlotID(s.UnitScheduleID, s.TrainingLocationID)
}

// Remaining returns how many more instructors the slot needs.
func (s SessionSlot) Remaining() int {
	if r := s.RequiredCount - s.ActiveCount; r > 0 {
		return r
	}
	return 0
}

// Unfilled reports whether active assignments are below the required count.
func (s SessionSlot) Unfilled() bool {
	return s.ActiveCount < s.RequiredCount
}

// DateKey formats the slot date as YYYY-MM-DD.
func (s SessionSlot) DateKey() string {
	return s.Date.Format(DateLayout)
}

// DateLayout is the calendar date format used across the API.
const DateLayout = "2006-01-02"
