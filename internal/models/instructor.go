package models

import "time"

// Instructor is the dispatch-relevant profile of an instructor.
type Instructor struct {
	ID       string     `db:"id" json:"id"`
	Name     string     `db:"name" json:"name"`
	TeamName *string    `db:"team_name" json:"teamName,omitempty"`
	Category *string    `db:"category" json:"category,omitempty"`
	Address  NullString `db:"address" json:"address"`
	Lat      *float64   `db:"lat" json:"lat,omitempty"`
	Lng      *float64   `db:"lng" json:"lng,omitempty"`
}

// AvailableInstructor is an instructor with the dates they are free in a range.
type AvailableInstructor struct {
	Instructor
	AvailableDates []string `json:"availableDates"`
	BusyDates      []string `json:"busyDates"`
}

// IsAvailableOn reports whether the instructor offered the date and is not already busy.
func (a AvailableInstructor) IsAvailableOn(date string) bool {
	for _, b := range a.BusyDates {
		if b == date {
			return false
		}
	}
	for _, d := range a.AvailableDates {
		if d == date {
			return true
		}
	}
	return false
}

// AvailabilityRow is one persisted availability date.
type AvailabilityRow struct {
	InstructorID string    `db:"instructor_id"`
	AvailableOn  time.Time `db:"available_on"`
}

// Availability is an instructor's offered dates within a month.
type Availability struct {
	InstructorID string   `json:"instructorId"`
	Year         int      `json:"year"`
	Month        int      `json:"month"`
	Dates        []string `json:"dates"`
	LockedDates  []string `json:"lockedDates"`
}

// Unit is the location record used to compute travel distance.
type Unit struct {
	ID      string     `db:"id" json:"id"`
	Name    string     `db:"name" json:"name"`
	Address NullString `db:"address" json:"address"`
	Lat     *float64   `db:"lat" json:"lat,omitempty"`
	Lng     *float64   `db:"lng" json:"lng,omitempty"`
}

// HasCoordinates reports whether both coordinates are known.
func (u Unit) HasCoordinates() bool {
	return u.Lat != nil && u.Lng != nil
}

// HasCoordinates reports whether both coordinates are known.
func (i Instructor) HasCoordinates() bool {
	return i.Lat != nil && i.Lng != nil
}

// BusyDate is a date on which an instructor already holds an active assignment.
type BusyDate struct {
	InstructorID string    `db:"instructor_id"`
	Date         time.Time `db:"schedule_date"`
}
