package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Classification tells whether an assignment is still a proposal.
type Classification string

const (
	ClassificationProposed  Classification = "Proposed"
	ClassificationConfirmed Classification = "Confirmed"
)

// AssignmentState tells whether an assignment is live. Canceled is terminal.
type AssignmentState string

const (
	StateActive   AssignmentState = "Active"
	StateCanceled AssignmentState = "Canceled"
)

// AssignmentStatus is the combined classification and state of an assignment.
// Only the four members below are valid.
type AssignmentStatus string

const (
	StatusProposed          AssignmentStatus = "PROPOSED"
	StatusConfirmed         AssignmentStatus = "CONFIRMED"
	StatusProposalCanceled  AssignmentStatus = "PROPOSAL_CANCELED"
	StatusConfirmedCanceled AssignmentStatus = "CONFIRMED_CANCELED"
)

// ErrInvalidStatus is returned for classification/state pairs outside the four known statuses.
var ErrInvalidStatus = errors.New("invalid assignment status")

// ErrInvalidTransition is returned when a command does not apply to the current status.
var ErrInvalidTransition = errors.New("invalid assignment transition")

// StatusFromColumns builds the status from its persisted columns.
func StatusFromColumns(c Classification, s AssignmentState) (AssignmentStatus, error) {
	switch {
	case c == ClassificationProposed && s == StateActive:
		return StatusProposed, nil
	case c == ClassificationConfirmed && s == StateActive:
		return StatusConfirmed, nil
	case c == ClassificationProposed && s == StateCanceled:
		return StatusProposalCanceled, nil
	case c == ClassificationConfirmed && s == StateCanceled:
		return StatusConfirmedCanceled, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrInvalidStatus, c, s)
}

// Columns splits the status back into its persisted columns.
func (s AssignmentStatus) Columns() (Classification, AssignmentState) {
	switch s {
	case StatusConfirmed:
		return ClassificationConfirmed, StateActive
	case StatusProposalCanceled:
		return ClassificationProposed, StateCanceled
	case StatusConfirmedCanceled:
		return ClassificationConfirmed, StateCanceled
	default:
		return ClassificationProposed, StateActive
	}
}

// Valid reports whether s is one of the four statuses.
func (s AssignmentStatus) Valid() bool {
	switch s {
	case StatusProposed, StatusConfirmed, StatusProposalCanceled, StatusConfirmedCanceled:
		return true
	}
	return false
}

// Active reports whether the assignment still counts toward slot demand.
func (s AssignmentStatus) Active() bool {
	return s == StatusProposed || s == StatusConfirmed
}

// Respond returns the status reached when an instructor answers a proposal.
func (s AssignmentStatus) Respond(r ResponseAction) (AssignmentStatus, error) {
	if s != StatusProposed {
		return s, ErrInvalidTransition
	}
	switch r {
	case ResponseAccept:
		return StatusConfirmed, nil
	case ResponseReject:
		return StatusProposalCanceled, nil
	}
	return s, fmt.Errorf("unknown response %q", r)
}

// Cancel returns the status reached when an administrator cancels.
func (s AssignmentStatus) Cancel() (AssignmentStatus, error) {
	switch s {
	case StatusProposed:
		return StatusProposalCanceled, nil
	case StatusConfirmed:
		return StatusConfirmedCanceled, nil
	}
	return s, ErrInvalidTransition
}

// ResponseAction is an instructor's answer to a proposal.
type ResponseAction string

const (
	ResponseAccept ResponseAction = "ACCEPT"
	ResponseReject ResponseAction = "REJECT"
)

// SlotID identifies a session slot as "<unitScheduleId>:<trainingLocationId>".
type SlotID struct {
	UnitScheduleID     string
	TrainingLocationID string
}

// NewSlotID composes a slot id from its parts.
func NewSlotID(scheduleID, locationID string) SlotID {
	return SlotID{UnitScheduleID: scheduleID, TrainingLocationID: locationID}
}

// ParseSlotID parses the "<unitScheduleId>:<trainingLocationId>" form.
func ParseSlotID(raw string) (SlotID, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return SlotID{}, fmt.Errorf("malformed slot id %q", raw)
	}
	return SlotID{UnitScheduleID: strings.TrimSpace(parts[0]), TrainingLocationID: strings.TrimSpace(parts[1])}, nil
}

// String renders the slot id.
func (id SlotID) String() string {
	return id.UnitScheduleID + ":" + id.TrainingLocationID
}

// MarshalText implements encoding.TextMarshaler.
func (id SlotID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *SlotID) UnmarshalText(text []byte) error {
	parsed, err := ParseSlotID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Assignment pairs an instructor with a session slot.
type Assignment struct {
	ID                 string          `db:"id" json:"id"`
	InstructorID       string          `db:"instructor_id" json:"instructorId"`
	UnitScheduleID     string          `db:"unit_schedule_id" json:"unitScheduleId"`
	TrainingLocationID string          `db:"training_location_id" json:"trainingLocationId"`
	Classification     Classification  `db:"classification" json:"classification"`
	State              AssignmentState `db:"state" json:"state"`
	Version            int             `db:"version" json:"version"`
	CreatedAt          time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updatedAt"`
}

// SlotID returns the slot this assignment belongs to.
func (a Assignment) SlotID() SlotID {
	return NewSlotID(a.UnitScheduleID, a.TrainingLocationID)
}

// Status returns the combined status.
func (a Assignment) Status() (AssignmentStatus, error) {
	return StatusFromColumns(a.Classification, a.State)
}

// AssignmentView is an assignment joined with its slot for instructor-facing lists.
type AssignmentView struct {
	Assignment
	UnitID       string     `db:"unit_id" json:"unitId"`
	UnitName     string     `db:"unit_name" json:"unitName"`
	Region       string     `db:"region" json:"region"`
	Address      NullString `db:"address" json:"address"`
	LocationName string     `db:"location_name" json:"locationName"`
	Date         time.Time  `db:"schedule_date" json:"date"`
}

// AssignmentDetail is the full view shown for a confirmed assignment.
type AssignmentDetail struct {
	AssignmentView
	WideArea      string     `db:"wide_area" json:"wideArea"`
	OfficerName   NullString `db:"officer_name" json:"officerName"`
	OfficerPhone  NullString `db:"officer_phone" json:"officerPhone"`
	OfficerEmail  NullString `db:"officer_email" json:"officerEmail"`
	WorkStartTime NullString `db:"work_start_time" json:"workStartTime"`
	WorkEndTime   NullString `db:"work_end_time" json:"workEndTime"`
	Note          *string    `db:"note" json:"note,omitempty"`
}
