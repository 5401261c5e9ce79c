package dto

import "github.com/noah-isme/instructor-dispatch-api/internal/models"

// CandidatesQuery captures the date range for candidate lookup.
type CandidatesQuery struct {
	StartDate string `form:"startDate" json:"startDate" validate:"required"`
	EndDate   string `form:"endDate" json:"endDate" validate:"required"`
}

// SlotCard is an unfilled slot with distance hints for the instructors free that day.
type SlotCard struct {
	SlotID        models.SlotID         `json:"slotId"`
	UnitID        string                `json:"unitId"`
	UnitName      string                `json:"unitName"`
	Region        string                `json:"region"`
	WideArea      string                `json:"wideArea"`
	Address       string                `json:"address"`
	LocationName  string                `json:"locationName"`
	OfficerName   string                `json:"officerName"`
	Date          string                `json:"date"`
	RequiredCount int                   `json:"requiredCount"`
	ActiveCount   int                   `json:"activeCount"`
	DistanceHints []models.DistanceHint `json:"distanceHints"`
}

// CandidatesResponse lists slots still needing instructors and instructors free in the range.
type CandidatesResponse struct {
	StartDate            string                       `json:"startDate"`
	EndDate              string                       `json:"endDate"`
	UnassignedSlots      []SlotCard                   `json:"unassignedSlots"`
	AvailableInstructors []models.AvailableInstructor `json:"availableInstructors"`
	PendingDistances     int                          `json:"pendingDistances"`
}

// AutoAssignRequest runs the matcher over a range, persisting proposals when Commit is set.
type AutoAssignRequest struct {
	StartDate string `json:"startDate" validate:"required"`
	EndDate   string `json:"endDate" validate:"required"`
	Commit    bool   `json:"commit"`
}

// ProposalItem is one instructor suggested for a slot.
type ProposalItem struct {
	InstructorID   string        `json:"instructorId"`
	InstructorName string        `json:"instructorName"`
	SlotID         models.SlotID `json:"slotId"`
	Date           string        `json:"date"`
	LocationName   string        `json:"locationName"`
	DistanceMeters *int          `json:"distanceMeters"`
	Status         string        `json:"status,omitempty"`
	AssignmentID   string        `json:"assignmentId,omitempty"`
}

// SlotDeficiency reports a slot the matcher could not fully staff.
type SlotDeficiency struct {
	SlotID   models.SlotID `json:"slotId"`
	Date     string        `json:"date"`
	Required int           `json:"required"`
	Filled   int           `json:"filled"`
}

// UnitProposals groups proposals by unit for display.
type UnitProposals struct {
	UnitID    string         `json:"unitId"`
	UnitName  string         `json:"unitName"`
	Proposals []ProposalItem `json:"proposals"`
}

// AutoAssignResponse is the result of a matching pass.
type AutoAssignResponse struct {
	Mode         string           `json:"mode"`
	StartDate    string           `json:"startDate"`
	EndDate      string           `json:"endDate"`
	Units        []UnitProposals  `json:"units"`
	Deficiencies []SlotDeficiency `json:"deficiencies"`
	Created      int              `json:"created"`
	Conflicts    int              `json:"conflicts"`
}

// Matching modes.
const (
	ModePreview = "preview"
	ModeCommit  = "commit"
)

// Proposal outcomes when committing.
const (
	ProposalCreated  = "CREATED"
	ProposalConflict = "CONFLICT"
)

// ProposeRequest creates one proposal manually.
type ProposeRequest struct {
	InstructorID string `json:"instructorId" validate:"required"`
	SlotID       string `json:"slotId" validate:"required"`
}

// RespondRequest is an instructor's answer to a proposal.
type RespondRequest struct {
	Response string `json:"response" validate:"required,oneof=ACCEPT REJECT"`
}

// CancelRequest cancels an instructor's active assignment on a slot.
// Without ExpectedVersion the cancel applies to whatever the active row is at
// write time, so a cancel that lands after an accept cancels the confirmed
// assignment. Pass the version that was read to make the cancel fail with
// ASSIGNMENT_CONFLICT instead.
type CancelRequest struct {
	InstructorID    string `json:"instructorId" validate:"required"`
	ExpectedVersion *int   `json:"expectedVersion" validate:"omitempty,min=1"`
}

// HistoryExportQuery selects the export format.
type HistoryExportQuery struct {
	Format string `form:"format" validate:"omitempty,oneof=csv pdf"`
}
