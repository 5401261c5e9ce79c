package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

// Assignment commands recorded in metrics.
const (
	CommandPropose = "propose"
	CommandRespond = "respond"
	CommandCancel  = "cancel"
)

type assignmentStore interface {
	Propose(ctx context.Context, a *models.Assignment) (bool, error)
	Respond(ctx context.Context, slot models.SlotID, instructorID string, next models.AssignmentStatus) (*models.Assignment, error)
	Cancel(ctx context.Context, slot models.SlotID, instructorID string, expectedVersion *int) (*models.Assignment, error)
	FindLatest(ctx context.Context, slot models.SlotID, instructorID string) (*models.Assignment, error)
	ListUpcoming(ctx context.Context, instructorID string, today time.Time) ([]models.AssignmentView, error)
	ListHistory(ctx context.Context, instructorID string, today time.Time) ([]models.AssignmentView, error)
	GetDetail(ctx context.Context, slot models.SlotID, instructorID string) (*models.AssignmentDetail, error)
}

type slotLookup interface {
	GetSlot(ctx context.Context, id models.SlotID) (*models.SessionSlot, error)
}

type instructorLookup interface {
	GetInstructor(ctx context.Context, id string) (*models.Instructor, error)
}

type candidateLoader interface {
	ParseRange(startRaw, endRaw string) (dateRange, error)
	Load(ctx context.Context, r dateRange) (*CandidateSet, error)
}

// AssignmentServiceParams wires the assignment command handlers.
type AssignmentServiceParams struct {
	Assignments assignmentStore
	Slots       slotLookup
	Instructors instructorLookup
	Candidates  candidateLoader
	Cache       *CacheService
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
	Location    *time.Location
	Now         func() time.Time
}

// AssignmentService runs the assignment state machine. Each transition is one
// conditional write; a write that matches no row is resolved into NotFound or
// an already-processed conflict by reading the row afterwards.
type AssignmentService struct {
	assignments assignmentStore
	slots       slotLookup
	instructors instructorLookup
	candidates  candidateLoader
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	loc         *time.Location
	now         func() time.Time
}

// NewAssignmentService constructs the service.
func NewAssignmentService(p AssignmentServiceParams) *AssignmentService {
	if p.Validator == nil {
		p.Validator = validator.New()
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &AssignmentService{
		assignments: p.Assignments,
		slots:       p.Slots,
		instructors: p.Instructors,
		candidates:  p.Candidates,
		cache:       p.Cache,
		metrics:     p.Metrics,
		validator:   p.Validator,
		logger:      p.Logger,
		loc:         p.Location,
		now:         p.Now,
	}
}

// Propose creates a Proposed+Active assignment for an instructor on a slot.
func (s *AssignmentService) Propose(ctx context.Context, req dto.ProposeRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid propose payload")
	}
	slotID, err := parseSlot(req.SlotID)
	if err != nil {
		return nil, err
	}
	if _, err := s.slots.GetSlot(ctx, slotID); err != nil {
		return nil, notFoundOr(err, "slot not found", "failed to load slot")
	}
	if _, err := s.instructors.GetInstructor(ctx, req.InstructorID); err != nil {
		return nil, notFoundOr(err, "instructor not found", "failed to load instructor")
	}

	assignment, err := s.insertProposal(ctx, req.InstructorID, slotID)
	s.metrics.RecordTransition(CommandPropose, err)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateCandidates(ctx)
	s.logger.Info("assignment proposed", zap.String("assignment_id", assignment.ID), zap.String("instructor_id", req.InstructorID), zap.String("slot_id", slotID.String()))
	return assignment, nil
}

func (s *AssignmentService) insertProposal(ctx context.Context, instructorID string, slotID models.SlotID) (*models.Assignment, error) {
	assignment := &models.Assignment{
		InstructorID:       instructorID,
		UnitScheduleID:     slotID.UnitScheduleID,
		TrainingLocationID: slotID.TrainingLocationID,
	}
	inserted, err := s.assignments.Propose(ctx, assignment)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}
	if !inserted {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "instructor already holds an active assignment for this slot")
	}
	return assignment, nil
}

// AutoAssign runs the matcher over a range. Without Commit it only previews;
// with Commit every proposal goes through the same guarded insert as Propose
// and insert conflicts are reported per proposal.
func (s *AssignmentService) AutoAssign(ctx context.Context, req dto.AutoAssignRequest) (*dto.AutoAssignResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid auto-assign payload")
	}
	r, err := s.candidates.ParseRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	set, err := s.candidates.Load(ctx, r)
	if err != nil {
		return nil, err
	}

	match := Match(set.Slots, set.Instructors, set.Distances)
	names := make(map[string]string, len(set.Instructors))
	for _, inst := range set.Instructors {
		names[inst.ID] = inst.Name
	}

	resp := &dto.AutoAssignResponse{
		Mode:         dto.ModePreview,
		StartDate:    r.Start.Format(models.DateLayout),
		EndDate:      r.End.Format(models.DateLayout),
		Units:        []dto.UnitProposals{},
		Deficiencies: make([]dto.SlotDeficiency, 0, len(match.Shortfalls)),
	}
	if req.Commit {
		resp.Mode = dto.ModeCommit
	}

	unitIndex := make(map[string]int)
	for _, p := range match.Proposals {
		item := dto.ProposalItem{
			InstructorID:   p.InstructorID,
			InstructorName: names[p.InstructorID],
			SlotID:         p.Slot.ID(),
			Date:           p.Slot.DateKey(),
			LocationName:   p.Slot.LocationName,
			DistanceMeters: p.DistanceMeters,
		}
		if req.Commit {
			assignment, err := s.insertProposal(ctx, p.InstructorID, p.Slot.ID())
			s.metrics.RecordTransition(CommandPropose, err)
			switch {
			case err == nil:
				item.Status = dto.ProposalCreated
				item.AssignmentID = assignment.ID
				resp.Created++
			case errors.Is(err, appErrors.ErrAlreadyProcessed):
				item.Status = dto.ProposalConflict
				resp.Conflicts++
			default:
				return nil, err
			}
		}

		pos, ok := unitIndex[p.Slot.UnitID]
		if !ok {
			pos = len(resp.Units)
			unitIndex[p.Slot.UnitID] = pos
			resp.Units = append(resp.Units, dto.UnitProposals{UnitID: p.Slot.UnitID, UnitName: p.Slot.UnitName, Proposals: []dto.ProposalItem{}})
		}
		resp.Units[pos].Proposals = append(resp.Units[pos].Proposals, item)
	}
	for _, sf := range match.Shortfalls {
		resp.Deficiencies = append(resp.Deficiencies, dto.SlotDeficiency{
			SlotID:   sf.Slot.ID(),
			Date:     sf.Slot.DateKey(),
			Required: sf.Slot.Remaining(),
			Filled:   sf.Filled,
		})
	}

	s.metrics.ObserveMatch(resp.Mode, len(match.Proposals))
	if resp.Created > 0 {
		s.cache.InvalidateCandidates(ctx)
	}
	s.logger.Info("auto-assign finished",
		zap.String("mode", resp.Mode),
		zap.String("range", r.String()),
		zap.Int("proposals", len(match.Proposals)),
		zap.Int("created", resp.Created),
		zap.Int("conflicts", resp.Conflicts),
		zap.Int("deficiencies", len(resp.Deficiencies)))
	return resp, nil
}

// Respond applies an instructor's ACCEPT or REJECT to their proposal.
func (s *AssignmentService) Respond(ctx context.Context, instructorID, slotRaw string, req dto.RespondRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "response must be ACCEPT or REJECT")
	}
	slotID, err := parseSlot(slotRaw)
	if err != nil {
		return nil, err
	}
	next, err := models.StatusProposed.Respond(models.ResponseAction(req.Response))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "response must be ACCEPT or REJECT")
	}

	assignment, err := s.assignments.Respond(ctx, slotID, instructorID, next)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = s.resolveMiss(ctx, slotID, instructorID)
		} else {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to respond to assignment")
		}
		s.metrics.RecordTransition(CommandRespond, err)
		return nil, err
	}

	s.metrics.RecordTransition(CommandRespond, nil)
	s.cache.InvalidateCandidates(ctx)
	s.logger.Info("assignment responded", zap.String("assignment_id", assignment.ID), zap.String("response", req.Response))
	return assignment, nil
}

// Cancel cancels the instructor's active assignment on the slot. Canceling an
// already canceled assignment returns it unchanged.
func (s *AssignmentService) Cancel(ctx context.Context, slotRaw string, req dto.CancelRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancel payload")
	}
	slotID, err := parseSlot(slotRaw)
	if err != nil {
		return nil, err
	}

	assignment, err := s.assignments.Cancel(ctx, slotID, req.InstructorID, req.ExpectedVersion)
	if err == nil {
		s.metrics.RecordTransition(CommandCancel, nil)
		s.cache.InvalidateCandidates(ctx)
		s.logger.Info("assignment canceled", zap.String("assignment_id", assignment.ID), zap.String("slot_id", slotID.String()))
		return assignment, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel assignment")
		s.metrics.RecordTransition(CommandCancel, err)
		return nil, err
	}

	latest, err := s.assignments.FindLatest(ctx, slotID, req.InstructorID)
	if err != nil {
		err = notFoundOr(err, "assignment not found", "failed to load assignment")
		s.metrics.RecordTransition(CommandCancel, err)
		return nil, err
	}
	if latest.State == models.StateCanceled {
		return latest, nil
	}
	err = appErrors.Clone(appErrors.ErrAlreadyProcessed, "assignment changed since it was read")
	s.metrics.RecordTransition(CommandCancel, err)
	return nil, err
}

// Upcoming lists the instructor's active assignments from today on.
func (s *AssignmentService) Upcoming(ctx context.Context, instructorID string) ([]models.AssignmentView, error) {
	items, err := s.assignments.ListUpcoming(ctx, instructorID, s.today())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list upcoming assignments")
	}
	return nonNilViews(items), nil
}

// History lists the instructor's confirmed assignments before today.
func (s *AssignmentService) History(ctx context.Context, instructorID string) ([]models.AssignmentView, error) {
	items, err := s.assignments.ListHistory(ctx, instructorID, s.today())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignment history")
	}
	return nonNilViews(items), nil
}

// Detail returns full unit detail, only for Confirmed+Active assignments.
func (s *AssignmentService) Detail(ctx context.Context, instructorID, slotRaw string) (*models.AssignmentDetail, error) {
	slotID, err := parseSlot(slotRaw)
	if err != nil {
		return nil, err
	}
	detail, err := s.assignments.GetDetail(ctx, slotID, instructorID)
	if err != nil {
		return nil, notFoundOr(err, "assignment not found", "failed to load assignment")
	}
	status, err := detail.Status()
	if err != nil || status != models.StatusConfirmed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "detail is available for confirmed assignments only")
	}
	return detail, nil
}

// resolveMiss explains a conditional write that matched no row.
func (s *AssignmentService) resolveMiss(ctx context.Context, slotID models.SlotID, instructorID string) error {
	if _, err := s.assignments.FindLatest(ctx, slotID, instructorID); err != nil {
		return notFoundOr(err, "assignment not found", "failed to load assignment")
	}
	return appErrors.Clone(appErrors.ErrAlreadyProcessed, "")
}

func (s *AssignmentService) today() time.Time {
	return dayOf(s.now(), s.loc)
}

func parseSlot(raw string) (models.SlotID, error) {
	id, err := models.ParseSlotID(raw)
	if err != nil {
		return models.SlotID{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot id")
	}
	return id, nil
}

func nonNilViews(items []models.AssignmentView) []models.AssignmentView {
	if items == nil {
		return []models.AssignmentView{}
	}
	return items
}
