package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

// memAssignmentStore applies each write atomically under a mutex, the way a
// single conditional UPDATE behaves in Postgres.
type memAssignmentStore struct {
	mu    sync.Mutex
	rows  []*models.Assignment
	dates map[string]time.Time
	seq   int
}

func newMemAssignmentStore() *memAssignmentStore {
	return &memAssignmentStore{dates: make(map[string]time.Time)}
}

func sameSlot(a *models.Assignment, slot models.SlotID, instructorID string) bool {
	return a.InstructorID == instructorID && a.UnitScheduleID == slot.UnitScheduleID && a.TrainingLocationID == slot.TrainingLocationID
}

func (m *memAssignmentStore) Propose(ctx context.Context, a *models.Assignment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if sameSlot(row, a.SlotID(), a.InstructorID) && row.State == models.StateActive {
			return false, nil
		}
	}
	m.seq++
	a.ID = fmt.Sprintf("a-%d", m.seq)
	a.Classification = models.ClassificationProposed
	a.State = models.StateActive
	a.Version = 1
	cp := *a
	m.rows = append(m.rows, &cp)
	return true, nil
}

func (m *memAssignmentStore) Respond(ctx context.Context, slot models.SlotID, instructorID string, next models.AssignmentStatus) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if sameSlot(row, slot, instructorID) && row.State == models.StateActive && row.Classification == models.ClassificationProposed {
			row.Classification, row.State = next.Columns()
			row.Version++
			cp := *row
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memAssignmentStore) Cancel(ctx context.Context, slot models.SlotID, instructorID string, expectedVersion *int) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if !sameSlot(row, slot, instructorID) || row.State != models.StateActive {
			continue
		}
		if expectedVersion != nil && row.Version != *expectedVersion {
			continue
		}
		row.State = models.StateCanceled
		row.Version++
		cp := *row
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memAssignmentStore) FindLatest(ctx context.Context, slot models.SlotID, instructorID string) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Assignment
	for _, row := range m.rows {
		if !sameSlot(row, slot, instructorID) {
			continue
		}
		if row.State == models.StateActive {
			cp := *row
			return &cp, nil
		}
		latest = row
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	cp := *latest
	return &cp, nil
}

func (m *memAssignmentStore) views(instructorID string, keep func(*models.Assignment, time.Time) bool) []models.AssignmentView {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AssignmentView
	for _, row := range m.rows {
		date := m.dates[row.SlotID().String()]
		if row.InstructorID == instructorID && keep(row, date) {
			out = append(out, models.AssignmentView{Assignment: *row, Date: date})
		}
	}
	return out
}

func (m *memAssignmentStore) ListUpcoming(ctx context.Context, instructorID string, today time.Time) ([]models.AssignmentView, error) {
	return m.views(instructorID, func(a *models.Assignment, date time.Time) bool {
		return a.State == models.StateActive && !date.Before(today)
	}), nil
}

func (m *memAssignmentStore) ListHistory(ctx context.Context, instructorID string, today time.Time) ([]models.AssignmentView, error) {
	return m.views(instructorID, func(a *models.Assignment, date time.Time) bool {
		return a.State == models.StateActive && a.Classification == models.ClassificationConfirmed && date.Before(today)
	}), nil
}

func (m *memAssignmentStore) GetDetail(ctx context.Context, slot models.SlotID, instructorID string) (*models.AssignmentDetail, error) {
	row, err := m.FindLatest(ctx, slot, instructorID)
	if err != nil {
		return nil, err
	}
	return &models.AssignmentDetail{AssignmentView: models.AssignmentView{Assignment: *row}}, nil
}

type slotLookupStub struct {
	slots map[string]*models.SessionSlot
}

func (s *slotLookupStub) GetSlot(ctx context.Context, id models.SlotID) (*models.SessionSlot, error) {
	if slot, ok := s.slots[id.String()]; ok {
		return slot, nil
	}
	return nil, sql.ErrNoRows
}

type instructorLookupStub struct {
	ids map[string]bool
}

func (s *instructorLookupStub) GetInstructor(ctx context.Context, id string) (*models.Instructor, error) {
	if s.ids[id] {
		return &models.Instructor{ID: id, Name: "Instructor " + id}, nil
	}
	return nil, sql.ErrNoRows
}

type candidateLoaderStub struct {
	set *CandidateSet
}

func (c *candidateLoaderStub) ParseRange(startRaw, endRaw string) (dateRange, error) {
	return parseDateRange(startRaw, endRaw, time.UTC, 31)
}

func (c *candidateLoaderStub) Load(ctx context.Context, r dateRange) (*CandidateSet, error) {
	return c.set, nil
}

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newAssignmentServiceForTest(store *memAssignmentStore, loader candidateLoader) *AssignmentService {
	return NewAssignmentService(AssignmentServiceParams{
		Assignments: store,
		Slots: &slotLookupStub{slots: map[string]*models.SessionSlot{
			"s-1:l-1": {UnitScheduleID: "s-1", TrainingLocationID: "l-1", RequiredCount: 2},
		}},
		Instructors: &instructorLookupStub{ids: map[string]bool{"i-1": true, "i-2": true}},
		Candidates:  loader,
		Now:         func() time.Time { return fixedNow },
	})
}

func TestProposeConcurrentExactlyOneSucceeds(t *testing.T) {
	store := newMemAssignmentStore()
	svc := newAssignmentServiceForTest(store, nil)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Propose(context.Background(), dto.ProposeRequest{InstructorID: "i-1", SlotID: "s-1:l-1"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, conflicts := 0, 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, appErrors.ErrAlreadyProcessed)
		conflicts++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)
}

func TestProposeValidatesReferences(t *testing.T) {
	svc := newAssignmentServiceForTest(newMemAssignmentStore(), nil)

	_, err := svc.Propose(context.Background(), dto.ProposeRequest{InstructorID: "i-1", SlotID: "bogus"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Propose(context.Background(), dto.ProposeRequest{InstructorID: "i-1", SlotID: "s-9:l-9"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.Propose(context.Background(), dto.ProposeRequest{InstructorID: "ghost", SlotID: "s-1:l-1"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.Propose(context.Background(), dto.ProposeRequest{SlotID: "s-1:l-1"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRespondAcceptRacingCancelAppliesExactlyOne(t *testing.T) {
	for round := 0; round < 50; round++ {
		store := newMemAssignmentStore()
		svc := newAssignmentServiceForTest(store, nil)
		proposed, err := svc.Propose(context.Background(), dto.ProposeRequest{InstructorID: "i-1", SlotID: "s-1:l-1"})
		require.NoError(t, err)
		seen := proposed.Version

		var wg sync.WaitGroup
		var respondErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, respondErr = svc.Respond(context.Background(), "i-1", "s-1:l-1", dto.RespondRequest{Response: "ACCEPT"})
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = svc.Cancel(context.Background(), "s-1:l-1", dto.CancelRequest{InstructorID: "i-1", ExpectedVersion: &seen})
		}()
		wg.Wait()

		require.True(t, (respondErr == nil) != (cancelErr == nil), "round %d: respond=%v cancel=%v", round, respondErr, cancelErr)
		latest, err := store.FindLatest(context.Background(), models.NewSlotID("s-1", "l-1"), "i-1")
		require.NoError(t, err)
		status, err := latest.Status()
		require.NoError(t, err)
		if respondErr == nil {
			assert.ErrorIs(t, cancelErr, appErrors.ErrAlreadyProcessed)
			assert.Equal(t, models.StatusConfirmed, status)
		} else {
			assert.ErrorIs(t, respondErr, appErrors.ErrAlreadyProcessed)
			assert.Equal(t, models.StatusProposalCanceled, status)
		}
	}
}

func TestCancelAlreadyCanceledIsNoop(t *testing.T) {
	store := newMemAssignmentStore()
	svc := newAssignmentServiceForTest(store, nil)
	_, err := svc.Propose(context.Background(), dto.ProposeRequest{InstructorID: "i-1", SlotID: "s-1:l-1"})
	require.NoError(t, err)
	_, err = svc.Respond(context.Background(), "i-1", "s-1:l-1", dto.RespondRequest{Response: "ACCEPT"})
	require.NoError(t, err)

	first, err := svc.Cancel(context.Background(), "s-1:l-1", dto.CancelRequest{InstructorID: "i-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StateCanceled, first.State)

	second, err := svc.Cancel(context.Background(), "s-1:l-1", dto.CancelRequest{InstructorID: "i-1"})
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, models.ClassificationConfirmed, second.Classification)
	assert.Equal(t, models.StateCanceled, second.State)
}

func TestCancelUnknownAssignmentIsNotFound(t *testing.T) {
	svc := newAssignmentServiceForTest(newMemAssignmentStore(), nil)
	_, err := svc.Cancel(context.Background(), "s-1:l-1", dto.CancelRequest{InstructorID: "i-1"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCancelStaleVersionConflicts(t *testing.T) {
	store := newMemAssignmentStore()
	svc := newAssignmentServiceForTest(store, nil)
	_, err := svc.Propose(context.Background(), dto.ProposeRequest{InstructorID: "i-1", SlotID: "s-1:l-1"})
	require.NoError(t, err)
	_, err = svc.Respond(context.Background(), "i-1", "s-1:l-1", dto.RespondRequest{Response: "ACCEPT"})
	require.NoError(t, err)

	stale := 1
	_, err = svc.Cancel(context.Background(), "s-1:l-1", dto.CancelRequest{InstructorID: "i-1", ExpectedVersion: &stale})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyProcessed)
}

func TestCancelWithoutVersionAppliesAfterAccept(t *testing.T) {
	store := newMemAssignmentStore()
	svc := newAssignmentServiceForTest(store, nil)
	proposed, err := svc.Propose(context.Background(), dto.ProposeRequest{InstructorID: "i-1", SlotID: "s-1:l-1"})
	require.NoError(t, err)
	seen := proposed.Version
	_, err = svc.Respond(context.Background(), "i-1", "s-1:l-1", dto.RespondRequest{Response: "ACCEPT"})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), "s-1:l-1", dto.CancelRequest{InstructorID: "i-1", ExpectedVersion: &seen})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyProcessed)

	canceled, err := svc.Cancel(context.Background(), "s-1:l-1", dto.CancelRequest{InstructorID: "i-1"})
	require.NoError(t, err)
	status, err := canceled.Status()
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmedCanceled, status)
}

func TestRejectThenRespondAgainConflicts(t *testing.T) {
	store := newMemAssignmentStore()
	svc := newAssignmentServiceForTest(store, nil)
	_, err := svc.Propose(context.Background(), dto.ProposeRequest{InstructorID: "i-1", SlotID: "s-1:l-1"})
	require.NoError(t, err)

	rejected, err := svc.Respond(context.Background(), "i-1", "s-1:l-1", dto.RespondRequest{Response: "REJECT"})
	require.NoError(t, err)
	assert.Equal(t, models.StateCanceled, rejected.State)

	_, err = svc.Respond(context.Background(), "i-1", "s-1:l-1", dto.RespondRequest{Response: "ACCEPT"})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyProcessed)
}

func TestRespondValidation(t *testing.T) {
	svc := newAssignmentServiceForTest(newMemAssignmentStore(), nil)

	_, err := svc.Respond(context.Background(), "i-1", "s-1:l-1", dto.RespondRequest{Response: "MAYBE"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Respond(context.Background(), "i-1", "s-1:l-1", dto.RespondRequest{Response: "ACCEPT"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestHistoryAndUpcomingPartition(t *testing.T) {
	store := newMemAssignmentStore()
	svc := newAssignmentServiceForTest(store, nil)
	yesterday := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
	tomorrow := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	store.dates["s-past:l-1"] = yesterday
	store.dates["s-next:l-1"] = tomorrow

	for _, slot := range []models.SlotID{models.NewSlotID("s-past", "l-1"), models.NewSlotID("s-next", "l-1")} {
		a := &models.Assignment{InstructorID: "i-1", UnitScheduleID: slot.UnitScheduleID, TrainingLocationID: slot.TrainingLocationID}
		_, err := store.Propose(context.Background(), a)
		require.NoError(t, err)
		_, err = store.Respond(context.Background(), slot, "i-1", models.StatusConfirmed)
		require.NoError(t, err)
	}

	history, err := svc.History(context.Background(), "i-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "s-past", history[0].UnitScheduleID)

	upcoming, err := svc.Upcoming(context.Background(), "i-1")
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "s-next", upcoming[0].UnitScheduleID)
}

func TestDetailOnlyForConfirmedActive(t *testing.T) {
	store := newMemAssignmentStore()
	svc := newAssignmentServiceForTest(store, nil)
	_, err := svc.Propose(context.Background(), dto.ProposeRequest{InstructorID: "i-1", SlotID: "s-1:l-1"})
	require.NoError(t, err)

	_, err = svc.Detail(context.Background(), "i-1", "s-1:l-1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Respond(context.Background(), "i-1", "s-1:l-1", dto.RespondRequest{Response: "ACCEPT"})
	require.NoError(t, err)
	detail, err := svc.Detail(context.Background(), "i-1", "s-1:l-1")
	require.NoError(t, err)
	assert.Equal(t, models.ClassificationConfirmed, detail.Classification)

	_, err = svc.Detail(context.Background(), "i-2", "s-1:l-1")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func scenarioSet() *CandidateSet {
	return &CandidateSet{
		Slots: []models.SessionSlot{
			{UnitScheduleID: "s-b", TrainingLocationID: "l-1", UnitID: "u-b", UnitName: "Unit B", Date: day1, RequiredCount: 1},
			{UnitScheduleID: "s-a", TrainingLocationID: "l-1", UnitID: "u-a", UnitName: "Unit A", Date: day1, RequiredCount: 2},
		},
		Instructors: []models.AvailableInstructor{
			{Instructor: models.Instructor{ID: "i-1", Name: "Kim"}, AvailableDates: []string{"2025-03-03"}},
			{Instructor: models.Instructor{ID: "i-2", Name: "Lee"}, AvailableDates: []string{"2025-03-03"}},
		},
		Distances: DistanceTable{},
	}
}

func TestAutoAssignPreviewDoesNotWrite(t *testing.T) {
	store := newMemAssignmentStore()
	svc := newAssignmentServiceForTest(store, &candidateLoaderStub{set: scenarioSet()})

	resp, err := svc.AutoAssign(context.Background(), dto.AutoAssignRequest{StartDate: "2025-03-03", EndDate: "2025-03-03"})
	require.NoError(t, err)
	assert.Equal(t, dto.ModePreview, resp.Mode)
	require.Len(t, resp.Units, 1)
	assert.Equal(t, "u-a", resp.Units[0].UnitID)
	require.Len(t, resp.Units[0].Proposals, 2)
	assert.Equal(t, "Kim", resp.Units[0].Proposals[0].InstructorName)
	require.Len(t, resp.Deficiencies, 1)
	assert.Equal(t, models.NewSlotID("s-b", "l-1"), resp.Deficiencies[0].SlotID)
	assert.Empty(t, store.rows)
}

func TestAutoAssignCommitReportsConflicts(t *testing.T) {
	store := newMemAssignmentStore()
	svc := newAssignmentServiceForTest(store, &candidateLoaderStub{set: scenarioSet()})
	req := dto.AutoAssignRequest{StartDate: "2025-03-03", EndDate: "2025-03-03", Commit: true}

	first, err := svc.AutoAssign(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 0, first.Conflicts)
	assert.Equal(t, dto.ProposalCreated, first.Units[0].Proposals[0].Status)

	second, err := svc.AutoAssign(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Conflicts)
	assert.Len(t, store.rows, 2)
}

func TestAutoAssignRejectsInvalidRange(t *testing.T) {
	svc := newAssignmentServiceForTest(newMemAssignmentStore(), &candidateLoaderStub{set: scenarioSet()})
	_, err := svc.AutoAssign(context.Background(), dto.AutoAssignRequest{StartDate: "2025-03-05", EndDate: "2025-03-03"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
