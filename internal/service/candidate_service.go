package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

type slotReader interface {
	ListSlotsInRange(ctx context.Context, start, end time.Time) ([]models.SessionSlot, error)
}

type availabilityReader interface {
	ListAvailableInRange(ctx context.Context, start, end time.Time) ([]models.AvailableInstructor, error)
}

type busyDateReader interface {
	ListActiveInRange(ctx context.Context, start, end time.Time) ([]models.BusyDate, error)
}

type knownDistanceReader interface {
	KnownDistances(ctx context.Context, instructorIDs, unitIDs []string) (DistanceTable, error)
}

type distanceWarmQueue interface {
	Warm(pairs []models.DistancePair) int
}

// CandidateSet is the staffing picture for a date range.
type CandidateSet struct {
	Range       dateRange
	Slots       []models.SessionSlot
	Instructors []models.AvailableInstructor
	Distances   DistanceTable
	Missing     []models.DistancePair
}

// CandidateServiceParams wires the candidate aggregator.
type CandidateServiceParams struct {
	Slots        slotReader
	Instructors  availabilityReader
	Assignments  busyDateReader
	Distances    knownDistanceReader
	Warmer       distanceWarmQueue
	Cache        *CacheService
	Logger       *zap.Logger
	Location     *time.Location
	MaxRangeDays int
	CacheTTL     time.Duration
	WarmOnRead   bool
}

// CandidateService aggregates unfilled slots and free instructors for a range.
// It only reads; missing distances are handed to the warmer.
type CandidateService struct {
	slots        slotReader
	instructors  availabilityReader
	assignments  busyDateReader
	distances    knownDistanceReader
	warmer       distanceWarmQueue
	cache        *CacheService
	logger       *zap.Logger
	loc          *time.Location
	maxRangeDays int
	cacheTTL     time.Duration
	warmOnRead   bool
}

// NewCandidateService constructs the aggregator.
func NewCandidateService(p CandidateServiceParams) *CandidateService {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
	return &CandidateService{
		slots:        p.Slots,
		instructors:  p.Instructors,
		assignments:  p.Assignments,
		distances:    p.Distances,
		warmer:       p.Warmer,
		cache:        p.Cache,
		logger:       p.Logger,
		loc:          p.Location,
		maxRangeDays: p.MaxRangeDays,
		cacheTTL:     p.CacheTTL,
		warmOnRead:   p.WarmOnRead,
	}
}

// ParseRange validates a raw date range against the configured limits.
func (s *CandidateService) ParseRange(startRaw, endRaw string) (dateRange, error) {
	return parseDateRange(startRaw, endRaw, s.loc, s.maxRangeDays)
}

// Candidates returns slot cards with distance hints and the free instructors.
func (s *CandidateService) Candidates(ctx context.Context, startRaw, endRaw string) (*dto.CandidatesResponse, error) {
	r, err := s.ParseRange(startRaw, endRaw)
	if err != nil {
		return nil, err
	}

	key, cacheable := s.cache.CandidatesKey(ctx, r.Start, r.End)
	var cached dto.CandidatesResponse
	if cacheable && s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	set, err := s.Load(ctx, r)
	if err != nil {
		return nil, err
	}

	pending := 0
	if s.warmOnRead && s.warmer != nil && len(set.Missing) > 0 {
		pending = s.warmer.Warm(set.Missing)
	}

	resp := &dto.CandidatesResponse{
		StartDate:            r.Start.Format(models.DateLayout),
		EndDate:              r.End.Format(models.DateLayout),
		UnassignedSlots:      make([]dto.SlotCard, 0, len(set.Slots)),
		AvailableInstructors: set.Instructors,
		PendingDistances:     pending,
	}
	for _, slot := range set.Slots {
		resp.UnassignedSlots = append(resp.UnassignedSlots, slotCard(slot, set))
	}

	if cacheable && len(set.Missing) == 0 {
		s.cache.Set(ctx, key, resp, s.cacheTTL)
	}
	return resp, nil
}

// Load reads slots, instructors and busy dates concurrently and joins them
// with cached distances.
func (s *CandidateService) Load(ctx context.Context, r dateRange) (*CandidateSet, error) {
	var (
		slots       []models.SessionSlot
		instructors []models.AvailableInstructor
		busy        []models.BusyDate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		slots, err = s.slots.ListSlotsInRange(gctx, r.Start, r.End)
		return err
	})
	g.Go(func() error {
		var err error
		instructors, err = s.instructors.ListAvailableInRange(gctx, r.Start, r.End)
		return err
	})
	g.Go(func() error {
		var err error
		busy, err = s.assignments.ListActiveInRange(gctx, r.Start, r.End)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load candidates")
	}

	set := &CandidateSet{Range: r, Slots: make([]models.SessionSlot, 0, len(slots)), Instructors: attachBusyDates(instructors, busy)}
	unitIDs := make([]string, 0)
	seenUnits := make(map[string]struct{})
	for _, slot := range slots {
		if !slot.Unfilled() {
			continue
		}
		set.Slots = append(set.Slots, slot)
		if _, ok := seenUnits[slot.UnitID]; !ok {
			seenUnits[slot.UnitID] = struct{}{}
			unitIDs = append(unitIDs, slot.UnitID)
		}
	}
	instructorIDs := make([]string, 0, len(set.Instructors))
	for _, inst := range set.Instructors {
		instructorIDs = append(instructorIDs, inst.ID)
	}

	distances, err := s.distances.KnownDistances(ctx, instructorIDs, unitIDs)
	if err != nil {
		return nil, err
	}
	set.Distances = distances
	set.Missing = missingPairs(set)
	return set, nil
}

func attachBusyDates(instructors []models.AvailableInstructor, busy []models.BusyDate) []models.AvailableInstructor {
	byInstructor := make(map[string][]string)
	for _, b := range busy {
		byInstructor[b.InstructorID] = append(byInstructor[b.InstructorID], b.Date.Format(models.DateLayout))
	}
	out := make([]models.AvailableInstructor, 0, len(instructors))
	for _, inst := range instructors {
		dates := byInstructor[inst.ID]
		sort.Strings(dates)
		if dates == nil {
			dates = []string{}
		}
		inst.BusyDates = dates
		if inst.AvailableDates == nil {
			inst.AvailableDates = []string{}
		}
		out = append(out, inst)
	}
	return out
}

// missingPairs lists pairs of slot units and instructors free on the slot date
// that have no cached distance.
func missingPairs(set *CandidateSet) []models.DistancePair {
	seen := make(map[models.DistancePair]struct{})
	pairs := make([]models.DistancePair, 0)
	for _, slot := range set.Slots {
		date := slot.DateKey()
		for _, inst := range set.Instructors {
			if !inst.IsAvailableOn(date) {
				continue
			}
			pair := models.DistancePair{InstructorID: inst.ID, UnitID: slot.UnitID}
			if _, known := set.Distances[pair]; known {
				continue
			}
			if _, dup := seen[pair]; dup {
				continue
			}
			seen[pair] = struct{}{}
			pairs = append(pairs, pair)
		}
	}
	return pairs
}

func slotCard(slot models.SessionSlot, set *CandidateSet) dto.SlotCard {
	date := slot.DateKey()
	hints := make([]models.DistanceHint, 0)
	ranked := make([]rankedInstructor, 0)
	for _, inst := range set.Instructors {
		if !inst.IsAvailableOn(date) {
			continue
		}
		meters, known := set.Distances.Lookup(inst.ID, slot.UnitID)
		ranked = append(ranked, rankedInstructor{id: inst.ID, meters: meters, known: known})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].less(ranked[j]) })
	for _, r := range ranked {
		hint := models.DistanceHint{InstructorID: r.id}
		if r.known {
			meters := r.meters
			hint.DistanceMeters = &meters
		}
		hints = append(hints, hint)
	}

	return dto.SlotCard{
		SlotID:        slot.ID(),
		UnitID:        slot.UnitID,
		UnitName:      slot.UnitName,
		Region:        slot.Region,
		WideArea:      slot.WideArea,
		Address:       slot.Address.String(),
		LocationName:  slot.LocationName,
		OfficerName:   slot.OfficerName.String(),
		Date:          date,
		RequiredCount: slot.RequiredCount,
		ActiveCount:   slot.ActiveCount,
		DistanceHints: hints,
	}
}
