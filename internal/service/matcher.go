package service

import (
	"sort"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
)

// DistanceTable holds known travel distances in meters by instructor and unit.
type DistanceTable map[models.DistancePair]int

// Lookup returns the known distance for the pair.
func (t DistanceTable) Lookup(instructorID, unitID string) (int, bool) {
	meters, ok := t[models.DistancePair{InstructorID: instructorID, UnitID: unitID}]
	return meters, ok
}

// Proposal pairs an instructor with a slot.
type Proposal struct {
	InstructorID   string
	Slot           models.SessionSlot
	DistanceMeters *int
}

// Shortfall reports a slot left under-filled.
type Shortfall struct {
	Slot   models.SessionSlot
	Filled int
}

// MatchResult is the outcome of a matching pass.
type MatchResult struct {
	Proposals  []Proposal
	Shortfalls []Shortfall
}

// Match greedily proposes instructors for slots. Slots are visited by date
// ascending, then required count descending, then slot id. Each slot takes the
// nearest free instructors, unknown distances last and ties by instructor id.
// An instructor is used at most once per date, and busy dates are skipped.
// The result depends only on the inputs.
func Match(slots []models.SessionSlot, instructors []models.AvailableInstructor, distances DistanceTable) MatchResult {
	ordered := make([]models.SessionSlot, 0, len(slots))
	for _, slot := range slots {
		if slot.Remaining() > 0 {
			ordered = append(ordered, slot)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if da, db := a.DateKey(), b.DateKey(); da != db {
			return da < db
		}
		if a.RequiredCount != b.RequiredCount {
			return a.RequiredCount > b.RequiredCount
		}
		return a.ID().String() < b.ID().String()
	})

	used := make(map[string]map[string]struct{})
	result := MatchResult{Proposals: []Proposal{}, Shortfalls: []Shortfall{}}

	for _, slot := range ordered {
		date := slot.DateKey()
		candidates := make([]rankedInstructor, 0)
		for _, inst := range instructors {
			if !inst.IsAvailableOn(date) {
				continue
			}
			if _, taken := used[inst.ID][date]; taken {
				continue
			}
			meters, known := distances.Lookup(inst.ID, slot.UnitID)
			candidates = append(candidates, rankedInstructor{id: inst.ID, meters: meters, known: known})
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].less(candidates[j])
		})

		need := slot.Remaining()
		filled := 0
		for _, cand := range candidates {
			if filled == need {
				break
			}
			if used[cand.id] == nil {
				used[cand.id] = make(map[string]struct{})
			}
			used[cand.id][date] = struct{}{}

			proposal := Proposal{InstructorID: cand.id, Slot: slot}
			if cand.known {
				meters := cand.meters
				proposal.DistanceMeters = &meters
			}
			result.Proposals = append(result.Proposals, proposal)
			filled++
		}
		if filled < need {
			result.Shortfalls = append(result.Shortfalls, Shortfall{Slot: slot, Filled: filled})
		}
	}
	return result
}

type rankedInstructor struct {
	id     string
	meters int
	known  bool
}

func (r rankedInstructor) less(other rankedInstructor) bool {
	if r.known != other.known {
		return r.known
	}
	if r.known && r.meters != other.meters {
		return r.meters < other.meters
	}
	return r.id < other.id
}
