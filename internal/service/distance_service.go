package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
	"github.com/noah-isme/instructor-dispatch-api/pkg/routing"
)

const (
	defaultBatchLimit = 200
	maxBatchLimit     = 5000
)

type distanceStore interface {
	Get(ctx context.Context, instructorID, unitID string) (*models.Distance, error)
	ListForPairs(ctx context.Context, instructorIDs, unitIDs []string) ([]models.Distance, error)
	SaveWithUsage(ctx context.Context, d models.Distance, day time.Time) error
	SaveUnroutableWithUsage(ctx context.Context, pair models.DistancePair, day, checkedAt time.Time) error
	IsUnroutable(ctx context.Context, instructorID, unitID string) (bool, error)
	ListWithinRange(ctx context.Context, instructorID string, minMeters, maxMeters int) ([]models.UnitDistance, error)
	DeleteByUnit(ctx context.Context, unitID string) (int64, error)
	ListMissingPairs(ctx context.Context, from time.Time, limit int) ([]models.DistancePair, error)
}

type usageStore interface {
	Get(ctx context.Context, day time.Time) (models.DailyUsage, error)
	IncrementGeocode(ctx context.Context, day time.Time) error
}

type instructorLocator interface {
	GetInstructor(ctx context.Context, id string) (*models.Instructor, error)
	UpdateCoordinates(ctx context.Context, id string, lat, lng float64) error
}

type unitLocator interface {
	GetUnit(ctx context.Context, id string) (*models.Unit, error)
	UpdateCoordinates(ctx context.Context, id string, lat, lng float64) error
}

type routeProvider interface {
	Route(ctx context.Context, origin, destination routing.Coordinates) (routing.RouteSummary, error)
	Geocode(ctx context.Context, address string) (routing.GeocodeResult, error)
}

// DistanceServiceParams wires the distance service.
type DistanceServiceParams struct {
	Distances    distanceStore
	Usage        usageStore
	Instructors  instructorLocator
	Units        unitLocator
	Provider     routeProvider
	Cache        *CacheService
	Metrics      *MetricsService
	Logger       *zap.Logger
	Location     *time.Location
	RouteLimit   int
	GeocodeLimit int
	Timeout      time.Duration
	Now          func() time.Time
}

// DistanceService serves instructor to unit travel costs from the cache and
// fills misses from the routing provider within the daily quota. Quota and
// provider failures degrade to an unavailable lookup, never an error.
type DistanceService struct {
	distances    distanceStore
	usage        usageStore
	instructors  instructorLocator
	units        unitLocator
	provider     routeProvider
	cache        *CacheService
	metrics      *MetricsService
	logger       *zap.Logger
	loc          *time.Location
	routeLimit   int
	geocodeLimit int
	timeout      time.Duration
	now          func() time.Time
	flights      singleflight.Group
}

// NewDistanceService constructs the service.
func NewDistanceService(p DistanceServiceParams) *DistanceService {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
	if p.RouteLimit <= 0 {
		p.RouteLimit = 9000
	}
	if p.GeocodeLimit <= 0 {
		p.GeocodeLimit = 900
	}
	if p.Timeout <= 0 {
		p.Timeout = 3 * time.Second
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &DistanceService{
		distances:    p.Distances,
		usage:        p.Usage,
		instructors:  p.Instructors,
		units:        p.Units,
		provider:     p.Provider,
		cache:        p.Cache,
		metrics:      p.Metrics,
		logger:       p.Logger,
		loc:          p.Location,
		routeLimit:   p.RouteLimit,
		geocodeLimit: p.GeocodeLimit,
		timeout:      p.Timeout,
		now:          p.Now,
	}
}

// Lookup returns the distance for the pair, computing it on a cache miss.
// Errors are returned only for unknown ids or storage failures.
func (s *DistanceService) Lookup(ctx context.Context, instructorID, unitID string) (models.DistanceLookup, error) {
	instructorID, unitID = strings.TrimSpace(instructorID), strings.TrimSpace(unitID)
	if instructorID == "" || unitID == "" {
		return models.DistanceLookup{}, appErrors.Clone(appErrors.ErrValidation, "instructorId and unitId are required")
	}

	if cached, err := s.cached(ctx, instructorID, unitID); err != nil || cached != nil {
		if cached != nil {
			s.metrics.RecordDistanceLookup(DistanceResultHit)
			return models.DistanceOf(*cached), nil
		}
		return models.DistanceLookup{}, err
	}

	pair := models.DistancePair{InstructorID: instructorID, UnitID: unitID}
	value, err, _ := s.flights.Do(pair.Key(), func() (interface{}, error) {
		return s.compute(context.WithoutCancel(ctx), pair)
	})
	if err != nil {
		return models.DistanceLookup{}, err
	}
	return value.(models.DistanceLookup), nil
}

// KnownDistances reads cached distances only, for candidate and matching views.
func (s *DistanceService) KnownDistances(ctx context.Context, instructorIDs, unitIDs []string) (DistanceTable, error) {
	records, err := s.distances.ListForPairs(ctx, instructorIDs, unitIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load distances")
	}
	table := make(DistanceTable, len(records))
	for _, d := range records {
		table[models.DistancePair{InstructorID: d.InstructorID, UnitID: d.UnitID}] = d.DistanceMeters
	}
	return table, nil
}

// UnitsWithin lists units whose cached distance falls within [minMeters, maxMeters].
func (s *DistanceService) UnitsWithin(ctx context.Context, instructorID string, minMeters, maxMeters int) ([]models.UnitDistance, error) {
	if minMeters < 0 || maxMeters <= 0 || maxMeters < minMeters {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid distance band")
	}
	items, err := s.distances.ListWithinRange(ctx, instructorID, minMeters, maxMeters)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list distances")
	}
	if items == nil {
		items = []models.UnitDistance{}
	}
	return items, nil
}

// TodayUsage reports today's counters against the limits.
func (s *DistanceService) TodayUsage(ctx context.Context) (models.UsageReport, error) {
	usage, err := s.usage.Get(ctx, s.today())
	if err != nil {
		return models.UsageReport{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load usage")
	}
	return models.UsageReport{
		DailyUsage:       usage,
		RouteLimit:       s.routeLimit,
		GeocodeLimit:     s.geocodeLimit,
		RouteRemaining:   remaining(s.routeLimit, usage.RouteCallCount),
		GeocodeRemaining: remaining(s.geocodeLimit, usage.GeocodeCallCount),
	}, nil
}

// RunBatch computes up to limit missing distances, nearest upcoming schedules
// first, stopping once the daily quota is exhausted.
func (s *DistanceService) RunBatch(ctx context.Context, limit int) (dto.BatchResult, error) {
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	if limit > maxBatchLimit {
		return dto.BatchResult{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("limit must be at most %d", maxBatchLimit))
	}
	pairs, err := s.distances.ListMissingPairs(ctx, s.today(), limit)
	if err != nil {
		return dto.BatchResult{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list missing distances")
	}

	result := dto.BatchResult{Requested: len(pairs)}
	for _, pair := range pairs {
		if ctx.Err() != nil {
			break
		}
		lookup, err := s.Lookup(ctx, pair.InstructorID, pair.UnitID)
		if err != nil {
			s.logger.Warn("batch distance lookup failed", zap.String("instructor_id", pair.InstructorID), zap.String("unit_id", pair.UnitID), zap.Error(err))
			result.Skipped++
			continue
		}
		if lookup.Available {
			result.Computed++
			continue
		}
		result.Skipped++
		if lookup.Reason == models.ReasonQuotaExhausted {
			result.Stopped = true
			break
		}
	}
	if result.Computed > 0 {
		s.cache.InvalidateCandidates(ctx)
	}
	s.logger.Info("distance batch finished",
		zap.Int("requested", result.Requested),
		zap.Int("computed", result.Computed),
		zap.Int("skipped", result.Skipped),
		zap.Bool("stopped_by_quota", result.Stopped))
	return result, nil
}

// InvalidateUnit drops cached distances for a unit whose address changed.
func (s *DistanceService) InvalidateUnit(ctx context.Context, unitID string) (dto.InvalidateResult, error) {
	if strings.TrimSpace(unitID) == "" {
		return dto.InvalidateResult{}, appErrors.Clone(appErrors.ErrValidation, "unitId is required")
	}
	removed, err := s.distances.DeleteByUnit(ctx, unitID)
	if err != nil {
		return dto.InvalidateResult{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to invalidate distances")
	}
	s.cache.InvalidateCandidates(ctx)
	return dto.InvalidateResult{UnitID: unitID, Removed: removed}, nil
}

func (s *DistanceService) cached(ctx context.Context, instructorID, unitID string) (*models.Distance, error) {
	d, err := s.distances.Get(ctx, instructorID, unitID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read distance")
	}
	return d, nil
}

func (s *DistanceService) compute(ctx context.Context, pair models.DistancePair) (models.DistanceLookup, error) {
	if cached, err := s.cached(ctx, pair.InstructorID, pair.UnitID); err != nil || cached != nil {
		if cached != nil {
			s.metrics.RecordDistanceLookup(DistanceResultHit)
			return models.DistanceOf(*cached), nil
		}
		return models.DistanceLookup{}, err
	}
	unroutable, err := s.distances.IsUnroutable(ctx, pair.InstructorID, pair.UnitID)
	if err != nil {
		return models.DistanceLookup{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read distance")
	}
	if unroutable {
		return s.degrade(pair, models.ReasonNoRoute, nil), nil
	}

	instructor, err := s.instructors.GetInstructor(ctx, pair.InstructorID)
	if err != nil {
		return models.DistanceLookup{}, notFoundOr(err, "instructor not found", "failed to load instructor")
	}
	unit, err := s.units.GetUnit(ctx, pair.UnitID)
	if err != nil {
		return models.DistanceLookup{}, notFoundOr(err, "unit not found", "failed to load unit")
	}

	today := s.today()
	usage, err := s.usage.Get(ctx, today)
	if err != nil {
		return models.DistanceLookup{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load usage")
	}
	if usage.RouteCallCount >= s.routeLimit {
		return s.degrade(pair, models.ReasonQuotaExhausted, nil), nil
	}

	origin, reason := s.instructorCoordinates(ctx, instructor, today, &usage)
	if reason != "" {
		return s.degrade(pair, reason, nil), nil
	}
	destination, reason := s.unitCoordinates(ctx, unit, today, &usage)
	if reason != "" {
		return s.degrade(pair, reason, nil), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	summary, err := s.provider.Route(callCtx, origin, destination)
	cancel()
	s.metrics.ObserveProviderCall("route", err, time.Since(start))
	if errors.Is(err, routing.ErrNoRoute) {
		// answered and billed: count it and stop asking for this pair
		if markErr := s.distances.SaveUnroutableWithUsage(ctx, pair, today, s.now().UTC()); markErr != nil {
			s.logger.Error("failed to record unroutable pair", zap.String("instructor_id", pair.InstructorID), zap.String("unit_id", pair.UnitID), zap.Error(markErr))
		}
		return s.degrade(pair, models.ReasonNoRoute, err), nil
	}
	if err != nil {
		return s.degrade(pair, models.ReasonUpstreamUnavailable, err), nil
	}

	record := models.Distance{
		InstructorID:    pair.InstructorID,
		UnitID:          pair.UnitID,
		DistanceMeters:  summary.DistanceMeters,
		DurationSeconds: summary.DurationSeconds,
		ComputedAt:      s.now().UTC(),
	}
	if err := s.distances.SaveWithUsage(ctx, record, today); err != nil {
		s.logger.Error("failed to persist distance", zap.String("instructor_id", pair.InstructorID), zap.String("unit_id", pair.UnitID), zap.Error(err))
	}
	s.metrics.RecordDistanceLookup(DistanceResultComputed)
	return models.DistanceOf(record), nil
}

func (s *DistanceService) instructorCoordinates(ctx context.Context, inst *models.Instructor, day time.Time, usage *models.DailyUsage) (routing.Coordinates, models.DistanceReason) {
	if inst.HasCoordinates() {
		return routing.Coordinates{Lat: *inst.Lat, Lng: *inst.Lng}, ""
	}
	coords, reason := s.geocode(ctx, inst.Address.String(), day, usage)
	if reason == "" {
		if err := s.instructors.UpdateCoordinates(ctx, inst.ID, coords.Lat, coords.Lng); err != nil {
			s.logger.Warn("failed to store instructor coordinates", zap.String("instructor_id", inst.ID), zap.Error(err))
		}
	}
	return coords, reason
}

func (s *DistanceService) unitCoordinates(ctx context.Context, unit *models.Unit, day time.Time, usage *models.DailyUsage) (routing.Coordinates, models.DistanceReason) {
	if unit.HasCoordinates() {
		return routing.Coordinates{Lat: *unit.Lat, Lng: *unit.Lng}, ""
	}
	coords, reason := s.geocode(ctx, unit.Address.String(), day, usage)
	if reason == "" {
		if err := s.units.UpdateCoordinates(ctx, unit.ID, coords.Lat, coords.Lng); err != nil {
			s.logger.Warn("failed to store unit coordinates", zap.String("unit_id", unit.ID), zap.Error(err))
		}
	}
	return coords, reason
}

func (s *DistanceService) geocode(ctx context.Context, address string, day time.Time, usage *models.DailyUsage) (routing.Coordinates, models.DistanceReason) {
	if strings.TrimSpace(address) == "" {
		return routing.Coordinates{}, models.ReasonMissingLocation
	}
	if usage.GeocodeCallCount >= s.geocodeLimit {
		return routing.Coordinates{}, models.ReasonQuotaExhausted
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	result, err := s.provider.Geocode(callCtx, address)
	cancel()
	s.metrics.ObserveProviderCall("geocode", err, time.Since(start))

	if err == nil || errors.Is(err, routing.ErrAddressNotFound) {
		usage.GeocodeCallCount++
		if incErr := s.usage.IncrementGeocode(ctx, day); incErr != nil {
			s.logger.Warn("failed to count geocode call", zap.Error(incErr))
		}
	}
	switch {
	case err == nil:
		return result.Coordinates, ""
	case errors.Is(err, routing.ErrAddressNotFound):
		return routing.Coordinates{}, models.ReasonMissingLocation
	default:
		s.logger.Warn("geocode failed", zap.String("address", address), zap.Error(err))
		return routing.Coordinates{}, models.ReasonUpstreamUnavailable
	}
}

func (s *DistanceService) degrade(pair models.DistancePair, reason models.DistanceReason, err error) models.DistanceLookup {
	fields := []zap.Field{zap.String("instructor_id", pair.InstructorID), zap.String("unit_id", pair.UnitID), zap.String("reason", string(reason))}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.logger.Warn("distance unavailable", fields...)

	switch reason {
	case models.ReasonQuotaExhausted:
		s.metrics.RecordDistanceLookup(DistanceResultQuota)
	case models.ReasonMissingLocation:
		s.metrics.RecordDistanceLookup(DistanceResultLocation)
	case models.ReasonNoRoute:
		s.metrics.RecordDistanceLookup(DistanceResultNoRoute)
	default:
		s.metrics.RecordDistanceLookup(DistanceResultUpstream)
	}
	return models.NotAvailable(reason)
}

func (s *DistanceService) today() time.Time {
	return dayOf(s.now(), s.loc)
}

func notFoundOr(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
