package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
	"github.com/noah-isme/instructor-dispatch-api/pkg/routing"
)

type fakeUsageStore struct {
	mu    sync.Mutex
	usage models.DailyUsage
}

func (f *fakeUsageStore) Get(ctx context.Context, day time.Time) (models.DailyUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage, nil
}

func (f *fakeUsageStore) IncrementGeocode(ctx context.Context, day time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage.GeocodeCallCount++
	return nil
}

type fakeDistanceStore struct {
	mu      sync.Mutex
	records map[models.DistancePair]models.Distance
	usage   *fakeUsageStore
	saves   int
	missing    []models.DistancePair
	band       []models.UnitDistance
	unroutable map[models.DistancePair]time.Time
}

func newFakeDistanceStore(usage *fakeUsageStore) *fakeDistanceStore {
	return &fakeDistanceStore{
		records:    make(map[models.DistancePair]models.Distance),
		unroutable: make(map[models.DistancePair]time.Time),
		usage:      usage,
	}
}

func (f *fakeDistanceStore) Get(ctx context.Context, instructorID, unitID string) (*models.Distance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.records[models.DistancePair{InstructorID: instructorID, UnitID: unitID}]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeDistanceStore) ListForPairs(ctx context.Context, instructorIDs, unitIDs []string) ([]models.Distance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Distance
	for _, d := range f.records {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDistanceStore) SaveWithUsage(ctx context.Context, d models.Distance, day time.Time) error {
	f.mu.Lock()
	f.records[models.DistancePair{InstructorID: d.InstructorID, UnitID: d.UnitID}] = d
	f.saves++
	f.mu.Unlock()

	f.usage.mu.Lock()
	f.usage.usage.RouteCallCount++
	f.usage.mu.Unlock()
	return nil
}

func (f *fakeDistanceStore) SaveUnroutableWithUsage(ctx context.Context, pair models.DistancePair, day, checkedAt time.Time) error {
	f.mu.Lock()
	f.unroutable[pair] = checkedAt
	f.mu.Unlock()

	f.usage.mu.Lock()
	f.usage.usage.RouteCallCount++
	f.usage.mu.Unlock()
	return nil
}

func (f *fakeDistanceStore) IsUnroutable(ctx context.Context, instructorID, unitID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.unroutable[models.DistancePair{InstructorID: instructorID, UnitID: unitID}]
	return ok, nil
}

func (f *fakeDistanceStore) ListWithinRange(ctx context.Context, instructorID string, minMeters, maxMeters int) ([]models.UnitDistance, error) {
	return f.band, nil
}

func (f *fakeDistanceStore) DeleteByUnit(ctx context.Context, unitID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for pair := range f.records {
		if pair.UnitID == unitID {
			delete(f.records, pair)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeDistanceStore) ListMissingPairs(ctx context.Context, from time.Time, limit int) ([]models.DistancePair, error) {
	if len(f.missing) > limit {
		return f.missing[:limit], nil
	}
	return f.missing, nil
}

type fakeLocator struct {
	mu          sync.Mutex
	instructors map[string]*models.Instructor
	units       map[string]*models.Unit
	updated     []string
}

func (f *fakeLocator) GetInstructor(ctx context.Context, id string) (*models.Instructor, error) {
	if inst, ok := f.instructors[id]; ok {
		cp := *inst
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeLocator) GetUnit(ctx context.Context, id string) (*models.Unit, error) {
	if unit, ok := f.units[id]; ok {
		cp := *unit
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeLocator) UpdateCoordinates(ctx context.Context, id string, lat, lng float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, id)
	return nil
}

type fakeRouteProvider struct {
	routeCalls   int32
	geocodeCalls int32
	routeErr     error
	geocodeErr   error
	meters       int
	gate         chan struct{}
}

func (f *fakeRouteProvider) Route(ctx context.Context, origin, destination routing.Coordinates) (routing.RouteSummary, error) {
	atomic.AddInt32(&f.routeCalls, 1)
	if f.gate != nil {
		<-f.gate
	}
	if f.routeErr != nil {
		return routing.RouteSummary{}, f.routeErr
	}
	return routing.RouteSummary{DistanceMeters: f.meters, DurationSeconds: f.meters / 10}, nil
}

func (f *fakeRouteProvider) Geocode(ctx context.Context, address string) (routing.GeocodeResult, error) {
	atomic.AddInt32(&f.geocodeCalls, 1)
	if f.geocodeErr != nil {
		return routing.GeocodeResult{}, f.geocodeErr
	}
	return routing.GeocodeResult{Coordinates: routing.Coordinates{Lat: 37.5, Lng: 127.0}, Address: address}, nil
}

func floatPtr(v float64) *float64 { return &v }

type distanceFixture struct {
	usage    *fakeUsageStore
	store    *fakeDistanceStore
	locator  *fakeLocator
	provider *fakeRouteProvider
	svc      *DistanceService
}

func newDistanceFixture(routeLimit int) *distanceFixture {
	usage := &fakeUsageStore{}
	store := newFakeDistanceStore(usage)
	locator := &fakeLocator{
		instructors: map[string]*models.Instructor{
			"i-1": {ID: "i-1", Name: "Kim", Address: "Seoul", Lat: floatPtr(37.56), Lng: floatPtr(126.97)},
			"i-2": {ID: "i-2", Name: "Lee", Address: "Busan"},
			"i-3": {ID: "i-3", Name: "Park"},
		},
		units: map[string]*models.Unit{
			"u-1": {ID: "u-1", Name: "Unit 1", Address: "Suwon", Lat: floatPtr(37.26), Lng: floatPtr(127.02)},
			"u-2": {ID: "u-2", Name: "Unit 2", Address: "Incheon", Lat: floatPtr(37.45), Lng: floatPtr(126.70)},
		},
	}
	provider := &fakeRouteProvider{meters: 42000}
	svc := NewDistanceService(DistanceServiceParams{
		Distances:    store,
		Usage:        usage,
		Instructors:  locator,
		Units:        locator,
		Provider:     provider,
		Metrics:      NewMetricsService(),
		RouteLimit:   routeLimit,
		GeocodeLimit: 10,
		Timeout:      time.Second,
		Now:          func() time.Time { return fixedNow },
	})
	return &distanceFixture{usage: usage, store: store, locator: locator, provider: provider, svc: svc}
}

func TestLookupServesCachedDistance(t *testing.T) {
	f := newDistanceFixture(5)
	f.store.records[models.DistancePair{InstructorID: "i-1", UnitID: "u-1"}] = models.Distance{InstructorID: "i-1", UnitID: "u-1", DistanceMeters: 1500}

	lookup, err := f.svc.Lookup(context.Background(), "i-1", "u-1")
	require.NoError(t, err)
	assert.True(t, lookup.Available)
	assert.Equal(t, 1500, lookup.Distance.DistanceMeters)
	assert.Zero(t, atomic.LoadInt32(&f.provider.routeCalls))
}

func TestLookupComputesPersistsAndCounts(t *testing.T) {
	f := newDistanceFixture(5)

	lookup, err := f.svc.Lookup(context.Background(), "i-1", "u-1")
	require.NoError(t, err)
	require.True(t, lookup.Available)
	assert.Equal(t, 42000, lookup.Distance.DistanceMeters)
	assert.Equal(t, 1, f.store.saves)
	assert.Equal(t, 1, f.usage.usage.RouteCallCount)

	again, err := f.svc.Lookup(context.Background(), "i-1", "u-1")
	require.NoError(t, err)
	assert.True(t, again.Available)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.provider.routeCalls))
}

func TestLookupDegradesWhenRouteQuotaReached(t *testing.T) {
	f := newDistanceFixture(5)
	f.usage.usage.RouteCallCount = 5

	lookup, err := f.svc.Lookup(context.Background(), "i-1", "u-1")
	require.NoError(t, err)
	assert.False(t, lookup.Available)
	assert.Equal(t, models.ReasonQuotaExhausted, lookup.Reason)
	assert.Nil(t, lookup.Distance)
	assert.Zero(t, atomic.LoadInt32(&f.provider.routeCalls))
	assert.Equal(t, 5, f.usage.usage.RouteCallCount)
	assert.Zero(t, f.store.saves)
}

func TestLookupProviderFailureIsUpstreamUnavailable(t *testing.T) {
	f := newDistanceFixture(5)
	f.provider.routeErr = errors.New("connection reset")

	lookup, err := f.svc.Lookup(context.Background(), "i-1", "u-1")
	require.NoError(t, err)
	assert.False(t, lookup.Available)
	assert.Equal(t, models.ReasonUpstreamUnavailable, lookup.Reason)
	assert.Zero(t, f.usage.usage.RouteCallCount)
	assert.Zero(t, f.store.saves)
}

func TestLookupNoRouteIsCountedAndNotRetried(t *testing.T) {
	f := newDistanceFixture(5)
	f.provider.routeErr = routing.ErrNoRoute

	for i := 0; i < 3; i++ {
		lookup, err := f.svc.Lookup(context.Background(), "i-1", "u-1")
		require.NoError(t, err)
		assert.False(t, lookup.Available)
		assert.Equal(t, models.ReasonNoRoute, lookup.Reason)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.provider.routeCalls))
	assert.Equal(t, 1, f.usage.usage.RouteCallCount)
	assert.Zero(t, f.store.saves)
	assert.Contains(t, f.store.unroutable, models.DistancePair{InstructorID: "i-1", UnitID: "u-1"})
}

func TestLookupGeocodesMissingCoordinates(t *testing.T) {
	f := newDistanceFixture(5)

	lookup, err := f.svc.Lookup(context.Background(), "i-2", "u-1")
	require.NoError(t, err)
	assert.True(t, lookup.Available)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.provider.geocodeCalls))
	assert.Equal(t, 1, f.usage.usage.GeocodeCallCount)
	assert.Equal(t, []string{"i-2"}, f.locator.updated)
}

func TestLookupWithoutAddressIsMissingLocation(t *testing.T) {
	f := newDistanceFixture(5)

	lookup, err := f.svc.Lookup(context.Background(), "i-3", "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReasonMissingLocation, lookup.Reason)
	assert.Zero(t, atomic.LoadInt32(&f.provider.geocodeCalls))
	assert.Zero(t, atomic.LoadInt32(&f.provider.routeCalls))
}

func TestLookupUnknownAddressCountsGeocodeCall(t *testing.T) {
	f := newDistanceFixture(5)
	f.provider.geocodeErr = routing.ErrAddressNotFound

	lookup, err := f.svc.Lookup(context.Background(), "i-2", "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReasonMissingLocation, lookup.Reason)
	assert.Equal(t, 1, f.usage.usage.GeocodeCallCount)
	assert.Empty(t, f.locator.updated)
}

func TestLookupUnknownIDs(t *testing.T) {
	f := newDistanceFixture(5)

	_, err := f.svc.Lookup(context.Background(), "ghost", "u-1")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Lookup(context.Background(), "i-1", "ghost")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Lookup(context.Background(), "", "u-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestConcurrentMissesShareOneProviderCall(t *testing.T) {
	f := newDistanceFixture(50)
	f.provider.gate = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lookup, err := f.svc.Lookup(context.Background(), "i-1", "u-1")
			assert.NoError(t, err)
			assert.True(t, lookup.Available)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.provider.gate)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&f.provider.routeCalls))
	assert.Equal(t, 1, f.usage.usage.RouteCallCount)
}

func TestRunBatchStopsWhenQuotaExhausted(t *testing.T) {
	f := newDistanceFixture(1)
	f.store.missing = []models.DistancePair{
		{InstructorID: "i-1", UnitID: "u-1"},
		{InstructorID: "i-1", UnitID: "u-2"},
		{InstructorID: "i-2", UnitID: "u-1"},
	}

	result, err := f.svc.RunBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Requested)
	assert.Equal(t, 1, result.Computed)
	assert.Equal(t, 1, result.Skipped)
	assert.True(t, result.Stopped)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.provider.routeCalls))
}

func TestUnitsWithinValidatesBand(t *testing.T) {
	f := newDistanceFixture(5)

	_, err := f.svc.UnitsWithin(context.Background(), "i-1", 5000, 1000)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	items, err := f.svc.UnitsWithin(context.Background(), "i-1", 0, 1000)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestTodayUsageReportsRemaining(t *testing.T) {
	f := newDistanceFixture(5)
	f.usage.usage = models.DailyUsage{RouteCallCount: 7, GeocodeCallCount: 3}

	report, err := f.svc.TodayUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.RouteLimit)
	assert.Equal(t, 0, report.RouteRemaining)
	assert.Equal(t, 7, report.GeocodeRemaining)
}

func TestInvalidateUnitRemovesCachedPairs(t *testing.T) {
	f := newDistanceFixture(5)
	f.store.records[models.DistancePair{InstructorID: "i-1", UnitID: "u-1"}] = models.Distance{InstructorID: "i-1", UnitID: "u-1"}
	f.store.records[models.DistancePair{InstructorID: "i-2", UnitID: "u-1"}] = models.Distance{InstructorID: "i-2", UnitID: "u-1"}
	f.store.records[models.DistancePair{InstructorID: "i-1", UnitID: "u-2"}] = models.Distance{InstructorID: "i-1", UnitID: "u-2"}

	result, err := f.svc.InvalidateUnit(context.Background(), "u-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Removed)
	assert.Len(t, f.store.records, 1)
}

func TestRunBatchRejectsOversizedLimit(t *testing.T) {
	f := newDistanceFixture(5)
	_, err := f.svc.RunBatch(context.Background(), maxBatchLimit+1)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
