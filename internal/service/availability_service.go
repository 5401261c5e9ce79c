package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	"github.com/noah-isme/instructor-dispatch-api/internal/repository"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

type availabilityStore interface {
	GetInstructor(ctx context.Context, id string) (*models.Instructor, error)
	ListAvailability(ctx context.Context, instructorID string, from, to time.Time) ([]time.Time, error)
	ListConfirmedDates(ctx context.Context, instructorID string, from, to time.Time) ([]time.Time, error)
	ReplaceAvailability(ctx context.Context, instructorID string, from, to time.Time, dates []string) error
}

// AvailabilityService manages the dates an instructor offers per month.
type AvailabilityService struct {
	repo      availabilityStore
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	loc       *time.Location
}

// NewAvailabilityService builds the service.
func NewAvailabilityService(repo availabilityStore, cache *CacheService, validate *validator.Validate, logger *zap.Logger, loc *time.Location) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &AvailabilityService{repo: repo, cache: cache, validator: validate, logger: logger, loc: loc}
}

// Get returns the instructor's dates for the month and the dates locked by confirmed assignments.
func (s *AvailabilityService) Get(ctx context.Context, instructorID string, query dto.AvailabilityQuery) (*models.Availability, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid month")
	}
	if _, err := s.repo.GetInstructor(ctx, instructorID); err != nil {
		return nil, notFoundOr(err, "instructor not found", "failed to load instructor")
	}

	month := monthRange(query.Year, query.Month, s.loc)
	dates, err := s.repo.ListAvailability(ctx, instructorID, month.Start, month.End)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability")
	}
	locked, err := s.repo.ListConfirmedDates(ctx, instructorID, month.Start, month.End)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load confirmed dates")
	}

	return &models.Availability{
		InstructorID: instructorID,
		Year:         query.Year,
		Month:        query.Month,
		Dates:        formatDates(dates),
		LockedDates:  formatDates(locked),
	}, nil
}

// Update replaces the month's dates. Removing a date that holds a confirmed
// assignment fails with ASSIGNMENT_LOCKED_DATE.
func (s *AvailabilityService) Update(ctx context.Context, instructorID string, req dto.UpdateAvailabilityRequest) (*models.Availability, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}
	month := monthRange(req.Year, req.Month, s.loc)

	unique := make(map[string]struct{}, len(req.Dates))
	dates := make([]string, 0, len(req.Dates))
	for _, raw := range req.Dates {
		d, err := time.ParseInLocation(models.DateLayout, strings.TrimSpace(raw), s.loc)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid date %q", raw))
		}
		if d.Before(month.Start) || d.After(month.End) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("date %s is outside %04d-%02d", raw, req.Year, req.Month))
		}
		key := d.Format(models.DateLayout)
		if _, dup := unique[key]; dup {
			continue
		}
		unique[key] = struct{}{}
		dates = append(dates, key)
	}
	sort.Strings(dates)

	if err := s.repo.ReplaceAvailability(ctx, instructorID, month.Start, month.End, dates); err != nil {
		var locked *repository.ErrDateLocked
		if errors.As(err, &locked) {
			return nil, appErrors.Clone(appErrors.ErrLockedDate, "cannot remove dates with confirmed assignments: "+strings.Join(locked.Dates, ", "))
		}
		return nil, notFoundOr(err, "instructor not found", "failed to update availability")
	}

	s.cache.InvalidateCandidates(ctx)
	s.logger.Info("availability updated", zap.String("instructor_id", instructorID), zap.Int("year", req.Year), zap.Int("month", req.Month), zap.Int("dates", len(dates)))
	return s.Get(ctx, instructorID, dto.AvailabilityQuery{Year: req.Year, Month: req.Month})
}

func formatDates(dates []time.Time) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(models.DateLayout))
	}
	return out
}
