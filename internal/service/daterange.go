package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

// dateRange is an inclusive calendar range in the service timezone.
type dateRange struct {
	Start time.Time
	End   time.Time
}

func (r dateRange) String() string {
	return r.Start.Format(models.DateLayout) + ".." + r.End.Format(models.DateLayout)
}

// parseDateRange validates YYYY-MM-DD bounds, start <= end, and an optional maximum width.
func parseDateRange(startRaw, endRaw string, loc *time.Location, maxDays int) (dateRange, error) {
	startRaw, endRaw = strings.TrimSpace(startRaw), strings.TrimSpace(endRaw)
	if startRaw == "" || endRaw == "" {
		return dateRange{}, appErrors.Clone(appErrors.ErrValidation, "startDate and endDate are required")
	}
	start, err := time.ParseInLocation(models.DateLayout, startRaw, loc)
	if err != nil {
		return dateRange{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid startDate")
	}
	end, err := time.ParseInLocation(models.DateLayout, endRaw, loc)
	if err != nil {
		return dateRange{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid endDate")
	}
	if end.Before(start) {
		return dateRange{}, appErrors.Clone(appErrors.ErrValidation, "invalid range: startDate must not be after endDate")
	}
	if maxDays > 0 && int(end.Sub(start).Hours()/24)+1 > maxDays {
		return dateRange{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid range: at most %d days", maxDays))
	}
	return dateRange{Start: start, End: end}, nil
}

// monthRange returns the first and last day of a month.
func monthRange(year, month int, loc *time.Location) dateRange {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	return dateRange{Start: start, End: start.AddDate(0, 1, -1)}
}

// dayOf truncates t to midnight in loc.
func dayOf(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
