package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	"github.com/noah-isme/instructor-dispatch-api/internal/service"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
	"github.com/noah-isme/instructor-dispatch-api/pkg/response"
)

type distanceOperations interface {
	Lookup(ctx context.Context, instructorID, unitID string) (models.DistanceLookup, error)
	UnitsWithin(ctx context.Context, instructorID string, minMeters, maxMeters int) ([]models.UnitDistance, error)
	TodayUsage(ctx context.Context) (models.UsageReport, error)
	RunBatch(ctx context.Context, limit int) (dto.BatchResult, error)
	InvalidateUnit(ctx context.Context, unitID string) (dto.InvalidateResult, error)
}

// DistanceHandler exposes cached travel distances and quota usage.
type DistanceHandler struct {
	service distanceOperations
}

// NewDistanceHandler constructs the handler.
func NewDistanceHandler(svc *service.DistanceService) *DistanceHandler {
	return &DistanceHandler{service: svc}
}

// Get godoc
// @Summary Get the travel distance between an instructor and a unit
// @Description Serves the cached distance or computes it within the daily quota. An unavailable distance is returned with available=false and a reason, never as an error.
// @Tags Distances
// @Produce json
// @Param instructorId path string true "Instructor ID"
// @Param unitId path string true "Unit ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /distances/{instructorId}/{unitId} [get]
func (h *DistanceHandler) Get(c *gin.Context) {
	lookup, err := h.service.Lookup(c.Request.Context(), c.Param("instructorId"), c.Param("unitId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lookup, nil)
}

// UnitsWithin godoc
// @Summary List units within a distance band of an instructor
// @Tags Distances
// @Produce json
// @Param instructorId path string true "Instructor ID"
// @Param min query int false "Minimum meters"
// @Param max query int true "Maximum meters"
// @Success 200 {object} response.Envelope
// @Router /distances/{instructorId}/units [get]
func (h *DistanceHandler) UnitsWithin(c *gin.Context) {
	var query dto.DistanceBandQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "min and max must be integers"))
		return
	}
	items, err := h.service.UnitsWithin(c.Request.Context(), c.Param("instructorId"), query.Min, query.Max)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// TodayUsage godoc
// @Summary Show today's routing and geocoding call counts
// @Tags Distances
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /distances/usage/today [get]
func (h *DistanceHandler) TodayUsage(c *gin.Context) {
	report, err := h.service.TodayUsage(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Batch godoc
// @Summary Compute missing distances for upcoming schedules
// @Description Stops early once the daily route quota is exhausted.
// @Tags Distances
// @Accept json
// @Produce json
// @Param payload body dto.BatchRequest false "Batch payload"
// @Success 200 {object} response.Envelope
// @Router /distances/batch [post]
func (h *DistanceHandler) Batch(c *gin.Context) {
	var req dto.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid batch payload"))
		return
	}
	result, err := h.service.RunBatch(c.Request.Context(), req.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// InvalidateUnit godoc
// @Summary Drop cached distances for a unit whose address changed
// @Tags Distances
// @Produce json
// @Param unitId path string true "Unit ID"
// @Success 200 {object} response.Envelope
// @Router /distances/units/{unitId} [delete]
func (h *DistanceHandler) InvalidateUnit(c *gin.Context) {
	result, err := h.service.InvalidateUnit(c.Request.Context(), c.Param("unitId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
