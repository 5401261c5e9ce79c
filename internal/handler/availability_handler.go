package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	"github.com/noah-isme/instructor-dispatch-api/internal/service"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
	"github.com/noah-isme/instructor-dispatch-api/pkg/response"
)

type availabilityManager interface {
	Get(ctx context.Context, instructorID string, query dto.AvailabilityQuery) (*models.Availability, error)
	Update(ctx context.Context, instructorID string, req dto.UpdateAvailabilityRequest) (*models.Availability, error)
}

// AvailabilityHandler lets instructors manage their monthly availability.
type AvailabilityHandler struct {
	service availabilityManager
}

// NewAvailabilityHandler constructs the handler.
func NewAvailabilityHandler(svc *service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: svc}
}

// Get godoc
// @Summary Get the caller's available dates for a month
// @Tags Availability
// @Produce json
// @Param year query int true "Year"
// @Param month query int true "Month (1-12)"
// @Success 200 {object} response.Envelope
// @Router /instructors/me/availability [get]
func (h *AvailabilityHandler) Get(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var query dto.AvailabilityQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "year and month must be integers"))
		return
	}
	result, err := h.service.Get(c.Request.Context(), claims.UserID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Update godoc
// @Summary Replace the caller's available dates for a month
// @Description Dates holding a confirmed assignment cannot be removed.
// @Tags Availability
// @Accept json
// @Produce json
// @Param payload body dto.UpdateAvailabilityRequest true "Availability payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /instructors/me/availability [put]
func (h *AvailabilityHandler) Update(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.UpdateAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid availability payload"))
		return
	}
	result, err := h.service.Update(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
