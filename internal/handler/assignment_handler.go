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

type candidateProvider interface {
	Candidates(ctx context.Context, startRaw, endRaw string) (*dto.CandidatesResponse, error)
}

type assignmentCommands interface {
	Propose(ctx context.Context, req dto.ProposeRequest) (*models.Assignment, error)
	AutoAssign(ctx context.Context, req dto.AutoAssignRequest) (*dto.AutoAssignResponse, error)
	Respond(ctx context.Context, instructorID, slotRaw string, req dto.RespondRequest) (*models.Assignment, error)
	Cancel(ctx context.Context, slotRaw string, req dto.CancelRequest) (*models.Assignment, error)
	Upcoming(ctx context.Context, instructorID string) ([]models.AssignmentView, error)
	History(ctx context.Context, instructorID string) ([]models.AssignmentView, error)
	Detail(ctx context.Context, instructorID, slotRaw string) (*models.AssignmentDetail, error)
}

type historyExporter interface {
	ExportHistory(ctx context.Context, instructorID, format string) (*service.ExportFile, error)
}

// AssignmentHandler exposes the assignment workflow.
type AssignmentHandler struct {
	candidates  candidateProvider
	assignments assignmentCommands
	exports     historyExporter
}

// NewAssignmentHandler constructs the handler.
func NewAssignmentHandler(candidates *service.CandidateService, assignments *service.AssignmentService, exports *service.ExportService) *AssignmentHandler {
	return &AssignmentHandler{candidates: candidates, assignments: assignments, exports: exports}
}

// Candidates godoc
// @Summary List unfilled slots and available instructors for a date range
// @Tags Assignments
// @Produce json
// @Param startDate query string true "Start date (YYYY-MM-DD)"
// @Param endDate query string true "End date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /assignments/candidates [get]
func (h *AssignmentHandler) Candidates(c *gin.Context) {
	var query dto.CandidatesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	result, err := h.candidates.Candidates(c.Request.Context(), query.StartDate, query.EndDate)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AutoAssign godoc
// @Summary Run the matcher over a date range
// @Description With commit=false the proposals are only previewed. With commit=true each proposal is inserted and insert conflicts are reported per item.
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.AutoAssignRequest true "Auto-assign payload"
// @Success 200 {object} response.Envelope
// @Router /assignments/auto [post]
func (h *AssignmentHandler) AutoAssign(c *gin.Context) {
	var req dto.AutoAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid auto-assign payload"))
		return
	}
	result, err := h.assignments.AutoAssign(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Propose godoc
// @Summary Propose an instructor for a slot
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.ProposeRequest true "Proposal payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/propose [post]
func (h *AssignmentHandler) Propose(c *gin.Context) {
	var req dto.ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid propose payload"))
		return
	}
	assignment, err := h.assignments.Propose(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// Respond godoc
// @Summary Accept or reject a proposal
// @Tags Assignments
// @Accept json
// @Produce json
// @Param slotId path string true "Slot ID (<unitScheduleId>:<trainingLocationId>)"
// @Param payload body dto.RespondRequest true "Response payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{slotId}/respond [post]
func (h *AssignmentHandler) Respond(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid respond payload"))
		return
	}
	assignment, err := h.assignments.Respond(c.Request.Context(), claims.UserID, c.Param("slotId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Cancel godoc
// @Summary Cancel an instructor's active assignment on a slot
// @Description Canceling an already canceled assignment returns it unchanged. Without expectedVersion the cancel applies to the current active row, even if the instructor accepted in between. Supplying expectedVersion rejects the cancel with 409 if the assignment changed since it was read.
// @Tags Assignments
// @Accept json
// @Produce json
// @Param slotId path string true "Slot ID (<unitScheduleId>:<trainingLocationId>)"
// @Param payload body dto.CancelRequest true "Cancel payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{slotId}/cancel [patch]
func (h *AssignmentHandler) Cancel(c *gin.Context) {
	var req dto.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid cancel payload"))
		return
	}
	assignment, err := h.assignments.Cancel(c.Request.Context(), c.Param("slotId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Upcoming godoc
// @Summary List the caller's active assignments from today on
// @Tags Assignments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /assignments/upcoming [get]
func (h *AssignmentHandler) Upcoming(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	items, err := h.assignments.Upcoming(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// History godoc
// @Summary List the caller's confirmed assignments before today
// @Tags Assignments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /assignments/history [get]
func (h *AssignmentHandler) History(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	items, err := h.assignments.History(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// ExportHistory godoc
// @Summary Download the caller's work history
// @Tags Assignments
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} file
// @Router /assignments/history/export [get]
func (h *AssignmentHandler) ExportHistory(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var query dto.HistoryExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	file, err := h.exports.ExportHistory(c.Request.Context(), claims.UserID, query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Content)
}

// Detail godoc
// @Summary Show unit detail for a confirmed assignment
// @Tags Assignments
// @Produce json
// @Param slotId path string true "Slot ID (<unitScheduleId>:<trainingLocationId>)"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assignments/{slotId}/detail [get]
func (h *AssignmentHandler) Detail(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	detail, err := h.assignments.Detail(c.Request.Context(), claims.UserID, c.Param("slotId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}
