package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/acadsys/registrar-api/internal/models"
	"github.com/acadsys/registrar-api/internal/service"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
	"github.com/acadsys/registrar-api/pkg/response"
)

// ScheduleHandler exposes class offering endpoints.
type ScheduleHandler struct {
	service *service.ScheduleService
	catalog *service.CatalogService
}

// NewScheduleHandler constructs a schedule handler.
func NewScheduleHandler(svc *service.ScheduleService, catalog *service.CatalogService) *ScheduleHandler {
	return &ScheduleHandler{service: svc, catalog: catalog}
}

// List godoc
// @Summary List class offerings
// @Tags Schedules
// @Produce json
// @Param termId query string false "Filter by term"
// @Param blockId query string false "Filter by block"
// @Param instructorId query string false "Filter by instructor"
// @Param room query string false "Filter by room"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /schedules [get]
func (h *ScheduleHandler) List(c *gin.Context) {
	var filter models.ScheduleFilter
	filter.AcademicTermID = c.Query("termId")
	filter.BlockID = c.Query("blockId")
	filter.InstructorID = c.Query("instructorId")
	filter.Room = c.Query("room")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	offerings, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offerings, pagination)
}

// Get godoc
// @Summary Get a class offering
// @Tags Schedules
// @Produce json
// @Param id path string true "Offering ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id} [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	offering, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offering, nil)
}

// Create godoc
// @Summary Publish a class offering
// @Description Fails on duplicate offerings and block/instructor/room conflicts
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body service.CreateScheduleRequest true "Offering payload"
// @Success 201 {object} response.Envelope
// @Router /schedules [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req service.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	offering, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.catalog.InvalidateTerm(c.Request.Context(), offering.AcademicTermID)
	response.Created(c, offering)
}

// Update godoc
// @Summary Move an offering to a new slot
// @Tags Schedules
// @Accept json
// @Produce json
// @Param id path string true "Offering ID"
// @Param payload body service.UpdateScheduleRequest true "Offering payload"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id} [put]
func (h *ScheduleHandler) Update(c *gin.Context) {
	var req service.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	offering, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.catalog.InvalidateTerm(c.Request.Context(), offering.AcademicTermID)
	response.JSON(c, http.StatusOK, offering, nil)
}

// Delete godoc
// @Summary Delete an offering
// @Tags Schedules
// @Produce json
// @Param id path string true "Offering ID"
// @Success 204
// @Router /schedules/{id} [delete]
func (h *ScheduleHandler) Delete(c *gin.Context) {
	offering, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), offering.ID); err != nil {
		response.Error(c, err)
		return
	}
	h.catalog.InvalidateTerm(c.Request.Context(), offering.AcademicTermID)
	response.NoContent(c)
}

// CheckConflict godoc
// @Summary Probe a slot for conflicts
// @Description Runs the conflict scan without persisting anything
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body service.CreateScheduleRequest true "Prospective offering"
// @Success 200 {object} response.Envelope
// @Router /schedules/check-conflict [post]
func (h *ScheduleHandler) CheckConflict(c *gin.Context) {
	var req service.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	findings, err := h.service.CheckConflict(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"conflicts":    findings,
		"has_conflict": len(findings) > 0,
	}, nil)
}
