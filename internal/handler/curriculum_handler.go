package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/acadsys/registrar-api/internal/service"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
	"github.com/acadsys/registrar-api/pkg/response"
)

// CurriculumHandler exposes curriculum and prerequisite endpoints.
type CurriculumHandler struct {
	service *service.CurriculumService
}

// NewCurriculumHandler constructs a curriculum handler.
func NewCurriculumHandler(svc *service.CurriculumService) *CurriculumHandler {
	return &CurriculumHandler{service: svc}
}

// ActiveForProgram godoc
// @Summary Get a program's active curriculum
// @Tags Curricula
// @Produce json
// @Param programId path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Router /programs/{programId}/curriculum [get]
func (h *CurriculumHandler) ActiveForProgram(c *gin.Context) {
	curriculum, err := h.service.ActiveForProgram(c.Request.Context(), c.Param("programId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, curriculum, nil)
}

// ListSubjects godoc
// @Summary List a curriculum's subjects
// @Tags Curricula
// @Produce json
// @Param id path string true "Curriculum ID"
// @Success 200 {object} response.Envelope
// @Router /curricula/{id}/subjects [get]
func (h *CurriculumHandler) ListSubjects(c *gin.Context) {
	subjects, err := h.service.ListSubjects(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subjects, nil)
}

// ListPrerequisites godoc
// @Summary List a curriculum subject's prerequisites
// @Tags Curricula
// @Produce json
// @Param id path string true "Curriculum subject ID"
// @Success 200 {object} response.Envelope
// @Router /curriculum-subjects/{id}/prerequisites [get]
func (h *CurriculumHandler) ListPrerequisites(c *gin.Context) {
	prerequisites, err := h.service.ListPrerequisites(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, prerequisites, nil)
}

// AddPrerequisite godoc
// @Summary Link a prerequisite to a curriculum subject
// @Description Rejects links that would create a prerequisite cycle
// @Tags Curricula
// @Accept json
// @Produce json
// @Param payload body service.AddPrerequisiteRequest true "Prerequisite payload"
// @Success 201 {object} response.Envelope
// @Router /prerequisites [post]
func (h *CurriculumHandler) AddPrerequisite(c *gin.Context) {
	var req service.AddPrerequisiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.AddPrerequisite(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, req)
}

// RemovePrerequisite godoc
// @Summary Unlink a prerequisite
// @Tags Curricula
// @Accept json
// @Produce json
// @Param payload body service.AddPrerequisiteRequest true "Prerequisite payload"
// @Success 204
// @Router /prerequisites [delete]
func (h *CurriculumHandler) RemovePrerequisite(c *gin.Context) {
	var req service.AddPrerequisiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.RemovePrerequisite(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
