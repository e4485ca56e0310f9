package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/acadsys/registrar-api/internal/service"
	"github.com/acadsys/registrar-api/pkg/response"
)

// CatalogHandler exposes the per-block offering catalog.
type CatalogHandler struct {
	service *service.CatalogService
}

// NewCatalogHandler constructs a catalog handler.
func NewCatalogHandler(svc *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{service: svc}
}

// ForStudent godoc
// @Summary Get a student's offering catalog for the active term
// @Tags Catalog
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/catalog [get]
func (h *CatalogHandler) ForStudent(c *gin.Context) {
	catalog, err := h.service.ForStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, catalog, nil)
}

// BlocksForProgram godoc
// @Summary List a program's active blocks
// @Tags Catalog
// @Produce json
// @Param programId path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Router /programs/{programId}/blocks [get]
func (h *CatalogHandler) BlocksForProgram(c *gin.Context) {
	blocks, err := h.service.BlocksForProgram(c.Request.Context(), c.Param("programId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, blocks, nil)
}

// ForBlock godoc
// @Summary Get a block's offerings for a term
// @Tags Catalog
// @Produce json
// @Param termId path string true "Term ID"
// @Param blockId path string true "Block ID"
// @Success 200 {object} response.Envelope
// @Router /terms/{termId}/blocks/{blockId}/catalog [get]
func (h *CatalogHandler) ForBlock(c *gin.Context) {
	catalog, err := h.service.ForBlock(c.Request.Context(), c.Param("termId"), c.Param("blockId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, catalog, nil)
}
