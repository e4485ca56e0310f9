package handler

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/acadsys/registrar-api/internal/models"
	"github.com/acadsys/registrar-api/internal/service"
	appErrors "github.com/acadsys/registrar-api/pkg/errors"
	"github.com/acadsys/registrar-api/pkg/response"
	"github.com/acadsys/registrar-api/pkg/storage"
)

// GradeHandler exposes grade workflow endpoints.
type GradeHandler struct {
	service     *service.GradeService
	signer      *storage.SignedURLSigner
	files       *storage.LocalStorage
	maxFileSize int64
}

// NewGradeHandler constructs a grade handler.
func NewGradeHandler(svc *service.GradeService, signer *storage.SignedURLSigner, files *storage.LocalStorage, maxFileSize int64) *GradeHandler {
	if maxFileSize <= 0 {
		maxFileSize = 5 << 20
	}
	return &GradeHandler{service: svc, signer: signer, files: files, maxFileSize: maxFileSize}
}

// Submit godoc
// @Summary Submit a class's grades for one period
// @Description Locks the period on success; resubmission requires a registrar
// @Tags Grades
// @Accept json
// @Produce json
// @Param id path string true "Offering ID"
// @Param payload body service.SubmitGradesRequest true "Grades payload"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/grades [post]
func (h *GradeHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.SubmitGradesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	actor := service.Actor{UserID: claims.UserID, Role: claims.Role}
	if err := h.service.Submit(c.Request.Context(), c.Param("id"), req, actor); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "submitted"}, nil)
}

// Override godoc
// @Summary Override a single grade (registrar only)
// @Description Accepts multipart form with an optional evidence attachment
// @Tags Grades
// @Accept mpfd
// @Produce json
// @Param id path string true "Enrolled subject ID"
// @Param grade_period formData string true "MIDTERM or FINAL"
// @Param new_grade formData number true "Corrected grade"
// @Param reason formData string true "Override reason"
// @Param attachment formData file false "Supporting document"
// @Success 200 {object} response.Envelope
// @Router /enrolled-subjects/{id}/override [post]
func (h *GradeHandler) Override(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	req, err := h.bindOverrideRequest(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	actor := service.Actor{UserID: claims.UserID, Role: claims.Role}
	log, err := h.service.Override(c.Request.Context(), c.Param("id"), *req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, log, nil)
}

// ChangeLogs godoc
// @Summary List grade change logs for an enrolled subject
// @Tags Grades
// @Produce json
// @Param id path string true "Enrolled subject ID"
// @Success 200 {object} response.Envelope
// @Router /enrolled-subjects/{id}/change-logs [get]
func (h *GradeHandler) ChangeLogs(c *gin.Context) {
	logs, err := h.service.ChangeLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]gradeChangeLogView, 0, len(logs))
	for _, log := range logs {
		view := gradeChangeLogView{GradeChangeLog: log}
		if log.AttachmentPath != nil && h.signer != nil {
			if token, _, err := h.signer.Generate(log.ID, *log.AttachmentPath); err == nil {
				view.AttachmentURL = "/attachments/" + token
			}
		}
		views = append(views, view)
	}
	response.JSON(c, http.StatusOK, views, nil)
}

type gradeChangeLogView struct {
	models.GradeChangeLog
	AttachmentURL string `json:"attachment_url,omitempty"`
}

// DownloadAttachment godoc
// @Summary Download an override evidence attachment
// @Description The token comes from the change-log listing and expires
// @Tags Grades
// @Produce octet-stream
// @Param token path string true "Signed attachment token"
// @Success 200 {file} binary
// @Router /attachments/{token} [get]
func (h *GradeHandler) DownloadAttachment(c *gin.Context) {
	if h.signer == nil || h.files == nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	_, relPath, _, err := h.signer.Parse(c.Param("token"), false)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired attachment token"))
		return
	}
	c.FileAttachment(h.files.Path(relPath), filepath.Base(relPath))
}

// ClassSheet godoc
// @Summary Get the class grade sheet for an offering
// @Tags Grades
// @Produce json
// @Param id path string true "Offering ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/grades [get]
func (h *GradeHandler) ClassSheet(c *gin.Context) {
	sheet, err := h.service.ClassSheet(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sheet, nil)
}

// Export godoc
// @Summary Export the class grade sheet
// @Tags Grades
// @Produce octet-stream
// @Param id path string true "Offering ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Router /schedules/{id}/grades/export [get]
func (h *GradeHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	payload, filename, err := h.service.ExportClassSheet(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	contentType := "text/csv"
	if strings.HasSuffix(filename, ".pdf") {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, payload)
}

func (h *GradeHandler) bindOverrideRequest(c *gin.Context) (*service.OverrideGradeRequest, error) {
	contentType := c.GetHeader("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var req service.OverrideGradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload")
		}
		return &req, nil
	}

	grade, err := strconv.ParseFloat(c.PostForm("new_grade"), 64)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new_grade must be a number")
	}
	req := service.OverrideGradeRequest{
		GradePeriod: models.GradePeriod(c.PostForm("grade_period")),
		NewGrade:    grade,
		Reason:      c.PostForm("reason"),
	}

	file, header, err := c.Request.FormFile("attachment")
	if err == nil {
		defer file.Close() //nolint:errcheck
		if header.Size > h.maxFileSize {
			return nil, appErrors.Clone(appErrors.ErrValidation, "attachment exceeds the maximum file size")
		}
		data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read attachment")
		}
		if int64(len(data)) > h.maxFileSize {
			return nil, appErrors.Clone(appErrors.ErrValidation, "attachment exceeds the maximum file size")
		}
		req.AttachmentName = header.Filename
		req.Attachment = data
	}

	return &req, nil
}
