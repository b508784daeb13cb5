package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	"github.com/noah-isme/profman-api/internal/service"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
	"github.com/noah-isme/profman-api/pkg/response"
)

type gradebookReader interface {
	Get(ctx context.Context, actor models.Actor, branchID string) (*models.Gradebook, error)
}

type exportJobs interface {
	CreateJob(ctx context.Context, actor models.Actor, branchID string, req dto.ExportRequest) (*dto.ExportJobResponse, error)
	GetStatus(ctx context.Context, actor models.Actor, id string) (*dto.ExportStatusResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error)
}

// GradebookHandler serves branch gradebooks and their export jobs.
type GradebookHandler struct {
	gradebooks gradebookReader
	exports    exportJobs
}

// NewGradebookHandler constructs the handler.
func NewGradebookHandler(gradebooks gradebookReader, exports exportJobs) *GradebookHandler {
	return &GradebookHandler{gradebooks: gradebooks, exports: exports}
}

// Get godoc
// @Summary Branch gradebook
// @Description Best quiz percentage per quiz, exam percentage and letter per exam, and overall average per enrolled student.
// @Tags Gradebook
// @Produce json
// @Security BearerAuth
// @Param id path string true "Branch ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /branches/{id}/gradebook [get]
func (h *GradebookHandler) Get(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	book, err := h.gradebooks.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, book, nil)
}

// CreateExport godoc
// @Summary Export gradebook
// @Description Queue a gradebook export to a signed download, Google Drive or Google Sheets.
// @Tags Gradebook
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Branch ID"
// @Param payload body dto.ExportRequest true "Export payload"
// @Success 202 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /branches/{id}/gradebook/exports [post]
func (h *GradebookHandler) CreateExport(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.ExportRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	job, err := h.exports.CreateJob(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job, "export queued")
}

// ExportStatus godoc
// @Summary Export job status
// @Tags Gradebook
// @Produce json
// @Security BearerAuth
// @Param id path string true "Export job ID"
// @Success 200 {object} response.Envelope
// @Router /exports/{id} [get]
func (h *GradebookHandler) ExportStatus(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	status, err := h.exports.GetStatus(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Download godoc
// @Summary Download a finished export
// @Description The signed token is the credential, no bearer token is needed.
// @Tags Gradebook
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /exports/download/{token} [get]
func (h *GradebookHandler) Download(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "missing download token"))
		return
	}
	download, err := h.exports.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.Body.Close()

	c.Header("Cache-Control", "private, no-store")
	c.DataFromReader(http.StatusOK, -1, download.ContentType, download.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", download.Filename),
	})
}
