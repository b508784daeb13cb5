package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	"github.com/noah-isme/profman-api/pkg/response"
)

type branchService interface {
	List(ctx context.Context, actor models.Actor, filter models.BranchFilter) ([]models.Branch, *models.Pagination, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Branch, error)
	Create(ctx context.Context, actor models.Actor, req dto.BranchRequest) (*models.Branch, error)
	Update(ctx context.Context, actor models.Actor, id string, req dto.BranchRequest) (*models.Branch, error)
	UpdateWeeks(ctx context.Context, actor models.Actor, id string, req dto.UpdateWeeksRequest) (*models.Branch, error)
	Enroll(ctx context.Context, actor models.Actor, id string, req dto.EnrollStudentsRequest) (*dto.EnrollmentResult, error)
	Unenroll(ctx context.Context, actor models.Actor, id, studentID string) error
	Students(ctx context.Context, actor models.Actor, id string) ([]models.BranchStudent, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	Restore(ctx context.Context, actor models.Actor, id string) (*models.Branch, error)
	Purge(ctx context.Context, actor models.Actor, id string) error
}

// BranchHandler exposes course sections, their timelines and rosters.
type BranchHandler struct {
	service branchService
}

// NewBranchHandler constructs a branch handler.
func NewBranchHandler(svc branchService) *BranchHandler {
	return &BranchHandler{service: svc}
}

// List godoc
// @Summary List branches
// @Description Professors only see their own branches, students the branches they are enrolled in.
// @Tags Branches
// @Produce json
// @Security BearerAuth
// @Param subject_id query string false "Subject filter"
// @Param professor_id query string false "Professor filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param search query string false "Search by name"
// @Param include_deleted query bool false "Include soft-deleted branches (admin)"
// @Success 200 {object} response.Envelope
// @Router /branches [get]
func (h *BranchHandler) List(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	params, ok := listParams(c, actor)
	if !ok {
		return
	}
	filter := models.BranchFilter{ListParams: params}
	if filter.SubjectID, ok = queryID(c, "subject_id"); !ok {
		return
	}
	if filter.ProfessorID, ok = queryID(c, "professor_id"); !ok {
		return
	}

	branches, pagination, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, branches, pagination)
}

// Get godoc
// @Summary Get branch
// @Tags Branches
// @Produce json
// @Security BearerAuth
// @Param id path string true "Branch ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /branches/{id} [get]
func (h *BranchHandler) Get(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	branch, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, branch, nil)
}

// Create godoc
// @Summary Create branch
// @Tags Branches
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.BranchRequest true "Branch payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /branches [post]
func (h *BranchHandler) Create(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req dto.BranchRequest
	if !bindJSON(c, &req) {
		return
	}
	branch, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, branch)
}

// Update godoc
// @Summary Update branch
// @Tags Branches
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Branch ID"
// @Param payload body dto.BranchRequest true "Branch payload"
// @Success 200 {object} response.Envelope
// @Router /branches/{id} [put]
func (h *BranchHandler) Update(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.BranchRequest
	if !bindJSON(c, &req) {
		return
	}
	branch, err := h.service.Update(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, branch, nil)
}

// UpdateWeeks godoc
// @Summary Replace the week timeline
// @Description Week numbers must be positive and unique. The owning professor may call this.
// @Tags Branches
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Branch ID"
// @Param payload body dto.UpdateWeeksRequest true "Weeks"
// @Success 200 {object} response.Envelope
// @Router /branches/{id}/weeks [put]
func (h *BranchHandler) UpdateWeeks(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateWeeksRequest
	if !bindJSON(c, &req) {
		return
	}
	branch, err := h.service.UpdateWeeks(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, branch, nil)
}

// Students godoc
// @Summary List enrolled students
// @Tags Branches
// @Produce json
// @Security BearerAuth
// @Param id path string true "Branch ID"
// @Success 200 {object} response.Envelope
// @Router /branches/{id}/students [get]
func (h *BranchHandler) Students(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	students, err := h.service.Students(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil)
}

// Enroll godoc
// @Summary Enroll students
// @Tags Branches
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Branch ID"
// @Param payload body dto.EnrollStudentsRequest true "Students"
// @Success 200 {object} response.Envelope
// @Router /branches/{id}/students [post]
func (h *BranchHandler) Enroll(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.EnrollStudentsRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.Enroll(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Unenroll godoc
// @Summary Remove a student from a branch
// @Tags Branches
// @Security BearerAuth
// @Param id path string true "Branch ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /branches/{id}/students/{studentId} [delete]
func (h *BranchHandler) Unenroll(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	studentID, ok := pathID(c, "studentId")
	if !ok {
		return
	}
	if err := h.service.Unenroll(c.Request.Context(), actor, id, studentID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Soft delete branch
// @Tags Branches
// @Security BearerAuth
// @Param id path string true "Branch ID"
// @Success 204
// @Router /branches/{id} [delete]
func (h *BranchHandler) Delete(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Restore godoc
// @Summary Restore branch
// @Tags Branches
// @Produce json
// @Security BearerAuth
// @Param id path string true "Branch ID"
// @Success 200 {object} response.Envelope
// @Router /branches/{id}/restore [post]
func (h *BranchHandler) Restore(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	branch, err := h.service.Restore(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, branch, nil)
}

// Purge godoc
// @Summary Permanently delete branch
// @Tags Branches
// @Security BearerAuth
// @Param id path string true "Branch ID"
// @Success 204
// @Router /branches/{id}/permanent [delete]
func (h *BranchHandler) Purge(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Purge(c.Request.Context(), actor, id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
