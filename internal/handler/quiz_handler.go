package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	"github.com/noah-isme/profman-api/pkg/response"
)

type quizService interface {
	List(ctx context.Context, actor models.Actor, filter models.QuizFilter) ([]models.Quiz, *models.Pagination, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Quiz, error)
	Create(ctx context.Context, actor models.Actor, req dto.CreateQuizRequest) (*models.Quiz, error)
	Update(ctx context.Context, actor models.Actor, id string, req dto.QuizFields) (*models.Quiz, error)
	SetPublished(ctx context.Context, actor models.Actor, id string, published bool) (*models.Quiz, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	Restore(ctx context.Context, actor models.Actor, id string) (*models.Quiz, error)
	Purge(ctx context.Context, actor models.Actor, id string) error
	SubmitAttempt(ctx context.Context, actor models.Actor, quizID string, req dto.SubmitAttemptRequest) (*models.QuizAttempt, error)
	ListAttempts(ctx context.Context, actor models.Actor, quizID string) ([]models.QuizAttempt, error)
	GetAttempt(ctx context.Context, actor models.Actor, id string) (*models.QuizAttempt, error)
}

// QuizHandler exposes quizzes and their auto-graded attempts.
type QuizHandler struct {
	service quizService
}

// NewQuizHandler constructs a quiz handler.
func NewQuizHandler(svc quizService) *QuizHandler {
	return &QuizHandler{service: svc}
}

// List godoc
// @Summary List quizzes
// @Tags Quizzes
// @Produce json
// @Security BearerAuth
// @Param branch_id query string false "Branch filter"
// @Param published query bool false "Published filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param include_deleted query bool false "Include soft-deleted quizzes (admin)"
// @Success 200 {object} response.Envelope
// @Router /quizzes [get]
func (h *QuizHandler) List(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	params, ok := listParams(c, actor)
	if !ok {
		return
	}
	filter := models.QuizFilter{ListParams: params}
	if filter.BranchID, ok = queryID(c, "branch_id"); !ok {
		return
	}
	if filter.Published, ok = queryBool(c, "published"); !ok {
		return
	}

	quizzes, pagination, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quizzes, pagination)
}

// Get godoc
// @Summary Get quiz
// @Description Students receive the quiz without answer keys.
// @Tags Quizzes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Quiz ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /quizzes/{id} [get]
func (h *QuizHandler) Get(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	quiz, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quiz, nil)
}

// Create godoc
// @Summary Create quiz
// @Tags Quizzes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateQuizRequest true "Quiz payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /quizzes [post]
func (h *QuizHandler) Create(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req dto.CreateQuizRequest
	if !bindJSON(c, &req) {
		return
	}
	quiz, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, quiz)
}

// Update godoc
// @Summary Update quiz
// @Tags Quizzes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Quiz ID"
// @Param payload body dto.QuizFields true "Quiz payload"
// @Success 200 {object} response.Envelope
// @Router /quizzes/{id} [put]
func (h *QuizHandler) Update(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.QuizFields
	if !bindJSON(c, &req) {
		return
	}
	quiz, err := h.service.Update(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quiz, nil)
}

// Publish godoc
// @Summary Publish quiz
// @Tags Quizzes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Quiz ID"
// @Success 200 {object} response.Envelope
// @Router /quizzes/{id}/publish [post]
func (h *QuizHandler) Publish(c *gin.Context) {
	h.setPublished(c, true)
}

// Unpublish godoc
// @Summary Unpublish quiz
// @Tags Quizzes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Quiz ID"
// @Success 200 {object} response.Envelope
// @Router /quizzes/{id}/unpublish [post]
func (h *QuizHandler) Unpublish(c *gin.Context) {
	h.setPublished(c, false)
}

func (h *QuizHandler) setPublished(c *gin.Context, published bool) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	quiz, err := h.service.SetPublished(c.Request.Context(), actor, id, published)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quiz, nil)
}

// Delete godoc
// @Summary Soft delete quiz
// @Tags Quizzes
// @Security BearerAuth
// @Param id path string true "Quiz ID"
// @Success 204
// @Router /quizzes/{id} [delete]
func (h *QuizHandler) Delete(c *gin.Context) {
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
// @Summary Restore quiz
// @Tags Quizzes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Quiz ID"
// @Success 200 {object} response.Envelope
// @Router /quizzes/{id}/restore [post]
func (h *QuizHandler) Restore(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	quiz, err := h.service.Restore(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quiz, nil)
}

// Purge godoc
// @Summary Permanently delete quiz
// @Tags Quizzes
// @Security BearerAuth
// @Param id path string true "Quiz ID"
// @Success 204
// @Router /quizzes/{id}/permanent [delete]
func (h *QuizHandler) Purge(c *gin.Context) {
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

// SubmitAttempt godoc
// @Summary Submit a quiz attempt
// @Description Grades the attempt immediately and returns per-question results.
// @Tags Quizzes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Quiz ID"
// @Param payload body dto.SubmitAttemptRequest true "Answers"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /quizzes/{id}/attempts [post]
func (h *QuizHandler) SubmitAttempt(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.SubmitAttemptRequest
	if !bindJSON(c, &req) {
		return
	}
	attempt, err := h.service.SubmitAttempt(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, attempt)
}

// ListAttempts godoc
// @Summary List quiz attempts
// @Description Owners and admins see every attempt, students only their own.
// @Tags Quizzes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Quiz ID"
// @Success 200 {object} response.Envelope
// @Router /quizzes/{id}/attempts [get]
func (h *QuizHandler) ListAttempts(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	attempts, err := h.service.ListAttempts(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attempts, nil)
}

// GetAttempt godoc
// @Summary Get quiz attempt
// @Tags Quizzes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Attempt ID"
// @Success 200 {object} response.Envelope
// @Router /quiz-attempts/{id} [get]
func (h *QuizHandler) GetAttempt(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	attempt, err := h.service.GetAttempt(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attempt, nil)
}
