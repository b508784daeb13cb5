package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
)

type quizServiceMock struct {
	filter    models.QuizFilter
	published *bool
	submitted dto.SubmitAttemptRequest
	submitErr error
}

func (m *quizServiceMock) List(ctx context.Context, actor models.Actor, filter models.QuizFilter) ([]models.Quiz, *models.Pagination, error) {
	m.filter = filter
	return []models.Quiz{}, filter.Pagination(0), nil
}

func (m *quizServiceMock) Get(ctx context.Context, actor models.Actor, id string) (*models.Quiz, error) {
	return &models.Quiz{ID: id}, nil
}

func (m *quizServiceMock) Create(ctx context.Context, actor models.Actor, req dto.CreateQuizRequest) (*models.Quiz, error) {
	return &models.Quiz{ID: resourceID, BranchID: req.BranchID, Title: req.Title}, nil
}

func (m *quizServiceMock) Update(ctx context.Context, actor models.Actor, id string, req dto.QuizFields) (*models.Quiz, error) {
	return &models.Quiz{ID: id, Title: req.Title}, nil
}

func (m *quizServiceMock) SetPublished(ctx context.Context, actor models.Actor, id string, published bool) (*models.Quiz, error) {
	m.published = &published
	return &models.Quiz{ID: id, IsPublished: published}, nil
}

func (m *quizServiceMock) Delete(ctx context.Context, actor models.Actor, id string) error {
	return nil
}

func (m *quizServiceMock) Restore(ctx context.Context, actor models.Actor, id string) (*models.Quiz, error) {
	return &models.Quiz{ID: id}, nil
}

func (m *quizServiceMock) Purge(ctx context.Context, actor models.Actor, id string) error {
	return nil
}

func (m *quizServiceMock) SubmitAttempt(ctx context.Context, actor models.Actor, quizID string, req dto.SubmitAttemptRequest) (*models.QuizAttempt, error) {
	m.submitted = req
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return &models.QuizAttempt{ID: resourceID, QuizID: quizID, StudentID: actor.ID, AttemptNumber: 1, Score: 3, MaxScore: 4, Percentage: 75}, nil
}

func (m *quizServiceMock) ListAttempts(ctx context.Context, actor models.Actor, quizID string) ([]models.QuizAttempt, error) {
	return []models.QuizAttempt{{ID: resourceID, QuizID: quizID}}, nil
}

func (m *quizServiceMock) GetAttempt(ctx context.Context, actor models.Actor, id string) (*models.QuizAttempt, error) {
	return nil, appErrors.Clone(appErrors.ErrForbidden, "not your attempt")
}

func quizRouter(svc *quizServiceMock, claims *models.JWTClaims) http.Handler {
	h := NewQuizHandler(svc)
	r := newTestRouter(claims)
	r.GET("/quizzes", h.List)
	r.POST("/quizzes", h.Create)
	r.POST("/quizzes/:id/publish", h.Publish)
	r.POST("/quizzes/:id/unpublish", h.Unpublish)
	r.POST("/quizzes/:id/attempts", h.SubmitAttempt)
	r.GET("/quizzes/:id/attempts", h.ListAttempts)
	r.GET("/quiz-attempts/:id", h.GetAttempt)
	return r
}

func TestQuizHandlerListFilters(t *testing.T) {
	svc := &quizServiceMock{}
	w := perform(quizRouter(svc, professorClaims), http.MethodGet, "/quizzes?branch_id="+resourceID+"&published=false", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resourceID, svc.filter.BranchID)
	require.NotNil(t, svc.filter.Published)
	assert.False(t, *svc.filter.Published)
}

func TestQuizHandlerPublishToggle(t *testing.T) {
	svc := &quizServiceMock{}
	r := quizRouter(svc, professorClaims)

	w := perform(r, http.MethodPost, "/quizzes/"+resourceID+"/publish", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.published)
	assert.True(t, *svc.published)

	w = perform(r, http.MethodPost, "/quizzes/"+resourceID+"/unpublish", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, *svc.published)
}

func TestQuizHandlerSubmitAttempt(t *testing.T) {
	svc := &quizServiceMock{}
	selected := 1
	payload := dto.SubmitAttemptRequest{Answers: []models.QuizAnswer{{QuestionID: "q1", SelectedOption: &selected}}}
	w := perform(quizRouter(svc, studentClaims), http.MethodPost, "/quizzes/"+resourceID+"/attempts", payload)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, svc.submitted.Answers, 1)
	assert.Equal(t, 1, *svc.submitted.Answers[0].SelectedOption)

	var attempt models.QuizAttempt
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &attempt))
	assert.Equal(t, studentID, attempt.StudentID)
	assert.Equal(t, 75.0, attempt.Percentage)
}

func TestQuizHandlerSubmitAttemptLimitReached(t *testing.T) {
	svc := &quizServiceMock{submitErr: appErrors.Clone(appErrors.ErrConflict, "maximum attempts reached")}
	w := perform(quizRouter(svc, studentClaims), http.MethodPost, "/quizzes/"+resourceID+"/attempts", dto.SubmitAttemptRequest{})

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "maximum attempts reached", decode(t, w).Error.Message)
}

func TestQuizHandlerGetAttemptForbidden(t *testing.T) {
	w := perform(quizRouter(&quizServiceMock{}, studentClaims), http.MethodGet, "/quiz-attempts/"+resourceID, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

type examServiceMock struct {
	graded   dto.GradeSubmissionRequest
	gradeErr error
}

func (m *examServiceMock) List(ctx context.Context, actor models.Actor, filter models.ExamFilter) ([]models.Exam, *models.Pagination, error) {
	return nil, filter.Pagination(0), nil
}

func (m *examServiceMock) Get(ctx context.Context, actor models.Actor, id string) (*models.Exam, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
}

func (m *examServiceMock) Create(ctx context.Context, actor models.Actor, req dto.CreateExamRequest) (*models.Exam, error) {
	return &models.Exam{ID: resourceID, BranchID: req.BranchID}, nil
}

func (m *examServiceMock) Update(ctx context.Context, actor models.Actor, id string, req dto.ExamFields) (*models.Exam, error) {
	return &models.Exam{ID: id}, nil
}

func (m *examServiceMock) SetPublished(ctx context.Context, actor models.Actor, id string, published bool) (*models.Exam, error) {
	return &models.Exam{ID: id, IsPublished: published}, nil
}

func (m *examServiceMock) Delete(ctx context.Context, actor models.Actor, id string) error {
	return nil
}

func (m *examServiceMock) Restore(ctx context.Context, actor models.Actor, id string) (*models.Exam, error) {
	return &models.Exam{ID: id}, nil
}

func (m *examServiceMock) Purge(ctx context.Context, actor models.Actor, id string) error {
	return nil
}

func (m *examServiceMock) Submit(ctx context.Context, actor models.Actor, examID string, req dto.SubmitExamRequest) (*models.ExamSubmission, error) {
	return nil, appErrors.Clone(appErrors.ErrConflict, "exam already submitted")
}

func (m *examServiceMock) ListSubmissions(ctx context.Context, actor models.Actor, examID string) ([]models.ExamSubmission, error) {
	return []models.ExamSubmission{{ID: resourceID, ExamID: examID}}, nil
}

func (m *examServiceMock) GetSubmission(ctx context.Context, actor models.Actor, id string) (*models.ExamSubmission, error) {
	return &models.ExamSubmission{ID: id}, nil
}

func (m *examServiceMock) Grade(ctx context.Context, actor models.Actor, submissionID string, req dto.GradeSubmissionRequest) (*models.ExamSubmission, error) {
	m.graded = req
	if m.gradeErr != nil {
		return nil, m.gradeErr
	}
	return &models.ExamSubmission{ID: submissionID, Status: models.SubmissionGraded, Percentage: 91, LetterGrade: "A"}, nil
}

func examRouter(svc *examServiceMock, claims *models.JWTClaims) http.Handler {
	h := NewExamHandler(svc)
	r := newTestRouter(claims)
	r.GET("/exams/:id", h.Get)
	r.POST("/exams/:id/publish", h.Publish)
	r.POST("/exams/:id/submissions", h.Submit)
	r.GET("/exams/:id/submissions", h.ListSubmissions)
	r.PUT("/exam-submissions/:id/grade", h.Grade)
	return r
}

func TestExamHandlerGrade(t *testing.T) {
	svc := &examServiceMock{}
	payload := dto.GradeSubmissionRequest{Grades: []models.ExamGrade{{QuestionID: "q1", PointsAwarded: 9.1, Feedback: "good"}}}
	w := perform(examRouter(svc, professorClaims), http.MethodPut, "/exam-submissions/"+resourceID+"/grade", payload)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.graded.Grades, 1)
	assert.Equal(t, "good", svc.graded.Grades[0].Feedback)

	var submission models.ExamSubmission
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &submission))
	assert.Equal(t, models.SubmissionGraded, submission.Status)
	assert.Equal(t, "A", submission.LetterGrade)
}

func TestExamHandlerGradeValidationDetails(t *testing.T) {
	svc := &examServiceMock{gradeErr: appErrors.WithDetails(appErrors.ErrValidation, map[string]string{"grades": "question q2 is not graded"})}
	w := perform(examRouter(svc, professorClaims), http.MethodPut, "/exam-submissions/"+resourceID+"/grade", dto.GradeSubmissionRequest{})

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "question q2 is not graded", decode(t, w).Error.Details["grades"])
}

func TestExamHandlerDuplicateSubmission(t *testing.T) {
	payload := dto.SubmitExamRequest{Answers: []models.ExamAnswer{{QuestionID: "q1", Response: "42"}}}
	w := perform(examRouter(&examServiceMock{}, studentClaims), http.MethodPost, "/exams/"+resourceID+"/submissions", payload)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestExamHandlerRoutes(t *testing.T) {
	r := examRouter(&examServiceMock{}, professorClaims)

	assert.Equal(t, http.StatusNotFound, perform(r, http.MethodGet, "/exams/"+resourceID, nil).Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodPost, "/exams/"+resourceID+"/publish", nil).Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/exams/"+resourceID+"/submissions", nil).Code)
	assert.Equal(t, http.StatusBadRequest, perform(r, http.MethodGet, "/exams/abc/submissions", nil).Code)
}
