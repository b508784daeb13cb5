package dto

import (
	"time"

	"github.com/noah-isme/profman-api/internal/models"
)

// QuizFields are the editable attributes of a quiz.
type QuizFields struct {
	Title            string                `json:"title" validate:"required,max=200"`
	Description      string                `json:"description" validate:"max=4000"`
	Questions        []models.QuizQuestion `json:"questions" validate:"required,min=1,max=200,dive"`
	TimeLimitMinutes int                   `json:"time_limit_minutes" validate:"gte=0,lte=1440"`
	MaxAttempts      int                   `json:"max_attempts" validate:"gte=0,lte=100"`
	AvailableFrom    *time.Time            `json:"available_from"`
	AvailableUntil   *time.Time            `json:"available_until"`
}

// CreateQuizRequest creates a quiz inside a branch.
type CreateQuizRequest struct {
	BranchID string `json:"branch_id" validate:"required,uuid"`
	QuizFields
}

// SubmitAttemptRequest carries a student's answers to a quiz.
type SubmitAttemptRequest struct {
	Answers   []models.QuizAnswer `json:"answers" validate:"max=200,dive"`
	StartedAt *time.Time          `json:"started_at"`
}

// ExamFields are the editable attributes of an exam.
type ExamFields struct {
	Title           string                `json:"title" validate:"required,max=200"`
	Description     string                `json:"description" validate:"max=4000"`
	Questions       []models.ExamQuestion `json:"questions" validate:"required,min=1,max=200,dive"`
	ScheduledAt     *time.Time            `json:"scheduled_at"`
	DurationMinutes int                   `json:"duration_minutes" validate:"gte=0,lte=1440"`
}

// CreateExamRequest creates an exam inside a branch.
type CreateExamRequest struct {
	BranchID string `json:"branch_id" validate:"required,uuid"`
	ExamFields
}

// SubmitExamRequest carries a student's exam answers.
type SubmitExamRequest struct {
	Answers []models.ExamAnswer `json:"answers" validate:"required,max=200,dive"`
}

// GradeSubmissionRequest grades every question of a submission.
type GradeSubmissionRequest struct {
	Grades []models.ExamGrade `json:"grades" validate:"required,min=1,dive"`
}
