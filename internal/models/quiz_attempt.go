package models

import (
	"database/sql/driver"
	"time"
)

// QuizAnswer is a student's response to one question. Only the field matching the
// question type is read.
type QuizAnswer struct {
	QuestionID      string   `json:"question_id" validate:"required"`
	SelectedOption  *int     `json:"selected_option,omitempty"`
	SelectedOptions []int    `json:"selected_options,omitempty"`
	Number          *float64 `json:"number,omitempty"`
	Text            *string  `json:"text,omitempty"`
	Bool            *bool    `json:"bool,omitempty"`
}

// QuizAnswers is the JSONB answer list of an attempt.
type QuizAnswers []QuizAnswer

// Value marshals answers to JSON for persistence.
func (a QuizAnswers) Value() (driver.Value, error) {
	return jsonValue(a, "[]")
}

// Scan unmarshals JSON payloads into answers.
func (a *QuizAnswers) Scan(value interface{}) error {
	*a = QuizAnswers{}
	return scanJSON(value, a, "QuizAnswers")
}

// QuestionResult is the graded outcome of one question.
type QuestionResult struct {
	QuestionID     string       `json:"question_id"`
	Type           QuestionType `json:"type"`
	Answered       bool         `json:"answered"`
	Correct        bool         `json:"correct"`
	PointsAwarded  float64      `json:"points_awarded"`
	PointsPossible float64      `json:"points_possible"`
}

// QuestionResults is the JSONB result list of an attempt.
type QuestionResults []QuestionResult

// Value marshals results to JSON for persistence.
func (r QuestionResults) Value() (driver.Value, error) {
	return jsonValue(r, "[]")
}

// Scan unmarshals JSON payloads into results.
func (r *QuestionResults) Scan(value interface{}) error {
	*r = QuestionResults{}
	return scanJSON(value, r, "QuestionResults")
}

// QuizAttempt is a graded submission of a quiz by a student.
type QuizAttempt struct {
	ID            string          `db:"id" json:"id"`
	QuizID        string          `db:"quiz_id" json:"quiz_id"`
	StudentID     string          `db:"student_id" json:"student_id"`
	AttemptNumber int             `db:"attempt_number" json:"attempt_number"`
	Answers       QuizAnswers     `db:"answers" json:"answers"`
	Results       QuestionResults `db:"results" json:"results"`
	Score         float64         `db:"score" json:"score"`
	MaxScore      float64         `db:"max_score" json:"max_score"`
	Percentage    float64         `db:"percentage" json:"percentage"`
	StartedAt     time.Time       `db:"started_at" json:"started_at"`
	SubmittedAt   time.Time       `db:"submitted_at" json:"submitted_at"`
}

// QuizAttemptFilter narrows attempt listings.
type QuizAttemptFilter struct {
	QuizID    string
	StudentID string
}
