package models

import (
	"database/sql/driver"
	"time"
)

// QuestionType enumerates auto-gradable quiz question kinds.
type QuestionType string

const (
	QuestionMCQ         QuestionType = "mcq"
	QuestionMultiSelect QuestionType = "multi_select"
	QuestionNumeric     QuestionType = "numeric"
	QuestionShortText   QuestionType = "short_text"
	QuestionTrueFalse   QuestionType = "true_false"
)

// QuizQuestion is a single question with its answer key. Which key fields apply depends on Type.
type QuizQuestion struct {
	ID              string       `json:"id"`
	Type            QuestionType `json:"type" validate:"required,oneof=mcq multi_select numeric short_text true_false"`
	Prompt          string       `json:"prompt" validate:"required"`
	Options         []string     `json:"options,omitempty"`
	CorrectOption   *int         `json:"correct_option,omitempty"`
	CorrectOptions  []int        `json:"correct_options,omitempty"`
	CorrectNumber   *float64     `json:"correct_number,omitempty"`
	Tolerance       float64      `json:"tolerance,omitempty" validate:"gte=0"`
	AcceptedAnswers []string     `json:"accepted_answers,omitempty"`
	CaseSensitive   bool         `json:"case_sensitive,omitempty"`
	CorrectBool     *bool        `json:"correct_bool,omitempty"`
	Points          float64      `json:"points" validate:"gt=0"`
}

// WithoutAnswerKey returns the question as shown to students.
func (q QuizQuestion) WithoutAnswerKey() QuizQuestion {
	q.CorrectOption = nil
	q.CorrectOptions = nil
	q.CorrectNumber = nil
	q.Tolerance = 0
	q.AcceptedAnswers = nil
	q.CaseSensitive = false
	q.CorrectBool = nil
	return q
}

// QuizQuestions is the JSONB question list of a quiz.
type QuizQuestions []QuizQuestion

// Value marshals questions to JSON for persistence.
func (q QuizQuestions) Value() (driver.Value, error) {
	return jsonValue(q, "[]")
}

// Scan unmarshals JSON payloads into questions.
func (q *QuizQuestions) Scan(value interface{}) error {
	*q = QuizQuestions{}
	return scanJSON(value, q, "QuizQuestions")
}

// MaxScore sums question points.
func (q QuizQuestions) MaxScore() float64 {
	var total float64
	for _, question := range q {
		total += question.Points
	}
	return total
}

// Quiz is an auto-graded assessment attached to a branch.
type Quiz struct {
	ID               string        `db:"id" json:"id"`
	BranchID         string        `db:"branch_id" json:"branch_id"`
	ProfessorID      string        `db:"professor_id" json:"professor_id"`
	Title            string        `db:"title" json:"title"`
	Description      string        `db:"description" json:"description"`
	Questions        QuizQuestions `db:"questions" json:"questions"`
	TimeLimitMinutes int           `db:"time_limit_minutes" json:"time_limit_minutes"`
	MaxAttempts      int           `db:"max_attempts" json:"max_attempts"`
	AvailableFrom    *time.Time    `db:"available_from" json:"available_from,omitempty"`
	AvailableUntil   *time.Time    `db:"available_until" json:"available_until,omitempty"`
	IsPublished      bool          `db:"is_published" json:"is_published"`
	SoftDelete
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ForStudent strips answer keys from every question.
func (q Quiz) ForStudent() Quiz {
	questions := make(QuizQuestions, len(q.Questions))
	for i, question := range q.Questions {
		questions[i] = question.WithoutAnswerKey()
	}
	q.Questions = questions
	return q
}

// OpenAt reports whether now falls inside the availability window.
func (q Quiz) OpenAt(now time.Time) bool {
	if q.AvailableFrom != nil && now.Before(*q.AvailableFrom) {
		return false
	}
	if q.AvailableUntil != nil && now.After(*q.AvailableUntil) {
		return false
	}
	return true
}

// QuizFilter captures quiz list filters.
type QuizFilter struct {
	ListParams
	BranchID    string
	ProfessorID string
	StudentID   string
	Published   *bool
}
