package models

import (
	"database/sql/driver"
	"time"
)

// ExamQuestion is a manually graded exam question.
type ExamQuestion struct {
	ID     string  `json:"id"`
	Prompt string  `json:"prompt" validate:"required"`
	Points float64 `json:"points" validate:"gt=0"`
}

// ExamQuestions is the JSONB question list of an exam.
type ExamQuestions []ExamQuestion

// Value marshals questions to JSON for persistence.
func (q ExamQuestions) Value() (driver.Value, error) {
	return jsonValue(q, "[]")
}

// Scan unmarshals JSON payloads into questions.
func (q *ExamQuestions) Scan(value interface{}) error {
	*q = ExamQuestions{}
	return scanJSON(value, q, "ExamQuestions")
}

// MaxScore sums question points.
func (q ExamQuestions) MaxScore() float64 {
	var total float64
	for _, question := range q {
		total += question.Points
	}
	return total
}

// Exam is a professor graded assessment attached to a branch.
type Exam struct {
	ID              string        `db:"id" json:"id"`
	BranchID        string        `db:"branch_id" json:"branch_id"`
	ProfessorID     string        `db:"professor_id" json:"professor_id"`
	Title           string        `db:"title" json:"title"`
	Description     string        `db:"description" json:"description"`
	Questions       ExamQuestions `db:"questions" json:"questions"`
	ScheduledAt     *time.Time    `db:"scheduled_at" json:"scheduled_at,omitempty"`
	DurationMinutes int           `db:"duration_minutes" json:"duration_minutes"`
	IsPublished     bool          `db:"is_published" json:"is_published"`
	SoftDelete
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ExamFilter captures exam list filters.
type ExamFilter struct {
	ListParams
	BranchID    string
	ProfessorID string
	StudentID   string
	Published   *bool
}
