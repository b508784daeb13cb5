package models

import (
	"database/sql/driver"
	"time"
)

// SubmissionStatus tracks the grading state of an exam submission.
type SubmissionStatus string

const (
	SubmissionSubmitted SubmissionStatus = "SUBMITTED"
	SubmissionGraded    SubmissionStatus = "GRADED"
)

// ExamAnswer is a free-form answer to one exam question.
type ExamAnswer struct {
	QuestionID string `json:"question_id" validate:"required"`
	Response   string `json:"response"`
}

// ExamAnswers is the JSONB answer list of a submission.
type ExamAnswers []ExamAnswer

// Value marshals answers to JSON for persistence.
func (a ExamAnswers) Value() (driver.Value, error) {
	return jsonValue(a, "[]")
}

// Scan unmarshals JSON payloads into answers.
func (a *ExamAnswers) Scan(value interface{}) error {
	*a = ExamAnswers{}
	return scanJSON(value, a, "ExamAnswers")
}

// ExamGrade is the points a professor awarded for one question.
type ExamGrade struct {
	QuestionID    string  `json:"question_id" validate:"required"`
	PointsAwarded float64 `json:"points_awarded" validate:"gte=0"`
	Feedback      string  `json:"feedback,omitempty" validate:"max=2000"`
}

// ExamGrades is the JSONB grade list of a submission.
type ExamGrades []ExamGrade

// Value marshals grades to JSON for persistence.
func (g ExamGrades) Value() (driver.Value, error) {
	return jsonValue(g, "[]")
}

// Scan unmarshals JSON payloads into grades.
func (g *ExamGrades) Scan(value interface{}) error {
	*g = ExamGrades{}
	return scanJSON(value, g, "ExamGrades")
}

// ExamSubmission is one student's answers to an exam and, once graded, the result.
type ExamSubmission struct {
	ID          string           `db:"id" json:"id"`
	ExamID      string           `db:"exam_id" json:"exam_id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	Answers     ExamAnswers      `db:"answers" json:"answers"`
	Grades      ExamGrades       `db:"grades" json:"grades"`
	Status      SubmissionStatus `db:"status" json:"status"`
	TotalScore  float64          `db:"total_score" json:"total_score"`
	MaxScore    float64          `db:"max_score" json:"max_score"`
	Percentage  float64          `db:"percentage" json:"percentage"`
	LetterGrade string           `db:"letter_grade" json:"letter_grade,omitempty"`
	GradedBy    *string          `db:"graded_by" json:"graded_by,omitempty"`
	GradedAt    *time.Time       `db:"graded_at" json:"graded_at,omitempty"`
	SubmittedAt time.Time        `db:"submitted_at" json:"submitted_at"`
}

// ExamSubmissionFilter narrows submission listings.
type ExamSubmissionFilter struct {
	ExamID    string
	StudentID string
	Status    SubmissionStatus
}
