package service

import (
	"fmt"

	"github.com/noah-isme/profman-api/internal/models"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
)

// LetterGrade maps a percentage onto the fixed A-F scale.
func LetterGrade(pct float64) string {
	switch {
	case pct >= 90:
		return "A"
	case pct >= 80:
		return "B"
	case pct >= 70:
		return "C"
	case pct >= 60:
		return "D"
	default:
		return "F"
	}
}

// ExamResult is the outcome of grading a submission.
type ExamResult struct {
	Grades     models.ExamGrades
	Total      float64
	MaxScore   float64
	Percentage float64
	Letter     string
}

// GradeExam checks that every question is graded exactly once within its point range
// and totals the result. Grades come back in question order.
func GradeExam(questions models.ExamQuestions, grades []models.ExamGrade) (*ExamResult, error) {
	index := make(map[string]int, len(questions))
	for i, q := range questions {
		index[q.ID] = i
	}

	details := make(map[string]string)
	ordered := make(models.ExamGrades, len(questions))
	graded := make([]bool, len(questions))

	for i, grade := range grades {
		field := fmt.Sprintf("grades[%d]", i)
		pos, ok := index[grade.QuestionID]
		if !ok {
			details[field+".question_id"] = "question is not part of this exam"
			continue
		}
		if graded[pos] {
			details[field+".question_id"] = "question is graded more than once"
			continue
		}
		graded[pos] = true
		points := questions[pos].Points
		if grade.PointsAwarded < 0 || grade.PointsAwarded > points {
			details[field+".points_awarded"] = fmt.Sprintf("points_awarded must be between 0 and %g", points)
		}
		ordered[pos] = grade
	}
	for pos, done := range graded {
		if !done {
			details["grades"] = fmt.Sprintf("question %s is not graded", questions[pos].ID)
			break
		}
	}
	if len(details) > 0 {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid grades"), details)
	}

	var total float64
	for _, grade := range ordered {
		total += grade.PointsAwarded
	}
	maxScore := questions.MaxScore()
	pct := percentage(total, maxScore)
	return &ExamResult{
		Grades:     ordered,
		Total:      round2(total),
		MaxScore:   maxScore,
		Percentage: pct,
		Letter:     LetterGrade(pct),
	}, nil
}
