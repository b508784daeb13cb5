package service

import (
	"math"
	"strings"

	"github.com/noah-isme/profman-api/internal/models"
)

const numericSlack = 1e-9

// GradeQuiz scores answers against the quiz questions. Unanswered or unknown
// questions score zero; answers to questions that are not on the quiz are ignored.
func GradeQuiz(questions models.QuizQuestions, answers []models.QuizAnswer) (models.QuestionResults, float64, float64, float64) {
	byQuestion := make(map[string]models.QuizAnswer, len(answers))
	for _, answer := range answers {
		if _, exists := byQuestion[answer.QuestionID]; !exists {
			byQuestion[answer.QuestionID] = answer
		}
	}

	results := make(models.QuestionResults, 0, len(questions))
	var score float64
	for _, question := range questions {
		result := models.QuestionResult{QuestionID: question.ID, Type: question.Type, PointsPossible: question.Points}
		if answer, ok := byQuestion[question.ID]; ok {
			result.Answered = isAnswered(question.Type, answer)
			result.PointsAwarded = gradeQuestion(question, answer)
			result.Correct = result.PointsAwarded >= question.Points
		}
		score += result.PointsAwarded
		results = append(results, result)
	}

	maxScore := questions.MaxScore()
	return results, round2(score), maxScore, percentage(score, maxScore)
}

func gradeQuestion(q models.QuizQuestion, a models.QuizAnswer) float64 {
	switch q.Type {
	case models.QuestionMCQ:
		if a.SelectedOption != nil && q.CorrectOption != nil && *a.SelectedOption == *q.CorrectOption {
			return q.Points
		}
	case models.QuestionTrueFalse:
		if a.Bool != nil && q.CorrectBool != nil && *a.Bool == *q.CorrectBool {
			return q.Points
		}
	case models.QuestionNumeric:
		if a.Number != nil && q.CorrectNumber != nil && math.Abs(*a.Number-*q.CorrectNumber) <= q.Tolerance+numericSlack {
			return q.Points
		}
	case models.QuestionShortText:
		if a.Text == nil {
			return 0
		}
		given := normalizeText(*a.Text, q.CaseSensitive)
		if given == "" {
			return 0
		}
		for _, accepted := range q.AcceptedAnswers {
			if normalizeText(accepted, q.CaseSensitive) == given {
				return q.Points
			}
		}
	case models.QuestionMultiSelect:
		return multiSelectCredit(q, a.SelectedOptions)
	}
	return 0
}

// multiSelectCredit awards points in proportion to the correct options picked.
// Any wrong pick forfeits the question.
func multiSelectCredit(q models.QuizQuestion, selected []int) float64 {
	correct := make(map[int]struct{}, len(q.CorrectOptions))
	for _, idx := range q.CorrectOptions {
		correct[idx] = struct{}{}
	}
	if len(correct) == 0 || len(selected) == 0 {
		return 0
	}
	hits := make(map[int]struct{}, len(selected))
	for _, idx := range selected {
		if _, ok := correct[idx]; !ok {
			return 0
		}
		hits[idx] = struct{}{}
	}
	return q.Points * float64(len(hits)) / float64(len(correct))
}

func isAnswered(t models.QuestionType, a models.QuizAnswer) bool {
	switch t {
	case models.QuestionMCQ:
		return a.SelectedOption != nil
	case models.QuestionMultiSelect:
		return len(a.SelectedOptions) > 0
	case models.QuestionNumeric:
		return a.Number != nil
	case models.QuestionShortText:
		return a.Text != nil && strings.TrimSpace(*a.Text) != ""
	case models.QuestionTrueFalse:
		return a.Bool != nil
	}
	return false
}

// normalizeText trims, collapses inner whitespace and folds case unless caseSensitive.
func normalizeText(s string, caseSensitive bool) string {
	s = strings.Join(strings.Fields(s), " ")
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

func percentage(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return round2(score / max * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
