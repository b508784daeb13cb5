package service

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/profman-api/internal/models"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool         { return &v }
func strPtr(v string) *string     { return &v }

func sampleQuestions() models.QuizQuestions {
	return models.QuizQuestions{
		{ID: "q1", Type: models.QuestionMCQ, Options: []string{"a", "b", "c"}, CorrectOption: intPtr(1), Points: 2},
		{ID: "q2", Type: models.QuestionMultiSelect, Options: []string{"a", "b", "c", "d"}, CorrectOptions: []int{0, 2, 3}, Points: 3},
		{ID: "q3", Type: models.QuestionNumeric, CorrectNumber: floatPtr(3.14), Tolerance: 0.01, Points: 1},
		{ID: "q4", Type: models.QuestionShortText, AcceptedAnswers: []string{"Alan  Turing"}, Points: 1},
		{ID: "q5", Type: models.QuestionTrueFalse, CorrectBool: boolPtr(false), Points: 1},
	}
}

func TestGradeQuizAllCorrect(t *testing.T) {
	answers := []models.QuizAnswer{
		{QuestionID: "q1", SelectedOption: intPtr(1)},
		{QuestionID: "q2", SelectedOptions: []int{3, 0, 2}},
		{QuestionID: "q3", Number: floatPtr(3.15)},
		{QuestionID: "q4", Text: strPtr("  alan turing ")},
		{QuestionID: "q5", Bool: boolPtr(false)},
	}
	results, score, max, pct := GradeQuiz(sampleQuestions(), answers)
	assert.Equal(t, 8.0, score)
	assert.Equal(t, 8.0, max)
	assert.Equal(t, 100.0, pct)
	for _, r := range results {
		assert.True(t, r.Correct, r.QuestionID)
		assert.True(t, r.Answered, r.QuestionID)
	}
}

func TestGradeQuizUnansweredScoresZero(t *testing.T) {
	results, score, max, pct := GradeQuiz(sampleQuestions(), nil)
	assert.Equal(t, 0.0, score)
	assert.Equal(t, 8.0, max)
	assert.Equal(t, 0.0, pct)
	assert.Len(t, results, 5)
	assert.False(t, results[0].Answered)
}

func TestGradeQuizMultiSelectPartialCredit(t *testing.T) {
	questions := models.QuizQuestions{sampleQuestions()[1]}

	_, score, _, pct := GradeQuiz(questions, []models.QuizAnswer{{QuestionID: "q2", SelectedOptions: []int{0, 2}}})
	assert.Equal(t, 2.0, score)
	assert.Equal(t, 66.67, pct)

	_, score, _, _ = GradeQuiz(questions, []models.QuizAnswer{{QuestionID: "q2", SelectedOptions: []int{0, 0, 0}}})
	assert.Equal(t, 1.0, score, "duplicate picks count once")

	_, score, _, _ = GradeQuiz(questions, []models.QuizAnswer{{QuestionID: "q2", SelectedOptions: []int{0, 2, 3, 1}}})
	assert.Equal(t, 0.0, score, "any wrong pick forfeits")
}

func TestGradeQuizNumericTolerance(t *testing.T) {
	q := models.QuizQuestions{{ID: "n", Type: models.QuestionNumeric, CorrectNumber: floatPtr(10), Tolerance: 0.5, Points: 4}}

	cases := map[float64]float64{10: 4, 10.5: 4, 9.5: 4, 10.51: 0, 9.4: 0}
	for given, want := range cases {
		_, score, _, _ := GradeQuiz(q, []models.QuizAnswer{{QuestionID: "n", Number: floatPtr(given)}})
		assert.Equal(t, want, score, "answer %v", given)
	}

	exact := models.QuizQuestions{{ID: "n", Type: models.QuestionNumeric, CorrectNumber: floatPtr(0.3), Points: 1}}
	_, score, _, _ := GradeQuiz(exact, []models.QuizAnswer{{QuestionID: "n", Number: floatPtr(0.1 + 0.2)}})
	assert.Equal(t, 1.0, score)
}

func TestGradeQuizShortTextCaseSensitive(t *testing.T) {
	q := models.QuizQuestions{{ID: "s", Type: models.QuestionShortText, AcceptedAnswers: []string{"DNA"}, CaseSensitive: true, Points: 1}}

	_, score, _, _ := GradeQuiz(q, []models.QuizAnswer{{QuestionID: "s", Text: strPtr("dna")}})
	assert.Equal(t, 0.0, score)
	_, score, _, _ = GradeQuiz(q, []models.QuizAnswer{{QuestionID: "s", Text: strPtr(" DNA ")}})
	assert.Equal(t, 1.0, score)
}

func TestGradeQuizZeroMaxScore(t *testing.T) {
	_, score, max, pct := GradeQuiz(models.QuizQuestions{}, nil)
	assert.Zero(t, score)
	assert.Zero(t, max)
	assert.Zero(t, pct)
}

// Random selections never earn more than the question is worth, and any selection
// containing a wrong option earns nothing.
func TestMultiSelectCreditProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		options := 2 + rng.Intn(6)
		var correctOpts []int
		isCorrect := map[int]bool{}
		for idx := 0; idx < options; idx++ {
			if rng.Intn(2) == 0 {
				correctOpts = append(correctOpts, idx)
				isCorrect[idx] = true
			}
		}
		if len(correctOpts) == 0 {
			correctOpts = []int{0}
			isCorrect[0] = true
		}
		q := models.QuizQuestion{Type: models.QuestionMultiSelect, CorrectOptions: correctOpts, Points: float64(1 + rng.Intn(5))}

		var selected []int
		hasWrong := false
		hits := map[int]bool{}
		for n := rng.Intn(options + 2); n > 0; n-- {
			idx := rng.Intn(options)
			selected = append(selected, idx)
			if isCorrect[idx] {
				hits[idx] = true
			} else {
				hasWrong = true
			}
		}

		got := multiSelectCredit(q, selected)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, q.Points)
		if hasWrong {
			assert.Zero(t, got)
		} else {
			assert.InDelta(t, q.Points*float64(len(hits))/float64(len(correctOpts)), got, 1e-9)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "hello world", normalizeText("  Hello \t  WORLD\n", false))
	assert.Equal(t, "Hello WORLD", normalizeText("  Hello \t  WORLD\n", true))
}
