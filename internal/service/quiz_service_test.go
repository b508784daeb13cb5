package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	"github.com/noah-isme/profman-api/pkg/validation"
)

type mockQuizRepo struct {
	quizzes    map[string]*models.Quiz
	lastFilter models.QuizFilter
}

func (m *mockQuizRepo) List(ctx context.Context, filter models.QuizFilter) ([]models.Quiz, int, error) {
	m.lastFilter = filter
	var out []models.Quiz
	for _, q := range m.quizzes {
		out = append(out, *q)
	}
	return out, len(out), nil
}

func (m *mockQuizRepo) FindByID(ctx context.Context, id string) (*models.Quiz, error) {
	q, ok := m.quizzes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *q
	return &copy, nil
}

func (m *mockQuizRepo) Create(ctx context.Context, quiz *models.Quiz) error {
	quiz.ID = "quiz-new"
	copy := *quiz
	m.quizzes[quiz.ID] = &copy
	return nil
}

func (m *mockQuizRepo) Update(ctx context.Context, quiz *models.Quiz) error {
	copy := *quiz
	m.quizzes[quiz.ID] = &copy
	return nil
}

func (m *mockQuizRepo) SetPublished(ctx context.Context, id string, published bool) error {
	m.quizzes[id].IsPublished = published
	return nil
}

func (m *mockQuizRepo) SoftDelete(ctx context.Context, id string) error {
	m.quizzes[id].IsDeleted = true
	return nil
}

func (m *mockQuizRepo) Restore(ctx context.Context, id string) error {
	m.quizzes[id].IsDeleted = false
	return nil
}

func (m *mockQuizRepo) Purge(ctx context.Context, id string) error {
	delete(m.quizzes, id)
	return nil
}

type mockAttemptRepo struct {
	attempts  []models.QuizAttempt
	createErr error
}

func (m *mockAttemptRepo) CountByStudent(ctx context.Context, quizID, studentID string) (int, error) {
	n := 0
	for _, a := range m.attempts {
		if a.QuizID == quizID && a.StudentID == studentID {
			n++
		}
	}
	return n, nil
}

func (m *mockAttemptRepo) Create(ctx context.Context, attempt *models.QuizAttempt) error {
	if m.createErr != nil {
		return m.createErr
	}
	attempt.ID = "attempt-" + string(rune('0'+len(m.attempts)))
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *mockAttemptRepo) FindByID(ctx context.Context, id string) (*models.QuizAttempt, error) {
	for _, a := range m.attempts {
		if a.ID == id {
			copy := a
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAttemptRepo) List(ctx context.Context, filter models.QuizAttemptFilter) ([]models.QuizAttempt, error) {
	var out []models.QuizAttempt
	for _, a := range m.attempts {
		if a.QuizID != filter.QuizID {
			continue
		}
		if filter.StudentID != "" && a.StudentID != filter.StudentID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type quizFixture struct {
	svc      *QuizService
	quizzes  *mockQuizRepo
	attempts *mockAttemptRepo
	branches *mockBranchRepo
	store    *memoryCache
}

func newQuizFixture() *quizFixture {
	branches := newMockBranchRepo(&models.Branch{ID: "b1", ProfessorID: "prof-1", SoftDelete: models.SoftDelete{IsActive: true}})
	branches.enrolled["b1"] = map[string]bool{"student-1": true}
	quizzes := &mockQuizRepo{quizzes: map[string]*models.Quiz{
		"quiz-1": {
			ID:          "quiz-1",
			BranchID:    "b1",
			ProfessorID: "prof-1",
			Title:       "Week 1",
			Questions:   sampleQuestions(),
			MaxAttempts: 2,
			IsPublished: true,
			SoftDelete:  models.SoftDelete{IsActive: true},
		},
	}}
	attempts := &mockAttemptRepo{}
	store := newMemoryCache()
	cache := NewCacheService(store, nil, 0, zap.NewNop(), true)
	svc := NewQuizService(quizzes, attempts, branches, nil, cache, nil, validation.New(), zap.NewNop())
	return &quizFixture{svc: svc, quizzes: quizzes, attempts: attempts, branches: branches, store: store}
}

func validQuizFields() dto.QuizFields {
	return dto.QuizFields{
		Title: "Pop quiz",
		Questions: []models.QuizQuestion{
			{Type: models.QuestionMCQ, Prompt: "2+2?", Options: []string{"3", "4"}, CorrectOption: intPtr(1), Points: 1},
			{Type: models.QuestionTrueFalse, Prompt: "Go has generics", CorrectBool: boolPtr(true), Points: 1},
		},
	}
}

func TestQuizServiceCreateAssignsQuestionIDs(t *testing.T) {
	f := newQuizFixture()

	quiz, err := f.svc.Create(context.Background(), professorActor, dto.CreateQuizRequest{BranchID: "6f1c7c52-7a43-4c53-9b7d-2f3b8f0d3a11", QuizFields: validQuizFields()})
	assert.Equal(t, 400, appErr(t, err).Status, "unknown branch is an invalid reference")
	assert.Nil(t, quiz)

	f.branches.branches["6f1c7c52-7a43-4c53-9b7d-2f3b8f0d3a11"] = &models.Branch{ID: "6f1c7c52-7a43-4c53-9b7d-2f3b8f0d3a11", ProfessorID: "prof-1"}
	quiz, err = f.svc.Create(context.Background(), professorActor, dto.CreateQuizRequest{BranchID: "6f1c7c52-7a43-4c53-9b7d-2f3b8f0d3a11", QuizFields: validQuizFields()})
	require.NoError(t, err)
	assert.False(t, quiz.IsPublished)
	assert.Equal(t, "prof-1", quiz.ProfessorID)
	for _, q := range quiz.Questions {
		assert.NotEmpty(t, q.ID)
	}
	assert.NotEqual(t, quiz.Questions[0].ID, quiz.Questions[1].ID)
}

func TestQuizServiceCreateForeignBranchForbidden(t *testing.T) {
	f := newQuizFixture()
	f.branches.branches["6f1c7c52-7a43-4c53-9b7d-2f3b8f0d3a11"] = &models.Branch{ID: "6f1c7c52-7a43-4c53-9b7d-2f3b8f0d3a11", ProfessorID: "prof-2"}

	_, err := f.svc.Create(context.Background(), professorActor, dto.CreateQuizRequest{BranchID: "6f1c7c52-7a43-4c53-9b7d-2f3b8f0d3a11", QuizFields: validQuizFields()})
	assert.Equal(t, 403, appErr(t, err).Status)
}

func TestPrepareQuizQuestionsValidatesAnswerKeys(t *testing.T) {
	questions := []models.QuizQuestion{
		{Type: models.QuestionMCQ, Options: []string{"only"}, CorrectOption: intPtr(3), Points: 1},
		{Type: models.QuestionMultiSelect, Options: []string{"a", "b"}, Points: 1},
		{Type: models.QuestionNumeric, Tolerance: -1, Points: 1},
		{Type: models.QuestionShortText, AcceptedAnswers: []string{"  "}, Points: 1},
		{Type: models.QuestionTrueFalse, Points: 0},
	}
	_, err := prepareQuizQuestions(questions)
	e := appErr(t, err)
	assert.Equal(t, 400, e.Status)
	for _, key := range []string{
		"questions[0].options",
		"questions[0].correct_option",
		"questions[1].correct_options",
		"questions[2].correct_number",
		"questions[2].tolerance",
		"questions[3].accepted_answers",
		"questions[4].correct_bool",
		"questions[4].points",
	} {
		assert.Contains(t, e.Details, key)
	}
}

func TestPrepareQuizQuestionsRejectsDuplicateIDs(t *testing.T) {
	q := models.QuizQuestion{ID: "same", Type: models.QuestionTrueFalse, CorrectBool: boolPtr(true), Points: 1}
	_, err := prepareQuizQuestions([]models.QuizQuestion{q, q})
	assert.Contains(t, appErr(t, err).Details, "questions[1].id")
}

func TestQuizServiceStudentViewHidesAnswerKeys(t *testing.T) {
	f := newQuizFixture()

	quiz, err := f.svc.Get(context.Background(), studentActor, "quiz-1")
	require.NoError(t, err)
	for _, q := range quiz.Questions {
		assert.Nil(t, q.CorrectOption)
		assert.Nil(t, q.CorrectOptions)
		assert.Nil(t, q.CorrectNumber)
		assert.Nil(t, q.AcceptedAnswers)
		assert.Nil(t, q.CorrectBool)
	}

	owner, err := f.svc.Get(context.Background(), professorActor, "quiz-1")
	require.NoError(t, err)
	assert.NotNil(t, owner.Questions[0].CorrectOption)

	f.quizzes.quizzes["quiz-1"].IsPublished = false
	_, err = f.svc.Get(context.Background(), studentActor, "quiz-1")
	assert.Equal(t, 404, appErr(t, err).Status)

	f.quizzes.quizzes["quiz-1"].IsPublished = true
	_, err = f.svc.Get(context.Background(), models.Actor{ID: "student-9", Role: models.RoleStudent}, "quiz-1")
	assert.Equal(t, 403, appErr(t, err).Status)
}

func TestQuizServiceListForStudent(t *testing.T) {
	f := newQuizFixture()

	quizzes, _, err := f.svc.List(context.Background(), studentActor, models.QuizFilter{})
	require.NoError(t, err)
	require.NotNil(t, f.quizzes.lastFilter.Published)
	assert.True(t, *f.quizzes.lastFilter.Published)
	assert.Equal(t, "student-1", f.quizzes.lastFilter.StudentID)
	assert.Nil(t, quizzes[0].Questions[0].CorrectOption)
}

func TestQuizServiceSubmitAttempt(t *testing.T) {
	f := newQuizFixture()
	ctx := context.Background()
	f.store.entries[gradebookKey("b1")] = []byte(`{}`)

	attempt, err := f.svc.SubmitAttempt(ctx, studentActor, "quiz-1", dto.SubmitAttemptRequest{Answers: []models.QuizAnswer{
		{QuestionID: "q1", SelectedOption: intPtr(1)},
		{QuestionID: "q2", SelectedOptions: []int{0}},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, attempt.AttemptNumber)
	assert.Equal(t, 3.0, attempt.Score)
	assert.Equal(t, 8.0, attempt.MaxScore)
	assert.Equal(t, 37.5, attempt.Percentage)
	assert.Len(t, attempt.Results, 5)
	assert.NotContains(t, f.store.entries, gradebookKey("b1"))

	second, err := f.svc.SubmitAttempt(ctx, studentActor, "quiz-1", dto.SubmitAttemptRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, second.AttemptNumber)

	_, err = f.svc.SubmitAttempt(ctx, studentActor, "quiz-1", dto.SubmitAttemptRequest{})
	assert.Equal(t, 409, appErr(t, err).Status)
}

func TestQuizServiceSubmitAttemptGuards(t *testing.T) {
	f := newQuizFixture()
	ctx := context.Background()

	_, err := f.svc.SubmitAttempt(ctx, professorActor, "quiz-1", dto.SubmitAttemptRequest{})
	assert.Equal(t, 403, appErr(t, err).Status)

	_, err = f.svc.SubmitAttempt(ctx, models.Actor{ID: "student-9", Role: models.RoleStudent}, "quiz-1", dto.SubmitAttemptRequest{})
	assert.Equal(t, 403, appErr(t, err).Status)

	future := time.Now().Add(time.Hour)
	f.quizzes.quizzes["quiz-1"].AvailableFrom = &future
	_, err = f.svc.SubmitAttempt(ctx, studentActor, "quiz-1", dto.SubmitAttemptRequest{})
	assert.Equal(t, 403, appErr(t, err).Status)

	f.quizzes.quizzes["quiz-1"].AvailableFrom = nil
	f.attempts.createErr = &pq.Error{Code: "23505"}
	_, err = f.svc.SubmitAttempt(ctx, studentActor, "quiz-1", dto.SubmitAttemptRequest{})
	assert.Equal(t, 409, appErr(t, err).Status)
}

func TestQuizServiceAttemptVisibility(t *testing.T) {
	f := newQuizFixture()
	ctx := context.Background()
	f.branches.enrolled["b1"]["student-2"] = true
	other := models.Actor{ID: "student-2", Role: models.RoleStudent}

	mine, err := f.svc.SubmitAttempt(ctx, studentActor, "quiz-1", dto.SubmitAttemptRequest{})
	require.NoError(t, err)
	_, err = f.svc.SubmitAttempt(ctx, other, "quiz-1", dto.SubmitAttemptRequest{})
	require.NoError(t, err)

	own, err := f.svc.ListAttempts(ctx, studentActor, "quiz-1")
	require.NoError(t, err)
	assert.Len(t, own, 1)

	all, err := f.svc.ListAttempts(ctx, professorActor, "quiz-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.GetAttempt(ctx, other, mine.ID)
	assert.Equal(t, 403, appErr(t, err).Status)
	got, err := f.svc.GetAttempt(ctx, professorActor, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, "student-1", got.StudentID)
}

func TestQuizServiceLifecycleRequiresOwner(t *testing.T) {
	f := newQuizFixture()
	ctx := context.Background()

	err := f.svc.Delete(ctx, models.Actor{ID: "prof-2", Role: models.RoleProfessor}, "quiz-1")
	assert.Equal(t, 403, appErr(t, err).Status)

	require.NoError(t, f.svc.Delete(ctx, professorActor, "quiz-1"))
	_, err = f.svc.SetPublished(ctx, professorActor, "quiz-1", true)
	assert.Equal(t, 409, appErr(t, err).Status)
	require.NoError(t, f.svc.Purge(ctx, professorActor, "quiz-1"))
	_, err = f.svc.Restore(ctx, professorActor, "quiz-1")
	assert.Equal(t, 404, appErr(t, err).Status)
}

func TestQuizServiceWritesInvalidateGradebook(t *testing.T) {
	f := newQuizFixture()
	ctx := context.Background()
	branchID := "6f1c7c52-7a43-4c53-9b7d-2f3b8f0d3a11"
	f.branches.branches[branchID] = &models.Branch{ID: branchID, ProfessorID: "prof-1"}
	f.store.entries[gradebookKey(branchID)] = []byte(`{}`)

	_, err := f.svc.Create(ctx, professorActor, dto.CreateQuizRequest{BranchID: branchID, QuizFields: validQuizFields()})
	require.NoError(t, err)
	assert.NotContains(t, f.store.entries, gradebookKey(branchID))

	f.store.entries[gradebookKey("b1")] = []byte(`{}`)
	_, err = f.svc.Update(ctx, professorActor, "quiz-1", validQuizFields())
	require.NoError(t, err)
	assert.NotContains(t, f.store.entries, gradebookKey("b1"))
	assert.Equal(t, []string{gradebookKey(branchID), gradebookKey("b1")}, f.store.deletes)
}

func TestQuizServiceSubmitAttemptEnforcesTimeLimit(t *testing.T) {
	f := newQuizFixture()
	ctx := context.Background()
	f.quizzes.quizzes["quiz-1"].TimeLimitMinutes = 10

	late := time.Now().Add(-11 * time.Minute)
	_, err := f.svc.SubmitAttempt(ctx, studentActor, "quiz-1", dto.SubmitAttemptRequest{StartedAt: &late})
	e := appErr(t, err)
	assert.Equal(t, 403, e.Status)
	assert.Contains(t, e.Message, "time limit")
	assert.Empty(t, f.attempts.attempts)

	withinGrace := time.Now().Add(-10*time.Minute - 10*time.Second)
	attempt, err := f.svc.SubmitAttempt(ctx, studentActor, "quiz-1", dto.SubmitAttemptRequest{StartedAt: &withinGrace})
	require.NoError(t, err)
	assert.Equal(t, 1, attempt.AttemptNumber)
	assert.True(t, attempt.StartedAt.Equal(withinGrace.UTC()))
}
