package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
)

type quizRepository interface {
	softDeletable
	List(ctx context.Context, filter models.QuizFilter) ([]models.Quiz, int, error)
	FindByID(ctx context.Context, id string) (*models.Quiz, error)
	Create(ctx context.Context, quiz *models.Quiz) error
	Update(ctx context.Context, quiz *models.Quiz) error
	SetPublished(ctx context.Context, id string, published bool) error
}

type quizAttemptRepository interface {
	CountByStudent(ctx context.Context, quizID, studentID string) (int, error)
	Create(ctx context.Context, attempt *models.QuizAttempt) error
	FindByID(ctx context.Context, id string) (*models.QuizAttempt, error)
	List(ctx context.Context, filter models.QuizAttemptFilter) ([]models.QuizAttempt, error)
}

// attemptGracePeriod absorbs network latency between the last answer and the submit request.
const attemptGracePeriod = 30 * time.Second

// branchAccess is the slice of branch persistence assessment services need.
type branchAccess interface {
	FindByID(ctx context.Context, id string) (*models.Branch, error)
	IsEnrolled(ctx context.Context, branchID, studentID string) (bool, error)
}

// QuizService manages quizzes and grades student attempts on submission.
type QuizService struct {
	repo      quizRepository
	attempts  quizAttemptRepository
	branches  branchAccess
	audit     auditRecorder
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewQuizService constructs a QuizService.
func NewQuizService(repo quizRepository, attempts quizAttemptRepository, branches branchAccess, audit auditRecorder, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *QuizService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &QuizService{
		repo:      repo,
		attempts:  attempts,
		branches:  branches,
		audit:     audit,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns quizzes. Students only see published quizzes of their branches, without answer keys.
func (s *QuizService) List(ctx context.Context, actor models.Actor, filter models.QuizFilter) ([]models.Quiz, *models.Pagination, error) {
	filter.ListParams = filter.ListParams.Normalize()
	switch actor.Role {
	case models.RoleProfessor:
		filter.ProfessorID = actor.ID
		filter.IncludeDeleted = false
	case models.RoleStudent:
		published := true
		filter.StudentID = actor.ID
		filter.Published = &published
		filter.IncludeDeleted = false
	}
	quizzes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list quizzes")
	}
	if actor.Role == models.RoleStudent {
		for i := range quizzes {
			quizzes[i] = quizzes[i].ForStudent()
		}
	}
	return quizzes, filter.Pagination(total), nil
}

// Get returns a quiz. Students get the answer-free view of published quizzes in branches they attend.
func (s *QuizService) Get(ctx context.Context, actor models.Actor, id string) (*models.Quiz, error) {
	quiz, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if canManageQuiz(actor, quiz) {
		return quiz, nil
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "quiz belongs to another professor")
	}
	if !quiz.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "quiz not found")
	}
	if err := s.requireEnrollment(ctx, quiz.BranchID, actor.ID); err != nil {
		return nil, err
	}
	view := quiz.ForStudent()
	return &view, nil
}

// Create adds an unpublished quiz to a branch the actor teaches.
func (s *QuizService) Create(ctx context.Context, actor models.Actor, req dto.CreateQuizRequest) (*models.Quiz, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid quiz payload")
	}
	questions, err := prepareQuizQuestions(req.Questions)
	if err != nil {
		return nil, err
	}
	if err := checkWindow(req.AvailableFrom, req.AvailableUntil); err != nil {
		return nil, err
	}
	branch, err := s.branches.FindByID(ctx, req.BranchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidReference, "branch_id must reference an existing branch")
		}
		return nil, lookupError(err, "branch")
	}
	if branch.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidReference, "branch_id must reference an existing branch")
	}
	if !canManageBranch(actor, branch) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the branch professor can add quizzes")
	}

	quiz := &models.Quiz{
		BranchID:         branch.ID,
		ProfessorID:      branch.ProfessorID,
		Title:            strings.TrimSpace(req.Title),
		Description:      req.Description,
		Questions:        questions,
		TimeLimitMinutes: req.TimeLimitMinutes,
		MaxAttempts:      req.MaxAttempts,
		AvailableFrom:    req.AvailableFrom,
		AvailableUntil:   req.AvailableUntil,
		SoftDelete:       models.SoftDelete{IsActive: true},
	}
	if err := s.repo.Create(ctx, quiz); err != nil {
		return nil, writeError(err, "failed to create quiz")
	}
	s.invalidateGradebook(ctx, quiz.BranchID)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionQuizWrite, "quizzes", quiz.ID, nil, map[string]interface{}{"title": quiz.Title, "questions": len(questions)})
	return quiz, nil
}

// Update replaces the editable fields of a live quiz.
func (s *QuizService) Update(ctx context.Context, actor models.Actor, id string, req dto.QuizFields) (*models.Quiz, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid quiz payload")
	}
	questions, err := prepareQuizQuestions(req.Questions)
	if err != nil {
		return nil, err
	}
	if err := checkWindow(req.AvailableFrom, req.AvailableUntil); err != nil {
		return nil, err
	}
	quiz, err := s.manageable(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	quiz.Title = strings.TrimSpace(req.Title)
	quiz.Description = req.Description
	quiz.Questions = questions
	quiz.TimeLimitMinutes = req.TimeLimitMinutes
	quiz.MaxAttempts = req.MaxAttempts
	quiz.AvailableFrom = req.AvailableFrom
	quiz.AvailableUntil = req.AvailableUntil
	if err := s.repo.Update(ctx, quiz); err != nil {
		return nil, writeError(err, "failed to update quiz")
	}
	s.invalidateGradebook(ctx, quiz.BranchID)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionQuizWrite, "quizzes", quiz.ID, nil, map[string]interface{}{"title": quiz.Title, "questions": len(questions)})
	return quiz, nil
}

// SetPublished publishes or unpublishes a quiz.
func (s *QuizService) SetPublished(ctx context.Context, actor models.Actor, id string, published bool) (*models.Quiz, error) {
	quiz, err := s.manageable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetPublished(ctx, id, published); err != nil {
		return nil, writeError(err, "failed to change quiz visibility")
	}
	quiz.IsPublished = published
	s.invalidateGradebook(ctx, quiz.BranchID)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionQuizWrite, "quizzes", id, nil, map[string]bool{"is_published": published})
	return quiz, nil
}

// Delete soft-deletes a quiz.
func (s *QuizService) Delete(ctx context.Context, actor models.Actor, id string) error {
	return s.transition(ctx, actor, id, ActionSoftDelete)
}

// Restore reverts a soft delete.
func (s *QuizService) Restore(ctx context.Context, actor models.Actor, id string) (*models.Quiz, error) {
	if err := s.transition(ctx, actor, id, ActionRestore); err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, id)
}

// Purge permanently removes a soft-deleted quiz and its attempts.
func (s *QuizService) Purge(ctx context.Context, actor models.Actor, id string) error {
	return s.transition(ctx, actor, id, ActionPurge)
}

// SubmitAttempt grades a student's answers and stores the attempt.
func (s *QuizService) SubmitAttempt(ctx context.Context, actor models.Actor, quizID string, req dto.SubmitAttemptRequest) (*models.QuizAttempt, error) {
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can attempt quizzes")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attempt payload")
	}

	quiz, err := s.repo.FindByID(ctx, quizID)
	if err != nil {
		return nil, lookupError(err, "quiz")
	}
	if quiz.IsDeleted || !quiz.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "quiz not found")
	}
	if err := s.requireEnrollment(ctx, quiz.BranchID, actor.ID); err != nil {
		return nil, err
	}

	now := s.now()
	if !quiz.OpenAt(now) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "quiz is not open for attempts")
	}

	count, err := s.attempts.CountByStudent(ctx, quiz.ID, actor.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attempts")
	}
	if quiz.MaxAttempts > 0 && count >= quiz.MaxAttempts {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("maximum of %d attempts reached", quiz.MaxAttempts))
	}

	startedAt := now
	if req.StartedAt != nil && req.StartedAt.Before(now) {
		startedAt = req.StartedAt.UTC()
	}
	if quiz.TimeLimitMinutes > 0 {
		deadline := startedAt.Add(time.Duration(quiz.TimeLimitMinutes)*time.Minute + attemptGracePeriod)
		if now.After(deadline) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("time limit of %d minutes exceeded", quiz.TimeLimitMinutes))
		}
	}

	results, score, maxScore, pct := GradeQuiz(quiz.Questions, req.Answers)
	attempt := &models.QuizAttempt{
		QuizID:        quiz.ID,
		StudentID:     actor.ID,
		AttemptNumber: count + 1,
		Answers:       models.QuizAnswers(req.Answers),
		Results:       results,
		Score:         score,
		MaxScore:      maxScore,
		Percentage:    pct,
		StartedAt:     startedAt,
		SubmittedAt:   now,
	}
	if attempt.Answers == nil {
		attempt.Answers = models.QuizAnswers{}
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		mapped := writeError(err, "failed to store attempt")
		if e, ok := mapped.(*appErrors.Error); ok && e.Code == appErrors.ErrDuplicate.Code {
			return nil, appErrors.Clone(appErrors.ErrConflict, "another attempt was submitted at the same time")
		}
		return nil, mapped
	}

	s.metrics.RecordQuizAttempt(pct)
	s.invalidateGradebook(ctx, quiz.BranchID)
	s.logger.Info("quiz attempt graded",
		zap.String("quiz_id", quiz.ID),
		zap.String("student_id", actor.ID),
		zap.Int("attempt", attempt.AttemptNumber),
		zap.Float64("percentage", pct),
	)
	return attempt, nil
}

// ListAttempts returns every attempt for the quiz owner and only their own for a student.
func (s *QuizService) ListAttempts(ctx context.Context, actor models.Actor, quizID string) ([]models.QuizAttempt, error) {
	quiz, err := s.load(ctx, actor, quizID)
	if err != nil {
		return nil, err
	}
	filter := models.QuizAttemptFilter{QuizID: quiz.ID}
	switch {
	case canManageQuiz(actor, quiz):
	case actor.Role == models.RoleStudent:
		filter.StudentID = actor.ID
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "quiz belongs to another professor")
	}
	attempts, err := s.attempts.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attempts")
	}
	return attempts, nil
}

// GetAttempt returns one attempt to its student or the quiz owner.
func (s *QuizService) GetAttempt(ctx context.Context, actor models.Actor, id string) (*models.QuizAttempt, error) {
	attempt, err := s.attempts.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "quiz attempt")
	}
	if attempt.StudentID == actor.ID {
		return attempt, nil
	}
	quiz, err := s.repo.FindByID(ctx, attempt.QuizID)
	if err != nil {
		return nil, lookupError(err, "quiz")
	}
	if !canManageQuiz(actor, quiz) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this attempt")
	}
	return attempt, nil
}

func (s *QuizService) transition(ctx context.Context, actor models.Actor, id string, action LifecycleAction) error {
	quiz, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return lookupError(err, "quiz")
	}
	if !canManageQuiz(actor, quiz) {
		return appErrors.Clone(appErrors.ErrForbidden, "quiz belongs to another professor")
	}
	if err := applyTransition(ctx, s.repo, id, quiz.SoftDelete, action, "quiz"); err != nil {
		return err
	}
	s.invalidateGradebook(ctx, quiz.BranchID)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionQuizWrite, "quizzes", id, map[string]interface{}{"action": action, "title": quiz.Title}, nil)
	return nil
}

func (s *QuizService) load(ctx context.Context, actor models.Actor, id string) (*models.Quiz, error) {
	quiz, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "quiz")
	}
	if !visibleTo(quiz.SoftDelete, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "quiz not found")
	}
	return quiz, nil
}

func (s *QuizService) manageable(ctx context.Context, actor models.Actor, id string) (*models.Quiz, error) {
	quiz, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "quiz")
	}
	if quiz.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "quiz is deleted")
	}
	if !canManageQuiz(actor, quiz) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "quiz belongs to another professor")
	}
	return quiz, nil
}

func (s *QuizService) requireEnrollment(ctx context.Context, branchID, studentID string) error {
	return requireEnrollment(ctx, s.branches, branchID, studentID)
}

func (s *QuizService) invalidateGradebook(ctx context.Context, branchID string) {
	_ = s.cache.Invalidate(ctx, gradebookKey(branchID))
}

func canManageQuiz(actor models.Actor, quiz *models.Quiz) bool {
	return actor.IsAdmin() || (actor.Role == models.RoleProfessor && quiz.ProfessorID == actor.ID)
}

func requireEnrollment(ctx context.Context, branches branchAccess, branchID, studentID string) error {
	enrolled, err := branches.IsEnrolled(ctx, branchID, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return appErrors.Clone(appErrors.ErrForbidden, "student is not enrolled in this branch")
	}
	return nil
}

func checkWindow(from, until *time.Time) error {
	if from != nil && until != nil && !until.After(*from) {
		return appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid availability window"),
			map[string]string{"available_until": "available_until must be after available_from"})
	}
	return nil
}

// prepareQuizQuestions checks each question's answer key against its type and assigns missing IDs.
func prepareQuizQuestions(questions []models.QuizQuestion) (models.QuizQuestions, error) {
	details := make(map[string]string)
	seen := make(map[string]struct{}, len(questions))
	out := make(models.QuizQuestions, len(questions))

	for i, q := range questions {
		field := fmt.Sprintf("questions[%d]", i)
		q.ID = strings.TrimSpace(q.ID)
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if _, dup := seen[q.ID]; dup {
			details[field+".id"] = "question ids must be unique"
		}
		seen[q.ID] = struct{}{}

		if q.Points <= 0 {
			details[field+".points"] = "points must be greater than 0"
		}
		for key, msg := range checkAnswerKey(q) {
			details[field+"."+key] = msg
		}
		out[i] = q
	}

	if len(details) > 0 {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid quiz questions"), details)
	}
	return out, nil
}

func checkAnswerKey(q models.QuizQuestion) map[string]string {
	problems := make(map[string]string)
	switch q.Type {
	case models.QuestionMCQ:
		if len(q.Options) < 2 {
			problems["options"] = "multiple choice questions need at least 2 options"
		}
		if q.CorrectOption == nil || *q.CorrectOption < 0 || *q.CorrectOption >= len(q.Options) {
			problems["correct_option"] = "correct_option must index one of the options"
		}
	case models.QuestionMultiSelect:
		if len(q.Options) < 2 {
			problems["options"] = "multi select questions need at least 2 options"
		}
		if len(q.CorrectOptions) == 0 {
			problems["correct_options"] = "at least one correct option is required"
		}
		for _, idx := range q.CorrectOptions {
			if idx < 0 || idx >= len(q.Options) {
				problems["correct_options"] = "correct_options must index the options"
				break
			}
		}
	case models.QuestionNumeric:
		if q.CorrectNumber == nil {
			problems["correct_number"] = "correct_number is required"
		}
		if q.Tolerance < 0 {
			problems["tolerance"] = "tolerance must not be negative"
		}
	case models.QuestionShortText:
		accepted := 0
		for _, answer := range q.AcceptedAnswers {
			if strings.TrimSpace(answer) != "" {
				accepted++
			}
		}
		if accepted == 0 {
			problems["accepted_answers"] = "at least one accepted answer is required"
		}
	case models.QuestionTrueFalse:
		if q.CorrectBool == nil {
			problems["correct_bool"] = "correct_bool is required"
		}
	default:
		problems["type"] = "unknown question type"
	}
	return problems
}
