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

type examRepository interface {
	softDeletable
	List(ctx context.Context, filter models.ExamFilter) ([]models.Exam, int, error)
	FindByID(ctx context.Context, id string) (*models.Exam, error)
	Create(ctx context.Context, exam *models.Exam) error
	Update(ctx context.Context, exam *models.Exam) error
	SetPublished(ctx context.Context, id string, published bool) error
}

type examSubmissionRepository interface {
	Create(ctx context.Context, sub *models.ExamSubmission) error
	FindByID(ctx context.Context, id string) (*models.ExamSubmission, error)
	List(ctx context.Context, filter models.ExamSubmissionFilter) ([]models.ExamSubmission, error)
	SaveGrade(ctx context.Context, sub *models.ExamSubmission) error
}

// ExamService manages exams, student submissions and professor grading.
type ExamService struct {
	repo        examRepository
	submissions examSubmissionRepository
	branches    branchAccess
	audit       auditRecorder
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewExamService constructs an ExamService.
func NewExamService(repo examRepository, submissions examSubmissionRepository, branches branchAccess, audit auditRecorder, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ExamService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ExamService{
		repo:        repo,
		submissions: submissions,
		branches:    branches,
		audit:       audit,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// List returns exams scoped to the actor's role.
func (s *ExamService) List(ctx context.Context, actor models.Actor, filter models.ExamFilter) ([]models.Exam, *models.Pagination, error) {
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
	exams, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list exams")
	}
	return exams, filter.Pagination(total), nil
}

// Get returns an exam the actor may see.
func (s *ExamService) Get(ctx context.Context, actor models.Actor, id string) (*models.Exam, error) {
	exam, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "exam")
	}
	if !visibleTo(exam.SoftDelete, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
	}
	if canManageExam(actor, exam) {
		return exam, nil
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "exam belongs to another professor")
	}
	if !exam.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
	}
	if err := requireEnrollment(ctx, s.branches, exam.BranchID, actor.ID); err != nil {
		return nil, err
	}
	return exam, nil
}

// Create adds an unpublished exam to a branch the actor teaches.
func (s *ExamService) Create(ctx context.Context, actor models.Actor, req dto.CreateExamRequest) (*models.Exam, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid exam payload")
	}
	questions, err := prepareExamQuestions(req.Questions)
	if err != nil {
		return nil, err
	}
	branch, err := s.branches.FindByID(ctx, req.BranchID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, lookupError(err, "branch")
	}
	if branch == nil || branch.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidReference, "branch_id must reference an existing branch")
	}
	if !canManageBranch(actor, branch) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the branch professor can add exams")
	}

	exam := &models.Exam{
		BranchID:        branch.ID,
		ProfessorID:     branch.ProfessorID,
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		Questions:       questions,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		SoftDelete:      models.SoftDelete{IsActive: true},
	}
	if err := s.repo.Create(ctx, exam); err != nil {
		return nil, writeError(err, "failed to create exam")
	}
	s.invalidateGradebook(ctx, exam.BranchID)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionExamWrite, "exams", exam.ID, nil, map[string]interface{}{"title": exam.Title, "questions": len(questions)})
	return exam, nil
}

// Update replaces the editable fields of a live exam.
func (s *ExamService) Update(ctx context.Context, actor models.Actor, id string, req dto.ExamFields) (*models.Exam, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid exam payload")
	}
	questions, err := prepareExamQuestions(req.Questions)
	if err != nil {
		return nil, err
	}
	exam, err := s.manageable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	exam.Title = strings.TrimSpace(req.Title)
	exam.Description = req.Description
	exam.Questions = questions
	exam.ScheduledAt = req.ScheduledAt
	exam.DurationMinutes = req.DurationMinutes
	if err := s.repo.Update(ctx, exam); err != nil {
		return nil, writeError(err, "failed to update exam")
	}
	s.invalidateGradebook(ctx, exam.BranchID)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionExamWrite, "exams", exam.ID, nil, map[string]interface{}{"title": exam.Title, "questions": len(questions)})
	return exam, nil
}

// SetPublished publishes or unpublishes an exam.
func (s *ExamService) SetPublished(ctx context.Context, actor models.Actor, id string, published bool) (*models.Exam, error) {
	exam, err := s.manageable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetPublished(ctx, id, published); err != nil {
		return nil, writeError(err, "failed to change exam visibility")
	}
	exam.IsPublished = published
	s.invalidateGradebook(ctx, exam.BranchID)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionExamWrite, "exams", id, nil, map[string]bool{"is_published": published})
	return exam, nil
}

// Delete soft-deletes an exam.
func (s *ExamService) Delete(ctx context.Context, actor models.Actor, id string) error {
	return s.transition(ctx, actor, id, ActionSoftDelete)
}

// Restore reverts a soft delete.
func (s *ExamService) Restore(ctx context.Context, actor models.Actor, id string) (*models.Exam, error) {
	if err := s.transition(ctx, actor, id, ActionRestore); err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, id)
}

// Purge permanently removes a soft-deleted exam and its submissions.
func (s *ExamService) Purge(ctx context.Context, actor models.Actor, id string) error {
	return s.transition(ctx, actor, id, ActionPurge)
}

// Submit stores a student's answers. Each student submits an exam once.
func (s *ExamService) Submit(ctx context.Context, actor models.Actor, examID string, req dto.SubmitExamRequest) (*models.ExamSubmission, error) {
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can submit exams")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid submission payload")
	}
	exam, err := s.repo.FindByID(ctx, examID)
	if err != nil {
		return nil, lookupError(err, "exam")
	}
	if exam.IsDeleted || !exam.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
	}
	if err := requireEnrollment(ctx, s.branches, exam.BranchID, actor.ID); err != nil {
		return nil, err
	}
	answers, err := matchExamAnswers(exam.Questions, req.Answers)
	if err != nil {
		return nil, err
	}

	sub := &models.ExamSubmission{
		ExamID:      exam.ID,
		StudentID:   actor.ID,
		Answers:     answers,
		Grades:      models.ExamGrades{},
		Status:      models.SubmissionSubmitted,
		MaxScore:    exam.Questions.MaxScore(),
		SubmittedAt: s.now(),
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		mapped := writeError(err, "failed to store submission")
		if e, ok := mapped.(*appErrors.Error); ok && e.Code == appErrors.ErrDuplicate.Code {
			return nil, appErrors.Clone(e, "exam already submitted")
		}
		return nil, mapped
	}
	return sub, nil
}

// ListSubmissions returns all submissions to the exam owner and only their own to a student.
func (s *ExamService) ListSubmissions(ctx context.Context, actor models.Actor, examID string) ([]models.ExamSubmission, error) {
	exam, err := s.repo.FindByID(ctx, examID)
	if err != nil {
		return nil, lookupError(err, "exam")
	}
	if !visibleTo(exam.SoftDelete, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
	}
	filter := models.ExamSubmissionFilter{ExamID: exam.ID}
	switch {
	case canManageExam(actor, exam):
	case actor.Role == models.RoleStudent:
		filter.StudentID = actor.ID
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "exam belongs to another professor")
	}
	subs, err := s.submissions.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	return subs, nil
}

// GetSubmission returns one submission to its student or the exam owner.
func (s *ExamService) GetSubmission(ctx context.Context, actor models.Actor, id string) (*models.ExamSubmission, error) {
	sub, err := s.submissions.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "exam submission")
	}
	if sub.StudentID == actor.ID {
		return sub, nil
	}
	exam, err := s.repo.FindByID(ctx, sub.ExamID)
	if err != nil {
		return nil, lookupError(err, "exam")
	}
	if !canManageExam(actor, exam) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this submission")
	}
	return sub, nil
}

// Grade records per-question points for a submission. Regrading overwrites the earlier result.
func (s *ExamService) Grade(ctx context.Context, actor models.Actor, submissionID string, req dto.GradeSubmissionRequest) (*models.ExamSubmission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid grading payload")
	}
	sub, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		return nil, lookupError(err, "exam submission")
	}
	exam, err := s.repo.FindByID(ctx, sub.ExamID)
	if err != nil {
		return nil, lookupError(err, "exam")
	}
	if !canManageExam(actor, exam) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the exam professor can grade submissions")
	}
	if exam.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "exam is deleted")
	}

	result, err := GradeExam(exam.Questions, req.Grades)
	if err != nil {
		return nil, err
	}
	previous := map[string]interface{}{"status": sub.Status, "letter_grade": sub.LetterGrade}

	gradedAt := s.now()
	grader := actor.ID
	sub.Grades = result.Grades
	sub.Status = models.SubmissionGraded
	sub.TotalScore = result.Total
	sub.MaxScore = result.MaxScore
	sub.Percentage = result.Percentage
	sub.LetterGrade = result.Letter
	sub.GradedBy = &grader
	sub.GradedAt = &gradedAt
	if err := s.submissions.SaveGrade(ctx, sub); err != nil {
		return nil, writeError(err, "failed to save grade")
	}

	s.metrics.RecordExamGraded(result.Letter)
	s.invalidateGradebook(ctx, exam.BranchID)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionExamGrade, "exam_submissions", sub.ID, previous,
		map[string]interface{}{"total_score": sub.TotalScore, "percentage": sub.Percentage, "letter_grade": sub.LetterGrade})
	return sub, nil
}

func (s *ExamService) transition(ctx context.Context, actor models.Actor, id string, action LifecycleAction) error {
	exam, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return lookupError(err, "exam")
	}
	if !canManageExam(actor, exam) {
		return appErrors.Clone(appErrors.ErrForbidden, "exam belongs to another professor")
	}
	if err := applyTransition(ctx, s.repo, id, exam.SoftDelete, action, "exam"); err != nil {
		return err
	}
	s.invalidateGradebook(ctx, exam.BranchID)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionExamWrite, "exams", id, map[string]interface{}{"action": action, "title": exam.Title}, nil)
	return nil
}

func (s *ExamService) manageable(ctx context.Context, actor models.Actor, id string) (*models.Exam, error) {
	exam, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "exam")
	}
	if exam.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "exam is deleted")
	}
	if !canManageExam(actor, exam) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "exam belongs to another professor")
	}
	return exam, nil
}

func (s *ExamService) invalidateGradebook(ctx context.Context, branchID string) {
	_ = s.cache.Invalidate(ctx, gradebookKey(branchID))
}

func canManageExam(actor models.Actor, exam *models.Exam) bool {
	return actor.IsAdmin() || (actor.Role == models.RoleProfessor && exam.ProfessorID == actor.ID)
}

func prepareExamQuestions(questions []models.ExamQuestion) (models.ExamQuestions, error) {
	out := make(models.ExamQuestions, len(questions))
	seen := make(map[string]struct{}, len(questions))
	for i, q := range questions {
		q.ID = strings.TrimSpace(q.ID)
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if _, dup := seen[q.ID]; dup {
			return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid exam questions"),
				map[string]string{fmt.Sprintf("questions[%d].id", i): "question ids must be unique"})
		}
		seen[q.ID] = struct{}{}
		out[i] = q
	}
	return out, nil
}

// matchExamAnswers keeps one answer per exam question, in question order.
func matchExamAnswers(questions models.ExamQuestions, answers []models.ExamAnswer) (models.ExamAnswers, error) {
	byID := make(map[string]models.ExamAnswer, len(answers))
	for i, answer := range answers {
		if _, dup := byID[answer.QuestionID]; dup {
			return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid answers"),
				map[string]string{fmt.Sprintf("answers[%d].question_id", i): "question is answered more than once"})
		}
		byID[answer.QuestionID] = answer
	}
	out := make(models.ExamAnswers, 0, len(questions))
	for _, q := range questions {
		if answer, ok := byID[q.ID]; ok {
			out = append(out, answer)
			delete(byID, q.ID)
		}
	}
	if len(byID) > 0 {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid answers"),
			map[string]string{"answers": "answers reference questions that are not part of this exam"})
	}
	return out, nil
}
