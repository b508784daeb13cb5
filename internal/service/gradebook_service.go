package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/profman-api/internal/models"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
)

type gradebookBranches interface {
	FindByID(ctx context.Context, id string) (*models.Branch, error)
	ListStudents(ctx context.Context, branchID string) ([]models.BranchStudent, error)
}

type branchQuizzes interface {
	ListByBranch(ctx context.Context, branchID string) ([]models.Quiz, error)
	BestScoresByBranch(ctx context.Context, branchID string) ([]models.BestQuizScore, error)
}

type branchExams interface {
	ListByBranch(ctx context.Context, branchID string) ([]models.Exam, error)
	GradedByBranch(ctx context.Context, branchID string) ([]models.GradedExamScore, error)
}

// QuizResults joins quiz definitions with attempt scores stored in a separate table.
type QuizResults struct {
	Quizzes interface {
		ListByBranch(ctx context.Context, branchID string) ([]models.Quiz, error)
	}
	Attempts interface {
		BestScoresByBranch(ctx context.Context, branchID string) ([]models.BestQuizScore, error)
	}
}

func (q QuizResults) ListByBranch(ctx context.Context, branchID string) ([]models.Quiz, error) {
	return q.Quizzes.ListByBranch(ctx, branchID)
}

func (q QuizResults) BestScoresByBranch(ctx context.Context, branchID string) ([]models.BestQuizScore, error) {
	return q.Attempts.BestScoresByBranch(ctx, branchID)
}

// ExamResults joins exam definitions with graded submissions.
type ExamResults struct {
	Exams interface {
		ListByBranch(ctx context.Context, branchID string) ([]models.Exam, error)
	}
	Submissions interface {
		GradedByBranch(ctx context.Context, branchID string) ([]models.GradedExamScore, error)
	}
}

func (e ExamResults) ListByBranch(ctx context.Context, branchID string) ([]models.Exam, error) {
	return e.Exams.ListByBranch(ctx, branchID)
}

func (e ExamResults) GradedByBranch(ctx context.Context, branchID string) ([]models.GradedExamScore, error) {
	return e.Submissions.GradedByBranch(ctx, branchID)
}

// GradebookService assembles per-branch result matrices.
type GradebookService struct {
	branches gradebookBranches
	quizzes  branchQuizzes
	exams    branchExams
	cache    *CacheService
	logger   *zap.Logger
	now      func() time.Time
}

// NewGradebookService constructs a GradebookService.
func NewGradebookService(branches gradebookBranches, quizzes branchQuizzes, exams branchExams, cache *CacheService, logger *zap.Logger) *GradebookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradebookService{branches: branches, quizzes: quizzes, exams: exams, cache: cache, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Get returns the gradebook of a branch to its professor or an admin.
func (s *GradebookService) Get(ctx context.Context, actor models.Actor, branchID string) (*models.Gradebook, error) {
	branch, err := s.Authorize(ctx, actor, branchID)
	if err != nil {
		return nil, err
	}
	return s.Build(ctx, branch)
}

// Authorize loads a live branch the actor may read grades of.
func (s *GradebookService) Authorize(ctx context.Context, actor models.Actor, branchID string) (*models.Branch, error) {
	branch, err := s.branches.FindByID(ctx, branchID)
	if err != nil {
		return nil, lookupError(err, "branch")
	}
	if branch.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "branch not found")
	}
	if !canManageBranch(actor, branch) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the branch professor can view its gradebook")
	}
	return branch, nil
}

// Build returns the cached gradebook or computes and caches a fresh one.
func (s *GradebookService) Build(ctx context.Context, branch *models.Branch) (*models.Gradebook, error) {
	book, _, err := remember(ctx, s.cache, gradebookKey(branch.ID), 0, func() (*models.Gradebook, error) {
		return s.compute(ctx, branch)
	})
	return book, err
}

func (s *GradebookService) compute(ctx context.Context, branch *models.Branch) (*models.Gradebook, error) {
	students, err := s.branches.ListStudents(ctx, branch.ID)
	if err != nil {
		return nil, s.internal(err, "failed to load enrollments")
	}
	quizzes, err := s.quizzes.ListByBranch(ctx, branch.ID)
	if err != nil {
		return nil, s.internal(err, "failed to load quizzes")
	}
	exams, err := s.exams.ListByBranch(ctx, branch.ID)
	if err != nil {
		return nil, s.internal(err, "failed to load exams")
	}
	best, err := s.quizzes.BestScoresByBranch(ctx, branch.ID)
	if err != nil {
		return nil, s.internal(err, "failed to load quiz scores")
	}
	graded, err := s.exams.GradedByBranch(ctx, branch.ID)
	if err != nil {
		return nil, s.internal(err, "failed to load exam grades")
	}

	quizScores := make(map[[2]string]models.BestQuizScore, len(best))
	for _, score := range best {
		quizScores[[2]string{score.QuizID, score.StudentID}] = score
	}
	examScores := make(map[[2]string]models.GradedExamScore, len(graded))
	for _, score := range graded {
		examScores[[2]string{score.ExamID, score.StudentID}] = score
	}

	book := &models.Gradebook{
		BranchID:    branch.ID,
		BranchName:  branch.Name,
		Quizzes:     make([]models.GradebookColumn, 0, len(quizzes)),
		Exams:       make([]models.GradebookColumn, 0, len(exams)),
		Rows:        make([]models.GradebookRow, 0, len(students)),
		GeneratedAt: s.now(),
	}
	for _, quiz := range quizzes {
		book.Quizzes = append(book.Quizzes, models.GradebookColumn{ID: quiz.ID, Kind: "quiz", Title: quiz.Title})
	}
	for _, exam := range exams {
		book.Exams = append(book.Exams, models.GradebookColumn{ID: exam.ID, Kind: "exam", Title: exam.Title})
	}

	for _, student := range students {
		row := models.GradebookRow{
			StudentID: student.StudentID,
			FullName:  student.FullName,
			Email:     student.Email,
			Quizzes:   make([]models.GradebookCell, 0, len(quizzes)),
			Exams:     make([]models.GradebookCell, 0, len(exams)),
		}
		var sum float64
		var counted int
		for _, quiz := range quizzes {
			cell := models.GradebookCell{AssessmentID: quiz.ID}
			if score, ok := quizScores[[2]string{quiz.ID, student.StudentID}]; ok {
				pct := score.Percentage
				cell.Percentage = &pct
				cell.Attempts = score.Attempts
				sum += pct
				counted++
			}
			row.Quizzes = append(row.Quizzes, cell)
		}
		for _, exam := range exams {
			cell := models.GradebookCell{AssessmentID: exam.ID}
			if score, ok := examScores[[2]string{exam.ID, student.StudentID}]; ok {
				pct := score.Percentage
				cell.Percentage = &pct
				cell.LetterGrade = score.LetterGrade
				sum += pct
				counted++
			}
			row.Exams = append(row.Exams, cell)
		}
		if counted > 0 {
			avg := round2(sum / float64(counted))
			row.Average = &avg
		}
		book.Rows = append(book.Rows, row)
	}
	return book, nil
}

func (s *GradebookService) internal(err error, message string) error {
	s.logger.Error(message, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
