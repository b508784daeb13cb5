package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/profman-api/internal/models"
)

const attemptColumns = `id, quiz_id, student_id, attempt_number, answers, results, score, max_score, percentage, started_at, submitted_at`

// QuizAttemptRepository persists graded quiz attempts.
type QuizAttemptRepository struct {
	db *sqlx.DB
}

// NewQuizAttemptRepository constructs the repository.
func NewQuizAttemptRepository(db *sqlx.DB) *QuizAttemptRepository {
	return &QuizAttemptRepository{db: db}
}

// CountByStudent returns how many attempts a student has made on a quiz.
func (r *QuizAttemptRepository) CountByStudent(ctx context.Context, quizID, studentID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM quiz_attempts WHERE quiz_id = $1 AND student_id = $2`, quizID, studentID); err != nil {
		return 0, fmt.Errorf("count quiz attempts: %w", err)
	}
	return count, nil
}

// Create stores a graded attempt. The (quiz, student, attempt_number) key rejects
// concurrent submissions that raced for the same number.
func (r *QuizAttemptRepository) Create(ctx context.Context, attempt *models.QuizAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.SubmittedAt.IsZero() {
		attempt.SubmittedAt = time.Now().UTC()
	}
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = attempt.SubmittedAt
	}
	const query = `INSERT INTO quiz_attempts (id, quiz_id, student_id, attempt_number, answers, results, score, max_score, percentage, started_at, submitted_at)
VALUES (:id, :quiz_id, :student_id, :attempt_number, :answers, :results, :score, :max_score, :percentage, :started_at, :submitted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, attempt); err != nil {
		return fmt.Errorf("create quiz attempt: %w", err)
	}
	return nil
}

// FindByID fetches one attempt.
func (r *QuizAttemptRepository) FindByID(ctx context.Context, id string) (*models.QuizAttempt, error) {
	var attempt models.QuizAttempt
	if err := r.db.GetContext(ctx, &attempt, `SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get quiz attempt: %w", err)
	}
	return &attempt, nil
}

// List returns attempts matching filter, newest first.
func (r *QuizAttemptRepository) List(ctx context.Context, filter models.QuizAttemptFilter) ([]models.QuizAttempt, error) {
	var where whereBuilder
	if filter.QuizID != "" {
		where.add("quiz_id = $%d", filter.QuizID)
	}
	if filter.StudentID != "" {
		where.add("student_id = $%d", filter.StudentID)
	}
	query := `SELECT ` + attemptColumns + ` FROM quiz_attempts WHERE 1=1` + where.clause() + ` ORDER BY submitted_at DESC`
	attempts := make([]models.QuizAttempt, 0)
	if err := r.db.SelectContext(ctx, &attempts, query, where.args...); err != nil {
		return nil, fmt.Errorf("list quiz attempts: %w", err)
	}
	return attempts, nil
}

// BestScoresByBranch returns each student's best percentage per live quiz of a branch.
func (r *QuizAttemptRepository) BestScoresByBranch(ctx context.Context, branchID string) ([]models.BestQuizScore, error) {
	const query = `SELECT a.quiz_id, a.student_id, MAX(a.percentage) AS percentage, COUNT(*) AS attempts
FROM quiz_attempts a
JOIN quizzes q ON q.id = a.quiz_id
WHERE q.branch_id = $1 AND q.is_deleted = FALSE
GROUP BY a.quiz_id, a.student_id`
	scores := make([]models.BestQuizScore, 0)
	if err := r.db.SelectContext(ctx, &scores, query, branchID); err != nil {
		return nil, fmt.Errorf("best quiz scores: %w", err)
	}
	return scores, nil
}
