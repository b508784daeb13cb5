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

const submissionColumns = `id, exam_id, student_id, answers, grades, status, total_score, max_score, percentage, letter_grade, graded_by, graded_at, submitted_at`

// ExamSubmissionRepository persists exam submissions and their grades.
type ExamSubmissionRepository struct {
	db *sqlx.DB
}

// NewExamSubmissionRepository constructs the repository.
func NewExamSubmissionRepository(db *sqlx.DB) *ExamSubmissionRepository {
	return &ExamSubmissionRepository{db: db}
}

// Create stores a new submission. A second submission by the same student violates
// the (exam_id, student_id) key.
func (r *ExamSubmissionRepository) Create(ctx context.Context, sub *models.ExamSubmission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	if sub.Status == "" {
		sub.Status = models.SubmissionSubmitted
	}
	if sub.Grades == nil {
		sub.Grades = models.ExamGrades{}
	}
	const query = `INSERT INTO exam_submissions (id, exam_id, student_id, answers, grades, status, total_score, max_score, percentage, letter_grade, submitted_at)
VALUES (:id, :exam_id, :student_id, :answers, :grades, :status, :total_score, :max_score, :percentage, :letter_grade, :submitted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("create exam submission: %w", err)
	}
	return nil
}

// FindByID fetches one submission.
func (r *ExamSubmissionRepository) FindByID(ctx context.Context, id string) (*models.ExamSubmission, error) {
	var sub models.ExamSubmission
	if err := r.db.GetContext(ctx, &sub, `SELECT `+submissionColumns+` FROM exam_submissions WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get exam submission: %w", err)
	}
	return &sub, nil
}

// List returns submissions matching filter, oldest first.
func (r *ExamSubmissionRepository) List(ctx context.Context, filter models.ExamSubmissionFilter) ([]models.ExamSubmission, error) {
	var where whereBuilder
	if filter.ExamID != "" {
		where.add("exam_id = $%d", filter.ExamID)
	}
	if filter.StudentID != "" {
		where.add("student_id = $%d", filter.StudentID)
	}
	if filter.Status != "" {
		where.add("status = $%d", filter.Status)
	}
	query := `SELECT ` + submissionColumns + ` FROM exam_submissions WHERE 1=1` + where.clause() + ` ORDER BY submitted_at ASC`
	subs := make([]models.ExamSubmission, 0)
	if err := r.db.SelectContext(ctx, &subs, query, where.args...); err != nil {
		return nil, fmt.Errorf("list exam submissions: %w", err)
	}
	return subs, nil
}

// SaveGrade persists the grading result, overwriting any earlier grade.
func (r *ExamSubmissionRepository) SaveGrade(ctx context.Context, sub *models.ExamSubmission) error {
	const query = `UPDATE exam_submissions SET grades = :grades, status = :status, total_score = :total_score, max_score = :max_score, percentage = :percentage, letter_grade = :letter_grade, graded_by = :graded_by, graded_at = :graded_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, sub)
	if err != nil {
		return fmt.Errorf("grade exam submission: %w", err)
	}
	return requireAffected(res)
}

// GradedByBranch returns graded results for the live exams of a branch.
func (r *ExamSubmissionRepository) GradedByBranch(ctx context.Context, branchID string) ([]models.GradedExamScore, error) {
	const query = `SELECT s.exam_id, s.student_id, s.percentage, s.letter_grade
FROM exam_submissions s
JOIN exams e ON e.id = s.exam_id
WHERE e.branch_id = $1 AND e.is_deleted = FALSE AND s.status = 'GRADED'`
	scores := make([]models.GradedExamScore, 0)
	if err := r.db.SelectContext(ctx, &scores, query, branchID); err != nil {
		return nil, fmt.Errorf("graded exam scores: %w", err)
	}
	return scores, nil
}
