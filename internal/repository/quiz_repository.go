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

const quizColumns = `q.id, q.branch_id, q.professor_id, q.title, q.description, q.questions, q.time_limit_minutes, q.max_attempts, q.available_from, q.available_until, q.is_published, q.is_active, q.is_deleted, q.deleted_at, q.created_at, q.updated_at`

var quizSorts = map[string]string{
	"title":           "q.title",
	"available_from":  "q.available_from",
	"available_until": "q.available_until",
	"created_at":      "q.created_at",
	"updated_at":      "q.updated_at",
}

// QuizRepository persists quizzes.
type QuizRepository struct {
	softDeleter
	db *sqlx.DB
}

// NewQuizRepository constructs the repository.
func NewQuizRepository(db *sqlx.DB) *QuizRepository {
	return &QuizRepository{softDeleter: softDeleter{db: db, table: "quizzes"}, db: db}
}

// List returns quizzes matching filter.
func (r *QuizRepository) List(ctx context.Context, filter models.QuizFilter) ([]models.Quiz, int, error) {
	var where whereBuilder
	where.softDeleted("q.", filter.IncludeDeleted)
	if filter.BranchID != "" {
		where.add("q.branch_id = $%d", filter.BranchID)
	}
	if filter.ProfessorID != "" {
		where.add("q.professor_id = $%d", filter.ProfessorID)
	}
	if filter.StudentID != "" {
		where.add("EXISTS (SELECT 1 FROM branch_students bs WHERE bs.branch_id = q.branch_id AND bs.student_id = $%d)", filter.StudentID)
	}
	if filter.Published != nil {
		where.add("q.is_published = $%d", *filter.Published)
	}
	where.search(filter.Search, "q.title")

	baseQuery := `FROM quizzes q WHERE 1=1` + where.clause()
	quizzes := make([]models.Quiz, 0)
	if err := r.db.SelectContext(ctx, &quizzes, `SELECT `+quizColumns+` `+baseQuery+orderAndPage(filter.ListParams, quizSorts), where.args...); err != nil {
		return nil, 0, fmt.Errorf("list quizzes: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) `+baseQuery, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count quizzes: %w", err)
	}
	return quizzes, total, nil
}

// ListByBranch returns every live quiz of a branch in creation order.
func (r *QuizRepository) ListByBranch(ctx context.Context, branchID string) ([]models.Quiz, error) {
	quizzes := make([]models.Quiz, 0)
	query := `SELECT ` + quizColumns + ` FROM quizzes q WHERE q.branch_id = $1 AND q.is_deleted = FALSE ORDER BY q.created_at ASC`
	if err := r.db.SelectContext(ctx, &quizzes, query, branchID); err != nil {
		return nil, fmt.Errorf("list branch quizzes: %w", err)
	}
	return quizzes, nil
}

// FindByID fetches a quiz by id, including soft-deleted rows.
func (r *QuizRepository) FindByID(ctx context.Context, id string) (*models.Quiz, error) {
	var quiz models.Quiz
	if err := r.db.GetContext(ctx, &quiz, `SELECT `+quizColumns+` FROM quizzes q WHERE q.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get quiz: %w", err)
	}
	return &quiz, nil
}

// Create inserts a quiz.
func (r *QuizRepository) Create(ctx context.Context, quiz *models.Quiz) error {
	if quiz.ID == "" {
		quiz.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	quiz.CreatedAt = now
	quiz.UpdatedAt = now
	const query = `INSERT INTO quizzes (id, branch_id, professor_id, title, description, questions, time_limit_minutes, max_attempts, available_from, available_until, is_published, is_active, is_deleted, created_at, updated_at)
VALUES (:id, :branch_id, :professor_id, :title, :description, :questions, :time_limit_minutes, :max_attempts, :available_from, :available_until, :is_published, :is_active, :is_deleted, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, quiz); err != nil {
		return fmt.Errorf("create quiz: %w", err)
	}
	return nil
}

// Update modifies a live quiz.
func (r *QuizRepository) Update(ctx context.Context, quiz *models.Quiz) error {
	quiz.UpdatedAt = time.Now().UTC()
	const query = `UPDATE quizzes SET title = :title, description = :description, questions = :questions, time_limit_minutes = :time_limit_minutes, max_attempts = :max_attempts, available_from = :available_from, available_until = :available_until, is_active = :is_active, updated_at = :updated_at WHERE id = :id AND is_deleted = FALSE`
	res, err := r.db.NamedExecContext(ctx, query, quiz)
	if err != nil {
		return fmt.Errorf("update quiz: %w", err)
	}
	return requireAffected(res)
}

// SetPublished toggles the published flag of a live quiz.
func (r *QuizRepository) SetPublished(ctx context.Context, id string, published bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE quizzes SET is_published = $2, updated_at = $3 WHERE id = $1 AND is_deleted = FALSE`, id, published, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("publish quiz: %w", err)
	}
	return requireAffected(res)
}
