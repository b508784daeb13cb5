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

const examColumns = `e.id, e.branch_id, e.professor_id, e.title, e.description, e.questions, e.scheduled_at, e.duration_minutes, e.is_published, e.is_active, e.is_deleted, e.deleted_at, e.created_at, e.updated_at`

var examSorts = map[string]string{
	"title":        "e.title",
	"scheduled_at": "e.scheduled_at",
	"created_at":   "e.created_at",
	"updated_at":   "e.updated_at",
}

// ExamRepository persists exams.
type ExamRepository struct {
	softDeleter
	db *sqlx.DB
}

// NewExamRepository constructs the repository.
func NewExamRepository(db *sqlx.DB) *ExamRepository {
	return &ExamRepository{softDeleter: softDeleter{db: db, table: "exams"}, db: db}
}

// List returns exams matching filter.
func (r *ExamRepository) List(ctx context.Context, filter models.ExamFilter) ([]models.Exam, int, error) {
	var where whereBuilder
	where.softDeleted("e.", filter.IncludeDeleted)
	if filter.BranchID != "" {
		where.add("e.branch_id = $%d", filter.BranchID)
	}
	if filter.ProfessorID != "" {
		where.add("e.professor_id = $%d", filter.ProfessorID)
	}
	if filter.StudentID != "" {
		where.add("EXISTS (SELECT 1 FROM branch_students bs WHERE bs.branch_id = e.branch_id AND bs.student_id = $%d)", filter.StudentID)
	}
	if filter.Published != nil {
		where.add("e.is_published = $%d", *filter.Published)
	}
	where.search(filter.Search, "e.title")

	baseQuery := `FROM exams e WHERE 1=1` + where.clause()
	exams := make([]models.Exam, 0)
	if err := r.db.SelectContext(ctx, &exams, `SELECT `+examColumns+` `+baseQuery+orderAndPage(filter.ListParams, examSorts), where.args...); err != nil {
		return nil, 0, fmt.Errorf("list exams: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) `+baseQuery, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count exams: %w", err)
	}
	return exams, total, nil
}

// ListByBranch returns every live exam of a branch in creation order.
func (r *ExamRepository) ListByBranch(ctx context.Context, branchID string) ([]models.Exam, error) {
	exams := make([]models.Exam, 0)
	query := `SELECT ` + examColumns + ` FROM exams e WHERE e.branch_id = $1 AND e.is_deleted = FALSE ORDER BY e.created_at ASC`
	if err := r.db.SelectContext(ctx, &exams, query, branchID); err != nil {
		return nil, fmt.Errorf("list branch exams: %w", err)
	}
	return exams, nil
}

// FindByID fetches an exam by id, including soft-deleted rows.
func (r *ExamRepository) FindByID(ctx context.Context, id string) (*models.Exam, error) {
	var exam models.Exam
	if err := r.db.GetContext(ctx, &exam, `SELECT `+examColumns+` FROM exams e WHERE e.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return &exam, nil
}

// Create inserts an exam.
func (r *ExamRepository) Create(ctx context.Context, exam *models.Exam) error {
	if exam.ID == "" {
		exam.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	exam.CreatedAt = now
	exam.UpdatedAt = now
	const query = `INSERT INTO exams (id, branch_id, professor_id, title, description, questions, scheduled_at, duration_minutes, is_published, is_active, is_deleted, created_at, updated_at)
VALUES (:id, :branch_id, :professor_id, :title, :description, :questions, :scheduled_at, :duration_minutes, :is_published, :is_active, :is_deleted, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, exam); err != nil {
		return fmt.Errorf("create exam: %w", err)
	}
	return nil
}

// Update modifies a live exam.
func (r *ExamRepository) Update(ctx context.Context, exam *models.Exam) error {
	exam.UpdatedAt = time.Now().UTC()
	const query = `UPDATE exams SET title = :title, description = :description, questions = :questions, scheduled_at = :scheduled_at, duration_minutes = :duration_minutes, is_active = :is_active, updated_at = :updated_at WHERE id = :id AND is_deleted = FALSE`
	res, err := r.db.NamedExecContext(ctx, query, exam)
	if err != nil {
		return fmt.Errorf("update exam: %w", err)
	}
	return requireAffected(res)
}

// SetPublished toggles the published flag of a live exam.
func (r *ExamRepository) SetPublished(ctx context.Context, id string, published bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE exams SET is_published = $2, updated_at = $3 WHERE id = $1 AND is_deleted = FALSE`, id, published, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("publish exam: %w", err)
	}
	return requireAffected(res)
}
