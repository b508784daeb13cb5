package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/profman-api/internal/models"
)

const subjectColumns = `id, code, name, description, credits, created_by, is_active, is_deleted, deleted_at, created_at, updated_at`

var subjectSorts = map[string]string{
	"code":       "code",
	"name":       "name",
	"credits":    "credits",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

// SubjectRepository handles persistence for subjects.
type SubjectRepository struct {
	softDeleter
	db *sqlx.DB
}

// NewSubjectRepository constructs a new SubjectRepository.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{softDeleter: softDeleter{db: db, table: "subjects"}, db: db}
}

// List returns subjects matching filter.
func (r *SubjectRepository) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error) {
	var where whereBuilder
	where.softDeleted("", filter.IncludeDeleted)
	where.search(filter.Search, "code", "name")

	baseQuery := `FROM subjects WHERE 1=1` + where.clause()
	subjects := make([]models.Subject, 0)
	if err := r.db.SelectContext(ctx, &subjects, `SELECT `+subjectColumns+` `+baseQuery+orderAndPage(filter.ListParams, subjectSorts), where.args...); err != nil {
		return nil, 0, fmt.Errorf("list subjects: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) `+baseQuery, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count subjects: %w", err)
	}
	return subjects, total, nil
}

// FindByID fetches a subject by id, including soft-deleted rows.
func (r *SubjectRepository) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, `SELECT `+subjectColumns+` FROM subjects WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get subject: %w", err)
	}
	return &subject, nil
}

// Create inserts a subject. Codes are stored upper-cased.
func (r *SubjectRepository) Create(ctx context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	subject.CreatedAt = now
	subject.UpdatedAt = now
	subject.Code = strings.ToUpper(strings.TrimSpace(subject.Code))
	const query = `INSERT INTO subjects (id, code, name, description, credits, created_by, is_active, is_deleted, created_at, updated_at) VALUES (:id, :code, :name, :description, :credits, :created_by, :is_active, :is_deleted, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

// Update modifies an existing live subject.
func (r *SubjectRepository) Update(ctx context.Context, subject *models.Subject) error {
	subject.UpdatedAt = time.Now().UTC()
	subject.Code = strings.ToUpper(strings.TrimSpace(subject.Code))
	const query = `UPDATE subjects SET code = :code, name = :name, description = :description, credits = :credits, is_active = :is_active, updated_at = :updated_at WHERE id = :id AND is_deleted = FALSE`
	res, err := r.db.NamedExecContext(ctx, query, subject)
	if err != nil {
		return fmt.Errorf("update subject: %w", err)
	}
	return requireAffected(res)
}

// CountBranches returns the number of branches referencing the subject, soft-deleted ones included.
// The foreign key has no cascade, so any of them blocks a purge.
func (r *SubjectRepository) CountBranches(ctx context.Context, subjectID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM branches WHERE subject_id = $1`, subjectID); err != nil {
		return 0, fmt.Errorf("count subject branches: %w", err)
	}
	return count, nil
}
