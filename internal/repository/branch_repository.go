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

const branchColumns = `b.id, b.name, b.subject_id, b.professor_id, b.semester, b.academic_year, b.description, b.weeks, b.is_active, b.is_deleted, b.deleted_at, b.created_at, b.updated_at`

var branchSorts = map[string]string{
	"name":          "b.name",
	"semester":      "b.semester",
	"academic_year": "b.academic_year",
	"created_at":    "b.created_at",
	"updated_at":    "b.updated_at",
}

// BranchRepository handles persistence for branches and their enrollments.
type BranchRepository struct {
	softDeleter
	db *sqlx.DB
}

// NewBranchRepository constructs the repository.
func NewBranchRepository(db *sqlx.DB) *BranchRepository {
	return &BranchRepository{softDeleter: softDeleter{db: db, table: "branches"}, db: db}
}

// List returns branches matching filter. A StudentID restricts results to enrolled branches.
func (r *BranchRepository) List(ctx context.Context, filter models.BranchFilter) ([]models.Branch, int, error) {
	var where whereBuilder
	where.softDeleted("b.", filter.IncludeDeleted)
	if filter.SubjectID != "" {
		where.add("b.subject_id = $%d", filter.SubjectID)
	}
	if filter.ProfessorID != "" {
		where.add("b.professor_id = $%d", filter.ProfessorID)
	}
	if filter.StudentID != "" {
		where.add("EXISTS (SELECT 1 FROM branch_students bs WHERE bs.branch_id = b.id AND bs.student_id = $%d)", filter.StudentID)
	}
	where.search(filter.Search, "b.name", "b.semester", "b.academic_year")

	baseQuery := `FROM branches b WHERE 1=1` + where.clause()
	branches := make([]models.Branch, 0)
	if err := r.db.SelectContext(ctx, &branches, `SELECT `+branchColumns+` `+baseQuery+orderAndPage(filter.ListParams, branchSorts), where.args...); err != nil {
		return nil, 0, fmt.Errorf("list branches: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) `+baseQuery, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count branches: %w", err)
	}
	return branches, total, nil
}

// FindByID fetches a branch by id, including soft-deleted rows.
func (r *BranchRepository) FindByID(ctx context.Context, id string) (*models.Branch, error) {
	var branch models.Branch
	if err := r.db.GetContext(ctx, &branch, `SELECT `+branchColumns+` FROM branches b WHERE b.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get branch: %w", err)
	}
	return &branch, nil
}

// Create inserts a branch.
func (r *BranchRepository) Create(ctx context.Context, branch *models.Branch) error {
	if branch.ID == "" {
		branch.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	branch.CreatedAt = now
	branch.UpdatedAt = now
	if branch.Weeks == nil {
		branch.Weeks = models.Weeks{}
	}
	const query = `INSERT INTO branches (id, name, subject_id, professor_id, semester, academic_year, description, weeks, is_active, is_deleted, created_at, updated_at) VALUES (:id, :name, :subject_id, :professor_id, :semester, :academic_year, :description, :weeks, :is_active, :is_deleted, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, branch); err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	return nil
}

// Update modifies an existing live branch, weeks included.
func (r *BranchRepository) Update(ctx context.Context, branch *models.Branch) error {
	branch.UpdatedAt = time.Now().UTC()
	const query = `UPDATE branches SET name = :name, subject_id = :subject_id, professor_id = :professor_id, semester = :semester, academic_year = :academic_year, description = :description, weeks = :weeks, is_active = :is_active, updated_at = :updated_at WHERE id = :id AND is_deleted = FALSE`
	res, err := r.db.NamedExecContext(ctx, query, branch)
	if err != nil {
		return fmt.Errorf("update branch: %w", err)
	}
	return requireAffected(res)
}

// UpdateWeeks replaces the week structure of a live branch.
func (r *BranchRepository) UpdateWeeks(ctx context.Context, id string, weeks models.Weeks) error {
	if weeks == nil {
		weeks = models.Weeks{}
	}
	res, err := r.db.ExecContext(ctx, `UPDATE branches SET weeks = $2, updated_at = $3 WHERE id = $1 AND is_deleted = FALSE`, id, weeks, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update branch weeks: %w", err)
	}
	return requireAffected(res)
}

// Enroll adds a student to the branch. Enrolling twice violates the primary key.
func (r *BranchRepository) Enroll(ctx context.Context, branchID, studentID string) error {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO branch_students (branch_id, student_id, enrolled_at) VALUES ($1, $2, $3)`, branchID, studentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("enroll student: %w", err)
	}
	return nil
}

// Unenroll removes a student from the branch.
func (r *BranchRepository) Unenroll(ctx context.Context, branchID, studentID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM branch_students WHERE branch_id = $1 AND student_id = $2`, branchID, studentID)
	if err != nil {
		return fmt.Errorf("unenroll student: %w", err)
	}
	return requireAffected(res)
}

// IsEnrolled reports whether the student belongs to the branch.
func (r *BranchRepository) IsEnrolled(ctx context.Context, branchID, studentID string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM branch_students WHERE branch_id = $1 AND student_id = $2)`, branchID, studentID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return exists, nil
}

// ListStudents returns the live students enrolled in a branch ordered by name.
func (r *BranchRepository) ListStudents(ctx context.Context, branchID string) ([]models.BranchStudent, error) {
	const query = `SELECT bs.branch_id, bs.student_id, u.email, u.full_name, bs.enrolled_at
FROM branch_students bs
JOIN users u ON u.id = bs.student_id
WHERE bs.branch_id = $1 AND u.is_deleted = FALSE
ORDER BY u.full_name ASC`
	students := make([]models.BranchStudent, 0)
	if err := r.db.SelectContext(ctx, &students, query, branchID); err != nil {
		return nil, fmt.Errorf("list branch students: %w", err)
	}
	return students, nil
}
