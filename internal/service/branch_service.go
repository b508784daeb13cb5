package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
)

type branchRepository interface {
	softDeletable
	List(ctx context.Context, filter models.BranchFilter) ([]models.Branch, int, error)
	FindByID(ctx context.Context, id string) (*models.Branch, error)
	Create(ctx context.Context, branch *models.Branch) error
	Update(ctx context.Context, branch *models.Branch) error
	UpdateWeeks(ctx context.Context, id string, weeks models.Weeks) error
	Enroll(ctx context.Context, branchID, studentID string) error
	Unenroll(ctx context.Context, branchID, studentID string) error
	IsEnrolled(ctx context.Context, branchID, studentID string) (bool, error)
	ListStudents(ctx context.Context, branchID string) ([]models.BranchStudent, error)
}

type userLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type subjectLookup interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
}

// BranchService manages course sections, their week timeline and enrollments.
type BranchService struct {
	repo      branchRepository
	users     userLookup
	subjects  subjectLookup
	audit     auditRecorder
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewBranchService constructs a BranchService.
func NewBranchService(repo branchRepository, users userLookup, subjects subjectLookup, audit auditRecorder, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *BranchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &BranchService{repo: repo, users: users, subjects: subjects, audit: audit, cache: cache, validator: validate, logger: logger}
}

// List returns branches visible to the actor. Professors only see the branches they
// teach and students only the ones they are enrolled in.
func (s *BranchService) List(ctx context.Context, actor models.Actor, filter models.BranchFilter) ([]models.Branch, *models.Pagination, error) {
	filter.ListParams = filter.ListParams.Normalize()
	switch actor.Role {
	case models.RoleProfessor:
		filter.ProfessorID = actor.ID
		filter.IncludeDeleted = false
	case models.RoleStudent:
		filter.StudentID = actor.ID
		filter.IncludeDeleted = false
	}
	branches, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list branches")
	}
	return branches, filter.Pagination(total), nil
}

// Get returns a branch the actor may view.
func (s *BranchService) Get(ctx context.Context, actor models.Actor, id string) (*models.Branch, error) {
	branch, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, actor, branch); err != nil {
		return nil, err
	}
	return branch, nil
}

// Create adds a branch after checking the professor and subject references.
func (s *BranchService) Create(ctx context.Context, actor models.Actor, req dto.BranchRequest) (*models.Branch, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid branch payload")
	}
	weeks, err := normalizeWeeks(req.Weeks)
	if err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, req.ProfessorID, req.SubjectID); err != nil {
		return nil, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	branch := &models.Branch{
		Name:         strings.TrimSpace(req.Name),
		SubjectID:    req.SubjectID,
		ProfessorID:  req.ProfessorID,
		Semester:     req.Semester,
		AcademicYear: req.AcademicYear,
		Description:  req.Description,
		Weeks:        weeks,
		SoftDelete:   models.SoftDelete{IsActive: active},
	}
	if err := s.repo.Create(ctx, branch); err != nil {
		return nil, writeError(err, "failed to create branch")
	}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionBranchWrite, "branches", branch.ID, nil, branch)
	return branch, nil
}

// Update replaces the attributes of a live branch.
func (s *BranchService) Update(ctx context.Context, actor models.Actor, id string, req dto.BranchRequest) (*models.Branch, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid branch payload")
	}
	weeks, err := normalizeWeeks(req.Weeks)
	if err != nil {
		return nil, err
	}
	branch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "branch")
	}
	if branch.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "branch is deleted")
	}
	if err := s.checkReferences(ctx, req.ProfessorID, req.SubjectID); err != nil {
		return nil, err
	}
	old := *branch

	branch.Name = strings.TrimSpace(req.Name)
	branch.SubjectID = req.SubjectID
	branch.ProfessorID = req.ProfessorID
	branch.Semester = req.Semester
	branch.AcademicYear = req.AcademicYear
	branch.Description = req.Description
	if req.Weeks != nil {
		branch.Weeks = weeks
	}
	if req.Active != nil {
		branch.IsActive = *req.Active
	}
	if err := s.repo.Update(ctx, branch); err != nil {
		return nil, writeError(err, "failed to update branch")
	}
	s.invalidateGradebook(ctx, branch.ID)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionBranchWrite, "branches", branch.ID, old, branch)
	return branch, nil
}

// UpdateWeeks replaces the week timeline. The owning professor may do this as well as admins.
func (s *BranchService) UpdateWeeks(ctx context.Context, actor models.Actor, id string, req dto.UpdateWeeksRequest) (*models.Branch, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid weeks payload")
	}
	weeks, err := normalizeWeeks(req.Weeks)
	if err != nil {
		return nil, err
	}
	branch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "branch")
	}
	if branch.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "branch is deleted")
	}
	if !canManageBranch(actor, branch) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the branch professor can edit its weeks")
	}
	if err := s.repo.UpdateWeeks(ctx, id, weeks); err != nil {
		return nil, writeError(err, "failed to update weeks")
	}
	branch.Weeks = weeks
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionBranchWrite, "branches", id, nil, map[string]interface{}{"weeks": len(weeks)})
	return branch, nil
}

// Enroll adds students to a branch. Students already enrolled are reported rather than failing the batch.
func (s *BranchService) Enroll(ctx context.Context, actor models.Actor, id string, req dto.EnrollStudentsRequest) (*dto.EnrollmentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment payload")
	}
	return s.enroll(ctx, actor, id, req.StudentIDs)
}

func (s *BranchService) enroll(ctx context.Context, actor models.Actor, id string, studentIDs []string) (*dto.EnrollmentResult, error) {
	branch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "branch")
	}
	if branch.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "branch is deleted")
	}

	result := &dto.EnrollmentResult{Enrolled: []string{}, AlreadyEnrolled: []string{}}
	seen := make(map[string]struct{}, len(studentIDs))
	for _, studentID := range studentIDs {
		if _, dup := seen[studentID]; dup {
			continue
		}
		seen[studentID] = struct{}{}

		student, err := s.users.FindByID(ctx, studentID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, lookupError(err, "student")
		}
		if student == nil || student.IsDeleted || student.Role != models.RoleStudent {
			return nil, appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrInvalidReference, "student does not exist"),
				map[string]string{"student_ids": studentID},
			)
		}

		if err := s.repo.Enroll(ctx, id, studentID); err != nil {
			if mapped := appErrors.Normalize(err); mapped.Code == appErrors.ErrDuplicate.Code {
				result.AlreadyEnrolled = append(result.AlreadyEnrolled, studentID)
				continue
			}
			return nil, writeError(err, "failed to enroll student")
		}
		result.Enrolled = append(result.Enrolled, studentID)
	}

	s.invalidateGradebook(ctx, id)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionBranchWrite, "branch_students", id, nil, result)
	return result, nil
}

// Unenroll removes a student from a branch.
func (s *BranchService) Unenroll(ctx context.Context, actor models.Actor, id, studentID string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return lookupError(err, "branch")
	}
	if err := s.repo.Unenroll(ctx, id, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student is not enrolled in this branch")
		}
		return writeError(err, "failed to unenroll student")
	}
	s.invalidateGradebook(ctx, id)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionBranchWrite, "branch_students", id, map[string]string{"student_id": studentID}, nil)
	return nil
}

// Students lists the enrollments of a branch for its professor or an admin.
func (s *BranchService) Students(ctx context.Context, actor models.Actor, id string) ([]models.BranchStudent, error) {
	branch, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !canManageBranch(actor, branch) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the branch professor can list its students")
	}
	students, err := s.repo.ListStudents(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, nil
}

// Delete soft-deletes a branch.
func (s *BranchService) Delete(ctx context.Context, actor models.Actor, id string) error {
	return s.transition(ctx, actor, id, ActionSoftDelete)
}

// Restore reverts a soft delete.
func (s *BranchService) Restore(ctx context.Context, actor models.Actor, id string) (*models.Branch, error) {
	if err := s.transition(ctx, actor, id, ActionRestore); err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, id)
}

// Purge permanently removes a soft-deleted branch.
func (s *BranchService) Purge(ctx context.Context, actor models.Actor, id string) error {
	return s.transition(ctx, actor, id, ActionPurge)
}

// Manageable loads a live branch and checks that actor owns it or is an admin.
func (s *BranchService) Manageable(ctx context.Context, actor models.Actor, id string) (*models.Branch, error) {
	branch, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !canManageBranch(actor, branch) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "branch belongs to another professor")
	}
	return branch, nil
}

func (s *BranchService) transition(ctx context.Context, actor models.Actor, id string, action LifecycleAction) error {
	branch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return lookupError(err, "branch")
	}
	if err := applyTransition(ctx, s.repo, id, branch.SoftDelete, action, "branch"); err != nil {
		return err
	}
	s.invalidateGradebook(ctx, id)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionBranchWrite, "branches", id, map[string]interface{}{"action": action, "name": branch.Name}, nil)
	return nil
}

func (s *BranchService) load(ctx context.Context, actor models.Actor, id string) (*models.Branch, error) {
	branch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "branch")
	}
	if !visibleTo(branch.SoftDelete, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "branch not found")
	}
	return branch, nil
}

func (s *BranchService) authorizeView(ctx context.Context, actor models.Actor, branch *models.Branch) error {
	if canManageBranch(actor, branch) {
		return nil
	}
	if actor.Role == models.RoleStudent {
		enrolled, err := s.repo.IsEnrolled(ctx, branch.ID, actor.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if enrolled {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this branch")
}

func (s *BranchService) checkReferences(ctx context.Context, professorID, subjectID string) error {
	professor, err := s.users.FindByID(ctx, professorID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return lookupError(err, "professor")
	}
	if professor == nil || professor.Role != models.RoleProfessor || !professor.CanSignIn() {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrInvalidReference, "professor_id must reference an active professor"),
			map[string]string{"professor_id": professorID},
		)
	}

	subject, err := s.subjects.FindByID(ctx, subjectID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return lookupError(err, "subject")
	}
	if subject == nil || subject.IsDeleted {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrInvalidReference, "subject_id must reference an existing subject"),
			map[string]string{"subject_id": subjectID},
		)
	}
	return nil
}

func (s *BranchService) invalidateGradebook(ctx context.Context, branchID string) {
	_ = s.cache.Invalidate(ctx, gradebookKey(branchID))
}

func canManageBranch(actor models.Actor, branch *models.Branch) bool {
	return actor.IsAdmin() || (actor.Role == models.RoleProfessor && branch.ProfessorID == actor.ID)
}

// normalizeWeeks rejects duplicate week numbers and orders the timeline.
func normalizeWeeks(weeks []models.Week) (models.Weeks, error) {
	out := make(models.Weeks, 0, len(weeks))
	seen := make(map[int]struct{}, len(weeks))
	for _, week := range weeks {
		if week.Number <= 0 {
			return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid weeks"),
				map[string]string{"weeks": "week numbers must be positive"})
		}
		if _, dup := seen[week.Number]; dup {
			return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid weeks"),
				map[string]string{"weeks": fmt.Sprintf("week %d appears more than once", week.Number)})
		}
		seen[week.Number] = struct{}{}
		out = append(out, week)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func gradebookKey(branchID string) string {
	return Key("gradebook", branchID)
}
