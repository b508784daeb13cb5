package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
)

type subjectRepository interface {
	softDeletable
	List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error)
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	Create(ctx context.Context, subject *models.Subject) error
	Update(ctx context.Context, subject *models.Subject) error
	CountBranches(ctx context.Context, subjectID string) (int, error)
}

type subjectListCache struct {
	Items      []models.Subject   `json:"items"`
	Pagination *models.Pagination `json:"pagination"`
}

// SubjectService manages the subject catalogue. Lists are cached and dropped on every write.
type SubjectService struct {
	repo      subjectRepository
	audit     auditRecorder
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSubjectService constructs a SubjectService.
func NewSubjectService(repo subjectRepository, audit auditRecorder, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *SubjectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &SubjectService{repo: repo, audit: audit, cache: cache, validator: validate, logger: logger}
}

// List returns subjects, served from cache when possible.
func (s *SubjectService) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, *models.Pagination, error) {
	filter.ListParams = filter.ListParams.Normalize()
	page, _, err := remember(ctx, s.cache, subjectListKey(filter), 0, func() (subjectListCache, error) {
		subjects, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return subjectListCache{}, err
		}
		return subjectListCache{Items: subjects, Pagination: filter.Pagination(total)}, nil
	})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	return page.Items, page.Pagination, nil
}

// Get returns a subject by ID.
func (s *SubjectService) Get(ctx context.Context, actor models.Actor, id string) (*models.Subject, error) {
	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "subject")
	}
	if !visibleTo(subject.SoftDelete, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
	}
	return subject, nil
}

// Create adds a subject. Codes are stored upper-cased and must be unique.
func (s *SubjectService) Create(ctx context.Context, actor models.Actor, req dto.SubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid subject payload")
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	subject := &models.Subject{
		Code:        strings.TrimSpace(req.Code),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Credits:     req.Credits,
		SoftDelete:  models.SoftDelete{IsActive: active},
	}
	if actor.ID != "" {
		createdBy := actor.ID
		subject.CreatedBy = &createdBy
	}
	if err := s.repo.Create(ctx, subject); err != nil {
		return nil, codeConflict(writeError(err, "failed to create subject"))
	}
	s.invalidate(ctx)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionSubjectWrite, "subjects", subject.ID, nil, subject)
	return subject, nil
}

// Update replaces the editable fields of a live subject.
func (s *SubjectService) Update(ctx context.Context, actor models.Actor, id string, req dto.SubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid subject payload")
	}
	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "subject")
	}
	if subject.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subject is deleted")
	}
	old := *subject

	subject.Code = strings.TrimSpace(req.Code)
	subject.Name = strings.TrimSpace(req.Name)
	subject.Description = req.Description
	subject.Credits = req.Credits
	if req.Active != nil {
		subject.IsActive = *req.Active
	}
	if err := s.repo.Update(ctx, subject); err != nil {
		return nil, codeConflict(writeError(err, "failed to update subject"))
	}
	s.invalidate(ctx)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionSubjectWrite, "subjects", subject.ID, old, subject)
	return subject, nil
}

// Delete soft-deletes a subject.
func (s *SubjectService) Delete(ctx context.Context, actor models.Actor, id string) error {
	return s.transition(ctx, actor, id, ActionSoftDelete)
}

// Restore reverts a soft delete.
func (s *SubjectService) Restore(ctx context.Context, actor models.Actor, id string) (*models.Subject, error) {
	if err := s.transition(ctx, actor, id, ActionRestore); err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, id)
}

// Purge permanently removes a soft-deleted subject that no branch references.
func (s *SubjectService) Purge(ctx context.Context, actor models.Actor, id string) error {
	return s.transition(ctx, actor, id, ActionPurge)
}

func (s *SubjectService) transition(ctx context.Context, actor models.Actor, id string, action LifecycleAction) error {
	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return lookupError(err, "subject")
	}
	if action == ActionPurge && subject.IsDeleted {
		count, err := s.repo.CountBranches(ctx, id)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subject branches")
		}
		if count > 0 {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("subject is still referenced by %d branch(es)", count))
		}
	}
	if err := applyTransition(ctx, s.repo, id, subject.SoftDelete, action, "subject"); err != nil {
		return err
	}
	s.invalidate(ctx)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionSubjectWrite, "subjects", id, map[string]interface{}{"action": action, "code": subject.Code}, nil)
	return nil
}

func (s *SubjectService) invalidate(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, Key("subjects", "*"))
}

func subjectListKey(filter models.SubjectFilter) string {
	return Key("subjects", fmt.Sprintf("p%d:s%d:%s:%s:%s:d%t", filter.Page, filter.PageSize, strings.ToLower(filter.Search), filter.SortBy, filter.SortOrder, filter.IncludeDeleted))
}

func codeConflict(err error) error {
	if e, ok := err.(*appErrors.Error); ok && e.Code == appErrors.ErrDuplicate.Code {
		return appErrors.Clone(e, "subject code already exists")
	}
	return err
}
