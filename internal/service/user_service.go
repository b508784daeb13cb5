package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
)

type userRepository interface {
	softDeletable
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CountOwnedRecords(ctx context.Context, userID string) (int, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UserService handles user management workflows for administrators.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	filter.ListParams = filter.ListParams.Normalize()
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, filter.Pagination(total), nil
}

// Get returns a user by ID. Deleted users are only visible to admins.
func (s *UserService) Get(ctx context.Context, actor models.Actor, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "user")
	}
	if !visibleTo(user.SoftDelete, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return user, nil
}

// Create adds a new user. Email uniqueness is enforced by the database and reported as 409.
func (s *UserService) Create(ctx context.Context, actor models.Actor, req dto.CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid create user payload")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	user := &models.User{
		Email:        req.Email,
		FullName:     req.FullName,
		Role:         req.Role,
		PasswordHash: string(passwordHash),
		SoftDelete:   models.SoftDelete{IsActive: active},
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, emailConflict(writeError(err, "failed to create user"))
	}

	recordAudit(ctx, s.repo, s.logger, actor, models.AuditActionUserCreate, "users", user.ID, nil, map[string]interface{}{"email": user.Email, "role": user.Role})
	return user, nil
}

// Update modifies the user attributes.
func (s *UserService) Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid update payload")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "user")
	}
	if user.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "user is deleted")
	}

	oldValues := map[string]interface{}{"email": user.Email, "role": user.Role, "is_active": user.IsActive}

	if req.Email != "" {
		user.Email = req.Email
	}
	user.FullName = req.FullName
	user.Role = req.Role
	if req.Active != nil {
		user.IsActive = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, emailConflict(writeError(err, "failed to update user"))
	}

	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
		}
		if err := s.repo.UpdatePassword(ctx, user.ID, string(hash), time.Now().UTC()); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
		}
	}
	if req.Password != "" || !user.IsActive {
		if err := s.repo.RevokeUserRefreshTokens(ctx, user.ID); err != nil {
			s.logger.Warn("failed to revoke refresh tokens", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	newValues := map[string]interface{}{"email": user.Email, "role": user.Role, "is_active": user.IsActive}
	recordAudit(ctx, s.repo, s.logger, actor, models.AuditActionUserUpdate, "users", user.ID, oldValues, newValues)
	return user, nil
}

// Delete soft-deletes a user and revokes their sessions.
func (s *UserService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if actor.ID == id {
		return appErrors.Clone(appErrors.ErrForbidden, "admins cannot delete their own account")
	}
	if err := s.transition(ctx, actor, id, ActionSoftDelete, models.AuditActionUserDelete); err != nil {
		return err
	}
	if err := s.repo.RevokeUserRefreshTokens(ctx, id); err != nil {
		s.logger.Warn("failed to revoke refresh tokens of deleted user", zap.String("user_id", id), zap.Error(err))
	}
	return nil
}

// Restore reverts a soft delete.
func (s *UserService) Restore(ctx context.Context, actor models.Actor, id string) (*models.User, error) {
	if err := s.transition(ctx, actor, id, ActionRestore, models.AuditActionUserRestore); err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, id)
}

// Purge permanently removes a soft-deleted user who owns no courses, assessments or exports.
func (s *UserService) Purge(ctx context.Context, actor models.Actor, id string) error {
	return s.transition(ctx, actor, id, ActionPurge, models.AuditActionUserPurge)
}

func (s *UserService) transition(ctx context.Context, actor models.Actor, id string, action LifecycleAction, auditAction string) error {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return lookupError(err, "user")
	}
	if action == ActionPurge && user.IsDeleted {
		count, err := s.repo.CountOwnedRecords(ctx, id)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check user references")
		}
		if count > 0 {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("user still owns or graded %d record(s)", count))
		}
	}
	if err := applyTransition(ctx, s.repo, id, user.SoftDelete, action, "user"); err != nil {
		return err
	}
	recordAudit(ctx, s.repo, s.logger, actor, auditAction, "users", id, map[string]interface{}{"email": user.Email, "is_deleted": user.IsDeleted}, nil)
	return nil
}

func emailConflict(err error) error {
	if e, ok := err.(*appErrors.Error); ok && e.Code == appErrors.ErrDuplicate.Code {
		return appErrors.Clone(e, "email already exists")
	}
	return err
}
