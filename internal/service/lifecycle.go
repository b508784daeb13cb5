package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/profman-api/internal/models"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
)

// LifecycleAction names a soft-delete lifecycle transition.
type LifecycleAction string

const (
	ActionSoftDelete LifecycleAction = "delete"
	ActionRestore    LifecycleAction = "restore"
	ActionPurge      LifecycleAction = "purge"
)

// softDeletable is implemented by repositories of soft-deletable tables.
type softDeletable interface {
	SoftDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
	Purge(ctx context.Context, id string) error
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// checkTransition enforces the lifecycle state machine:
// live rows may only be soft-deleted, deleted rows may be restored or purged.
func checkTransition(state models.SoftDelete, action LifecycleAction, resource string) error {
	switch action {
	case ActionSoftDelete:
		if state.IsDeleted {
			return appErrors.Clone(appErrors.ErrConflict, resource+" is already deleted")
		}
	case ActionRestore:
		if !state.IsDeleted {
			return appErrors.Clone(appErrors.ErrConflict, resource+" is not deleted")
		}
	case ActionPurge:
		if !state.IsDeleted {
			return appErrors.Clone(appErrors.ErrConflict, resource+" must be deleted before it can be permanently removed")
		}
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unknown lifecycle action")
	}
	return nil
}

// applyTransition validates and executes action against repo.
// A write that matches no row means another request changed the state first.
func applyTransition(ctx context.Context, repo softDeletable, id string, state models.SoftDelete, action LifecycleAction, resource string) error {
	if err := checkTransition(state, action, resource); err != nil {
		return err
	}
	var err error
	switch action {
	case ActionSoftDelete:
		err = repo.SoftDelete(ctx, id)
	case ActionRestore:
		err = repo.Restore(ctx, id)
	case ActionPurge:
		err = repo.Purge(ctx, id)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, resource+" state changed concurrently")
		}
		if action == ActionPurge && appErrors.Normalize(err).Code == appErrors.ErrInvalidReference.Code {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, resource+" is still referenced by other records")
		}
		return writeError(err, "failed to "+string(action)+" "+resource)
	}
	return nil
}

// visibleTo hides soft-deleted rows from everyone but admins.
func visibleTo(state models.SoftDelete, actor models.Actor) bool {
	return !state.IsDeleted || actor.IsAdmin()
}

// lookupError maps repository lookups onto NOT_FOUND or INTERNAL_ERROR.
func lookupError(err error, resource string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, resource+" not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+resource)
}

// writeError keeps driver errors that Normalize maps to client statuses and wraps the rest.
func writeError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "resource not found")
	}
	normalized := appErrors.Normalize(err)
	if normalized.Status < 500 {
		return normalized
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

// recordAudit writes an audit entry and only logs failures.
func recordAudit(ctx context.Context, repo auditRecorder, logger *zap.Logger, actor models.Actor, action, resource, resourceID string, oldValues, newValues interface{}) {
	if repo == nil {
		return
	}
	entry := &models.AuditLog{
		Action:    action,
		Resource:  resource,
		IPAddress: actor.IP,
		UserAgent: actor.UserAgent,
	}
	if actor.ID != "" {
		id := actor.ID
		entry.UserID = &id
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := repo.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", action), zap.String("resource", resource), zap.Error(err))
	}
}
