package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mtlprog/taskboard/internal/domain"
)

// Validator handles permission and state validation for task and project operations.
type Validator struct {
	projects ProjectStore
	users    UserLookup
}

// NewValidator creates a new Validator.
func NewValidator(projects ProjectStore, users UserLookup) *Validator {
	return &Validator{
		projects: projects,
		users:    users,
	}
}

// CanAccessProject loads the project and checks that the actor owns it or is a member.
func (v *Validator) CanAccessProject(ctx context.Context, actor domain.Actor, projectID string) (*domain.Project, error) {
	project, err := v.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if !project.HasAccess(actor.UserID) {
		return nil, fmt.Errorf("%w: user %s is not a member of project %s", domain.ErrPermissionDenied, actor.UserID, projectID)
	}

	return project, nil
}

// CanManageProject loads the project and checks that the actor is its owner.
func (v *Validator) CanManageProject(ctx context.Context, actor domain.Actor, projectID string) (*domain.Project, error) {
	project, err := v.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if !project.IsOwner(actor.UserID) {
		return nil, fmt.Errorf("%w: only the project owner can perform this action", domain.ErrPermissionDenied)
	}

	return project, nil
}

// RequireOwnerRole checks that the actor currently holds the OWNER role.
// The role is read from the store, not from the token.
func (v *Validator) RequireOwnerRole(ctx context.Context, actor domain.Actor) error {
	return requireOwnerRole(ctx, v.users, actor)
}

func requireOwnerRole(ctx context.Context, users UserLookup, actor domain.Actor) error {
	user, err := users.GetByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return fmt.Errorf("%w: account %s no longer exists", domain.ErrPermissionDenied, actor.UserID)
		}
		return fmt.Errorf("get actor: %w", err)
	}

	if !user.IsOwner() {
		return fmt.Errorf("%w: OWNER role required", domain.ErrPermissionDenied)
	}

	return nil
}

// CanTransitionStatus validates a requested status against the current one.
// Same status is reported as ErrStatusUnchanged, any other illegal move as
// ErrInvalidTransition naming both statuses.
func (v *Validator) CanTransitionStatus(task *domain.Task, newStatus domain.TaskStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, newStatus)
	}

	if task.Status == newStatus {
		return fmt.Errorf("%w: task %s is already %s", domain.ErrStatusUnchanged, task.ID, newStatus)
	}

	if !domain.IsValidTransition(task.Status, newStatus) {
		return fmt.Errorf("%w from %s to %s", domain.ErrInvalidTransition, task.Status, newStatus)
	}

	return nil
}

// CheckAssignee verifies that the user to assign exists.
func (v *Validator) CheckAssignee(ctx context.Context, assigneeID string) error {
	if _, err := v.users.GetByID(ctx, assigneeID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return fmt.Errorf("%w: assignee %s", domain.ErrUserNotFound, assigneeID)
		}
		return fmt.Errorf("get assignee: %w", err)
	}
	return nil
}

// CheckTitle rejects blank titles.
func (v *Validator) CheckTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	return nil
}

// CheckPriority rejects unknown priority values. Empty means default.
func (v *Validator) CheckPriority(priority domain.TaskPriority) error {
	if priority != "" && !priority.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidPriority, priority)
	}
	return nil
}
