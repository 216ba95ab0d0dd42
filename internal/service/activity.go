package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/taskboard/internal/domain"
)

// ActivityRecorder builds activity entries and appends them inside the
// caller's transaction. A failed append fails the whole mutation.
type ActivityRecorder struct {
	store ActivityStore
	users UserLookup
}

// NewActivityRecorder creates a new ActivityRecorder.
func NewActivityRecorder(store ActivityStore, users UserLookup) *ActivityRecorder {
	return &ActivityRecorder{store: store, users: users}
}

func (r *ActivityRecorder) append(ctx context.Context, tx pgx.Tx, entry *domain.ActivityLogEntry) (*domain.ActivityLogEntry, error) {
	if err := r.store.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append %s entry: %w", entry.Action, err)
	}
	return entry, nil
}

// Created records TASK_CREATED with the initial status and title.
func (r *ActivityRecorder) Created(ctx context.Context, tx pgx.Tx, task *domain.Task, actorID string) (*domain.ActivityLogEntry, error) {
	return r.append(ctx, tx, &domain.ActivityLogEntry{
		TaskID:      task.ID,
		Action:      domain.ActionTaskCreated,
		PerformedBy: actorID,
		NewValue:    ptr(string(task.Status)),
		Metadata:    map[string]string{domain.MetaTitle: task.Title},
	})
}

// StatusChanged records TASK_STATUS_CHANGED from one status to another.
func (r *ActivityRecorder) StatusChanged(
	ctx context.Context,
	tx pgx.Tx,
	taskID, actorID string,
	from, to domain.TaskStatus,
) (*domain.ActivityLogEntry, error) {
	return r.append(ctx, tx, &domain.ActivityLogEntry{
		TaskID:        taskID,
		Action:        domain.ActionTaskStatusChanged,
		PerformedBy:   actorID,
		PreviousValue: ptr(string(from)),
		NewValue:      ptr(string(to)),
		Metadata:      map[string]string{},
	})
}

// AssigneeChanged records TASK_ASSIGNED when the task had no assignee and
// TASK_REASSIGNED otherwise. Names are captured at write time.
func (r *ActivityRecorder) AssigneeChanged(
	ctx context.Context,
	tx pgx.Tx,
	taskID, actorID string,
	from, to *string,
) (*domain.ActivityLogEntry, error) {
	action := domain.ActionTaskReassigned
	if from == nil {
		action = domain.ActionTaskAssigned
	}

	return r.append(ctx, tx, &domain.ActivityLogEntry{
		TaskID:        taskID,
		Action:        action,
		PerformedBy:   actorID,
		PreviousValue: ptr(assigneeValue(from)),
		NewValue:      ptr(assigneeValue(to)),
		Metadata: map[string]string{
			domain.MetaPreviousAssigneeName: r.resolveName(ctx, from),
			domain.MetaNewAssigneeName:      r.resolveName(ctx, to),
		},
	})
}

// Updated records TASK_UPDATED listing the changed field names.
func (r *ActivityRecorder) Updated(
	ctx context.Context,
	tx pgx.Tx,
	taskID, actorID string,
	fields []string,
) (*domain.ActivityLogEntry, error) {
	return r.append(ctx, tx, &domain.ActivityLogEntry{
		TaskID:      taskID,
		Action:      domain.ActionTaskUpdated,
		PerformedBy: actorID,
		Metadata:    map[string]string{domain.MetaFields: strings.Join(fields, ",")},
	})
}

// resolveName looks up a display name. It never fails: a missing user or a
// lookup error yields UnknownName.
func (r *ActivityRecorder) resolveName(ctx context.Context, userID *string) string {
	if userID == nil {
		return domain.Unassigned
	}
	user, err := r.users.GetByID(ctx, *userID)
	if err != nil {
		slog.Warn("failed to resolve assignee name",
			"user_id", *userID,
			"error", err,
		)
		return domain.UnknownName
	}
	return user.Name
}

func assigneeValue(id *string) string {
	if id == nil {
		return domain.Unassigned
	}
	return *id
}

func ptr[T any](v T) *T {
	return &v
}
