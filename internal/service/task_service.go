package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/taskboard/internal/domain"
	"github.com/mtlprog/taskboard/internal/repository"
)

// CreateTaskParams holds the input of CreateTask.
type CreateTaskParams struct {
	ProjectID   string
	Title       string
	Description string
	Priority    domain.TaskPriority // empty means MEDIUM
	AssigneeID  *string             // nil means unassigned
}

// UpdateTaskParams holds a partial task update. Nil fields are left unchanged.
// A non-nil AssigneeID pointing to an empty string unassigns the task.
type UpdateTaskParams struct {
	Title       *string
	Description *string
	Status      *domain.TaskStatus
	Priority    *domain.TaskPriority
	AssigneeID  *string
}

// TaskListParams holds the filters of ListTasks.
type TaskListParams struct {
	Statuses   []domain.TaskStatus
	Priorities []domain.TaskPriority
	AssigneeID *string
	Unassigned bool
	Page       domain.PageRequest
}

// TaskService coordinates task operations and state transitions.
type TaskService struct {
	tx        Transactor
	tasks     TaskStore
	activity  ActivityStore
	recorder  *ActivityRecorder
	validator *Validator
}

// NewTaskService creates a new TaskService.
func NewTaskService(
	tx Transactor,
	tasks TaskStore,
	activity ActivityStore,
	projects ProjectStore,
	users UserLookup,
) *TaskService {
	return &TaskService{
		tx:        tx,
		tasks:     tasks,
		activity:  activity,
		recorder:  NewActivityRecorder(activity, users),
		validator: NewValidator(projects, users),
	}
}

// CreateTask creates a task in BACKLOG and records its creation.
// TASK_ASSIGNED is recorded only when an assignee is given explicitly.
func (s *TaskService) CreateTask(
	ctx context.Context,
	actor domain.Actor,
	params CreateTaskParams,
) (*domain.TaskDetails, error) {
	if err := s.validator.CheckTitle(params.Title); err != nil {
		return nil, err
	}
	if err := s.validator.CheckPriority(params.Priority); err != nil {
		return nil, err
	}

	if _, err := s.validator.CanAccessProject(ctx, actor, params.ProjectID); err != nil {
		return nil, err
	}

	if params.AssigneeID != nil && *params.AssigneeID == "" {
		params.AssigneeID = nil
	}
	if params.AssigneeID != nil {
		if err := s.validator.CheckAssignee(ctx, *params.AssigneeID); err != nil {
			return nil, err
		}
	}

	task := &domain.Task{
		ProjectID:   params.ProjectID,
		Title:       params.Title,
		Description: params.Description,
		Status:      domain.TaskStatusBacklog,
		Priority:    params.Priority,
		AssigneeID:  params.AssigneeID,
		CreatedBy:   actor.UserID,
	}
	if task.Priority == "" {
		task.Priority = domain.TaskPriorityMedium
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := s.tasks.Create(ctx, tx, task); err != nil {
			return err
		}
		if _, err := s.recorder.Created(ctx, tx, task, actor.UserID); err != nil {
			return err
		}
		if task.AssigneeID != nil {
			if _, err := s.recorder.AssigneeChanged(ctx, tx, task.ID, actor.UserID, nil, task.AssigneeID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("task created",
		"task_id", task.ID,
		"project_id", task.ProjectID,
		"user_id", actor.UserID,
	)

	return s.tasks.GetDetails(ctx, task.ID)
}

// GetTask returns a task with its references expanded.
func (s *TaskService) GetTask(ctx context.Context, actor domain.Actor, taskID string) (*domain.TaskDetails, error) {
	details, err := s.tasks.GetDetails(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if _, err := s.validator.CanAccessProject(ctx, actor, details.Task.ProjectID); err != nil {
		return nil, err
	}

	return details, nil
}

// ListTasks returns a page of project tasks, newest first.
func (s *TaskService) ListTasks(
	ctx context.Context,
	actor domain.Actor,
	projectID string,
	params TaskListParams,
) ([]*domain.TaskDetails, int, error) {
	for _, status := range params.Statuses {
		if !status.IsValid() {
			return nil, 0, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
		}
	}
	for _, priority := range params.Priorities {
		if !priority.IsValid() {
			return nil, 0, fmt.Errorf("%w: %q", domain.ErrInvalidPriority, priority)
		}
	}

	if _, err := s.validator.CanAccessProject(ctx, actor, projectID); err != nil {
		return nil, 0, err
	}

	return s.tasks.List(ctx, repository.TaskListFilters{
		ProjectID:  projectID,
		Statuses:   params.Statuses,
		Priorities: params.Priorities,
		AssigneeID: params.AssigneeID,
		Unassigned: params.Unassigned,
		Limit:      params.Page.Limit,
		Offset:     params.Page.Offset(),
	})
}

// UpdateStatus moves a task to the next workflow status and records exactly
// one TASK_STATUS_CHANGED entry.
func (s *TaskService) UpdateStatus(
	ctx context.Context,
	actor domain.Actor,
	taskID string,
	newStatus domain.TaskStatus,
) (*domain.TaskDetails, error) {
	if !newStatus.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, newStatus)
	}

	var oldStatus domain.TaskStatus
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}

		if _, err := s.validator.CanAccessProject(ctx, actor, task.ProjectID); err != nil {
			return err
		}

		if err := s.validator.CanTransitionStatus(task, newStatus); err != nil {
			return err
		}

		oldStatus = task.Status
		task.Status = newStatus
		if err := s.tasks.Update(ctx, tx, task, oldStatus); err != nil {
			return err
		}

		_, err = s.recorder.StatusChanged(ctx, tx, task.ID, actor.UserID, oldStatus, newStatus)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("task status changed",
		"task_id", taskID,
		"user_id", actor.UserID,
		"old_status", oldStatus,
		"new_status", newStatus,
	)

	return s.tasks.GetDetails(ctx, taskID)
}

// UpdateTask applies a partial update. A status change goes through the
// transition validator, an assignee change is recorded as TASK_ASSIGNED or
// TASK_REASSIGNED, and edits of title, description or priority as TASK_UPDATED.
func (s *TaskService) UpdateTask(
	ctx context.Context,
	actor domain.Actor,
	taskID string,
	params UpdateTaskParams,
) (*domain.TaskDetails, error) {
	if params.Title != nil {
		if err := s.validator.CheckTitle(*params.Title); err != nil {
			return nil, err
		}
	}
	if params.Priority != nil {
		if *params.Priority == "" || !params.Priority.IsValid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPriority, *params.Priority)
		}
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, *params.Status)
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}

		if _, err := s.validator.CanAccessProject(ctx, actor, task.ProjectID); err != nil {
			return err
		}

		expectedStatus := task.Status

		statusChanged := params.Status != nil && *params.Status != task.Status
		if statusChanged {
			if err := s.validator.CanTransitionStatus(task, *params.Status); err != nil {
				return err
			}
		}

		previousAssignee := task.AssigneeID
		var newAssignee *string
		assigneeChanged := false
		if params.AssigneeID != nil {
			if *params.AssigneeID != "" {
				newAssignee = params.AssigneeID
			}
			assigneeChanged = !sameAssignee(previousAssignee, newAssignee)
			if assigneeChanged && newAssignee != nil {
				if err := s.validator.CheckAssignee(ctx, *newAssignee); err != nil {
					return err
				}
			}
		}

		fields := make([]string, 0, 3)
		if params.Title != nil && *params.Title != task.Title {
			task.Title = *params.Title
			fields = append(fields, "title")
		}
		if params.Description != nil && *params.Description != task.Description {
			task.Description = *params.Description
			fields = append(fields, "description")
		}
		if params.Priority != nil && *params.Priority != task.Priority {
			task.Priority = *params.Priority
			fields = append(fields, "priority")
		}

		if !statusChanged && !assigneeChanged && len(fields) == 0 {
			return nil
		}

		if statusChanged {
			task.Status = *params.Status
		}
		if assigneeChanged {
			task.AssigneeID = newAssignee
		}

		if err := s.tasks.Update(ctx, tx, task, expectedStatus); err != nil {
			return err
		}

		if statusChanged {
			if _, err := s.recorder.StatusChanged(ctx, tx, task.ID, actor.UserID, expectedStatus, task.Status); err != nil {
				return err
			}
		}
		if assigneeChanged {
			if _, err := s.recorder.AssigneeChanged(ctx, tx, task.ID, actor.UserID, previousAssignee, newAssignee); err != nil {
				return err
			}
		}
		if len(fields) > 0 {
			if _, err := s.recorder.Updated(ctx, tx, task.ID, actor.UserID, fields); err != nil {
				return err
			}
		}

		slog.Info("task updated",
			"task_id", task.ID,
			"user_id", actor.UserID,
			"status_changed", statusChanged,
			"assignee_changed", assigneeChanged,
			"fields", fields,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.tasks.GetDetails(ctx, taskID)
}

// DeleteTask removes a task and its activity history in one transaction.
func (s *TaskService) DeleteTask(ctx context.Context, actor domain.Actor, taskID string) error {
	var removed int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}

		if _, err := s.validator.CanAccessProject(ctx, actor, task.ProjectID); err != nil {
			return err
		}

		removed, err = s.activity.DeleteByTask(ctx, tx, taskID)
		if err != nil {
			return err
		}

		return s.tasks.Delete(ctx, tx, taskID)
	})
	if err != nil {
		return err
	}

	slog.Info("task deleted",
		"task_id", taskID,
		"user_id", actor.UserID,
		"activity_entries", removed,
	)

	return nil
}

// ListActivity returns a page of the task's activity, newest first.
func (s *TaskService) ListActivity(
	ctx context.Context,
	actor domain.Actor,
	taskID string,
	page domain.PageRequest,
) ([]*domain.ActivityLogView, int, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, 0, err
	}

	if _, err := s.validator.CanAccessProject(ctx, actor, task.ProjectID); err != nil {
		return nil, 0, err
	}

	return s.activity.ListByTask(ctx, taskID, page.Limit, page.Offset())
}

func sameAssignee(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
