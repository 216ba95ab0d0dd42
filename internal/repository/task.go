package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/taskboard/internal/domain"
)

// taskColumns is the shared list of columns for task queries.
var taskColumns = []string{
	"id", "project_id", "title", "description", "status", "priority",
	"assignee_id", "created_by", "created_at", "updated_at",
}

// taskDetailColumns extends taskColumns with the expanded references.
var taskDetailColumns = append(qualify("t", taskColumns),
	"p.name", "a.name", "a.email", "c.name", "c.email",
)

// TaskRepository handles database operations for tasks.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// scanTask scans a single row into a Task struct.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	err := row.Scan(
		&task.ID,
		&task.ProjectID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.Priority,
		&task.AssigneeID,
		&task.CreatedBy,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &task, nil
}

// scanTaskDetails scans a task joined with its project, assignee and creator.
func scanTaskDetails(row pgx.Row) (*domain.TaskDetails, error) {
	var task domain.Task
	details := domain.TaskDetails{Task: &task}
	err := row.Scan(
		&task.ID,
		&task.ProjectID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.Priority,
		&task.AssigneeID,
		&task.CreatedBy,
		&task.CreatedAt,
		&task.UpdatedAt,
		&details.ProjectName,
		&details.AssigneeName,
		&details.AssigneeEmail,
		&details.CreatorName,
		&details.CreatorEmail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task details: %w", err)
	}
	return &details, nil
}

// detailsQuery returns the base select joining a task with its references.
func detailsQuery() sq.SelectBuilder {
	return psql.
		Select(taskDetailColumns...).
		From("tasks t").
		Join("projects p ON p.id = t.project_id").
		LeftJoin("users a ON a.id = t.assignee_id").
		Join("users c ON c.id = t.created_by")
}

// GetByID retrieves a task by ID.
func (r *TaskRepository) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for task: %w", err)
	}

	return scanTask(r.pool.QueryRow(ctx, query, args...))
}

// GetByIDForUpdate retrieves a task by ID with FOR UPDATE lock (within transaction).
func (r *TaskRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, taskID string) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"id": taskID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByIDForUpdate query for task %s: %w", taskID, err)
	}

	return scanTask(tx.QueryRow(ctx, query, args...))
}

// GetDetails retrieves a task with project, assignee and creator expanded.
func (r *TaskRepository) GetDetails(ctx context.Context, taskID string) (*domain.TaskDetails, error) {
	query, args, err := detailsQuery().
		Where(sq.Eq{"t.id": taskID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetDetails query for task %s: %w", taskID, err)
	}

	return scanTaskDetails(r.pool.QueryRow(ctx, query, args...))
}

// Create creates a new task in the database within a transaction.
// Returns the created task with ID, CreatedAt, and UpdatedAt populated.
func (r *TaskRepository) Create(ctx context.Context, tx pgx.Tx, task *domain.Task) (*domain.Task, error) {
	if task.Status == "" {
		task.Status = domain.TaskStatusBacklog
	}
	if task.Priority == "" {
		task.Priority = domain.TaskPriorityMedium
	}

	query, args, err := psql.
		Insert("tasks").
		Columns(
			"project_id", "title", "description", "status", "priority",
			"assignee_id", "created_by",
		).
		Values(
			task.ProjectID,
			task.Title,
			task.Description,
			task.Status,
			task.Priority,
			task.AssigneeID,
			task.CreatedBy,
		).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Create query for task: %w", err)
	}

	err = tx.QueryRow(ctx, query, args...).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return task, nil
}

// Update writes the mutable fields of task with optimistic locking.
// Returns ErrConcurrentUpdate if the stored status no longer equals expectedStatus.
func (r *TaskRepository) Update(
	ctx context.Context,
	tx pgx.Tx,
	task *domain.Task,
	expectedStatus domain.TaskStatus,
) error {
	query, args, err := psql.
		Update("tasks").
		Set("title", task.Title).
		Set("description", task.Description).
		Set("status", task.Status).
		Set("priority", task.Priority).
		Set("assignee_id", task.AssigneeID).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{
			"id":     task.ID,
			"status": expectedStatus,
		}).
		Suffix("RETURNING updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Update query for task %s: %w", task.ID, err)
	}

	err = tx.QueryRow(ctx, query, args...).Scan(&task.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: task %s is no longer %s", domain.ErrConcurrentUpdate, task.ID, expectedStatus)
		}
		return fmt.Errorf("update task: %w", err)
	}

	return nil
}

// Delete removes a task row. Activity entries must be deleted first.
func (r *TaskRepository) Delete(ctx context.Context, tx pgx.Tx, taskID string) error {
	query, args, err := psql.
		Delete("tasks").
		Where(sq.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Delete query for task %s: %w", taskID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}

	return nil
}
