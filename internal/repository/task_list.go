package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/mtlprog/taskboard/internal/domain"
)

// TaskListFilters holds all supported filters for task listing.
type TaskListFilters struct {
	ProjectID  string                // Required: filter by project
	Statuses   []domain.TaskStatus   // Optional: filter by status
	Priorities []domain.TaskPriority // Optional: filter by priority
	AssigneeID *string               // Optional: filter by assignee
	Unassigned bool                  // Optional: show only unassigned
	Limit      int                   // Required: page size
	Offset     int                   // Required: page offset
}

// apply adds the WHERE clauses shared by the list and count queries.
func (f TaskListFilters) apply(qb sq.SelectBuilder) sq.SelectBuilder {
	qb = qb.Where(sq.Eq{"t.project_id": f.ProjectID})

	if len(f.Statuses) > 0 {
		qb = qb.Where(sq.Eq{"t.status": f.Statuses})
	}
	if len(f.Priorities) > 0 {
		qb = qb.Where(sq.Eq{"t.priority": f.Priorities})
	}

	if f.Unassigned {
		qb = qb.Where(sq.Eq{"t.assignee_id": nil})
	} else if f.AssigneeID != nil {
		qb = qb.Where(sq.Eq{"t.assignee_id": *f.AssigneeID})
	}

	return qb
}

// List retrieves expanded tasks of a project, newest first, with the total count.
func (r *TaskRepository) List(ctx context.Context, filters TaskListFilters) ([]*domain.TaskDetails, int, error) {
	query, args, err := filters.apply(detailsQuery()).
		OrderBy("t.created_at DESC", "t.id").
		Limit(uint64(filters.Limit)).
		Offset(uint64(filters.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build List query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*domain.TaskDetails, 0)
	for rows.Next() {
		details, err := scanTaskDetails(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, details)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}

	countQuery, countArgs, err := filters.apply(psql.Select("COUNT(*)").From("tasks t")).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	return tasks, total, nil
}
