package repository

import (
	"context"
	"fmt"

	"github.com/mtlprog/taskboard/internal/domain"
)

// ProjectStatsResult holds task counters for a single project.
type ProjectStatsResult struct {
	TotalTasks      int
	TasksByStatus   map[domain.TaskStatus]int
	TasksByPriority map[domain.TaskPriority]int
	UnassignedCount int
}

// GetProjectStats counts the current tasks of a project by status and priority.
func (r *TaskRepository) GetProjectStats(ctx context.Context, projectID string) (*ProjectStatsResult, error) {
	result := &ProjectStatsResult{
		TasksByStatus:   make(map[domain.TaskStatus]int, len(domain.AllTaskStatuses)),
		TasksByPriority: make(map[domain.TaskPriority]int, len(domain.AllTaskPriorities)),
	}
	for _, s := range domain.AllTaskStatuses {
		result.TasksByStatus[s] = 0
	}
	for _, p := range domain.AllTaskPriorities {
		result.TasksByPriority[p] = 0
	}

	rows, err := r.pool.Query(ctx, `
		SELECT status, priority, COUNT(*), COUNT(*) FILTER (WHERE assignee_id IS NULL)
		FROM tasks
		WHERE project_id = $1
		GROUP BY status, priority
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query project stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status     domain.TaskStatus
			priority   domain.TaskPriority
			count      int
			unassigned int
		)
		if err := rows.Scan(&status, &priority, &count, &unassigned); err != nil {
			return nil, fmt.Errorf("scan project stats: %w", err)
		}
		result.TasksByStatus[status] += count
		result.TasksByPriority[priority] += count
		result.TotalTasks += count
		result.UnassignedCount += unassigned
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project stats rows: %w", err)
	}

	return result, nil
}
