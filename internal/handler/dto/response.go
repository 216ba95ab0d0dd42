package dto

import (
	"time"

	"github.com/mtlprog/taskboard/internal/domain"
	"github.com/mtlprog/taskboard/internal/repository"
)

// Pagination describes one page of a listing.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NewPagination builds pagination metadata for a page request and a total count.
func NewPagination(page domain.PageRequest, total int) Pagination {
	return Pagination{
		Page:  page.Page,
		Limit: page.Limit,
		Total: total,
		Pages: page.Pages(total),
	}
}

// UserRef is a short user reference embedded in other responses.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserResponse represents an account.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// UsersListResponse represents the response for GET /users.
type UsersListResponse struct {
	Users []UserResponse `json:"users"`
}

// ProjectResponse represents a project with owner and members expanded.
type ProjectResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Owner       UserRef   `json:"owner"`
	Members     []UserRef `json:"members"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProjectsListResponse represents the response for GET /projects.
type ProjectsListResponse struct {
	Projects   []ProjectResponse `json:"projects"`
	Pagination Pagination        `json:"pagination"`
}

// ProjectStatsResponse represents task counters of a project.
type ProjectStatsResponse struct {
	ProjectID       string         `json:"project_id"`
	TotalTasks      int            `json:"total_tasks"`
	TasksByStatus   map[string]int `json:"tasks_by_status"`
	TasksByPriority map[string]int `json:"tasks_by_priority"`
	UnassignedCount int            `json:"unassigned_count"`
}

// ProjectRef is a short project reference embedded in task responses.
type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TaskResponse represents a task with project, assignee and creator expanded.
type TaskResponse struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Status           string     `json:"status"`
	Priority         string     `json:"priority"`
	Project          ProjectRef `json:"project"`
	Assignee         *UserRef   `json:"assignee"`
	CreatedBy        UserRef    `json:"created_by"`
	ValidTransitions []string   `json:"valid_transitions"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TasksListResponse represents the response for GET /projects/:id/tasks.
type TasksListResponse struct {
	Tasks      []TaskResponse `json:"tasks"`
	Pagination Pagination     `json:"pagination"`
}

// ActivityLogResponse represents one activity entry.
type ActivityLogResponse struct {
	ID            string            `json:"id"`
	TaskID        string            `json:"task_id"`
	Action        string            `json:"action"`
	PerformedBy   UserRef           `json:"performed_by"`
	PreviousValue *string           `json:"previous_value"`
	NewValue      *string           `json:"new_value"`
	Metadata      map[string]string `json:"metadata"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ActivityListResponse represents the response for GET /tasks/:id/activity.
type ActivityListResponse struct {
	Logs       []ActivityLogResponse `json:"logs"`
	Pagination Pagination            `json:"pagination"`
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// ToUserResponse converts domain.User to UserResponse.
func ToUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      string(user.Role),
		CreatedAt: user.CreatedAt,
	}
}

// ToProjectResponse converts domain.ProjectDetails to ProjectResponse.
func ToProjectResponse(details *domain.ProjectDetails) ProjectResponse {
	members := make([]UserRef, 0, len(details.Members))
	for _, m := range details.Members {
		members = append(members, UserRef(m))
	}

	return ProjectResponse{
		ID:          details.Project.ID,
		Name:        details.Project.Name,
		Description: details.Project.Description,
		Owner:       UserRef(details.Owner),
		Members:     members,
		CreatedAt:   details.Project.CreatedAt,
		UpdatedAt:   details.Project.UpdatedAt,
	}
}

// ToProjectStatsResponse converts repository stats to ProjectStatsResponse.
func ToProjectStatsResponse(projectID string, stats *repository.ProjectStatsResult) ProjectStatsResponse {
	byStatus := make(map[string]int, len(stats.TasksByStatus))
	for status, count := range stats.TasksByStatus {
		byStatus[string(status)] = count
	}
	byPriority := make(map[string]int, len(stats.TasksByPriority))
	for priority, count := range stats.TasksByPriority {
		byPriority[string(priority)] = count
	}

	return ProjectStatsResponse{
		ProjectID:       projectID,
		TotalTasks:      stats.TotalTasks,
		TasksByStatus:   byStatus,
		TasksByPriority: byPriority,
		UnassignedCount: stats.UnassignedCount,
	}
}

// ToTaskResponse converts domain.TaskDetails to TaskResponse.
func ToTaskResponse(details *domain.TaskDetails) TaskResponse {
	task := details.Task

	var assignee *UserRef
	if task.AssigneeID != nil {
		ref := UserRef{ID: *task.AssigneeID, Name: domain.UnknownName}
		if details.AssigneeName != nil {
			ref.Name = *details.AssigneeName
		}
		if details.AssigneeEmail != nil {
			ref.Email = *details.AssigneeEmail
		}
		assignee = &ref
	}

	transitions := domain.ValidTransitions(task.Status)
	next := make([]string, 0, len(transitions))
	for _, s := range transitions {
		next = append(next, string(s))
	}

	return TaskResponse{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		Status:      string(task.Status),
		Priority:    string(task.Priority),
		Project:     ProjectRef{ID: task.ProjectID, Name: details.ProjectName},
		Assignee:    assignee,
		CreatedBy: UserRef{
			ID:    task.CreatedBy,
			Name:  details.CreatorName,
			Email: details.CreatorEmail,
		},
		ValidTransitions: next,
		CreatedAt:        task.CreatedAt,
		UpdatedAt:        task.UpdatedAt,
	}
}

// ToActivityLogResponse converts domain.ActivityLogView to ActivityLogResponse.
func ToActivityLogResponse(view *domain.ActivityLogView) ActivityLogResponse {
	entry := view.Entry
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	return ActivityLogResponse{
		ID:     entry.ID,
		TaskID: entry.TaskID,
		Action: string(entry.Action),
		PerformedBy: UserRef{
			ID:    entry.PerformedBy,
			Name:  view.PerformerName,
			Email: view.PerformerEmail,
		},
		PreviousValue: entry.PreviousValue,
		NewValue:      entry.NewValue,
		Metadata:      metadata,
		CreatedAt:     entry.CreatedAt,
	}
}
