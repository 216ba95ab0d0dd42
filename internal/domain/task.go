package domain

import "time"

// TaskStatus represents the status of a task in the workflow.
type TaskStatus string

const (
	TaskStatusBacklog    TaskStatus = "BACKLOG"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusReview     TaskStatus = "REVIEW"
	TaskStatusDone       TaskStatus = "DONE"
)

// AllTaskStatuses lists the statuses in workflow order.
var AllTaskStatuses = []TaskStatus{
	TaskStatusBacklog,
	TaskStatusInProgress,
	TaskStatusReview,
	TaskStatusDone,
}

// IsTerminal returns true if the status has no outgoing transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone
}

// IsValid checks if the status is one of the allowed values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusBacklog, TaskStatusInProgress, TaskStatusReview, TaskStatusDone:
		return true
	default:
		return false
	}
}

// TaskPriority represents the priority level of a task.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "LOW"
	TaskPriorityMedium TaskPriority = "MEDIUM"
	TaskPriorityHigh   TaskPriority = "HIGH"
)

// AllTaskPriorities lists the priorities from lowest to highest.
var AllTaskPriorities = []TaskPriority{
	TaskPriorityLow,
	TaskPriorityMedium,
	TaskPriorityHigh,
}

// IsValid checks if the priority is one of the allowed values.
func (p TaskPriority) IsValid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh:
		return true
	default:
		return false
	}
}

// Task represents a unit of work inside a project.
type Task struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Status      TaskStatus
	Priority    TaskPriority
	AssigneeID  *string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsAssigned reports whether the task has an assignee.
func (t *Task) IsAssigned() bool {
	return t.AssigneeID != nil
}

// IsAssignedTo checks if the task is assigned to the given user.
func (t *Task) IsAssignedTo(userID string) bool {
	return t.AssigneeID != nil && *t.AssigneeID == userID
}

// TaskDetails is a task with its references expanded to display values.
type TaskDetails struct {
	Task          *Task
	ProjectName   string
	AssigneeName  *string
	AssigneeEmail *string
	CreatorName   string
	CreatorEmail  string
}
