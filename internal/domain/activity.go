package domain

import "time"

// ActivityAction identifies what kind of change an activity entry records.
type ActivityAction string

const (
	ActionTaskCreated       ActivityAction = "TASK_CREATED"
	ActionTaskStatusChanged ActivityAction = "TASK_STATUS_CHANGED"
	ActionTaskAssigned      ActivityAction = "TASK_ASSIGNED"
	ActionTaskReassigned    ActivityAction = "TASK_REASSIGNED"
	ActionTaskUpdated       ActivityAction = "TASK_UPDATED"
)

const (
	// Unassigned is logged in place of a missing assignee.
	Unassigned = "Unassigned"

	// UnknownName is logged when a user name could not be resolved.
	UnknownName = "Unknown"
)

// Metadata keys captured on activity entries.
const (
	MetaTitle                = "title"
	MetaPreviousAssigneeName = "previousAssigneeName"
	MetaNewAssigneeName      = "newAssigneeName"
	MetaFields               = "fields"
)

// ActivityLogEntry is an immutable audit record of one change to a task.
// Names in Metadata are copies taken when the entry was written.
type ActivityLogEntry struct {
	ID            string
	TaskID        string
	Action        ActivityAction
	PerformedBy   string
	PreviousValue *string
	NewValue      *string
	Metadata      map[string]string
	CreatedAt     time.Time
}

// ActivityLogView is an activity entry with the performer expanded.
type ActivityLogView struct {
	Entry          *ActivityLogEntry
	PerformerName  string
	PerformerEmail string
}
