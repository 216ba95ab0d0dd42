package domain

// allowedTransitions maps each status to its single legal successor.
// DONE is terminal and has no entry.
var allowedTransitions = map[TaskStatus]TaskStatus{
	TaskStatusBacklog:    TaskStatusInProgress,
	TaskStatusInProgress: TaskStatusReview,
	TaskStatusReview:     TaskStatusDone,
}

// IsValidTransition reports whether requested is the designated successor of current.
// Same-state requests and unknown statuses are never valid.
func IsValidTransition(current, requested TaskStatus) bool {
	next, ok := allowedTransitions[current]
	return ok && next == requested
}

// ValidTransitions returns the statuses a task in current may move to.
// The result is empty for DONE and for unknown statuses.
func ValidTransitions(current TaskStatus) []TaskStatus {
	next, ok := allowedTransitions[current]
	if !ok {
		return []TaskStatus{}
	}
	return []TaskStatus{next}
}
