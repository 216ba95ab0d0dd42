package domain

import "errors"

// Domain-specific errors for business logic validation.
var (
	// Task errors
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStatusUnchanged   = errors.New("task is already in this status")
	ErrConcurrentUpdate  = errors.New("task was modified concurrently")

	// Project errors
	ErrProjectNotFound = errors.New("project not found")
	ErrAlreadyMember   = errors.New("user is already a member of this project")

	// User errors
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("user with this email already exists")
	ErrRoleUnchanged      = errors.New("user already has this role")
	ErrLastOwner          = errors.New("at least one OWNER must exist")
	ErrSelfDemotion       = errors.New("you cannot demote yourself")
	ErrInvalidCredentials = errors.New("invalid email or password")

	// Authentication and permission errors
	ErrUnauthenticated  = errors.New("authentication required")
	ErrInvalidToken     = errors.New("invalid or expired token")
	ErrPermissionDenied = errors.New("permission denied")

	// Validation errors
	ErrValidation      = errors.New("validation failed")
	ErrInvalidStatus   = errors.New("invalid task status")
	ErrInvalidPriority = errors.New("invalid task priority")
)
