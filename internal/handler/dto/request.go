package dto

import (
	"bytes"
	"encoding/json"
)

// RegisterRequest represents the request body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Name     string `json:"name" validate:"required,max=100"`
}

// LoginRequest represents the request body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// CreateProjectRequest represents the request body for POST /projects.
type CreateProjectRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

// InviteMemberRequest represents the request body for POST /projects/:id/invite.
type InviteMemberRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// CreateTaskRequest represents the request body for POST /tasks.
type CreateTaskRequest struct {
	ProjectID   string  `json:"project_id" validate:"required,uuid"`
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description" validate:"max=5000"`
	AssigneeID  *string `json:"assignee_id,omitempty" validate:"omitempty,uuid"`
	Priority    string  `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH"`
}

// UpdateTaskRequest represents the request body for PATCH /tasks/:id.
// Omitted fields are left unchanged.
type UpdateTaskRequest struct {
	Title       *string        `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string        `json:"description,omitempty" validate:"omitempty,max=5000"`
	Status      *string        `json:"status,omitempty" validate:"omitempty,oneof=BACKLOG IN_PROGRESS REVIEW DONE"`
	Priority    *string        `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	AssigneeID  NullableString `json:"assignee_id"`
}

// UpdateStatusRequest represents the request body for PATCH /tasks/:id/status.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// NullableString tells an omitted field apart from an explicit null.
type NullableString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON implements json.Unmarshaler. It only runs when the key is present.
func (n *NullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(data, []byte("null")) {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}
