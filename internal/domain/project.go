package domain

import (
	"slices"
	"time"
)

// Project groups tasks and the users allowed to work on them.
type Project struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	MemberIDs   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsOwner checks if the project is owned by the given user.
func (p *Project) IsOwner(userID string) bool {
	return p.OwnerID == userID
}

// IsMember checks if the user was invited to the project.
func (p *Project) IsMember(userID string) bool {
	return slices.Contains(p.MemberIDs, userID)
}

// HasAccess returns true for the owner and for members.
func (p *Project) HasAccess(userID string) bool {
	return p.IsOwner(userID) || p.IsMember(userID)
}

// UserRef is a short reference to a user used in expanded responses.
type UserRef struct {
	ID    string
	Name  string
	Email string
}

// ProjectDetails is a project with owner and members expanded.
type ProjectDetails struct {
	Project *Project
	Owner   UserRef
	Members []UserRef
}
