package domain

import "time"

// UserRole is the account-wide role of a user.
type UserRole string

const (
	UserRoleOwner  UserRole = "OWNER"
	UserRoleMember UserRole = "MEMBER"
)

// User represents a registered account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         UserRole
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsOwner reports whether the user holds the OWNER role.
func (u *User) IsOwner() bool {
	return u.Role == UserRoleOwner
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Email  string
	Role   UserRole
}

// IsOwner reports whether the actor holds the OWNER role.
func (a Actor) IsOwner() bool {
	return a.Role == UserRoleOwner
}
