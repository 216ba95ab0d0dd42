package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/taskboard/internal/auth"
	"github.com/mtlprog/taskboard/internal/domain"
)

const minPasswordLength = 6

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User  *domain.User
	Token string
}

// RegisterParams holds the input of Register.
type RegisterParams struct {
	Email    string
	Password string
	Name     string
}

// UserService handles accounts, authentication and account roles.
type UserService struct {
	tx     Transactor
	users  UserStore
	tokens TokenIssuer
}

// NewUserService creates a new UserService.
func NewUserService(tx Transactor, users UserStore, tokens TokenIssuer) *UserService {
	return &UserService{
		tx:     tx,
		users:  users,
		tokens: tokens,
	}
}

// Register creates a MEMBER account and issues a token for it.
func (s *UserService) Register(ctx context.Context, params RegisterParams) (*AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email address", domain.ErrValidation)
	}
	if len(params.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", domain.ErrValidation, minPasswordLength)
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}

	hash, err := auth.HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, &domain.User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(params.Name),
		Role:         domain.UserRoleMember,
	})
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}

	slog.Info("user registered", "user_id", user.ID)

	return &AuthResult{User: user, Token: token}, nil
}

// Login verifies credentials and issues a token. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, domain.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}

	return &AuthResult{User: user, Token: token}, nil
}

// Me returns the account of the actor.
func (s *UserService) Me(ctx context.Context, actor domain.Actor) (*domain.User, error) {
	return s.users.GetByID(ctx, actor.UserID)
}

// ListUsers returns every account. Requires the OWNER role.
func (s *UserService) ListUsers(ctx context.Context, actor domain.Actor) ([]*domain.User, error) {
	if err := requireOwnerRole(ctx, s.users, actor); err != nil {
		return nil, err
	}
	return s.users.List(ctx)
}

// Promote grants the OWNER role. Requires the OWNER role.
func (s *UserService) Promote(ctx context.Context, actor domain.Actor, userID string) (*domain.User, error) {
	if err := requireOwnerRole(ctx, s.users, actor); err != nil {
		return nil, err
	}
	return s.setRole(ctx, actor.UserID, userID, domain.UserRoleOwner)
}

// PromoteByEmail grants the OWNER role without an acting user. It is used to
// bootstrap the first OWNER from the command line.
func (s *UserService) PromoteByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.setRole(ctx, "", user.ID, domain.UserRoleOwner)
}

// Demote sets the MEMBER role. The actor cannot demote themselves and the
// last OWNER cannot be demoted.
func (s *UserService) Demote(ctx context.Context, actor domain.Actor, userID string) (*domain.User, error) {
	if err := requireOwnerRole(ctx, s.users, actor); err != nil {
		return nil, err
	}
	if actor.UserID == userID {
		return nil, domain.ErrSelfDemotion
	}
	return s.setRole(ctx, actor.UserID, userID, domain.UserRoleMember)
}

func (s *UserService) setRole(ctx context.Context, actorID, userID string, role domain.UserRole) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role == role {
		return nil, fmt.Errorf("%w: user is already %s", domain.ErrRoleUnchanged, role)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if role == domain.UserRoleMember {
			owners, err := s.users.CountByRoleForUpdate(ctx, tx, domain.UserRoleOwner)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return domain.ErrLastOwner
			}
		}
		return s.users.UpdateRole(ctx, tx, userID, role)
	})
	if err != nil {
		return nil, err
	}

	user.Role = role
	slog.Info("user role changed",
		"user_id", userID,
		"role", role,
		"changed_by", actorID,
	)

	return user, nil
}
