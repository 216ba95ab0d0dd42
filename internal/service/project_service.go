package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/taskboard/internal/domain"
	"github.com/mtlprog/taskboard/internal/repository"
)

// CreateProjectParams holds the input of CreateProject.
type CreateProjectParams struct {
	Name        string
	Description string
}

// ProjectService manages projects and their membership.
type ProjectService struct {
	tx        Transactor
	projects  ProjectStore
	users     UserStore
	tasks     TaskStore
	validator *Validator
}

// NewProjectService creates a new ProjectService.
func NewProjectService(tx Transactor, projects ProjectStore, users UserStore, tasks TaskStore) *ProjectService {
	return &ProjectService{
		tx:        tx,
		projects:  projects,
		users:     users,
		tasks:     tasks,
		validator: NewValidator(projects, users),
	}
}

// CreateProject creates a project owned by the actor. Requires the OWNER role.
func (s *ProjectService) CreateProject(
	ctx context.Context,
	actor domain.Actor,
	params CreateProjectParams,
) (*domain.ProjectDetails, error) {
	if err := s.validator.RequireOwnerRole(ctx, actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, fmt.Errorf("%w: project name is required", domain.ErrValidation)
	}

	project := &domain.Project{
		Name:        params.Name,
		Description: params.Description,
		OwnerID:     actor.UserID,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := s.projects.Create(ctx, tx, project)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("project created",
		"project_id", project.ID,
		"owner_id", actor.UserID,
	)

	return s.expand(ctx, project)
}

// ListProjects returns a page of projects the actor owns or is a member of.
func (s *ProjectService) ListProjects(
	ctx context.Context,
	actor domain.Actor,
	page domain.PageRequest,
) ([]*domain.ProjectDetails, int, error) {
	projects, total, err := s.projects.ListForUser(ctx, actor.UserID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, err
	}

	result := make([]*domain.ProjectDetails, 0, len(projects))
	for _, project := range projects {
		details, err := s.expand(ctx, project)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, details)
	}

	return result, total, nil
}

// GetProject returns a project the actor has access to.
func (s *ProjectService) GetProject(ctx context.Context, actor domain.Actor, projectID string) (*domain.ProjectDetails, error) {
	project, err := s.validator.CanAccessProject(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	return s.expand(ctx, project)
}

// InviteMember adds the user with the given email to the project.
// Only the project owner may invite.
func (s *ProjectService) InviteMember(
	ctx context.Context,
	actor domain.Actor,
	projectID string,
	email string,
) (*domain.ProjectDetails, error) {
	project, err := s.validator.CanManageProject(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if project.IsOwner(user.ID) {
		return nil, fmt.Errorf("%w: user is the owner of this project", domain.ErrAlreadyMember)
	}
	if project.IsMember(user.ID) {
		return nil, domain.ErrAlreadyMember
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.projects.AddMember(ctx, tx, projectID, user.ID)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("project member invited",
		"project_id", projectID,
		"user_id", user.ID,
		"invited_by", actor.UserID,
	)

	return s.GetProject(ctx, actor, projectID)
}

// RemoveMember removes a member from the project. Only the project owner may remove.
func (s *ProjectService) RemoveMember(
	ctx context.Context,
	actor domain.Actor,
	projectID string,
	memberID string,
) (*domain.ProjectDetails, error) {
	if _, err := s.validator.CanManageProject(ctx, actor, projectID); err != nil {
		return nil, err
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.projects.RemoveMember(ctx, tx, projectID, memberID)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("project member removed",
		"project_id", projectID,
		"user_id", memberID,
		"removed_by", actor.UserID,
	)

	return s.GetProject(ctx, actor, projectID)
}

// ProjectStats returns task counters of a project the actor has access to.
func (s *ProjectService) ProjectStats(
	ctx context.Context,
	actor domain.Actor,
	projectID string,
) (*repository.ProjectStatsResult, error) {
	if _, err := s.validator.CanAccessProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	return s.tasks.GetProjectStats(ctx, projectID)
}

// expand resolves the owner and members of a project.
func (s *ProjectService) expand(ctx context.Context, project *domain.Project) (*domain.ProjectDetails, error) {
	ids := append([]string{project.OwnerID}, project.MemberIDs...)
	refs, err := s.users.GetRefs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve project users: %w", err)
	}

	details := &domain.ProjectDetails{
		Project: project,
		Owner:   domain.UserRef{ID: project.OwnerID, Name: domain.UnknownName},
		Members: make([]domain.UserRef, 0, len(project.MemberIDs)),
	}
	for _, ref := range refs {
		if ref.ID == project.OwnerID {
			details.Owner = ref
			continue
		}
		details.Members = append(details.Members, ref)
	}

	return details, nil
}
