package service

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/taskboard/internal/domain"
	"github.com/mtlprog/taskboard/internal/repository"
)

// Transactor runs a function inside a database transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// TaskStore is the persistence contract for tasks.
type TaskStore interface {
	GetByID(ctx context.Context, taskID string) (*domain.Task, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, taskID string) (*domain.Task, error)
	GetDetails(ctx context.Context, taskID string) (*domain.TaskDetails, error)
	List(ctx context.Context, filters repository.TaskListFilters) ([]*domain.TaskDetails, int, error)
	Create(ctx context.Context, tx pgx.Tx, task *domain.Task) (*domain.Task, error)
	Update(ctx context.Context, tx pgx.Tx, task *domain.Task, expectedStatus domain.TaskStatus) error
	Delete(ctx context.Context, tx pgx.Tx, taskID string) error
	GetProjectStats(ctx context.Context, projectID string) (*repository.ProjectStatsResult, error)
}

// ActivityStore is the append-only persistence contract for activity entries.
type ActivityStore interface {
	Create(ctx context.Context, tx pgx.Tx, entry *domain.ActivityLogEntry) error
	ListByTask(ctx context.Context, taskID string, limit, offset int) ([]*domain.ActivityLogView, int, error)
	DeleteByTask(ctx context.Context, tx pgx.Tx, taskID string) (int64, error)
}

// UserLookup resolves users by id.
type UserLookup interface {
	GetByID(ctx context.Context, userID string) (*domain.User, error)
}

// UserStore is the persistence contract for users.
type UserStore interface {
	UserLookup
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	List(ctx context.Context) ([]*domain.User, error)
	GetRefs(ctx context.Context, userIDs []string) ([]domain.UserRef, error)
	UpdateRole(ctx context.Context, tx pgx.Tx, userID string, role domain.UserRole) error
	CountByRoleForUpdate(ctx context.Context, tx pgx.Tx, role domain.UserRole) (int, error)
}

// ProjectStore is the persistence contract for projects and memberships.
type ProjectStore interface {
	Create(ctx context.Context, tx pgx.Tx, project *domain.Project) (*domain.Project, error)
	GetByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Project, int, error)
	AddMember(ctx context.Context, tx pgx.Tx, projectID, userID string) error
	RemoveMember(ctx context.Context, tx pgx.Tx, projectID, userID string) error
}

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(user *domain.User) (string, error)
}

var (
	_ TaskStore     = (*repository.TaskRepository)(nil)
	_ ActivityStore = (*repository.ActivityLogRepository)(nil)
	_ UserStore     = (*repository.UserRepository)(nil)
	_ ProjectStore  = (*repository.ProjectRepository)(nil)
)
