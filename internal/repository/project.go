package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/taskboard/internal/domain"
)

// memberIDsExpr aggregates member ids of project p into an array column.
const memberIDsExpr = "COALESCE((SELECT array_agg(m.user_id::text ORDER BY m.added_at) " +
	"FROM project_members m WHERE m.project_id = p.id), '{}')"

var projectColumns = []string{
	"p.id", "p.name", "p.description", "p.owner_id", memberIDsExpr, "p.created_at", "p.updated_at",
}

// ProjectRepository handles database operations for projects and memberships.
type ProjectRepository struct {
	pool *pgxpool.Pool
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{pool: pool}
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var project domain.Project
	err := row.Scan(
		&project.ID,
		&project.Name,
		&project.Description,
		&project.OwnerID,
		&project.MemberIDs,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return &project, nil
}

// Create inserts a new project within a transaction.
func (r *ProjectRepository) Create(ctx context.Context, tx pgx.Tx, project *domain.Project) (*domain.Project, error) {
	query, args, err := psql.
		Insert("projects").
		Columns("name", "description", "owner_id").
		Values(project.Name, project.Description, project.OwnerID).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Create query for project: %w", err)
	}

	err = tx.QueryRow(ctx, query, args...).Scan(&project.ID, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	if project.MemberIDs == nil {
		project.MemberIDs = []string{}
	}

	return project, nil
}

// GetByID retrieves a project with its member ids.
func (r *ProjectRepository) GetByID(ctx context.Context, projectID string) (*domain.Project, error) {
	query, args, err := psql.
		Select(projectColumns...).
		From("projects p").
		Where(sq.Eq{"p.id": projectID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for project: %w", err)
	}

	return scanProject(r.pool.QueryRow(ctx, query, args...))
}

// ListForUser returns projects owned by or shared with the user, newest first.
func (r *ProjectRepository) ListForUser(
	ctx context.Context,
	userID string,
	limit, offset int,
) ([]*domain.Project, int, error) {
	accessible := sq.Or{
		sq.Eq{"p.owner_id": userID},
		sq.Expr("EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = ?)", userID),
	}

	query, args, err := psql.
		Select(projectColumns...).
		From("projects p").
		Where(accessible).
		OrderBy("p.created_at DESC", "p.id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build ListForUser query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	projects := make([]*domain.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, 0, err
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}

	countQuery, countArgs, err := psql.
		Select("COUNT(*)").
		From("projects p").
		Where(accessible).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	return projects, total, nil
}

// AddMember adds a user to a project. Returns ErrAlreadyMember on a duplicate.
func (r *ProjectRepository) AddMember(ctx context.Context, tx pgx.Tx, projectID, userID string) error {
	query, args, err := psql.
		Insert("project_members").
		Columns("project_id", "user_id").
		Values(projectID, userID).
		ToSql()
	if err != nil {
		return fmt.Errorf("build AddMember query: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyMember
		}
		return fmt.Errorf("add project member: %w", err)
	}

	return r.touch(ctx, tx, projectID)
}

// RemoveMember removes a user from a project. Returns ErrUserNotFound when
// the user is not a member.
func (r *ProjectRepository) RemoveMember(ctx context.Context, tx pgx.Tx, projectID, userID string) error {
	query, args, err := psql.
		Delete("project_members").
		Where(sq.Eq{"project_id": projectID, "user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build RemoveMember query: %w", err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("remove project member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: not a member of project %s", domain.ErrUserNotFound, projectID)
	}

	return r.touch(ctx, tx, projectID)
}

func (r *ProjectRepository) touch(ctx context.Context, tx pgx.Tx, projectID string) error {
	query, args, err := psql.
		Update("projects").
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": projectID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch query: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	return nil
}
