package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/taskboard/internal/domain"
)

var userColumns = []string{"id", "email", "password_hash", "name", "role", "created_at", "updated_at"}

// UserRepository handles database operations for users.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &user, nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	query, args, err := psql.
		Select(userColumns...).
		From("users").
		Where(sq.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for user: %w", err)
	}

	return scanUser(r.pool.QueryRow(ctx, query, args...))
}

// GetByEmail finds a user by email. Emails are stored lowercase.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query, args, err := psql.
		Select(userColumns...).
		From("users").
		Where(sq.Eq{"email": strings.ToLower(strings.TrimSpace(email))}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByEmail query for user: %w", err)
	}

	return scanUser(r.pool.QueryRow(ctx, query, args...))
}

// Create inserts a new user. Returns ErrEmailTaken on a duplicate email.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	if user.Role == "" {
		user.Role = domain.UserRoleMember
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	query, args, err := psql.
		Insert("users").
		Columns("email", "password_hash", "name", "role").
		Values(user.Email, user.PasswordHash, user.Name, user.Role).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Create query for user: %w", err)
	}

	err = r.pool.QueryRow(ctx, query, args...).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

// List returns all users, newest first.
func (r *UserRepository) List(ctx context.Context) ([]*domain.User, error) {
	query, args, err := psql.
		Select(userColumns...).
		From("users").
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build List query for users: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return users, nil
}

// GetRefs returns id, name and email for the given users in the order of ids.
// Unknown ids are skipped.
func (r *UserRepository) GetRefs(ctx context.Context, userIDs []string) ([]domain.UserRef, error) {
	if len(userIDs) == 0 {
		return []domain.UserRef{}, nil
	}

	query, args, err := psql.
		Select("id", "name", "email").
		From("users").
		Where(sq.Eq{"id": userIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetRefs query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user refs: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.UserRef, len(userIDs))
	for rows.Next() {
		var ref domain.UserRef
		if err := rows.Scan(&ref.ID, &ref.Name, &ref.Email); err != nil {
			return nil, fmt.Errorf("scan user ref: %w", err)
		}
		byID[ref.ID] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	refs := make([]domain.UserRef, 0, len(byID))
	for _, id := range userIDs {
		if ref, ok := byID[id]; ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// UpdateRole changes the role of a user within a transaction.
func (r *UserRepository) UpdateRole(ctx context.Context, tx pgx.Tx, userID string, role domain.UserRole) error {
	query, args, err := psql.
		Update("users").
		Set("role", role).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build UpdateRole query for user %s: %w", userID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// CountByRoleForUpdate counts users with the given role, locking those rows.
func (r *UserRepository) CountByRoleForUpdate(ctx context.Context, tx pgx.Tx, role domain.UserRole) (int, error) {
	query, args, err := psql.
		Select("id").
		From("users").
		Where(sq.Eq{"role": role}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build CountByRole query: %w", err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("query users by role: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate rows: %w", err)
	}
	return count, nil
}
