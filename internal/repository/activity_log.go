package repository

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/taskboard/internal/domain"
)

// ActivityLogRepository handles database operations for task activity entries.
// Entries are append-only: there is no update method.
type ActivityLogRepository struct {
	pool *pgxpool.Pool
	psql sq.StatementBuilderType
}

// NewActivityLogRepository creates a new ActivityLogRepository.
func NewActivityLogRepository(pool *pgxpool.Pool) *ActivityLogRepository {
	return &ActivityLogRepository{
		pool: pool,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Create appends an activity entry within the caller's transaction.
func (r *ActivityLogRepository) Create(
	ctx context.Context,
	tx pgx.Tx,
	entry *domain.ActivityLogEntry,
) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	query, args, err := r.psql.
		Insert("activity_logs").
		Columns("task_id", "action", "performed_by", "previous_value", "new_value", "metadata").
		Values(entry.TaskID, entry.Action, entry.PerformedBy, entry.PreviousValue, entry.NewValue, metadataJSON).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	err = tx.QueryRow(ctx, query, args...).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("create activity entry: %w", err)
	}

	return nil
}

// ListByTask retrieves a page of entries for a task, newest first, with performer names.
func (r *ActivityLogRepository) ListByTask(
	ctx context.Context,
	taskID string,
	limit, offset int,
) ([]*domain.ActivityLogView, int, error) {
	query, args, err := r.psql.
		Select(
			"l.id", "l.task_id", "l.action", "l.performed_by", "l.previous_value",
			"l.new_value", "l.metadata", "l.created_at", "u.name", "u.email",
		).
		From("activity_logs l").
		Join("users u ON u.id = l.performed_by").
		Where(sq.Eq{"l.task_id": taskID}).
		OrderBy("l.created_at DESC", "l.id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query activity entries: %w", err)
	}
	defer rows.Close()

	views := make([]*domain.ActivityLogView, 0)
	for rows.Next() {
		var (
			entry        domain.ActivityLogEntry
			metadataJSON []byte
		)
		view := &domain.ActivityLogView{Entry: &entry}
		err := rows.Scan(
			&entry.ID,
			&entry.TaskID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.PreviousValue,
			&entry.NewValue,
			&metadataJSON,
			&entry.CreatedAt,
			&view.PerformerName,
			&view.PerformerEmail,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan activity entry: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, 0, fmt.Errorf("parse metadata of entry %s: %w", entry.ID, err)
		}
		views = append(views, view)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}

	var total int
	countQuery, countArgs, err := r.psql.
		Select("COUNT(*)").
		From("activity_logs").
		Where(sq.Eq{"task_id": taskID}).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity entries: %w", err)
	}

	return views, total, nil
}

// DeleteByTask removes every entry of a task and returns how many were removed.
func (r *ActivityLogRepository) DeleteByTask(ctx context.Context, tx pgx.Tx, taskID string) (int64, error) {
	query, args, err := r.psql.
		Delete("activity_logs").
		Where(sq.Eq{"task_id": taskID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete activity entries: %w", err)
	}

	return tag.RowsAffected(), nil
}
