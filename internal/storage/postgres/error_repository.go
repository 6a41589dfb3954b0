package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

const defaultErrorListLimit = 50

type errorRepository struct {
	db *sql.DB
}

// NewErrorRepository создаёт PostgreSQL-реализацию ErrorStore.
func NewErrorRepository(store *Store) domain.ErrorStore {
	return &errorRepository{db: store.DB()}
}

const errorColumns = `error_id, restaurant_id, platform, created_at, error_kind, error_message,
	status_code, menu_snapshot, retry_count, resolved, resolved_at`

func (r *errorRepository) Get(ctx context.Context, errorID string) (domain.SyncError, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+errorColumns+`
		FROM sync_errors
		WHERE error_id = $1
	`, errorID)

	syncErr, err := scanSyncError(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SyncError{}, domain.ErrSyncErrorNotFound
		}
		return domain.SyncError{}, fmt.Errorf("select sync error: %w", err)
	}
	return syncErr, nil
}

// Put вставляет запись или обновляет изменяемые поля: retry_count и признак разбора.
func (r *errorRepository) Put(ctx context.Context, syncErr domain.SyncError) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var snapshot any
	if len(syncErr.MenuSnapshot) > 0 {
		snapshot = string(syncErr.MenuSnapshot)
	}
	var statusCode sql.NullInt32
	if syncErr.Details.StatusCode != 0 {
		statusCode = sql.NullInt32{Int32: int32(syncErr.Details.StatusCode), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_errors (`+errorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (error_id) DO UPDATE SET
			retry_count = EXCLUDED.retry_count,
			resolved = EXCLUDED.resolved,
			resolved_at = EXCLUDED.resolved_at
	`,
		syncErr.ErrorID, syncErr.RestaurantID, string(syncErr.Platform), syncErr.CreatedAt,
		string(syncErr.Details.Kind), syncErr.Details.Message, statusCode, snapshot,
		syncErr.RetryCount, syncErr.Resolved, syncErr.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert sync error: %w", err)
	}
	return nil
}

// List возвращает записи под фильтр от новых к старым.
func (r *errorRepository) List(ctx context.Context, filter domain.ErrorFilter) ([]domain.SyncError, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	query, args := buildErrorListQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select sync errors: %w", err)
	}
	defer rows.Close()

	result := make([]domain.SyncError, 0)
	for rows.Next() {
		syncErr, err := scanSyncError(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync error: %w", err)
		}
		result = append(result, syncErr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync errors: %w", err)
	}
	return result, nil
}

func (r *errorRepository) Stats(ctx context.Context) (domain.ErrorQueueStats, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var (
		stats  domain.ErrorQueueStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM sync_errors
		WHERE resolved = FALSE
	`).Scan(&stats.Unresolved, &oldest); err != nil {
		return domain.ErrorQueueStats{}, fmt.Errorf("select error queue stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestUnresolvedAt = oldest.Time.UTC()
	}
	return stats, nil
}

func buildErrorListQuery(filter domain.ErrorFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if filter.RestaurantID != "" {
		args = append(args, filter.RestaurantID)
		conditions = append(conditions, fmt.Sprintf("restaurant_id = $%d", len(args)))
	}
	if filter.Platform != "" {
		args = append(args, string(filter.Platform))
		conditions = append(conditions, fmt.Sprintf("platform = $%d", len(args)))
	}
	if filter.Resolved != nil {
		args = append(args, *filter.Resolved)
		conditions = append(conditions, fmt.Sprintf("resolved = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultErrorListLimit
	}

	var b strings.Builder
	b.WriteString("SELECT " + errorColumns + " FROM sync_errors")
	if len(conditions) > 0 {
		b.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, error_id DESC LIMIT $%d", len(args))
	return b.String(), args
}

func scanSyncError(row rowScanner) (domain.SyncError, error) {
	var (
		syncErr    domain.SyncError
		platform   string
		kind       string
		statusCode sql.NullInt32
		snapshot   []byte
		resolvedAt sql.NullTime
	)
	if err := row.Scan(
		&syncErr.ErrorID, &syncErr.RestaurantID, &platform, &syncErr.CreatedAt, &kind,
		&syncErr.Details.Message, &statusCode, &snapshot, &syncErr.RetryCount,
		&syncErr.Resolved, &resolvedAt,
	); err != nil {
		return domain.SyncError{}, err
	}

	syncErr.Platform = domain.Platform(platform)
	syncErr.Details.Kind = domain.FailureKind(kind)
	syncErr.CreatedAt = syncErr.CreatedAt.UTC()
	if statusCode.Valid {
		syncErr.Details.StatusCode = int(statusCode.Int32)
	}
	if len(snapshot) > 0 {
		syncErr.MenuSnapshot = snapshot
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		syncErr.ResolvedAt = &t
	}
	return syncErr, nil
}

var _ domain.ErrorStore = (*errorRepository)(nil)
