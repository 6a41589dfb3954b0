package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

type statusRepository struct {
	db *sql.DB
}

// NewStatusRepository создаёт PostgreSQL-реализацию StatusStore.
func NewStatusRepository(store *Store) domain.StatusStore {
	return &statusRepository{db: store.DB()}
}

const statusColumns = `restaurant_id, platform, status, last_sync_time, item_count,
	external_menu_id, retry_count, last_error, updated_at`

func (r *statusRepository) Get(ctx context.Context, restaurantID string, platform domain.Platform) (domain.SyncStatus, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+statusColumns+`
		FROM sync_status
		WHERE restaurant_id = $1 AND platform = $2
	`, restaurantID, string(platform))

	status, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SyncStatus{}, domain.ErrStatusNotFound
		}
		return domain.SyncStatus{}, fmt.Errorf("select sync status: %w", err)
	}
	return status, nil
}

// Put полностью заменяет строку статуса пары.
func (r *statusRepository) Put(ctx context.Context, status domain.SyncStatus) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_status (`+statusColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (restaurant_id, platform) DO UPDATE SET
			status = EXCLUDED.status,
			last_sync_time = EXCLUDED.last_sync_time,
			item_count = EXCLUDED.item_count,
			external_menu_id = EXCLUDED.external_menu_id,
			retry_count = EXCLUDED.retry_count,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`,
		status.RestaurantID, string(status.Platform), string(status.Status), status.LastSyncTime,
		status.ItemCount, nullString(status.ExternalMenuID), status.RetryCount,
		nullString(status.LastError), status.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert sync status: %w", err)
	}
	return nil
}

func (r *statusRepository) ListByRestaurant(ctx context.Context, restaurantID string) ([]domain.SyncStatus, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+statusColumns+`
		FROM sync_status
		WHERE restaurant_id = $1
		ORDER BY platform
	`, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("select sync statuses: %w", err)
	}
	defer rows.Close()

	result := make([]domain.SyncStatus, 0)
	for rows.Next() {
		status, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync status: %w", err)
		}
		result = append(result, status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync statuses: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (domain.SyncStatus, error) {
	var (
		status         domain.SyncStatus
		platform       string
		state          string
		lastSyncTime   sql.NullTime
		externalMenuID sql.NullString
		lastError      sql.NullString
	)
	if err := row.Scan(
		&status.RestaurantID, &platform, &state, &lastSyncTime, &status.ItemCount,
		&externalMenuID, &status.RetryCount, &lastError, &status.UpdatedAt,
	); err != nil {
		return domain.SyncStatus{}, err
	}

	status.Platform = domain.Platform(platform)
	status.Status = domain.SyncState(state)
	if lastSyncTime.Valid {
		t := lastSyncTime.Time.UTC()
		status.LastSyncTime = &t
	}
	status.ExternalMenuID = externalMenuID.String
	status.LastError = lastError.String
	status.UpdatedAt = status.UpdatedAt.UTC()
	return status, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

var _ domain.StatusStore = (*statusRepository)(nil)
