package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

const defaultErrorListLimit = 50

// errorRepositoryInMemory — in-memory очередь ошибок синхронизации.
type errorRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.SyncError
}

// NewErrorRepository создаёт in-memory реализацию ErrorStore.
func NewErrorRepository() domain.ErrorStore {
	return &errorRepositoryInMemory{items: make(map[string]domain.SyncError)}
}

func (r *errorRepositoryInMemory) Get(ctx context.Context, errorID string) (domain.SyncError, error) {
	if err := ctx.Err(); err != nil {
		return domain.SyncError{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	syncErr, ok := r.items[errorID]
	if !ok {
		return domain.SyncError{}, domain.ErrSyncErrorNotFound
	}
	return cloneSyncError(syncErr), nil
}

func (r *errorRepositoryInMemory) Put(ctx context.Context, syncErr domain.SyncError) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[syncErr.ErrorID] = cloneSyncError(syncErr)
	return nil
}

// List возвращает записи под фильтр, от новых к старым. Limit<=0 означает 50.
func (r *errorRepositoryInMemory) List(ctx context.Context, filter domain.ErrorFilter) ([]domain.SyncError, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultErrorListLimit
	}

	r.mu.RLock()
	result := make([]domain.SyncError, 0)
	for _, syncErr := range r.items {
		if !filter.Matches(syncErr) {
			continue
		}
		result = append(result, cloneSyncError(syncErr))
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ErrorID > result[j].ErrorID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *errorRepositoryInMemory) Stats(ctx context.Context) (domain.ErrorQueueStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.ErrorQueueStats{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.ErrorQueueStats
	for _, syncErr := range r.items {
		if syncErr.Resolved {
			continue
		}
		stats.Unresolved++
		if stats.OldestUnresolvedAt.IsZero() || syncErr.CreatedAt.Before(stats.OldestUnresolvedAt) {
			stats.OldestUnresolvedAt = syncErr.CreatedAt
		}
	}
	return stats, nil
}

func cloneSyncError(syncErr domain.SyncError) domain.SyncError {
	if syncErr.MenuSnapshot != nil {
		snapshot := make([]byte, len(syncErr.MenuSnapshot))
		copy(snapshot, syncErr.MenuSnapshot)
		syncErr.MenuSnapshot = snapshot
	}
	if syncErr.ResolvedAt != nil {
		t := *syncErr.ResolvedAt
		syncErr.ResolvedAt = &t
	}
	return syncErr
}

var _ domain.ErrorStore = (*errorRepositoryInMemory)(nil)
