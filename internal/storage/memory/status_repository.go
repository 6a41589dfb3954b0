package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

// statusRepositoryInMemory — in-memory реализация StatusStore.
type statusRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[domain.PairKey]domain.SyncStatus
}

// NewStatusRepository возвращает in-memory хранилище статусов для локальной разработки и тестов.
func NewStatusRepository() domain.StatusStore {
	return &statusRepositoryInMemory{
		items: make(map[domain.PairKey]domain.SyncStatus),
	}
}

// Get возвращает статус пары или ErrStatusNotFound.
func (r *statusRepositoryInMemory) Get(ctx context.Context, restaurantID string, platform domain.Platform) (domain.SyncStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.SyncStatus{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.items[domain.PairKey{RestaurantID: restaurantID, Platform: platform}]
	if !ok {
		return domain.SyncStatus{}, domain.ErrStatusNotFound
	}
	return cloneStatus(status), nil
}

// Put полностью заменяет статус пары.
func (r *statusRepositoryInMemory) Put(ctx context.Context, status domain.SyncStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[status.Key()] = cloneStatus(status)
	return nil
}

// ListByRestaurant возвращает статусы всех платформ ресторана, отсортированные по платформе.
func (r *statusRepositoryInMemory) ListByRestaurant(ctx context.Context, restaurantID string) ([]domain.SyncStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.SyncStatus, 0)
	for key, status := range r.items {
		if key.RestaurantID != restaurantID {
			continue
		}
		result = append(result, cloneStatus(status))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Platform < result[j].Platform })
	return result, nil
}

func cloneStatus(status domain.SyncStatus) domain.SyncStatus {
	if status.LastSyncTime != nil {
		t := *status.LastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

var _ domain.StatusStore = (*statusRepositoryInMemory)(nil)
