package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

// operationRepositoryInMemory хранит активные и недавно завершённые попытки.
type operationRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.SyncOperation
}

// NewOperationRepository создаёт in-memory реализацию OperationStore.
// Завершённые операции удаляются воркером очистки через DeleteFinishedBefore.
func NewOperationRepository() domain.OperationStore {
	return &operationRepositoryInMemory{items: make(map[string]domain.SyncOperation)}
}

func (r *operationRepositoryInMemory) Save(ctx context.Context, op domain.SyncOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[op.OperationID] = cloneOperation(op)
	return nil
}

func (r *operationRepositoryInMemory) Get(ctx context.Context, operationID string) (domain.SyncOperation, error) {
	if err := ctx.Err(); err != nil {
		return domain.SyncOperation{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.items[operationID]
	if !ok {
		return domain.SyncOperation{}, domain.ErrOperationNotFound
	}
	return cloneOperation(op), nil
}

func (r *operationRepositoryInMemory) ListRunning(ctx context.Context, restaurantID string) ([]domain.SyncOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.SyncOperation, 0)
	for _, op := range r.items {
		if op.Status != domain.OperationRunning {
			continue
		}
		if restaurantID != "" && op.RestaurantID != restaurantID {
			continue
		}
		result = append(result, cloneOperation(op))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.Before(result[j].StartedAt) })
	return result, nil
}

// DeleteFinishedBefore удаляет до limit завершённых операций, закончившихся раньше before.
func (r *operationRepositoryInMemory) DeleteFinishedBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, op := range r.items {
		if limit > 0 && deleted >= limit {
			break
		}
		if op.Status != domain.OperationDone || op.FinishedAt == nil || !op.FinishedAt.Before(before) {
			continue
		}
		delete(r.items, id)
		deleted++
	}
	return deleted, nil
}

func cloneOperation(op domain.SyncOperation) domain.SyncOperation {
	if op.FinishedAt != nil {
		t := *op.FinishedAt
		op.FinishedAt = &t
	}
	return op
}

var _ domain.OperationStore = (*operationRepositoryInMemory)(nil)
