// Package redis хранит эфемерные записи о попытках синхронизации в Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

const (
	defaultKeyPrefix  = "menusync:"
	defaultRunningTTL = time.Hour
	defaultDoneTTL    = 24 * time.Hour
)

// Options задаёт пространство ключей и время жизни записей.
type Options struct {
	KeyPrefix string
	// RunningTTL страхует от вечных RUNNING-записей при падении процесса.
	RunningTTL time.Duration
	DoneTTL    time.Duration
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = defaultKeyPrefix
	}
	if o.RunningTTL <= 0 {
		o.RunningTTL = defaultRunningTTL
	}
	if o.DoneTTL <= 0 {
		o.DoneTTL = defaultDoneTTL
	}
	return o
}

// OperationRepository реализует domain.OperationStore поверх Redis.
//
// Каждая операция лежит JSON-строкой под ключом {prefix}op:{id}; два sorted set
// индексируют RUNNING-операции по времени старта и DONE-операции по времени завершения.
type OperationRepository struct {
	client goredis.UniversalClient
	opts   Options
}

// NewOperationRepository создаёт репозиторий поверх готового клиента.
func NewOperationRepository(client goredis.UniversalClient, opts Options) *OperationRepository {
	return &OperationRepository{client: client, opts: opts.withDefaults()}
}

func (r *OperationRepository) opKey(id string) string { return r.opts.KeyPrefix + "op:" + id }
func (r *OperationRepository) runningKey() string    { return r.opts.KeyPrefix + "ops:running" }
func (r *OperationRepository) doneKey() string       { return r.opts.KeyPrefix + "ops:done" }

func (r *OperationRepository) Save(ctx context.Context, op domain.SyncOperation) error {
	if op.OperationID == "" {
		return errors.New("operation_id is required")
	}

	raw, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal sync operation: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if op.Status == domain.OperationRunning {
			pipe.Set(ctx, r.opKey(op.OperationID), raw, r.opts.RunningTTL)
			pipe.ZAdd(ctx, r.runningKey(), goredis.Z{Score: score(op.StartedAt), Member: op.OperationID})
			pipe.ZRem(ctx, r.doneKey(), op.OperationID)
			return nil
		}

		finished := op.StartedAt
		if op.FinishedAt != nil {
			finished = *op.FinishedAt
		}
		pipe.Set(ctx, r.opKey(op.OperationID), raw, r.opts.DoneTTL)
		pipe.ZRem(ctx, r.runningKey(), op.OperationID)
		pipe.ZAdd(ctx, r.doneKey(), goredis.Z{Score: score(finished), Member: op.OperationID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save sync operation %s: %w", op.OperationID, err)
	}
	return nil
}

func (r *OperationRepository) Get(ctx context.Context, operationID string) (domain.SyncOperation, error) {
	raw, err := r.client.Get(ctx, r.opKey(operationID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.SyncOperation{}, domain.ErrOperationNotFound
		}
		return domain.SyncOperation{}, fmt.Errorf("get sync operation %s: %w", operationID, err)
	}
	return decodeOperation(raw)
}

// ListRunning читает индекс RUNNING-операций и попутно вычищает записи с истёкшим TTL.
func (r *OperationRepository) ListRunning(ctx context.Context, restaurantID string) ([]domain.SyncOperation, error) {
	ids, err := r.client.ZRange(ctx, r.runningKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list running operations: %w", err)
	}
	if len(ids) == 0 {
		return []domain.SyncOperation{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.opKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load running operations: %w", err)
	}

	result := make([]domain.SyncOperation, 0, len(ids))
	var stale []any
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		op, err := decodeOperation([]byte(raw))
		if err != nil {
			return nil, err
		}
		if op.Status != domain.OperationRunning {
			continue
		}
		if restaurantID != "" && op.RestaurantID != restaurantID {
			continue
		}
		result = append(result, op)
	}

	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, r.runningKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("drop expired running operations: %w", err)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.Before(result[j].StartedAt) })
	return result, nil
}

// DeleteFinishedBefore удаляет до limit DONE-операций, завершившихся раньше before.
func (r *OperationRepository) DeleteFinishedBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	rangeBy := &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}

	ids, err := r.client.ZRangeByScore(ctx, r.doneKey(), rangeBy).Result()
	if err != nil {
		return 0, fmt.Errorf("select finished operations: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = r.opKey(id)
		members[i] = id
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, r.doneKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete finished operations: %w", err)
	}
	return len(ids), nil
}

// Ping проверяет доступность Redis для health-чекеров.
func (r *OperationRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func decodeOperation(raw []byte) (domain.SyncOperation, error) {
	var op domain.SyncOperation
	if err := json.Unmarshal(raw, &op); err != nil {
		return domain.SyncOperation{}, fmt.Errorf("decode sync operation: %w", err)
	}
	return op, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

var _ domain.OperationStore = (*OperationRepository)(nil)
