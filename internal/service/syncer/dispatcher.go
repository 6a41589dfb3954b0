package syncer

import (
	"context"
	"errors"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
	"github.com/vladislavdragonenkov/menusync/internal/metrics"
)

const defaultMaxConcurrentSyncs = 8

// Syncer — то, что диспетчер вызывает для каждой пары.
type Syncer interface {
	Sync(ctx context.Context, restaurantID string, platform domain.Platform) (domain.SyncOutcome, error)
	Supports(platform domain.Platform) bool
	Platforms() []domain.Platform
}

// DispatcherOptions задаёт параметры диспетчера.
type DispatcherOptions struct {
	// MaxConcurrentSyncs ограничивает число одновременных вызовов Sync по всем парам.
	MaxConcurrentSyncs int64
	// Resolver выбирает платформы, если триггер их не указал. nil — все включённые адаптеры.
	Resolver domain.PlatformResolver
	Metrics  *metrics.SyncMetrics
	Logger   *log.Entry
}

type pairState struct {
	pending bool
}

// Dispatcher принимает триггеры изменения меню и распределяет их по парам.
// Для одной пары одновременно выполняется не более одного прогона; триггеры,
// пришедшие во время прогона, схлопываются в один последующий.
type Dispatcher struct {
	syncer   Syncer
	resolver domain.PlatformResolver
	sem      *semaphore.Weighted
	metrics  *metrics.SyncMetrics
	logger   *log.Entry

	mu     sync.Mutex
	pairs  map[domain.PairKey]*pairState
	closed bool
	wg     sync.WaitGroup

	runCtx    context.Context
	cancelRun context.CancelFunc
}

// NewDispatcher создаёт диспетчер.
func NewDispatcher(syncer Syncer, opts DispatcherOptions) *Dispatcher {
	limit := opts.MaxConcurrentSyncs
	if limit <= 0 {
		limit = defaultMaxConcurrentSyncs
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sync-dispatcher")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		syncer:    syncer,
		resolver:  opts.Resolver,
		sem:       semaphore.NewWeighted(limit),
		metrics:   opts.Metrics,
		logger:    logger,
		pairs:     make(map[domain.PairKey]*pairState),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
}

// HandleTrigger ставит синхронизацию ресторана в работу и возвращает платформы,
// по которым прогон запланирован или схлопнут с текущим. Не ждёт завершения.
func (d *Dispatcher) HandleTrigger(ctx context.Context, restaurantID string, changedItemIDs []string, platforms []domain.Platform) ([]domain.Platform, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(restaurantID) == "" {
		return nil, domain.ErrRestaurantRequired
	}

	targets := d.targets(restaurantID, platforms)
	logger := d.logger.WithFields(log.Fields{
		"restaurant_id": restaurantID,
		"changed_items": len(changedItemIDs),
	})

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, domain.ErrDispatcherClosed
	}

	scheduled := make([]domain.Platform, 0, len(targets))
	for _, platform := range targets {
		key := domain.PairKey{RestaurantID: restaurantID, Platform: platform}
		if state, ok := d.pairs[key]; ok {
			state.pending = true
			d.metrics.RecordTrigger("coalesced")
			logger.WithField("platform", platform).Debug("sync already scheduled, coalescing trigger")
			scheduled = append(scheduled, platform)
			continue
		}

		d.pairs[key] = &pairState{}
		d.metrics.RecordTrigger("scheduled")
		d.wg.Add(1)
		go d.run(key)
		scheduled = append(scheduled, platform)
	}

	if len(scheduled) == 0 {
		logger.Warn("no platforms to sync for trigger")
	}
	return scheduled, nil
}

// Running сообщает, запланирован или выполняется прогон для пары.
func (d *Dispatcher) Running(restaurantID string, platform domain.Platform) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.pairs[domain.PairKey{RestaurantID: restaurantID, Platform: platform}]
	return ok
}

// Shutdown перестаёт принимать триггеры и ждёт завершения запланированных прогонов.
// По истечении ctx незапущенные прогоны отменяются.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelRun()
		return nil
	case <-ctx.Done():
		d.cancelRun()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) targets(restaurantID string, requested []domain.Platform) []domain.Platform {
	candidates := requested
	if len(candidates) == 0 {
		if d.resolver != nil {
			candidates = d.resolver.PlatformsFor(restaurantID)
		} else {
			candidates = d.syncer.Platforms()
		}
	}

	seen := make(map[domain.Platform]struct{}, len(candidates))
	result := make([]domain.Platform, 0, len(candidates))
	for _, platform := range candidates {
		if _, dup := seen[platform]; dup {
			continue
		}
		seen[platform] = struct{}{}

		if !platform.IsValid() || !d.syncer.Supports(platform) {
			d.metrics.RecordTrigger("skipped")
			d.logger.WithFields(log.Fields{
				"restaurant_id": restaurantID,
				"platform":      platform,
			}).Warn("skipping platform without enabled adapter")
			continue
		}
		result = append(result, platform)
	}
	return result
}

func (d *Dispatcher) run(key domain.PairKey) {
	defer d.wg.Done()

	logger := d.logger.WithFields(log.Fields{
		"restaurant_id": key.RestaurantID,
		"platform":      key.Platform,
	})

	for {
		if err := d.sem.Acquire(d.runCtx, 1); err != nil {
			logger.WithError(err).Warn("sync dropped: dispatcher stopped")
			d.finish(key)
			return
		}
		outcome, err := d.syncer.Sync(d.runCtx, key.RestaurantID, key.Platform)
		d.sem.Release(1)

		switch {
		case err != nil && errors.Is(err, context.Canceled):
			logger.WithError(err).Warn("sync canceled")
		case err != nil:
			logger.WithError(err).Error("sync not started")
		case !outcome.Success:
			logger.WithField("error_id", outcome.ErrorID).Debug("sync finished with failure")
		}

		d.mu.Lock()
		state := d.pairs[key]
		if state != nil && state.pending {
			state.pending = false
			d.mu.Unlock()
			continue
		}
		delete(d.pairs, key)
		d.mu.Unlock()
		return
	}
}

func (d *Dispatcher) finish(key domain.PairKey) {
	d.mu.Lock()
	delete(d.pairs, key)
	d.mu.Unlock()
}
