package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
	"github.com/vladislavdragonenkov/menusync/internal/metrics"
)

// Config задаёт политику повторов и таймауты внешних вызовов.
type Config struct {
	RetryDelay     time.Duration
	FetchTimeout   time.Duration
	PublishTimeout time.Duration
	StoreTimeout   time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		RetryDelay:     2 * time.Second,
		FetchTimeout:   10 * time.Second,
		PublishTimeout: 30 * time.Second,
		StoreTimeout:   5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RetryDelay < 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = def.PublishTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = def.StoreTimeout
	}
	return c
}

// Dependencies — коллабораторы оркестратора.
type Dependencies struct {
	Source     domain.MenuSource
	Adapters   []domain.PlatformAdapter
	Statuses   domain.StatusStore
	Errors     domain.ErrorStore
	Operations domain.OperationStore
	// Events опционален: без него уведомления не отправляются.
	Events domain.SyncEventPublisher
}

// Option настраивает оркестратор.
type Option func(*Orchestrator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics включает метрики синхронизации.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator выполняет попытки синхронизации пары (ресторан, платформа)
// и владеет политикой повторов и эскалации в очередь ошибок.
type Orchestrator struct {
	source     domain.MenuSource
	adapters   map[domain.Platform]domain.PlatformAdapter
	statuses   domain.StatusStore
	errors     domain.ErrorStore
	operations domain.OperationStore
	events     domain.SyncEventPublisher
	metrics    *metrics.SyncMetrics
	logger     *log.Entry
	cfg        Config
	locks      *keyedLock
	now        func() time.Time
}

// NewOrchestrator создаёт оркестратор.
func NewOrchestrator(deps Dependencies, cfg Config, opts ...Option) (*Orchestrator, error) {
	if deps.Source == nil {
		return nil, errors.New("menu source is required")
	}
	if deps.Statuses == nil || deps.Errors == nil || deps.Operations == nil {
		return nil, errors.New("status, error and operation stores are required")
	}

	adapters := make(map[domain.Platform]domain.PlatformAdapter, len(deps.Adapters))
	for _, adapter := range deps.Adapters {
		if adapter == nil {
			continue
		}
		platform := adapter.Platform()
		if !platform.IsValid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPlatform, platform)
		}
		if _, exists := adapters[platform]; exists {
			return nil, fmt.Errorf("duplicate adapter for platform %s", platform)
		}
		adapters[platform] = adapter
	}

	o := &Orchestrator{
		source:     deps.Source,
		adapters:   adapters,
		statuses:   deps.Statuses,
		errors:     deps.Errors,
		operations: deps.Operations,
		events:     deps.Events,
		logger:     log.WithField("component", "sync-orchestrator"),
		cfg:        cfg.withDefaults(),
		locks:      newKeyedLock(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Platforms возвращает платформы с включёнными адаптерами.
func (o *Orchestrator) Platforms() []domain.Platform {
	result := make([]domain.Platform, 0, len(o.adapters))
	for p := range o.adapters {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Supports сообщает, настроен ли адаптер для платформы.
func (o *Orchestrator) Supports(platform domain.Platform) bool {
	_, ok := o.adapters[platform]
	return ok
}

// Sync выполняет попытку синхронизации с одним автоматическим повтором.
// Ошибка возвращается только если попытка не была начата (валидация, отмена ожидания блокировки).
func (o *Orchestrator) Sync(ctx context.Context, restaurantID string, platform domain.Platform) (domain.SyncOutcome, error) {
	adapter, err := o.adapterFor(restaurantID, platform)
	if err != nil {
		return domain.SyncOutcome{}, err
	}

	unlock, err := o.locks.Lock(ctx, domain.PairKey{RestaurantID: restaurantID, Platform: platform})
	if err != nil {
		return domain.SyncOutcome{}, fmt.Errorf("acquire sync lock: %w", err)
	}
	defer unlock()

	// Начатая попытка доводится до конца: статус не должен застрять в SYNCING.
	ctx = context.WithoutCancel(ctx)
	run := o.begin(ctx, restaurantID, platform)
	defer run.done()

	res := o.attempt(ctx, run, adapter)
	if res.failure != nil && res.failure.Retryable() {
		o.metrics.RecordRetry(platform.String(), "auto")
		run.logger.WithError(res.failure).WithField("delay", o.cfg.RetryDelay).Warn("sync attempt failed, retrying")
		o.wait(o.cfg.RetryDelay)

		retry := o.attempt(ctx, run, adapter)
		if retry.formatted == nil {
			retry.formatted = res.formatted
		}
		res = retry
	}

	if res.failure == nil {
		o.succeed(ctx, run, res, run.attempts-1)
		return run.outcome, nil
	}

	o.escalate(ctx, run, res)
	return run.outcome, nil
}

// RetryError вручную повторяет синхронизацию по записи из очереди ошибок.
func (o *Orchestrator) RetryError(ctx context.Context, errorID string) (domain.RetryOutcome, error) {
	syncErr, err := o.getError(ctx, errorID)
	if err != nil {
		return domain.RetryOutcome{}, err
	}
	if syncErr.Resolved {
		return domain.RetryOutcome{Error: syncErr, AlreadyResolved: true}, nil
	}

	adapter, err := o.adapterFor(syncErr.RestaurantID, syncErr.Platform)
	if err != nil {
		return domain.RetryOutcome{}, err
	}

	unlock, err := o.locks.Lock(ctx, syncErr.Key())
	if err != nil {
		return domain.RetryOutcome{}, fmt.Errorf("acquire sync lock: %w", err)
	}
	defer unlock()

	// Запись могла быть разобрана, пока ждали блокировку.
	syncErr, err = o.getError(ctx, errorID)
	if err != nil {
		return domain.RetryOutcome{}, err
	}
	if syncErr.Resolved {
		return domain.RetryOutcome{Error: syncErr, AlreadyResolved: true}, nil
	}

	ctx = context.WithoutCancel(ctx)
	o.metrics.RecordRetry(syncErr.Platform.String(), "manual")
	run := o.begin(ctx, syncErr.RestaurantID, syncErr.Platform)
	defer run.done()
	run.outcome.ErrorID = syncErr.ErrorID

	res := o.attempt(ctx, run, adapter)
	at := o.now()
	if res.failure == nil {
		syncErr.Resolve(at)
		o.putError(ctx, run, syncErr)
		o.succeed(ctx, run, res, syncErr.RetryCount+1)
		o.publishEvent(ctx, domain.SyncEvent{
			EventType:    domain.SyncEventResolved,
			RestaurantID: syncErr.RestaurantID,
			Platform:     syncErr.Platform,
			ErrorID:      syncErr.ErrorID,
			Timestamp:    at,
		})
		return domain.RetryOutcome{Error: syncErr, Outcome: run.outcome}, nil
	}

	syncErr.RetryCount++
	o.putError(ctx, run, syncErr)
	o.fail(ctx, run, res.failure, syncErr.RetryCount)
	return domain.RetryOutcome{Error: syncErr, Outcome: run.outcome}, nil
}

// ResolveError помечает запись очереди ошибок разобранной. Повторный вызов ничего не меняет.
func (o *Orchestrator) ResolveError(ctx context.Context, errorID string) (domain.SyncError, error) {
	syncErr, err := o.getError(ctx, errorID)
	if err != nil {
		return domain.SyncError{}, err
	}
	if syncErr.Resolved {
		return syncErr, nil
	}

	unlock, err := o.locks.Lock(ctx, syncErr.Key())
	if err != nil {
		return domain.SyncError{}, fmt.Errorf("acquire sync lock: %w", err)
	}
	defer unlock()

	syncErr, err = o.getError(ctx, errorID)
	if err != nil {
		return domain.SyncError{}, err
	}
	if syncErr.Resolved {
		return syncErr, nil
	}

	at := o.now()
	syncErr.Resolve(at)
	storeCtx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	if err := o.errors.Put(storeCtx, syncErr); err != nil {
		o.metrics.RecordStoreFailure("errors", "put")
		return domain.SyncError{}, fmt.Errorf("save resolved error: %w", err)
	}

	o.logger.WithFields(log.Fields{
		"error_id":      syncErr.ErrorID,
		"restaurant_id": syncErr.RestaurantID,
		"platform":      syncErr.Platform,
	}).Info("sync error resolved")
	o.publishEvent(ctx, domain.SyncEvent{
		EventType:    domain.SyncEventResolved,
		RestaurantID: syncErr.RestaurantID,
		Platform:     syncErr.Platform,
		ErrorID:      syncErr.ErrorID,
		Timestamp:    at,
	})
	return syncErr, nil
}

func (o *Orchestrator) adapterFor(restaurantID string, platform domain.Platform) (domain.PlatformAdapter, error) {
	if strings.TrimSpace(restaurantID) == "" {
		return nil, domain.ErrRestaurantRequired
	}
	if !platform.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPlatform, platform)
	}
	adapter, ok := o.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlatformNotConfigured, platform)
	}
	return adapter, nil
}

func (o *Orchestrator) getError(ctx context.Context, errorID string) (domain.SyncError, error) {
	storeCtx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()

	syncErr, err := o.errors.Get(storeCtx, errorID)
	if err != nil {
		if errors.Is(err, domain.ErrSyncErrorNotFound) {
			return domain.SyncError{}, fmt.Errorf("%w: %s", domain.ErrSyncErrorNotFound, errorID)
		}
		o.metrics.RecordStoreFailure("errors", "get")
		return domain.SyncError{}, fmt.Errorf("load sync error: %w", err)
	}
	return syncErr, nil
}

// syncRun — состояние одной попытки под блокировкой пары.
type syncRun struct {
	status    domain.SyncStatus
	operation domain.SyncOperation
	outcome   domain.SyncOutcome
	attempts  int
	started   time.Time
	logger    *log.Entry
	done      func()

	// statusUnknown — прочитать сохранённый статус не удалось, записи статуса в этой попытке пропускаются.
	statusUnknown bool
}

type attemptResult struct {
	menu      domain.Menu
	formatted *domain.FormattedMenu
	publish   domain.PublishResult
	failure   *domain.SyncFailure
}

func (o *Orchestrator) begin(ctx context.Context, restaurantID string, platform domain.Platform) *syncRun {
	started := o.now()
	run := &syncRun{
		started: started,
		logger: o.logger.WithFields(log.Fields{
			"restaurant_id": restaurantID,
			"platform":      platform,
		}),
		operation: domain.SyncOperation{
			OperationID:  uuid.NewString(),
			RestaurantID: restaurantID,
			Platform:     platform,
			Status:       domain.OperationRunning,
			StartedAt:    started,
		},
	}
	run.outcome = domain.SyncOutcome{
		RestaurantID: restaurantID,
		Platform:     platform,
		OperationID:  run.operation.OperationID,
	}
	run.logger = run.logger.WithField("operation_id", run.operation.OperationID)

	o.metrics.RecordSyncInFlightStarted()
	run.done = func() {
		o.metrics.RecordSyncInFlightFinished()
		o.metrics.RecordSyncDuration(platform.String(), time.Since(started))
	}

	o.saveOperation(ctx, run)

	storeCtx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	status, err := o.statuses.Get(storeCtx, restaurantID, platform)
	cancel()
	if err != nil {
		if !errors.Is(err, domain.ErrStatusNotFound) {
			o.storeFailure(run, "statuses", "get", err)
			run.statusUnknown = true
			run.logger.Warn("stored status is unavailable, status writes are skipped for this attempt")
		}
		status = domain.NewPendingStatus(restaurantID, platform)
	}
	if status.Status == domain.SyncStateSyncing {
		// Предыдущая попытка прервалась, не записав итог.
		status.UpdatedAt = started
	} else if err := status.TransitionTo(domain.SyncStateSyncing, started); err != nil {
		run.logger.WithError(err).Warn("unexpected sync status, resetting to SYNCING")
		status.Status = domain.SyncStateSyncing
		status.UpdatedAt = started
	}
	run.status = status
	o.putStatus(ctx, run)

	run.logger.Debug("sync attempt started")
	return run
}

// attempt выполняет шаги fetch → format → publish один раз.
func (o *Orchestrator) attempt(ctx context.Context, run *syncRun, adapter domain.PlatformAdapter) attemptResult {
	run.attempts++
	run.outcome.Attempts = run.attempts
	platform := adapter.Platform()

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	menu, err := o.source.Fetch(fetchCtx, run.operation.RestaurantID)
	cancel()
	if err != nil {
		var failure *domain.SyncFailure
		if !errors.As(err, &failure) {
			failure = domain.NewFetchError(0, err)
		}
		return attemptResult{failure: failure}
	}

	run.operation.TotalItems = len(menu.Items)
	run.operation.ItemsProcessed = 0
	o.saveOperation(ctx, run)

	formatted, err := adapter.Format(menu.Items, menu.Categories)
	if err != nil {
		var failure *domain.SyncFailure
		if !errors.As(err, &failure) || failure.Kind != domain.FailureFormat {
			failure = domain.NewFormatError(err)
		}
		return attemptResult{menu: menu, failure: failure}
	}

	publishCtx, cancel := context.WithTimeout(ctx, o.cfg.PublishTimeout)
	publishStarted := time.Now()
	result := adapter.Publish(publishCtx, run.operation.RestaurantID, formatted)
	cancel()
	o.metrics.RecordPlatformCall(platform.String(), "publish", result.Success, time.Since(publishStarted))

	res := attemptResult{menu: menu, formatted: &formatted, publish: result}
	if !result.Success {
		res.failure = domain.NewPublishError(result)
	}
	return res
}

func (o *Orchestrator) succeed(ctx context.Context, run *syncRun, res attemptResult, retries int) {
	at := o.now()
	itemCount := len(res.menu.Items)
	if err := run.status.MarkSynced(at, itemCount, res.publish.ExternalMenuID, retries); err != nil {
		run.logger.WithError(err).Error("mark synced failed")
	}
	o.putStatus(ctx, run)

	run.operation.ItemsProcessed = run.operation.TotalItems
	run.operation.Finish(at)
	o.saveOperation(ctx, run)

	run.outcome.Success = true
	run.outcome.ItemCount = itemCount
	run.outcome.ExternalMenuID = run.status.ExternalMenuID

	o.metrics.RecordSyncSuccess(run.status.Platform.String())
	run.logger.WithFields(log.Fields{
		"item_count": itemCount,
		"attempts":   run.attempts,
	}).Info("menu synced")
	o.publishEvent(ctx, domain.SyncEvent{
		EventType:    domain.SyncEventSucceeded,
		RestaurantID: run.status.RestaurantID,
		Platform:     run.status.Platform,
		ItemCount:    itemCount,
		Timestamp:    at,
	})
}

// escalate ставит исчерпавшую повторы попытку в очередь ошибок.
func (o *Orchestrator) escalate(ctx context.Context, run *syncRun, res attemptResult) {
	at := o.now()
	syncErr := domain.SyncError{
		ErrorID:      newErrorID(),
		RestaurantID: run.status.RestaurantID,
		Platform:     run.status.Platform,
		CreatedAt:    at,
		Details:      res.failure.Details(),
		RetryCount:   run.attempts - 1,
	}
	if res.formatted != nil {
		syncErr.MenuSnapshot = append([]byte(nil), res.formatted.Payload...)
	}
	o.putError(ctx, run, syncErr)
	run.outcome.ErrorID = syncErr.ErrorID

	o.fail(ctx, run, res.failure, syncErr.RetryCount)
	o.publishEvent(ctx, domain.SyncEvent{
		EventType:    domain.SyncEventErrorQueued,
		RestaurantID: syncErr.RestaurantID,
		Platform:     syncErr.Platform,
		ErrorID:      syncErr.ErrorID,
		Message:      syncErr.Details.Message,
		Timestamp:    at,
	})
}

func (o *Orchestrator) fail(ctx context.Context, run *syncRun, failure *domain.SyncFailure, retries int) {
	at := o.now()
	if err := run.status.MarkFailed(at, retries, failure.Error()); err != nil {
		run.logger.WithError(err).Error("mark failed failed")
	}
	o.putStatus(ctx, run)

	run.operation.Finish(at)
	o.saveOperation(ctx, run)

	run.outcome.Success = false
	run.outcome.Failure = failure

	o.metrics.RecordSyncFailure(run.status.Platform.String(), strings.ToLower(string(failure.Kind)))
	run.logger.WithError(failure).WithFields(log.Fields{
		"attempts":    run.attempts,
		"error_id":    run.outcome.ErrorID,
		"retry_count": retries,
	}).Error("menu sync failed")
	o.publishEvent(ctx, domain.SyncEvent{
		EventType:    domain.SyncEventFailed,
		RestaurantID: run.status.RestaurantID,
		Platform:     run.status.Platform,
		ErrorID:      run.outcome.ErrorID,
		Message:      failure.Message,
		Timestamp:    at,
	})
}

func (o *Orchestrator) putStatus(ctx context.Context, run *syncRun) {
	if run.statusUnknown {
		return
	}
	storeCtx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	if err := o.statuses.Put(storeCtx, run.status); err != nil {
		o.storeFailure(run, "statuses", "put", err)
	}
}

func (o *Orchestrator) putError(ctx context.Context, run *syncRun, syncErr domain.SyncError) {
	storeCtx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	if err := o.errors.Put(storeCtx, syncErr); err != nil {
		o.storeFailure(run, "errors", "put", err)
	}
}

func (o *Orchestrator) saveOperation(ctx context.Context, run *syncRun) {
	storeCtx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	if err := o.operations.Save(storeCtx, run.operation); err != nil {
		o.storeFailure(run, "operations", "save", err)
	}
}

// storeFailure фиксирует сбой хранилища. Итог синхронизации он не меняет.
func (o *Orchestrator) storeFailure(run *syncRun, store, operation string, err error) {
	run.outcome.StoreFailures++
	o.metrics.RecordStoreFailure(store, operation)
	run.logger.WithError(err).WithFields(log.Fields{
		"store":     store,
		"operation": operation,
	}).Error("store operation failed")
}

func (o *Orchestrator) publishEvent(ctx context.Context, event domain.SyncEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishSyncEvent(ctx, event); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"event_type":    event.EventType,
			"restaurant_id": event.RestaurantID,
			"platform":      event.Platform,
		}).Warn("failed to publish sync event")
	}
}

func (o *Orchestrator) wait(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	<-timer.C
}

// newErrorID возвращает идентификатор вида err_ + 12 hex-символов.
func newErrorID() string {
	return "err_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
