// Package cleanup удаляет завершённые операции синхронизации из хранилища.
package cleanup

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultBatchSize = 500
	defaultRetention = 24 * time.Hour
)

var (
	operationCleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "menusync_operation_cleanup_runs_total",
		Help: "Total number of finished operation cleanup runs grouped by result.",
	}, []string{"result"})
	operationCleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "menusync_operation_cleanup_deleted_total",
		Help: "Total number of deleted finished sync operations.",
	})
	operationCleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "menusync_operation_cleanup_last_deleted",
		Help: "Number of deleted operations during the last cleanup run.",
	})
)

// Options задает параметры воркера очистки операций.
type Options struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	// Retention — сколько хранить операции в статусе DONE.
	Retention time.Duration
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между cleanup-циклами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер batch для одного удаления.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// WithRetention задает срок хранения завершённых операций.
func WithRetention(retention time.Duration) Option {
	return func(opts *Options) {
		opts.Retention = retention
	}
}

// Worker периодически удаляет завершённые операции старше retention.
type Worker struct {
	store     domain.OperationStore
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	retention time.Duration
}

// NewWorker создает воркер очистки операций.
func NewWorker(store domain.OperationStore, options ...Option) *Worker {
	opts := Options{
		Interval:  defaultInterval,
		BatchSize: defaultBatchSize,
		Retention: defaultRetention,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "operation-cleanup-worker")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}

	return &Worker{
		store:     store,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		retention: opts.Retention,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.store == nil {
		w.logger.Warn("operation cleanup worker is disabled: store is nil")
		return
	}

	w.cleanup(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.cleanup(ctx, now.UTC())
		}
	}
}

func (w *Worker) cleanup(ctx context.Context, now time.Time) {
	deleted, err := w.DeleteFinished(ctx, now.Add(-w.retention))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		operationCleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("operation cleanup run failed")
		return
	}

	operationCleanupRunsTotal.WithLabelValues("ok").Inc()
	operationCleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("operation cleanup completed")
	}
}

// DeleteFinished удаляет операции, завершённые раньше before, порциями batchSize.
func (w *Worker) DeleteFinished(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC().Add(-w.retention)
	}

	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		deleted, err := w.store.DeleteFinishedBefore(ctx, before, w.batchSize)
		if err != nil {
			return totalDeleted, err
		}

		totalDeleted += deleted
		if deleted > 0 {
			operationCleanupDeletedTotal.Add(float64(deleted))
		}

		if deleted < w.batchSize {
			break
		}
	}

	return totalDeleted, nil
}
