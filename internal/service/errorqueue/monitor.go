// Package errorqueue следит за backlog очереди ошибок синхронизации.
package errorqueue

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
	"github.com/vladislavdragonenkov/menusync/internal/metrics"
)

const defaultPollInterval = 30 * time.Second

// MonitorOptions задаёт параметры монитора.
type MonitorOptions struct {
	Logger         *log.Entry
	Metrics        *metrics.SyncMetrics
	PollInterval   time.Duration
	// AlertThreshold — число неразобранных ошибок, начиная с которого пишется warning. 0 отключает.
	AlertThreshold int
	Clock          func() time.Time
}

// Option настраивает Monitor.
type Option func(*MonitorOptions)

// WithLogger задаёт logger монитора.
func WithLogger(logger *log.Entry) Option {
	return func(opts *MonitorOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики, в которые экспортируется backlog.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(opts *MonitorOptions) {
		opts.Metrics = m
	}
}

// WithPollInterval задаёт частоту опроса.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *MonitorOptions) {
		opts.PollInterval = interval
	}
}

// WithAlertThreshold задаёт порог предупреждения.
func WithAlertThreshold(threshold int) Option {
	return func(opts *MonitorOptions) {
		opts.AlertThreshold = threshold
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *MonitorOptions) {
		opts.Clock = now
	}
}

// Monitor периодически читает ErrorStore.Stats и обновляет метрики очереди ошибок.
type Monitor struct {
	store          domain.ErrorStore
	metrics        *metrics.SyncMetrics
	logger         *log.Entry
	pollInterval   time.Duration
	alertThreshold int
	now            func() time.Time

	last domain.ErrorQueueStats
}

// NewMonitor создаёт монитор очереди ошибок.
func NewMonitor(store domain.ErrorStore, options ...Option) *Monitor {
	opts := MonitorOptions{PollInterval: defaultPollInterval}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "error-queue-monitor")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.AlertThreshold < 0 {
		opts.AlertThreshold = 0
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Monitor{
		store:          store,
		metrics:        opts.Metrics,
		logger:         logger,
		pollInterval:   opts.PollInterval,
		alertThreshold: opts.AlertThreshold,
		now:            opts.Clock,
	}
}

// Run опрашивает очередь до отмены ctx.
func (m *Monitor) Run(ctx context.Context) {
	if m.store == nil {
		m.logger.Warn("error queue monitor is disabled: store is nil")
		return
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл опроса и возвращает прочитанную статистику.
func (m *Monitor) ProcessOnce(ctx context.Context) (domain.ErrorQueueStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.ErrorQueueStats{}, err
	}

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.metrics.RecordStoreFailure("errors", "stats")
		m.logger.WithError(err).Warn("failed to collect error queue stats")
		return domain.ErrorQueueStats{}, err
	}

	var age time.Duration
	if stats.Unresolved > 0 && !stats.OldestUnresolvedAt.IsZero() {
		age = m.now().Sub(stats.OldestUnresolvedAt)
	}
	m.metrics.SetErrorQueue(stats.Unresolved, age)

	fields := log.Fields{
		"unresolved": stats.Unresolved,
		"oldest_age": age.Round(time.Second).String(),
	}
	if m.alertThreshold > 0 && stats.Unresolved >= m.alertThreshold {
		m.logger.WithFields(fields).Warn("error queue backlog above threshold")
	} else if stats.Unresolved != m.last.Unresolved {
		m.logger.WithFields(fields).Info("error queue backlog changed")
	}
	m.last = stats
	return stats, nil
}
