package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics содержит метрики синхронизации меню.
type SyncMetrics struct {
	// Итоги синхронизаций
	syncSuccess *prometheus.CounterVec
	syncFailure *prometheus.CounterVec
	syncRetries *prometheus.CounterVec

	// Длительности
	syncDuration        *prometheus.HistogramVec
	platformAPIDuration *prometheus.HistogramVec

	// Сбои хранилищ не меняют итог синхронизации, поэтому считаются отдельно
	storeFailures *prometheus.CounterVec

	// Диспетчер
	triggers    *prometheus.CounterVec
	activeSyncs prometheus.Gauge

	// Очередь ошибок
	errorQueueDepth     prometheus.Gauge
	errorQueueOldestAge prometheus.Gauge
}

// NewSyncMetrics создаёт метрики в глобальном реестре Prometheus.
func NewSyncMetrics() *SyncMetrics {
	return NewSyncMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSyncMetricsWithRegisterer создаёт метрики в заданном реестре (удобно для тестов).
func NewSyncMetricsWithRegisterer(registerer prometheus.Registerer) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SyncMetrics{
		syncSuccess: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "menusync_sync_success_total",
			Help: "Total number of successful menu syncs by platform",
		}, []string{"platform"}),
		syncFailure: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "menusync_sync_failure_total",
			Help: "Total number of failed menu syncs by platform and error type",
		}, []string{"platform", "error_type"}),
		syncRetries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "menusync_sync_retries_total",
			Help: "Total number of retry attempts by platform and trigger (auto or manual)",
		}, []string{"platform", "trigger"}),
		syncDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "menusync_sync_duration_seconds",
			Help:    "Duration of menu sync operations by platform",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"platform"}),
		platformAPIDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "menusync_platform_api_response_time_seconds",
			Help:    "Response time for platform API calls",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"platform", "operation", "result"}),
		storeFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "menusync_store_failures_total",
			Help: "Total number of status/error/operation store failures",
		}, []string{"store", "operation"}),
		triggers: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "menusync_triggers_total",
			Help: "Total number of per-platform triggers grouped by dispatch result",
		}, []string{"result"}),
		activeSyncs: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "menusync_active_syncs",
			Help: "Number of sync attempts currently in flight",
		}),
		errorQueueDepth: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "menusync_error_queue_depth",
			Help: "Current number of unresolved errors in the error queue",
		}),
		errorQueueOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "menusync_error_queue_oldest_age_seconds",
			Help: "Age in seconds of the oldest unresolved error",
		}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordSyncSuccess увеличивает счётчик успешных синхронизаций.
func (m *SyncMetrics) RecordSyncSuccess(platform string) {
	if m == nil {
		return
	}
	m.syncSuccess.WithLabelValues(platform).Inc()
}

// RecordSyncFailure увеличивает счётчик неуспешных синхронизаций.
func (m *SyncMetrics) RecordSyncFailure(platform, errorType string) {
	if m == nil {
		return
	}
	m.syncFailure.WithLabelValues(platform, errorType).Inc()
}

// RecordRetry фиксирует повторную попытку: auto — внутри Sync, manual — из очереди ошибок.
func (m *SyncMetrics) RecordRetry(platform, trigger string) {
	if m == nil {
		return
	}
	m.syncRetries.WithLabelValues(platform, trigger).Inc()
}

// RecordSyncDuration записывает длительность синхронизации.
func (m *SyncMetrics) RecordSyncDuration(platform string, duration time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

// RecordPlatformCall записывает время ответа API платформы.
func (m *SyncMetrics) RecordPlatformCall(platform, operation string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	m.platformAPIDuration.WithLabelValues(platform, operation, result).Observe(duration.Seconds())
}

// RecordStoreFailure увеличивает счётчик сбоев хранилища.
func (m *SyncMetrics) RecordStoreFailure(store, operation string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(store, operation).Inc()
}

// RecordTrigger фиксирует результат постановки пары в работу: scheduled, coalesced, skipped.
func (m *SyncMetrics) RecordTrigger(result string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(result).Inc()
}

// RecordSyncInFlightStarted увеличивает количество активных синхронизаций.
func (m *SyncMetrics) RecordSyncInFlightStarted() {
	if m == nil {
		return
	}
	m.activeSyncs.Inc()
}

// RecordSyncInFlightFinished уменьшает количество активных синхронизаций.
func (m *SyncMetrics) RecordSyncInFlightFinished() {
	if m == nil {
		return
	}
	m.activeSyncs.Dec()
}

// SetErrorQueue обновляет размер очереди ошибок и возраст самой старой записи.
func (m *SyncMetrics) SetErrorQueue(depth int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	m.errorQueueDepth.Set(float64(depth))
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.errorQueueOldestAge.Set(oldestAge.Seconds())
}
