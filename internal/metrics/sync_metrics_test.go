package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := gauge.Write(metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewSyncMetricsWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSyncMetricsWithRegisterer(reg)

	if m.syncSuccess == nil || m.syncFailure == nil || m.syncRetries == nil {
		t.Fatal("sync counters should not be nil")
	}
	if m.syncDuration == nil || m.platformAPIDuration == nil {
		t.Fatal("histograms should not be nil")
	}
	if m.storeFailures == nil || m.triggers == nil {
		t.Fatal("store/trigger counters should not be nil")
	}
	if m.activeSyncs == nil || m.errorQueueDepth == nil || m.errorQueueOldestAge == nil {
		t.Fatal("gauges should not be nil")
	}
}

func TestNewSyncMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewSyncMetricsWithRegisterer(reg)
	second := NewSyncMetricsWithRegisterer(reg)

	first.RecordSyncSuccess("doordash")
	second.RecordSyncSuccess("doordash")

	if got := counterValue(t, first.syncSuccess, "doordash"); got != 2 {
		t.Fatalf("expected shared counter value 2, got %f", got)
	}
}

func TestRecordSyncOutcomes(t *testing.T) {
	m := NewSyncMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordSyncSuccess("ubereats")
	m.RecordSyncFailure("ubereats", "PUBLISH")
	m.RecordSyncFailure("ubereats", "PUBLISH")
	m.RecordRetry("ubereats", "auto")
	m.RecordStoreFailure("status", "put")
	m.RecordTrigger("coalesced")
	m.RecordSyncDuration("ubereats", 150*time.Millisecond)
	m.RecordPlatformCall("ubereats", "publish", false, time.Second)

	if got := counterValue(t, m.syncSuccess, "ubereats"); got != 1 {
		t.Errorf("expected 1 success, got %f", got)
	}
	if got := counterValue(t, m.syncFailure, "ubereats", "PUBLISH"); got != 2 {
		t.Errorf("expected 2 failures, got %f", got)
	}
	if got := counterValue(t, m.syncRetries, "ubereats", "auto"); got != 1 {
		t.Errorf("expected 1 retry, got %f", got)
	}
	if got := counterValue(t, m.storeFailures, "status", "put"); got != 1 {
		t.Errorf("expected 1 store failure, got %f", got)
	}
	if got := counterValue(t, m.triggers, "coalesced"); got != 1 {
		t.Errorf("expected 1 coalesced trigger, got %f", got)
	}
}

func TestActiveSyncsGauge(t *testing.T) {
	m := NewSyncMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordSyncInFlightStarted()
	m.RecordSyncInFlightStarted()
	m.RecordSyncInFlightFinished()

	if got := gaugeValue(t, m.activeSyncs); got != 1 {
		t.Fatalf("expected 1 active sync, got %f", got)
	}
}

func TestSetErrorQueue(t *testing.T) {
	m := NewSyncMetricsWithRegisterer(prometheus.NewRegistry())

	m.SetErrorQueue(4, 90*time.Second)
	if got := gaugeValue(t, m.errorQueueDepth); got != 4 {
		t.Errorf("expected depth 4, got %f", got)
	}
	if got := gaugeValue(t, m.errorQueueOldestAge); got != 90 {
		t.Errorf("expected age 90, got %f", got)
	}

	m.SetErrorQueue(0, -time.Second)
	if got := gaugeValue(t, m.errorQueueOldestAge); got != 0 {
		t.Errorf("negative age must clamp to zero, got %f", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *SyncMetrics
	m.RecordSyncSuccess("doordash")
	m.RecordSyncFailure("doordash", "FETCH")
	m.RecordRetry("doordash", "manual")
	m.RecordSyncDuration("doordash", time.Second)
	m.RecordPlatformCall("doordash", "publish", true, time.Second)
	m.RecordStoreFailure("errors", "put")
	m.RecordTrigger("scheduled")
	m.RecordSyncInFlightStarted()
	m.RecordSyncInFlightFinished()
	m.SetErrorQueue(1, time.Second)
}
