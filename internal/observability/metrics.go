// Package observability exposes the consistency engine's metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for processed retry records.
const (
	OutcomeRepaired  = "repaired"
	OutcomeDiscarded = "discarded"
	OutcomeDeleted   = "deleted"
	OutcomeFailed    = "failed"
)

// MetricsRecorder is the narrow surface the retry worker records through.
// A nil-safe no-op implementation is used when metrics are disabled.
type MetricsRecorder interface {
	RecordProcessed(outcome string)
	RecordQueuePurged(count int)
	RecordCascadeSize(size int)
	RecordClaimBatch(size int)
	SetSuspensionActive(active bool)
}

// WorkerMetrics implements MetricsRecorder with prometheus collectors.
type WorkerMetrics struct {
	processed        *prometheus.CounterVec
	queuePurged      prometheus.Counter
	cascadeSize      prometheus.Histogram
	claimBatch       prometheus.Histogram
	suspensionActive prometheus.Gauge
}

// NewWorkerMetrics creates the worker's collectors and registers them with
// the given registerer.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	m := &WorkerMetrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchsync",
			Subsystem: "retry_worker",
			Name:      "records_processed_total",
			Help:      "Retry queue records processed, labeled by outcome.",
		}, []string{"outcome"}),
		queuePurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searchsync",
			Subsystem: "retry_worker",
			Name:      "queue_purged_total",
			Help:      "Retry queue rows purged by suspend-all activations.",
		}),
		cascadeSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "searchsync",
			Subsystem: "retry_worker",
			Name:      "cascade_entities",
			Help:      "Entities collected per cascading reindex.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}),
		claimBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "searchsync",
			Subsystem: "retry_worker",
			Name:      "claim_batch_size",
			Help:      "Rows claimed per poll.",
			Buckets:   prometheus.LinearBuckets(0, 5, 6),
		}),
		suspensionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "searchsync",
			Subsystem: "retry_worker",
			Name:      "suspension_active",
			Help:      "1 while a reindex suspension scope is in force.",
		}),
	}

	reg.MustRegister(m.processed, m.queuePurged, m.cascadeSize, m.claimBatch, m.suspensionActive)
	return m
}

func (m *WorkerMetrics) RecordProcessed(outcome string) {
	m.processed.WithLabelValues(outcome).Inc()
}

func (m *WorkerMetrics) RecordQueuePurged(count int) {
	m.queuePurged.Add(float64(count))
}

func (m *WorkerMetrics) RecordCascadeSize(size int) {
	m.cascadeSize.Observe(float64(size))
}

func (m *WorkerMetrics) RecordClaimBatch(size int) {
	m.claimBatch.Observe(float64(size))
}

func (m *WorkerMetrics) SetSuspensionActive(active bool) {
	if active {
		m.suspensionActive.Set(1)
	} else {
		m.suspensionActive.Set(0)
	}
}

// NopMetrics is a MetricsRecorder that discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordProcessed(string)   {}
func (NopMetrics) RecordQueuePurged(int)    {}
func (NopMetrics) RecordCascadeSize(int)    {}
func (NopMetrics) RecordClaimBatch(int)     {}
func (NopMetrics) SetSuspensionActive(bool) {}
