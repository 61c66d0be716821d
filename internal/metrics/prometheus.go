package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exposes Recorder events as Prometheus collectors.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	syncOperations      *prometheus.CounterVec
	syncDuration        *prometheus.HistogramVec
	drift               *prometheus.CounterVec
	invariantViolations *prometheus.CounterVec
	batchGetPages       prometheus.Histogram
	reconciled          *prometheus.CounterVec
	reconcileQueueDepth prometheus.Gauge
}

// NewPrometheus creates a recorder registered on its own registry under
// namespace.
func NewPrometheus(namespace string) *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	p := &PrometheusRecorder{
		registry: registry,
		syncOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_operations_total",
				Help:      "Synchronizer operations by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Synchronizer operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		drift: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_drift_total",
				Help:      "Detected divergences between the identity and aggregate stores",
			},
			[]string{"reason"},
		),
		invariantViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identity_invariant_violations_total",
				Help:      "Unique key lookups that returned more than one row",
			},
			[]string{"entity"},
		),
		batchGetPages: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregate_batch_get_pages",
				Help:      "Pages needed by one aggregate batch fetch",
				Buckets:   []float64{1, 2, 3, 5, 10, 20},
			},
		),
		reconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_results_total",
				Help:      "Reconciliation results by outcome",
			},
			[]string{"outcome"},
		),
		reconcileQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reconcile_queue_depth",
				Help:      "Drift records waiting for reconciliation",
			},
		),
	}

	registry.MustRegister(
		p.syncOperations,
		p.syncDuration,
		p.drift,
		p.invariantViolations,
		p.batchGetPages,
		p.reconciled,
		p.reconcileQueueDepth,
	)

	return p
}

// Registry returns the registry for the /metrics handler.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// IncSyncOperation counts a finished synchronizer operation.
func (p *PrometheusRecorder) IncSyncOperation(op, outcome string) {
	p.syncOperations.WithLabelValues(op, outcome).Inc()
}

// ObserveSyncDuration records operation duration.
func (p *PrometheusRecorder) ObserveSyncDuration(op string, duration time.Duration) {
	p.syncDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// IncDrift counts a detected drift.
func (p *PrometheusRecorder) IncDrift(reason string) {
	p.drift.WithLabelValues(reason).Inc()
}

// IncInvariantViolation counts a multi-row result for a unique key.
func (p *PrometheusRecorder) IncInvariantViolation(entity string) {
	p.invariantViolations.WithLabelValues(entity).Inc()
}

// ObserveBatchGetPages records the pages used by one batch fetch.
func (p *PrometheusRecorder) ObserveBatchGetPages(pages int) {
	p.batchGetPages.Observe(float64(pages))
}

// IncReconciled counts a reconciliation result.
func (p *PrometheusRecorder) IncReconciled(outcome string) {
	p.reconciled.WithLabelValues(outcome).Inc()
}

// SetReconcileQueueDepth stores the latest queue depth.
func (p *PrometheusRecorder) SetReconcileQueueDepth(depth int64) {
	p.reconcileQueueDepth.Set(float64(depth))
}
