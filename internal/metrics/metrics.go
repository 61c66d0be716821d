// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Sync outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
	OutcomeDrift    = "drift"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Synchronizer metrics
	IncSyncOperation(op, outcome string)
	ObserveSyncDuration(op string, duration time.Duration)

	// Consistency metrics
	IncDrift(reason string)
	IncInvariantViolation(entity string)

	// Aggregate store metrics
	ObserveBatchGetPages(pages int)

	// Reconciliation metrics
	IncReconciled(outcome string) // outcome: "clean", "repaired", "unresolved", "failed", "dead_lettered"
	SetReconcileQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
