package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncSyncOperation is a no-op.
func (n *NoopRecorder) IncSyncOperation(op, outcome string) {}

// ObserveSyncDuration is a no-op.
func (n *NoopRecorder) ObserveSyncDuration(op string, duration time.Duration) {}

// IncDrift is a no-op.
func (n *NoopRecorder) IncDrift(reason string) {}

// IncInvariantViolation is a no-op.
func (n *NoopRecorder) IncInvariantViolation(entity string) {}

// ObserveBatchGetPages is a no-op.
func (n *NoopRecorder) ObserveBatchGetPages(pages int) {}

// IncReconciled is a no-op.
func (n *NoopRecorder) IncReconciled(outcome string) {}

// SetReconcileQueueDepth is a no-op.
func (n *NoopRecorder) SetReconcileQueueDepth(depth int64) {}
