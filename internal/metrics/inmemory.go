package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	SyncOperations      map[string]uint64 // keyed "op/outcome"
	SyncDurationCount   uint64
	Drift               map[string]uint64
	InvariantViolations map[string]uint64
	BatchGetPages       uint64
	Reconciled          map[string]uint64
	ReconcileQueueDepth int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu                  sync.Mutex
	syncOperations      map[string]uint64
	drift               map[string]uint64
	invariantViolations map[string]uint64
	reconciled          map[string]uint64

	syncDurationCount   uint64
	batchGetPages       uint64
	reconcileQueueDepth int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		syncOperations:      make(map[string]uint64),
		drift:               make(map[string]uint64),
		invariantViolations: make(map[string]uint64),
		reconciled:          make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		SyncOperations:      copyCounts(m.syncOperations),
		SyncDurationCount:   atomic.LoadUint64(&m.syncDurationCount),
		Drift:               copyCounts(m.drift),
		InvariantViolations: copyCounts(m.invariantViolations),
		BatchGetPages:       atomic.LoadUint64(&m.batchGetPages),
		Reconciled:          copyCounts(m.reconciled),
		ReconcileQueueDepth: atomic.LoadInt64(&m.reconcileQueueDepth),
	}
}

// IncSyncOperation counts a finished synchronizer operation.
func (m *InMemoryRecorder) IncSyncOperation(op, outcome string) {
	m.inc(m.syncOperations, op+"/"+outcome)
}

// ObserveSyncDuration records operation duration.
func (m *InMemoryRecorder) ObserveSyncDuration(op string, duration time.Duration) {
	atomic.AddUint64(&m.syncDurationCount, 1)
}

// IncDrift counts a detected drift.
func (m *InMemoryRecorder) IncDrift(reason string) {
	m.inc(m.drift, reason)
}

// IncInvariantViolation counts a multi-row result for a unique key.
func (m *InMemoryRecorder) IncInvariantViolation(entity string) {
	m.inc(m.invariantViolations, entity)
}

// ObserveBatchGetPages records the pages used by one batch fetch.
func (m *InMemoryRecorder) ObserveBatchGetPages(pages int) {
	atomic.AddUint64(&m.batchGetPages, uint64(pages))
}

// IncReconciled counts a reconciliation result.
func (m *InMemoryRecorder) IncReconciled(outcome string) {
	m.inc(m.reconciled, outcome)
}

// SetReconcileQueueDepth stores the latest queue depth.
func (m *InMemoryRecorder) SetReconcileQueueDepth(depth int64) {
	atomic.StoreInt64(&m.reconcileQueueDepth, depth)
}

func (m *InMemoryRecorder) inc(counts map[string]uint64, key string) {
	m.mu.Lock()
	counts[key]++
	m.mu.Unlock()
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
