package model

import (
	"time"

	"github.com/google/uuid"
)

// DriftReason names why the identity and aggregate stores disagree.
type DriftReason string

// Drift reasons.
const (
	// DriftAggregateWriteFailed: identity row written, aggregate write failed.
	DriftAggregateWriteFailed DriftReason = "aggregate_write_failed"
	// DriftReadbackMissing: aggregate write accepted but not readable.
	DriftReadbackMissing DriftReason = "readback_missing"
	// DriftAggregateDeleteFailed: identity row deleted, aggregate still present.
	DriftAggregateDeleteFailed DriftReason = "aggregate_delete_failed"
	// DriftItemWriteFailed: item identity row changed, aggregate not updated.
	DriftItemWriteFailed DriftReason = "item_write_failed"
	// DriftOwnerIndexMismatch: owner index lists an id the aggregate store lacks.
	DriftOwnerIndexMismatch DriftReason = "owner_index_mismatch"
)

// DriftRecord describes one detected divergence, keyed by the list that has
// to be re-synchronized.
type DriftRecord struct {
	ID         string      `json:"id"`
	ListID     uuid.UUID   `json:"list_id"`
	ItemID     *uuid.UUID  `json:"item_id,omitempty"`
	Reason     DriftReason `json:"reason"`
	Operation  string      `json:"op"`
	DetectedAt time.Time   `json:"detected_at"`
}
