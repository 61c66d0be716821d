package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/listsync/listsync/internal/metrics"
	"github.com/listsync/listsync/internal/model"
)

// Operation names used in logs, metrics and drift records.
const (
	OpListSave     = "list.save"
	OpListUpdate   = "list.update"
	OpListRead     = "list.read"
	OpListDelete   = "list.delete"
	OpListForOwner = "list.for_owner"
	OpItemUpsert   = "item.upsert"
	OpItemDelete   = "item.delete"
)

// Saga step names.
const (
	StepIdentityRead      = "identity.read"
	StepIdentityPut       = "identity.put"
	StepIdentityDelete    = "identity.delete"
	StepAggregateRead     = "aggregate.read"
	StepAggregatePut      = "aggregate.put"
	StepAggregateReadback = "aggregate.readback"
	StepAggregateDelete   = "aggregate.delete"
	StepItemVerify        = "item.verify"
)

// sagaDeps is what every saga run reports to.
type sagaDeps struct {
	logger  *slog.Logger
	metrics metrics.Recorder
	drift   DriftReporter
}

// saga is one run of a multi-store operation. Steps execute immediately and
// in order. There is no rollback: when a step fails after an earlier step
// committed a write, the run ends in drift and is reported for
// reconciliation.
type saga struct {
	deps      sagaDeps
	runID     string
	op        string
	listID    uuid.UUID
	itemID    *uuid.UUID
	committed []string
	drifted   bool
	started   time.Time
	logger    *slog.Logger
}

func (d sagaDeps) begin(ctx context.Context, op string, listID uuid.UUID, itemID *uuid.UUID) *saga {
	sg := &saga{
		deps:    d,
		runID:   ulid.Make().String(),
		op:      op,
		listID:  listID,
		itemID:  itemID,
		started: time.Now(),
	}
	sg.logger = d.logger.With("op", op, "run_id", sg.runID, "list_id", listID)
	if itemID != nil {
		sg.logger = sg.logger.With("item_id", *itemID)
	}
	sg.logger.DebugContext(ctx, "saga started")
	return sg
}

// step runs fn as the named step. A committing step is one whose success
// changes a store; later failures then leave the stores diverged for the
// given reason.
func (sg *saga) step(ctx context.Context, name string, commits bool, reason model.DriftReason, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		sg.fail(ctx, name, reason, err)
		return err
	}
	if commits {
		sg.committed = append(sg.committed, name)
	}
	sg.logger.DebugContext(ctx, "saga step done", "step", name)
	return nil
}

func (sg *saga) fail(ctx context.Context, name string, reason model.DriftReason, err error) {
	if len(sg.committed) == 0 || reason == "" {
		sg.logger.WarnContext(ctx, "saga step failed",
			"step", name,
			"error", err,
		)
		return
	}

	sg.drifted = true
	sg.logger.WarnContext(ctx, "saga step failed after commit, stores diverged",
		"step", name,
		"committed", sg.committed,
		"reason", reason,
		"error", err,
	)
	sg.deps.metrics.IncDrift(string(reason))
	sg.report(ctx, reason)
}

func (sg *saga) report(ctx context.Context, reason model.DriftReason) {
	sg.deps.report(ctx, sg.op, sg.listID, sg.itemID, reason)
}

// report hands a drift record to the reporter. A reporter failure is
// logged and otherwise ignored.
func (d sagaDeps) report(ctx context.Context, op string, listID uuid.UUID, itemID *uuid.UUID, reason model.DriftReason) {
	rec := model.DriftRecord{
		ID:         ulid.Make().String(),
		ListID:     listID,
		ItemID:     itemID,
		Reason:     reason,
		Operation:  op,
		DetectedAt: time.Now().UTC(),
	}
	if err := d.drift.ReportDrift(ctx, rec); err != nil {
		d.logger.ErrorContext(ctx, "failed to report drift",
			"drift_id", rec.ID,
			"list_id", listID,
			"reason", reason,
			"error", err,
		)
	}
}

// end records the outcome of the run.
func (sg *saga) end(ctx context.Context, err error) {
	outcome := outcomeOf(err)
	if sg.drifted {
		outcome = metrics.OutcomeDrift
	}
	sg.deps.metrics.IncSyncOperation(sg.op, outcome)
	sg.deps.metrics.ObserveSyncDuration(sg.op, time.Since(sg.started))
	sg.logger.DebugContext(ctx, "saga finished",
		"outcome", outcome,
		"duration", time.Since(sg.started),
	)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case IsNotFound(err):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeFailed
	}
}
