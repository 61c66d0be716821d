package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/listsync/listsync/internal/metrics"
	"github.com/listsync/listsync/internal/model"
	"github.com/listsync/listsync/internal/service"
)

// Outcome is the result class of one resync.
type Outcome string

// Resync outcomes. They double as the reconcile metric labels.
const (
	// OutcomeClean means both stores already agreed.
	OutcomeClean Outcome = "clean"
	// OutcomeRepaired means the aggregate was rewritten or removed.
	OutcomeRepaired Outcome = "repaired"
	// OutcomeUnresolved means the aggregate cannot be derived from identity
	// rows and needs an operator.
	OutcomeUnresolved Outcome = "unresolved"

	outcomeFailed       = "failed"
	outcomeDeadLettered = "dead_lettered"
)

// DefaultLockTTL bounds how long one resync holds its list lock.
const DefaultLockTTL = 30 * time.Second

// ErrBusy means another resync of the same list is running.
var ErrBusy = errors.New("list resync already in progress")

// Locker hands out named, expiring locks. cache.Cache implements it.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Result describes what a resync found and did.
type Result struct {
	ListID           uuid.UUID   `json:"list_id"`
	Outcome          Outcome     `json:"outcome"`
	AggregateDeleted bool        `json:"aggregate_deleted,omitempty"`
	DroppedItems     []uuid.UUID `json:"dropped_items,omitempty"`
	RefreshedItems   []uuid.UUID `json:"refreshed_items,omitempty"`
	OrphanRows       []uuid.UUID `json:"orphan_rows,omitempty"`
	IdentityRefresh  bool        `json:"identity_refreshed,omitempty"`
}

// Reconciler brings a list aggregate back in line with the identity store,
// which is the system of record for ids, ownership and existence.
type Reconciler struct {
	identity   service.IdentityStore
	aggregates service.AggregateStore
	logger     *slog.Logger
	metrics    metrics.Recorder
	locker     Locker
	lockTTL    time.Duration
}

// NewReconciler creates a Reconciler.
func NewReconciler(identity service.IdentityStore, aggregates service.AggregateStore, logger *slog.Logger, recorder metrics.Recorder) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Reconciler{
		identity:   identity,
		aggregates: aggregates,
		logger:     logger.With("component", "reconcile.reconciler"),
		metrics:    recorder,
		lockTTL:    DefaultLockTTL,
	}
}

// SetLocker serializes resyncs of the same list across processes.
func (r *Reconciler) SetLocker(locker Locker, ttl time.Duration) {
	r.locker = locker
	if ttl > 0 {
		r.lockTTL = ttl
	}
}

// Resync compares the identity rows of list listID with its aggregate and
// repairs the aggregate. Running it again on a repaired list is clean.
//
//   - no row, no aggregate: clean
//   - no row, aggregate: the aggregate is deleted
//   - row, no aggregate: unresolved, the document fields are lost
//   - row, aggregate: items without a row are dropped, identity fields are
//     copied from the rows, and the aggregate is written only if it changed
func (r *Reconciler) Resync(ctx context.Context, listID uuid.UUID) (*Result, error) {
	start := time.Now()
	res, err := r.lockedResync(ctx, listID)
	if err != nil {
		r.metrics.IncReconciled(outcomeFailed)
		r.logger.WarnContext(ctx, "resync failed", "list_id", listID, "error", err)
		return nil, err
	}

	r.metrics.IncReconciled(string(res.Outcome))
	r.logger.InfoContext(ctx, "list resynced",
		"list_id", listID,
		"outcome", res.Outcome,
		"dropped_items", len(res.DroppedItems),
		"duration", time.Since(start),
	)
	return res, nil
}

func (r *Reconciler) lockedResync(ctx context.Context, listID uuid.UUID) (*Result, error) {
	if r.locker == nil {
		return r.resync(ctx, listID)
	}

	release, ok, err := r.locker.TryLock(ctx, "resync:"+listID.String(), r.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("list %s: %w", listID, ErrBusy)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.logger.WarnContext(ctx, "failed to release resync lock", "list_id", listID, "error", err)
		}
	}()
	return r.resync(ctx, listID)
}

func (r *Reconciler) resync(ctx context.Context, listID uuid.UUID) (*Result, error) {
	res := &Result{ListID: listID, Outcome: OutcomeClean}

	row, err := r.identity.GetList(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity of list %s: %w", listID, err)
	}
	list, err := r.aggregates.Get(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregate of list %s: %w", listID, err)
	}

	switch {
	case row == nil && list == nil:
		return res, nil

	case row == nil:
		if err := r.aggregates.Delete(ctx, listID); err != nil {
			return nil, fmt.Errorf("failed to delete orphan aggregate %s: %w", listID, err)
		}
		res.Outcome = OutcomeRepaired
		res.AggregateDeleted = true
		return res, nil

	case list == nil:
		r.logger.WarnContext(ctx, "identity row has no aggregate, cannot rebuild document",
			"list_id", listID,
		)
		res.Outcome = OutcomeUnresolved
		return res, nil
	}

	rows, err := r.identity.GetListItems(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to read item identities of list %s: %w", listID, err)
	}

	next, changed := repair(list, *row, rows, res)
	if len(res.OrphanRows) > 0 {
		r.logger.InfoContext(ctx, "item rows without aggregate entry left in place",
			"list_id", listID,
			"orphans", res.OrphanRows,
		)
	}
	if !changed {
		return res, nil
	}

	if err := r.aggregates.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to write repaired aggregate %s: %w", listID, err)
	}
	res.Outcome = OutcomeRepaired
	return res, nil
}

// repair returns a copy of list with its identity fields taken from the
// rows. Items that were persisted once but have no row any more are
// dropped. Items never persisted have no row to compare with and are kept.
func repair(list *model.List, row model.ListIdentity, rows []model.ListItemIdentity, res *Result) (*model.List, bool) {
	next := list.Clone()
	changed := false

	if !sameListIdentity(next.Identity, row) {
		next.Identity = row
		res.IdentityRefresh = true
		changed = true
	}

	byID := make(map[uuid.UUID]model.ListItemIdentity, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	kept := make([]model.ListItem, 0, len(next.Items))
	for _, item := range next.Items {
		itemRow, ok := byID[item.ID]
		delete(byID, item.ID)
		switch {
		case !ok && item.Persisted():
			res.DroppedItems = append(res.DroppedItems, item.ID)
			changed = true
			continue
		case ok && !sameItemIdentity(item.Identity, itemRow):
			item.Identity = itemRow
			res.RefreshedItems = append(res.RefreshedItems, item.ID)
			changed = true
		}
		kept = append(kept, item)
	}
	next.Items = kept

	for _, r := range rows {
		if _, orphan := byID[r.ID]; orphan {
			res.OrphanRows = append(res.OrphanRows, r.ID)
		}
	}
	return next, changed
}

func sameListIdentity(a, b model.ListIdentity) bool {
	return a.ID == b.ID &&
		sameUUID(a.UserID, b.UserID) &&
		sameUUID(a.OrgID, b.OrgID) &&
		sameTime(a.CreatedAt, b.CreatedAt) &&
		sameTime(a.ValidatedAt, b.ValidatedAt)
}

func sameItemIdentity(a, b model.ListItemIdentity) bool {
	return a.ID == b.ID &&
		a.ListID == b.ListID &&
		sameUUID(a.ChildListID, b.ChildListID) &&
		sameUUID(a.OriginItemID, b.OriginItemID) &&
		sameUUID(a.OriginListID, b.OriginListID) &&
		sameUUID(a.TopItemID, b.TopItemID) &&
		sameUUID(a.TopListID, b.TopListID) &&
		sameUUID(a.UserID, b.UserID) &&
		sameUUID(a.OrgID, b.OrgID) &&
		sameTime(a.CreatedAt, b.CreatedAt) &&
		sameTime(a.ValidatedAt, b.ValidatedAt)
}

func sameUUID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameTime compares instants. The stores round-trip times with different
// locations and precision, so both sides are truncated to microseconds.
func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}
