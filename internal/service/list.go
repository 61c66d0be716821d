// Package service synchronizes list aggregates across the identity store
// and the aggregate store.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/listsync/listsync/internal/docstore"
	"github.com/listsync/listsync/internal/metrics"
	"github.com/listsync/listsync/internal/model"
)

// Limits enforced on list documents.
const (
	MaxTitleLength = 512
	MaxTags        = 64
	MaxItems       = 1000
)

// Options configures the synchronizers.
type Options struct {
	Logger  *slog.Logger
	Metrics metrics.Recorder
	Drift   DriftReporter
}

func (o Options) deps(component string) sagaDeps {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := o.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	drift := o.Drift
	if drift == nil {
		drift = NoopDriftReporter{}
	}
	return sagaDeps{
		logger:  logger.With("component", component),
		metrics: recorder,
		drift:   drift,
	}
}

// ListSynchronizer creates, reads, updates and deletes list aggregates.
// The identity store is always written first and the aggregate store
// second; every write is confirmed by a consistent re-read.
type ListSynchronizer struct {
	identity   IdentityStore
	aggregates AggregateStore
	owners     *OwnerIndex
	deps       sagaDeps
}

// NewListSynchronizer creates a ListSynchronizer.
func NewListSynchronizer(identity IdentityStore, aggregates AggregateStore, opts Options) *ListSynchronizer {
	return &ListSynchronizer{
		identity:   identity,
		aggregates: aggregates,
		owners:     NewOwnerIndex(identity, aggregates),
		deps:       opts.deps("list_sync"),
	}
}

// Save creates or updates list. A draft list gets its identity row, and
// with it its creation timestamp, before the aggregate is written. Saving a
// draft whose aggregate already exists does not overwrite it: the stored
// aggregate is returned as is, unless the id belongs to another owner, in
// which case ErrListExists is returned and nothing is written. The returned
// list is the aggregate as re-read after the write.
func (s *ListSynchronizer) Save(ctx context.Context, list *model.List) (*model.List, error) {
	if err := validateList(list); err != nil {
		return nil, err
	}

	sg := s.deps.begin(ctx, OpListSave, list.ID, nil)
	saved, err := s.save(ctx, sg, list.Clone())
	sg.end(ctx, err)
	return saved, err
}

// save runs the identity and aggregate steps of a save inside sg. list is
// owned by the callee.
func (s *ListSynchronizer) save(ctx context.Context, sg *saga, list *model.List) (*model.List, error) {
	list.Identity.ID = list.ID
	draft := !list.Persisted()

	if draft {
		row, err := s.existingRow(ctx, sg, list)
		if err != nil {
			return nil, err
		}
		if row != nil {
			list.Identity = *row
		} else {
			err = sg.step(ctx, StepIdentityPut, true, "", func(ctx context.Context) error {
				row, err := s.identity.PutList(ctx, &list.Identity)
				if err != nil {
					return syncErr(ErrCreateFailed, EntityList, list.ID, err)
				}
				list.Identity = *row
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	err := sg.step(ctx, StepAggregatePut, true, model.DriftAggregateWriteFailed, func(ctx context.Context) error {
		write := s.aggregates.Put
		if draft {
			write = s.aggregates.Create
		}
		err := write(ctx, list)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, docstore.ErrAlreadyExists):
			sg.logger.InfoContext(ctx, "aggregate already created, keeping stored copy")
			return nil
		case errors.Is(err, docstore.ErrVersionConflict):
			return syncErr(ErrVersionConflict, EntityList, list.ID, err)
		default:
			return syncErr(ErrAggregateWriteFailed, EntityList, list.ID, err)
		}
	})
	if err != nil {
		return nil, err
	}

	var saved *model.List
	err = sg.step(ctx, StepAggregateReadback, false, model.DriftReadbackMissing, func(ctx context.Context) error {
		got, err := s.aggregates.Get(ctx, list.ID)
		if err != nil {
			return syncErr(ErrAggregateReadFailed, EntityList, list.ID, err)
		}
		if got == nil {
			return syncErr(ErrReadbackMissing, EntityList, list.ID, nil)
		}
		saved = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// existingRow returns the identity row a draft would create, if an
// earlier attempt already created it. A row owned by another user fails
// with ErrListExists.
func (s *ListSynchronizer) existingRow(ctx context.Context, sg *saga, list *model.List) (*model.ListIdentity, error) {
	var row *model.ListIdentity
	err := sg.step(ctx, StepIdentityRead, false, "", func(ctx context.Context) error {
		got, err := s.identity.GetList(ctx, list.ID)
		if err != nil {
			return syncErr(ErrIdentityReadFailed, EntityList, list.ID, err)
		}
		if got != nil && list.OwnerID() != uuid.Nil && got.OwnerID() != list.OwnerID() {
			return syncErr(ErrListExists, EntityList, list.ID, nil)
		}
		row = got
		return nil
	})
	return row, err
}

// Read returns the aggregate of list id, or nil when it does not exist.
func (s *ListSynchronizer) Read(ctx context.Context, id uuid.UUID) (*model.List, error) {
	start := time.Now()
	list, err := s.aggregates.Get(ctx, id)
	if err != nil {
		err = syncErr(ErrAggregateReadFailed, EntityList, id, err)
	}

	outcome := outcomeOf(err)
	if err == nil && list == nil {
		outcome = metrics.OutcomeNotFound
	}
	s.deps.metrics.IncSyncOperation(OpListRead, outcome)
	s.deps.metrics.ObserveSyncDuration(OpListRead, time.Since(start))

	if err != nil {
		return nil, err
	}
	return list, nil
}

// ListDetails patches the document fields of a list. Nil fields are left
// unchanged.
type ListDetails struct {
	Title       *string
	Description *string
	Tags        *[]string
}

// UpdateDetails changes the document fields of an existing list and saves
// it.
func (s *ListSynchronizer) UpdateDetails(ctx context.Context, id uuid.UUID, details ListDetails) (*model.List, error) {
	sg := s.deps.begin(ctx, OpListUpdate, id, nil)

	list, err := s.aggregates.Get(ctx, id)
	switch {
	case err != nil:
		err = syncErr(ErrAggregateReadFailed, EntityList, id, err)
	case list == nil:
		err = syncErr(ErrListNotFound, EntityList, id, nil)
	}
	if err != nil {
		sg.end(ctx, err)
		return nil, err
	}

	if details.Title != nil {
		list.Title = *details.Title
	}
	if details.Description != nil {
		desc := *details.Description
		list.Description = &desc
	}
	if details.Tags != nil {
		list.Tags = append([]string(nil), (*details.Tags)...)
	}
	if err := validateList(list); err != nil {
		sg.end(ctx, err)
		return nil, err
	}

	saved, err := s.save(ctx, sg, list)
	sg.end(ctx, err)
	return saved, err
}

// Delete removes the identity row of list id, which cascades to its item
// rows, and then the aggregate. When the identity delete fails the
// aggregate is not touched.
func (s *ListSynchronizer) Delete(ctx context.Context, id uuid.UUID) error {
	sg := s.deps.begin(ctx, OpListDelete, id, nil)

	err := sg.step(ctx, StepIdentityDelete, true, "", func(ctx context.Context) error {
		if err := s.identity.DeleteList(ctx, id); err != nil {
			return syncErr(ErrIdentityDeleteFailed, EntityList, id, err)
		}
		return nil
	})
	if err == nil {
		err = sg.step(ctx, StepAggregateDelete, true, model.DriftAggregateDeleteFailed, func(ctx context.Context) error {
			if err := s.aggregates.Delete(ctx, id); err != nil {
				return syncErr(ErrAggregateDeleteFailed, EntityList, id, err)
			}
			return nil
		})
	}

	sg.end(ctx, err)
	return err
}

// ListForOwner returns the aggregates of every list owned by userID, in
// owner index order. It returns nil when the user owns no list. Lists the
// index names but the aggregate store lacks are logged and reported as
// drift; the lists that were found are still returned.
func (s *ListSynchronizer) ListForOwner(ctx context.Context, userID uuid.UUID) ([]*model.List, error) {
	start := time.Now()
	res, err := s.owners.Resolve(ctx, userID)

	outcome := outcomeOf(err)
	defer func() {
		s.deps.metrics.IncSyncOperation(OpListForOwner, outcome)
		s.deps.metrics.ObserveSyncDuration(OpListForOwner, time.Since(start))
	}()

	if err != nil {
		return nil, err
	}
	if len(res.IDs) == 0 {
		outcome = metrics.OutcomeNotFound
		return nil, nil
	}

	if len(res.Missing) > 0 {
		outcome = metrics.OutcomeDrift
		s.deps.logger.WarnContext(ctx, "owner index drift",
			"user_id", userID,
			"indexed", len(res.IDs),
			"found", len(res.Lists),
			"missing", res.Missing,
		)
		for _, id := range res.Missing {
			s.deps.metrics.IncDrift(string(model.DriftOwnerIndexMismatch))
			s.deps.report(ctx, OpListForOwner, id, nil, model.DriftOwnerIndexMismatch)
		}
	}

	return res.Lists, nil
}

func validateList(list *model.List) error {
	if list == nil || list.ID == uuid.Nil {
		return ErrInvalidList
	}
	if len(list.Title) > MaxTitleLength || len(list.Tags) > MaxTags || len(list.Items) > MaxItems {
		return ErrInvalidList
	}
	seen := make(map[uuid.UUID]struct{}, len(list.Items))
	for _, item := range list.Items {
		if item.ID == uuid.Nil {
			return ErrInvalidItem
		}
		if _, dup := seen[item.ID]; dup {
			return ErrInvalidItem
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}
