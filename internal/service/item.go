package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/listsync/listsync/internal/model"
)

// ItemSynchronizer adds, updates and removes items of a list aggregate.
// Item identity rows are written through the identity store; the parent
// aggregate is persisted through the list synchronizer's save path.
type ItemSynchronizer struct {
	lists    *ListSynchronizer
	identity IdentityStore
	deps     sagaDeps
}

// NewItemSynchronizer creates an ItemSynchronizer on top of lists.
func NewItemSynchronizer(lists *ListSynchronizer, opts Options) *ItemSynchronizer {
	return &ItemSynchronizer{
		lists:    lists,
		identity: lists.identity,
		deps:     opts.deps("item_sync"),
	}
}

// Upsert adds item to its parent list, or overwrites the title and
// description of the entry with the same id. A new item gets its identity
// row before the parent is written; an id whose row already belongs to
// another list fails with ErrItemParentMismatch. The returned item is the
// entry as re-read from the aggregate store.
func (s *ItemSynchronizer) Upsert(ctx context.Context, item model.ListItem) (*model.ListItem, error) {
	if item.ID == uuid.Nil || item.Identity.ListID == uuid.Nil || len(item.Title) > MaxTitleLength {
		return nil, ErrInvalidItem
	}
	listID := item.Identity.ListID
	sg := s.deps.begin(ctx, OpItemUpsert, listID, &item.ID)

	result, err := s.upsert(ctx, sg, listID, item)
	sg.end(ctx, err)
	return result, err
}

func (s *ItemSynchronizer) upsert(ctx context.Context, sg *saga, listID uuid.UUID, item model.ListItem) (*model.ListItem, error) {
	parent, err := s.loadParent(ctx, sg, listID)
	if err != nil {
		return nil, err
	}

	plan := model.PlanUpsert(parent.Items, item.ID)
	switch plan.Action {
	case model.UpsertMerge:
		model.ApplyMerge(parent.Items, plan, item)
	case model.UpsertCreate:
		if len(parent.Items) >= MaxItems {
			return nil, ErrInvalidItem
		}
		ident := item.Identity
		ident.ID = item.ID
		ident.ListID = listID
		if ident.UserID == nil {
			ident.UserID = parent.Identity.UserID
		}
		if ident.OrgID == nil {
			ident.OrgID = parent.Identity.OrgID
		}

		err := sg.step(ctx, StepIdentityPut, true, "", func(ctx context.Context) error {
			row, err := s.identity.PutListItem(ctx, &ident)
			if err != nil {
				return syncErr(ErrItemCreateFailed, EntityListItem, item.ID, err)
			}
			if row.ListID != listID {
				return syncErr(ErrItemParentMismatch, EntityListItem, item.ID, nil)
			}
			ident = *row
			return nil
		})
		if err != nil {
			return nil, err
		}
		parent.Items = append(parent.Items, model.NewPersistedItem(item, ident))
	}

	saved, err := s.lists.save(ctx, sg, parent)
	if err != nil {
		return nil, err
	}

	var result *model.ListItem
	err = sg.step(ctx, StepItemVerify, false, model.DriftItemWriteFailed, func(context.Context) error {
		found := saved.Item(item.ID)
		if found == nil {
			return syncErr(ErrItemPersistMismatch, EntityListItem, item.ID, nil)
		}
		c := found.Clone()
		result = &c
		return nil
	})
	return result, err
}

// Delete removes item itemID from list listID. The identity row goes
// first and its failure aborts the operation. An item whose row names
// another parent list fails with ErrItemParentMismatch and nothing is
// deleted. When the parent has no such
// entry the aggregate is returned unchanged without a write.
func (s *ItemSynchronizer) Delete(ctx context.Context, listID, itemID uuid.UUID) (*model.List, error) {
	sg := s.deps.begin(ctx, OpItemDelete, listID, &itemID)

	result, err := s.delete(ctx, sg, listID, itemID)
	sg.end(ctx, err)
	return result, err
}

func (s *ItemSynchronizer) delete(ctx context.Context, sg *saga, listID, itemID uuid.UUID) (*model.List, error) {
	err := sg.step(ctx, StepIdentityRead, false, "", func(ctx context.Context) error {
		row, err := s.identity.GetListItem(ctx, itemID)
		if err != nil {
			return syncErr(ErrIdentityReadFailed, EntityListItem, itemID, err)
		}
		if row != nil && row.ListID != listID {
			return syncErr(ErrItemParentMismatch, EntityListItem, itemID, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = sg.step(ctx, StepIdentityDelete, true, "", func(ctx context.Context) error {
		if err := s.identity.DeleteListItem(ctx, itemID); err != nil {
			return syncErr(ErrIdentityDeleteFailed, EntityListItem, itemID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	parent, err := s.loadParent(ctx, sg, listID)
	if err != nil {
		return nil, err
	}

	items, removed := model.RemoveItem(parent.Items, itemID)
	if !removed {
		sg.logger.DebugContext(ctx, "item not in aggregate, nothing to remove")
		return parent, nil
	}
	parent.Items = items

	return s.lists.save(ctx, sg, parent)
}

// loadParent reads the parent aggregate. An absent parent is a not-found
// outcome, not drift: the aggregate cannot hold the item either.
func (s *ItemSynchronizer) loadParent(ctx context.Context, sg *saga, listID uuid.UUID) (*model.List, error) {
	var parent *model.List
	err := sg.step(ctx, StepAggregateRead, false, model.DriftItemWriteFailed, func(ctx context.Context) error {
		got, err := s.lists.aggregates.Get(ctx, listID)
		if err != nil {
			return syncErr(ErrAggregateReadFailed, EntityList, listID, err)
		}
		parent = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, syncErr(ErrParentNotFound, EntityList, listID, nil)
	}
	return parent, nil
}
