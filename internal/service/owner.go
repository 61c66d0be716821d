package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/listsync/listsync/internal/model"
)

// OwnerLists is the resolved set of lists of one owner.
type OwnerLists struct {
	UserID uuid.UUID
	// IDs is the owner index as held by the identity store.
	IDs []uuid.UUID
	// Lists holds the aggregates found, in IDs order.
	Lists []*model.List
	// Missing holds indexed ids with no aggregate.
	Missing []uuid.UUID
}

// OwnerIndex maps a user to the lists it owns.
type OwnerIndex struct {
	identity   IdentityStore
	aggregates AggregateStore
	fields     []string
}

// NewOwnerIndex creates an OwnerIndex. When fields is not empty only those
// aggregate attributes are fetched.
func NewOwnerIndex(identity IdentityStore, aggregates AggregateStore, fields ...string) *OwnerIndex {
	return &OwnerIndex{identity: identity, aggregates: aggregates, fields: fields}
}

// Resolve reads the owner index of userID and fetches the aggregates it
// names. An owner without lists resolves to empty IDs and no aggregate
// read is made.
func (o *OwnerIndex) Resolve(ctx context.Context, userID uuid.UUID) (*OwnerLists, error) {
	ids, err := o.identity.GetListIDsByUser(ctx, userID)
	if err != nil {
		return nil, syncErr(ErrIdentityReadFailed, EntityUser, userID, err)
	}

	res := &OwnerLists{UserID: userID, IDs: ids}
	if len(ids) == 0 {
		return res, nil
	}

	found, err := o.aggregates.BatchGet(ctx, ids, o.fields...)
	if err != nil {
		return nil, syncErr(ErrAggregateReadFailed, EntityUser, userID, err)
	}

	res.Lists = make([]*model.List, 0, len(ids))
	for _, id := range ids {
		if list, ok := found[id]; ok && list != nil {
			res.Lists = append(res.Lists, list)
			continue
		}
		res.Missing = append(res.Missing, id)
	}
	return res, nil
}
