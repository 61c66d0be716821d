package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/listsync/listsync/internal/model"
)

// IdentityStore is the relational system of record for list and item
// identity. Lookups return nil, nil when the row does not exist.
type IdentityStore interface {
	GetList(ctx context.Context, id uuid.UUID) (*model.ListIdentity, error)
	PutList(ctx context.Context, list *model.ListIdentity) (*model.ListIdentity, error)
	DeleteList(ctx context.Context, id uuid.UUID) error
	GetListIDsByUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	GetListItem(ctx context.Context, id uuid.UUID) (*model.ListItemIdentity, error)
	GetListItems(ctx context.Context, listID uuid.UUID) ([]model.ListItemIdentity, error)
	PutListItem(ctx context.Context, item *model.ListItemIdentity) (*model.ListItemIdentity, error)
	DeleteListItem(ctx context.Context, id uuid.UUID) error
}

// UserStore holds user identity rows.
type UserStore interface {
	GetUser(ctx context.Context, id *uuid.UUID, email *string) (*model.User, error)
	PutUser(ctx context.Context, email string, orgID *uuid.UUID) (*model.User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

// AggregateStore holds the list aggregates. Get and BatchGet must read
// strongly consistent data. Create must fail with docstore.ErrAlreadyExists
// instead of replacing a stored aggregate.
type AggregateStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.List, error)
	Create(ctx context.Context, list *model.List) error
	Put(ctx context.Context, list *model.List) error
	Delete(ctx context.Context, id uuid.UUID) error
	BatchGet(ctx context.Context, ids []uuid.UUID, fields ...string) (map[uuid.UUID]*model.List, error)
}

// DriftReporter receives detected divergences between the two stores.
type DriftReporter interface {
	ReportDrift(ctx context.Context, rec model.DriftRecord) error
}

// NoopDriftReporter discards drift records.
type NoopDriftReporter struct{}

// ReportDrift implements DriftReporter.
func (NoopDriftReporter) ReportDrift(context.Context, model.DriftRecord) error {
	return nil
}
