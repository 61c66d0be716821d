package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/listsync/listsync/internal/model"
)

const listItemColumns = `liid, parent_lid, child_lid, origin_liid, origin_lid, top_liid, top_lid,
	user_id, org_id, created_on_utc, validated_on_utc`

// GetListItem returns the identity row of a list item, or nil.
func (r *Repository) GetListItem(ctx context.Context, id uuid.UUID) (*model.ListItemIdentity, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + listItemColumns + ` FROM ld_get_tlistitem($1)`

	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get list item %s: %w", id, err)
	}
	items, err := pgx.CollectRows(rows, scanListItem)
	if err != nil {
		return nil, fmt.Errorf("failed to scan list item %s: %w", id, err)
	}

	return firstOf(r, ctx, EntityListItem, id.String(), items), nil
}

// GetListItems returns every item identity row of a list. An empty result
// is not an error.
func (r *Repository) GetListItems(ctx context.Context, listID uuid.UUID) ([]model.ListItemIdentity, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + listItemColumns + ` FROM ld_get_tlistitems($1)`

	rows, err := r.pool.Query(ctx, query, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to get items of list %s: %w", listID, err)
	}
	items, err := pgx.CollectRows(rows, scanListItem)
	if err != nil {
		return nil, fmt.Errorf("failed to scan items of list %s: %w", listID, err)
	}
	return items, nil
}

// PutListItem upserts a list item identity row. Like PutList it is
// idempotent: created_on_utc is assigned once. A row never changes parent:
// when item.ID already belongs to another list that row is returned
// unchanged and the caller must compare ListID.
func (r *Repository) PutListItem(ctx context.Context, item *model.ListItemIdentity) (*model.ListItemIdentity, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + listItemColumns + ` FROM ld_put_tlistitem($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	rows, err := r.pool.Query(ctx, query,
		item.ListID,
		item.ID,
		item.ChildListID,
		item.OriginItemID,
		item.OriginListID,
		item.TopItemID,
		item.TopListID,
		item.UserID,
		item.OrgID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to put list item %s: %w", item.ID, err)
	}
	items, err := pgx.CollectRows(rows, scanListItem)
	if err != nil {
		return nil, fmt.Errorf("failed to put list item %s: %w", item.ID, err)
	}

	saved := firstOf(r, ctx, EntityListItem, item.ID.String(), items)
	if saved == nil {
		return nil, fmt.Errorf("failed to put list item %s: %w", item.ID, ErrNoRowReturned)
	}
	return saved, nil
}

// DeleteListItem removes a single list item identity row.
func (r *Repository) DeleteListItem(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `SELECT ld_del_tlistitem($1)`, id); err != nil {
		return fmt.Errorf("failed to delete list item %s: %w", id, err)
	}
	return nil
}

// scanListItem scans a t_list_item row into a ListItemIdentity.
func scanListItem(row pgx.CollectableRow) (model.ListItemIdentity, error) {
	var item model.ListItemIdentity
	err := row.Scan(
		&item.ID,
		&item.ListID,
		&item.ChildListID,
		&item.OriginItemID,
		&item.OriginListID,
		&item.TopItemID,
		&item.TopListID,
		&item.UserID,
		&item.OrgID,
		&item.CreatedAt,
		&item.ValidatedAt,
	)
	return item, err
}
