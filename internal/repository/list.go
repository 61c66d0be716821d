package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/listsync/listsync/internal/model"
)

const listColumns = `lid, user_id, org_id, created_on_utc, validated_on_utc`

// GetList returns the identity row of a list, or nil if it does not exist.
func (r *Repository) GetList(ctx context.Context, id uuid.UUID) (*model.ListIdentity, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + listColumns + ` FROM ld_get_tlist($1)`

	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get list %s: %w", id, err)
	}
	lists, err := pgx.CollectRows(rows, scanList)
	if err != nil {
		return nil, fmt.Errorf("failed to scan list %s: %w", id, err)
	}

	return firstOf(r, ctx, EntityList, id.String(), lists), nil
}

// PutList upserts a list identity row. The first insert assigns
// created_on_utc; repeat calls with the same id return it unchanged.
func (r *Repository) PutList(ctx context.Context, list *model.ListIdentity) (*model.ListIdentity, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + listColumns + ` FROM ld_put_tlist($1, $2, $3)`

	rows, err := r.pool.Query(ctx, query, list.ID, list.UserID, list.OrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to put list %s: %w", list.ID, err)
	}
	lists, err := pgx.CollectRows(rows, scanList)
	if err != nil {
		return nil, fmt.Errorf("failed to put list %s: %w", list.ID, err)
	}

	saved := firstOf(r, ctx, EntityList, list.ID.String(), lists)
	if saved == nil {
		return nil, fmt.Errorf("failed to put list %s: %w", list.ID, ErrNoRowReturned)
	}
	return saved, nil
}

// DeleteList removes a list identity row. The store cascades the delete to
// every t_list_item attached to it.
func (r *Repository) DeleteList(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `SELECT ld_del_tlist($1)`, id); err != nil {
		return fmt.Errorf("failed to delete list %s: %w", id, err)
	}
	return nil
}

// GetListIDsByUser returns the ids of every list owned by userID, oldest
// first.
func (r *Repository) GetListIDsByUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT lid FROM ld_get_tlist_ids_by_user($1)`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get list ids for user %s: %w", userID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan list ids for user %s: %w", userID, err)
	}
	return ids, nil
}

// scanList scans a t_list row into a ListIdentity.
func scanList(row pgx.CollectableRow) (model.ListIdentity, error) {
	var list model.ListIdentity
	err := row.Scan(
		&list.ID,
		&list.UserID,
		&list.OrgID,
		&list.CreatedAt,
		&list.ValidatedAt,
	)
	return list, err
}
