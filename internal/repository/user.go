package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/listsync/listsync/internal/model"
)

const userColumns = `user_id, user_email, org_id, created_on_utc, validated_on_utc`

// GetUser looks a user up by id, by email, or by both. With both, the user
// is returned only when the id and the email identify the same row. With
// neither, the result is nil without a round trip.
func (r *Repository) GetUser(ctx context.Context, id *uuid.UUID, email *string) (*model.User, error) {
	if id == nil && email == nil {
		return nil, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	key := userKey(id, email)
	query := `SELECT ` + userColumns + ` FROM ld_get_tuser($1, $2)`

	rows, err := r.pool.Query(ctx, query, id, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", key, err)
	}
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, fmt.Errorf("failed to scan user %s: %w", key, err)
	}

	return firstOf(r, ctx, EntityUser, key, users), nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.GetUser(ctx, &id, nil)
}

// GetUserByEmail retrieves a user by their email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.GetUser(ctx, nil, &email)
}

// PutUser creates a user for email, or returns the existing one.
func (r *Repository) PutUser(ctx context.Context, email string, orgID *uuid.UUID) (*model.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM ld_put_tuser($1, $2)`

	rows, err := r.pool.Query(ctx, query, email, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to put user %s: %w", email, err)
	}
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, fmt.Errorf("failed to put user %s: %w", email, err)
	}

	saved := firstOf(r, ctx, EntityUser, email, users)
	if saved == nil {
		return nil, fmt.Errorf("failed to put user %s: %w", email, ErrNoRowReturned)
	}
	return saved, nil
}

// DeleteUser removes a user row. Lists owned by the user keep existing with
// no owner.
func (r *Repository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `SELECT ld_del_tuser($1)`, id); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	return nil
}

// scanUser scans a t_user row into a User.
func scanUser(row pgx.CollectableRow) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.OrgID,
		&user.CreatedAt,
		&user.ValidatedAt,
	)
	return user, err
}

func userKey(id *uuid.UUID, email *string) string {
	parts := make([]string, 0, 2)
	if id != nil {
		parts = append(parts, "id="+id.String())
	}
	if email != nil {
		parts = append(parts, "email="+*email)
	}
	return strings.Join(parts, ",")
}
