package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/listsync/listsync/internal/model"
)

// MemIdentity is an in-memory identity store with the semantics of the
// ld_* stored functions: idempotent puts that keep the first creation
// timestamp, cascading list deletes and AND semantics on user lookups.
type MemIdentity struct {
	mu    sync.Mutex
	users map[uuid.UUID]model.User
	lists map[uuid.UUID]model.ListIdentity
	items map[uuid.UUID]model.ListItemIdentity
	fail  map[string]error
	calls map[string]int
	clock time.Time
}

// NewMemIdentity creates an empty store.
func NewMemIdentity() *MemIdentity {
	return &MemIdentity{
		users: make(map[uuid.UUID]model.User),
		lists: make(map[uuid.UUID]model.ListIdentity),
		items: make(map[uuid.UUID]model.ListItemIdentity),
		fail:  make(map[string]error),
		calls: make(map[string]int),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// FailOn makes every call of the named method return err until cleared
// with a nil err.
func (m *MemIdentity) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, method)
		return
	}
	m.fail[method] = err
}

// Calls returns how many times the named method was called.
func (m *MemIdentity) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MemIdentity) enter(ctx context.Context, method string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.calls[method]++
	return m.fail[method]
}

// now returns strictly increasing timestamps so ordering is stable.
func (m *MemIdentity) now() *time.Time {
	m.clock = m.clock.Add(time.Millisecond)
	t := m.clock
	return &t
}

func (m *MemIdentity) GetList(ctx context.Context, id uuid.UUID) (*model.ListIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetList"); err != nil {
		return nil, err
	}
	row, ok := m.lists[id]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *MemIdentity) PutList(ctx context.Context, list *model.ListIdentity) (*model.ListIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "PutList"); err != nil {
		return nil, err
	}
	if list.UserID != nil {
		if _, ok := m.users[*list.UserID]; !ok {
			return nil, foreignKeyViolation("t_list_user_id_fkey")
		}
	}

	row, ok := m.lists[list.ID]
	if !ok {
		row = model.ListIdentity{ID: list.ID, CreatedAt: m.now()}
	}
	if list.UserID != nil {
		row.UserID = list.UserID
	}
	if list.OrgID != nil {
		row.OrgID = list.OrgID
	}
	m.lists[list.ID] = row
	return &row, nil
}

func (m *MemIdentity) DeleteList(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "DeleteList"); err != nil {
		return err
	}
	delete(m.lists, id)
	for liid, item := range m.items {
		if item.ListID == id {
			delete(m.items, liid)
		}
	}
	return nil
}

func (m *MemIdentity) GetListIDsByUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetListIDsByUser"); err != nil {
		return nil, err
	}
	var rows []model.ListIdentity
	for _, row := range m.lists {
		if row.UserID != nil && *row.UserID == userID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(*rows[j].CreatedAt)
	})
	ids := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids, nil
}

func (m *MemIdentity) GetListItem(ctx context.Context, id uuid.UUID) (*model.ListItemIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetListItem"); err != nil {
		return nil, err
	}
	row, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *MemIdentity) GetListItems(ctx context.Context, listID uuid.UUID) ([]model.ListItemIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetListItems"); err != nil {
		return nil, err
	}
	var rows []model.ListItemIdentity
	for _, row := range m.items {
		if row.ListID == listID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(*rows[j].CreatedAt)
	})
	return rows, nil
}

func (m *MemIdentity) PutListItem(ctx context.Context, item *model.ListItemIdentity) (*model.ListItemIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "PutListItem"); err != nil {
		return nil, err
	}
	if _, ok := m.lists[item.ListID]; !ok {
		return nil, foreignKeyViolation("t_list_item_parent_lid_fkey")
	}

	row, ok := m.items[item.ID]
	switch {
	case !ok:
		row = *item
		row.CreatedAt = m.now()
		row.ValidatedAt = nil
	case row.ListID != item.ListID:
		// The row stays with its parent and is returned unchanged.
		return &row, nil
	case item.ChildListID != nil:
		row.ChildListID = item.ChildListID
	}
	m.items[item.ID] = row
	return &row, nil
}

func (m *MemIdentity) DeleteListItem(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "DeleteListItem"); err != nil {
		return err
	}
	delete(m.items, id)
	return nil
}

func (m *MemIdentity) GetUser(ctx context.Context, id *uuid.UUID, email *string) (*model.User, error) {
	if id == nil && email == nil {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetUser"); err != nil {
		return nil, err
	}
	for _, u := range m.users {
		if id != nil && u.ID != *id {
			continue
		}
		if email != nil && u.Email != strings.ToLower(*email) {
			continue
		}
		return &u, nil
	}
	return nil, nil
}

func (m *MemIdentity) PutUser(ctx context.Context, email string, orgID *uuid.UUID) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "PutUser"); err != nil {
		return nil, err
	}
	email = strings.ToLower(email)
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	u := model.User{
		ID:        uuid.New(),
		Email:     email,
		OrgID:     orgID,
		CreatedAt: *m.now(),
	}
	m.users[u.ID] = u
	return &u, nil
}

func (m *MemIdentity) DeleteUser(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "DeleteUser"); err != nil {
		return err
	}
	delete(m.users, id)
	for lid, row := range m.lists {
		if row.UserID != nil && *row.UserID == id {
			row.UserID = nil
			m.lists[lid] = row
		}
	}
	return nil
}

func foreignKeyViolation(constraint string) error {
	return &pgconn.PgError{
		Severity:       "ERROR",
		Code:           "23503",
		Message:        "insert or update violates foreign key constraint",
		ConstraintName: constraint,
	}
}
