package model

import (
	"time"

	"github.com/google/uuid"
)

// ListItemIdentity mirrors a t_list_item row. Its fields are populated only
// after the item's first successful identity store write.
type ListItemIdentity struct {
	ID     uuid.UUID `json:"id"`
	ListID uuid.UUID `json:"list_id"`

	// ChildListID nests another list inside this item.
	ChildListID *uuid.UUID `json:"child_list_id,omitempty"`

	// Lineage of copied or derived items.
	OriginItemID *uuid.UUID `json:"origin_item_id,omitempty"`
	OriginListID *uuid.UUID `json:"origin_list_id,omitempty"`
	TopItemID    *uuid.UUID `json:"top_item_id,omitempty"`
	TopListID    *uuid.UUID `json:"top_list_id,omitempty"`

	UserID      *uuid.UUID `json:"user_id,omitempty"`
	OrgID       *uuid.UUID `json:"org_id,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
}

// NewListItemIdentity returns an unsaved identity with only the id and the
// parent list set.
func NewListItemIdentity(id, listID uuid.UUID) ListItemIdentity {
	return ListItemIdentity{ID: id, ListID: listID}
}

// ListItem is a single entry of a List aggregate.
type ListItem struct {
	ID          uuid.UUID        `json:"id"`
	Title       string           `json:"title"`
	Description *string          `json:"description,omitempty"`
	Identity    ListItemIdentity `json:"rel"`
}

// Persisted reports whether the identity store has created this item.
func (i *ListItem) Persisted() bool {
	return i.Identity.CreatedAt != nil
}

// Clone returns a deep copy of the item.
func (i ListItem) Clone() ListItem {
	i.Description = cloneString(i.Description)
	id := i.Identity
	id.ChildListID = cloneUUID(id.ChildListID)
	id.OriginItemID = cloneUUID(id.OriginItemID)
	id.OriginListID = cloneUUID(id.OriginListID)
	id.TopItemID = cloneUUID(id.TopItemID)
	id.TopListID = cloneUUID(id.TopListID)
	id.UserID = cloneUUID(id.UserID)
	id.OrgID = cloneUUID(id.OrgID)
	id.CreatedAt = cloneTime(id.CreatedAt)
	id.ValidatedAt = cloneTime(id.ValidatedAt)
	i.Identity = id
	return i
}

// ItemLookup is the result of searching a list's items by id.
type ItemLookup struct {
	Found bool
	Index int
}

// FindItem scans items for id. Ids are unique within a list, so the first
// match is the only match.
func FindItem(items []ListItem, id uuid.UUID) ItemLookup {
	for i := range items {
		if items[i].ID == id {
			return ItemLookup{Found: true, Index: i}
		}
	}
	return ItemLookup{}
}

// UpsertAction says what an upsert has to do with the parent's items.
type UpsertAction int

// Upsert actions.
const (
	// UpsertMerge overwrites the document fields of an existing entry.
	UpsertMerge UpsertAction = iota
	// UpsertCreate needs a new identity row before the entry is appended.
	UpsertCreate
)

// UpsertPlan is the pure decision behind an item upsert.
type UpsertPlan struct {
	Action UpsertAction
	Index  int
}

// PlanUpsert decides between merging into an existing entry and creating a
// new one.
func PlanUpsert(items []ListItem, id uuid.UUID) UpsertPlan {
	lookup := FindItem(items, id)
	if lookup.Found {
		return UpsertPlan{Action: UpsertMerge, Index: lookup.Index}
	}
	return UpsertPlan{Action: UpsertCreate, Index: -1}
}

// ApplyMerge copies incoming's document fields into items[plan.Index].
// Identity fields are left alone.
func ApplyMerge(items []ListItem, plan UpsertPlan, incoming ListItem) {
	target := &items[plan.Index]
	target.Title = incoming.Title
	target.Description = cloneString(incoming.Description)
}

// NewPersistedItem combines caller document fields with a persisted identity.
func NewPersistedItem(incoming ListItem, identity ListItemIdentity) ListItem {
	return ListItem{
		ID:          identity.ID,
		Title:       incoming.Title,
		Description: cloneString(incoming.Description),
		Identity:    identity,
	}
}

// RemoveItem removes exactly one entry with the given id. It returns the new
// slice and whether anything was removed.
func RemoveItem(items []ListItem, id uuid.UUID) ([]ListItem, bool) {
	lookup := FindItem(items, id)
	if !lookup.Found {
		return items, false
	}
	out := make([]ListItem, 0, len(items)-1)
	out = append(out, items[:lookup.Index]...)
	out = append(out, items[lookup.Index+1:]...)
	return out, true
}
