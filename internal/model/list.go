package model

import (
	"time"

	"github.com/google/uuid"
)

// ListState is the synchronization state of a list.
type ListState string

// List states.
const (
	// ListDraft has never been written to the identity store.
	ListDraft ListState = "draft"
	// ListPersisted has an identity row with a creation timestamp.
	ListPersisted ListState = "persisted"
)

// ListIdentity mirrors a t_list row. The identity store owns every field.
type ListIdentity struct {
	ID          uuid.UUID  `json:"id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	OrgID       *uuid.UUID `json:"org_id,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
}

// List is the aggregate held by the document store: the list's document
// fields, its ordered items and a copy of its identity row.
type List struct {
	ID          uuid.UUID    `json:"id"`
	Title       string       `json:"title"`
	Description *string      `json:"description,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Items       []ListItem   `json:"items,omitempty"`
	Identity    ListIdentity `json:"rel"`

	// Version is incremented on every aggregate write.
	Version int64 `json:"version"`
}

// NewList creates a draft list owned by userID. It has no creation
// timestamp until the identity store assigns one.
func NewList(id, userID uuid.UUID, title string) *List {
	owner := userID
	return &List{
		ID:    id,
		Title: title,
		Identity: ListIdentity{
			ID:     id,
			UserID: &owner,
		},
	}
}

// Persisted reports whether the identity store has created this list.
func (l *List) Persisted() bool {
	return l.Identity.CreatedAt != nil
}

// State returns the list's identity state.
func (l *List) State() ListState {
	if l.Persisted() {
		return ListPersisted
	}
	return ListDraft
}

// OwnerID returns the owning user id or uuid.Nil if unset.
func (l *List) OwnerID() uuid.UUID {
	return l.Identity.OwnerID()
}

// OwnerID returns the owning user id or uuid.Nil if unset.
func (i ListIdentity) OwnerID() uuid.UUID {
	if i.UserID == nil {
		return uuid.Nil
	}
	return *i.UserID
}

// Item returns the item with the given id, or nil.
func (l *List) Item(id uuid.UUID) *ListItem {
	lookup := FindItem(l.Items, id)
	if !lookup.Found {
		return nil
	}
	return &l.Items[lookup.Index]
}

// Clone returns a deep copy of the list.
func (l *List) Clone() *List {
	if l == nil {
		return nil
	}
	c := *l
	c.Description = cloneString(l.Description)
	c.Identity = l.Identity.clone()
	if l.Tags != nil {
		c.Tags = append([]string(nil), l.Tags...)
	}
	if l.Items != nil {
		c.Items = make([]ListItem, len(l.Items))
		for i := range l.Items {
			c.Items[i] = l.Items[i].Clone()
		}
	}
	return &c
}

func (i ListIdentity) clone() ListIdentity {
	i.UserID = cloneUUID(i.UserID)
	i.OrgID = cloneUUID(i.OrgID)
	i.CreatedAt = cloneTime(i.CreatedAt)
	i.ValidatedAt = cloneTime(i.ValidatedAt)
	return i
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
