// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/listsync/listsync/internal/model"
)

// CreateListRequest is the body of POST /api/v1/lists. ID is optional; a
// caller that supplies one can retry the request and gets the stored list
// back. An id owned by another user is a conflict.
type CreateListRequest struct {
	ID          *string  `json:"id,omitempty" validate:"omitempty,uuid"`
	UserID      string   `json:"user_id" validate:"required,uuid"`
	OrgID       *string  `json:"org_id,omitempty" validate:"omitempty,uuid"`
	Title       string   `json:"title" validate:"required,max=512"`
	Description *string  `json:"description,omitempty" validate:"omitempty,max=4096"`
	Tags        []string `json:"tags,omitempty" validate:"max=64,dive,required,max=128"`
}

// UpdateListRequest is the body of PATCH /api/v1/lists/{id}. Absent fields
// are left unchanged.
type UpdateListRequest struct {
	Title       *string   `json:"title,omitempty" validate:"omitempty,min=1,max=512"`
	Description *string   `json:"description,omitempty" validate:"omitempty,max=4096"`
	Tags        *[]string `json:"tags,omitempty" validate:"omitempty,max=64,dive,required,max=128"`
}

// ItemRequest is the body of POST and PUT on list items.
type ItemRequest struct {
	ID           *string `json:"id,omitempty" validate:"omitempty,uuid"`
	Title        string  `json:"title" validate:"required,max=512"`
	Description  *string `json:"description,omitempty" validate:"omitempty,max=4096"`
	ChildListID  *string `json:"child_list_id,omitempty" validate:"omitempty,uuid"`
	OriginItemID *string `json:"origin_item_id,omitempty" validate:"omitempty,uuid"`
	OriginListID *string `json:"origin_list_id,omitempty" validate:"omitempty,uuid"`
	TopItemID    *string `json:"top_item_id,omitempty" validate:"omitempty,uuid"`
	TopListID    *string `json:"top_list_id,omitempty" validate:"omitempty,uuid"`
}

// RegisterUserRequest is the body of POST /api/v1/users.
type RegisterUserRequest struct {
	Email string  `json:"email" validate:"required,email,max=320"`
	OrgID *string `json:"org_id,omitempty" validate:"omitempty,uuid"`
}

// ListResponse is a list aggregate in API responses.
type ListResponse struct {
	ID          uuid.UUID      `json:"id"`
	Title       string         `json:"title"`
	Description *string        `json:"description,omitempty"`
	Tags        []string       `json:"tags"`
	Items       []ItemResponse `json:"items"`
	UserID      *uuid.UUID     `json:"user_id,omitempty"`
	OrgID       *uuid.UUID     `json:"org_id,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	ValidatedAt *time.Time     `json:"validated_at,omitempty"`
	Version     int64          `json:"version"`
}

// ItemResponse is one entry of a list.
type ItemResponse struct {
	ID           uuid.UUID  `json:"id"`
	ListID       uuid.UUID  `json:"list_id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description,omitempty"`
	ChildListID  *uuid.UUID `json:"child_list_id,omitempty"`
	OriginItemID *uuid.UUID `json:"origin_item_id,omitempty"`
	OriginListID *uuid.UUID `json:"origin_list_id,omitempty"`
	TopItemID    *uuid.UUID `json:"top_item_id,omitempty"`
	TopListID    *uuid.UUID `json:"top_list_id,omitempty"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	OrgID        *uuid.UUID `json:"org_id,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
}

// ListCollectionResponse wraps the lists of one owner.
type ListCollectionResponse struct {
	Data []ListResponse `json:"data"`
}

// UserResponse is a user in API responses.
type UserResponse struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	OrgID       *uuid.UUID `json:"org_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
}

// ErrorResponse represents an API error. Entity and Key name the record a
// synchronization failure is about.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Entity string `json:"entity,omitempty"`
	Key    string `json:"key,omitempty"`
}

// ToListResponse converts a List aggregate to its response DTO.
func ToListResponse(list *model.List) ListResponse {
	resp := ListResponse{
		ID:          list.ID,
		Title:       list.Title,
		Description: list.Description,
		Tags:        list.Tags,
		Items:       make([]ItemResponse, len(list.Items)),
		UserID:      list.Identity.UserID,
		OrgID:       list.Identity.OrgID,
		CreatedAt:   list.Identity.CreatedAt,
		ValidatedAt: list.Identity.ValidatedAt,
		Version:     list.Version,
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	for i := range list.Items {
		resp.Items[i] = ToItemResponse(&list.Items[i])
	}
	return resp
}

// ToListCollectionResponse converts the lists of an owner.
func ToListCollectionResponse(lists []*model.List) ListCollectionResponse {
	resp := ListCollectionResponse{Data: make([]ListResponse, 0, len(lists))}
	for _, list := range lists {
		resp.Data = append(resp.Data, ToListResponse(list))
	}
	return resp
}

// ToItemResponse converts a list entry.
func ToItemResponse(item *model.ListItem) ItemResponse {
	id := item.Identity
	return ItemResponse{
		ID:           item.ID,
		ListID:       id.ListID,
		Title:        item.Title,
		Description:  item.Description,
		ChildListID:  id.ChildListID,
		OriginItemID: id.OriginItemID,
		OriginListID: id.OriginListID,
		TopItemID:    id.TopItemID,
		TopListID:    id.TopListID,
		UserID:       id.UserID,
		OrgID:        id.OrgID,
		CreatedAt:    id.CreatedAt,
	}
}

// ToUserResponse converts a User.
func ToUserResponse(user *model.User) UserResponse {
	return UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		OrgID:       user.OrgID,
		CreatedAt:   user.CreatedAt,
		ValidatedAt: user.ValidatedAt,
	}
}
