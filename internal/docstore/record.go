package docstore

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/listsync/listsync/internal/model"
)

// listRecord is the stored shape of a list aggregate.
type listRecord struct {
	ID          string       `dynamodbav:"id"`
	Title       string       `dynamodbav:"title"`
	Description *string      `dynamodbav:"description,omitempty"`
	Tags        []string     `dynamodbav:"tags,omitempty"`
	Items       []itemRecord `dynamodbav:"items,omitempty"`
	Rel         listRel      `dynamodbav:"rel"`
	Version     int64        `dynamodbav:"version"`
}

type listRel struct {
	ID          string     `dynamodbav:"id"`
	UserID      *string    `dynamodbav:"user_id,omitempty"`
	OrgID       *string    `dynamodbav:"org_id,omitempty"`
	CreatedAt   *time.Time `dynamodbav:"created_on_utc,omitempty"`
	ValidatedAt *time.Time `dynamodbav:"validated_on_utc,omitempty"`
}

type itemRecord struct {
	ID          string  `dynamodbav:"id"`
	Title       string  `dynamodbav:"title"`
	Description *string `dynamodbav:"description,omitempty"`
	Rel         itemRel `dynamodbav:"rel"`
}

type itemRel struct {
	ID           string     `dynamodbav:"liid"`
	ListID       string     `dynamodbav:"parent_lid"`
	ChildListID  *string    `dynamodbav:"child_lid,omitempty"`
	OriginItemID *string    `dynamodbav:"origin_liid,omitempty"`
	OriginListID *string    `dynamodbav:"origin_lid,omitempty"`
	TopItemID    *string    `dynamodbav:"top_liid,omitempty"`
	TopListID    *string    `dynamodbav:"top_lid,omitempty"`
	UserID       *string    `dynamodbav:"user_id,omitempty"`
	OrgID        *string    `dynamodbav:"org_id,omitempty"`
	CreatedAt    *time.Time `dynamodbav:"created_on_utc,omitempty"`
	ValidatedAt  *time.Time `dynamodbav:"validated_on_utc,omitempty"`
}

func toRecord(list *model.List) listRecord {
	rec := listRecord{
		ID:          list.ID.String(),
		Title:       list.Title,
		Description: list.Description,
		Tags:        list.Tags,
		Rel: listRel{
			ID:          list.ID.String(),
			UserID:      uuidString(list.Identity.UserID),
			OrgID:       uuidString(list.Identity.OrgID),
			CreatedAt:   list.Identity.CreatedAt,
			ValidatedAt: list.Identity.ValidatedAt,
		},
		Version: list.Version,
	}
	if len(list.Items) > 0 {
		rec.Items = make([]itemRecord, len(list.Items))
		for i, item := range list.Items {
			rec.Items[i] = itemRecord{
				ID:          item.ID.String(),
				Title:       item.Title,
				Description: item.Description,
				Rel: itemRel{
					ID:           item.ID.String(),
					ListID:       item.Identity.ListID.String(),
					ChildListID:  uuidString(item.Identity.ChildListID),
					OriginItemID: uuidString(item.Identity.OriginItemID),
					OriginListID: uuidString(item.Identity.OriginListID),
					TopItemID:    uuidString(item.Identity.TopItemID),
					TopListID:    uuidString(item.Identity.TopListID),
					UserID:       uuidString(item.Identity.UserID),
					OrgID:        uuidString(item.Identity.OrgID),
					CreatedAt:    item.Identity.CreatedAt,
					ValidatedAt:  item.Identity.ValidatedAt,
				},
			}
		}
	}
	return rec
}

func decode(item map[string]types.AttributeValue) (*model.List, error) {
	var rec listRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, err
	}
	return rec.toModel()
}

func (rec listRecord) toModel() (*model.List, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid list id %q: %w", rec.ID, err)
	}

	list := &model.List{
		ID:          id,
		Title:       rec.Title,
		Description: rec.Description,
		Tags:        rec.Tags,
		Version:     rec.Version,
		Identity: model.ListIdentity{
			ID:          id,
			CreatedAt:   rec.Rel.CreatedAt,
			ValidatedAt: rec.Rel.ValidatedAt,
		},
	}
	if list.Identity.UserID, err = parseOptional(rec.Rel.UserID); err != nil {
		return nil, err
	}
	if list.Identity.OrgID, err = parseOptional(rec.Rel.OrgID); err != nil {
		return nil, err
	}

	if len(rec.Items) > 0 {
		list.Items = make([]model.ListItem, 0, len(rec.Items))
	}
	for _, ir := range rec.Items {
		item, err := ir.toModel(id)
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, item)
	}
	return list, nil
}

func (ir itemRecord) toModel(listID uuid.UUID) (model.ListItem, error) {
	id, err := uuid.Parse(ir.ID)
	if err != nil {
		return model.ListItem{}, fmt.Errorf("invalid item id %q: %w", ir.ID, err)
	}

	ident := model.ListItemIdentity{
		ID:          id,
		ListID:      listID,
		CreatedAt:   ir.Rel.CreatedAt,
		ValidatedAt: ir.Rel.ValidatedAt,
	}
	if ir.Rel.ListID != "" {
		if ident.ListID, err = uuid.Parse(ir.Rel.ListID); err != nil {
			return model.ListItem{}, fmt.Errorf("invalid parent id %q: %w", ir.Rel.ListID, err)
		}
	}

	fields := []struct {
		src *string
		dst **uuid.UUID
	}{
		{ir.Rel.ChildListID, &ident.ChildListID},
		{ir.Rel.OriginItemID, &ident.OriginItemID},
		{ir.Rel.OriginListID, &ident.OriginListID},
		{ir.Rel.TopItemID, &ident.TopItemID},
		{ir.Rel.TopListID, &ident.TopListID},
		{ir.Rel.UserID, &ident.UserID},
		{ir.Rel.OrgID, &ident.OrgID},
	}
	for _, f := range fields {
		if *f.dst, err = parseOptional(f.src); err != nil {
			return model.ListItem{}, err
		}
	}

	return model.ListItem{
		ID:          id,
		Title:       ir.Title,
		Description: ir.Description,
		Identity:    ident,
	}, nil
}

func uuidString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func parseOptional(s *string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, fmt.Errorf("invalid id %q: %w", *s, err)
	}
	return &id, nil
}
