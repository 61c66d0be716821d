package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/listsync/listsync/internal/handler/dto"
	"github.com/listsync/listsync/internal/model"
	"github.com/listsync/listsync/internal/service"
)

// ListHandler handles HTTP requests for lists and their items.
type ListHandler struct {
	lists  *service.ListSynchronizer
	items  *service.ItemSynchronizer
	logger *slog.Logger
}

// NewListHandler creates a new ListHandler.
func NewListHandler(lists *service.ListSynchronizer, items *service.ItemSynchronizer, logger *slog.Logger) *ListHandler {
	return &ListHandler{
		lists:  lists,
		items:  items,
		logger: logger,
	}
}

// Create handles POST /api/v1/lists.
func (h *ListHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateListRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id := uuid.New()
	if req.ID != nil {
		id = uuid.MustParse(*req.ID)
	}
	list := model.NewList(id, uuid.MustParse(req.UserID), req.Title)
	orgID, err := dto.ParseOptionalUUID(req.OrgID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "org_id must be a UUID")
		return
	}
	list.Identity.OrgID = orgID
	list.Description = req.Description
	list.Tags = req.Tags

	saved, err := h.lists.Save(r.Context(), list)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Info("list_created",
		"list_id", saved.ID,
		"user_id", req.UserID,
		"client_supplied_id", req.ID != nil,
	)
	writeJSON(w, http.StatusCreated, dto.ToListResponse(saved))
}

// Get handles GET /api/v1/lists/{id}.
func (h *ListHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	list, err := h.lists.Read(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if list == nil {
		writeError(w, http.StatusNotFound, "LIST_NOT_FOUND", "list not found")
		return
	}
	writeJSON(w, http.StatusOK, dto.ToListResponse(list))
}

// Update handles PATCH /api/v1/lists/{id}.
func (h *ListHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req dto.UpdateListRequest
	if !decodeBody(w, r, &req) {
		return
	}

	list, err := h.lists.UpdateDetails(r.Context(), id, service.ListDetails{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Info("list_updated", "list_id", id, "version", list.Version)
	writeJSON(w, http.StatusOK, dto.ToListResponse(list))
}

// Delete handles DELETE /api/v1/lists/{id}.
func (h *ListHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.lists.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Info("list_deleted", "list_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// AddItem handles POST /api/v1/lists/{id}/items. The item id is taken from
// the body or generated.
func (h *ListHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	listID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req dto.ItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	itemID := uuid.New()
	if req.ID != nil {
		itemID = uuid.MustParse(*req.ID)
	}
	h.upsertItem(w, r, listID, itemID, req, http.StatusCreated)
}

// PutItem handles PUT /api/v1/lists/{id}/items/{itemID}.
func (h *ListHandler) PutItem(w http.ResponseWriter, r *http.Request) {
	listID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := uuidParam(w, r, "itemID")
	if !ok {
		return
	}
	var req dto.ItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID != nil && uuid.MustParse(*req.ID) != itemID {
		writeError(w, http.StatusBadRequest, "ID_MISMATCH", "body id does not match the path")
		return
	}
	h.upsertItem(w, r, listID, itemID, req, http.StatusOK)
}

func (h *ListHandler) upsertItem(w http.ResponseWriter, r *http.Request, listID, itemID uuid.UUID, req dto.ItemRequest, status int) {
	item, err := toListItem(listID, itemID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}

	saved, err := h.items.Upsert(r.Context(), item)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Info("item_upserted", "list_id", listID, "item_id", saved.ID)
	writeJSON(w, status, dto.ToItemResponse(saved))
}

// DeleteItem handles DELETE /api/v1/lists/{id}/items/{itemID} and returns
// the parent list.
func (h *ListHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	listID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := uuidParam(w, r, "itemID")
	if !ok {
		return
	}

	list, err := h.items.Delete(r.Context(), listID, itemID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Info("item_deleted", "list_id", listID, "item_id", itemID)
	writeJSON(w, http.StatusOK, dto.ToListResponse(list))
}

func toListItem(listID, itemID uuid.UUID, req dto.ItemRequest) (model.ListItem, error) {
	ident := model.NewListItemIdentity(itemID, listID)
	var err error
	for _, f := range []struct {
		dst **uuid.UUID
		src *string
	}{
		{&ident.ChildListID, req.ChildListID},
		{&ident.OriginItemID, req.OriginItemID},
		{&ident.OriginListID, req.OriginListID},
		{&ident.TopItemID, req.TopItemID},
		{&ident.TopListID, req.TopListID},
	} {
		if *f.dst, err = dto.ParseOptionalUUID(f.src); err != nil {
			return model.ListItem{}, err
		}
	}
	return model.ListItem{
		ID:          itemID,
		Title:       req.Title,
		Description: req.Description,
		Identity:    ident,
	}, nil
}
