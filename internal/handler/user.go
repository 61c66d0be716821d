package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/listsync/listsync/internal/handler/dto"
	"github.com/listsync/listsync/internal/model"
	"github.com/listsync/listsync/internal/service"
)

// UserHandler handles HTTP requests for list owners.
type UserHandler struct {
	users  *service.UserService
	lists  *service.ListSynchronizer
	logger *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users *service.UserService, lists *service.ListSynchronizer, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		lists:  lists,
		logger: logger,
	}
}

// Register handles POST /api/v1/users. Registering a known email returns
// the existing user.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	orgID, err := dto.ParseOptionalUUID(req.OrgID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "org_id must be a UUID")
		return
	}

	user, err := h.users.Register(r.Context(), req.Email, orgID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.ToUserResponse(user))
}

// Get handles GET /api/v1/users/{id}. With ?email= the user is only
// returned when both identify it.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var email *string
	if e := r.URL.Query().Get("email"); e != "" {
		email = &e
	}
	h.lookup(w, r, &id, email)
}

// Find handles GET /api/v1/users?email=.
func (h *UserHandler) Find(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "MISSING_EMAIL", "email query parameter is required")
		return
	}
	h.lookup(w, r, nil, &email)
}

func (h *UserHandler) lookup(w http.ResponseWriter, r *http.Request, id *uuid.UUID, email *string) {
	user, err := h.users.Get(r.Context(), id, email)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
		return
	}
	writeJSON(w, http.StatusOK, dto.ToUserResponse(user))
}

// Delete handles DELETE /api/v1/users/{id}.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.users.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Info("user_deleted", "user_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// Lists handles GET /api/v1/users/{id}/lists.
func (h *UserHandler) Lists(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	lists, err := h.lists.ListForOwner(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if lists == nil {
		lists = []*model.List{}
	}
	writeJSON(w, http.StatusOK, dto.ToListCollectionResponse(lists))
}
