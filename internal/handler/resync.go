package handler

import (
	"log/slog"
	"net/http"

	"github.com/listsync/listsync/internal/reconcile"
)

// ResyncHandler runs an on-demand reconciliation of a list.
type ResyncHandler struct {
	resyncer reconcile.Resyncer
	logger   *slog.Logger
}

// NewResyncHandler creates a new ResyncHandler.
func NewResyncHandler(resyncer reconcile.Resyncer, logger *slog.Logger) *ResyncHandler {
	return &ResyncHandler{resyncer: resyncer, logger: logger}
}

// Resync handles POST /api/v1/lists/{id}/resync.
func (h *ResyncHandler) Resync(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	res, err := h.resyncer.Resync(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
