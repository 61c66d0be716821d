package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/listsync/listsync/internal/docstore"
	"github.com/listsync/listsync/internal/handler/dto"
	"github.com/listsync/listsync/internal/reconcile"
	"github.com/listsync/listsync/internal/repository"
	"github.com/listsync/listsync/internal/service"
)

// kindCodes names each synchronization failure kind in error responses.
var kindCodes = []struct {
	kind error
	code string
}{
	{service.ErrCreateFailed, "CREATE_FAILED"},
	{service.ErrAggregateWriteFailed, "AGGREGATE_WRITE_FAILED"},
	{service.ErrReadbackMissing, "READBACK_MISSING"},
	{service.ErrAggregateReadFailed, "AGGREGATE_READ_FAILED"},
	{service.ErrIdentityReadFailed, "IDENTITY_READ_FAILED"},
	{service.ErrItemCreateFailed, "ITEM_CREATE_FAILED"},
	{service.ErrItemPersistMismatch, "ITEM_PERSIST_MISMATCH"},
	{service.ErrIdentityDeleteFailed, "IDENTITY_DELETE_FAILED"},
	{service.ErrAggregateDeleteFailed, "AGGREGATE_DELETE_FAILED"},
}

// writeServiceError maps a synchronizer, user service or reconciler error
// to an HTTP response. Unexpected failures are logged.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	resp := dto.ErrorResponse{Error: err.Error(), Code: "INTERNAL_ERROR"}
	var se *service.SyncError
	if errors.As(err, &se) {
		resp.Entity = se.Entity
		resp.Key = se.Key
		resp.Code = kindCode(se.Kind)
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidList):
		status, resp.Code = http.StatusBadRequest, "INVALID_LIST"
	case errors.Is(err, service.ErrInvalidItem):
		status, resp.Code = http.StatusBadRequest, "INVALID_ITEM"
	case errors.Is(err, service.ErrInvalidEmail):
		status, resp.Code = http.StatusBadRequest, "INVALID_EMAIL"

	case errors.Is(err, service.ErrListNotFound):
		status, resp.Code = http.StatusNotFound, "LIST_NOT_FOUND"
	case errors.Is(err, service.ErrParentNotFound):
		status, resp.Code = http.StatusNotFound, "PARENT_NOT_FOUND"
	case errors.Is(err, service.ErrUserNotFound):
		status, resp.Code = http.StatusNotFound, "USER_NOT_FOUND"

	case errors.Is(err, service.ErrVersionConflict), errors.Is(err, docstore.ErrVersionConflict):
		status, resp.Code = http.StatusConflict, "VERSION_CONFLICT"
	case errors.Is(err, service.ErrListExists):
		status, resp.Code = http.StatusConflict, "LIST_EXISTS"
	case errors.Is(err, service.ErrItemParentMismatch):
		status, resp.Code = http.StatusConflict, "ITEM_PARENT_MISMATCH"
	case errors.Is(err, reconcile.ErrBusy):
		status, resp.Code = http.StatusConflict, "RESYNC_IN_PROGRESS"

	case repository.IsForeignKeyViolation(err):
		status = http.StatusUnprocessableEntity

	case service.IsRetryable(err), docstore.IsRetryable(err), repository.IsRetryable(err):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", resp.Code,
			"error", err,
		)
		if se == nil {
			resp.Error = http.StatusText(status)
		}
	}
	writeJSON(w, status, resp)
}

func kindCode(kind error) string {
	for _, kc := range kindCodes {
		if kind == kc.kind {
			return kc.code
		}
	}
	return "INTERNAL_ERROR"
}
