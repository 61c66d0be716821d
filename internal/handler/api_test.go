package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listsync/listsync/internal/docstore"
	"github.com/listsync/listsync/internal/handler"
	"github.com/listsync/listsync/internal/handler/dto"
	"github.com/listsync/listsync/internal/metrics"
	"github.com/listsync/listsync/internal/reconcile"
	"github.com/listsync/listsync/internal/service"
	"github.com/listsync/listsync/internal/testutil"
)

type api struct {
	identity *testutil.MemIdentity
	dynamo   *testutil.FakeDynamo
	metrics  *metrics.PrometheusRecorder
	server   *httptest.Server
}

func newAPI(t *testing.T) *api {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := &api{
		identity: testutil.NewMemIdentity(),
		dynamo:   testutil.NewFakeDynamo(docstore.DefaultTable),
		metrics:  metrics.NewPrometheus("listsync_test"),
	}
	store := docstore.New(a.dynamo, docstore.Options{Logger: logger, Metrics: a.metrics})

	opts := service.Options{Logger: logger, Metrics: a.metrics}
	lists := service.NewListSynchronizer(a.identity, store, opts)
	items := service.NewItemSynchronizer(lists, opts)
	users := service.NewUserService(a.identity, opts)

	router := handler.NewRouter(handler.RouterConfig{
		Root: handler.New("test"),
		Health: handler.NewHealthHandler().
			Register("dynamodb", store),
		Lists:              handler.NewListHandler(lists, items, logger),
		Users:              handler.NewUserHandler(users, lists, logger),
		Resync:             handler.NewResyncHandler(reconcile.NewReconciler(a.identity, store, logger, a.metrics), logger),
		Metrics:            handler.NewMetricsHandler(a.metrics.Registry()),
		Logger:             logger,
		MaxRequestBodySize: 4096,
	})
	a.server = httptest.NewServer(router)
	t.Cleanup(a.server.Close)
	return a
}

func (a *api) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, a.server.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *api) register(t *testing.T) dto.UserResponse {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/v1/users", dto.RegisterUserRequest{Email: testutil.UniqueEmail("api")})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[dto.UserResponse](t, resp)
}

func (a *api) createList(t *testing.T, owner uuid.UUID, title string) dto.ListResponse {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/v1/lists", dto.CreateListRequest{
		UserID: owner.String(),
		Title:  title,
		Tags:   []string{"home"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[dto.ListResponse](t, resp)
}

func TestAPI_ListLifecycle(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	user := a.register(t)

	created := a.createList(t, user.ID, "Groceries")
	assert.Equal(t, "Groceries", created.Title)
	assert.Equal(t, []string{"home"}, created.Tags)
	require.NotNil(t, created.CreatedAt, "identity store assigns the creation time")
	assert.Equal(t, user.ID, *created.UserID)

	path := "/api/v1/lists/" + created.ID.String()

	resp := a.do(t, http.MethodPost, path+"/items", dto.ItemRequest{Title: "milk"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	item := decode[dto.ItemResponse](t, resp)
	assert.Equal(t, created.ID, item.ListID)
	assert.NotNil(t, item.CreatedAt)

	resp = a.do(t, http.MethodPut, path+"/items/"+item.ID.String(), dto.ItemRequest{Title: "oat milk"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "oat milk", decode[dto.ItemResponse](t, resp).Title)

	resp = a.do(t, http.MethodPatch, path, map[string]any{"title": "Weekly groceries"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[dto.ListResponse](t, resp)
	assert.Equal(t, "Weekly groceries", updated.Title)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, "oat milk", updated.Items[0].Title)

	resp = a.do(t, http.MethodGet, "/api/v1/users/"+user.ID.String()+"/lists", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	owned := decode[dto.ListCollectionResponse](t, resp)
	require.Len(t, owned.Data, 1)
	assert.Equal(t, created.ID, owned.Data[0].ID)

	resp = a.do(t, http.MethodDelete, path+"/items/"+item.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[dto.ListResponse](t, resp).Items)

	resp = a.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "LIST_NOT_FOUND", decode[dto.ErrorResponse](t, resp).Code)
}

func TestAPI_CreateListWithClientID(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	user := a.register(t)

	id := uuid.New()
	resp := a.do(t, http.MethodPost, "/api/v1/lists", dto.CreateListRequest{
		ID:     testutil.Ptr(id.String()),
		UserID: user.ID.String(),
		Title:  "Chores",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, id, decode[dto.ListResponse](t, resp).ID)
}

func TestAPI_CreateListRetryKeepsItems(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	user := a.register(t)

	body := dto.CreateListRequest{
		ID:     testutil.Ptr(uuid.NewString()),
		UserID: user.ID.String(),
		Title:  "Chores",
	}
	resp := a.do(t, http.MethodPost, "/api/v1/lists", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[dto.ListResponse](t, resp)

	resp = a.do(t, http.MethodPost, "/api/v1/lists/"+created.ID.String()+"/items", dto.ItemRequest{Title: "dishes"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	item := decode[dto.ItemResponse](t, resp)

	resp = a.do(t, http.MethodPost, "/api/v1/lists", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	retried := decode[dto.ListResponse](t, resp)
	require.Len(t, retried.Items, 1, "a repeated create must not wipe the stored aggregate")
	assert.Equal(t, item.ID, retried.Items[0].ID)
	assert.Equal(t, created.Version+1, retried.Version)

	row, err := a.identity.GetListItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestAPI_CreateListIDOfAnotherOwner(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	owner := a.register(t)
	other := a.register(t)

	id := uuid.NewString()
	resp := a.do(t, http.MethodPost, "/api/v1/lists", dto.CreateListRequest{
		ID:     &id,
		UserID: owner.ID.String(),
		Title:  "Mine",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/v1/lists", dto.CreateListRequest{
		ID:     &id,
		UserID: other.ID.String(),
		Title:  "Theirs",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "LIST_EXISTS", decode[dto.ErrorResponse](t, resp).Code)

	resp = a.do(t, http.MethodGet, "/api/v1/lists/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[dto.ListResponse](t, resp)
	assert.Equal(t, "Mine", got.Title)
	assert.Equal(t, owner.ID, *got.UserID)
}

func TestAPI_ItemOfAnotherList(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	user := a.register(t)
	first := a.createList(t, user.ID, "First")
	second := a.createList(t, user.ID, "Second")

	itemID := uuid.NewString()
	resp := a.do(t, http.MethodPost, "/api/v1/lists/"+first.ID.String()+"/items", dto.ItemRequest{ID: &itemID, Title: "shared"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/v1/lists/"+second.ID.String()+"/items", dto.ItemRequest{ID: &itemID, Title: "shared"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ITEM_PARENT_MISMATCH", decode[dto.ErrorResponse](t, resp).Code)

	resp = a.do(t, http.MethodDelete, "/api/v1/lists/"+second.ID.String()+"/items/"+itemID, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/v1/lists/"+first.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[dto.ListResponse](t, resp).Items, 1)
}

func TestAPI_CreateListValidation(t *testing.T) {
	t.Parallel()
	a := newAPI(t)

	tests := []struct {
		name string
		body any
		code string
	}{
		{"malformed json", `{"title":`, "INVALID_JSON"},
		{"empty body", nil, "INVALID_JSON"},
		{"unknown field", `{"title":"x","user_id":"` + uuid.NewString() + `","color":"red"}`, "INVALID_JSON"},
		{"missing title", dto.CreateListRequest{UserID: uuid.NewString()}, "VALIDATION_FAILED"},
		{"bad user id", dto.CreateListRequest{UserID: "nope", Title: "x"}, "VALIDATION_FAILED"},
		{"title too long", dto.CreateListRequest{UserID: uuid.NewString(), Title: strings.Repeat("a", 513)}, "VALIDATION_FAILED"},
		{"empty tag", dto.CreateListRequest{UserID: uuid.NewString(), Title: "x", Tags: []string{""}}, "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := a.do(t, http.MethodPost, "/api/v1/lists", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, decode[dto.ErrorResponse](t, resp).Code)
		})
	}
}

func TestAPI_CreateListUnknownOwner(t *testing.T) {
	t.Parallel()
	a := newAPI(t)

	resp := a.do(t, http.MethodPost, "/api/v1/lists", dto.CreateListRequest{
		UserID: uuid.NewString(),
		Title:  "Orphan",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[dto.ErrorResponse](t, resp)
	assert.Equal(t, "CREATE_FAILED", body.Code)
	assert.Equal(t, service.EntityList, body.Entity)
	assert.NotEmpty(t, body.Key)
}

func TestAPI_ItemOnMissingList(t *testing.T) {
	t.Parallel()
	a := newAPI(t)

	resp := a.do(t, http.MethodPost, "/api/v1/lists/"+uuid.NewString()+"/items", dto.ItemRequest{Title: "x"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "PARENT_NOT_FOUND", decode[dto.ErrorResponse](t, resp).Code)
}

func TestAPI_PutItemIDMismatch(t *testing.T) {
	t.Parallel()
	a := newAPI(t)

	path := "/api/v1/lists/" + uuid.NewString() + "/items/" + uuid.NewString()
	resp := a.do(t, http.MethodPut, path, dto.ItemRequest{ID: testutil.Ptr(uuid.NewString()), Title: "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ID_MISMATCH", decode[dto.ErrorResponse](t, resp).Code)
}

func TestAPI_InvalidPathID(t *testing.T) {
	t.Parallel()
	a := newAPI(t)

	resp := a.do(t, http.MethodGet, "/api/v1/lists/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_ID", decode[dto.ErrorResponse](t, resp).Code)
}

func TestAPI_AggregateStoreThrottled(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	user := a.register(t)
	list := a.createList(t, user.ID, "Groceries")

	a.dynamo.FailOn(testutil.OpGetItem, testutil.Throttled())
	resp := a.do(t, http.MethodGet, "/api/v1/lists/"+list.ID.String(), nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	body := decode[dto.ErrorResponse](t, resp)
	assert.Equal(t, "AGGREGATE_READ_FAILED", body.Code)
	assert.Equal(t, list.ID.String(), body.Key)
}

func TestAPI_IdentityStoreFailure(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	user := a.register(t)

	a.identity.FailOn("PutList", errors.New("disk full"))
	resp := a.do(t, http.MethodPost, "/api/v1/lists", dto.CreateListRequest{UserID: user.ID.String(), Title: "x"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "CREATE_FAILED", decode[dto.ErrorResponse](t, resp).Code)
}

func TestAPI_Users(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	user := a.register(t)

	again := a.do(t, http.MethodPost, "/api/v1/users", dto.RegisterUserRequest{Email: strings.ToUpper(user.Email)})
	require.Equal(t, http.StatusCreated, again.StatusCode)
	assert.Equal(t, user.ID, decode[dto.UserResponse](t, again).ID)

	resp := a.do(t, http.MethodGet, "/api/v1/users/"+user.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, user.Email, decode[dto.UserResponse](t, resp).Email)

	resp = a.do(t, http.MethodGet, "/api/v1/users?email="+user.Email, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, user.ID, decode[dto.UserResponse](t, resp).ID)

	resp = a.do(t, http.MethodGet, "/api/v1/users/"+user.ID.String()+"?email=someone-else@example.com", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/v1/users/"+uuid.NewString()+"/lists", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[dto.ListCollectionResponse](t, resp).Data)

	resp = a.do(t, http.MethodDelete, "/api/v1/users/"+user.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/v1/users/"+user.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_RegisterInvalidEmail(t *testing.T) {
	t.Parallel()
	a := newAPI(t)

	resp := a.do(t, http.MethodPost, "/api/v1/users", dto.RegisterUserRequest{Email: "not-an-email"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", decode[dto.ErrorResponse](t, resp).Code)
}

func TestAPI_Resync(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	user := a.register(t)
	list := a.createList(t, user.ID, "Groceries")

	require.NoError(t, a.identity.DeleteList(context.Background(), list.ID))

	resp := a.do(t, http.MethodPost, "/api/v1/lists/"+list.ID.String()+"/resync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[reconcile.Result](t, resp)
	assert.Equal(t, reconcile.OutcomeRepaired, res.Outcome)
	assert.True(t, res.AggregateDeleted)

	resp = a.do(t, http.MethodGet, "/api/v1/lists/"+list.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_BodyTooLarge(t *testing.T) {
	t.Parallel()
	a := newAPI(t)

	body := `{"user_id":"` + uuid.NewString() + `","title":"` + strings.Repeat("a", 8192) + `"}`
	resp := a.do(t, http.MethodPost, "/api/v1/lists", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestAPI_ProbesAndMetrics(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	user := a.register(t)
	a.createList(t, user.ID, "Groceries")

	resp := a.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[handler.HealthResponse](t, resp)
	assert.Equal(t, "ok", health.Checks["dynamodb"])

	resp = a.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "listsync_test_sync_operations_total")

	resp = a.do(t, http.MethodGet, "/api/v1/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
