package service_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/listsync/listsync/internal/docstore"
	"github.com/listsync/listsync/internal/metrics"
	"github.com/listsync/listsync/internal/model"
	"github.com/listsync/listsync/internal/service"
	"github.com/listsync/listsync/internal/testutil"
)

type harness struct {
	identity *testutil.MemIdentity
	dynamo   *testutil.FakeDynamo
	store    *docstore.Store
	drift    *testutil.DriftLog
	metrics  *metrics.InMemoryRecorder

	lists *service.ListSynchronizer
	items *service.ItemSynchronizer
	users *service.UserService
}

func newHarness(t *testing.T, conditional bool) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		identity: testutil.NewMemIdentity(),
		dynamo:   testutil.NewFakeDynamo(docstore.DefaultTable),
		drift:    &testutil.DriftLog{},
		metrics:  metrics.NewInMemory(),
	}
	h.store = docstore.New(h.dynamo, docstore.Options{
		ConditionalWrites: conditional,
		Logger:            logger,
		Metrics:           h.metrics,
	})

	opts := service.Options{Logger: logger, Metrics: h.metrics, Drift: h.drift}
	h.lists = service.NewListSynchronizer(h.identity, h.store, opts)
	h.items = service.NewItemSynchronizer(h.lists, opts)
	h.users = service.NewUserService(h.identity, opts)
	return h
}

func (h *harness) user(t *testing.T) *model.User {
	t.Helper()
	u, err := h.users.Register(context.Background(), testutil.UniqueEmail("owner"), nil)
	require.NoError(t, err)
	return u
}

// savedList creates a persisted list with the given item titles.
func (h *harness) savedList(t *testing.T, owner uuid.UUID, title string, items ...string) *model.List {
	t.Helper()
	ctx := context.Background()

	list, err := h.lists.Save(ctx, testutil.NewTestList(t, owner, title))
	require.NoError(t, err)

	for _, it := range items {
		_, err := h.items.Upsert(ctx, testutil.NewTestItem(t, list.ID, it))
		require.NoError(t, err)
	}

	list, err = h.lists.Read(ctx, list.ID)
	require.NoError(t, err)
	require.NotNil(t, list)
	return list
}

func titles(list *model.List) []string {
	out := make([]string, len(list.Items))
	for i, it := range list.Items {
		out[i] = it.Title
	}
	return out
}
