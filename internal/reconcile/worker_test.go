package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/listsync/listsync/internal/docstore"
	"github.com/listsync/listsync/internal/metrics"
	"github.com/listsync/listsync/internal/model"
	"github.com/listsync/listsync/internal/testutil"
)

func TestDecodeRecord(t *testing.T) {
	t.Parallel()

	listID := uuid.New()
	valid, _ := json.Marshal(model.DriftRecord{ID: "01J", ListID: listID, Reason: model.DriftReadbackMissing})

	tests := []struct {
		name    string
		values  map[string]interface{}
		wantErr bool
	}{
		{"valid", map[string]interface{}{"payload": string(valid)}, false},
		{"missing payload", map[string]interface{}{}, true},
		{"payload not a string", map[string]interface{}{"payload": 42}, true},
		{"bad json", map[string]interface{}{"payload": "{"}, true},
		{"no list id", map[string]interface{}{"payload": `{"id":"x"}`}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec, err := decodeRecord(tt.values)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.ListID != listID {
				t.Errorf("ListID = %s, want %s", rec.ListID, listID)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"busy", fmt.Errorf("list x: %w", ErrBusy), true},
		{"version conflict", fmt.Errorf("put: %w", docstore.ErrVersionConflict), true},
		{"aggregate unavailable", docstore.ErrUnavailable, true},
		{"identity serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"identity constraint", &pgconn.PgError{Code: "23503"}, false},
		{"plain", errors.New("bad data"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsConsumerGroupExistsError(t *testing.T) {
	t.Parallel()

	if !isConsumerGroupExistsError(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Error("BUSYGROUP should be recognized")
	}
	if isConsumerGroupExistsError(errors.New("NOGROUP")) {
		t.Error("NOGROUP is not BUSYGROUP")
	}
	if isConsumerGroupExistsError(nil) {
		t.Error("nil is not an error")
	}
}

func TestNewConsumerID_Unique(t *testing.T) {
	t.Parallel()

	a, b := NewConsumerID(), NewConsumerID()
	if a == b {
		t.Errorf("consumer ids should differ, both %q", a)
	}
}

// fakeResyncer records resynced lists and fails the ones it is told to.
type fakeResyncer struct {
	mu    sync.Mutex
	seen  []uuid.UUID
	fails map[uuid.UUID]error
}

func (f *fakeResyncer) Resync(_ context.Context, listID uuid.UUID) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, listID)
	if err := f.fails[listID]; err != nil {
		return nil, err
	}
	return &Result{ListID: listID, Outcome: OutcomeClean}, nil
}

func (f *fakeResyncer) count(listID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.seen {
		if id == listID {
			n++
		}
	}
	return n
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })

	if err := testutil.FlushRedis(context.Background(), client); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return client
}

func newTestWorker(client *redis.Client, resyncer Resyncer, recorder metrics.Recorder) *Worker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(client, resyncer, logger, NewConsumerID(), recorder)
	w.SetBlockTimeout(50 * time.Millisecond)
	w.SetClaimInterval(time.Millisecond)
	w.SetClaimIdle(time.Millisecond)
	w.SetMetricsInterval(time.Millisecond)
	return w
}

func TestWorker_ResyncsPublishedDrift(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	publisher := NewPublisher(client, logger)
	resyncer := &fakeResyncer{}
	w := newTestWorker(client, resyncer, metrics.NewNoop())
	if err := w.ensureConsumerGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	listID := uuid.New()
	if err := publisher.ReportDrift(ctx, model.DriftRecord{ID: "d1", ListID: listID, Reason: model.DriftAggregateWriteFailed}); err != nil {
		t.Fatalf("report drift: %v", err)
	}

	if err := w.processOnce(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := resyncer.count(listID); got != 1 {
		t.Fatalf("resync count = %d, want 1", got)
	}

	pending, err := client.XPending(ctx, StreamKey, ConsumerGroup).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("pending = %d, want 0 after ack", pending.Count)
	}
}

func TestWorker_DeadLettersMalformedMessages(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()

	recorder := metrics.NewInMemory()
	w := newTestWorker(client, &fakeResyncer{}, recorder)
	if err := w.ensureConsumerGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		Values: map[string]interface{}{"payload": "not json"},
	}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}

	if err := w.processOnce(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	dlq, err := client.XLen(ctx, DeadLetterStreamKey).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if dlq != 1 {
		t.Errorf("dead-letter length = %d, want 1", dlq)
	}
	if got := recorder.Snapshot().Reconciled["dead_lettered"]; got != 1 {
		t.Errorf("dead_lettered = %d, want 1", got)
	}
}

func TestWorker_RetriesThenDeadLetters(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	listID := uuid.New()
	resyncer := &fakeResyncer{fails: map[uuid.UUID]error{
		listID: fmt.Errorf("put: %w", docstore.ErrUnavailable),
	}}
	w := newTestWorker(client, resyncer, metrics.NewNoop())
	w.SetMaxDeliveries(3)
	if err := w.ensureConsumerGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	if _, err := NewPublisher(client, logger).Publish(ctx, model.DriftRecord{ID: "d2", ListID: listID}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for i := 0; i < 3; i++ {
		time.Sleep(5 * time.Millisecond)
		if err := w.processOnce(ctx); err != nil {
			t.Fatalf("process round %d: %v", i, err)
		}
	}

	if got := resyncer.count(listID); got != 3 {
		t.Errorf("resync count = %d, want 3", got)
	}
	dlq, err := client.XLen(ctx, DeadLetterStreamKey).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if dlq != 1 {
		t.Errorf("dead-letter length = %d, want 1", dlq)
	}
	pending, err := client.XPending(ctx, StreamKey, ConsumerGroup).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("pending = %d, want 0", pending.Count)
	}
}

func TestWorker_RunAndShutdown(t *testing.T) {
	client := newRedis(t)

	w := newTestWorker(client, &fakeResyncer{}, metrics.NewNoop())

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
