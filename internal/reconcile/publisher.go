// Package reconcile repairs lists whose identity rows and aggregates have
// diverged. Drift detected by the synchronizers is queued on a Redis stream
// and resolved by a consumer group of workers.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/listsync/listsync/internal/model"
)

const (
	// StreamKey is the Redis stream drift records are queued on.
	StreamKey = "stream:list_drift"

	// DeadLetterStreamKey receives records that could not be reconciled.
	DeadLetterStreamKey = "stream:list_drift:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout bounds a single XADD.
	PublishTimeout = 250 * time.Millisecond

	payloadField = "payload"
)

// Publisher queues drift records for reconciliation.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	timeout time.Duration
}

// NewPublisher creates a drift publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "reconcile.publisher"),
		timeout: PublishTimeout,
	}
}

// Publish adds rec to the drift stream and returns its stream id.
func (p *Publisher) Publish(ctx context.Context, rec model.DriftRecord) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal drift record: %w", err)
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			payloadField: string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// ReportDrift publishes rec within PublishTimeout. It survives cancellation
// of ctx so that drift found late in a request is still queued.
func (p *Publisher) ReportDrift(ctx context.Context, rec model.DriftRecord) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	streamID, err := p.Publish(ctx, rec)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to publish drift record",
			"drift_id", rec.ID,
			"list_id", rec.ListID,
			"error", err,
		)
		return err
	}

	p.logger.DebugContext(ctx, "drift record published",
		"drift_id", rec.ID,
		"list_id", rec.ListID,
		"reason", rec.Reason,
		"stream_id", streamID,
	)
	return nil
}

// decodeRecord extracts the drift record of a stream message.
func decodeRecord(values map[string]interface{}) (model.DriftRecord, error) {
	var rec model.DriftRecord

	payload, ok := values[payloadField].(string)
	if !ok {
		return rec, fmt.Errorf("payload field missing or not a string")
	}
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return rec, fmt.Errorf("unmarshal payload: %w", err)
	}
	if rec.ListID == uuid.Nil {
		return rec, fmt.Errorf("list_id is required")
	}
	return rec, nil
}
