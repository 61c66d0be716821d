package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/listsync/listsync/internal/model"
)

// MaxBatchGetKeys is the most keys DynamoDB accepts in one BatchGetItem
// request.
const MaxBatchGetKeys = 100

// BatchGet fetches the aggregates stored under ids. Duplicate ids are
// requested once. Keys are sent in pages of MaxBatchGetKeys. When fields is
// not empty only those top level attributes are read, plus the key. Ids
// with no stored aggregate are absent from the result.
func (s *Store) BatchGet(ctx context.Context, ids []uuid.UUID, fields ...string) (map[uuid.UUID]*model.List, error) {
	result := make(map[uuid.UUID]*model.List, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := uniqueKeys(ids)

	base := types.KeysAndAttributes{ConsistentRead: aws.Bool(true)}
	if len(fields) > 0 {
		proj := expression.NamesList(expression.Name(KeyAttribute))
		for _, f := range fields {
			if f != KeyAttribute {
				proj = proj.AddNames(expression.Name(f))
			}
		}
		expr, err := expression.NewBuilder().WithProjection(proj).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build projection: %w", err)
		}
		base.ProjectionExpression = expr.Projection()
		base.ExpressionAttributeNames = expr.Names()
	}

	pages := 0
	for start := 0; start < len(keys); start += MaxBatchGetKeys {
		end := min(start+MaxBatchGetKeys, len(keys))

		n, err := s.batchGetPage(ctx, keys[start:end], base, result)
		pages += n
		if err != nil {
			s.metrics.ObserveBatchGetPages(pages)
			return nil, err
		}
	}
	s.metrics.ObserveBatchGetPages(pages)

	return result, nil
}

// batchGetPage reads one page of keys into result, re-requesting
// unprocessed keys up to the configured number of rounds. It returns the
// number of requests sent.
func (s *Store) batchGetPage(ctx context.Context, keys []map[string]types.AttributeValue, base types.KeysAndAttributes, result map[uuid.UUID]*model.List) (int, error) {
	req := base
	req.Keys = keys
	backoff := s.backoff

	requests := 0
	for round := 0; ; round++ {
		out, err := s.batchGetOnce(ctx, req)
		requests++
		if err != nil {
			return requests, fmt.Errorf("failed to batch get %d aggregates: %w", len(req.Keys), err)
		}

		for _, item := range out.Responses[s.table] {
			list, err := decode(item)
			if err != nil {
				return requests, fmt.Errorf("failed to decode aggregate: %w", err)
			}
			result[list.ID] = list
		}

		pending, ok := out.UnprocessedKeys[s.table]
		if !ok || len(pending.Keys) == 0 {
			return requests, nil
		}
		if round >= s.unprocessedRounds {
			s.logger.WarnContext(ctx, "batch get gave up on unprocessed keys",
				"unprocessed", len(pending.Keys),
				"rounds", round,
			)
			return requests, fmt.Errorf("%d keys left after %d rounds: %w", len(pending.Keys), round, ErrUnprocessedKeys)
		}

		s.logger.DebugContext(ctx, "batch get has unprocessed keys",
			"unprocessed", len(pending.Keys),
			"round", round+1,
		)
		if err := sleepCtx(ctx, backoff); err != nil {
			return requests, err
		}
		backoff *= 2
		req.Keys = pending.Keys
	}
}

func (s *Store) batchGetOnce(ctx context.Context, req types.KeysAndAttributes) (*dynamodb.BatchGetItemOutput, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return call(s, func() (*dynamodb.BatchGetItemOutput, error) {
		return s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{s.table: req},
		})
	})
}

func uniqueKeys(ids []uuid.UUID) []map[string]types.AttributeValue {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, keyOf(id))
	}
	return keys
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
