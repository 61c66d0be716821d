// Package docstore is the aggregate store adapter. It keeps one DynamoDB
// document per list, holding the list fields, its items and a copy of the
// identity data owned by the relational store.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/listsync/listsync/internal/metrics"
	"github.com/listsync/listsync/internal/model"
)

const (
	// DefaultTable is the table name used when none is configured.
	DefaultTable = "lists"
	// KeyAttribute is the partition key of the table.
	KeyAttribute = "id"
	// VersionAttribute carries the document version.
	VersionAttribute = "version"

	defaultUnprocessedRounds = 5
)

// DynamoAPI is the subset of the DynamoDB client used by Store.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Options configures a Store.
type Options struct {
	Table string

	// ConditionalWrites makes Put fail with ErrVersionConflict when the
	// stored version moved since the aggregate was read.
	ConditionalWrites bool

	CallTimeout time.Duration

	// UnprocessedRounds bounds how often BatchGet re-requests keys the
	// service left unprocessed. UnprocessedBackoff is the wait before the
	// first re-request and doubles each round.
	UnprocessedRounds  int
	UnprocessedBackoff time.Duration

	// Breaker overrides the circuit breaker settings. Name defaults to the
	// table name.
	Breaker *gobreaker.Settings

	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Store reads and writes list aggregates. It is safe for concurrent use.
type Store struct {
	client            DynamoAPI
	table             string
	conditional       bool
	callTimeout       time.Duration
	unprocessedRounds int
	backoff           time.Duration
	breaker           *gobreaker.CircuitBreaker
	logger            *slog.Logger
	metrics           metrics.Recorder
}

// New creates a Store over client.
func New(client DynamoAPI, opts Options) *Store {
	table := opts.Table
	if table == "" {
		table = DefaultTable
	}
	rounds := opts.UnprocessedRounds
	if rounds <= 0 {
		rounds = defaultUnprocessedRounds
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "docstore", "table", table)
	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	settings := defaultBreakerSettings(table, logger)
	if opts.Breaker != nil {
		settings = *opts.Breaker
		if settings.Name == "" {
			settings.Name = table
		}
		if settings.IsSuccessful == nil {
			settings.IsSuccessful = breakerSuccess
		}
	}

	return &Store{
		client:            client,
		table:             table,
		conditional:       opts.ConditionalWrites,
		callTimeout:       opts.CallTimeout,
		unprocessedRounds: rounds,
		backoff:           opts.UnprocessedBackoff,
		breaker:           gobreaker.NewCircuitBreaker(settings),
		logger:            logger,
		metrics:           recorder,
	}
}

// Table returns the table name.
func (s *Store) Table() string {
	return s.table
}

// Get returns the aggregate stored under id with a strongly consistent
// read, or nil when there is none.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*model.List, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := call(s, func() (*dynamodb.GetItemOutput, error) {
		return s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.table),
			Key:            keyOf(id),
			ConsistentRead: aws.Bool(true),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregate %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	list, err := decode(out.Item)
	if err != nil {
		return nil, fmt.Errorf("failed to decode aggregate %s: %w", id, err)
	}
	return list, nil
}

// Put replaces the whole aggregate. The stored version becomes
// list.Version+1. With conditional writes enabled the replace only succeeds
// while the stored version still equals list.Version.
func (s *Store) Put(ctx context.Context, list *model.List) error {
	if list == nil {
		return errors.New("failed to put aggregate: nil list")
	}

	var cond *expression.ConditionBuilder
	if s.conditional {
		c := expression.AttributeNotExists(expression.Name(KeyAttribute)).
			Or(expression.Name(VersionAttribute).Equal(expression.Value(list.Version)))
		cond = &c
	}

	err := s.put(ctx, list, cond)
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		s.logger.WarnContext(ctx, "aggregate version moved",
			"list_id", list.ID,
			"expected_version", list.Version,
		)
		return fmt.Errorf("aggregate %s at version %d: %w", list.ID, list.Version, ErrVersionConflict)
	}
	return err
}

// Create writes list only when no aggregate is stored under its id yet.
// It fails with ErrAlreadyExists otherwise, whatever ConditionalWrites
// says.
func (s *Store) Create(ctx context.Context, list *model.List) error {
	if list == nil {
		return errors.New("failed to create aggregate: nil list")
	}

	cond := expression.AttributeNotExists(expression.Name(KeyAttribute))
	err := s.put(ctx, list, &cond)
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("aggregate %s: %w", list.ID, ErrAlreadyExists)
	}
	return err
}

func (s *Store) put(ctx context.Context, list *model.List, cond *expression.ConditionBuilder) error {
	rec := toRecord(list)
	rec.Version = list.Version + 1

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to encode aggregate %s: %w", list.ID, err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}
	if cond != nil {
		expr, err := expression.NewBuilder().WithCondition(*cond).Build()
		if err != nil {
			return fmt.Errorf("failed to build put condition: %w", err)
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = call(s, func() (*dynamodb.PutItemOutput, error) {
		return s.client.PutItem(ctx, input)
	})
	var ccf *types.ConditionalCheckFailedException
	if err != nil && !errors.As(err, &ccf) {
		return fmt.Errorf("failed to put aggregate %s: %w", list.ID, err)
	}
	return err
}

// Delete removes the aggregate stored under id. Deleting a missing
// aggregate is not an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := call(s, func() (*dynamodb.DeleteItemOutput, error) {
		return s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key:       keyOf(id),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete aggregate %s: %w", id, err)
	}
	return nil
}

// Ping checks that the table is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	return err
}

// EnsureTable creates the table when it does not exist yet and waits until
// it is active. It is meant for local development against DynamoDB Local.
func (s *Store) EnsureTable(ctx context.Context, wait time.Duration) error {
	err := s.Ping(ctx)
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table %s: %w", s.table, err)
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(KeyAttribute), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(KeyAttribute), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	s.logger.InfoContext(ctx, "table created")

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, wait); err != nil {
		return fmt.Errorf("failed waiting for table %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

// call runs fn through the circuit breaker. A rejected call surfaces as
// ErrUnavailable.
func call[T any](s *Store, fn func() (T, error)) (T, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return zero, err
	}
	return out.(T), nil
}

func defaultBreakerSettings(name string, logger *slog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: breakerSuccess,
	}
}

// breakerSuccess counts only transient failures against the breaker.
// A failed condition means the store answered.
func breakerSuccess(err error) bool {
	return err == nil || !IsRetryable(err)
}

func keyOf(id uuid.UUID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		KeyAttribute: &types.AttributeValueMemberS{Value: id.String()},
	}
}
