package testutil

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// DynamoDB operation names accepted by FakeDynamo.FailOn.
const (
	OpGetItem      = "GetItem"
	OpPutItem      = "PutItem"
	OpDeleteItem   = "DeleteItem"
	OpBatchGetItem = "BatchGetItem"
)

// FakeDynamo is an in-memory single-key DynamoDB table set. It understands
// the requests the docstore package sends: point reads and writes keyed on
// "id", the version and create-only conditions on PutItem, projections and
// the 100 key cap on BatchGetItem.
type FakeDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
	fail   map[string]error
	calls  map[string]int

	// Unprocessed is how many keys each BatchGetItem call leaves
	// unprocessed. Every call still serves at least one key unless
	// StallBatch is set, in which case no key is ever served.
	Unprocessed int
	StallBatch  bool

	// BeforeGet runs before every GetItem, outside the lock.
	BeforeGet func(id string)
}

// NewFakeDynamo creates a fake with the given tables already created.
func NewFakeDynamo(tables ...string) *FakeDynamo {
	f := &FakeDynamo{
		tables: make(map[string]map[string]map[string]types.AttributeValue),
		fail:   make(map[string]error),
		calls:  make(map[string]int),
	}
	for _, t := range tables {
		f.tables[t] = make(map[string]map[string]types.AttributeValue)
	}
	return f
}

// FailOn makes every call of op return err until cleared with a nil err.
func (f *FakeDynamo) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// Calls returns how many times op was called.
func (f *FakeDynamo) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Len returns the number of items in table.
func (f *FakeDynamo) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// Remove deletes an item behind the store's back.
func (f *FakeDynamo) Remove(table, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tables[table], id)
}

// Throttled returns the error DynamoDB sends when a table is over capacity.
func Throttled() error {
	return &types.ProvisionedThroughputExceededException{Message: aws.String("throughput exceeded")}
}

func (f *FakeDynamo) enter(op string) error {
	f.calls[op]++
	return f.fail[op]
}

func (f *FakeDynamo) table(name *string) (map[string]map[string]types.AttributeValue, error) {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found")}
	}
	return t, nil
}

func (f *FakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	id := keyString(in.Key)
	if f.BeforeGet != nil {
		f.BeforeGet(id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpGetItem); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: t[id]}, nil
}

func (f *FakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpPutItem); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}

	id := keyString(in.Item)
	if in.ConditionExpression != nil {
		if existing, ok := t[id]; ok && !versionMatches(existing, in.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}
	t[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *FakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpDeleteItem); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	delete(t, keyString(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *FakeDynamo) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpBatchGetItem); err != nil {
		return nil, err
	}

	out := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]map[string]types.AttributeValue),
		UnprocessedKeys: make(map[string]types.KeysAndAttributes),
	}
	for name, req := range in.RequestItems {
		if len(req.Keys) > 100 {
			return nil, &smithy.GenericAPIError{
				Code:    "ValidationException",
				Message: "Too many items requested for the BatchGetItem call",
				Fault:   smithy.FaultClient,
			}
		}
		t, err := f.table(aws.String(name))
		if err != nil {
			return nil, err
		}

		keys := req.Keys
		n := min(f.Unprocessed, len(keys)-1)
		if f.StallBatch {
			n = len(keys)
		}
		if n > 0 {
			pending := req
			pending.Keys = keys[len(keys)-n:]
			out.UnprocessedKeys[name] = pending
			keys = keys[:len(keys)-n]
		}

		attrs := projected(req)
		for _, k := range keys {
			item, ok := t[keyString(k)]
			if !ok {
				continue
			}
			out.Responses[name] = append(out.Responses[name], project(item, attrs))
		}
	}
	return out, nil
}

func (f *FakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.table(in.TableName); err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   in.TableName,
			TableStatus: types.TableStatusActive,
		},
	}, nil
}

func (f *FakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.TableName)
	if _, ok := f.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + name)}
	}
	f.tables[name] = make(map[string]map[string]types.AttributeValue)
	return &dynamodb.CreateTableOutput{
		TableDescription: &types.TableDescription{TableName: in.TableName, TableStatus: types.TableStatusActive},
	}, nil
}

func keyString(item map[string]types.AttributeValue) string {
	if s, ok := item["id"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// versionMatches compares the stored version with the only numeric value
// of the condition. A condition without values is attribute_not_exists
// alone and never matches an existing item.
func versionMatches(existing map[string]types.AttributeValue, values map[string]types.AttributeValue) bool {
	if len(values) == 0 {
		return false
	}
	stored := int64(0)
	if n, ok := existing["version"].(*types.AttributeValueMemberN); ok {
		stored, _ = strconv.ParseInt(n.Value, 10, 64)
	}
	for _, v := range values {
		if n, ok := v.(*types.AttributeValueMemberN); ok {
			expected, err := strconv.ParseInt(n.Value, 10, 64)
			return err == nil && expected == stored
		}
	}
	panic(fmt.Sprintf("condition without a numeric value: %v", values))
}

func projected(req types.KeysAndAttributes) []string {
	if req.ProjectionExpression == nil {
		return nil
	}
	var attrs []string
	for _, part := range strings.Split(*req.ProjectionExpression, ",") {
		name := strings.TrimSpace(part)
		if resolved, ok := req.ExpressionAttributeNames[name]; ok {
			name = resolved
		}
		attrs = append(attrs, name)
	}
	return attrs
}

func project(item map[string]types.AttributeValue, attrs []string) map[string]types.AttributeValue {
	if attrs == nil {
		return item
	}
	out := make(map[string]types.AttributeValue, len(attrs))
	for _, a := range attrs {
		if v, ok := item[a]; ok {
			out[a] = v
		}
	}
	return out
}
