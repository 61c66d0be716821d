package service

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestSyncError_Message(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	err := syncErr(ErrCreateFailed, EntityList, id, errors.New("dial tcp: refused"))

	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "list "+id.String()+": identity create failed"), msg)
	assert.Contains(t, msg, "dial tcp")

	bare := syncErr(ErrReadbackMissing, EntityList, id, nil)
	assert.Equal(t, fmt.Sprintf("list %s: %v", id, ErrReadbackMissing), bare.Error())
}

func TestSyncError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := &pgconn.PgError{Code: "23505"}
	err := fmt.Errorf("outer: %w", syncErr(ErrItemCreateFailed, EntityListItem, uuid.New(), cause))

	assert.ErrorIs(t, err, ErrItemCreateFailed)
	var pgErr *pgconn.PgError
	assert.ErrorAs(t, err, &pgErr)
	assert.NotErrorIs(t, err, ErrCreateFailed)
}

func TestSyncError_Retryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cause error
		want  bool
	}{
		{"no cause", nil, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"throttled", &types.ProvisionedThroughputExceededException{Message: aws.String("slow")}, true},
		{"bad request", errors.New("validation"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := syncErr(ErrAggregateWriteFailed, EntityList, uuid.New(), tt.cause)
			assert.Equal(t, tt.want, err.Retryable())
			assert.Equal(t, tt.want, IsRetryable(err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	assert.True(t, IsNotFound(syncErr(ErrParentNotFound, EntityList, uuid.New(), nil)))
	assert.True(t, IsNotFound(syncErr(ErrListNotFound, EntityList, uuid.New(), nil)))
	assert.False(t, IsNotFound(syncErr(ErrReadbackMissing, EntityList, uuid.New(), nil)))
	assert.False(t, IsNotFound(nil))
}
