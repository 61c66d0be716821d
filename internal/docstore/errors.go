package docstore

import (
	"context"
	"errors"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/smithy-go"
)

var (
	// ErrVersionConflict means a conditional put found a different stored
	// version than the one the aggregate was read at.
	ErrVersionConflict = errors.New("aggregate version conflict")
	// ErrAlreadyExists means Create found an aggregate under the same id.
	ErrAlreadyExists = errors.New("aggregate already exists")
	// ErrUnavailable means the circuit breaker rejected the call.
	ErrUnavailable = errors.New("aggregate store unavailable")
	// ErrUnprocessedKeys means a batch read still had unprocessed keys after
	// the allowed re-request rounds.
	ErrUnprocessedKeys = errors.New("aggregate batch read incomplete")
)

var retryableCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"RequestLimitExceeded":                   true,
	"ThrottlingException":                    true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
	"TransactionInProgressException":         true,
	"LimitExceededException":                 true,
}

// IsRetryable reports whether err is transient: throttling, a service side
// failure, a timeout or an open breaker. Validation errors, missing tables
// and version conflicts are permanent for the same request.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrUnprocessedKeys) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		if retryableCodes[ae.ErrorCode()] {
			return true
		}
		return ae.ErrorFault() == smithy.FaultServer
	}

	var exceeded *retry.MaxAttemptsError
	if errors.As(err, &exceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
