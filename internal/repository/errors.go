package repository

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Common errors for identity store operations.
var (
	// ErrNoRowReturned means an upsert function returned nothing.
	ErrNoRowReturned = errors.New("identity store returned no row")
)

// Entity kinds used in logs and metrics.
const (
	EntityUser     = "user"
	EntityList     = "list"
	EntityListItem = "list_item"
)

// IsRetryable reports whether err is transient: a timeout, a lost
// connection or a serialization failure. Constraint violations and shape
// mismatches are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableSQLState(pgErr.Code)
	}

	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

func retryableSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"): // connection exception
		return true
	case code == "40001", code == "40P01": // serialization failure, deadlock
		return true
	case code == "53300": // too many connections
		return true
	case code == "57P01", code == "57P02", code == "57P03": // admin/crash shutdown, cannot connect now
		return true
	default:
		return false
	}
}

// IsForeignKeyViolation reports whether err is a PostgreSQL foreign key
// violation, such as an item row whose parent list is gone.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
