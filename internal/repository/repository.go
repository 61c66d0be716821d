// Package repository is the identity store adapter. It wraps the PostgreSQL
// stored functions that own entity ids, ownership and audit timestamps.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/listsync/listsync/internal/metrics"
)

// Options configures a Repository.
type Options struct {
	MaxConns int32
	MinConns int32

	// CallTimeout bounds every single remote call. Zero leaves the caller's
	// context as the only deadline.
	CallTimeout time.Duration

	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Repository provides identity store access methods.
// It holds no mutable state beyond the pool and is safe for concurrent use.
type Repository struct {
	pool        *pgxpool.Pool
	callTimeout time.Duration
	logger      *slog.Logger
	metrics     metrics.Recorder
}

// New creates a new Repository with a connection pool.
func New(ctx context.Context, databaseURL string, opts Options) (*Repository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 10
	config.MinConns = 2
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewWithPool(pool, opts), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool, opts Options) *Repository {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Repository{
		pool:        pool,
		callTimeout: opts.CallTimeout,
		logger:      logger.With("component", "repository"),
		metrics:     recorder,
	}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool.
// Use sparingly - prefer adding methods to Repository.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// withTimeout scopes ctx to a single remote call.
func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.callTimeout)
}

// firstOf returns the only row of a lookup on a unique key. Zero rows is
// absence. More rows mean the key is not unique in the store: the violation
// is logged and counted, and the first row is used.
func firstOf[T any](r *Repository, ctx context.Context, entity, key string, rows []T) *T {
	switch len(rows) {
	case 0:
		r.logger.DebugContext(ctx, "no rows", "entity", entity, "key", key)
		return nil
	case 1:
		return &rows[0]
	default:
		r.logger.ErrorContext(ctx, "unique key returned multiple rows",
			"entity", entity,
			"key", key,
			"rows", len(rows),
		)
		r.metrics.IncInvariantViolation(entity)
		return &rows[0]
	}
}
