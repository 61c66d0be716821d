// Package main is the entrypoint for the listsync API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/listsync/listsync/internal/cache"
	"github.com/listsync/listsync/internal/config"
	"github.com/listsync/listsync/internal/docstore"
	"github.com/listsync/listsync/internal/handler"
	"github.com/listsync/listsync/internal/metrics"
	"github.com/listsync/listsync/internal/reconcile"
	"github.com/listsync/listsync/internal/repository"
	"github.com/listsync/listsync/internal/server"
	"github.com/listsync/listsync/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	recorder := metrics.NewPrometheus("listsync")

	repo, err := repository.New(ctx, cfg.DatabaseURL, repository.Options{
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		CallTimeout: cfg.StoreCallTimeout,
		Logger:      logger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL, cache.Options{})
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	store, err := newDocStore(ctx, cfg, logger, recorder)
	if err != nil {
		logger.Error("failed to set up aggregate store", "error", err, "table", cfg.DynamoTable)
		_ = cacheClient.Close()
		repo.Close()
		os.Exit(1)
	}

	publisher := reconcile.NewPublisher(cacheClient.Client(), logger)
	opts := service.Options{Logger: logger, Metrics: recorder, Drift: publisher}
	lists := service.NewListSynchronizer(repo, store, opts)
	items := service.NewItemSynchronizer(lists, opts)
	users := service.NewUserService(repo, opts)

	reconciler := reconcile.NewReconciler(repo, store, logger, recorder)
	reconciler.SetLocker(cacheClient, cfg.ReconcileLockTTL)

	r := handler.NewRouter(handler.RouterConfig{
		Root: handler.New(version),
		Health: handler.NewHealthHandler().
			Register("postgres", repo).
			Register("dynamodb", store).
			Register("redis", cacheClient),
		Lists:              handler.NewListHandler(lists, items, logger),
		Users:              handler.NewUserHandler(users, lists, logger),
		Resync:             handler.NewResyncHandler(reconciler, logger),
		Metrics:            handler.NewMetricsHandler(recorder.Registry()),
		Logger:             logger,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	})

	srv := server.New(r, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Stores are registered first so they close after the worker drains.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})

	if cfg.ReconcileEnabled {
		consumerID := cfg.ReconcileConsumerID
		if consumerID == "" {
			consumerID = reconcile.NewConsumerID()
		}
		worker := reconcile.NewWorker(cacheClient.Client(), reconciler, logger, consumerID, recorder)
		worker.SetMaxDeliveries(cfg.ReconcileMaxDeliveries)

		go func() {
			if err := worker.Run(ctx); err != nil {
				logger.Error("reconcile worker stopped", "error", err)
			}
		}()
		srv.OnShutdown("reconcile_worker", worker.Shutdown)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"table", cfg.DynamoTable,
		"reconcile", cfg.ReconcileEnabled,
		"version", version,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// newDocStore builds the DynamoDB client. With a custom endpoint, as used
// against DynamoDB Local, the table is created when missing.
func newDocStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, recorder metrics.Recorder) (*docstore.Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, err
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
		}
	})

	store := docstore.New(client, docstore.Options{
		Table:              cfg.DynamoTable,
		ConditionalWrites:  cfg.DynamoConditionalWrites,
		CallTimeout:        cfg.StoreCallTimeout,
		UnprocessedRounds:  cfg.DynamoUnprocessedRounds,
		UnprocessedBackoff: cfg.DynamoUnprocessedBackoff,
		Logger:             logger,
		Metrics:            recorder,
	})

	if cfg.DynamoEndpoint != "" {
		if err := store.EnsureTable(ctx, 30*time.Second); err != nil {
			return nil, err
		}
		logger.Info("aggregate table ready", "table", cfg.DynamoTable, "endpoint", cfg.DynamoEndpoint)
	}
	return store, nil
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "listsync")
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

// redactURL drops the password from a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		if username := parsed.User.Username(); username != "" {
			parsed.User = url.User(username)
		} else {
			parsed.User = url.User("redacted")
		}
	}
	return parsed.String()
}

// sanitizeError replaces every secret in err's message with its redacted
// form.
func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}
	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
