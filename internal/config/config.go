// Package config loads application configuration from environment
// variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Identity store (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"2"`

	// Drift stream and resync locks (Redis)
	RedisURL string `env:"REDIS_URL,required,notEmpty"`

	// Aggregate store (DynamoDB). An endpoint points the client at a local
	// emulator and makes startup create the table.
	AWSRegion                string        `env:"AWS_REGION" envDefault:"us-east-1"`
	DynamoTable              string        `env:"DYNAMODB_TABLE" envDefault:"lists"`
	DynamoEndpoint           string        `env:"DYNAMODB_ENDPOINT"`
	DynamoConditionalWrites  bool          `env:"DYNAMODB_CONDITIONAL_WRITES" envDefault:"false"`
	DynamoUnprocessedRounds  int           `env:"DYNAMODB_UNPROCESSED_ROUNDS" envDefault:"5"`
	DynamoUnprocessedBackoff time.Duration `env:"DYNAMODB_UNPROCESSED_BACKOFF" envDefault:"50ms"`
	StoreCallTimeout         time.Duration `env:"STORE_CALL_TIMEOUT" envDefault:"3s"`

	// Reconciliation
	ReconcileEnabled       bool          `env:"RECONCILE_ENABLED" envDefault:"true"`
	ReconcileConsumerID    string        `env:"RECONCILE_CONSUMER_ID"`
	ReconcileMaxDeliveries int           `env:"RECONCILE_MAX_DELIVERIES" envDefault:"5"`
	ReconcileLockTTL       time.Duration `env:"RECONCILE_LOCK_TTL" envDefault:"30s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT %d out of range", c.AppPort))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS %d exceeds DB_MAX_CONNS %d", c.DBMinConns, c.DBMaxConns))
	}
	if c.DynamoTable == "" {
		errs = append(errs, errors.New("DYNAMODB_TABLE must not be empty"))
	}
	if c.DynamoUnprocessedRounds < 0 {
		errs = append(errs, errors.New("DYNAMODB_UNPROCESSED_ROUNDS must not be negative"))
	}
	if c.ReconcileMaxDeliveries <= 0 {
		errs = append(errs, errors.New("RECONCILE_MAX_DELIVERIES must be positive"))
	}
	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
