// Package config defines the configuration of the dispatch relay service.
// Configuration is loaded once at process start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> <NAME>_FILE secret files (Lowest)
//
// Any missing required value or invalid format aborts startup.
package config

import (
	"time"

	"dispatch/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"dispatch"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Relay         RelayConfig
	Stream        StreamConfig
	Security      SecurityConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
	// RequestTimeout bounds non-streaming requests only.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s" validate:"gt=0"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	// The LISTEN connection is removed from the pool for the life of the
	// process, so the pool needs at least one more for probes and queries.
	MaxConns int32 `envconfig:"DB_MAX_CONNS" default:"4" validate:"min=2"`
	MinConns int32 `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0,ltefield=MaxConns"`

	ConnectRetries    int           `envconfig:"DB_CONNECT_RETRIES" default:"10" validate:"min=1"`
	ConnectRetryDelay time.Duration `envconfig:"DB_CONNECT_RETRY_DELAY" default:"2s" validate:"gte=0"`

	InstallTrigger bool `envconfig:"DB_INSTALL_TRIGGER" default:"true"`
	SeedSnapshot   bool `envconfig:"DB_SEED_SNAPSHOT" default:"true"`
}

// RelayConfig tunes the notification relay.
type RelayConfig struct {
	// Channel must be a valid Postgres identifier (at most 63 bytes).
	Channel     string        `envconfig:"NOTIFY_CHANNEL" default:"bus_position_notification" validate:"required,max=63"`
	BufferSize  int           `envconfig:"SUBSCRIBER_BUFFER_SIZE" default:"1000" validate:"min=1"`
	DedupWindow time.Duration `envconfig:"DEDUP_WINDOW" default:"1s" validate:"gt=0"`
}

// StreamConfig tunes the SSE and WebSocket endpoints.
type StreamConfig struct {
	HeartbeatInterval time.Duration `envconfig:"STREAM_HEARTBEAT_INTERVAL" default:"15s" validate:"gt=0"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost,http://localhost:3000,http://localhost:5173"`
}

// AWSConfig holds regional configuration for the CloudWatch publisher.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace     string        `envconfig:"METRIC_NAMESPACE" default:"Dispatch" validate:"required"`
	CloudWatchEnabled   bool          `envconfig:"CLOUDWATCH_ENABLED" default:"false"`
	MetricFlushInterval time.Duration `envconfig:"METRIC_FLUSH_INTERVAL" default:"60s" validate:"gt=0"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a <NAME>_FILE secret could not be read.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
