// Package config loads process configuration once at startup from the
// environment, an optional .env file and AWS SSM Parameter Store, in that
// order of priority. A missing or invalid value fails startup.
package config

import (
	"time"

	"github.com/abschwenker/wps/internal/types"
)

// SecretString is the redacting string type used for credentials.
type SecretString = types.SecretString

// Config is shared by the poller and the API. Each component receives only
// the sub-config it needs.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev test prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database      DatabaseConfig
	AWS           AWSConfig
	Datamart      DatamartConfig
	Pipeline      PipelineConfig
	Server        ServerConfig
	Observability ObservabilityConfig
	Retention     RetentionConfig

	// Set from ldflags, not the environment.
	Build BuildInfo `ignored:"true"`
}

// DatabaseConfig holds the PostGIS connection and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"5" validate:"min=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig is only consulted for SSM resolution.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"ca-central-1"`
}

// DatamartConfig describes where model files come from.
type DatamartConfig struct {
	BaseURL         string              `envconfig:"DATAMART_BASE_URL" default:"https://dd.weather.gc.ca" validate:"required,url"`
	Models          []types.ModelAbbrev `envconfig:"CHAINES_MODELS" default:"GDPS,RDPS,HRDPS" validate:"required,min=1,dive,oneof=GDPS RDPS HRDPS"`
	UserAgent       string              `envconfig:"DATAMART_USER_AGENT" default:"wps-chaines/1.0"`
	DownloadTimeout time.Duration       `envconfig:"DATAMART_DOWNLOAD_TIMEOUT" default:"5m"`
	MaxRetries      int                 `envconfig:"DATAMART_MAX_RETRIES" default:"2" validate:"min=0,max=10"`
	// BreakerTripAfter consecutive failures open the circuit for the rest
	// of the poll window.
	BreakerTripAfter uint32 `envconfig:"DATAMART_BREAKER_TRIP_AFTER" default:"5" validate:"min=1"`
}

// PipelineConfig tunes raster processing.
type PipelineConfig struct {
	ScanWorkers int    `envconfig:"SCAN_WORKERS" default:"4" validate:"min=1,max=64"`
	TempDir     string `envconfig:"CHAINES_TEMP_DIR"`
}

// ServerConfig configures the read-side HTTP API.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// ObservabilityConfig configures metric export for batch runs. Empty
// PushgatewayURL or CloudWatchNamespace disables that exporter.
type ObservabilityConfig struct {
	PushgatewayURL      string `envconfig:"PUSHGATEWAY_URL" validate:"omitempty,url"`
	JobName             string `envconfig:"METRICS_JOB_NAME" default:"chaines_poller"`
	CloudWatchNamespace string `envconfig:"CLOUDWATCH_NAMESPACE"`
}

// RetentionConfig bounds how long model runs are kept by the archiver.
type RetentionConfig struct {
	KeepFor    time.Duration `envconfig:"CHAINES_RETENTION" default:"720h" validate:"min=24h"`
	BatchLimit int           `envconfig:"CHAINES_RETENTION_BATCH" default:"50" validate:"min=1,max=1000"`
	MaxBatches int           `envconfig:"CHAINES_RETENTION_MAX_BATCHES" default:"20" validate:"min=1"`
}

// BuildInfo is injected at link time:
//
//	go build -ldflags "-X github.com/abschwenker/wps/internal/config.version=1.2.3 \
//	    -X github.com/abschwenker/wps/internal/config.commit=$(git rev-parse --short HEAD)"
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
}

// ConfigErrorType categorizes loading failures.
type ConfigErrorType string

const (
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
