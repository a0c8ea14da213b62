// Package config loads process configuration from TRACKCORE_* environment
// variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Storage drivers accepted by Storage.Driver.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Metrics exporters accepted by Metrics.Exporter.
const (
	MetricsNone       = "none"
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

// Config holds all process configuration.
type Config struct {
	LogLevel string `env:"TRACKCORE_LOG_LEVEL" envDefault:"info"`

	Storage Storage
	Blob    Blob
	Journal Journal
	Metrics Metrics
}

// Storage selects the default storage collaborator.
type Storage struct {
	Driver      string `env:"TRACKCORE_STORAGE_DRIVER" envDefault:"memory"`
	SQLitePath  string `env:"TRACKCORE_SQLITE_PATH" envDefault:"trackcore.db"`
	PostgresDSN string `env:"TRACKCORE_POSTGRES_DSN"`
}

// Blob selects the blob store backing the change journal.
type Blob struct {
	Driver string `env:"TRACKCORE_BLOB_DRIVER" envDefault:"memory"`
	FSRoot string `env:"TRACKCORE_BLOB_FS_ROOT" envDefault:"./blobdata"`
	S3     S3
}

// S3 holds S3 / MinIO connection settings.
type S3 struct {
	Bucket          string `env:"TRACKCORE_BLOB_S3_BUCKET"`
	Region          string `env:"TRACKCORE_BLOB_S3_REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"TRACKCORE_BLOB_S3_ENDPOINT"`
	PathStyle       bool   `env:"TRACKCORE_BLOB_S3_PATH_STYLE" envDefault:"false"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `env:"AWS_SESSION_TOKEN"`
}

// Journal controls archiving of save cycles.
type Journal struct {
	Enabled bool   `env:"TRACKCORE_JOURNAL_ENABLED" envDefault:"false"`
	Prefix  string `env:"TRACKCORE_JOURNAL_PREFIX" envDefault:"journal"`
}

// Metrics selects the unit-of-work metrics exporter.
type Metrics struct {
	Exporter  string `env:"TRACKCORE_METRICS_EXPORTER" envDefault:"expvar"`
	Namespace string `env:"TRACKCORE_METRICS_NAMESPACE" envDefault:"trackcore"`
}

// Load parses the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects unknown drivers and incomplete backend settings.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %s", c.Storage.Driver)
	}
	switch c.Metrics.Exporter {
	case MetricsNone, MetricsExpvar, MetricsPrometheus:
	default:
		return fmt.Errorf("unknown metrics exporter %s", c.Metrics.Exporter)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		return fmt.Errorf("TRACKCORE_BLOB_S3_BUCKET required for s3 driver")
	}
	return nil
}
