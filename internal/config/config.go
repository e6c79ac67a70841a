// Package config provides configuration loading and validation for coldstore.
// Supports YAML files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a coldstore instance.
type Config struct {
	Metadata      MetadataConfig      `yaml:"metadata"`
	Sources       []SourceConfig      `yaml:"sources"`
	ObjectStore   ObjectStoreConfig   `yaml:"objectStore"`
	Export        ExportConfig        `yaml:"export"`
	Lifecycle     LifecycleConfig     `yaml:"lifecycle"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// MetadataConfig points at the archival metadata database.
type MetadataConfig struct {
	Driver string `yaml:"driver" env:"COLDSTORE_META_DRIVER"`
	DSN    string `yaml:"dsn" env:"COLDSTORE_META_DSN"`
}

// SourceConfig names one relational source database.
type SourceConfig struct {
	Name   string `yaml:"name"`
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ObjectStoreConfig selects and configures the object storage backend.
type ObjectStoreConfig struct {
	// Backend is "azure" or "s3".
	Backend string `yaml:"backend" env:"COLDSTORE_STORE_BACKEND"`

	Azure AzureConfig `yaml:"azure"`
	S3    S3Config    `yaml:"s3"`
}

// AzureConfig configures the Azure Blob Storage backend.
type AzureConfig struct {
	// ConnectionStrings maps storage account names to connection strings.
	ConnectionStrings map[string]string `yaml:"connectionStrings"`
}

// S3Config configures the S3-compatible backend.
type S3Config struct {
	Endpoint     string `yaml:"endpoint" env:"COLDSTORE_S3_ENDPOINT"`
	Bucket       string `yaml:"bucket" env:"COLDSTORE_S3_BUCKET"`
	Region       string `yaml:"region" env:"COLDSTORE_S3_REGION"`
	AccessKey    string `yaml:"accessKey" env:"COLDSTORE_S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secretKey" env:"COLDSTORE_S3_SECRET_KEY"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

// ExportConfig tunes the columnar export pipeline.
type ExportConfig struct {
	// UploadParallelism caps concurrent part uploads.
	UploadParallelism int `yaml:"uploadParallelism" env:"COLDSTORE_UPLOAD_PARALLELISM"`

	// RowGroupTargetBytes is the row-group flush threshold.
	RowGroupTargetBytes int64 `yaml:"rowGroupTargetBytes" env:"COLDSTORE_ROWGROUP_TARGET_BYTES"`

	// SpillThresholdBytes is the memory-to-disk cutover for part buffering.
	SpillThresholdBytes int64 `yaml:"spillThresholdBytes" env:"COLDSTORE_SPILL_THRESHOLD_BYTES"`

	// MaxRowsPerPart caps rows per exported part file.
	MaxRowsPerPart int `yaml:"maxRowsPerPart" env:"COLDSTORE_MAX_ROWS_PER_PART"`

	// UploadRetries is the number of attempts for a transient upload failure.
	UploadRetries int `yaml:"uploadRetries" env:"COLDSTORE_UPLOAD_RETRIES"`

	// DeleteBatchSize is the batch size for source-row deletion.
	DeleteBatchSize int `yaml:"deleteBatchSize" env:"COLDSTORE_DELETE_BATCH_SIZE"`
}

// LifecycleConfig tunes the lifecycle enforcement engine.
type LifecycleConfig struct {
	// Parallelism caps concurrent per-file processing within one scope.
	Parallelism int `yaml:"parallelism" env:"COLDSTORE_LIFECYCLE_PARALLELISM"`

	// ScopeParallelism caps concurrent scope fan-out for account sweeps.
	ScopeParallelism int `yaml:"scopeParallelism" env:"COLDSTORE_SCOPE_PARALLELISM"`

	// TableScopeParallelism caps concurrent scope fan-out for per-table runs.
	TableScopeParallelism int `yaml:"tableScopeParallelism" env:"COLDSTORE_TABLE_SCOPE_PARALLELISM"`

	// MinAgeBetweenTierChecksHours is the re-evaluation cooldown per file.
	MinAgeBetweenTierChecksHours int `yaml:"minAgeBetweenTierChecksHours" env:"COLDSTORE_MIN_TIER_CHECK_HOURS"`

	// AdvanceChecksOnDryRun controls whether a dry run stamps last-checked
	// times. Matches the historical behavior when true.
	AdvanceChecksOnDryRun bool `yaml:"advanceChecksOnDryRun"`
}

// SchedulerConfig holds cron expressions for daemon mode.
type SchedulerConfig struct {
	ArchiveCron   string `yaml:"archiveCron" env:"COLDSTORE_ARCHIVE_CRON"`
	LifecycleCron string `yaml:"lifecycleCron" env:"COLDSTORE_LIFECYCLE_CRON"`
}

// ObservabilityConfig configures metrics and logging.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"COLDSTORE_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"COLDSTORE_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"COLDSTORE_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Metadata: MetadataConfig{
			Driver: "sqlite",
			DSN:    "file:coldstore.db",
		},
		ObjectStore: ObjectStoreConfig{
			Backend: "azure",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Export: ExportConfig{
			UploadParallelism:   16,
			RowGroupTargetBytes: 8 * 1024 * 1024, // 8MB
			SpillThresholdBytes: 16 * 1024 * 1024, // 16MB
			MaxRowsPerPart:      50_000,
			UploadRetries:       3,
			DeleteBatchSize:     10_000,
		},
		Lifecycle: LifecycleConfig{
			Parallelism:                  8,
			ScopeParallelism:             1,
			TableScopeParallelism:        4,
			MinAgeBetweenTierChecksHours: 24,
			AdvanceChecksOnDryRun:        true,
		},
		Scheduler: SchedulerConfig{
			ArchiveCron:   "0 2 * * *",
			LifecycleCron: "0 4 * * *",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads configuration from the path in COLDSTORE_CONFIG, falling back
// to defaults plus environment overrides when unset.
func Load() (*Config, error) {
	if path := os.Getenv("COLDSTORE_CONFIG"); path != "" {
		return LoadFromPath(path)
	}
	cfg := Default()
	applyEnvOverrides(cfg)
	return cfg, cfg.Validate()
}

// LoadFromPath reads a YAML configuration file, merges it over the defaults,
// and applies environment variable overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, cfg.Validate()
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Export.UploadParallelism < 1 {
		return fmt.Errorf("config: export.uploadParallelism must be >= 1, got %d", c.Export.UploadParallelism)
	}
	if c.Export.MaxRowsPerPart < 1 {
		return fmt.Errorf("config: export.maxRowsPerPart must be >= 1, got %d", c.Export.MaxRowsPerPart)
	}
	if c.Export.RowGroupTargetBytes < 1 {
		return fmt.Errorf("config: export.rowGroupTargetBytes must be >= 1, got %d", c.Export.RowGroupTargetBytes)
	}
	if c.Export.SpillThresholdBytes < 1 {
		return fmt.Errorf("config: export.spillThresholdBytes must be >= 1, got %d", c.Export.SpillThresholdBytes)
	}
	if c.Lifecycle.Parallelism < 1 {
		return fmt.Errorf("config: lifecycle.parallelism must be >= 1, got %d", c.Lifecycle.Parallelism)
	}
	switch c.ObjectStore.Backend {
	case "azure", "s3":
	default:
		return fmt.Errorf("config: objectStore.backend must be \"azure\" or \"s3\", got %q", c.ObjectStore.Backend)
	}
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("config: sources[%d] has no name", i)
		}
		if src.DSN == "" {
			return fmt.Errorf("config: source %q has no dsn", src.Name)
		}
	}
	return nil
}

// SourceByName returns the named source configuration.
func (c *Config) SourceByName(name string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return SourceConfig{}, false
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Metadata.Driver, "COLDSTORE_META_DRIVER")
	setString(&cfg.Metadata.DSN, "COLDSTORE_META_DSN")
	setString(&cfg.ObjectStore.Backend, "COLDSTORE_STORE_BACKEND")
	setString(&cfg.ObjectStore.S3.Endpoint, "COLDSTORE_S3_ENDPOINT")
	setString(&cfg.ObjectStore.S3.Bucket, "COLDSTORE_S3_BUCKET")
	setString(&cfg.ObjectStore.S3.Region, "COLDSTORE_S3_REGION")
	setString(&cfg.ObjectStore.S3.AccessKey, "COLDSTORE_S3_ACCESS_KEY")
	setString(&cfg.ObjectStore.S3.SecretKey, "COLDSTORE_S3_SECRET_KEY")
	setInt(&cfg.Export.UploadParallelism, "COLDSTORE_UPLOAD_PARALLELISM")
	setInt64(&cfg.Export.RowGroupTargetBytes, "COLDSTORE_ROWGROUP_TARGET_BYTES")
	setInt64(&cfg.Export.SpillThresholdBytes, "COLDSTORE_SPILL_THRESHOLD_BYTES")
	setInt(&cfg.Export.MaxRowsPerPart, "COLDSTORE_MAX_ROWS_PER_PART")
	setInt(&cfg.Export.UploadRetries, "COLDSTORE_UPLOAD_RETRIES")
	setInt(&cfg.Export.DeleteBatchSize, "COLDSTORE_DELETE_BATCH_SIZE")
	setInt(&cfg.Lifecycle.Parallelism, "COLDSTORE_LIFECYCLE_PARALLELISM")
	setInt(&cfg.Lifecycle.ScopeParallelism, "COLDSTORE_SCOPE_PARALLELISM")
	setInt(&cfg.Lifecycle.TableScopeParallelism, "COLDSTORE_TABLE_SCOPE_PARALLELISM")
	setInt(&cfg.Lifecycle.MinAgeBetweenTierChecksHours, "COLDSTORE_MIN_TIER_CHECK_HOURS")
	setString(&cfg.Scheduler.ArchiveCron, "COLDSTORE_ARCHIVE_CRON")
	setString(&cfg.Scheduler.LifecycleCron, "COLDSTORE_LIFECYCLE_CRON")
	setString(&cfg.Observability.MetricsAddr, "COLDSTORE_METRICS_ADDR")
	setString(&cfg.Observability.LogLevel, "COLDSTORE_LOG_LEVEL")
	setString(&cfg.Observability.LogFormat, "COLDSTORE_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
