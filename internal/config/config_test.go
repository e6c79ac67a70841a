package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 16, cfg.Export.UploadParallelism)
	assert.Equal(t, int64(8*1024*1024), cfg.Export.RowGroupTargetBytes)
	assert.Equal(t, int64(16*1024*1024), cfg.Export.SpillThresholdBytes)
	assert.Equal(t, 50_000, cfg.Export.MaxRowsPerPart)
	assert.Equal(t, 3, cfg.Export.UploadRetries)
	assert.Equal(t, 8, cfg.Lifecycle.Parallelism)
	assert.Equal(t, 1, cfg.Lifecycle.ScopeParallelism)
	assert.Equal(t, 4, cfg.Lifecycle.TableScopeParallelism)
	assert.Equal(t, 24, cfg.Lifecycle.MinAgeBetweenTierChecksHours)
	assert.True(t, cfg.Lifecycle.AdvanceChecksOnDryRun)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coldstore.yaml")
	data := `
metadata:
  driver: mysql
  dsn: "user:pass@tcp(localhost:3306)/coldstore"
sources:
  - name: marketdata
    driver: mysql
    dsn: "user:pass@tcp(localhost:3306)/marketdata"
objectStore:
  backend: s3
  s3:
    bucket: archives
export:
  maxRowsPerPart: 10000
lifecycle:
  parallelism: 2
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Metadata.Driver)
	assert.Equal(t, "s3", cfg.ObjectStore.Backend)
	assert.Equal(t, "archives", cfg.ObjectStore.S3.Bucket)
	assert.Equal(t, 10000, cfg.Export.MaxRowsPerPart)
	assert.Equal(t, 2, cfg.Lifecycle.Parallelism)
	// Untouched values keep their defaults.
	assert.Equal(t, 16, cfg.Export.UploadParallelism)

	src, ok := cfg.SourceByName("marketdata")
	require.True(t, ok)
	assert.Equal(t, "mysql", src.Driver)

	_, ok = cfg.SourceByName("missing")
	assert.False(t, ok)
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath("/nonexistent/coldstore.yaml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COLDSTORE_MAX_ROWS_PER_PART", "777")
	t.Setenv("COLDSTORE_STORE_BACKEND", "s3")
	t.Setenv("COLDSTORE_SPILL_THRESHOLD_BYTES", "1024")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 777, cfg.Export.MaxRowsPerPart)
	assert.Equal(t, "s3", cfg.ObjectStore.Backend)
	assert.Equal(t, int64(1024), cfg.Export.SpillThresholdBytes)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero upload parallelism", func(c *Config) { c.Export.UploadParallelism = 0 }},
		{"zero max rows", func(c *Config) { c.Export.MaxRowsPerPart = 0 }},
		{"negative row group bytes", func(c *Config) { c.Export.RowGroupTargetBytes = -1 }},
		{"zero spill threshold", func(c *Config) { c.Export.SpillThresholdBytes = 0 }},
		{"zero lifecycle parallelism", func(c *Config) { c.Lifecycle.Parallelism = 0 }},
		{"unknown backend", func(c *Config) { c.ObjectStore.Backend = "tape" }},
		{"unnamed source", func(c *Config) { c.Sources = []SourceConfig{{DSN: "x"}} }},
		{"source without dsn", func(c *Config) { c.Sources = []SourceConfig{{Name: "a"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
