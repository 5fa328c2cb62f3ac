package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakite/searchsync/internal/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Worker.ConsumerThreads)
	assert.Equal(t, 25, cfg.Worker.ClaimBatchSize)
	assert.Equal(t, Duration(5*time.Second), cfg.Worker.PollInterval)
	assert.Equal(t, 5000, cfg.Worker.MaxCascadeReindex)
	assert.Equal(t, 200, cfg.Worker.BulkBatchSize)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("/no/such/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/searchsync/data.db
search:
  cluster_alias: prod
worker:
  consumer_threads: 8
  poll_interval: 2s
logging:
  level: debug
  format: json
metrics:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/searchsync/data.db", cfg.Database.Path)
	assert.Equal(t, "prod", cfg.Search.ClusterAlias)
	assert.Equal(t, 8, cfg.Worker.ConsumerThreads)
	assert.Equal(t, Duration(2*time.Second), cfg.Worker.PollInterval)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)
	// untouched keys keep their defaults
	assert.Equal(t, 25, cfg.Worker.ClaimBatchSize)
}

func TestLoadParsesDurationForms(t *testing.T) {
	path := writeConfig(t, `
database:
  busy_timeout: 1500ms
worker:
  poll_interval: 2s
  bulk_flush_timeout: 90000000000
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Duration(1500*time.Millisecond), cfg.Database.BusyTimeout)
	assert.Equal(t, Duration(2*time.Second), cfg.Worker.PollInterval)
	// bare integers decode as nanoseconds
	assert.Equal(t, Duration(90*time.Second), cfg.Worker.BulkFlushTimeout)

	path = writeConfig(t, "worker:\n  poll_interval: soon\n")
	_, err = Load(path)
	assert.True(t, types.IsCode(err, types.CONFIG_LOAD_FAILED))
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "worker: [not a map")
	_, err := Load(path)
	assert.True(t, types.IsCode(err, types.CONFIG_LOAD_FAILED))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero consumer threads", func(c *Config) { c.Worker.ConsumerThreads = 0 }},
		{"too many consumer threads", func(c *Config) { c.Worker.ConsumerThreads = 65 }},
		{"zero claim batch", func(c *Config) { c.Worker.ClaimBatchSize = 0 }},
		{"sub-second poll interval", func(c *Config) { c.Worker.PollInterval = Duration(100 * time.Millisecond) }},
		{"zero cascade limit", func(c *Config) { c.Worker.MaxCascadeReindex = 0 }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.True(t, types.IsCode(err, types.CONFIG_VALIDATION_FAILED))
		})
	}
}
