// Package config loads the searchsync daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/datakite/searchsync/internal/types"
)

// Duration wraps time.Duration so YAML scalars like "5s" decode.
// Bare integers are read as nanoseconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, got %s", value.Tag)
	}
	if n, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the root configuration for the searchsync daemon.
type Config struct {
	Database DBConfig      `yaml:"database"`
	Search   SearchConfig  `yaml:"search"`
	Worker   WorkerConfig  `yaml:"worker"`
	Logging  LoggingConfig `yaml:"logging"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// DBConfig contains database configuration.
type DBConfig struct {
	Path           string        `yaml:"path"`
	MaxConnections int           `yaml:"max_connections"`
	BusyTimeout    Duration `yaml:"busy_timeout"`
}

// SearchConfig contains search index configuration.
type SearchConfig struct {
	ClusterAlias string `yaml:"cluster_alias"`
}

// WorkerConfig tunes the retry worker pool.
type WorkerConfig struct {
	ConsumerThreads   int           `yaml:"consumer_threads"`
	PollInterval      Duration `yaml:"poll_interval"`
	ClaimBatchSize    int           `yaml:"claim_batch_size"`
	MaxCascadeReindex int           `yaml:"max_cascade_reindex"`

	SuspensionRefreshInterval     Duration `yaml:"suspension_refresh_interval"`
	CandidateTypesRefreshInterval Duration `yaml:"candidate_types_refresh_interval"`

	BulkBatchSize    int           `yaml:"bulk_batch_size"`
	BulkConcurrency  int           `yaml:"bulk_concurrency"`
	BulkMemoryCap    int64         `yaml:"bulk_memory_cap"`
	BulkFlushTimeout Duration `yaml:"bulk_flush_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// MetricsConfig contains metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Database: DBConfig{
			Path:           "searchsync.db",
			MaxConnections: 10,
			BusyTimeout:    Duration(5 * time.Second),
		},
		Worker: WorkerConfig{
			ConsumerThreads:               4,
			PollInterval:                  Duration(5 * time.Second),
			ClaimBatchSize:                25,
			MaxCascadeReindex:             5000,
			SuspensionRefreshInterval:     Duration(5 * time.Second),
			CandidateTypesRefreshInterval: Duration(60 * time.Second),
			BulkBatchSize:                 200,
			BulkConcurrency:               5,
			BulkMemoryCap:                 10 * 1024 * 1024,
			BulkFlushTimeout:              Duration(60 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9109",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "database.path must be set")
	}
	if c.Worker.ConsumerThreads < 1 || c.Worker.ConsumerThreads > 64 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"worker.consumer_threads must be between 1 and 64")
	}
	if c.Worker.ClaimBatchSize < 1 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"worker.claim_batch_size must be at least 1")
	}
	if c.Worker.PollInterval.Std() < time.Second {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"worker.poll_interval must be at least 1s")
	}
	if c.Worker.MaxCascadeReindex < 1 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"worker.max_cascade_reindex must be at least 1")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"logging.format must be \"text\" or \"json\"")
	}
	return nil
}
