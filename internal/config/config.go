// Package config loads the yaml configuration used by the oasysdb CLI
// and database layer: the data directory, default collection
// parameters, and logging settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/oasysai/oasysdb/pkg/vector"
)

// Config is the complete CLI/database configuration.
type Config struct {
	// DataDir is the database directory holding persisted collections.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Collections CollectionsConfig `yaml:"collections" json:"collections"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// CollectionsConfig carries default collection parameters, which
// VectorConfig turns into a core Config, and the size of the database
// handle cache. The CLI reads only CacheSize; `oasysdb create` takes
// its collection parameters from its own flags.
type CollectionsConfig struct {
	// Metric is the default distance metric name.
	Metric string `yaml:"metric" json:"metric"`

	// EfConstruction is the default build-time candidate list size.
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`

	// EfSearch is the default query-time candidate list size.
	EfSearch int `yaml:"ef_search" json:"ef_search"`

	// Seed seeds level assignment; 0 draws a fresh seed per collection.
	Seed int64 `yaml:"seed" json:"seed"`

	// BuildWorkers bounds bulk-build fan-out; below 2 builds
	// sequentially.
	BuildWorkers int `yaml:"build_workers" json:"build_workers"`

	// CacheSize is the number of open collection handles the database
	// keeps decoded in memory.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// LoggingConfig mirrors internal/logging.Config.
type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	FilePath      string `yaml:"file_path" json:"file_path"`
	MaxSizeMB     int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles      int    `yaml:"max_files" json:"max_files"`
	WriteToStderr bool   `yaml:"write_to_stderr" json:"write_to_stderr"`
}

// Default returns the standard configuration rooted at ~/.oasysdb.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	base := vector.DefaultConfig()
	return Config{
		DataDir: filepath.Join(home, ".oasysdb", "data"),
		Collections: CollectionsConfig{
			Metric:         base.Distance.String(),
			EfConstruction: base.EfConstruction,
			EfSearch:       base.EfSearch,
			CacheSize:      16,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  3,
		},
	}
}

// Load reads a yaml config file, layering it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and the metric name.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if _, err := vector.ParseMetric(c.Collections.Metric); err != nil {
		return fmt.Errorf("collections.metric: %w", err)
	}
	if c.Collections.EfConstruction < 1 {
		return fmt.Errorf("collections.ef_construction must be >= 1, got %d", c.Collections.EfConstruction)
	}
	if c.Collections.EfSearch < 1 {
		return fmt.Errorf("collections.ef_search must be >= 1, got %d", c.Collections.EfSearch)
	}
	if c.Collections.CacheSize < 1 {
		return fmt.Errorf("collections.cache_size must be >= 1, got %d", c.Collections.CacheSize)
	}
	return nil
}

// VectorConfig converts the collection defaults into a core Config.
func (c Config) VectorConfig() (vector.Config, error) {
	metric, err := vector.ParseMetric(c.Collections.Metric)
	if err != nil {
		return vector.Config{}, err
	}
	out := vector.DefaultConfig()
	out.EfConstruction = c.Collections.EfConstruction
	out.EfSearch = c.Collections.EfSearch
	out.Distance = metric
	out.Seed = c.Collections.Seed
	out.BuildWorkers = c.Collections.BuildWorkers
	return out, nil
}
