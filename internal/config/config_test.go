package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oasysai/oasysdb/pkg/vector"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "euclidean", cfg.Collections.Metric)
	assert.Equal(t, 128, cfg.Collections.EfConstruction)
	assert.Equal(t, 64, cfg.Collections.EfSearch)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	// Given: a config file overriding a subset of fields
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/oasysdb-test
collections:
  metric: cosine
  ef_search: 32
  ef_construction: 128
  cache_size: 4
logging:
  level: debug
`), 0o644))

	// When: I load it
	cfg, err := Load(path)
	require.NoError(t, err)

	// Then: overridden fields apply and untouched ones keep defaults
	assert.Equal(t, "/tmp/oasysdb-test", cfg.DataDir)
	assert.Equal(t, "cosine", cfg.Collections.Metric)
	assert.Equal(t, 32, cfg.Collections.EfSearch)
	assert.Equal(t, 128, cfg.Collections.EfConstruction)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Logging.MaxSizeMB)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"bad metric", func(c *Config) { c.Collections.Metric = "hamming" }},
		{"zero ef_search", func(c *Config) { c.Collections.EfSearch = 0 }},
		{"zero ef_construction", func(c *Config) { c.Collections.EfConstruction = 0 }},
		{"zero cache size", func(c *Config) { c.Collections.CacheSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestVectorConfig(t *testing.T) {
	cfg := Default()
	cfg.Collections.Metric = "normalized-cosine"
	cfg.Collections.EfSearch = 48
	cfg.Collections.Seed = 7

	vc, err := cfg.VectorConfig()
	require.NoError(t, err)
	assert.Equal(t, vector.NormalizedCosine, vc.Distance)
	assert.Equal(t, 48, vc.EfSearch)
	assert.Equal(t, int64(7), vc.Seed)
	require.NoError(t, vc.Validate())
}
