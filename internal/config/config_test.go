package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Planner.EnableChunkPruning)
	assert.True(t, cfg.Planner.EnableJoinQualPropagation)
	assert.True(t, cfg.Planner.EnableRuntimeExclusion)
	assert.True(t, cfg.Planner.EnableOrderedAppend)
	assert.Equal(t, filepath.Join("./data/tsplan", "catalog.db"), cfg.Catalog.Path)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative dml limit", func(c *Config) { c.Planner.MaxDecompressedRowsPerDML = -1 }},
		{"negative cpu cost", func(c *Config) { c.Cost.CPUTupleCost = -0.01 }},
		{"NaN page cost", func(c *Config) { c.Cost.SeqPageCost = math.NaN() }},
		{"infinite startup cost", func(c *Config) { c.Cost.ScanStartupCost = math.Inf(1) }},
		{"zero default batch", func(c *Config) { c.Cost.DefaultBatchSize = 0 }},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad storage", func(c *Config) { c.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile_YAMLKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsplan.yaml")
	content := `
planner:
  enable_join_qual_propagation: false
  max_decompressed_rows_per_dml: 500
cost:
  batch_decompression_cost: 2.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.False(t, cfg.Planner.EnableJoinQualPropagation)
	assert.True(t, cfg.Planner.EnableChunkPruning, "unset switches keep their defaults")
	assert.Equal(t, int64(500), cfg.Planner.MaxDecompressedRowsPerDML)
	assert.Equal(t, 2.5, cfg.Cost.BatchDecompressionCost)
	assert.Equal(t, 0.01, cfg.Cost.CPUTupleCost)
}

func TestLoadFromFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsplan.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"planner":{"enable_ordered_append":false}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.False(t, cfg.Planner.EnableOrderedAppend)
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsplan.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TSPLAN_ENABLE_CHUNK_PRUNING", "false")
	t.Setenv("TSPLAN_CPU_TUPLE_COST", "0.02")
	t.Setenv("TSPLAN_MAX_DECOMPRESSED_ROWS_PER_DML", "0")
	t.Setenv("TSPLAN_LOG_LEVEL", "debug")
	t.Setenv("TSPLAN_ENABLE_ORDERED_APPEND", "not-a-bool")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.False(t, cfg.Planner.EnableChunkPruning)
	assert.Equal(t, 0.02, cfg.Cost.CPUTupleCost)
	assert.Equal(t, int64(0), cfg.Planner.MaxDecompressedRowsPerDML)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Planner.EnableOrderedAppend, "unparseable values are ignored")
}

func TestLoadFromEnv_NaNCostFailsValidation(t *testing.T) {
	t.Setenv("TSPLAN_BATCH_DECOMPRESSION_COST", "NaN")

	cfg := DefaultConfig()
	cfg.Resolve()
	LoadFromEnv(cfg)

	require.True(t, math.IsNaN(cfg.Cost.BatchDecompressionCost))
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_decompression_cost")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TSPLAN_TEST_DOTENV_KEY=from-file\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("TSPLAN_TEST_DOTENV_KEY") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("TSPLAN_TEST_DOTENV_KEY"))
}

func TestLoadDotEnv_NoFiles(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}
