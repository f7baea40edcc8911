// Package config provides unified configuration for the tsplan planner,
// its CLI, and its HTTP service.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "TSPLAN_"

// Config holds the unified configuration.
type Config struct {
	// DataDir is the base directory for the catalog database and snapshots
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Planner feature switches
	Planner PlannerConfig `json:"planner" yaml:"planner"`

	// Cost model constants
	Cost CostConfig `json:"cost" yaml:"cost"`

	// Catalog configuration
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Storage configuration for catalog snapshots
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// PlannerConfig holds the planning-time switches.
type PlannerConfig struct {
	// EnableChunkPruning enables planning-time chunk exclusion
	EnableChunkPruning bool `json:"enable_chunk_pruning" yaml:"enable_chunk_pruning"`

	// EnableJoinQualPropagation derives fact-side key bounds from join quals
	EnableJoinQualPropagation bool `json:"enable_join_qual_propagation" yaml:"enable_join_qual_propagation"`

	// EnableRuntimeExclusion marks scans for execution-time exclusion
	EnableRuntimeExclusion bool `json:"enable_runtime_exclusion" yaml:"enable_runtime_exclusion"`

	// EnableOrderedAppend allows ordered chunk append paths
	EnableOrderedAppend bool `json:"enable_ordered_append" yaml:"enable_ordered_append"`

	// MaxDecompressedRowsPerDML caps rows decompressed by one DML statement (0 = unlimited)
	MaxDecompressedRowsPerDML int64 `json:"max_decompressed_rows_per_dml" yaml:"max_decompressed_rows_per_dml"`
}

// CostConfig holds the cost model constants.
type CostConfig struct {
	// SeqPageCost is the cost of one sequentially read page
	SeqPageCost float64 `json:"seq_page_cost" yaml:"seq_page_cost"`

	// CPUTupleCost is the cost of processing one row
	CPUTupleCost float64 `json:"cpu_tuple_cost" yaml:"cpu_tuple_cost"`

	// CPUOperatorCost is the cost of evaluating one operator on one row
	CPUOperatorCost float64 `json:"cpu_operator_cost" yaml:"cpu_operator_cost"`

	// BatchDecompressionCost is the fixed cost of decompressing one batch
	BatchDecompressionCost float64 `json:"batch_decompression_cost" yaml:"batch_decompression_cost"`

	// ScanStartupCost is the fixed setup cost of any scan
	ScanStartupCost float64 `json:"scan_startup_cost" yaml:"scan_startup_cost"`

	// FallbackScanCost is used when a compressed chunk has no batch size
	FallbackScanCost float64 `json:"fallback_scan_cost" yaml:"fallback_scan_cost"`

	// DefaultBatchSize is the row estimate per batch when the catalog has none
	DefaultBatchSize int64 `json:"default_batch_size" yaml:"default_batch_size"`
}

// CatalogConfig holds catalog source configuration.
type CatalogConfig struct {
	// Path is the SQLite catalog database path
	Path string `json:"path" yaml:"path"`

	// CacheSize is the number of catalog entries kept in the LRU cache (0 disables it)
	CacheSize int `json:"cache_size" yaml:"cache_size"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format"`

	// SeqURL enables the Seq sink when set
	SeqURL string `json:"seq_url" yaml:"seq_url"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Prefix is prepended to every snapshot object key
	Prefix string `json:"prefix" yaml:"prefix"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/tsplan",
		Planner: PlannerConfig{
			EnableChunkPruning:        true,
			EnableJoinQualPropagation: true,
			EnableRuntimeExclusion:    true,
			EnableOrderedAppend:       true,
			MaxDecompressedRowsPerDML: 100000,
		},
		Cost: DefaultCostConfig(),
		Catalog: CatalogConfig{
			CacheSize: 1024,
		},
		HTTP: HTTPConfig{
			Addr:         ":8088",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Type: "local",
		},
	}
}

// DefaultCostConfig returns the default cost constants.
func DefaultCostConfig() CostConfig {
	return CostConfig{
		SeqPageCost:            1.0,
		CPUTupleCost:           0.01,
		CPUOperatorCost:        0.0025,
		BatchDecompressionCost: 1.0,
		ScanStartupCost:        1.0,
		FallbackScanCost:       10000,
		DefaultBatchSize:       1000,
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/tsplan"
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "snapshots")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Planner.MaxDecompressedRowsPerDML < 0 {
		return fmt.Errorf("planner.max_decompressed_rows_per_dml must be >= 0, got %d", c.Planner.MaxDecompressedRowsPerDML)
	}

	costs := map[string]float64{
		"seq_page_cost":            c.Cost.SeqPageCost,
		"cpu_tuple_cost":           c.Cost.CPUTupleCost,
		"cpu_operator_cost":        c.Cost.CPUOperatorCost,
		"batch_decompression_cost": c.Cost.BatchDecompressionCost,
		"scan_startup_cost":        c.Cost.ScanStartupCost,
		"fallback_scan_cost":       c.Cost.FallbackScanCost,
	}
	for name, v := range costs {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("cost.%s must be a finite number >= 0, got %g", name, v)
		}
	}
	if c.Cost.DefaultBatchSize <= 0 {
		return fmt.Errorf("cost.default_batch_size must be > 0, got %d", c.Cost.DefaultBatchSize)
	}

	if c.Catalog.CacheSize < 0 {
		return fmt.Errorf("catalog.cache_size must be >= 0, got %d", c.Catalog.CacheSize)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid logging.format: %s (must be text or json)", c.Logging.Format)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the
// process environment. Missing files are skipped; variables already set in
// the environment win.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to stat env file %s: %w", p, err)
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the TSPLAN_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Planner switches
	envBool("ENABLE_CHUNK_PRUNING", &cfg.Planner.EnableChunkPruning)
	envBool("ENABLE_JOIN_QUAL_PROPAGATION", &cfg.Planner.EnableJoinQualPropagation)
	envBool("ENABLE_RUNTIME_EXCLUSION", &cfg.Planner.EnableRuntimeExclusion)
	envBool("ENABLE_ORDERED_APPEND", &cfg.Planner.EnableOrderedAppend)
	envInt64("MAX_DECOMPRESSED_ROWS_PER_DML", &cfg.Planner.MaxDecompressedRowsPerDML)

	// Cost constants
	envFloat("SEQ_PAGE_COST", &cfg.Cost.SeqPageCost)
	envFloat("CPU_TUPLE_COST", &cfg.Cost.CPUTupleCost)
	envFloat("CPU_OPERATOR_COST", &cfg.Cost.CPUOperatorCost)
	envFloat("BATCH_DECOMPRESSION_COST", &cfg.Cost.BatchDecompressionCost)
	envFloat("SCAN_STARTUP_COST", &cfg.Cost.ScanStartupCost)
	envFloat("FALLBACK_SCAN_COST", &cfg.Cost.FallbackScanCost)
	envInt64("DEFAULT_BATCH_SIZE", &cfg.Cost.DefaultBatchSize)

	// Catalog
	if v := getenv("CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := getenv("CATALOG_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Catalog.CacheSize = n
		}
	}

	// HTTP
	if v := getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := getenv("HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ReadTimeout = d
		}
	}
	if v := getenv("HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = d
		}
	}

	// Logging
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := getenv("SEQ_URL"); v != "" {
		cfg.Logging.SeqURL = v
	}

	// Storage
	if v := getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := getenv("STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := getenv("S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := getenv("S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := getenv("S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := getenv("S3_PREFIX"); v != "" {
		cfg.Storage.S3.Prefix = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Catalog.Path),
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func getenv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func envBool(name string, dst *bool) {
	if v := getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt64(name string, dst *int64) {
	if v := getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
