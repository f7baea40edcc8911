// Package catalog provides the partition catalog consumed by the planner:
// hypertables, their chunks with key ranges, and per-chunk compression
// statistics.
package catalog

import (
	"context"
	"fmt"

	tserrors "github.com/h0rn3t/timescaledb/internal/errors"
)

// TableKind distinguishes hypertables from plain tables.
type TableKind string

const (
	KindHypertable TableKind = "hypertable"
	KindPlain      TableKind = "plain"
)

// ColumnStats holds per-column statistics for selectivity estimation.
type ColumnStats struct {
	NDistinct float64 `json:"n_distinct" yaml:"n_distinct"`
	NullFrac  float64 `json:"null_frac" yaml:"null_frac"`
}

// Table describes a hypertable or plain table.
type Table struct {
	Name            string                 `json:"name" yaml:"name"`
	Kind            TableKind              `json:"kind" yaml:"kind"`
	PartitionColumn string                 `json:"partition_column,omitempty" yaml:"partition_column,omitempty"`
	RowCount        int64                  `json:"row_count" yaml:"row_count"`
	Pages           int64                  `json:"pages" yaml:"pages"`
	Columns         map[string]ColumnStats `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// IsHypertable reports whether the table is partitioned into chunks.
func (t *Table) IsHypertable() bool {
	return t.Kind == KindHypertable
}

// BatchRange is the inclusive min/max of the partitioning key within one
// compressed batch.
type BatchRange struct {
	Min int64 `json:"min" yaml:"min"`
	Max int64 `json:"max" yaml:"max"`
}

// Chunk is one partition of a hypertable covering [RangeStart, RangeEnd)
// on the partitioning key.
type Chunk struct {
	ID         int64  `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Hypertable string `json:"hypertable" yaml:"hypertable"`
	RangeStart int64  `json:"range_start" yaml:"range_start"`
	RangeEnd   int64  `json:"range_end" yaml:"range_end"`
	Compressed bool   `json:"compressed" yaml:"compressed"`

	// Uncompressed heap size.
	RowCount int64 `json:"row_count" yaml:"row_count"`
	Pages    int64 `json:"pages" yaml:"pages"`

	// Compression statistics, filled from CompressionStats for compressed chunks.
	BatchCount      int64        `json:"batch_count,omitempty" yaml:"batch_count,omitempty"`
	BatchSize       int64        `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	CompressedPages int64        `json:"compressed_pages,omitempty" yaml:"compressed_pages,omitempty"`
	Batches         []BatchRange `json:"batches,omitempty" yaml:"batches,omitempty"`
	SortedByKey     bool         `json:"sorted_by_key,omitempty" yaml:"sorted_by_key,omitempty"`
}

// CompressionStats is the compression metadata of one compressed chunk.
type CompressionStats struct {
	BatchCount      int64        `json:"batch_count"`
	BatchSize       int64        `json:"batch_size"`
	CompressedPages int64        `json:"compressed_pages"`
	Batches         []BatchRange `json:"batches,omitempty"`
	SortedByKey     bool         `json:"sorted_by_key"`
}

// Apply copies the statistics onto a chunk.
func (s CompressionStats) Apply(c *Chunk) {
	c.BatchCount = s.BatchCount
	c.BatchSize = s.BatchSize
	c.CompressedPages = s.CompressedPages
	c.Batches = s.Batches
	c.SortedByKey = s.SortedByKey
}

// Reader is the read-only catalog interface consumed by the planner.
// Implementations return TABLE_NOT_FOUND for unknown tables and
// LOOKUP_FAILED when the backing store cannot be read.
type Reader interface {
	// Table returns the table definition.
	Table(ctx context.Context, name string) (*Table, error)

	// Chunks returns the chunks of a hypertable ordered by RangeStart.
	Chunks(ctx context.Context, table string) ([]*Chunk, error)

	// CompressionStats returns the compression metadata of a compressed chunk.
	CompressionStats(ctx context.Context, chunkID int64) (*CompressionStats, error)
}

// Writer registers catalog entries.
type Writer interface {
	RegisterTable(ctx context.Context, t *Table) error
	RegisterChunk(ctx context.Context, c *Chunk) error
}

func tableNotFound(name string) error {
	return tserrors.NewCatalogError(tserrors.CodeTableNotFound, fmt.Sprintf("table %q not found", name), nil).
		WithDetails(map[string]interface{}{"table": name})
}

func lookupFailed(what string, cause error) error {
	return tserrors.NewCatalogError(tserrors.CodeLookupFailed, what, cause)
}

func inconsistent(format string, args ...interface{}) error {
	return tserrors.NewCatalogError(tserrors.CodeInconsistent, fmt.Sprintf(format, args...), nil)
}

// ValidateTable checks a table definition for structural errors.
func ValidateTable(t *Table) error {
	if t.Name == "" {
		return inconsistent("table name is required")
	}
	switch t.Kind {
	case KindHypertable:
		if t.PartitionColumn == "" {
			return inconsistent("hypertable %q has no partition column", t.Name)
		}
	case KindPlain:
	default:
		return inconsistent("table %q has unknown kind %q", t.Name, t.Kind)
	}
	if t.RowCount < 0 || t.Pages < 0 {
		return inconsistent("table %q has negative size", t.Name)
	}
	return nil
}

// ValidateChunk checks a chunk for structural errors.
func ValidateChunk(c *Chunk) error {
	if c.Hypertable == "" {
		return inconsistent("chunk %d has no hypertable", c.ID)
	}
	if c.RangeEnd <= c.RangeStart {
		return inconsistent("chunk %d has empty range [%d, %d)", c.ID, c.RangeStart, c.RangeEnd)
	}
	if c.RowCount < 0 || c.Pages < 0 {
		return inconsistent("chunk %d has negative size", c.ID)
	}
	if c.BatchCount < 0 || c.BatchSize < 0 || c.CompressedPages < 0 {
		return inconsistent("chunk %d has negative compression statistics", c.ID)
	}
	if c.Compressed && len(c.Batches) > 0 && int64(len(c.Batches)) != c.BatchCount {
		return inconsistent("chunk %d lists %d batch ranges for %d batches", c.ID, len(c.Batches), c.BatchCount)
	}
	for i, b := range c.Batches {
		if b.Max < b.Min {
			return inconsistent("chunk %d batch %d has min %d > max %d", c.ID, i, b.Min, b.Max)
		}
	}
	return nil
}
