package planner

import (
	"math"

	"github.com/h0rn3t/timescaledb/internal/catalog"
	"github.com/h0rn3t/timescaledb/internal/config"
)

// CostEstimate is the estimated cost of a plan node.
type CostEstimate struct {
	StartupCost float64
	TotalCost   float64

	// Rows is the estimated number of output rows, kept fractional.
	Rows float64

	// DecompressedRows is the number of rows the node decompresses.
	DecompressedRows float64

	// Fallback is set when the batch size was unknown and the configured
	// fallback cost was used.
	Fallback bool
}

// CostModel turns row and batch estimates into plan costs.
type CostModel struct {
	cfg config.CostConfig
}

// NewCostModel creates a cost model with the given constants.
func NewCostModel(cfg config.CostConfig) CostModel {
	return CostModel{cfg: cfg}
}

// Cost returns the cost of a decompressing scan.
//
// Decompression work is charged for OriginalCompressedRows batches of
// BatchSize rows each, plus a fixed overhead per batch; Rows reports
// FilteredCompressedRows * BatchSize. Without a batch size the scan is
// charged FallbackScanCost.
func (m CostModel) Cost(info CompressionInfo) CostEstimate {
	if info.BatchSize <= 0 {
		return CostEstimate{
			StartupCost:      m.cfg.ScanStartupCost,
			TotalCost:        m.cfg.FallbackScanCost,
			Rows:             info.FilteredCompressedRows * float64(m.cfg.DefaultBatchSize),
			DecompressedRows: info.OriginalCompressedRows * float64(m.cfg.DefaultBatchSize),
			Fallback:         true,
		}
	}

	batchSize := float64(info.BatchSize)
	decompressed := info.OriginalCompressedRows * batchSize

	var pages float64
	if info.BatchCount > 0 {
		pages = float64(info.CompressedPages) * info.OriginalCompressedRows / float64(info.BatchCount)
	}

	total := m.cfg.ScanStartupCost +
		m.cfg.SeqPageCost*pages +
		m.cfg.CPUTupleCost*decompressed +
		m.cfg.BatchDecompressionCost*info.OriginalCompressedRows

	return CostEstimate{
		StartupCost:      m.cfg.ScanStartupCost,
		TotalCost:        total,
		Rows:             info.FilteredCompressedRows * batchSize,
		DecompressedRows: decompressed,
	}
}

// CostHeap returns the cost of a sequential scan of an uncompressed chunk
// or plain table evaluating nquals filters, producing rows rows.
func (m CostModel) CostHeap(rowCount, pages int64, nquals int, rows float64) CostEstimate {
	tuples := float64(rowCount)
	total := m.cfg.ScanStartupCost +
		m.cfg.SeqPageCost*float64(pages) +
		(m.cfg.CPUTupleCost+m.cfg.CPUOperatorCost*float64(nquals))*tuples
	return CostEstimate{
		StartupCost: m.cfg.ScanStartupCost,
		TotalCost:   total,
		Rows:        rows,
	}
}

// CostChunk returns the cost of scanning one uncompressed chunk.
func (m CostModel) CostChunk(c *catalog.Chunk, nquals int, rows float64) CostEstimate {
	return m.CostHeap(c.RowCount, c.Pages, nquals, rows)
}

// SortCost returns the cost of sorting the output of input. Sorting must
// consume its whole input before returning the first row.
func (m CostModel) SortCost(input CostEstimate) CostEstimate {
	n := math.Max(input.Rows, 2)
	comparisons := 2 * m.cfg.CPUOperatorCost * n * math.Log2(n)

	out := input
	out.StartupCost = input.TotalCost + comparisons
	out.TotalCost = out.StartupCost + m.cfg.CPUOperatorCost*input.Rows
	return out
}

// AppendCost returns the cost of concatenating children in order.
func (m CostModel) AppendCost(children []CostEstimate) CostEstimate {
	var out CostEstimate
	for i, c := range children {
		if i == 0 {
			out.StartupCost = c.StartupCost
		}
		out.TotalCost += c.TotalCost
		out.Rows += c.Rows
		out.DecompressedRows += c.DecompressedRows
		out.Fallback = out.Fallback || c.Fallback
	}
	return out
}

// MergeCost returns the cost of merging sorted children into one
// sorted stream.
func (m CostModel) MergeCost(children []CostEstimate) CostEstimate {
	var out CostEstimate
	for _, c := range children {
		out.StartupCost += c.StartupCost
		out.TotalCost += c.TotalCost
		out.Rows += c.Rows
		out.DecompressedRows += c.DecompressedRows
		out.Fallback = out.Fallback || c.Fallback
	}
	if k := float64(len(children)); k > 1 {
		heap := m.cfg.CPUOperatorCost * k * math.Log2(k)
		out.StartupCost += heap
		out.TotalCost += heap + 2*m.cfg.CPUOperatorCost*out.Rows*math.Log2(k)
	}
	return out
}
