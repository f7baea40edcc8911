package planner

import (
	"fmt"

	"github.com/h0rn3t/timescaledb/internal/catalog"
	"github.com/h0rn3t/timescaledb/internal/query/qual"
	"github.com/h0rn3t/timescaledb/internal/query/selectivity"
)

// CompressionInfo describes the batches a scan of one compressed chunk reads.
type CompressionInfo struct {
	// BatchSize is the average number of rows per batch; 0 when unknown.
	BatchSize int64

	// BatchCount is the number of batches in the chunk.
	BatchCount int64

	// CompressedPages is the on-disk size of the compressed chunk.
	CompressedPages int64

	// OriginalCompressedRows is the number of batches that must be
	// decompressed: those left after metadata-evaluable quals only. It is
	// captured before the generic estimator runs and never changed after.
	OriginalCompressedRows float64

	// FilteredCompressedRows is the number of batches the generic
	// estimator expects to survive all quals. Never above
	// OriginalCompressedRows.
	FilteredCompressedRows float64
}

// BatchEstimator derives CompressionInfo from chunk metadata and statistics.
type BatchEstimator struct {
	generic selectivity.Estimator
}

// NewBatchEstimator creates a new batch estimator.
func NewBatchEstimator() *BatchEstimator {
	return &BatchEstimator{}
}

// Estimate returns the batch counts of a scan of chunk under quals.
//
// The decompression volume depends on the metadata-evaluable quals alone:
// with per-batch summaries it counts the batches whose [min, max] meets
// the key range, otherwise it scales BatchCount by the fraction of the
// chunk range the quals admit. The filtered count then comes from the
// generic estimator over all quals.
func (e *BatchEstimator) Estimate(rel Relation, chunk *catalog.Chunk, quals []qual.Qual) (CompressionInfo, error) {
	if chunk == nil || !chunk.Compressed {
		return CompressionInfo{}, fmt.Errorf("planner: chunk is not compressed")
	}

	info := CompressionInfo{
		BatchSize:       chunk.BatchSize,
		BatchCount:      chunk.BatchCount,
		CompressedPages: chunk.CompressedPages,
	}

	target := rel.Target()
	metadata, _ := qual.Split(quals, target)
	bounds := qual.Bounds(metadata, target)

	switch {
	case len(metadata) == 0:
		info.OriginalCompressedRows = float64(chunk.BatchCount)
	case len(chunk.Batches) > 0:
		var n int
		for _, b := range chunk.Batches {
			if bounds.OverlapsClosed(b.Min, b.Max) {
				n++
			}
		}
		info.OriginalCompressedRows = float64(n)
	default:
		info.OriginalCompressedRows = float64(chunk.BatchCount) * bounds.Coverage(chunk.RangeStart, chunk.RangeEnd)
	}

	original := info.OriginalCompressedRows
	st := selectivity.Stats{
		Relation: rel.Name,
		Table:    rel.Table,
		Key:      target.Key,
		KeyLo:    chunk.RangeStart,
		KeyHi:    chunk.RangeEnd,
	}
	filtered := e.generic.EstimateRows(st, float64(chunk.BatchCount), quals)
	info.FilteredCompressedRows = min(filtered, original)

	return info, nil
}
