package planner

import (
	"github.com/h0rn3t/timescaledb/internal/catalog"
	"github.com/h0rn3t/timescaledb/internal/query/qual"
)

// PathKind identifies how the chunk scans of a hypertable are combined.
type PathKind int

const (
	// PathAppend concatenates chunk scans in any order.
	PathAppend PathKind = iota
	// PathMergeAppend merges sorted chunk scans into one sorted stream.
	PathMergeAppend
	// PathSortedAppend sorts the output of an Append.
	PathSortedAppend
	// PathOrderedChunkAppend concatenates sorted chunk scans in key order.
	PathOrderedChunkAppend
	// PathEmpty produces no rows because every chunk was excluded.
	PathEmpty
)

var pathKindNames = map[PathKind]string{
	PathAppend:             "Append",
	PathMergeAppend:        "MergeAppend",
	PathSortedAppend:       "SortedAppend",
	PathOrderedChunkAppend: "OrderedChunkAppend",
	PathEmpty:              "Empty",
}

func (k PathKind) String() string {
	if name, ok := pathKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// KeyOrder is a requested output order on the partitioning key.
type KeyOrder struct {
	Column qual.ColumnRef
	Desc   bool
}

// ChunkScan is the scan of one chunk, or of a plain table when Chunk is nil.
type ChunkScan struct {
	Chunk *catalog.Chunk

	// Compression is set for scans that decompress batches.
	Compression *CompressionInfo

	// Cost is the cost of the scan alone.
	Cost CostEstimate

	// SortedCost is the cost of the scan producing key order, sort included.
	SortedCost CostEstimate

	// NeedsSort is set when the chunk's rows are not stored in key order.
	NeedsSort bool

	// VectorizedFilter holds the quals decided against batch metadata.
	VectorizedFilter []qual.Qual

	// Filter holds the quals evaluated row by row.
	Filter []qual.Qual
}

// Path is one way of combining the chunk scans of a hypertable.
type Path struct {
	Kind  PathKind
	Cost  CostEstimate
	Scans []*ChunkScan

	// Order is the key order the path produces, nil when unordered.
	Order *KeyOrder
}

// buildPaths enumerates the paths able to combine scans under order.
func (m CostModel) buildPaths(scans []*ChunkScan, order *KeyOrder, orderedAppend bool) []*Path {
	if len(scans) == 0 {
		startup := CostEstimate{StartupCost: m.cfg.ScanStartupCost, TotalCost: m.cfg.ScanStartupCost}
		return []*Path{{Kind: PathEmpty, Cost: startup, Order: order}}
	}

	plain := make([]CostEstimate, len(scans))
	sorted := make([]CostEstimate, len(scans))
	for i, s := range scans {
		plain[i] = s.Cost
		sorted[i] = s.SortedCost
	}

	appendCost := m.AppendCost(plain)
	if order == nil {
		return []*Path{{Kind: PathAppend, Cost: appendCost, Scans: scans}}
	}

	paths := []*Path{
		{Kind: PathMergeAppend, Cost: m.MergeCost(sorted), Scans: scans, Order: order},
		{Kind: PathSortedAppend, Cost: m.SortCost(appendCost), Scans: scans, Order: order},
	}

	if orderedAppend && disjoint(scans) {
		ordered := make([]*ChunkScan, len(scans))
		copy(ordered, scans)
		orderedCosts := make([]CostEstimate, len(sorted))
		copy(orderedCosts, sorted)
		if order.Desc {
			for i, k := 0, len(ordered)-1; i < k; i, k = i+1, k-1 {
				ordered[i], ordered[k] = ordered[k], ordered[i]
				orderedCosts[i], orderedCosts[k] = orderedCosts[k], orderedCosts[i]
			}
		}
		paths = append(paths, &Path{
			Kind:  PathOrderedChunkAppend,
			Cost:  m.AppendCost(orderedCosts),
			Scans: ordered,
			Order: order,
		})
	}
	return paths
}

// disjoint reports whether the chunk ranges, ordered by RangeStart, do not
// overlap, so that concatenating them in order preserves key order.
func disjoint(scans []*ChunkScan) bool {
	for i := 1; i < len(scans); i++ {
		if scans[i].Chunk.RangeStart < scans[i-1].Chunk.RangeEnd {
			return false
		}
	}
	return true
}

// ChoosePath returns the path with the lowest total cost. Ties go to the
// kind declared first.
func ChoosePath(paths []*Path) *Path {
	var best *Path
	for _, p := range paths {
		if best == nil ||
			p.Cost.TotalCost < best.Cost.TotalCost ||
			(p.Cost.TotalCost == best.Cost.TotalCost && p.Kind < best.Kind) {
			best = p
		}
	}
	return best
}
