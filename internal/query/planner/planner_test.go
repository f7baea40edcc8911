package planner

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/h0rn3t/timescaledb/internal/catalog"
	"github.com/h0rn3t/timescaledb/internal/config"
	tserrors "github.com/h0rn3t/timescaledb/internal/errors"
	"github.com/h0rn3t/timescaledb/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const chunkCount = 20

// newTestCatalog registers a hypertable of 20 compressed chunks covering
// [0, 2000) in steps of 100, each with 10 batches of 1000 rows, plus two
// plain tables usable as join dimensions.
func newTestCatalog(t *testing.T) *catalog.MemoryCatalog {
	t.Helper()
	ctx := context.Background()
	c := catalog.NewMemoryCatalog()

	require.NoError(t, c.RegisterTable(ctx, &catalog.Table{
		Name:            "metrics",
		Kind:            catalog.KindHypertable,
		PartitionColumn: "time",
		RowCount:        chunkCount * 10000,
		Columns: map[string]catalog.ColumnStats{
			"value": {NDistinct: -0.5},
		},
	}))
	require.NoError(t, c.RegisterTable(ctx, &catalog.Table{
		Name: "events", Kind: catalog.KindPlain, RowCount: 500, Pages: 5,
		Columns: map[string]catalog.ColumnStats{"kind": {NDistinct: 10}},
	}))
	require.NoError(t, c.RegisterTable(ctx, &catalog.Table{
		Name: "periods", Kind: catalog.KindPlain, RowCount: 50, Pages: 1,
	}))

	for i := int64(0); i < chunkCount; i++ {
		require.NoError(t, c.RegisterChunk(ctx, testChunk(i+1, i*100)))
	}
	return c
}

func testChunk(id, start int64) *catalog.Chunk {
	return &catalog.Chunk{
		ID:              id,
		Name:            fmt.Sprintf("_hyper_1_%d_chunk", id),
		Hypertable:      "metrics",
		RangeStart:      start,
		RangeEnd:        start + 100,
		Compressed:      true,
		RowCount:        10000,
		BatchCount:      10,
		BatchSize:       1000,
		CompressedPages: 20,
	}
}

func testPlannerConfig() config.PlannerConfig {
	return config.DefaultConfig().Planner
}

func newTestPlanner(t *testing.T, reader catalog.Reader, cfg config.PlannerConfig) *Planner {
	t.Helper()
	return NewPlanner(reader, cfg, config.DefaultCostConfig(), logging.Discard())
}

func mustPlan(t *testing.T, p *Planner, sql string) *Plan {
	t.Helper()
	plan, err := p.PlanSQL(context.Background(), sql)
	require.NoError(t, err, sql)
	return plan
}

func chunkIDs(rp *RelationPlan) []int64 {
	var ids []int64
	for _, c := range rp.Pruning.Chunks {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestPlan_KeyRangePrunesChunks(t *testing.T) {
	p := newTestPlanner(t, newTestCatalog(t), testPlannerConfig())
	plan := mustPlan(t, p, "SELECT * FROM metrics WHERE time >= 500 AND time < 700")

	require.Len(t, plan.Relations, 1)
	rp := plan.Relations[0]
	assert.Equal(t, []int64{6, 7}, chunkIDs(rp))
	assert.Equal(t, chunkCount, rp.Pruning.Total)
	assert.Equal(t, chunkCount-2, rp.Pruning.Excluded)
	assert.Equal(t, PathAppend, rp.Path.Kind)
	assert.Equal(t, "SELECT", plan.Command)
	assert.NotZero(t, plan.QueryID)
}

func TestPlan_OrUnionOfDisjuncts(t *testing.T) {
	p := newTestPlanner(t, newTestCatalog(t), testPlannerConfig())
	plan := mustPlan(t, p, "SELECT * FROM metrics WHERE time < 100 OR (time >= 1900 AND time < 1950) OR time IN (1000, 1001)")
	assert.Equal(t, []int64{1, 11, 20}, chunkIDs(plan.Relations[0]))
}

func TestPlan_ValueOnlyQualsKeepChunks(t *testing.T) {
	p := newTestPlanner(t, newTestCatalog(t), testPlannerConfig())
	plan := mustPlan(t, p, "SELECT * FROM metrics WHERE value > 10 OR time < 100")
	assert.Len(t, plan.Relations[0].Pruning.Chunks, chunkCount)
}

// A metadata-evaluable filter keeps all 10 batches of a chunk while a
// value-only filter keeps 0.5% of them: rows follow the filtered count,
// decompression cost follows the original count.
func TestPlan_DecompressionCostUsesOriginalBatches(t *testing.T) {
	cost := config.DefaultCostConfig()
	p := NewPlanner(newTestCatalog(t), testPlannerConfig(), cost, logging.Discard())
	plan := mustPlan(t, p, "SELECT * FROM metrics WHERE time >= 0 AND time < 100 AND device = 'd1'")

	rp := plan.Relations[0]
	require.Len(t, rp.Path.Scans, 1)
	scan := rp.Path.Scans[0]
	require.NotNil(t, scan.Compression)

	assert.Equal(t, 10.0, scan.Compression.OriginalCompressedRows)
	assert.InDelta(t, 0.05, scan.Compression.FilteredCompressedRows, 1e-9)
	assert.InDelta(t, 50, scan.Cost.Rows, 1e-9)

	base := cost.ScanStartupCost + cost.SeqPageCost*20
	want := base + 10000*cost.CPUTupleCost + 10*cost.BatchDecompressionCost
	assert.InDelta(t, want, scan.Cost.TotalCost, 1e-9)
	assert.Greater(t, scan.Cost.TotalCost, base+50*cost.CPUTupleCost+10*cost.BatchDecompressionCost)
}

func TestPlan_JoinQualPropagation(t *testing.T) {
	p := newTestPlanner(t, newTestCatalog(t), testPlannerConfig())

	joined := mustPlan(t, p,
		"SELECT * FROM metrics m JOIN events e ON m.time = e.time WHERE e.time >= 500 AND e.time < 700")
	manual := mustPlan(t, p,
		"SELECT * FROM metrics m JOIN events e ON m.time = e.time WHERE m.time >= 500 AND m.time < 700")

	jm, ok := joined.Relation("m")
	require.True(t, ok)
	mm, ok := manual.Relation("m")
	require.True(t, ok)

	assert.Equal(t, []int64{6, 7}, chunkIDs(jm))
	assert.Equal(t, chunkIDs(mm), chunkIDs(jm))
	assert.InDelta(t, mm.Cost().TotalCost, jm.Cost().TotalCost, 1e-9)
	assert.InDelta(t, mm.Cost().Rows, jm.Cost().Rows, 1e-9)
	require.Len(t, jm.Pruning.Derived, 1)
	assert.False(t, jm.Pruning.RuntimeExclusion)

	e, ok := joined.Relation("e")
	require.True(t, ok)
	assert.Nil(t, e.Path)
	assert.NotNil(t, e.Heap)
}

func TestPlan_JoinQualPropagationDisabled(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.EnableJoinQualPropagation = false
	p := newTestPlanner(t, newTestCatalog(t), cfg)

	plan := mustPlan(t, p,
		"SELECT * FROM metrics m JOIN events e ON m.time = e.time WHERE e.time >= 500 AND e.time < 700")
	m, _ := plan.Relation("m")
	assert.Len(t, m.Pruning.Chunks, chunkCount)
	assert.True(t, m.Pruning.RuntimeExclusion)
}

func TestPlan_BetweenStyleJoinIsNotPropagated(t *testing.T) {
	p := newTestPlanner(t, newTestCatalog(t), testPlannerConfig())

	plan := mustPlan(t, p, `SELECT * FROM metrics m
		JOIN periods p ON m.time >= p.start_time AND m.time < p.end_time
		WHERE p.start_time >= 500 AND p.end_time < 700`)
	unpruned := mustPlan(t, p, "SELECT * FROM metrics m")

	m, _ := plan.Relation("m")
	u, _ := unpruned.Relation("m")
	assert.Equal(t, chunkIDs(u), chunkIDs(m))
	assert.Zero(t, m.Pruning.Excluded)
	assert.Empty(t, m.Pruning.Derived)
	assert.True(t, m.Pruning.RuntimeExclusion)
}

func TestPlan_NoMatchingBatches(t *testing.T) {
	ctx := context.Background()
	c := catalog.NewMemoryCatalog()
	require.NoError(t, c.RegisterTable(ctx, &catalog.Table{
		Name: "metrics", Kind: catalog.KindHypertable, PartitionColumn: "time",
	}))
	ch := testChunk(1, 0)
	ch.BatchCount = 2
	ch.Batches = []catalog.BatchRange{{Min: 0, Max: 40}, {Min: 41, Max: 80}}
	require.NoError(t, c.RegisterChunk(ctx, ch))

	cost := config.DefaultCostConfig()
	p := NewPlanner(c, testPlannerConfig(), cost, logging.Discard())
	plan := mustPlan(t, p, "SELECT * FROM metrics WHERE time >= 90")

	rp := plan.Relations[0]
	require.Len(t, rp.Path.Scans, 1, "the chunk range still overlaps")
	scan := rp.Path.Scans[0]
	assert.Equal(t, 0.0, scan.Compression.OriginalCompressedRows)
	assert.Equal(t, 0.0, scan.Cost.Rows)
	assert.Equal(t, cost.ScanStartupCost, scan.Cost.TotalCost)
}

func TestPlan_AllChunksExcluded(t *testing.T) {
	cost := config.DefaultCostConfig()
	p := NewPlanner(newTestCatalog(t), testPlannerConfig(), cost, logging.Discard())
	plan := mustPlan(t, p, "SELECT * FROM metrics WHERE time >= 5000")

	rp := plan.Relations[0]
	assert.Equal(t, PathEmpty, rp.Path.Kind)
	assert.Equal(t, cost.ScanStartupCost, rp.Cost().StartupCost)
	assert.Equal(t, cost.ScanStartupCost, rp.Cost().TotalCost)
	assert.Zero(t, rp.Cost().Rows)
	assert.Zero(t, plan.DecompressedRows())

	cost.ScanStartupCost = 2.5
	p = NewPlanner(newTestCatalog(t), testPlannerConfig(), cost, logging.Discard())
	plan = mustPlan(t, p, "SELECT * FROM metrics WHERE time < 0")
	assert.Equal(t, 2.5, plan.Relations[0].Cost().TotalCost)
}

func TestPlan_UnattributedColumnIsRejected(t *testing.T) {
	p := newTestPlanner(t, newTestCatalog(t), testPlannerConfig())

	tests := []string{
		"SELECT * FROM metrics m JOIN events e ON m.time = e.time WHERE device = 'd1' AND m.time < 100",
		"SELECT * FROM metrics m, events e WHERE m.time < 100 AND (e.kind = 'x' OR device = 'd1')",
		"SELECT * FROM metrics m, events e WHERE lower(device) = 'd1'",
	}
	for _, sql := range tests {
		t.Run(sql, func(t *testing.T) {
			_, err := p.PlanSQL(context.Background(), sql)
			require.Error(t, err)
			assert.Equal(t, tserrors.ErrCategoryValidation, tserrors.GetCategory(err))
			assert.Equal(t, tserrors.CodeAmbiguousColumn, tserrors.GetCode(err))
			assert.Contains(t, err.Error(), `"device"`)
		})
	}

	// Qualified, the same filter is kept on the scan of its table.
	plan := mustPlan(t, p, "SELECT * FROM metrics m JOIN events e ON m.time = e.time WHERE m.device = 'd1' AND m.time < 100")
	m, _ := plan.Relation("m")
	require.Len(t, m.Path.Scans, 1)
	assert.Contains(t, filterText(m.Path.Scans[0].Filter), "device")
	assert.InDelta(t, 50, m.Path.Scans[0].Cost.Rows, 1e-9)
}

func TestPlan_OverflowingConstantsNeverPrune(t *testing.T) {
	p := newTestPlanner(t, newTestCatalog(t), testPlannerConfig())

	for _, sql := range []string{
		"SELECT * FROM metrics WHERE time < 9223372036854775807 + 1",
		"SELECT * FROM metrics WHERE time < 4611686018427387904 * 4",
	} {
		plan := mustPlan(t, p, sql)
		rp := plan.Relations[0]
		assert.Len(t, rp.Pruning.Chunks, chunkCount, sql)
		assert.Zero(t, rp.Pruning.Excluded, sql)
	}
}

func TestPlan_PruningDisabled(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.EnableChunkPruning = false
	p := newTestPlanner(t, newTestCatalog(t), cfg)

	plan := mustPlan(t, p, "SELECT * FROM metrics WHERE time >= 500 AND time < 700")
	rp := plan.Relations[0]
	assert.Len(t, rp.Pruning.Chunks, chunkCount)

	// Batch estimates still see the range.
	assert.Equal(t, 0.0, rp.Path.Scans[0].Compression.OriginalCompressedRows)
	assert.Equal(t, 10.0, rp.Path.Scans[5].Compression.OriginalCompressedRows)
}

func TestPlan_StableKeyQualMarksStartupExclusion(t *testing.T) {
	p := newTestPlanner(t, newTestCatalog(t), testPlannerConfig())
	plan := mustPlan(t, p, "SELECT * FROM metrics WHERE time > now() - 100")

	rp := plan.Relations[0]
	assert.True(t, rp.Pruning.StartupExclusion)
	assert.Len(t, rp.Pruning.Chunks, chunkCount)

	cfg := testPlannerConfig()
	cfg.EnableRuntimeExclusion = false
	p = newTestPlanner(t, newTestCatalog(t), cfg)
	plan = mustPlan(t, p, "SELECT * FROM metrics WHERE time > now() - 100")
	assert.False(t, plan.Relations[0].Pruning.StartupExclusion)
}

func TestPlan_OrderedAppend(t *testing.T) {
	p := newTestPlanner(t, newTestCatalog(t), testPlannerConfig())
	plan := mustPlan(t, p, "SELECT * FROM metrics WHERE time >= 500 AND time < 700 ORDER BY time DESC LIMIT 10")

	rp := plan.Relations[0]
	require.NotNil(t, rp.Order)
	assert.True(t, rp.Order.Desc)
	assert.Equal(t, PathOrderedChunkAppend, rp.Path.Kind)
	assert.Equal(t, int64(7), rp.Path.Scans[0].Chunk.ID)

	kinds := make([]PathKind, 0, len(rp.Candidates))
	for _, c := range rp.Candidates {
		kinds = append(kinds, c.Kind)
		assert.GreaterOrEqual(t, c.Cost.TotalCost, rp.Path.Cost.TotalCost)
	}
	assert.ElementsMatch(t, []PathKind{PathMergeAppend, PathSortedAppend, PathOrderedChunkAppend}, kinds)

	cfg := testPlannerConfig()
	cfg.EnableOrderedAppend = false
	p = newTestPlanner(t, newTestCatalog(t), cfg)
	plan = mustPlan(t, p, "SELECT * FROM metrics WHERE time >= 500 AND time < 700 ORDER BY time")
	assert.NotEqual(t, PathOrderedChunkAppend, plan.Relations[0].Path.Kind)
	assert.Len(t, plan.Relations[0].Candidates, 2)
}

func TestPlan_DecompressionLimit(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.MaxDecompressedRowsPerDML = 10000
	p := newTestPlanner(t, newTestCatalog(t), cfg)

	// Two chunks of 10 batches of 1000 rows.
	_, err := p.PlanSQL(context.Background(), "DELETE FROM metrics WHERE time >= 500 AND time < 700")
	require.Error(t, err)
	assert.Equal(t, tserrors.ErrCategoryPlanning, tserrors.GetCategory(err))
	assert.Equal(t, tserrors.CodeDecompressionLimit, tserrors.GetCode(err))

	plan := mustPlan(t, p, "UPDATE metrics SET value = 0 WHERE time >= 500 AND time < 600")
	assert.Equal(t, "UPDATE", plan.Command)
	assert.InDelta(t, 10000, plan.DecompressedRows(), 1e-9)

	// SELECT is never limited.
	mustPlan(t, p, "SELECT * FROM metrics")

	cfg.MaxDecompressedRowsPerDML = 0
	p = newTestPlanner(t, newTestCatalog(t), cfg)
	mustPlan(t, p, "DELETE FROM metrics")
}

type failingReader struct {
	catalog.Reader
	failChunks bool
}

func (f failingReader) Chunks(ctx context.Context, table string) ([]*catalog.Chunk, error) {
	if f.failChunks {
		return nil, tserrors.NewCatalogError(tserrors.CodeLookupFailed, "catalog unavailable", nil)
	}
	return f.Reader.Chunks(ctx, table)
}

func TestPlan_CatalogFailureIsFatal(t *testing.T) {
	p := newTestPlanner(t, failingReader{Reader: newTestCatalog(t), failChunks: true}, testPlannerConfig())

	plan, err := p.PlanSQL(context.Background(), "SELECT * FROM metrics WHERE time < 100")
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.Equal(t, tserrors.CodeLookupFailed, tserrors.GetCode(err))

	// Plain tables have no chunks to look up.
	_, err = p.PlanSQL(context.Background(), "SELECT * FROM events")
	assert.NoError(t, err)
}

func TestPlan_Errors(t *testing.T) {
	p := newTestPlanner(t, newTestCatalog(t), testPlannerConfig())
	ctx := context.Background()

	tests := []struct {
		name string
		sql  string
		code string
	}{
		{"unknown table", "SELECT * FROM missing", tserrors.CodeTableNotFound},
		{"syntax error", "SELECT FROM WHERE", tserrors.CodeParseError},
		{"outer join", "SELECT * FROM metrics m LEFT JOIN events e ON m.time = e.time", tserrors.CodeUnsupportedSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.PlanSQL(ctx, tt.sql)
			require.Error(t, err)
			assert.Equal(t, tt.code, tserrors.GetCode(err))
		})
	}

	_, err := p.Plan(ctx, nil)
	assert.Equal(t, tserrors.CodeNoRelation, tserrors.GetCode(err))
}

func TestPlan_ExplainWrapperAndSchemaQualifiedNames(t *testing.T) {
	p := newTestPlanner(t, newTestCatalog(t), testPlannerConfig())
	plan := mustPlan(t, p, "EXPLAIN SELECT * FROM public.metrics WHERE metrics.time < 100")

	assert.True(t, plan.Explained)
	rp := plan.Relations[0]
	assert.Equal(t, "public.metrics", rp.Relation.Name)
	assert.Equal(t, []int64{1}, chunkIDs(rp))
}

func TestPlan_ResolvesUnqualifiedColumns(t *testing.T) {
	p := newTestPlanner(t, newTestCatalog(t), testPlannerConfig())

	// time is the partitioning column of metrics only; kind has
	// statistics on events only.
	plan := mustPlan(t, p, "SELECT * FROM metrics m, events e WHERE time < 100 AND kind = 'x'")
	m, _ := plan.Relation("m")
	assert.Equal(t, []int64{1}, chunkIDs(m))

	e, _ := plan.Relation("e")
	require.Len(t, e.Heap.Filter, 1)
	assert.InDelta(t, 50, e.Heap.Cost.Rows, 1e-9)
}

func TestPlan_Deterministic(t *testing.T) {
	p := newTestPlanner(t, newTestCatalog(t), testPlannerConfig())
	sql := "SELECT * FROM metrics m JOIN events e ON m.time = e.time WHERE e.time >= 500 AND e.time < 700 AND m.value > 3"

	first := mustPlan(t, p, sql)
	for i := 0; i < 3; i++ {
		again := mustPlan(t, p, sql)
		assert.Equal(t, first.ExplainText(), again.ExplainText())
		assert.Equal(t, first.QueryID, again.QueryID)
	}
}
