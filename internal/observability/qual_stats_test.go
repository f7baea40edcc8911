package observability

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/h0rn3t/timescaledb/internal/catalog"
	"github.com/h0rn3t/timescaledb/internal/config"
	"github.com/h0rn3t/timescaledb/internal/logging"
	"github.com/h0rn3t/timescaledb/internal/query/planner"
)

// newTestPlanner returns a planner over a metrics hypertable of four
// compressed chunks covering [0, 400) and a plain events table.
func newTestPlanner(t *testing.T) *planner.Planner {
	t.Helper()
	ctx := context.Background()
	c := catalog.NewMemoryCatalog()

	if err := c.RegisterTable(ctx, &catalog.Table{
		Name: "metrics", Kind: catalog.KindHypertable, PartitionColumn: "time", RowCount: 40000,
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterTable(ctx, &catalog.Table{
		Name: "events", Kind: catalog.KindPlain, RowCount: 100, Pages: 1,
	}); err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 4; i++ {
		if err := c.RegisterChunk(ctx, &catalog.Chunk{
			ID: i + 1, Name: fmt.Sprintf("_hyper_1_%d_chunk", i+1), Hypertable: "metrics",
			RangeStart: i * 100, RangeEnd: (i + 1) * 100,
			Compressed: true, RowCount: 10000, BatchCount: 10, BatchSize: 1000, CompressedPages: 20,
		}); err != nil {
			t.Fatal(err)
		}
	}
	cfg := config.DefaultConfig()
	return planner.NewPlanner(c, cfg.Planner, cfg.Cost, logging.Discard())
}

func planSQL(t *testing.T, p *planner.Planner, sql string) *planner.Plan {
	t.Helper()
	plan, err := p.PlanSQL(context.Background(), sql)
	if err != nil {
		t.Fatalf("plan %q: %v", sql, err)
	}
	return plan
}

// TestRecordQualConcurrent tests concurrent RecordQual calls for race conditions.
func TestRecordQualConcurrent(t *testing.T) {
	qs := NewQualStats(1 * time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				qs.RecordQual("metrics.time", "metadata", ">=", false)
				qs.RecordQual("metrics.device", "value", "=", false)
				qs.RecordQual("metrics.value", "value", ">", false)
			}
		}()
	}

	wg.Wait()

	top := qs.GetTopColumns(10)
	if len(top) != 3 {
		t.Errorf("expected 3 columns, got %d", len(top))
	}

	expectedFreq := int64(numGoroutines * recordsPerGoroutine)
	for _, stat := range top {
		if stat.Frequency != expectedFreq {
			t.Errorf("expected frequency %d for %s, got %d", expectedFreq, stat.Column, stat.Frequency)
		}
	}
}

// TestGetTopColumnsOrdering tests that GetTopColumns returns results sorted by frequency.
func TestGetTopColumnsOrdering(t *testing.T) {
	qs := NewQualStats(1 * time.Hour)

	for i := 0; i < 10; i++ {
		qs.RecordQual("metrics.device", "value", "=", false)
	}
	for i := 0; i < 5; i++ {
		qs.RecordQual("metrics.value", "value", ">", false)
	}
	for i := 0; i < 20; i++ {
		qs.RecordQual("metrics.time", "metadata", "<", false)
	}

	top := qs.GetTopColumns(3)
	if len(top) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(top))
	}

	if top[0].Column != "metrics.time" || top[0].Frequency != 20 {
		t.Errorf("expected metrics.time with frequency 20, got %s with %d", top[0].Column, top[0].Frequency)
	}
	if top[1].Column != "metrics.device" || top[1].Frequency != 10 {
		t.Errorf("expected metrics.device with frequency 10, got %s with %d", top[1].Column, top[1].Frequency)
	}
	if top[2].Column != "metrics.value" || top[2].Frequency != 5 {
		t.Errorf("expected metrics.value with frequency 5, got %s with %d", top[2].Column, top[2].Frequency)
	}
}

// TestPruneRemovesIdleColumns tests that Prune removes columns older than the window.
func TestPruneRemovesIdleColumns(t *testing.T) {
	window := 100 * time.Millisecond
	qs := NewQualStats(window)

	qs.RecordQual("metrics.time", "metadata", ">=", false)
	if top := qs.GetTopColumns(10); len(top) != 1 {
		t.Errorf("expected 1 column before prune, got %d", len(top))
	}

	time.Sleep(window + 50*time.Millisecond)
	qs.Prune()

	if top := qs.GetTopColumns(10); len(top) != 0 {
		t.Errorf("expected 0 columns after prune, got %d", len(top))
	}
}

// TestGetTopColumnsReturnsCopies tests that callers cannot modify recorded stats.
func TestGetTopColumnsReturnsCopies(t *testing.T) {
	qs := NewQualStats(1 * time.Hour)
	qs.RecordQual("metrics.time", "metadata", ">=", false)

	top := qs.GetTopColumns(1)
	top[0].Classes["metadata"] = 99
	top[0].Operators[">="] = 99

	again := qs.GetTopColumns(1)
	if again[0].Classes["metadata"] != 1 || again[0].Operators[">="] != 1 {
		t.Errorf("stats were modified through a returned copy: %+v", again[0])
	}
}

// TestGetTopColumnsEmpty tests GetTopColumns with no data or a non-positive limit.
func TestGetTopColumnsEmpty(t *testing.T) {
	qs := NewQualStats(1 * time.Hour)
	if top := qs.GetTopColumns(10); len(top) != 0 {
		t.Errorf("expected 0 columns, got %d", len(top))
	}
	qs.RecordQual("metrics.time", "metadata", ">=", false)
	if top := qs.GetTopColumns(0); len(top) != 0 {
		t.Errorf("expected 0 columns, got %d", len(top))
	}
	if top := qs.GetTopColumns(100); len(top) != 1 {
		t.Errorf("expected 1 column, got %d", len(top))
	}
}

// TestRecordPlanClassifiesQuals tests classification of a planned statement's quals.
func TestRecordPlanClassifiesQuals(t *testing.T) {
	p := newTestPlanner(t)
	qs := NewQualStats(1 * time.Hour)

	qs.RecordPlan(planSQL(t, p, "SELECT * FROM metrics m WHERE m.time >= 100 AND m.time < 200 AND m.value > 3"))

	top := qs.GetTopColumns(10)
	if len(top) != 2 {
		t.Fatalf("expected 2 columns, got %d: %+v", len(top), top)
	}
	key := top[0]
	if key.Column != "metrics.time" || key.Frequency != 2 || key.Classes["metadata"] != 2 {
		t.Errorf("unexpected key stats: %+v", key)
	}
	if key.Operators[">="] != 1 || key.Operators["<"] != 1 {
		t.Errorf("unexpected key operators: %v", key.Operators)
	}
	value := top[1]
	if value.Column != "metrics.value" || value.Classes["value"] != 1 || value.Operators[">"] != 1 {
		t.Errorf("unexpected value stats: %+v", value)
	}

	totals := qs.Totals()
	if totals.Plans != 1 || totals.ChunksTotal != 4 || totals.ChunksExcluded != 3 {
		t.Errorf("unexpected totals: %+v", totals)
	}
}

// TestRecordPlanCountsDerivedQuals tests that propagated join bounds are attributed to the key.
func TestRecordPlanCountsDerivedQuals(t *testing.T) {
	p := newTestPlanner(t)
	qs := NewQualStats(1 * time.Hour)

	qs.RecordPlan(planSQL(t, p, "SELECT * FROM metrics m JOIN events e ON m.time = e.time WHERE e.time >= 100 AND e.time < 200"))
	qs.RecordPlan(nil)

	top := qs.GetTopColumns(10)
	if len(top) != 1 {
		t.Fatalf("expected 1 column, got %d: %+v", len(top), top)
	}
	key := top[0]
	if key.Column != "metrics.time" || key.Derived != 1 {
		t.Errorf("unexpected key stats: %+v", key)
	}
	if key.Operators["="] != 1 || key.Operators["or"] != 1 {
		t.Errorf("unexpected key operators: %v", key.Operators)
	}
	if key.Classes["metadata"] != 1 || key.Classes["value"] != 1 {
		t.Errorf("unexpected key classes: %v", key.Classes)
	}

	totals := qs.Totals()
	if totals.Plans != 1 || totals.DerivedQuals != 1 || totals.RuntimeExclusions != 0 {
		t.Errorf("unexpected totals: %+v", totals)
	}
}

// TestRecordPlanStartupExclusion tests that stable key quals are counted.
func TestRecordPlanStartupExclusion(t *testing.T) {
	p := newTestPlanner(t)
	qs := NewQualStats(1 * time.Hour)

	qs.RecordPlan(planSQL(t, p, "SELECT * FROM metrics WHERE time > now()"))

	if totals := qs.Totals(); totals.StartupExclusions != 1 || totals.ChunksExcluded != 0 {
		t.Errorf("unexpected totals: %+v", totals)
	}
}
