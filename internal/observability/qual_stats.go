// Package observability provides planner metrics and qual classification
// statistics for monitoring how well statements prune.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/h0rn3t/timescaledb/internal/query/planner"
	"github.com/h0rn3t/timescaledb/internal/query/qual"
)

// QualStats tracks how the quals on hypertable columns are classified.
type QualStats struct {
	mu      sync.RWMutex
	columns map[string]*ColumnStats
	totals  PlanTotals
	window  time.Duration
}

// ColumnStats holds classification counts for one hypertable column.
type ColumnStats struct {
	Column    string
	Frequency int64
	LastSeen  time.Time
	Classes   map[string]int // class → count ("metadata" or "value")
	Operators map[string]int // operator → count (e.g., ">=" → 5, "or" → 1)
	Derived   int64
}

// PlanTotals are counters over every recorded plan.
type PlanTotals struct {
	Plans             int64 `json:"plans"`
	ChunksTotal       int64 `json:"chunks_total"`
	ChunksExcluded    int64 `json:"chunks_excluded"`
	DerivedQuals      int64 `json:"derived_quals"`
	StartupExclusions int64 `json:"startup_exclusions"`
	RuntimeExclusions int64 `json:"runtime_exclusions"`
}

// NewQualStats creates a new qual statistics tracker.
// window: time duration for pruning idle columns (e.g., 1 hour)
func NewQualStats(window time.Duration) *QualStats {
	return &QualStats{
		columns: make(map[string]*ColumnStats),
		window:  window,
	}
}

// RecordQual records one qual on column with its class and operator.
// This method is O(1) and thread-safe.
func (q *QualStats) RecordQual(column, class, operator string, derived bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recordLocked(column, class, operator, derived, time.Now())
}

func (q *QualStats) recordLocked(column, class, operator string, derived bool, now time.Time) {
	stats, exists := q.columns[column]
	if !exists {
		stats = &ColumnStats{
			Column:    column,
			Classes:   make(map[string]int),
			Operators: make(map[string]int),
		}
		q.columns[column] = stats
	}

	stats.Frequency++
	stats.LastSeen = now
	stats.Classes[class]++
	stats.Operators[operator]++
	if derived {
		stats.Derived++
	}
}

// RecordPlan records the quals and pruning outcome of every hypertable
// relation in plan.
func (q *QualStats) RecordPlan(plan *planner.Plan) {
	if plan == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	q.totals.Plans++
	for _, rp := range plan.Relations {
		pr := rp.Pruning
		if pr == nil {
			continue
		}
		q.totals.ChunksTotal += int64(pr.Total)
		q.totals.ChunksExcluded += int64(pr.Excluded)
		q.totals.DerivedQuals += int64(len(pr.Derived))
		if pr.StartupExclusion {
			q.totals.StartupExclusions++
		}
		if pr.RuntimeExclusion {
			q.totals.RuntimeExclusions++
		}

		rel := rp.Relation
		target := rel.Target()
		quals := append(relationQuals(plan.Quals, rel.Name), pr.Derived...)
		for _, ql := range quals {
			column := rel.Table.Name + "." + qualColumn(ql, target)
			q.recordLocked(column, qual.Classify(ql, target).String(), qualOperator(ql), ql.Derived, now)
		}
	}
}

func relationQuals(quals []qual.Qual, rel string) []qual.Qual {
	var out []qual.Qual
	for _, ql := range quals {
		if ql.References(rel) {
			out = append(out, ql)
		}
	}
	return out
}

// qualColumn names the relation's column a qual constrains. Join quals
// are oriented toward the relation; disjunctions count against the key.
func qualColumn(ql qual.Qual, target qual.Target) string {
	switch {
	case ql.Kind == qual.KindJoin && ql.Other.Relation == target.Relation:
		return ql.Other.Column
	case !ql.Column.IsZero() && ql.Column.Relation == target.Relation:
		return ql.Column.Column
	}
	return target.Key
}

func qualOperator(ql qual.Qual) string {
	switch ql.Kind {
	case qual.KindCompare, qual.KindJoin:
		return ql.Op.String()
	}
	return ql.Kind.String()
}

// Totals returns the plan counters.
func (q *QualStats) Totals() PlanTotals {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.totals
}

// GetTopColumns returns the top N columns by qual frequency.
// Returns a copy of the stats sorted by frequency (descending).
func (q *QualStats) GetTopColumns(n int) []ColumnStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(q.columns) == 0 {
		return []ColumnStats{}
	}

	stats := make([]ColumnStats, 0, len(q.columns))
	for _, s := range q.columns {
		statsCopy := *s
		statsCopy.Classes = make(map[string]int, len(s.Classes))
		for k, v := range s.Classes {
			statsCopy.Classes[k] = v
		}
		statsCopy.Operators = make(map[string]int, len(s.Operators))
		for k, v := range s.Operators {
			statsCopy.Operators[k] = v
		}
		stats = append(stats, statsCopy)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Column < stats[j].Column
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes columns where time.Since(LastSeen) > window.
// This should be called periodically (e.g., every 5 minutes).
func (q *QualStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := time.Now().Add(-q.window)
	for col, stats := range q.columns {
		if stats.LastSeen.Before(threshold) {
			delete(q.columns, col)
		}
	}
}
