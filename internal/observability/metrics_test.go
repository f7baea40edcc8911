package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns the value of every sample in reg keyed by metric name
// and label values.
func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			key := f.GetName()
			for _, l := range m.GetLabel() {
				key += "|" + l.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestMetrics_ObservePlan(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p := newTestPlanner(t)

	m.ObservePlan(planSQL(t, p, "SELECT * FROM metrics WHERE time >= 100 AND time < 200"), time.Millisecond)
	m.ObservePlan(planSQL(t, p, "SELECT * FROM metrics WHERE time >= 100 ORDER BY time"), time.Millisecond)

	got := gathered(t, reg)
	assert.Equal(t, 2.0, got["tsplan_plans_total|SELECT"])
	assert.Equal(t, 2.0, got["tsplan_plan_duration_seconds"])
	assert.Equal(t, 8.0, got["tsplan_chunks_considered_total"])
	assert.Equal(t, 4.0, got["tsplan_chunks_excluded_total"])
	assert.Equal(t, 1.0, got["tsplan_paths_chosen_total|Append"])
	// One chunk of 10 batches, then three chunks of 10 batches, 1000 rows each.
	assert.Equal(t, 40000.0, got["tsplan_decompressed_rows_estimated_total"])
	assert.Zero(t, got["tsplan_fallback_scans_total"])
}

func TestMetrics_ObserveError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p := newTestPlanner(t)

	_, err := p.PlanSQL(context.Background(), "SELECT * FROM missing")
	require.Error(t, err)
	m.ObserveError(err, time.Millisecond)
	m.ObserveError(assert.AnError, time.Millisecond)

	got := gathered(t, reg)
	assert.Equal(t, 1.0, got["tsplan_plan_errors_total|CATALOG|TABLE_NOT_FOUND"])
	assert.Equal(t, 1.0, got["tsplan_plan_errors_total|unknown|unknown"])
	assert.Equal(t, 2.0, got["tsplan_plan_duration_seconds"])
}

func TestMetrics_RegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
