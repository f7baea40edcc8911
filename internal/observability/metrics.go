package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	tserrors "github.com/h0rn3t/timescaledb/internal/errors"
	"github.com/h0rn3t/timescaledb/internal/query/planner"
)

const namespace = "tsplan"

// Metrics stores planner metrics.
type Metrics struct {
	// reg is the Registerer used to create this set of metrics.
	reg prometheus.Registerer

	plans            *prometheus.CounterVec
	planErrors       *prometheus.CounterVec
	planDuration     prometheus.Histogram
	paths            *prometheus.CounterVec
	chunksTotal      prometheus.Counter
	chunksExcluded   prometheus.Counter
	decompressedRows prometheus.Counter
	fallbackScans    prometheus.Counter
}

// NewMetrics creates a new set of metrics. Metrics will be registered to reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var m Metrics
	m.reg = reg

	m.plans = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plans_total",
		Help:      "Total number of statements planned",
	}, []string{"command"})

	m.planErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plan_errors_total",
		Help:      "Total number of statements that failed to plan",
	}, []string{"category", "code"})

	m.planDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "plan_duration_seconds",
		Help:      "Time spent planning one statement",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	m.paths = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "paths_chosen_total",
		Help:      "Number of hypertable scans by chosen path",
	}, []string{"path"})

	m.chunksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_considered_total",
		Help:      "Chunks of planned hypertables before pruning",
	})

	m.chunksExcluded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_excluded_total",
		Help:      "Chunks excluded by metadata pruning",
	})

	m.decompressedRows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decompressed_rows_estimated_total",
		Help:      "Estimated rows decompressed by planned scans",
	})

	m.fallbackScans = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_scans_total",
		Help:      "Compressed chunk scans costed without a known batch size",
	})

	reg.MustRegister(m.plans, m.planErrors, m.planDuration, m.paths,
		m.chunksTotal, m.chunksExcluded, m.decompressedRows, m.fallbackScans)
	return &m
}

// ObservePlan records a successful plan and the time spent producing it.
func (m *Metrics) ObservePlan(plan *planner.Plan, elapsed time.Duration) {
	m.planDuration.Observe(elapsed.Seconds())
	m.plans.WithLabelValues(plan.Command).Inc()
	m.decompressedRows.Add(plan.DecompressedRows())

	for _, rp := range plan.Relations {
		if rp.Pruning == nil || rp.Path == nil {
			continue
		}
		m.chunksTotal.Add(float64(rp.Pruning.Total))
		m.chunksExcluded.Add(float64(rp.Pruning.Excluded))
		m.paths.WithLabelValues(rp.Path.Kind.String()).Inc()
		for _, s := range rp.Path.Scans {
			if s.Cost.Fallback {
				m.fallbackScans.Inc()
			}
		}
	}
}

// ObserveError records a planning failure by error category and code.
func (m *Metrics) ObserveError(err error, elapsed time.Duration) {
	m.planDuration.Observe(elapsed.Seconds())
	category := string(tserrors.GetCategory(err))
	if category == "" {
		category = "unknown"
	}
	code := tserrors.GetCode(err)
	if code == "" {
		code = "unknown"
	}
	m.planErrors.WithLabelValues(category, code).Inc()
}
