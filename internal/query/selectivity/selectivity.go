// Package selectivity implements the generic, metadata-unaware row
// estimator: it sees every qual through ordinary column statistics and
// knows nothing about which quals chunk or batch metadata can decide.
package selectivity

import (
	"github.com/h0rn3t/timescaledb/internal/catalog"
	"github.com/h0rn3t/timescaledb/internal/query/qual"
)

// Default selectivities used when statistics are missing.
const (
	DefaultEqSel      = 0.005
	DefaultIneqSel    = 1.0 / 3.0
	DefaultMatchSel   = 0.005
	DefaultUnknownSel = 0.005
	DefaultNullSel    = 0.005
)

// Stats describes the relation being estimated.
type Stats struct {
	// Relation is the name quals use for the relation.
	Relation string
	// Table supplies per-column statistics; may be nil.
	Table *catalog.Table
	// Key is the partitioning column; empty for plain tables.
	Key string
	// KeyLo and KeyHi bound the key values present, [KeyLo, KeyHi).
	// The range is unknown when KeyHi <= KeyLo.
	KeyLo, KeyHi int64
}

func (s Stats) keyRangeKnown() bool {
	return s.Key != "" && s.KeyHi > s.KeyLo
}

func (s Stats) column(name string) (catalog.ColumnStats, bool) {
	if s.Table == nil || s.Table.Columns == nil {
		return catalog.ColumnStats{}, false
	}
	st, ok := s.Table.Columns[name]
	return st, ok
}

// Estimator estimates the fraction of rows surviving a qual list.
type Estimator struct{}

// EstimateRows returns base scaled by the selectivity of quals. The result
// is fractional and never exceeds base.
func (e Estimator) EstimateRows(st Stats, base float64, quals []qual.Qual) float64 {
	if base <= 0 {
		return 0
	}
	return base * e.Selectivity(st, quals)
}

// Selectivity returns the combined selectivity of a conjunction. Quals not
// restricted to st.Relation count as 1. Range quals on the partitioning
// key are intersected and measured against the key range.
func (e Estimator) Selectivity(st Stats, quals []qual.Qual) float64 {
	sel := 1.0
	target := qual.Target{Relation: st.Relation, Key: st.Key}
	keyBounds := qual.Full()
	keyConstrained := false

	for _, q := range quals {
		if !q.OnlyReferences(st.Relation) {
			continue
		}
		if q.Kind == qual.KindCompare && st.keyRangeKnown() {
			if r, ok := qual.KeyRange(q, target); ok {
				keyBounds = keyBounds.Intersect(r)
				keyConstrained = true
				continue
			}
		}
		sel *= e.qualSelectivity(st, q)
	}

	if keyConstrained {
		sel *= keyBounds.Coverage(st.KeyLo, st.KeyHi)
	}
	return clamp(sel)
}

func (e Estimator) qualSelectivity(st Stats, q qual.Qual) float64 {
	switch q.Kind {
	case qual.KindCompare:
		return e.compareSelectivity(st, q)

	case qual.KindOr:
		// P(a or b) = P(a) + P(b) - P(a)P(b), folded left to right.
		sel := 0.0
		for _, d := range q.Disjuncts {
			s := e.Selectivity(st, d)
			sel = sel + s - sel*s
		}
		return clamp(sel)

	case qual.KindOpaque:
		col, _ := st.column(q.Column.Column)
		switch q.Form {
		case qual.FormLike:
			return DefaultMatchSel
		case qual.FormIsNull:
			if col.NullFrac > 0 {
				return col.NullFrac
			}
			return DefaultNullSel
		case qual.FormIsNotNull:
			if col.NullFrac > 0 {
				return 1 - col.NullFrac
			}
			return 1 - DefaultNullSel
		case qual.FormNotIn:
			return clamp(1 - e.eqSelectivity(st, q.Column.Column))
		}
		return DefaultUnknownSel
	}

	// Join quals are estimated at the join, not the scan.
	return 1
}

func (e Estimator) compareSelectivity(st Stats, q qual.Qual) float64 {
	switch q.Op {
	case qual.OpEq:
		return e.eqSelectivity(st, q.Column.Column)
	case qual.OpNe:
		col, _ := st.column(q.Column.Column)
		return clamp(1 - e.eqSelectivity(st, q.Column.Column) - col.NullFrac)
	}
	return DefaultIneqSel
}

// eqSelectivity is (1 - null_frac) / n_distinct. A negative n_distinct is a
// fraction of the row count.
func (e Estimator) eqSelectivity(st Stats, column string) float64 {
	col, ok := st.column(column)
	if !ok || col.NDistinct == 0 {
		return DefaultEqSel
	}
	nd := col.NDistinct
	if nd < 0 {
		if st.Table == nil || st.Table.RowCount <= 0 {
			return DefaultEqSel
		}
		nd = -nd * float64(st.Table.RowCount)
	}
	if nd < 1 {
		nd = 1
	}
	return clamp((1 - col.NullFrac) / nd)
}

func clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
