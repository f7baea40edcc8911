package planner

import (
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/h0rn3t/timescaledb/internal/catalog"
	"github.com/h0rn3t/timescaledb/internal/config"
	"github.com/h0rn3t/timescaledb/internal/query/qual"
)

// Relation is one table reference of a statement bound to its catalog entry.
type Relation struct {
	// Name is the name quals use for the relation: its alias, or its table name.
	Name string

	// Table is the catalog definition.
	Table *catalog.Table
}

// Target returns the pruning target of the relation.
func (r Relation) Target() qual.Target {
	return qual.Target{Relation: r.Name, Key: r.Table.PartitionColumn}
}

// KeyColumn returns the partitioning column as a qual column reference.
func (r Relation) KeyColumn() qual.ColumnRef {
	return r.Target().Column()
}

// PruneResult contains the results of chunk pruning for one hypertable.
type PruneResult struct {
	// Chunks are the surviving chunks, ordered by RangeStart.
	Chunks []*catalog.Chunk

	// Total is the number of chunks before pruning.
	Total int

	// Excluded is the number of chunks pruned.
	Excluded int

	// Surviving holds the IDs of the surviving chunks.
	Surviving mapset.Set[int64]

	// Bounds is the intersection of the key ranges of every
	// metadata-evaluable qual, derived ones included.
	Bounds qual.Set

	// Derived holds quals produced by join-qual propagation.
	Derived []qual.Qual

	// StartupExclusion is set when a key qual compares against a stable
	// expression, so executor startup could exclude more chunks.
	StartupExclusion bool

	// RuntimeExclusion is set when a join qual on the key was not
	// propagated, so chunks could be excluded per outer row.
	RuntimeExclusion bool
}

// Pruner removes chunks whose key range cannot satisfy the quals.
type Pruner struct {
	cfg    config.PlannerConfig
	logger *slog.Logger
}

// NewPruner creates a new chunk pruner.
func NewPruner(cfg config.PlannerConfig, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{cfg: cfg, logger: logger}
}

// Prune returns the chunks of rel that may hold rows satisfying quals.
//
// Pruning is conservative: a chunk is excluded only when some
// metadata-evaluable qual rules out its whole range. Quals the pruner
// cannot evaluate keep every chunk. The input order of chunks and quals
// does not change the result.
func (p *Pruner) Prune(rel Relation, chunks []*catalog.Chunk, quals []qual.Qual) *PruneResult {
	target := rel.Target()
	result := &PruneResult{
		Total:     len(chunks),
		Surviving: mapset.NewThreadUnsafeSet[int64](),
	}

	all := quals
	if p.cfg.EnableJoinQualPropagation {
		var sources map[string]bool
		result.Derived, sources = p.propagate(rel, quals)
		p.markExclusion(rel, quals, sources, result)
	} else {
		p.markExclusion(rel, quals, nil, result)
	}
	if len(result.Derived) > 0 {
		all = append(append([]qual.Qual(nil), quals...), result.Derived...)
	}
	result.Bounds = qual.Bounds(all, target)

	candidates := mapset.NewThreadUnsafeSet[int64]()
	for _, c := range chunks {
		candidates.Add(c.ID)
	}

	if p.cfg.EnableChunkPruning {
		for _, q := range all {
			if qual.Classify(q, target) != qual.MetadataEvaluable {
				continue
			}
			candidates = candidates.Intersect(p.matching(chunks, q, target))
			if candidates.Cardinality() == 0 {
				break
			}
		}
	}

	for _, c := range chunks {
		if candidates.Contains(c.ID) {
			result.Chunks = append(result.Chunks, c)
			result.Surviving.Add(c.ID)
		}
	}
	result.Excluded = result.Total - len(result.Chunks)

	p.logger.Debug("chunks pruned",
		"relation", rel.Name, "table", rel.Table.Name,
		"total", result.Total, "surviving", len(result.Chunks),
		"derived", len(result.Derived))
	return result
}

// matching returns the IDs of chunks whose range may satisfy one
// metadata-evaluable qual. An OR qual keeps the union of the chunks
// surviving each of its disjuncts.
func (p *Pruner) matching(chunks []*catalog.Chunk, q qual.Qual, target qual.Target) mapset.Set[int64] {
	out := mapset.NewThreadUnsafeSet[int64]()
	if q.Kind == qual.KindOr {
		for _, d := range q.Disjuncts {
			out = out.Union(overlapping(chunks, qual.Bounds(d, target)))
		}
		return out
	}
	r, ok := qual.KeyRange(q, target)
	if !ok {
		// On error, include every chunk to avoid false negatives.
		for _, c := range chunks {
			out.Add(c.ID)
		}
		return out
	}
	return overlapping(chunks, r)
}

func overlapping(chunks []*catalog.Chunk, r qual.Set) mapset.Set[int64] {
	out := mapset.NewThreadUnsafeSet[int64]()
	for _, c := range chunks {
		if r.Overlaps(c.RangeStart, c.RangeEnd) {
			out.Add(c.ID)
		}
	}
	return out
}

// markExclusion sets the startup and runtime exclusion markers.
func (p *Pruner) markExclusion(rel Relation, quals []qual.Qual, propagated map[string]bool, result *PruneResult) {
	if !p.cfg.EnableRuntimeExclusion {
		return
	}
	key := rel.KeyColumn()

	for _, q := range quals {
		switch q.Kind {
		case qual.KindCompare:
			if q.Stable && q.Column == key && q.Op.IsRange() {
				result.StartupExclusion = true
			}
		case qual.KindJoin:
			j, ok := onKey(q, key)
			if ok && j.Op.IsRange() && !propagated[derivedFrom(j)] {
				result.RuntimeExclusion = true
			}
		}
	}
}

// Propagate derives static key ranges for rel from join quals whose other
// side is a dimension column with a static range of its own:
//
//	m.time = d.time AND d.time >= 100 AND d.time < 200
//
// yields m.time >= 100 AND m.time < 200. A lower bound and an upper bound
// on the key taken from two different columns of the same dimension
// relation are never propagated, since rows of that relation pair the two
// columns and their separate ranges do not bound the key.
func (p *Pruner) Propagate(rel Relation, quals []qual.Qual) []qual.Qual {
	derived, _ := p.propagate(rel, quals)
	return derived
}

// propagate also returns the labels of the join quals it propagated.
func (p *Pruner) propagate(rel Relation, quals []qual.Qual) ([]qual.Qual, map[string]bool) {
	key := rel.KeyColumn()

	var joins []qual.Qual
	for _, q := range quals {
		if q.Kind != qual.KindJoin {
			continue
		}
		if j, ok := onKey(q, key); ok && j.Op.IsRange() && j.Other.Relation != rel.Name {
			joins = append(joins, j)
		}
	}

	skip := betweenPairs(joins)
	var derived []qual.Qual
	sources := make(map[string]bool)
	for i, j := range joins {
		if skip[i] {
			continue
		}
		var dim []qual.Qual
		for _, q := range quals {
			if q.OnlyReferences(j.Other.Relation) {
				dim = append(dim, q)
			}
		}
		r, ok := qual.ColumnBounds(dim, j.Other)
		if !ok {
			continue
		}
		keys, ok := translate(j.Op, r)
		if !ok {
			continue
		}
		derived = append(derived, qual.RangeQual(key, keys))
		sources[derivedFrom(j)] = true
		p.logger.Debug("join qual propagated", "join", j.Text, "range", keys.String())
	}
	return derived, sources
}

// derivedFrom labels a derived qual with the join qual it came from.
func derivedFrom(j qual.Qual) string {
	return fmt.Sprintf("%s %s %s", j.Column, j.Op, j.Other)
}

// onKey returns the join qual oriented so that Column is the key.
func onKey(q qual.Qual, key qual.ColumnRef) (qual.Qual, bool) {
	switch key {
	case q.Column:
		return q, true
	case q.Other:
		return q.Flip(), true
	}
	return q, false
}

// betweenPairs marks joins that bound the key from below and from above
// with different columns of the same relation.
func betweenPairs(joins []qual.Qual) map[int]bool {
	skip := make(map[int]bool)
	for i, lo := range joins {
		if lo.Op != qual.OpGt && lo.Op != qual.OpGe {
			continue
		}
		for k, hi := range joins {
			if hi.Op != qual.OpLt && hi.Op != qual.OpLe {
				continue
			}
			if lo.Other.Relation == hi.Other.Relation && lo.Other.Column != hi.Other.Column {
				skip[i] = true
				skip[k] = true
			}
		}
	}
	return skip
}

// translate maps the static range r of a dimension column through
// "key op column" to the key values that can join.
func translate(op qual.Op, r qual.Set) (qual.Set, bool) {
	if op == qual.OpEq {
		return r, true
	}
	lo, hi, ok := r.Bounds()
	if !ok {
		// No dimension row qualifies, so no key can join.
		return nil, true
	}
	switch op {
	case qual.OpGe:
		return boundedBelow(lo, 0)
	case qual.OpGt:
		return boundedBelow(lo, 1)
	case qual.OpLe:
		return boundedAbove(hi, 0)
	case qual.OpLt:
		return boundedAbove(hi, -1)
	}
	return nil, false
}

func boundedBelow(lo, shift int64) (qual.Set, bool) {
	if lo == qual.MinKey {
		return nil, false
	}
	return qual.Range(lo+shift, qual.MaxKey), true
}

// boundedAbove receives the exclusive upper bound of the column.
func boundedAbove(hi, shift int64) (qual.Set, bool) {
	if hi == qual.MaxKey {
		return nil, false
	}
	return qual.Range(qual.MinKey, hi+shift), true
}
