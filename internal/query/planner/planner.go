// Package planner provides chunk pruning and compressed-scan costing for
// statements over hypertables.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/h0rn3t/timescaledb/internal/catalog"
	"github.com/h0rn3t/timescaledb/internal/config"
	tserrors "github.com/h0rn3t/timescaledb/internal/errors"
	"github.com/h0rn3t/timescaledb/internal/query/parser"
	"github.com/h0rn3t/timescaledb/internal/query/qual"
	"github.com/h0rn3t/timescaledb/internal/query/selectivity"
)

// Plan represents the planned scans of one statement.
type Plan struct {
	// Statement is the planned statement, without any EXPLAIN wrapper.
	Statement parser.Statement

	// Command is SELECT, DELETE or UPDATE.
	Command string

	// Explained is set when the statement was wrapped in EXPLAIN.
	Explained bool

	// Quals are the conjuncts of the WHERE and ON clauses.
	Quals []qual.Qual

	// Relations holds one entry per table reference, FROM first.
	Relations []*RelationPlan

	// QueryID fingerprints the normalized statement text.
	QueryID uint64
}

// RelationPlan is the plan of one table reference.
type RelationPlan struct {
	Relation Relation

	// Pruning is nil for plain tables.
	Pruning *PruneResult

	// Path is the chosen path of a hypertable; nil for plain tables.
	Path *Path

	// Candidates lists every path considered, Path included.
	Candidates []*Path

	// Heap is the scan of a plain table.
	Heap *ChunkScan

	// Order is the requested key order, nil when none applies.
	Order *KeyOrder
}

// Cost returns the cost of the relation's chosen scan.
func (rp *RelationPlan) Cost() CostEstimate {
	if rp.Path != nil {
		return rp.Path.Cost
	}
	if rp.Heap != nil {
		return rp.Heap.Cost
	}
	return CostEstimate{}
}

// DecompressedRows returns the rows the plan decompresses across relations.
func (p *Plan) DecompressedRows() float64 {
	var n float64
	for _, rp := range p.Relations {
		n += rp.Cost().DecompressedRows
	}
	return n
}

// TotalCost returns the summed total cost of every relation scan.
func (p *Plan) TotalCost() float64 {
	var c float64
	for _, rp := range p.Relations {
		c += rp.Cost().TotalCost
	}
	return c
}

// Relation returns the plan of the named relation.
func (p *Plan) Relation(name string) (*RelationPlan, bool) {
	for _, rp := range p.Relations {
		if rp.Relation.Name == name {
			return rp, true
		}
	}
	return nil, false
}

// Planner generates plans from parsed SQL statements.
type Planner struct {
	catalog   catalog.Reader
	cfg       config.PlannerConfig
	pruner    *Pruner
	estimator *BatchEstimator
	generic   selectivity.Estimator
	model     CostModel
	logger    *slog.Logger
}

// NewPlanner creates a new planner reading table and chunk metadata from reader.
func NewPlanner(reader catalog.Reader, cfg config.PlannerConfig, cost config.CostConfig, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "planner")
	return &Planner{
		catalog:   reader,
		cfg:       cfg,
		pruner:    NewPruner(cfg, logger),
		estimator: NewBatchEstimator(),
		model:     NewCostModel(cost),
		logger:    logger,
	}
}

// PlanSQL parses and plans a statement.
func (p *Planner) PlanSQL(ctx context.Context, sql string) (*Plan, error) {
	stmt, err := parser.Parse(sql)
	if err != nil {
		return nil, parseError(err)
	}
	return p.Plan(ctx, stmt)
}

func parseError(err error) error {
	var pe *parser.ParseError
	if errors.As(err, &pe) && pe.Unsupported {
		return tserrors.Wrap(tserrors.ErrCategoryValidation, tserrors.CodeUnsupportedSyntax, "unsupported statement", err)
	}
	return tserrors.Wrap(tserrors.ErrCategoryValidation, tserrors.CodeParseError, "failed to parse statement", err)
}

// Plan plans a parsed statement. Catalog lookup failures abort planning
// and are returned unchanged.
func (p *Planner) Plan(ctx context.Context, stmt parser.Statement) (*Plan, error) {
	if stmt == nil {
		return nil, tserrors.NewPlanningError(tserrors.CodeNoRelation, "nil statement")
	}

	plan := &Plan{Statement: stmt}
	if ex, ok := stmt.(*parser.ExplainStatement); ok {
		plan.Statement = ex.Statement
		plan.Explained = true
	}

	refs, command := statementTables(plan.Statement)
	if len(refs) == 0 {
		return nil, tserrors.NewPlanningError(tserrors.CodeNoRelation, "statement references no table")
	}
	plan.Command = command
	plan.QueryID = murmur3.Sum64([]byte(plan.Statement.String()))

	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = catalogName(ref.Name)
	}
	snap, err := catalog.LoadSnapshot(ctx, p.catalog, names...)
	if err != nil {
		p.logger.Error("catalog lookup failed", "tables", names, "error", err)
		return nil, err
	}

	rels := make([]Relation, len(refs))
	for i, ref := range refs {
		t, ok := snap.Table(names[i])
		if !ok {
			return nil, tserrors.NewInternalError(fmt.Sprintf("table %q missing from snapshot", names[i]), nil)
		}
		rels[i] = Relation{Name: ref.RelationName(), Table: t}
	}

	plan.Quals = qual.ResolveColumns(parser.ExtractQuals(plan.Statement), columnResolver(rels))
	for _, q := range plan.Quals {
		if cols := q.Unresolved(); len(cols) > 0 {
			return nil, tserrors.NewValidationError(tserrors.CodeAmbiguousColumn,
				fmt.Sprintf("column %q cannot be attributed to one table; qualify it", cols[0]))
		}
	}
	order := p.keyOrder(plan.Statement, rels)

	for _, rel := range rels {
		var rp *RelationPlan
		if rel.Table.IsHypertable() {
			rp, err = p.planHypertable(rel, snap.Chunks(rel.Table.Name), plan.Quals, order)
			if err != nil {
				return nil, err
			}
		} else {
			rp = p.planPlain(rel, plan.Quals)
		}
		plan.Relations = append(plan.Relations, rp)
	}

	if err := p.checkDMLLimit(plan); err != nil {
		return nil, err
	}

	p.logger.Debug("statement planned",
		"command", plan.Command,
		"relations", len(plan.Relations),
		"total_cost", plan.TotalCost(),
		"query_id", plan.QueryID)
	return plan, nil
}

// planHypertable prunes the chunks of rel, costs a scan of every
// surviving chunk and chooses how to combine them.
func (p *Planner) planHypertable(rel Relation, chunks []*catalog.Chunk, quals []qual.Qual, order *KeyOrder) (*RelationPlan, error) {
	rp := &RelationPlan{Relation: rel}
	if order != nil && order.Column.Relation == rel.Name {
		rp.Order = order
	}

	rp.Pruning = p.pruner.Prune(rel, chunks, quals)
	scanQuals := relationQuals(rel.Name, quals)
	scanQuals = append(scanQuals, rp.Pruning.Derived...)
	metadata, value := qual.Split(scanQuals, rel.Target())

	scans := make([]*ChunkScan, 0, len(rp.Pruning.Chunks))
	for _, c := range rp.Pruning.Chunks {
		scan := &ChunkScan{Chunk: c, NeedsSort: !c.SortedByKey}
		if c.Compressed {
			info, err := p.estimator.Estimate(rel, c, scanQuals)
			if err != nil {
				return nil, tserrors.NewInternalError("failed to estimate batches", err)
			}
			scan.Compression = &info
			scan.Cost = p.model.Cost(info)
			scan.VectorizedFilter = metadata
			scan.Filter = value
		} else {
			st := chunkStats(rel, c)
			rows := p.generic.EstimateRows(st, float64(c.RowCount), scanQuals)
			scan.Cost = p.model.CostChunk(c, len(scanQuals), rows)
			scan.Filter = scanQuals
		}
		scan.SortedCost = scan.Cost
		if scan.NeedsSort {
			scan.SortedCost = p.model.SortCost(scan.Cost)
		}
		scans = append(scans, scan)
	}

	rp.Candidates = p.model.buildPaths(scans, rp.Order, p.cfg.EnableOrderedAppend)
	rp.Path = ChoosePath(rp.Candidates)
	return rp, nil
}

func (p *Planner) planPlain(rel Relation, quals []qual.Qual) *RelationPlan {
	scanQuals := relationQuals(rel.Name, quals)
	st := selectivity.Stats{Relation: rel.Name, Table: rel.Table}
	rows := p.generic.EstimateRows(st, float64(rel.Table.RowCount), scanQuals)
	return &RelationPlan{
		Relation: rel,
		Heap: &ChunkScan{
			Cost:   p.model.CostHeap(rel.Table.RowCount, rel.Table.Pages, len(scanQuals), rows),
			Filter: scanQuals,
		},
	}
}

// checkDMLLimit rejects DELETE and UPDATE statements that would
// decompress more rows than configured.
func (p *Planner) checkDMLLimit(plan *Plan) error {
	limit := p.cfg.MaxDecompressedRowsPerDML
	if plan.Command == "SELECT" || limit <= 0 {
		return nil
	}
	rows := plan.DecompressedRows()
	if rows <= float64(limit) {
		return nil
	}
	return tserrors.NewPlanningError(tserrors.CodeDecompressionLimit,
		fmt.Sprintf("%s would decompress %.0f rows, limit is %d", plan.Command, rows, limit),
	).WithDetails(map[string]interface{}{
		"decompressed_rows": rows,
		"limit":             limit,
	})
}

// keyOrder returns the key order requested by a single-table SELECT whose
// first ORDER BY item is the partitioning column.
func (p *Planner) keyOrder(stmt parser.Statement, rels []Relation) *KeyOrder {
	sel, ok := stmt.(*parser.SelectStatement)
	if !ok || len(sel.OrderBy) == 0 || len(rels) != 1 {
		return nil
	}
	ref, ok := sel.OrderBy[0].Expr.(*parser.ColumnRef)
	if !ok {
		return nil
	}
	rel := rels[0]
	if ref.Table != "" && ref.Table != rel.Name && ref.Table != catalogName(rel.Table.Name) {
		return nil
	}
	if ref.Column != rel.Table.PartitionColumn {
		return nil
	}
	return &KeyOrder{Column: rel.KeyColumn(), Desc: sel.OrderBy[0].Desc}
}

func statementTables(stmt parser.Statement) ([]*parser.TableRef, string) {
	switch s := stmt.(type) {
	case *parser.SelectStatement:
		return s.Tables(), "SELECT"
	case *parser.DeleteStatement:
		return []*parser.TableRef{s.Table}, "DELETE"
	case *parser.UpdateStatement:
		return []*parser.TableRef{s.Table}, "UPDATE"
	}
	return nil, ""
}

// catalogName strips the schema of a qualified table name; the catalog
// is keyed by bare table names.
func catalogName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// columnResolver attributes an unqualified column to the only relation
// known to have it. Ambiguous or unknown columns stay unresolved and fail
// planning.
func columnResolver(rels []Relation) func(string) string {
	return func(column string) string {
		found := ""
		for _, rel := range rels {
			_, hasStats := rel.Table.Columns[column]
			if column != rel.Table.PartitionColumn && !hasStats {
				continue
			}
			if found != "" {
				return ""
			}
			found = rel.Name
		}
		return found
	}
}

func relationQuals(rel string, quals []qual.Qual) []qual.Qual {
	var out []qual.Qual
	for _, q := range quals {
		if q.OnlyReferences(rel) {
			out = append(out, q)
		}
	}
	return out
}

func chunkStats(rel Relation, c *catalog.Chunk) selectivity.Stats {
	return selectivity.Stats{
		Relation: rel.Name,
		Table:    rel.Table,
		Key:      rel.Table.PartitionColumn,
		KeyLo:    c.RangeStart,
		KeyHi:    c.RangeEnd,
	}
}
