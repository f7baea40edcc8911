package planner

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	tserrors "github.com/h0rn3t/timescaledb/internal/errors"
	"github.com/h0rn3t/timescaledb/internal/query/qual"
)

// Explain output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// property is one detail line of an explain node.
type property struct {
	key   string
	value interface{}
}

// node is one explain node. Costs are kept unrounded until rendering.
type node struct {
	nodeType string
	provider string
	relation string
	alias    string
	cost     CostEstimate
	props    []property
	children []*node
}

func (n *node) add(key string, value interface{}) {
	n.props = append(n.props, property{key: key, value: value})
}

func (n *node) label() string {
	var sb strings.Builder
	sb.WriteString(n.nodeType)
	if n.provider != "" {
		sb.WriteString(" (" + n.provider + ")")
	}
	if n.relation != "" {
		sb.WriteString(" on " + n.relation)
		if n.alias != "" && n.alias != n.relation {
			sb.WriteString(" " + n.alias)
		}
	}
	return sb.String()
}

// ParseFormat normalizes an explain format name. The empty name is text.
func ParseFormat(format string) (string, error) {
	switch f := strings.ToLower(format); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return f, nil
	}
	return "", tserrors.NewValidationError(tserrors.CodeInvalidRequest,
		fmt.Sprintf("unknown explain format %q", format))
}

// Explain renders the plan in the given format.
func (p *Plan) Explain(format string) ([]byte, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if f == FormatJSON {
		return p.ExplainJSON()
	}
	return []byte(p.ExplainText()), nil
}

// ExplainText renders the plan as indented text:
//
//	Custom Scan (ChunkAppend) on metrics m  (cost=1.00..111.00 rows=50)
//	  Chunks: 2 of 20
//	  ->  Custom Scan (DecompressChunk) on _hyper_1_1_chunk m  (cost=...)
func (p *Plan) ExplainText() string {
	var sb strings.Builder
	for _, rp := range p.Relations {
		writeText(&sb, relationNode(rp), 0)
	}
	fmt.Fprintf(&sb, "Query Identifier: %d\n", p.QueryID)
	return sb.String()
}

func writeText(sb *strings.Builder, n *node, depth int) {
	line := fmt.Sprintf("%s  (cost=%.2f..%.2f rows=%d)", n.label(), n.cost.StartupCost, n.cost.TotalCost, renderRows(n.cost.Rows))
	if depth == 0 {
		sb.WriteString(line + "\n")
	} else {
		sb.WriteString(strings.Repeat(" ", 6*(depth-1)+2) + "->  " + line + "\n")
	}

	indent := strings.Repeat(" ", 6*depth+2)
	for _, prop := range n.props {
		fmt.Fprintf(sb, "%s%s: %v\n", indent, prop.key, prop.value)
	}
	for _, c := range n.children {
		writeText(sb, c, depth+1)
	}
}

// ExplainJSON renders the plan as JSON, one entry per relation.
func (p *Plan) ExplainJSON() ([]byte, error) {
	plans := make([]map[string]interface{}, 0, len(p.Relations))
	for _, rp := range p.Relations {
		plans = append(plans, jsonNode(relationNode(rp)))
	}
	out := []map[string]interface{}{{
		"Plans":            plans,
		"Query Identifier": p.QueryID,
	}}
	return json.MarshalIndent(out, "", "  ")
}

func jsonNode(n *node) map[string]interface{} {
	m := map[string]interface{}{
		"Node Type":    n.nodeType,
		"Startup Cost": round2(n.cost.StartupCost),
		"Total Cost":   round2(n.cost.TotalCost),
		"Plan Rows":    renderRows(n.cost.Rows),
	}
	if n.provider != "" {
		m["Custom Plan Provider"] = n.provider
	}
	if n.relation != "" {
		m["Relation Name"] = n.relation
		m["Alias"] = n.alias
	}
	for _, prop := range n.props {
		m[prop.key] = prop.value
	}
	if len(n.children) > 0 {
		children := make([]map[string]interface{}, len(n.children))
		for i, c := range n.children {
			children[i] = jsonNode(c)
		}
		m["Plans"] = children
	}
	return m
}

func renderRows(rows float64) int64 {
	return int64(math.Round(rows))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// filterText renders quals the way explain prints a filter: each qual
// parenthesized, the conjunction parenthesized once more.
func filterText(quals []qual.Qual) string {
	parts := make([]string, len(quals))
	for i, q := range quals {
		parts[i] = parenthesized(q.Text)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// parenthesized wraps s in parentheses unless one pair already encloses it.
func parenthesized(s string) string {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return "(" + s + ")"
	}
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i < len(s)-1 {
				return "(" + s + ")"
			}
		}
	}
	return s
}

// relationNode builds the explain tree of one relation.
func relationNode(rp *RelationPlan) *node {
	rel := rp.Relation
	if rp.Path == nil {
		n := &node{nodeType: "Seq Scan", relation: rel.Table.Name, alias: rel.Name}
		if rp.Heap != nil {
			n.cost = rp.Heap.Cost
			if len(rp.Heap.Filter) > 0 {
				n.add("Filter", filterText(rp.Heap.Filter))
			}
		}
		return n
	}

	path := rp.Path
	pr := rp.Pruning
	chunks := fmt.Sprintf("%d of %d", len(pr.Chunks), pr.Total)

	if path.Kind == PathEmpty {
		n := &node{nodeType: "Result", cost: path.Cost}
		n.add("One-Time Filter", "false")
		n.add("Chunks", chunks)
		return n
	}

	appendNode := &node{
		nodeType: "Custom Scan",
		provider: "ChunkAppend",
		relation: rel.Table.Name,
		alias:    rel.Name,
		cost:     path.Cost,
	}
	if path.Kind == PathOrderedChunkAppend {
		appendNode.add("Order", orderText(path.Order))
	}
	appendNode.add("Chunks", chunks)
	if len(pr.Derived) > 0 {
		appendNode.add("Derived Filter", filterText(pr.Derived))
	}
	appendNode.add("Startup Exclusion", pr.StartupExclusion)
	appendNode.add("Runtime Exclusion", pr.RuntimeExclusion)

	sortEach := path.Kind == PathMergeAppend || path.Kind == PathOrderedChunkAppend
	for _, s := range path.Scans {
		appendNode.children = append(appendNode.children, scanNode(rel, s, sortEach, path.Order))
	}

	switch path.Kind {
	case PathMergeAppend:
		appendNode.nodeType = "Merge Append"
		appendNode.provider = ""
		appendNode.relation = ""
		props := []property{{key: "Sort Key", value: orderText(path.Order)}}
		appendNode.props = append(props, appendNode.props...)
		return appendNode
	case PathSortedAppend:
		inner := *appendNode
		inner.cost = CostModel{}.AppendCost(scanCosts(path.Scans))
		sorted := &node{nodeType: "Sort", cost: path.Cost}
		sorted.add("Sort Key", orderText(path.Order))
		sorted.children = []*node{&inner}
		return sorted
	}
	return appendNode
}

func scanNode(rel Relation, s *ChunkScan, sorted bool, order *KeyOrder) *node {
	n := &node{relation: s.Chunk.Name, alias: rel.Name, cost: s.Cost}
	if s.Compression != nil {
		n.nodeType = "Custom Scan"
		n.provider = "DecompressChunk"
		if len(s.VectorizedFilter) > 0 {
			n.add("Vectorized Filter", filterText(s.VectorizedFilter))
		}
		if len(s.Filter) > 0 {
			n.add("Filter", filterText(s.Filter))
		}
		info := s.Compression
		n.add("Batches", fmt.Sprintf("%.0f of %d", math.Round(info.OriginalCompressedRows), info.BatchCount))
		if s.Cost.Fallback {
			n.add("Batch Size", "unknown")
		}
	} else {
		n.nodeType = "Seq Scan"
		if len(s.Filter) > 0 {
			n.add("Filter", filterText(s.Filter))
		}
	}

	if !sorted || !s.NeedsSort {
		return n
	}
	sortNode := &node{nodeType: "Sort", cost: s.SortedCost, children: []*node{n}}
	sortNode.add("Sort Key", orderText(order))
	return sortNode
}

func orderText(o *KeyOrder) string {
	if o == nil {
		return ""
	}
	if o.Desc {
		return o.Column.String() + " DESC"
	}
	return o.Column.String()
}

func scanCosts(scans []*ChunkScan) []CostEstimate {
	out := make([]CostEstimate, len(scans))
	for i, s := range scans {
		out[i] = s.Cost
	}
	return out
}
