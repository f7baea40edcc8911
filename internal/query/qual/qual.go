// Package qual holds the normalized predicate model shared by the pruner
// and the batch estimator, together with the single classification that
// decides which predicates can be answered from chunk and batch metadata.
package qual

import (
	"sort"
	"strings"
)

// Op is a comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

var opNames = map[Op]string{
	OpEq: "=",
	OpNe: "<>",
	OpLt: "<",
	OpLe: "<=",
	OpGt: ">",
	OpGe: ">=",
}

// ParseOp maps an SQL comparison operator to an Op.
func ParseOp(s string) (Op, bool) {
	switch s {
	case "=":
		return OpEq, true
	case "<>", "!=":
		return OpNe, true
	case "<":
		return OpLt, true
	case "<=":
		return OpLe, true
	case ">":
		return OpGt, true
	case ">=":
		return OpGe, true
	}
	return 0, false
}

// String returns the SQL spelling of the operator.
func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "?"
}

// Commute returns the operator obtained by swapping the operands,
// so that "a < b" becomes "b > a".
func (o Op) Commute() Op {
	switch o {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	}
	return o
}

// IsRange reports whether the operator bounds a column from one or both sides.
func (o Op) IsRange() bool {
	return o != OpNe
}

// Kind distinguishes the shapes a qual can take.
type Kind int

const (
	// KindCompare is "column op constant".
	KindCompare Kind = iota
	// KindJoin is "column op column" across two relations.
	KindJoin
	// KindOr is a disjunction of conjunctions.
	KindOr
	// KindOpaque is anything the planner cannot reason about structurally.
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindCompare:
		return "compare"
	case KindJoin:
		return "join"
	case KindOr:
		return "or"
	default:
		return "opaque"
	}
}

// Form refines KindOpaque quals for the selectivity estimator.
type Form int

const (
	FormOther Form = iota
	FormLike
	FormIsNull
	FormIsNotNull
	FormNotIn
)

// ColumnRef names a column of one relation in the query. Relation is the
// alias used in the query, or the table name when no alias is given.
type ColumnRef struct {
	Relation string
	Column   string
}

// String returns "relation.column", or just the column when unresolved.
func (c ColumnRef) String() string {
	if c.Relation == "" {
		return c.Column
	}
	return c.Relation + "." + c.Column
}

// IsZero reports whether the reference is empty.
func (c ColumnRef) IsZero() bool {
	return c.Column == ""
}

// Qual is one conjunct of a WHERE or ON clause.
type Qual struct {
	Kind Kind

	// Column is the constrained column of compare, join and single-column
	// opaque quals.
	Column ColumnRef
	Op     Op

	// Value is the constant of a compare qual: int64, float64, string or bool.
	Value interface{}

	// Stable is set when the compared value is an expression that is fixed
	// for one execution but unknown at planning time, such as now().
	Stable bool

	// Other is the second column of a join qual.
	Other ColumnRef

	// Disjuncts holds the alternatives of an OR qual; each is a conjunction.
	Disjuncts [][]Qual

	// Form refines opaque quals.
	Form Form

	// Derived marks quals produced by join-qual propagation.
	Derived bool

	// Columns lists every column the qual references outside disjuncts.
	Columns []ColumnRef

	// Relations lists every relation the qual references, sorted.
	Relations []string

	// Text is the SQL rendering used by explain.
	Text string
}

// String returns the SQL rendering of the qual.
func (q Qual) String() string {
	return q.Text
}

// References reports whether the qual mentions the relation.
func (q Qual) References(rel string) bool {
	for _, r := range q.Relations {
		if r == rel {
			return true
		}
	}
	return false
}

// Unresolved returns the columns of the qual not attributed to any
// relation, disjuncts included.
func (q Qual) Unresolved() []string {
	var out []string
	for _, d := range q.Disjuncts {
		for _, c := range d {
			out = append(out, c.Unresolved()...)
		}
	}
	for _, c := range q.Columns {
		if c.Relation == "" && c.Column != "" {
			out = append(out, c.Column)
		}
	}
	return out
}

// OnlyReferences reports whether the qual mentions exactly the relation.
func (q Qual) OnlyReferences(rel string) bool {
	return len(q.Relations) == 1 && q.Relations[0] == rel
}

// Compare builds a "column op value" qual.
func Compare(col ColumnRef, op Op, value interface{}, text string) Qual {
	return Qual{
		Kind:      KindCompare,
		Column:    col,
		Op:        op,
		Value:     value,
		Columns:   []ColumnRef{col},
		Relations: relationsOf(col),
		Text:      text,
	}
}

// Join builds a "column op column" qual across two relations.
func Join(left ColumnRef, op Op, right ColumnRef, text string) Qual {
	return Qual{
		Kind:      KindJoin,
		Column:    left,
		Op:        op,
		Other:     right,
		Columns:   []ColumnRef{left, right},
		Relations: relationsOf(left, right),
		Text:      text,
	}
}

// Or builds a disjunction. Each element of disjuncts is a conjunction.
func Or(disjuncts [][]Qual, text string) Qual {
	var rels []string
	for _, d := range disjuncts {
		for _, q := range d {
			rels = append(rels, q.Relations...)
		}
	}
	return Qual{
		Kind:      KindOr,
		Disjuncts: disjuncts,
		Relations: normalizeRelations(rels),
		Text:      text,
	}
}

// Opaque builds a qual the planner only knows by the columns it touches.
func Opaque(form Form, col ColumnRef, cols []ColumnRef, text string) Qual {
	return Qual{
		Kind:      KindOpaque,
		Column:    col,
		Form:      form,
		Columns:   cols,
		Relations: relationsOf(cols...),
		Text:      text,
	}
}

// Flip returns a join qual with its two sides swapped.
func (q Qual) Flip() Qual {
	if q.Kind != KindJoin {
		return q
	}
	out := q
	out.Column, out.Other = q.Other, q.Column
	out.Op = q.Op.Commute()
	return out
}

// Texts renders quals joined by AND, as explain prints filters.
func Texts(quals []Qual) string {
	parts := make([]string, 0, len(quals))
	for _, q := range quals {
		parts = append(parts, q.Text)
	}
	return strings.Join(parts, " AND ")
}

// ResolveColumns returns copies of quals where every column with no
// relation is assigned the relation returned by resolve. Columns that
// resolve to "" stay unresolved.
func ResolveColumns(quals []Qual, resolve func(column string) string) []Qual {
	out := make([]Qual, len(quals))
	for i, q := range quals {
		out[i] = resolveQual(q, resolve)
	}
	return out
}

func resolveQual(q Qual, resolve func(string) string) Qual {
	fix := func(c ColumnRef) ColumnRef {
		if c.Relation == "" && c.Column != "" {
			c.Relation = resolve(c.Column)
		}
		return c
	}

	q.Column = fix(q.Column)
	q.Other = fix(q.Other)
	if len(q.Disjuncts) > 0 {
		disjuncts := make([][]Qual, len(q.Disjuncts))
		var rels []string
		for i, d := range q.Disjuncts {
			disjuncts[i] = ResolveColumns(d, resolve)
			for _, c := range disjuncts[i] {
				rels = append(rels, c.Relations...)
			}
		}
		q.Disjuncts = disjuncts
		q.Relations = normalizeRelations(rels)
		return q
	}

	cols := make([]ColumnRef, len(q.Columns))
	for i, c := range q.Columns {
		cols[i] = fix(c)
	}
	q.Columns = cols
	q.Relations = relationsOf(cols...)

	// A comparison between two columns of the same relation is a row filter.
	if q.Kind == KindJoin && q.Column.Relation == q.Other.Relation && q.Column.Relation != "" {
		q.Kind = KindOpaque
		q.Form = FormOther
	}
	return q
}

func relationsOf(cols ...ColumnRef) []string {
	rels := make([]string, 0, len(cols))
	for _, c := range cols {
		rels = append(rels, c.Relation)
	}
	return normalizeRelations(rels)
}

func normalizeRelations(rels []string) []string {
	seen := make(map[string]bool, len(rels))
	out := make([]string, 0, len(rels))
	for _, r := range rels {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
