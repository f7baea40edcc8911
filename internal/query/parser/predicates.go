package parser

import (
	"fmt"
	"math"

	"github.com/h0rn3t/timescaledb/internal/query/qual"
)

// ExtractQuals flattens the WHERE clause and every JOIN ... ON condition of
// a statement into top-level conjuncts. Columns qualified by an alias or a
// table name are attributed to that relation; unqualified columns are
// attributed to the only relation of single-table statements and left
// unresolved otherwise.
func ExtractQuals(stmt Statement) []qual.Qual {
	if ex, ok := stmt.(*ExplainStatement); ok {
		stmt = ex.Statement
	}

	var tables []*TableRef
	var conds []Expression
	switch s := stmt.(type) {
	case *SelectStatement:
		tables = s.Tables()
		for _, j := range s.Joins {
			if j.On != nil {
				conds = append(conds, j.On)
			}
		}
		if s.Where != nil {
			conds = append(conds, s.Where)
		}
	case *DeleteStatement:
		tables = []*TableRef{s.Table}
		if s.Where != nil {
			conds = append(conds, s.Where)
		}
	case *UpdateStatement:
		tables = []*TableRef{s.Table}
		if s.Where != nil {
			conds = append(conds, s.Where)
		}
	}

	e := newQualExtractor(tables)
	var quals []qual.Qual
	for _, c := range conds {
		for _, conj := range conjuncts(c) {
			quals = append(quals, e.toQuals(conj)...)
		}
	}
	return quals
}

// qualExtractor converts AST expressions into quals.
type qualExtractor struct {
	defaultRel string
	qualifiers map[string]string // qualifier used in the query -> relation name
}

func newQualExtractor(tables []*TableRef) *qualExtractor {
	e := &qualExtractor{qualifiers: make(map[string]string)}
	for _, t := range tables {
		rel := t.RelationName()
		e.qualifiers[rel] = rel
		if t.Alias == "" {
			// bench.sensor_data may be referenced as sensor_data.col.
			if short := shortName(t.Name); short != t.Name {
				e.qualifiers[short] = rel
			}
		}
	}
	if len(tables) == 1 {
		e.defaultRel = tables[0].RelationName()
	}
	return e
}

func shortName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return name
}

func (e *qualExtractor) col(c *ColumnRef) qual.ColumnRef {
	if c.Table == "" {
		return qual.ColumnRef{Relation: e.defaultRel, Column: c.Column}
	}
	if rel, ok := e.qualifiers[c.Table]; ok {
		return qual.ColumnRef{Relation: rel, Column: c.Column}
	}
	return qual.ColumnRef{Relation: c.Table, Column: c.Column}
}

// conjuncts splits an expression on top-level AND, looking through parentheses.
func conjuncts(expr Expression) []Expression {
	switch ex := expr.(type) {
	case *ParenExpr:
		return conjuncts(ex.Expr)
	case *BinaryExpr:
		if ex.Operator == "AND" {
			return append(conjuncts(ex.Left), conjuncts(ex.Right)...)
		}
	}
	return []Expression{expr}
}

// disjuncts splits an expression on top-level OR, looking through parentheses.
func disjuncts(expr Expression) []Expression {
	switch ex := expr.(type) {
	case *ParenExpr:
		return disjuncts(ex.Expr)
	case *BinaryExpr:
		if ex.Operator == "OR" {
			return append(disjuncts(ex.Left), disjuncts(ex.Right)...)
		}
	}
	return []Expression{expr}
}

func unparen(expr Expression) Expression {
	for {
		p, ok := expr.(*ParenExpr)
		if !ok {
			return expr
		}
		expr = p.Expr
	}
}

// toQuals converts one conjunct. BETWEEN expands into two quals.
func (e *qualExtractor) toQuals(expr Expression) []qual.Qual {
	expr = unparen(expr)

	switch ex := expr.(type) {
	case *BinaryExpr:
		switch ex.Operator {
		case "OR":
			return []qual.Qual{e.orQual(ex)}
		case "AND":
			var out []qual.Qual
			for _, c := range conjuncts(ex) {
				out = append(out, e.toQuals(c)...)
			}
			return out
		}
		if op, ok := qual.ParseOp(ex.Operator); ok {
			return []qual.Qual{e.comparison(ex.Left, op, ex.Right, ex.String())}
		}

	case *BetweenExpr:
		low := e.comparison(ex.Expr, qual.OpGe, ex.Low, fmt.Sprintf("(%s >= %s)", ex.Expr, ex.Low))
		high := e.comparison(ex.Expr, qual.OpLe, ex.High, fmt.Sprintf("(%s <= %s)", ex.Expr, ex.High))
		if !ex.Not {
			return []qual.Qual{low, high}
		}
		below := e.comparison(ex.Expr, qual.OpLt, ex.Low, fmt.Sprintf("(%s < %s)", ex.Expr, ex.Low))
		above := e.comparison(ex.Expr, qual.OpGt, ex.High, fmt.Sprintf("(%s > %s)", ex.Expr, ex.High))
		return []qual.Qual{qual.Or([][]qual.Qual{{below}, {above}}, ex.String())}

	case *InExpr:
		return []qual.Qual{e.inQual(ex)}

	case *LikeExpr:
		return []qual.Qual{e.opaque(qual.FormLike, ex.Expr, ex)}

	case *IsNullExpr:
		form := qual.FormIsNull
		if ex.Not {
			form = qual.FormIsNotNull
		}
		return []qual.Qual{e.opaque(form, ex.Expr, ex)}

	case *UnaryExpr:
		if ex.Operator == "NOT" {
			if q, ok := e.negate(ex.Operand); ok {
				q.Text = ex.String()
				return []qual.Qual{q}
			}
		}

	case *Literal:
		if b, ok := ex.Value.(bool); ok && b {
			return nil
		}
	}

	return []qual.Qual{e.opaque(qual.FormOther, nil, expr)}
}

// comparison builds the qual for "left op right".
func (e *qualExtractor) comparison(left Expression, op qual.Op, right Expression, text string) qual.Qual {
	l, r := unparen(left), unparen(right)
	lc, lIsCol := l.(*ColumnRef)
	rc, rIsCol := r.(*ColumnRef)

	switch {
	case lIsCol && rIsCol:
		return qual.Join(e.col(lc), op, e.col(rc), text)
	case lIsCol:
		return e.columnVersus(e.col(lc), op, r, text)
	case rIsCol:
		return e.columnVersus(e.col(rc), op.Commute(), l, text)
	}

	cols := e.columnsIn(&BinaryExpr{Left: l, Operator: op.String(), Right: r})
	return qual.Opaque(qual.FormOther, qual.ColumnRef{}, cols, text)
}

// columnVersus builds "col op expr" where expr is not a bare column.
func (e *qualExtractor) columnVersus(col qual.ColumnRef, op qual.Op, other Expression, text string) qual.Qual {
	switch kind, val := constValue(other); kind {
	case valueConst:
		return qual.Compare(col, op, val, text)
	case valueStable:
		q := qual.Compare(col, op, nil, text)
		q.Stable = true
		return q
	}
	cols := append([]qual.ColumnRef{col}, e.columnsIn(other)...)
	return qual.Opaque(qual.FormOther, qual.ColumnRef{}, cols, text)
}

func (e *qualExtractor) orQual(expr *BinaryExpr) qual.Qual {
	parts := disjuncts(expr)
	alts := make([][]qual.Qual, 0, len(parts))
	for _, d := range parts {
		var conj []qual.Qual
		for _, c := range conjuncts(d) {
			conj = append(conj, e.toQuals(c)...)
		}
		alts = append(alts, conj)
	}
	return qual.Or(alts, expr.String())
}

func (e *qualExtractor) inQual(ex *InExpr) qual.Qual {
	c, isCol := unparen(ex.Expr).(*ColumnRef)
	if !isCol || ex.Not {
		form := qual.FormOther
		if ex.Not {
			form = qual.FormNotIn
		}
		return e.opaque(form, ex.Expr, ex)
	}

	col := e.col(c)
	alts := make([][]qual.Qual, 0, len(ex.Values))
	for _, v := range ex.Values {
		kind, val := constValue(v)
		if kind != valueConst {
			return e.opaque(qual.FormOther, ex.Expr, ex)
		}
		alts = append(alts, []qual.Qual{qual.Compare(col, qual.OpEq, val, fmt.Sprintf("(%s = %s)", ex.Expr, v))})
	}
	if len(alts) == 1 {
		q := alts[0][0]
		q.Text = ex.String()
		return q
	}
	return qual.Or(alts, ex.String())
}

// negate handles NOT over a plain comparison.
func (e *qualExtractor) negate(operand Expression) (qual.Qual, bool) {
	bin, ok := unparen(operand).(*BinaryExpr)
	if !ok {
		return qual.Qual{}, false
	}
	op, ok := qual.ParseOp(bin.Operator)
	if !ok {
		return qual.Qual{}, false
	}
	negated := map[qual.Op]qual.Op{
		qual.OpEq: qual.OpNe,
		qual.OpNe: qual.OpEq,
		qual.OpLt: qual.OpGe,
		qual.OpLe: qual.OpGt,
		qual.OpGt: qual.OpLe,
		qual.OpGe: qual.OpLt,
	}[op]
	return e.comparison(bin.Left, negated, bin.Right, ""), true
}

func (e *qualExtractor) opaque(form qual.Form, subject Expression, whole Expression) qual.Qual {
	var col qual.ColumnRef
	if subject != nil {
		if c, ok := unparen(subject).(*ColumnRef); ok {
			col = e.col(c)
		}
	}
	return qual.Opaque(form, col, e.columnsIn(whole), whole.String())
}

// columnsIn returns every column referenced by the expression.
func (e *qualExtractor) columnsIn(expr Expression) []qual.ColumnRef {
	var out []qual.ColumnRef
	walk(expr, func(x Expression) {
		if c, ok := x.(*ColumnRef); ok {
			out = append(out, e.col(c))
		}
	})
	return out
}

// walk visits expr and all of its subexpressions.
func walk(expr Expression, visit func(Expression)) {
	if expr == nil {
		return
	}
	visit(expr)
	switch ex := expr.(type) {
	case *BinaryExpr:
		walk(ex.Left, visit)
		walk(ex.Right, visit)
	case *UnaryExpr:
		walk(ex.Operand, visit)
	case *ParenExpr:
		walk(ex.Expr, visit)
	case *CastExpr:
		walk(ex.Expr, visit)
	case *FunctionCall:
		for _, a := range ex.Args {
			walk(a, visit)
		}
	case *InExpr:
		walk(ex.Expr, visit)
		for _, v := range ex.Values {
			walk(v, visit)
		}
	case *BetweenExpr:
		walk(ex.Expr, visit)
		walk(ex.Low, visit)
		walk(ex.High, visit)
	case *LikeExpr:
		walk(ex.Expr, visit)
		walk(ex.Pattern, visit)
	case *IsNullExpr:
		walk(ex.Expr, visit)
	}
}

type valueKind int

const (
	valueNone   valueKind = iota // references columns or is NULL
	valueConst                   // known at planning time
	valueStable                  // fixed per execution, unknown at planning time
)

// constValue evaluates a column-free expression. Integer and float
// arithmetic on constants is folded.
func constValue(expr Expression) (valueKind, interface{}) {
	switch ex := expr.(type) {
	case *Literal:
		if ex.Value == nil {
			return valueNone, nil
		}
		return valueConst, ex.Value
	case *ParenExpr:
		return constValue(ex.Expr)
	case *CastExpr:
		return constValue(ex.Expr)
	case *ParamRef:
		return valueStable, nil
	case *FunctionCall:
		for _, a := range ex.Args {
			if k, _ := constValue(a); k == valueNone {
				if _, isStar := a.(*StarExpr); !isStar {
					return valueNone, nil
				}
			}
		}
		return valueStable, nil
	case *UnaryExpr:
		if ex.Operator != "-" {
			return valueNone, nil
		}
		k, v := constValue(ex.Operand)
		if k != valueConst {
			return k, nil
		}
		switch n := v.(type) {
		case int64:
			if n == math.MinInt64 {
				return valueNone, nil
			}
			return valueConst, -n
		case float64:
			return valueConst, -n
		}
		return valueNone, nil
	case *BinaryExpr:
		lk, lv := constValue(ex.Left)
		rk, rv := constValue(ex.Right)
		if lk == valueNone || rk == valueNone {
			return valueNone, nil
		}
		if lk == valueStable || rk == valueStable {
			return valueStable, nil
		}
		if v, ok := foldArithmetic(ex.Operator, lv, rv); ok {
			return valueConst, v
		}
		return valueNone, nil
	}
	return valueNone, nil
}

// foldInt folds integer arithmetic. Results that overflow int64 are not
// folded, leaving the expression opaque.
func foldInt(op string, l, r int64) (interface{}, bool) {
	switch op {
	case "+":
		sum := l + r
		if (r > 0 && sum < l) || (r < 0 && sum > l) {
			return nil, false
		}
		return sum, true
	case "-":
		diff := l - r
		if (r > 0 && diff > l) || (r < 0 && diff < l) {
			return nil, false
		}
		return diff, true
	case "*":
		if l == 0 || r == 0 {
			return int64(0), true
		}
		prod := l * r
		if prod/r != l || (l == -1 && r == math.MinInt64) || (r == -1 && l == math.MinInt64) {
			return nil, false
		}
		return prod, true
	case "/":
		if r == 0 || (l == math.MinInt64 && r == -1) {
			return nil, false
		}
		return l / r, true
	}
	return nil, false
}

func foldArithmetic(op string, l, r interface{}) (interface{}, bool) {
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		return foldInt(op, li, ri)
	}

	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return nil, false
	}
	switch op {
	case "+":
		return lf + rf, true
	case "-":
		return lf - rf, true
	case "*":
		return lf * rf, true
	case "/":
		if rf != 0 {
			return lf / rf, true
		}
	}
	return nil, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
