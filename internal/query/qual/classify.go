package qual

import (
	"fmt"
	"strings"
	"time"
)

// Class is the filtering phase a qual belongs to.
type Class int

const (
	// ValueOnly quals need decompressed row values.
	ValueOnly Class = iota
	// MetadataEvaluable quals can be decided from chunk ranges and batch
	// min/max summaries of the partitioning key.
	MetadataEvaluable
)

func (c Class) String() string {
	if c == MetadataEvaluable {
		return "metadata"
	}
	return "value"
}

// Target identifies the partitioning key of one relation in the query.
type Target struct {
	Relation string
	Key      string
}

// Column returns the key as a column reference.
func (t Target) Column() ColumnRef {
	return ColumnRef{Relation: t.Relation, Column: t.Key}
}

// timestampLayouts are tried in order when a string constant is compared
// with the partitioning key.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp converts a timestamp literal to microseconds since the
// Unix epoch. Literals without a zone are read as UTC.
func ParseTimestamp(s string) (int64, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMicro(), true
		}
	}
	return 0, false
}

// KeyValue converts a constant to the integer key domain. Floats are only
// accepted when integral; use KeyRange for range semantics on floats.
func KeyValue(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		if x == float64(int64(x)) {
			return int64(x), true
		}
	case string:
		return ParseTimestamp(x)
	case time.Time:
		return x.UnixMicro(), true
	}
	return 0, false
}

// compareRange returns the keys satisfying "key op value".
func compareRange(op Op, value interface{}) (Set, bool) {
	if !op.IsRange() {
		return nil, false
	}
	if f, ok := value.(float64); ok {
		return opRangeFloat(op, f)
	}
	v, ok := KeyValue(value)
	if !ok {
		return nil, false
	}
	return opRange(op, v)
}

// KeyRange returns the partitioning-key values a qual admits, when the qual
// can be decided from key metadata alone. ok is false for every other qual.
//
// An OR qual qualifies only when every disjunct constrains the key; its
// range is the union of the disjuncts' ranges, each of which is the
// intersection of the disjunct's key conjuncts.
func KeyRange(q Qual, t Target) (Set, bool) {
	switch q.Kind {
	case KindCompare:
		if q.Stable || q.Column.Relation != t.Relation || q.Column.Column != t.Key {
			return nil, false
		}
		return compareRange(q.Op, q.Value)
	case KindOr:
		if len(q.Disjuncts) == 0 {
			return nil, false
		}
		var acc Set
		for _, d := range q.Disjuncts {
			conj := Full()
			found := false
			for _, c := range d {
				if r, ok := KeyRange(c, t); ok {
					conj = conj.Intersect(r)
					found = true
				}
			}
			if !found {
				return nil, false
			}
			acc = acc.Union(conj)
		}
		return acc, true
	}
	return nil, false
}

// Classify decides which filtering phase a qual belongs to for the target.
// It is the one classification both chunk pruning and batch estimation use.
func Classify(q Qual, t Target) Class {
	if _, ok := KeyRange(q, t); ok {
		return MetadataEvaluable
	}
	return ValueOnly
}

// Split partitions quals into metadata-evaluable and value-only sets,
// preserving order.
func Split(quals []Qual, t Target) (metadata, value []Qual) {
	for _, q := range quals {
		if Classify(q, t) == MetadataEvaluable {
			metadata = append(metadata, q)
		} else {
			value = append(value, q)
		}
	}
	return metadata, value
}

// Bounds intersects the key ranges of all metadata-evaluable quals.
// It returns Full when no qual constrains the key.
func Bounds(quals []Qual, t Target) Set {
	acc := Full()
	for _, q := range quals {
		if r, ok := KeyRange(q, t); ok {
			acc = acc.Intersect(r)
		}
	}
	return acc
}

// ColumnBounds is Bounds for an arbitrary column of a relation, used to
// find the static range of a dimension column.
func ColumnBounds(quals []Qual, col ColumnRef) (Set, bool) {
	t := Target{Relation: col.Relation, Key: col.Column}
	acc := Full()
	constrained := false
	for _, q := range quals {
		if r, ok := KeyRange(q, t); ok {
			acc = acc.Intersect(r)
			constrained = true
		}
	}
	return acc, constrained
}

// RangeQual builds a derived, metadata-evaluable qual on col admitting
// exactly the keys of s. The empty set yields a qual no key satisfies.
func RangeQual(col ColumnRef, s Set) Qual {
	if len(s) == 0 {
		q := Compare(col, OpLt, MinKey, "false")
		q.Derived = true
		return q
	}

	disjuncts := make([][]Qual, 0, len(s))
	texts := make([]string, 0, len(s))
	for _, iv := range s {
		var conj []Qual
		var parts []string
		if iv.Lo != MinKey {
			text := fmt.Sprintf("(%s >= %d)", col, iv.Lo)
			conj = append(conj, Compare(col, OpGe, iv.Lo, text))
			parts = append(parts, text)
		}
		if iv.Hi != MaxKey {
			text := fmt.Sprintf("(%s < %d)", col, iv.Hi)
			conj = append(conj, Compare(col, OpLt, iv.Hi, text))
			parts = append(parts, text)
		}
		if len(conj) == 0 {
			text := fmt.Sprintf("(%s IS NOT NULL)", col)
			conj = append(conj, Compare(col, OpGe, MinKey, text))
			parts = append(parts, text)
		}
		for i := range conj {
			conj[i].Derived = true
		}
		disjuncts = append(disjuncts, conj)
		text := strings.Join(parts, " AND ")
		if len(parts) > 1 {
			text = "(" + text + ")"
		}
		texts = append(texts, text)
	}

	if len(disjuncts) == 1 && len(disjuncts[0]) == 1 {
		return disjuncts[0][0]
	}
	text := texts[0]
	if len(texts) > 1 {
		text = "(" + strings.Join(texts, " OR ") + ")"
	}
	q := Or(disjuncts, text)
	q.Derived = true
	return q
}
