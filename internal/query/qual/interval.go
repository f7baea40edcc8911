package qual

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Unbounded ends of a key interval.
const (
	MinKey int64 = math.MinInt64
	MaxKey int64 = math.MaxInt64
)

// Interval is a half-open range [Lo, Hi) of partitioning-key values.
// Lo == MinKey means unbounded below, Hi == MaxKey unbounded above.
type Interval struct {
	Lo int64
	Hi int64
}

// Empty reports whether the interval contains no value.
func (i Interval) Empty() bool {
	return i.Lo >= i.Hi
}

// Overlaps reports whether the interval shares a value with [lo, hi).
func (i Interval) Overlaps(lo, hi int64) bool {
	return i.Lo < hi && lo < i.Hi
}

func (i Interval) String() string {
	lo, hi := "-inf", "+inf"
	if i.Lo != MinKey {
		lo = fmt.Sprintf("%d", i.Lo)
	}
	if i.Hi != MaxKey {
		hi = fmt.Sprintf("%d", i.Hi)
	}
	return "[" + lo + ", " + hi + ")"
}

// Set is a sorted list of disjoint, non-adjacent, non-empty intervals.
// The nil Set is empty.
type Set []Interval

// Full returns the set containing every key.
func Full() Set {
	return Set{{Lo: MinKey, Hi: MaxKey}}
}

// Range returns the set holding the single interval [lo, hi).
func Range(lo, hi int64) Set {
	if lo >= hi {
		return nil
	}
	return Set{{Lo: lo, Hi: hi}}
}

// IsEmpty reports whether the set contains no key.
func (s Set) IsEmpty() bool {
	return len(s) == 0
}

// IsFull reports whether the set is unbounded on both sides with no gaps.
func (s Set) IsFull() bool {
	return len(s) == 1 && s[0].Lo == MinKey && s[0].Hi == MaxKey
}

// Union returns the keys in s or o.
func (s Set) Union(o Set) Set {
	all := make([]Interval, 0, len(s)+len(o))
	all = append(all, s...)
	all = append(all, o...)
	return normalize(all)
}

// Intersect returns the keys in both s and o.
func (s Set) Intersect(o Set) Set {
	var out []Interval
	i, j := 0, 0
	for i < len(s) && j < len(o) {
		lo := max(s[i].Lo, o[j].Lo)
		hi := min(s[i].Hi, o[j].Hi)
		if lo < hi {
			out = append(out, Interval{Lo: lo, Hi: hi})
		}
		if s[i].Hi < o[j].Hi {
			i++
		} else {
			j++
		}
	}
	return Set(out)
}

// Overlaps reports whether any interval of the set intersects [lo, hi).
func (s Set) Overlaps(lo, hi int64) bool {
	if lo >= hi {
		return false
	}
	// First interval ending after lo.
	idx := sort.Search(len(s), func(k int) bool { return s[k].Hi > lo })
	return idx < len(s) && s[idx].Lo < hi
}

// OverlapsClosed reports whether the set intersects the inclusive range
// [lo, hi], as stored in per-batch min/max summaries.
func (s Set) OverlapsClosed(lo, hi int64) bool {
	if hi == MaxKey {
		return s.Overlaps(lo, MaxKey) || (len(s) > 0 && s[len(s)-1].Hi == MaxKey)
	}
	return s.Overlaps(lo, hi+1)
}

// Coverage returns the fraction of [lo, hi) covered by the set, in [0, 1].
func (s Set) Coverage(lo, hi int64) float64 {
	if lo >= hi {
		return 0
	}
	width := float64(hi) - float64(lo)
	var covered float64
	for _, iv := range s {
		a := max(iv.Lo, lo)
		b := min(iv.Hi, hi)
		if a < b {
			covered += float64(b) - float64(a)
		}
	}
	frac := covered / width
	if frac > 1 {
		return 1
	}
	return frac
}

// Bounds returns the smallest and the exclusive largest key of the set.
// ok is false for the empty set.
func (s Set) Bounds() (lo, hi int64, ok bool) {
	if len(s) == 0 {
		return 0, 0, false
	}
	return s[0].Lo, s[len(s)-1].Hi, true
}

func (s Set) String() string {
	if len(s) == 0 {
		return "{}"
	}
	parts := make([]string, len(s))
	for i, iv := range s {
		parts[i] = iv.String()
	}
	return strings.Join(parts, " U ")
}

func normalize(in []Interval) Set {
	ivs := make([]Interval, 0, len(in))
	for _, iv := range in {
		if !iv.Empty() {
			ivs = append(ivs, iv)
		}
	}
	if len(ivs) == 0 {
		return nil
	}
	sort.Slice(ivs, func(a, b int) bool {
		if ivs[a].Lo != ivs[b].Lo {
			return ivs[a].Lo < ivs[b].Lo
		}
		return ivs[a].Hi < ivs[b].Hi
	})

	out := []Interval{ivs[0]}
	for _, iv := range ivs[1:] {
		last := &out[len(out)-1]
		if iv.Lo <= last.Hi {
			if iv.Hi > last.Hi {
				last.Hi = iv.Hi
			}
			continue
		}
		out = append(out, iv)
	}
	return Set(out)
}

// incr adds one without wrapping past MaxKey.
func incr(v int64) int64 {
	if v == MaxKey {
		return MaxKey
	}
	return v + 1
}

// opRange returns the keys k satisfying "k op v".
func opRange(op Op, v int64) (Set, bool) {
	switch op {
	case OpEq:
		return Range(v, incr(v)), true
	case OpLt:
		return Range(MinKey, v), true
	case OpLe:
		return Range(MinKey, incr(v)), true
	case OpGt:
		return Range(incr(v), MaxKey), true
	case OpGe:
		return Range(v, MaxKey), true
	}
	return nil, false
}

// opRangeFloat returns the integer keys k satisfying "k op f".
func opRangeFloat(op Op, f float64) (Set, bool) {
	if math.IsNaN(f) || f <= float64(MinKey) || f >= float64(MaxKey) {
		return nil, false
	}
	floor := int64(math.Floor(f))
	ceil := int64(math.Ceil(f))
	switch op {
	case OpEq:
		if floor != ceil {
			return nil, true
		}
		return Range(floor, incr(floor)), true
	case OpLt:
		return Range(MinKey, ceil), true
	case OpLe:
		return Range(MinKey, incr(floor)), true
	case OpGt:
		return Range(incr(floor), MaxKey), true
	case OpGe:
		return Range(ceil, MaxKey), true
	}
	return nil, false
}
