package manifest

import (
	"math"

	"github.com/hupe1980/vectable/record"
)

// FragmentStats holds per-column statistics of one fragment. They are
// computed once when the fragment is written and let scans skip fragments
// that cannot match a filter without loading them.
type FragmentStats struct {
	Columns map[string]ColumnStats
}

// ColumnStats stores min/max bounds of a numeric column.
type ColumnStats struct {
	Min       float64
	Max       float64
	NullCount uint64
	HasNaN    bool
	// HasValue is false when every row is null (or NaN).
	HasValue bool
}

// CollectStats computes statistics for the numeric columns of b.
func CollectStats(b *record.Batch) FragmentStats {
	fs := FragmentStats{Columns: make(map[string]ColumnStats)}
	for i, f := range b.Schema().Fields() {
		if !f.Type.IsNumeric() {
			continue
		}
		col := b.Column(i)
		cs := ColumnStats{Min: math.Inf(1), Max: math.Inf(-1)}
		for r := range col.Len() {
			if col.IsNull(r) {
				cs.NullCount++
				continue
			}
			var v float64
			if f.Type.ID == record.TypeInt32 || f.Type.ID == record.TypeInt64 {
				v = float64(col.Int64(r))
			} else {
				v = col.Float64(r)
			}
			if math.IsNaN(v) {
				cs.HasNaN = true
				continue
			}
			cs.HasValue = true
			cs.Min = min(cs.Min, v)
			cs.Max = max(cs.Max, v)
		}
		if !cs.HasValue {
			cs.Min, cs.Max = 0, 0
		}
		fs.Columns[f.Name] = cs
	}
	return fs
}

// CanPrune reports whether no row of the fragment can satisfy
// "field op value". op is one of =, !=, <, <=, >, >=. Unknown fields and
// operators never prune.
func (fs FragmentStats) CanPrune(field, op string, value float64) bool {
	cs, ok := fs.Columns[field]
	if !ok || math.IsNaN(value) {
		return false
	}
	if !cs.HasValue {
		// Comparisons against null or NaN are never true, except NaN != x.
		return op != "!=" || !cs.HasNaN
	}

	switch op {
	case ">":
		return cs.Max <= value
	case ">=":
		return cs.Max < value
	case "<":
		return cs.Min >= value
	case "<=":
		return cs.Min > value
	case "=":
		return value < cs.Min || value > cs.Max
	case "!=":
		return !cs.HasNaN && cs.Min == cs.Max && cs.Min == value
	}
	return false
}

// CanPruneRange reports whether no row lies within [lo, hi].
func (fs FragmentStats) CanPruneRange(field string, lo, hi float64) bool {
	return fs.CanPrune(field, ">=", lo) || fs.CanPrune(field, "<=", hi)
}
