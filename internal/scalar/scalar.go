// Package scalar implements value indexes over a single column.
//
// A btree index keeps one sorted (key, row id) entry per row and suits
// high-cardinality columns and range predicates. A bitmap index keeps one
// roaring bitmap of row ids per distinct key and suits low-cardinality
// columns. Both answer =, <, <=, >, >=, IN and BETWEEN with exactly the
// rows for which the predicate evaluates to true; NULLs are never indexed.
package scalar

import (
	"bytes"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vectable/record"
)

// Type selects the index layout.
type Type uint8

const (
	TypeBTree Type = iota + 1
	TypeBitmap
)

func (t Type) String() string {
	switch t {
	case TypeBTree:
		return "btree"
	case TypeBitmap:
		return "bitmap"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ParseType maps "btree" and "bitmap" (case-insensitive) to a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "btree":
		return TypeBTree, nil
	case "bitmap":
		return TypeBitmap, nil
	default:
		return 0, fmt.Errorf("invalid scalar index type %q", s)
	}
}

// Supports reports whether columns of type t can be indexed.
func Supports(t record.TypeID) bool {
	switch t {
	case record.TypeBool, record.TypeInt32, record.TypeInt64, record.TypeFloat32,
		record.TypeFloat64, record.TypeString, record.TypeBinary:
		return true
	}
	return false
}

// Index is an immutable value index.
type Index struct {
	typ  Type
	kind record.TypeID
	keys []record.Value // ascending; distinct for bitmap indexes
	rows []uint64       // btree: row id of keys[i]
	sets []*roaring64.Bitmap
	// nan holds rows whose value is NaN. NaN compares equal to everything.
	nan *roaring64.Bitmap
}

// Type returns the index layout.
func (ix *Index) Type() Type { return ix.typ }

// Kind returns the indexed column type.
func (ix *Index) Kind() record.TypeID { return ix.kind }

// Len returns the number of indexed rows.
func (ix *Index) Len() int {
	n := int(ix.nan.GetCardinality())
	if ix.typ == TypeBTree {
		return n + len(ix.rows)
	}
	for _, s := range ix.sets {
		n += int(s.GetCardinality())
	}
	return n
}

// Keys returns the number of distinct keys.
func (ix *Index) Keys() int {
	if ix.typ == TypeBitmap {
		return len(ix.keys)
	}
	n := 0
	for i := range ix.keys {
		if i == 0 || !ix.keys[i].Equal(ix.keys[i-1]) {
			n++
		}
	}
	return n
}

// Lookup returns the rows for which "column op values" is true. op is one
// of =, <, <=, >, >=, IN or BETWEEN.
func (ix *Index) Lookup(op string, values ...record.Value) (*roaring64.Bitmap, error) {
	out := roaring64.New()
	add := func(lo, hi int) {
		if lo >= hi {
			return
		}
		if ix.typ == TypeBTree {
			out.AddMany(ix.rows[lo:hi])
			return
		}
		for _, s := range ix.sets[lo:hi] {
			out.Or(s)
		}
	}
	n := len(ix.keys)
	var err error
	bound := func(v record.Value, inclusive bool) int {
		i, e := ix.search(v, inclusive)
		if e != nil && err == nil {
			err = e
		}
		return i
	}

	switch op {
	case "<", "<=", ">", ">=":
		if len(values) != 1 {
			return nil, fmt.Errorf("%s needs one value", op)
		}
	}
	withNaN := true
	switch op {
	case "=":
		if len(values) != 1 {
			return nil, fmt.Errorf("%s needs one value", op)
		}
		add(bound(values[0], false), bound(values[0], true))
	case "<":
		withNaN = false
		add(0, bound(values[0], false))
	case "<=":
		add(0, bound(values[0], true))
	case ">":
		withNaN = false
		add(bound(values[0], true), n)
	case ">=":
		add(bound(values[0], false), n)
	case "IN":
		withNaN = len(values) > 0
		for _, v := range values {
			add(bound(v, false), bound(v, true))
		}
	case "BETWEEN":
		if len(values) != 2 {
			return nil, fmt.Errorf("%s needs two values", op)
		}
		add(bound(values[0], false), bound(values[1], true))
	default:
		return nil, fmt.Errorf("unsupported operator %q", op)
	}
	if err != nil {
		return nil, err
	}
	if withNaN {
		out.Or(ix.nan)
	}
	return out, nil
}

// search returns the first key position greater than or equal to v, or
// strictly greater when after is set.
func (ix *Index) search(v record.Value, after bool) (int, error) {
	var err error
	i, _ := slices.BinarySearchFunc(ix.keys, v, func(k, t record.Value) int {
		c, e := record.Compare(k, t)
		if e != nil {
			err = e
			return 0
		}
		if c == 0 && after {
			return -1
		}
		return c
	})
	if err != nil {
		return 0, err
	}
	return i, nil
}

// Builder collects column values and their row ids.
type Builder struct {
	typ     Type
	kind    record.TypeID
	entries []entry
	nan     *roaring64.Bitmap
}

type entry struct {
	key record.Value
	row uint64
}

// NewBuilder returns a builder for a column of type kind.
func NewBuilder(typ Type, kind record.TypeID) (*Builder, error) {
	if typ != TypeBTree && typ != TypeBitmap {
		return nil, fmt.Errorf("invalid scalar index type %v", typ)
	}
	if !Supports(kind) {
		return nil, fmt.Errorf("cannot index a %s column", kind)
	}
	return &Builder{typ: typ, kind: kind, nan: roaring64.New()}, nil
}

// Add indexes the non-null values of col; rowID maps a position to its row
// id.
func (b *Builder) Add(col *record.Column, rowID func(i int) uint64) {
	for i := range col.Len() {
		if col.IsNull(i) {
			continue
		}
		v := col.Value(i)
		if v.IsNumeric() && !isInt(v) && math.IsNaN(v.Float()) {
			b.nan.Add(rowID(i))
			continue
		}
		if v.Kind == record.TypeBinary {
			v = record.BinaryValue(bytes.Clone(v.Bytes()))
		}
		b.entries = append(b.entries, entry{key: v, row: rowID(i)})
	}
}

// AddIndex adds the rows of ix for which keep returns true; a nil keep
// adds every row. ix must have the builder's kind.
func (b *Builder) AddIndex(ix *Index, keep func(row uint64) bool) error {
	if ix.kind != b.kind {
		return fmt.Errorf("cannot merge a %s index into a %s index", ix.kind, b.kind)
	}
	it := ix.nan.Iterator()
	for it.HasNext() {
		if row := it.Next(); keep == nil || keep(row) {
			b.nan.Add(row)
		}
	}
	if ix.typ == TypeBTree {
		for i, k := range ix.keys {
			if keep == nil || keep(ix.rows[i]) {
				b.entries = append(b.entries, entry{key: k, row: ix.rows[i]})
			}
		}
		return nil
	}
	for i, k := range ix.keys {
		it := ix.sets[i].Iterator()
		for it.HasNext() {
			if row := it.Next(); keep == nil || keep(row) {
				b.entries = append(b.entries, entry{key: k, row: row})
			}
		}
	}
	return nil
}

// Build sorts the collected entries into an index.
func (b *Builder) Build() *Index {
	slices.SortFunc(b.entries, func(x, y entry) int {
		// Same-kind values always compare.
		if c, _ := record.Compare(x.key, y.key); c != 0 {
			return c
		}
		switch {
		case x.row < y.row:
			return -1
		case x.row > y.row:
			return 1
		}
		return 0
	})
	ix := &Index{typ: b.typ, kind: b.kind, nan: b.nan}
	if b.typ == TypeBTree {
		ix.keys = make([]record.Value, len(b.entries))
		ix.rows = make([]uint64, len(b.entries))
		for i, e := range b.entries {
			ix.keys[i], ix.rows[i] = e.key, e.row
		}
		return ix
	}
	for _, e := range b.entries {
		if n := len(ix.keys); n > 0 && ix.keys[n-1].Equal(e.key) {
			ix.sets[n-1].Add(e.row)
			continue
		}
		ix.keys = append(ix.keys, e.key)
		ix.sets = append(ix.sets, roaring64.BitmapOf(e.row))
	}
	return ix
}

func isInt(v record.Value) bool {
	return v.Kind == record.TypeInt32 || v.Kind == record.TypeInt64
}
