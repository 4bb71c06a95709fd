package record

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Column is an immutable, typed sequence of values with a null mask.
//
// Storage is by physical kind: Int32 and Int64 share ints, Float32 and
// Float64 share floats, vectors are stored flattened (Len*Dim floats) and
// lists as offsets into a child column.
type Column struct {
	typ     DataType
	n       int
	nulls   *bitset.BitSet
	bools   []bool
	ints    []int64
	floats  []float64
	strs    []string
	bins    [][]byte
	vecs    []float32
	offsets []int32
	child   *Column
}

// ColumnData exposes the physical buffers of a column. It is used by the
// storage codec; callers must not mutate buffers of a live column.
type ColumnData struct {
	Type    DataType
	Len     int
	Nulls   *bitset.BitSet // set bit = null; nil when there are none
	Bools   []bool
	Ints    []int64
	Floats  []float64
	Strings []string
	Binary  [][]byte
	Vectors []float32
	Offsets []int32
	Child   *Column
}

// Data returns the physical buffers of c.
func (c *Column) Data() ColumnData {
	return ColumnData{
		Type:    c.typ,
		Len:     c.n,
		Nulls:   c.nulls,
		Bools:   c.bools,
		Ints:    c.ints,
		Floats:  c.floats,
		Strings: c.strs,
		Binary:  c.bins,
		Vectors: c.vecs,
		Offsets: c.offsets,
		Child:   c.child,
	}
}

// NewColumn assembles a column from physical buffers and checks that their
// lengths agree with d.Len.
func NewColumn(d ColumnData) (*Column, error) {
	if err := d.Type.Validate(); err != nil {
		return nil, err
	}
	c := &Column{typ: d.Type, n: d.Len, nulls: d.Nulls}
	if c.nulls != nil && c.nulls.None() {
		c.nulls = nil
	}

	bad := func(what string, got int) error {
		return fmt.Errorf("%w: %s column with %d rows has %d %s", ErrSchemaMismatch, d.Type, d.Len, got, what)
	}

	switch d.Type.ID {
	case TypeBool:
		if len(d.Bools) != d.Len {
			return nil, bad("bools", len(d.Bools))
		}
		c.bools = d.Bools
	case TypeInt32, TypeInt64:
		if len(d.Ints) != d.Len {
			return nil, bad("ints", len(d.Ints))
		}
		c.ints = d.Ints
	case TypeFloat32, TypeFloat64:
		if len(d.Floats) != d.Len {
			return nil, bad("floats", len(d.Floats))
		}
		c.floats = d.Floats
	case TypeString:
		if len(d.Strings) != d.Len {
			return nil, bad("strings", len(d.Strings))
		}
		c.strs = d.Strings
	case TypeBinary:
		if len(d.Binary) != d.Len {
			return nil, bad("binaries", len(d.Binary))
		}
		c.bins = d.Binary
	case TypeVector:
		if len(d.Vectors) != d.Len*d.Type.Dim {
			return nil, bad("vector floats", len(d.Vectors))
		}
		c.vecs = d.Vectors
	case TypeList:
		if len(d.Offsets) != d.Len+1 || d.Child == nil {
			return nil, bad("offsets", len(d.Offsets))
		}
		if !d.Child.typ.Equal(*d.Type.Elem) {
			return nil, fmt.Errorf("%w: list child has type %s, want %s", ErrSchemaMismatch, d.Child.typ, d.Type.Elem)
		}
		prev := int32(0)
		for _, off := range d.Offsets {
			if off < prev || int(off) > d.Child.n {
				return nil, fmt.Errorf("%w: list offsets out of order or range", ErrSchemaMismatch)
			}
			prev = off
		}
		c.offsets = d.Offsets
		c.child = d.Child
	}
	return c, nil
}

// Int64Column builds a non-null Int64 column.
func Int64Column(vals []int64) *Column {
	return &Column{typ: Int64Type, n: len(vals), ints: vals}
}

// Float32Column builds a non-null Float32 column.
func Float32Column(vals []float32) *Column {
	fs := make([]float64, len(vals))
	for i, v := range vals {
		fs[i] = float64(v)
	}
	return &Column{typ: Float32Type, n: len(vals), floats: fs}
}

// StringColumn builds a non-null String column.
func StringColumn(vals []string) *Column {
	return &Column{typ: StringType, n: len(vals), strs: vals}
}

// VectorColumn builds a non-null vector column from flattened data.
func VectorColumn(dim int, flat []float32) (*Column, error) {
	if dim <= 0 || len(flat)%dim != 0 {
		return nil, fmt.Errorf("%w: %d floats do not form vectors of dimension %d", ErrSchemaMismatch, len(flat), dim)
	}
	return &Column{typ: VectorOf(dim), n: len(flat) / dim, vecs: flat}, nil
}

// ColumnOf builds a column from values.
func ColumnOf(t DataType, vals ...Value) (*Column, error) {
	b := NewColumnBuilder(t)
	for _, v := range vals {
		if err := b.Append(v); err != nil {
			return nil, err
		}
	}
	return b.Finish(), nil
}

func (c *Column) Type() DataType { return c.typ }
func (c *Column) Len() int { return c.n }

// IsNull reports whether row i is null.
func (c *Column) IsNull(i int) bool {
	return c.nulls != nil && c.nulls.Test(uint(i))
}

// NullCount returns the number of null rows.
func (c *Column) NullCount() int {
	if c.nulls == nil {
		return 0
	}
	return int(c.nulls.Count())
}

func (c *Column) Bool(i int) bool { return c.bools[i] }
func (c *Column) Int64(i int) int64 { return c.ints[i] }
func (c *Column) Float64(i int) float64 { return c.floats[i] }
func (c *Column) Str(i int) string { return c.strs[i] }
func (c *Column) Binary(i int) []byte { return c.bins[i] }

// Vector returns row i of a vector column without copying.
func (c *Column) Vector(i int) []float32 {
	d := c.typ.Dim
	return c.vecs[i*d : (i+1)*d : (i+1)*d]
}

// ListBounds returns the child range [start, end) of list row i.
func (c *Column) ListBounds(i int) (int, int) {
	return int(c.offsets[i]), int(c.offsets[i+1])
}

// Child returns the element column of a list column.
func (c *Column) Child() *Column { return c.child }

// Value returns row i as a dynamic value.
func (c *Column) Value(i int) Value {
	if c.IsNull(i) {
		return Null
	}
	switch c.typ.ID {
	case TypeBool:
		return BoolValue(c.bools[i])
	case TypeInt32:
		return Int32Value(int32(c.ints[i]))
	case TypeInt64:
		return Int64Value(c.ints[i])
	case TypeFloat32:
		return Float32Value(float32(c.floats[i]))
	case TypeFloat64:
		return Float64Value(c.floats[i])
	case TypeString:
		return StringValue(c.strs[i])
	case TypeBinary:
		return BinaryValue(c.bins[i])
	case TypeVector:
		return VectorValue(c.Vector(i))
	case TypeList:
		start, end := c.ListBounds(i)
		items := make([]Value, 0, end-start)
		for j := start; j < end; j++ {
			items = append(items, c.child.Value(j))
		}
		return ListValue(items...)
	}
	return Null
}

// Take returns a new column with the rows at idx, in order.
func (c *Column) Take(idx []int) *Column {
	out := &Column{typ: c.typ, n: len(idx)}
	if c.nulls != nil {
		nulls := bitset.New(uint(len(idx)))
		for j, i := range idx {
			if c.nulls.Test(uint(i)) {
				nulls.Set(uint(j))
			}
		}
		if nulls.Any() {
			out.nulls = nulls
		}
	}

	switch c.typ.ID {
	case TypeBool:
		out.bools = gather(c.bools, idx)
	case TypeInt32, TypeInt64:
		out.ints = gather(c.ints, idx)
	case TypeFloat32, TypeFloat64:
		out.floats = gather(c.floats, idx)
	case TypeString:
		out.strs = gather(c.strs, idx)
	case TypeBinary:
		out.bins = gather(c.bins, idx)
	case TypeVector:
		d := c.typ.Dim
		out.vecs = make([]float32, 0, len(idx)*d)
		for _, i := range idx {
			out.vecs = append(out.vecs, c.vecs[i*d:(i+1)*d]...)
		}
	case TypeList:
		out.offsets = make([]int32, 1, len(idx)+1)
		var childIdx []int
		for _, i := range idx {
			start, end := c.ListBounds(i)
			for j := start; j < end; j++ {
				childIdx = append(childIdx, j)
			}
			out.offsets = append(out.offsets, int32(len(childIdx)))
		}
		out.child = c.child.Take(childIdx)
	}
	return out
}

// Slice returns rows [off, off+n).
func (c *Column) Slice(off, n int) *Column {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = off + i
	}
	return c.Take(idx)
}

func gather[T any](src []T, idx []int) []T {
	out := make([]T, len(idx))
	for j, i := range idx {
		out[j] = src[i]
	}
	return out
}

// Equal compares type, nulls and non-null values.
func (c *Column) Equal(o *Column) bool {
	if c.n != o.n || !c.typ.Equal(o.typ) {
		return false
	}
	for i := 0; i < c.n; i++ {
		if c.IsNull(i) != o.IsNull(i) {
			return false
		}
		if c.IsNull(i) {
			continue
		}
		if !c.Value(i).Equal(o.Value(i)) {
			return false
		}
	}
	return true
}

// ColumnBuilder accumulates values for one column.
type ColumnBuilder struct {
	col   *Column
	child *ColumnBuilder
}

// NewColumnBuilder creates a builder for type t.
func NewColumnBuilder(t DataType) *ColumnBuilder {
	b := &ColumnBuilder{col: &Column{typ: t}}
	if t.ID == TypeList {
		b.col.offsets = []int32{0}
		b.child = NewColumnBuilder(*t.Elem)
	}
	return b
}

// Len returns the number of appended rows.
func (b *ColumnBuilder) Len() int { return b.col.n }

// AppendNull appends a null row.
func (b *ColumnBuilder) AppendNull() {
	c := b.col
	if c.nulls == nil {
		c.nulls = bitset.New(uint(c.n + 1))
	}
	c.nulls.Set(uint(c.n))
	b.appendZero()
}

func (b *ColumnBuilder) appendZero() {
	c := b.col
	switch c.typ.ID {
	case TypeBool:
		c.bools = append(c.bools, false)
	case TypeInt32, TypeInt64:
		c.ints = append(c.ints, 0)
	case TypeFloat32, TypeFloat64:
		c.floats = append(c.floats, 0)
	case TypeString:
		c.strs = append(c.strs, "")
	case TypeBinary:
		c.bins = append(c.bins, nil)
	case TypeVector:
		c.vecs = append(c.vecs, make([]float32, c.typ.Dim)...)
	case TypeList:
		c.offsets = append(c.offsets, int32(b.child.Len()))
	}
	c.n++
}

// Append appends v, which must be null or conform to the column type.
func (b *ColumnBuilder) Append(v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	c := b.col
	if !v.Conforms(c.typ) {
		return fmt.Errorf("%w: value of kind %s does not fit column of type %s", ErrSchemaMismatch, v.Kind, c.typ)
	}

	switch c.typ.ID {
	case TypeBool:
		c.bools = append(c.bools, v.b)
	case TypeInt32, TypeInt64:
		c.ints = append(c.ints, v.i)
	case TypeFloat32:
		c.floats = append(c.floats, float64(float32(v.Float())))
	case TypeFloat64:
		c.floats = append(c.floats, v.Float())
	case TypeString:
		c.strs = append(c.strs, v.s)
	case TypeBinary:
		c.bins = append(c.bins, append([]byte(nil), v.bs...))
	case TypeVector:
		c.vecs = append(c.vecs, v.vec...)
	case TypeList:
		for _, item := range v.list {
			if err := b.child.Append(item); err != nil {
				return err
			}
		}
		c.offsets = append(c.offsets, int32(b.child.Len()))
	}
	c.n++
	return nil
}

// AppendFloat32 is a fast path for Float32 columns.
func (b *ColumnBuilder) AppendFloat32(f float32) {
	b.col.floats = append(b.col.floats, float64(f))
	b.col.n++
}

// Finish returns the built column. The builder must not be used afterwards.
func (b *ColumnBuilder) Finish() *Column {
	c := b.col
	if b.child != nil {
		c.child = b.child.Finish()
	}
	if c.nulls != nil && c.nulls.None() {
		c.nulls = nil
	}
	return c
}
