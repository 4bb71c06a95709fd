package codec

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/vectable/internal/binenc"
	"github.com/hupe1980/vectable/record"
)

// Column payload:
//
//	rows u32 | has nulls u8 | [null bitmap blob]
//	values, by physical kind:
//	  bool     one byte per row
//	  int32    u32 per row
//	  int64    u64 per row
//	  float32  f32 per row
//	  float64  f64 per row
//	  string   rows+1 u32 offsets | bytes
//	  binary   rows+1 u32 offsets | bytes
//	  vector   rows*dim f32
//	  list     rows+1 u32 offsets | child column payload

func writeColumn(w *binenc.Writer, c *record.Column) {
	d := c.Data()
	w.Len32(d.Len)
	if d.Nulls != nil && d.Nulls.Any() {
		bm, err := d.Nulls.MarshalBinary()
		if err != nil {
			w.Fail(err)
			return
		}
		w.U8(1)
		w.Blob(bm)
	} else {
		w.U8(0)
	}

	switch d.Type.ID {
	case record.TypeBool:
		for _, v := range d.Bools {
			w.Bool(v)
		}
	case record.TypeInt32:
		for _, v := range d.Ints {
			w.U32(uint32(int32(v)))
		}
	case record.TypeInt64:
		for _, v := range d.Ints {
			w.U64(uint64(v))
		}
	case record.TypeFloat32:
		for _, v := range d.Floats {
			w.F32(float32(v))
		}
	case record.TypeFloat64:
		for _, v := range d.Floats {
			w.F64(v)
		}
	case record.TypeString:
		off := 0
		w.U32(0)
		for _, s := range d.Strings {
			off += len(s)
			w.Len32(off)
		}
		for _, s := range d.Strings {
			w.Raw([]byte(s))
		}
	case record.TypeBinary:
		off := 0
		w.U32(0)
		for _, b := range d.Binary {
			off += len(b)
			w.Len32(off)
		}
		for _, b := range d.Binary {
			w.Raw(b)
		}
	case record.TypeVector:
		for _, v := range d.Vectors {
			w.F32(v)
		}
	case record.TypeList:
		for _, off := range d.Offsets {
			w.U32(uint32(off))
		}
		writeColumn(w, d.Child)
	}
}

// enough reports whether r holds n items of size bytes, failing r otherwise.
func enough(r *binenc.Reader, n, size int) bool {
	if n < 0 || size > 0 && n > r.Remaining()/size {
		r.Fail(formatErr("column payload truncated"))
		return false
	}
	return true
}

func readColumn(r *binenc.Reader, t record.DataType, depth int) (*record.Column, error) {
	if depth > maxTypeDepth {
		return nil, formatErr("list nesting deeper than %d", maxTypeDepth)
	}
	d := record.ColumnData{Type: t, Len: int(r.U32())}
	if r.U8() == 1 {
		bm := r.Blob()
		if r.Err() == nil {
			d.Nulls = &bitset.BitSet{}
			if err := d.Nulls.UnmarshalBinary(bm); err != nil {
				return nil, formatErr("null bitmap: %v", err)
			}
			if i, ok := d.Nulls.NextSet(uint(d.Len)); ok {
				return nil, formatErr("null bitmap marks row %d of %d", i, d.Len)
			}
		}
	}

	n := d.Len
	switch t.ID {
	case record.TypeBool:
		if enough(r, n, 1) {
			d.Bools = make([]bool, n)
			for i := range d.Bools {
				d.Bools[i] = r.Bool()
			}
		}
	case record.TypeInt32:
		if enough(r, n, 4) {
			d.Ints = make([]int64, n)
			for i := range d.Ints {
				d.Ints[i] = int64(int32(r.U32()))
			}
		}
	case record.TypeInt64:
		if enough(r, n, 8) {
			d.Ints = make([]int64, n)
			for i := range d.Ints {
				d.Ints[i] = int64(r.U64())
			}
		}
	case record.TypeFloat32:
		if enough(r, n, 4) {
			d.Floats = make([]float64, n)
			for i := range d.Floats {
				d.Floats[i] = float64(r.F32())
			}
		}
	case record.TypeFloat64:
		if enough(r, n, 8) {
			d.Floats = make([]float64, n)
			for i := range d.Floats {
				d.Floats[i] = r.F64()
			}
		}
	case record.TypeString, record.TypeBinary:
		offs := readOffsets(r, n)
		if offs == nil {
			break
		}
		data := r.Raw(int(offs[n]))
		if r.Err() != nil {
			break
		}
		if t.ID == record.TypeString {
			d.Strings = make([]string, n)
			for i := range d.Strings {
				d.Strings[i] = string(data[offs[i]:offs[i+1]])
			}
		} else {
			d.Binary = make([][]byte, n)
			for i := range d.Binary {
				d.Binary[i] = append([]byte(nil), data[offs[i]:offs[i+1]]...)
			}
		}
	case record.TypeVector:
		if t.Dim > 0 && n > 0 && n > r.Remaining()/4/t.Dim {
			r.Fail(formatErr("vector payload truncated"))
			break
		}
		d.Vectors = make([]float32, n*t.Dim)
		for i := range d.Vectors {
			d.Vectors[i] = r.F32()
		}
	case record.TypeList:
		offs := readOffsets(r, n)
		if offs == nil {
			break
		}
		child, err := readColumn(r, *t.Elem, depth+1)
		if err != nil {
			return nil, err
		}
		d.Offsets = make([]int32, len(offs))
		for i, o := range offs {
			if o > 1<<31-1 {
				return nil, formatErr("list offset %d overflows", o)
			}
			d.Offsets[i] = int32(o)
		}
		d.Child = child
	default:
		return nil, formatErr("unsupported type %s", t)
	}

	if err := r.Err(); err != nil {
		return nil, formatErr("%s column: %v", t, err)
	}
	col, err := record.NewColumn(d)
	if err != nil {
		return nil, formatErr("%v", err)
	}
	return col, nil
}

// readOffsets reads n+1 monotonically non-decreasing offsets starting at 0.
func readOffsets(r *binenc.Reader, n int) []uint32 {
	if !enough(r, n+1, 4) {
		return nil
	}
	offs := make([]uint32, n+1)
	for i := range offs {
		offs[i] = r.U32()
		if i == 0 && offs[0] != 0 || i > 0 && offs[i] < offs[i-1] {
			r.Fail(formatErr("offsets not monotonic"))
			return nil
		}
	}
	if r.Err() != nil {
		return nil
	}
	return offs
}
