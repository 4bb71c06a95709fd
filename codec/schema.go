package codec

import (
	"github.com/hupe1980/vectable/internal/binenc"
	"github.com/hupe1980/vectable/record"
)

// maxTypeDepth bounds list nesting when decoding untrusted input.
const maxTypeDepth = 32

// EncodeSchema serializes a schema. Field order, nullability and the vector
// column designation are preserved.
func EncodeSchema(s *record.Schema) ([]byte, error) {
	w := binenc.NewWriter(nil)
	writeSchema(w, s)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeSchema reverses EncodeSchema.
func DecodeSchema(data []byte) (*record.Schema, error) {
	r := binenc.NewReader(data)
	s, err := readSchema(r)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, formatErr("%d trailing bytes after schema", r.Remaining())
	}
	return s, nil
}

func writeSchema(w *binenc.Writer, s *record.Schema) {
	w.Len32(s.NumFields())
	for _, f := range s.Fields() {
		w.Str(f.Name)
		w.Bool(f.Nullable)
		writeType(w, f.Type)
	}
	w.Str(s.VectorColumn())
}

func writeType(w *binenc.Writer, t record.DataType) {
	w.U8(uint8(t.ID))
	switch t.ID {
	case record.TypeVector:
		w.Len32(t.Dim)
	case record.TypeList:
		writeType(w, *t.Elem)
	}
}

func readSchema(r *binenc.Reader) (*record.Schema, error) {
	// name length + nullable + type id
	n := r.Len32(6)
	fields := make([]record.Field, 0, n)
	for range n {
		var f record.Field
		f.Name = r.Str()
		f.Nullable = r.Bool()
		t, err := readType(r, 0)
		if err != nil {
			return nil, err
		}
		f.Type = t
		fields = append(fields, f)
	}
	vector := r.Str()
	if err := r.Err(); err != nil {
		return nil, formatErr("schema: %v", err)
	}

	var opts []record.SchemaOption
	if vector != "" {
		opts = append(opts, record.WithVectorColumn(vector))
	}
	s, err := record.NewSchema(fields, opts...)
	if err != nil {
		return nil, formatErr("schema: %v", err)
	}
	return s, nil
}

func readType(r *binenc.Reader, depth int) (record.DataType, error) {
	if depth > maxTypeDepth {
		return record.DataType{}, formatErr("type nesting deeper than %d", maxTypeDepth)
	}
	t := record.DataType{ID: record.TypeID(r.U8())}
	switch t.ID {
	case record.TypeVector:
		t.Dim = int(r.U32())
	case record.TypeList:
		elem, err := readType(r, depth+1)
		if err != nil {
			return record.DataType{}, err
		}
		t.Elem = &elem
	}
	if err := r.Err(); err != nil {
		return record.DataType{}, formatErr("type: %v", err)
	}
	if err := t.Validate(); err != nil {
		return record.DataType{}, formatErr("type: %v", err)
	}
	return t, nil
}
