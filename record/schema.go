package record

import (
	"fmt"
	"slices"
	"strings"
)

// Field is a named, typed column description.
type Field struct {
	Name     string
	Type     DataType
	Nullable bool
}

func (f Field) String() string {
	if f.Nullable {
		return fmt.Sprintf("%s: %s (nullable)", f.Name, f.Type)
	}
	return fmt.Sprintf("%s: %s", f.Name, f.Type)
}

// Schema is an ordered, immutable list of fields with an optional designated
// vector column.
type Schema struct {
	fields []Field
	index  map[string]int
	vector string
}

// SchemaOption configures NewSchema.
type SchemaOption func(*Schema)

// WithVectorColumn designates the vector column used by vector search.
func WithVectorColumn(name string) SchemaOption {
	return func(s *Schema) {
		s.vector = name
	}
}

// NewSchema validates and builds a schema. Without WithVectorColumn the first
// vector-typed field, if any, is the vector column.
func NewSchema(fields []Field, opts ...SchemaOption) (*Schema, error) {
	s := &Schema{
		fields: append([]Field(nil), fields...),
		index:  make(map[string]int, len(fields)),
	}
	for _, opt := range opts {
		opt(s)
	}

	for i, f := range s.fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: field %d has no name", ErrInvalidSchema, i)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
		}
		if err := f.Type.Validate(); err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		s.index[f.Name] = i
	}

	if s.vector != "" {
		i, ok := s.index[s.vector]
		if !ok {
			return nil, fmt.Errorf("%w: vector column %q does not exist", ErrInvalidSchema, s.vector)
		}
		if s.fields[i].Type.ID != TypeVector {
			return nil, fmt.Errorf("%w: vector column %q has type %s", ErrInvalidSchema, s.vector, s.fields[i].Type)
		}
	} else {
		for _, f := range s.fields {
			if f.Type.ID == TypeVector {
				s.vector = f.Name
				break
			}
		}
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error. Intended for tests and
// package-level variables.
func MustSchema(fields []Field, opts ...SchemaOption) *Schema {
	s, err := NewSchema(fields, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// NumFields returns the number of fields.
func (s *Schema) NumFields() int { return len(s.fields) }

// Field returns the i-th field.
func (s *Schema) Field(i int) Field { return s.fields[i] }

// Fields returns a copy of the fields.
func (s *Schema) Fields() []Field { return append([]Field(nil), s.fields...) }

// FieldIndex returns the position of the named field or -1.
func (s *Schema) FieldIndex(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// FieldByName returns the named field.
func (s *Schema) FieldByName(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// VectorColumn returns the designated vector column name, or "".
func (s *Schema) VectorColumn() string { return s.vector }

// Select returns a schema with only the named fields, in the given order.
func (s *Schema) Select(names ...string) (*Schema, error) {
	fields := make([]Field, 0, len(names))
	for _, n := range names {
		f, ok := s.FieldByName(n)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, n)
		}
		fields = append(fields, f)
	}
	var opts []SchemaOption
	if _, ok := s.index[s.vector]; ok && slices.Contains(names, s.vector) {
		opts = append(opts, WithVectorColumn(s.vector))
	}
	return NewSchema(fields, opts...)
}

// Without returns a schema without the named fields.
func (s *Schema) Without(names ...string) *Schema {
	keep := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		if !slices.Contains(names, f.Name) {
			keep = append(keep, f.Name)
		}
	}
	out, _ := s.Select(keep...)
	return out
}

// Append returns a schema with f added at the end.
func (s *Schema) Append(f Field) (*Schema, error) {
	var opts []SchemaOption
	if s.vector != "" {
		opts = append(opts, WithVectorColumn(s.vector))
	}
	return NewSchema(append(s.Fields(), f), opts...)
}

// Equal reports whether both schemas have identical fields and vector column.
func (s *Schema) Equal(o *Schema) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || len(s.fields) != len(o.fields) || s.vector != o.vector {
		return false
	}
	for i, f := range s.fields {
		g := o.fields[i]
		if f.Name != g.Name || f.Nullable != g.Nullable || !f.Type.Equal(g.Type) {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.String()
	}
	return "schema{" + strings.Join(parts, ", ") + "}"
}
