package record

import (
	"fmt"
	"strings"
)

// Batch is an immutable set of equal-length columns with a schema.
type Batch struct {
	schema *Schema
	cols   []*Column
	rows   int
}

// NewBatch checks that cols match the schema and builds a batch.
func NewBatch(schema *Schema, cols []*Column) (*Batch, error) {
	if len(cols) != schema.NumFields() {
		return nil, fmt.Errorf("%w: %d columns for %d fields", ErrSchemaMismatch, len(cols), schema.NumFields())
	}
	rows := 0
	for i, c := range cols {
		f := schema.Field(i)
		if !c.Type().Equal(f.Type) {
			return nil, fmt.Errorf("%w: column %q has type %s, want %s", ErrSchemaMismatch, f.Name, c.Type(), f.Type)
		}
		if i == 0 {
			rows = c.Len()
		} else if c.Len() != rows {
			return nil, fmt.Errorf("%w: column %q has %d rows, want %d", ErrSchemaMismatch, f.Name, c.Len(), rows)
		}
		if !f.Nullable && c.NullCount() > 0 {
			return nil, fmt.Errorf("%w: non-nullable column %q contains nulls", ErrSchemaMismatch, f.Name)
		}
	}
	return &Batch{schema: schema, cols: cols, rows: rows}, nil
}

// EmptyBatch returns a zero-row batch of the schema.
func EmptyBatch(schema *Schema) *Batch {
	cols := make([]*Column, schema.NumFields())
	for i := range cols {
		cols[i] = NewColumnBuilder(schema.Field(i).Type).Finish()
	}
	return &Batch{schema: schema, cols: cols}
}

func (b *Batch) Schema() *Schema { return b.schema }
func (b *Batch) NumRows() int { return b.rows }
func (b *Batch) NumCols() int { return len(b.cols) }
func (b *Batch) Column(i int) *Column { return b.cols[i] }

// ColumnByName returns the named column.
func (b *Batch) ColumnByName(name string) (*Column, error) {
	i := b.schema.FieldIndex(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	return b.cols[i], nil
}

// Row returns row i as values in schema order.
func (b *Batch) Row(i int) []Value {
	row := make([]Value, len(b.cols))
	for j, c := range b.cols {
		row[j] = c.Value(i)
	}
	return row
}

// Take returns the rows at idx.
func (b *Batch) Take(idx []int) *Batch {
	cols := make([]*Column, len(b.cols))
	for i, c := range b.cols {
		cols[i] = c.Take(idx)
	}
	return &Batch{schema: b.schema, cols: cols, rows: len(idx)}
}

// Slice returns rows [off, off+n), clamped to the batch.
func (b *Batch) Slice(off, n int) *Batch {
	off = min(max(off, 0), b.rows)
	n = min(max(n, 0), b.rows-off)
	cols := make([]*Column, len(b.cols))
	for i, c := range b.cols {
		cols[i] = c.Slice(off, n)
	}
	return &Batch{schema: b.schema, cols: cols, rows: n}
}

// Project returns a batch with only the named columns, in the given order.
func (b *Batch) Project(names ...string) (*Batch, error) {
	schema, err := b.schema.Select(names...)
	if err != nil {
		return nil, err
	}
	cols := make([]*Column, len(names))
	for i, n := range names {
		cols[i] = b.cols[b.schema.FieldIndex(n)]
	}
	return &Batch{schema: schema, cols: cols, rows: b.rows}, nil
}

// Without returns a batch without the named columns.
func (b *Batch) Without(names ...string) *Batch {
	schema := b.schema.Without(names...)
	cols := make([]*Column, 0, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		cols = append(cols, b.cols[b.schema.FieldIndex(schema.Field(i).Name)])
	}
	return &Batch{schema: schema, cols: cols, rows: b.rows}
}

// WithColumn returns a batch with c appended as field f.
func (b *Batch) WithColumn(f Field, c *Column) (*Batch, error) {
	schema, err := b.schema.Append(f)
	if err != nil {
		return nil, err
	}
	cols := append(append([]*Column(nil), b.cols...), c)
	return NewBatch(schema, cols)
}

// Concat appends batches sharing one schema.
func Concat(schema *Schema, batches ...*Batch) (*Batch, error) {
	builders := make([]*ColumnBuilder, schema.NumFields())
	for i := range builders {
		builders[i] = NewColumnBuilder(schema.Field(i).Type)
	}
	for _, bt := range batches {
		if !bt.schema.Equal(schema) {
			return nil, fmt.Errorf("%w: cannot concatenate %s onto %s", ErrSchemaMismatch, bt.schema, schema)
		}
		for r := 0; r < bt.rows; r++ {
			for i, c := range bt.cols {
				if err := builders[i].Append(c.Value(r)); err != nil {
					return nil, err
				}
			}
		}
	}
	cols := make([]*Column, len(builders))
	for i, cb := range builders {
		cols[i] = cb.Finish()
	}
	return NewBatch(schema, cols)
}

// Equal reports whether both batches have the same schema and values.
func (b *Batch) Equal(o *Batch) bool {
	if b.rows != o.rows || !b.schema.Equal(o.schema) {
		return false
	}
	for i, c := range b.cols {
		if !c.Equal(o.cols[i]) {
			return false
		}
	}
	return true
}

// String renders up to ten rows for debugging.
func (b *Batch) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "batch(%d rows) %s\n", b.rows, b.schema)
	for r := 0; r < min(b.rows, 10); r++ {
		vals := b.Row(r)
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = v.String()
		}
		sb.WriteString("  ")
		sb.WriteString(strings.Join(parts, " | "))
		sb.WriteByte('\n')
	}
	if b.rows > 10 {
		fmt.Fprintf(&sb, "  ... %d more\n", b.rows-10)
	}
	return sb.String()
}

// Builder assembles a batch row by row.
type Builder struct {
	schema *Schema
	cols   []*ColumnBuilder
}

// NewBuilder returns a row builder for schema.
func NewBuilder(schema *Schema) *Builder {
	b := &Builder{schema: schema}
	b.Reset()
	return b
}

// Reset discards all appended rows.
func (b *Builder) Reset() {
	b.cols = make([]*ColumnBuilder, b.schema.NumFields())
	for i := range b.cols {
		b.cols[i] = NewColumnBuilder(b.schema.Field(i).Type)
	}
}

// Len returns the number of appended rows.
func (b *Builder) Len() int {
	if len(b.cols) == 0 {
		return 0
	}
	return b.cols[0].Len()
}

// Append adds one row. The row is rejected as a whole if any value does not
// fit its field.
func (b *Builder) Append(vals ...Value) error {
	if len(vals) != len(b.cols) {
		return fmt.Errorf("%w: row has %d values for %d fields", ErrSchemaMismatch, len(vals), len(b.cols))
	}
	for i, v := range vals {
		f := b.schema.Field(i)
		if v.IsNull() {
			if !f.Nullable {
				return fmt.Errorf("%w: null in non-nullable field %q", ErrSchemaMismatch, f.Name)
			}
			continue
		}
		if !v.Conforms(f.Type) {
			return fmt.Errorf("%w: field %q of type %s got %s", ErrSchemaMismatch, f.Name, f.Type, v.Kind)
		}
	}
	for i, v := range vals {
		if err := b.cols[i].Append(v); err != nil {
			return err
		}
	}
	return nil
}

// Build returns the batch and resets the builder.
func (b *Builder) Build() (*Batch, error) {
	cols := make([]*Column, len(b.cols))
	for i, cb := range b.cols {
		cols[i] = cb.Finish()
	}
	b.Reset()
	return NewBatch(b.schema, cols)
}
