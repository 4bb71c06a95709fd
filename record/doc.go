// Package record is the columnar data model of the store.
//
// A Batch is an immutable set of equal-length columns described by a Schema.
// Batches are what callers add to tables and what queries return. The
// storage codec serializes them to and from bytes.
//
// Supported types are Bool, Int32, Int64, Float32, Float64, String, Binary,
// fixed-dimension float32 vectors and variable-length lists of any of these
// (lists may nest). Every field may be nullable.
//
// Batches are usually built row by row:
//
//	schema, _ := record.NewSchema([]record.Field{
//	    {Name: "id", Type: record.Int64Type},
//	    {Name: "vec", Type: record.VectorOf(3)},
//	})
//	b := record.NewBuilder(schema)
//	_ = b.Append(record.Int64Value(1), record.VectorValue([]float32{1, 0, 0}))
//	batch, _ := b.Build()
package record
