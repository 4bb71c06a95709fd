package testutil

import (
	"fmt"

	"github.com/hupe1980/vectable/record"
)

// ItemSchema returns the schema used by ItemBatch.
func ItemSchema(dim int) *record.Schema {
	return record.MustSchema([]record.Field{
		{Name: "id", Type: record.Int64Type},
		{Name: "category", Type: record.StringType, Nullable: true},
		{Name: "price", Type: record.Float64Type},
		{Name: "vector", Type: record.VectorOf(dim), Nullable: true},
	})
}

// ItemBatch builds a batch with one row per vector. Row i has id firstID+i,
// category "c<id%3>" and price id/2.
func ItemBatch(vectors [][]float32, firstID int64) *record.Batch {
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	b := record.NewBuilder(ItemSchema(dim))
	for i, v := range vectors {
		id := firstID + int64(i)
		err := b.Append(
			record.Int64Value(id),
			record.StringValue(fmt.Sprintf("c%d", id%3)),
			record.Float64Value(float64(id)/2),
			record.VectorValue(v),
		)
		if err != nil {
			panic(err)
		}
	}
	batch, err := b.Build()
	if err != nil {
		panic(err)
	}
	return batch
}

// Int64s returns the named Int64 column of b as a slice.
func Int64s(b *record.Batch, name string) []int64 {
	col, err := b.ColumnByName(name)
	if err != nil {
		panic(err)
	}
	out := make([]int64, col.Len())
	for i := range out {
		out[i] = col.Int64(i)
	}
	return out
}

// Float32s returns the named Float32 column of b as a slice.
func Float32s(b *record.Batch, name string) []float32 {
	col, err := b.ColumnByName(name)
	if err != nil {
		panic(err)
	}
	out := make([]float32, col.Len())
	for i := range out {
		out[i] = float32(col.Float64(i))
	}
	return out
}
