package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectable/record"
)

func allTypesBatch(t *testing.T, rows int) *record.Batch {
	t.Helper()
	schema := record.MustSchema([]record.Field{
		{Name: "b", Type: record.BoolType, Nullable: true},
		{Name: "i32", Type: record.Int32Type},
		{Name: "i64", Type: record.Int64Type, Nullable: true},
		{Name: "f32", Type: record.Float32Type},
		{Name: "f64", Type: record.Float64Type, Nullable: true},
		{Name: "s", Type: record.StringType, Nullable: true},
		{Name: "bin", Type: record.BinaryType, Nullable: true},
		{Name: "vec", Type: record.VectorOf(3)},
		{Name: "tags", Type: record.ListOf(record.StringType), Nullable: true},
		{Name: "nested", Type: record.ListOf(record.ListOf(record.Int64Type)), Nullable: true},
	})

	bld := record.NewBuilder(schema)
	for i := range rows {
		null := func(v record.Value) record.Value {
			if i%4 == 3 {
				return record.Null
			}
			return v
		}
		require.NoError(t, bld.Append(
			null(record.BoolValue(i%2 == 0)),
			record.Int32Value(int32(i-rows/2)),
			null(record.Int64Value(int64(i)*1_000_000_007)),
			record.Float32Value(float32(i)*0.5),
			null(record.Float64Value(math.Pi*float64(i))),
			null(record.StringValue(fmt.Sprintf("row-%d", i))),
			null(record.BinaryValue([]byte{byte(i), 0, byte(i >> 8)})),
			record.VectorValue([]float32{float32(i), -float32(i), 0.25}),
			null(record.ListValue(record.StringValue("a"), record.StringValue(fmt.Sprint(i)))),
			null(record.ListValue(
				record.ListValue(record.Int64Value(int64(i))),
				record.ListValue(),
			)),
		))
	}
	b, err := bld.Build()
	require.NoError(t, err)
	return b
}

func TestRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			in := allTypesBatch(t, 257)

			data, err := Encode(in, WithCompression(c))
			require.NoError(t, err)

			h, err := ReadHeader(data)
			require.NoError(t, err)
			assert.Equal(t, FormatVersion, h.Version)
			assert.Equal(t, c, h.Compression)
			assert.Equal(t, uint32(257), h.Rows)
			assert.Equal(t, uint32(10), h.Columns)

			out, err := Decode(data)
			require.NoError(t, err)
			assert.True(t, in.Schema().Equal(out.Schema()))
			assert.True(t, in.Equal(out), "decoded batch differs:\n%s\n%s", in, out)
			assert.Equal(t, in.Column(2).NullCount(), out.Column(2).NullCount())
		})
	}
}

func TestRoundTrip_Empty(t *testing.T) {
	in := record.EmptyBatch(record.MustSchema([]record.Field{
		{Name: "id", Type: record.Int64Type},
		{Name: "vec", Type: record.VectorOf(8)},
	}))
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 0, out.NumRows())
	assert.Equal(t, "vec", out.Schema().VectorColumn())
}

func TestRoundTrip_CompressibleColumns(t *testing.T) {
	schema := record.MustSchema([]record.Field{{Name: "x", Type: record.Int64Type}})
	vals := make([]int64, 10_000)
	b, err := record.NewBatch(schema, []*record.Column{record.Int64Column(vals)})
	require.NoError(t, err)

	raw, err := Encode(b, WithCompression(CompressionNone))
	require.NoError(t, err)
	packed, err := Encode(b, WithCompression(CompressionZSTD))
	require.NoError(t, err)
	assert.Less(t, len(packed), len(raw)/10)

	out, err := Decode(packed)
	require.NoError(t, err)
	assert.True(t, b.Equal(out))
}

func TestSchemaRoundTrip(t *testing.T) {
	s := record.MustSchema([]record.Field{
		{Name: "a", Type: record.VectorOf(4)},
		{Name: "b", Type: record.VectorOf(2), Nullable: true},
		{Name: "c", Type: record.ListOf(record.Float32Type)},
	}, record.WithVectorColumn("b"))

	data, err := EncodeSchema(s)
	require.NoError(t, err)
	got, err := DecodeSchema(data)
	require.NoError(t, err)
	assert.True(t, s.Equal(got))
	assert.Equal(t, "b", got.VectorColumn())

	_, err = DecodeSchema(append(data, 0))
	assert.ErrorIs(t, err, ErrFormat)
	_, err = DecodeSchema(data[:len(data)-3])
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecode_Corruption(t *testing.T) {
	good, err := Encode(allTypesBatch(t, 16))
	require.NoError(t, err)

	corrupt := func(fn func([]byte) []byte) []byte {
		return fn(append([]byte(nil), good...))
	}

	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"empty", nil, ErrFormat},
		{"short header", good[:HeaderSize-1], ErrFormat},
		{"bad magic", corrupt(func(b []byte) []byte { b[0] = 'X'; return b }), ErrFormat},
		{"future version", corrupt(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[4:], FormatVersion+1)
			return b
		}), ErrUnsupportedVersion},
		{"unknown compression", corrupt(func(b []byte) []byte { b[8] = 9; return b }), ErrFormat},
		{"truncated body", good[:len(good)-1], ErrFormat},
		{"flipped body byte", corrupt(func(b []byte) []byte { b[len(b)-5] ^= 0xff; return b }), ErrChecksum},
		{"wrong checksum", corrupt(func(b []byte) []byte { b[28] ^= 1; return b }), ErrChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDecode_RowCountMismatch(t *testing.T) {
	data, err := Encode(allTypesBatch(t, 4), WithCompression(CompressionNone))
	require.NoError(t, err)

	// The checksum covers the body only.
	binary.LittleEndian.PutUint32(data[12:], 5)
	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, CompressionZSTD, c)

	c, err = ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)

	_, err = ParseCompression("snappy")
	assert.Error(t, err)
}

func TestCompressDecompress(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 1000)
	for _, c := range []Compression{CompressionLZ4, CompressionZSTD} {
		packed, err := Compress(c, data)
		require.NoError(t, err)
		got, err := Decompress(c, packed, len(data))
		require.NoError(t, err)
		assert.Equal(t, data, got)

		_, err = Decompress(c, packed, len(data)+1)
		assert.ErrorIs(t, err, ErrFormat)
	}
}
