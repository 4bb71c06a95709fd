package ffi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectable"
	"github.com/hupe1980/vectable/codec"
	"github.com/hupe1980/vectable/testutil"
)

const dim = 4

func encodedItems(t *testing.T, rng *testutil.RNG, n int, firstID int64) []byte {
	t.Helper()
	data, err := codec.Encode(testutil.ItemBatch(rng.UniformVectors(n, dim), firstID))
	require.NoError(t, err)
	return data
}

func drain(t *testing.T, it Handle) int {
	t.Helper()
	rows := 0
	for {
		data := IteratorNext(it)
		if data == nil {
			require.Equal(t, int32(vectable.KindOK), LastErrorCode(), LastError())
			return rows
		}
		b, err := codec.Decode(data)
		require.NoError(t, err)
		rows += b.NumRows()
	}
}

func TestTableRoundTrip(t *testing.T) {
	rng := testutil.NewRNG(1)
	conn := CreateConnection(vectable.MemoryURI)
	require.NotZero(t, conn, LastError())
	defer FreeConnection(conn)

	tbl := CreateTable(conn, "items", encodedItems(t, rng, 20, 0))
	require.NotZero(t, tbl, LastError())

	assert.Equal(t, Success, TableAdd(tbl, encodedItems(t, rng, 10, 20), false))
	assert.Equal(t, int64(30), TableCountRows(tbl, ""))
	assert.Equal(t, int64(5), TableDelete(tbl, "id < 5"))
	assert.Equal(t, int64(25), TableCountRows(tbl, ""))
	assert.Contains(t, TableDisplay(tbl), "Table(items")

	schema, err := codec.DecodeSchema(TableSchema(tbl))
	require.NoError(t, err)
	assert.True(t, schema.Equal(testutil.ItemSchema(dim)))

	other := OpenTable(conn, "items")
	require.NotZero(t, other)
	assert.Equal(t, int64(25), TableCountRows(other, ""))
	assert.Zero(t, FreeTable(other))

	assert.Zero(t, FreeTable(tbl))
}

func TestQueries(t *testing.T) {
	rng := testutil.NewRNG(2)
	conn := CreateConnection(vectable.MemoryURI)
	require.NotZero(t, conn)
	defer FreeConnection(conn)
	tbl := CreateTable(conn, "items", encodedItems(t, rng, 50, 0))
	require.NotZero(t, tbl)
	defer FreeTable(tbl)

	q := TableQuery(tbl)
	require.NotZero(t, q)
	assert.Zero(t, SetFilter(q, "id >= 10"))
	assert.Zero(t, SetLimit(q, 15))
	assert.Equal(t, int32(-1), SetDistanceType(q, "cosine"))
	it := ExecuteQuery(q)
	require.NotZero(t, it, LastError())
	assert.Zero(t, FreeQuery(q))
	assert.Equal(t, 15, drain(t, it))
	assert.Zero(t, FreeIterator(it))

	vq := TableVectorSearch(tbl, rng.UniformVectors(1, dim)[0])
	require.NotZero(t, vq)
	assert.Zero(t, SetDistanceType(vq, "cosine"))
	assert.Equal(t, int32(-1), SetDistanceType(vq, "hamming"))
	assert.Zero(t, SetLimit(vq, 3))
	it = ExecuteQuery(vq)
	require.NotZero(t, it, LastError())
	assert.Equal(t, 3, drain(t, it))
	assert.Zero(t, FreeIterator(it))
	assert.Zero(t, FreeQuery(vq))

	bad := TableVectorSearch(tbl, []float32{1})
	require.NotZero(t, bad)
	assert.Zero(t, ExecuteQuery(bad))
	assert.Equal(t, int32(vectable.KindDimensionMismatch), LastErrorCode())
	assert.Zero(t, FreeQuery(bad))
}

func TestErrorsAndStaleHandles(t *testing.T) {
	rng := testutil.NewRNG(3)
	conn := CreateConnection(vectable.MemoryURI)
	require.NotZero(t, conn)

	assert.Zero(t, OpenTable(conn, "missing"))
	assert.Equal(t, int32(vectable.KindNotFound), LastErrorCode())
	assert.NotEmpty(t, LastError())

	tbl := CreateTable(conn, "items", encodedItems(t, rng, 5, 0))
	require.NotZero(t, tbl)
	assert.Zero(t, CreateTable(conn, "items", encodedItems(t, rng, 5, 0)))
	assert.Equal(t, int32(vectable.KindAlreadyExists), LastErrorCode())

	assert.Zero(t, CreateTable(conn, "garbage", []byte("not a batch")))
	assert.Equal(t, int32(vectable.KindFormat), LastErrorCode())

	msg := TableAdd(tbl, encodedItems(t, testutil.NewRNG(4), 2, 0)[:10], false)
	assert.NotEqual(t, Success, msg)
	assert.Equal(t, int64(-1), TableCountRows(tbl, "nope = 1"))
	assert.Equal(t, int32(vectable.KindInvalidArgument), LastErrorCode())

	// Freed handles are rejected, including a second free.
	assert.Zero(t, FreeTable(tbl))
	assert.Equal(t, int32(-1), FreeTable(tbl))
	assert.Equal(t, int64(-1), TableCountRows(tbl, ""))
	assert.Nil(t, TableSchema(tbl))
	assert.Zero(t, TableQuery(tbl))
	assert.Equal(t, int32(-1), SetLimit(Handle(12345), 1))
	assert.Nil(t, IteratorNext(Handle(12345)))

	assert.Zero(t, FreeConnection(conn))
	assert.Equal(t, int32(-1), FreeConnection(conn))
	assert.Zero(t, CreateConnection("ftp://nowhere"))
	assert.Equal(t, int32(vectable.KindInvalidArgument), LastErrorCode())
}
