package engine

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectable/blobstore"
	"github.com/hupe1980/vectable/index"
	"github.com/hupe1980/vectable/record"
	"github.com/hupe1980/vectable/testutil"
)

const testDim = 8

func newTestTable(t *testing.T, opts ...Option) (*Table, blobstore.BlobStore) {
	t.Helper()
	store := blobstore.NewMemoryStore()
	tbl, err := Create(context.Background(), store, "items", testutil.ItemSchema(testDim), nil, ModeCreate, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl, store
}

func addItems(t *testing.T, tbl *Table, rng *testutil.RNG, n int, firstID int64) [][]float32 {
	t.Helper()
	vecs := rng.UniformVectors(n, testDim)
	_, err := tbl.Add(context.Background(), testutil.ItemBatch(vecs, firstID), WriteAppend)
	require.NoError(t, err)
	return vecs
}

func countRows(t *testing.T, tbl *Table, filter string) int {
	t.Helper()
	n, err := tbl.CountRows(context.Background(), filter)
	require.NoError(t, err)
	return n
}

func TestCreateAndOpen(t *testing.T) {
	ctx := context.Background()
	tbl, store := newTestTable(t)

	assert.Equal(t, uint64(1), tbl.Version())
	assert.Equal(t, "items", tbl.Name())
	assert.True(t, tbl.Schema().Equal(testutil.ItemSchema(testDim)))

	_, err := Create(ctx, store, "items", testutil.ItemSchema(testDim), nil, ModeCreate)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	same, err := Create(ctx, store, "items", testutil.ItemSchema(testDim), nil, ModeExistOK)
	require.NoError(t, err)
	assert.Equal(t, tbl.Version(), same.Version())
	require.NoError(t, same.Close())

	_, err = Create(ctx, store, "items", testutil.ItemSchema(4), nil, ModeExistOK)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = Open(ctx, store, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	reserved := record.MustSchema([]record.Field{{Name: "_x", Type: record.Int64Type}})
	_, err = Create(ctx, store, "bad", reserved, nil, ModeCreate)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	exists, err := Exists(ctx, store, "items")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateWithData(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	data := testutil.ItemBatch(testutil.NewRNG(1).UniformVectors(10, testDim), 0)

	tbl, err := Create(ctx, store, "items", nil, data, ModeCreate)
	require.NoError(t, err)
	defer tbl.Close()

	assert.Equal(t, 10, countRows(t, tbl, ""))

	reopened, err := Open(ctx, store, "items")
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 10, countRows(t, reopened, ""))
	assert.Equal(t, tbl.Version(), reopened.Version())
}

func TestCountRowsArithmetic(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	rng := testutil.NewRNG(42)

	addItems(t, tbl, rng, 100, 0)
	addItems(t, tbl, rng, 50, 100)
	assert.Equal(t, 150, countRows(t, tbl, ""))
	assert.Equal(t, uint64(3), tbl.Version())

	n, err := tbl.Delete(ctx, "id < 30")
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	assert.Equal(t, 120, countRows(t, tbl, ""))
	assert.Equal(t, uint64(4), tbl.Version())

	// Deleting nothing commits nothing.
	n, err = tbl.Delete(ctx, "id > 10000")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, uint64(4), tbl.Version())

	// A whole fragment disappears.
	n, err = tbl.Delete(ctx, "id >= 100")
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.Equal(t, 70, countRows(t, tbl, ""))
	assert.Equal(t, 1, tbl.Stats().NumFragments)

	assert.Equal(t, 24, countRows(t, tbl, "category = 'c0'"))
	assert.Equal(t, 10, countRows(t, tbl, "id BETWEEN 30 AND 39"))

	_, err = tbl.Delete(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = tbl.CountRows(ctx, "nope = 1")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAddValidation(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)

	other := testutil.ItemBatch(testutil.NewRNG(1).UniformVectors(3, 4), 0)
	_, err := tbl.Add(ctx, other, WriteAppend)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	// An empty append is a no-op.
	v, err := tbl.Add(ctx, record.EmptyBatch(tbl.Schema()), WriteAppend)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	for _, mode := range []WriteMode{WriteAppend, WriteOverwrite} {
		_, err = tbl.Add(ctx, nil, mode)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
	assert.Equal(t, uint64(1), tbl.Version())
}

func TestOverwrite(t *testing.T) {
	ctx := context.Background()
	tbl, store := newTestTable(t)
	rng := testutil.NewRNG(7)
	addItems(t, tbl, rng, 20, 0)

	replacement := testutil.ItemBatch(rng.UniformVectors(5, testDim), 1000)
	over, err := Create(ctx, store, "items", nil, replacement, ModeOverwrite)
	require.NoError(t, err)
	defer over.Close()
	assert.Equal(t, 5, countRows(t, over, ""))

	p := Plan{}
	p.WithRowID = true
	cur, err := over.Execute(ctx, p)
	require.NoError(t, err)
	b, err := cur.Collect(ctx)
	require.NoError(t, err)
	// Row ids are never reused.
	assert.Equal(t, []int64{20, 21, 22, 23, 24}, testutil.Int64s(b, RowIDColumn))
	assert.Equal(t, []int64{1000, 1001, 1002, 1003, 1004}, testutil.Int64s(b, "id"))

	// Overwrite may change the schema.
	newSchema := record.MustSchema([]record.Field{{Name: "name", Type: record.StringType}})
	nb, err := record.NewBatch(newSchema, []*record.Column{record.StringColumn([]string{"a", "b"})})
	require.NoError(t, err)
	_, err = over.Add(ctx, nb, WriteOverwrite)
	require.NoError(t, err)
	assert.True(t, over.Schema().Equal(newSchema))
	assert.Equal(t, 2, countRows(t, over, ""))
}

func TestSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	rng := testutil.NewRNG(3)
	addItems(t, tbl, rng, 40, 0)

	p := Plan{}
	p.MaxBatchLength = 8
	cur, err := tbl.Execute(ctx, p)
	require.NoError(t, err)
	defer cur.Close()

	first, err := cur.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, first.NumRows())

	addItems(t, tbl, rng, 10, 40)
	_, err = tbl.Delete(ctx, "id < 20")
	require.NoError(t, err)

	total := first.NumRows()
	for {
		b, err := cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		total += b.NumRows()
	}
	assert.Equal(t, 40, total)
	assert.Equal(t, 30, countRows(t, tbl, ""))
}

func TestFailedCommitLeavesTableUnchanged(t *testing.T) {
	ctx := context.Background()
	faulty := blobstore.NewFaultyStore(blobstore.NewMemoryStore())
	tbl, err := Create(ctx, faulty, "items", testutil.ItemSchema(testDim), nil, ModeCreate)
	require.NoError(t, err)
	defer tbl.Close()
	rng := testutil.NewRNG(5)
	addItems(t, tbl, rng, 10, 0)

	// The fragment is written but CURRENT cannot be swapped.
	faulty.AddFault(blobstore.Fault{Op: blobstore.OpPut, Pattern: "_versions/", Times: 1})
	_, err = tbl.Add(ctx, testutil.ItemBatch(rng.UniformVectors(5, testDim), 10), WriteAppend)
	require.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, blobstore.ErrInjected)

	assert.Equal(t, uint64(2), tbl.Version())
	assert.Equal(t, 10, countRows(t, tbl, ""))

	faulty.AddFault(blobstore.Fault{Op: blobstore.OpCreate, Pattern: "data/", Times: 1})
	_, err = tbl.Delete(ctx, "id < 5")
	require.ErrorIs(t, err, ErrIO)
	assert.Equal(t, 10, countRows(t, tbl, ""))

	reopened, err := Open(ctx, faulty, "items")
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, uint64(2), reopened.Version())
	assert.Equal(t, 10, countRows(t, reopened, ""))

	// The table keeps working once the store recovers.
	addItems(t, tbl, rng, 5, 10)
	assert.Equal(t, 15, countRows(t, tbl, ""))
}

func TestInterruptedCurrentSwapRecovers(t *testing.T) {
	ctx := context.Background()
	faulty := blobstore.NewFaultyStore(blobstore.NewMemoryStore())
	tbl, err := Create(ctx, faulty, "items", testutil.ItemSchema(testDim), nil, ModeCreate)
	require.NoError(t, err)
	defer tbl.Close()
	rng := testutil.NewRNG(6)
	addItems(t, tbl, rng, 10, 0)

	failCurrent := func() {
		faulty.AddFault(blobstore.Fault{Op: blobstore.OpPut, Pattern: "CURRENT", Times: 1})
	}

	// MANIFEST-000003 is written, CURRENT still names version 2.
	failCurrent()
	_, err = tbl.Add(ctx, testutil.ItemBatch(rng.UniformVectors(5, testDim), 10), WriteAppend)
	require.ErrorIs(t, err, ErrIO)
	assert.Equal(t, uint64(2), tbl.Version())

	versions, err := tbl.ListVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
	_, err = tbl.Checkout(ctx, 3)
	assert.ErrorIs(t, err, ErrNotFound)

	// Retries reuse the version id of the failed commit.
	addItems(t, tbl, rng, 5, 10)
	assert.Equal(t, uint64(3), tbl.Version())

	failCurrent()
	_, err = tbl.Delete(ctx, "id < 5")
	require.ErrorIs(t, err, ErrIO)
	n, err := tbl.Delete(ctx, "id < 5")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, uint64(4), tbl.Version())

	failCurrent()
	_, err = tbl.Add(ctx, testutil.ItemBatch(rng.UniformVectors(5, testDim), 15), WriteAppend)
	require.ErrorIs(t, err, ErrIO)

	reopened, err := Open(ctx, faulty, "items")
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, uint64(4), reopened.Version())
	assert.Equal(t, 10, countRows(t, reopened, ""))
	addItems(t, reopened, rng, 5, 15)
	assert.Equal(t, uint64(5), reopened.Version())

	// Cleanup drops the leftover manifest and its fragment.
	failCurrent()
	_, err = reopened.Add(ctx, testutil.ItemBatch(rng.UniformVectors(5, testDim), 20), WriteAppend)
	require.ErrorIs(t, err, ErrIO)
	st, err := reopened.Cleanup(ctx, RetentionPolicy{KeepVersions: 100})
	require.NoError(t, err)
	assert.Equal(t, 1, st.VersionsDeleted)
	assert.GreaterOrEqual(t, st.BlobsDeleted, 1)

	addItems(t, reopened, rng, 5, 20)
	assert.Equal(t, uint64(6), reopened.Version())
	assert.Equal(t, 20, countRows(t, reopened, ""))
	versions, err = reopened.ListVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 6)
}

func TestCreateRetriesAfterFailedCommit(t *testing.T) {
	ctx := context.Background()
	faulty := blobstore.NewFaultyStore(blobstore.NewMemoryStore())
	schema := testutil.ItemSchema(testDim)

	faulty.AddFault(blobstore.Fault{Op: blobstore.OpPut, Pattern: "CURRENT", Times: 1})
	_, err := Create(ctx, faulty, "items", schema, nil, ModeCreate)
	require.ErrorIs(t, err, ErrIO)

	_, err = Open(ctx, faulty, "items")
	assert.ErrorIs(t, err, ErrNotFound)

	tbl, err := Create(ctx, faulty, "items", schema, nil, ModeCreate)
	require.NoError(t, err)
	defer tbl.Close()
	assert.Equal(t, uint64(1), tbl.Version())
}

func TestIndexUpdateFailureKeepsCommit(t *testing.T) {
	ctx := context.Background()
	faulty := blobstore.NewFaultyStore(blobstore.NewMemoryStore())
	tbl, err := Create(ctx, faulty, "items", testutil.ItemSchema(testDim), nil, ModeCreate, WithFoldPolicy(index.ManualPolicy{}))
	require.NoError(t, err)
	defer tbl.Close()
	rng := testutil.NewRNG(8)
	addItems(t, tbl, rng, 50, 0)
	require.NoError(t, tbl.CreateIndex(ctx, "", IndexOptions{Type: index.TypeFlat}))

	// The version is saved, then buffering the new rows fails to read the
	// fragment once.
	faulty.AddFault(blobstore.Fault{Op: blobstore.OpOpen, Pattern: "data/", Times: 1})
	vecs := rng.UniformVectors(5, testDim)
	v, err := tbl.Add(ctx, testutil.ItemBatch(vecs, 50), WriteAppend)
	require.NoError(t, err)
	assert.Equal(t, tbl.Version(), v)

	st := tbl.Stats()
	assert.Equal(t, 50, st.IndexedRows)
	assert.Equal(t, 5, st.UnindexedRows)

	b := collect(t, tbl, vectorPlan(vecs[0], 1))
	assert.Equal(t, []int64{50}, testutil.Int64s(b, "id"))

	addItems(t, tbl, rng, 5, 55)
	assert.Equal(t, 60, countRows(t, tbl, ""))
}

func TestTimeTravel(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	rng := testutil.NewRNG(9)
	addItems(t, tbl, rng, 10, 0)
	addItems(t, tbl, rng, 10, 10)
	_, err := tbl.Delete(ctx, "id < 5")
	require.NoError(t, err)

	versions, err := tbl.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 4)
	ops := make([]string, len(versions))
	for i, v := range versions {
		ops[i] = v.Operation
	}
	assert.Equal(t, []string{"create", "append", "append", "delete"}, ops)
	assert.Equal(t, uint64(20), versions[2].NumRows)

	old, err := tbl.Checkout(ctx, 2)
	require.NoError(t, err)
	defer old.Close()
	assert.True(t, old.ReadOnly())
	assert.Equal(t, uint64(2), old.Version())
	assert.Equal(t, 10, countRows(t, old, ""))
	assert.Equal(t, 15, countRows(t, tbl, ""))

	_, err = old.Add(ctx, testutil.ItemBatch(rng.UniformVectors(1, testDim), 99), WriteAppend)
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = tbl.Checkout(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClosedTable(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	require.NoError(t, tbl.Close())
	require.NoError(t, tbl.Close())

	_, err := tbl.CountRows(ctx, "")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tbl.Execute(ctx, Plan{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tbl.Add(ctx, record.EmptyBatch(tbl.Schema()), WriteAppend)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStatsAndString(t *testing.T) {
	tbl, _ := newTestTable(t, WithFoldPolicy(index.ManualPolicy{}))
	addItems(t, tbl, testutil.NewRNG(1), 30, 0)

	st := tbl.Stats()
	assert.Equal(t, uint64(30), st.NumRows)
	assert.Equal(t, 1, st.NumFragments)
	assert.Positive(t, st.SizeBytes)
	assert.Contains(t, tbl.String(), "Table(items, version=2, rows=30, fragments=1")
}
