package vectable

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectable/blobstore"
	"github.com/hupe1980/vectable/record"
	"github.com/hupe1980/vectable/testutil"
)

const dim = 8

func items(rng *testutil.RNG, n int, firstID int64) *record.Batch {
	return testutil.ItemBatch(rng.UniformVectors(n, dim), firstID)
}

func connect(t *testing.T, opts ...Option) *Connection {
	t.Helper()
	db, err := Connect(context.Background(), MemoryURI, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConnectLocal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rng := testutil.NewRNG(1)

	db, err := Connect(ctx, dir)
	require.NoError(t, err)
	tbl, err := db.CreateTable(ctx, "items", items(rng, 10, 0))
	require.NoError(t, err)
	require.NoError(t, tbl.Close())
	require.NoError(t, db.Close())

	db, err = Connect(ctx, "file://"+dir)
	require.NoError(t, err)
	defer db.Close()
	tbl, err = db.OpenTable(ctx, "items")
	require.NoError(t, err)
	defer tbl.Close()
	n, err := tbl.CountRows(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	_, err = Connect(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = Connect(ctx, "gs://bucket")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTableLifecycle(t *testing.T) {
	ctx := context.Background()
	db := connect(t)
	rng := testutil.NewRNG(2)

	names, err := db.TableNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		tbl, err := db.CreateTable(ctx, name, items(rng, 5, 0))
		require.NoError(t, err)
		require.NoError(t, tbl.Close())
	}
	names, err = db.TableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)

	_, err = db.CreateTable(ctx, "alpha", items(rng, 5, 0))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, db.DropTable(ctx, "mid"))
	_, err = db.OpenTable(ctx, "mid")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DropTable(ctx, "mid"), ErrNotFound)

	for _, bad := range []string{"", ".hidden", "a/b", "sp ace"} {
		_, err := db.OpenTable(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidArgument, bad)
	}

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	_, err = db.TableNames(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCreateModes(t *testing.T) {
	ctx := context.Background()
	db := connect(t)
	rng := testutil.NewRNG(3)

	tbl, err := db.CreateTable(ctx, "items", items(rng, 10, 0))
	require.NoError(t, err)
	defer tbl.Close()

	same, err := db.CreateEmptyTable(ctx, "items", testutil.ItemSchema(dim), WithCreateMode(ModeExistOK))
	require.NoError(t, err)
	require.NoError(t, same.Close())

	_, err = db.CreateEmptyTable(ctx, "items", testutil.ItemSchema(4), WithCreateMode(ModeExistOK))
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	over, err := db.CreateTable(ctx, "items", items(rng, 3, 100), WithCreateMode(ModeOverwrite))
	require.NoError(t, err)
	defer over.Close()

	// Both handles share the table.
	for _, h := range []*Table{tbl, over} {
		n, err := h.CountRows(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	}
}

func TestSharedHandles(t *testing.T) {
	ctx := context.Background()
	db := connect(t)
	rng := testutil.NewRNG(4)
	first, err := db.CreateTable(ctx, "items", items(rng, 10, 0))
	require.NoError(t, err)

	var wg sync.WaitGroup
	handles := make([]*Table, 8)
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := db.OpenTable(ctx, "items")
			assert.NoError(t, err)
			handles[i] = h
		}()
	}
	wg.Wait()

	_, err = first.Add(ctx, items(rng, 5, 10), WriteAppend)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	for _, h := range handles {
		require.NotNil(t, h)
		assert.Equal(t, first.Version(), h.Version())
		n, err := h.CountRows(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 15, n)
		require.NoError(t, h.Close())
	}

	_, err = first.CountRows(ctx, "")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDropClosesHandles(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	db := connect(t, WithStore(store))
	tbl, err := db.CreateTable(ctx, "items", items(testutil.NewRNG(5), 10, 0))
	require.NoError(t, err)
	defer tbl.Close()

	require.NoError(t, db.DropTable(ctx, "items"))
	_, err = tbl.CountRows(ctx, "")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, store.Len())
}

func TestAsyncOperations(t *testing.T) {
	ctx := context.Background()
	db := connect(t, WithMaxWorkers(2))
	rng := testutil.NewRNG(6)
	tbl, err := db.CreateEmptyTable(ctx, "items", testutil.ItemSchema(dim))
	require.NoError(t, err)
	defer tbl.Close()

	tasks := make([]*Task[uint64], 4)
	for i := range tasks {
		tasks[i] = tbl.AddAsync(ctx, items(rng, 10, int64(i*10)), WriteAppend)
	}
	for _, task := range tasks {
		_, err := task.Wait(ctx)
		require.NoError(t, err)
	}

	n, err := tbl.CountRowsAsync(ctx, "").Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	deleted, err := tbl.DeleteAsync(ctx, "id < 15").Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, deleted)

	_, err = tbl.DeleteAsync(ctx, "").Wait(ctx)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNilBatchIsRejected(t *testing.T) {
	ctx := context.Background()
	db := connect(t)
	tbl, err := db.CreateEmptyTable(ctx, "items", testutil.ItemSchema(dim))
	require.NoError(t, err)
	defer tbl.Close()

	_, err = tbl.Add(ctx, nil, WriteAppend)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = tbl.Add(ctx, nil, WriteOverwrite)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = tbl.AddAsync(ctx, nil, WriteAppend).Wait(ctx)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = tbl.MergeInsert(ctx, "id", nil, MergeInsertOptions{WhenNotMatchedInsertAll: true})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = db.CreateTable(ctx, "empty", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, uint64(1), tbl.Version())
}

func TestResolveStoreErrors(t *testing.T) {
	ctx := context.Background()
	for _, uri := range []string{"", "ftp://host/x", "s3://", "minio://", "minio://localhost:9000"} {
		_, err := Connect(ctx, uri)
		assert.ErrorIs(t, err, ErrInvalidArgument, uri)
	}

	// Client construction is lazy; no request is made.
	store, err := minioStore("minio://localhost:9000/bucket/lake?secure=false")
	require.NoError(t, err)
	assert.NotNil(t, store)
}
