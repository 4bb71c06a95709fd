package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	data := []byte("hello world, this is a fragment blob")
	require.NoError(t, WriteAll(ctx, store, "tbl/data/000001.vtf", data))

	_, err := os.Stat(filepath.Join(tmpDir, "tbl", "data", "000001.vtf"))
	require.NoError(t, err)

	blob, err := store.Open(ctx, "tbl/data/000001.vtf")
	require.NoError(t, err)
	defer blob.Close()

	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	rc, err := blob.ReadRange(ctx, 13, 4)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "this", string(got))

	all, err := ReadAll(ctx, store, "tbl/data/000001.vtf")
	require.NoError(t, err)
	require.Equal(t, data, all)
}

func TestLocalStore_PutReplacesAtomically(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tbl/_versions/CURRENT", []byte("MANIFEST-000001.bin")))
	require.NoError(t, store.Put(ctx, "tbl/_versions/CURRENT", []byte("MANIFEST-000002.bin")))

	got, err := ReadAll(ctx, store, "tbl/_versions/CURRENT")
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-000002.bin", string(got))

	names, err := store.List(ctx, "tbl/")
	require.NoError(t, err)
	assert.Equal(t, []string{"tbl/_versions/CURRENT"}, names)
}

func TestLocalStore_AbortLeavesNothing(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	w, err := store.Create(ctx, "tbl/data/partial.vtf")
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	ok, err := Exists(ctx, store, "tbl/data/partial.vtf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStore_ListAndDelete(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	for _, name := range []string{"b/x", "a/y", "a/z/w"} {
		require.NoError(t, store.Put(ctx, name, []byte(name)))
	}

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/y", "a/z/w", "b/x"}, names)

	names, err = store.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/y", "a/z/w"}, names)

	require.NoError(t, store.Delete(ctx, "a/z/w"))
	require.NoError(t, store.Delete(ctx, "a/z/w"))

	_, err = os.Stat(filepath.Join(tmpDir, "a", "z"))
	assert.True(t, os.IsNotExist(err), "empty directories are pruned")

	_, err = store.Open(ctx, "a/z/w")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "does-not-exist"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_ListDirs(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	for _, name := range []string{"b/x", "a/y", "a/z/w", "top"} {
		require.NoError(t, store.Put(ctx, name, []byte(name)))
	}

	dirs, err := ListDirs(ctx, store, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, dirs)

	dirs, err = ListDirs(ctx, store, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, dirs)

	dirs, err = ListDirs(ctx, store, "missing/")
	require.NoError(t, err)
	assert.Empty(t, dirs)
}
