package minio

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/hupe1980/vectable/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_KeyMapping(t *testing.T) {
	s := NewStore(nil, "bucket", "/lake/")
	assert.Equal(t, "lake/tbl/_versions/CURRENT", s.key("tbl/_versions/CURRENT"))
	assert.Equal(t, "tbl/data/1.vtf", s.name("lake/tbl/data/1.vtf"))
	assert.Equal(t, "lake/", s.listPrefix(""))
	assert.Equal(t, "lake/tbl/", s.listPrefix("tbl/"))

	bare := NewStore(nil, "bucket", "")
	assert.Equal(t, "tbl/x", bare.key("tbl/x"))
	assert.Equal(t, "tbl/", bare.listPrefix("tbl/"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NotFound"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("network down")))
}

// TestStore_Integration requires a running MinIO instance at $MINIO_ENDPOINT.
func TestStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	ctx := context.Background()
	bucket := "vectable-test"

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "it/")

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "tbl/a", data))

	got, err := blobstore.ReadAll(ctx, store, "tbl/a")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, blobstore.WriteAll(ctx, store, "tbl/b", []byte("streamed data")))

	names, err := store.List(ctx, "tbl/")
	require.NoError(t, err)
	assert.Equal(t, []string{"tbl/a", "tbl/b"}, names)

	require.NoError(t, store.Delete(ctx, "tbl/a"))
	require.NoError(t, store.Delete(ctx, "tbl/b"))

	_, err = store.Open(ctx, "tbl/a")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
