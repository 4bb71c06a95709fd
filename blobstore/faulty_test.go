package blobstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultyStore(t *testing.T) {
	ctx := context.Background()
	f := NewFaultyStore(NewMemoryStore())

	f.AddFault(Fault{Op: OpPut, Pattern: "CURRENT", After: 1, Times: 1})

	require.NoError(t, f.Put(ctx, "t/CURRENT", []byte("1")))
	assert.ErrorIs(t, f.Put(ctx, "t/CURRENT", []byte("2")), ErrInjected)
	require.NoError(t, f.Put(ctx, "t/CURRENT", []byte("3")))
	require.NoError(t, f.Put(ctx, "t/other", []byte("x")))
	assert.Equal(t, 4, f.Calls(OpPut))

	diskFull := errors.New("disk full")
	f.AddFault(Fault{Op: OpWrite, Pattern: ".vtf", Err: diskFull})
	err := WriteAll(ctx, f, "t/data/1.vtf", []byte("rows"))
	assert.ErrorIs(t, err, diskFull)

	ok, err := Exists(ctx, f, "t/data/1.vtf")
	require.NoError(t, err)
	assert.False(t, ok, "aborted writes are not visible")

	f.Reset()
	require.NoError(t, WriteAll(ctx, f, "t/data/1.vtf", []byte("rows")))
}
