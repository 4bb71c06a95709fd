package engine

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectable/record"
	"github.com/hupe1980/vectable/testutil"
)

func TestMergeInsertUpsert(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	rng := testutil.NewRNG(41)
	addItems(t, tbl, rng, 10, 0)

	// Keys 8 and 9 exist, 10 and 11 are new.
	source := testutil.ItemBatch(rng.UniformVectors(4, testDim), 8)
	st, err := tbl.MergeInsert(ctx, "id", source, MergeInsertOptions{
		WhenMatchedUpdateAll:    true,
		WhenNotMatchedInsertAll: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, st.Updated)
	assert.Equal(t, 2, st.Inserted)
	assert.Zero(t, st.Deleted)
	assert.Equal(t, tbl.Version(), st.Version)
	assert.Equal(t, 12, countRows(t, tbl, ""))

	p := Plan{}
	p.WithRowID = true
	b := collect(t, tbl, p)
	ids := testutil.Int64s(b, "id")
	rowIDs := testutil.Int64s(b, RowIDColumn)
	slices.Sort(ids)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, ids)
	// Updated rows get new row ids.
	assert.Equal(t, int64(13), slices.Max(rowIDs))

	versions, err := tbl.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "merge", versions[len(versions)-1].Operation)
}

func TestMergeInsertOnlyNew(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	rng := testutil.NewRNG(42)
	addItems(t, tbl, rng, 5, 0)
	v := tbl.Version()

	existing := testutil.ItemBatch(rng.UniformVectors(2, testDim), 0)
	st, err := tbl.MergeInsert(ctx, "id", existing, MergeInsertOptions{WhenNotMatchedInsertAll: true})
	require.NoError(t, err)
	assert.Zero(t, st.Version)
	assert.Equal(t, v, tbl.Version())

	st, err = tbl.MergeInsert(ctx, "id", existing, MergeInsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, MergeStats{}, st)
}

func TestMergeInsertDeleteBySource(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	rng := testutil.NewRNG(43)
	addItems(t, tbl, rng, 12, 0)

	source := testutil.ItemBatch(rng.UniformVectors(3, testDim), 0)
	st, err := tbl.MergeInsert(ctx, "id", source, MergeInsertOptions{
		WhenNotMatchedBySourceDelete: true,
		NotMatchedBySourceFilter:     "category = 'c0'",
	})
	require.NoError(t, err)
	// Keys 3, 6 and 9 are c0 and not in the source.
	assert.Equal(t, 3, st.Deleted)
	assert.Equal(t, 9, countRows(t, tbl, ""))
	assert.Equal(t, 1, countRows(t, tbl, "category = 'c0'"))
}

func TestMergeInsertValidation(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	rng := testutil.NewRNG(44)
	addItems(t, tbl, rng, 5, 0)

	dup, err := record.Concat(testutil.ItemSchema(testDim),
		testutil.ItemBatch(rng.UniformVectors(2, testDim), 0),
		testutil.ItemBatch(rng.UniformVectors(1, testDim), 0))
	require.NoError(t, err)
	_, err = tbl.MergeInsert(ctx, "id", dup, MergeInsertOptions{WhenNotMatchedInsertAll: true})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = tbl.MergeInsert(ctx, "nope", testutil.ItemBatch(rng.UniformVectors(1, testDim), 0), MergeInsertOptions{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = tbl.MergeInsert(ctx, "id", testutil.ItemBatch(rng.UniformVectors(1, 3), 0), MergeInsertOptions{})
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = tbl.MergeInsert(ctx, "id", nil, MergeInsertOptions{WhenNotMatchedInsertAll: true})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
