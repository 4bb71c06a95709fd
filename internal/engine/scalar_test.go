package engine

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectable/blobstore"
	"github.com/hupe1980/vectable/internal/fts"
	"github.com/hupe1980/vectable/record"
	"github.com/hupe1980/vectable/testutil"
)

type idFilter struct {
	filter string
	match  func(id int64) bool
}

// Items rows have category "c<id%3>" and price id/2.
var indexedFilters = []idFilter{
	{"id < 50", func(id int64) bool { return id < 50 }},
	{"150 > id", func(id int64) bool { return id < 150 }},
	{"id >= 120 AND category = 'c1'", func(id int64) bool { return id >= 120 && id%3 == 1 }},
	{"category IN ('c0', 'c2')", func(id int64) bool { return id%3 != 1 }},
	{"id BETWEEN 10 AND 20", func(id int64) bool { return id >= 10 && id <= 20 }},
	{"price > 20 AND id < 100", func(id int64) bool { return id > 40 && id < 100 }},
	{"id < 10 OR id > 290", func(id int64) bool { return id < 10 || id > 290 }},
	{"category = 'c9'", func(int64) bool { return false }},
}

func checkFilters(t *testing.T, tbl *Table, live func(id int64) bool, last int64) {
	t.Helper()
	for _, f := range indexedFilters {
		var want []int64
		for id := range last {
			if live(id) && f.match(id) {
				want = append(want, id)
			}
		}
		assert.Equal(t, len(want), countRows(t, tbl, f.filter), f.filter)
		got := testutil.Int64s(collect(t, tbl, Plan{Filter: f.filter}), "id")
		assert.ElementsMatch(t, want, got, f.filter)
	}
}

func TestScalarIndexFilters(t *testing.T) {
	ctx := context.Background()
	tbl, store := newTestTable(t)
	rng := testutil.NewRNG(3)
	for i := range 3 {
		addItems(t, tbl, rng, 100, int64(i*100))
	}
	require.NoError(t, tbl.CreateScalarIndex(ctx, "id", ScalarIndexOptions{}))
	require.NoError(t, tbl.CreateScalarIndex(ctx, "category", ScalarIndexOptions{Type: ScalarBitmap}))
	all := func(int64) bool { return true }
	checkFilters(t, tbl, all, 300)

	// Rows added after the build are read from the fragments.
	addItems(t, tbl, rng, 50, 300)
	checkFilters(t, tbl, all, 350)

	n, err := tbl.Delete(ctx, "id < 30")
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	live := func(id int64) bool { return id >= 30 }
	checkFilters(t, tbl, live, 350)

	require.NoError(t, tbl.OptimizeIndex(ctx))
	versions, err := tbl.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "optimize_index", versions[len(versions)-1].Operation)
	assert.Equal(t, []ScalarIndexStats{
		{Column: "id", Type: "btree", IndexedRows: 320},
		{Column: "category", Type: "bitmap", IndexedRows: 320},
	}, tbl.Stats().ScalarIndexes)
	checkFilters(t, tbl, live, 350)

	reopened, err := Open(ctx, store, "items")
	require.NoError(t, err)
	defer reopened.Close()
	checkFilters(t, reopened, live, 350)
	assert.Equal(t, 2, reopened.scalars.Len())
}

func TestScalarIndexCountSkipsFragments(t *testing.T) {
	ctx := context.Background()
	faulty := blobstore.NewFaultyStore(blobstore.NewMemoryStore())
	tbl, err := Create(ctx, faulty, "items", testutil.ItemSchema(testDim), nil, ModeCreate)
	require.NoError(t, err)
	rng := testutil.NewRNG(4)
	for i := range 3 {
		addItems(t, tbl, rng, 100, int64(i*100))
	}
	require.NoError(t, tbl.CreateScalarIndex(ctx, "id", ScalarIndexOptions{}))
	require.NoError(t, tbl.CreateScalarIndex(ctx, "category", ScalarIndexOptions{Type: ScalarBitmap}))
	require.NoError(t, tbl.Close())

	reopened, err := Open(ctx, faulty, "items")
	require.NoError(t, err)
	defer reopened.Close()
	faulty.AddFault(blobstore.Fault{Op: blobstore.OpOpen, Pattern: "/data/"})

	// Exact index answers never read a fragment.
	assert.Equal(t, 150, countRows(t, reopened, "id < 150"))
	assert.Equal(t, 33, countRows(t, reopened, "id >= 100 AND id < 200 AND category = 'c2'"))

	_, err = reopened.CountRows(ctx, "price > 10")
	assert.ErrorIs(t, err, ErrIO)
	_, err = reopened.CountRows(ctx, "id < 150 AND price > 10")
	assert.ErrorIs(t, err, ErrIO)
}

func TestScalarIndexPrunesScans(t *testing.T) {
	ctx := context.Background()
	faulty := blobstore.NewFaultyStore(blobstore.NewMemoryStore())
	tbl, err := Create(ctx, faulty, "items", testutil.ItemSchema(testDim), nil, ModeCreate)
	require.NoError(t, err)
	defer tbl.Close()
	rng := testutil.NewRNG(5)
	addItems(t, tbl, rng, 100, 0)
	addItems(t, tbl, rng, 100, 0)
	require.NoError(t, tbl.CreateScalarIndex(ctx, "category", ScalarIndexOptions{Type: ScalarBitmap}))

	// Statistics cannot prune either fragment for "c1", but the index shows
	// that neither holds a live match.
	n, err := tbl.Delete(ctx, "category = 'c1'")
	require.NoError(t, err)
	assert.Equal(t, 66, n)
	reopened, err := Open(ctx, faulty, "items")
	require.NoError(t, err)
	defer reopened.Close()
	faulty.AddFault(blobstore.Fault{Op: blobstore.OpOpen, Pattern: "/data/"})

	b := collect(t, reopened, Plan{Filter: "category = 'c1'"})
	assert.Zero(t, b.NumRows())
	n, err = reopened.Delete(ctx, "category = 'c1'")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScalarIndexOverwrite(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	rng := testutil.NewRNG(6)
	addItems(t, tbl, rng, 60, 0)
	require.NoError(t, tbl.CreateScalarIndex(ctx, "id", ScalarIndexOptions{}))

	_, err := tbl.Add(ctx, testutil.ItemBatch(rng.UniformVectors(10, testDim), 1000), WriteOverwrite)
	require.NoError(t, err)
	assert.Equal(t, []ScalarIndexStats{{Column: "id", Type: "btree"}}, tbl.Stats().ScalarIndexes)
	assert.Equal(t, 5, countRows(t, tbl, "id < 1005"))
	assert.Zero(t, countRows(t, tbl, "id < 60"))

	require.NoError(t, tbl.OptimizeIndex(ctx))
	assert.Equal(t, []ScalarIndexStats{{Column: "id", Type: "btree", IndexedRows: 10}}, tbl.Stats().ScalarIndexes)
	assert.Equal(t, 5, countRows(t, tbl, "id < 1005"))

	// A column that changes type loses its index.
	schema := record.MustSchema([]record.Field{{Name: "id", Type: record.StringType}})
	b := record.NewBuilder(schema)
	require.NoError(t, b.Append(record.StringValue("x")))
	data, err := b.Build()
	require.NoError(t, err)
	_, err = tbl.Add(ctx, data, WriteOverwrite)
	require.NoError(t, err)
	assert.Empty(t, tbl.Stats().ScalarIndexes)
	assert.Equal(t, 1, countRows(t, tbl, "id = 'x'"))
}

func TestScalarIndexValidation(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)
	addItems(t, tbl, testutil.NewRNG(7), 10, 0)

	assert.ErrorIs(t, tbl.CreateScalarIndex(ctx, "nope", ScalarIndexOptions{}), ErrInvalidArgument)
	assert.ErrorIs(t, tbl.CreateScalarIndex(ctx, "vector", ScalarIndexOptions{}), ErrInvalidArgument)
	assert.ErrorIs(t, tbl.CreateScalarIndex(ctx, "id", ScalarIndexOptions{Type: ScalarFTS}), ErrInvalidArgument)
	assert.ErrorIs(t, tbl.CreateScalarIndex(ctx, "id", ScalarIndexOptions{Type: "hash"}), ErrInvalidArgument)

	require.NoError(t, tbl.CreateScalarIndex(ctx, "id", ScalarIndexOptions{}))
	assert.ErrorIs(t, tbl.CreateScalarIndex(ctx, "id", ScalarIndexOptions{Type: ScalarBitmap}), ErrInvalidArgument)
	require.NoError(t, tbl.CreateScalarIndex(ctx, "id", ScalarIndexOptions{Type: ScalarBitmap, Replace: true}))
	assert.Equal(t, []ScalarIndexStats{{Column: "id", Type: "bitmap", IndexedRows: 10}}, tbl.Stats().ScalarIndexes)

	explain, err := tbl.ExplainPlan(Plan{Filter: "id < 5 AND price > 1"}, false)
	require.NoError(t, err)
	assert.Contains(t, explain, "index=id(bitmap)")
}

var docTexts = []string{
	"the quick brown fox",
	"jumped over the lazy dog",
	"quick brown dogs",
	"fox and dog",
	"",
	"a fox, a fox and another fox",
}

var docTitles = []string{"fox news", "dog days", "", "the fox", "fox", "misc"}

func docSchema() *record.Schema {
	return record.MustSchema([]record.Field{
		{Name: "id", Type: record.Int64Type},
		{Name: "title", Type: record.StringType, Nullable: true},
		{Name: "body", Type: record.StringType, Nullable: true},
		{Name: "vector", Type: record.VectorOf(2), Nullable: true},
	})
}

func docBatch(t *testing.T, first int64, titles, bodies []string) *record.Batch {
	t.Helper()
	b := record.NewBuilder(docSchema())
	for i, body := range bodies {
		id := first + int64(i)
		title := record.StringValue(titles[i])
		if titles[i] == "" {
			title = record.Null
		}
		require.NoError(t, b.Append(record.Int64Value(id), title, record.StringValue(body), record.VectorValue([]float32{float32(id), 0})))
	}
	out, err := b.Build()
	require.NoError(t, err)
	return out
}

// referenceHits scores texts under row ids 0..n-1 outside the table.
func referenceHits(query string, texts map[uint64]string) []fts.Hit {
	b := fts.NewBuilder()
	for row, text := range texts {
		b.Add(row, text)
	}
	return fts.Search(fts.Query{Text: query}, b.Build())
}

func textResult(t *testing.T, tbl *Table, p Plan) ([]int64, []float32) {
	t.Helper()
	b := collect(t, tbl, p)
	return testutil.Int64s(b, "id"), testutil.Float32s(b, ScoreColumn)
}

func assertHits(t *testing.T, want []fts.Hit, ids []int64, scores []float32) {
	t.Helper()
	require.Len(t, ids, len(want))
	for i, h := range want {
		assert.Equal(t, int64(h.Row), ids[i])
		assert.InDelta(t, h.Score, scores[i], 1e-5)
	}
}

func TestFullTextSearch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	tbl, err := Create(ctx, store, "docs", nil, docBatch(t, 0, docTitles[:4], docTexts[:4]), ModeCreate)
	require.NoError(t, err)
	defer tbl.Close()
	require.NoError(t, tbl.CreateScalarIndex(ctx, "body", ScalarIndexOptions{Type: ScalarFTS}))

	bodies := map[uint64]string{0: docTexts[0], 1: docTexts[1], 2: docTexts[2], 3: docTexts[3]}
	plan := Plan{FullText: &FullTextPlan{Query: "fox dog"}}
	ids, scores := textResult(t, tbl, plan)
	assertHits(t, referenceHits("fox dog", bodies), ids, scores)
	assert.True(t, slices.IsSortedFunc(scores, func(a, b float32) int { return -cmpFloat(a, b) }))

	limited := plan
	limited.Limit = 1
	limited.Offset = 1
	ids, _ = textResult(t, tbl, limited)
	all, _ := textResult(t, tbl, plan)
	assert.Equal(t, all[1:2], ids)

	// Rows appended after the build are searched as part of one corpus.
	_, err = tbl.Add(ctx, docBatch(t, 4, docTitles[4:], docTexts[4:]), WriteAppend)
	require.NoError(t, err)
	bodies[4], bodies[5] = docTexts[4], docTexts[5]
	ids, scores = textResult(t, tbl, plan)
	assertHits(t, referenceHits("fox dog", bodies), ids, scores)

	// Deleted rows leave the corpus.
	_, err = tbl.Delete(ctx, "id = 3")
	require.NoError(t, err)
	delete(bodies, 3)
	ids, scores = textResult(t, tbl, plan)
	assertHits(t, referenceHits("fox dog", bodies), ids, scores)

	require.NoError(t, tbl.OptimizeIndex(ctx))
	ids, scores = textResult(t, tbl, plan)
	assertHits(t, referenceHits("fox dog", bodies), ids, scores)
	assert.Equal(t, []ScalarIndexStats{{Column: "body", Type: "fts", IndexedRows: 5}}, tbl.Stats().ScalarIndexes)

	// A filter drops matches without changing scores.
	filtered := Plan{Filter: "id > 1", FullText: plan.FullText, Columns: []string{"id", ScoreColumn}}
	ids, scores = textResult(t, tbl, filtered)
	var want []fts.Hit
	for _, h := range referenceHits("fox dog", bodies) {
		if h.Row > 1 {
			want = append(want, h)
		}
	}
	assertHits(t, want, ids, scores)

	reopened, err := Open(ctx, store, "docs")
	require.NoError(t, err)
	defer reopened.Close()
	ids, scores = textResult(t, reopened, plan)
	assertHits(t, referenceHits("fox dog", bodies), ids, scores)

	explain, err := tbl.ExplainPlan(filtered, false)
	require.NoError(t, err)
	assert.Contains(t, explain, `FullTextSearch: query="fox dog" columns=[body]`)
	assert.Contains(t, explain, "Prefilter: ")
}

func TestFullTextSearchColumns(t *testing.T) {
	ctx := context.Background()
	tbl, err := Create(ctx, blobstore.NewMemoryStore(), "docs", nil, docBatch(t, 0, docTitles, docTexts), ModeCreate)
	require.NoError(t, err)
	defer tbl.Close()

	_, err = tbl.Execute(ctx, Plan{FullText: &FullTextPlan{Query: "fox"}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, tbl.CreateScalarIndex(ctx, "body", ScalarIndexOptions{Type: ScalarFTS}))
	require.NoError(t, tbl.CreateScalarIndex(ctx, "title", ScalarIndexOptions{Type: ScalarFTS}))

	for _, p := range []*FullTextPlan{
		{Query: "  "},
		{Query: "fox", Columns: []string{"id"}},
		{Query: "fox", Columns: []string{"nope"}},
		{Query: "fox", Columns: []string{"body", "body"}},
	} {
		_, err := tbl.Execute(ctx, Plan{FullText: p})
		assert.ErrorIs(t, err, ErrInvalidArgument, p)
	}

	bodies, titles := map[uint64]string{}, map[uint64]string{}
	for i := range docTexts {
		bodies[uint64(i)] = docTexts[i]
		if docTitles[i] != "" {
			titles[uint64(i)] = docTitles[i]
		}
	}
	ids, scores := textResult(t, tbl, Plan{FullText: &FullTextPlan{Query: "fox", Columns: []string{"title"}}})
	assertHits(t, referenceHits("fox", titles), ids, scores)

	// Scores over several columns add up.
	sum := map[int64]float32{}
	for _, h := range referenceHits("fox", bodies) {
		sum[int64(h.Row)] += h.Score
	}
	for _, h := range referenceHits("fox", titles) {
		sum[int64(h.Row)] += h.Score
	}
	ids, scores = textResult(t, tbl, Plan{FullText: &FullTextPlan{Query: "fox"}})
	require.Len(t, ids, len(sum))
	for i, id := range ids {
		assert.InDelta(t, sum[id], scores[i], 1e-5, fmt.Sprint(id))
	}
}

func TestFullTextSearchWithVector(t *testing.T) {
	ctx := context.Background()
	tbl, err := Create(ctx, blobstore.NewMemoryStore(), "docs", nil, docBatch(t, 0, docTitles, docTexts), ModeCreate)
	require.NoError(t, err)
	defer tbl.Close()
	require.NoError(t, tbl.CreateScalarIndex(ctx, "body", ScalarIndexOptions{Type: ScalarFTS}))

	// Vector i is (i, 0): without the text restriction row 1 is nearest.
	p := Plan{
		Vector:   &VectorPlan{Query: []float32{1, 0}, K: 2},
		FullText: &FullTextPlan{Query: "fox", Columns: []string{"body"}},
	}
	b := collect(t, tbl, p)
	assert.Equal(t, []int64{0, 3}, testutil.Int64s(b, "id"))
	assert.Equal(t, []float32{1, 4}, testutil.Float32s(b, DistanceColumn))

	p.Filter = "id > 0"
	p.Vector.Prefilter = true
	b = collect(t, tbl, p)
	assert.Equal(t, []int64{3, 5}, testutil.Int64s(b, "id"))

	_, err = tbl.Execute(ctx, Plan{Vector: p.Vector, FullText: p.FullText, Columns: []string{ScoreColumn}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func cmpFloat(a, b float32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
