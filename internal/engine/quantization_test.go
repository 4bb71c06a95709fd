package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/index"
	"github.com/hupe1980/vectable/internal/quantization"
	"github.com/hupe1980/vectable/testutil"
)

func searchResults(ids []int64, dists []float32) []testutil.SearchResult {
	out := make([]testutil.SearchResult, len(ids))
	for i := range ids {
		out[i] = testutil.SearchResult{ID: uint64(ids[i]), Distance: dists[i]}
	}
	return out
}

func TestQuantizedIndexRefine(t *testing.T) {
	ctx := context.Background()
	for _, kind := range []quantization.Kind{quantization.KindPQ, quantization.KindSQ} {
		t.Run(kind.String(), func(t *testing.T) {
			tbl, store := newTestTable(t, WithFoldPolicy(index.ManualPolicy{}))
			rng := testutil.NewRNG(41)
			vecs := addItems(t, tbl, rng, 1500, 0)
			require.NoError(t, tbl.CreateIndex(ctx, "", IndexOptions{Type: index.TypeFlat, Quantization: kind, PQSubvectors: 4}))
			assert.Equal(t, kind.String(), tbl.Stats().IndexQuantization)

			const k = 10
			var plain, refined float64
			queries := rng.UniformVectors(20, testDim)
			for _, q := range queries {
				truth := testutil.BruteForceSearch(vecs, q, k, distance.MetricL2)

				b := collect(t, tbl, vectorPlan(q, k))
				plain += testutil.ComputeRecall(truth, searchResults(testutil.Int64s(b, "id"), testutil.Float32s(b, DistanceColumn)))

				p := vectorPlan(q, k)
				p.Vector.RefineFactor = 5
				b = collect(t, tbl, p)
				got := searchResults(testutil.Int64s(b, "id"), testutil.Float32s(b, DistanceColumn))
				refined += testutil.ComputeRecall(truth, got)
				// Refined distances are exact.
				for _, r := range got {
					assert.InDelta(t, distance.SquaredL2(q, vecs[r.ID]), r.Distance, 1e-5)
				}
				assertAscending(t, b)
			}
			plain /= float64(len(queries))
			refined /= float64(len(queries))
			assert.GreaterOrEqual(t, refined, 0.95)
			assert.GreaterOrEqual(t, refined, plain)

			// The quantizer is persisted with the index.
			reopened, err := Open(ctx, store, "items", WithFoldPolicy(index.ManualPolicy{}))
			require.NoError(t, err)
			defer reopened.Close()
			assert.Equal(t, kind.String(), reopened.Stats().IndexQuantization)
			p := vectorPlan(queries[0], k)
			p.Vector.RefineFactor = 5
			assert.Equal(t, testutil.Int64s(collect(t, tbl, p), "id"), testutil.Int64s(collect(t, reopened, p), "id"))
		})
	}
}

func TestQuantizedIndexValidation(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t, WithFoldPolicy(index.ManualPolicy{}))
	vecs := addItems(t, tbl, testutil.NewRNG(42), 50, 0)

	err := tbl.CreateIndex(ctx, "", IndexOptions{Quantization: quantization.KindPQ, PQSubvectors: 3})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, tbl.CreateIndex(ctx, "", IndexOptions{Quantization: quantization.KindSQ}))
	p := vectorPlan(vecs[0], 3)
	p.Vector.RefineFactor = -1
	_, err = tbl.Execute(ctx, p)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	p.Vector.RefineFactor = 2
	plan, err := tbl.ExplainPlan(p, true)
	require.NoError(t, err)
	assert.Contains(t, plan, "refine_factor=2")
	assert.Contains(t, plan, "quantization=sq")
}

func TestQuantizedIndexBuffersBeforeTraining(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t, WithFoldPolicy(index.ManualPolicy{}))
	require.NoError(t, tbl.CreateIndex(ctx, "", IndexOptions{Quantization: quantization.KindPQ}))

	// An empty table has nothing to train on; rows wait in the buffer.
	vecs := addItems(t, tbl, testutil.NewRNG(43), 300, 0)
	assert.Equal(t, 300, tbl.Stats().UnindexedRows)
	b := collect(t, tbl, vectorPlan(vecs[12], 1))
	assert.Equal(t, []int64{12}, testutil.Int64s(b, "id"))

	require.NoError(t, tbl.OptimizeIndex(ctx))
	st := tbl.Stats()
	assert.Equal(t, 300, st.IndexedRows)
	assert.Equal(t, "pq", st.IndexQuantization)

	p := vectorPlan(vecs[12], 1)
	p.Vector.RefineFactor = 10
	b = collect(t, tbl, p)
	assert.Equal(t, []int64{12}, testutil.Int64s(b, "id"))
}
