package index

import (
	"context"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/internal/quantization"
)

func quantizedOptions(typ Type, kind quantization.Kind) Options {
	opts := DefaultOptions()
	opts.Type = typ
	opts.Quantization = kind
	opts.PQSubvectors = 8
	return opts
}

// rerank rescores hits exactly and keeps the best k.
func rerank(es []Entry, hits []Result, q []float32, k int) []Result {
	var cands []Entry
	for _, h := range hits {
		cands = append(cands, es[h.RowID])
	}
	return exact(cands, q, k, distance.MetricL2)
}

func TestQuantized_Recall(t *testing.T) {
	const dim, k = 16, 10
	for _, typ := range []Type{TypeFlat, TypeHNSW} {
		for _, kind := range []quantization.Kind{quantization.KindPQ, quantization.KindSQ} {
			t.Run(typ.String()+"/"+kind.String(), func(t *testing.T) {
				rng := rand.New(rand.NewSource(21))
				es := entries(rng, 0, 2000, dim)
				ix, err := Build(dim, es, quantizedOptions(typ, kind))
				require.NoError(t, err)
				require.NotNil(t, ix.Current().Quantizer())
				assert.Equal(t, kind, ix.Current().Quantizer().Kind())

				var plain, refined int
				queries := entries(rng, 0, 20, dim)
				for _, qe := range queries {
					want := rowIDs(exact(es, qe.Vector, k, distance.MetricL2))

					got, err := ix.Search(qe.Vector, k, 200, nil)
					require.NoError(t, err)
					for _, id := range rowIDs(got) {
						if slices.Contains(want, id) {
							plain++
						}
					}

					wide, err := ix.Search(qe.Vector, k*4, 200, nil)
					require.NoError(t, err)
					for _, id := range rowIDs(rerank(es, wide, qe.Vector, k)) {
						if slices.Contains(want, id) {
							refined++
						}
					}
				}
				total := float64(len(queries) * k)
				assert.GreaterOrEqual(t, float64(plain)/total, 0.6)
				assert.GreaterOrEqual(t, float64(refined)/total, 0.95)
				assert.GreaterOrEqual(t, refined, plain)
			})
		}
	}
}

func TestQuantized_TrainedOncePerLineage(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	ix, err := Build(8, entries(rng, 0, 300, 8), quantizedOptions(TypeFlat, quantization.KindSQ))
	require.NoError(t, err)
	q := ix.Current().Quantizer()
	require.NotNil(t, q)

	base, err := ix.Add(entries(rng, 300, 50, 8)...)
	require.NoError(t, err)
	folded, err := base.Fold(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, q, folded.Quantizer())
	assert.Equal(t, 350, folded.Indexed())

	reset, err := ix.Reset(350)
	require.NoError(t, err)
	assert.Nil(t, reset.Quantizer())
}

func TestQuantized_InvalidSubvectors(t *testing.T) {
	opts := quantizedOptions(TypeFlat, quantization.KindPQ)
	opts.PQSubvectors = 5
	_, err := New(8, opts)
	assert.Error(t, err)
}

func TestQuantized_MarshalRoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeHNSW, TypeFlat} {
		t.Run(typ.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(23))
			es := entries(rng, 0, 1000, 16)
			opts := quantizedOptions(typ, quantization.KindPQ)
			opts.Metric = distance.MetricCosine
			ix, err := Build(16, es, opts)
			require.NoError(t, err)

			data, err := ix.Current().MarshalBinary()
			require.NoError(t, err)
			g, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, quantization.KindPQ, g.Options().Quantization)
			assert.Equal(t, 8, g.Options().PQSubvectors)
			require.NotNil(t, g.Quantizer())
			assert.Equal(t, 1000, g.Indexed())

			q := es[17].Vector
			want, err := ix.Search(q, 5, 0, nil)
			require.NoError(t, err)
			got, err := g.Search(q, 5, 0, nil)
			require.NoError(t, err)
			assert.Equal(t, rowIDs(want), rowIDs(got))
			for i := range want {
				assert.InDelta(t, want[i].Distance, got[i].Distance, 1e-5)
			}

			// Codes are persisted instead of vectors.
			plain, err := Build(16, es, func() Options { o := opts; o.Quantization = quantization.KindNone; return o }())
			require.NoError(t, err)
			plainData, err := plain.Current().MarshalBinary()
			require.NoError(t, err)
			assert.Less(t, len(data), len(plainData))

			// Later folds keep encoding with the persisted quantizer.
			base, err := FromGeneration(g).Add(entries(rng, 1000, 10, 16)...)
			require.NoError(t, err)
			folded, err := base.Fold(context.Background(), nil)
			require.NoError(t, err)
			assert.Same(t, g.Quantizer(), folded.Quantizer())
			assert.Equal(t, 1010, folded.Indexed())
		})
	}
}
