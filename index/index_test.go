package index

import (
	"context"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectable/distance"
)

func entries(rng *rand.Rand, from, n, dim int) []Entry {
	out := make([]Entry, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		out[i] = Entry{RowID: uint64(from + i), Vector: v}
	}
	return out
}

func exact(es []Entry, q []float32, k int, m distance.Metric) []Result {
	return bruteForce(es, q, k, m, nil)
}

func rowIDs(rs []Result) []uint64 {
	ids := make([]uint64, len(rs))
	for i, r := range rs {
		ids[i] = r.RowID
	}
	return ids
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{"hnsw": TypeHNSW, "FLAT": TypeFlat, "": TypeHNSW} {
		got, err := ParseType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseType("ivf")
	assert.Error(t, err)
	assert.Equal(t, "flat", TypeFlat.String())
}

func TestFlat_ExactTop5(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	es := entries(rng, 0, 1000, 8)
	opts := DefaultOptions()
	opts.Type = TypeFlat
	ix, err := Build(8, es, opts)
	require.NoError(t, err)
	assert.Equal(t, 1000, ix.Current().Indexed())
	assert.Equal(t, 0, ix.Current().Unindexed())

	q := entries(rng, 0, 1, 8)[0].Vector
	got, err := ix.Search(q, 5, 0, nil)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}
	assert.Equal(t, exact(es, q, 5, distance.MetricL2), got)
}

func TestHNSW_Recall(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	es := entries(rng, 0, 1000, 8)
	ix, err := Build(8, es, DefaultOptions())
	require.NoError(t, err)

	hits := 0
	for _, qe := range entries(rng, 0, 20, 8) {
		got, err := ix.Search(qe.Vector, 5, 100, nil)
		require.NoError(t, err)
		want := rowIDs(exact(es, qe.Vector, 5, distance.MetricL2))
		for _, id := range rowIDs(got) {
			if slices.Contains(want, id) {
				hits++
			}
		}
	}
	assert.GreaterOrEqual(t, float64(hits)/100, 0.9)
}

func TestSearch_Validation(t *testing.T) {
	ix, err := New(3, DefaultOptions())
	require.NoError(t, err)

	_, err = ix.Search([]float32{1, 2}, 1, 0, nil)
	var mismatch *ErrDimensionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 3, mismatch.Expected)

	_, err = ix.Search([]float32{1, 2, 3}, 0, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = ix.Add(Entry{RowID: 1, Vector: []float32{1}})
	assert.ErrorAs(t, err, &mismatch)

	res, err := ix.Search([]float32{1, 2, 3}, 3, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestBufferIsSearched(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	es := entries(rng, 0, 200, 4)
	ix, err := Build(4, es[:100], DefaultOptions())
	require.NoError(t, err)

	gen, err := ix.Add(es[100:]...)
	require.NoError(t, err)
	assert.Equal(t, 100, gen.Unindexed())

	// An exact match of a buffered row is found before any fold.
	got, err := ix.Search(es[150].Vector, 1, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), got[0].RowID)
	assert.Zero(t, got[0].Distance)
}

func TestFoldAndInstall(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	es := entries(rng, 0, 300, 4)
	ix, err := New(4, DefaultOptions())
	require.NoError(t, err)

	base, err := ix.Add(es[:200]...)
	require.NoError(t, err)
	folded, err := base.Fold(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 200, folded.Indexed())
	assert.Equal(t, uint64(200), folded.Watermark())

	// Rows added during the fold stay buffered.
	_, err = ix.Add(es[200:]...)
	require.NoError(t, err)

	cur, err := ix.Install(base, folded)
	require.NoError(t, err)
	assert.Equal(t, 200, cur.Indexed())
	assert.Equal(t, 100, cur.Unindexed())
	assert.Same(t, cur, ix.Current())

	// The base is no longer current.
	_, err = ix.Install(base, folded)
	assert.ErrorIs(t, err, ErrStale)

	// Pinned generations are unaffected.
	assert.Equal(t, 0, base.Indexed())
	assert.Equal(t, 200, base.Unindexed())
}

func TestFold_RebuildsWhenMostlyDead(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	es := entries(rng, 0, 100, 4)
	opts := DefaultOptions()
	opts.Type = TypeFlat
	ix, err := Build(4, es, opts)
	require.NoError(t, err)

	live := func(id uint64) bool { return id >= 80 }
	assert.InDelta(t, 0.8, ix.Current().DeadFraction(live), 1e-9)

	folded, err := ix.Current().Fold(context.Background(), live)
	require.NoError(t, err)
	assert.Equal(t, 20, folded.Indexed())

	got, err := folded.Search(es[3].Vector, 5, 0, nil)
	require.NoError(t, err)
	for _, r := range got {
		assert.GreaterOrEqual(t, r.RowID, uint64(80))
	}
}

func TestFold_Cancelled(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	ix, err := New(4, DefaultOptions())
	require.NoError(t, err)
	gen, err := ix.Add(entries(rng, 0, 10, 4)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gen.Fold(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReset(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ix, err := Build(4, entries(rng, 0, 50, 4), DefaultOptions())
	require.NoError(t, err)
	old := ix.Current()

	gen, err := ix.Reset(50)
	require.NoError(t, err)
	assert.Equal(t, 0, gen.Indexed())
	assert.Equal(t, uint64(50), gen.Watermark())
	assert.NotEqual(t, old.Lineage(), gen.Lineage())

	_, err = ix.Install(old, old)
	assert.ErrorIs(t, err, ErrStale)
}

func TestPolicies(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	ix, err := New(4, DefaultOptions())
	require.NoError(t, err)
	gen, err := ix.Add(entries(rng, 0, 10, 4)...)
	require.NoError(t, err)

	assert.True(t, ThresholdPolicy{MaxUnindexed: 10}.ShouldFold(gen))
	assert.False(t, ThresholdPolicy{MaxUnindexed: 11}.ShouldFold(gen))
	assert.False(t, ThresholdPolicy{}.ShouldFold(gen))
	assert.False(t, ManualPolicy{}.ShouldFold(gen))
}

func TestMarshalRoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeHNSW, TypeFlat} {
		t.Run(typ.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(9))
			es := entries(rng, 10, 300, 6)
			opts := DefaultOptions()
			opts.Type = typ
			opts.Metric = distance.MetricCosine
			ix, err := Build(6, es, opts)
			require.NoError(t, err)

			data, err := ix.Current().MarshalBinary()
			require.NoError(t, err)
			g, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, typ, g.Options().Type)
			assert.Equal(t, distance.MetricCosine, g.Options().Metric)
			assert.Equal(t, uint64(310), g.Watermark())
			assert.Equal(t, 300, g.Indexed())

			q := es[42].Vector
			want, err := ix.Search(q, 5, 0, nil)
			require.NoError(t, err)
			got, err := g.Search(q, 5, 0, nil)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestUnmarshal_Corrupt(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	ix, err := Build(4, entries(rng, 0, 20, 4), DefaultOptions())
	require.NoError(t, err)
	data, err := ix.Current().MarshalBinary()
	require.NoError(t, err)

	flip := slices.Clone(data)
	flip[len(flip)-1] ^= 0xff
	badMagic := slices.Clone(data)
	badMagic[0] = 'X'

	for name, blob := range map[string][]byte{
		"empty":     nil,
		"short":     data[:8],
		"magic":     badMagic,
		"checksum":  flip,
		"truncated": data[:len(data)-4],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal(blob)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}
