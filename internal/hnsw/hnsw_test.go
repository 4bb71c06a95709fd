package hnsw

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/internal/binenc"
)

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func bruteForce(vecs [][]float32, q []float32, k int, m distance.Metric, live func(uint64) bool) []uint64 {
	type hit struct {
		id uint64
		d  float32
	}
	var hits []hit
	for i, v := range vecs {
		if live != nil && !live(uint64(i)) {
			continue
		}
		hits = append(hits, hit{uint64(i), m.Distance(q, v)})
	}
	slices.SortFunc(hits, func(a, b hit) int {
		if a.d < b.d {
			return -1
		}
		if a.d > b.d {
			return 1
		}
		return int(a.id) - int(b.id)
	})
	ids := make([]uint64, 0, k)
	for _, h := range hits[:min(k, len(hits))] {
		ids = append(ids, h.id)
	}
	return ids
}

func recall(got []Result, want []uint64) float64 {
	hit := 0
	for _, r := range got {
		if slices.Contains(want, r.RowID) {
			hit++
		}
	}
	return float64(hit) / float64(len(want))
}

func TestNew_InvalidDimension(t *testing.T) {
	_, err := New(0)
	var dimErr *ErrInvalidDimension
	assert.ErrorAs(t, err, &dimErr)
}

func TestSearch_Empty(t *testing.T) {
	g, err := New(4)
	require.NoError(t, err)
	res, err := g.Search([]float32{1, 2, 3, 4}, 5, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSearch_Errors(t *testing.T) {
	g, err := New(3)
	require.NoError(t, err)
	require.NoError(t, g.Insert(1, []float32{1, 2, 3}))

	_, err = g.Search([]float32{1, 2}, 1, 0, nil)
	var mismatch *ErrDimensionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 3, mismatch.Expected)
	assert.Equal(t, 2, mismatch.Actual)

	_, err = g.Search([]float32{1, 2, 3}, 0, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidK)

	assert.ErrorIs(t, g.Insert(2, nil), ErrEmptyVector)
}

func TestSearch_Recall(t *testing.T) {
	for _, m := range []distance.Metric{distance.MetricL2, distance.MetricCosine, distance.MetricDot} {
		t.Run(m.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			vecs := randomVectors(rng, 1000, 16)
			g, err := New(16, func(o *Options) { o.Metric = m })
			require.NoError(t, err)
			for i, v := range vecs {
				require.NoError(t, g.Insert(uint64(i), v))
			}
			assert.Equal(t, 1000, g.Len())

			var total float64
			queries := randomVectors(rng, 20, 16)
			for _, q := range queries {
				res, err := g.Search(q, 10, 128, nil)
				require.NoError(t, err)
				require.Len(t, res, 10)
				for i := 1; i < len(res); i++ {
					assert.LessOrEqual(t, res[i-1].Distance, res[i].Distance)
				}
				total += recall(res, bruteForce(vecs, q, 10, m, nil))
			}
			assert.GreaterOrEqual(t, total/float64(len(queries)), 0.9)
		})
	}
}

func TestSearch_Liveness(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	vecs := randomVectors(rng, 500, 8)
	g, err := New(8)
	require.NoError(t, err)
	for i, v := range vecs {
		require.NoError(t, g.Insert(uint64(i), v))
	}

	// Only every tenth row is alive.
	live := func(id uint64) bool { return id%10 == 0 }
	res, err := g.Search(vecs[5], 20, 16, live)
	require.NoError(t, err)
	require.Len(t, res, 20)
	for _, r := range res {
		assert.True(t, live(r.RowID))
	}

	none, err := g.Search(vecs[5], 5, 0, func(uint64) bool { return false })
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearch_TiesByRowID(t *testing.T) {
	g, err := New(2)
	require.NoError(t, err)
	for _, id := range []uint64{40, 10, 30, 20} {
		require.NoError(t, g.Insert(id, []float32{1, 1}))
	}
	res, err := g.Search([]float32{1, 1}, 3, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 20, 30}, []uint64{res[0].RowID, res[1].RowID, res[2].RowID})
}

func TestClone_Isolation(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	vecs := randomVectors(rng, 200, 4)
	g, err := New(4, func(o *Options) { o.M = 4 })
	require.NoError(t, err)
	for i, v := range vecs[:100] {
		require.NoError(t, g.Insert(uint64(i), v))
	}

	before, err := g.Search(vecs[150], 5, 64, nil)
	require.NoError(t, err)

	c := g.Clone()
	for i, v := range vecs[100:] {
		require.NoError(t, c.Insert(uint64(100+i), v))
	}
	assert.Equal(t, 100, g.Len())
	assert.Equal(t, 200, c.Len())

	after, err := g.Search(vecs[150], 5, 64, nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	res, err := c.Search(vecs[150], 1, 64, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), res[0].RowID)
}

func TestEncodeDecode(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	vecs := randomVectors(rng, 300, 6)
	g, err := New(6, func(o *Options) { o.Metric = distance.MetricCosine })
	require.NoError(t, err)
	for i, v := range vecs {
		require.NoError(t, g.Insert(uint64(i)*3, v))
	}

	w := binenc.NewWriter(nil)
	g.Encode(w)
	require.NoError(t, w.Err())

	d, err := Decode(binenc.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, g.Len(), d.Len())
	assert.Equal(t, g.Options(), d.Options())
	assert.Equal(t, g.Stats(), d.Stats())

	for _, q := range randomVectors(rng, 5, 6) {
		a, err := g.Search(q, 5, 0, nil)
		require.NoError(t, err)
		b, err := d.Search(q, 5, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}

	_, err = Decode(binenc.NewReader(w.Bytes()[:len(w.Bytes())/2]))
	assert.Error(t, err)
}

func TestEncodeLinks(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	vecs := randomVectors(rng, 200, 4)
	g, err := New(4, func(o *Options) { o.Metric = distance.MetricCosine })
	require.NoError(t, err)
	for i, v := range vecs {
		require.NoError(t, g.Insert(uint64(i), v))
	}

	w := binenc.NewWriter(nil)
	g.EncodeLinks(w)
	require.NoError(t, w.Err())
	full := binenc.NewWriter(nil)
	g.Encode(full)
	assert.Less(t, w.Len(), full.Len())

	d, err := DecodeLinks(binenc.NewReader(w.Bytes()), func(i int) ([]float32, error) { return vecs[i], nil })
	require.NoError(t, err)
	assert.Equal(t, g.Stats(), d.Stats())
	for i := range g.Len() {
		assert.InDeltaSlice(t, g.Vector(i), d.Vector(i), 1e-6)
	}

	q := randomVectors(rng, 1, 4)[0]
	a, err := g.Search(q, 5, 0, nil)
	require.NoError(t, err)
	b, err := d.Search(q, 5, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStats(t *testing.T) {
	g, err := New(2)
	require.NoError(t, err)
	for i := range 50 {
		require.NoError(t, g.Insert(uint64(i), []float32{float32(i), float32(i % 7)}))
	}
	s := g.Stats()
	assert.Equal(t, 50, s.Nodes)
	assert.Equal(t, 50, s.NodesPerLevel[0])
	assert.Greater(t, s.AvgConnections, 0.0)
}
