package testutil

import (
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/vectable/distance"
)

// SearchResult is one exact search hit.
type SearchResult struct {
	ID       uint64
	Distance float32
}

// RNG is a seeded random source safe for concurrent use.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG returns an RNG seeded with seed.
func NewRNG(seed int64) *RNG {
	return &RNG{rand: rand.New(rand.NewSource(seed)), seed: seed}
}

// Reset restarts the sequence from the initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Intn returns a number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns a number in [0,1).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

func (r *RNG) vectors(num, dim int, gen func() float32) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	flat := make([]float32, num*dim)
	out := make([][]float32, num)
	for i := range out {
		out[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
		for j := range out[i] {
			out[i][j] = gen()
		}
	}
	return out
}

// UniformVectors returns num vectors with components in [0,1), sharing one
// backing array.
func (r *RNG) UniformVectors(num, dim int) [][]float32 {
	return r.vectors(num, dim, r.rand.Float32)
}

// UnitVectors returns num gaussian vectors scaled to unit length.
func (r *RNG) UnitVectors(num, dim int) [][]float32 {
	out := r.vectors(num, dim, func() float32 { return float32(r.rand.NormFloat64()) })
	for _, v := range out {
		distance.NormalizeL2InPlace(v)
	}
	return out
}

// BruteForceSearch returns the exact k nearest vectors with the slice
// position as id. Ties are ordered by id.
func BruteForceSearch(vectors [][]float32, query []float32, k int, m distance.Metric) []SearchResult {
	results := make([]SearchResult, len(vectors))
	for i, v := range vectors {
		results[i] = SearchResult{ID: uint64(i), Distance: m.Distance(query, v)}
	}
	slices.SortFunc(results, func(a, b SearchResult) int {
		if a.Distance != b.Distance {
			if a.Distance < b.Distance {
				return -1
			}
			return 1
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return results[:min(k, len(results))]
}

// ComputeRecall returns the fraction of the first min(len) ground truth ids
// found in approximate.
func ComputeRecall(groundTruth, approximate []SearchResult) float64 {
	if len(groundTruth) == 0 && len(approximate) == 0 {
		return 1
	}
	k := min(len(approximate), len(groundTruth))
	if k == 0 {
		return 0
	}
	truth := make(map[uint64]bool, k)
	for _, r := range groundTruth[:k] {
		truth[r.ID] = true
	}
	hits := 0
	for _, r := range approximate {
		if truth[r.ID] {
			hits++
		}
	}
	return float64(hits) / float64(k)
}
