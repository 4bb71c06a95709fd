package quantization

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/internal/binenc"
)

const (
	// maxCentroids keeps codes in a single byte.
	maxCentroids = 256

	kmeansIterations = 20

	kmeansSeed = 0x9e3779b97f4a7c15
)

// ProductQuantizer splits vectors into subvectors and quantizes each
// independently using k-means clustering.
//
// Example: a 128-dim vector with 8 subvectors is stored as 8 one-byte codes
// (64x smaller than float32).
type ProductQuantizer struct {
	numSubvectors int
	numCentroids  int
	dimension     int
	subvectorDim  int
	codebooks     [][][]float32 // [subvector][centroid][subvectorDim]
	trained       bool
}

// NewProductQuantizer creates an untrained quantizer. dimension must be
// divisible by numSubvectors and numCentroids must fit a byte.
func NewProductQuantizer(dimension, numSubvectors, numCentroids int) (*ProductQuantizer, error) {
	if numSubvectors <= 0 || dimension%numSubvectors != 0 {
		return nil, errors.New("dimension must be divisible by numSubvectors")
	}
	if numCentroids <= 0 || numCentroids > maxCentroids {
		return nil, errors.New("numCentroids must be in [1, 256] for uint8 encoding")
	}
	return &ProductQuantizer{
		numSubvectors: numSubvectors,
		numCentroids:  numCentroids,
		dimension:     dimension,
		subvectorDim:  dimension / numSubvectors,
		codebooks:     make([][][]float32, numSubvectors),
	}, nil
}

func (pq *ProductQuantizer) Kind() Kind { return KindPQ }
func (pq *ProductQuantizer) Dim() int { return pq.dimension }
func (pq *ProductQuantizer) CodeSize() int { return pq.numSubvectors }
func (pq *ProductQuantizer) NumSubvectors() int { return pq.numSubvectors }
func (pq *ProductQuantizer) NumCentroids() int { return pq.numCentroids }
func (pq *ProductQuantizer) IsTrained() bool { return pq.trained }

// Train runs k-means per subspace. Training is deterministic for a given
// sample.
func (pq *ProductQuantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return ErrNoTrainingData
	}
	rng := rand.New(rand.NewPCG(kmeansSeed, uint64(pq.dimension)))
	sub := make([][]float32, len(vectors))
	for m := range pq.numSubvectors {
		start := m * pq.subvectorDim
		for i, vec := range vectors {
			if len(vec) != pq.dimension {
				return fmt.Errorf("quantization: vector has dimension %d, want %d", len(vec), pq.dimension)
			}
			sub[i] = vec[start : start+pq.subvectorDim]
		}
		pq.codebooks[m] = kmeans(sub, pq.numCentroids, kmeansIterations, rng)
	}
	pq.trained = true
	return nil
}

// Encode quantizes vec into one code per subvector.
func (pq *ProductQuantizer) Encode(vec []float32) ([]byte, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}
	if len(vec) != pq.dimension {
		return nil, fmt.Errorf("quantization: vector has dimension %d, want %d", len(vec), pq.dimension)
	}
	codes := make([]byte, pq.numSubvectors)
	for m := range pq.numSubvectors {
		start := m * pq.subvectorDim
		codes[m] = uint8(nearestCentroid(vec[start:start+pq.subvectorDim], pq.codebooks[m]))
	}
	return codes, nil
}

// Decode reconstructs an approximate vector from codes.
func (pq *ProductQuantizer) Decode(codes []byte) ([]float32, error) {
	out := make([]float32, pq.dimension)
	if err := pq.decodeInto(out, codes); err != nil {
		return nil, err
	}
	return out, nil
}

func (pq *ProductQuantizer) decodeInto(dst []float32, codes []byte) error {
	if !pq.trained {
		return ErrNotTrained
	}
	if len(codes) != pq.numSubvectors {
		return fmt.Errorf("quantization: code has %d bytes, want %d", len(codes), pq.numSubvectors)
	}
	for m, c := range codes {
		if int(c) >= pq.numCentroids {
			return fmt.Errorf("quantization: code %d out of range", c)
		}
		copy(dst[m*pq.subvectorDim:], pq.codebooks[m][c])
	}
	return nil
}

// BuildDistanceTable precomputes squared L2 distances from each query
// subvector to every centroid. table[m*K+k] is the distance of subvector m
// to centroid k.
func (pq *ProductQuantizer) BuildDistanceTable(query []float32) []float32 {
	table := make([]float32, pq.numSubvectors*pq.numCentroids)
	for m := range pq.numSubvectors {
		start := m * pq.subvectorDim
		q := query[start : start+pq.subvectorDim]
		for k := range pq.numCentroids {
			table[m*pq.numCentroids+k] = distance.SquaredL2(q, pq.codebooks[m][k])
		}
	}
	return table
}

// AdcDistance sums the table entries selected by codes.
func (pq *ProductQuantizer) AdcDistance(table []float32, codes []byte) float32 {
	var d float32
	for m, c := range codes {
		d += table[m*pq.numCentroids+int(c)]
	}
	return d
}

// Scorer uses asymmetric distance computation for L2. Other metrics score
// the reconstruction.
func (pq *ProductQuantizer) Scorer(q []float32, m distance.Metric) func([]byte) float32 {
	if m == distance.MetricL2 {
		table := pq.BuildDistanceTable(q)
		return func(code []byte) float32 { return pq.AdcDistance(table, code) }
	}
	buf := make([]float32, pq.dimension)
	return func(code []byte) float32 {
		if err := pq.decodeInto(buf, code); err != nil {
			return float32(math.Inf(1))
		}
		return m.Distance(q, buf)
	}
}

func (pq *ProductQuantizer) encode(w *binenc.Writer) {
	w.U32(uint32(pq.dimension))
	w.U32(uint32(pq.numSubvectors))
	w.U32(uint32(pq.numCentroids))
	for _, book := range pq.codebooks {
		for _, c := range book {
			for _, f := range c {
				w.F32(f)
			}
		}
	}
}

func decodePQ(r *binenc.Reader) (*ProductQuantizer, error) {
	dim, m, k := int(r.U32()), int(r.U32()), int(r.U32())
	if err := r.Err(); err != nil {
		return nil, err
	}
	pq, err := NewProductQuantizer(dim, m, k)
	if err != nil {
		return nil, fmt.Errorf("quantization: %w", err)
	}
	if r.Remaining() < m*k*pq.subvectorDim*4 {
		return nil, fmt.Errorf("quantization: truncated codebooks")
	}
	for i := range pq.codebooks {
		book := make([][]float32, k)
		for j := range book {
			c := make([]float32, pq.subvectorDim)
			for d := range c {
				c[d] = r.F32()
			}
			book[j] = c
		}
		pq.codebooks[i] = book
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	pq.trained = true
	return pq, nil
}

// kmeans clusters vectors into k centroids seeded with k-means++.
func kmeans(vectors [][]float32, k, maxIters int, rng *rand.Rand) [][]float32 {
	dim := len(vectors[0])
	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = make([]float32, dim)
	}
	if len(vectors) <= k {
		for i := range centroids {
			copy(centroids[i], vectors[i%len(vectors)])
		}
		return centroids
	}

	copy(centroids[0], vectors[rng.IntN(len(vectors))])

	// minDistSq tracks each vector's squared distance to its nearest chosen centroid.
	minDistSq := make([]float32, len(vectors))
	var sum float32
	for i, vec := range vectors {
		d := distance.SquaredL2(vec, centroids[0])
		minDistSq[i] = d
		sum += d
	}
	for c := 1; c < k; c++ {
		if sum == 0 {
			copy(centroids[c], vectors[rng.IntN(len(vectors))])
			continue
		}
		target := rng.Float32() * sum
		var cumsum float32
		chosen := len(vectors) - 1
		for i, d := range minDistSq {
			cumsum += d
			if cumsum >= target {
				chosen = i
				break
			}
		}
		copy(centroids[c], vectors[chosen])

		sum = 0
		for i, vec := range vectors {
			if d := distance.SquaredL2(vec, centroids[c]); d < minDistSq[i] {
				minDistSq[i] = d
			}
			sum += minDistSq[i]
		}
	}

	assignments := make([]int, len(vectors))
	for i := range assignments {
		assignments[i] = -1
	}
	counts := make([]int, k)
	sums := make([]float32, k*dim)
	for range maxIters {
		changed := false
		for i, vec := range vectors {
			if c := nearestCentroid(vec, centroids); assignments[i] != c {
				changed = true
				assignments[i] = c
			}
		}
		if !changed {
			break
		}

		clear(counts)
		clear(sums)
		for i, vec := range vectors {
			c := assignments[i]
			counts[c]++
			acc := sums[c*dim : (c+1)*dim]
			for j, v := range vec {
				acc[j] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for j := range centroids[c] {
				centroids[c][j] = sums[c*dim+j] / float32(counts[c])
			}
		}
	}
	return centroids
}

func nearestCentroid(vec []float32, centroids [][]float32) int {
	best := float32(math.MaxFloat32)
	idx := 0
	for i, c := range centroids {
		if d := distance.SquaredL2(vec, c); d < best {
			best, idx = d, i
		}
	}
	return idx
}
