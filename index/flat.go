package index

import (
	"slices"

	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/internal/quantization"
	"github.com/hupe1980/vectable/internal/searcher"
)

// flatStore is the structure of a flat index: vectors in insertion order.
// Appends go to a clipped copy so published stores are never modified.
// A quantized store keeps codes instead of vectors.
type flatStore struct {
	dim     int
	rowIDs  []uint64
	vectors []float32

	quant quantization.Quantizer
	codes []byte
}

func (f *flatStore) len() int { return len(f.rowIDs) }

func (f *flatStore) vector(i int) []float32 {
	if f.quant != nil {
		// Stored codes always decode.
		v, _ := f.quant.Decode(f.code(i))
		return v
	}
	off := i * f.dim
	return f.vectors[off : off+f.dim : off+f.dim]
}

func (f *flatStore) code(i int) []byte {
	n := f.quant.CodeSize()
	return f.codes[i*n : (i+1)*n : (i+1)*n]
}

func (f *flatStore) clone() *flatStore {
	return &flatStore{
		dim:     f.dim,
		rowIDs:  slices.Clip(f.rowIDs),
		vectors: slices.Clip(f.vectors),
		quant:   f.quant,
		codes:   slices.Clip(f.codes),
	}
}

func (f *flatStore) add(e Entry) error {
	if f.quant != nil {
		c, err := f.quant.Encode(e.Vector)
		if err != nil {
			return err
		}
		f.rowIDs = append(f.rowIDs, e.RowID)
		f.codes = append(f.codes, c...)
		return nil
	}
	f.rowIDs = append(f.rowIDs, e.RowID)
	f.vectors = append(f.vectors, e.Vector...)
	return nil
}

func (f *flatStore) search(q []float32, k int, m distance.Metric, live func(uint64) bool) []Result {
	top := searcher.NewTopK(k)
	if f.quant != nil {
		score := f.quant.Scorer(q, m)
		for i, id := range f.rowIDs {
			if live != nil && !live(id) {
				continue
			}
			top.Push(id, score(f.code(i)))
		}
		return toResults(top)
	}
	for i, id := range f.rowIDs {
		if live != nil && !live(id) {
			continue
		}
		top.Push(id, m.Distance(q, f.vector(i)))
	}
	return toResults(top)
}

// bruteForce scores every live entry exactly.
func bruteForce(entries []Entry, q []float32, k int, m distance.Metric, live func(uint64) bool) []Result {
	top := searcher.NewTopK(k)
	for _, e := range entries {
		if live != nil && !live(e.RowID) {
			continue
		}
		top.Push(e.RowID, m.Distance(q, e.Vector))
	}
	return toResults(top)
}

func toResults(top *searcher.TopK) []Result {
	items := top.Results()
	out := make([]Result, len(items))
	for i, it := range items {
		out[i] = Result{RowID: it.ID, Distance: it.Distance}
	}
	return out
}
