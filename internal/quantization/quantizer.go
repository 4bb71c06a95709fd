// Package quantization compresses index vectors into compact codes.
//
// Two methods are available: product quantization (PQ), which encodes each
// subvector as the index of its nearest k-means centroid, and 4-bit scalar
// quantization (SQ), which packs two dimensions into a byte.
package quantization

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/internal/binenc"
)

// MaxTrainingVectors caps the sample a quantizer is trained on.
const MaxTrainingVectors = 4096

var (
	// ErrNotTrained is returned when encoding with an untrained quantizer.
	ErrNotTrained = errors.New("quantization: not trained")

	// ErrNoTrainingData is returned by Train for an empty sample.
	ErrNoTrainingData = errors.New("quantization: no training vectors")
)

// Kind selects a quantization method.
type Kind uint8

const (
	KindNone Kind = iota
	KindPQ
	KindSQ
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPQ:
		return "pq"
	case KindSQ:
		return "sq"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind maps "none", "pq" and "sq" (case-insensitive) to a Kind. The
// empty string is none.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return KindNone, nil
	case "pq":
		return KindPQ, nil
	case "sq", "int4":
		return KindSQ, nil
	default:
		return 0, fmt.Errorf("invalid quantization %q", s)
	}
}

// Quantizer encodes vectors of a fixed dimension into codes of a fixed size.
type Quantizer interface {
	Kind() Kind
	Dim() int
	CodeSize() int
	Encode(v []float32) ([]byte, error)
	Decode(code []byte) ([]float32, error)
	// Scorer returns a function computing the approximate distance under m
	// between q and an encoded vector. The returned function is not safe
	// for concurrent use.
	Scorer(q []float32, m distance.Metric) func(code []byte) float32
	encode(w *binenc.Writer)
}

// DefaultSubvectors returns the largest of 16, 8, 4 and 2 that divides dim,
// or 1.
func DefaultSubvectors(dim int) int {
	for _, m := range []int{16, 8, 4, 2} {
		if dim%m == 0 && dim >= m {
			return m
		}
	}
	return 1
}

// Validate checks a configuration before any data is seen.
func Validate(kind Kind, dim, subvectors int) error {
	switch kind {
	case KindNone, KindSQ:
		return nil
	case KindPQ:
		if subvectors < 0 {
			return fmt.Errorf("pq subvectors must not be negative, got %d", subvectors)
		}
		if subvectors > 0 && (subvectors > dim || dim%subvectors != 0) {
			return fmt.Errorf("dimension %d is not divisible into %d pq subvectors", dim, subvectors)
		}
		return nil
	default:
		return fmt.Errorf("unknown quantization %v", kind)
	}
}

// Train fits a quantizer of the given kind. subvectors only applies to PQ;
// zero picks DefaultSubvectors. Samples larger than MaxTrainingVectors are
// thinned evenly.
func Train(kind Kind, dim, subvectors int, vectors [][]float32) (Quantizer, error) {
	if err := Validate(kind, dim, subvectors); err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, ErrNoTrainingData
	}
	for _, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("quantization: training vector has dimension %d, want %d", len(v), dim)
		}
	}
	sample := thin(vectors, MaxTrainingVectors)

	switch kind {
	case KindPQ:
		if subvectors == 0 {
			subvectors = DefaultSubvectors(dim)
		}
		pq, err := NewProductQuantizer(dim, subvectors, min(maxCentroids, len(sample)))
		if err != nil {
			return nil, err
		}
		if err := pq.Train(sample); err != nil {
			return nil, err
		}
		return pq, nil
	case KindSQ:
		q := NewInt4Quantizer(dim)
		if err := q.Train(sample); err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("quantization %v cannot be trained", kind)
	}
}

func thin(vectors [][]float32, limit int) [][]float32 {
	if len(vectors) <= limit {
		return vectors
	}
	out := make([][]float32, limit)
	for i := range out {
		out[i] = vectors[i*len(vectors)/limit]
	}
	return out
}

// Encode appends q to w, kind first.
func Encode(w *binenc.Writer, q Quantizer) {
	w.U8(uint8(q.Kind()))
	q.encode(w)
}

// Decode reads a quantizer written by Encode.
func Decode(r *binenc.Reader) (Quantizer, error) {
	switch kind := Kind(r.U8()); kind {
	case KindPQ:
		return decodePQ(r)
	case KindSQ:
		return decodeInt4(r)
	default:
		if err := r.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("quantization: unknown kind %d", kind)
	}
}
