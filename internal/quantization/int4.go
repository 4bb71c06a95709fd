package quantization

import (
	"fmt"
	"math"

	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/internal/binenc"
)

// Int4Quantizer implements 4-bit scalar quantization: each dimension is
// mapped onto 16 levels between its trained min and max, and two
// dimensions are packed into a byte.
type Int4Quantizer struct {
	dim  int
	min  []float32
	diff []float32
}

// NewInt4Quantizer creates an untrained quantizer.
func NewInt4Quantizer(dim int) *Int4Quantizer {
	return &Int4Quantizer{dim: dim}
}

func (q *Int4Quantizer) Kind() Kind { return KindSQ }
func (q *Int4Quantizer) Dim() int { return q.dim }
func (q *Int4Quantizer) CodeSize() int { return (q.dim + 1) / 2 }

// Train records the per-dimension value ranges.
func (q *Int4Quantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return ErrNoTrainingData
	}
	lo := make([]float32, q.dim)
	hi := make([]float32, q.dim)
	copy(lo, vectors[0])
	copy(hi, vectors[0])
	for _, v := range vectors {
		if len(v) != q.dim {
			return fmt.Errorf("quantization: vector has dimension %d, want %d", len(v), q.dim)
		}
		for i, val := range v {
			lo[i] = min(lo[i], val)
			hi[i] = max(hi[i], val)
		}
	}
	q.min = lo
	q.diff = make([]float32, q.dim)
	for i := range q.diff {
		q.diff[i] = hi[i] - lo[i]
		if q.diff[i] == 0 {
			q.diff[i] = 1 // Avoid division by zero
		}
	}
	return nil
}

func (q *Int4Quantizer) level(i int, v float32) byte {
	n := (v - q.min[i]) / q.diff[i]
	if n != n || n < 0 {
		n = 0
	} else if n > 1 {
		n = 1
	}
	return byte(math.Round(float64(n) * 15))
}

// Encode packs v as high nibble then low nibble.
func (q *Int4Quantizer) Encode(v []float32) ([]byte, error) {
	if q.min == nil {
		return nil, ErrNotTrained
	}
	if len(v) != q.dim {
		return nil, fmt.Errorf("quantization: vector has dimension %d, want %d", len(v), q.dim)
	}
	out := make([]byte, q.CodeSize())
	for i := 0; i < q.dim; i += 2 {
		hi := q.level(i, v[i])
		var lo byte
		if i+1 < q.dim {
			lo = q.level(i+1, v[i+1])
		}
		out[i/2] = hi<<4 | lo&0x0F
	}
	return out, nil
}

// Decode reconstructs the vector.
func (q *Int4Quantizer) Decode(code []byte) ([]float32, error) {
	out := make([]float32, q.dim)
	if err := q.decodeInto(out, code); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Int4Quantizer) decodeInto(dst []float32, code []byte) error {
	if q.min == nil {
		return ErrNotTrained
	}
	if len(code) != q.CodeSize() {
		return fmt.Errorf("quantization: code has %d bytes, want %d", len(code), q.CodeSize())
	}
	for i := 0; i < q.dim; i += 2 {
		b := code[i/2]
		dst[i] = float32(b>>4)/15*q.diff[i] + q.min[i]
		if i+1 < q.dim {
			dst[i+1] = float32(b&0x0F)/15*q.diff[i+1] + q.min[i+1]
		}
	}
	return nil
}

// L2Distance computes the squared L2 distance between query and a code
// without materializing the reconstruction.
func (q *Int4Quantizer) L2Distance(query []float32, code []byte) float32 {
	var s float32
	for i := 0; i < q.dim; i += 2 {
		b := code[i/2]
		d := query[i] - (float32(b>>4)/15*q.diff[i] + q.min[i])
		s += d * d
		if i+1 < q.dim {
			d = query[i+1] - (float32(b&0x0F)/15*q.diff[i+1] + q.min[i+1])
			s += d * d
		}
	}
	return s
}

func (q *Int4Quantizer) Scorer(query []float32, m distance.Metric) func([]byte) float32 {
	if m == distance.MetricL2 {
		return func(code []byte) float32 { return q.L2Distance(query, code) }
	}
	buf := make([]float32, q.dim)
	return func(code []byte) float32 {
		if err := q.decodeInto(buf, code); err != nil {
			return float32(math.Inf(1))
		}
		return m.Distance(query, buf)
	}
}

func (q *Int4Quantizer) encode(w *binenc.Writer) {
	w.U32(uint32(q.dim))
	for _, v := range q.min {
		w.F32(v)
	}
	for _, v := range q.diff {
		w.F32(v)
	}
}

func decodeInt4(r *binenc.Reader) (*Int4Quantizer, error) {
	dim := int(r.U32())
	if err := r.Err(); err != nil {
		return nil, err
	}
	if dim <= 0 || r.Remaining() < dim*8 {
		return nil, fmt.Errorf("quantization: invalid int4 state for dimension %d", dim)
	}
	q := NewInt4Quantizer(dim)
	q.min = make([]float32, dim)
	q.diff = make([]float32, dim)
	for i := range q.min {
		q.min[i] = r.F32()
	}
	for i := range q.diff {
		q.diff[i] = r.F32()
	}
	return q, r.Err()
}
