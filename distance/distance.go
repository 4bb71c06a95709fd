package distance

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// ErrInvalidMetric is returned by ParseMetric for unknown names.
var ErrInvalidMetric = errors.New("invalid distance type")

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	b = b[:len(a)]
	var s0, s1, s2, s3 float32
	i := 0
	for ; i+4 <= len(a); i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		s0 += a[i] * b[i]
	}
	return s0 + s1 + s2 + s3
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	b = b[:len(a)]
	var s0, s1, s2, s3 float32
	i := 0
	for ; i+4 <= len(a); i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
	}
	for ; i < len(a); i++ {
		d := a[i] - b[i]
		s0 += d * d
	}
	return s0 + s1 + s2 + s3
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// CosineDistance returns 1 - cos(a, b). A zero vector is at distance 1 from
// everything.
func CosineDistance(a, b []float32) float32 {
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - Dot(a, b)/(na*nb)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	n := Norm(v)
	if n == 0 {
		return false
	}
	inv := 1 / n
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Metric represents the distance metric used for vector comparison.
type Metric uint8

const (
	MetricL2 Metric = iota
	MetricCosine
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "l2"
	case MetricCosine:
		return "cosine"
	case MetricDot:
		return "dot"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(m))
	}
}

// ParseMetric parses "l2", "cosine" or "dot", ignoring case. "euclidean" is
// accepted as an alias of l2.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l2", "euclidean":
		return MetricL2, nil
	case "cosine":
		return MetricCosine, nil
	case "dot":
		return MetricDot, nil
	default:
		return 0, fmt.Errorf("%w '%s'. Must be one of l2, cosine, or dot", ErrInvalidMetric, s)
	}
}

// Func is a function type for distance calculation.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricL2:
		return SquaredL2, nil
	case MetricCosine:
		return CosineDistance, nil
	case MetricDot:
		return func(a, b []float32) float32 { return 1 - Dot(a, b) }, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetric, m)
	}
}

// Distance computes the distance between a and b under m. Unknown metrics
// fall back to L2.
func (m Metric) Distance(a, b []float32) float32 {
	switch m {
	case MetricCosine:
		return CosineDistance(a, b)
	case MetricDot:
		return 1 - Dot(a, b)
	default:
		return SquaredL2(a, b)
	}
}
