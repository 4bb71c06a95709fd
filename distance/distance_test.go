package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{"Zero", []float32{0, 0, 0}, []float32{0, 0, 0}, 0},
		{"Mixed", []float32{1, -1, 2}, []float32{1, 1, -2}, -4},
		{"Empty", []float32{}, []float32{}, 0},
		{"Single", []float32{2}, []float32{3}, 6},
		{"Unrolled", []float32{1, 1, 1, 1, 1, 1, 1}, []float32{1, 2, 3, 4, 5, 6, 7}, 28},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Dot(tt.a, tt.b), 1e-5)
		})
	}
}

func TestSquaredL2(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 27},
		{"Identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"Mixed", []float32{1, -1}, []float32{-1, 1}, 8},
		{"Empty", []float32{}, []float32{}, 0},
		{"Unrolled", []float32{0, 0, 0, 0, 0}, []float32{1, 1, 1, 1, 2}, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, SquaredL2(tt.a, tt.b), 1e-5)
		})
	}
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 1, CosineDistance([]float32{1, 0}, []float32{0, 3}), 1e-6)
	assert.InDelta(t, 2, CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Equal(t, float32(1), CosineDistance([]float32{0, 0}, []float32{1, 0}))
}

func TestParseMetric(t *testing.T) {
	for in, want := range map[string]Metric{"l2": MetricL2, "L2": MetricL2, "euclidean": MetricL2, "Cosine": MetricCosine, "dot": MetricDot} {
		m, err := ParseMetric(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, m)
	}

	_, err := ParseMetric("hamming")
	require.ErrorIs(t, err, ErrInvalidMetric)
	assert.Contains(t, err.Error(), "Must be one of l2, cosine, or dot")

	for _, m := range []Metric{MetricL2, MetricCosine, MetricDot} {
		back, err := ParseMetric(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, back)
	}
}

func TestProviderMatchesDistance(t *testing.T) {
	a, b := []float32{0.5, 1, -2}, []float32{1, 0, 3}
	for _, m := range []Metric{MetricL2, MetricCosine, MetricDot} {
		fn, err := Provider(m)
		require.NoError(t, err)
		assert.Equal(t, m.Distance(a, b), fn(a, b), m.String())
	}
	_, err := Provider(Metric(42))
	assert.ErrorIs(t, err, ErrInvalidMetric)
}

func TestNormalize(t *testing.T) {
	v, ok := NormalizeL2Copy([]float32{3, 4})
	require.True(t, ok)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	_, ok = NormalizeL2Copy([]float32{0, 0})
	assert.False(t, ok)
}
