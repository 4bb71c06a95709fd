// Package distance provides the vector distance functions used for search.
//
// # Supported Metrics
//
//   - MetricL2: squared Euclidean distance (default)
//   - MetricCosine: 1 - cosine similarity
//   - MetricDot: 1 - dot product
//
// Every metric is a distance: smaller is closer, so results of all metrics
// sort ascending.
//
// # Usage
//
//	m, err := distance.ParseMetric("cosine")
//	d := m.Distance(a, b)
package distance
