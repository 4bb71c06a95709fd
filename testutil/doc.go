// Package testutil provides helpers for tests and benchmarks.
//
// # Random Vectors
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UniformVectors(1000, 16)
//
// # Ground Truth
//
//	exact := testutil.BruteForceSearch(vecs, query, k, distance.MetricL2)
//	recall := testutil.ComputeRecall(exact, approx)
//
// # Tables
//
//	batch := testutil.ItemBatch(vecs, 0)
//
// produces rows of the ItemSchema shape (id, category, price, vector).
package testutil
