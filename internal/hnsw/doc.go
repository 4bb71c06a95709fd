// Package hnsw implements Hierarchical Navigable Small World graphs.
//
// HNSW provides approximate nearest neighbor search with high recall and
// sub-linear query time. A Graph is single-writer: the vector index builds a
// new generation by cloning a graph, inserting into the clone and publishing
// it, so readers never observe a graph that is being modified.
//
// # Parameters
//
//   - M: max connections per node on upper layers, 2*M on layer 0 (default: 16)
//   - EFConstruction: candidate list size while inserting (default: 200)
//   - EFSearch: candidate list size while searching (default: 64)
//
// Search takes a liveness predicate over row ids. Dead nodes still route
// traversal but are never returned; when too few live results are found the
// candidate list is doubled and the layer-0 search repeated.
//
// # Reference
//
// Malkov & Yashunin, "Efficient and robust approximate nearest neighbor search
// using Hierarchical Navigable Small World graphs", IEEE TPAMI 2018.
package hnsw
