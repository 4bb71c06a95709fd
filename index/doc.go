// Package index provides the vector index of a table.
//
// Two index types are supported:
//
//   - Flat: exact nearest neighbor search (brute force, recall 1.0)
//   - HNSW: Hierarchical Navigable Small World graph for approximate search
//
// # Generations
//
// An Index publishes immutable Generations through an atomic pointer. A
// Generation is the indexed structure (graph or flat store) plus a buffer of
// vectors that were added since the last fold. Queries pin one Generation for
// their lifetime; writers build a successor and swap it in.
//
// Buffered vectors are always searched by brute force, so a query never
// misses a row because it has not been folded yet.
//
// # Folding
//
// Fold builds a successor in which the buffer has been inserted into the
// indexed structure. When the fraction of dead rows in the structure exceeds
// the rebuild threshold the structure is rebuilt from live rows instead. A
// FoldPolicy decides when a table schedules a fold:
//
//	ThresholdPolicy{MaxUnindexed: 1024} // fold once 1024 rows are buffered
//	ManualPolicy{}                      // only OptimizeIndex folds
//
// # Persistence
//
// Generations marshal to a blob with a "VIX1" header, a CRC32C checksum and
// a zstd compressed payload. The buffer is not persisted: rows at or above
// the generation's watermark are re-buffered from table data on open.
package index
