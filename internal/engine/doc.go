// Package engine implements versioned tables on top of a blob store.
//
// A table is a directory of immutable blobs:
//
//	<table>/_versions/MANIFEST-000001.bin  one manifest per version
//	<table>/_versions/CURRENT              name of the current manifest
//	<table>/data/000003-<uuid>.vtf         encoded fragments
//	<table>/_indices/<uuid>.vidx           persisted vector index
//
// Every mutation writes new fragment blobs, then a new manifest, then swaps
// CURRENT. A mutation that fails before the swap leaves the table unchanged;
// its blobs are orphans that Cleanup reclaims.
//
// # Snapshots
//
// The current state of a table is a reference-counted Snapshot published
// through an atomic pointer. Queries acquire the snapshot at start and read
// only from it, so concurrent mutations never affect them. Fragments are
// shared between snapshots through a reference-counted pool and are decoded
// lazily on first access.
//
// # Concurrency
//
// Mutations on one table are serialized by a per-table mutex and applied in
// program order. Queries never take that mutex. Index folds run in the
// background under the resource controller and commit their result as an
// optimize_index version.
package engine
