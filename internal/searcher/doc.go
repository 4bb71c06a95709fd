// Package searcher implements the heaps and visited sets shared by the
// vector index implementations.
package searcher
