// Package resource bounds the shared resources of a connection: memory held
// by the block cache, the number of concurrent background index folds, and
// the byte rate of background writes.
package resource
