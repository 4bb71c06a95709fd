// Package mmap maps immutable local blobs read-only into memory.
//
// On unix platforms the mapping is done with golang.org/x/sys/unix. Elsewhere
// the file is read into a heap buffer so callers see the same API.
package mmap
