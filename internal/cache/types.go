package cache

import "context"

// Kind separates key spaces.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindBlob         // raw blob blocks
	KindManifest     // manifest payloads
)

// Key identifies one cached block. Blobs are immutable once written, so
// the name and block index are enough; overwritten names must be invalidated.
type Key struct {
	Kind  Kind
	Path  string
	Block uint64
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	Get(ctx context.Context, key Key) ([]byte, bool)
	Set(ctx context.Context, key Key, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key Key) bool)
	Stats() Stats
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64
	Misses  int64
	Bytes   int64
	Entries int
}
