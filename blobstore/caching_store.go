package blobstore

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/vectable/internal/cache"
	"golang.org/x/sync/errgroup"
)

// DefaultBlockSize is the cache granularity used when none is configured.
const DefaultBlockSize = 64 * 1024

// CachingStore wraps a BlobStore and caches reads in fixed-size blocks.
// Writes and deletes invalidate the affected name.
type CachingStore struct {
	inner     BlobStore
	cache     cache.BlockCache
	blockSize int64
}

// NewCachingStore creates a new CachingStore.
// blockSize defaults to DefaultBlockSize if <= 0.
func NewCachingStore(inner BlobStore, c cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &CachingStore{
		inner:     inner,
		cache:     c,
		blockSize: blockSize,
	}
}

// Inner returns the wrapped store.
func (s *CachingStore) Inner() BlobStore {
	return s.inner
}

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &CachingBlob{
		inner:     b,
		cache:     s.cache,
		name:      name,
		blockSize: s.blockSize,
	}, nil
}

func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.invalidate(name)
	return s.inner.Create(ctx, name)
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) ListDirs(ctx context.Context, prefix string) ([]string, error) {
	return ListDirs(ctx, s.inner, prefix)
}

func (s *CachingStore) invalidate(name string) {
	s.cache.Invalidate(func(key cache.Key) bool {
		return key.Kind == cache.KindBlob && key.Path == name
	})
}

// CachingBlob wraps a Blob and serves reads from the block cache.
type CachingBlob struct {
	inner     Blob
	cache     cache.BlockCache
	name      string
	blockSize int64
}

func (b *CachingBlob) Close() error {
	return b.inner.Close()
}

func (b *CachingBlob) Size() int64 {
	return b.inner.Size()
}

func (b *CachingBlob) key(blk int64) cache.Key {
	return cache.Key{Kind: cache.KindBlob, Path: b.name, Block: uint64(blk)}
}

func (b *CachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	size := b.Size()
	if off >= size {
		return 0, io.EOF
	}

	end := min(off+int64(len(p)), size)
	startBlock := off / b.blockSize
	endBlock := (end - 1) / b.blockSize

	if err := b.fillCache(ctx, startBlock, endBlock); err != nil {
		return 0, err
	}

	total := 0
	for blk := startBlock; blk <= endBlock; blk++ {
		blkStart := blk * b.blockSize
		from := max(blkStart, off)
		to := min(blkStart+b.blockSize, end)

		data, err := b.fetchBlock(ctx, blk)
		if err != nil {
			return total, err
		}
		src := from - blkStart
		if src >= int64(len(data)) {
			break
		}
		total += copy(p[from-off:to-off], data[src:])
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

type blockRun struct {
	start, count int64
}

// fillCache loads missing blocks in [startBlock, endBlock], fetching each
// contiguous run of misses with one backend request.
func (b *CachingBlob) fillCache(ctx context.Context, startBlock, endBlock int64) error {
	var runs []blockRun
	for blk := startBlock; blk <= endBlock; blk++ {
		if _, ok := b.cache.Get(ctx, b.key(blk)); ok {
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].start+runs[n-1].count == blk {
			runs[n-1].count++
		} else {
			runs = append(runs, blockRun{start: blk, count: 1})
		}
	}
	if len(runs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)

	size := b.Size()
	for _, run := range runs {
		g.Go(func() error {
			byteStart := run.start * b.blockSize
			byteSize := min(run.count*b.blockSize, size-byteStart)
			if byteSize <= 0 {
				return nil
			}

			buf := make([]byte, byteSize)
			n, err := b.inner.ReadAt(gctx, buf, byteStart)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			buf = buf[:n]

			for i := int64(0); i < run.count; i++ {
				lo := i * b.blockSize
				if lo >= int64(len(buf)) {
					break
				}
				hi := min(lo+b.blockSize, int64(len(buf)))
				// Copy so a cached block does not pin the whole run buffer.
				blk := make([]byte, hi-lo)
				copy(blk, buf[lo:hi])
				b.cache.Set(gctx, b.key(run.start+i), blk)
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *CachingBlob) fetchBlock(ctx context.Context, blk int64) ([]byte, error) {
	if data, ok := b.cache.Get(ctx, b.key(blk)); ok {
		return data, nil
	}

	// Evicted between fill and copy, or refused by the cache.
	buf := make([]byte, b.blockSize)
	n, err := b.inner.ReadAt(ctx, buf, blk*b.blockSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	buf = buf[:n]
	if n > 0 {
		b.cache.Set(ctx, b.key(blk), buf)
	}
	return buf, nil
}

func (b *CachingBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	return io.NopCloser(&contextSectionReader{blob: b, ctx: ctx, off: off, limit: off + length}), nil
}

type contextSectionReader struct {
	blob  *CachingBlob
	ctx   context.Context
	off   int64
	limit int64
}

func (r *contextSectionReader) Read(p []byte) (int, error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if remaining := r.limit - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)
	return n, err
}
