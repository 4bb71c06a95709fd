package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vectable/blobstore"
	"github.com/hupe1980/vectable/codec"
	"github.com/hupe1980/vectable/internal/manifest"
	"github.com/hupe1980/vectable/internal/resource"
	"github.com/hupe1980/vectable/record"
)

// Fragment is a reference-counted handle to one fragment blob. The decoded
// batch is kept while the fragment is referenced by any snapshot.
type Fragment struct {
	info manifest.FragmentInfo
	refs atomic.Int64
	pool *fragmentPool

	mu       sync.Mutex
	batch    *record.Batch
	reserved int64
}

// Info returns the manifest entry of the fragment.
func (f *Fragment) Info() manifest.FragmentInfo { return f.info }

func (f *Fragment) IncRef() {
	f.pool.mu.Lock()
	f.refs.Add(1)
	f.pool.mu.Unlock()
}

func (f *Fragment) DecRef() {
	f.pool.release(f)
}

// Load returns the decoded batch, reading the blob on first use.
func (f *Fragment) Load(ctx context.Context) (*record.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batch != nil {
		return f.batch, nil
	}

	data, err := blobstore.ReadAll(ctx, f.pool.store, f.pool.path(f.info.Path))
	if err != nil {
		return nil, ioErr("read fragment "+f.info.Path, err)
	}
	b, err := codec.Decode(data)
	if err != nil {
		return nil, err
	}
	if uint64(b.NumRows()) != f.info.RowCount {
		return nil, schemaMismatch("fragment %s has %d rows, manifest says %d", f.info.Path, b.NumRows(), f.info.RowCount)
	}
	// Keep the batch only if the memory budget allows; otherwise it is
	// decoded again on the next access.
	if f.pool.resources.TryAcquireMemory(int64(len(data))) {
		f.batch = b
		f.reserved = int64(len(data))
	}
	return b, nil
}

func (f *Fragment) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batch = nil
	f.pool.resources.ReleaseMemory(f.reserved)
	f.reserved = 0
}

// fragmentPool shares Fragments between the snapshots of one table.
type fragmentPool struct {
	store     blobstore.BlobStore
	dir       string
	resources *resource.Controller

	mu    sync.Mutex
	items map[string]*Fragment
}

func newFragmentPool(store blobstore.BlobStore, dir string, rc *resource.Controller) *fragmentPool {
	return &fragmentPool{store: store, dir: dir, resources: rc, items: make(map[string]*Fragment)}
}

func (p *fragmentPool) path(rel string) string { return p.dir + "/" + rel }

// get returns a referenced handle for info.
func (p *fragmentPool) get(info manifest.FragmentInfo) *Fragment {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.items[info.Path]; ok {
		f.refs.Add(1)
		return f
	}
	f := &Fragment{info: info, pool: p}
	f.refs.Store(1)
	p.items[info.Path] = f
	return f
}

func (p *fragmentPool) release(f *Fragment) {
	p.mu.Lock()
	last := f.refs.Add(-1) == 0
	if last {
		delete(p.items, f.info.Path)
	}
	p.mu.Unlock()
	if last {
		f.drop()
	}
}

// Len returns the number of live fragment handles.
func (p *fragmentPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
