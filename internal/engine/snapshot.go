package engine

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vectable/index"
	"github.com/hupe1980/vectable/internal/manifest"
	"github.com/hupe1980/vectable/record"
)

// Snapshot is an immutable, reference-counted view of one table version.
type Snapshot struct {
	refs int64

	manifest  *manifest.Manifest
	schema    *record.Schema // user columns
	stored    *record.Schema // user columns plus _rowid
	fragments []*Fragment
	index     *index.Generation // nil without an index
	live      *roaring64.Bitmap

	pins *pinRegistry
}

func newSnapshot(m *manifest.Manifest, schema *record.Schema, pool *fragmentPool, gen *index.Generation, pins *pinRegistry) (*Snapshot, error) {
	stored, err := storedSchema(schema)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{
		refs:      1,
		manifest:  m,
		schema:    schema,
		stored:    stored,
		fragments: make([]*Fragment, len(m.Fragments)),
		index:     gen,
		live:      m.RowIDs(),
		pins:      pins,
	}
	for i, info := range m.Fragments {
		s.fragments[i] = pool.get(info)
	}
	pins.add(m.ID)
	return s, nil
}

// Version returns the manifest id of the snapshot.
func (s *Snapshot) Version() uint64 { return s.manifest.ID }

// Schema returns the user schema.
func (s *Snapshot) Schema() *record.Schema { return s.schema }

// NumRows returns the number of live rows.
func (s *Snapshot) NumRows() uint64 { return s.manifest.NumRows() }

// IsLive reports whether rowID belongs to the snapshot.
func (s *Snapshot) IsLive(rowID uint64) bool { return s.live.Contains(rowID) }

func (s *Snapshot) IncRef() {
	atomic.AddInt64(&s.refs, 1)
}

// TryIncRef increments the reference count unless the snapshot is already
// destroyed.
func (s *Snapshot) TryIncRef() bool {
	for {
		refs := atomic.LoadInt64(&s.refs)
		if refs <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.refs, refs, refs+1) {
			return true
		}
	}
}

func (s *Snapshot) DecRef() {
	if atomic.AddInt64(&s.refs, -1) == 0 {
		for _, f := range s.fragments {
			f.DecRef()
		}
		s.pins.remove(s.manifest.ID)
	}
}

// release drops a reference taken by Table.acquire.
func (s *Snapshot) release() {
	s.pins.acquired.Add(-1)
	s.DecRef()
}

// pinRegistry tracks which versions are held by live snapshots. It is
// shared by a table and its checkouts so Cleanup never deletes a version
// that is still readable.
type pinRegistry struct {
	mu       sync.Mutex
	versions map[uint64]int
	acquired atomic.Int64
}

func newPinRegistry() *pinRegistry {
	return &pinRegistry{versions: make(map[uint64]int)}
}

func (p *pinRegistry) add(id uint64) {
	p.mu.Lock()
	p.versions[id]++
	p.mu.Unlock()
}

func (p *pinRegistry) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.versions[id] <= 1 {
		delete(p.versions, id)
		return
	}
	p.versions[id]--
}

func (p *pinRegistry) pinned() map[uint64]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uint64]bool, len(p.versions))
	for id := range p.versions {
		out[id] = true
	}
	return out
}

func storedSchema(schema *record.Schema) (*record.Schema, error) {
	return schema.Append(record.Field{Name: RowIDColumn, Type: record.Int64Type})
}
