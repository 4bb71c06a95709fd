package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/vectable/blobstore"
	"github.com/hupe1980/vectable/codec"
	"github.com/hupe1980/vectable/index"
	"github.com/hupe1980/vectable/internal/expr"
	"github.com/hupe1980/vectable/internal/manifest"
	"github.com/hupe1980/vectable/record"
)

// CreateMode decides what Create does when the table already exists.
type CreateMode uint8

const (
	// ModeCreate fails with ErrAlreadyExists.
	ModeCreate CreateMode = iota
	// ModeOverwrite replaces the data and schema in a new version.
	ModeOverwrite
	// ModeExistOK opens the existing table if its schema matches.
	ModeExistOK
)

// WriteMode selects how Add treats existing rows.
type WriteMode uint8

const (
	WriteAppend WriteMode = iota
	WriteOverwrite
)

// Table is a versioned table. All methods are safe for concurrent use.
type Table struct {
	name     string
	store    blobstore.BlobStore // manifests, writes and deletes
	data     blobstore.BlobStore // fragment and index reads, possibly cached
	versions *manifest.Store
	opts     options
	logger   *slog.Logger
	readOnly bool

	mu   sync.Mutex // serializes mutations
	snap atomic.Pointer[Snapshot]
	ix   *index.Index // guarded by mu; nil without an index

	scalars *scalarCache

	pool *fragmentPool
	pins *pinRegistry

	pendingMu sync.Mutex
	pending   map[string]struct{} // blobs written but not yet committed

	closed   atomic.Bool
	folding  atomic.Bool
	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// Exists reports whether a table has a committed version.
func Exists(ctx context.Context, store blobstore.BlobStore, name string) (bool, error) {
	_, err := manifest.NewStore(store, name+"/"+versionsDir).Current(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, manifest.ErrNotFound):
		return false, nil
	default:
		return false, ioErr("read CURRENT", err)
	}
}

// Create creates a table from schema and optional initial data. If data is
// given its schema is used.
func Create(ctx context.Context, store blobstore.BlobStore, name string, schema *record.Schema, data *record.Batch, mode CreateMode, opts ...Option) (*Table, error) {
	if data != nil {
		schema = data.Schema()
	}
	if err := validateSchema(schema); err != nil {
		return nil, err
	}

	exists, err := Exists(ctx, store, name)
	if err != nil {
		return nil, err
	}
	if exists {
		switch mode {
		case ModeCreate:
			return nil, fmt.Errorf("%w: table %q", ErrAlreadyExists, name)
		case ModeExistOK:
			t, err := Open(ctx, store, name, opts...)
			if err != nil {
				return nil, err
			}
			if !t.Schema().Equal(schema) {
				_ = t.Close()
				return nil, schemaMismatch("table %q exists with %s", name, t.Schema())
			}
			return t, nil
		case ModeOverwrite:
			t, err := Open(ctx, store, name, opts...)
			if err != nil {
				return nil, err
			}
			if data == nil {
				data = record.EmptyBatch(schema)
			}
			if _, err := t.Add(ctx, data, WriteOverwrite); err != nil {
				_ = t.Close()
				return nil, err
			}
			return t, nil
		}
	}

	rawSchema, err := codec.EncodeSchema(schema)
	if err != nil {
		return nil, err
	}
	t := newTable(store, name, false, nil, nil, opts)
	m := manifest.New(rawSchema).Next(manifest.OpCreate)
	if data != nil && data.NumRows() > 0 {
		stored, err := withRowIDs(data, 0)
		if err != nil {
			return nil, err
		}
		info, err := t.writeFragment(ctx, stored, m.NextFragmentID)
		if err != nil {
			return nil, err
		}
		m.Fragments = []manifest.FragmentInfo{info}
		m.NextFragmentID++
		m.NextRowID = uint64(data.NumRows())
	}
	if err := t.versions.Save(ctx, m); err != nil {
		if errors.Is(err, manifest.ErrConflict) {
			return nil, fmt.Errorf("%w: table %q", ErrAlreadyExists, name)
		}
		return nil, ioErr("commit", err)
	}
	if err := t.init(ctx, m); err != nil {
		return nil, err
	}
	t.logger.Info("table created", "version", m.ID, "rows", m.NumRows())
	return t, nil
}

// Open opens the current version of a table.
func Open(ctx context.Context, store blobstore.BlobStore, name string, opts ...Option) (*Table, error) {
	t := newTable(store, name, false, nil, nil, opts)
	m, err := t.versions.Load(ctx)
	if err != nil {
		if errors.Is(err, manifest.ErrNotFound) {
			return nil, fmt.Errorf("%w: table %q", ErrNotFound, name)
		}
		return nil, ioErr("load manifest", err)
	}
	if err := t.init(ctx, m); err != nil {
		return nil, err
	}
	t.logger.Debug("table opened", "version", m.ID, "fragments", len(m.Fragments))
	return t, nil
}

func newTable(store blobstore.BlobStore, name string, readOnly bool, pool *fragmentPool, pins *pinRegistry, opts []Option) *Table {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	data := store
	if o.cache != nil {
		data = blobstore.NewCachingStore(store, o.cache, o.blockSize)
	}
	if pool == nil {
		pool = newFragmentPool(data, name, o.resources)
	}
	if pins == nil {
		pins = newPinRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Table{
		name:     name,
		store:    store,
		data:     data,
		versions: manifest.NewStore(store, name+"/"+versionsDir),
		opts:     o,
		logger:   o.logger.With("table", name),
		readOnly: readOnly,
		pool:     pool,
		pins:     pins,
		pending:  make(map[string]struct{}),
		scalars:  newScalarCache(),
		bgCtx:    ctx,
		bgCancel: cancel,
	}
}

// init loads the index of m and publishes the first snapshot.
func (t *Table) init(ctx context.Context, m *manifest.Manifest) error {
	schema, err := codec.DecodeSchema(m.Schema)
	if err != nil {
		return err
	}
	// The index needs fragment access before the snapshot exists.
	tmp, err := newSnapshot(m, schema, t.pool, nil, t.pins)
	if err != nil {
		return err
	}
	defer tmp.DecRef()

	ix, err := t.loadIndex(ctx, tmp)
	if err != nil {
		return err
	}
	var gen *index.Generation
	if ix != nil {
		gen = ix.Current()
	}
	snap, err := newSnapshot(m, schema, t.pool, gen, t.pins)
	if err != nil {
		return err
	}
	t.ix = ix
	t.snap.Store(snap)
	return nil
}

// syncIndex applies update to the index after m was saved. m is durable
// at that point, so a failed update never fails the commit: the index is
// reloaded from m instead, or dropped until the next open if that fails
// too. Callers hold mu and publish m afterwards.
func (t *Table) syncIndex(ctx context.Context, m *manifest.Manifest, schema *record.Schema, update func() error) {
	err := update()
	if err == nil {
		return
	}
	t.logger.Warn("index update failed, reloading", "version", m.ID, "error", err)

	tmp, err := newSnapshot(m, schema, t.pool, nil, t.pins)
	if err == nil {
		defer tmp.DecRef()
		var ix *index.Index
		if ix, err = t.loadIndex(ctx, tmp); err == nil {
			t.ix = ix
			return
		}
	}
	t.logger.Warn("index unavailable until reopen", "version", m.ID, "error", err)
	t.ix = nil
}

// publish replaces the current snapshot. Callers hold mu.
func (t *Table) publish(m *manifest.Manifest, schema *record.Schema) error {
	var gen *index.Generation
	if t.ix != nil {
		gen = t.ix.Current()
	}
	snap, err := newSnapshot(m, schema, t.pool, gen, t.pins)
	if err != nil {
		return err
	}
	if old := t.snap.Swap(snap); old != nil {
		old.DecRef()
	}
	t.scalars.retain(m)
	return nil
}

// acquire pins the current snapshot. Release it with Snapshot.release.
func (t *Table) acquire() (*Snapshot, error) {
	for {
		if t.closed.Load() {
			return nil, ErrClosed
		}
		s := t.snap.Load()
		if s.TryIncRef() {
			n := t.pins.acquired.Add(1)
			t.opts.metrics.OnActiveSnapshots(t.name, n)
			return s, nil
		}
	}
}

func (t *Table) releaseSnapshot(s *Snapshot) {
	s.release()
	t.opts.metrics.OnActiveSnapshots(t.name, t.pins.acquired.Load())
}

func (t *Table) blobName(rel string) string { return t.name + "/" + rel }

func (t *Table) checkWritable() error {
	if t.closed.Load() {
		return ErrClosed
	}
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Schema returns the user schema of the current version.
func (t *Table) Schema() *record.Schema { return t.snap.Load().schema }

// Version returns the current version id.
func (t *Table) Version() uint64 { return t.snap.Load().manifest.ID }

// Add appends batch or replaces all rows with it and returns the new
// version id. Appending an empty batch commits nothing.
func (t *Table) Add(ctx context.Context, batch *record.Batch, mode WriteMode) (uint64, error) {
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	if batch == nil {
		return 0, invalidArg("batch is nil")
	}
	start := time.Now()
	op := manifest.OpAppend
	if mode == WriteOverwrite {
		op = manifest.OpOverwrite
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	version, err := t.add(ctx, batch, mode)
	t.opts.metrics.OnCommit(t.name, op.String(), batch.NumRows(), time.Since(start), err)
	if err != nil {
		t.logger.Warn("add failed", "op", op.String(), "error", err)
		return 0, err
	}
	t.maybeScheduleFold(false)
	return version, nil
}

func (t *Table) add(ctx context.Context, batch *record.Batch, mode WriteMode) (uint64, error) {
	cur := t.snap.Load()
	schema := cur.schema
	if mode == WriteOverwrite {
		if err := validateSchema(batch.Schema()); err != nil {
			return 0, err
		}
		schema = batch.Schema()
	} else {
		if batch.NumRows() == 0 {
			return cur.manifest.ID, nil
		}
		var err error
		if batch, err = conform(batch, schema); err != nil {
			return 0, err
		}
	}

	next := cur.manifest.Next(manifest.OpAppend)
	firstRowID := next.NextRowID
	if mode == WriteOverwrite {
		next.Operation = manifest.OpOverwrite
		next.Fragments = nil
		next.ScalarIndexes = overwriteScalars(cur.manifest.ScalarIndexes, cur.schema, schema, firstRowID)
		if !schema.Equal(cur.schema) {
			raw, err := codec.EncodeSchema(schema)
			if err != nil {
				return 0, err
			}
			next.Schema = raw
		}
	}

	var written []manifest.FragmentInfo
	if batch.NumRows() > 0 {
		stored, err := withRowIDs(batch, firstRowID)
		if err != nil {
			return 0, err
		}
		info, err := t.writeFragment(ctx, stored, next.NextFragmentID)
		if err != nil {
			return 0, err
		}
		written = append(written, info)
		next.Fragments = append(next.Fragments, info)
		next.NextFragmentID++
		next.NextRowID += uint64(batch.NumRows())
	}

	// An overwrite keeps the index only if its column survives unchanged.
	keepIndex := t.ix != nil
	if keepIndex && mode == WriteOverwrite {
		f, ok := schema.FieldByName(next.Index.Column)
		old, _ := cur.schema.FieldByName(next.Index.Column)
		keepIndex = ok && f.Type.Equal(old.Type)
		if keepIndex {
			next.Index.Path = ""
			next.Index.IndexedRows = 0
		} else {
			next.Index = nil
		}
	}

	if err := t.versions.Save(ctx, next); err != nil {
		return 0, ioErr("commit", err)
	}

	// The index follows the committed version only.
	if !keepIndex {
		t.ix = nil
	} else {
		t.syncIndex(ctx, next, schema, func() error {
			if mode == WriteOverwrite {
				if _, err := t.ix.Reset(firstRowID); err != nil {
					return err
				}
			}
			return t.bufferRows(ctx, written, next.Index.Column, firstRowID)
		})
	}

	if err := t.publish(next, schema); err != nil {
		return 0, err
	}
	t.logger.Info("committed", "version", next.ID, "op", next.Operation.String(), "rows", batch.NumRows(), "fragments", len(next.Fragments))
	return next.ID, nil
}

// bufferRows adds the vectors of rows >= from in infos to the index.
func (t *Table) bufferRows(ctx context.Context, infos []manifest.FragmentInfo, column string, from uint64) error {
	for _, info := range infos {
		f := t.pool.get(info)
		b, err := f.Load(ctx)
		if err != nil {
			f.DecRef()
			return err
		}
		entries, err := indexEntries(b, column, from)
		f.DecRef()
		if err != nil {
			return err
		}
		if _, err := t.ix.Add(entries...); err != nil {
			return convertIndexErr(err)
		}
	}
	return nil
}

// Delete removes all rows matching filter and returns their number. No
// version is committed when nothing matches.
func (t *Table) Delete(ctx context.Context, filter string) (int, error) {
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	start := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.delete(ctx, filter)
	t.opts.metrics.OnCommit(t.name, manifest.OpDelete.String(), n, time.Since(start), err)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.maybeScheduleFold(true)
	}
	return n, nil
}

func (t *Table) delete(ctx context.Context, filter string) (int, error) {
	cur := t.snap.Load()
	f, err := compileFilter(filter, cur.stored)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, invalidArg("delete requires a filter")
	}

	cands, err := t.indexCandidates(ctx, cur, f)
	if err != nil {
		return 0, err
	}
	next := cur.manifest.Next(manifest.OpDelete)
	frags, removed, err := t.rewrite(ctx, cur, fragmentSkipper(f, cands), f.Match, &next.NextFragmentID)
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}
	next.Fragments = frags
	if err := t.versions.Save(ctx, next); err != nil {
		return 0, ioErr("commit", err)
	}
	if err := t.publish(next, cur.schema); err != nil {
		return 0, err
	}
	t.logger.Info("committed", "version", next.ID, "op", "delete", "rows", removed, "fragments", len(frags))
	return removed, nil
}

// CountRows returns the number of rows matching filter; an empty filter
// counts all rows without reading any fragment. Fragments a btree or
// bitmap index answers exactly are counted without reading them either.
func (t *Table) CountRows(ctx context.Context, filter string) (int, error) {
	start := time.Now()
	n, err := t.countRows(ctx, filter)
	t.opts.metrics.OnQuery(t.name, "count", time.Since(start), err)
	return n, err
}

func (t *Table) countRows(ctx context.Context, filter string) (int, error) {
	snap, err := t.acquire()
	if err != nil {
		return 0, err
	}
	defer t.releaseSnapshot(snap)

	f, err := compileFilter(filter, snap.stored)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return int(snap.NumRows()), nil
	}
	cands, err := t.indexCandidates(ctx, snap, f)
	if err != nil {
		return 0, err
	}
	skip := fragmentSkipper(f, cands)
	total := 0
	for _, frag := range snap.fragments {
		info := frag.Info()
		if skip(info) {
			continue
		}
		if cands != nil && cands.exact && cands.covers(info) {
			total += int(cands.rows.AndCardinality(info.RowIDs))
			continue
		}
		b, err := frag.Load(ctx)
		if err != nil {
			return 0, err
		}
		n, err := f.Count(b)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func compileFilter(src string, schema *record.Schema) (*expr.Filter, error) {
	if src == "" {
		return nil, nil
	}
	f, err := expr.Compile(src, schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return f, nil
}

// prunable returns a predicate that reports fragments whose statistics rule
// out every row for f.
func prunable(f *expr.Filter) func(manifest.FragmentInfo) bool {
	bounds := f.Bounds()
	return func(info manifest.FragmentInfo) bool {
		for _, b := range bounds {
			if info.Stats.CanPrune(b.Column, b.Op, b.Value) {
				return true
			}
		}
		return false
	}
}

func convertIndexErr(err error) error {
	var dm *index.ErrDimensionMismatch
	switch {
	case errors.As(err, &dm):
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual}
	case errors.Is(err, index.ErrInvalidK):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return err
}

// TableStats summarizes the current version.
type TableStats struct {
	Version      uint64
	NumRows      uint64
	NumFragments int
	SizeBytes    int64
	IndexColumn  string
	IndexType    string
	// IndexQuantization is "pq" or "sq" for a quantized index.
	IndexQuantization string
	IndexedRows       int
	UnindexedRows     int
	ActiveSnapshots   int64
	CachedFragments   int
	ScalarIndexes     []ScalarIndexStats
}

// Stats returns statistics of the current version.
func (t *Table) Stats() TableStats {
	s := t.snap.Load()
	st := TableStats{
		Version:         s.manifest.ID,
		NumRows:         s.manifest.NumRows(),
		NumFragments:    len(s.fragments),
		SizeBytes:       s.manifest.Size(),
		ActiveSnapshots: t.pins.acquired.Load(),
		CachedFragments: t.pool.Len(),
		ScalarIndexes:   scalarStats(s.manifest),
	}
	if s.manifest.Index != nil && s.index != nil {
		st.IndexColumn = s.manifest.Index.Column
		st.IndexType = s.manifest.Index.Type
		st.IndexQuantization = s.manifest.Index.Quantization
		st.IndexedRows = s.index.Indexed()
		st.UnindexedRows = s.index.Unindexed()
	}
	return st
}

func (t *Table) String() string {
	s := t.Stats()
	return fmt.Sprintf("Table(%s, version=%d, rows=%d, fragments=%d, size=%s)",
		t.name, s.Version, s.NumRows, s.NumFragments, humanize.Bytes(uint64(s.SizeBytes)))
}

// Close stops background work and releases the current snapshot. Pinned
// snapshots stay readable until their cursors are closed.
func (t *Table) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.bgCancel()
	t.bg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.snap.Load(); s != nil {
		s.DecRef()
	}
	return nil
}
