package engine

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/vectable/blobstore"
	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/index"
	"github.com/hupe1980/vectable/internal/manifest"
	"github.com/hupe1980/vectable/internal/quantization"
	"github.com/hupe1980/vectable/record"
)

// IndexOptions configures CreateIndex. Zero fields take the defaults of
// index.DefaultOptions.
type IndexOptions struct {
	Type           index.Type
	Metric         distance.Metric
	M              int
	EFConstruction int
	EFSearch       int
	// Quantization compresses the indexed vectors. Searches then rank by
	// approximate distances; VectorPlan.RefineFactor restores exact order.
	Quantization quantization.Kind
	// PQSubvectors applies to product quantization. Zero picks a divisor
	// of the dimension.
	PQSubvectors int
	// Replace allows replacing an existing index.
	Replace bool
}

func (o IndexOptions) resolve() index.Options {
	opts := index.DefaultOptions()
	if o.Type != 0 {
		opts.Type = o.Type
	}
	if o.Metric != 0 {
		opts.Metric = o.Metric
	}
	if o.M > 0 {
		opts.M = o.M
	}
	if o.EFConstruction > 0 {
		opts.EFConstruction = o.EFConstruction
	}
	if o.EFSearch > 0 {
		opts.EFSearch = o.EFSearch
	}
	opts.Quantization = o.Quantization
	opts.PQSubvectors = o.PQSubvectors
	return opts
}

func quantizationName(k quantization.Kind) string {
	if k == quantization.KindNone {
		return ""
	}
	return k.String()
}

func vectorField(schema *record.Schema, column string) (record.Field, error) {
	if column == "" {
		column = schema.VectorColumn()
		if column == "" {
			return record.Field{}, invalidArg("table has no vector column")
		}
	}
	f, ok := schema.FieldByName(column)
	if !ok {
		return record.Field{}, invalidArg("unknown column %q", column)
	}
	if f.Type.ID != record.TypeVector {
		return record.Field{}, invalidArg("column %q has type %s, not a vector", column, f.Type)
	}
	return f, nil
}

// CreateIndex builds a vector index over column ("" for the schema's vector
// column) from all current rows and commits it as a create_index version.
func (t *Table) CreateIndex(ctx context.Context, column string, o IndexOptions) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	start := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.createIndex(ctx, column, o)
	t.opts.metrics.OnCommit(t.name, manifest.OpCreateIndex.String(), rows, time.Since(start), err)
	return err
}

func (t *Table) createIndex(ctx context.Context, column string, o IndexOptions) (int, error) {
	cur := t.snap.Load()
	f, err := vectorField(cur.schema, column)
	if err != nil {
		return 0, err
	}
	if cur.manifest.Index != nil && !o.Replace {
		return 0, invalidArg("index on %q already exists", cur.manifest.Index.Column)
	}
	opts := o.resolve()
	if err := quantization.Validate(opts.Quantization, f.Type.Dim, opts.PQSubvectors); err != nil {
		return 0, invalidArg("%v", err)
	}

	var entries []index.Entry
	for _, frag := range cur.fragments {
		b, err := frag.Load(ctx)
		if err != nil {
			return 0, err
		}
		e, err := indexEntries(b, f.Name, 0)
		if err != nil {
			return 0, err
		}
		entries = append(entries, e...)
	}
	ix, err := index.Build(f.Type.Dim, entries, opts)
	if err != nil {
		return 0, convertIndexErr(err)
	}
	gen := ix.Current()

	data, err := gen.MarshalBinary()
	if err != nil {
		return 0, err
	}
	path := indexPath()
	if err := blobstore.WriteAll(ctx, t.store, t.blobName(path), data); err != nil {
		return 0, ioErr("write index", err)
	}

	next := cur.manifest.Next(manifest.OpCreateIndex)
	next.Index = &manifest.IndexInfo{
		Column:         f.Name,
		Type:           opts.Type.String(),
		Metric:         opts.Metric.String(),
		M:              opts.M,
		EFConstruction: opts.EFConstruction,
		EFSearch:       opts.EFSearch,
		Path:           path,
		IndexedRows:    uint64(gen.Indexed()),
		Quantization:   quantizationName(opts.Quantization),
		PQSubvectors:   opts.PQSubvectors,
	}
	if err := t.versions.Save(ctx, next); err != nil {
		return 0, ioErr("commit", err)
	}
	t.ix = ix
	if err := t.publish(next, cur.schema); err != nil {
		return 0, err
	}
	t.logger.Info("index created", "version", next.ID, "column", f.Name, "type", opts.Type.String(), "quantization", opts.Quantization.String(), "rows", len(entries))
	return len(entries), nil
}

// OptimizeIndex folds buffered vectors into the vector index and extends
// the scalar indexes with rows added since they were built. It is a no-op
// without indexes.
func (t *Table) OptimizeIndex(ctx context.Context) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := t.fold(ctx); err != nil {
		return err
	}
	return t.optimizeScalars(ctx)
}

// maybeScheduleFold starts a background fold if the policy asks for one or,
// with checkDead, too many indexed rows are dead. Callers hold mu.
func (t *Table) maybeScheduleFold(checkDead bool) {
	if t.ix == nil || t.readOnly || t.closed.Load() {
		return
	}
	gen := t.ix.Current()
	snap := t.snap.Load()
	if !t.opts.foldPolicy.ShouldFold(gen) && (!checkDead || gen.DeadFraction(snap.IsLive) <= gen.Options().RebuildDeadFraction) {
		return
	}
	if !t.folding.CompareAndSwap(false, true) {
		return
	}
	t.bg.Add(1)
	go func() {
		defer t.bg.Done()
		defer t.folding.Store(false)
		if err := t.opts.resources.RunBackground(t.bgCtx, t.fold); err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Warn("background fold failed", "error", err)
		}
	}()
}

// fold folds the current index generation outside the table lock and
// commits the result as an optimize_index version. A fold that lost a race
// against an overwrite or another fold is dropped.
func (t *Table) fold(ctx context.Context) (err error) {
	start := time.Now()
	rows := 0
	defer func() {
		if rows > 0 || err != nil {
			t.opts.metrics.OnFold(t.name, rows, time.Since(start), err)
		}
	}()

	t.mu.Lock()
	ix := t.ix
	if ix == nil {
		t.mu.Unlock()
		return nil
	}
	// The base generation and the snapshot must describe the same rows.
	base := ix.Current()
	snap, err := t.acquire()
	t.mu.Unlock()
	if err != nil {
		return err
	}
	defer t.releaseSnapshot(snap)

	if base.Unindexed() == 0 && base.DeadFraction(snap.IsLive) <= base.Options().RebuildDeadFraction {
		return nil
	}
	folded, err := base.Fold(ctx, snap.IsLive)
	if err != nil {
		return err
	}
	data, err := folded.MarshalBinary()
	if err != nil {
		return err
	}

	path := indexPath()
	t.markPending(path)
	defer t.unmarkPending(path)
	if err := blobstore.WriteAll(ctx, t.store, t.blobName(path), data); err != nil {
		return ioErr("write index", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ix != ix || t.closed.Load() {
		return nil
	}
	if _, err := ix.Install(base, folded); err != nil {
		if errors.Is(err, index.ErrStale) {
			t.logger.Debug("fold is stale, dropped")
			return nil
		}
		return err
	}

	cur := t.snap.Load()
	next := cur.manifest.Next(manifest.OpOptimizeIndex)
	next.Index.Path = path
	next.Index.IndexedRows = uint64(folded.Indexed())
	if err := t.versions.Save(ctx, next); err != nil {
		return ioErr("commit", err)
	}
	if err := t.publish(next, cur.schema); err != nil {
		return err
	}
	rows = base.Unindexed()
	t.logger.Info("index folded", "version", next.ID, "rows", rows, "indexed", folded.Indexed())
	return nil
}

// loadIndex restores the index of snap's version. Rows at or above the
// persisted watermark are buffered again from the fragments.
func (t *Table) loadIndex(ctx context.Context, snap *Snapshot) (*index.Index, error) {
	info := snap.manifest.Index
	if info == nil {
		return nil, nil
	}
	f, err := vectorField(snap.schema, info.Column)
	if err != nil {
		return nil, err
	}

	var ix *index.Index
	if info.Path != "" {
		data, err := blobstore.ReadAll(ctx, t.data, t.blobName(info.Path))
		if err != nil {
			return nil, ioErr("read index", err)
		}
		gen, err := index.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		if gen.Dim() != f.Type.Dim {
			return nil, &ErrDimensionMismatch{Expected: f.Type.Dim, Actual: gen.Dim()}
		}
		ix = index.FromGeneration(gen)
	} else {
		opts := index.DefaultOptions()
		if opts.Type, err = index.ParseType(info.Type); err != nil {
			return nil, err
		}
		if opts.Metric, err = distance.ParseMetric(info.Metric); err != nil {
			return nil, err
		}
		opts.M, opts.EFConstruction, opts.EFSearch = info.M, info.EFConstruction, info.EFSearch
		if opts.Quantization, err = quantization.ParseKind(info.Quantization); err != nil {
			return nil, err
		}
		opts.PQSubvectors = info.PQSubvectors
		if ix, err = index.New(f.Type.Dim, opts); err != nil {
			return nil, err
		}
	}

	watermark := ix.Current().Watermark()
	for _, frag := range snap.fragments {
		ids := frag.Info().RowIDs
		if ids == nil || ids.IsEmpty() || ids.Maximum() < watermark {
			continue
		}
		b, err := frag.Load(ctx)
		if err != nil {
			return nil, err
		}
		entries, err := indexEntries(b, f.Name, watermark)
		if err != nil {
			return nil, err
		}
		if _, err := ix.Add(entries...); err != nil {
			return nil, convertIndexErr(err)
		}
	}
	return ix, nil
}

func (t *Table) markPending(path string) {
	t.pendingMu.Lock()
	t.pending[path] = struct{}{}
	t.pendingMu.Unlock()
}

func (t *Table) unmarkPending(path string) {
	t.pendingMu.Lock()
	delete(t.pending, path)
	t.pendingMu.Unlock()
}

func (t *Table) isPending(path string) bool {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	_, ok := t.pending[path]
	return ok
}
