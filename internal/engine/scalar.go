package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/vectable/blobstore"
	"github.com/hupe1980/vectable/internal/expr"
	"github.com/hupe1980/vectable/internal/fts"
	"github.com/hupe1980/vectable/internal/manifest"
	"github.com/hupe1980/vectable/internal/scalar"
	"github.com/hupe1980/vectable/record"
)

// ScalarIndexType names the layout of a scalar or full-text index.
type ScalarIndexType string

const (
	// ScalarBTree suits high-cardinality columns and range filters.
	ScalarBTree ScalarIndexType = "btree"
	// ScalarBitmap suits low-cardinality columns.
	ScalarBitmap ScalarIndexType = "bitmap"
	// ScalarFTS is a BM25 inverted index over a string column.
	ScalarFTS ScalarIndexType = "fts"
)

const scalarIndexExt = ".sidx"

// ScalarIndexOptions configures CreateScalarIndex.
type ScalarIndexOptions struct {
	Type ScalarIndexType // "" selects btree
	// Replace allows replacing an existing index on the column.
	Replace bool
}

// ScalarIndexStats describes one scalar or full-text index.
type ScalarIndexStats struct {
	Column      string
	Type        string
	IndexedRows uint64
}

// scalarIndex is a loaded scalar or full-text index.
type scalarIndex struct {
	info  manifest.ScalarIndexInfo
	value *scalar.Index // btree and bitmap
	text  *fts.Index
}

// scalarCache holds loaded index blobs by path. Blobs are immutable, so an
// entry stays valid for every version that references it.
type scalarCache struct {
	mu    sync.Mutex
	byKey map[string]*scalarIndex
	group singleflight.Group
}

func newScalarCache() *scalarCache {
	return &scalarCache{byKey: make(map[string]*scalarIndex)}
}

func (c *scalarCache) get(path string, load func() (*scalarIndex, error)) (*scalarIndex, error) {
	c.mu.Lock()
	si, ok := c.byKey[path]
	c.mu.Unlock()
	if ok {
		return si, nil
	}
	v, err, _ := c.group.Do(path, func() (any, error) {
		si, err := load()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.byKey[path] = si
		c.mu.Unlock()
		return si, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*scalarIndex), nil
}

func (c *scalarCache) put(path string, si *scalarIndex) {
	c.mu.Lock()
	c.byKey[path] = si
	c.mu.Unlock()
}

// retain drops entries m does not reference.
func (c *scalarCache) retain(m *manifest.Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path := range c.byKey {
		if !slices.ContainsFunc(m.ScalarIndexes, func(s manifest.ScalarIndexInfo) bool { return s.Path == path }) {
			delete(c.byKey, path)
		}
	}
}

func (c *scalarCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

func scalarIndexPath() string {
	return indexDir + "/" + uuid.NewString() + scalarIndexExt
}

func parseScalarType(t ScalarIndexType) (ScalarIndexType, error) {
	switch ScalarIndexType(strings.ToLower(string(t))) {
	case "", ScalarBTree:
		return ScalarBTree, nil
	case ScalarBitmap:
		return ScalarBitmap, nil
	case ScalarFTS:
		return ScalarFTS, nil
	}
	return "", invalidArg("unknown scalar index type %q", t)
}

// scalarField checks that column exists and can carry an index of type typ.
func scalarField(schema *record.Schema, column string, typ ScalarIndexType) (record.Field, error) {
	f, ok := schema.FieldByName(column)
	if !ok {
		return record.Field{}, invalidArg("unknown column %q", column)
	}
	if typ == ScalarFTS {
		if f.Type.ID != record.TypeString {
			return record.Field{}, invalidArg("full-text index needs a string column, %q has type %s", column, f.Type)
		}
		return f, nil
	}
	if !scalar.Supports(f.Type.ID) {
		return record.Field{}, invalidArg("cannot build a %s index on %q of type %s", typ, column, f.Type)
	}
	return f, nil
}

// CreateScalarIndex builds a btree, bitmap or full-text index over column
// from all current rows and commits it as a create_index version.
func (t *Table) CreateScalarIndex(ctx context.Context, column string, o ScalarIndexOptions) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	start := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.createScalarIndex(ctx, column, o)
	t.opts.metrics.OnCommit(t.name, manifest.OpCreateIndex.String(), rows, time.Since(start), err)
	return err
}

func (t *Table) createScalarIndex(ctx context.Context, column string, o ScalarIndexOptions) (int, error) {
	cur := t.snap.Load()
	typ, err := parseScalarType(o.Type)
	if err != nil {
		return 0, err
	}
	f, err := scalarField(cur.schema, column, typ)
	if err != nil {
		return 0, err
	}
	if _, ok := cur.manifest.ScalarIndex(column); ok && !o.Replace {
		return 0, invalidArg("index on %q already exists", column)
	}

	info := manifest.ScalarIndexInfo{Column: f.Name, Type: string(typ), Watermark: cur.manifest.NextRowID}
	si, err := t.buildScalar(ctx, cur, info, f, 0, nil)
	if err != nil {
		return 0, err
	}
	if err := t.writeScalar(ctx, si); err != nil {
		return 0, err
	}

	next := cur.manifest.Next(manifest.OpCreateIndex)
	next.ScalarIndexes = slices.DeleteFunc(next.ScalarIndexes, func(s manifest.ScalarIndexInfo) bool { return s.Column == f.Name })
	next.ScalarIndexes = append(next.ScalarIndexes, si.info)
	if err := t.versions.Save(ctx, next); err != nil {
		return 0, ioErr("commit", err)
	}
	if si.info.Path != "" {
		t.scalars.put(si.info.Path, si)
	}
	if err := t.publish(next, cur.schema); err != nil {
		return 0, err
	}
	t.logger.Info("scalar index created", "version", next.ID, "column", f.Name, "type", typ, "rows", si.info.IndexedRows)
	return int(si.info.IndexedRows), nil
}

// buildScalar indexes the rows of snap with ids in [from, info.Watermark)
// on top of the rows of base that are still live. NULLs are skipped.
func (t *Table) buildScalar(ctx context.Context, snap *Snapshot, info manifest.ScalarIndexInfo, f record.Field, from uint64, base *scalarIndex) (*scalarIndex, error) {
	var (
		vb  *scalar.Builder
		tb  *fts.Builder
		err error
	)
	if info.Type == string(ScalarFTS) {
		tb = fts.NewBuilder()
		if base != nil && base.text != nil {
			tb.AddIndex(base.text, snap.IsLive)
		}
	} else {
		typ, err := scalar.ParseType(info.Type)
		if err != nil {
			return nil, err
		}
		if vb, err = scalar.NewBuilder(typ, f.Type.ID); err != nil {
			return nil, invalidArg("%v", err)
		}
		if base != nil && base.value != nil {
			if err := vb.AddIndex(base.value, snap.IsLive); err != nil {
				return nil, err
			}
		}
	}

	err = scanRange(ctx, snap, from, info.Watermark, func(b *record.Batch, pos []int, ids *record.Column) error {
		col, err := b.ColumnByName(f.Name)
		if err != nil {
			return err
		}
		if len(pos) < b.NumRows() {
			col = col.Take(pos)
			ids = ids.Take(pos)
		}
		rowID := func(i int) uint64 { return uint64(ids.Int64(i)) }
		if tb != nil {
			for i := range col.Len() {
				if !col.IsNull(i) {
					tb.Add(rowID(i), col.Str(i))
				}
			}
		} else {
			vb.Add(col, rowID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	si := &scalarIndex{info: info}
	if tb != nil {
		si.text = tb.Build()
		si.info.IndexedRows = uint64(si.text.Docs())
	} else {
		si.value = vb.Build()
		si.info.IndexedRows = uint64(si.value.Len())
	}
	return si, nil
}

// scanRange calls fn with the positions and the _rowid column of every
// stored row whose id lies in [from, to).
func scanRange(ctx context.Context, snap *Snapshot, from, to uint64, fn func(b *record.Batch, pos []int, ids *record.Column) error) error {
	for _, frag := range snap.fragments {
		ids := frag.Info().RowIDs
		if ids == nil || ids.IsEmpty() || ids.Maximum() < from || ids.Minimum() >= to {
			continue
		}
		b, err := frag.Load(ctx)
		if err != nil {
			return err
		}
		col := b.Column(b.NumCols() - 1)
		pos := make([]int, 0, b.NumRows())
		for i := range b.NumRows() {
			if id := uint64(col.Int64(i)); id >= from && id < to {
				pos = append(pos, i)
			}
		}
		if len(pos) == 0 {
			continue
		}
		if err := fn(b, pos, col); err != nil {
			return err
		}
	}
	return nil
}

// writeScalar persists si and sets its path. An index without rows is not
// written.
func (t *Table) writeScalar(ctx context.Context, si *scalarIndex) error {
	if si.info.IndexedRows == 0 {
		si.info.Path = ""
		return nil
	}
	var (
		data []byte
		err  error
	)
	if si.text != nil {
		data, err = si.text.MarshalBinary()
	} else {
		data, err = si.value.MarshalBinary()
	}
	if err != nil {
		return err
	}
	path := scalarIndexPath()
	if err := blobstore.WriteAll(ctx, t.store, t.blobName(path), data); err != nil {
		return ioErr("write scalar index", err)
	}
	si.info.Path = path
	return nil
}

// loadScalar returns the loaded index described by info.
func (t *Table) loadScalar(ctx context.Context, snap *Snapshot, info manifest.ScalarIndexInfo) (*scalarIndex, error) {
	if info.Path == "" {
		f, err := scalarField(snap.schema, info.Column, ScalarIndexType(info.Type))
		if err != nil {
			return nil, err
		}
		return t.buildScalar(ctx, snap, manifest.ScalarIndexInfo{Column: info.Column, Type: info.Type, Watermark: info.Watermark}, f, info.Watermark, nil)
	}
	return t.scalars.get(info.Path, func() (*scalarIndex, error) {
		data, err := blobstore.ReadAll(ctx, t.data, t.blobName(info.Path))
		if err != nil {
			return nil, ioErr("read scalar index", err)
		}
		si := &scalarIndex{info: info}
		if info.Type == string(ScalarFTS) {
			si.text, err = fts.Unmarshal(data)
		} else {
			si.value, err = scalar.Unmarshal(data)
		}
		if err != nil {
			return nil, err
		}
		t.logger.Debug("scalar index loaded", "column", info.Column, "type", info.Type, "bytes", len(data))
		return si, nil
	})
}

// optimizeScalars extends every scalar index with the rows added since it
// was built and commits the result as an optimize_index version.
func (t *Table) optimizeScalars(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return ErrClosed
	}

	cur := t.snap.Load()
	watermark := cur.manifest.NextRowID
	var infos []manifest.ScalarIndexInfo
	changed := false
	for _, info := range cur.manifest.ScalarIndexes {
		if !hasRowsFrom(cur, info.Watermark) {
			infos = append(infos, info)
			continue
		}
		f, err := scalarField(cur.schema, info.Column, ScalarIndexType(info.Type))
		if err != nil {
			return err
		}
		var base *scalarIndex
		if info.Path != "" {
			if base, err = t.loadScalar(ctx, cur, info); err != nil {
				return err
			}
		}
		next := info
		next.Watermark = watermark
		si, err := t.buildScalar(ctx, cur, next, f, info.Watermark, base)
		if err != nil {
			return err
		}
		if err := t.writeScalar(ctx, si); err != nil {
			return err
		}
		if si.info.Path != "" {
			t.scalars.put(si.info.Path, si)
		}
		infos = append(infos, si.info)
		changed = true
		t.logger.Debug("scalar index extended", "column", info.Column, "type", info.Type, "rows", si.info.IndexedRows)
	}
	if !changed {
		return nil
	}

	next := cur.manifest.Next(manifest.OpOptimizeIndex)
	next.ScalarIndexes = infos
	if err := t.versions.Save(ctx, next); err != nil {
		return ioErr("commit", err)
	}
	if err := t.publish(next, cur.schema); err != nil {
		return err
	}
	t.logger.Info("scalar indexes optimized", "version", next.ID, "indexes", len(infos))
	return nil
}

// hasRowsFrom reports whether snap stores a row with id >= from.
func hasRowsFrom(snap *Snapshot, from uint64) bool {
	for _, frag := range snap.fragments {
		if ids := frag.Info().RowIDs; ids != nil && !ids.IsEmpty() && ids.Maximum() >= from {
			return true
		}
	}
	return false
}

// overwriteScalars returns the scalar indexes that survive an overwrite
// with schema: each keeps its column if the type is unchanged and starts
// empty at firstRowID.
func overwriteScalars(infos []manifest.ScalarIndexInfo, old, schema *record.Schema, firstRowID uint64) []manifest.ScalarIndexInfo {
	var out []manifest.ScalarIndexInfo
	for _, info := range infos {
		f, ok := schema.FieldByName(info.Column)
		prev, _ := old.FieldByName(info.Column)
		if !ok || !f.Type.Equal(prev.Type) {
			continue
		}
		out = append(out, manifest.ScalarIndexInfo{Column: info.Column, Type: info.Type, Watermark: firstRowID})
	}
	return out
}

// candidates are the rows a filter can match according to value indexes.
type candidates struct {
	rows *roaring64.Bitmap
	// watermark bounds the covered rows; rows at or above it were not
	// indexed.
	watermark uint64
	// exact reports that a covered row matches iff it is in rows.
	exact   bool
	columns []string
}

// covers reports whether every row of info lies below the watermark.
func (c *candidates) covers(info manifest.FragmentInfo) bool {
	return info.RowIDs != nil && !info.RowIDs.IsEmpty() && info.RowIDs.Maximum() < c.watermark
}

// skips reports whether a fragment cannot hold a matching row.
func (c *candidates) skips(info manifest.FragmentInfo) bool {
	return c.covers(info) && !c.rows.Intersects(info.RowIDs)
}

// indexCandidates answers the indexable conjuncts of f from btree and
// bitmap indexes. It returns nil when no conjunct has an index.
func (t *Table) indexCandidates(ctx context.Context, snap *Snapshot, f *expr.Filter) (*candidates, error) {
	if f == nil || len(snap.manifest.ScalarIndexes) == 0 {
		return nil, nil
	}
	preds, complete := f.Predicates()
	var c *candidates
	used := 0
	for _, p := range preds {
		info, ok := snap.manifest.ScalarIndex(p.Column)
		if !ok || info.Type == string(ScalarFTS) {
			continue
		}
		si, err := t.loadScalar(ctx, snap, info)
		if err != nil {
			return nil, err
		}
		rows, err := si.value.Lookup(p.Op, p.Values...)
		if err != nil {
			// The filter evaluator handles it.
			t.logger.Debug("scalar index lookup skipped", "column", p.Column, "error", err)
			continue
		}
		used++
		if c == nil {
			c = &candidates{rows: rows, watermark: info.Watermark}
		} else {
			c.rows.And(rows)
			c.watermark = min(c.watermark, info.Watermark)
		}
		if !slices.Contains(c.columns, p.Column) {
			c.columns = append(c.columns, p.Column)
		}
	}
	if c != nil {
		c.exact = complete && used == len(preds)
	}
	return c, nil
}

// fragmentSkipper combines statistics pruning with index candidates. cands
// may be nil.
func fragmentSkipper(f *expr.Filter, cands *candidates) func(manifest.FragmentInfo) bool {
	stats := prunable(f)
	if cands == nil {
		return stats
	}
	return func(info manifest.FragmentInfo) bool {
		return cands.skips(info) || stats(info)
	}
}

// matchRows returns the positions of b's rows matching f, answering from
// cands when they are exact for the whole fragment.
func matchRows(b *record.Batch, info manifest.FragmentInfo, f *expr.Filter, cands *candidates) ([]int, error) {
	if cands == nil || !cands.exact || !cands.covers(info) {
		return f.Match(b)
	}
	ids := b.Column(b.NumCols() - 1)
	var rows []int
	for i := range b.NumRows() {
		if cands.rows.Contains(uint64(ids.Int64(i))) {
			rows = append(rows, i)
		}
	}
	return rows, nil
}

// FullTextPlan adds a BM25 text search to a plan.
type FullTextPlan struct {
	Query string
	// Columns lists the searched columns; empty searches every column with
	// a full-text index. Scores over several columns add up.
	Columns []string
}

// textColumns resolves the searched columns of p against snap.
func textColumns(snap *Snapshot, p *FullTextPlan) ([]manifest.ScalarIndexInfo, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, invalidArg("full-text query is empty")
	}
	var out []manifest.ScalarIndexInfo
	if len(p.Columns) == 0 {
		for _, info := range snap.manifest.ScalarIndexes {
			if info.Type == string(ScalarFTS) {
				out = append(out, info)
			}
		}
		if len(out) == 0 {
			return nil, invalidArg("table has no full-text index")
		}
		return out, nil
	}
	for _, col := range p.Columns {
		info, ok := snap.manifest.ScalarIndex(col)
		if !ok || info.Type != string(ScalarFTS) {
			return nil, invalidArg("column %q has no full-text index", col)
		}
		if slices.ContainsFunc(out, func(s manifest.ScalarIndexInfo) bool { return s.Column == col }) {
			return nil, invalidArg("column %q searched twice", col)
		}
		out = append(out, info)
	}
	return out, nil
}

// textSearch scores the live rows of snap against the plan. Rows outside
// allowed, when set, are not returned but still count for the corpus
// statistics. limit <= 0 returns every match.
func (t *Table) textSearch(ctx context.Context, snap *Snapshot, cols []manifest.ScalarIndexInfo, query string, allowed *roaring64.Bitmap, limit int) ([]fts.Hit, error) {
	perColumn := limit
	if len(cols) > 1 {
		perColumn = 0
	}
	scores := make(map[uint64]float32)
	var single []fts.Hit
	for _, info := range cols {
		var segs []*fts.Index
		if info.Path != "" {
			si, err := t.loadScalar(ctx, snap, info)
			if err != nil {
				return nil, err
			}
			segs = append(segs, si.text)
		}
		if hasRowsFrom(snap, info.Watermark) {
			f, err := scalarField(snap.schema, info.Column, ScalarFTS)
			if err != nil {
				return nil, err
			}
			tail, err := t.buildScalar(ctx, snap, manifest.ScalarIndexInfo{Column: info.Column, Type: info.Type, Watermark: snap.manifest.NextRowID}, f, info.Watermark, nil)
			if err != nil {
				return nil, err
			}
			segs = append(segs, tail.text)
		}
		hits := fts.Search(fts.Query{Text: query, Limit: perColumn, Live: snap.live, Filter: allowed}, segs...)
		if len(cols) == 1 {
			single = hits
			break
		}
		for _, h := range hits {
			scores[h.Row] += h.Score
		}
	}
	if len(cols) == 1 {
		return single, nil
	}

	out := make([]fts.Hit, 0, len(scores))
	for row, s := range scores {
		out = append(out, fts.Hit{Row: row, Score: s})
	}
	slices.SortFunc(out, func(a, b fts.Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.Row < b.Row:
			return -1
		case a.Row > b.Row:
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// textBatch runs the text search once and returns all hits as one batch
// ordered by descending score.
func (cur *Cursor) textBatch(ctx context.Context) (*record.Batch, error) {
	if cur.frag > 0 {
		return nil, nil
	}
	cur.frag = 1

	c, snap := cur.c, cur.snap
	var allowed *roaring64.Bitmap
	if c.filter != nil {
		var err error
		if allowed, err = cur.table.matchingRowIDs(ctx, snap, c.filter); err != nil {
			return nil, err
		}
	}
	limit := 0
	if c.plan.Limit > 0 {
		limit = c.plan.Limit + c.plan.Offset
	}
	hits, err := cur.table.textSearch(ctx, snap, c.textCols, c.plan.FullText.Query, allowed, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, len(hits))
	scores := make([]float32, len(hits))
	for i, h := range hits {
		ids[i], scores[i] = h.Row, h.Score
	}
	return cur.table.fetchRows(ctx, snap, ids, ScoreColumn, scores)
}

// scalarStats lists the scalar indexes of m.
func scalarStats(m *manifest.Manifest) []ScalarIndexStats {
	out := make([]ScalarIndexStats, 0, len(m.ScalarIndexes))
	for _, s := range m.ScalarIndexes {
		out = append(out, ScalarIndexStats{Column: s.Column, Type: s.Type, IndexedRows: s.IndexedRows})
	}
	return out
}

func textColumnNames(infos []manifest.ScalarIndexInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Column
	}
	return out
}

// explainIndexes names the indexes a filter would use.
func explainIndexes(snap *Snapshot, f *expr.Filter) string {
	if f == nil {
		return ""
	}
	preds, _ := f.Predicates()
	var used []string
	for _, p := range preds {
		info, ok := snap.manifest.ScalarIndex(p.Column)
		if !ok || info.Type == string(ScalarFTS) {
			continue
		}
		name := fmt.Sprintf("%s(%s)", info.Column, info.Type)
		if !slices.Contains(used, name) {
			used = append(used, name)
		}
	}
	return strings.Join(used, ",")
}
