package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/index"
	"github.com/hupe1980/vectable/internal/expr"
	"github.com/hupe1980/vectable/internal/manifest"
	"github.com/hupe1980/vectable/internal/searcher"
	"github.com/hupe1980/vectable/record"
)

// DefaultK is the number of neighbours returned when a vector plan has no K.
const DefaultK = 10

// Plan describes a query. The zero value scans all rows and columns.
type Plan struct {
	Filter  string
	Columns []string
	// Limit caps the number of rows; zero means no limit.
	Limit          int
	Offset         int
	WithRowID      bool
	MaxBatchLength int
	Vector         *VectorPlan
	// FullText ranks rows by BM25 score. Combined with Vector it restricts
	// the search to rows matching the text query.
	FullText *FullTextPlan
}

// VectorPlan adds a nearest neighbour clause to a plan.
type VectorPlan struct {
	Query  []float32
	Column string // "" selects the schema's vector column
	K      int
	// Metric overrides the index metric. A metric different from the
	// index's forces an exact search.
	Metric *distance.Metric
	// EF overrides the index search breadth.
	EF int
	// BypassIndex forces an exact search.
	BypassIndex bool
	// FastSearch skips rows that are not yet folded into the index.
	FastSearch bool
	// Prefilter applies the filter before the search instead of to its
	// results.
	Prefilter bool
	// RefineFactor, when positive, fetches K*RefineFactor index candidates
	// and reranks them by exact distance. It only affects indexed searches.
	RefineFactor int
}

// compiled is a validated plan bound to a snapshot.
type compiled struct {
	plan    Plan
	filter  *expr.Filter
	output  []string // projected columns in order
	schema  *record.Schema
	vecCol  record.Field
	metric  distance.Metric
	k       int
	ef      int
	useIdx  bool
	batchSz int

	textCols []manifest.ScalarIndexInfo
}

func (t *Table) compile(snap *Snapshot, p Plan) (*compiled, error) {
	c := &compiled{plan: p, batchSz: p.MaxBatchLength}
	if c.batchSz <= 0 {
		c.batchSz = DefaultMaxBatchLength
	}
	if p.Offset < 0 {
		return nil, invalidArg("offset must not be negative")
	}
	if p.Limit < 0 {
		return nil, invalidArg("limit must not be negative")
	}

	if p.FullText != nil {
		cols, err := textColumns(snap, p.FullText)
		if err != nil {
			return nil, err
		}
		c.textCols = cols
	}
	textOnly := p.FullText != nil && p.Vector == nil

	filterSchema := snap.stored
	if v := p.Vector; v != nil {
		f, err := vectorField(snap.schema, v.Column)
		if err != nil {
			return nil, err
		}
		c.vecCol = f
		if len(v.Query) == 0 {
			return nil, invalidArg("query vector is empty")
		}
		if len(v.Query) != f.Type.Dim {
			return nil, &ErrDimensionMismatch{Expected: f.Type.Dim, Actual: len(v.Query)}
		}
		c.k = v.K
		if c.k == 0 {
			c.k = DefaultK
		}
		if c.k < 0 {
			return nil, invalidArg("k must be positive, got %d", v.K)
		}
		if v.EF < 0 {
			return nil, invalidArg("ef must not be negative")
		}
		c.ef = v.EF
		if v.RefineFactor < 0 {
			return nil, invalidArg("refine factor must not be negative")
		}

		info := snap.manifest.Index
		hasIdx := info != nil && snap.index != nil && info.Column == f.Name
		switch {
		case v.Metric != nil:
			c.metric = *v.Metric
		case hasIdx:
			c.metric = snap.index.Options().Metric
		default:
			c.metric = distance.MetricL2
		}
		c.useIdx = hasIdx && !v.BypassIndex && snap.index.Options().Metric == c.metric

		if !v.Prefilter {
			var err error
			if filterSchema, err = snap.stored.Append(record.Field{Name: DistanceColumn, Type: record.Float32Type}); err != nil {
				return nil, err
			}
		}
	}

	f, err := compileFilter(p.Filter, filterSchema)
	if err != nil {
		return nil, err
	}
	c.filter = f

	if len(p.Columns) == 0 {
		for _, fd := range snap.schema.Fields() {
			c.output = append(c.output, fd.Name)
		}
	} else {
		for _, name := range p.Columns {
			if slices.Contains(c.output, name) {
				return nil, invalidArg("column %q selected twice", name)
			}
			switch {
			case name == RowIDColumn:
			case name == DistanceColumn && p.Vector != nil:
			case name == ScoreColumn && textOnly:
			case snap.schema.FieldIndex(name) >= 0:
			default:
				return nil, invalidArg("unknown column %q", name)
			}
			c.output = append(c.output, name)
		}
	}
	if p.Vector != nil && !slices.Contains(c.output, DistanceColumn) {
		c.output = append(c.output, DistanceColumn)
	}
	if textOnly && !slices.Contains(c.output, ScoreColumn) {
		c.output = append(c.output, ScoreColumn)
	}
	if p.WithRowID && !slices.Contains(c.output, RowIDColumn) {
		c.output = append(c.output, RowIDColumn)
	}

	full := snap.stored
	if p.Vector != nil {
		if full, err = full.Append(record.Field{Name: DistanceColumn, Type: record.Float32Type}); err != nil {
			return nil, err
		}
	}
	if textOnly {
		if full, err = full.Append(record.Field{Name: ScoreColumn, Type: record.Float32Type}); err != nil {
			return nil, err
		}
	}
	if c.schema, err = full.Select(c.output...); err != nil {
		return nil, err
	}
	return c, nil
}

// Execute starts a query on the current snapshot. The snapshot stays pinned
// until the cursor is exhausted or closed.
func (t *Table) Execute(ctx context.Context, p Plan) (*Cursor, error) {
	start := time.Now()
	kind := "scan"
	switch {
	case p.Vector != nil:
		kind = "vector"
	case p.FullText != nil:
		kind = "fts"
	}

	snap, err := t.acquire()
	if err != nil {
		t.opts.metrics.OnQuery(t.name, kind, time.Since(start), err)
		return nil, err
	}
	c, err := t.compile(snap, p)
	if err != nil {
		t.releaseSnapshot(snap)
		t.opts.metrics.OnQuery(t.name, kind, time.Since(start), err)
		return nil, err
	}

	cur := &Cursor{
		table:  t,
		snap:   snap,
		kind:   kind,
		start:  start,
		remain: p.Limit,
		skip:   p.Offset,
		c:      c,
	}
	if p.Limit == 0 {
		cur.remain = -1
	}
	switch {
	case p.Vector != nil:
		cur.produce = cur.vectorBatch
	case p.FullText != nil:
		cur.produce = cur.textBatch
	default:
		cur.produce = cur.scanBatch
	}
	return cur, nil
}

// scanBatch returns the filtered rows of the next fragment that has any.
func (cur *Cursor) scanBatch(ctx context.Context) (*record.Batch, error) {
	f := cur.c.filter
	if f != nil && cur.skipFrag == nil {
		cands, err := cur.table.indexCandidates(ctx, cur.snap, f)
		if err != nil {
			return nil, err
		}
		cur.cands = cands
		cur.skipFrag = fragmentSkipper(f, cands)
	}
	for cur.frag < len(cur.snap.fragments) {
		info := cur.snap.fragments[cur.frag].Info()
		i := cur.frag
		cur.frag++
		if f != nil && cur.skipFrag(info) {
			continue
		}
		b, err := cur.snap.fragments[i].Load(ctx)
		if err != nil {
			return nil, err
		}
		if f != nil {
			rows, err := matchRows(b, info, f, cur.cands)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				continue
			}
			if len(rows) < b.NumRows() {
				b = b.Take(rows)
			}
		}
		if b.NumRows() > 0 {
			return b, nil
		}
	}
	return nil, nil
}

// vectorBatch runs the search once and returns all results as one batch.
func (cur *Cursor) vectorBatch(ctx context.Context) (*record.Batch, error) {
	if cur.frag > 0 {
		return nil, nil
	}
	cur.frag = 1

	c, snap := cur.c, cur.snap
	live := snap.IsLive
	var allowed *roaring64.Bitmap
	if c.plan.Vector.Prefilter && c.filter != nil {
		var err error
		if allowed, err = cur.table.matchingRowIDs(ctx, snap, c.filter); err != nil {
			return nil, err
		}
	}
	if p := c.plan.FullText; p != nil {
		hits, err := cur.table.textSearch(ctx, snap, c.textCols, p.Query, allowed, 0)
		if err != nil {
			return nil, err
		}
		allowed = roaring64.New()
		for _, h := range hits {
			allowed.Add(h.Row)
		}
	}
	if allowed != nil {
		live = allowed.Contains
	}

	results, err := cur.table.search(ctx, snap, c, live)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, len(results))
	dists := make([]float32, len(results))
	for i, r := range results {
		ids[i], dists[i] = r.RowID, r.Distance
	}
	b, err := cur.table.fetchRows(ctx, snap, ids, DistanceColumn, dists)
	if err != nil {
		return nil, err
	}
	if c.filter != nil && !c.plan.Vector.Prefilter {
		rows, err := c.filter.Match(b)
		if err != nil {
			return nil, err
		}
		b = b.Take(rows)
	}
	return b, nil
}

func (t *Table) search(ctx context.Context, snap *Snapshot, c *compiled, live func(uint64) bool) ([]index.Result, error) {
	v := c.plan.Vector
	if c.useIdx {
		var (
			res []index.Result
			err error
		)
		k := c.k
		if v.RefineFactor > 0 {
			k *= v.RefineFactor
		}
		if v.FastSearch {
			res, err = snap.index.SearchIndexed(v.Query, k, c.ef, live)
		} else {
			res, err = snap.index.Search(v.Query, k, c.ef, live)
		}
		if err != nil {
			return nil, convertIndexErr(err)
		}
		if v.RefineFactor > 0 {
			return t.refine(ctx, snap, c, res)
		}
		return res, nil
	}

	top := searcher.NewTopK(c.k)
	for _, frag := range snap.fragments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := frag.Load(ctx)
		if err != nil {
			return nil, err
		}
		vecs, err := b.ColumnByName(c.vecCol.Name)
		if err != nil {
			return nil, err
		}
		ids := b.Column(b.NumCols() - 1)
		for i := range b.NumRows() {
			id := uint64(ids.Int64(i))
			if vecs.IsNull(i) || !live(id) {
				continue
			}
			top.Push(id, c.metric.Distance(v.Query, vecs.Vector(i)))
		}
	}
	items := top.Results()
	out := make([]index.Result, len(items))
	for i, it := range items {
		out[i] = index.Result{RowID: it.ID, Distance: it.Distance}
	}
	return out, nil
}

// matchingRowIDs evaluates f over the snapshot and returns the matching row ids.
func (t *Table) matchingRowIDs(ctx context.Context, snap *Snapshot, f *expr.Filter) (*roaring64.Bitmap, error) {
	cands, err := t.indexCandidates(ctx, snap, f)
	if err != nil {
		return nil, err
	}
	skip := fragmentSkipper(f, cands)
	out := roaring64.New()
	for _, frag := range snap.fragments {
		if skip(frag.Info()) {
			continue
		}
		b, err := frag.Load(ctx)
		if err != nil {
			return nil, err
		}
		rows, err := matchRows(b, frag.Info(), f, cands)
		if err != nil {
			return nil, err
		}
		ids := b.Column(b.NumCols() - 1)
		for _, r := range rows {
			out.Add(uint64(ids.Int64(r)))
		}
	}
	return out, nil
}

// refine rescores candidates by exact distance and keeps the best k.
func (t *Table) refine(ctx context.Context, snap *Snapshot, c *compiled, cands []index.Result) ([]index.Result, error) {
	top := searcher.NewTopK(c.k)
	err := locateRows(ctx, snap, cands, func(_ int, r index.Result, b *record.Batch, row int) error {
		vecs, err := b.ColumnByName(c.vecCol.Name)
		if err != nil {
			return err
		}
		if !vecs.IsNull(row) {
			top.Push(r.RowID, c.metric.Distance(c.plan.Vector.Query, vecs.Vector(row)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	items := top.Results()
	out := make([]index.Result, len(items))
	for i, it := range items {
		out[i] = index.Result{RowID: it.ID, Distance: it.Distance}
	}
	return out, nil
}

// locateRows calls fn with the fragment batch and row position of every
// result, in fragment order.
func locateRows(ctx context.Context, snap *Snapshot, results []index.Result, fn func(i int, r index.Result, b *record.Batch, row int) error) error {
	done := make([]bool, len(results))
	found := 0
	for _, frag := range snap.fragments {
		ids := frag.Info().RowIDs
		var hit []int
		for i, r := range results {
			if !done[i] && ids != nil && ids.Contains(r.RowID) {
				hit = append(hit, i)
			}
		}
		if len(hit) == 0 {
			continue
		}
		b, err := frag.Load(ctx)
		if err != nil {
			return err
		}
		col := b.Column(b.NumCols() - 1)
		for _, i := range hit {
			want := int64(results[i].RowID)
			row := searchRowID(col, want)
			if row < 0 {
				return fmt.Errorf("row %d missing from fragment %s", want, frag.Info().Path)
			}
			if err := fn(i, results[i], b, row); err != nil {
				return err
			}
			done[i] = true
			found++
		}
		if found == len(results) {
			break
		}
	}
	for i, ok := range done {
		if !ok {
			return fmt.Errorf("row %d not found in snapshot", results[i].RowID)
		}
	}
	return nil
}

// fetchRows returns the stored rows ids in order with a float32 column
// name holding vals appended.
func (t *Table) fetchRows(ctx context.Context, snap *Snapshot, ids []uint64, name string, vals []float32) (*record.Batch, error) {
	results := make([]index.Result, len(ids))
	for i, id := range ids {
		results[i] = index.Result{RowID: id}
	}
	parts := make([]*record.Batch, len(results))
	err := locateRows(ctx, snap, results, func(i int, _ index.Result, b *record.Batch, row int) error {
		parts[i] = b.Take([]int{row})
		return nil
	})
	if err != nil {
		return nil, err
	}
	out, err := record.Concat(snap.stored, parts...)
	if err != nil {
		return nil, err
	}
	return out.WithColumn(record.Field{Name: name, Type: record.Float32Type}, record.Float32Column(vals))
}

// searchRowID returns the position of id in an ascending _rowid column.
func searchRowID(col *record.Column, id int64) int {
	lo, hi := 0, col.Len()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if col.Int64(mid) < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < col.Len() && col.Int64(lo) == id {
		return lo
	}
	return -1
}

// ExplainPlan describes how p would run against the current snapshot.
func (t *Table) ExplainPlan(p Plan, verbose bool) (string, error) {
	snap, err := t.acquire()
	if err != nil {
		return "", err
	}
	defer t.releaseSnapshot(snap)

	c, err := t.compile(snap, p)
	if err != nil {
		return "", err
	}

	var lines []string
	add := func(depth int, format string, args ...any) {
		lines = append(lines, strings.Repeat("  ", depth)+fmt.Sprintf(format, args...))
	}
	depth := 0
	add(depth, "Projection: [%s]", strings.Join(c.output, ", "))
	depth++
	if p.Limit > 0 || p.Offset > 0 {
		limit := "none"
		if p.Limit > 0 {
			limit = fmt.Sprint(p.Limit)
		}
		add(depth, "Limit: offset=%d limit=%s", p.Offset, limit)
		depth++
	}
	postFilter := c.filter != nil && (p.Vector == nil || !p.Vector.Prefilter)
	if postFilter && p.Vector != nil {
		add(depth, "Filter: %s", c.filter)
		depth++
	}
	if v := p.Vector; v != nil {
		mode := "exact"
		if c.useIdx {
			mode = snap.manifest.Index.Type
		}
		if c.useIdx && v.RefineFactor > 0 {
			mode += fmt.Sprintf(" refine_factor=%d", v.RefineFactor)
		}
		add(depth, "VectorSearch: column=%s k=%d metric=%s mode=%s", c.vecCol.Name, c.k, c.metric, mode)
		if verbose && c.useIdx {
			ef := c.ef
			if ef == 0 {
				ef = snap.index.Options().EFSearch
			}
			quant := "none"
			if q := snap.index.Quantizer(); q != nil {
				quant = q.Kind().String()
			}
			add(depth+1, "index: indexed=%d unindexed=%d ef=%d fast_search=%t quantization=%s", snap.index.Indexed(), snap.index.Unindexed(), ef, v.FastSearch, quant)
		}
		depth++
		if v.Prefilter && c.filter != nil {
			add(depth, "Prefilter: %s", c.filter)
			depth++
		}
		if p.FullText != nil {
			add(depth, "FullTextPrefilter: query=%q columns=[%s]", p.FullText.Query, strings.Join(textColumnNames(c.textCols), ", "))
			depth++
		}
	} else if p.FullText != nil {
		add(depth, "FullTextSearch: query=%q columns=[%s]", p.FullText.Query, strings.Join(textColumnNames(c.textCols), ", "))
		depth++
		if c.filter != nil {
			add(depth, "Prefilter: %s", c.filter)
			depth++
		}
	}
	scan := fmt.Sprintf("Scan: table=%s version=%d fragments=%d rows=%d", t.name, snap.manifest.ID, len(snap.fragments), snap.NumRows())
	if postFilter && p.Vector == nil && p.FullText == nil {
		scan += " filter=" + c.filter.String()
	}
	if used := explainIndexes(snap, c.filter); used != "" {
		scan += " index=" + used
	}
	add(depth, "%s", scan)
	if verbose {
		var skip func(int) bool
		if c.filter != nil {
			pr := prunable(c.filter)
			skip = func(i int) bool { return pr(snap.fragments[i].Info()) }
		}
		for i, f := range snap.fragments {
			state := ""
			if skip != nil && skip(i) {
				state = " pruned"
			}
			add(depth+1, "fragment %d: %s rows=%d%s", f.Info().ID, f.Info().Path, f.Info().RowCount, state)
		}
	}
	return strings.Join(lines, "\n"), nil
}
