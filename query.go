package vectable

import (
	"context"
	"iter"

	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/internal/engine"
	"github.com/hupe1980/vectable/record"
)

const (
	// RowIDColumn is the name of the row id column added by WithRowID.
	RowIDColumn = engine.RowIDColumn
	// DistanceColumn is the name of the distance column of vector queries.
	DistanceColumn = engine.DistanceColumn
	// ScoreColumn is the name of the BM25 score column of full-text queries.
	ScoreColumn = engine.ScoreColumn
)

// Query is a fluent builder for scans. Nothing runs until Execute.
//
// Example:
//
//	cur, err := tbl.Query().
//	    Where("price < 10 AND category = 'books'").
//	    Select("id", "title").
//	    Limit(100).
//	    Execute(ctx)
type Query struct {
	table *Table
	plan  engine.Plan
}

// Query starts a scan of the table.
func (t *Table) Query() *Query {
	return &Query{table: t}
}

// VectorSearch starts a nearest neighbor query. It is shorthand for
// Query().NearestTo(vector).
func (t *Table) VectorSearch(vector []float32) *VectorQuery {
	return t.Query().NearestTo(vector)
}

// Where filters rows with a SQL-like predicate.
func (q *Query) Where(filter string) *Query {
	q.plan.Filter = filter
	return q
}

// Select projects the result to columns, in order.
func (q *Query) Select(columns ...string) *Query {
	q.plan.Columns = columns
	return q
}

// Limit caps the number of rows returned. Zero removes the limit.
func (q *Query) Limit(n int) *Query {
	q.plan.Limit = n
	return q
}

// Offset skips the first n rows.
func (q *Query) Offset(n int) *Query {
	q.plan.Offset = n
	return q
}

// WithRowID adds the _rowid column to the result.
func (q *Query) WithRowID() *Query {
	q.plan.WithRowID = true
	return q
}

// MaxBatchLength bounds the rows per returned batch.
func (q *Query) MaxBatchLength(n int) *Query {
	q.plan.MaxBatchLength = n
	return q
}

// FullTextSearch ranks rows by their BM25 score for query and adds a
// _score column. columns lists the searched columns; none searches every
// column with a full-text index. Scores over several columns add up.
// Filters restrict the matches without changing the scores.
func (q *Query) FullTextSearch(query string, columns ...string) *Query {
	q.plan.FullText = &engine.FullTextPlan{Query: query, Columns: columns}
	return q
}

// NearestTo turns the query into a nearest neighbor search for vector.
func (q *Query) NearestTo(vector []float32) *VectorQuery {
	q.plan.Vector = &engine.VectorPlan{Query: vector}
	return &VectorQuery{q: q}
}

// Execute binds the query to the current version and returns a cursor
// over its result.
func (q *Query) Execute(ctx context.Context) (*Cursor, error) {
	return q.table.execute(ctx, q.plan)
}

// Collect executes the query and concatenates all batches.
func (q *Query) Collect(ctx context.Context) (*record.Batch, error) {
	return collect(ctx, q.table, q.plan)
}

// ExplainPlan describes how the query would run.
func (q *Query) ExplainPlan(verbose bool) (string, error) {
	return q.table.explain(q.plan, verbose)
}

// VectorQuery is a nearest neighbor query. Results are sorted by ascending
// distance and carry a _distance column. Filters apply to the k nearest
// rows unless Prefilter is set.
type VectorQuery struct {
	q *Query
}

// Column selects the vector column to search.
func (v *VectorQuery) Column(name string) *VectorQuery {
	v.q.plan.Vector.Column = name
	return v
}

// K sets the number of neighbors. The default is 10.
func (v *VectorQuery) K(k int) *VectorQuery {
	v.q.plan.Vector.K = k
	return v
}

// DistanceType overrides the metric. With an index built for a different
// metric the search falls back to exact.
func (v *VectorQuery) DistanceType(m distance.Metric) *VectorQuery {
	v.q.plan.Vector.Metric = &m
	return v
}

// EF sets the HNSW search beam width.
func (v *VectorQuery) EF(ef int) *VectorQuery {
	v.q.plan.Vector.EF = ef
	return v
}

// BypassIndex forces an exact search.
func (v *VectorQuery) BypassIndex() *VectorQuery {
	v.q.plan.Vector.BypassIndex = true
	return v
}

// RefineFactor fetches k*factor candidates from the index and reranks them
// by exact distance. Useful with quantized indexes.
func (v *VectorQuery) RefineFactor(factor int) *VectorQuery {
	v.q.plan.Vector.RefineFactor = factor
	return v
}

// FullTextSearch restricts the search to rows matching query in columns
// (none for every column with a full-text index).
func (v *VectorQuery) FullTextSearch(query string, columns ...string) *VectorQuery {
	v.q.FullTextSearch(query, columns...)
	return v
}

// FastSearch skips rows not yet folded into the index.
func (v *VectorQuery) FastSearch() *VectorQuery {
	v.q.plan.Vector.FastSearch = true
	return v
}

// Prefilter applies the filter before the search, so up to k matching
// rows are returned.
func (v *VectorQuery) Prefilter() *VectorQuery {
	v.q.plan.Vector.Prefilter = true
	return v
}

// Where filters rows with a SQL-like predicate that may use _distance.
func (v *VectorQuery) Where(filter string) *VectorQuery {
	v.q.Where(filter)
	return v
}

// Select projects the result to columns, in order.
func (v *VectorQuery) Select(columns ...string) *VectorQuery {
	v.q.Select(columns...)
	return v
}

// Limit caps the number of rows returned. Zero removes the limit.
func (v *VectorQuery) Limit(n int) *VectorQuery {
	v.q.Limit(n)
	return v
}

// Offset skips the first n rows.
func (v *VectorQuery) Offset(n int) *VectorQuery {
	v.q.Offset(n)
	return v
}

// WithRowID adds the _rowid column to the result.
func (v *VectorQuery) WithRowID() *VectorQuery {
	v.q.WithRowID()
	return v
}

// MaxBatchLength bounds the rows per returned batch.
func (v *VectorQuery) MaxBatchLength(n int) *VectorQuery {
	v.q.MaxBatchLength(n)
	return v
}

// Execute runs the search against the current version.
func (v *VectorQuery) Execute(ctx context.Context) (*Cursor, error) {
	return v.q.Execute(ctx)
}

// Collect executes the search and concatenates all batches.
func (v *VectorQuery) Collect(ctx context.Context) (*record.Batch, error) {
	return v.q.Collect(ctx)
}

// ExplainPlan describes how the search would run.
func (v *VectorQuery) ExplainPlan(verbose bool) (string, error) {
	return v.q.ExplainPlan(verbose)
}

func (t *Table) execute(ctx context.Context, p engine.Plan) (*Cursor, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	cur, err := t.t.Execute(ctx, p)
	if err != nil {
		err = translateError(err)
		t.logger.LogQuery(ctx, t.name, 0, p.Vector != nil, err)
		return nil, err
	}
	t.logger.LogQuery(ctx, t.name, cur.Version(), p.Vector != nil, nil)
	return &Cursor{c: cur}, nil
}

func (t *Table) explain(p engine.Plan, verbose bool) (string, error) {
	if err := t.check(); err != nil {
		return "", err
	}
	s, err := t.t.ExplainPlan(p, verbose)
	return s, translateError(err)
}

func collect(ctx context.Context, t *Table, p engine.Plan) (*record.Batch, error) {
	cur, err := t.execute(ctx, p)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	return cur.Collect(ctx)
}

// Cursor iterates the batches of an executed query. It holds the version
// it was bound to until it is exhausted or closed.
type Cursor struct {
	c *engine.Cursor
}

// Schema returns the schema of the result batches.
func (c *Cursor) Schema() *record.Schema { return c.c.Schema() }

// Version returns the version the cursor reads.
func (c *Cursor) Version() uint64 { return c.c.Version() }

// Next returns the next batch, or io.EOF after the last one.
func (c *Cursor) Next(ctx context.Context) (*record.Batch, error) {
	b, err := c.c.Next(ctx)
	return b, translateError(err)
}

// All iterates the remaining batches. Breaking out of the loop closes the
// cursor.
func (c *Cursor) All(ctx context.Context) iter.Seq2[*record.Batch, error] {
	return func(yield func(*record.Batch, error) bool) {
		for b, err := range c.c.All(ctx) {
			if !yield(b, translateError(err)) {
				return
			}
		}
	}
}

// Collect drains the cursor into one batch.
func (c *Cursor) Collect(ctx context.Context) (*record.Batch, error) {
	b, err := c.c.Collect(ctx)
	return b, translateError(err)
}

// Close releases the cursor's version. It is idempotent.
func (c *Cursor) Close() error { return c.c.Close() }
