package engine

import (
	"context"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/hupe1980/vectable/internal/manifest"
	"github.com/hupe1980/vectable/record"
)

// Cursor yields the batches of a query. It is finite and not restartable.
// A Cursor is not safe for concurrent use.
type Cursor struct {
	table *Table
	snap  *Snapshot
	c     *compiled
	kind  string
	start time.Time

	produce func(context.Context) (*record.Batch, error)
	frag    int
	pending *record.Batch
	skip    int
	remain  int // -1 without limit

	// scan pruning, set up by the first scanBatch
	cands    *candidates
	skipFrag func(manifest.FragmentInfo) bool

	done bool
	once sync.Once
}

// Schema returns the schema of the produced batches.
func (cur *Cursor) Schema() *record.Schema { return cur.c.schema }

// Version returns the version the cursor reads.
func (cur *Cursor) Version() uint64 { return cur.snap.manifest.ID }

// Next returns the next batch or io.EOF after the last one. The snapshot is
// released when the cursor is exhausted or fails.
func (cur *Cursor) Next(ctx context.Context) (*record.Batch, error) {
	if cur.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		cur.finish(err)
		return nil, err
	}

	for {
		if cur.pending != nil && cur.pending.NumRows() > 0 {
			rows := cur.pending.NumRows()
			n := min(cur.c.batchSz, rows)
			out := cur.pending.Slice(0, n)
			cur.pending = cur.pending.Slice(n, rows-n)
			b, err := out.Project(cur.c.output...)
			if err != nil {
				cur.finish(err)
				return nil, err
			}
			return b, nil
		}
		if cur.remain == 0 {
			cur.finish(nil)
			return nil, io.EOF
		}

		b, err := cur.produce(ctx)
		if err != nil {
			cur.finish(err)
			return nil, err
		}
		if b == nil {
			cur.finish(nil)
			return nil, io.EOF
		}

		rows := b.NumRows()
		if cur.skip > 0 {
			if cur.skip >= rows {
				cur.skip -= rows
				continue
			}
			b = b.Slice(cur.skip, rows-cur.skip)
			cur.skip = 0
			rows = b.NumRows()
		}
		if cur.remain >= 0 {
			if rows > cur.remain {
				b = b.Slice(0, cur.remain)
			}
			cur.remain -= b.NumRows()
		}
		cur.pending = b
	}
}

// All iterates over the remaining batches. Breaking out of the loop closes
// the cursor.
func (cur *Cursor) All(ctx context.Context) iter.Seq2[*record.Batch, error] {
	return func(yield func(*record.Batch, error) bool) {
		defer cur.Close()
		for {
			b, err := cur.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains the cursor into a single batch.
func (cur *Cursor) Collect(ctx context.Context) (*record.Batch, error) {
	var parts []*record.Batch
	for b, err := range cur.All(ctx) {
		if err != nil {
			return nil, err
		}
		parts = append(parts, b)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	if len(parts) == 0 {
		return record.EmptyBatch(cur.c.schema), nil
	}
	return record.Concat(cur.c.schema, parts...)
}

// Close releases the snapshot. It is safe to call more than once.
func (cur *Cursor) Close() error {
	cur.finish(nil)
	return nil
}

func (cur *Cursor) finish(err error) {
	cur.done = true
	cur.pending = nil
	cur.once.Do(func() {
		cur.table.releaseSnapshot(cur.snap)
		cur.table.opts.metrics.OnQuery(cur.table.name, cur.kind, time.Since(cur.start), err)
	})
}
