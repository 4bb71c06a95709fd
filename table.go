package vectable

import (
	"context"
	"sync/atomic"

	"github.com/hupe1980/vectable/internal/engine"
	"github.com/hupe1980/vectable/internal/pool"
	"github.com/hupe1980/vectable/record"
)

type (
	// TableStats summarizes the current version of a table.
	TableStats = engine.TableStats
	// ScalarIndexStats describes one scalar or full-text index.
	ScalarIndexStats = engine.ScalarIndexStats
	// VersionInfo describes one stored version.
	VersionInfo = engine.VersionInfo
	// RetentionPolicy selects the versions Cleanup keeps.
	RetentionPolicy = engine.RetentionPolicy
	// CleanupStats reports what Cleanup removed.
	CleanupStats = engine.CleanupStats
	// MergeInsertOptions selects what MergeInsert does with matched and
	// unmatched rows.
	MergeInsertOptions = engine.MergeInsertOptions
	// MergeStats reports the effect of MergeInsert.
	MergeStats = engine.MergeStats
)

// Task is the pending result of an async table operation.
type Task[T any] = pool.Task[T]

// Table is a handle to a table of a connection. Handles of the same name
// share state; closing the last one releases it.
type Table struct {
	conn   *Connection
	name   string
	t      *engine.Table
	logger *Logger
	closed atomic.Bool
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Schema returns the schema of the current version.
func (t *Table) Schema() *record.Schema { return t.t.Schema() }

// Version returns the current version id.
func (t *Table) Version() uint64 { return t.t.Version() }

// Stats returns statistics of the current version.
func (t *Table) Stats() TableStats { return t.t.Stats() }

// ActiveSnapshots returns the number of snapshots pinned by open cursors.
func (t *Table) ActiveSnapshots() int64 { return t.t.ActiveSnapshots() }

// ReadOnly reports whether t is a checkout of an older version.
func (t *Table) ReadOnly() bool { return t.t.ReadOnly() }

func (t *Table) String() string { return t.t.String() }

func (t *Table) check() error {
	if t.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Add appends data or, with WriteOverwrite, replaces all rows with it. It
// returns the committed version. Overwrite may change the schema.
func (t *Table) Add(ctx context.Context, data *record.Batch, mode WriteMode) (uint64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	v, err := t.t.Add(ctx, data, mode)
	return v, translateError(err)
}

// Delete removes the rows matching filter and returns how many were
// removed.
func (t *Table) Delete(ctx context.Context, filter string) (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	n, err := t.t.Delete(ctx, filter)
	return n, translateError(err)
}

// CountRows counts the rows matching filter, or all rows for "".
func (t *Table) CountRows(ctx context.Context, filter string) (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	n, err := t.t.CountRows(ctx, filter)
	return n, translateError(err)
}

// AddAsync runs Add on the connection's worker pool.
func (t *Table) AddAsync(ctx context.Context, data *record.Batch, mode WriteMode) *Task[uint64] {
	return goAsync(ctx, t, func(ctx context.Context) (uint64, error) {
		return t.Add(ctx, data, mode)
	})
}

// DeleteAsync runs Delete on the connection's worker pool.
func (t *Table) DeleteAsync(ctx context.Context, filter string) *Task[int] {
	return goAsync(ctx, t, func(ctx context.Context) (int, error) {
		return t.Delete(ctx, filter)
	})
}

// CountRowsAsync runs CountRows on the connection's worker pool.
func (t *Table) CountRowsAsync(ctx context.Context, filter string) *Task[int] {
	return goAsync(ctx, t, func(ctx context.Context) (int, error) {
		return t.CountRows(ctx, filter)
	})
}

func goAsync[T any](ctx context.Context, t *Table, fn func(context.Context) (T, error)) *Task[T] {
	return pool.Go(ctx, t.conn.workers, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		return v, translateError(err)
	})
}

// MergeInsert upserts source keyed by column on in a single version.
func (t *Table) MergeInsert(ctx context.Context, on string, source *record.Batch, o MergeInsertOptions) (MergeStats, error) {
	if err := t.check(); err != nil {
		return MergeStats{}, err
	}
	st, err := t.t.MergeInsert(ctx, on, source, o)
	return st, translateError(err)
}

// CreateIndex builds a vector index over column ("" for the schema's vector
// column).
func (t *Table) CreateIndex(ctx context.Context, column string, optFns ...IndexOption) error {
	if err := t.check(); err != nil {
		return err
	}
	var o engine.IndexOptions
	for _, fn := range optFns {
		fn(&o)
	}
	return translateError(t.t.CreateIndex(ctx, column, o))
}

// CreateScalarIndex builds a btree, bitmap or full-text index over column.
// Btree and bitmap indexes answer filters and CountRows; a full-text index
// enables FullTextSearch on the column. ReplaceIndex is the only option
// that applies.
func (t *Table) CreateScalarIndex(ctx context.Context, column string, typ ScalarIndexType, optFns ...IndexOption) error {
	if err := t.check(); err != nil {
		return err
	}
	var o engine.IndexOptions
	for _, fn := range optFns {
		fn(&o)
	}
	return translateError(t.t.CreateScalarIndex(ctx, column, engine.ScalarIndexOptions{Type: typ, Replace: o.Replace}))
}

// OptimizeIndex folds buffered vectors into the vector index and extends
// scalar indexes with rows added since they were built.
func (t *Table) OptimizeIndex(ctx context.Context) error {
	if err := t.check(); err != nil {
		return err
	}
	return translateError(t.t.OptimizeIndex(ctx))
}

// Cleanup deletes versions outside policy and blobs no kept version needs.
// Versions pinned by open cursors or checkouts are always kept.
func (t *Table) Cleanup(ctx context.Context, policy RetentionPolicy) (CleanupStats, error) {
	if err := t.check(); err != nil {
		return CleanupStats{}, err
	}
	st, err := t.t.Cleanup(ctx, policy)
	return st, translateError(err)
}

// ListVersions returns all stored versions in ascending order.
func (t *Table) ListVersions(ctx context.Context) ([]VersionInfo, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	v, err := t.t.ListVersions(ctx)
	return v, translateError(err)
}

// Checkout returns a read-only handle bound to an older version. It must be
// closed independently of t.
func (t *Table) Checkout(ctx context.Context, version uint64) (*Table, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	c, err := t.t.Checkout(ctx, version)
	if err != nil {
		return nil, translateError(err)
	}
	return &Table{conn: t.conn, name: t.name, t: c, logger: &Logger{Logger: t.logger.With("version", version)}}, nil
}

// Close releases the handle. It is idempotent; open cursors stay readable.
func (t *Table) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.t.ReadOnly() {
		return t.t.Close()
	}
	t.conn.release(t.name, t.t)
	return nil
}
