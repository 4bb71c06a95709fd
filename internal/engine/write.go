package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/uuid"

	"github.com/hupe1980/vectable/blobstore"
	"github.com/hupe1980/vectable/codec"
	"github.com/hupe1980/vectable/index"
	"github.com/hupe1980/vectable/internal/manifest"
	"github.com/hupe1980/vectable/record"
)

const (
	// RowIDColumn holds the stable row id of every stored row.
	RowIDColumn = "_rowid"
	// DistanceColumn holds the distance of vector search results.
	DistanceColumn = "_distance"
	// ScoreColumn holds the BM25 score of full-text search results.
	ScoreColumn = "_score"

	versionsDir = "_versions"
	dataDir     = "data"
	indexDir    = "_indices"

	fragmentExt = ".vtf"
	indexExt    = ".vidx"
)

func fragmentPath(id uint64) string {
	return fmt.Sprintf("%s/%06d-%s%s", dataDir, id, uuid.NewString(), fragmentExt)
}

func indexPath() string {
	return indexDir + "/" + uuid.NewString() + indexExt
}

// validateSchema rejects schemas that use reserved column names.
func validateSchema(s *record.Schema) error {
	if s == nil {
		return invalidArg("schema is required")
	}
	for _, f := range s.Fields() {
		if strings.HasPrefix(f.Name, "_") {
			return invalidArg("column name %q is reserved", f.Name)
		}
	}
	return nil
}

// conform rebinds b to schema. Fields must match by position, name and
// type; nullability is checked against the actual data.
func conform(b *record.Batch, schema *record.Schema) (*record.Batch, error) {
	if b.Schema().Equal(schema) {
		return b, nil
	}
	if b.NumCols() != schema.NumFields() {
		return nil, schemaMismatch("batch has %d columns, table has %d", b.NumCols(), schema.NumFields())
	}
	cols := make([]*record.Column, b.NumCols())
	for i := range cols {
		want, got := schema.Field(i), b.Schema().Field(i)
		if want.Name != got.Name || !want.Type.Equal(got.Type) {
			return nil, schemaMismatch("column %d is %s, table expects %s", i, got, want)
		}
		cols[i] = b.Column(i)
	}
	out, err := record.NewBatch(schema, cols)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	return out, nil
}

// withRowIDs appends a _rowid column numbering rows from first.
func withRowIDs(b *record.Batch, first uint64) (*record.Batch, error) {
	ids := make([]int64, b.NumRows())
	for i := range ids {
		ids[i] = int64(first) + int64(i)
	}
	return b.WithColumn(record.Field{Name: RowIDColumn, Type: record.Int64Type}, record.Int64Column(ids))
}

func rowIDsOf(b *record.Batch) *roaring64.Bitmap {
	col := b.Column(b.NumCols() - 1)
	ids := make([]uint64, col.Len())
	for i := range ids {
		ids[i] = uint64(col.Int64(i))
	}
	bm := roaring64.New()
	bm.AddMany(ids)
	return bm
}

// writeFragment encodes a stored batch (with _rowid as last column) and
// writes it as a new fragment blob.
func (t *Table) writeFragment(ctx context.Context, b *record.Batch, id uint64) (manifest.FragmentInfo, error) {
	data, err := codec.Encode(b, codec.WithCompression(t.opts.compression))
	if err != nil {
		return manifest.FragmentInfo{}, err
	}
	if err := t.opts.resources.AcquireIO(ctx, len(data)); err != nil {
		return manifest.FragmentInfo{}, err
	}

	path := fragmentPath(id)
	if err := blobstore.WriteAll(ctx, t.store, t.blobName(path), data); err != nil {
		return manifest.FragmentInfo{}, ioErr("write fragment", err)
	}
	return manifest.FragmentInfo{
		ID:       id,
		Path:     path,
		RowCount: uint64(b.NumRows()),
		Size:     int64(len(data)),
		RowIDs:   rowIDsOf(b),
		Stats:    manifest.CollectStats(b),
	}, nil
}

// indexEntries extracts the non-null vectors of column from a stored batch.
// Rows below from are skipped.
func indexEntries(b *record.Batch, column string, from uint64) ([]index.Entry, error) {
	vecs, err := b.ColumnByName(column)
	if err != nil {
		return nil, err
	}
	ids, err := b.ColumnByName(RowIDColumn)
	if err != nil {
		return nil, err
	}
	entries := make([]index.Entry, 0, b.NumRows())
	for i := range b.NumRows() {
		id := uint64(ids.Int64(i))
		if id < from || vecs.IsNull(i) {
			continue
		}
		entries = append(entries, index.Entry{RowID: id, Vector: vecs.Vector(i)})
	}
	return entries, nil
}

// rowSelector returns the ascending positions of rows to remove from a
// stored batch.
type rowSelector func(b *record.Batch) ([]int, error)

// rewrite applies sel to every fragment not skipped. Fragments without
// selected rows are kept as they are, fully selected fragments are dropped
// and the rest are rewritten with the same row ids. nextID is advanced for
// every new fragment.
func (t *Table) rewrite(ctx context.Context, snap *Snapshot, skip func(manifest.FragmentInfo) bool, sel rowSelector, nextID *uint64) ([]manifest.FragmentInfo, int, error) {
	out := make([]manifest.FragmentInfo, 0, len(snap.fragments))
	removed := 0
	for _, f := range snap.fragments {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if skip != nil && skip(f.Info()) {
			out = append(out, f.Info())
			continue
		}
		b, err := f.Load(ctx)
		if err != nil {
			return nil, 0, err
		}
		drop, err := sel(b)
		if err != nil {
			return nil, 0, err
		}
		switch {
		case len(drop) == 0:
			out = append(out, f.Info())
			continue
		case len(drop) == b.NumRows():
			removed += len(drop)
			continue
		}

		keep := make([]int, 0, b.NumRows()-len(drop))
		j := 0
		for i := range b.NumRows() {
			if j < len(drop) && drop[j] == i {
				j++
				continue
			}
			keep = append(keep, i)
		}
		info, err := t.writeFragment(ctx, b.Take(keep), *nextID)
		if err != nil {
			return nil, 0, err
		}
		*nextID++
		removed += len(drop)
		out = append(out, info)
	}
	return out, removed, nil
}
