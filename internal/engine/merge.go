package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/vectable/internal/manifest"
	"github.com/hupe1980/vectable/record"
)

// MergeInsertOptions selects what MergeInsert does with matched and
// unmatched rows. The zero value changes nothing.
type MergeInsertOptions struct {
	// WhenMatchedUpdateAll replaces target rows whose key appears in the
	// source. Updated rows receive new row ids.
	WhenMatchedUpdateAll bool
	// WhenNotMatchedInsertAll inserts source rows whose key is not in the
	// target.
	WhenNotMatchedInsertAll bool
	// WhenNotMatchedBySourceDelete removes target rows whose key is not in
	// the source.
	WhenNotMatchedBySourceDelete bool
	// NotMatchedBySourceFilter restricts those deletes to matching rows.
	NotMatchedBySourceFilter string
}

// MergeStats reports the effect of MergeInsert.
type MergeStats struct {
	Version  uint64
	Inserted int
	Updated  int
	Deleted  int
}

func keyOf(v record.Value) (string, bool) {
	if v.IsNull() {
		return "", false
	}
	if v.IsNumeric() {
		// Integers and floats of equal value share a key.
		return fmt.Sprintf("n:%v", v.Float()), true
	}
	return fmt.Sprintf("%d:%s", v.Kind, v.String()), true
}

// MergeInsert upserts source into the table keyed by column on and commits
// a single merge version. Source keys must be unique.
func (t *Table) MergeInsert(ctx context.Context, on string, source *record.Batch, o MergeInsertOptions) (MergeStats, error) {
	if err := t.checkWritable(); err != nil {
		return MergeStats{}, err
	}
	if source == nil {
		return MergeStats{}, invalidArg("merge source is nil")
	}
	start := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.mergeInsert(ctx, on, source, o)
	t.opts.metrics.OnCommit(t.name, manifest.OpMerge.String(), st.Inserted+st.Updated+st.Deleted, time.Since(start), err)
	if err != nil {
		return MergeStats{}, err
	}
	if st.Version != 0 {
		t.maybeScheduleFold(st.Deleted+st.Updated > 0)
	}
	return st, nil
}

func (t *Table) mergeInsert(ctx context.Context, on string, source *record.Batch, o MergeInsertOptions) (MergeStats, error) {
	cur := t.snap.Load()
	if cur.schema.FieldIndex(on) < 0 {
		return MergeStats{}, invalidArg("unknown key column %q", on)
	}
	source, err := conform(source, cur.schema)
	if err != nil {
		return MergeStats{}, err
	}
	var bySource func(*record.Batch) ([]int, error)
	if o.WhenNotMatchedBySourceDelete && o.NotMatchedBySourceFilter != "" {
		f, err := compileFilter(o.NotMatchedBySourceFilter, cur.stored)
		if err != nil {
			return MergeStats{}, err
		}
		bySource = f.Match
	}

	keyCol, _ := source.ColumnByName(on)
	srcRows := make(map[string]int, source.NumRows())
	for i := range source.NumRows() {
		k, ok := keyOf(keyCol.Value(i))
		if !ok {
			continue
		}
		if _, dup := srcRows[k]; dup {
			return MergeStats{}, invalidArg("duplicate key %s in merge source", keyCol.Value(i))
		}
		srcRows[k] = i
	}

	var st MergeStats
	matched := make([]bool, source.NumRows())
	sel := func(b *record.Batch) ([]int, error) {
		col, err := b.ColumnByName(on)
		if err != nil {
			return nil, err
		}
		var scoped map[int]bool
		if bySource != nil {
			rows, err := bySource(b)
			if err != nil {
				return nil, err
			}
			scoped = make(map[int]bool, len(rows))
			for _, r := range rows {
				scoped[r] = true
			}
		}
		var drop []int
		for i := range b.NumRows() {
			k, ok := keyOf(col.Value(i))
			src, hit := srcRows[k]
			switch {
			case ok && hit:
				matched[src] = true
				if o.WhenMatchedUpdateAll {
					drop = append(drop, i)
					st.Updated++
				}
			case o.WhenNotMatchedBySourceDelete && (scoped == nil || scoped[i]):
				drop = append(drop, i)
				st.Deleted++
			}
		}
		return drop, nil
	}

	next := cur.manifest.Next(manifest.OpMerge)
	frags, _, err := t.rewrite(ctx, cur, nil, sel, &next.NextFragmentID)
	if err != nil {
		return MergeStats{}, err
	}

	var insert []int
	for i := range source.NumRows() {
		if matched[i] {
			if o.WhenMatchedUpdateAll {
				insert = append(insert, i)
			}
		} else if o.WhenNotMatchedInsertAll {
			insert = append(insert, i)
			st.Inserted++
		}
	}
	if len(insert) == 0 && st.Deleted == 0 && st.Updated == 0 {
		return st, nil
	}

	firstRowID := next.NextRowID
	var written []manifest.FragmentInfo
	if len(insert) > 0 {
		stored, err := withRowIDs(source.Take(insert), firstRowID)
		if err != nil {
			return MergeStats{}, err
		}
		info, err := t.writeFragment(ctx, stored, next.NextFragmentID)
		if err != nil {
			return MergeStats{}, err
		}
		next.NextFragmentID++
		next.NextRowID += uint64(len(insert))
		frags = append(frags, info)
		written = append(written, info)
	}
	next.Fragments = frags

	if err := t.versions.Save(ctx, next); err != nil {
		return MergeStats{}, ioErr("commit", err)
	}
	if t.ix != nil {
		t.syncIndex(ctx, next, cur.schema, func() error {
			return t.bufferRows(ctx, written, next.Index.Column, firstRowID)
		})
	}
	if err := t.publish(next, cur.schema); err != nil {
		return MergeStats{}, err
	}
	st.Version = next.ID
	t.logger.Info("committed", "version", next.ID, "op", "merge", "rows", len(insert), "fragments", len(frags),
		"inserted", st.Inserted, "updated", st.Updated, "deleted", st.Deleted)
	return st, nil
}
