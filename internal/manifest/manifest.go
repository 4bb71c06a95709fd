package manifest

import (
	"fmt"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Operation names the mutation that produced a version.
type Operation uint8

const (
	OpCreate Operation = iota + 1
	OpAppend
	OpOverwrite
	OpDelete
	OpCreateIndex
	OpOptimizeIndex
	OpMerge
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpAppend:
		return "append"
	case OpOverwrite:
		return "overwrite"
	case OpDelete:
		return "delete"
	case OpCreateIndex:
		return "create_index"
	case OpOptimizeIndex:
		return "optimize_index"
	case OpMerge:
		return "merge"
	default:
		return fmt.Sprintf("Operation(%d)", uint8(op))
	}
}

// Manifest describes one immutable version of a table.
type Manifest struct {
	ID             uint64
	CreatedAt      time.Time
	Operation      Operation
	Schema         []byte // codec.EncodeSchema
	Fragments      []FragmentInfo
	NextFragmentID uint64
	NextRowID      uint64
	Index          *IndexInfo
	// ScalarIndexes holds at most one scalar or full-text index per column.
	ScalarIndexes []ScalarIndexInfo
}

// New returns the manifest of an empty table, before its first commit.
func New(schema []byte) *Manifest {
	return &Manifest{
		Schema:         schema,
		NextFragmentID: 1,
	}
}

// FragmentInfo describes a single data fragment.
type FragmentInfo struct {
	ID       uint64
	Path     string // relative to the table directory
	RowCount uint64
	Size     int64
	// RowIDs holds the stable row ids stored in the fragment. Committed
	// bitmaps are never modified.
	RowIDs *roaring64.Bitmap
	Stats  FragmentStats
}

// IndexInfo describes the vector index of a version.
type IndexInfo struct {
	Column         string
	Type           string // "hnsw" or "flat"
	Metric         string
	M              int
	EFConstruction int
	EFSearch       int
	// Path is the persisted index blob relative to the table directory. It
	// is empty until the first fold.
	Path        string
	IndexedRows uint64
	// Quantization is "", "pq" or "sq".
	Quantization string
	PQSubvectors int
}

// ScalarIndexInfo describes a scalar or full-text index.
type ScalarIndexInfo struct {
	Column string
	Type   string // "btree", "bitmap" or "fts"
	// Path is the persisted index blob relative to the table directory.
	// Empty when no row was indexed yet.
	Path        string
	IndexedRows uint64
	// Watermark bounds the covered rows: the index holds every live row
	// with an id below it at build time.
	Watermark uint64
}

// ScalarIndex returns the scalar index on column, if any.
func (m *Manifest) ScalarIndex(column string) (ScalarIndexInfo, bool) {
	for _, s := range m.ScalarIndexes {
		if s.Column == column {
			return s, true
		}
	}
	return ScalarIndexInfo{}, false
}

// Next returns a copy of m prepared as the successor version. Fragment
// infos are shared; callers replace the slice rather than editing it.
func (m *Manifest) Next(op Operation) *Manifest {
	n := *m
	n.ID = m.ID + 1
	n.Operation = op
	n.CreatedAt = time.Now()
	n.Fragments = slices.Clip(m.Fragments)
	n.ScalarIndexes = slices.Clone(m.ScalarIndexes)
	if m.Index != nil {
		idx := *m.Index
		n.Index = &idx
	}
	return &n
}

// NumRows returns the total row count over all fragments.
func (m *Manifest) NumRows() uint64 {
	var n uint64
	for _, f := range m.Fragments {
		n += f.RowCount
	}
	return n
}

// Size returns the total fragment size in bytes.
func (m *Manifest) Size() int64 {
	var n int64
	for _, f := range m.Fragments {
		n += f.Size
	}
	return n
}

// RowIDs returns the union of all fragment row ids.
func (m *Manifest) RowIDs() *roaring64.Bitmap {
	out := roaring64.New()
	for _, f := range m.Fragments {
		if f.RowIDs != nil {
			out.Or(f.RowIDs)
		}
	}
	return out
}

// Blobs returns the data and index blob paths referenced by m.
func (m *Manifest) Blobs() []string {
	paths := make([]string, 0, len(m.Fragments)+len(m.ScalarIndexes)+1)
	for _, f := range m.Fragments {
		paths = append(paths, f.Path)
	}
	if m.Index != nil && m.Index.Path != "" {
		paths = append(paths, m.Index.Path)
	}
	for _, s := range m.ScalarIndexes {
		if s.Path != "" {
			paths = append(paths, s.Path)
		}
	}
	return paths
}
