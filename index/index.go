package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/internal/hnsw"
	"github.com/hupe1980/vectable/internal/quantization"
)

var (
	// ErrStale is returned by Install when the index moved on since the
	// base generation was taken.
	ErrStale = errors.New("index: generation is stale")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("index: k must be positive")
)

// ErrDimensionMismatch is returned when a vector has the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Type selects the indexed structure.
type Type uint8

const (
	TypeHNSW Type = iota + 1
	TypeFlat
)

func (t Type) String() string {
	switch t {
	case TypeHNSW:
		return "hnsw"
	case TypeFlat:
		return "flat"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ParseType maps "hnsw" and "flat" (case-insensitive) to a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "hnsw", "":
		return TypeHNSW, nil
	case "flat":
		return TypeFlat, nil
	default:
		return 0, fmt.Errorf("invalid index type %q", s)
	}
}

// Options configures an index. M, EFConstruction and EFSearch only apply to
// HNSW.
type Options struct {
	Type           Type
	Metric         distance.Metric
	M              int
	EFConstruction int
	EFSearch       int
	// RebuildDeadFraction triggers a rebuild from live rows instead of an
	// incremental fold once this share of indexed rows is dead.
	RebuildDeadFraction float64
	// Quantization compresses indexed vectors. The quantizer is trained on
	// the rows of the first fold of a lineage. Flat indexes score codes
	// directly; HNSW graphs are built over the reconstructions and persist
	// only the codes.
	Quantization quantization.Kind
	// PQSubvectors is the number of product quantization subvectors. Zero
	// picks a divisor of the dimension.
	PQSubvectors int
}

// DefaultOptions returns an HNSW configuration with L2 distance.
func DefaultOptions() Options {
	return Options{
		Type:                TypeHNSW,
		Metric:              distance.MetricL2,
		M:                   hnsw.DefaultM,
		EFConstruction:      hnsw.DefaultEFConstruction,
		EFSearch:            hnsw.DefaultEFSearch,
		RebuildDeadFraction: 0.3,
	}
}

// Entry is a vector keyed by its row id.
type Entry struct {
	RowID  uint64
	Vector []float32
}

// Result is one search hit.
type Result struct {
	RowID    uint64
	Distance float32
}

// Index is the mutable handle of a lineage of generations. Add and Install
// are serialized; Current and Search are lock-free.
type Index struct {
	mu  sync.Mutex
	gen atomic.Pointer[Generation]
}

// New returns an index with an empty generation.
func New(dim int, opts Options) (*Index, error) {
	g, err := emptyGeneration(dim, opts, 1, 0)
	if err != nil {
		return nil, err
	}
	return FromGeneration(g), nil
}

// Build indexes entries immediately.
func Build(dim int, entries []Entry, opts Options) (*Index, error) {
	ix, err := New(dim, opts)
	if err != nil {
		return nil, err
	}
	base, err := ix.Add(entries...)
	if err != nil {
		return nil, err
	}
	folded, err := base.Fold(context.Background(), nil)
	if err != nil {
		return nil, err
	}
	if _, err := ix.Install(base, folded); err != nil {
		return nil, err
	}
	return ix, nil
}

// FromGeneration wraps a loaded generation.
func FromGeneration(g *Generation) *Index {
	ix := &Index{}
	ix.gen.Store(g)
	return ix
}

// Current returns the latest generation.
func (ix *Index) Current() *Generation {
	return ix.gen.Load()
}

// Search searches the latest generation.
func (ix *Index) Search(q []float32, k, ef int, live func(uint64) bool) ([]Result, error) {
	return ix.Current().Search(q, k, ef, live)
}

// Add buffers entries and publishes the resulting generation.
func (ix *Index) Add(entries ...Entry) (*Generation, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur := ix.gen.Load()
	for _, e := range entries {
		if len(e.Vector) != cur.dim {
			return nil, &ErrDimensionMismatch{Expected: cur.dim, Actual: len(e.Vector)}
		}
	}
	if len(entries) == 0 {
		return cur, nil
	}
	next := *cur
	buf := make([]Entry, 0, len(cur.buffer)+len(entries))
	buf = append(buf, cur.buffer...)
	next.buffer = append(buf, entries...)
	ix.gen.Store(&next)
	return &next, nil
}

// Reset starts a new lineage with an empty structure. Rows below watermark
// are treated as gone; the table uses this when its data is overwritten.
func (ix *Index) Reset(watermark uint64) (*Generation, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur := ix.gen.Load()
	g, err := emptyGeneration(cur.dim, cur.opts, cur.lineage+1, watermark)
	if err != nil {
		return nil, err
	}
	ix.gen.Store(g)
	return g, nil
}

// Install publishes folded, a fold of base. Entries added after base was
// taken stay buffered in the published generation. It fails with ErrStale
// if another fold or a Reset happened in between.
func (ix *Index) Install(base, folded *Generation) (*Generation, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur := ix.gen.Load()
	if cur.lineage != base.lineage || cur.seq != base.seq || len(cur.buffer) < len(base.buffer) {
		return nil, ErrStale
	}
	next := *folded
	next.buffer = append([]Entry(nil), cur.buffer[len(base.buffer):]...)
	ix.gen.Store(&next)
	return &next, nil
}
