package index

import (
	"context"
	"slices"

	"github.com/hupe1980/vectable/internal/hnsw"
	"github.com/hupe1980/vectable/internal/quantization"
)

// cancelCheckInterval is how many inserts a fold performs between context
// checks.
const cancelCheckInterval = 256

// Generation is an immutable state of an index.
type Generation struct {
	opts  Options
	dim   int
	graph *hnsw.Graph // TypeHNSW
	flat  *flatStore  // TypeFlat

	// quant is trained at the first fold of a quantized lineage. codes
	// holds the graph's codes in node order.
	quant quantization.Quantizer
	codes []byte

	buffer []Entry
	// watermark is one past the highest row id folded into the structure.
	watermark uint64
	lineage   uint64
	seq       uint64
}

func emptyGeneration(dim int, opts Options, lineage, watermark uint64) (*Generation, error) {
	if dim <= 0 {
		return nil, &hnsw.ErrInvalidDimension{Dimension: dim}
	}
	if err := quantization.Validate(opts.Quantization, dim, opts.PQSubvectors); err != nil {
		return nil, err
	}
	g := &Generation{opts: opts, dim: dim, lineage: lineage, watermark: watermark}
	switch opts.Type {
	case TypeFlat:
		g.flat = &flatStore{dim: dim}
	default:
		g.opts.Type = TypeHNSW
		graph, err := newGraph(dim, opts)
		if err != nil {
			return nil, err
		}
		g.graph = graph
	}
	return g, nil
}

func newGraph(dim int, opts Options) (*hnsw.Graph, error) {
	return hnsw.New(dim, func(o *hnsw.Options) {
		o.Metric = opts.Metric
		if opts.M > 0 {
			o.M = opts.M
		}
		if opts.EFConstruction > 0 {
			o.EFConstruction = opts.EFConstruction
		}
		if opts.EFSearch > 0 {
			o.EFSearch = opts.EFSearch
		}
	})
}

func (g *Generation) Options() Options { return g.opts }
func (g *Generation) Dim() int { return g.dim }
func (g *Generation) Watermark() uint64 { return g.watermark }
func (g *Generation) Lineage() uint64 { return g.lineage }

// Quantizer returns the trained quantizer, or nil.
func (g *Generation) Quantizer() quantization.Quantizer { return g.quant }

// Indexed returns the number of rows in the indexed structure, dead rows
// included.
func (g *Generation) Indexed() int {
	if g.graph != nil {
		return g.graph.Len()
	}
	return g.flat.len()
}

// Unindexed returns the number of buffered rows.
func (g *Generation) Unindexed() int { return len(g.buffer) }

func (g *Generation) indexedRowID(i int) uint64 {
	if g.graph != nil {
		return g.graph.RowID(i)
	}
	return g.flat.rowIDs[i]
}

func (g *Generation) indexedVector(i int) []float32 {
	if g.graph != nil {
		if g.quant != nil {
			v, _ := g.quant.Decode(g.graphCode(i))
			return v
		}
		return g.graph.Vector(i)
	}
	return g.flat.vector(i)
}

func (g *Generation) graphCode(i int) []byte {
	n := g.quant.CodeSize()
	return g.codes[i*n : (i+1)*n : (i+1)*n]
}

// DeadFraction returns the share of indexed rows for which live is false.
func (g *Generation) DeadFraction(live func(uint64) bool) float64 {
	n := g.Indexed()
	if n == 0 || live == nil {
		return 0
	}
	dead := 0
	for i := range n {
		if !live(g.indexedRowID(i)) {
			dead++
		}
	}
	return float64(dead) / float64(n)
}

// Search returns up to k nearest live rows ordered by ascending distance,
// then ascending row id. The buffer is scanned exhaustively. ef <= 0 uses
// the configured EFSearch; it is ignored by flat indexes.
func (g *Generation) Search(q []float32, k, ef int, live func(uint64) bool) ([]Result, error) {
	return g.search(q, k, ef, live, true)
}

// SearchIndexed is Search restricted to the indexed structure; buffered
// rows are not considered.
func (g *Generation) SearchIndexed(q []float32, k, ef int, live func(uint64) bool) ([]Result, error) {
	return g.search(q, k, ef, live, false)
}

func (g *Generation) search(q []float32, k, ef int, live func(uint64) bool, withBuffer bool) ([]Result, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(q) != g.dim {
		return nil, &ErrDimensionMismatch{Expected: g.dim, Actual: len(q)}
	}

	var out []Result
	if g.graph != nil {
		hits, err := g.graph.Search(q, k, ef, live)
		if err != nil {
			return nil, err
		}
		out = make([]Result, 0, len(hits)+k)
		for _, h := range hits {
			out = append(out, Result{RowID: h.RowID, Distance: h.Distance})
		}
	} else {
		out = g.flat.search(q, k, g.opts.Metric, live)
	}
	if withBuffer && len(g.buffer) > 0 {
		out = append(out, bruteForce(g.buffer, q, k, g.opts.Metric, live)...)
		sortResults(out)
	}
	return out[:min(k, len(out))], nil
}

// Fold returns a generation in which the buffer is part of the indexed
// structure. Dead buffered rows are dropped. If the dead fraction of the
// structure exceeds RebuildDeadFraction, the structure is rebuilt from live
// rows. The receiver is not modified; publish the result with Install.
func (g *Generation) Fold(ctx context.Context, live func(uint64) bool) (*Generation, error) {
	rebuild := g.opts.RebuildDeadFraction > 0 && g.DeadFraction(live) > g.opts.RebuildDeadFraction

	next := &Generation{
		opts:      g.opts,
		dim:       g.dim,
		watermark: g.watermark,
		lineage:   g.lineage,
		seq:       g.seq + 1,
	}

	var pending []Entry
	if rebuild {
		for i := range g.Indexed() {
			if id := g.indexedRowID(i); live(id) {
				pending = append(pending, Entry{RowID: id, Vector: g.indexedVector(i)})
			}
		}
	}
	for _, e := range g.buffer {
		if live == nil || live(e.RowID) {
			pending = append(pending, e)
		}
		next.watermark = max(next.watermark, e.RowID+1)
	}

	next.quant = g.quant
	if g.opts.Quantization != quantization.KindNone && next.quant == nil && g.Indexed() == 0 && len(pending) > 0 {
		sample := make([][]float32, len(pending))
		for i, e := range pending {
			sample[i] = e.Vector
		}
		q, err := quantization.Train(g.opts.Quantization, g.dim, g.opts.PQSubvectors, sample)
		if err != nil {
			return nil, err
		}
		next.quant = q
	}

	var insert func(Entry) error
	if g.graph != nil {
		if rebuild {
			graph, err := newGraph(g.dim, g.opts)
			if err != nil {
				return nil, err
			}
			next.graph = graph
		} else {
			next.graph = g.graph.Clone()
			next.codes = slices.Clip(g.codes)
		}
		insert = func(e Entry) error {
			v := e.Vector
			if next.quant != nil {
				c, err := next.quant.Encode(v)
				if err != nil {
					return err
				}
				if v, err = next.quant.Decode(c); err != nil {
					return err
				}
				next.codes = append(next.codes, c...)
			}
			return next.graph.Insert(e.RowID, v)
		}
	} else {
		if rebuild {
			next.flat = &flatStore{dim: g.dim, quant: next.quant}
		} else {
			next.flat = g.flat.clone()
			if next.flat.len() == 0 {
				next.flat.quant = next.quant
			}
		}
		insert = next.flat.add
	}

	for i, e := range pending {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := insert(e); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func sortResults(rs []Result) {
	slices.SortFunc(rs, func(a, b Result) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		case a.RowID < b.RowID:
			return -1
		case a.RowID > b.RowID:
			return 1
		}
		return 0
	})
}
