package hnsw

import (
	"fmt"

	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/internal/binenc"
)

// Encode appends the graph to w.
func (g *Graph) Encode(w *binenc.Writer) { g.encode(w, true) }

// EncodeLinks is Encode without the vectors. Read it back with
// DecodeLinks.
func (g *Graph) EncodeLinks(w *binenc.Writer) { g.encode(w, false) }

func (g *Graph) encode(w *binenc.Writer, withVectors bool) {
	w.Len32(g.dim)
	w.U32(uint32(g.opts.M))
	w.U32(uint32(g.opts.EFConstruction))
	w.U32(uint32(g.opts.EFSearch))
	w.U8(uint8(g.opts.Metric))
	w.Bool(g.opts.Heuristic)
	w.U64(g.opts.Seed)
	w.U64(g.rng)
	w.U32(uint32(g.entry))
	w.U8(uint8(g.top))

	w.Len32(len(g.rowIDs))
	for _, id := range g.rowIDs {
		w.U64(id)
	}
	if withVectors {
		for _, f := range g.vectors {
			w.F32(f)
		}
	}
	for _, lv := range g.links {
		w.U8(uint8(len(lv)))
		for _, conns := range lv {
			w.Len32(len(conns))
			for _, c := range conns {
				w.U32(c)
			}
		}
	}
}

// Decode reads a graph written by Encode.
func Decode(r *binenc.Reader) (*Graph, error) {
	return decode(r, nil)
}

// DecodeLinks reads a graph written by EncodeLinks. vector returns the
// vector of node i as it was inserted; cosine graphs normalize it again.
func DecodeLinks(r *binenc.Reader, vector func(i int) ([]float32, error)) (*Graph, error) {
	return decode(r, vector)
}

func decode(r *binenc.Reader, vector func(i int) ([]float32, error)) (*Graph, error) {
	dim := int(r.U32())
	opts := Options{
		M:              int(r.U32()),
		EFConstruction: int(r.U32()),
		EFSearch:       int(r.U32()),
		Metric:         distance.Metric(r.U8()),
		Heuristic:      r.Bool(),
		Seed:           r.U64(),
	}
	rng := r.U64()
	entry := int32(r.U32())
	top := int(r.U8())
	if err := r.Err(); err != nil {
		return nil, err
	}
	if dim <= 0 || opts.M < minimumM || opts.Metric > distance.MetricDot || top > maxLevel {
		return nil, fmt.Errorf("hnsw: invalid header (dim=%d m=%d metric=%d level=%d)", dim, opts.M, opts.Metric, top)
	}

	g := newGraph(dim, opts)
	g.rng = rng
	g.entry = entry
	g.top = top

	// row id + vector + level count
	perNode := 8 + 4*dim + 1
	if vector != nil {
		perNode = 8 + 1
	}
	n := r.Len32(perNode)
	g.rowIDs = make([]uint64, n)
	for i := range g.rowIDs {
		g.rowIDs[i] = r.U64()
	}
	g.vectors = make([]float32, n*dim)
	if vector == nil {
		for i := range g.vectors {
			g.vectors[i] = r.F32()
		}
	} else {
		for i := range n {
			v, err := vector(i)
			if err != nil {
				return nil, err
			}
			prepared, err := g.prepare(v)
			if err != nil {
				return nil, err
			}
			copy(g.vectors[i*dim:], prepared)
		}
	}
	g.links = make([][][]uint32, n)
	for i := range g.links {
		levels := int(r.U8())
		if levels == 0 || levels > maxLevel+1 {
			return nil, fmt.Errorf("hnsw: node %d has %d levels", i, levels)
		}
		lv := make([][]uint32, levels)
		for l := range lv {
			cnt := r.Len32(4)
			conns := make([]uint32, cnt)
			for j := range conns {
				conns[j] = r.U32()
				if int(conns[j]) >= n {
					return nil, fmt.Errorf("hnsw: node %d links to %d of %d", i, conns[j], n)
				}
			}
			lv[l] = conns
		}
		g.links[i] = lv
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	for i, lv := range g.links {
		for l, conns := range lv {
			for _, c := range conns {
				if len(g.links[c]) <= l {
					return nil, fmt.Errorf("hnsw: node %d links to %d above its level", i, c)
				}
			}
		}
	}
	if n == 0 {
		g.entry = -1
	} else if g.entry < 0 || int(g.entry) >= n || len(g.links[g.entry]) != top+1 {
		return nil, fmt.Errorf("hnsw: invalid entry point %d", g.entry)
	}
	return g, nil
}
