package hnsw

import (
	"math"
	"slices"

	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/internal/searcher"
)

const (
	// mmax0Multiplier is the multiplier for calculating maximum connections at layer 0.
	mmax0Multiplier = 2

	// minimumM is the minimum valid value for M.
	minimumM = 2

	// maxLevel caps the layer count so a bad RNG draw cannot blow up memory.
	maxLevel = 16

	DefaultM              = 16
	DefaultEFConstruction = 200
	DefaultEFSearch       = 64
)

// Options represents the options for configuring HNSW.
type Options struct {
	M              int
	EFConstruction int
	EFSearch       int
	Metric         distance.Metric
	Heuristic      bool
	Seed           uint64
}

// DefaultOptions contains the default options for HNSW.
var DefaultOptions = Options{
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	EFSearch:       DefaultEFSearch,
	Metric:         distance.MetricL2,
	Heuristic:      true,
	Seed:           0x9e3779b97f4a7c15,
}

// Graph is an HNSW graph over vectors keyed by row id. Node ids are dense
// insertion positions.
type Graph struct {
	opts      Options
	dim       int
	dist      distance.Func
	maxM      int
	maxM0     int
	levelMult float64

	vectors []float32 // len = n*dim; normalized for cosine
	rowIDs  []uint64
	links   [][][]uint32 // links[node][level]
	entry   int32
	top     int
	rng     uint64
}

// New creates an empty graph for vectors of dimension dim.
func New(dim int, optFns ...func(o *Options)) (*Graph, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if dim <= 0 {
		return nil, &ErrInvalidDimension{Dimension: dim}
	}
	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}
	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultEFSearch
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultOptions.Seed
	}
	return newGraph(dim, opts), nil
}

func newGraph(dim int, opts Options) *Graph {
	g := &Graph{
		opts:      opts,
		dim:       dim,
		maxM:      opts.M,
		maxM0:     opts.M * mmax0Multiplier,
		levelMult: 1 / math.Log(float64(opts.M)),
		entry:     -1,
		rng:       opts.Seed,
	}
	if opts.Metric == distance.MetricCosine {
		// Vectors are normalized on the way in.
		g.dist = func(a, b []float32) float32 { return 1 - distance.Dot(a, b) }
	} else {
		g.dist = opts.Metric.Distance
	}
	return g
}

func (g *Graph) Options() Options { return g.opts }
func (g *Graph) Dim() int { return g.dim }
func (g *Graph) Len() int { return len(g.rowIDs) }

// RowID returns the row id of node i.
func (g *Graph) RowID(i int) uint64 { return g.rowIDs[i] }

// Vector returns the stored vector of node i. Cosine graphs store
// normalized vectors.
func (g *Graph) Vector(i int) []float32 { return g.vector(uint32(i)) }

func (g *Graph) vector(i uint32) []float32 {
	off := int(i) * g.dim
	return g.vectors[off : off+g.dim : off+g.dim]
}

// Clone returns a copy that can be modified without affecting g.
func (g *Graph) Clone() *Graph {
	c := *g
	c.vectors = slices.Clip(g.vectors)
	c.rowIDs = slices.Clip(g.rowIDs)
	c.links = make([][][]uint32, len(g.links))
	for i, lv := range g.links {
		// Level lists are never modified in place, so they can be shared.
		c.links[i] = slices.Clone(lv)
	}
	return &c
}

// xorshift64*
func (g *Graph) random() float64 {
	g.rng ^= g.rng >> 12
	g.rng ^= g.rng << 25
	g.rng ^= g.rng >> 27
	return float64((g.rng*2685821657736338717)>>11) / (1 << 53)
}

func (g *Graph) randomLevel() int {
	r := g.random()
	if r <= 0 {
		r = math.SmallestNonzeroFloat64
	}
	return min(int(-math.Log(r)*g.levelMult), maxLevel)
}

func (g *Graph) prepare(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, ErrEmptyVector
	}
	if len(v) != g.dim {
		return nil, &ErrDimensionMismatch{Expected: g.dim, Actual: len(v)}
	}
	if g.opts.Metric == distance.MetricCosine {
		if n, ok := distance.NormalizeL2Copy(v); ok {
			return n, nil
		}
	}
	return v, nil
}

// Insert adds a vector under rowID.
func (g *Graph) Insert(rowID uint64, v []float32) error {
	vec, err := g.prepare(v)
	if err != nil {
		return err
	}

	id := uint32(len(g.rowIDs))
	level := g.randomLevel()
	g.vectors = append(g.vectors, vec...)
	g.rowIDs = append(g.rowIDs, rowID)
	g.links = append(g.links, make([][]uint32, level+1))
	vec = g.vector(id)

	if g.entry < 0 {
		g.entry = int32(id)
		g.top = level
		return nil
	}

	ep := uint32(g.entry)
	epDist := g.dist(vec, g.vector(ep))
	for l := g.top; l > level; l-- {
		ep, epDist = g.greedy(vec, ep, epDist, l)
	}

	for l := min(level, g.top); l >= 0; l-- {
		found := g.searchLayer(vec, ep, epDist, g.opts.EFConstruction, l, nil)
		neighbors := g.selectNeighbors(found, g.maxM)
		conns := make([]uint32, len(neighbors))
		for i, n := range neighbors {
			conns[i] = uint32(n.ID)
		}
		g.links[id][l] = conns

		for _, n := range neighbors {
			g.addBacklink(uint32(n.ID), id, l)
		}
		ep, epDist = uint32(found[0].ID), found[0].Distance
	}

	if level > g.top {
		g.entry = int32(id)
		g.top = level
	}
	return nil
}

func (g *Graph) maxConns(level int) int {
	if level == 0 {
		return g.maxM0
	}
	return g.maxM
}

func (g *Graph) addBacklink(from, to uint32, level int) {
	old := g.links[from][level]
	conns := make([]uint32, len(old), len(old)+1)
	copy(conns, old)
	conns = append(conns, to)

	if limit := g.maxConns(level); len(conns) > limit {
		base := g.vector(from)
		cands := make([]searcher.PriorityQueueItem, len(conns))
		for i, c := range conns {
			cands[i] = searcher.PriorityQueueItem{ID: uint64(c), Distance: g.dist(base, g.vector(c))}
		}
		slices.SortFunc(cands, compareItems)
		kept := g.selectNeighbors(cands, limit)
		conns = conns[:len(kept)]
		for i, k := range kept {
			conns[i] = uint32(k.ID)
		}
	}
	g.links[from][level] = conns
}

func compareItems(a, b searcher.PriorityQueueItem) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

// selectNeighbors picks up to m neighbors from candidates sorted nearest
// first.
func (g *Graph) selectNeighbors(candidates []searcher.PriorityQueueItem, m int) []searcher.PriorityQueueItem {
	if len(candidates) <= m || !g.opts.Heuristic {
		return candidates[:min(m, len(candidates))]
	}

	result := make([]searcher.PriorityQueueItem, 0, m)
	for _, cand := range candidates {
		if len(result) >= m {
			break
		}
		// Relative neighborhood rule: skip candidates closer to an already
		// selected neighbor than to the base node.
		good := true
		cv := g.vector(uint32(cand.ID))
		for _, r := range result {
			if g.dist(cv, g.vector(uint32(r.ID))) < cand.Distance {
				good = false
				break
			}
		}
		if good {
			result = append(result, cand)
		}
	}

	// Fill up with pruned candidates to keep the graph connected.
	for _, cand := range candidates {
		if len(result) >= m {
			break
		}
		if !slices.ContainsFunc(result, func(r searcher.PriorityQueueItem) bool { return r.ID == cand.ID }) {
			result = append(result, cand)
		}
	}
	return result
}

func (g *Graph) greedy(q []float32, ep uint32, epDist float32, level int) (uint32, float32) {
	for changed := true; changed; {
		changed = false
		for _, n := range g.links[ep][level] {
			if d := g.dist(q, g.vector(n)); d < epDist {
				ep, epDist, changed = n, d, true
			}
		}
	}
	return ep, epDist
}

// searchLayer returns up to ef accepted nodes nearest to q on level, sorted
// nearest first. Nodes rejected by accept are traversed but not returned.
func (g *Graph) searchLayer(q []float32, ep uint32, epDist float32, ef, level int, accept func(uint32) bool) []searcher.PriorityQueueItem {
	visited := searcher.NewVisitedSet(len(g.rowIDs))
	candidates := searcher.NewPriorityQueue(false)
	results := searcher.NewPriorityQueue(true)

	visited.Visit(ep)
	candidates.PushItem(searcher.PriorityQueueItem{ID: uint64(ep), Distance: epDist})
	if accept == nil || accept(ep) {
		results.PushItem(searcher.PriorityQueueItem{ID: uint64(ep), Distance: epDist})
	}

	for candidates.Len() > 0 {
		curr, _ := candidates.PopItem()
		if results.Len() >= ef {
			if worst, _ := results.TopItem(); curr.Distance > worst.Distance {
				break
			}
		}

		for _, n := range g.links[curr.ID][level] {
			if !visited.Visit(n) {
				continue
			}
			d := g.dist(q, g.vector(n))
			if results.Len() >= ef {
				if worst, _ := results.TopItem(); d > worst.Distance {
					continue
				}
			}
			item := searcher.PriorityQueueItem{ID: uint64(n), Distance: d}
			candidates.PushItem(item)
			if accept == nil || accept(n) {
				results.PushItemBounded(item, ef)
			}
		}
	}
	return results.Sorted()
}

// Search returns up to k live nearest neighbors of q ordered by ascending
// distance, then ascending row id. ef <= 0 uses the configured EFSearch.
// live may be nil.
func (g *Graph) Search(q []float32, k, ef int, live func(rowID uint64) bool) ([]Result, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	query, err := g.prepare(q)
	if err != nil {
		return nil, err
	}
	if g.entry < 0 {
		return nil, nil
	}
	if ef <= 0 {
		ef = g.opts.EFSearch
	}
	ef = max(ef, k)

	var accept func(uint32) bool
	if live != nil {
		accept = func(n uint32) bool { return live(g.rowIDs[n]) }
	}

	ep := uint32(g.entry)
	epDist := g.dist(query, g.vector(ep))
	for l := g.top; l > 0; l-- {
		ep, epDist = g.greedy(query, ep, epDist, l)
	}

	var found []searcher.PriorityQueueItem
	for {
		found = g.searchLayer(query, ep, epDist, ef, 0, accept)
		if len(found) >= k || ef >= len(g.rowIDs) {
			break
		}
		ef *= 2
	}

	out := make([]Result, len(found))
	for i, f := range found {
		out[i] = Result{RowID: g.rowIDs[f.ID], Distance: f.Distance}
	}
	slices.SortFunc(out, func(a, b Result) int {
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
	return out[:min(k, len(out))], nil
}

// Stats reports level occupancy and average layer-0 degree.
func (g *Graph) Stats() Stats {
	s := Stats{Nodes: len(g.rowIDs), MaxLevel: g.top, NodesPerLevel: make([]int, g.top+1)}
	var conns int
	for _, lv := range g.links {
		for l := range lv {
			s.NodesPerLevel[l]++
		}
		conns += len(lv[0])
	}
	if s.Nodes > 0 {
		s.AvgConnections = float64(conns) / float64(s.Nodes)
	}
	return s
}
