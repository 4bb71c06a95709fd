// Package fts implements a BM25 inverted index over a text column.
//
// An index is immutable and covers a set of row ids. Queries score any
// number of indexes together so that a table can search its indexed rows
// and its not yet indexed tail as one corpus.
package fts

import (
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vectable/internal/searcher"
)

const (
	k1 = 1.2
	b  = 0.75
)

type posting struct {
	row uint64
	tf  uint32
}

// Index is an immutable inverted index.
type Index struct {
	terms    map[string][]posting // postings sorted by row
	docLen   map[uint64]uint32
	totalLen uint64
}

// Docs returns the number of indexed documents.
func (ix *Index) Docs() int { return len(ix.docLen) }

// Terms returns the number of distinct terms.
func (ix *Index) Terms() int { return len(ix.terms) }

// Builder accumulates documents.
type Builder struct {
	ix *Index
}

func NewBuilder() *Builder {
	return &Builder{ix: &Index{terms: make(map[string][]posting), docLen: make(map[uint64]uint32)}}
}

// Add indexes text under row. Each row must be added once.
func (bl *Builder) Add(row uint64, text string) {
	tokens := Tokenize(text)
	tf := make(map[string]uint32, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	for t, n := range tf {
		bl.ix.terms[t] = append(bl.ix.terms[t], posting{row: row, tf: n})
	}
	bl.ix.docLen[row] = uint32(len(tokens))
	bl.ix.totalLen += uint64(len(tokens))
}

// AddIndex adds the documents of ix for which keep returns true; a nil
// keep adds every document. Its rows must not overlap the rows already
// added.
func (bl *Builder) AddIndex(ix *Index, keep func(row uint64) bool) {
	for t, ps := range ix.terms {
		for _, p := range ps {
			if keep == nil || keep(p.row) {
				bl.ix.terms[t] = append(bl.ix.terms[t], p)
			}
		}
	}
	for row, n := range ix.docLen {
		if keep == nil || keep(row) {
			bl.ix.docLen[row] = n
			bl.ix.totalLen += uint64(n)
		}
	}
}

// Build sorts the postings and returns the index. The builder must not be
// used afterwards.
func (bl *Builder) Build() *Index {
	for _, ps := range bl.ix.terms {
		slices.SortFunc(ps, func(x, y posting) int {
			switch {
			case x.row < y.row:
				return -1
			case x.row > y.row:
				return 1
			}
			return 0
		})
	}
	ix := bl.ix
	bl.ix = nil
	return ix
}

// Query describes a search.
type Query struct {
	Text string
	// Limit caps the number of hits; zero or less returns every match.
	Limit int
	// Live restricts both the corpus statistics and the hits. Nil means
	// every indexed row is live.
	Live *roaring64.Bitmap
	// Filter further restricts the hits without affecting the statistics.
	Filter *roaring64.Bitmap
}

// Hit is a scored row.
type Hit struct {
	Row   uint64
	Score float32
}

type termIterator struct {
	postings []posting
	idx      int
	idf      float64
}

func (it *termIterator) row() uint64 {
	if it.idx >= len(it.postings) {
		return math.MaxUint64
	}
	return it.postings[it.idx].row
}

// next advances to the next live posting.
func (it *termIterator) next(live *roaring64.Bitmap) {
	it.idx++
	it.skip(live)
}

func (it *termIterator) skip(live *roaring64.Bitmap) {
	for live != nil && it.idx < len(it.postings) && !live.Contains(it.postings[it.idx].row) {
		it.idx++
	}
}

// Search scores the documents of segs against q.Text with BM25 and returns
// the best hits by descending score, ties broken by ascending row id. The
// segments must cover disjoint rows. Repeated query terms count once.
func Search(q Query, segs ...*Index) []Hit {
	terms := Tokenize(q.Text)
	slices.Sort(terms)
	terms = slices.Compact(terms)
	if len(terms) == 0 {
		return nil
	}

	var docs, total float64
	df := make([]float64, len(terms))
	for _, seg := range segs {
		for row, n := range seg.docLen {
			if q.Live == nil || q.Live.Contains(row) {
				docs++
				total += float64(n)
			}
		}
		for i, t := range terms {
			for _, p := range seg.terms[t] {
				if q.Live == nil || q.Live.Contains(p.row) {
					df[i]++
				}
			}
		}
	}
	if docs == 0 || total == 0 {
		return nil
	}
	avgDL := total / docs
	idf := make([]float64, len(terms))
	for i, n := range df {
		idf[i] = math.Log(1 + (docs-n+0.5)/(n+0.5))
	}

	// BM25 constants for this query.
	k1Plus1 := k1 + 1
	k11b := k1 * (1 - b)
	k1bAvgDL := k1 * b / avgDL

	limit := q.Limit
	if limit <= 0 {
		limit = math.MaxInt
	}
	top := searcher.NewTopK(limit)
	iterators := make([]termIterator, 0, len(terms))
	for _, seg := range segs {
		iterators = iterators[:0]
		for i, t := range terms {
			if ps := seg.terms[t]; len(ps) > 0 && df[i] > 0 {
				it := termIterator{postings: ps, idf: idf[i]}
				it.skip(q.Live)
				iterators = append(iterators, it)
			}
		}
		for {
			minRow := uint64(math.MaxUint64)
			for i := range iterators {
				minRow = min(minRow, iterators[i].row())
			}
			if minRow == math.MaxUint64 {
				break
			}
			var score float64
			docLen := float64(seg.docLen[minRow])
			for i := range iterators {
				it := &iterators[i]
				if it.row() != minRow {
					continue
				}
				tf := float64(it.postings[it.idx].tf)
				score += it.idf * (tf * k1Plus1 / (tf + k11b + k1bAvgDL*docLen))
				it.next(q.Live)
			}
			if score > 0 && (q.Filter == nil || q.Filter.Contains(minRow)) {
				top.Push(minRow, -float32(score))
			}
		}
	}

	items := top.Results()
	hits := make([]Hit, len(items))
	for i, it := range items {
		hits[i] = Hit{Row: it.ID, Score: -it.Distance}
	}
	return hits
}
