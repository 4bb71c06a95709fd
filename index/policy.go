package index

// DefaultMaxUnindexed is the buffer size at which ThresholdPolicy folds.
const DefaultMaxUnindexed = 1024

// FoldPolicy decides whether a generation's buffer should be folded into
// its indexed structure. It is consulted after every add.
type FoldPolicy interface {
	ShouldFold(g *Generation) bool
}

// ThresholdPolicy folds once the buffer holds MaxUnindexed rows. A
// non-positive MaxUnindexed means DefaultMaxUnindexed.
type ThresholdPolicy struct {
	MaxUnindexed int
}

func (p ThresholdPolicy) ShouldFold(g *Generation) bool {
	limit := p.MaxUnindexed
	if limit <= 0 {
		limit = DefaultMaxUnindexed
	}
	return g.Unindexed() >= limit
}

// ManualPolicy never folds on its own.
type ManualPolicy struct{}

func (ManualPolicy) ShouldFold(*Generation) bool { return false }

var (
	_ FoldPolicy = ThresholdPolicy{}
	_ FoldPolicy = ManualPolicy{}
)
