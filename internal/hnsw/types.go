package hnsw

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyVector = errors.New("vector cannot be empty")
	ErrInvalidK    = errors.New("k must be positive")
)

type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Result is one search hit.
type Result struct {
	RowID    uint64
	Distance float32
}

// Stats summarizes the shape of a graph.
type Stats struct {
	Nodes          int
	MaxLevel       int
	NodesPerLevel  []int
	AvgConnections float64
}
