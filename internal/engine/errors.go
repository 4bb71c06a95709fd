package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed table.
	ErrClosed = errors.New("table closed")

	// ErrNotFound is returned when a table or version does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by Create when the table exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument is returned for malformed plans, filters and options.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSchemaMismatch is returned when data does not conform to the table schema.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrIO wraps failures of the underlying blob store.
	ErrIO = errors.New("storage failure")

	// ErrReadOnly is returned when a mutation is attempted on a checked out version.
	ErrReadOnly = errors.New("table is read-only")
)

// ErrDimensionMismatch is returned when a vector has the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func invalidArg(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func schemaMismatch(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchemaMismatch, fmt.Sprintf(format, args...))
}

// ioErr marks a storage failure. Errors that already carry a kind are
// returned unchanged.
func ioErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrIO) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
