package vectable

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/vectable/codec"
	"github.com/hupe1980/vectable/index"
	"github.com/hupe1980/vectable/internal/engine"
	"github.com/hupe1980/vectable/internal/manifest"
	"github.com/hupe1980/vectable/internal/pool"
)

var (
	// ErrNotFound is returned when a table or version does not exist.
	ErrNotFound = engine.ErrNotFound

	// ErrAlreadyExists is returned when creating a table that exists.
	ErrAlreadyExists = engine.ErrAlreadyExists

	// ErrInvalidArgument is returned for malformed queries, filters, names
	// and options.
	ErrInvalidArgument = engine.ErrInvalidArgument

	// ErrSchemaMismatch is returned when data does not conform to a table
	// schema.
	ErrSchemaMismatch = engine.ErrSchemaMismatch

	// ErrIO is returned when the storage backend fails.
	ErrIO = engine.ErrIO

	// ErrClosed is returned when a closed connection, table or cursor is used.
	ErrClosed = engine.ErrClosed

	// ErrReadOnly is returned when mutating a checked out version.
	ErrReadOnly = engine.ErrReadOnly

	// ErrFormat is returned when stored or supplied bytes cannot be decoded.
	ErrFormat = codec.ErrFormat
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrorKind classifies errors for callers that cannot use errors.Is, such
// as the ffi package.
type ErrorKind int

const (
	KindOK ErrorKind = iota
	KindNotFound
	KindAlreadyExists
	KindFormat
	KindSchemaMismatch
	KindDimensionMismatch
	KindIO
	KindInvalidArgument
	KindClosed
	KindReadOnly
	KindCanceled
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindFormat:
		return "format"
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindDimensionMismatch:
		return "dimension_mismatch"
	case KindIO:
		return "io"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindClosed:
		return "closed"
	case KindReadOnly:
		return "read_only"
	case KindCanceled:
		return "canceled"
	default:
		return "internal"
	}
}

// KindOf returns the kind of err. Decoding failures are reported as
// KindFormat even when they surfaced while reading from storage.
func KindOf(err error) ErrorKind {
	var dm *ErrDimensionMismatch
	switch {
	case err == nil:
		return KindOK
	case errors.As(err, &dm):
		return KindDimensionMismatch
	case errors.Is(err, ErrFormat):
		return KindFormat
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrSchemaMismatch):
		return KindSchemaMismatch
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrClosed):
		return KindClosed
	case errors.Is(err, ErrReadOnly):
		return KindReadOnly
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindInternal
	}
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *engine.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	// Corruption found below the codec is still a format error.
	for _, corrupt := range []error{manifest.ErrCorrupt, manifest.ErrIncompatibleVersion, index.ErrCorrupt} {
		if errors.Is(err, corrupt) {
			return fmt.Errorf("%w: %w", ErrFormat, err)
		}
	}
	if errors.Is(err, pool.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}
