package record

import "errors"

var (
	// ErrSchemaMismatch is returned when data does not conform to a schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrInvalidSchema is returned for malformed schemas.
	ErrInvalidSchema = errors.New("invalid schema")
	// ErrColumnNotFound is returned when a named column does not exist.
	ErrColumnNotFound = errors.New("column not found")
)
