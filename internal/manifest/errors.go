package manifest

import "errors"

var (
	// ErrIncompatibleVersion is returned when the manifest version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible manifest version")

	// ErrNotFound is returned when the manifest or CURRENT pointer does not exist.
	ErrNotFound = errors.New("manifest not found")

	// ErrCorrupt is returned when a manifest fails its checksum or cannot be parsed.
	ErrCorrupt = errors.New("corrupt manifest")

	// ErrConflict is returned when the version being saved already exists.
	ErrConflict = errors.New("manifest version already exists")
)
