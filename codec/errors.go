package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat is the root of all decoding failures.
	ErrFormat = errors.New("format error")
	// ErrChecksum is returned when the body checksum does not match.
	ErrChecksum = fmt.Errorf("%w: checksum mismatch", ErrFormat)
	// ErrUnsupportedVersion is returned for format versions newer than this reader.
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported format version", ErrFormat)
)

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrFormat}, args...)...)
}
