package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// ErrNotFound is returned when a blob does not exist.
// Implementations must return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// BlobStore reads and writes named blobs. Implementations must be safe for
// concurrent use.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create starts a streaming write. The blob becomes visible on Close and
	// is discarded on Abort.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a whole blob atomically, replacing any previous content.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names of all blobs starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// DirLister is implemented by stores that can list the directories
// directly below a prefix without enumerating every blob.
type DirLister interface {
	// ListDirs returns the sorted names, relative to prefix and without a
	// trailing slash, of the directories directly below prefix. prefix is
	// empty or ends in "/".
	ListDirs(ctx context.Context, prefix string) ([]string, error)
}

// ListDirs lists the directories directly below prefix. Stores without
// DirLister fall back to a full List.
func ListDirs(ctx context.Context, s BlobStore, prefix string) ([]string, error) {
	if dl, ok := s.(DirLister); ok {
		return dl.ListDirs(ctx, prefix)
	}
	names, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return FirstSegments(names, prefix), nil
}

// FirstSegments returns the sorted, distinct first path segments of the
// names below prefix that have more than one segment.
func FirstSegments(names []string, prefix string) []string {
	var out []string
	for _, n := range names {
		rest, ok := strings.CutPrefix(n, prefix)
		if !ok {
			continue
		}
		if i := strings.IndexByte(rest, '/'); i > 0 {
			out = append(out, rest[:i])
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	io.Closer
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
	// Size returns the size of the blob in bytes.
	Size() int64
}

// WritableBlob is a blob being written.
type WritableBlob interface {
	io.Writer
	Close() error
	Sync() error
	Abort() error
}

// Mappable is an optional interface for Blobs backed by memory.
type Mappable interface {
	// Bytes returns the content without copying. The slice is valid until
	// the Blob is closed.
	Bytes() ([]byte, error)
}

// ReadAll returns the full content of the named blob.
func ReadAll(ctx context.Context, s BlobStore, name string) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	if m, ok := b.(Mappable); ok {
		data, err := m.Bytes()
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	buf := make([]byte, b.Size())
	n, err := b.ReadAt(ctx, buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if int64(n) != b.Size() {
		return nil, fmt.Errorf("blobstore: short read of %s: %d of %d bytes", name, n, b.Size())
	}
	return buf, nil
}

// WriteAll streams data into a new blob. The partially written blob is
// aborted on any failure.
func WriteAll(ctx context.Context, s BlobStore, name string, data []byte) error {
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	if err := w.Sync(); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Close()
}

// Exists reports whether the named blob exists.
func Exists(ctx context.Context, s BlobStore, name string) (bool, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	_ = b.Close()
	return true, nil
}

// NopReadCloser wraps r with a no-op Close.
func NopReadCloser(r io.Reader) io.ReadCloser {
	return io.NopCloser(r)
}
