package mmap

import (
	"errors"
	"io"
	"os"
)

// File is a read-only view of a whole file.
type File struct {
	data   []byte
	f      *os.File
	unmap  func([]byte) error
	closed bool
}

// Open maps the file at path into memory.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	size := fi.Size()
	if size < 0 {
		_ = f.Close()
		return nil, errors.New("mmap: file size is negative")
	}
	if size == 0 {
		return &File{f: f}, nil
	}

	data, unmap, err := osMap(f, int(size))
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &File{data: data, f: f, unmap: unmap}, nil
}

// Bytes returns the mapped region. The slice is invalid after Close.
func (m *File) Bytes() []byte {
	return m.data
}

// Len returns the size of the mapped file.
func (m *File) Len() int {
	return len(m.data)
}

// ReadAt implements io.ReaderAt.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the memory and closes the underlying file.
func (m *File) Close() error {
	if m == nil || m.closed {
		return nil
	}
	m.closed = true

	var err error
	if m.data != nil && m.unmap != nil {
		err = m.unmap(m.data)
	}
	m.data = nil
	if m.f != nil {
		if cerr := m.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		m.f = nil
	}
	return err
}
