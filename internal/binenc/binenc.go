// Package binenc holds the little-endian, sticky-error buffers shared by the
// fragment codec, manifests and index blobs.
//
// The first failure is remembered and turns every later call into a no-op, so
// encoders and decoders check Err once at the end.
package binenc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrTooLarge is returned when a length does not fit its prefix.
var ErrTooLarge = errors.New("binenc: value too large")

// Writer appends encoded values to a byte slice.
type Writer struct {
	buf []byte
	err error
}

// NewWriter returns a writer appending to buf.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int { return len(w.buf) }
func (w *Writer) Err() error { return w.err }

// Fail records err unless an error is already recorded.
func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) U8(v uint8) {
	if w.err == nil {
		w.buf = append(w.buf, v)
	}
}

func (w *Writer) U16(v uint16) {
	if w.err == nil {
		w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	}
}

func (w *Writer) U32(v uint32) {
	if w.err == nil {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	}
}

func (w *Writer) U64(v uint64) {
	if w.err == nil {
		w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	}
}

func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }
func (w *Writer) F64(v float64) { w.U64(math.Float64bits(v)) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

// Len32 writes a length as uint32.
func (w *Writer) Len32(n int) {
	if n < 0 || uint64(n) > math.MaxUint32 {
		w.Fail(fmt.Errorf("%w: length %d", ErrTooLarge, n))
		return
	}
	w.U32(uint32(n))
}

// Blob writes a uint32 length prefix followed by b.
func (w *Writer) Blob(b []byte) {
	w.Len32(len(b))
	w.Raw(b)
}

// Str writes a uint32 length prefix followed by s.
func (w *Writer) Str(s string) {
	w.Len32(len(s))
	if w.err == nil {
		w.buf = append(w.buf, s...)
	}
}

// Raw appends b without a prefix.
func (w *Writer) Raw(b []byte) {
	if w.err == nil {
		w.buf = append(w.buf, b...)
	}
}

// Reader consumes values written by Writer.
type Reader struct {
	buf []byte
	pos int
	err error
}

// NewReader returns a reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Err() error { return r.err }
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Fail records err unless an error is already recorded.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *Reader) U8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) U16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *Reader) U32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *Reader) U64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *Reader) F32() float32 { return math.Float32frombits(r.U32()) }
func (r *Reader) F64() float64 { return math.Float64frombits(r.U64()) }
func (r *Reader) Bool() bool { return r.U8() != 0 }

// Len32 reads a uint32 length and checks it against the remaining bytes
// divided by minSize, so corrupt lengths cannot trigger huge allocations.
func (r *Reader) Len32(minSize int) int {
	n := int(r.U32())
	if r.err != nil {
		return 0
	}
	if minSize > 0 && n > r.Remaining()/minSize {
		r.err = io.ErrUnexpectedEOF
		return 0
	}
	return n
}

// Blob reads a length-prefixed byte slice. The result aliases the input.
func (r *Reader) Blob() []byte {
	return r.take(r.Len32(1))
}

// Str reads a length-prefixed string.
func (r *Reader) Str() string {
	return string(r.Blob())
}

// Raw reads n bytes. The result aliases the input.
func (r *Reader) Raw(n int) []byte {
	return r.take(n)
}
