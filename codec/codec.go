package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/vectable/internal/binenc"
	"github.com/hupe1980/vectable/internal/hash"
	"github.com/hupe1980/vectable/record"
)

const (
	// Magic is "VTB1" read as a little-endian uint32.
	Magic uint32 = 0x31425456
	// FormatVersion is the newest version this package writes and reads.
	FormatVersion uint32 = 1
	// HeaderSize is the fixed size of the fragment header.
	HeaderSize = 32
)

// Header is the fixed-size prefix of an encoded fragment.
type Header struct {
	Version     uint32
	Compression Compression
	Rows        uint32
	Columns     uint32
	BodyLength  uint64
	Checksum    uint32
}

type options struct {
	compression Compression
}

// Option configures Encode.
type Option func(*options)

// WithCompression sets the column block compression. The default is LZ4.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// Encode serializes b.
func Encode(b *record.Batch, opts ...Option) ([]byte, error) {
	o := options{compression: CompressionLZ4}
	for _, fn := range opts {
		fn(&o)
	}
	if o.compression > CompressionZSTD {
		return nil, fmt.Errorf("codec: unknown compression %d", o.compression)
	}
	if b.NumRows() > int(^uint32(0)) {
		return nil, fmt.Errorf("codec: %w: %d rows", binenc.ErrTooLarge, b.NumRows())
	}

	sw := binenc.NewWriter(nil)
	writeSchema(sw, b.Schema())
	if err := sw.Err(); err != nil {
		return nil, fmt.Errorf("codec: schema: %w", err)
	}

	out := make([]byte, HeaderSize, HeaderSize+4+sw.Len())
	out = binary.LittleEndian.AppendUint32(out, uint32(sw.Len()))
	out = append(out, sw.Bytes()...)

	var scratch []byte
	for i := range b.NumCols() {
		cw := binenc.NewWriter(scratch[:0])
		writeColumn(cw, b.Column(i))
		if err := cw.Err(); err != nil {
			return nil, fmt.Errorf("codec: column %q: %w", b.Schema().Field(i).Name, err)
		}
		var err error
		if out, err = appendBlock(out, o.compression, cw.Bytes()); err != nil {
			return nil, fmt.Errorf("codec: column %q: %w", b.Schema().Field(i).Name, err)
		}
		scratch = cw.Bytes()
	}

	body := out[HeaderSize:]
	putHeader(out[:HeaderSize], Header{
		Version:     FormatVersion,
		Compression: o.compression,
		Rows:        uint32(b.NumRows()),
		Columns:     uint32(b.NumCols()),
		BodyLength:  uint64(len(body)),
		Checksum:    hash.CRC32C(body),
	})
	return out, nil
}

func putHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint32(dst[0:], Magic)
	binary.LittleEndian.PutUint32(dst[4:], h.Version)
	dst[8] = byte(h.Compression)
	dst[9], dst[10], dst[11] = 0, 0, 0
	binary.LittleEndian.PutUint32(dst[12:], h.Rows)
	binary.LittleEndian.PutUint32(dst[16:], h.Columns)
	binary.LittleEndian.PutUint64(dst[20:], h.BodyLength)
	binary.LittleEndian.PutUint32(dst[28:], h.Checksum)
}

// ReadHeader parses and validates the fixed header without touching the body.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, formatErr("truncated header: %d bytes", len(data))
	}
	if m := binary.LittleEndian.Uint32(data[0:]); m != Magic {
		return Header{}, formatErr("bad magic 0x%08x", m)
	}
	h := Header{
		Version:     binary.LittleEndian.Uint32(data[4:]),
		Compression: Compression(data[8]),
		Rows:        binary.LittleEndian.Uint32(data[12:]),
		Columns:     binary.LittleEndian.Uint32(data[16:]),
		BodyLength:  binary.LittleEndian.Uint64(data[20:]),
		Checksum:    binary.LittleEndian.Uint32(data[28:]),
	}
	if h.Version == 0 || h.Version > FormatVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Compression > CompressionZSTD {
		return Header{}, formatErr("unknown compression %d", h.Compression)
	}
	return h, nil
}

// Decode parses a buffer produced by Encode. Any corruption is reported as
// an error wrapping ErrFormat.
func Decode(data []byte) (*record.Batch, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)-HeaderSize) < h.BodyLength {
		return nil, formatErr("truncated body: have %d bytes, want %d", len(data)-HeaderSize, h.BodyLength)
	}
	body := data[HeaderSize : HeaderSize+int(h.BodyLength)]
	if got := hash.CRC32C(body); got != h.Checksum {
		return nil, fmt.Errorf("%w: got 0x%08x, want 0x%08x", ErrChecksum, got, h.Checksum)
	}

	if len(body) < 4 {
		return nil, formatErr("truncated schema")
	}
	schemaLen := int(binary.LittleEndian.Uint32(body))
	if schemaLen > len(body)-4 {
		return nil, formatErr("schema length %d exceeds body", schemaLen)
	}
	schema, err := DecodeSchema(body[4 : 4+schemaLen])
	if err != nil {
		return nil, err
	}
	if int(h.Columns) != schema.NumFields() {
		return nil, formatErr("header has %d columns, schema %d", h.Columns, schema.NumFields())
	}

	rest := body[4+schemaLen:]
	cols := make([]*record.Column, schema.NumFields())
	for i := range cols {
		f := schema.Field(i)
		raw, n, err := readBlock(rest, h.Compression)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		rest = rest[n:]

		r := binenc.NewReader(raw)
		col, err := readColumn(r, f.Type, 0)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		if r.Remaining() != 0 {
			return nil, formatErr("column %q: %d trailing bytes", f.Name, r.Remaining())
		}
		if col.Len() != int(h.Rows) {
			return nil, formatErr("column %q has %d rows, header %d", f.Name, col.Len(), h.Rows)
		}
		cols[i] = col
	}
	if len(rest) != 0 {
		return nil, formatErr("%d trailing bytes after columns", len(rest))
	}

	b, err := record.NewBatch(schema, cols)
	if err != nil {
		return nil, formatErr("%v", err)
	}
	return b, nil
}
