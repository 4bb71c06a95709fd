package scalar

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vectable/codec"
	"github.com/hupe1980/vectable/internal/binenc"
	"github.com/hupe1980/vectable/internal/hash"
	"github.com/hupe1980/vectable/record"
)

const (
	// Magic is "VSX1" in little-endian.
	Magic         uint32 = 0x31585356
	FormatVersion uint32 = 1
	headerSize           = 16
)

// ErrCorrupt is returned when a scalar index blob fails validation.
var ErrCorrupt = errors.New("scalar: corrupt blob")

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// MarshalBinary encodes the index.
//
// Layout: magic u32 | version u32 | crc32c(payload) u32 | raw size u32 |
// zstd payload.
func (ix *Index) MarshalBinary() ([]byte, error) {
	w := binenc.NewWriter(nil)
	w.U8(uint8(ix.typ))
	w.U8(uint8(ix.kind))
	writeBitmap(w, ix.nan)
	w.Len32(len(ix.keys))
	for i, k := range ix.keys {
		writeValue(w, k)
		if ix.typ == TypeBTree {
			w.U64(ix.rows[i])
		} else {
			writeBitmap(w, ix.sets[i])
		}
	}
	if err := w.Err(); err != nil {
		return nil, err
	}

	raw := w.Bytes()
	payload, err := codec.Compress(codec.CompressionZSTD, raw)
	if err != nil {
		return nil, err
	}
	out := make([]byte, headerSize, headerSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:], Magic)
	binary.LittleEndian.PutUint32(out[4:], FormatVersion)
	binary.LittleEndian.PutUint32(out[8:], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(out[12:], uint32(len(raw)))
	return append(out, payload...), nil
}

// Unmarshal decodes a blob written by MarshalBinary.
func Unmarshal(data []byte) (*Index, error) {
	if len(data) < headerSize {
		return nil, corrupt("short header (%d bytes)", len(data))
	}
	if m := binary.LittleEndian.Uint32(data[0:]); m != Magic {
		return nil, corrupt("bad magic %#x", m)
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v == 0 || v > FormatVersion {
		return nil, corrupt("unsupported version %d", v)
	}
	payload := data[headerSize:]
	if sum := binary.LittleEndian.Uint32(data[8:]); sum != hash.CRC32C(payload) {
		return nil, corrupt("checksum mismatch")
	}
	raw, err := codec.Decompress(codec.CompressionZSTD, payload, int(binary.LittleEndian.Uint32(data[12:])))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	r := binenc.NewReader(raw)
	ix := &Index{typ: Type(r.U8()), kind: record.TypeID(r.U8())}
	if ix.typ != TypeBTree && ix.typ != TypeBitmap {
		return nil, corrupt("invalid type %d", ix.typ)
	}
	if !Supports(ix.kind) {
		return nil, corrupt("invalid column type %s", ix.kind)
	}
	if ix.nan, err = readBitmap(r); err != nil {
		return nil, err
	}
	n := r.Len32(2)
	ix.keys = make([]record.Value, 0, n)
	for range n {
		ix.keys = append(ix.keys, readValue(r, ix.kind))
		if ix.typ == TypeBTree {
			ix.rows = append(ix.rows, r.U64())
			continue
		}
		bm, err := readBitmap(r)
		if err != nil {
			return nil, err
		}
		ix.sets = append(ix.sets, bm)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if r.Remaining() != 0 {
		return nil, corrupt("%d trailing bytes", r.Remaining())
	}
	return ix, nil
}

func writeBitmap(w *binenc.Writer, bm *roaring64.Bitmap) {
	data, err := bm.MarshalBinary()
	if err != nil {
		w.Fail(err)
		return
	}
	w.Blob(data)
}

func readBitmap(r *binenc.Reader) (*roaring64.Bitmap, error) {
	data := r.Blob()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	bm := roaring64.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return bm, nil
}

func writeValue(w *binenc.Writer, v record.Value) {
	switch v.Kind {
	case record.TypeBool:
		w.Bool(v.Bool())
	case record.TypeInt32, record.TypeInt64:
		w.U64(uint64(v.Int()))
	case record.TypeFloat32, record.TypeFloat64:
		w.F64(v.Float())
	case record.TypeString:
		w.Str(v.Str())
	case record.TypeBinary:
		w.Blob(v.Bytes())
	default:
		w.Fail(fmt.Errorf("cannot encode %s key", v.Kind))
	}
}

func readValue(r *binenc.Reader, kind record.TypeID) record.Value {
	switch kind {
	case record.TypeBool:
		return record.BoolValue(r.Bool())
	case record.TypeInt32:
		return record.Int32Value(int32(r.U64()))
	case record.TypeInt64:
		return record.Int64Value(int64(r.U64()))
	case record.TypeFloat32:
		return record.Float32Value(float32(r.F64()))
	case record.TypeFloat64:
		return record.Float64Value(r.F64())
	case record.TypeString:
		return record.StringValue(r.Str())
	default:
		return record.BinaryValue(append([]byte(nil), r.Blob()...))
	}
}
