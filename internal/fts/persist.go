package fts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/vectable/codec"
	"github.com/hupe1980/vectable/internal/binenc"
	"github.com/hupe1980/vectable/internal/hash"
)

const (
	// Magic is "VFT1" in little-endian.
	Magic         uint32 = 0x31544656
	FormatVersion uint32 = 1
	headerSize           = 16
)

// ErrCorrupt is returned when an fts blob fails validation.
var ErrCorrupt = errors.New("fts: corrupt blob")

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// MarshalBinary encodes the index with documents and terms in ascending
// order.
//
// Layout: magic u32 | version u32 | crc32c(payload) u32 | raw size u32 |
// zstd payload.
func (ix *Index) MarshalBinary() ([]byte, error) {
	w := binenc.NewWriter(nil)
	rows := slices.Sorted(maps.Keys(ix.docLen))
	w.Len32(len(rows))
	for _, row := range rows {
		w.U64(row)
		w.U32(ix.docLen[row])
	}
	terms := slices.Sorted(maps.Keys(ix.terms))
	w.Len32(len(terms))
	for _, t := range terms {
		ps := ix.terms[t]
		w.Str(t)
		w.Len32(len(ps))
		for _, p := range ps {
			w.U64(p.row)
			w.U32(p.tf)
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
	n := r.Len32(12)
	ix := &Index{docLen: make(map[uint64]uint32, n)}
	for range n {
		row, l := r.U64(), r.U32()
		ix.docLen[row] = l
		ix.totalLen += uint64(l)
	}
	nt := r.Len32(16)
	ix.terms = make(map[string][]posting, nt)
	for range nt {
		t := r.Str()
		ps := make([]posting, r.Len32(12))
		for i := range ps {
			ps[i] = posting{row: r.U64(), tf: r.U32()}
			if _, ok := ix.docLen[ps[i].row]; !ok && r.Err() == nil {
				return nil, corrupt("term %q posts unknown row %d", t, ps[i].row)
			}
		}
		ix.terms[t] = ps
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if r.Remaining() != 0 {
		return nil, corrupt("%d trailing bytes", r.Remaining())
	}
	return ix, nil
}
