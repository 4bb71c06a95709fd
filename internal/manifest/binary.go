package manifest

import (
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vectable/internal/binenc"
	"github.com/hupe1980/vectable/internal/hash"
)

const (
	binaryMagic   = 0x31464d56 // "VMF1"
	binaryVersion = 2
	headerSize    = 16
)

// MarshalBinary encodes the manifest with header and checksum. Version 1
// manifests lack quantization settings and scalar indexes and are still
// readable.
func (m *Manifest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize, 256+len(m.Schema)+len(m.Fragments)*128)
	w := binenc.NewWriter(buf)

	w.U64(m.ID)
	w.U64(uint64(m.CreatedAt.UnixNano()))
	w.U8(uint8(m.Operation))
	w.Blob(m.Schema)
	w.U64(m.NextFragmentID)
	w.U64(m.NextRowID)

	w.Len32(len(m.Fragments))
	for _, f := range m.Fragments {
		w.U64(f.ID)
		w.Str(f.Path)
		w.U64(f.RowCount)
		w.U64(uint64(f.Size))
		if f.RowIDs == nil {
			w.Blob(nil)
		} else {
			bm, err := f.RowIDs.MarshalBinary()
			if err != nil {
				return nil, err
			}
			w.Blob(bm)
		}
		writeStats(w, f.Stats)
	}

	w.Bool(m.Index != nil)
	if idx := m.Index; idx != nil {
		w.Str(idx.Column)
		w.Str(idx.Type)
		w.Str(idx.Metric)
		w.U32(uint32(idx.M))
		w.U32(uint32(idx.EFConstruction))
		w.U32(uint32(idx.EFSearch))
		w.Str(idx.Path)
		w.U64(idx.IndexedRows)
		w.Str(idx.Quantization)
		w.U32(uint32(idx.PQSubvectors))
	}
	w.Len32(len(m.ScalarIndexes))
	for _, s := range m.ScalarIndexes {
		w.Str(s.Column)
		w.Str(s.Type)
		w.Str(s.Path)
		w.U64(s.IndexedRows)
		w.U64(s.Watermark)
	}

	if err := w.Err(); err != nil {
		return nil, err
	}

	out := w.Bytes()
	payload := out[headerSize:]
	binary.LittleEndian.PutUint32(out[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(out[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(out[8:12], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(payload)))
	return out, nil
}

func writeStats(w *binenc.Writer, fs FragmentStats) {
	w.Len32(len(fs.Columns))
	for _, name := range slices.Sorted(maps.Keys(fs.Columns)) {
		cs := fs.Columns[name]
		w.Str(name)
		w.F64(cs.Min)
		w.F64(cs.Max)
		w.U64(cs.NullCount)
		w.Bool(cs.HasNaN)
		w.Bool(cs.HasValue)
	}
}

// Unmarshal decodes a manifest written by MarshalBinary.
func Unmarshal(data []byte) (*Manifest, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, io.ErrUnexpectedEOF)
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != binaryMagic {
		return nil, fmt.Errorf("%w: invalid magic %x", ErrCorrupt, magic)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version == 0 || version > binaryVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, version)
	}
	checksum := binary.LittleEndian.Uint32(data[8:12])
	length := int(binary.LittleEndian.Uint32(data[12:16]))
	if len(data)-headerSize < length {
		return nil, fmt.Errorf("%w: payload truncated", ErrCorrupt)
	}
	payload := data[headerSize : headerSize+length]
	if hash.CRC32C(payload) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	r := binenc.NewReader(payload)
	m := &Manifest{}
	m.ID = r.U64()
	m.CreatedAt = time.Unix(0, int64(r.U64()))
	m.Operation = Operation(r.U8())
	m.Schema = append([]byte(nil), r.Blob()...)
	m.NextFragmentID = r.U64()
	m.NextRowID = r.U64()

	// id + path len + rows + size + bitmap len + stats count
	n := r.Len32(36)
	m.Fragments = make([]FragmentInfo, n)
	for i := range m.Fragments {
		f := &m.Fragments[i]
		f.ID = r.U64()
		f.Path = r.Str()
		f.RowCount = r.U64()
		f.Size = int64(r.U64())
		f.RowIDs = roaring64.New()
		if bm := r.Blob(); len(bm) > 0 && r.Err() == nil {
			if err := f.RowIDs.UnmarshalBinary(bm); err != nil {
				return nil, fmt.Errorf("%w: fragment %d row ids: %v", ErrCorrupt, f.ID, err)
			}
		}
		f.Stats = readStats(r)
	}

	if r.Bool() {
		idx := &IndexInfo{}
		idx.Column = r.Str()
		idx.Type = r.Str()
		idx.Metric = r.Str()
		idx.M = int(r.U32())
		idx.EFConstruction = int(r.U32())
		idx.EFSearch = int(r.U32())
		idx.Path = r.Str()
		idx.IndexedRows = r.U64()
		if version >= 2 {
			idx.Quantization = r.Str()
			idx.PQSubvectors = int(r.U32())
		}
		m.Index = idx
	}
	if version >= 2 {
		// column + type + path lengths + rows + watermark
		n := r.Len32(28)
		for range n {
			m.ScalarIndexes = append(m.ScalarIndexes, ScalarIndexInfo{
				Column:      r.Str(),
				Type:        r.Str(),
				Path:        r.Str(),
				IndexedRows: r.U64(),
				Watermark:   r.U64(),
			})
		}
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return m, nil
}

func readStats(r *binenc.Reader) FragmentStats {
	// name len + min + max + nulls + flags
	n := r.Len32(30)
	fs := FragmentStats{Columns: make(map[string]ColumnStats, n)}
	for range n {
		name := r.Str()
		fs.Columns[name] = ColumnStats{
			Min:       r.F64(),
			Max:       r.F64(),
			NullCount: r.U64(),
			HasNaN:    r.Bool(),
			HasValue:  r.Bool(),
		}
	}
	return fs
}
