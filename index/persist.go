package index

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/vectable/codec"
	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/internal/binenc"
	"github.com/hupe1980/vectable/internal/hash"
	"github.com/hupe1980/vectable/internal/hnsw"
	"github.com/hupe1980/vectable/internal/quantization"
)

const (
	// Magic is "VIX1" in little-endian.
	Magic         uint32 = 0x31584956
	FormatVersion uint32 = 2
	headerSize           = 16
)

// ErrCorrupt is returned when an index blob fails validation.
var ErrCorrupt = errors.New("index: corrupt blob")

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// MarshalBinary encodes the indexed structure. The buffer is not included.
//
// Layout: magic u32 | version u32 | crc32c(payload) u32 | raw size u32 |
// zstd payload. Version 1 payloads have no quantization section.
func (g *Generation) MarshalBinary() ([]byte, error) {
	w := binenc.NewWriter(nil)
	w.U8(uint8(g.opts.Type))
	w.U8(uint8(g.opts.Metric))
	w.U32(uint32(g.dim))
	w.U64(g.watermark)
	w.F64(g.opts.RebuildDeadFraction)
	w.U8(uint8(g.opts.Quantization))
	w.U32(uint32(g.opts.PQSubvectors))
	w.Bool(g.quant != nil)
	if g.quant != nil {
		quantization.Encode(w, g.quant)
	}
	if g.graph != nil {
		if g.quant != nil {
			w.Blob(g.codes)
			g.graph.EncodeLinks(w)
		} else {
			g.graph.Encode(w)
		}
	} else {
		w.Len32(len(g.flat.rowIDs))
		for _, id := range g.flat.rowIDs {
			w.U64(id)
		}
		if g.flat.quant != nil {
			w.Raw(g.flat.codes)
		} else {
			for _, f := range g.flat.vectors {
				w.F32(f)
			}
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

// Unmarshal decodes a blob written by MarshalBinary into a generation with
// an empty buffer.
func Unmarshal(data []byte) (*Generation, error) {
	if len(data) < headerSize {
		return nil, corrupt("short header (%d bytes)", len(data))
	}
	if m := binary.LittleEndian.Uint32(data[0:]); m != Magic {
		return nil, corrupt("bad magic %#x", m)
	}
	version := binary.LittleEndian.Uint32(data[4:])
	if version == 0 || version > FormatVersion {
		return nil, corrupt("unsupported version %d", version)
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
	typ := Type(r.U8())
	metric := distance.Metric(r.U8())
	dim := int(r.U32())
	g := &Generation{dim: dim, watermark: r.U64(), lineage: 1}
	g.opts = Options{Type: typ, Metric: metric, RebuildDeadFraction: r.F64()}
	if version >= 2 {
		g.opts.Quantization = quantization.Kind(r.U8())
		g.opts.PQSubvectors = int(r.U32())
		if r.Bool() {
			q, err := quantization.Decode(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
			}
			g.quant = q
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if dim <= 0 {
		return nil, corrupt("invalid dimension %d", dim)
	}
	if err := quantization.Validate(g.opts.Quantization, dim, g.opts.PQSubvectors); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if g.quant != nil && (g.quant.Dim() != dim || g.quant.Kind() != g.opts.Quantization) {
		return nil, corrupt("quantizer does not match index")
	}

	switch typ {
	case TypeHNSW:
		var graph *hnsw.Graph
		var err error
		if g.quant != nil {
			g.codes = r.Blob()
			size := g.quant.CodeSize()
			if r.Err() == nil && len(g.codes)%size != 0 {
				return nil, corrupt("code section of %d bytes", len(g.codes))
			}
			graph, err = hnsw.DecodeLinks(r, func(i int) ([]float32, error) {
				if (i+1)*size > len(g.codes) {
					return nil, corrupt("missing code for node %d", i)
				}
				return g.quant.Decode(g.codes[i*size : (i+1)*size])
			})
			if err == nil && graph.Len()*size != len(g.codes) {
				err = corrupt("%d codes for %d nodes", len(g.codes)/size, graph.Len())
			}
		} else {
			graph, err = hnsw.Decode(r)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if graph.Dim() != dim {
			return nil, corrupt("graph dimension %d, want %d", graph.Dim(), dim)
		}
		o := graph.Options()
		g.graph = graph
		g.opts.Metric = o.Metric
		g.opts.M, g.opts.EFConstruction, g.opts.EFSearch = o.M, o.EFConstruction, o.EFSearch
	case TypeFlat:
		if g.quant != nil {
			size := g.quant.CodeSize()
			n := r.Len32(8 + size)
			f := &flatStore{dim: dim, rowIDs: make([]uint64, n), quant: g.quant}
			for i := range f.rowIDs {
				f.rowIDs[i] = r.U64()
			}
			f.codes = append([]byte(nil), r.Raw(n*size)...)
			if err := r.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
			}
			g.flat = f
			break
		}
		n := r.Len32(8 + 4*dim)
		f := &flatStore{dim: dim, rowIDs: make([]uint64, n), vectors: make([]float32, n*dim)}
		for i := range f.rowIDs {
			f.rowIDs[i] = r.U64()
		}
		for i := range f.vectors {
			f.vectors[i] = r.F32()
		}
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		g.flat = f
	default:
		return nil, corrupt("unknown index type %d", typ)
	}
	if _, err := distance.Provider(g.opts.Metric); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return g, nil
}
