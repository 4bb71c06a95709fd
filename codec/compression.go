package codec

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the column block compression.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression maps "none", "lz4" and "zstd" to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	return dec
}

// Compress compresses data with c. It is exported for other blob formats
// (index files) that share the codec's compression.
func Compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil // n == 0 means incompressible
	case CompressionZSTD:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, nil), nil
	default:
		return data, nil
	}
}

// Decompress reverses Compress. rawSize is the expected output length.
func Decompress(c Compression, data []byte, rawSize int) ([]byte, error) {
	switch c {
	case CompressionLZ4:
		dst := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, formatErr("lz4: %v", err)
		}
		if n != rawSize {
			return nil, formatErr("lz4: decompressed %d bytes, want %d", n, rawSize)
		}
		return dst, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, formatErr("zstd: %v", err)
		}
		if len(out) != rawSize {
			return nil, formatErr("zstd: decompressed %d bytes, want %d", len(out), rawSize)
		}
		return out, nil
	case CompressionNone:
		return data, nil
	default:
		return nil, formatErr("unknown compression %d", c)
	}
}

const blockHeaderSize = 8

// appendBlock appends [raw size][stored size][data]. Blocks that do not
// shrink by at least 10% are stored raw with stored size 0.
func appendBlock(dst []byte, c Compression, raw []byte) ([]byte, error) {
	var packed []byte
	if c != CompressionNone && len(raw) > 0 {
		var err error
		if packed, err = Compress(c, raw); err != nil {
			return nil, err
		}
		if len(packed) == 0 || float64(len(packed)) > float64(len(raw))*0.9 {
			packed = nil
		}
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(raw)))
	if packed == nil {
		dst = binary.LittleEndian.AppendUint32(dst, 0)
		return append(dst, raw...), nil
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(packed)))
	return append(dst, packed...), nil
}

// readBlock parses one block from data and returns the raw bytes and the
// number of input bytes consumed.
func readBlock(data []byte, c Compression) ([]byte, int, error) {
	if len(data) < blockHeaderSize {
		return nil, 0, formatErr("truncated block header")
	}
	rawSize := int(binary.LittleEndian.Uint32(data[0:]))
	stored := int(binary.LittleEndian.Uint32(data[4:]))

	if stored == 0 {
		if len(data)-blockHeaderSize < rawSize {
			return nil, 0, formatErr("truncated block: need %d bytes", rawSize)
		}
		return data[blockHeaderSize : blockHeaderSize+rawSize], blockHeaderSize + rawSize, nil
	}

	if len(data)-blockHeaderSize < stored {
		return nil, 0, formatErr("truncated compressed block: need %d bytes", stored)
	}
	raw, err := Decompress(c, data[blockHeaderSize:blockHeaderSize+stored], rawSize)
	if err != nil {
		return nil, 0, err
	}
	return raw, blockHeaderSize + stored, nil
}
