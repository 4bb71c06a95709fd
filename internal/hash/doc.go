// Package hash provides the checksum used by every on-disk structure of the
// store: fragment files, manifests and index blobs.
//
// All checksums are CRC32-Castagnoli (CRC32C). The implementation comes from
// github.com/klauspost/crc32, which uses the SSE4.2 and ARM CRC instructions
// when available.
//
// One-shot:
//
//	sum := hash.CRC32C(data)
//
// Streaming:
//
//	h := hash.NewCRC32C()
//	h.Write(header)
//	h.Write(body)
//	sum := h.Sum32()
package hash
