// Package codec is the on-disk format of table fragments.
//
// Encode turns a record.Batch into a self-describing byte buffer and Decode
// reverses it exactly: field order, nullability, null positions, vectors and
// nested lists survive the round trip.
//
// Layout (little-endian):
//
//	header (32 bytes)
//	  magic "VTB1" | format version u32 | compression u8 | pad [3]
//	  rows u32 | columns u32 | body length u64 | crc32c(body) u32
//	body
//	  schema (length-prefixed, see EncodeSchema)
//	  one block per column: raw size u32 | stored size u32 (0 = uncompressed) | data
//
// Column blocks are compressed independently with LZ4 or Zstandard; blocks
// that do not shrink are stored raw. Readers accept every format version up
// to FormatVersion and fail with ErrFormat on anything they cannot trust.
package codec
