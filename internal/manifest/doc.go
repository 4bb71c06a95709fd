// Package manifest persists the versions of a table.
//
// Every committed version is one immutable blob, MANIFEST-NNNNNN.bin, next to
// a CURRENT pointer naming the newest one:
//
//	<table>/_versions/MANIFEST-000001.bin
//	<table>/_versions/MANIFEST-000002.bin
//	<table>/_versions/CURRENT  ("MANIFEST-000002.bin")
//
// # Binary Format
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - "VMF1"
//	  Version  (4 bytes) - format version (currently 1)
//	  Checksum (4 bytes) - CRC32C of payload
//	  Length   (4 bytes) - payload length in bytes
//
//	Payload:
//	  ID, CreatedAt (unix nanos), Operation
//	  Schema        (blob, codec.EncodeSchema)
//	  NextFragmentID, NextRowID
//	  Fragments[]   (id, path, rows, size, row id bitmap, column stats)
//	  Index         (present flag + index parameters)
//
// # Commit Protocol
//
// Save writes the manifest blob first and then replaces CURRENT with Put,
// which every blob store implements atomically (rename on local disk,
// conditional write in the DynamoDB commit store). A crash between the two
// steps leaves an unreferenced manifest and the previous version intact.
package manifest
