// Package blobstore is the storage boundary of the table store.
//
// Every byte the engine persists, whether fragment files, manifests, the
// per-table CURRENT pointer or index blobs, goes through a BlobStore.
// Blobs are addressed by slash-separated names relative to the store root and
// are treated as immutable once written, with one exception: Put must replace
// a blob atomically, which is how version commits swap the CURRENT pointer.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, mmap reads, temp-file + rename writes
//   - MemoryStore: in-process map, used by tests and memory:// connections
//   - CachingStore: LRU block cache in front of any other store
//   - FaultyStore: failure injection for tests
//   - minio.Store: MinIO and other S3-compatible endpoints
//   - s3.Store and s3.DDBCommitStore: Amazon S3, optionally with DynamoDB
//     conditional writes for CURRENT
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
