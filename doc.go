// Package vectable is an embedded, columnar, versioned table store with
// vector similarity search.
//
// A Connection opens a storage location: a local directory, memory://,
// s3://bucket/prefix or minio://endpoint/bucket/prefix. Tables hold record
// batches. Every mutation commits an immutable version, and queries read
// the version current when they start no matter what is committed
// meanwhile.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := vectable.Connect(ctx, "./data")
//	defer db.Close()
//
//	tbl, _ := db.CreateTable(ctx, "docs", batch)
//	defer tbl.Close()
//
//	n, _ := tbl.CountRows(ctx, "category = 'news'")
//
// # Vector Search
//
// Without an index searches are exact. CreateIndex builds an HNSW (or flat)
// index; rows added later are buffered and searched exactly until a
// background fold merges them into the index:
//
//	_ = tbl.CreateIndex(ctx, "embedding")
//	cur, _ := tbl.VectorSearch(query).
//	    K(10).
//	    Where("category = 'news'").
//	    Select("id", "title").
//	    Execute(ctx)
//	defer cur.Close()
//	for batch, err := range cur.All(ctx) {
//	    ...
//	}
//
// # Versions
//
// ListVersions and Checkout give read-only access to older versions.
// Cleanup removes versions outside a retention policy; versions still read
// by open cursors or checkouts are kept.
package vectable
