// Package minio stores tables in MinIO or any other S3-compatible object
// store through the official minio-go client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "lake/")
//	conn, err := vectable.Connect(ctx, "", vectable.WithStore(store))
//
// Object stores have no rename, so version commits rely on PutObject
// replacing the CURRENT object in a single request. Concurrent writers from
// different processes are not coordinated; use s3.DDBCommitStore for that.
package minio
