// Package s3 stores tables in Amazon S3 using aws-sdk-go-v2.
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "lake/")
//	conn, err := vectable.Connect(ctx, "", vectable.WithStore(store))
//
// Reads use ranged GetObject calls, large writes go through the multipart
// uploader, and small blobs carry a CRC32C checksum.
//
// A plain S3 store relies on PutObject overwrite semantics for the CURRENT
// pointer. Wrap it in a DDBCommitStore to get conditional commits through
// DynamoDB when several processes may write the same table.
package s3
