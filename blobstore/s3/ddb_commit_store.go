package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/vectable/blobstore"
)

// CurrentName is the base name of the per-table version pointer.
const CurrentName = "CURRENT"

// ErrConcurrentModification is returned when another writer committed first.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// DDBClient is the subset of *dynamodb.Client used by DDBCommitStore.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// DDBCommitStore stores blobs in S3 but keeps every CURRENT pointer in
// DynamoDB, where conditional writes provide the compare-and-swap S3 lacks.
//
// Each directory holding a CURRENT blob (one per table) is its own
// partition. Table schema:
//
//   - Partition key: base_uri (S) - store URI plus the directory
//   - Sort key: version (N) - commit sequence number
//
//	aws dynamodb create-table \
//	  --table-name vectable-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	s3Store   *Store
	ddbClient DDBClient
	tableName string
	baseURI   string
}

// NewDDBCommitStore creates a new S3+DynamoDB commit store. baseURI
// namespaces the partition keys, normally s3Store.URI().
func NewDDBCommitStore(s3Store *Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		s3Store:   s3Store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

func isCurrent(name string) bool {
	return path.Base(name) == CurrentName
}

func (s *DDBCommitStore) partition(name string) string {
	return s.baseURI + "#" + path.Dir(name)
}

// Open serves CURRENT blobs from DynamoDB and everything else from S3.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if !isCurrent(name) {
		return s.s3Store.Open(ctx, name)
	}
	version, target, err := s.latest(ctx, s.partition(name))
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return &virtualBlob{content: []byte(target)}, nil
}

// Put commits CURRENT blobs with a conditional write.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if isCurrent(name) {
		return s.commit(ctx, s.partition(name), string(data))
	}
	return s.s3Store.Put(ctx, name, data)
}

func (s *DDBCommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return s.s3Store.Create(ctx, name)
}

// Delete removes the whole commit history for CURRENT blobs.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	if !isCurrent(name) {
		return s.s3Store.Delete(ctx, name)
	}
	pk := s.partition(name)
	for {
		resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("base_uri = :uri"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uri": &types.AttributeValueMemberS{Value: pk},
			},
		})
		if err != nil {
			return fmt.Errorf("query commits: %w", err)
		}
		if len(resp.Items) == 0 {
			return nil
		}
		for _, item := range resp.Items {
			_, err := s.ddbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.tableName),
				Key: map[string]types.AttributeValue{
					"base_uri": item["base_uri"],
					"version":  item["version"],
				},
			})
			if err != nil {
				return fmt.Errorf("delete commit: %w", err)
			}
		}
	}
}

// List lists S3 blobs. CURRENT pointers live in DynamoDB and are not listed.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.s3Store.List(ctx, prefix)
}

func (s *DDBCommitStore) ListDirs(ctx context.Context, prefix string) ([]string, error) {
	return s.s3Store.ListDirs(ctx, prefix)
}

func (s *DDBCommitStore) latest(ctx context.Context, pk string) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: pk},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commits: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in DynamoDB")
	}
	targetAttr, ok := item["manifest_path"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid manifest_path attribute in DynamoDB")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse version: %w", err)
	}
	return version, targetAttr.Value, nil
}

func (s *DDBCommitStore) commit(ctx context.Context, pk, target string) error {
	current, _, err := s.latest(ctx, pk)
	if err != nil {
		return err
	}

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":      &types.AttributeValueMemberS{Value: pk},
			"version":       &types.AttributeValueMemberN{Value: strconv.FormatUint(current+1, 10)},
			"manifest_path": &types.AttributeValueMemberS{Value: target},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit to DynamoDB: %w", err)
	}
	return nil
}

type virtualBlob struct {
	content []byte
}

func (b *virtualBlob) Close() error { return nil }

func (b *virtualBlob) Size() int64 { return int64(len(b.content)) }

func (b *virtualBlob) Bytes() ([]byte, error) { return b.content, nil }

func (b *virtualBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off >= int64(len(b.content)) {
		return 0, io.EOF
	}
	n := copy(p, b.content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *virtualBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= int64(len(b.content)) {
		return blobstore.NopReadCloser(bytes.NewReader(nil)), nil
	}
	end := min(off+length, int64(len(b.content)))
	return blobstore.NopReadCloser(bytes.NewReader(b.content[off:end])), nil
}
