package vectable

import (
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/hupe1980/vectable/blobstore"
	"github.com/hupe1980/vectable/codec"
	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/index"
	"github.com/hupe1980/vectable/internal/engine"
	"github.com/hupe1980/vectable/internal/quantization"
)

const (
	// DefaultBlockCacheSize is the default capacity of the shared block
	// cache in bytes.
	DefaultBlockCacheSize = 64 << 20

	// DefaultBlockSize is the granularity of cached reads.
	DefaultBlockSize = 1 << 20
)

// ResourceLimits bounds the shared resources of a connection. Zero values
// mean no limit, except MaxBackgroundTasks which defaults to 1.
type ResourceLimits struct {
	// MemoryLimitBytes bounds decoded fragments kept in memory.
	MemoryLimitBytes int64
	// MaxBackgroundTasks bounds concurrent index folds.
	MaxBackgroundTasks int64
	// IOLimitBytesPerSec throttles fragment and index writes.
	IOLimitBytesPerSec int64
}

type options struct {
	store       blobstore.BlobStore
	logger      *Logger
	metrics     MetricsObserver
	compression codec.Compression
	cacheBytes  int64
	blockSize   int64
	foldPolicy  index.FoldPolicy
	maxWorkers  int
	limits      ResourceLimits
	awsConfig   *aws.Config
	commitTable string
}

// Option configures Connect.
type Option func(*options)

// WithStore makes the connection use store instead of resolving the URI.
// The URI is then only reported by Connection.URI.
func WithStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithLogger configures structured logging. Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := vectable.NewJSONLogger(slog.LevelInfo)
//	db, _ := vectable.Connect(ctx, "./data", vectable.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsObserver configures a metrics observer for all tables.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsObserver{}
		}
		o.metrics = m
	}
}

// WithCompression sets the compression of newly written fragments.
func WithCompression(c codec.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithBlockCacheSize sets the capacity of the block cache shared by all
// tables of the connection. Zero disables caching.
func WithBlockCacheSize(bytes int64) Option {
	return func(o *options) {
		o.cacheBytes = bytes
	}
}

// WithFoldPolicy decides when buffered vectors are folded into an index in
// the background. The default folds once 1024 rows are buffered.
func WithFoldPolicy(p index.FoldPolicy) Option {
	return func(o *options) {
		if p != nil {
			o.foldPolicy = p
		}
	}
}

// WithMaxWorkers bounds the goroutines running async operations. The
// default is GOMAXPROCS.
func WithMaxWorkers(n int) Option {
	return func(o *options) {
		o.maxWorkers = n
	}
}

// WithResourceLimits bounds memory, background folds and write throughput.
func WithResourceLimits(l ResourceLimits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithAWSConfig sets the AWS configuration used for s3:// URIs instead of
// the default credential chain.
func WithAWSConfig(cfg aws.Config) Option {
	return func(o *options) {
		o.awsConfig = &cfg
	}
}

// WithDynamoDBCommits makes s3:// connections swap CURRENT pointers through
// the named DynamoDB table, giving atomic commits on S3.
func WithDynamoDBCommits(table string) Option {
	return func(o *options) {
		o.commitTable = table
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:      NoopLogger(),
		metrics:     NoopMetricsObserver{},
		compression: codec.CompressionLZ4,
		cacheBytes:  DefaultBlockCacheSize,
		blockSize:   DefaultBlockSize,
		foldPolicy:  index.ThresholdPolicy{MaxUnindexed: index.DefaultMaxUnindexed},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// CreateMode selects what CreateTable does when the table exists.
type CreateMode = engine.CreateMode

const (
	// ModeCreate fails with ErrAlreadyExists.
	ModeCreate = engine.ModeCreate
	// ModeOverwrite replaces the data with a new version.
	ModeOverwrite = engine.ModeOverwrite
	// ModeExistOK opens the existing table if its schema matches.
	ModeExistOK = engine.ModeExistOK
)

type createOptions struct {
	mode CreateMode
}

// CreateTableOption configures CreateTable.
type CreateTableOption func(*createOptions)

// WithCreateMode sets the behavior for existing tables. The default is
// ModeCreate.
func WithCreateMode(m CreateMode) CreateTableOption {
	return func(o *createOptions) {
		o.mode = m
	}
}

// WriteMode selects whether Add appends or replaces.
type WriteMode = engine.WriteMode

const (
	WriteAppend    = engine.WriteAppend
	WriteOverwrite = engine.WriteOverwrite
)

// IndexOption configures CreateIndex.
type IndexOption func(*engine.IndexOptions)

// IndexType selects the index structure. The default is HNSW.
func IndexType(t index.Type) IndexOption {
	return func(o *engine.IndexOptions) {
		o.Type = t
	}
}

// IndexMetric sets the distance metric the index is built for.
func IndexMetric(m distance.Metric) IndexOption {
	return func(o *engine.IndexOptions) {
		o.Metric = m
	}
}

// HNSWParams sets graph degree, construction beam width and the default
// search beam width. Zero values keep the defaults.
func HNSWParams(m, efConstruction, efSearch int) IndexOption {
	return func(o *engine.IndexOptions) {
		o.M = m
		o.EFConstruction = efConstruction
		o.EFSearch = efSearch
	}
}

// Quantization selects how index vectors are compressed.
type Quantization = quantization.Kind

const (
	QuantizationNone = quantization.KindNone
	// QuantizationPQ is product quantization: one byte per subvector.
	QuantizationPQ = quantization.KindPQ
	// QuantizationSQ is 4-bit scalar quantization.
	QuantizationSQ = quantization.KindSQ
)

// ParseQuantization maps "none", "pq" and "sq" to a Quantization.
func ParseQuantization(s string) (Quantization, error) {
	return quantization.ParseKind(s)
}

// IndexQuantization compresses the indexed vectors. pqSubvectors only
// applies to QuantizationPQ and must divide the dimension; zero picks a
// default. Combine with VectorQuery.RefineFactor for exact final ranking.
func IndexQuantization(q Quantization, pqSubvectors int) IndexOption {
	return func(o *engine.IndexOptions) {
		o.Quantization = q
		o.PQSubvectors = pqSubvectors
	}
}

// ScalarIndexType selects the layout of a scalar index.
type ScalarIndexType = engine.ScalarIndexType

const (
	// ScalarBTree suits high-cardinality columns and range filters.
	ScalarBTree = engine.ScalarBTree
	// ScalarBitmap suits columns with few distinct values.
	ScalarBitmap = engine.ScalarBitmap
	// ScalarFTS is a BM25 full-text index over a string column.
	ScalarFTS = engine.ScalarFTS
)

// ReplaceIndex allows replacing an existing index.
func ReplaceIndex() IndexOption {
	return func(o *engine.IndexOptions) {
		o.Replace = true
	}
}
