package vectable

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/vectable/blobstore"
	miniostore "github.com/hupe1980/vectable/blobstore/minio"
	"github.com/hupe1980/vectable/blobstore/s3"
	"github.com/hupe1980/vectable/internal/cache"
	"github.com/hupe1980/vectable/internal/engine"
	"github.com/hupe1980/vectable/internal/pool"
	"github.com/hupe1980/vectable/internal/resource"
	"github.com/hupe1980/vectable/record"
)

// MemoryURI connects to a process-local in-memory database.
const MemoryURI = "memory://"

var tableNameRE = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

func validateName(name string) error {
	if !tableNameRE.MatchString(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: invalid table name %q", ErrInvalidArgument, name)
	}
	return nil
}

// Connection is a handle to a database location. Tables opened through one
// connection share their state: every handle of a table name sees the same
// versions and mutations on it are serialized.
type Connection struct {
	uri       string
	store     blobstore.BlobStore
	opts      options
	logger    *Logger
	cache     *cache.LRU
	resources *resource.Controller
	workers   *pool.WorkerPool

	mu     sync.Mutex
	tables map[string]*sharedTable
	locks  map[string]*sync.Mutex
	loads  singleflight.Group
	closed atomic.Bool
}

type sharedTable struct {
	t    *engine.Table
	refs int
}

// Connect opens a database at uri: a local directory (optionally with a
// file:// scheme), MemoryURI, s3://bucket/prefix or
// minio://endpoint/bucket/prefix.
func Connect(ctx context.Context, uri string, optFns ...Option) (*Connection, error) {
	o := applyOptions(optFns)
	store := o.store
	if store == nil {
		var err error
		if store, err = resolveStore(ctx, uri, o); err != nil {
			o.logger.ErrorContext(ctx, "connect failed", "uri", uri, "error", err)
			return nil, err
		}
	}

	c := &Connection{
		uri:    uri,
		store:  store,
		opts:   o,
		logger: o.logger,
		resources: resource.NewController(resource.Config{
			MemoryLimitBytes:   o.limits.MemoryLimitBytes,
			MaxBackgroundTasks: o.limits.MaxBackgroundTasks,
			IOLimitBytesPerSec: o.limits.IOLimitBytesPerSec,
		}),
		tables: make(map[string]*sharedTable),
		locks:  make(map[string]*sync.Mutex),
	}
	if o.cacheBytes > 0 {
		c.cache = cache.NewLRU(o.cacheBytes, c.resources)
	}
	c.workers = pool.NewWorkerPool(o.maxWorkers)
	c.logger.InfoContext(ctx, "connected", "uri", uri, "workers", c.workers.Size())
	return c, nil
}

func resolveStore(ctx context.Context, uri string, o options) (blobstore.BlobStore, error) {
	switch {
	case uri == "":
		return nil, fmt.Errorf("%w: empty uri", ErrInvalidArgument)
	case uri == MemoryURI:
		return blobstore.NewMemoryStore(), nil
	case strings.HasPrefix(uri, "s3://"):
		u, err := url.Parse(uri)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("%w: invalid s3 uri %q", ErrInvalidArgument, uri)
		}
		cfg, err := loadAWSConfig(ctx, o)
		if err != nil {
			return nil, fmt.Errorf("%w: aws config: %w", ErrIO, err)
		}
		store := s3.NewStore(awss3.NewFromConfig(cfg), u.Host, strings.TrimPrefix(u.Path, "/"))
		if o.commitTable == "" {
			return store, nil
		}
		return s3.NewDDBCommitStore(store, dynamodb.NewFromConfig(cfg), o.commitTable, store.URI()), nil
	case strings.HasPrefix(uri, "minio://"):
		return minioStore(uri)
	}

	dir := strings.TrimPrefix(uri, "file://")
	if strings.Contains(dir, "://") {
		return nil, fmt.Errorf("%w: unsupported uri scheme %q", ErrInvalidArgument, uri)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return blobstore.NewLocalStore(dir), nil
}

// minioStore resolves minio://endpoint/bucket/prefix. Credentials come from
// MINIO_ACCESS_KEY and MINIO_SECRET_KEY; ?secure=false selects plain HTTP.
func minioStore(uri string) (blobstore.BlobStore, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid minio uri %q", ErrInvalidArgument, uri)
	}
	bucket, prefix, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: minio uri %q has no bucket", ErrInvalidArgument, uri)
	}
	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewEnvMinio(),
		Secure: u.Query().Get("secure") != "false",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: minio client: %w", ErrInvalidArgument, err)
	}
	return miniostore.NewStore(client, bucket, prefix), nil
}

func loadAWSConfig(ctx context.Context, o options) (aws.Config, error) {
	if o.awsConfig != nil {
		return *o.awsConfig, nil
	}
	return config.LoadDefaultConfig(ctx)
}

// URI returns the location the connection was opened with.
func (c *Connection) URI() string { return c.uri }

func (c *Connection) engineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(c.logger.Logger),
		engine.WithMetricsObserver(c.opts.metrics),
		engine.WithCompression(c.opts.compression),
		engine.WithFoldPolicy(c.opts.foldPolicy),
		engine.WithResourceController(c.resources),
	}
	if c.cache != nil {
		opts = append(opts, engine.WithBlockCache(c.cache, c.opts.blockSize))
	}
	return opts
}

// TableNames returns the names of all tables in ascending order.
func (c *Connection) TableNames(ctx context.Context) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	names, err := engine.List(ctx, c.store)
	return names, translateError(err)
}

// OpenTable opens an existing table.
func (c *Connection) OpenTable(ctx context.Context, name string) (*Table, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if t := c.acquire(name); t != nil {
		return t, nil
	}

	// Concurrent opens of one name load it once.
	_, err, _ := c.loads.Do(name, func() (any, error) {
		l := c.nameLock(name)
		l.Lock()
		defer l.Unlock()
		if c.lookup(name) != nil {
			return nil, nil
		}
		et, err := engine.Open(ctx, c.store, name, c.engineOptions()...)
		c.logger.LogOpen(ctx, name, versionOf(et), false, err)
		if err != nil {
			return nil, err
		}
		c.register(name, et)
		return nil, nil
	})
	if err != nil {
		return nil, translateError(err)
	}
	if t := c.acquire(name); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("%w: table %q", ErrNotFound, name)
}

// CreateTable creates a table holding data. The schema is taken from data.
func (c *Connection) CreateTable(ctx context.Context, name string, data *record.Batch, optFns ...CreateTableOption) (*Table, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: no data", ErrInvalidArgument)
	}
	return c.create(ctx, name, data.Schema(), data, optFns)
}

// CreateEmptyTable creates a table without rows.
func (c *Connection) CreateEmptyTable(ctx context.Context, name string, schema *record.Schema, optFns ...CreateTableOption) (*Table, error) {
	if schema == nil {
		return nil, fmt.Errorf("%w: no schema", ErrInvalidArgument)
	}
	return c.create(ctx, name, schema, nil, optFns)
}

func (c *Connection) create(ctx context.Context, name string, schema *record.Schema, data *record.Batch, optFns []CreateTableOption) (*Table, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	o := createOptions{mode: ModeCreate}
	for _, fn := range optFns {
		fn(&o)
	}

	l := c.nameLock(name)
	l.Lock()
	defer l.Unlock()
	if et := c.lookup(name); et != nil {
		if err := createOnOpen(ctx, et, name, schema, data, o.mode); err != nil {
			return nil, translateError(err)
		}
	} else {
		et, err := engine.Create(ctx, c.store, name, schema, data, o.mode, c.engineOptions()...)
		c.logger.LogOpen(ctx, name, versionOf(et), true, err)
		if err != nil {
			return nil, translateError(err)
		}
		c.register(name, et)
	}
	if t := c.acquire(name); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("%w: table %q", ErrNotFound, name)
}

// createOnOpen applies a create to a table this connection already holds.
func createOnOpen(ctx context.Context, et *engine.Table, name string, schema *record.Schema, data *record.Batch, mode CreateMode) error {
	switch mode {
	case ModeExistOK:
		if !et.Schema().Equal(schema) {
			return fmt.Errorf("%w: table %q exists with %s", ErrSchemaMismatch, name, et.Schema())
		}
		return nil
	case ModeOverwrite:
		if data == nil {
			data = record.EmptyBatch(schema)
		}
		_, err := et.Add(ctx, data, engine.WriteOverwrite)
		return err
	default:
		return fmt.Errorf("%w: table %q", ErrAlreadyExists, name)
	}
}

// DropTable deletes a table and all its versions. Open handles of the table
// fail with ErrClosed afterwards.
func (c *Connection) DropTable(ctx context.Context, name string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := validateName(name); err != nil {
		return err
	}
	l := c.nameLock(name)
	l.Lock()
	defer l.Unlock()

	c.mu.Lock()
	if st, ok := c.tables[name]; ok {
		delete(c.tables, name)
		_ = st.t.Close()
	}
	c.mu.Unlock()
	n, err := engine.Drop(ctx, c.store, name)
	c.logger.LogDrop(ctx, name, n, err)
	if c.cache != nil && err == nil {
		prefix := name + "/"
		c.cache.Invalidate(func(k cache.Key) bool { return strings.HasPrefix(k.Path, prefix) })
	}
	return translateError(err)
}

// Close closes every table of the connection and waits for queued async
// operations. It is idempotent.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.workers.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for name, st := range c.tables {
		errs = append(errs, st.t.Close())
		delete(c.tables, name)
	}
	return errors.Join(errs...)
}

// nameLock serializes creates, drops and loads of one table name.
func (c *Connection) nameLock(name string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[name]
	if !ok {
		l = &sync.Mutex{}
		c.locks[name] = l
	}
	return l
}

func (c *Connection) lookup(name string) *engine.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.tables[name]; ok {
		return st.t
	}
	return nil
}

func (c *Connection) register(name string, et *engine.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[name]; ok || c.closed.Load() {
		_ = et.Close()
		return
	}
	c.tables[name] = &sharedTable{t: et}
}

func (c *Connection) acquire(name string) *Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tables[name]
	if !ok {
		return nil
	}
	st.refs++
	return &Table{conn: c, name: name, t: st.t, logger: c.logger.WithTable(name)}
}

// release drops a handle. The shared table is closed with its last handle.
func (c *Connection) release(name string, et *engine.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tables[name]
	if !ok || st.t != et {
		return
	}
	st.refs--
	if st.refs <= 0 {
		delete(c.tables, name)
		_ = et.Close()
	}
}

func versionOf(t *engine.Table) uint64 {
	if t == nil {
		return 0
	}
	return t.Version()
}
