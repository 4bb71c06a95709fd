package engine

import (
	"io"
	"log/slog"

	"github.com/hupe1980/vectable/codec"
	"github.com/hupe1980/vectable/index"
	"github.com/hupe1980/vectable/internal/cache"
	"github.com/hupe1980/vectable/internal/resource"
)

// DefaultMaxBatchLength is the default number of rows per result batch.
const DefaultMaxBatchLength = 1024

type options struct {
	logger      *slog.Logger
	metrics     MetricsObserver
	compression codec.Compression
	foldPolicy  index.FoldPolicy
	resources   *resource.Controller
	cache       cache.BlockCache
	blockSize   int64
}

func defaultOptions() options {
	return options{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:     NoopMetricsObserver{},
		compression: codec.CompressionLZ4,
		foldPolicy:  index.ThresholdPolicy{MaxUnindexed: index.DefaultMaxUnindexed},
	}
}

// Option configures a table.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsObserver sets the metrics observer.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithCompression sets the compression of newly written fragments.
func WithCompression(c codec.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithFoldPolicy sets when buffered vectors are folded into the index.
func WithFoldPolicy(p index.FoldPolicy) Option {
	return func(o *options) {
		if p != nil {
			o.foldPolicy = p
		}
	}
}

// WithResourceController bounds background folds, fragment memory and
// write throughput.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithBlockCache caches fragment and index reads in c.
func WithBlockCache(c cache.BlockCache, blockSize int64) Option {
	return func(o *options) {
		o.cache = c
		o.blockSize = blockSize
	}
}
