package zoomdex

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures the Engine.
type Option interface {
	apply(*engineConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*engineConfig)

func (f optionFunc) apply(c *engineConfig) { f(c) }

type engineConfig struct {
	kvAddrs    []string
	kvUsername string
	kvPassword string
	kvDB       int

	tileDir        string
	minio          *MinioConfig
	tileCacheBytes int64

	encoder Encoder
	model   string

	catalogVersion string
	categories     []Category

	queryParams QueryParams
	sampling    SamplerOptions
	encodeBatch int

	logger     *zap.Logger
	metricsReg prometheus.Registerer
}

// WithValkey configures the engine to use a Valkey instance as its
// key-value store.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *engineConfig) {
		c.kvAddrs = []string{addr}
		c.kvPassword = password
	})
}

// WithRedis configures the engine to use a Redis instance as its
// key-value store. Valkey and Redis speak the same protocol, so either
// works interchangeably.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *engineConfig) {
		c.kvAddrs = []string{addr}
		c.kvPassword = password
	})
}

// WithKVCredentials sets the key-value store username and logical database.
// Most deployments need neither.
func WithKVCredentials(username string, db int) Option {
	return optionFunc(func(c *engineConfig) {
		c.kvUsername = username
		c.kvDB = db
	})
}

// WithTileDir serves tile pyramids from a local directory tree.
func WithTileDir(dir string) Option {
	return optionFunc(func(c *engineConfig) {
		c.tileDir = dir
	})
}

// WithMinioTiles serves tile pyramids from S3-compatible object storage.
func WithMinioTiles(cfg MinioConfig) Option {
	return optionFunc(func(c *engineConfig) {
		c.minio = &cfg
	})
}

// WithTileCache bounds the in-memory tile cache. Zero disables caching.
// Default: 256 MiB.
func WithTileCache(bytes int64) Option {
	return optionFunc(func(c *engineConfig) {
		c.tileCacheBytes = bytes
	})
}

// WithEncoder sets the embedding provider. Required for search, detect
// and classify; region extraction and reconstruction work without it.
func WithEncoder(e Encoder) Option {
	return optionFunc(func(c *engineConfig) {
		c.encoder = e
	})
}

// WithModel names the embedding model. The name is folded into embedding
// cache keys and stamped on persisted index segments, so restores after a
// model switch can flag stale vectors.
func WithModel(name string) Option {
	return optionFunc(func(c *engineConfig) {
		c.model = name
	})
}

// WithCategories sets the versioned category catalog for classification.
// Without a catalog Classify always returns the fallback result.
func WithCategories(version string, categories ...Category) Option {
	return optionFunc(func(c *engineConfig) {
		c.catalogVersion = version
		c.categories = categories
	})
}

// WithQueryParams tunes the query engine. Zero fields keep engine defaults.
func WithQueryParams(p QueryParams) Option {
	return optionFunc(func(c *engineConfig) {
		c.queryParams = p
	})
}

// WithSampling tunes patch sampling for index builds. Zero fields keep
// sampler defaults.
func WithSampling(s SamplerOptions) Option {
	return optionFunc(func(c *engineConfig) {
		c.sampling = s
	})
}

// WithEncodeBatch sets how many patch images go to the encoder per call
// during index builds.
func WithEncodeBatch(n int) Option {
	return optionFunc(func(c *engineConfig) {
		c.encodeBatch = n
	})
}

// WithLogger enables structured logging for engine operations.
// Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *engineConfig) {
		c.logger = l
	})
}

// WithPrometheus registers engine metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *engineConfig) {
		c.metricsReg = reg
	})
}
