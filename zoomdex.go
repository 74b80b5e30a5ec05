package zoomdex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/db"
	dbRedis "github.com/deepfield-io/zoomdex/internal/db/redis"
	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/build"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	domquery "github.com/deepfield-io/zoomdex/internal/domain/query"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
	"github.com/deepfield-io/zoomdex/internal/extract"
	"github.com/deepfield-io/zoomdex/internal/index"
	datasetrepo "github.com/deepfield-io/zoomdex/internal/repository/dataset"
	"github.com/deepfield-io/zoomdex/internal/repository/embcache"
	"github.com/deepfield-io/zoomdex/internal/repository/resultcache"
	"github.com/deepfield-io/zoomdex/internal/sample"
	"github.com/deepfield-io/zoomdex/internal/tilestore"
	tilesFS "github.com/deepfield-io/zoomdex/internal/tilestore/fs"
	tilesMinio "github.com/deepfield-io/zoomdex/internal/tilestore/minio"
	classifyuc "github.com/deepfield-io/zoomdex/internal/usecase/classify"
	detectuc "github.com/deepfield-io/zoomdex/internal/usecase/detect"
	ingestuc "github.com/deepfield-io/zoomdex/internal/usecase/ingest"
	queryuc "github.com/deepfield-io/zoomdex/internal/usecase/query"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultTileCacheBytes   = 256 << 20
	defaultMetaTTL          = 5 * time.Minute
	defaultEmbedCacheTTL    = 24 * time.Hour
	defaultEmbedCacheSize   = 1024
	defaultResultTTL        = time.Minute
)

// Internal interfaces so tests can substitute the use-case services.
type datasetUseCase interface {
	List(ctx context.Context) ([]string, error)
	Descriptor(ctx context.Context, datasetID string) (dataset.Descriptor, error)
}

type extractUseCase interface {
	Extract(ctx context.Context, datasetID string, bbox region.BBox) (extract.Snippet, error)
	ReconstructFullImage(ctx context.Context, datasetID string) (extract.AssetInfo, error)
}

type searchUseCase interface {
	Search(ctx context.Context, datasetID string, req domquery.SearchRequest) (domquery.Outcome, error)
}

type detectUseCase interface {
	Detect(ctx context.Context, datasetID, queryText string, threshold float64, maxResults int) (domquery.DetectOutcome, error)
}

type classifyUseCase interface {
	Classify(ctx context.Context, datasetID string, bbox region.BBox) domquery.Classification
}

type ingestUseCase interface {
	BuildIndex(ctx context.Context, datasetID string) (build.Job, error)
	Status(datasetID string) (build.Job, bool)
	IndexState(datasetID string) dataset.IndexState
	Invalidate(ctx context.Context, datasetID string) error
	Wait()
}

// Engine is the embedded zoomdex entry point: the full retrieval and
// semantic-query stack wired in-process, no HTTP server involved.
type Engine struct {
	kv       db.Store
	datasets datasetUseCase
	pixels   extractUseCase
	search   searchUseCase
	detect   detectUseCase
	classify classifyUseCase // nil when no catalog was configured
	ingest   ingestUseCase
	obs      *observer
}

// New creates an Engine and connects to the key-value store. The provided
// context is used for the initial readiness check and index restore.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg := &engineConfig{tileCacheBytes: defaultTileCacheBytes}
	for _, o := range opts {
		o.apply(cfg)
	}

	if len(cfg.kvAddrs) == 0 {
		return nil, errors.New("zoomdex: kv address required (use WithValkey or WithRedis)")
	}
	if cfg.tileDir == "" && cfg.minio == nil {
		return nil, errors.New("zoomdex: tile storage required (use WithTileDir or WithMinioTiles)")
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.kvAddrs,
		Username: cfg.kvUsername,
		Password: cfg.kvPassword,
		DB:       cfg.kvDB,
	})
	if err != nil {
		return nil, fmt.Errorf("zoomdex: create kv store: %w", err)
	}

	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("zoomdex: kv store not ready: %w", err)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return wireEngine(ctx, store, cfg, obs)
}

func createTileStorage(cfg *engineConfig) (tilestore.Store, index.BlobStore, error) {
	if cfg.tileDir != "" {
		store, err := tilesFS.NewStore(cfg.tileDir)
		if err != nil {
			return nil, nil, fmt.Errorf("zoomdex: tile storage: %w", err)
		}
		blobs, err := tilesFS.NewBlobStore(cfg.tileDir)
		if err != nil {
			return nil, nil, fmt.Errorf("zoomdex: tile storage: %w", err)
		}
		return store, blobs, nil
	}
	store, err := tilesMinio.NewStore(tilesMinio.Config{
		Endpoint:  cfg.minio.Endpoint,
		AccessKey: cfg.minio.AccessKey,
		SecretKey: cfg.minio.SecretKey,
		Bucket:    cfg.minio.Bucket,
		Prefix:    cfg.minio.Prefix,
		UseSSL:    cfg.minio.UseSSL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("zoomdex: tile storage: %w", err)
	}
	blobs := tilesMinio.NewBlobStore(store.Client(), cfg.minio.Bucket, cfg.minio.Prefix)
	return store, blobs, nil
}

func wireEngine(ctx context.Context, store db.Store, cfg *engineConfig, obs *observer) (*Engine, error) {
	logger := cfg.logger

	tiles, blobs, err := createTileStorage(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	if cfg.tileCacheBytes > 0 {
		tiles = tilestore.NewCachedStore(tiles, cfg.tileCacheBytes)
	}

	dsRepo := datasetrepo.New(tiles, store, defaultMetaTTL, logger)
	ext := extract.New(tiles, store, extract.Config{}, logger)
	smp := sample.New(dsRepo, ext, logger)

	// Encoder: noop if not provided (pixel operations work, semantic
	// operations report the encoder as unavailable).
	var enc domain.Encoder = noopEncoder{}
	if cfg.encoder != nil {
		enc = embcache.New(&encoderAdapter{inner: cfg.encoder}, store, cfg.model,
			defaultEmbedCacheTTL, defaultEmbedCacheSize, nil, logger)
	}

	reg := index.NewRegistry()
	resCache := resultcache.New(store, defaultResultTTL, nil, logger)

	engine := queryuc.New(dsRepo, reg, enc, ext, resCache, queryuc.Params{
		ProbeTemplates: cfg.queryParams.ProbeTemplates,
		NMSIoU:         cfg.queryParams.NMSIoU,
		MinProposals:   cfg.queryParams.MinProposals,
		MaxProposals:   cfg.queryParams.MaxProposals,
		ScoreBatch:     cfg.queryParams.ScoreBatch,
	}, logger)

	detectSvc := detectuc.New(engine, logger)

	var classifySvc classifyUseCase
	if len(cfg.categories) > 0 {
		catalog := classifyuc.Catalog{Version: cfg.catalogVersion}
		for _, c := range cfg.categories {
			catalog.Categories = append(catalog.Categories, classifyuc.Category{
				Label:  c.Label,
				Prompt: c.Prompt,
			})
		}
		svc, err := classifyuc.New(ext, enc, store, catalog, cfg.model, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("zoomdex: %w", err)
		}
		classifySvc = svc
	}

	ingestSvc := ingestuc.New(dsRepo, smp, enc, reg, blobs, resCache, dsRepo, ext, ingestuc.Params{
		Sample: sample.Options{
			Sizes:          cfg.sampling.Sizes,
			StrideRatios:   cfg.sampling.StrideRatios,
			MinVariance:    cfg.sampling.MinVariance,
			MinEdgeDensity: cfg.sampling.MinEdgeDensity,
			InterestPoints: cfg.sampling.InterestPoints,
			Hierarchical:   cfg.sampling.Hierarchical,
			MaxPerScale:    cfg.sampling.MaxPerScale,
		},
		EncodeBatch: cfg.encodeBatch,
		Model:       cfg.model,
	}, logger)

	// Reinstall persisted index segments so previously indexed datasets
	// are queryable immediately.
	if err := ingestSvc.RestoreAll(ctx); err != nil && logger != nil {
		logger.Warn("index restore failed", zap.Error(err))
	}

	return &Engine{
		kv:       store,
		datasets: dsRepo,
		pixels:   ext,
		search:   engine,
		detect:   detectSvc,
		classify: classifySvc,
		ingest:   ingestSvc,
		obs:      obs,
	}, nil
}

// Close waits for in-flight index builds and releases all resources.
func (e *Engine) Close() {
	if e.ingest != nil {
		e.ingest.Wait()
	}
	if e.kv != nil {
		e.kv.Close()
	}
}

// Ping checks key-value store connectivity.
func (e *Engine) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { e.obs.observe("ping", start, err) }()

	if err = e.kv.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Datasets lists every dataset in tile storage with its descriptor and
// index state.
func (e *Engine) Datasets(ctx context.Context) (infos []DatasetInfo, err error) {
	start := time.Now()
	defer func() { e.obs.observe("datasets", start, err) }()

	ids, err := e.datasets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("datasets: %w", err)
	}
	infos = make([]DatasetInfo, 0, len(ids))
	for _, id := range ids {
		desc, err := e.datasets.Descriptor(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("datasets: %w", err)
		}
		infos = append(infos, fromDescriptor(desc, e.ingest.IndexState(id)))
	}
	return infos, nil
}

// Dataset returns one dataset's descriptor and index state.
func (e *Engine) Dataset(ctx context.Context, datasetID string) (info DatasetInfo, err error) {
	start := time.Now()
	defer func() { e.obs.observe("dataset", start, err) }()

	desc, err := e.datasets.Descriptor(ctx, datasetID)
	if err != nil {
		return DatasetInfo{}, fmt.Errorf("dataset: %w", err)
	}
	return fromDescriptor(desc, e.ingest.IndexState(datasetID)), nil
}

// ExtractRegion returns the pixels of an arbitrary region with provenance.
func (e *Engine) ExtractRegion(ctx context.Context, datasetID string, bbox BBox) (s Snippet, err error) {
	start := time.Now()
	defer func() { e.obs.observe("extract_region", start, err) }()

	rb, err := bbox.toRegion()
	if err != nil {
		return Snippet{}, fmt.Errorf("extract region: %w", err)
	}
	snip, err := e.pixels.Extract(ctx, datasetID, rb)
	if err != nil {
		return Snippet{}, fmt.Errorf("extract region: %w", err)
	}
	return fromSnippet(snip), nil
}

// Reconstruct assembles and stores the dataset's full source image, or
// reports the existing asset. Concurrent calls across processes are
// serialized through a claim in the key-value store.
func (e *Engine) Reconstruct(ctx context.Context, datasetID string) (info AssetInfo, err error) {
	start := time.Now()
	defer func() { e.obs.observe("reconstruct", start, err) }()

	a, err := e.pixels.ReconstructFullImage(ctx, datasetID)
	if err != nil {
		return AssetInfo{}, fmt.Errorf("reconstruct: %w", err)
	}
	return fromAssetInfo(a), nil
}

// BuildIndex starts a background index build and returns the queued job.
// Poll IndexStatus for progress.
func (e *Engine) BuildIndex(ctx context.Context, datasetID string) (j Job, err error) {
	start := time.Now()
	defer func() { e.obs.observe("build_index", start, err) }()

	job, err := e.ingest.BuildIndex(ctx, datasetID)
	if err != nil {
		return Job{}, fmt.Errorf("build index: %w", err)
	}
	return fromJob(job), nil
}

// IndexStatus reports the most recent build job for the dataset.
func (e *Engine) IndexStatus(datasetID string) (Job, bool) {
	job, ok := e.ingest.Status(datasetID)
	if !ok {
		return Job{}, false
	}
	return fromJob(job), true
}

// IndexState reports the dataset's index lifecycle state
// (not_indexed, indexing, ready, invalidated).
func (e *Engine) IndexState(datasetID string) string {
	return string(e.ingest.IndexState(datasetID))
}

// InvalidateIndex drops the dataset's index, cached results and derived
// state. Call it after the underlying tiles change.
func (e *Engine) InvalidateIndex(ctx context.Context, datasetID string) (err error) {
	start := time.Now()
	defer func() { e.obs.observe("invalidate_index", start, err) }()

	if err = e.ingest.Invalidate(ctx, datasetID); err != nil {
		return fmt.Errorf("invalidate index: %w", err)
	}
	return nil
}

// Search runs a semantic query against the dataset's patch index.
func (e *Engine) Search(ctx context.Context, datasetID, query string, opts *SearchOptions) (out SearchOutcome, err error) {
	start := time.Now()
	defer func() { e.obs.observe("search", start, err) }()

	if opts == nil {
		opts = &SearchOptions{}
	}
	f := domquery.NoFilter()
	if opts.Level != nil {
		f.Level = *opts.Level
	}
	if opts.Within != nil {
		within, werr := opts.Within.toRegion()
		if werr != nil {
			err = fmt.Errorf("search: %w", werr)
			return SearchOutcome{}, err
		}
		f.Within = &within
	}

	req, err := domquery.NewSearchRequest(query, opts.TopK, opts.MinScore, opts.Expand, f)
	if err != nil {
		return SearchOutcome{}, fmt.Errorf("search: %w", err)
	}
	o, err := e.search.Search(ctx, datasetID, req)
	if err != nil {
		return SearchOutcome{}, fmt.Errorf("search: %w", err)
	}
	return fromOutcome(o), nil
}

// Detect finds all regions matching the query above a confidence
// threshold, with overlapping candidates suppressed.
func (e *Engine) Detect(ctx context.Context, datasetID, query string, opts *DetectOptions) (out DetectOutcome, err error) {
	start := time.Now()
	defer func() { e.obs.observe("detect", start, err) }()

	if opts == nil {
		opts = &DetectOptions{}
	}
	o, err := e.detect.Detect(ctx, datasetID, query, opts.ConfidenceThreshold, opts.MaxResults)
	if err != nil {
		return DetectOutcome{}, fmt.Errorf("detect: %w", err)
	}
	return fromDetectOutcome(o), nil
}

// Classify labels a region against the configured category catalog. It
// never fails: any error short of an invalid bbox yields the
// deterministic unknown fallback.
func (e *Engine) Classify(ctx context.Context, datasetID string, bbox BBox) (c Classification, err error) {
	start := time.Now()
	defer func() { e.obs.observe("classify", start, err) }()

	rb, err := bbox.toRegion()
	if err != nil {
		return Classification{}, fmt.Errorf("classify: %w", err)
	}
	if e.classify == nil {
		return fromClassification(domquery.FallbackClassification()), nil
	}
	return fromClassification(e.classify.Classify(ctx, datasetID, rb)), nil
}

// Query starts a fluent search against one dataset.
func (e *Engine) Query(datasetID string) *QueryBuilder {
	return &QueryBuilder{eng: e, dataset: datasetID}
}
