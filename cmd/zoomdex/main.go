package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/config"
	"github.com/deepfield-io/zoomdex/internal/db"
	dbRedis "github.com/deepfield-io/zoomdex/internal/db/redis"
	"github.com/deepfield-io/zoomdex/internal/domain"
	domquery "github.com/deepfield-io/zoomdex/internal/domain/query"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
	"github.com/deepfield-io/zoomdex/internal/extract"
	"github.com/deepfield-io/zoomdex/internal/index"
	logpkg "github.com/deepfield-io/zoomdex/internal/logger"
	"github.com/deepfield-io/zoomdex/internal/metrics"
	budgetrepo "github.com/deepfield-io/zoomdex/internal/repository/budget"
	datasetrepo "github.com/deepfield-io/zoomdex/internal/repository/dataset"
	"github.com/deepfield-io/zoomdex/internal/repository/embcache"
	"github.com/deepfield-io/zoomdex/internal/repository/resultcache"
	"github.com/deepfield-io/zoomdex/internal/sample"
	"github.com/deepfield-io/zoomdex/internal/tilestore"
	tilesFS "github.com/deepfield-io/zoomdex/internal/tilestore/fs"
	tilesMinio "github.com/deepfield-io/zoomdex/internal/tilestore/minio"
	chiTransport "github.com/deepfield-io/zoomdex/internal/transport/chi"
	openaiEnc "github.com/deepfield-io/zoomdex/internal/transport/openai"
	classifyuc "github.com/deepfield-io/zoomdex/internal/usecase/classify"
	detectuc "github.com/deepfield-io/zoomdex/internal/usecase/detect"
	encodinguc "github.com/deepfield-io/zoomdex/internal/usecase/encoding"
	healthuc "github.com/deepfield-io/zoomdex/internal/usecase/health"
	ingestuc "github.com/deepfield-io/zoomdex/internal/usecase/ingest"
	queryuc "github.com/deepfield-io/zoomdex/internal/usecase/query"
	"github.com/deepfield-io/zoomdex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting zoomdex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("kv_driver", cfg.KV.Driver),
		zap.Strings("kv_addrs", cfg.KV.Addrs),
		zap.String("tiles_backend", cfg.Tiles.Backend),
	)

	// Create the key-value store. rueidis speaks the same protocol to both
	// Redis and Valkey deployments, so one client covers either driver.
	var kv db.Store
	switch cfg.KV.Driver {
	case "valkey", "redis":
		kv, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.KV.Addrs,
			Username: cfg.KV.Username,
			Password: cfg.KV.Password,
			DB:       cfg.KV.DB,
		})
	default:
		logger.Fatal("Unknown kv driver", zap.String("driver", cfg.KV.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create kv store", zap.Error(err))
	}
	defer kv.Close()

	// Wait for the kv store to be ready
	ctx := context.Background()
	if err := kv.WaitForReady(ctx, time.Duration(cfg.KV.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("KV store not ready", zap.Error(err))
	}
	logger.Info("Connected to kv store")

	// Register metrics explicitly (no init())
	if !cfg.Metrics.Disabled {
		metrics.RegisterEmbeddingMetrics()
		metrics.RegisterQueryMetrics()
		metrics.RegisterTileMetrics()
	}

	// Tile storage. The segment blob store shares the backend (and, for
	// object storage, the client) with the tile store.
	tiles, blobs, err := buildTileStorage(cfg.Tiles)
	if err != nil {
		logger.Fatal("Failed to create tile storage", zap.Error(err))
	}
	if cfg.Tiles.CacheBytes > 0 {
		tiles = tilestore.NewCachedStore(tiles, cfg.Tiles.CacheBytes)
	}

	dsRepo := datasetrepo.New(tiles, kv, time.Duration(cfg.Tiles.MetaTTLSec)*time.Second, logger)

	ext := extract.New(tiles, kv, extract.Config{
		FetchParallelism: cfg.Extract.FetchParallelism,
		AssetCacheSize:   cfg.Extract.AssetCacheSize,
		ClaimTTL:         time.Duration(cfg.Extract.ClaimTTLSec) * time.Second,
		PollInterval:     time.Duration(cfg.Extract.PollIntervalSec) * time.Second,
	}, logger)

	smp := sample.New(dsRepo, ext, logger)

	// Single BudgetTracker shared by the encoder chain.
	var budget *encodinguc.BudgetTracker
	budgetCfg := cfg.Encoder.Budget
	if budgetCfg.DailyTokenLimit > 0 || budgetCfg.MonthlyTokenLimit > 0 {
		action := encodinguc.BudgetActionWarn
		if budgetCfg.Action == "reject" {
			action = encodinguc.BudgetActionReject
		}
		budget = encodinguc.NewBudgetTracker(
			cfg.Encoder.Provider, budgetCfg.DailyTokenLimit, budgetCfg.MonthlyTokenLimit, action, logger,
		)
		// Connect persistence store — loads current counters from the KV store.
		budget.WithStore(ctx, budgetrepo.New(kv, 48*time.Hour, 62*24*time.Hour))
	}

	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	// Go gotcha: (*BudgetTracker)(nil) wrapped in BudgetChecker != nil.
	var budgetChecker encodinguc.BudgetChecker
	if budget != nil {
		budgetChecker = budget
	}

	encoder := buildEncoder(cfg.Encoder, kv, budgetChecker, logger)
	logger.Info("Encoder created",
		zap.String("provider", cfg.Encoder.Provider),
		zap.String("model", cfg.Encoder.Model),
		zap.Int("dimensions", cfg.Encoder.Dimensions),
	)

	reg := index.NewRegistry()
	resCache := resultcache.New(kv,
		time.Duration(cfg.Query.ResultTTLSec)*time.Second, metrics.ResultCacheTotal, logger)

	engine := queryuc.New(dsRepo, reg, encoder, ext, resCache, queryuc.Params{
		ProbeTemplates: cfg.Query.ProbeTemplates,
		NMSIoU:         cfg.Query.NMSIoU,
		MinProposals:   cfg.Query.MinProposals,
		MaxProposals:   cfg.Query.MaxProposals,
		ScoreBatch:     cfg.Query.ScoreBatch,
	}, logger)

	detectSvc := detectuc.New(engine, logger)

	// Classification needs a category catalog; deployments without one
	// still serve every other operation and classify to the fallback.
	var classifier regionClassifier = fallbackClassifier{}
	if len(cfg.Classify.Categories) > 0 {
		catalog := classifyuc.Catalog{Version: cfg.Classify.Version}
		for _, c := range cfg.Classify.Categories {
			catalog.Categories = append(catalog.Categories, classifyuc.Category{
				Label:  c.Label,
				Prompt: c.Prompt,
			})
		}
		classifySvc, err := classifyuc.New(ext, encoder, kv, catalog, cfg.Encoder.Model, logger)
		if err != nil {
			logger.Fatal("Failed to create classification service", zap.Error(err))
		}
		// Encode category prompts ahead of the first request.
		// Classification falls back deterministically until the vectors
		// are ready, so a slow provider must not block startup.
		go func() {
			if err := classifySvc.Warm(ctx); err != nil {
				logger.Warn("Category prompt warmup failed", zap.Error(err))
			}
		}()
		classifier = classifySvc
	} else {
		logger.Warn("No category catalog configured, classify serves fallback only")
	}

	ingestSvc := ingestuc.New(dsRepo, smp, encoder, reg, blobs, resCache, dsRepo, ext, ingestuc.Params{
		Sample: sample.Options{
			Sizes:          cfg.Sampler.Sizes,
			StrideRatios:   cfg.Sampler.StrideRatios,
			MinVariance:    cfg.Sampler.MinVariance,
			MinEdgeDensity: cfg.Sampler.MinEdgeDensity,
			InterestPoints: cfg.Sampler.InterestPoints,
			Hierarchical:   cfg.Sampler.Hierarchical,
			MaxPerScale:    cfg.Sampler.MaxPerScale,
		},
		EncodeBatch: cfg.Ingest.EncodeBatch,
		Model:       cfg.Encoder.Model,
	}, logger)

	// Reinstall persisted index segments so datasets indexed before the
	// restart stay queryable. Missing segments are not an error; the
	// datasets simply await a build.
	if err := ingestSvc.RestoreAll(ctx); err != nil {
		logger.Warn("Index restore failed", zap.Error(err))
	}

	healthSvc := healthuc.New(kv, tiles, encoder, reg)

	server := chiTransport.NewServer(dsRepo, ext, engine, detectSvc, classifier, ingestSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	if !cfg.Metrics.Disabled {
		r.Use(metrics.Middleware())
	}
	server.Mount(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	// In-flight index builds outlive their triggering requests; let them
	// finish persisting segments before the process exits.
	ingestSvc.Wait()

	logger.Info("Server stopped gracefully")
}

// regionClassifier is what the transport expects from a classifier.
type regionClassifier interface {
	Classify(ctx context.Context, datasetID string, bbox region.BBox) domquery.Classification
}

// fallbackClassifier answers with the deterministic unknown result when no
// catalog is configured.
type fallbackClassifier struct{}

func (fallbackClassifier) Classify(context.Context, string, region.BBox) domquery.Classification {
	return domquery.FallbackClassification()
}

// buildTileStorage creates the tile store and the sibling segment blob
// store for the configured backend.
func buildTileStorage(cfg config.TilesConfig) (tilestore.Store, index.BlobStore, error) {
	switch cfg.Backend {
	case "fs":
		store, err := tilesFS.NewStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		blobs, err := tilesFS.NewBlobStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, blobs, nil
	case "minio":
		store, err := tilesMinio.NewStore(tilesMinio.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		blobs := tilesMinio.NewBlobStore(store.Client(), cfg.Minio.Bucket, cfg.Minio.Prefix)
		return store, blobs, nil
	default:
		return nil, nil, fmt.Errorf("unknown tiles backend %q", cfg.Backend)
	}
}

// buildEncoder assembles the decorator chain:
// OpenAI -> RateLimited -> Cached -> Instrumented.
// The rate limiter sits inside the cache so cache hits never spend quota;
// the instrumented layer sits outside so every call is counted and budget
// checks run even for cached answers.
func buildEncoder(
	cfg config.EncoderConfig,
	kv db.Store,
	budget encodinguc.BudgetChecker,
	logger *zap.Logger,
) *encodinguc.InstrumentedEncoder {
	base := openaiEnc.NewEncoder(&openaiEnc.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Provider:   cfg.Provider,
		Logger:     logger,
	})

	var encoder domain.Encoder = base
	if cfg.RateRPS > 0 {
		encoder = openaiEnc.NewRateLimited(encoder, cfg.RateRPS, cfg.RateBurst)
	}

	encoder = embcache.New(encoder, kv, cfg.Model,
		time.Duration(cfg.CacheTTLSec)*time.Second, cfg.CacheSize,
		metrics.EmbeddingCacheTotal, logger)

	return encodinguc.NewInstrumented(encoder, cfg.Provider, cfg.Model, budget, logger)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"kind":    "internal",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
