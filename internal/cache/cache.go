// Package cache wires every component — stores, embedding dispatcher,
// admission policy, DataManager, RequestHandler — into one facade with a
// single entry point and a single idempotent Close.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/thebtf/semcache/internal/config"
	"github.com/thebtf/semcache/internal/datamanager"
	"github.com/thebtf/semcache/internal/dbcache"
	"github.com/thebtf/semcache/internal/embedding"
	"github.com/thebtf/semcache/internal/handler"
	"github.com/thebtf/semcache/internal/memcache"
	"github.com/thebtf/semcache/internal/metrics"
	"github.com/thebtf/semcache/internal/querylog"
	"github.com/thebtf/semcache/internal/similarity"
	"github.com/thebtf/semcache/internal/store/object"
	objectfs "github.com/thebtf/semcache/internal/store/object/fs"
	objectredis "github.com/thebtf/semcache/internal/store/object/redis"
	"github.com/thebtf/semcache/internal/store/scalar"
	scalarpostgres "github.com/thebtf/semcache/internal/store/scalar/postgres"
	scalarsqlite "github.com/thebtf/semcache/internal/store/scalar/sqlite"
	"github.com/thebtf/semcache/internal/store/vector"
	"github.com/thebtf/semcache/internal/store/vector/chroma"
	"github.com/thebtf/semcache/internal/store/vector/memory"
	"github.com/thebtf/semcache/internal/store/vector/pgvector"
	pkgsimilarity "github.com/thebtf/semcache/pkg/similarity"
)

// Cache is the top-level facade: construct with Open, always pair with a
// deferred Close.
type Cache struct {
	scalarStore scalar.Store
	vectorStore vector.Store
	objectStore object.Store // may be nil

	dispatcher *embedding.Dispatcher
	mem        *memcache.Cache
	db         *dbcache.Cache
	dm         *datamanager.Manager
	qlog       *querylog.Sink
	watcher    *config.Watcher // may be nil
	Handler    *handler.Handler

	closeOnce sync.Once
	closeErr  error
}

// Open builds every component from cfg and returns a ready-to-use Cache.
// On any failure, everything already constructed is torn down before the
// error is returned.
func Open(ctx context.Context, cfg *config.Config) (*Cache, error) {
	c := &Cache{}

	var err error
	c.scalarStore, err = buildScalarStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: build scalar store: %v", ErrNotInit, err)
	}

	c.vectorStore, err = buildVectorStore(ctx, cfg)
	if err != nil {
		c.scalarStore.Close()
		return nil, fmt.Errorf("%w: build vector store: %v", ErrNotInit, err)
	}

	c.objectStore, err = buildObjectStore(cfg)
	if err != nil {
		c.teardownStores()
		return nil, fmt.Errorf("%w: build object store: %v", ErrNotInit, err)
	}

	c.dispatcher, err = embedding.NewDispatcher(ctx, cfg.EmbeddingWorkerCount, func() (embedding.EmbeddingModel, error) {
		return embedding.GetModel(cfg.EmbeddingProvider)
	})
	if err != nil {
		c.teardownStores()
		return nil, fmt.Errorf("%w: build embedding dispatcher: %v", ErrNotInit, err)
	}

	policyKind := memcache.PolicyARC
	if cfg.MemoryPolicy == "w-tinylfu" {
		policyKind = memcache.PolicyWTinyLFU
	}
	c.mem = memcache.New(cfg.MemoryCapacity, policyKind, nil)

	c.db = dbcache.New(c.scalarStore, c.vectorStore)
	c.dm = datamanager.New(datamanager.Config{
		Normalize: cfg.SimilarityNormalized,
		Object:    c.objectStore,
		Scalar:    c.scalarStore,
		Vector:    c.vectorStore,
		Memory:    c.mem,
		Database:  c.db,
	})

	c.qlog = querylog.New(ctx, c.scalarStore, cfg.QueryLogWorkers)

	recorder, err := metrics.NewRecorder()
	if err != nil {
		c.qlog.Close()
		c.dispatcher.Close()
		c.teardownStores()
		return nil, fmt.Errorf("%w: build metrics recorder: %v", ErrNotInit, err)
	}

	metric := pkgsimilarity.MetricCosine
	if cfg.SimilarityMetric == "l2" {
		metric = pkgsimilarity.MetricL2
	}
	eval, err := similarity.NewEvaluator(similarity.Config{
		Metric:                 metric,
		Normalized:             cfg.SimilarityNormalized,
		Threshold:              cfg.SimilarityThreshold,
		ThresholdLong:          cfg.SimilarityThresholdLng,
		LongQueryTokenBoundary: cfg.LongQueryTokenBoundary,
	})
	if err != nil {
		c.qlog.Close()
		c.dispatcher.Close()
		c.teardownStores()
		return nil, fmt.Errorf("%w: build similarity evaluator: %v", ErrNotInit, err)
	}

	c.Handler = handler.New(handler.Config{
		DataManager: c.dm,
		Vector:      c.vectorStore,
		Dispatcher:  c.dispatcher,
		Evaluator:   eval,
		QueryLog:    c.qlog,
		Metrics:     recorder,
		TopK:        -1,
	})

	if w, werr := config.Watch(cfg.ConfigDir, func(path string) {
		log.Info().Str("file", path).Msg("cache: config changed, settings will reload on next access")
	}); werr == nil {
		c.watcher = w
	} else {
		log.Warn().Err(werr).Msg("cache: config hot-reload watcher unavailable")
	}

	return c, nil
}

func (c *Cache) teardownStores() {
	if c.vectorStore != nil {
		_ = c.vectorStore.Close()
	}
	if c.scalarStore != nil {
		_ = c.scalarStore.Close()
	}
	if c.objectStore != nil {
		_ = c.objectStore.Close()
	}
}

// Handle parses and dispatches one request, returning the marshaled
// response.
func (c *Cache) Handle(ctx context.Context, raw []byte) []byte {
	return c.Handler.Handle(ctx, raw)
}

// Close releases every component: the config watcher, the query-log sink,
// the embedding dispatcher, then DataManager (flush, then its scalar and
// vector stores), then the object store. This is not strict reverse
// construction order: the dispatcher closes before DataManager, and the
// object store closes after the scalar and vector stores. Safe to call
// more than once; only the first call does any work. Failures are logged
// and shutdown continues past them; a DataManager close failure is also
// returned, by the first call and by every later one.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		if c.watcher != nil {
			if err := c.watcher.Close(); err != nil {
				log.Warn().Err(err).Msg("cache: close watcher failed")
			}
		}
		if c.qlog != nil {
			if err := c.qlog.Close(); err != nil {
				log.Warn().Err(err).Msg("cache: close querylog failed")
			}
		}
		if c.dispatcher != nil {
			if err := c.dispatcher.Close(); err != nil {
				log.Warn().Err(err).Msg("cache: close dispatcher failed")
			}
		}
		if c.dm != nil {
			if err := c.dm.Flush(context.Background()); err != nil {
				log.Warn().Err(err).Msg("cache: flush failed")
			}
			if err := c.dm.Close(); err != nil {
				c.closeErr = fmt.Errorf("%w: %v", ErrCache, err)
				log.Error().Err(err).Msg("cache: close failed")
			}
		}
		if c.objectStore != nil {
			if err := c.objectStore.Close(); err != nil {
				log.Warn().Err(err).Msg("cache: close object store failed")
			}
		}
	})
	return c.closeErr
}

func buildScalarStore(cfg *config.Config) (scalar.Store, error) {
	switch cfg.ScalarBackend {
	case "postgres":
		sections, err := config.LoadBackendConfig(cfg.ConfigDir, config.MySQLConfigFile)
		if err != nil {
			return nil, err
		}
		dsn := sections.Get("connection", "dsn")
		if dsn == "" {
			return nil, fmt.Errorf("%w: postgres dsn not set in %s", ErrParam, config.MySQLConfigFile)
		}
		maxConns, _ := strconv.Atoi(sections.Get("connection", "max_conns"))
		return scalarpostgres.NewStore(scalarpostgres.Config{DSN: dsn, MaxConns: maxConns})
	case "sqlite", "":
		sections, err := config.LoadBackendConfig(cfg.ConfigDir, config.SQLiteConfigFile)
		if err != nil {
			return nil, err
		}
		path := sections.Get("connection", "path")
		if path == "" {
			path = config.DataDir() + "/semcache.db"
		}
		maxConns, _ := strconv.Atoi(sections.Get("connection", "max_conns"))
		return scalarsqlite.NewStore(scalarsqlite.Config{Path: path, MaxConns: maxConns})
	default:
		return nil, fmt.Errorf("%w: unknown scalar backend %q", ErrNotFound, cfg.ScalarBackend)
	}
}

func buildVectorStore(ctx context.Context, cfg *config.Config) (vector.Store, error) {
	switch cfg.VectorBackend {
	case "pgvector":
		sections, err := config.LoadBackendConfig(cfg.ConfigDir, config.MilvusConfigFile)
		if err != nil {
			return nil, err
		}
		dsn := sections.Get("connection", "dsn")
		if dsn == "" {
			return nil, fmt.Errorf("%w: pgvector dsn not set in %s", ErrParam, config.MilvusConfigFile)
		}
		dim := cfg.EmbeddingDimensions
		if d, err := strconv.Atoi(sections.Get("connection", "dimension")); err == nil && d > 0 {
			dim = d
		}
		db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("open gorm postgres for pgvector: %w", err)
		}
		return pgvector.NewClient(ctx, pgvector.Config{DB: db, Dimension: dim})
	case "chroma":
		sections, err := config.LoadBackendConfig(cfg.ConfigDir, config.ChromaDBConfigFile)
		if err != nil {
			return nil, err
		}
		batchSize, _ := strconv.Atoi(sections.Get("connection", "batch_size"))
		return chroma.NewClient(chroma.Config{
			DataDir:   sections.Get("connection", "data_dir"),
			PythonVer: sections.Get("connection", "python_version"),
			BatchSize: batchSize,
		})
	case "memory", "":
		metric := pkgsimilarity.MetricCosine
		if cfg.SimilarityMetric == "l2" {
			metric = pkgsimilarity.MetricL2
		}
		return memory.NewStore(metric), nil
	default:
		return nil, fmt.Errorf("%w: unknown vector backend %q", ErrNotFound, cfg.VectorBackend)
	}
}

func buildObjectStore(cfg *config.Config) (object.Store, error) {
	switch cfg.ObjectBackend {
	case "redis":
		sections, err := config.LoadBackendConfig(cfg.ConfigDir, config.RedisConfigFile)
		if err != nil {
			return nil, err
		}
		db, _ := strconv.Atoi(sections.Get("connection", "db"))
		return objectredis.NewStore(objectredis.Config{
			Addr:      sections.Get("connection", "addr"),
			Password:  sections.Get("connection", "password"),
			DB:        db,
			KeyPrefix: sections.Get("connection", "key_prefix"),
		})
	case "fs":
		return objectfs.NewStore(cfg.ConfigDir + "/objects")
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown object backend %q", ErrNotFound, cfg.ObjectBackend)
	}
}
