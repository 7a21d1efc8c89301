// Command fsearchd runs the search daemon: a thin local HTTP surface
// (GET /search, GET /healthz, GET /metrics) in front of an index opened
// read-mostly from disk. It does not ingest; run `fsearch index` to build
// or update the index fsearchd serves.
//
// Usage:
//
//	fsearchd [-config configs/development.yaml] [-addr :8080]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsearch/fsearch/internal/admission"
	"github.com/fsearch/fsearch/internal/apiserver"
	"github.com/fsearch/fsearch/internal/docstore"
	"github.com/fsearch/fsearch/internal/eval"
	"github.com/fsearch/fsearch/internal/indexmgr"
	"github.com/fsearch/fsearch/internal/memindex"
	"github.com/fsearch/fsearch/internal/querycache"
	"github.com/fsearch/fsearch/internal/tokenizer"
	"github.com/fsearch/fsearch/pkg/config"
	"github.com/fsearch/fsearch/pkg/health"
	"github.com/fsearch/fsearch/pkg/logger"
	"github.com/fsearch/fsearch/pkg/metrics"
	"github.com/fsearch/fsearch/pkg/middleware"
	"github.com/fsearch/fsearch/pkg/postgres"
	pkgredis "github.com/fsearch/fsearch/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (optional, env FSEARCH_* overrides apply regardless)")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting fsearchd", "data_dir", cfg.Index.DataDir, "addr", *addr)

	var m *metrics.Metrics
	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
		slog.Info("prometheus metrics enabled", "port", cfg.Metrics.Port)
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	ds := docstore.New(db)

	mgr, err := indexmgr.Open(appConfigToIndexmgr(cfg), ds, m)
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()
	mgr.StartFlushLoop()

	var cache *querycache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			cache = querycache.New(redisClient, cfg.Redis)
			slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	evaluator := eval.New(ds)
	limiter := admission.New(cfg.Search.MaxConcurrentQueries)

	checker := health.NewChecker()
	for name, check := range mgr.HealthChecks() {
		checker.Register(name, check)
	}
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	h := apiserver.New(mgr, evaluator, cache, limiter, checker, m, cfg.Search.DefaultLimit, cfg.Search.MaxLimit, cfg.Search.QueryTimeout)
	mux := http.NewServeMux()
	h.Routes(mux)

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Search.QueryTimeout)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:    *addr,
		Handler: chain,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if metricsShutdown != nil {
			metricsShutdown(shutdownCtx)
		}
	}()

	slog.Info("fsearchd listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("fsearchd stopped")
}

// appConfigToIndexmgr translates the application-wide configuration into
// the index manager's own Config shape, the wiring-layer boundary the
// teacher draws between its pkg/config groupings and each service's
// internal config type.
func appConfigToIndexmgr(cfg *config.Config) indexmgr.Config {
	return indexmgr.Config{
		DataDir:       cfg.Index.DataDir,
		SourceRoots:   cfg.Index.SourceRoots,
		NumWorkers:    cfg.Index.NumWorkers,
		QueueCapacity: cfg.Index.QueueCapacity,
		Thresholds: memindex.Thresholds{
			MaxDocCount:  cfg.Index.SegmentMaxDocs,
			MaxSizeBytes: cfg.Index.SegmentMaxBytes,
		},
		FlushInterval: cfg.Index.FlushInterval,
		TokenizerOpts: tokenizer.Options{
			DropStopWords:    cfg.Tokenizer.DropStopWords,
			DisableCJKBigram: cfg.Tokenizer.DisableCJKBigram,
		},
		MergeFanIn:    cfg.Merge.FanIn,
		MergeInterval: cfg.Merge.Interval,
	}
}
