// Command fsearch is the CLI surface over the local file-search engine: it
// indexes a set of source roots into an on-disk index, runs ad-hoc queries
// against it, reports index status, and rebuilds an index from scratch.
//
// Usage:
//
//	fsearch index  [-config configs/development.yaml]
//	fsearch search [-config configs/development.yaml] -q "error AND NOT deprecated" [-limit 10]
//	fsearch status [-config configs/development.yaml]
//	fsearch rebuild [-config configs/development.yaml]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsearch/fsearch/internal/docstore"
	"github.com/fsearch/fsearch/internal/eval"
	"github.com/fsearch/fsearch/internal/indexmgr"
	"github.com/fsearch/fsearch/internal/memindex"
	"github.com/fsearch/fsearch/internal/query"
	"github.com/fsearch/fsearch/internal/tokenizer"
	"github.com/fsearch/fsearch/pkg/config"
	"github.com/fsearch/fsearch/pkg/logger"
	"github.com/fsearch/fsearch/pkg/postgres"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "index":
		runIndex(args)
	case "search":
		runSearch(args)
	case "status":
		runStatus(args)
	case "rebuild":
		runRebuild(args)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "fsearch: unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fsearch <index|search|status|rebuild> [flags]")
}

// loadConfigAndEngine opens config, logging, Postgres, and the index
// manager the way every subcommand needs them, returning cleanup func last.
func loadConfigAndEngine(configPath string) (*config.Config, *docstore.Store, *indexmgr.Manager, func()) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	ds := docstore.New(db)

	mgr, err := indexmgr.Open(appConfigToIndexmgr(cfg), ds, nil)
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}

	cleanup := func() {
		if err := mgr.Close(); err != nil {
			slog.Error("error closing index", "error", err)
		}
		db.Close()
	}
	return cfg, ds, mgr, cleanup
}

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

// runIndex walks every configured source root once, ingesting new and
// changed files and reconciling deletions, then flushes and merges before
// exiting.
func runIndex(args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	_, _, mgr, cleanup := loadConfigAndEngine(*configPath)
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := mgr.RunIngestPipeline(ctx); err != nil {
		slog.Error("ingest pipeline failed", "error", err)
		os.Exit(1)
	}
	if err := mgr.Flush(); err != nil {
		slog.Error("final flush failed", "error", err)
		os.Exit(1)
	}
	for {
		merged, err := mgr.MaybeMerge(ctx)
		if err != nil {
			slog.Error("merge failed", "error", err)
			break
		}
		if !merged {
			break
		}
	}
	status := mgr.Status()
	slog.Info("index complete", "elapsed", time.Since(start), "active_segments", status.ActiveSegments, "manifest_gen", status.ManifestGen)
}

// runSearch parses and evaluates a single ad-hoc query against the current
// index, printing results as JSON to stdout.
func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	q := fs.String("q", "", "query string")
	limit := fs.Int("limit", 0, "max results (0 uses the configured default)")
	fs.Parse(args)

	if *q == "" {
		fmt.Fprintln(os.Stderr, "fsearch search: -q is required")
		os.Exit(1)
	}

	cfg, ds, mgr, cleanup := loadConfigAndEngine(*configPath)
	defer cleanup()

	n := *limit
	if n <= 0 {
		n = cfg.Search.DefaultLimit
	}
	if n > cfg.Search.MaxLimit {
		n = cfg.Search.MaxLimit
	}

	parsed, err := query.Parse(*q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fsearch search: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Search.QueryTimeout)
	defer cancel()

	snap := mgr.GetActiveSegments()
	defer snap.Release()

	evaluator := eval.New(ds)
	result, err := evaluator.Evaluate(ctx, parsed, snap, *q, n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fsearch search: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(result)
}

// runStatus prints the index manager's current status (active segments,
// manifest generation) as JSON.
func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	_, _, mgr, cleanup := loadConfigAndEngine(*configPath)
	defer cleanup()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(mgr.Status())
}

// runRebuild removes the on-disk index (WAL, manifest, segments) and
// re-ingests every configured source root from scratch. DocStore metadata
// is left untouched: a rebuild re-derives the on-disk index, it does not
// re-register documents with new doc IDs.
func runRebuild(args []string) {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Warn("rebuilding index from scratch", "data_dir", cfg.Index.DataDir)
	if err := os.RemoveAll(cfg.Index.DataDir); err != nil {
		slog.Error("failed to remove existing index data", "error", err)
		os.Exit(1)
	}

	runIndex(args)
}
