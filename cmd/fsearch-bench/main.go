// Command fsearch-bench runs an in-process latency benchmark against a live
// index: it fires a fixed query mix from a pool of concurrent workers for a
// configurable duration and reports P50/P90/P95/P99 latency, validating the
// sub-50ms P99 query budget directly against the evaluator rather than over
// the network.
//
// Usage:
//
//	fsearch-bench [-config configs/development.yaml] [-concurrency 10] [-duration 30s]
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
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

var queries = []string{
	"error",
	"TODO AND fixme",
	"config OR settings",
	"\"database connection\"",
	"test -deprecated",
	"func*",
	"type:CODE error",
	"ext:go handler",
	"sort:mtime log",
}

// Stats collects thread-safe request statistics during the benchmark run.
type Stats struct {
	totalQueries atomic.Int64
	errorCount   atomic.Int64
	latencies    []time.Duration
	latenciesMu  sync.Mutex
}

func newStats() *Stats {
	return &Stats{latencies: make([]time.Duration, 0, 100000)}
}

func (s *Stats) record(d time.Duration, err error) {
	s.totalQueries.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, d)
	s.latenciesMu.Unlock()
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "benchmark duration")
	limit := flag.Int("limit", 10, "result limit per query")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to postgres: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	ds := docstore.New(db)

	mgr, err := indexmgr.Open(appConfigToIndexmgr(cfg), ds, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open index: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()

	evaluator := eval.New(ds)

	fmt.Println("=== fsearch-bench ===")
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Queries:     %d unique\n", len(queries))
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	runCtx, runCancel := context.WithTimeout(ctx, *duration)
	defer runCancel()

	stats := newStats()
	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			idx := workerID
			for {
				select {
				case <-runCtx.Done():
					return
				default:
				}
				raw := queries[idx%len(queries)]
				idx++

				start := time.Now()
				err := runOneQuery(runCtx, evaluator, mgr, raw, *limit)
				stats.record(time.Since(start), err)
			}
		}(w)
	}
	wg.Wait()

	printReport(stats, *duration)
}

func runOneQuery(ctx context.Context, evaluator *eval.Evaluator, mgr *indexmgr.Manager, raw string, limit int) error {
	parsed, err := query.Parse(raw)
	if err != nil {
		return err
	}
	snap := mgr.GetActiveSegments()
	defer snap.Release()
	_, err = evaluator.Evaluate(ctx, parsed, snap, raw, limit)
	return err
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalQueries.Load()
	errs := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Queries: %d\n", total)
	fmt.Printf("Errors:        %d\n", errs)
	if total > 0 {
		fmt.Printf("QPS:           %.2f\n", float64(total)/duration.Seconds())
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) == 0 {
		fmt.Println("\nWARNING: no queries completed")
		os.Exit(1)
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg := sum / time.Duration(len(latencies))

	fmt.Println()
	fmt.Println("=== Latency ===")
	fmt.Printf("Min:  %s\n", latencies[0])
	fmt.Printf("Avg:  %s\n", avg)
	fmt.Printf("P50:  %s\n", percentile(latencies, 50))
	fmt.Printf("P90:  %s\n", percentile(latencies, 90))
	fmt.Printf("P95:  %s\n", percentile(latencies, 95))
	p99 := percentile(latencies, 99)
	fmt.Printf("P99:  %s\n", p99)
	fmt.Printf("Max:  %s\n", latencies[len(latencies)-1])

	const p99Budget = 50 * time.Millisecond
	if p99 > p99Budget {
		fmt.Printf("\nFAIL: P99 latency %s exceeds %s budget\n", p99, p99Budget)
		os.Exit(1)
	}
	fmt.Printf("\nOK: P99 latency within %s budget\n", p99Budget)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
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
