// Package querycache provides an optional Redis-backed cache over
// evaluated query results, with singleflight deduplication so a burst of
// identical queries collapses into one evaluation. It is a pure decorator
// in front of the evaluator: the core query path is unaware of its
// presence or absence.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/fsearch/fsearch/internal/eval"
	"github.com/fsearch/fsearch/pkg/config"
	pkgredis "github.com/fsearch/fsearch/pkg/redis"
)

const keyPrefix = "fsearch:query:"

// QueryCache wraps a Redis client with singleflight de-duplication and
// hit/miss counters.
type QueryCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a QueryCache backed by the given Redis client.
func New(client *pkgredis.Client, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "query-cache"),
	}
}

// Get reads a cached result for (query, limit). Returns (nil, false) on
// miss or error.
func (c *QueryCache) Get(ctx context.Context, query string, limit int) (*eval.Result, bool) {
	key := c.buildKey(query, limit)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			c.misses.Add(1)
			return nil, false
		}
		c.logger.Error("cache get failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	var result eval.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "query", query, "key", key)
	return &result, true
}

// Set stores an evaluated result in the cache with the configured TTL.
func (c *QueryCache) Set(ctx context.Context, query string, limit int, result *eval.Result) {
	key := c.buildKey(query, limit)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrEvaluate returns a cached result if available; otherwise invokes
// evaluateFn, caches the outcome, and returns it. A singleflight group
// collapses concurrent cache misses for the same (query, limit) into one
// evaluation.
func (c *QueryCache) GetOrEvaluate(
	ctx context.Context,
	query string,
	limit int,
	evaluateFn func() (*eval.Result, error),
) (result *eval.Result, cacheHit bool, err error) {
	if result, ok := c.Get(ctx, query, limit); ok {
		return result, true, nil
	}
	key := c.buildKey(query, limit)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, ok := c.Get(ctx, query, limit); ok {
			return result, nil
		}
		result, err := evaluateFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, query, limit, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*eval.Result), false, nil
}

// Invalidate flushes every cached query result, called after a commit
// publishes a new segment set since stale results could otherwise survive
// past documents becoming searchable or being deleted.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	pattern := keyPrefix + "*"
	deleted, err := c.client.FlushByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.Info("query cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns the cumulative hit and miss counters.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey produces a deterministic cache key for the normalised query
// text and limit.
func (c *QueryCache) buildKey(query string, limit int) string {
	normalized := normalizeQuery(query)
	raw := fmt.Sprintf("%s:limit=%d", normalized, limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// normalizeQuery canonicalises a query string by lower-casing, separating
// plain terms from NOT-prefixed exclusions, sorting each group, and
// joining them so equivalent queries (different term order, same
// semantics) share one cache entry.
func normalizeQuery(query string) string {
	words := strings.Fields(strings.ToLower(query))
	var terms, excludes []string
	excludeNext := false
	for _, w := range words {
		switch {
		case w == "and" || w == "or" || strings.HasPrefix(w, "sort:"):
			continue
		case w == "not" || w == "-":
			excludeNext = true
		case strings.HasPrefix(w, "-"):
			excludes = append(excludes, strings.TrimPrefix(w, "-"))
		case excludeNext:
			excludes = append(excludes, w)
			excludeNext = false
		default:
			terms = append(terms, w)
		}
	}
	sort.Strings(terms)
	sort.Strings(excludes)
	parts := []string{strings.Join(terms, ",")}
	if len(excludes) > 0 {
		parts = append(parts, "NOT:"+strings.Join(excludes, ","))
	}
	return strings.Join(parts, "|")
}
