package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dotcommander/coherence/internal/storage"
)

// ResponseCache wraps an Analyzer with a TTL'd, storage-backed cache.
// Compressed scenes are regenerated every run, but the underlying scene
// text rarely changes between runs, so repeated analyses hit the cache.
type ResponseCache struct {
	inner   Analyzer
	storage storage.Storage
	ttl     time.Duration
	logger  *slog.Logger

	// Incremented from concurrent batch goroutines sharing one cache.
	hits   atomic.Int64
	misses atomic.Int64
}

type cachedResponse struct {
	Response  *Response `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// CacheStats reports cache effectiveness for one process lifetime.
type CacheStats struct {
	Hits   int
	Misses int
	Keys   int
}

func NewResponseCache(inner Analyzer, store storage.Storage, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		inner:   inner,
		storage: store,
		ttl:     ttl,
		logger:  slog.Default().With("component", "response_cache"),
	}
}

// Init ensures the cache namespace exists. Safe to call repeatedly.
func (c *ResponseCache) Init(ctx context.Context) error {
	return c.storage.Save(ctx, "cache/responses/.keep", []byte{})
}

// Warm pre-issues analysis calls for the given requests so a subsequent run
// is served from cache. Failures are logged and skipped.
func (c *ResponseCache) Warm(ctx context.Context, reqs []Request) {
	for _, req := range reqs {
		if _, err := c.Analyze(ctx, req); err != nil {
			c.logger.Warn("cache warm skipped request", "analysis_type", req.AnalysisType, "error", err)
		}
	}
}

// Clear removes all cached responses.
func (c *ResponseCache) Clear(ctx context.Context) error {
	keys, err := c.storage.List(ctx, "cache/responses/*.json")
	if err != nil {
		return fmt.Errorf("listing cache entries: %w", err)
	}
	for _, key := range keys {
		if err := c.storage.Delete(ctx, key); err != nil {
			return fmt.Errorf("deleting cache entry %s: %w", key, err)
		}
	}
	return nil
}

// Stats returns hit/miss counters and the current key count.
func (c *ResponseCache) Stats(ctx context.Context) CacheStats {
	keys, _ := c.storage.List(ctx, "cache/responses/*.json")
	return CacheStats{Hits: int(c.hits.Load()), Misses: int(c.misses.Load()), Keys: len(keys)}
}

func (c *ResponseCache) Analyze(ctx context.Context, req Request) (*Response, error) {
	key := c.hashRequest(req)
	path := fmt.Sprintf("cache/responses/%s.json", key)

	if data, err := c.storage.Load(ctx, path); err == nil {
		var cached cachedResponse
		if err := json.Unmarshal(data, &cached); err == nil && time.Since(cached.Timestamp) <= c.ttl && cached.Response != nil {
			c.hits.Add(1)
			c.logger.Debug("cache hit", "key", key, "age", time.Since(cached.Timestamp))
			return cached.Response, nil
		}
	}

	c.misses.Add(1)
	resp, err := c.inner.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(cachedResponse{Response: resp, Timestamp: time.Now()})
	if err == nil {
		if err := c.storage.Save(ctx, path, data); err != nil {
			c.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}

	return resp, nil
}

func (c *ResponseCache) hashRequest(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.AnalysisType))
	h.Write([]byte(req.Scene))
	for _, prev := range req.PreviousScenes {
		h.Write([]byte(prev))
	}
	h.Write([]byte(req.ReaderContext))
	h.Write([]byte(req.Options.Model))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
