// Package httpcache is a Redis-backed conditional-request cache keyed by URL.
// It stores response bodies together with their ETag / Last-Modified
// validators so revalidation round-trips can be answered from cache on 304.
package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pricehawk/scan-service/internal/metrics"
)

const keyPrefix = "httpcache:"

// Entry is one cached URL with its validators
type Entry struct {
	URL          string    `json:"url"`
	Body         []byte    `json:"body"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

// Stats is the cache's observable state
type Stats struct {
	Enabled bool  `json:"enabled"`
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Cache wraps Redis with conditional-request semantics
type Cache struct {
	rdb     *redis.Client
	ttl     time.Duration
	enabled bool
	hits    atomic.Int64
	misses  atomic.Int64
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

// New creates a cache; when disabled every lookup is a miss and nothing is stored
func New(rdb *redis.Client, ttl time.Duration, enabled bool, rec *metrics.Recorder, logger zerolog.Logger) *Cache {
	return &Cache{
		rdb:     rdb,
		ttl:     ttl,
		enabled: enabled,
		metrics: rec,
		logger:  logger.With().Str("component", "http_cache").Logger(),
	}
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// ConditionalHeaders returns If-None-Match / If-Modified-Since headers for the
// URL, or an empty map when nothing is cached or the cache is disabled.
func (c *Cache) ConditionalHeaders(ctx context.Context, url string) map[string]string {
	headers := map[string]string{}
	if !c.enabled {
		return headers
	}

	entry, err := c.load(ctx, url)
	if err != nil || entry == nil {
		return headers
	}
	if entry.ETag != "" {
		headers["If-None-Match"] = entry.ETag
	}
	if entry.LastModified != "" {
		headers["If-Modified-Since"] = entry.LastModified
	}
	return headers
}

// HandleResponse resolves a response against the cache. A 304 returns the
// stored body as a hit; a 304 with no stored body is a miss and the caller
// must re-fetch without conditionals. A 2xx carrying validators is stored.
func (c *Cache) HandleResponse(ctx context.Context, url string, resp *http.Response, body []byte) ([]byte, bool) {
	if !c.enabled {
		return body, false
	}

	if resp.StatusCode == http.StatusNotModified {
		entry, err := c.load(ctx, url)
		if err == nil && entry != nil && len(entry.Body) > 0 {
			c.hits.Add(1)
			if c.metrics != nil {
				c.metrics.RecordCacheHit()
			}
			return entry.Body, true
		}
		// Validators matched but the body is gone; treat as uncached
		c.misses.Add(1)
		if c.metrics != nil {
			c.metrics.RecordCacheMiss()
		}
		c.invalidateQuiet(ctx, url)
		return nil, false
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		etag := resp.Header.Get("ETag")
		lastMod := resp.Header.Get("Last-Modified")
		if etag != "" || lastMod != "" {
			if err := c.Store(ctx, url, body, etag, lastMod); err != nil {
				c.logger.Warn().Err(err).Str("url", url).Msg("Failed to store cache entry")
			}
		}
	}

	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.RecordCacheMiss()
	}
	return body, false
}

// Store writes an entry with the configured TTL
func (c *Cache) Store(ctx context.Context, url string, body []byte, etag, lastModified string) error {
	entry := Entry{
		URL:          url,
		Body:         body,
		ETag:         etag,
		LastModified: lastModified,
		StoredAt:     time.Now(),
	}
	raw, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, cacheKey(url), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Invalidate drops the entry for a URL
func (c *Cache) Invalidate(ctx context.Context, url string) error {
	return c.rdb.Del(ctx, cacheKey(url)).Err()
}

func (c *Cache) invalidateQuiet(ctx context.Context, url string) {
	if err := c.Invalidate(ctx, url); err != nil {
		c.logger.Warn().Err(err).Str("url", url).Msg("Failed to invalidate cache entry")
	}
}

// Stats counts entries with a cursor SCAN; it never issues KEYS
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	s := Stats{
		Enabled: c.enabled,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}

	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, keyPrefix+"*", 250).Result()
		if err != nil {
			return s, fmt.Errorf("cache scan failed: %w", err)
		}
		s.Entries += int64(len(keys))
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return s, nil
}

func (c *Cache) load(ctx context.Context, url string) (*Entry, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(url)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
