// Package cache stores successful scrape results per (postcode, source) so a
// repeated request inside the TTL makes no external calls.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/postcode"
	"github.com/alisufyan143/location-analyzer-v2/internal/scraper"
	"github.com/alisufyan143/location-analyzer-v2/internal/telemetry"
)

// DefaultTTL is how long a cached result stays fresh.
const DefaultTTL = 30 * 24 * time.Hour

// ErrNotCacheable is returned by Put for results that must not be stored.
var ErrNotCacheable = errors.New("only successful results are cached")

// Store is a byte-oriented key/value backend. Set replaces any existing value
// for key in one step.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Envelope is the persisted form of a cached result.
type Envelope struct {
	CachedAt time.Time      `json:"cached_at"`
	Postcode string         `json:"postcode"`
	Source   string         `json:"source"`
	Payload  scraper.Result `json:"payload"`
}

// Key returns the cache key for source and pc, e.g. "transport:M1_1AF".
func Key(source string, pc postcode.Postcode) string {
	return source + ":" + pc.Key()
}

// Cache layers envelopes, freshness and metrics over a Store.
type Cache struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// New wraps store. A non-positive ttl uses DefaultTTL.
func New(store Store, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:  store,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the cached result for (source, pc). Backend failures are
// logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, source string, pc postcode.Postcode) (scraper.Result, bool) {
	key := Key(source, pc)
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed",
			zap.String("key", key),
			zap.Error(failure.Wrap(failure.Cache, "cache.get", err)),
		)
		telemetry.ObserveCacheLookup(source, "error")
		return scraper.Result{}, false
	}
	if !found {
		telemetry.ObserveCacheLookup(source, "miss")
		return scraper.Result{}, false
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("cache entry unreadable", zap.String("key", key), zap.Error(err))
		telemetry.ObserveCacheLookup(source, "error")
		return scraper.Result{}, false
	}
	if c.now().Sub(env.CachedAt) >= c.ttl || !env.Payload.OK {
		telemetry.ObserveCacheLookup(source, "expired")
		return scraper.Result{}, false
	}
	telemetry.ObserveCacheLookup(source, "hit")
	return env.Payload, true
}

// Put writes a successful result through to the store.
func (c *Cache) Put(ctx context.Context, pc postcode.Postcode, result scraper.Result) error {
	if !result.OK {
		return ErrNotCacheable
	}
	env := Envelope{
		CachedAt: c.now(),
		Postcode: pc.String(),
		Source:   result.Source,
		Payload:  result,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return failure.Wrap(failure.Cache, "cache.put", fmt.Errorf("encode envelope: %w", err))
	}
	if err := c.store.Set(ctx, Key(result.Source, pc), raw, c.ttl); err != nil {
		return failure.Wrap(failure.Cache, "cache.put", err)
	}
	return nil
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.store.Close()
}
