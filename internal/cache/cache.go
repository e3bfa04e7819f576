// Package cache is a fail-safe, JSON-encoding key/value cache. It is an
// optimization only: every backend failure degrades to a miss or a false
// return and is never handed to the caller.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/PabloGalante/farum-coach/internal/observability"
)

// Backend is the raw store behind a Cache. Keys reach it already prefixed.
type Backend interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// DeleteMatching removes keys matching a glob pattern and returns how
	// many were removed.
	DeleteMatching(ctx context.Context, pattern string) (int, error)
}

// TTL is either an absolute number of seconds or a duration. Seconds wins
// when both are set; a zero TTL uses the cache default.
type TTL struct {
	Seconds  int
	Duration time.Duration
}

func Seconds(n int) TTL { return TTL{Seconds: n} }

func For(d time.Duration) TTL { return TTL{Duration: d} }

func (t TTL) resolve(def time.Duration) time.Duration {
	switch {
	case t.Seconds > 0:
		return time.Duration(t.Seconds) * time.Second
	case t.Duration > 0:
		return t.Duration
	}
	return def
}

const (
	DefaultPrefix = "coach:"
	DefaultTTL    = time.Hour
)

type Cache struct {
	backend    Backend
	prefix     string
	defaultTTL time.Duration
	log        *slog.Logger
	metrics    *observability.Metrics
}

type Option func(*Cache)

func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.defaultTTL = ttl }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New wraps backend. A nil backend gives a cache that always misses.
func New(backend Backend, opts ...Option) *Cache {
	if backend == nil {
		backend = Nop{}
	}
	c := &Cache{
		backend:    backend,
		prefix:     DefaultPrefix,
		defaultTTL: DefaultTTL,
		log:        observability.WithFields("component", "cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Disabled returns a cache that never stores anything.
func Disabled() *Cache {
	return New(Nop{})
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// Get decodes the cached value of key into dst and reports a hit.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	raw, found, err := c.backend.Get(ctx, c.key(key))
	if err != nil {
		c.log.Warn("cache get failed", "key", key, "error", err)
		c.metrics.ObserveCache("get", "error")
		return false
	}
	if !found {
		c.metrics.ObserveCache("get", "miss")
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		c.log.Warn("cache entry undecodable", "key", key, "error", err)
		c.metrics.ObserveCache("get", "error")
		return false
	}
	c.metrics.ObserveCache("get", "hit")
	return true
}

// Set stores value under key. Values that cannot be JSON encoded are
// rejected with false.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl TTL) bool {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache value not serializable", "key", key, "error", err)
		c.metrics.ObserveCache("set", "error")
		return false
	}
	if err := c.backend.Set(ctx, c.key(key), string(data), ttl.resolve(c.defaultTTL)); err != nil {
		c.log.Warn("cache set failed", "key", key, "error", err)
		c.metrics.ObserveCache("set", "error")
		return false
	}
	c.metrics.ObserveCache("set", "ok")
	return true
}

func (c *Cache) Delete(ctx context.Context, key string) bool {
	deleted, err := c.backend.Delete(ctx, c.key(key))
	if err != nil {
		c.log.Warn("cache delete failed", "key", key, "error", err)
		c.metrics.ObserveCache("delete", "error")
		return false
	}
	c.metrics.ObserveCache("delete", "ok")
	return deleted
}

func (c *Cache) Exists(ctx context.Context, key string) bool {
	found, err := c.backend.Exists(ctx, c.key(key))
	if err != nil {
		c.log.Warn("cache exists failed", "key", key, "error", err)
		c.metrics.ObserveCache("exists", "error")
		return false
	}
	return found
}

// ClearPattern removes every key matching the glob pattern, e.g.
// "session:*", and returns how many went away.
func (c *Cache) ClearPattern(ctx context.Context, pattern string) int {
	n, err := c.backend.DeleteMatching(ctx, c.key(pattern))
	if err != nil {
		c.log.Warn("cache clear pattern failed", "pattern", pattern, "error", err)
		c.metrics.ObserveCache("clear", "error")
		return 0
	}
	c.metrics.ObserveCache("clear", "ok")
	return n
}

// Nop is a backend that stores nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (Nop) Set(context.Context, string, string, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) (bool, error) { return false, nil }
func (Nop) Exists(context.Context, string) (bool, error) { return false, nil }
func (Nop) DeleteMatching(context.Context, string) (int, error) { return 0, nil }
