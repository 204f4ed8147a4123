// Package cache wraps the external key-value store holding analysis results.
// Caching is a performance optimization, never a correctness dependency:
// every store failure degrades to a cache miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/KaayaanAi/mcp-crypto-news/internal/news"
)

// DefaultTTL is how long analysis results stay cached.
const DefaultTTL = 12 * time.Hour

// KV is the narrow view of the external key-value store the cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Ping(ctx context.Context) error
}

type redisKV struct {
	client *redis.Client
}

// NewRedisKV adapts a go-redis client to the KV interface.
func NewRedisKV(client *redis.Client) KV {
	return &redisKV{client: client}
}

func (r *redisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisKV) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Total  int64 `json:"total"`
}

// Store caches analysis results keyed by normalized item identity. Expiry is
// delegated to the underlying store's native TTL support.
type Store struct {
	kv     KV
	ttl    time.Duration
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Store. A zero ttl selects DefaultTTL.
func New(kv KV, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl, logger: logger.Named("cache")}
}

// Get returns the cached result for key, if present. Store errors and
// undecodable entries count as misses.
func (s *Store) Get(ctx context.Context, key string) (news.Result, bool) {
	val, found, err := s.kv.Get(ctx, key)
	if err != nil {
		s.misses.Add(1)
		s.logger.Warn("cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		return news.Result{}, false
	}
	if !found {
		s.misses.Add(1)
		return news.Result{}, false
	}

	var res news.Result
	if err := json.Unmarshal([]byte(val), &res); err != nil {
		s.misses.Add(1)
		s.logger.Warn("cache entry undecodable, treating as miss", zap.String("key", key), zap.Error(err))
		return news.Result{}, false
	}
	s.hits.Add(1)
	return res, true
}

// Put stores a result under key. Failures are logged and swallowed.
func (s *Store) Put(ctx context.Context, key string, res news.Result) {
	data, err := json.Marshal(res)
	if err != nil {
		s.logger.Warn("cache put skipped, result not serializable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, key, string(data), s.ttl); err != nil {
		s.logger.Warn("cache put failed", zap.String("key", key), zap.Error(err))
	}
}

// Healthy reports whether the underlying store answers a ping.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.kv.Ping(ctx) == nil
}

// Stats returns hit/miss counters accumulated since startup.
func (s *Store) Stats() Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	return Stats{Hits: hits, Misses: misses, Total: hits + misses}
}
