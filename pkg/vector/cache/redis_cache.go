// Package cache provides the Redis-backed vector cache for the embedding
// subsystem.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/S-Corkum/deepsearch/pkg/models"
	"github.com/S-Corkum/deepsearch/pkg/observability"
)

var (
	// ErrCacheMiss is returned when no embedding is cached for a key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheInvalid is returned when cached data cannot be decoded.
	ErrCacheInvalid = errors.New("invalid cached data")
)

const (
	keyPrefix        = "vector:"
	statsKeyPrefix   = "vector:stats:"
	statsHitsKey     = statsKeyPrefix + "hits"
	statsMissesKey   = statsKeyPrefix + "misses"
	statsRequestsKey = statsKeyPrefix + "requests"
)

// getAndCount fetches a cached value and bumps the shared hit/miss/request
// counters in the same round trip, so concurrent readers cannot skew the
// ratios between the read and the count.
var getAndCount = redis.NewScript(`
local value = redis.call('GET', KEYS[1])
redis.call('INCR', KEYS[2])
if value then
  redis.call('INCR', KEYS[3])
else
  redis.call('INCR', KEYS[4])
end
return value
`)

// Config configures the vector cache behavior.
type Config struct {
	// Enabled determines whether the cache is consulted at all.
	Enabled bool

	// DefaultTTL is applied to entries stored without an explicit TTL.
	DefaultTTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		DefaultTTL: 24 * time.Hour,
	}
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Requests  int64   `json:"requests"`
	Errors    int64   `json:"errors"`
	HitRate   float64 `json:"hit_rate"`
	Entries   int64   `json:"entries"`
}

// VectorCache caches embeddings in Redis keyed by (model, text, dimension).
// Redis failures degrade to cache misses so embedding generation keeps
// working without the cache.
type VectorCache struct {
	client *redis.Client
	config Config
	logger observability.Logger

	// errors counts degraded operations locally; the hit/miss/request
	// counters live in Redis so every process sees the same totals.
	errors atomic.Int64
}

// NewVectorCache creates a vector cache on an existing Redis client.
func NewVectorCache(client *redis.Client, config Config, logger observability.Logger) *VectorCache {
	if logger == nil {
		logger = observability.NewLogger("vector-cache")
	}
	return &VectorCache{
		client: client,
		config: config,
		logger: logger.WithPrefix("vector-cache"),
	}
}

// Key derives the deterministic cache key for one embedding request. The
// model name and dimension are part of the digest so embeddings of the same
// text under different models never collide.
func Key(modelName, text string, dimension int) string {
	h := sha256.New()
	h.Write([]byte(modelName))
	h.Write([]byte{0})
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(dimension)))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached embedding for the key, or ErrCacheMiss. Redis
// errors are logged, counted, and reported as misses.
func (vc *VectorCache) Get(ctx context.Context, key string) (*models.Embedding, error) {
	if !vc.config.Enabled {
		return nil, ErrCacheMiss
	}

	res, err := getAndCount.Run(ctx, vc.client,
		[]string{key, statsRequestsKey, statsHitsKey, statsMissesKey}).Result()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		vc.degrade("get", key, err)
		return nil, ErrCacheMiss
	}

	raw, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected script result %T", ErrCacheInvalid, res)
	}

	var emb models.Embedding
	if err := json.Unmarshal([]byte(raw), &emb); err != nil {
		vc.logger.Error("Cache decode error", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrCacheInvalid, err)
	}
	return &emb, nil
}

// Put stores an embedding under the key. A zero TTL uses the configured
// default TTL.
func (vc *VectorCache) Put(ctx context.Context, key string, emb *models.Embedding, ttl time.Duration) error {
	if !vc.config.Enabled {
		return nil
	}
	if emb == nil {
		return fmt.Errorf("cache put: nil embedding")
	}

	if ttl == 0 {
		ttl = vc.config.DefaultTTL
	}

	data, err := json.Marshal(emb)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}

	if err := vc.client.Set(ctx, key, data, ttl).Err(); err != nil {
		vc.degrade("put", key, err)
		return fmt.Errorf("cache put error: %w", err)
	}
	return nil
}

// Exists reports whether the key is cached.
func (vc *VectorCache) Exists(ctx context.Context, key string) (bool, error) {
	if !vc.config.Enabled {
		return false, nil
	}

	count, err := vc.client.Exists(ctx, key).Result()
	if err != nil {
		vc.degrade("exists", key, err)
		return false, fmt.Errorf("cache exists error: %w", err)
	}
	return count > 0, nil
}

// Delete removes a cached embedding.
func (vc *VectorCache) Delete(ctx context.Context, key string) error {
	if !vc.config.Enabled {
		return nil
	}

	if err := vc.client.Del(ctx, key).Err(); err != nil {
		vc.degrade("delete", key, err)
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

// Expire resets the TTL of a cached embedding. It returns false when the
// key does not exist.
func (vc *VectorCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !vc.config.Enabled {
		return false, nil
	}

	ok, err := vc.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		vc.degrade("expire", key, err)
		return false, fmt.Errorf("cache expire error: %w", err)
	}
	return ok, nil
}

// GetTTL returns the remaining TTL of a cached embedding. Missing keys
// return ErrCacheMiss.
func (vc *VectorCache) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	if !vc.config.Enabled {
		return 0, ErrCacheMiss
	}

	ttl, err := vc.client.TTL(ctx, key).Result()
	if err != nil {
		vc.degrade("ttl", key, err)
		return 0, fmt.Errorf("cache ttl error: %w", err)
	}
	// go-redis reports a missing key as -2 and a key without expiry as -1.
	if ttl == -2 {
		return 0, ErrCacheMiss
	}
	return ttl, nil
}

// Clear removes every cached embedding, leaving the stats counters intact.
// It scans rather than flushing so other tenants of the Redis instance are
// untouched.
func (vc *VectorCache) Clear(ctx context.Context) (int64, error) {
	var removed int64
	var cursor uint64
	for {
		keys, next, err := vc.client.Scan(ctx, cursor, keyPrefix+"*", 500).Result()
		if err != nil {
			vc.degrade("clear", keyPrefix+"*", err)
			return removed, fmt.Errorf("cache clear error: %w", err)
		}

		entryKeys := keys[:0]
		for _, k := range keys {
			if len(k) < len(statsKeyPrefix) || k[:len(statsKeyPrefix)] != statsKeyPrefix {
				entryKeys = append(entryKeys, k)
			}
		}
		if len(entryKeys) > 0 {
			n, err := vc.client.Del(ctx, entryKeys...).Result()
			if err != nil {
				vc.degrade("clear", keyPrefix+"*", err)
				return removed, fmt.Errorf("cache clear error: %w", err)
			}
			removed += n
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Stats reads the shared counters and counts live entries.
func (vc *VectorCache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Errors: vc.errors.Load()}
	if !vc.config.Enabled {
		return stats, nil
	}

	vals, err := vc.client.MGet(ctx, statsHitsKey, statsMissesKey, statsRequestsKey).Result()
	if err != nil {
		vc.degrade("stats", statsKeyPrefix+"*", err)
		return stats, fmt.Errorf("cache stats error: %w", err)
	}
	stats.Hits = parseCounter(vals[0])
	stats.Misses = parseCounter(vals[1])
	stats.Requests = parseCounter(vals[2])
	if stats.Requests > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Requests)
	}

	var cursor uint64
	for {
		keys, next, err := vc.client.Scan(ctx, cursor, keyPrefix+"*", 500).Result()
		if err != nil {
			vc.degrade("stats", keyPrefix+"*", err)
			return stats, fmt.Errorf("cache stats error: %w", err)
		}
		for _, k := range keys {
			if len(k) < len(statsKeyPrefix) || k[:len(statsKeyPrefix)] != statsKeyPrefix {
				stats.Entries++
			}
		}
		cursor = next
		if cursor == 0 {
			return stats, nil
		}
	}
}

// ClearStats resets the shared counters and the local error count.
func (vc *VectorCache) ClearStats(ctx context.Context) error {
	vc.errors.Store(0)
	if !vc.config.Enabled {
		return nil
	}
	if err := vc.client.Del(ctx, statsHitsKey, statsMissesKey, statsRequestsKey).Err(); err != nil {
		vc.degrade("clear-stats", statsKeyPrefix+"*", err)
		return fmt.Errorf("cache clear stats error: %w", err)
	}
	return nil
}

func (vc *VectorCache) degrade(op, key string, err error) {
	vc.errors.Add(1)
	vc.logger.Warn("Cache degraded", map[string]interface{}{
		"op":    op,
		"key":   key,
		"error": err.Error(),
	})
}

func parseCounter(val interface{}) int64 {
	s, ok := val.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
