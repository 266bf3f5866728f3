package inference

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/labscore-server/internal/domain"
)

// DefaultMemoryCacheSize bounds the in-process prediction tier.
const DefaultMemoryCacheSize = 1024

// cachedPrediction is a prediction with its cache metadata.
type cachedPrediction struct {
	Prediction domain.Prediction `json:"prediction"`
	CachedAt   time.Time         `json:"cached_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// CacheStats reports hits per tier.
type CacheStats struct {
	MemoryHits int64 `json:"memory_hits"`
	RedisHits  int64 `json:"redis_hits"`
	Misses     int64 `json:"misses"`
	Errors     int64 `json:"errors"`
}

// PredictionCache is a two-tier cache of model predictions: an in-memory LRU in front of
// an optional Redis instance shared between replicas.
type PredictionCache struct {
	memory *lru.Cache[string, cachedPrediction]
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
	now    func() time.Time

	memoryHits atomic.Int64
	redisHits  atomic.Int64
	misses     atomic.Int64
	failures   atomic.Int64
}

// NewRedisClient connects to Redis using the cache settings and verifies the connection.
func NewRedisClient(cfg domain.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	opts.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewPredictionCache creates a cache holding up to memorySize entries in memory. client
// may be nil, in which case only the memory tier is used.
func NewPredictionCache(memorySize int, client *redis.Client, ttl time.Duration, logger *logrus.Logger) (*PredictionCache, error) {
	if memorySize <= 0 {
		memorySize = DefaultMemoryCacheSize
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	memory, err := lru.New[string, cachedPrediction](memorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &PredictionCache{
		memory: memory,
		redis:  client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}, nil
}

// CacheKey derives the cache key of a prediction request from the task and the ordered
// feature vector.
func CacheKey(task domain.Task, features *domain.FeatureVector) (string, error) {
	data, err := json.Marshal(features)
	if err != nil {
		return "", fmt.Errorf("encoding features: %w", err)
	}
	hash := sha256.Sum256(append([]byte(task+":"), data...))
	return fmt.Sprintf("prediction:%s:%x", task, hash[:16]), nil
}

// Get returns the cached prediction for key. Redis errors are logged and treated as misses.
func (c *PredictionCache) Get(ctx context.Context, key string) (*domain.Prediction, bool) {
	if entry, ok := c.memory.Get(key); ok {
		if c.now().Before(entry.ExpiresAt) {
			c.memoryHits.Add(1)
			p := entry.Prediction
			return &p, true
		}
		c.memory.Remove(key)
	}

	if c.redis == nil {
		c.misses.Add(1)
		return nil, false
	}

	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, false
	}
	if err != nil {
		c.failures.Add(1)
		c.logger.WithError(err).WithField("key", key).Warn("Prediction cache read failed")
		return nil, false
	}

	var entry cachedPrediction
	if err := json.Unmarshal([]byte(val), &entry); err != nil || c.now().After(entry.ExpiresAt) {
		c.redis.Del(ctx, key)
		c.misses.Add(1)
		return nil, false
	}

	c.redisHits.Add(1)
	c.memory.Add(key, entry)
	p := entry.Prediction
	return &p, true
}

// Set stores a prediction in both tiers.
func (c *PredictionCache) Set(ctx context.Context, key string, p domain.Prediction) {
	now := c.now()
	entry := cachedPrediction{Prediction: p, CachedAt: now, ExpiresAt: now.Add(c.ttl)}
	c.memory.Add(key, entry)

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.failures.Add(1)
		c.logger.WithError(err).WithField("key", key).Warn("Prediction cache write failed")
	}
}

// Stats returns the cache counters.
func (c *PredictionCache) Stats() CacheStats {
	return CacheStats{
		MemoryHits: c.memoryHits.Load(),
		RedisHits:  c.redisHits.Load(),
		Misses:     c.misses.Load(),
		Errors:     c.failures.Load(),
	}
}

// Len returns the number of entries in the memory tier.
func (c *PredictionCache) Len() int {
	return c.memory.Len()
}

// Close releases the Redis connection, if any.
func (c *PredictionCache) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}
