package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AssessmentCache is a Redis-backed cache of risk assessments keyed by
// normalized query hash.
type AssessmentCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	hits   int64
	misses int64
}

// NewAssessmentCache connects to Redis and verifies the connection.
func NewAssessmentCache(config *Config, logger *zap.Logger) (*AssessmentCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	ac := &AssessmentCache{
		client: client,
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := ac.client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Assessment cache initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return ac, nil
}

// Get looks up a cached assessment by normalized query hash. Cache errors are
// logged and treated as misses so the scorer always has a path forward.
func (ac *AssessmentCache) Get(ctx context.Context, queryHash string) (*Assessment, bool) {
	data, err := ac.client.Get(ctx, ac.key(queryHash)).Result()
	if err == redis.Nil {
		atomic.AddInt64(&ac.misses, 1)
		return nil, false
	} else if err != nil {
		ac.logger.Error("Cache lookup failed", zap.Error(err))
		atomic.AddInt64(&ac.misses, 1)
		return nil, false
	}

	var a Assessment
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		ac.logger.Error("Failed to unmarshal cached assessment", zap.Error(err))
		ac.client.Del(ctx, ac.key(queryHash))
		atomic.AddInt64(&ac.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&ac.hits, 1)
	ac.logger.Debug("Cache hit",
		zap.String("query_hash", queryHash),
		zap.Float64("risk", a.Risk))
	return &a, true
}

// Put stores an assessment with the configured TTL.
func (ac *AssessmentCache) Put(ctx context.Context, a *Assessment) error {
	a.CachedAt = time.Now()
	a.TTL = int64(ac.config.DefaultTTL.Seconds())

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment: %w", err)
	}

	if err := ac.client.Set(ctx, ac.key(a.QueryHash), data, ac.config.DefaultTTL).Err(); err != nil {
		ac.logger.Error("Failed to cache assessment", zap.Error(err))
		return fmt.Errorf("failed to cache assessment: %w", err)
	}
	return nil
}

// GetStats returns cache performance statistics.
func (ac *AssessmentCache) GetStats(ctx context.Context) (*Stats, error) {
	info, err := ac.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &Stats{
		Hits:   atomic.LoadInt64(&ac.hits),
		Misses: atomic.LoadInt64(&ac.misses),
	}
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, "used_memory:") {
			if mem, err := strconv.ParseInt(strings.TrimPrefix(line, "used_memory:"), 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := ac.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}
	return stats, nil
}

// Clear removes all cached assessments under the configured key prefix.
func (ac *AssessmentCache) Clear(ctx context.Context) error {
	iter := ac.client.Scan(ctx, 0, ac.config.KeyPrefix+":assess:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := ac.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	ac.logger.Info("Assessment cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection.
func (ac *AssessmentCache) Close() error {
	if ac.client != nil {
		return ac.client.Close()
	}
	return nil
}

func (ac *AssessmentCache) key(queryHash string) string {
	return fmt.Sprintf("%s:assess:%s", ac.config.KeyPrefix, queryHash)
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
