package cache

import "time"

// Assessment is a cached risk verdict for one normalized query shape. Two
// queries that normalize to the same shape share cost and pattern scores, so
// a hit skips both the planner round trip and the regex pass.
type Assessment struct {
	QueryHash    string    `json:"query_hash"`
	Cost         float64   `json:"cost"`
	PatternScore float64   `json:"pattern_score"`
	Risk         float64   `json:"risk"`
	CachedAt     time.Time `json:"cached_at"`
	TTL          int64     `json:"ttl"`
}

// Stats reports cache performance counters.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// Config contains cache configuration
type Config struct {
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}
