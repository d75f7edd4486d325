package config

import (
	"os"
	"strconv"
	"time"
)

// CacheConfig defines settings for the event-scoped cache.  When
// Enabled is false the cache degrades to a no-op for reads while still
// honoring the invalidation contract.  TTL bounds the lifetime of
// individual entries; invalidation happens eagerly on writes
// regardless.  Prefix namespaces all keys in Redis.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
// Defaults are used when variables are not set.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: getenv("CACHE_ENABLED", "true") == "true",
		TTL:     parseDur(getenv("CACHE_TTL", "5m")),
		Prefix:  getenv("CACHE_PREFIX", "evcache"),
	}
}

// Helper functions reused from redis.go and ratelimit.go
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

func parseDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Second
	}
	return d
}
