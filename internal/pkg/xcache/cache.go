package xcache

import (
	"context"
	"fmt"
	"time"

	cachelib "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	gocache_store "github.com/eko/gocache/store/go_cache/v4"
	gocache "github.com/patrickmn/go-cache"
	redis "github.com/redis/go-redis/v9"

	"github.com/looplj/classhub/internal/log"
	redis_store "github.com/looplj/classhub/internal/pkg/xcache/redis"
)

// Cache is an alias to the gocache CacheInterface so callers depend on xcache only.
type Cache[T any] = cachelib.CacheInterface[T]

type SetterCache[T any] = cachelib.SetterCacheInterface[T]

// NewMemory creates an in-memory cache backed by patrickmn/go-cache.
func NewMemory[T any](expiration, cleanupInterval time.Duration) SetterCache[T] {
	client := gocache.New(expiration, cleanupInterval)
	return cachelib.New[T](gocache_store.NewGoCache(client, store.WithExpiration(expiration)))
}

// NewRedis creates a redis cache storing JSON-encoded values.
func NewRedis[T any](client *redis.Client, options ...Option) SetterCache[T] {
	return cachelib.New[T](redis_store.NewRedisStore[T](client, options...))
}

// NewTwoLevel chains memory in front of redis.
func NewTwoLevel[T any](memory, redis SetterCache[T]) Cache[T] {
	return cachelib.NewChain[T](memory, redis)
}

// NewFromConfig builds a typed cache for the configured mode. client may be nil
// when redis is not configured; redis-backed modes then fail, memory modes ignore it.
// An empty mode disables caching.
func NewFromConfig[T any](cfg Config, client *redis.Client) (Cache[T], error) {
	memExpiration := defaultIfZero(cfg.Memory.Expiration, 5*time.Minute)
	memCleanup := defaultIfZero(cfg.Memory.CleanupInterval, 10*time.Minute)
	redisExpiration := defaultIfZero(cfg.RedisExpiration, 30*time.Minute)

	switch cfg.Mode {
	case "":
		return NewNoop[T](), nil
	case ModeMemory:
		log.Debug(context.Background(), "using memory cache")
		return NewMemory[T](memExpiration, memCleanup), nil
	case ModeRedis:
		if client == nil {
			return nil, fmt.Errorf("cache mode %s requires redis", cfg.Mode)
		}

		log.Debug(context.Background(), "using redis cache")

		return NewRedis[T](client, WithExpiration(redisExpiration)), nil
	case ModeTwoLevel:
		mem := NewMemory[T](memExpiration, memCleanup)
		if client == nil {
			log.Warn(context.Background(), "two-level cache without redis, falling back to memory")
			return mem, nil
		}

		log.Debug(context.Background(), "using two-level cache")

		return NewTwoLevel[T](mem, NewRedis[T](client, WithExpiration(redisExpiration))), nil
	default:
		return nil, fmt.Errorf("unknown cache mode %q", cfg.Mode)
	}
}

func defaultIfZero(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}

	return d
}
