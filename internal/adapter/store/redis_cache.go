package store

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const connectPingTimeout = 2 * time.Second

// RedisCache is a fail-open JSON blob cache. The connection is established
// lazily and exactly once: concurrent first users converge on the same
// sync.Once, and a malformed address permanently disables caching for the
// process lifetime. Backend errors are logged and reported as a miss (Get)
// or a failed write (Set), never as an error to the caller — caching is a
// latency optimization, not a correctness dependency.
type RedisCache struct {
	url    string
	logger zerolog.Logger

	init   sync.Once
	client *redis.Client
}

func NewRedisCache(url string, logger zerolog.Logger) *RedisCache {
	return &RedisCache{
		url:    url,
		logger: logger.With().Str("component", "redis_cache").Logger(),
	}
}

// connect memoizes the client. A nil return means caching is off.
func (c *RedisCache) connect() *redis.Client {
	c.init.Do(func() {
		if c.url == "" {
			return
		}
		opts, err := redis.ParseURL(c.url)
		if err != nil {
			c.logger.Warn().Err(err).Msg("malformed redis URL, caching disabled")
			return
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			// Keep the client: go-redis reconnects, and each operation
			// already fails open on its own.
			c.logger.Warn().Err(err).Msg("redis unreachable at first use, operations will fail open")
		}
		c.client = client
	})
	return c.client
}

// Get returns the cached blob for key, or absent on miss or any failure.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	client := c.connect()
	if client == nil {
		return nil, false
	}
	value, err := client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		return nil, false
	}
	return value, true
}

// Set stores the blob with the given expiry and reports whether the write
// landed.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	client := c.connect()
	if client == nil {
		return false
	}
	if err := client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		return false
	}
	return true
}

// Close releases the underlying connection if one was ever established.
func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
