package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iago/technoshare-commentator/internal/logger"
)

// Redis shares cached analyses between worker processes.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *logger.Logger
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if prefix == "" {
		prefix = "technoshare:analysis:"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: log}
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("analysis cache read failed", "error", err)
		}
		return nil, false
	}
	return value, true
}

func (c *Redis) Set(ctx context.Context, key string, value []byte) {
	if err := c.client.Set(ctx, c.prefix+key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("analysis cache write failed", "error", err)
	}
}
