package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	DefaultTTL   time.Duration `yaml:"default_ttl" json:"default_ttl"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// DefaultRedisConfig returns the baseline Redis cache configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		DefaultTTL:   15 * time.Minute,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisCache is a Cache backed by a Redis server.
type RedisCache struct {
	client *redis.Client
	config RedisConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(config RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis cache initialized",
		zap.String("addr", config.Addr),
		zap.Duration("default_ttl", config.DefaultTTL),
	)

	return &RedisCache{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return "", fmt.Errorf("redis cache is closed")
	}

	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrCacheMiss
	}
	if err != nil {
		c.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("cache get failed: %w", err)
	}

	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("redis cache is closed")
	}

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}

	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("redis cache is closed")
	}

	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}

	return nil
}

// Ping checks the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("redis cache is closed")
	}

	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.logger.Info("closing redis cache")
	return c.client.Close()
}
