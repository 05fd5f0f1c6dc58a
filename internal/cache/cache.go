// Package cache memoizes tool results between research passes.
//
// Two backends are provided: an in-process memory cache for single-node
// deployments and a Redis cache for shared ones. Both are addressed
// through the Cache interface so the tool layer never knows which one
// it talks to.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss reports whether err is a cache miss.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Cache is a string key/value store with per-entry TTL.
type Cache interface {
	// Get returns the value for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. A zero ttl selects the backend default.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Close releases backend resources.
	Close() error
}

// GetJSON reads key and unmarshals the stored JSON into dest.
func GetJSON(ctx context.Context, c Cache, key string, dest any) error {
	val, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// SetJSON marshals value as JSON and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return c.Set(ctx, key, string(data), ttl)
}
