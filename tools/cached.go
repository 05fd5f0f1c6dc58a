package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/researchflow/researchflow/internal/cache"
)

// CachedAdapter memoizes an adapter's results. Identical queries within
// the TTL are served from the cache, which keeps repeat research passes
// from re-hitting rate-limited backends.
type CachedAdapter struct {
	inner  Adapter
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedAdapter wraps inner with result memoization.
func NewCachedAdapter(inner Adapter, c cache.Cache, ttl time.Duration, logger *zap.Logger) *CachedAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CachedAdapter{
		inner:  inner,
		cache:  c,
		ttl:    ttl,
		logger: logger.With(zap.String("tool", inner.Name())),
	}
}

func (c *CachedAdapter) Name() string { return c.inner.Name() }

func (c *CachedAdapter) Search(ctx context.Context, query string) ([]Result, error) {
	key := c.cacheKey(query)

	var cached []Result
	if err := cache.GetJSON(ctx, c.cache, key, &cached); err == nil {
		c.logger.Debug("tool cache hit", zap.String("query", query))
		return cached, nil
	} else if !cache.IsCacheMiss(err) {
		// A broken cache never blocks research.
		c.logger.Warn("tool cache read failed", zap.Error(err))
	}

	results, err := c.inner.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, c.cache, key, results, c.ttl); err != nil {
		c.logger.Warn("tool cache write failed", zap.Error(err))
	}

	return results, nil
}

func (c *CachedAdapter) cacheKey(query string) string {
	sum := sha256.Sum256([]byte(c.inner.Name() + "\x00" + query))
	return "tool:" + hex.EncodeToString(sum[:16])
}
