package mapping

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const cacheKey = "mapping"

// Cached memoises a Loader in process for ttl. Concurrent misses share one load.
type Cached struct {
	loader Loader
	cache  *cache.Cache
	group  singleflight.Group
}

// NewCached wraps loader. A non-positive ttl keeps the table until Invalidate.
func NewCached(loader Loader, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Cached{loader: loader, cache: cache.New(ttl, 2*ttl)}
}

// Load implements Loader.
func (c *Cached) Load(ctx context.Context) (*Table, error) {
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.(*Table), nil
	}
	v, err, _ := c.group.Do(cacheKey, func() (any, error) {
		table, err := c.loader.Load(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Set(cacheKey, table, cache.DefaultExpiration)
		return table, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

// Invalidate drops the memoised table.
func (c *Cached) Invalidate() {
	c.cache.Delete(cacheKey)
}
