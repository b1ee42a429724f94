package cache

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

var (
	once          sync.Once
	inmemoryCache Cache
)

// Cache is a process-wide expiring key-value store. The market data
// repository uses it to memoize candle windows between runs.
type Cache interface {
	Set(key string, value interface{}, duration time.Duration)
	Get(key string) (interface{}, bool)
	Flush()
}

type goCache struct {
	internal *cache.Cache
}

// NewCache returns the shared cache instance. The expiration and cleanup
// settings from the first call win.
func NewCache(defaultExpiration, cleanupInterval time.Duration) Cache {
	once.Do(func() {
		inmemoryCache = &goCache{
			internal: cache.New(defaultExpiration, cleanupInterval),
		}
	})
	return inmemoryCache
}

func (c *goCache) Set(key string, value interface{}, duration time.Duration) {
	c.internal.Set(key, value, duration)
}

func (c *goCache) Get(key string) (interface{}, bool) {
	return c.internal.Get(key)
}

// Flush drops every cached entry. Useful between sweep batches when the
// underlying market data may have been revised.
func (c *goCache) Flush() {
	c.internal.Flush()
}
