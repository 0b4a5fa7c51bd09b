package cache

import (
	"context"
	"sync"
	"time"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe in-memory cache with TTL support. Expired entries
// are invisible to Get and removed by a background sweep until Stop.
type Cache[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]item[V]
	defaultTTL time.Duration
	now        func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a cache whose entries live for defaultTTL unless set with
// SetWithTTL.
func New[K comparable, V any](defaultTTL time.Duration) *Cache[K, V] {
	c := &Cache[K, V]{
		items:      make(map[K]item[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	interval := defaultTTL / 2
	if interval <= 0 {
		interval = time.Second
	}
	go c.cleanup(interval)

	return c
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || !c.now().Before(it.expiresAt) {
		var zero V
		return zero, false
	}
	return it.value, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result. Errors are not cached.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	c.Set(key, value)
	return value, nil
}

// Size counts entries including expired ones not yet swept.
func (c *Cache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache[K, V]) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, it := range c.items {
		if !now.Before(it.expiresAt) {
			delete(c.items, key)
		}
	}
}

func (c *Cache[K, V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

// Stop ends the background sweep. Safe to call more than once.
func (c *Cache[K, V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
