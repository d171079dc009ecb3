package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// cacheItem guarda el valor y el tiempo de expiración.
type cacheItem struct {
	value     []byte // Guardamos los bytes para simular la serialización, igual que Redis.
	expiresAt time.Time
}

// InMemoryCache implementa Store con mapas en memoria. Se usa sin REDIS_ADDR y en tests.
type InMemoryCache struct {
	mu         sync.RWMutex
	store      map[string]cacheItem
	counters   map[string]int64
	defaultTTL time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
}

var _ Store = (*InMemoryCache)(nil)

// NewInMemoryCache crea la caché y arranca la limpieza periódica de claves expiradas.
func NewInMemoryCache(defaultTTL, cleanupInterval time.Duration) *InMemoryCache {
	c := &InMemoryCache{
		store:      make(map[string]cacheItem),
		counters:   make(map[string]int64),
		defaultTTL: defaultTTL,
		stopChan:   make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.store[key]
	if !ok {
		return false, nil
	}
	if time.Now().UTC().After(item.expiresAt) {
		return false, nil // Expirado, se trata como un cache miss.
	}
	if err := json.Unmarshal(item.value, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *InMemoryCache) Set(ctx context.Context, key string, val interface{}, ttlSecs int) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}

	ttl := c.defaultTTL
	if ttlSecs > 0 {
		ttl = time.Duration(ttlSecs) * time.Second
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = cacheItem{value: data, expiresAt: time.Now().UTC().Add(ttl)}
	return nil
}

func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	delete(c.counters, key)
	return nil
}

func (c *InMemoryCache) SetCount(ctx context.Context, key string, value int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key] = value
	return nil
}

func (c *InMemoryCache) DecrIfExists(ctx context.Context, key string, by int64) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.counters[key]
	if !ok {
		return 0, false, nil
	}
	v -= by
	c.counters[key] = v
	return v, true, nil
}

func (c *InMemoryCache) IncrIfExists(ctx context.Context, key string, by int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.counters[key]; ok {
		c.counters[key] = v + by
	}
	return nil
}

// Stop detiene la goroutine de limpieza.
func (c *InMemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *InMemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now().UTC()
			c.mu.Lock()
			for key, item := range c.store {
				if now.After(item.expiresAt) {
					delete(c.store, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopChan:
			return
		}
	}
}
