// internal/cache/cache.go

package cache

import (
	"encoding/json"
	"errors"
	"log"
	"time"
)

// ErrNotFound is returned by Store implementations when a key is absent or
// its entry has expired.
var ErrNotFound = errors.New("cache: entry not found")

// Store is the persistence backend for cached results. Implementations must
// treat expired entries as absent and must be safe for concurrent use.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

// ResultCache stores computed subtask results keyed by fingerprint. Backend
// failures never surface to the caller: a broken cache degrades to a cache
// that always misses, and the engine simply recomputes.
type ResultCache struct {
	store Store
}

// New creates a result cache over the given store.
func New(store Store) *ResultCache {
	return &ResultCache{store: store}
}

// Get returns the cached result for key. The second return value reports
// whether a usable entry was found.
func (c *ResultCache) Get(key string) (map[string]interface{}, bool) {
	data, err := c.store.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("Warning: cache get for %s failed: %v", key, err)
		}
		return nil, false
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		log.Printf("Warning: dropping corrupt cache entry %s: %v", key, err)
		if err := c.store.Delete(key); err != nil {
			log.Printf("Warning: failed to delete corrupt cache entry %s: %v", key, err)
		}
		return nil, false
	}
	return result, true
}

// Put stores a result under key with the given time-to-live. Best effort:
// failures are logged and swallowed.
func (c *ResultCache) Put(key string, result map[string]interface{}, ttl time.Duration) {
	data, err := json.Marshal(result)
	if err != nil {
		log.Printf("Warning: failed to marshal result for cache key %s: %v", key, err)
		return
	}
	if err := c.store.Put(key, data, ttl); err != nil {
		log.Printf("Warning: cache put for %s failed: %v", key, err)
	}
}

// Invalidate removes the entry for key, if any.
func (c *ResultCache) Invalidate(key string) {
	if err := c.store.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("Warning: cache invalidate for %s failed: %v", key, err)
	}
}
