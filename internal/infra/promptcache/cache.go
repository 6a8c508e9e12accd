// Package promptcache implements the two-level (memory + disk) Prompt
// Cache: a bounded in-memory LRU fronting a persistent on-disk store of
// precomputed prompt-prefix artifacts.
package promptcache

import (
	"container/list"
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/infra/metrics"
)

const (
	// DefaultMaxInMemory bounds the in-memory working set.
	DefaultMaxInMemory = 50
	// DefaultMaxAge is the sweep threshold for on-disk artifacts.
	DefaultMaxAge = 30 * 24 * time.Hour
)

// Materializer calls the runtime's "cache prompt" primitive to produce the
// on-disk artifact at destPath. A narrow seam so this package never depends
// on the full domain.Runtime interface or the Model Manager.
type Materializer interface {
	CachePrompt(ctx context.Context, modelID, promptText, destPath string) error
}

// Config controls Cache behavior; zero values fall back to spec defaults.
type Config struct {
	RootDir     string
	MaxInMemory int
	MaxAge      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxInMemory <= 0 {
		c.MaxInMemory = DefaultMaxInMemory
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	return c
}

// Cache is the Prompt Cache. A single lock protects the in-memory index and
// LRU list; disk I/O runs outside that lock.
type Cache struct {
	cfg          Config
	store        *Store
	materializer Materializer

	mu    sync.Mutex
	lru   *list.List // front = most recently used
	index map[string]*list.Element

	hits   atomic.Int64
	misses atomic.Int64
}

// New builds a Cache rooted at cfg.RootDir. On Put, a non-nil materializer
// is run first against the artifact path; Put then always writes the prompt
// text itself as the stored artifact, replacing what the materializer wrote.
// materializer may be nil (suitable for mock runtimes and tests).
func New(cfg Config, materializer Materializer) (*Cache, error) {
	cfg = cfg.withDefaults()
	store, err := NewStore(cfg.RootDir)
	if err != nil {
		return nil, err
	}
	return &Cache{
		cfg:          cfg,
		store:        store,
		materializer: materializer,
		lru:          list.New(),
		index:        make(map[string]*list.Element),
	}, nil
}

// Put materializes the artifact and stores it on disk, then updates the
// in-memory record. Returns false on runtime/storage failure — it never
// panics or returns an error the caller must handle specially. Two
// concurrent Puts for the same key: the last write-temp-then-rename to
// complete wins.
func (c *Cache) Put(ctx context.Context, key, modelID, promptText string) bool {
	payload := []byte(promptText)

	if c.materializer != nil {
		if err := c.materializer.CachePrompt(ctx, modelID, promptText, c.store.ArtifactPath(key)); err != nil {
			log.Printf("[promptcache] materialize %q failed: %v", key, err)
			return false
		}
	}

	if err := c.store.Write(key, payload, modelID); err != nil {
		log.Printf("[promptcache] write %q failed: %v", key, err)
		return false
	}

	now := time.Now()
	entry := &domain.CacheEntry{
		Key:          key,
		Payload:      payload,
		ModelID:      modelID,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
		ByteSize:     int64(len(payload)),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.lru.Remove(el)
	}
	el := c.lru.PushFront(entry)
	c.index[key] = el
	c.evictLocked()
	return true
}

// Get looks up key. On a memory hit it touches LastAccessed, increments
// AccessCount, and promotes the entry to MRU. On a disk-only hit it
// hydrates the in-memory record first. Returns the cached prompt text, an
// opaque artifact handle (its on-disk path), and true; or "", "", false on
// a full miss.
func (c *Cache) Get(ctx context.Context, key string) (text string, artifactHandle string, ok bool) {
	c.mu.Lock()
	if el, found := c.index[key]; found {
		entry := el.Value.(*domain.CacheEntry)
		entry.LastAccessed = time.Now()
		entry.AccessCount++
		c.lru.MoveToFront(el)
		text = string(entry.Payload)
		c.mu.Unlock()
		c.hits.Add(1)
		metrics.CacheHits.Inc()
		return text, c.store.ArtifactPath(key), true
	}
	c.mu.Unlock()

	payload, meta, err := c.store.Read(key)
	if err != nil {
		c.misses.Add(1)
		metrics.CacheMisses.Inc()
		return "", "", false
	}

	now := time.Now()
	entry := &domain.CacheEntry{
		Key:          key,
		Payload:      payload,
		ModelID:      meta.ModelID,
		CreatedAt:    time.UnixMilli(meta.CachedAtEpochMs),
		LastAccessed: now,
		AccessCount:  1,
		ByteSize:     int64(len(payload)),
	}

	c.mu.Lock()
	if el, found := c.index[key]; found {
		// Raced with a concurrent hydrate/Put; keep the existing record.
		existing := el.Value.(*domain.CacheEntry)
		existing.LastAccessed = now
		existing.AccessCount++
		c.lru.MoveToFront(el)
	} else {
		el := c.lru.PushFront(entry)
		c.index[key] = el
		c.evictLocked()
	}
	c.mu.Unlock()

	c.hits.Add(1)
	metrics.CacheHits.Inc()
	return string(payload), meta.ArtifactPath, true
}

// Invalidate removes both the in-memory and on-disk copies of key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.lru.Remove(el)
		delete(c.index, key)
	}
	metrics.CacheEntries.Set(float64(len(c.index)))
	c.mu.Unlock()

	if err := c.store.Remove(key); err != nil {
		log.Printf("[promptcache] invalidate %q: disk remove failed: %v", key, err)
	}
}

// Sweep removes on-disk artifacts older than maxAge and purges the
// corresponding in-memory records.
func (c *Cache) Sweep(maxAge time.Duration) {
	removed, err := c.store.Sweep(maxAge)
	if err != nil {
		log.Printf("[promptcache] sweep failed: %v", err)
		return
	}
	if len(removed) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range removed {
		if el, ok := c.index[key]; ok {
			c.lru.Remove(el)
			delete(c.index, key)
		}
	}
	metrics.CacheEntries.Set(float64(len(c.index)))
}

// Stats summarizes hit/miss behavior.
func (c *Cache) Stats() domain.CacheStats {
	c.mu.Lock()
	count := len(c.index)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return domain.CacheStats{Hits: hits, Misses: misses, Count: count, HitRate: hitRate}
}

// evictLocked removes least-recently-accessed entries until the in-memory
// bound is restored. Caller must hold c.mu.
func (c *Cache) evictLocked() {
	for len(c.index) > c.cfg.MaxInMemory {
		back := c.lru.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*domain.CacheEntry)
		c.lru.Remove(back)
		delete(c.index, entry.Key)
		metrics.CacheEvictions.Inc()
	}
	metrics.CacheEntries.Set(float64(len(c.index)))
}
