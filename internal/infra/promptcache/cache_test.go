package promptcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

var errCacheFail = errors.New("materializer failed")

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	if cfg.RootDir == "" {
		cfg.RootDir = t.TempDir()
	}
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	if ok := c.Put(ctx, "sysA", "modelX", "the long system prompt"); !ok {
		t.Fatal("Put() = false")
	}

	text, handle, ok := c.Get(ctx, "sysA")
	if !ok {
		t.Fatal("Get() = miss, want hit")
	}
	if text != "the long system prompt" {
		t.Errorf("text = %q, want original prompt", text)
	}
	if handle == "" {
		t.Error("expected non-empty artifact handle")
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := newTestCache(t, Config{})
	if _, _, ok := c.Get(context.Background(), "nope"); ok {
		t.Error("Get() on empty cache = hit, want miss")
	}
}

func TestCache_HydratesFromDiskAfterMemoryDrop(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, Config{RootDir: dir})
	ctx := context.Background()
	c.Put(ctx, "sysA", "modelX", "hello world")

	// Simulate a process restart: a fresh Cache over the same root dir, with
	// no in-memory records.
	c2 := newTestCache(t, Config{RootDir: dir})
	text, _, ok := c2.Get(ctx, "sysA")
	if !ok {
		t.Fatal("Get() after restart = miss, want disk hydrate hit")
	}
	if text != "hello world" {
		t.Errorf("text = %q, want %q", text, "hello world")
	}
}

func TestCache_S5_HitRate(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()
	c.Put(ctx, "sysA", "modelX", "long system prompt text")

	for i := 0; i < 100; i++ {
		if _, _, ok := c.Get(ctx, "sysA"); !ok {
			t.Fatalf("Get() iteration %d = miss", i)
		}
	}

	stats := c.Stats()
	if stats.HitRate < 0.99 {
		t.Errorf("HitRate = %v, want >= 0.99", stats.HitRate)
	}
}

func TestCache_InvalidateRemovesBothCopies(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, Config{RootDir: dir})
	ctx := context.Background()
	c.Put(ctx, "sysA", "modelX", "text")

	c.Invalidate("sysA")

	if _, _, ok := c.Get(ctx, "sysA"); ok {
		t.Error("Get() after Invalidate() = hit, want miss")
	}
	if _, err := os.Stat(filepath.Join(dir, "sysA.bin")); !os.IsNotExist(err) {
		t.Error("artifact file still exists after Invalidate()")
	}
}

func TestCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	c := newTestCache(t, Config{MaxInMemory: 2})
	ctx := context.Background()

	c.Put(ctx, "a", "m", "a-text")
	c.Put(ctx, "b", "m", "b-text")
	c.Get(ctx, "a") // touch a, making b the LRU victim
	c.Put(ctx, "c", "m", "c-text")

	c.mu.Lock()
	_, hasB := c.index["b"]
	c.mu.Unlock()
	if hasB {
		t.Error("expected b to be evicted as least-recently-used")
	}
}

func TestCache_SweepPurgesOldEntries(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()
	c.Put(ctx, "old", "m", "stale")

	c.Sweep(-time.Second) // everything is "older" than now-1s

	if _, _, ok := c.Get(ctx, "old"); ok {
		t.Error("Get() after Sweep() = hit, want miss")
	}
}

func TestCache_ConcurrentPutSameKeyLastWriteWins(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Put(ctx, "k", "m", "value")
		}(i)
	}
	wg.Wait()

	text, _, ok := c.Get(ctx, "k")
	if !ok || text != "value" {
		t.Errorf("Get() = (%q, %v), want (value, true)", text, ok)
	}
}

type failingMaterializer struct{}

func (failingMaterializer) CachePrompt(ctx context.Context, modelID, promptText, destPath string) error {
	return errCacheFail
}

func TestCache_MaterializerFailureLeavesCacheUnchanged(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{RootDir: dir}
	c, err := New(cfg, failingMaterializer{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if ok := c.Put(context.Background(), "k", "m", "text"); ok {
		t.Error("Put() = true, want false on materializer failure")
	}
	if _, _, ok := c.Get(context.Background(), "k"); ok {
		t.Error("Get() after failed Put() = hit, want miss")
	}
}
