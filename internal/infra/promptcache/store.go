package promptcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
)

// Store is the on-disk half of the Prompt Cache: one artifact file plus a
// ".meta.json" sidecar per key, under a configurable root directory. Writes
// go through a sibling ".tmp" file and an atomic rename, grounded on the
// teacher's blob-download write-temp-then-rename idiom.
type Store struct {
	root string
}

// NewStore roots a Store at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("promptcache: create root %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) artifactPath(key string) string {
	return filepath.Join(s.root, key+".bin")
}

func (s *Store) metaPath(key string) string {
	return filepath.Join(s.root, key+".meta.json")
}

// ArtifactPath returns the path CachePrompt should materialize into for key.
func (s *Store) ArtifactPath(key string) string {
	return s.artifactPath(key)
}

// Write persists payload and its metadata atomically. A failure here must
// leave no partial file behind.
func (s *Store) Write(key string, payload []byte, modelID string) error {
	if err := atomicWrite(s.artifactPath(key), payload); err != nil {
		return fmt.Errorf("promptcache: write artifact: %w", err)
	}

	meta := domain.CacheMeta{
		ModelID:         modelID,
		CachedAtEpochMs: time.Now().UnixMilli(),
		PromptLength:    len(payload),
		ArtifactPath:    s.artifactPath(key),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		os.Remove(s.artifactPath(key))
		return fmt.Errorf("promptcache: marshal meta: %w", err)
	}
	if err := atomicWrite(s.metaPath(key), metaBytes); err != nil {
		os.Remove(s.artifactPath(key))
		return fmt.Errorf("promptcache: write meta: %w", err)
	}
	return nil
}

// Read hydrates a key from disk. Readers tolerate a missing .meta.json by
// reporting domain.ErrCacheMiss, forcing a fresh materialization on the next
// Put.
func (s *Store) Read(key string) ([]byte, domain.CacheMeta, error) {
	metaBytes, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		return nil, domain.CacheMeta{}, domain.ErrCacheMiss
	}
	var meta domain.CacheMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, domain.CacheMeta{}, domain.ErrCacheMiss
	}
	payload, err := os.ReadFile(s.artifactPath(key))
	if err != nil {
		return nil, domain.CacheMeta{}, domain.ErrCacheMiss
	}
	return payload, meta, nil
}

// Remove deletes both files for key. Missing files are not an error.
func (s *Store) Remove(key string) error {
	err1 := os.Remove(s.artifactPath(key))
	err2 := os.Remove(s.metaPath(key))
	if err1 != nil && !os.IsNotExist(err1) {
		return err1
	}
	if err2 != nil && !os.IsNotExist(err2) {
		return err2
	}
	return nil
}

// Sweep removes every artifact whose meta is older than maxAge, returning
// the keys removed.
func (s *Store) Sweep(maxAge time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("promptcache: sweep: read dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".meta.json") {
			continue
		}
		key := strings.TrimSuffix(name, ".meta.json")

		metaBytes, err := os.ReadFile(filepath.Join(s.root, name))
		if err != nil {
			continue
		}
		var meta domain.CacheMeta
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			continue
		}
		if time.UnixMilli(meta.CachedAtEpochMs).Before(cutoff) {
			_ = s.Remove(key)
			removed = append(removed, key)
		}
	}
	return removed, nil
}

// atomicWrite writes data to a sibling ".tmp" file and renames it into
// place, so concurrent readers never observe a partial write.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
