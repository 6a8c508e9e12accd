package domain

import "time"

// CacheEntry is one Prompt Cache record: exactly one per key, eviction
// removes both the in-memory record and its on-disk artifact atomically.
type CacheEntry struct {
	Key          string
	Payload      []byte // opaque prefix artifact handed to the runtime
	ModelID      string
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	ByteSize     int64
}

// CacheMeta is the small JSON sidecar persisted alongside each on-disk
// artifact as "<key>.meta.json".
type CacheMeta struct {
	ModelID        string `json:"model_id"`
	CachedAtEpochMs int64 `json:"cached_at_epoch_ms"`
	PromptLength   int    `json:"prompt_length"`
	ArtifactPath   string `json:"artifact_path"`
}

// CacheStats summarizes hit/miss behavior for observability.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Count   int
	HitRate float64
}
