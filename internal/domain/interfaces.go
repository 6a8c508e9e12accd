package domain

import "context"

// GenerateParams bounds a single Runtime.Generate call.
type GenerateParams struct {
	MaxTokens   int
	Temperature float64
	MaxKVSize   int
}

// Runtime is the external model-runtime collaborator: tokenizer and
// numerical kernels are out of scope, consumed only through this narrow
// interface.
type Runtime interface {
	// Load loads a model by id and returns an opaque handle pair.
	Load(ctx context.Context, modelID string) (modelHandle any, tokenizerHandle any, err error)

	// Generate produces text for a prompt against an already-loaded model.
	Generate(ctx context.Context, modelHandle, tokenizerHandle any, prompt string, params GenerateParams) (string, error)

	// CachePrompt materializes a precomputed prefix artifact at path.
	CachePrompt(ctx context.Context, modelHandle, tokenizerHandle any, prompt string, path string) error

	// ClearCache is an optional hint to release runtime-internal scratch.
	ClearCache()

	// Unload releases a loaded model's resources.
	Unload(ctx context.Context, modelHandle any) error
}

// Probe is a platform thermal/power collaborator. Sample must be bounded to
// a short timeout by the caller (default 3s) and must not be invoked
// concurrently with itself.
type Probe interface {
	Name() string
	Sample(ctx context.Context) (ThermalReading, error)
}

// QueueStats summarizes the Scheduler's current queue occupancy.
type QueueStats struct {
	PerPrioritySize map[Priority]int
	Pending         int
	InFlightBatch   int
}

// PerfStats summarizes the Scheduler's lifetime throughput counters.
type PerfStats struct {
	TotalRequests       int64
	TotalBatches        int64
	Failed              int64
	TimedOut            int64
	SuccessRate         float64
	AvgBatchSize        float64
	AvgProcessingTimeMs float64
	ByPriority          map[Priority]int64
}

// ModelSnapshot describes one loaded model's standing for Snapshot().
type ModelSnapshot struct {
	Name     string
	LastUsed int64 // unix millis
	UseCount int64
	Tier     Tier
}

// ManagerSnapshot is the Model Manager's Snapshot() result.
type ManagerSnapshot struct {
	MemoryPressure float64
	PerModel       []ModelSnapshot
}
