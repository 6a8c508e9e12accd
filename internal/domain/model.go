package domain

import "time"

// Tier is a model's residency class in the Model Manager's memory budget.
type Tier string

const (
	TierAlwaysOn Tier = "ALWAYS_ON"
	TierFrequent Tier = "FREQUENT"
	TierOnDemand Tier = "ON_DEMAND"
)

// PriorityTag ranks a model for eviction ordering, independent of request
// Priority — a model's own standing, not the request that wants it.
type PriorityTag string

const (
	ModelCritical PriorityTag = "CRITICAL"
	ModelHigh     PriorityTag = "HIGH"
	ModelMedium   PriorityTag = "MEDIUM"
	ModelLow      PriorityTag = "LOW"
)

// Rank maps a model priority tag to its numeric eviction rank — lower rank
// evicted first, matching Priority.Rank's CRITICAL=4..LOW=1 scale.
func (p PriorityTag) Rank() int {
	switch p {
	case ModelCritical:
		return 4
	case ModelHigh:
		return 3
	case ModelMedium:
		return 2
	case ModelLow:
		return 1
	default:
		return 0
	}
}

// ModelConfig is a static description of an installable model, the unit the
// catalog enumerates and the Model Manager loads by name.
type ModelConfig struct {
	ID              string
	Name            string
	RAMBytes        int64
	Tier            Tier
	Tags            []string // use-case tags: "vision", "code", "reasoning", ...
	Priority        PriorityTag
	TokensPerSecond float64
	ContextLength   int
	Specialization  []string // e.g. "code", "vision", "long-context"
}

// HasTag reports whether the config carries the given use-case or
// specialization tag.
func (m ModelConfig) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	for _, t := range m.Specialization {
		if t == tag {
			return true
		}
	}
	return false
}

// LoadedModel is a ModelConfig currently resident in memory, owned
// exclusively by the Model Manager. One instance per model name at a time.
type LoadedModel struct {
	Config          ModelConfig
	Handle          any // opaque runtime model handle
	TokenizerHandle any // opaque runtime tokenizer handle
	LoadedAt        time.Time
	LastUsed        time.Time
	UseCount        int64
}
