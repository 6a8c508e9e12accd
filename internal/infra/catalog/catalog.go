// Package catalog is the built-in table of known models — the orchestrator's
// "model phonebook" mapping friendly names to ModelConfig rows the Model
// Manager can load, independent of how those weights reach disk.
package catalog

import "github.com/tutu-network/tutu/internal/domain"

// Catalog is the built-in list of known models spanning all three
// residency tiers, with enough tag/specialization variety to exercise the
// Model Manager's complexity-based selection buckets.
var Catalog = []domain.ModelConfig{
	{
		ID:              "smollm2",
		Name:            "SmolLM2 360M",
		RAMBytes:        500_000_000,
		Tier:            domain.TierAlwaysOn,
		Tags:            []string{"chat", "general"},
		Priority:        domain.ModelCritical,
		TokensPerSecond: 60,
		ContextLength:   2048,
	},
	{
		ID:              "qwen2.5",
		Name:            "Qwen 2.5 1.5B",
		RAMBytes:        1_200_000_000,
		Tier:            domain.TierAlwaysOn,
		Tags:            []string{"chat", "general", "multilingual"},
		Priority:        domain.ModelHigh,
		TokensPerSecond: 45,
		ContextLength:   4096,
	},
	{
		ID:              "phi3",
		Name:            "Phi-3 Mini 3.8B",
		RAMBytes:        2_600_000_000,
		Tier:            domain.TierFrequent,
		Tags:            []string{"chat", "reasoning", "logic", "math"},
		Priority:        domain.ModelHigh,
		TokensPerSecond: 28,
		ContextLength:   4096,
		Specialization:  []string{"reasoning"},
	},
	{
		ID:              "llama3:1b",
		Name:            "Llama 3.2 1B",
		RAMBytes:        900_000_000,
		Tier:            domain.TierFrequent,
		Tags:            []string{"chat", "vision", "visual"},
		Priority:        domain.ModelMedium,
		TokensPerSecond: 50,
		ContextLength:   4096,
		Specialization:  []string{"vision"},
	},
	{
		ID:              "gemma2",
		Name:            "Gemma 2 2B",
		RAMBytes:        1_800_000_000,
		Tier:            domain.TierFrequent,
		Tags:            []string{"chat", "reasoning"},
		Priority:        domain.ModelMedium,
		TokensPerSecond: 35,
		ContextLength:   8192,
	},
	{
		ID:              "llama3:8b",
		Name:            "Llama 3.1 8B",
		RAMBytes:        4_900_000_000,
		Tier:            domain.TierOnDemand,
		Tags:            []string{"chat", "code", "programming", "debug", "refactor"},
		Priority:        domain.ModelMedium,
		TokensPerSecond: 14,
		ContextLength:   8192,
		Specialization:  []string{"code"},
	},
	{
		ID:              "mistral",
		Name:            "Mistral 7B Instruct",
		RAMBytes:        4_400_000_000,
		Tier:            domain.TierOnDemand,
		Tags:            []string{"chat", "general", "long-context"},
		Priority:        domain.ModelMedium,
		TokensPerSecond: 16,
		ContextLength:   32_768,
		Specialization:  []string{"long-context"},
	},
	{
		ID:              "llama3:70b",
		Name:            "Llama 3.1 70B",
		RAMBytes:        40_000_000_000,
		Tier:            domain.TierOnDemand,
		Tags:            []string{"chat", "reasoning", "analysis", "long-context"},
		Priority:        domain.ModelLow,
		TokensPerSecond: 3,
		ContextLength:   128_000,
		Specialization:  []string{"long-context"},
	},
}

// Lookup finds a catalog entry by id. Returns nil if not found.
func Lookup(id string) *domain.ModelConfig {
	for i := range Catalog {
		if Catalog[i].ID == id {
			return &Catalog[i]
		}
	}
	return nil
}

// ByTier returns every catalog entry in the given tier.
func ByTier(tier domain.Tier) []domain.ModelConfig {
	var out []domain.ModelConfig
	for _, c := range Catalog {
		if c.Tier == tier {
			out = append(out, c)
		}
	}
	return out
}
