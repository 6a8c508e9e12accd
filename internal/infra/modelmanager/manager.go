// Package modelmanager implements the Tiered Model Manager: a memory-budgeted
// cache of loaded models spanning three residency tiers, with LRU+priority
// eviction and complexity-based model selection.
//
// Grounded on the teacher's internal/infra/engine.Pool (hash map + container/list
// LRU, O(1) acquire/evict, reference-free here since the manager itself owns
// the sole handle) generalized from one flat LRU into three tiers ranked by
// (priority_rank, last_used) on eviction.
package modelmanager

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/events"
	"github.com/tutu-network/tutu/internal/infra/metrics"
)

// ThermalProvider is the narrow slice of the Thermal Guard the Model
// Manager depends on: whether the current thermal state permits loading a
// non-ALWAYS_ON model.
type ThermalProvider interface {
	Recommendation() domain.Recommendation
}

// Manager tracks loaded models against a global memory budget, resolves task
// descriptions to model names, and evicts under pressure with a documented,
// stable policy.
type Manager struct {
	mu      sync.Mutex
	runtime domain.Runtime
	configs map[string]domain.ModelConfig // by ModelConfig.ID
	loaded  map[string]*domain.LoadedModel
	budget  domain.MemoryBudget
	pub     events.Publisher
	thermal ThermalProvider // nil disables the EMERGENCY load guard

	loadFailures atomic.Int64
}

// New builds a Manager over the given static catalog, with a hard global
// memory ceiling of maxBytes.
func New(runtime domain.Runtime, catalog []domain.ModelConfig, maxBytes int64) *Manager {
	configs := make(map[string]domain.ModelConfig, len(catalog))
	for _, c := range catalog {
		configs[c.ID] = c
	}
	return &Manager{
		runtime: runtime,
		configs: configs,
		loaded:  make(map[string]*domain.LoadedModel),
		budget:  domain.MemoryBudget{MaxBytes: maxBytes},
		pub:     events.NoopPublisher{},
	}
}

// SetPublisher attaches an optional outbound event publisher for load/evict
// notifications. Safe to call before Bootstrap; nil restores the no-op
// default.
func (m *Manager) SetPublisher(pub events.Publisher) {
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	m.mu.Lock()
	m.pub = pub
	m.mu.Unlock()
}

// SetThermalProvider attaches the Thermal Guard's recommendation so Load
// refuses non-ALWAYS_ON models while thermal state is EMERGENCY. nil
// disables the guard, permitting all loads regardless of thermal state.
func (m *Manager) SetThermalProvider(tp ThermalProvider) {
	m.mu.Lock()
	m.thermal = tp
	m.mu.Unlock()
}

// ConfigFor looks up a catalog model's static config by name without
// loading it, used by callers that need to know a model's tier ahead of
// dispatch (e.g. to classify a request against the thermal guard).
func (m *Manager) ConfigFor(name string) (domain.ModelConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[name]
	return cfg, ok
}

// Bootstrap schedules a load of every ALWAYS_ON model in the catalog.
// Failure to load any one of them is logged but never aborts bootstrap; the
// manager continues in a degraded mode.
func (m *Manager) Bootstrap(ctx context.Context) {
	m.mu.Lock()
	var alwaysOn []string
	for id, cfg := range m.configs {
		if cfg.Tier == domain.TierAlwaysOn {
			alwaysOn = append(alwaysOn, id)
		}
	}
	m.mu.Unlock()

	sort.Strings(alwaysOn) // deterministic bootstrap order
	for _, id := range alwaysOn {
		if ok := m.Load(ctx, id); !ok {
			log.Printf("modelmanager: bootstrap failed to load ALWAYS_ON model %q, continuing degraded", id)
		}
	}
}

// Load is idempotent: if name is already loaded, it touches LastUsed and
// returns true. Otherwise it verifies capacity (evicting if necessary),
// invokes the runtime, and accounts the new model's memory. Returns false if
// the budget cannot accommodate the model even after eviction, or if the
// model is not ALWAYS_ON and thermal state forbids large loads.
func (m *Manager) Load(ctx context.Context, name string) bool {
	m.mu.Lock()
	if lm, ok := m.loaded[name]; ok {
		lm.LastUsed = time.Now()
		lm.UseCount++
		m.mu.Unlock()
		return true
	}
	cfg, ok := m.configs[name]
	if !ok {
		m.mu.Unlock()
		log.Printf("modelmanager: unknown model %q", name)
		return false
	}

	if cfg.Tier != domain.TierAlwaysOn && m.thermal != nil && !m.thermal.Recommendation().CanLoadLarge {
		m.mu.Unlock()
		log.Printf("modelmanager: refusing to load %q: thermal state forbids non-ALWAYS_ON loads", name)
		return false
	}

	if !m.makeRoomLocked(cfg) {
		m.mu.Unlock()
		m.loadFailures.Add(1)
		metrics.ModelLoadsTotal.WithLabelValues("failure").Inc()
		return false
	}
	// Reserve the bytes now, while still holding the lock, so a concurrent
	// Load of a different model can't also pass makeRoomLocked's capacity
	// check against bytes this call is about to commit.
	m.budget.UsedBytes += cfg.RAMBytes
	m.mu.Unlock()

	modelHandle, tokenizerHandle, err := m.runtime.Load(ctx, cfg.ID)
	if err != nil {
		m.mu.Lock()
		m.budget.UsedBytes -= cfg.RAMBytes
		m.mu.Unlock()
		m.loadFailures.Add(1)
		metrics.ModelLoadsTotal.WithLabelValues("failure").Inc()
		log.Printf("modelmanager: runtime load failed for %q: %v", name, err)
		return false
	}

	m.mu.Lock()
	if _, already := m.loaded[name]; already {
		// Lost a race with a concurrent Load of the same name; release our
		// redundant reservation and runtime handle.
		m.budget.UsedBytes -= cfg.RAMBytes
		m.mu.Unlock()
		_ = m.runtime.Unload(ctx, modelHandle)
		return true
	}
	now := time.Now()
	m.loaded[name] = &domain.LoadedModel{
		Config:          cfg,
		Handle:          modelHandle,
		TokenizerHandle: tokenizerHandle,
		LoadedAt:        now,
		LastUsed:        now,
		UseCount:        1,
	}
	m.refreshGaugesLocked()
	pub := m.pub
	m.mu.Unlock()
	metrics.ModelLoadsTotal.WithLabelValues("success").Inc()
	pub.Publish(ctx, "tutu.model.loaded", map[string]any{"model": name, "tier": string(cfg.Tier)})
	return true
}

// refreshGaugesLocked recomputes the Prometheus gauges for memory pressure
// and per-tier loaded-model counts. Caller must hold m.mu.
func (m *Manager) refreshGaugesLocked() {
	metrics.MemoryPressure.Set(m.budget.Pressure())
	counts := map[domain.Tier]int{domain.TierAlwaysOn: 0, domain.TierFrequent: 0, domain.TierOnDemand: 0}
	for _, lm := range m.loaded {
		counts[lm.Config.Tier]++
	}
	for tier, n := range counts {
		metrics.ModelsLoaded.WithLabelValues(string(tier)).Set(float64(n))
	}
}

// Get is a non-loading lookup; it touches LastUsed on hit.
func (m *Manager) Get(name string) (domain.LoadedModel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lm, ok := m.loaded[name]
	if !ok {
		return domain.LoadedModel{}, false
	}
	lm.LastUsed = time.Now()
	return *lm, true
}

// Resolve picks a model name for a task description via complexity-based
// selection, then attempts Load against candidates in bucket order. On total
// failure it falls back to scanning currently-loaded models for a tag match.
func (m *Manager) Resolve(ctx context.Context, taskDescription string, contextLength int) (string, bool) {
	score := domain.ComplexityScore(taskDescription, contextLength)
	bucket := domain.SelectBucket(score)

	for _, name := range m.candidatesForBucket(bucket, taskDescription, contextLength) {
		if m.Load(ctx, name) {
			return name, true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, lm := range m.loaded {
		if matchesKeywords(lm.Config, taskDescription) {
			lm.LastUsed = time.Now()
			return name, true
		}
	}
	return "", false
}

// candidatesForBucket returns the ordered list of model ids to try for the
// given bucket, biasing order by the task's stated preferences.
func (m *Manager) candidatesForBucket(bucket domain.SelectionBucket, taskDescription string, contextLength int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	tier := domain.Tier(bucket)
	var tagged, rest []string
	preferVision := bucket == domain.BucketFrequent && domain.PrefersVision(taskDescription)
	preferCode := bucket == domain.BucketOnDemand && domain.PrefersCode(taskDescription)
	preferLongContext := bucket == domain.BucketOnDemand && !preferCode && contextLength > 50_000

	for id, cfg := range m.configs {
		if cfg.Tier != tier {
			continue
		}
		switch {
		case preferVision && cfg.HasTag("vision"):
			tagged = append(tagged, id)
		case preferCode && cfg.HasTag("code"):
			tagged = append(tagged, id)
		case preferLongContext && cfg.HasTag("long-context"):
			tagged = append(tagged, id)
		default:
			rest = append(rest, id)
		}
	}
	sort.Strings(tagged)
	sort.Strings(rest)
	return append(tagged, rest...)
}

func matchesKeywords(cfg domain.ModelConfig, taskDescription string) bool {
	if domain.PrefersVision(taskDescription) && cfg.HasTag("vision") {
		return true
	}
	if domain.PrefersCode(taskDescription) && cfg.HasTag("code") {
		return true
	}
	return false
}

// Evict force-ejects name. It refuses an ALWAYS_ON model unless pressure has
// reached CRITICAL.
func (m *Manager) Evict(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictLocked(name)
}

func (m *Manager) evictLocked(name string) bool {
	lm, ok := m.loaded[name]
	if !ok {
		return false
	}
	if lm.Config.Tier == domain.TierAlwaysOn && !m.budget.AtLeastCritical() {
		return false
	}
	if err := m.runtime.Unload(context.Background(), lm.Handle); err != nil {
		log.Printf("modelmanager: evict %q: runtime unload failed: %v", name, err)
		return false
	}
	delete(m.loaded, name)
	m.budget.UsedBytes -= lm.Config.RAMBytes
	metrics.ModelEvictionsTotal.WithLabelValues(string(lm.Config.Tier)).Inc()
	m.refreshGaugesLocked()
	pub, tier := m.pub, lm.Config.Tier
	go pub.Publish(context.Background(), "tutu.model.evicted", map[string]any{"model": name, "tier": string(tier)})
	return true
}

// makeRoomLocked implements the eviction policy for making room for cfg.
// Must be called with m.mu held.
func (m *Manager) makeRoomLocked(cfg domain.ModelConfig) bool {
	free := m.budget.MaxBytes - m.budget.UsedBytes
	deficit := cfg.RAMBytes - free
	if deficit <= 0 {
		return true
	}

	type candidate struct {
		name string
		rank int
		last time.Time
		ram  int64
	}
	var candidates []candidate
	for name, lm := range m.loaded {
		if lm.Config.Tier == domain.TierAlwaysOn && !m.budget.AtLeastCritical() {
			continue
		}
		candidates = append(candidates, candidate{
			name: name,
			rank: lm.Config.Priority.Rank(),
			last: lm.LastUsed,
			ram:  lm.Config.RAMBytes,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].rank != candidates[j].rank {
			return candidates[i].rank < candidates[j].rank
		}
		return candidates[i].last.Before(candidates[j].last)
	})

	var evicted int64
	for _, c := range candidates {
		if evicted >= deficit {
			break
		}
		if m.evictLocked(c.name) {
			evicted += c.ram
		}
	}
	return evicted >= deficit
}

// Snapshot reports current memory pressure and per-model standing.
func (m *Manager) Snapshot() domain.ManagerSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := domain.ManagerSnapshot{
		MemoryPressure: m.budget.Pressure(),
		PerModel:       make([]domain.ModelSnapshot, 0, len(m.loaded)),
	}
	for name, lm := range m.loaded {
		snap.PerModel = append(snap.PerModel, domain.ModelSnapshot{
			Name:     name,
			LastUsed: lm.LastUsed.UnixMilli(),
			UseCount: lm.UseCount,
			Tier:     lm.Config.Tier,
		})
	}
	sort.Slice(snap.PerModel, func(i, j int) bool { return snap.PerModel[i].Name < snap.PerModel[j].Name })
	return snap
}

// LoadFailures returns the lifetime count of failed Load attempts.
func (m *Manager) LoadFailures() int64 {
	return m.loadFailures.Load()
}

// Budget returns a snapshot of the current memory budget.
func (m *Manager) Budget() domain.MemoryBudget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budget
}
