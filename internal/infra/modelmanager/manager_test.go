package modelmanager

import (
	"context"
	"testing"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/runtime"
)

func testCatalog() []domain.ModelConfig {
	return []domain.ModelConfig{
		{ID: "tiny", Name: "tiny", RAMBytes: 1 << 20, Tier: domain.TierAlwaysOn, Priority: domain.ModelMedium},
		{ID: "mid", Name: "mid", RAMBytes: 2 << 20, Tier: domain.TierFrequent, Priority: domain.ModelHigh, Tags: []string{"vision"}},
		{ID: "big", Name: "big", RAMBytes: 4 << 20, Tier: domain.TierOnDemand, Priority: domain.ModelLow, Tags: []string{"code"}},
		{ID: "huge", Name: "huge", RAMBytes: 8 << 20, Tier: domain.TierOnDemand, Priority: domain.ModelLow, Tags: []string{"long-context"}},
	}
}

func TestLoad_IsIdempotent(t *testing.T) {
	m := New(runtime.NewMockRuntime(), testCatalog(), 100<<20)
	ctx := context.Background()

	if !m.Load(ctx, "tiny") {
		t.Fatal("Load() = false on first call")
	}
	lm1, _ := m.Get("tiny")
	if !m.Load(ctx, "tiny") {
		t.Fatal("Load() = false on second (idempotent) call")
	}
	lm2, _ := m.Get("tiny")
	if lm2.UseCount <= lm1.UseCount {
		t.Errorf("UseCount did not increase on repeat Load: %d -> %d", lm1.UseCount, lm2.UseCount)
	}
}

func TestLoad_UnknownModelFails(t *testing.T) {
	m := New(runtime.NewMockRuntime(), testCatalog(), 100<<20)
	if m.Load(context.Background(), "nope") {
		t.Error("Load() of unknown model = true, want false")
	}
}

func TestLoad_RuntimeFailureIncrementsCounter(t *testing.T) {
	rt := runtime.NewMockRuntime()
	rt.FailModel("tiny")
	m := New(rt, testCatalog(), 100<<20)

	if m.Load(context.Background(), "tiny") {
		t.Error("Load() = true, want false on runtime failure")
	}
	if m.LoadFailures() != 1 {
		t.Errorf("LoadFailures() = %d, want 1", m.LoadFailures())
	}
}

func TestGet_MissReturnsFalse(t *testing.T) {
	m := New(runtime.NewMockRuntime(), testCatalog(), 100<<20)
	if _, ok := m.Get("tiny"); ok {
		t.Error("Get() before Load = hit, want miss")
	}
}

func TestEvict_RefusesAlwaysOnBelowCritical(t *testing.T) {
	m := New(runtime.NewMockRuntime(), testCatalog(), 100<<20)
	m.Load(context.Background(), "tiny")

	if m.Evict("tiny") {
		t.Error("Evict() of ALWAYS_ON model below CRITICAL pressure = true, want false")
	}
	if _, ok := m.Get("tiny"); !ok {
		t.Error("ALWAYS_ON model was evicted, want still loaded")
	}
}

func TestEvict_AllowsAlwaysOnAtCriticalPressure(t *testing.T) {
	// max_bytes sized so that loading tiny alone crosses CRITICAL (0.95).
	m := New(runtime.NewMockRuntime(), testCatalog(), (1<<20)+1000)
	ctx := context.Background()
	m.Load(ctx, "tiny")

	if !m.budget.AtLeastCritical() {
		t.Skip("fixture does not reach CRITICAL pressure as constructed")
	}
	if !m.Evict("tiny") {
		t.Error("Evict() of ALWAYS_ON at CRITICAL pressure = false, want true")
	}
}

func TestMakeRoom_EvictsLowerPriorityFirst(t *testing.T) {
	catalog := []domain.ModelConfig{
		{ID: "low", Name: "low", RAMBytes: 5 << 20, Tier: domain.TierFrequent, Priority: domain.ModelLow},
		{ID: "high", Name: "high", RAMBytes: 5 << 20, Tier: domain.TierFrequent, Priority: domain.ModelHigh},
		{ID: "newcomer", Name: "newcomer", RAMBytes: 5 << 20, Tier: domain.TierFrequent, Priority: domain.ModelMedium},
	}
	m := New(runtime.NewMockRuntime(), catalog, 11<<20)
	ctx := context.Background()
	m.Load(ctx, "low")
	m.Load(ctx, "high")

	if !m.Load(ctx, "newcomer") {
		t.Fatal("Load(newcomer) = false, want true after evicting low-priority model")
	}
	if _, ok := m.Get("low"); ok {
		t.Error("low-priority model was not evicted to make room")
	}
	if _, ok := m.Get("high"); !ok {
		t.Error("high-priority model was evicted, want preserved")
	}
}

func TestLoad_FailsWhenBudgetCannotAccommodate(t *testing.T) {
	catalog := []domain.ModelConfig{
		{ID: "a", Name: "a", RAMBytes: 5 << 20, Tier: domain.TierFrequent, Priority: domain.ModelCritical},
		{ID: "b", Name: "b", RAMBytes: 100 << 20, Tier: domain.TierFrequent, Priority: domain.ModelCritical},
	}
	m := New(runtime.NewMockRuntime(), catalog, 10<<20)
	ctx := context.Background()
	m.Load(ctx, "a") // the only eviction candidate; freeing it still leaves b's 100 MiB unfittable

	if m.Load(ctx, "b") {
		t.Error("Load() = true, want false when evicting every candidate cannot free enough room")
	}
	if _, ok := m.Get("a"); ok {
		t.Error("candidate model still loaded, want it evicted before the load is reported as failed")
	}
}

func TestResolve_PicksAlwaysOnForSimpleTask(t *testing.T) {
	m := New(runtime.NewMockRuntime(), testCatalog(), 100<<20)
	name, ok := m.Resolve(context.Background(), "a simple quick question", 0)
	if !ok {
		t.Fatal("Resolve() = false, want true")
	}
	cfg, _ := m.configs[name]
	if cfg.Tier != domain.TierAlwaysOn {
		t.Errorf("Resolve() picked tier %v, want ALWAYS_ON", cfg.Tier)
	}
}

func TestResolve_PicksOnDemandForComplexCodeTask(t *testing.T) {
	m := New(runtime.NewMockRuntime(), testCatalog(), 100<<20)
	name, ok := m.Resolve(context.Background(), "expert level code debugging task", 0)
	if !ok {
		t.Fatal("Resolve() = false, want true")
	}
	if name != "big" {
		t.Errorf("Resolve() = %q, want code-specialized ON_DEMAND model %q", name, "big")
	}
}

func TestResolve_FallsBackToLoadedModelOnTotalFailure(t *testing.T) {
	rt := runtime.NewMockRuntime()
	catalog := []domain.ModelConfig{
		{ID: "vis", Name: "vis", RAMBytes: 1 << 20, Tier: domain.TierAlwaysOn, Tags: []string{"vision"}},
		{ID: "fv", Name: "fv", RAMBytes: 1 << 20, Tier: domain.TierFrequent},
	}
	m := New(rt, catalog, 100<<20)
	m.Load(context.Background(), "vis")
	rt.FailModel("fv") // the FREQUENT bucket's only candidate fails to load

	name, ok := m.Resolve(context.Background(), "moderate vision task", 0)
	if !ok || name != "vis" {
		t.Errorf("Resolve() = (%q, %v), want (vis, true) via already-loaded fallback", name, ok)
	}
}

func TestSnapshot_ReportsPressureAndModels(t *testing.T) {
	m := New(runtime.NewMockRuntime(), testCatalog(), 100<<20)
	m.Load(context.Background(), "tiny")

	snap := m.Snapshot()
	if snap.MemoryPressure <= 0 {
		t.Error("MemoryPressure = 0, want > 0 after loading a model")
	}
	if len(snap.PerModel) != 1 || snap.PerModel[0].Name != "tiny" {
		t.Errorf("PerModel = %+v, want one entry for tiny", snap.PerModel)
	}
}

func TestBootstrap_LoadsAllAlwaysOnModels(t *testing.T) {
	m := New(runtime.NewMockRuntime(), testCatalog(), 100<<20)
	m.Bootstrap(context.Background())

	if _, ok := m.Get("tiny"); !ok {
		t.Error("Bootstrap() did not load the ALWAYS_ON model")
	}
}

type fixedThermal struct {
	rec domain.Recommendation
}

func (f fixedThermal) Recommendation() domain.Recommendation { return f.rec }

func TestLoad_RefusesNonAlwaysOnUnderEmergency(t *testing.T) {
	m := New(runtime.NewMockRuntime(), testCatalog(), 100<<20)
	m.SetThermalProvider(fixedThermal{rec: domain.Recommendation{CanLoadLarge: false}})

	if m.Load(context.Background(), "big") {
		t.Error("Load() of ON_DEMAND model under EMERGENCY = true, want false")
	}
	if _, ok := m.Get("big"); ok {
		t.Error("model refused by the thermal gate was loaded anyway")
	}
}

func TestLoad_AllowsAlwaysOnUnderEmergency(t *testing.T) {
	m := New(runtime.NewMockRuntime(), testCatalog(), 100<<20)
	m.SetThermalProvider(fixedThermal{rec: domain.Recommendation{CanLoadLarge: false}})

	if !m.Load(context.Background(), "tiny") {
		t.Error("Load() of ALWAYS_ON model under EMERGENCY = false, want true")
	}
}

func TestLoad_NilThermalProviderDisablesGuard(t *testing.T) {
	m := New(runtime.NewMockRuntime(), testCatalog(), 100<<20)
	if !m.Load(context.Background(), "big") {
		t.Error("Load() with no thermal provider set = false, want true")
	}
}

func TestConfigFor_ReturnsTierByName(t *testing.T) {
	m := New(runtime.NewMockRuntime(), testCatalog(), 100<<20)
	cfg, ok := m.ConfigFor("big")
	if !ok || cfg.Tier != domain.TierOnDemand {
		t.Errorf("ConfigFor(big) = (%+v, %v), want ON_DEMAND config", cfg, ok)
	}
	if _, ok := m.ConfigFor("nope"); ok {
		t.Error("ConfigFor(nope) = true, want false for unknown model")
	}
}

func TestBootstrap_DegradesOnPartialFailure(t *testing.T) {
	rt := runtime.NewMockRuntime()
	rt.FailModel("tiny")
	m := New(rt, testCatalog(), 100<<20)

	m.Bootstrap(context.Background()) // must not panic despite the failure
	if _, ok := m.Get("tiny"); ok {
		t.Error("Get() succeeded for a model whose bootstrap load failed")
	}
}
