package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeThermalSource struct{ state domain.ThermalState }

func (f fakeThermalSource) Current() domain.ThermalStatus {
	return domain.ThermalStatus{State: f.state}
}

type fakeModelBudgetSource struct{ pressure float64 }

func (f fakeModelBudgetSource) Snapshot() domain.ManagerSnapshot {
	return domain.ManagerSnapshot{MemoryPressure: f.pressure}
}

func healthyGuard() ThermalSource     { return fakeThermalSource{state: domain.ThermalNormal} }
func healthyManager() ModelBudgetSource { return fakeModelBudgetSource{pressure: 0.4} }

func TestNewChecker(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), healthyGuard(), healthyManager())
	if c == nil {
		t.Fatal("NewChecker() returned nil")
	}
	if len(c.checks) != 4 {
		t.Errorf("checks = %d, want 4", len(c.checks))
	}
}

func TestChecker_RunAllHealthy(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), healthyGuard(), healthyManager())
	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 4 {
		t.Fatalf("Statuses() = %d, want 4", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
}

func TestChecker_IsHealthy_AllPass(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), healthyGuard(), healthyManager())
	c.runAll(context.Background())

	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), healthyGuard(), healthyManager())

	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_SQLiteCheck(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), healthyGuard(), healthyManager())
	c.runAll(context.Background())

	found := false
	for _, s := range c.Statuses() {
		if s.Name == "sqlite" {
			found = true
			if !s.Healthy {
				t.Errorf("sqlite check should be healthy")
			}
		}
	}
	if !found {
		t.Error("sqlite check not found in statuses")
	}
}

func TestChecker_PromptCacheDiskCheck_NoDir(t *testing.T) {
	db := newTestDB(t)
	cacheDir := filepath.Join(t.TempDir(), "nonexistent")
	c := NewChecker(db, cacheDir, healthyGuard(), healthyManager())
	c.runAll(context.Background())

	for _, s := range c.Statuses() {
		if s.Name == "prompt_cache_disk" && !s.Healthy {
			t.Errorf("prompt_cache_disk check failed for a not-yet-created dir: %s", s.Error)
		}
	}
}

func TestChecker_PromptCacheDiskCheck_FileNotDir(t *testing.T) {
	db := newTestDB(t)
	cacheDir := filepath.Join(t.TempDir(), "cache")
	os.WriteFile(cacheDir, []byte("not a dir"), 0644)

	c := NewChecker(db, cacheDir, healthyGuard(), healthyManager())
	c.runAll(context.Background())

	for _, s := range c.Statuses() {
		if s.Name == "prompt_cache_disk" && s.Healthy {
			t.Error("prompt_cache_disk should fail when path is a file")
		}
	}
}

func TestChecker_ThermalGuardCheck_UnknownIsUnhealthy(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), fakeThermalSource{state: domain.ThermalUnknown}, healthyManager())
	c.runAll(context.Background())

	for _, s := range c.Statuses() {
		if s.Name == "thermal_guard" && s.Healthy {
			t.Error("thermal_guard check should fail when state is UNKNOWN")
		}
	}
}

func TestChecker_ModelManagerBudgetCheck_OverPressureIsUnhealthy(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), healthyGuard(), fakeModelBudgetSource{pressure: 1.2})
	c.runAll(context.Background())

	for _, s := range c.Statuses() {
		if s.Name == "model_manager_budget" && s.Healthy {
			t.Error("model_manager_budget check should fail when pressure exceeds 1.0")
		}
	}
}

func TestChecker_NilCollaboratorsAreSkippedHealthy(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), nil, nil)
	c.runAll(context.Background())

	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when thermal/model-manager sources are nil")
	}
}

func TestChecker_CustomCheck(t *testing.T) {
	c := &Checker{
		checks: []Check{
			{Name: "always_pass", CheckFn: func(ctx context.Context) error { return nil }},
		},
	}
	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	if !statuses[0].Healthy {
		t.Error("always_pass check should be healthy")
	}
}

func TestChecker_FailingCheck(t *testing.T) {
	c := &Checker{
		checks: []Check{
			{Name: "always_fail", CheckFn: func(ctx context.Context) error { return os.ErrPermission }},
		},
	}
	c.runAll(context.Background())

	statuses := c.Statuses()
	if statuses[0].Healthy {
		t.Error("always_fail check should not be healthy")
	}
	if statuses[0].Error == "" {
		t.Error("error message should be populated")
	}
}

func TestChecker_StatusesCopy(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), healthyGuard(), healthyManager())
	c.runAll(context.Background())

	s1 := c.Statuses()
	s2 := c.Statuses()

	if len(s1) > 0 {
		s1[0].Healthy = false
		if !s2[0].Healthy {
			t.Error("Statuses() should return a copy, not a reference")
		}
	}
}
