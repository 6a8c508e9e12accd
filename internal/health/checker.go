// Package health provides automated health checks with auto-recovery.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/infra/metrics"
	"github.com/tutu-network/tutu/internal/infra/sqlite"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// ThermalSource is the narrow Thermal Guard slice the checker depends on.
type ThermalSource interface {
	Current() domain.ThermalStatus
}

// ModelBudgetSource is the narrow Model Manager slice the checker depends on.
type ModelBudgetSource interface {
	Snapshot() domain.ManagerSnapshot
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a health checker covering sqlite connectivity, prompt
// cache disk space, thermal guard freshness, and model manager budget
// sanity.
func NewChecker(db *sqlite.DB, cacheDir string, guard ThermalSource, manager ModelBudgetSource) *Checker {
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name:    "sqlite",
				CheckFn: func(ctx context.Context) error { return db.Ping() },
				RecoverFn: func(ctx context.Context) error {
					return nil // sqlite auto-recovers via WAL
				},
			},
			{
				Name:    "prompt_cache_disk",
				CheckFn: func(ctx context.Context) error { return checkDiskSpace(cacheDir) },
			},
			{
				Name: "thermal_guard",
				CheckFn: func(ctx context.Context) error {
					if guard == nil {
						return nil
					}
					if guard.Current().State == domain.ThermalUnknown {
						return fmt.Errorf("thermal guard has not produced a classified reading")
					}
					return nil
				},
			},
			{
				Name: "model_manager_budget",
				CheckFn: func(ctx context.Context) error {
					if manager == nil {
						return nil
					}
					pressure := manager.Snapshot().MemoryPressure
					if pressure > 1.0 {
						return fmt.Errorf("memory pressure %.3f exceeds max_bytes", pressure)
					}
					return nil
				},
			},
		},
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
			if check.RecoverFn != nil {
				metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

func checkDiskSpace(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // not yet created, that's fine
		}
		return fmt.Errorf("check disk: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
