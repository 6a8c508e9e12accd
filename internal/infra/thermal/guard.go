// Package thermal implements the Thermal Guard: a periodic sampler of
// device thermal/resource state driving a NORMAL/THROTTLED/EMERGENCY/
// UNKNOWN state machine, consumed by the Scheduler and Model Manager.
package thermal

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/infra/metrics"
)

// Config controls guard behavior; zero values are replaced with defaults by
// NewGuard.
type Config struct {
	SampleInterval   time.Duration // default 5s
	ProbeTimeout     time.Duration // default 3s
	WarningC         float64       // default 85
	CriticalC        float64       // default 90, must be >= WarningC
	DefaultBatchSize int           // default 4, used by NORMAL/UNKNOWN recommendations
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		SampleInterval:   5 * time.Second,
		ProbeTimeout:     3 * time.Second,
		WarningC:         domain.DefaultWarningC,
		CriticalC:        domain.DefaultCriticalC,
		DefaultBatchSize: 4,
	}
}

func (c Config) withDefaults() Config {
	if c.SampleInterval <= 0 {
		c.SampleInterval = 5 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.WarningC == 0 {
		c.WarningC = domain.DefaultWarningC
	}
	if c.CriticalC == 0 {
		c.CriticalC = domain.DefaultCriticalC
	}
	if c.CriticalC < c.WarningC {
		c.CriticalC = c.WarningC
	}
	if c.DefaultBatchSize <= 0 {
		c.DefaultBatchSize = 4
	}
	return c
}

// PressureFunc supplies the current resource-pressure label consulted when
// computing the NORMAL-state post-inference delay. A nil func is treated as
// always PressureNone.
type PressureFunc func() domain.ResourcePressure

// Handler is invoked on every state transition (not every sample). It must
// not block the sampler.
type Handler func(prev, next domain.ThermalStatus)

// Guard is the Thermal Guard. One sampler goroutine per Guard.
type Guard struct {
	cfg      Config
	probes   []domain.Probe
	pressure PressureFunc

	mu      sync.RWMutex
	current domain.ThermalStatus
	subs    []Handler

	startMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewGuard builds a Guard over an ordered probe list, tried in order on
// every tick until one returns a reading with a non-nil temperature.
func NewGuard(cfg Config, pressure PressureFunc, probes ...domain.Probe) *Guard {
	if pressure == nil {
		pressure = func() domain.ResourcePressure { return domain.PressureNone }
	}
	return &Guard{
		cfg:      cfg.withDefaults(),
		probes:   probes,
		pressure: pressure,
		current: domain.ThermalStatus{
			State:    domain.ThermalUnknown,
			WarningC: cfg.withDefaults().WarningC,
			CriticalC: cfg.withDefaults().CriticalC,
		},
	}
}

// Start begins periodic sampling. Idempotent — calling Start on an already
// running guard is a no-op.
func (g *Guard) Start(ctx context.Context) {
	g.startMu.Lock()
	defer g.startMu.Unlock()
	if g.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	g.running = true

	go g.loop(runCtx)
}

// Stop cancels the sampling context, which also cancels an in-flight probe
// call, then waits up to ProbeTimeout plus one second for the sampler
// goroutine to exit. An in-flight sample is not awaited before cancelling.
func (g *Guard) Stop() {
	g.startMu.Lock()
	defer g.startMu.Unlock()
	if !g.running {
		return
	}
	g.cancel()
	select {
	case <-g.done:
	case <-time.After(g.cfg.ProbeTimeout + time.Second):
	}
	g.running = false
}

// Current returns the last classified status, or an UNKNOWN default if none
// has been collected yet.
func (g *Guard) Current() domain.ThermalStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current
}

// Subscribe registers handler to be called on every state change. A
// misbehaving (panicking) handler is logged and skipped on future events,
// never propagated as a sampler error.
func (g *Guard) Subscribe(handler Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, handler)
}

// Recommendation derives the current control signal from the last status
// and resource pressure.
func (g *Guard) Recommendation() domain.Recommendation {
	return Recommend(g.Current(), g.pressure(), g.cfg.DefaultBatchSize)
}

func (g *Guard) loop(ctx context.Context) {
	defer close(g.done)
	ticker := time.NewTicker(g.cfg.SampleInterval)
	defer ticker.Stop()

	g.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

func (g *Guard) tick(ctx context.Context) {
	reading, err := g.sampleProbes(ctx)
	prev := g.Current()

	var next domain.ThermalStatus
	if err != nil {
		next = domain.ThermalStatus{
			State:    domain.ThermalUnknown,
			WarningC: g.cfg.WarningC,
			CriticalC: g.cfg.CriticalC,
			Detail:   map[string]string{"error": err.Error()},
		}
	} else {
		next = Classify(reading, g.cfg.WarningC, g.cfg.CriticalC)
	}

	g.mu.Lock()
	g.current = next
	g.mu.Unlock()

	metrics.ThermalState.Set(metrics.ThermalStateValue(string(next.State)))
	if next.TemperatureC != nil {
		metrics.ThermalTemperature.Set(*next.TemperatureC)
	}
	metrics.BatchSizeHint.Set(float64(g.Recommendation().BatchSizeHint))

	if next.State != prev.State {
		g.notify(prev, next)
	}
}

// sampleProbes iterates probes in order; the first that returns a reading
// with a non-nil temperature wins. Each probe call is bounded by
// ProbeTimeout.
func (g *Guard) sampleProbes(ctx context.Context) (domain.ThermalReading, error) {
	var lastErr error
	for _, p := range g.probes {
		probeCtx, cancel := context.WithTimeout(ctx, g.cfg.ProbeTimeout)
		reading, err := p.Sample(probeCtx)
		cancel()
		if err != nil {
			lastErr = err
			metrics.ThermalProbeFailures.WithLabelValues(p.Name()).Inc()
			continue
		}
		if reading.TemperatureC != nil {
			return reading, nil
		}
	}
	if lastErr == nil {
		lastErr = domain.NewRequestError(domain.ErrInternal, "no probe returned a temperature")
	}
	return domain.ThermalReading{}, lastErr
}

func (g *Guard) notify(prev, next domain.ThermalStatus) {
	g.mu.RLock()
	subs := append([]Handler(nil), g.subs...)
	g.mu.RUnlock()

	for i, h := range subs {
		if h == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[thermal] subscriber panic, handler disabled: %v", r)
					g.mu.Lock()
					g.subs[i] = nil // Subscribe only appends, so i still indexes this handler
					g.mu.Unlock()
				}
			}()
			h(prev, next)
		}()
	}
}
