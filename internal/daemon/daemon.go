package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tutu-network/tutu/internal/api"
	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/events"
	"github.com/tutu-network/tutu/internal/health"
	"github.com/tutu-network/tutu/internal/infra/catalog"
	"github.com/tutu-network/tutu/internal/infra/modelmanager"
	"github.com/tutu-network/tutu/internal/infra/promptcache"
	"github.com/tutu-network/tutu/internal/infra/registry"
	"github.com/tutu-network/tutu/internal/infra/scheduler"
	"github.com/tutu-network/tutu/internal/infra/sqlite"
	"github.com/tutu-network/tutu/internal/infra/thermal"
	"github.com/tutu-network/tutu/internal/runtime"
)

// Daemon is the core TuTu runtime. It wires the four core inference-serving
// components together with their ambient support into a servable process.
type Daemon struct {
	Config Config

	DB         *sqlite.DB
	Registry   *registry.Manager
	Runtime    domain.Runtime
	Models     *modelmanager.Manager
	Guard      *thermal.Guard
	Cache      *promptcache.Cache
	Scheduler  *scheduler.Scheduler
	Health     *health.Checker
	Events     events.Publisher
	Server     *api.Server

	cancel context.CancelFunc
}

// New loads configuration from ~/.tutu/config.toml (or defaults) and builds
// a Daemon with every component wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds a Daemon from an explicit Config.
func NewWithConfig(cfg Config) (*Daemon, error) {
	db, err := sqlite.Open(tutuHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	reg := registry.NewManager(db)
	for _, m := range catalog.Catalog {
		if err := reg.Install(m); err != nil {
			log.Printf("[daemon] WARNING: failed to register catalog model %s: %v", m.ID, err)
		}
	}

	var rt domain.Runtime
	switch cfg.Runtime.Kind {
	case "subprocess":
		modelPath := func(modelID string) (string, error) {
			cfgModel := catalog.Lookup(modelID)
			if cfgModel == nil {
				return "", fmt.Errorf("unknown model %q", modelID)
			}
			return cfg.Runtime.ModelsDir + "/" + cfgModel.ID + ".gguf", nil
		}
		rt = runtime.NewSubprocessRuntime(cfg.Runtime.ServerPath, modelPath)
	default:
		rt = runtime.NewMockRuntime()
	}

	manager := modelmanager.New(rt, catalog.Catalog, cfg.ModelManager.MaxMemoryBytes)

	var pub events.Publisher = events.NoopPublisher{}
	if cfg.Telemetry.EventsSinkURL != "" {
		source := cfg.Telemetry.EventsSource
		if source == "" {
			source = "tutu-daemon"
		}
		cep, err := events.NewCloudEventsPublisher(cfg.Telemetry.EventsSinkURL, source)
		if err != nil {
			log.Printf("[daemon] WARNING: events sink disabled: %v", err)
		} else {
			pub = cep
		}
	}
	manager.SetPublisher(pub)

	guardCfg := thermal.Config{
		SampleInterval: time.Duration(cfg.Thermal.SampleIntervalS) * time.Second,
		WarningC:       cfg.Thermal.WarningC,
		CriticalC:      cfg.Thermal.CriticalC,
		DefaultBatchSize: cfg.Scheduler.BatchSize,
	}
	guard := thermal.NewGuard(guardCfg, func() domain.ResourcePressure {
		return manager.Budget().ResourcePressureLabel()
	}, thermal.NewSysfsProbe(), thermal.NewGopsutilProbe())
	guard.Subscribe(func(prev, next domain.ThermalStatus) {
		pub.Publish(context.Background(), "tutu.thermal.transition", map[string]any{
			"from": prev.State,
			"to":   next.State,
		})
	})
	manager.SetThermalProvider(guard)

	cache, err := promptcache.New(promptcache.Config{
		RootDir:     cfg.PromptCache.RootDir,
		MaxInMemory: cfg.PromptCache.MaxInMemory,
		MaxAge:      cfg.PromptCache.MaxAge(),
	}, cacheMaterializer{manager: manager, runtime: rt})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open prompt cache: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		QueueCapacityTotal: cfg.Scheduler.MaxQueueSize,
		BatchWaitTimeout:   time.Duration(cfg.Scheduler.TimeoutMs) * time.Millisecond,
		CompletionTimeout:  time.Duration(cfg.Scheduler.RequestTimeoutMs) * time.Millisecond,
	}, manager, guard, rt)
	sched.SetPublisher(pub)

	checker := health.NewChecker(db, cfg.PromptCache.RootDir, guard, manager)

	srv := api.NewServer(sched, manager, cache, guard, checker,
		time.Duration(cfg.Scheduler.RequestTimeoutMs)*time.Millisecond)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:    cfg,
		DB:        db,
		Registry:  reg,
		Runtime:   rt,
		Models:    manager,
		Guard:     guard,
		Cache:     cache,
		Scheduler: sched,
		Health:    checker,
		Events:    pub,
		Server:    srv,
	}, nil
}

// cacheMaterializer adapts the Model Manager's loaded handles and the
// Runtime collaborator to the Prompt Cache's narrow Materializer seam.
type cacheMaterializer struct {
	manager *modelmanager.Manager
	runtime domain.Runtime
}

func (c cacheMaterializer) CachePrompt(ctx context.Context, modelID, promptText, destPath string) error {
	model, ok := c.manager.Get(modelID)
	if !ok {
		return domain.ErrModelNotLoaded
	}
	return c.runtime.CachePrompt(ctx, model.Handle, model.TokenizerHandle, promptText, destPath)
}

// Serve starts background loops and the HTTP server, blocking until
// shutdown completes.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.Models.Bootstrap(ctx)
	d.Guard.Start(ctx)
	d.Scheduler.Start()
	go d.Health.Run(ctx)
	go d.sweepCacheLoop(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		cancel() // stops the cache sweeper and health loop on a signal too

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		d.Scheduler.Stop()
		d.Guard.Stop()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	fmt.Printf("tutu serving on http://%s\n", addr)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// sweepCacheLoop periodically evicts stale on-disk prompt cache artifacts.
func (d *Daemon) sweepCacheLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Cache.Sweep(d.Config.PromptCache.MaxAge())
		}
	}
}

// Close shuts down all daemon resources without waiting on the HTTP server.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Scheduler != nil {
		d.Scheduler.Stop()
	}
	if d.Guard != nil {
		d.Guard.Stop()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
