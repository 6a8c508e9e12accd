// Package daemon wires the four core components — Batched Inference
// Scheduler, Tiered Model Manager, Thermal Guard, Prompt Cache — together
// with their ambient support (registry, health, metrics, events) into a
// runnable process, and manages its configuration and lifecycle.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	API          APIConfig          `toml:"api"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
	Thermal      ThermalConfig      `toml:"thermal"`
	ModelManager ModelManagerConfig `toml:"model_manager"`
	PromptCache  PromptCacheConfig  `toml:"prompt_cache"`
	Runtime      RuntimeConfig      `toml:"runtime"`
	Logging      LoggingConfig      `toml:"logging"`
	Telemetry    TelemetryConfig    `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// SchedulerConfig controls the Batched Inference Scheduler.
type SchedulerConfig struct {
	MaxQueueSize     int `toml:"max_queue_size"`      // default 1000, split evenly across priorities
	BatchSize        int `toml:"batch_size"`          // 1-32, default 4 — advisory, thermal guard may shrink it
	TimeoutMs        int `toml:"timeout_ms"`           // 10-10000, default 100
	RequestTimeoutMs int `toml:"request_timeout_ms"`   // default 30000
}

// ThermalConfig controls the Thermal Guard.
type ThermalConfig struct {
	SampleIntervalS int     `toml:"sample_interval_s"` // default 5
	WarningC        float64 `toml:"warning_c"`         // default 85
	CriticalC       float64 `toml:"critical_c"`        // default 90, must be >= warning_c
}

// ModelManagerConfig controls the Tiered Model Manager.
type ModelManagerConfig struct {
	MaxMemoryBytes  int64 `toml:"max_memory_bytes"`   // hard cap, default 28 GiB
	AlwaysOnCapMB   int64 `toml:"always_on_cap_mb"`   // advisory
	FrequentCapMB   int64 `toml:"frequent_cap_mb"`    // advisory
	OnDemandCapMB   int64 `toml:"on_demand_cap_mb"`   // advisory
}

// PromptCacheConfig controls the Prompt Cache.
type PromptCacheConfig struct {
	RootDir     string `toml:"root_dir"`
	MaxInMemory int    `toml:"max_in_memory"` // default 50
	MaxAgeDays  int    `toml:"max_age_days"`  // default 30, used by periodic Sweep
}

// RuntimeConfig selects and configures the Runtime collaborator.
type RuntimeConfig struct {
	Kind           string `toml:"kind"`             // "mock" or "subprocess"
	ServerPath     string `toml:"server_path"`       // path to llama-server binary, subprocess only
	ModelsDir      string `toml:"models_dir"`        // directory holding model weight files, subprocess only
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	Prometheus     bool   `toml:"prometheus"`      // opt-in: expose /metrics
	EventsSinkURL  string `toml:"events_sink_url"` // empty disables outbound CloudEvents
	EventsSource   string `toml:"events_source"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := tutuHome()
	return Config{
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        11434,
			CORSOrigins: []string{"*"},
		},
		Scheduler: SchedulerConfig{
			MaxQueueSize:     1000,
			BatchSize:        4,
			TimeoutMs:        100,
			RequestTimeoutMs: 30_000,
		},
		Thermal: ThermalConfig{
			SampleIntervalS: 5,
			WarningC:        85,
			CriticalC:       90,
		},
		ModelManager: ModelManagerConfig{
			MaxMemoryBytes: 28 << 30,
			AlwaysOnCapMB:  1 << 10,
			FrequentCapMB:  5 << 10,
			OnDemandCapMB:  22 << 10,
		},
		PromptCache: PromptCacheConfig{
			RootDir:     filepath.Join(homeDir, "cache"),
			MaxInMemory: 50,
			MaxAgeDays:  30,
		},
		Runtime: RuntimeConfig{
			Kind:      "mock",
			ModelsDir: filepath.Join(homeDir, "models"),
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, "tutu.log"),
		},
		Telemetry: TelemetryConfig{
			Prometheus: false,
		},
	}
}

// LoadConfig reads config from ~/.tutu/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(tutuHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.tutu/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(tutuHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// MaxAge returns the Prompt Cache's sweep threshold as a duration.
func (c PromptCacheConfig) MaxAge() time.Duration {
	if c.MaxAgeDays <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

// tutuHome returns the TuTu data directory.
func tutuHome() string {
	if env := os.Getenv("TUTU_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tutu")
}

// TutuHome is exported for use by other packages.
func TutuHome() string {
	return tutuHome()
}
