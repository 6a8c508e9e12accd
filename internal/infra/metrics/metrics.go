// Package metrics provides Prometheus metrics for the inference orchestrator:
// counters, gauges, and histograms for the scheduler, model manager, thermal
// guard, and prompt cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Scheduler ──────────────────────────────────────────────────────────────

// RequestsTotal tracks submitted requests by priority.
var RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "requests_total",
	Help:      "Total requests submitted, by priority.",
}, []string{"priority"})

// RequestsFailed tracks failed requests by error kind.
var RequestsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "requests_failed_total",
	Help:      "Total requests that completed with an error, by kind.",
}, []string{"kind"})

// RequestsTimedOut tracks requests cancelled by caller timeout.
var RequestsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "requests_timed_out_total",
	Help:      "Total requests cancelled by caller-side await timeout.",
})

// QueueDepth tracks current pending requests by priority.
var QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tutu",
	Name:      "queue_depth",
	Help:      "Current pending request count, by priority.",
}, []string{"priority"})

// BatchesTotal tracks batches dispatched.
var BatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "batches_total",
	Help:      "Total batches dispatched by the scheduler.",
})

// BatchSize tracks the realized size of dispatched batches.
var BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "tutu",
	Name:      "batch_size",
	Help:      "Realized batch size at dispatch.",
	Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
})

// InferenceLatency tracks per-request inference duration in seconds, by model.
var InferenceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "tutu",
	Name:      "inference_latency_seconds",
	Help:      "Inference request duration in seconds, by model.",
	Buckets:   prometheus.DefBuckets,
}, []string{"model"})

// QueueLatency tracks time spent queued before dispatch, in seconds.
var QueueLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "tutu",
	Name:      "queue_latency_seconds",
	Help:      "Time spent queued before dispatch, in seconds.",
	Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// ─── Model Manager ──────────────────────────────────────────────────────────

// ModelLoadsTotal tracks model load attempts by outcome.
var ModelLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "model_loads_total",
	Help:      "Total model load attempts, by outcome (success|failure).",
}, []string{"outcome"})

// ModelEvictionsTotal tracks forced evictions by tier.
var ModelEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "model_evictions_total",
	Help:      "Total model evictions, by tier.",
}, []string{"tier"})

// MemoryPressure tracks the Model Manager's used/max ratio.
var MemoryPressure = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "tutu",
	Name:      "memory_pressure",
	Help:      "Model Manager memory pressure: used_bytes / max_bytes.",
})

// ModelsLoaded tracks currently loaded model count, by tier.
var ModelsLoaded = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tutu",
	Name:      "models_loaded",
	Help:      "Currently loaded model count, by tier.",
}, []string{"tier"})

// ─── Thermal Guard ──────────────────────────────────────────────────────────

// ThermalState tracks the current classified state as a 0..3 enum gauge
// (NORMAL=0, THROTTLED=1, EMERGENCY=2, UNKNOWN=3).
var ThermalState = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "tutu",
	Name:      "thermal_state",
	Help:      "Current thermal state (0=NORMAL, 1=THROTTLED, 2=EMERGENCY, 3=UNKNOWN).",
})

// ThermalTemperature tracks the last sampled temperature in Celsius.
var ThermalTemperature = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "tutu",
	Name:      "thermal_temperature_celsius",
	Help:      "Last sampled temperature in Celsius.",
})

// ThermalProbeFailures tracks probe sampling failures by probe name.
var ThermalProbeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "thermal_probe_failures_total",
	Help:      "Total probe sampling failures, by probe.",
}, []string{"probe"})

// BatchSizeHint tracks the Thermal Guard's current recommended batch size.
var BatchSizeHint = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "tutu",
	Name:      "batch_size_hint",
	Help:      "Thermal Guard's current recommended batch size.",
})

// ─── Prompt Cache ───────────────────────────────────────────────────────────

// CacheHits tracks prompt cache hits.
var CacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "cache_hits_total",
	Help:      "Total prompt cache hits.",
})

// CacheMisses tracks prompt cache misses.
var CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "cache_misses_total",
	Help:      "Total prompt cache misses.",
})

// CacheEvictions tracks prompt cache LRU evictions.
var CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "cache_evictions_total",
	Help:      "Total prompt cache entries evicted.",
})

// CacheEntries tracks current in-memory cache record count.
var CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "tutu",
	Name:      "cache_entries",
	Help:      "Current in-memory prompt cache record count.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tutu",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})

// ThermalStateValue maps a domain.ThermalState string to the numeric gauge
// value ThermalState expects.
func ThermalStateValue(state string) float64 {
	switch state {
	case "NORMAL":
		return 0
	case "THROTTLED":
		return 1
	case "EMERGENCY":
		return 2
	default:
		return 3
	}
}
